package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/orderguard/internal/config"
)

// Config is the observability view of the process configuration. Values
// default to the app config and can be overridden with the standard OTEL_*
// variables.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel              string
	LogFormat             string
	LogSamplingInitial    int
	LogSamplingThereafter int

	OtelEnabled          bool
	OtelExporterEndpoint string
	TracesProtocol       string
	MetricsProtocol      string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	env := envReader(os.Getenv)

	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "orderguard"
	}
	protocol := env.lower("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")

	return Config{
		ServiceName:           serviceName,
		Environment:           env.str("DEPLOYMENT_ENV", cfg.Environment),
		Version:               env.str("SERVICE_VERSION", cfg.AppVersion),
		LogLevel:              env.lower("LOG_LEVEL", "info"),
		LogFormat:             env.lower("LOG_FORMAT", "json"),
		LogSamplingInitial:    env.integer("LOG_SAMPLING_INITIAL", 100),
		LogSamplingThereafter: env.integer("LOG_SAMPLING_THEREAFTER", 100),
		OtelEnabled:           env.boolean("OTEL_ENABLED", true),
		OtelExporterEndpoint:  env.str("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint),
		TracesProtocol:        env.lower("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", protocol),
		MetricsProtocol:       env.lower("OTEL_EXPORTER_OTLP_METRICS_PROTOCOL", protocol),
		OtelSamplingRatio:     env.ratio("OTEL_SAMPLING_RATIO", 0.1),
	}
}

// Debug enables verbose logs and gin debug mode.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

type envReader func(string) string

func (e envReader) str(key, def string) string {
	if value := strings.TrimSpace(e(key)); value != "" {
		return value
	}
	return strings.TrimSpace(def)
}

func (e envReader) lower(key, def string) string {
	return strings.ToLower(e.str(key, def))
}

func (e envReader) boolean(key string, def bool) bool {
	switch e.lower(key, "") {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func (e envReader) integer(key string, def int) int {
	parsed, err := strconv.Atoi(e.str(key, ""))
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

// ratio accepts values in [0, 1].
func (e envReader) ratio(key string, def float64) float64 {
	parsed, err := strconv.ParseFloat(e.str(key, ""), 64)
	if err != nil || parsed < 0 || parsed > 1 {
		return def
	}
	return parsed
}
