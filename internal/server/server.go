package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	apikeydomain "github.com/smallbiznis/orderguard/internal/apikey/domain"
	"github.com/smallbiznis/orderguard/internal/authorization"
	"github.com/smallbiznis/orderguard/internal/config"
	guarddomain "github.com/smallbiznis/orderguard/internal/guard/domain"
	"github.com/smallbiznis/orderguard/internal/observability"
	obsmiddleware "github.com/smallbiznis/orderguard/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/orderguard/internal/observability/metrics"
	obstracing "github.com/smallbiznis/orderguard/internal/observability/tracing"
	"github.com/smallbiznis/orderguard/internal/orchestrator"
	"github.com/smallbiznis/orderguard/internal/ratelimit"
	"github.com/smallbiznis/orderguard/internal/scheduler"
	settingsdomain "github.com/smallbiznis/orderguard/internal/settings/domain"
	"github.com/smallbiznis/orderguard/internal/stats"
	statsdomain "github.com/smallbiznis/orderguard/internal/stats/domain"
	"github.com/smallbiznis/orderguard/internal/verification"
	"github.com/smallbiznis/orderguard/internal/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(
		func(s *webhook.Service) WebhookIngester { return s },
		func(s *scheduler.Scheduler) Sweeper { return s },
		func(o *orchestrator.Orchestrator) VerificationEmailer { return o },
		func(s *stats.Service) StatsReader { return s },
		func(i *verification.Issuer) CredentialParser { return i },
		provideLimiter,
	),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// WebhookIngester admits a signed platform event.
type WebhookIngester interface {
	Ingest(ctx context.Context, req webhook.Request) (*webhook.Result, error)
}

// Sweeper drains every merchant with backlog.
type Sweeper interface {
	Sweep(ctx context.Context) (scheduler.SweepResult, error)
}

type VerificationEmailer interface {
	SendVerificationEmail(ctx context.Context, merchantID string, orderID int64) (*guarddomain.Order, error)
}

type StatsReader interface {
	Get(ctx context.Context, merchantID string) (statsdomain.RiskStats, error)
}

// CredentialParser validates the bearer credential of a verification link.
type CredentialParser interface {
	Parse(raw string) (*verification.Claims, error)
}

// SubmissionLimiter throttles verification submissions per credential.
type SubmissionLimiter interface {
	Enabled() bool
	Allow(ctx context.Context, subject string) (*ratelimit.Allowance, error)
}

func provideLimiter(l *ratelimit.VerificationLimiter) SubmissionLimiter {
	return l
}

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	port := strings.TrimSpace(cfg.HTTPPort)
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Named("http.server").Info("listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	apiKeySvc   apikeydomain.Service
	authzSvc    authorization.Service
	webhooks    WebhookIngester
	drainer     scheduler.Drainer
	sweeper     Sweeper
	guardSvc    guarddomain.Service
	emails      VerificationEmailer
	credentials CredentialParser
	limiter     SubmissionLimiter
	settingsSvc settingsdomain.Service
	statsSvc    StatsReader
	obsMetrics  *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	APIKeySvc   apikeydomain.Service
	AuthzSvc    authorization.Service
	Webhooks    WebhookIngester
	Drainer     scheduler.Drainer
	Sweeper     Sweeper `optional:"true"`
	GuardSvc    guarddomain.Service
	Emails      VerificationEmailer
	Credentials CredentialParser
	Limiter     SubmissionLimiter `optional:"true"`
	SettingsSvc settingsdomain.Service
	StatsSvc    StatsReader
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("http.server"),
		apiKeySvc:   p.APIKeySvc,
		authzSvc:    p.AuthzSvc,
		webhooks:    p.Webhooks,
		drainer:     p.Drainer,
		sweeper:     p.Sweeper,
		guardSvc:    p.GuardSvc,
		emails:      p.Emails,
		credentials: p.Credentials,
		limiter:     p.Limiter,
		settingsSvc: p.SettingsSvc,
		statsSvc:    p.StatsSvc,
		obsMetrics:  p.ObsMetrics,
	}

	svc.registerWebhookRoutes()
	svc.registerPublicRoutes()
	svc.registerOperatorRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	// Topics contain a slash (orders/create), so the whole tail is captured.
	s.engine.POST("/webhooks/*topic", s.HandleWebhook)
}

func (s *Server) registerPublicRoutes() {
	s.engine.POST("/v1/verifications", s.SubmitVerification)
}

func (s *Server) registerOperatorRoutes() {
	v1 := s.engine.Group("/v1", s.APIKeyRequired())

	// -------- Queue --------
	v1.POST("/queue/process/:merchant_id", s.authorizeAction(authorization.ObjectQueue, authorization.ActionQueueProcess), s.ProcessMerchantQueue)
	v1.POST("/queue/sweep", s.authorizeAction(authorization.ObjectQueue, authorization.ActionQueueSweep), s.SweepQueues)

	// -------- Orders --------
	merchant := v1.Group("/merchants/:merchant_id", s.MerchantContext())
	merchant.GET("/orders", s.authorizeAction(authorization.ObjectOrder, authorization.ActionOrderView), s.ListOrders)
	merchant.GET("/orders/:order_id", s.authorizeAction(authorization.ObjectOrder, authorization.ActionOrderView), s.GetOrder)
	merchant.POST("/orders/:order_id/capture", s.authorizeAction(authorization.ObjectOrder, authorization.ActionOrderCapture), s.CaptureOrder)
	merchant.POST("/orders/:order_id/cancel", s.authorizeAction(authorization.ObjectOrder, authorization.ActionOrderCancel), s.CancelOrder)
	merchant.POST("/orders/:order_id/resend-email", s.authorizeAction(authorization.ObjectOrder, authorization.ActionOrderEmail), s.ResendVerificationEmail)

	// -------- Settings & stats --------
	merchant.GET("/risk-settings", s.authorizeAction(authorization.ObjectSettings, authorization.ActionSettingsRead), s.GetRiskSettings)
	merchant.PUT("/risk-settings", s.authorizeAction(authorization.ObjectSettings, authorization.ActionSettingsWrite), s.UpdateRiskSettings)
	merchant.GET("/risk-stats", s.authorizeAction(authorization.ObjectStats, authorization.ActionStatsRead), s.GetRiskStats)

	// -------- API keys --------
	v1.GET("/api-keys", s.authorizeAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyView), s.ListAPIKeys)
	v1.POST("/api-keys", s.authorizeAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyCreate), s.CreateAPIKey)
	v1.POST("/api-keys/:key_id/revoke", s.authorizeAction(authorization.ObjectAPIKey, authorization.ActionAPIKeyRevoke), s.RevokeAPIKey)
}
