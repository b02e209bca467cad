package email

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var (
	ErrNoRecipients    = errors.New("email_no_recipients")
	ErrUnknownTemplate = errors.New("email_unknown_template")
)

const TemplateVerifyOrder = "verify_order"

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type SMTPProvider struct {
	cfg       Config
	templates *template.Template
	send      sendFunc
}

func NewSMTP(cfg Config) *SMTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SMTPProvider{
		cfg:       cfg,
		templates: template.Must(template.ParseFS(templateFS, "templates/*.html")),
		send:      smtp.SendMail,
	}
}

// Send delivers one message; net/smtp has no context support, so the
// deadline is enforced around the call.
func (p *SMTPProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	if len(to) == 0 || strings.TrimSpace(to[0]) == "" {
		return ErrNoRecipients
	}

	var auth smtp.Auth
	if p.cfg.Username != "" {
		auth = smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)

	mime := "MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n\n"
	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n%s\r\n%s", p.cfg.From, strings.Join(to, ", "), subject, mime, htmlBody))

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- p.send(addr, auth, p.cfg.From, to, msg)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("smtp send: %w", ctx.Err())
	}
}

func (p *SMTPProvider) SendTemplate(ctx context.Context, to []string, templateName string, data interface{}) error {
	tmpl := p.templates.Lookup(templateName + ".html")
	if tmpl == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTemplate, templateName)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}

	subject := "Please confirm your order"
	if dataMap, ok := data.(map[string]interface{}); ok {
		if subj, ok := dataMap["subject"].(string); ok && subj != "" {
			subject = subj
		} else if orderName, ok := dataMap["order_name"].(string); ok && orderName != "" {
			subject = fmt.Sprintf("Please confirm your order %s", orderName)
		}
	}

	return p.Send(ctx, to, subject, body.String())
}
