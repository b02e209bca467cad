package email

import (
	"context"

	"go.uber.org/zap"
)

// Provider delivers customer-facing HTML email.
type Provider interface {
	Send(ctx context.Context, to []string, subject string, htmlBody string) error
	SendTemplate(ctx context.Context, to []string, templateName string, data interface{}) error
}

// NoOpProvider stands in when SMTP is not configured. Messages are dropped
// and logged so operators can see which orders would have been contacted.
type NoOpProvider struct {
	log *zap.Logger
}

func NewNoOp(log *zap.Logger) *NoOpProvider {
	if log == nil {
		log = zap.NewNop()
	}
	return &NoOpProvider{log: log}
}

func (p *NoOpProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	if len(to) == 0 {
		return ErrNoRecipients
	}
	p.log.Info("email dropped, smtp disabled", zap.String("subject", subject), zap.Int("recipients", len(to)))
	return nil
}

func (p *NoOpProvider) SendTemplate(ctx context.Context, to []string, templateName string, data interface{}) error {
	if len(to) == 0 {
		return ErrNoRecipients
	}
	p.log.Info("email dropped, smtp disabled", zap.String("template", templateName), zap.Int("recipients", len(to)))
	return nil
}
