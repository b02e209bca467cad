package email

import (
	"context"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendTemplateRendersVerifyOrder(t *testing.T) {
	p := NewSMTP(Config{Host: "smtp.local", Port: 2525, From: "guard@shop.test"})

	var captured string
	p.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		assert.Equal(t, "smtp.local:2525", addr)
		assert.Nil(t, a)
		captured = string(msg)
		return nil
	}

	err := p.SendTemplate(context.Background(), []string{"jane@example.com"}, TemplateVerifyOrder, map[string]interface{}{
		"customer_name": "Jane",
		"order_name":    "#1001",
		"merchant_name": "shop-1.example.com",
		"tier":          1,
		"verify_url":    "https://verify.test/?token=abc",
	})
	require.NoError(t, err)
	assert.Contains(t, captured, "Subject: Please confirm your order #1001")
	assert.Contains(t, captured, "billing zip code")
	assert.True(t, strings.Contains(captured, "https://verify.test/?token=abc"))
}

func TestSendHonoursDeadline(t *testing.T) {
	p := NewSMTP(Config{Host: "smtp.local", Port: 25, Timeout: 20 * time.Millisecond})
	p.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	}

	err := p.Send(context.Background(), []string{"jane@example.com"}, "subject", "<p>hi</p>")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnknownTemplate(t *testing.T) {
	p := NewSMTP(Config{Host: "smtp.local", Port: 25})
	err := p.SendTemplate(context.Background(), []string{"jane@example.com"}, "missing", nil)
	assert.ErrorIs(t, err, ErrUnknownTemplate)
	assert.ErrorIs(t, p.Send(context.Background(), nil, "s", "b"), ErrNoRecipients)
}

func TestNoOpProviderDropsMessages(t *testing.T) {
	p := NewNoOp(nil)
	assert.NoError(t, p.SendTemplate(context.Background(), []string{"jane@example.com"}, TemplateVerifyOrder, nil))
	assert.ErrorIs(t, p.Send(context.Background(), nil, "s", "b"), ErrNoRecipients)
}
