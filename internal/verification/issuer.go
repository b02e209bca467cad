package verification

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/orderguard/internal/clock"
	"github.com/smallbiznis/orderguard/internal/config"
	"golang.org/x/crypto/hkdf"
)

const (
	issuer     = "orderguard"
	keyInfo    = "orderguard/verification/v1"
	signingLen = 32
)

var (
	ErrInvalidToken  = errors.New("invalid_verification_token")
	ErrExpiredToken  = errors.New("expired_verification_token")
	ErrMissingSecret = errors.New("app_secret_required")
)

// Claims identify the order and the customer allowed to verify it.
type Claims struct {
	MerchantID string `json:"mid"`
	OrderID    int64  `json:"oid"`
	Contact    string `json:"contact"`
	jwt.RegisteredClaims
}

// RateKey is the rate-limit key of the credential.
func (c Claims) RateKey() string {
	return c.MerchantID + ":" + strconv.FormatInt(c.OrderID, 10)
}

type Issuer struct {
	key     []byte
	baseURL string
	risk    config.RiskConfigProvider
	clock   clock.Clock
}

func NewIssuer(cfg config.Config, risk config.RiskConfigProvider, clk clock.Clock) (*Issuer, error) {
	key, err := deriveKey(cfg.AppSecret)
	if err != nil {
		return nil, err
	}
	return &Issuer{
		key:     key,
		baseURL: strings.TrimSpace(cfg.Verification.BaseURL),
		risk:    risk,
		clock:   clk,
	}, nil
}

func deriveKey(secret string) ([]byte, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	key := make([]byte, signingLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive verification key: %w", err)
	}
	return key, nil
}

func (i *Issuer) Issue(claims Claims) (string, error) {
	now := i.clock.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   claims.RateKey(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.risk.Get().VerificationTokenTTL)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("sign verification token: %w", err)
	}
	return signed, nil
}

func (i *Issuer) Parse(raw string) (*Claims, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	if raw == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if claims.MerchantID == "" || claims.OrderID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Link builds the customer-facing verification URL for a token.
func (i *Issuer) Link(token string) string {
	sep := "?"
	if strings.Contains(i.baseURL, "?") {
		sep = "&"
	}
	return i.baseURL + sep + "token=" + url.QueryEscape(token)
}
