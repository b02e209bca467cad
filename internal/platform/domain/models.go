package domain

import (
	"strconv"
	"strings"
	"time"
)

// Order is the order snapshot delivered by the platform's order webhooks.
type Order struct {
	ID              int64          `json:"id"`
	Name            string         `json:"name"`
	Email           string         `json:"email"`
	Phone           string         `json:"phone"`
	Currency        string         `json:"currency"`
	TotalPrice      string         `json:"total_price"`
	FinancialStatus string         `json:"financial_status"`
	BrowserIP       string         `json:"browser_ip"`
	Tags            string         `json:"tags"`
	Customer        *Customer      `json:"customer,omitempty"`
	BillingAddress  *Address       `json:"billing_address,omitempty"`
	ShippingAddress *Address       `json:"shipping_address,omitempty"`
	ClientDetails   *ClientDetails `json:"client_details,omitempty"`
	CancelledAt     *time.Time     `json:"cancelled_at,omitempty"`
	CancelReason    string         `json:"cancel_reason,omitempty"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

type Customer struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type Address struct {
	Zip         string `json:"zip"`
	City        string `json:"city"`
	Province    string `json:"province"`
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
}

type ClientDetails struct {
	BrowserIP string `json:"browser_ip"`
}

// Transaction is one payment attempt recorded against an order.
type Transaction struct {
	ID             int64           `json:"id"`
	OrderID        int64           `json:"order_id"`
	Kind           string          `json:"kind"`
	Status         string          `json:"status"`
	Amount         string          `json:"amount"`
	Currency       string          `json:"currency"`
	Gateway        string          `json:"gateway"`
	ErrorCode      string          `json:"error_code,omitempty"`
	PaymentDetails *PaymentDetails `json:"payment_details,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type PaymentDetails struct {
	CreditCardBIN     string `json:"credit_card_bin"`
	CreditCardNumber  string `json:"credit_card_number"`
	CreditCardCompany string `json:"credit_card_company"`
	AVSResultCode     string `json:"avs_result_code"`
	CVVResultCode     string `json:"cvv_result_code"`
}

const (
	TransactionStatusSuccess = "success"
	TransactionStatusFailure = "failure"
	TransactionStatusError   = "error"
	TransactionStatusPending = "pending"

	TransactionKindAuthorization = "authorization"
	TransactionKindCapture       = "capture"
	TransactionKindSale          = "sale"
	TransactionKindVoid          = "void"
)

// RiskLevel is the platform's own fraud recommendation.
type RiskLevel string

const (
	RiskLevelHigh   RiskLevel = "HIGH"
	RiskLevelMedium RiskLevel = "MEDIUM"
	RiskLevelLow    RiskLevel = "LOW"
	RiskLevelNone   RiskLevel = "NONE"
)

type Sentiment string

const (
	SentimentNegative Sentiment = "NEGATIVE"
	SentimentNeutral  Sentiment = "NEUTRAL"
	SentimentPositive Sentiment = "POSITIVE"
)

type RiskFact struct {
	Description string    `json:"description"`
	Sentiment   Sentiment `json:"sentiment"`
}

type RiskAssessment struct {
	RiskLevel RiskLevel  `json:"risk_level"`
	Facts     []RiskFact `json:"facts"`
}

// AppSubscription is the merchant's subscription to this app.
type AppSubscription struct {
	ID        string    `json:"admin_graphql_api_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SubscriptionEnvelope is the body of app_subscriptions/update.
type SubscriptionEnvelope struct {
	AppSubscription AppSubscription `json:"app_subscription"`
}

// EntityID is the identifier used by the idempotency ledger.
func (o Order) EntityID() string {
	return strconv.FormatInt(o.ID, 10)
}

// IP returns the browser IP, falling back to client details.
func (o Order) IP() string {
	if ip := strings.TrimSpace(o.BrowserIP); ip != "" {
		return ip
	}
	if o.ClientDetails != nil {
		return strings.TrimSpace(o.ClientDetails.BrowserIP)
	}
	return ""
}

// ContactEmail returns the order email, falling back to the customer's.
func (o Order) ContactEmail() string {
	if email := strings.TrimSpace(o.Email); email != "" {
		return email
	}
	if o.Customer != nil {
		return strings.TrimSpace(o.Customer.Email)
	}
	return ""
}

// Total parses TotalPrice; malformed values read as zero.
func (o Order) Total() float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(o.TotalPrice), 64)
	if err != nil {
		return 0
	}
	return value
}

// Last4 returns the last four digits of the masked card number.
func (d *PaymentDetails) Last4() string {
	if d == nil {
		return ""
	}
	digits := make([]byte, 0, 4)
	number := d.CreditCardNumber
	for i := len(number) - 1; i >= 0 && len(digits) < 4; i-- {
		if number[i] >= '0' && number[i] <= '9' {
			digits = append(digits, number[i])
		}
	}
	if len(digits) < 4 {
		return ""
	}
	return string([]byte{digits[3], digits[2], digits[1], digits[0]})
}

// Fingerprint identifies a card by BIN and last four digits.
func (d *PaymentDetails) Fingerprint() string {
	if d == nil {
		return ""
	}
	last4 := d.Last4()
	bin := strings.TrimSpace(d.CreditCardBIN)
	if last4 == "" && bin == "" {
		return ""
	}
	return bin + "..." + last4
}

// IsFailed reports a declined or errored payment attempt.
func (t Transaction) IsFailed() bool {
	status := strings.ToLower(strings.TrimSpace(t.Status))
	return status == TransactionStatusFailure || status == TransactionStatusError
}
