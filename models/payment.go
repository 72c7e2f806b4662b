package models

import (
	"fmt"
	"time"

	"rental-payments/internal/status"

	"github.com/shopspring/decimal"
)

// ErrorCode classifies a failed result for programmatic handling.
type ErrorCode string

const (
	CodeValidation       ErrorCode = "VALIDATION_ERROR"
	CodeDeclined         ErrorCode = "DECLINED"
	CodeProviderError    ErrorCode = "PROVIDER_ERROR"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeHoldNotActive    ErrorCode = "HOLD_NOT_ACTIVE"
	CodeCurrencyMismatch ErrorCode = "CURRENCY_MISMATCH"
	CodeRefundExceeds    ErrorCode = "REFUND_EXCEEDS_CHARGE"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	// CodeInProgress answers a duplicate of a request that is still running.
	CodeInProgress ErrorCode = "REQUEST_IN_PROGRESS"
)

// Retryable reports whether the same request may succeed if sent again.
func (c ErrorCode) Retryable() bool {
	switch c {
	case CodeProviderError, CodeTimeout, CodeInProgress:
		return true
	}
	return false
}

// PaymentRequest is a single-shot charge request.
type PaymentRequest struct {
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency"`
	PaymentMethod  string            `json:"payment_method,omitempty"`
	CustomerID     string            `json:"customer_id,omitempty"`
	Description    string            `json:"description,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

// HoldRequest reserves funds for a security deposit. Amount and PaymentMethod are mandatory.
type HoldRequest struct {
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency"`
	PaymentMethod  string            `json:"payment_method"`
	CustomerID     string            `json:"customer_id,omitempty"`
	Description    string            `json:"description,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

// RefundRequest refunds a completed payment. A zero Amount refunds OriginalAmount.
type RefundRequest struct {
	PaymentID             string          `json:"payment_id"`
	ProviderTransactionID string          `json:"provider_transaction_id,omitempty"`
	Amount                decimal.Decimal `json:"amount,omitempty"`
	OriginalAmount        decimal.Decimal `json:"original_amount,omitempty"`
	Currency              string          `json:"currency,omitempty"`
	Reason                string          `json:"reason,omitempty"`
	PhoneNumber           string          `json:"phone_number,omitempty"`
}

// MobilePaymentRequest starts a USSD push to the customer's wallet.
type MobilePaymentRequest struct {
	PhoneNumber string          `json:"phone_number"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Reference   string          `json:"reference,omitempty"`
	Description string          `json:"description,omitempty"`
	CustomerID  string          `json:"customer_id,omitempty"`
}

// HoldReference is everything an adapter needs to act on an existing hold.
type HoldReference struct {
	HoldID                string          `json:"hold_id"`
	ProviderTransactionID string          `json:"provider_transaction_id"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	PaymentMethod         string          `json:"payment_method,omitempty"`
}

// CardDetails carries raw card data. It is never serialized or logged.
type CardDetails struct {
	Number      string `json:"-"`
	ExpiryMonth int    `json:"expiry_month"`
	ExpiryYear  int    `json:"expiry_year"`
	CVV         string `json:"-"`
	HolderName  string `json:"holder_name,omitempty"`
}

// String redacts everything but the expiry so card data cannot leak through %v.
func (c CardDetails) String() string {
	return fmt.Sprintf("CardDetails{Number:[REDACTED] Expiry:%02d/%d}", c.ExpiryMonth, c.ExpiryYear)
}

func (c CardDetails) GoString() string {
	return c.String()
}

type PaymentResult struct {
	Success   bool   `json:"success"`
	PaymentID string `json:"payment_id"`
	// HoldID is set on capture and release results.
	HoldID                string               `json:"hold_id,omitempty"`
	ProviderTransactionID string               `json:"provider_transaction_id,omitempty"`
	Provider              Provider             `json:"provider"`
	Status                status.PaymentStatus `json:"status"`
	Amount                decimal.Decimal      `json:"amount"`
	Currency              string               `json:"currency"`
	Message               string               `json:"message,omitempty"`
	Error                 string               `json:"error,omitempty"`
	Code                  ErrorCode            `json:"code,omitempty"`
}

type RefundResult struct {
	Success               bool                 `json:"success"`
	RefundID              string               `json:"refund_id"`
	PaymentID             string               `json:"payment_id"`
	ProviderTransactionID string               `json:"provider_transaction_id,omitempty"`
	Provider              Provider             `json:"provider"`
	Amount                decimal.Decimal      `json:"amount"`
	Currency              string               `json:"currency"`
	Status                status.PaymentStatus `json:"status"`
	Message               string               `json:"message,omitempty"`
	Error                 string               `json:"error,omitempty"`
	Code                  ErrorCode            `json:"code,omitempty"`
}

type HoldResult struct {
	Success               bool                 `json:"success"`
	HoldID                string               `json:"hold_id"`
	ProviderTransactionID string               `json:"provider_transaction_id,omitempty"`
	Provider              Provider             `json:"provider"`
	Status                status.PaymentStatus `json:"status"`
	Amount                decimal.Decimal      `json:"amount"`
	Currency              string               `json:"currency"`
	ExpiresAt             time.Time            `json:"expires_at,omitempty"`
	Message               string               `json:"message,omitempty"`
	Error                 string               `json:"error,omitempty"`
	Code                  ErrorCode            `json:"code,omitempty"`
}

type MobileMoneyResult struct {
	Success           bool                 `json:"success"`
	TransactionID     string               `json:"transaction_id"`
	ProviderReference string               `json:"provider_reference"`
	Provider          Provider             `json:"provider"`
	PhoneNumber       string               `json:"phone_number,omitempty"`
	Status            status.PaymentStatus `json:"status"`
	Amount            decimal.Decimal      `json:"amount"`
	Currency          string               `json:"currency"`
	Message           string               `json:"message,omitempty"`
	Error             string               `json:"error,omitempty"`
	Code              ErrorCode            `json:"code,omitempty"`
}

// TokenizedCard holds only derived, non-sensitive card fields.
type TokenizedCard struct {
	Success     bool      `json:"success"`
	Token       string    `json:"token,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Last4       string    `json:"last4,omitempty"`
	Brand       string    `json:"brand,omitempty"`
	ExpiryMonth int       `json:"expiry_month,omitempty"`
	ExpiryYear  int       `json:"expiry_year,omitempty"`
	Provider    Provider  `json:"provider"`
	Error       string    `json:"error,omitempty"`
	Code        ErrorCode `json:"code,omitempty"`
}

// StatusSnapshot is an idempotent read of a payment's current state.
type StatusSnapshot struct {
	ID                    string               `json:"id"`
	ProviderTransactionID string               `json:"provider_transaction_id,omitempty"`
	Provider              Provider             `json:"provider"`
	Status                status.PaymentStatus `json:"status"`
	Amount                decimal.Decimal      `json:"amount,omitempty"`
	Currency              string               `json:"currency,omitempty"`
	Message               string               `json:"message,omitempty"`
	Error                 string               `json:"error,omitempty"`
	Code                  ErrorCode            `json:"code,omitempty"`
	UpdatedAt             time.Time            `json:"updated_at"`
}
