// Package txstore keeps the authoritative state of holds and charges so that a hold is
// settled once and refunds never exceed the original charge.
package txstore

import (
	"context"
	"time"

	"rental-payments/internal/status"
	"rental-payments/models"

	"github.com/shopspring/decimal"
)

const (
	// IdempotencyTTL is how long a stored result answers repeated requests.
	IdempotencyTTL = 24 * time.Hour
	// InProgressTTL bounds how long a claimed key blocks duplicates when its owner dies.
	InProgressTTL = 2 * time.Minute

	inProgress = "IN_PROGRESS"

	holdRetention   = 30 * 24 * time.Hour
	chargeRetention = 180 * 24 * time.Hour
)

// Hold is the stored state of a security deposit.
type Hold struct {
	HoldID                string               `json:"hold_id"`
	ProviderTransactionID string               `json:"provider_transaction_id"`
	Provider              models.Provider      `json:"provider"`
	Amount                decimal.Decimal      `json:"amount"`
	Currency              string               `json:"currency"`
	PaymentMethod         string               `json:"payment_method,omitempty"`
	CustomerID            string               `json:"customer_id,omitempty"`
	Status                status.PaymentStatus `json:"status"`
	CapturedAmount        decimal.Decimal      `json:"captured_amount"`
	// ClaimedBy names the operation currently settling the hold.
	ClaimedBy string    `json:"claimed_by,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Reference converts the stored hold into what an adapter needs to act on it.
func (h *Hold) Reference() *models.HoldReference {
	return &models.HoldReference{
		HoldID:                h.HoldID,
		ProviderTransactionID: h.ProviderTransactionID,
		Amount:                h.Amount,
		Currency:              h.Currency,
		PaymentMethod:         h.PaymentMethod,
	}
}

// Charge is the stored state of a completed payment, used to bound refunds.
type Charge struct {
	PaymentID             string               `json:"payment_id"`
	ProviderTransactionID string               `json:"provider_transaction_id"`
	Provider              models.Provider      `json:"provider"`
	Amount                decimal.Decimal      `json:"amount"`
	Currency              string               `json:"currency"`
	RefundedAmount        decimal.Decimal      `json:"refunded_amount"`
	PhoneNumber           string               `json:"phone_number,omitempty"`
	Status                status.PaymentStatus `json:"status"`
	CreatedAt             time.Time            `json:"created_at"`
}

// Refundable is what may still be refunded.
func (c *Charge) Refundable() decimal.Decimal {
	return c.Amount.Sub(c.RefundedAmount)
}

// Store persists holds, charges and idempotent results.
//
// ClaimHold is the only way into a settlement: it succeeds once for a HELD hold and
// returns the current hold with status.ErrHoldNotActive otherwise. A claim ends with
// FinishHold on provider success or AbortHold on failure.
//
// SaveHold is for new holds only. Status changes of a stored hold go through
// PromoteHold, ClaimHold and FinishHold so a stale copy never overwrites a settlement.
type Store interface {
	SaveHold(ctx context.Context, h *Hold) error
	GetHold(ctx context.Context, holdID string) (*Hold, error)
	// PromoteHold moves a PENDING hold to HELD and reports whether it did.
	// Holds in any other state are left untouched.
	PromoteHold(ctx context.Context, holdID string) (bool, error)
	ClaimHold(ctx context.Context, holdID, op string) (*Hold, error)
	FinishHold(ctx context.Context, holdID string, st status.PaymentStatus, captured decimal.Decimal) error
	AbortHold(ctx context.Context, holdID string) error

	SaveCharge(ctx context.Context, c *Charge) error
	GetCharge(ctx context.Context, paymentID string) (*Charge, error)
	// ReserveRefund atomically books amount against the charge, failing with
	// status.ErrRefundExceeds when it would exceed the charged amount.
	ReserveRefund(ctx context.Context, paymentID string, amount decimal.Decimal) (*Charge, error)
	// ReleaseRefund returns a reservation after the provider refused the refund.
	ReleaseRefund(ctx context.Context, paymentID string, amount decimal.Decimal) error

	// ClaimIdempotent marks key as in progress. It reports false when the key is
	// already claimed or holds a result.
	ClaimIdempotent(ctx context.Context, key string) (bool, error)
	SaveIdempotent(ctx context.Context, key string, value []byte) error
	// GetIdempotent returns the stored result for key. A claimed key without a
	// result is reported as not found.
	GetIdempotent(ctx context.Context, key string) ([]byte, bool, error)
	DeleteIdempotent(ctx context.Context, key string) error
}

// minorUnits converts a two-decimal amount to an integer count of cents.
func minorUnits(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func fromMinorUnits(n int64) decimal.Decimal {
	return decimal.New(n, -2)
}

func holdDeadline(h *Hold) time.Time {
	if !h.ExpiresAt.IsZero() {
		return h.ExpiresAt.Add(holdRetention)
	}
	return h.CreatedAt.Add(holdRetention)
}
