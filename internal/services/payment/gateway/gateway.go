// Package gateway holds the provider-neutral types exchanged between payment adapters
// and the production HTTP clients of each provider.
package gateway

import (
	"context"
	"errors"

	"rental-payments/internal/status"
	"rental-payments/models"

	"github.com/shopspring/decimal"
)

var (
	// ErrDeclined marks a definitive refusal by the provider, as opposed to a transport failure.
	ErrDeclined = errors.New("gateway: declined by provider")
	// ErrUnsupported is returned for operations a provider's API does not offer.
	ErrUnsupported = errors.New("gateway: operation not offered by provider")
)

// Charge is an outbound collection or card charge.
type Charge struct {
	// Reference is the platform id the provider should echo back.
	Reference     string
	Amount        decimal.Decimal
	Currency      string
	Description   string
	CustomerID    string
	PaymentMethod string
	PhoneNumber   string
	// Capture false places an authorization only.
	Capture  bool
	Metadata map[string]string
	// Card is set only for direct card-data charges on providers without tokenization.
	Card *models.CardDetails
}

// Result is a provider's answer to a single call.
type Result struct {
	ProviderReference string
	Status            status.PaymentStatus
	Amount            decimal.Decimal
	Currency          string
	Message           string
}

// Token is a stored card reference.
type Token struct {
	ID    string
	Brand string
	Last4 string
}

type Card interface {
	Charge(ctx context.Context, c *Charge) (*Result, error)
	Capture(ctx context.Context, reference string, amount decimal.Decimal, currency string) (*Result, error)
	Void(ctx context.Context, reference string) (*Result, error)
	Refund(ctx context.Context, reference string, amount decimal.Decimal, currency, reason string) (*Result, error)
	Status(ctx context.Context, reference string) (*Result, error)
	Tokenize(ctx context.Context, card *models.CardDetails) (*Token, error)
}

type Mobile interface {
	Collect(ctx context.Context, c *Charge) (*Result, error)
	Status(ctx context.Context, reference string) (*Result, error)
	// Refund pays amount back to phone against the original collection.
	Refund(ctx context.Context, reference, phone string, amount decimal.Decimal, currency string) (*Result, error)
}

// IsDeclined reports whether err is a provider refusal rather than an outage.
func IsDeclined(err error) bool {
	return errors.Is(err, ErrDeclined)
}
