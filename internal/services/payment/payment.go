// Package payment exposes every provider behind a common capability interface.
// Adapters never return errors: provider and validation failures come back as failed results.
package payment

import (
	"context"

	"rental-payments/models"

	"github.com/shopspring/decimal"
)

// PaymentService is the operation set every provider supports.
type PaymentService interface {
	Provider() models.Provider
	ProcessPayment(ctx context.Context, req *models.PaymentRequest) *models.PaymentResult
	RefundPayment(ctx context.Context, req *models.RefundRequest) *models.RefundResult
	// GetPaymentStatus reads the provider's view of reference. Safe to poll.
	GetPaymentStatus(ctx context.Context, reference string) *models.StatusSnapshot
	HoldFunds(ctx context.Context, req *models.HoldRequest) *models.HoldResult
	ReleaseFunds(ctx context.Context, hold *models.HoldReference) *models.PaymentResult
	// CaptureFunds charges amount out of hold; nil captures the whole hold.
	CaptureFunds(ctx context.Context, hold *models.HoldReference, amount *decimal.Decimal) *models.PaymentResult
}

// MobileMoneyService is implemented by wallet providers confirmed over USSD.
type MobileMoneyService interface {
	PaymentService
	InitiateMobilePayment(ctx context.Context, req *models.MobilePaymentRequest) *models.MobileMoneyResult
	CheckMobilePaymentStatus(ctx context.Context, transactionID string) *models.StatusSnapshot
}

// CardPaymentService is implemented by card gateways.
type CardPaymentService interface {
	PaymentService
	TokenizeCard(ctx context.Context, card *models.CardDetails) *models.TokenizedCard
	// ProcessCardPayment charges card directly instead of a stored payment method.
	ProcessCardPayment(ctx context.Context, req *models.PaymentRequest, card *models.CardDetails) *models.PaymentResult
}

// IsSandbox reports whether svc simulates its provider instead of calling it.
func IsSandbox(svc PaymentService) bool {
	sb, ok := svc.(interface{ Sandbox() bool })
	return ok && sb.Sandbox()
}
