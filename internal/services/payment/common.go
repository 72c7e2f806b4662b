package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rental-payments/internal/services/payment/gateway"
	"rental-payments/internal/status"
	"rental-payments/models"
	"rental-payments/utils"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Options configure an adapter. A nil gateway selects sandbox mode.
type Options struct {
	Sandbox        SandboxConfig
	MaxAmount      decimal.Decimal
	HoldTTL        time.Duration
	FingerprintKey []byte
	Logger         *zap.Logger
}

// base carries what every adapter shares. It holds no per-request state.
type base struct {
	provider  models.Provider
	maxAmount decimal.Decimal
	holdTTL   time.Duration
	sim       *simulator
	log       *zap.Logger
	now       func() time.Time
}

func newBase(p models.Provider, opts Options, sandbox bool) base {
	b := base{
		provider:  p,
		maxAmount: opts.MaxAmount,
		holdTTL:   opts.HoldTTL,
		log:       opts.Logger,
		now:       time.Now,
	}
	if b.maxAmount.IsZero() {
		b.maxAmount = utils.DefaultMaxAmount
	}
	if b.holdTTL <= 0 {
		b.holdTTL = 7 * 24 * time.Hour
	}
	if b.log == nil {
		b.log = zap.NewNop()
	}
	b.log = b.log.With(zap.String("provider", string(p)))
	if sandbox {
		b.sim = newSimulator(opts.Sandbox)
	}
	return b
}

func (b *base) Provider() models.Provider {
	return b.provider
}

func (b *base) validateMoney(amount decimal.Decimal, currency string) error {
	if err := utils.ValidateAmountWithin(amount, b.maxAmount); err != nil {
		return err
	}
	return utils.ValidateCurrency(currency)
}

// classify maps a gateway or context error to a result code and a caller-safe message.
// Provider replies are only logged; the returned message never carries them.
func (b *base) classify(err error) (models.ErrorCode, string) {
	switch {
	case errors.Is(err, status.ErrInvalidAmount), errors.Is(err, status.ErrInvalidCurrency),
		errors.Is(err, status.ErrInvalidPhone), errors.Is(err, status.ErrInvalidCard):
		return models.CodeValidation, err.Error()
	}

	fields := []zap.Field{zap.Error(err)}
	var httpErr *gateway.HTTPError
	if errors.As(err, &httpErr) {
		fields = append(fields, zap.Int("http_status", httpErr.StatusCode), zap.String("body", httpErr.Body))
	}
	b.log.Debug("provider call failed", fields...)

	name := b.provider.DisplayName()
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return models.CodeTimeout, "provider did not respond in time"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return models.CodeProviderError, "provider temporarily unavailable"
	case gateway.IsDeclined(err):
		return models.CodeDeclined, name + " declined the request"
	case errors.Is(err, gateway.ErrUnsupported):
		return models.CodeProviderError, name + " does not support this operation"
	}
	return models.CodeProviderError, name + " request failed"
}

// failed reports whether a gateway answer is a refusal even though the call itself succeeded.
func failed(r *gateway.Result) bool {
	return r.Status == status.Failed || r.Status == status.Cancelled
}

func (b *base) logFailure(op, id string, code models.ErrorCode, msg string) {
	b.log.Warn("payment operation failed",
		zap.String("operation", op),
		zap.String("id", id),
		zap.String("code", string(code)),
		zap.String("error", msg),
	)
}

func (b *base) logSuccess(op, id string, st status.PaymentStatus) {
	b.log.Info("payment operation succeeded",
		zap.String("operation", op),
		zap.String("id", id),
		zap.String("status", string(st)),
	)
}

func (b *base) failPayment(op string, res *models.PaymentResult, code models.ErrorCode, msg string) *models.PaymentResult {
	res.Success = false
	res.Status = status.Failed
	res.ProviderTransactionID = ""
	res.Code = code
	res.Error = msg
	b.logFailure(op, res.PaymentID, code, msg)
	return res
}

func (b *base) failHold(res *models.HoldResult, code models.ErrorCode, msg string) *models.HoldResult {
	res.Success = false
	res.Status = status.Failed
	res.ProviderTransactionID = ""
	res.Code = code
	res.Error = msg
	b.logFailure("hold", res.HoldID, code, msg)
	return res
}

func (b *base) failRefund(res *models.RefundResult, code models.ErrorCode, msg string) *models.RefundResult {
	res.Success = false
	res.Status = status.Failed
	res.Code = code
	res.Error = msg
	b.logFailure("refund", res.RefundID, code, msg)
	return res
}

func (b *base) failSnapshot(snap *models.StatusSnapshot, code models.ErrorCode, msg string) *models.StatusSnapshot {
	snap.Status = status.Failed
	snap.Code = code
	snap.Error = msg
	return snap
}

// captureAmount resolves the optional capture amount against the hold.
func captureAmount(hold *models.HoldReference, amount *decimal.Decimal) (decimal.Decimal, error) {
	if amount == nil {
		return hold.Amount, nil
	}
	amt := *amount
	if !amt.IsPositive() {
		return amt, fmt.Errorf("%w: capture amount must be greater than zero", status.ErrInvalidAmount)
	}
	if amt.GreaterThan(hold.Amount) {
		return amt, fmt.Errorf("%w: capture amount %s exceeds held amount %s", status.ErrInvalidAmount,
			utils.FormatAmount(amt, hold.Currency), utils.FormatAmount(hold.Amount, hold.Currency))
	}
	return amt, nil
}

func captureMessage(hold *models.HoldReference, amt decimal.Decimal) string {
	if amt.Equal(hold.Amount) {
		return fmt.Sprintf("Captured %s from hold %s", utils.FormatAmount(amt, hold.Currency), hold.HoldID)
	}
	return fmt.Sprintf("Partially captured %s of %s held on %s",
		utils.FormatAmount(amt, hold.Currency), utils.FormatAmount(hold.Amount, hold.Currency), hold.HoldID)
}

// refundAmount defaults to the original charge and refuses to exceed it.
func refundAmount(req *models.RefundRequest) (decimal.Decimal, models.ErrorCode, error) {
	amt := req.Amount
	if amt.IsZero() {
		amt = req.OriginalAmount
	}
	if !amt.IsPositive() {
		return amt, models.CodeValidation, fmt.Errorf("%w: refund amount is required", status.ErrInvalidAmount)
	}
	if req.OriginalAmount.IsPositive() && amt.GreaterThan(req.OriginalAmount) {
		return amt, models.CodeRefundExceeds, fmt.Errorf("%w: %s of %s", status.ErrRefundExceeds,
			utils.FormatAmount(amt, req.Currency), utils.FormatAmount(req.OriginalAmount, req.Currency))
	}
	return amt, "", nil
}

func gatewayDecline(msg string) error {
	return fmt.Errorf("%s: %w", msg, gateway.ErrDeclined)
}

// Sandbox reports whether the adapter simulates the provider.
func (b *base) Sandbox() bool {
	return b.sim != nil
}
