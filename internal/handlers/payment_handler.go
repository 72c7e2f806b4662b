package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"rental-payments/internal/services"
	"rental-payments/internal/status"
	"rental-payments/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// maxWatch caps how long a status request may wait for a mobile payment to settle.
const maxWatch = 2 * time.Minute

type PaymentHandler struct {
	payments *services.PaymentService
	log      *zap.Logger
}

func NewPaymentHandler(payments *services.PaymentService, log *zap.Logger) *PaymentHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentHandler{payments: payments, log: log}
}

type cardInput struct {
	Number      string `json:"number"`
	ExpiryMonth int    `json:"expiry_month"`
	ExpiryYear  int    `json:"expiry_year"`
	CVV         string `json:"cvv"`
	HolderName  string `json:"holder_name"`
}

func (c *cardInput) details() *models.CardDetails {
	if c == nil {
		return nil
	}
	return &models.CardDetails{
		Number:      c.Number,
		ExpiryMonth: c.ExpiryMonth,
		ExpiryYear:  c.ExpiryYear,
		CVV:         c.CVV,
		HolderName:  c.HolderName,
	}
}

type chargeRequest struct {
	models.PaymentRequest
	Card *cardInput `json:"card,omitempty"`
}

type captureRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

// Charge - POST /api/v1/payments/{provider}/charge
func (h *PaymentHandler) Charge(e *core.RequestEvent) error {
	provider, err := providerParam(e)
	if err != nil {
		return err
	}

	var req chargeRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	var res *models.PaymentResult
	if req.Card != nil {
		res, err = h.payments.ProcessCardPayment(e.Request.Context(), provider, &req.PaymentRequest, req.Card.details())
	} else {
		res, err = h.payments.ProcessPayment(e.Request.Context(), provider, &req.PaymentRequest)
	}
	if err != nil {
		return h.fail(e, "charge", err)
	}
	return e.JSON(httpStatus(res.Success, res.Status, res.Code), res)
}

// Hold - POST /api/v1/payments/{provider}/holds
func (h *PaymentHandler) Hold(e *core.RequestEvent) error {
	provider, err := providerParam(e)
	if err != nil {
		return err
	}

	var req models.HoldRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	res, err := h.payments.HoldFunds(e.Request.Context(), provider, &req)
	if err != nil {
		return h.fail(e, "hold", err)
	}
	return e.JSON(httpStatus(res.Success, res.Status, res.Code), res)
}

// Capture - POST /api/v1/payments/holds/{holdId}/capture
func (h *PaymentHandler) Capture(e *core.RequestEvent) error {
	var req captureRequest
	if e.Request.ContentLength != 0 {
		if err := e.BindBody(&req); err != nil {
			return apis.NewBadRequestError("Invalid request", err)
		}
	}

	res, err := h.payments.CaptureFunds(e.Request.Context(), e.Request.PathValue("holdId"), req.Amount)
	if err != nil {
		return h.fail(e, "capture", err)
	}
	return e.JSON(httpStatus(res.Success, res.Status, res.Code), res)
}

// Release - POST /api/v1/payments/holds/{holdId}/release
func (h *PaymentHandler) Release(e *core.RequestEvent) error {
	res, err := h.payments.ReleaseFunds(e.Request.Context(), e.Request.PathValue("holdId"))
	if err != nil {
		return h.fail(e, "release", err)
	}
	return e.JSON(httpStatus(res.Success, res.Status, res.Code), res)
}

// Refund - POST /api/v1/payments/refunds
func (h *PaymentHandler) Refund(e *core.RequestEvent) error {
	var req models.RefundRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.PaymentID == "" {
		return apis.NewBadRequestError("payment_id is required", nil)
	}

	res, err := h.payments.RefundPayment(e.Request.Context(), &req)
	if err != nil {
		return h.fail(e, "refund", err)
	}
	return e.JSON(httpStatus(res.Success, res.Status, res.Code), res)
}

// Tokenize - POST /api/v1/payments/{provider}/cards/tokenize
func (h *PaymentHandler) Tokenize(e *core.RequestEvent) error {
	provider, err := providerParam(e)
	if err != nil {
		return err
	}

	var card cardInput
	if err := e.BindBody(&card); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	res, err := h.payments.TokenizeCard(e.Request.Context(), provider, card.details())
	if err != nil {
		return h.fail(e, "tokenize", err)
	}
	code := http.StatusOK
	if !res.Success {
		code = httpStatus(false, status.Failed, res.Code)
	}
	return e.JSON(code, res)
}

// MobilePayment - POST /api/v1/payments/{provider}/mobile
func (h *PaymentHandler) MobilePayment(e *core.RequestEvent) error {
	provider, err := providerParam(e)
	if err != nil {
		return err
	}

	var req models.MobilePaymentRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	res, err := h.payments.InitiateMobilePayment(e.Request.Context(), provider, &req)
	if err != nil {
		return h.fail(e, "mobile_payment", err)
	}
	return e.JSON(httpStatus(res.Success, res.Status, res.Code), res)
}

// Status - GET /api/v1/payments/{provider}/status/{id}?wait=30s
// With wait set on a mobile-money provider the request blocks until the payment settles.
func (h *PaymentHandler) Status(e *core.RequestEvent) error {
	provider, err := providerParam(e)
	if err != nil {
		return err
	}
	id := e.Request.PathValue("id")
	ctx := e.Request.Context()

	var snap *models.StatusSnapshot
	if raw := e.Request.URL.Query().Get("wait"); raw != "" {
		wait, perr := time.ParseDuration(raw)
		if perr != nil || wait <= 0 {
			return apis.NewBadRequestError("wait must be a positive duration such as 30s", perr)
		}
		if wait > maxWatch {
			wait = maxWatch
		}
		ctx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		snap, err = h.payments.WatchMobilePayment(ctx, provider, id)
	} else {
		snap, err = h.payments.GetPaymentStatus(ctx, provider, id)
	}
	if err != nil {
		return h.fail(e, "status", err)
	}

	code := http.StatusOK
	if snap.Code != "" && snap.Code != models.CodeTimeout {
		code = httpStatus(false, snap.Status, snap.Code)
	}
	return e.JSON(code, snap)
}

// Fees - GET /api/v1/payments/fees?amount=250
func (h *PaymentHandler) Fees(e *core.RequestEvent) error {
	amount, err := decimal.NewFromString(e.Request.URL.Query().Get("amount"))
	if err != nil || !amount.IsPositive() {
		return apis.NewBadRequestError("amount must be a positive number", err)
	}

	fees := make([]map[string]any, 0, len(h.payments.SupportedProviders()))
	for _, p := range h.payments.SupportedProviders() {
		fee := h.payments.ServiceFee(amount, p)
		fees = append(fees, map[string]any{
			"provider":     p,
			"display_name": p.DisplayName(),
			"fee":          fee,
			"total":        amount.Add(fee),
		})
	}
	return e.JSON(http.StatusOK, map[string]any{"amount": amount, "fees": fees})
}

// Providers - GET /api/v1/payments/providers
func (h *PaymentHandler) Providers(e *core.RequestEvent) error {
	providers := make([]map[string]any, 0, 5)
	for _, p := range h.payments.SupportedProviders() {
		kind := "card"
		if p.IsMobileMoney() {
			kind = "mobile_money"
		}
		providers = append(providers, map[string]any{
			"provider":     p,
			"display_name": p.DisplayName(),
			"type":         kind,
		})
	}
	return e.JSON(http.StatusOK, map[string]any{"providers": providers})
}

func (h *PaymentHandler) fail(e *core.RequestEvent, op string, err error) error {
	switch {
	case errors.Is(err, status.ErrUnsupportedProvider):
		return apis.NewNotFoundError(err.Error(), nil)
	case errors.Is(err, status.ErrWrongCapability):
		return apis.NewBadRequestError(err.Error(), nil)
	}
	h.log.Error("payment request failed",
		zap.String("operation", op), zap.String("path", e.Request.URL.Path), zap.Error(err))
	return apis.NewInternalServerError("internal error", err)
}

func providerParam(e *core.RequestEvent) (models.Provider, error) {
	p, err := models.ParseProvider(e.Request.PathValue("provider"))
	if err != nil {
		return "", apis.NewNotFoundError(err.Error(), nil)
	}
	return p, nil
}

// httpStatus maps a payment outcome onto a response code.
func httpStatus(success bool, st status.PaymentStatus, code models.ErrorCode) int {
	if success {
		if st == status.Pending || st == status.Processing {
			return http.StatusAccepted
		}
		return http.StatusOK
	}
	switch code {
	case models.CodeValidation, models.CodeCurrencyMismatch, models.CodeRefundExceeds:
		return http.StatusUnprocessableEntity
	case models.CodeDeclined:
		return http.StatusPaymentRequired
	case models.CodeHoldNotActive, models.CodeInProgress:
		return http.StatusConflict
	case models.CodeNotFound:
		return http.StatusNotFound
	case models.CodeTimeout:
		return http.StatusGatewayTimeout
	case models.CodeProviderError:
		return http.StatusBadGateway
	}
	return http.StatusUnprocessableEntity
}
