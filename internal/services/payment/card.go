package payment

import (
	"context"
	"encoding/hex"
	"errors"

	"rental-payments/internal/services/payment/gateway"
	"rental-payments/internal/status"
	"rental-payments/models"
	"rental-payments/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// cardService implements CardPaymentService for any card gateway.
type cardService struct {
	base
	gw             gateway.Card
	declineMessage string
	fingerprintKey []byte
}

func newCardService(p models.Provider, opts Options, gw gateway.Card, declineMessage string) *cardService {
	return &cardService{
		base:           newBase(p, opts, gw == nil),
		gw:             gw,
		declineMessage: declineMessage,
		fingerprintKey: opts.FingerprintKey,
	}
}

func (s *cardService) ProcessPayment(ctx context.Context, req *models.PaymentRequest) *models.PaymentResult {
	return s.charge(ctx, "charge", req, req.PaymentMethod, nil)
}

func (s *cardService) ProcessCardPayment(ctx context.Context, req *models.PaymentRequest, card *models.CardDetails) *models.PaymentResult {
	if card == nil {
		res := s.newPaymentResult(req.Amount, req.Currency)
		return s.failPayment("card_charge", res, models.CodeValidation, "card details are required")
	}
	if err := s.validateCard(card); err != nil {
		res := s.newPaymentResult(req.Amount, req.Currency)
		return s.failPayment("card_charge", res, models.CodeValidation, err.Error())
	}

	if s.sim != nil {
		return s.charge(ctx, "card_charge", req, cardToken(), nil)
	}

	tok, err := s.gw.Tokenize(ctx, card)
	switch {
	case errors.Is(err, gateway.ErrUnsupported):
		return s.charge(ctx, "card_charge", req, "", card)
	case err != nil:
		res := s.newPaymentResult(req.Amount, req.Currency)
		code, msg := s.classify(err)
		return s.failPayment("card_charge", res, code, msg)
	}
	return s.charge(ctx, "card_charge", req, tok.ID, nil)
}

func (s *cardService) charge(ctx context.Context, op string, req *models.PaymentRequest, method string, card *models.CardDetails) *models.PaymentResult {
	res := s.newPaymentResult(req.Amount, req.Currency)
	if err := s.validateMoney(req.Amount, req.Currency); err != nil {
		return s.failPayment(op, res, models.CodeValidation, err.Error())
	}

	if s.sim != nil {
		if err := s.sim.wait(ctx); err != nil {
			code, msg := s.classify(err)
			return s.failPayment(op, res, code, msg)
		}
		if !s.sim.approve() {
			return s.failPayment(op, res, models.CodeDeclined, s.declineMessage)
		}
		res.Success = true
		res.Status = status.Completed
		res.ProviderTransactionID = reference(s.provider)
		res.Message = "Payment of " + utils.FormatAmount(req.Amount, req.Currency) + " processed successfully"
		s.logSuccess(op, res.PaymentID, res.Status)
		return res
	}

	if method == "" && card == nil {
		return s.failPayment(op, res, models.CodeValidation, "payment method is required")
	}
	out, err := s.gw.Charge(ctx, &gateway.Charge{
		Reference:     res.PaymentID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Description:   req.Description,
		CustomerID:    req.CustomerID,
		PaymentMethod: method,
		Capture:       true,
		Metadata:      req.Metadata,
		Card:          card,
	})
	return s.settlePayment(op, res, out, err)
}

func (s *cardService) HoldFunds(ctx context.Context, req *models.HoldRequest) *models.HoldResult {
	res := &models.HoldResult{
		HoldID:   utils.GenerateTransactionID("HOLD"),
		Provider: s.provider,
		Amount:   req.Amount,
		Currency: req.Currency,
	}
	if err := s.validateMoney(req.Amount, req.Currency); err != nil {
		return s.failHold(res, models.CodeValidation, err.Error())
	}
	if req.PaymentMethod == "" {
		return s.failHold(res, models.CodeValidation, "payment method is required for a hold")
	}

	if s.sim != nil {
		if err := s.sim.wait(ctx); err != nil {
			code, msg := s.classify(err)
			return s.failHold(res, code, msg)
		}
		if !s.sim.approve() {
			return s.failHold(res, models.CodeDeclined, s.declineMessage)
		}
		return s.held(res, reference(s.provider), "")
	}

	out, err := s.gw.Charge(ctx, &gateway.Charge{
		Reference:     res.HoldID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Description:   req.Description,
		CustomerID:    req.CustomerID,
		PaymentMethod: req.PaymentMethod,
		Capture:       false,
		Metadata:      req.Metadata,
	})
	if err != nil {
		code, msg := s.classify(err)
		return s.failHold(res, code, msg)
	}
	if failed(out) {
		return s.failHold(res, models.CodeDeclined, out.Message)
	}
	if out.Status != status.Held {
		// authorization still needs customer action
		res.Success = true
		res.Status = out.Status
		res.ProviderTransactionID = out.ProviderReference
		res.Message = out.Message
		return res
	}
	return s.held(res, out.ProviderReference, out.Message)
}

func (s *cardService) held(res *models.HoldResult, ref, msg string) *models.HoldResult {
	res.Success = true
	res.Status = status.Held
	res.ProviderTransactionID = ref
	res.ExpiresAt = s.now().Add(s.holdTTL)
	res.Message = msg
	if res.Message == "" {
		res.Message = "Held " + utils.FormatAmount(res.Amount, res.Currency)
	}
	s.logSuccess("hold", res.HoldID, res.Status)
	return res
}

func (s *cardService) CaptureFunds(ctx context.Context, hold *models.HoldReference, amount *decimal.Decimal) *models.PaymentResult {
	res := s.newPaymentResult(hold.Amount, hold.Currency)
	amt, err := captureAmount(hold, amount)
	res.Amount = amt
	if err != nil {
		return s.failPayment("capture", res, models.CodeValidation, err.Error())
	}

	if s.sim != nil {
		if err := s.sim.wait(ctx); err != nil {
			code, msg := s.classify(err)
			return s.failPayment("capture", res, code, msg)
		}
		return s.captured(res, hold, amt)
	}

	out, err := s.gw.Capture(ctx, hold.ProviderTransactionID, amt, hold.Currency)
	if err != nil {
		code, msg := s.classify(err)
		return s.failPayment("capture", res, code, msg)
	}
	if failed(out) {
		return s.failPayment("capture", res, models.CodeDeclined, out.Message)
	}
	return s.captured(res, hold, amt)
}

func (s *cardService) captured(res *models.PaymentResult, hold *models.HoldReference, amt decimal.Decimal) *models.PaymentResult {
	res.Success = true
	res.Status = status.Completed
	res.ProviderTransactionID = hold.ProviderTransactionID
	res.Message = captureMessage(hold, amt)
	s.logSuccess("capture", res.PaymentID, res.Status)
	return res
}

func (s *cardService) ReleaseFunds(ctx context.Context, hold *models.HoldReference) *models.PaymentResult {
	res := s.newPaymentResult(hold.Amount, hold.Currency)

	if s.sim != nil {
		if err := s.sim.wait(ctx); err != nil {
			code, msg := s.classify(err)
			return s.failPayment("release", res, code, msg)
		}
	} else {
		out, err := s.gw.Void(ctx, hold.ProviderTransactionID)
		if err != nil {
			code, msg := s.classify(err)
			return s.failPayment("release", res, code, msg)
		}
		if out.Status == status.Failed {
			return s.failPayment("release", res, models.CodeDeclined, out.Message)
		}
	}

	res.Success = true
	res.Status = status.Released
	res.ProviderTransactionID = hold.ProviderTransactionID
	res.Message = "Released hold of " + utils.FormatAmount(hold.Amount, hold.Currency)
	s.logSuccess("release", res.PaymentID, res.Status)
	return res
}

func (s *cardService) RefundPayment(ctx context.Context, req *models.RefundRequest) *models.RefundResult {
	res := &models.RefundResult{
		RefundID:  utils.GenerateTransactionID("REF"),
		PaymentID: req.PaymentID,
		Provider:  s.provider,
		Currency:  req.Currency,
	}
	amt, code, err := refundAmount(req)
	res.Amount = amt
	if err != nil {
		return s.failRefund(res, code, err.Error())
	}
	if err := s.validateMoney(amt, req.Currency); err != nil {
		return s.failRefund(res, models.CodeValidation, err.Error())
	}

	if s.sim != nil {
		if err := s.sim.wait(ctx); err != nil {
			code, msg := s.classify(err)
			return s.failRefund(res, code, msg)
		}
		res.ProviderTransactionID = reference(s.provider)
	} else {
		if req.ProviderTransactionID == "" {
			return s.failRefund(res, models.CodeValidation, "provider transaction id is required")
		}
		out, err := s.gw.Refund(ctx, req.ProviderTransactionID, amt, req.Currency, req.Reason)
		if err != nil {
			code, msg := s.classify(err)
			return s.failRefund(res, code, msg)
		}
		if out.Status == status.Failed {
			return s.failRefund(res, models.CodeDeclined, out.Message)
		}
		res.ProviderTransactionID = out.ProviderReference
	}

	res.Success = true
	res.Status = status.Refunded
	res.Message = "Refunded " + utils.FormatAmount(amt, req.Currency)
	s.logSuccess("refund", res.RefundID, res.Status)
	return res
}

func (s *cardService) GetPaymentStatus(ctx context.Context, ref string) *models.StatusSnapshot {
	snap := &models.StatusSnapshot{ID: ref, ProviderTransactionID: ref, Provider: s.provider, UpdatedAt: s.now()}
	if ref == "" {
		return s.failSnapshot(snap, models.CodeValidation, "reference is required")
	}

	if s.sim != nil {
		if err := s.sim.wait(ctx); err != nil {
			code, msg := s.classify(err)
			return s.failSnapshot(snap, code, msg)
		}
		snap.Status = status.Completed
		return snap
	}

	out, err := s.gw.Status(ctx, ref)
	if err != nil {
		code, msg := s.classify(err)
		return s.failSnapshot(snap, code, msg)
	}
	snap.Status = out.Status
	snap.Amount = out.Amount
	snap.Currency = out.Currency
	snap.Message = out.Message
	return snap
}

func (s *cardService) TokenizeCard(ctx context.Context, card *models.CardDetails) *models.TokenizedCard {
	res := &models.TokenizedCard{Provider: s.provider}
	fail := func(code models.ErrorCode, msg string) *models.TokenizedCard {
		res.Success = false
		res.Token = ""
		res.Code = code
		res.Error = msg
		s.logFailure("tokenize", "", code, msg)
		return res
	}

	if card == nil {
		return fail(models.CodeValidation, "card details are required")
	}
	if err := s.validateCard(card); err != nil {
		return fail(models.CodeValidation, err.Error())
	}
	res.Brand = utils.DetectCardBrand(card.Number)
	res.Last4 = utils.LastFour(card.Number)
	res.ExpiryMonth = card.ExpiryMonth
	res.ExpiryYear = card.ExpiryYear
	res.Fingerprint = fingerprint(s.fingerprintKey, utils.CleanCardNumber(card.Number))

	if s.sim != nil {
		if err := s.sim.wait(ctx); err != nil {
			code, msg := s.classify(err)
			return fail(code, msg)
		}
		res.Token = cardToken()
	} else {
		tok, err := s.gw.Tokenize(ctx, card)
		if err != nil {
			code, msg := s.classify(err)
			return fail(code, msg)
		}
		res.Token = tok.ID
	}

	res.Success = true
	s.log.Info("card tokenized", zap.String("brand", res.Brand), zap.String("last4", res.Last4))
	return res
}

func (s *cardService) validateCard(card *models.CardDetails) error {
	if err := utils.ValidateCardNumber(card.Number); err != nil {
		return err
	}
	return utils.ValidateCardExpiry(card.ExpiryMonth, card.ExpiryYear, s.now())
}

func (s *cardService) newPaymentResult(amount decimal.Decimal, currency string) *models.PaymentResult {
	return &models.PaymentResult{
		PaymentID: utils.GenerateTransactionID("PAY"),
		Provider:  s.provider,
		Amount:    amount,
		Currency:  currency,
	}
}

func (s *cardService) settlePayment(op string, res *models.PaymentResult, out *gateway.Result, err error) *models.PaymentResult {
	if err != nil {
		code, msg := s.classify(err)
		return s.failPayment(op, res, code, msg)
	}
	if failed(out) {
		msg := out.Message
		if msg == "" {
			msg = s.declineMessage
		}
		return s.failPayment(op, res, models.CodeDeclined, msg)
	}
	res.Success = true
	res.Status = out.Status
	res.ProviderTransactionID = out.ProviderReference
	res.Message = out.Message
	s.logSuccess(op, res.PaymentID, res.Status)
	return res
}

// fingerprint is a keyed hash that identifies a card number without revealing it.
func fingerprint(key []byte, number string) string {
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	h, err := blake2b.New256(key)
	if err != nil {
		return ""
	}
	h.Write([]byte(number))
	return hex.EncodeToString(h.Sum(nil))[:32]
}
