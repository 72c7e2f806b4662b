package payment

import (
	"context"

	"rental-payments/internal/services/payment/gateway"
	"rental-payments/internal/status"
	"rental-payments/models"
	"rental-payments/utils"

	"github.com/shopspring/decimal"
)

// mobileService implements MobileMoneyService for any wallet network.
// For holds the payment method is the payer's phone number.
type mobileService struct {
	base
	gw gateway.Mobile

	// declines reports whether the sandbox should refuse a normalized number.
	declines       func(phone string) bool
	declineMessage string
}

func newMobileService(p models.Provider, opts Options, gw gateway.Mobile, declines func(string) bool, declineMessage string) *mobileService {
	return &mobileService{
		base:           newBase(p, opts, gw == nil),
		gw:             gw,
		declines:       declines,
		declineMessage: declineMessage,
	}
}

func (s *mobileService) InitiateMobilePayment(ctx context.Context, req *models.MobilePaymentRequest) *models.MobileMoneyResult {
	res := &models.MobileMoneyResult{
		TransactionID: utils.GenerateTransactionID("MM"),
		Provider:      s.provider,
		Amount:        req.Amount,
		Currency:      req.Currency,
	}
	fail := func(code models.ErrorCode, msg string) *models.MobileMoneyResult {
		res.Success = false
		res.Status = status.Failed
		res.ProviderReference = ""
		res.Code = code
		res.Error = msg
		s.logFailure("mobile_payment", res.TransactionID, code, msg)
		return res
	}

	// no round trip for a number that cannot be dialled
	phone, err := utils.NormalizePhoneNumber(req.PhoneNumber)
	if err != nil {
		return fail(models.CodeValidation, err.Error())
	}
	res.PhoneNumber = phone
	if err := s.validateMoney(req.Amount, req.Currency); err != nil {
		return fail(models.CodeValidation, err.Error())
	}

	if s.sim != nil {
		if err := s.sim.wait(ctx); err != nil {
			code, msg := s.classify(err)
			return fail(code, msg)
		}
		if s.declines(phone) {
			return fail(models.CodeDeclined, s.declineMessage)
		}
		res.ProviderReference = reference(s.provider)
		res.Status = status.Pending
	} else {
		desc := req.Description
		if desc == "" {
			desc = req.Reference
		}
		out, err := s.gw.Collect(ctx, &gateway.Charge{
			Reference:   res.TransactionID,
			Amount:      req.Amount,
			Currency:    req.Currency,
			Description: desc,
			CustomerID:  req.CustomerID,
			PhoneNumber: phone,
			Capture:     true,
		})
		if err != nil {
			code, msg := s.classify(err)
			return fail(code, msg)
		}
		if failed(out) {
			return fail(models.CodeDeclined, out.Message)
		}
		res.ProviderReference = out.ProviderReference
		res.Status = out.Status
	}

	res.Success = true
	res.Message = "Payment prompt for " + utils.FormatAmount(req.Amount, req.Currency) +
		" sent to " + phone + ", awaiting customer confirmation"
	s.logSuccess("mobile_payment", res.TransactionID, res.Status)
	return res
}

// ProcessPayment starts a wallet collection from the phone number in PaymentMethod.
func (s *mobileService) ProcessPayment(ctx context.Context, req *models.PaymentRequest) *models.PaymentResult {
	mm := s.InitiateMobilePayment(ctx, &models.MobilePaymentRequest{
		PhoneNumber: req.PaymentMethod,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
		CustomerID:  req.CustomerID,
	})
	return &models.PaymentResult{
		Success:               mm.Success,
		PaymentID:             mm.TransactionID,
		ProviderTransactionID: mm.ProviderReference,
		Provider:              s.provider,
		Status:                mm.Status,
		Amount:                mm.Amount,
		Currency:              mm.Currency,
		Message:               mm.Message,
		Error:                 mm.Error,
		Code:                  mm.Code,
	}
}

func (s *mobileService) CheckMobilePaymentStatus(ctx context.Context, transactionID string) *models.StatusSnapshot {
	snap := &models.StatusSnapshot{ID: transactionID, ProviderTransactionID: transactionID, Provider: s.provider, UpdatedAt: s.now()}
	if transactionID == "" {
		return s.failSnapshot(snap, models.CodeValidation, "transaction id is required")
	}

	if s.sim != nil {
		if err := s.sim.wait(ctx); err != nil {
			code, msg := s.classify(err)
			return s.failSnapshot(snap, code, msg)
		}
		snap.Status = status.Completed
		snap.Message = "Customer confirmed the payment"
		return snap
	}

	out, err := s.gw.Status(ctx, transactionID)
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

func (s *mobileService) GetPaymentStatus(ctx context.Context, reference string) *models.StatusSnapshot {
	return s.CheckMobilePaymentStatus(ctx, reference)
}

// HoldFunds collects the amount into escrow. In production the hold stays Pending
// until the customer approves the prompt.
func (s *mobileService) HoldFunds(ctx context.Context, req *models.HoldRequest) *models.HoldResult {
	res := &models.HoldResult{
		HoldID:   utils.GenerateTransactionID("HOLD"),
		Provider: s.provider,
		Amount:   req.Amount,
		Currency: req.Currency,
	}
	phone, err := utils.NormalizePhoneNumber(req.PaymentMethod)
	if err != nil {
		return s.failHold(res, models.CodeValidation, err.Error())
	}
	if err := s.validateMoney(req.Amount, req.Currency); err != nil {
		return s.failHold(res, models.CodeValidation, err.Error())
	}

	if s.sim != nil {
		if err := s.sim.wait(ctx); err != nil {
			code, msg := s.classify(err)
			return s.failHold(res, code, msg)
		}
		if s.declines(phone) {
			return s.failHold(res, models.CodeDeclined, s.declineMessage)
		}
		res.Status = status.Held
		res.ProviderTransactionID = reference(s.provider)
	} else {
		out, err := s.gw.Collect(ctx, &gateway.Charge{
			Reference:   res.HoldID,
			Amount:      req.Amount,
			Currency:    req.Currency,
			Description: req.Description,
			CustomerID:  req.CustomerID,
			PhoneNumber: phone,
		})
		if err != nil {
			code, msg := s.classify(err)
			return s.failHold(res, code, msg)
		}
		if failed(out) {
			return s.failHold(res, models.CodeDeclined, out.Message)
		}
		res.ProviderTransactionID = out.ProviderReference
		res.Status = status.Pending
		if out.Status == status.Completed {
			res.Status = status.Held
		}
	}

	res.Success = true
	res.ExpiresAt = s.now().Add(s.holdTTL)
	res.Message = "Deposit of " + utils.FormatAmount(req.Amount, req.Currency) + " held from " + phone
	s.logSuccess("hold", res.HoldID, res.Status)
	return res
}

// CaptureFunds keeps amt of the escrowed deposit and returns the rest to the payer.
func (s *mobileService) CaptureFunds(ctx context.Context, hold *models.HoldReference, amount *decimal.Decimal) *models.PaymentResult {
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
	} else if remainder := hold.Amount.Sub(amt); remainder.IsPositive() {
		if r := s.returnFunds(ctx, hold, remainder); r != nil {
			code, msg := s.classify(r)
			return s.failPayment("capture", res, code, msg)
		}
	}

	res.Success = true
	res.Status = status.Completed
	res.ProviderTransactionID = hold.ProviderTransactionID
	res.Message = captureMessage(hold, amt)
	s.logSuccess("capture", res.PaymentID, res.Status)
	return res
}

// ReleaseFunds returns the whole escrowed deposit.
func (s *mobileService) ReleaseFunds(ctx context.Context, hold *models.HoldReference) *models.PaymentResult {
	res := s.newPaymentResult(hold.Amount, hold.Currency)

	if s.sim != nil {
		if err := s.sim.wait(ctx); err != nil {
			code, msg := s.classify(err)
			return s.failPayment("release", res, code, msg)
		}
	} else if err := s.returnFunds(ctx, hold, hold.Amount); err != nil {
		code, msg := s.classify(err)
		return s.failPayment("release", res, code, msg)
	}

	res.Success = true
	res.Status = status.Released
	res.ProviderTransactionID = hold.ProviderTransactionID
	res.Message = "Released deposit of " + utils.FormatAmount(hold.Amount, hold.Currency)
	s.logSuccess("release", res.PaymentID, res.Status)
	return res
}

func (s *mobileService) returnFunds(ctx context.Context, hold *models.HoldReference, amt decimal.Decimal) error {
	phone, err := utils.NormalizePhoneNumber(hold.PaymentMethod)
	if err != nil {
		return err
	}
	out, err := s.gw.Refund(ctx, hold.ProviderTransactionID, phone, amt, hold.Currency)
	if err != nil {
		return err
	}
	if out.Status == status.Failed {
		return gatewayDecline(out.Message)
	}
	return nil
}

func (s *mobileService) RefundPayment(ctx context.Context, req *models.RefundRequest) *models.RefundResult {
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
		phone, err := utils.NormalizePhoneNumber(req.PhoneNumber)
		if err != nil {
			return s.failRefund(res, models.CodeValidation, err.Error())
		}
		out, err := s.gw.Refund(ctx, req.ProviderTransactionID, phone, amt, req.Currency)
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
	res.Message = "Refunded " + utils.FormatAmount(amt, req.Currency) + " to the customer's wallet"
	s.logSuccess("refund", res.RefundID, res.Status)
	return res
}

func (s *mobileService) newPaymentResult(amount decimal.Decimal, currency string) *models.PaymentResult {
	return &models.PaymentResult{
		PaymentID: utils.GenerateTransactionID("PAY"),
		Provider:  s.provider,
		Amount:    amount,
		Currency:  currency,
	}
}
