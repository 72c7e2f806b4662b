package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rental-payments/config"
	"rental-payments/internal/events"
	"rental-payments/internal/notify"
	"rental-payments/internal/records"
	"rental-payments/internal/services/payment"
	"rental-payments/internal/services/txstore"
	"rental-payments/internal/status"
	"rental-payments/internal/telemetry"
	"rental-payments/models"
	"rental-payments/monitoring"
	"rental-payments/utils"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Recorder persists payment outcomes to the ledger.
type Recorder interface {
	Record(ctx context.Context, e *records.Entry) error
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, *records.Entry) error { return nil }

// Deps are the collaborators of PaymentService. Only Registry and Store are required.
type Deps struct {
	Registry *payment.Registry
	Store    txstore.Store
	Events   events.Publisher
	Notifier notify.Notifier
	Recorder Recorder
	Monitor  *monitoring.Monitor
	Logger   *zap.Logger
}

// PaymentService is the entry point the rental application uses for every payment flow.
// Unknown providers and capability mismatches are returned as errors; every payment
// outcome, including validation failures and declines, comes back as a Result.
type PaymentService struct {
	registry *payment.Registry
	store    txstore.Store
	events   events.Publisher
	notifier notify.Notifier
	recorder Recorder
	monitor  *monitoring.Monitor
	log      *zap.Logger

	currency  string
	pollEvery time.Duration
	now       func() time.Time
}

func NewPaymentService(cfg *config.Config, deps Deps) *PaymentService {
	s := &PaymentService{
		registry:  deps.Registry,
		store:     deps.Store,
		events:    deps.Events,
		notifier:  deps.Notifier,
		recorder:  deps.Recorder,
		monitor:   deps.Monitor,
		log:       deps.Logger,
		currency:  cfg.PlatformCurrency,
		pollEvery: cfg.MobileStatusPollEvery,
		now:       time.Now,
	}
	if s.events == nil {
		s.events = events.NopPublisher{}
	}
	if s.notifier == nil {
		s.notifier = notify.NopNotifier{}
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	if s.monitor == nil {
		s.monitor = monitoring.NewMonitor(context.Background(), nil)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.pollEvery <= 0 {
		s.pollEvery = 5 * time.Second
	}
	return s
}

// ProcessPayment charges a stored payment method, or for mobile money the phone number in PaymentMethod.
func (s *PaymentService) ProcessPayment(ctx context.Context, provider models.Provider, req *models.PaymentRequest) (*models.PaymentResult, error) {
	svc, err := s.registry.GetService(provider)
	if err != nil {
		return nil, err
	}

	ctx, done := s.begin(ctx, "charge", provider)
	var res *models.PaymentResult
	defer func() { done(res.Success, res.Code) }()

	key := idempotencyKey("charge", provider, req.IdempotencyKey)
	stored, busy := replay(ctx, s, key, &models.PaymentResult{})
	switch {
	case stored != nil:
		res = stored
		return res, nil
	case busy:
		res = duplicatePayment(provider, req.Amount, req.Currency)
		return res, nil
	}
	defer func() { s.remember(ctx, key, res, res.Code) }()

	if msg := s.checkCurrency(req.Currency); msg != "" {
		res = rejectPayment(provider, req.Amount, req.Currency, msg)
		return res, nil
	}

	res = svc.ProcessPayment(ctx, req)
	s.settleCharge(ctx, "charge", req.CustomerID, "", res)
	return res, nil
}

// ProcessCardPayment charges raw card details on a card provider.
func (s *PaymentService) ProcessCardPayment(ctx context.Context, provider models.Provider, req *models.PaymentRequest, card *models.CardDetails) (*models.PaymentResult, error) {
	svc, err := s.registry.GetCardPaymentService(provider)
	if err != nil {
		return nil, err
	}

	ctx, done := s.begin(ctx, "card_charge", provider)
	var res *models.PaymentResult
	defer func() { done(res.Success, res.Code) }()

	key := idempotencyKey("card_charge", provider, req.IdempotencyKey)
	stored, busy := replay(ctx, s, key, &models.PaymentResult{})
	switch {
	case stored != nil:
		res = stored
		return res, nil
	case busy:
		res = duplicatePayment(provider, req.Amount, req.Currency)
		return res, nil
	}
	defer func() { s.remember(ctx, key, res, res.Code) }()

	if msg := s.checkCurrency(req.Currency); msg != "" {
		res = rejectPayment(provider, req.Amount, req.Currency, msg)
		return res, nil
	}

	res = svc.ProcessCardPayment(ctx, req, card)
	s.settleCharge(ctx, "card_charge", req.CustomerID, "", res)
	return res, nil
}

// TokenizeCard exchanges card details for a reusable token. Card data is never logged.
func (s *PaymentService) TokenizeCard(ctx context.Context, provider models.Provider, card *models.CardDetails) (*models.TokenizedCard, error) {
	svc, err := s.registry.GetCardPaymentService(provider)
	if err != nil {
		return nil, err
	}

	ctx, done := s.begin(ctx, "tokenize", provider)
	res := svc.TokenizeCard(ctx, card)
	done(res.Success, res.Code)
	return res, nil
}

// InitiateMobilePayment sends a USSD prompt. The result is PENDING until the customer approves.
func (s *PaymentService) InitiateMobilePayment(ctx context.Context, provider models.Provider, req *models.MobilePaymentRequest) (*models.MobileMoneyResult, error) {
	svc, err := s.registry.GetMobileMoneyService(provider)
	if err != nil {
		return nil, err
	}

	ctx, done := s.begin(ctx, "mobile_payment", provider)
	var res *models.MobileMoneyResult
	defer func() { done(res.Success, res.Code) }()

	if msg := s.checkCurrency(req.Currency); msg != "" {
		res = &models.MobileMoneyResult{
			TransactionID: utils.GenerateTransactionID("MM"),
			Provider:      provider,
			Status:        status.Failed,
			Amount:        req.Amount,
			Currency:      req.Currency,
			Error:         msg,
			Code:          models.CodeValidation,
		}
		return res, nil
	}

	res = svc.InitiateMobilePayment(ctx, req)
	s.settleCharge(ctx, "mobile_payment", req.CustomerID, res.PhoneNumber, &models.PaymentResult{
		Success:               res.Success,
		PaymentID:             res.TransactionID,
		ProviderTransactionID: res.ProviderReference,
		Provider:              provider,
		Status:                res.Status,
		Amount:                res.Amount,
		Currency:              res.Currency,
		Message:               res.Message,
		Error:                 res.Error,
		Code:                  res.Code,
	})
	if res.Success {
		s.notify(ctx, &notify.Notification{
			CustomerID:    req.CustomerID,
			TransactionID: res.TransactionID,
			Provider:      provider,
			Status:        res.Status,
			Amount:        res.Amount,
			Currency:      res.Currency,
			Message:       res.Message,
		})
	}
	return res, nil
}

// GetPaymentStatus reads the provider's view of id, a platform payment id or a provider
// reference, and reconciles the stored charge with it. Safe to poll.
func (s *PaymentService) GetPaymentStatus(ctx context.Context, provider models.Provider, id string) (*models.StatusSnapshot, error) {
	svc, err := s.registry.GetService(provider)
	if err != nil {
		return nil, err
	}

	ctx, done := s.begin(ctx, "status", provider)
	snap := s.poll(ctx, svc, id, svc.GetPaymentStatus)
	done(snap.Code == "", snap.Code)
	return snap, nil
}

// CheckMobilePaymentStatus is GetPaymentStatus restricted to mobile-money providers.
func (s *PaymentService) CheckMobilePaymentStatus(ctx context.Context, provider models.Provider, transactionID string) (*models.StatusSnapshot, error) {
	svc, err := s.registry.GetMobileMoneyService(provider)
	if err != nil {
		return nil, err
	}

	ctx, done := s.begin(ctx, "mobile_status", provider)
	snap := s.poll(ctx, svc, transactionID, svc.CheckMobilePaymentStatus)
	done(snap.Code == "", snap.Code)
	return snap, nil
}

// WatchMobilePayment polls until the payment settles or ctx ends. When ctx ends first the
// last snapshot is returned with a TIMEOUT code.
func (s *PaymentService) WatchMobilePayment(ctx context.Context, provider models.Provider, transactionID string) (*models.StatusSnapshot, error) {
	svc, err := s.registry.GetMobileMoneyService(provider)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()

	for {
		snap := s.poll(ctx, svc, transactionID, svc.CheckMobilePaymentStatus)
		switch {
		case snap.Code != "" && !snap.Code.Retryable():
			return snap, nil
		case snap.Code == "" && (snap.Status == status.Completed || snap.Status.IsTerminal()):
			return snap, nil
		}

		select {
		case <-ctx.Done():
			snap.Code = models.CodeTimeout
			snap.Error = "stopped waiting for customer confirmation"
			return snap, nil
		case <-ticker.C:
		}
	}
}

func (s *PaymentService) poll(ctx context.Context, svc payment.PaymentService, id string, read func(context.Context, string) *models.StatusSnapshot) *models.StatusSnapshot {
	charge, err := s.store.GetCharge(ctx, id)
	if err != nil {
		if !errors.Is(err, status.ErrPaymentNotFound) {
			s.log.Warn("charge lookup failed", zap.String("payment_id", id), zap.Error(err))
		}
		if payment.IsSandbox(svc) {
			return s.sandboxLookup(ctx, svc.Provider(), id, err)
		}
		return read(ctx, id)
	}

	ref := charge.ProviderTransactionID
	if ref == "" {
		ref = id
	}
	snap := read(ctx, ref)
	snap.ID = charge.PaymentID
	if snap.Code == "" {
		s.reconcile(ctx, charge, snap)
	}
	return snap
}

// sandboxLookup answers for an id with no stored charge. The simulator approves any
// reference it is asked about, so only holds the store knows of are reported.
func (s *PaymentService) sandboxLookup(ctx context.Context, provider models.Provider, id string, lookupErr error) *models.StatusSnapshot {
	snap := &models.StatusSnapshot{ID: id, Provider: provider, Status: status.Failed, UpdatedAt: s.now()}
	if !errors.Is(lookupErr, status.ErrPaymentNotFound) {
		snap.Code = models.CodeProviderError
		snap.Error = "payment state is unavailable"
		return snap
	}

	hold, err := s.store.GetHold(ctx, id)
	if err == nil && hold.Provider == provider {
		snap.ProviderTransactionID = hold.ProviderTransactionID
		snap.Status = hold.Status
		snap.Amount = hold.Amount
		snap.Currency = hold.Currency
		return snap
	}
	snap.Code = models.CodeNotFound
	snap.Error = "no " + provider.DisplayName() + " payment " + id
	return snap
}

// reconcile moves the stored charge forward when the provider reports progress.
func (s *PaymentService) reconcile(ctx context.Context, charge *txstore.Charge, snap *models.StatusSnapshot) {
	if charge.Status == snap.Status || !status.CanTransition(charge.Status, snap.Status) {
		return
	}
	prev := charge.Status
	charge.Status = snap.Status
	if err := s.store.SaveCharge(ctx, charge); err != nil {
		s.log.Error("failed to update charge status", zap.String("payment_id", charge.PaymentID), zap.Error(err))
		return
	}

	s.publish(ctx, &events.StateChanged{
		ID:             charge.PaymentID,
		Operation:      "status",
		Provider:       charge.Provider,
		Status:         snap.Status,
		PreviousStatus: prev,
		Amount:         charge.Amount,
		Currency:       charge.Currency,
	})
	s.record(ctx, &records.Entry{
		ID:                    charge.PaymentID,
		Kind:                  kindOf(charge.Provider),
		Provider:              charge.Provider,
		ProviderTransactionID: charge.ProviderTransactionID,
		Status:                snap.Status,
		Amount:                charge.Amount,
		Currency:              charge.Currency,
		Message:               snap.Message,
	})
	if charge.Provider.IsMobileMoney() {
		s.notify(ctx, &notify.Notification{
			TransactionID: charge.PaymentID,
			Provider:      charge.Provider,
			Status:        snap.Status,
			Amount:        charge.Amount,
			Currency:      charge.Currency,
			Message:       snap.Message,
		})
	}
}

// HoldFunds places a security deposit. Mobile-money holds stay PENDING until the customer approves.
func (s *PaymentService) HoldFunds(ctx context.Context, provider models.Provider, req *models.HoldRequest) (*models.HoldResult, error) {
	svc, err := s.registry.GetService(provider)
	if err != nil {
		return nil, err
	}

	ctx, done := s.begin(ctx, "hold", provider)
	var res *models.HoldResult
	defer func() { done(res.Success, res.Code) }()

	key := idempotencyKey("hold", provider, req.IdempotencyKey)
	stored, busy := replay(ctx, s, key, &models.HoldResult{})
	switch {
	case stored != nil:
		res = stored
		return res, nil
	case busy:
		res = &models.HoldResult{
			HoldID:   utils.GenerateTransactionID("HOLD"),
			Provider: provider,
			Status:   status.Failed,
			Amount:   req.Amount,
			Currency: req.Currency,
			Error:    duplicateMessage,
			Code:     models.CodeInProgress,
		}
		return res, nil
	}
	defer func() { s.remember(ctx, key, res, res.Code) }()

	if msg := s.checkCurrency(req.Currency); msg != "" {
		res = &models.HoldResult{
			HoldID:   utils.GenerateTransactionID("HOLD"),
			Provider: provider,
			Status:   status.Failed,
			Amount:   req.Amount,
			Currency: req.Currency,
			Error:    msg,
			Code:     models.CodeValidation,
		}
		return res, nil
	}

	res = svc.HoldFunds(ctx, req)
	if res.Success {
		method := req.PaymentMethod
		if provider.IsMobileMoney() {
			if phone, err := utils.NormalizePhoneNumber(method); err == nil {
				method = phone
			}
		}
		hold := &txstore.Hold{
			HoldID:                res.HoldID,
			ProviderTransactionID: res.ProviderTransactionID,
			Provider:              provider,
			Amount:                res.Amount,
			Currency:              res.Currency,
			PaymentMethod:         method,
			CustomerID:            req.CustomerID,
			Status:                res.Status,
			ExpiresAt:             res.ExpiresAt,
			CreatedAt:             s.now(),
		}
		if err := s.store.SaveHold(ctx, hold); err != nil {
			s.log.Error("failed to store hold, releasing it",
				zap.String("hold_id", res.HoldID), zap.String("provider", string(provider)), zap.Error(err))
			svc.ReleaseFunds(context.WithoutCancel(ctx), hold.Reference())
			res = &models.HoldResult{
				HoldID:   res.HoldID,
				Provider: provider,
				Status:   status.Failed,
				Amount:   res.Amount,
				Currency: res.Currency,
				Error:    "hold could not be recorded and was released",
				Code:     models.CodeProviderError,
			}
			return res, nil
		}
		s.monitor.HoldPlaced(string(provider))
	}

	s.publish(ctx, &events.StateChanged{
		ID:        res.HoldID,
		Operation: "hold",
		Provider:  provider,
		Status:    res.Status,
		Amount:    res.Amount,
		Currency:  res.Currency,
		Code:      res.Code,
	})
	s.record(ctx, &records.Entry{
		ID:                    res.HoldID,
		Kind:                  "hold",
		Provider:              provider,
		ProviderTransactionID: res.ProviderTransactionID,
		Status:                res.Status,
		Amount:                res.Amount,
		Currency:              res.Currency,
		CustomerID:            req.CustomerID,
		Code:                  res.Code,
		Message:               firstNonEmpty(res.Message, res.Error),
	})
	if provider.IsMobileMoney() && res.Success {
		s.notify(ctx, &notify.Notification{
			CustomerID:    req.CustomerID,
			TransactionID: res.HoldID,
			Provider:      provider,
			Status:        res.Status,
			Amount:        res.Amount,
			Currency:      res.Currency,
			Message:       res.Message,
		})
	}
	return res, nil
}

// CaptureFunds charges amount out of a hold; nil captures all of it. A hold is settled
// at most once: capture or release of a settled hold fails with HOLD_NOT_ACTIVE.
func (s *PaymentService) CaptureFunds(ctx context.Context, holdID string, amount *decimal.Decimal) (*models.PaymentResult, error) {
	return s.settleHold(ctx, "capture", holdID, func(ctx context.Context, svc payment.PaymentService, ref *models.HoldReference) *models.PaymentResult {
		return svc.CaptureFunds(ctx, ref, amount)
	})
}

// ReleaseFunds returns a held deposit to the customer.
func (s *PaymentService) ReleaseFunds(ctx context.Context, holdID string) (*models.PaymentResult, error) {
	return s.settleHold(ctx, "release", holdID, func(ctx context.Context, svc payment.PaymentService, ref *models.HoldReference) *models.PaymentResult {
		return svc.ReleaseFunds(ctx, ref)
	})
}

type settleFunc func(ctx context.Context, svc payment.PaymentService, ref *models.HoldReference) *models.PaymentResult

func (s *PaymentService) settleHold(ctx context.Context, op, holdID string, settle settleFunc) (*models.PaymentResult, error) {
	hold, err := s.store.GetHold(ctx, holdID)
	if errors.Is(err, status.ErrHoldNotFound) {
		return &models.PaymentResult{
			PaymentID: utils.GenerateTransactionID("PAY"),
			HoldID:    holdID,
			Status:    status.Failed,
			Error:     "hold " + holdID + " not found",
			Code:      models.CodeNotFound,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, holdID, err)
	}

	svc, err := s.registry.GetService(hold.Provider)
	if err != nil {
		return nil, err
	}

	ctx, done := s.begin(ctx, op, hold.Provider)
	var res *models.PaymentResult
	defer func() {
		if res == nil {
			done(false, models.CodeProviderError)
			return
		}
		done(res.Success, res.Code)
	}()

	if hold.Status == status.Pending {
		if res = s.promote(ctx, svc, hold); res != nil {
			return res, nil
		}
		// the hold may have moved on while the provider was asked
		if hold, err = s.store.GetHold(ctx, holdID); err != nil {
			return nil, fmt.Errorf("%s %s: %w", op, holdID, err)
		}
	}
	if op == "capture" && hold.Status == status.Held && !hold.ExpiresAt.IsZero() && s.now().After(hold.ExpiresAt) {
		res = notActive(hold, "hold "+holdID+" expired at "+hold.ExpiresAt.Format(time.RFC3339))
		return res, nil
	}

	claimed, err := s.store.ClaimHold(ctx, holdID, op)
	if errors.Is(err, status.ErrHoldNotActive) {
		res = notActive(claimed, err.Error())
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, holdID, err)
	}

	res = settle(ctx, svc, claimed.Reference())
	res.HoldID = holdID
	if !res.Success {
		if err := s.store.AbortHold(ctx, holdID); err != nil {
			s.log.Error("failed to return hold to HELD", zap.String("hold_id", holdID), zap.Error(err))
		}
		return res, nil
	}

	final, captured := status.Released, decimal.Zero
	if op == "capture" {
		final, captured = status.Completed, res.Amount
	}
	if err := s.store.FinishHold(ctx, holdID, final, captured); err != nil {
		s.log.Error("hold settled at provider but not in store",
			zap.String("hold_id", holdID), zap.String("operation", op), zap.Error(err))
	}
	s.monitor.HoldSettled(string(hold.Provider))

	if op == "capture" {
		phone := ""
		if hold.Provider.IsMobileMoney() {
			phone = hold.PaymentMethod
		}
		if err := s.store.SaveCharge(ctx, &txstore.Charge{
			PaymentID:             res.PaymentID,
			ProviderTransactionID: res.ProviderTransactionID,
			Provider:              hold.Provider,
			Amount:                res.Amount,
			Currency:              res.Currency,
			PhoneNumber:           phone,
			Status:                status.Completed,
			CreatedAt:             s.now(),
		}); err != nil {
			s.log.Error("failed to store captured charge", zap.String("payment_id", res.PaymentID), zap.Error(err))
		}
		s.monitor.TrackFee(string(hold.Provider), res.Currency, utils.CalculateServiceFee(res.Amount, hold.Provider))
	}

	s.publish(ctx, &events.StateChanged{
		ID:             holdID,
		Operation:      op,
		Provider:       hold.Provider,
		Status:         final,
		PreviousStatus: status.Held,
		Amount:         res.Amount,
		Currency:       res.Currency,
	})
	s.record(ctx, &records.Entry{
		ID:                    res.PaymentID,
		Kind:                  op,
		Provider:              hold.Provider,
		ProviderTransactionID: res.ProviderTransactionID,
		Status:                res.Status,
		Amount:                res.Amount,
		Currency:              res.Currency,
		CustomerID:            hold.CustomerID,
		Message:               res.Message,
	})
	if hold.Provider.IsMobileMoney() {
		s.notify(ctx, &notify.Notification{
			CustomerID:    hold.CustomerID,
			TransactionID: holdID,
			Provider:      hold.Provider,
			Status:        final,
			Amount:        res.Amount,
			Currency:      res.Currency,
			Message:       res.Message,
		})
	}
	return res, nil
}

// promote turns a PENDING hold into HELD once the provider reports the funds collected.
// It returns a failed result when the hold cannot be settled yet. The store only moves
// a hold that is still PENDING, so a settlement made meanwhile is never undone.
func (s *PaymentService) promote(ctx context.Context, svc payment.PaymentService, hold *txstore.Hold) *models.PaymentResult {
	snap := svc.GetPaymentStatus(ctx, hold.ProviderTransactionID)
	switch {
	case snap.Code != "":
		res := notActive(hold, snap.Error)
		res.Code = snap.Code
		return res
	case snap.Status == status.Completed || snap.Status == status.Held:
	default:
		return notActive(hold, "hold "+hold.HoldID+" is awaiting customer approval")
	}

	promoted, err := s.store.PromoteHold(ctx, hold.HoldID)
	if err != nil {
		res := notActive(hold, "could not update hold "+hold.HoldID+": "+err.Error())
		res.Code = models.CodeProviderError
		return res
	}
	if promoted {
		s.publish(ctx, &events.StateChanged{
			ID:             hold.HoldID,
			Operation:      "hold",
			Provider:       hold.Provider,
			Status:         status.Held,
			PreviousStatus: status.Pending,
			Amount:         hold.Amount,
			Currency:       hold.Currency,
		})
	}
	return nil
}

// RefundPayment refunds a stored charge. A zero Amount refunds whatever is still refundable;
// the sum of refunds never exceeds the charge.
func (s *PaymentService) RefundPayment(ctx context.Context, req *models.RefundRequest) (*models.RefundResult, error) {
	charge, err := s.store.GetCharge(ctx, req.PaymentID)
	if errors.Is(err, status.ErrPaymentNotFound) {
		return &models.RefundResult{
			PaymentID: req.PaymentID,
			Status:    status.Failed,
			Amount:    req.Amount,
			Currency:  req.Currency,
			Error:     "payment " + req.PaymentID + " not found",
			Code:      models.CodeNotFound,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("refund %s: %w", req.PaymentID, err)
	}

	svc, err := s.registry.GetService(charge.Provider)
	if err != nil {
		return nil, err
	}

	ctx, done := s.begin(ctx, "refund", charge.Provider)
	res := &models.RefundResult{
		PaymentID: req.PaymentID,
		Provider:  charge.Provider,
		Status:    status.Failed,
		Amount:    req.Amount,
		Currency:  req.Currency,
	}
	defer func() { done(res.Success, res.Code) }()

	fail := func(code models.ErrorCode, msg string) (*models.RefundResult, error) {
		res.Code = code
		res.Error = msg
		return res, nil
	}

	if req.Currency == "" {
		req.Currency = charge.Currency
		res.Currency = charge.Currency
	}
	if req.Currency != charge.Currency {
		return fail(models.CodeCurrencyMismatch,
			fmt.Sprintf("refund currency %s does not match charge currency %s", req.Currency, charge.Currency))
	}
	if charge.Status != status.Completed && charge.Status != status.Refunded {
		return fail(models.CodeValidation, fmt.Sprintf("payment %s is %s and cannot be refunded", charge.PaymentID, charge.Status))
	}

	if req.Amount.IsNegative() {
		return fail(models.CodeValidation, "refund amount must not be negative")
	}
	amount := req.Amount
	if amount.IsZero() {
		amount = charge.Refundable()
	}
	res.Amount = amount
	if !amount.IsPositive() {
		return fail(models.CodeRefundExceeds, "payment "+charge.PaymentID+" is already fully refunded")
	}

	if _, err := s.store.ReserveRefund(ctx, charge.PaymentID, amount); err != nil {
		if errors.Is(err, status.ErrRefundExceeds) {
			return fail(models.CodeRefundExceeds, fmt.Sprintf("refund of %s exceeds the refundable balance of %s",
				utils.FormatAmount(amount, charge.Currency), utils.FormatAmount(charge.Refundable(), charge.Currency)))
		}
		return nil, fmt.Errorf("refund %s: %w", req.PaymentID, err)
	}

	res = svc.RefundPayment(ctx, &models.RefundRequest{
		PaymentID:             charge.PaymentID,
		ProviderTransactionID: charge.ProviderTransactionID,
		Amount:                amount,
		OriginalAmount:        charge.Amount,
		Currency:              charge.Currency,
		Reason:                req.Reason,
		PhoneNumber:           firstNonEmpty(req.PhoneNumber, charge.PhoneNumber),
	})
	if !res.Success {
		if err := s.store.ReleaseRefund(ctx, charge.PaymentID, amount); err != nil {
			s.log.Error("failed to release refund reservation", zap.String("payment_id", charge.PaymentID), zap.Error(err))
		}
		return res, nil
	}

	s.publish(ctx, &events.StateChanged{
		ID:             charge.PaymentID,
		Operation:      "refund",
		Provider:       charge.Provider,
		Status:         status.Refunded,
		PreviousStatus: charge.Status,
		Amount:         amount,
		Currency:       charge.Currency,
	})
	s.record(ctx, &records.Entry{
		ID:                    res.RefundID,
		Kind:                  "refund",
		Provider:              charge.Provider,
		ProviderTransactionID: res.ProviderTransactionID,
		Status:                res.Status,
		Amount:                amount,
		Currency:              charge.Currency,
		Message:               res.Message,
	})
	return res, nil
}

// ServiceFee is the platform fee charged on top of amount for provider.
func (s *PaymentService) ServiceFee(amount decimal.Decimal, provider models.Provider) decimal.Decimal {
	return utils.CalculateServiceFee(amount, provider)
}

// SupportedProviders lists every provider with its capability.
func (s *PaymentService) SupportedProviders() []models.Provider {
	return s.registry.SupportedProviders()
}

func (s *PaymentService) settleCharge(ctx context.Context, kind, customerID, phone string, res *models.PaymentResult) {
	if res.Success {
		if err := s.store.SaveCharge(ctx, &txstore.Charge{
			PaymentID:             res.PaymentID,
			ProviderTransactionID: res.ProviderTransactionID,
			Provider:              res.Provider,
			Amount:                res.Amount,
			Currency:              res.Currency,
			PhoneNumber:           phone,
			Status:                res.Status,
			CreatedAt:             s.now(),
		}); err != nil {
			s.log.Error("failed to store charge", zap.String("payment_id", res.PaymentID), zap.Error(err))
		}
		if res.Status == status.Completed {
			s.monitor.TrackFee(string(res.Provider), res.Currency, utils.CalculateServiceFee(res.Amount, res.Provider))
		}
	}

	s.publish(ctx, &events.StateChanged{
		ID:        res.PaymentID,
		Operation: kind,
		Provider:  res.Provider,
		Status:    res.Status,
		Amount:    res.Amount,
		Currency:  res.Currency,
		Code:      res.Code,
	})
	s.record(ctx, &records.Entry{
		ID:                    res.PaymentID,
		Kind:                  kind,
		Provider:              res.Provider,
		ProviderTransactionID: res.ProviderTransactionID,
		Status:                res.Status,
		Amount:                res.Amount,
		Currency:              res.Currency,
		CustomerID:            customerID,
		Code:                  res.Code,
		Message:               firstNonEmpty(res.Message, res.Error),
	})
}

// begin opens a span and returns the function that closes it and records metrics.
func (s *PaymentService) begin(ctx context.Context, op string, provider models.Provider) (context.Context, func(bool, models.ErrorCode)) {
	ctx, span := telemetry.StartSpan(ctx, op, string(provider))
	start := s.now()
	return ctx, func(ok bool, code models.ErrorCode) {
		outcome := "success"
		if !ok {
			outcome = string(code)
			if outcome == "" {
				outcome = "failed"
			}
			span.SetStatus(codes.Error, outcome)
		}
		span.SetAttributes(attribute.String("payment.outcome", outcome))
		span.End()

		took := s.now().Sub(start)
		s.monitor.TrackOperation(op, string(provider), outcome, took)
		s.log.Info("payment operation",
			zap.String("operation", op),
			zap.String("provider", string(provider)),
			zap.String("outcome", outcome),
			zap.Duration("took", took),
			zap.String("trace_id", trace.SpanContextFromContext(ctx).TraceID().String()),
		)
	}
}

func (s *PaymentService) checkCurrency(currency string) string {
	if s.currency != "" && currency != s.currency {
		return fmt.Sprintf("currency %q is not accepted, payments are taken in %s", currency, s.currency)
	}
	return ""
}

func idempotencyKey(op string, provider models.Provider, key string) string {
	if key == "" {
		return ""
	}
	return op + ":" + string(provider) + ":" + key
}

// replay returns the stored result for key. Otherwise it claims key for the caller, or
// reports busy when a request with the same key is still running. The store is treated
// as advisory: when it fails the request goes ahead unguarded.
func replay[T any](ctx context.Context, s *PaymentService, key string, into *T) (stored *T, busy bool) {
	if key == "" {
		return nil, false
	}
	if v := storedResult(ctx, s, key, into); v != nil {
		return v, false
	}

	claimed, err := s.store.ClaimIdempotent(ctx, key)
	if err != nil {
		s.log.Warn("idempotency claim failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if claimed {
		return nil, false
	}
	// the other request may have finished in between
	if v := storedResult(ctx, s, key, into); v != nil {
		return v, false
	}
	return nil, true
}

func storedResult[T any](ctx context.Context, s *PaymentService, key string, into *T) *T {
	raw, found, err := s.store.GetIdempotent(ctx, key)
	if err != nil {
		s.log.Warn("idempotency lookup failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	if !found {
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		s.log.Warn("idempotency record unreadable", zap.String("key", key), zap.Error(err))
		return nil
	}
	return into
}

// remember stores a final result so a retried request gets the same answer.
// Transient failures give the key back so the request can be retried.
func (s *PaymentService) remember(ctx context.Context, key string, res any, code models.ErrorCode) {
	if key == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if code.Retryable() {
		if err := s.store.DeleteIdempotent(ctx, key); err != nil {
			s.log.Warn("failed to release idempotency key", zap.String("key", key), zap.Error(err))
		}
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := s.store.SaveIdempotent(ctx, key, raw); err != nil {
		s.log.Warn("failed to store idempotent result", zap.String("key", key), zap.Error(err))
	}
}

func (s *PaymentService) publish(ctx context.Context, ev *events.StateChanged) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now().UTC()
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn("failed to publish payment event", zap.String("id", ev.ID), zap.String("operation", ev.Operation), zap.Error(err))
	}
}

func (s *PaymentService) notify(ctx context.Context, n *notify.Notification) {
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.log.Warn("failed to notify customer", zap.String("transaction_id", n.TransactionID), zap.Error(err))
	}
}

func (s *PaymentService) record(ctx context.Context, e *records.Entry) {
	if e.ID == "" {
		return
	}
	if err := s.recorder.Record(ctx, e); err != nil {
		s.log.Warn("failed to record transaction", zap.String("transaction_id", e.ID), zap.String("kind", e.Kind), zap.Error(err))
	}
}

func rejectPayment(provider models.Provider, amount decimal.Decimal, currency, msg string) *models.PaymentResult {
	return &models.PaymentResult{
		PaymentID: utils.GenerateTransactionID("PAY"),
		Provider:  provider,
		Status:    status.Failed,
		Amount:    amount,
		Currency:  currency,
		Error:     msg,
		Code:      models.CodeValidation,
	}
}

const duplicateMessage = "a request with this idempotency key is still being processed"

func duplicatePayment(provider models.Provider, amount decimal.Decimal, currency string) *models.PaymentResult {
	res := rejectPayment(provider, amount, currency, duplicateMessage)
	res.Code = models.CodeInProgress
	return res
}

func notActive(hold *txstore.Hold, msg string) *models.PaymentResult {
	return &models.PaymentResult{
		PaymentID:             utils.GenerateTransactionID("PAY"),
		HoldID:                hold.HoldID,
		ProviderTransactionID: hold.ProviderTransactionID,
		Provider:              hold.Provider,
		Status:                hold.Status,
		Amount:                hold.Amount,
		Currency:              hold.Currency,
		Error:                 msg,
		Code:                  models.CodeHoldNotActive,
	}
}

func kindOf(p models.Provider) string {
	if p.IsMobileMoney() {
		return "mobile_payment"
	}
	return "charge"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
