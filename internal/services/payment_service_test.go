package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rental-payments/config"
	"rental-payments/internal/events"
	"rental-payments/internal/notify"
	"rental-payments/internal/records"
	"rental-payments/internal/services/payment"
	"rental-payments/internal/services/payment/gateway"
	"rental-payments/internal/services/txstore"
	"rental-payments/internal/status"
	"rental-payments/models"
	"rental-payments/utils"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, ev *events.StateChanged) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	return nil
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, n *notify.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Record(ctx context.Context, e *records.Entry) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

// stubWallet reports a fixed status for every lookup.
type stubWallet struct {
	payment.MobileMoneyService
	snapshot models.StatusSnapshot
}

func (s *stubWallet) Provider() models.Provider { return models.ProviderAirtelMoney }

func (s *stubWallet) GetPaymentStatus(_ context.Context, ref string) *models.StatusSnapshot {
	snap := s.snapshot
	snap.ID = ref
	return &snap
}

func (s *stubWallet) CheckMobilePaymentStatus(ctx context.Context, ref string) *models.StatusSnapshot {
	return s.GetPaymentStatus(ctx, ref)
}

// gatedCard charges through a caller-supplied function and counts provider calls.
type gatedCard struct {
	payment.PaymentService
	calls  atomic.Int32
	charge func(n int32, req *models.PaymentRequest) *models.PaymentResult
}

func (g *gatedCard) Provider() models.Provider { return models.ProviderStripe }

func (g *gatedCard) ProcessPayment(_ context.Context, req *models.PaymentRequest) *models.PaymentResult {
	return g.charge(g.calls.Add(1), req)
}

func approved(req *models.PaymentRequest) *models.PaymentResult {
	return &models.PaymentResult{
		Success:               true,
		PaymentID:             utils.GenerateTransactionID("PAY"),
		ProviderTransactionID: "pi_1",
		Provider:              models.ProviderStripe,
		Status:                status.Completed,
		Amount:                req.Amount,
		Currency:              req.Currency,
	}
}

// slowWallet is a wallet API whose first status call waits until unblock is closed.
type slowWallet struct {
	entered chan struct{}
	unblock chan struct{}
	once    sync.Once
	refunds atomic.Int32
}

func newSlowWallet() *slowWallet {
	return &slowWallet{entered: make(chan struct{}), unblock: make(chan struct{})}
}

func (w *slowWallet) Collect(_ context.Context, c *gateway.Charge) (*gateway.Result, error) {
	return &gateway.Result{ProviderReference: "airtel-ref", Status: status.Pending, Amount: c.Amount, Currency: c.Currency}, nil
}

func (w *slowWallet) Status(_ context.Context, ref string) (*gateway.Result, error) {
	first := false
	w.once.Do(func() { first = true })
	if first {
		close(w.entered)
		<-w.unblock
	}
	return &gateway.Result{ProviderReference: ref, Status: status.Completed}, nil
}

func (w *slowWallet) Refund(_ context.Context, _, _ string, amount decimal.Decimal, currency string) (*gateway.Result, error) {
	w.refunds.Add(1)
	return &gateway.Result{ProviderReference: "disb-1", Status: status.Completed, Amount: amount, Currency: currency}, nil
}

type stubFactory struct {
	svc payment.PaymentService
}

func (f stubFactory) CreateService(context.Context, models.Provider) (payment.PaymentService, error) {
	return f.svc, nil
}

func (f stubFactory) SupportedProviders() []models.Provider {
	return []models.Provider{f.svc.Provider()}
}

func testConfig() *config.Config {
	return &config.Config{
		PaymentMode:           config.ModeSandbox,
		PlatformCurrency:      "ZMW",
		MaxPaymentAmount:      decimal.NewFromInt(1_000_000),
		HoldTTL:               24 * time.Hour,
		StripeSuccessRate:     1,
		DPOSuccessRate:        1,
		MobileStatusPollEvery: 5 * time.Millisecond,
	}
}

type fixture struct {
	svc       *PaymentService
	store     *txstore.MemoryStore
	publisher *MockPublisher
	notifier  *MockNotifier
	recorder  *MockRecorder
}

func newFixture(t *testing.T, factory payment.ServiceFactory) *fixture {
	t.Helper()
	cfg := testConfig()
	if factory == nil {
		factory = payment.NewFactory(cfg, nil)
	}

	f := &fixture{
		store:     txstore.NewMemoryStore(),
		publisher: new(MockPublisher),
		notifier:  new(MockNotifier),
		recorder:  new(MockRecorder),
	}
	f.publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)
	f.recorder.On("Record", mock.Anything, mock.Anything).Return(nil)

	f.svc = NewPaymentService(cfg, Deps{
		Registry: payment.NewRegistry(context.Background(), factory),
		Store:    f.store,
		Events:   f.publisher,
		Notifier: f.notifier,
		Recorder: f.recorder,
	})
	return f
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestHoldCaptureThenReleaseIsRejected(t *testing.T) {
	tests := []struct {
		provider models.Provider
		method   string
	}{
		{models.ProviderStripe, "pm_card_visa"},
		{models.ProviderAirtelMoney, "0971234567"},
	}

	for _, tt := range tests {
		t.Run(string(tt.provider), func(t *testing.T) {
			f := newFixture(t, nil)
			ctx := context.Background()

			hold, err := f.svc.HoldFunds(ctx, tt.provider, &models.HoldRequest{
				Amount:        amount("250"),
				Currency:      "ZMW",
				PaymentMethod: tt.method,
				CustomerID:    "renter-1",
			})
			require.NoError(t, err)
			require.True(t, hold.Success, hold.Error)
			assert.Equal(t, status.Held, hold.Status)

			partial := amount("100")
			captured, err := f.svc.CaptureFunds(ctx, hold.HoldID, &partial)
			require.NoError(t, err)
			require.True(t, captured.Success, captured.Error)
			assert.Equal(t, status.Completed, captured.Status)
			assert.True(t, captured.Amount.Equal(partial))
			assert.Contains(t, captured.Message, "Partially captured K100.00 of K250.00")

			stored, err := f.store.GetHold(ctx, hold.HoldID)
			require.NoError(t, err)
			assert.Equal(t, status.Completed, stored.Status)
			assert.True(t, stored.CapturedAmount.Equal(partial))

			charge, err := f.store.GetCharge(ctx, captured.PaymentID)
			require.NoError(t, err)
			assert.Equal(t, status.Completed, charge.Status)
			assert.True(t, charge.Amount.Equal(partial))

			assert.Equal(t, hold.HoldID, captured.HoldID)

			released, err := f.svc.ReleaseFunds(ctx, hold.HoldID)
			require.NoError(t, err)
			assert.False(t, released.Success)
			assert.Equal(t, models.CodeHoldNotActive, released.Code)
			assert.Equal(t, status.Completed, released.Status)
			assert.Equal(t, hold.HoldID, released.HoldID)
			assert.NotEqual(t, hold.HoldID, released.PaymentID)
			assert.NotEqual(t, captured.PaymentID, released.PaymentID)

			f.publisher.AssertCalled(t, "Publish", mock.Anything, mock.MatchedBy(func(ev *events.StateChanged) bool {
				return ev.Operation == "capture" && ev.ID == hold.HoldID && ev.Status == status.Completed
			}))
		})
	}
}

func TestReleaseThenCaptureIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	hold, err := f.svc.HoldFunds(ctx, models.ProviderDPO, &models.HoldRequest{
		Amount:        amount("500"),
		Currency:      "ZMW",
		PaymentMethod: "tok_dpo",
	})
	require.NoError(t, err)
	require.True(t, hold.Success, hold.Error)

	released, err := f.svc.ReleaseFunds(ctx, hold.HoldID)
	require.NoError(t, err)
	require.True(t, released.Success, released.Error)
	assert.Equal(t, status.Released, released.Status)

	captured, err := f.svc.CaptureFunds(ctx, hold.HoldID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.CodeHoldNotActive, captured.Code)
	assert.Equal(t, status.Released, captured.Status)
}

func TestCaptureUnknownHold(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.svc.CaptureFunds(context.Background(), "HOLD-missing", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, models.CodeNotFound, res.Code)
	assert.Equal(t, "HOLD-missing", res.HoldID)
	assert.True(t, strings.HasPrefix(res.PaymentID, "PAY_"), res.PaymentID)
}

func TestCaptureOverHeldAmountKeepsHoldActive(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	hold, err := f.svc.HoldFunds(ctx, models.ProviderStripe, &models.HoldRequest{
		Amount:        amount("100"),
		Currency:      "ZMW",
		PaymentMethod: "pm_card_visa",
	})
	require.NoError(t, err)

	tooMuch := amount("150")
	res, err := f.svc.CaptureFunds(ctx, hold.HoldID, &tooMuch)
	require.NoError(t, err)
	assert.Equal(t, models.CodeValidation, res.Code)

	stored, err := f.store.GetHold(ctx, hold.HoldID)
	require.NoError(t, err)
	assert.Equal(t, status.Held, stored.Status)
	assert.Empty(t, stored.ClaimedBy)

	res, err = f.svc.CaptureFunds(ctx, hold.HoldID, nil)
	require.NoError(t, err)
	assert.True(t, res.Success, res.Error)
}

func TestExpiredHoldCannotBeCaptured(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.store.SaveHold(ctx, &txstore.Hold{
		HoldID:                "HOLD-old",
		ProviderTransactionID: "STR-OLD",
		Provider:              models.ProviderStripe,
		Amount:                amount("80"),
		Currency:              "ZMW",
		Status:                status.Held,
		ExpiresAt:             time.Now().Add(-time.Hour),
	}))

	res, err := f.svc.CaptureFunds(ctx, "HOLD-old", nil)
	require.NoError(t, err)
	assert.Equal(t, models.CodeHoldNotActive, res.Code)
	assert.Contains(t, res.Error, "expired")

	res, err = f.svc.ReleaseFunds(ctx, "HOLD-old")
	require.NoError(t, err)
	assert.True(t, res.Success, res.Error)
}

func TestConcurrentCapturesSettleOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	hold, err := f.svc.HoldFunds(ctx, models.ProviderStripe, &models.HoldRequest{
		Amount:        amount("400"),
		Currency:      "ZMW",
		PaymentMethod: "pm_card_visa",
	})
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		rejected int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.CaptureFunds(ctx, hold.HoldID, nil)
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.Success {
				wins++
			} else if res.Code == models.CodeHoldNotActive {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 19, rejected)
}

func TestPendingMobileHoldIsPromotedOnCapture(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.store.SaveHold(ctx, &txstore.Hold{
		HoldID:                "HOLD-mm",
		ProviderTransactionID: "AIRTEL-123",
		Provider:              models.ProviderAirtelMoney,
		Amount:                amount("300"),
		Currency:              "ZMW",
		PaymentMethod:         "+260971234567",
		CustomerID:            "renter-9",
		Status:                status.Pending,
		ExpiresAt:             time.Now().Add(time.Hour),
	}))

	res, err := f.svc.CaptureFunds(ctx, "HOLD-mm", nil)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)

	charge, err := f.store.GetCharge(ctx, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, "+260971234567", charge.PhoneNumber)

	f.notifier.AssertCalled(t, "Notify", mock.Anything, mock.MatchedBy(func(n *notify.Notification) bool {
		return n.CustomerID == "renter-9" && n.Status == status.Completed
	}))
}

func TestPendingHoldAwaitingApproval(t *testing.T) {
	wallet := &stubWallet{snapshot: models.StatusSnapshot{Provider: models.ProviderAirtelMoney, Status: status.Pending}}
	f := newFixture(t, stubFactory{svc: wallet})
	ctx := context.Background()

	require.NoError(t, f.store.SaveHold(ctx, &txstore.Hold{
		HoldID:                "HOLD-wait",
		ProviderTransactionID: "AIRTEL-9",
		Provider:              models.ProviderAirtelMoney,
		Amount:                amount("300"),
		Currency:              "ZMW",
		Status:                status.Pending,
	}))

	res, err := f.svc.ReleaseFunds(ctx, "HOLD-wait")
	require.NoError(t, err)
	assert.Equal(t, models.CodeHoldNotActive, res.Code)
	assert.Equal(t, status.Pending, res.Status)
	assert.Contains(t, res.Error, "awaiting customer approval")
}

func TestPendingHoldSettledWhileProviderIsAsked(t *testing.T) {
	wallet := newSlowWallet()
	airtel := payment.NewAirtelMoneyService(payment.Options{}, wallet)
	f := newFixture(t, stubFactory{svc: airtel})
	ctx := context.Background()

	require.NoError(t, f.store.SaveHold(ctx, &txstore.Hold{
		HoldID:                "HOLD-race",
		ProviderTransactionID: "airtel-ref",
		Provider:              models.ProviderAirtelMoney,
		Amount:                amount("250"),
		Currency:              "ZMW",
		PaymentMethod:         "+260971234567",
		Status:                status.Pending,
		ExpiresAt:             time.Now().Add(time.Hour),
	}))

	released := make(chan *models.PaymentResult, 1)
	go func() {
		res, err := f.svc.ReleaseFunds(ctx, "HOLD-race")
		assert.NoError(t, err)
		released <- res
	}()
	<-wallet.entered

	partial := amount("100")
	captured, err := f.svc.CaptureFunds(ctx, "HOLD-race", &partial)
	require.NoError(t, err)
	require.True(t, captured.Success, captured.Error)
	assert.Equal(t, status.Completed, captured.Status)

	close(wallet.unblock)
	late := <-released
	require.NotNil(t, late)
	assert.False(t, late.Success)
	assert.Equal(t, models.CodeHoldNotActive, late.Code)
	assert.Equal(t, status.Completed, late.Status)
	assert.Equal(t, "HOLD-race", late.HoldID)
	assert.True(t, strings.HasPrefix(late.PaymentID, "PAY_"), late.PaymentID)

	stored, err := f.store.GetHold(ctx, "HOLD-race")
	require.NoError(t, err)
	assert.Equal(t, status.Completed, stored.Status)
	assert.True(t, stored.CapturedAmount.Equal(partial))
	assert.Equal(t, int32(1), wallet.refunds.Load(), "only the uncaptured remainder goes back")
}

func TestRefundsNeverExceedTheCharge(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	paid, err := f.svc.ProcessPayment(ctx, models.ProviderStripe, &models.PaymentRequest{
		Amount:        amount("300"),
		Currency:      "ZMW",
		PaymentMethod: "pm_card_visa",
	})
	require.NoError(t, err)
	require.True(t, paid.Success, paid.Error)

	first, err := f.svc.RefundPayment(ctx, &models.RefundRequest{PaymentID: paid.PaymentID, Amount: amount("100")})
	require.NoError(t, err)
	require.True(t, first.Success, first.Error)

	over, err := f.svc.RefundPayment(ctx, &models.RefundRequest{PaymentID: paid.PaymentID, Amount: amount("250")})
	require.NoError(t, err)
	assert.Equal(t, models.CodeRefundExceeds, over.Code)

	rest, err := f.svc.RefundPayment(ctx, &models.RefundRequest{PaymentID: paid.PaymentID})
	require.NoError(t, err)
	require.True(t, rest.Success, rest.Error)
	assert.True(t, rest.Amount.Equal(amount("200")))

	charge, err := f.store.GetCharge(ctx, paid.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, status.Refunded, charge.Status)
	assert.True(t, charge.RefundedAmount.Equal(amount("300")))

	again, err := f.svc.RefundPayment(ctx, &models.RefundRequest{PaymentID: paid.PaymentID})
	require.NoError(t, err)
	assert.Equal(t, models.CodeRefundExceeds, again.Code)
}

func TestRefundValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.svc.RefundPayment(ctx, &models.RefundRequest{PaymentID: "PAY-missing"})
	require.NoError(t, err)
	assert.Equal(t, models.CodeNotFound, res.Code)

	paid, err := f.svc.ProcessPayment(ctx, models.ProviderStripe, &models.PaymentRequest{
		Amount:        amount("50"),
		Currency:      "ZMW",
		PaymentMethod: "pm_card_visa",
	})
	require.NoError(t, err)

	res, err = f.svc.RefundPayment(ctx, &models.RefundRequest{PaymentID: paid.PaymentID, Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, models.CodeCurrencyMismatch, res.Code)

	mm, err := f.svc.InitiateMobilePayment(ctx, models.ProviderMTNMoMo, &models.MobilePaymentRequest{
		PhoneNumber: "0961234567",
		Amount:      amount("20"),
		Currency:    "ZMW",
	})
	require.NoError(t, err)
	require.Equal(t, status.Pending, mm.Status)

	res, err = f.svc.RefundPayment(ctx, &models.RefundRequest{PaymentID: mm.TransactionID})
	require.NoError(t, err)
	assert.Equal(t, models.CodeValidation, res.Code)
}

func TestNegativeRefundIsInvalid(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	paid, err := f.svc.ProcessPayment(ctx, models.ProviderStripe, &models.PaymentRequest{
		Amount:        amount("60"),
		Currency:      "ZMW",
		PaymentMethod: "pm_card_visa",
	})
	require.NoError(t, err)
	require.True(t, paid.Success, paid.Error)

	res, err := f.svc.RefundPayment(ctx, &models.RefundRequest{PaymentID: paid.PaymentID, Amount: amount("-10")})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, models.CodeValidation, res.Code)
	assert.Contains(t, res.Error, "negative")

	charge, err := f.store.GetCharge(ctx, paid.PaymentID)
	require.NoError(t, err)
	assert.True(t, charge.RefundedAmount.IsZero())
}

func TestPlatformCurrencyIsEnforced(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.svc.ProcessPayment(context.Background(), models.ProviderStripe, &models.PaymentRequest{
		Amount:        amount("10"),
		Currency:      "USD",
		PaymentMethod: "pm_card_visa",
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, models.CodeValidation, res.Code)
	assert.Equal(t, status.Failed, res.Status)
}

func TestIdempotentChargeReplaysResult(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := &models.PaymentRequest{
		Amount:         amount("75"),
		Currency:       "ZMW",
		PaymentMethod:  "pm_card_visa",
		IdempotencyKey: "booking-42",
	}

	first, err := f.svc.ProcessPayment(ctx, models.ProviderStripe, req)
	require.NoError(t, err)
	require.True(t, first.Success, first.Error)

	second, err := f.svc.ProcessPayment(ctx, models.ProviderStripe, req)
	require.NoError(t, err)
	assert.Equal(t, first.PaymentID, second.PaymentID)
	assert.True(t, second.Amount.Equal(first.Amount))

	other, err := f.svc.ProcessPayment(ctx, models.ProviderDPO, req)
	require.NoError(t, err)
	assert.NotEqual(t, first.PaymentID, other.PaymentID)
}

func TestConcurrentDuplicatesChargeOnce(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	card := &gatedCard{charge: func(n int32, req *models.PaymentRequest) *models.PaymentResult {
		if n == 1 {
			close(entered)
			<-unblock
		}
		return approved(req)
	}}
	f := newFixture(t, stubFactory{svc: card})
	ctx := context.Background()
	req := &models.PaymentRequest{
		Amount:         amount("75"),
		Currency:       "ZMW",
		PaymentMethod:  "pm_card_visa",
		IdempotencyKey: "booking-7",
	}

	first := make(chan *models.PaymentResult, 1)
	go func() {
		res, err := f.svc.ProcessPayment(ctx, models.ProviderStripe, req)
		assert.NoError(t, err)
		first <- res
	}()
	<-entered

	var wg sync.WaitGroup
	dupes := make([]*models.PaymentResult, 4)
	for i := range dupes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.ProcessPayment(ctx, models.ProviderStripe, req)
			assert.NoError(t, err)
			dupes[i] = res
		}(i)
	}
	wg.Wait()
	close(unblock)
	winner := <-first

	require.True(t, winner.Success, winner.Error)
	for _, d := range dupes {
		require.NotNil(t, d)
		assert.False(t, d.Success)
		assert.Equal(t, models.CodeInProgress, d.Code)
	}
	assert.Equal(t, int32(1), card.calls.Load())

	again, err := f.svc.ProcessPayment(ctx, models.ProviderStripe, req)
	require.NoError(t, err)
	assert.Equal(t, winner.PaymentID, again.PaymentID)
	assert.Equal(t, int32(1), card.calls.Load())
}

func TestTransientFailureReleasesIdempotencyKey(t *testing.T) {
	card := &gatedCard{charge: func(n int32, req *models.PaymentRequest) *models.PaymentResult {
		if n == 1 {
			return &models.PaymentResult{
				PaymentID: utils.GenerateTransactionID("PAY"),
				Provider:  models.ProviderStripe,
				Status:    status.Failed,
				Amount:    req.Amount,
				Currency:  req.Currency,
				Error:     "provider did not respond in time",
				Code:      models.CodeTimeout,
			}
		}
		return approved(req)
	}}
	f := newFixture(t, stubFactory{svc: card})
	ctx := context.Background()
	req := &models.PaymentRequest{
		Amount:         amount("40"),
		Currency:       "ZMW",
		PaymentMethod:  "pm_card_visa",
		IdempotencyKey: "booking-8",
	}

	failed, err := f.svc.ProcessPayment(ctx, models.ProviderStripe, req)
	require.NoError(t, err)
	assert.Equal(t, models.CodeTimeout, failed.Code)

	retried, err := f.svc.ProcessPayment(ctx, models.ProviderStripe, req)
	require.NoError(t, err)
	require.True(t, retried.Success, retried.Error)

	replayed, err := f.svc.ProcessPayment(ctx, models.ProviderStripe, req)
	require.NoError(t, err)
	assert.Equal(t, retried.PaymentID, replayed.PaymentID)
	assert.Equal(t, int32(2), card.calls.Load())
}

func TestRegistryErrorsSurface(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.ProcessPayment(ctx, models.Provider("paypal"), &models.PaymentRequest{})
	assert.True(t, errors.Is(err, status.ErrUnsupportedProvider))

	_, err = f.svc.TokenizeCard(ctx, models.ProviderAirtelMoney, &models.CardDetails{})
	assert.True(t, errors.Is(err, status.ErrWrongCapability))

	_, err = f.svc.InitiateMobilePayment(ctx, models.ProviderStripe, &models.MobilePaymentRequest{})
	assert.True(t, errors.Is(err, status.ErrWrongCapability))
}

func TestMobilePaymentIsWatchedToCompletion(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	mm, err := f.svc.InitiateMobilePayment(ctx, models.ProviderAirtelMoney, &models.MobilePaymentRequest{
		PhoneNumber: "097 123 4567",
		Amount:      amount("150"),
		Currency:    "ZMW",
		CustomerID:  "renter-3",
	})
	require.NoError(t, err)
	require.True(t, mm.Success, mm.Error)
	assert.Equal(t, status.Pending, mm.Status)
	assert.Equal(t, "+260971234567", mm.PhoneNumber)

	snap, err := f.svc.WatchMobilePayment(ctx, models.ProviderAirtelMoney, mm.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, status.Completed, snap.Status)
	assert.Equal(t, mm.TransactionID, snap.ID)

	charge, err := f.store.GetCharge(ctx, mm.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, status.Completed, charge.Status)

	f.notifier.AssertNumberOfCalls(t, "Notify", 2)
	f.publisher.AssertCalled(t, "Publish", mock.Anything, mock.MatchedBy(func(ev *events.StateChanged) bool {
		return ev.Operation == "status" && ev.PreviousStatus == status.Pending && ev.Status == status.Completed
	}))
}

func TestWatchStopsWhenContextEnds(t *testing.T) {
	wallet := &stubWallet{snapshot: models.StatusSnapshot{Provider: models.ProviderAirtelMoney, Status: status.Pending}}
	f := newFixture(t, stubFactory{svc: wallet})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	snap, err := f.svc.WatchMobilePayment(ctx, models.ProviderAirtelMoney, "MM-1")
	require.NoError(t, err)
	assert.Equal(t, models.CodeTimeout, snap.Code)
	assert.Equal(t, status.Pending, snap.Status)
}

func TestSandboxStatusOfUnknownPayments(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	mm, err := f.svc.InitiateMobilePayment(ctx, models.ProviderAirtelMoney, &models.MobilePaymentRequest{
		PhoneNumber: "0977120000",
		Amount:      amount("40"),
		Currency:    "ZMW",
	})
	require.NoError(t, err)
	require.Equal(t, models.CodeDeclined, mm.Code)

	snap, err := f.svc.CheckMobilePaymentStatus(ctx, models.ProviderAirtelMoney, mm.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, status.Failed, snap.Status)
	assert.Equal(t, models.CodeNotFound, snap.Code)

	watchCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	snap, err = f.svc.WatchMobilePayment(watchCtx, models.ProviderAirtelMoney, mm.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.CodeNotFound, snap.Code)
	assert.NotEqual(t, status.Completed, snap.Status)

	snap, err = f.svc.GetPaymentStatus(ctx, models.ProviderStripe, "does-not-exist")
	require.NoError(t, err)
	assert.Equal(t, models.CodeNotFound, snap.Code)

	hold, err := f.svc.HoldFunds(ctx, models.ProviderStripe, &models.HoldRequest{
		Amount:        amount("90"),
		Currency:      "ZMW",
		PaymentMethod: "pm_card_visa",
	})
	require.NoError(t, err)
	require.True(t, hold.Success, hold.Error)

	snap, err = f.svc.GetPaymentStatus(ctx, models.ProviderStripe, hold.HoldID)
	require.NoError(t, err)
	assert.Empty(t, snap.Code)
	assert.Equal(t, status.Held, snap.Status)

	snap, err = f.svc.GetPaymentStatus(ctx, models.ProviderDPO, hold.HoldID)
	require.NoError(t, err)
	assert.Equal(t, models.CodeNotFound, snap.Code)
}

func TestDeclinedMobilePaymentIsNotStored(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	mm, err := f.svc.InitiateMobilePayment(ctx, models.ProviderAirtelMoney, &models.MobilePaymentRequest{
		PhoneNumber: "0970000000",
		Amount:      amount("40"),
		Currency:    "ZMW",
	})
	require.NoError(t, err)
	assert.False(t, mm.Success)
	assert.Equal(t, models.CodeDeclined, mm.Code)

	_, err = f.store.GetCharge(ctx, mm.TransactionID)
	assert.ErrorIs(t, err, status.ErrPaymentNotFound)
	f.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
	f.recorder.AssertCalled(t, "Record", mock.Anything, mock.MatchedBy(func(e *records.Entry) bool {
		return e.ID == mm.TransactionID && e.Code == models.CodeDeclined
	}))
}
