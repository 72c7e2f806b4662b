package txstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rental-payments/internal/status"

	"github.com/shopspring/decimal"
)

type idempotent struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore keeps state in process. It serves sandbox deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	holds   map[string]Hold
	charges map[string]Charge
	keys    map[string]idempotent
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		holds:   make(map[string]Hold),
		charges: make(map[string]Charge),
		keys:    make(map[string]idempotent),
		now:     time.Now,
	}
}

func (s *MemoryStore) SaveHold(_ context.Context, h *Hold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holds[h.HoldID] = *h
	return nil
}

func (s *MemoryStore) GetHold(_ context.Context, holdID string) (*Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", status.ErrHoldNotFound, holdID)
	}
	return &h, nil
}

func (s *MemoryStore) PromoteHold(_ context.Context, holdID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdID]
	if !ok {
		return false, fmt.Errorf("%w: %s", status.ErrHoldNotFound, holdID)
	}
	if h.Status != status.Pending {
		return false, nil
	}
	h.Status = status.Held
	s.holds[holdID] = h
	return true, nil
}

func (s *MemoryStore) ClaimHold(_ context.Context, holdID, op string) (*Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", status.ErrHoldNotFound, holdID)
	}
	if h.Status != status.Held || h.ClaimedBy != "" {
		return &h, fmt.Errorf("%w: %s is %s", status.ErrHoldNotActive, holdID, h.Status)
	}
	h.ClaimedBy = op
	s.holds[holdID] = h
	return &h, nil
}

func (s *MemoryStore) FinishHold(_ context.Context, holdID string, st status.PaymentStatus, captured decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdID]
	if !ok {
		return fmt.Errorf("%w: %s", status.ErrHoldNotFound, holdID)
	}
	h.Status = st
	h.CapturedAmount = captured
	h.ClaimedBy = ""
	s.holds[holdID] = h
	return nil
}

func (s *MemoryStore) AbortHold(_ context.Context, holdID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdID]
	if !ok {
		return fmt.Errorf("%w: %s", status.ErrHoldNotFound, holdID)
	}
	h.ClaimedBy = ""
	s.holds[holdID] = h
	return nil
}

func (s *MemoryStore) SaveCharge(_ context.Context, c *Charge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.charges[c.PaymentID] = *c
	return nil
}

func (s *MemoryStore) GetCharge(_ context.Context, paymentID string) (*Charge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.charges[paymentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", status.ErrPaymentNotFound, paymentID)
	}
	return &c, nil
}

func (s *MemoryStore) ReserveRefund(_ context.Context, paymentID string, amount decimal.Decimal) (*Charge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.charges[paymentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", status.ErrPaymentNotFound, paymentID)
	}
	next := c.RefundedAmount.Add(amount)
	if next.GreaterThan(c.Amount) {
		return &c, fmt.Errorf("%w: %s remaining", status.ErrRefundExceeds, c.Refundable())
	}
	c.RefundedAmount = next
	if next.Equal(c.Amount) {
		c.Status = status.Refunded
	}
	s.charges[paymentID] = c
	return &c, nil
}

func (s *MemoryStore) ReleaseRefund(_ context.Context, paymentID string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.charges[paymentID]
	if !ok {
		return fmt.Errorf("%w: %s", status.ErrPaymentNotFound, paymentID)
	}
	c.RefundedAmount = decimal.Max(c.RefundedAmount.Sub(amount), decimal.Zero)
	if c.Status == status.Refunded {
		c.Status = status.Completed
	}
	s.charges[paymentID] = c
	return nil
}

func (s *MemoryStore) ClaimIdempotent(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.keys[key]; ok && !s.now().After(v.expiresAt) {
		return false, nil
	}
	s.keys[key] = idempotent{value: []byte(inProgress), expiresAt: s.now().Add(InProgressTTL)}
	return true, nil
}

func (s *MemoryStore) SaveIdempotent(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = idempotent{value: value, expiresAt: s.now().Add(IdempotencyTTL)}
	return nil
}

func (s *MemoryStore) GetIdempotent(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.keys[key]
	if !ok {
		return nil, false, nil
	}
	if s.now().After(v.expiresAt) {
		delete(s.keys, key)
		return nil, false, nil
	}
	if string(v.value) == inProgress {
		return nil, false, nil
	}
	return v.value, true, nil
}

func (s *MemoryStore) DeleteIdempotent(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}
