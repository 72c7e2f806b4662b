package status

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidTransition = errors.New("payment: invalid status transition")
	ErrUnknownStatus     = errors.New("payment: unknown status")

	ErrUnsupportedProvider = errors.New("payment: unsupported provider")
	ErrWrongCapability     = errors.New("payment: provider does not support capability")

	ErrInvalidAmount   = errors.New("payment: invalid amount")
	ErrInvalidCurrency = errors.New("payment: invalid currency")
	ErrInvalidPhone    = errors.New("payment: invalid phone number")
	ErrInvalidCard     = errors.New("payment: invalid card details")

	ErrHoldNotFound     = errors.New("hold: hold not found")
	ErrHoldNotActive    = errors.New("hold: hold is no longer active")
	ErrPaymentNotFound  = errors.New("payment: payment not found")
	ErrRefundExceeds    = errors.New("refund: amount exceeds refundable balance")
	ErrCurrencyMismatch = errors.New("payment: currency does not match original charge")
)

// PaymentStatus is the lifecycle state shared by every provider and operation.
type PaymentStatus string

const (
	Pending    PaymentStatus = "PENDING"
	Processing PaymentStatus = "PROCESSING"
	Completed  PaymentStatus = "COMPLETED"
	Failed     PaymentStatus = "FAILED"
	Cancelled  PaymentStatus = "CANCELLED"
	Held       PaymentStatus = "HELD"
	Released   PaymentStatus = "RELEASED"
	Refunded   PaymentStatus = "REFUNDED"
)

var transitions = map[PaymentStatus][]PaymentStatus{
	Pending:    {Processing, Completed, Failed, Cancelled, Held},
	Processing: {Completed, Failed, Cancelled},
	Held:       {Released, Completed, Failed},
	Completed:  {Refunded},
}

// TransitionError describes a rejected status change.
type TransitionError struct {
	From PaymentStatus
	To   PaymentStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// Parse converts a raw value (any case) into a PaymentStatus.
func Parse(s string) (PaymentStatus, error) {
	ps := PaymentStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !ps.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return ps, nil
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case Pending, Processing, Completed, Failed, Cancelled, Held, Released, Refunded:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case Failed, Cancelled, Refunded, Released:
		return true
	}
	return false
}

// IsSuccessful reports whether s represents progress rather than a failure outcome.
func (s PaymentStatus) IsSuccessful() bool {
	switch s {
	case Pending, Processing, Completed, Held, Released, Refunded:
		return true
	}
	return false
}

func (s PaymentStatus) String() string {
	return string(s)
}

// CanTransition reports whether from -> to is an allowed lifecycle step.
func CanTransition(from, to PaymentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to and returns the new status.
func Transition(from, to PaymentStatus) (PaymentStatus, error) {
	if !CanTransition(from, to) {
		return from, &TransitionError{From: from, To: to}
	}
	return to, nil
}
