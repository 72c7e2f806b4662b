package payment

import (
	"fmt"

	"rental-payments/internal/status"
	"rental-payments/models"
)

// ErrorCode classifies a ProviderError.
type ErrorCode string

const (
	ErrCodeUnsupportedProvider ErrorCode = "UNSUPPORTED_PROVIDER"
	ErrCodeWrongCapability     ErrorCode = "WRONG_CAPABILITY"
	ErrCodeUnavailable         ErrorCode = "PROVIDER_UNAVAILABLE"
)

// ProviderError signals a routing or configuration bug rather than a payment outcome.
type ProviderError struct {
	Code     ErrorCode
	Provider models.Provider
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func unsupportedProvider(p models.Provider) *ProviderError {
	return &ProviderError{
		Code:     ErrCodeUnsupportedProvider,
		Provider: p,
		Message:  "unknown payment provider",
		Err:      status.ErrUnsupportedProvider,
	}
}

func wrongCapability(p models.Provider, capability string) *ProviderError {
	return &ProviderError{
		Code:     ErrCodeWrongCapability,
		Provider: p,
		Message:  "provider does not support " + capability,
		Err:      status.ErrWrongCapability,
	}
}
