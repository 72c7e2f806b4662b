package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"rental-payments/utils"
)

// HTTPError is a non-2xx reply from a provider. Body is kept for parsers and debug
// logging and is never part of the error text.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider replied %d", e.StatusCode)
}

// Unwrap classifies 4xx replies (other than 401/429) as declines.
func (e *HTTPError) Unwrap() error {
	if e.StatusCode >= 400 && e.StatusCode < 500 &&
		e.StatusCode != http.StatusUnauthorized && e.StatusCode != http.StatusTooManyRequests {
		return ErrDeclined
	}
	return nil
}

// Send performs req through the breaker and returns the body of a 2xx reply.
// Only transport errors and 5xx replies count against the breaker.
func Send(ctx context.Context, hc *http.Client, cb *utils.CircuitBreaker, req *http.Request) ([]byte, error) {
	var clientErr *HTTPError

	out, err := cb.Execute(ctx, func() (any, error) {
		resp, err := hc.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}

		switch {
		case resp.StatusCode >= 500:
			return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
		case resp.StatusCode >= 300:
			clientErr = &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
			return nil, nil
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	if clientErr != nil {
		return nil, clientErr
	}
	body, _ := out.([]byte)
	return body, nil
}
