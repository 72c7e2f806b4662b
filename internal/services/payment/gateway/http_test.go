package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"rental-payments/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSend(t *testing.T) {
	tests := []struct {
		name         string
		code         int
		wantErr      bool
		wantDeclined bool
		wantFailures uint32
	}{
		{"ok", http.StatusOK, false, false, 0},
		{"declined", http.StatusPaymentRequired, true, true, 0},
		{"unauthorized is not a decline", http.StatusUnauthorized, true, false, 0},
		{"server error trips breaker", http.StatusBadGateway, true, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(`{"id":"x"}`))
			}))
			defer srv.Close()

			cb := utils.NewCircuitBreaker("test")
			req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
			require.NoError(t, err)

			body, err := Send(context.Background(), srv.Client(), cb, req)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.JSONEq(t, `{"id":"x"}`, string(body))
			} else {
				var httpErr *HTTPError
				require.ErrorAs(t, err, &httpErr)
				assert.Equal(t, tt.code, httpErr.StatusCode)
				assert.Equal(t, tt.wantDeclined, IsDeclined(err))
				assert.Equal(t, `{"id":"x"}`, httpErr.Body)
				assert.NotContains(t, err.Error(), `"id"`)
			}
			assert.Equal(t, tt.wantFailures, cb.Counts().TotalFailures)
		})
	}
}
