package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"rental-payments/internal/records"
	"rental-payments/internal/status"
	"rental-payments/models"
	"rental-payments/utils"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Ledger is the read side of the transaction records.
type Ledger interface {
	Find(ctx context.Context, id string) (*records.Entry, error)
	Recent(ctx context.Context, provider models.Provider, limit int) ([]*records.Entry, error)
}

type AdminHandler struct {
	ledger Ledger
	redis  redis.Cmdable
}

// NewAdminHandler builds the operator endpoints. redisClient may be nil when the in-memory store is used.
func NewAdminHandler(ledger Ledger, redisClient redis.Cmdable) *AdminHandler {
	return &AdminHandler{ledger: ledger, redis: redisClient}
}

// ListTransactions - GET /api/v1/admin/transactions?provider=stripe&limit=50
func (h *AdminHandler) ListTransactions(e *core.RequestEvent) error {
	if e.Auth == nil || !e.Auth.IsSuperuser() {
		return apis.NewUnauthorizedError("Admin access required", nil)
	}

	q := e.Request.URL.Query()
	var provider models.Provider
	if raw := q.Get("provider"); raw != "" {
		p, err := models.ParseProvider(raw)
		if err != nil {
			return apis.NewBadRequestError(err.Error(), nil)
		}
		provider = p
	}

	limit := defaultListLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return apis.NewBadRequestError("limit must be a positive integer", err)
		}
		limit = min(n, maxListLimit)
	}

	entries, err := h.ledger.Recent(e.Request.Context(), provider, limit)
	if err != nil {
		return apis.NewInternalServerError("Failed to list transactions", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"items": entries, "count": len(entries)})
}

// GetTransaction - GET /api/v1/admin/transactions/{id}
func (h *AdminHandler) GetTransaction(e *core.RequestEvent) error {
	if e.Auth == nil || !e.Auth.IsSuperuser() {
		return apis.NewUnauthorizedError("Admin access required", nil)
	}

	entry, err := h.ledger.Find(e.Request.Context(), e.Request.PathValue("id"))
	if errors.Is(err, status.ErrPaymentNotFound) {
		return apis.NewNotFoundError("Transaction not found", nil)
	}
	if err != nil {
		return apis.NewInternalServerError("Failed to load transaction", err)
	}
	return e.JSON(http.StatusOK, entry)
}

// Health - GET /health
func (h *AdminHandler) Health(e *core.RequestEvent) error {
	if h.redis != nil {
		if err := utils.RedisHealthCheck(e.Request.Context(), h.redis); err != nil {
			return e.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
	}
	return e.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}
