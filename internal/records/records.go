// Package records keeps a queryable ledger of payment outcomes in the application database.
package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rental-payments/internal/status"
	"rental-payments/models"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
)

const Collection = "payment_transactions"

// Entry is one row of the payment ledger. ID is the platform transaction id.
type Entry struct {
	ID                    string               `json:"transaction_id"`
	Kind                  string               `json:"kind"`
	Provider              models.Provider      `json:"provider"`
	ProviderTransactionID string               `json:"provider_transaction_id,omitempty"`
	Status                status.PaymentStatus `json:"status"`
	Amount                decimal.Decimal      `json:"amount"`
	Currency              string               `json:"currency"`
	CustomerID            string               `json:"customer_id,omitempty"`
	Code                  models.ErrorCode     `json:"code,omitempty"`
	Message               string               `json:"message,omitempty"`
	Created               time.Time            `json:"created"`
}

// NewCollection describes the ledger collection.
func NewCollection() *core.Collection {
	c := core.NewBaseCollection(Collection)
	c.Fields.Add(
		&core.TextField{Name: "transaction_id", Required: true, Max: 64},
		&core.SelectField{
			Name:      "kind",
			Required:  true,
			MaxSelect: 1,
			Values:    []string{"charge", "card_charge", "mobile_payment", "hold", "capture", "release", "refund"},
		},
		&core.TextField{Name: "provider", Required: true},
		&core.TextField{Name: "provider_transaction_id"},
		&core.SelectField{
			Name:      "status",
			Required:  true,
			MaxSelect: 1,
			Values: []string{
				string(status.Pending), string(status.Processing), string(status.Completed), string(status.Failed),
				string(status.Cancelled), string(status.Held), string(status.Released), string(status.Refunded),
			},
		},
		&core.TextField{Name: "amount", Required: true},
		&core.TextField{Name: "currency", Required: true, Min: 3, Max: 3},
		&core.TextField{Name: "customer_id"},
		&core.TextField{Name: "code"},
		&core.TextField{Name: "message"},
		&core.AutodateField{Name: "created", OnCreate: true},
		&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
	)
	c.AddIndex("idx_payment_transactions_tx", true, "transaction_id", "")
	c.AddIndex("idx_payment_transactions_provider", false, "provider, created", "")
	return c
}

func (e *Entry) apply(rec *core.Record) {
	rec.Set("transaction_id", e.ID)
	rec.Set("kind", e.Kind)
	rec.Set("provider", string(e.Provider))
	rec.Set("provider_transaction_id", e.ProviderTransactionID)
	rec.Set("status", string(e.Status))
	rec.Set("amount", e.Amount.StringFixed(2))
	rec.Set("currency", e.Currency)
	rec.Set("customer_id", e.CustomerID)
	rec.Set("code", string(e.Code))
	rec.Set("message", e.Message)
}

func fromRecord(rec *core.Record) *Entry {
	amount, _ := decimal.NewFromString(rec.GetString("amount"))
	return &Entry{
		ID:                    rec.GetString("transaction_id"),
		Kind:                  rec.GetString("kind"),
		Provider:              models.Provider(rec.GetString("provider")),
		ProviderTransactionID: rec.GetString("provider_transaction_id"),
		Status:                status.PaymentStatus(rec.GetString("status")),
		Amount:                amount,
		Currency:              rec.GetString("currency"),
		CustomerID:            rec.GetString("customer_id"),
		Code:                  models.ErrorCode(rec.GetString("code")),
		Message:               rec.GetString("message"),
		Created:               rec.GetDateTime("created").Time(),
	}
}

// Recorder writes entries to the ledger collection.
type Recorder struct {
	app core.App
}

func NewRecorder(app core.App) *Recorder {
	return &Recorder{app: app}
}

// Record upserts e keyed by transaction id.
func (r *Recorder) Record(ctx context.Context, e *Entry) error {
	rec, err := r.app.FindFirstRecordByData(Collection, "transaction_id", e.ID)
	if err != nil {
		col, cerr := r.app.FindCachedCollectionByNameOrId(Collection)
		if cerr != nil {
			return fmt.Errorf("find %s collection: %w", Collection, cerr)
		}
		rec = core.NewRecord(col)
	}
	e.apply(rec)
	if err := r.app.SaveWithContext(ctx, rec); err != nil {
		return fmt.Errorf("save %s %s: %w", e.Kind, e.ID, err)
	}
	return nil
}

// Find returns the ledger entry for a transaction id.
func (r *Recorder) Find(ctx context.Context, id string) (*Entry, error) {
	rec := &core.Record{}
	err := r.app.RecordQuery(Collection).
		WithContext(ctx).
		AndWhere(dbx.HashExp{"transaction_id": id}).
		Limit(1).
		One(rec)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", status.ErrPaymentNotFound, id)
		}
		return nil, fmt.Errorf("find transaction %s: %w", id, err)
	}
	return fromRecord(rec), nil
}

// Recent lists the newest entries, newest first. An empty provider lists every provider.
func (r *Recorder) Recent(ctx context.Context, provider models.Provider, limit int) ([]*Entry, error) {
	q := r.app.RecordQuery(Collection).WithContext(ctx)
	if provider != "" {
		q = q.AndWhere(dbx.HashExp{"provider": string(provider)})
	}

	var recs []*core.Record
	if err := q.OrderBy("created DESC").Limit(int64(limit)).All(&recs); err != nil {
		return nil, fmt.Errorf("list %s transactions: %w", provider, err)
	}

	out := make([]*Entry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, fromRecord(rec))
	}
	return out, nil
}
