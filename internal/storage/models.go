package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"fundingwatch/internal/domain"
)

// ChangeRecord is the audit row of a dispatched rate change.
type ChangeRecord struct {
	ID            int64
	Symbol        string
	PreviousRate  decimal.Decimal
	CurrentRate   decimal.Decimal
	Delta         decimal.Decimal
	Direction     string
	Threshold     decimal.Decimal
	NextEventTime *time.Time
	CreatedAt     time.Time
}

// AlertStore persists user price alerts.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert domain.Alert) (int64, error)
	ListPendingAlerts(ctx context.Context) ([]domain.Alert, error)
	ListAlertsByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Alert, error)
	// MarkAlertFired flips fired to true. It reports false, without error,
	// when the alert had already fired.
	MarkAlertFired(ctx context.Context, id int64, price decimal.Decimal, at time.Time) (bool, error)
}

// ChangeStore keeps the history of dispatched rate changes.
type ChangeStore interface {
	InsertChange(ctx context.Context, change ChangeRecord) error
	ListChanges(ctx context.Context, symbol string, from, to time.Time) ([]ChangeRecord, error)
	ListRecentChanges(ctx context.Context, limit int) ([]ChangeRecord, error)
}

// Backend is implemented by every storage driver.
type Backend interface {
	AlertStore
	ChangeStore
	Close()
}
