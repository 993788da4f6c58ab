package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"fundingwatch/internal/domain"
)

type alertRow struct {
	ID          int64               `gorm:"primaryKey;autoIncrement"`
	OwnerID     string              `gorm:"index;not null"`
	Symbol      string              `gorm:"index;not null"`
	TargetPrice decimal.Decimal     `gorm:"type:text;not null"`
	Direction   string              `gorm:"not null"`
	CreatedAt   time.Time           `gorm:"not null"`
	Fired       bool                `gorm:"index;not null;default:false"`
	FiredAt     *time.Time
	FiredPrice  decimal.NullDecimal `gorm:"type:text"`
}

func (alertRow) TableName() string { return "price_alerts" }

func (r alertRow) toDomain() domain.Alert {
	a := domain.Alert{
		ID:          r.ID,
		OwnerID:     r.OwnerID,
		Symbol:      r.Symbol,
		TargetPrice: r.TargetPrice,
		Direction:   domain.Direction(r.Direction),
		CreatedAt:   r.CreatedAt,
		Fired:       r.Fired,
		FiredAt:     r.FiredAt,
	}
	if r.FiredPrice.Valid {
		a.FiredPrice = r.FiredPrice.Decimal
	}
	return a
}

type changeRow struct {
	ID            int64           `gorm:"primaryKey;autoIncrement"`
	Symbol        string          `gorm:"index:idx_rate_changes_symbol_created;not null"`
	PreviousRate  decimal.Decimal `gorm:"type:text;not null"`
	CurrentRate   decimal.Decimal `gorm:"type:text;not null"`
	Delta         decimal.Decimal `gorm:"type:text;not null"`
	Direction     string          `gorm:"not null"`
	Threshold     decimal.Decimal `gorm:"type:text;not null"`
	NextEventTime *time.Time
	CreatedAt     time.Time `gorm:"index:idx_rate_changes_symbol_created;not null"`
}

func (changeRow) TableName() string { return "rate_changes" }

func (r changeRow) toRecord() ChangeRecord {
	return ChangeRecord{
		ID:            r.ID,
		Symbol:        r.Symbol,
		PreviousRate:  r.PreviousRate,
		CurrentRate:   r.CurrentRate,
		Delta:         r.Delta,
		Direction:     r.Direction,
		Threshold:     r.Threshold,
		NextEventTime: r.NextEventTime,
		CreatedAt:     r.CreatedAt,
	}
}

// SQLiteStore is the embedded backend used when no PostgreSQL DSN is configured.
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) the database file at path and migrates it.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "fundingwatch.db"
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// One connection serialises writers and keeps :memory: databases shared.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&alertRow{}, &changeRow{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// InsertAlert persists a new alert and returns its id.
func (s *SQLiteStore) InsertAlert(ctx context.Context, alert domain.Alert) (int64, error) {
	createdAt := alert.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	row := alertRow{
		OwnerID:     alert.OwnerID,
		Symbol:      alert.Symbol,
		TargetPrice: alert.TargetPrice,
		Direction:   string(alert.Direction),
		CreatedAt:   createdAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("%w: insert alert: %v", domain.ErrPersistence, err)
	}
	return row.ID, nil
}

// ListPendingAlerts returns every alert that has not fired, oldest first.
func (s *SQLiteStore) ListPendingAlerts(ctx context.Context) ([]domain.Alert, error) {
	var rows []alertRow
	if err := s.db.WithContext(ctx).Where("fired = ?", false).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: list pending alerts: %v", domain.ErrPersistence, err)
	}
	return toAlerts(rows), nil
}

// ListAlertsByOwner returns the newest alerts of one owner.
func (s *SQLiteStore) ListAlertsByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Alert, error) {
	var rows []alertRow
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list owner alerts: %v", domain.ErrPersistence, err)
	}
	return toAlerts(rows), nil
}

// MarkAlertFired flips the fired flag exactly once.
func (s *SQLiteStore) MarkAlertFired(ctx context.Context, id int64, price decimal.Decimal, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&alertRow{}).
		Where("id = ? AND fired = ?", id, false).
		Updates(map[string]interface{}{
			"fired":       true,
			"fired_at":    at.UTC(),
			"fired_price": price.String(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("%w: mark alert fired: %v", domain.ErrPersistence, res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	var row alertRow
	err := s.db.WithContext(ctx).Select("id").Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("alert %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("%w: check alert: %v", domain.ErrPersistence, err)
	}
	return false, nil
}

// InsertChange records a dispatched rate change.
func (s *SQLiteStore) InsertChange(ctx context.Context, change ChangeRecord) error {
	createdAt := change.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	row := changeRow{
		Symbol:        change.Symbol,
		PreviousRate:  change.PreviousRate,
		CurrentRate:   change.CurrentRate,
		Delta:         change.Delta,
		Direction:     change.Direction,
		Threshold:     change.Threshold,
		NextEventTime: change.NextEventTime,
		CreatedAt:     createdAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("%w: insert rate change: %v", domain.ErrPersistence, err)
	}
	return nil
}

// ListChanges lists one symbol's changes within [from, to).
func (s *SQLiteStore) ListChanges(ctx context.Context, symbol string, from, to time.Time) ([]ChangeRecord, error) {
	var rows []changeRow
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND created_at >= ? AND created_at < ?", symbol, from.UTC(), to.UTC()).
		Order("created_at").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list changes between: %v", domain.ErrPersistence, err)
	}
	return toChanges(rows), nil
}

// ListRecentChanges lists the most recent changes, newest first.
func (s *SQLiteStore) ListRecentChanges(ctx context.Context, limit int) ([]ChangeRecord, error) {
	var rows []changeRow
	if err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: list recent changes: %v", domain.ErrPersistence, err)
	}
	return toChanges(rows), nil
}

func toAlerts(rows []alertRow) []domain.Alert {
	alerts := make([]domain.Alert, 0, len(rows))
	for _, r := range rows {
		alerts = append(alerts, r.toDomain())
	}
	return alerts
}

func toChanges(rows []changeRow) []ChangeRecord {
	changes := make([]ChangeRecord, 0, len(rows))
	for _, r := range rows {
		changes = append(changes, r.toRecord())
	}
	return changes
}

var _ Backend = (*SQLiteStore)(nil)
