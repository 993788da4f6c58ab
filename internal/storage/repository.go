package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"fundingwatch/internal/domain"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	alertColumns = `id, owner_id, symbol, target_price::text, direction, created_at, fired, fired_at, COALESCE(fired_price::text, '')`

	insertAlertSQL = `INSERT INTO price_alerts (
        owner_id,
        symbol,
        target_price,
        direction,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id;`

	listPendingAlertsSQL = `SELECT ` + alertColumns + `
    FROM price_alerts
    WHERE NOT fired
    ORDER BY id;`

	listAlertsByOwnerSQL = `SELECT ` + alertColumns + `
    FROM price_alerts
    WHERE owner_id = $1
    ORDER BY created_at DESC, id DESC
    LIMIT $2;`

	markAlertFiredSQL = `UPDATE price_alerts
    SET fired = true, fired_at = $2, fired_price = $3
    WHERE id = $1 AND NOT fired;`

	alertExistsSQL = `SELECT EXISTS (SELECT 1 FROM price_alerts WHERE id = $1);`

	changeColumns = `id, symbol, previous_rate::text, current_rate::text, delta::text, direction, threshold::text, next_event_time, created_at`

	insertChangeSQL = `INSERT INTO rate_changes (
        symbol,
        previous_rate,
        current_rate,
        delta,
        direction,
        threshold,
        next_event_time,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    );`

	listChangesBetweenSQL = `SELECT ` + changeColumns + `
    FROM rate_changes
    WHERE symbol = $1
      AND created_at >= $2
      AND created_at < $3
    ORDER BY created_at;`

	listRecentChangesSQL = `SELECT ` + changeColumns + `
    FROM rate_changes
    ORDER BY created_at DESC, id DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the PostgreSQL backend.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("%w: acquire connection: %v", domain.ErrPersistence, err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("%w: try advisory lock: %v", domain.ErrPersistence, err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertAlert persists a new alert and returns its id.
func (s *Store) InsertAlert(ctx context.Context, alert domain.Alert) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	createdAt := alert.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var id int64
	if scanErr := pool.QueryRow(ctx, insertAlertSQL,
		alert.OwnerID,
		alert.Symbol,
		alert.TargetPrice.String(),
		string(alert.Direction),
		createdAt,
	).Scan(&id); scanErr != nil {
		return 0, fmt.Errorf("%w: insert alert: %v", domain.ErrPersistence, scanErr)
	}
	return id, nil
}

// ListPendingAlerts returns every alert that has not fired, oldest first.
func (s *Store) ListPendingAlerts(ctx context.Context) ([]domain.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPendingAlertsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("%w: list pending alerts: %v", domain.ErrPersistence, queryErr)
	}
	return collectAlerts(rows)
}

// ListAlertsByOwner returns the newest alerts of one owner.
func (s *Store) ListAlertsByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAlertsByOwnerSQL, ownerID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("%w: list owner alerts: %v", domain.ErrPersistence, queryErr)
	}
	return collectAlerts(rows)
}

// MarkAlertFired flips the fired flag exactly once.
func (s *Store) MarkAlertFired(ctx context.Context, id int64, price decimal.Decimal, at time.Time) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	cmdTag, execErr := pool.Exec(ctx, markAlertFiredSQL, id, at, price.String())
	if execErr != nil {
		return false, fmt.Errorf("%w: mark alert fired: %v", domain.ErrPersistence, execErr)
	}
	if cmdTag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if scanErr := pool.QueryRow(ctx, alertExistsSQL, id).Scan(&exists); scanErr != nil {
		return false, fmt.Errorf("%w: check alert: %v", domain.ErrPersistence, scanErr)
	}
	if !exists {
		return false, fmt.Errorf("alert %d: %w", id, domain.ErrNotFound)
	}
	return false, nil
}

// InsertChange records a dispatched rate change.
func (s *Store) InsertChange(ctx context.Context, change ChangeRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	createdAt := change.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var next interface{}
	if change.NextEventTime != nil {
		next = *change.NextEventTime
	}

	_, execErr := pool.Exec(ctx, insertChangeSQL,
		change.Symbol,
		change.PreviousRate.String(),
		change.CurrentRate.String(),
		change.Delta.String(),
		change.Direction,
		change.Threshold.String(),
		next,
		createdAt,
	)
	if execErr != nil {
		return fmt.Errorf("%w: insert rate change: %v", domain.ErrPersistence, execErr)
	}
	return nil
}

// ListChanges lists one symbol's changes within a time window.
func (s *Store) ListChanges(ctx context.Context, symbol string, from, to time.Time) ([]ChangeRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listChangesBetweenSQL, symbol, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("%w: list changes between: %v", domain.ErrPersistence, queryErr)
	}
	return collectChanges(rows)
}

// ListRecentChanges lists the most recent changes, newest first.
func (s *Store) ListRecentChanges(ctx context.Context, limit int) ([]ChangeRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentChangesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("%w: list recent changes: %v", domain.ErrPersistence, queryErr)
	}
	return collectChanges(rows)
}

func collectAlerts(rows pgx.Rows) ([]domain.Alert, error) {
	defer rows.Close()

	alerts := make([]domain.Alert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return alerts, nil
}

func scanAlert(rows pgx.Rows) (domain.Alert, error) {
	var (
		alert      domain.Alert
		targetStr  string
		direction  string
		firedPrice string
	)
	if err := rows.Scan(
		&alert.ID,
		&alert.OwnerID,
		&alert.Symbol,
		&targetStr,
		&direction,
		&alert.CreatedAt,
		&alert.Fired,
		&alert.FiredAt,
		&firedPrice,
	); err != nil {
		return domain.Alert{}, fmt.Errorf("%w: scan alert: %v", domain.ErrPersistence, err)
	}

	target, err := decimal.NewFromString(targetStr)
	if err != nil {
		return domain.Alert{}, fmt.Errorf("%w: parse target price: %v", domain.ErrPersistence, err)
	}
	alert.TargetPrice = target
	alert.Direction = domain.Direction(direction)

	if firedPrice != "" {
		price, err := decimal.NewFromString(firedPrice)
		if err != nil {
			return domain.Alert{}, fmt.Errorf("%w: parse fired price: %v", domain.ErrPersistence, err)
		}
		alert.FiredPrice = price
	}
	return alert, nil
}

func collectChanges(rows pgx.Rows) ([]ChangeRecord, error) {
	defer rows.Close()

	changes := make([]ChangeRecord, 0)
	for rows.Next() {
		change, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return changes, nil
}

func scanChange(rows pgx.Rows) (ChangeRecord, error) {
	var (
		rec          ChangeRecord
		previousStr  string
		currentStr   string
		deltaStr     string
		thresholdStr string
	)
	if err := rows.Scan(
		&rec.ID,
		&rec.Symbol,
		&previousStr,
		&currentStr,
		&deltaStr,
		&rec.Direction,
		&thresholdStr,
		&rec.NextEventTime,
		&rec.CreatedAt,
	); err != nil {
		return ChangeRecord{}, fmt.Errorf("%w: scan rate change: %v", domain.ErrPersistence, err)
	}

	values := []struct {
		raw string
		dst *decimal.Decimal
	}{
		{previousStr, &rec.PreviousRate},
		{currentStr, &rec.CurrentRate},
		{deltaStr, &rec.Delta},
		{thresholdStr, &rec.Threshold},
	}
	for _, v := range values {
		d, err := decimal.NewFromString(v.raw)
		if err != nil {
			return ChangeRecord{}, fmt.Errorf("%w: parse rate change: %v", domain.ErrPersistence, err)
		}
		*v.dst = d
	}
	return rec, nil
}

var (
	_ Backend        = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
