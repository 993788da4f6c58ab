package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fundingwatch/internal/domain"
)

// Direction classifies a rate move against the stored baseline.
type Direction string

const (
	Increase  Direction = "increase"
	Decrease  Direction = "decrease"
	Unchanged Direction = "unchanged"
)

// ChangeEvent reports one symbol's move since its last fetched value.
type ChangeEvent struct {
	Symbol        string
	Previous      decimal.Decimal
	Current       decimal.Decimal
	Delta         decimal.Decimal
	Direction     Direction
	NextEventTime time.Time
	Remaining     time.Duration
	// Threshold is the value Delta was compared against.
	Threshold decimal.Decimal
	// Dispatch is set only when Delta crossed the threshold; forced events leave it false.
	Dispatch bool
}

type entry struct {
	rate          decimal.Decimal
	nextEventTime time.Time
}

// Monitor owns the baseline table and the notification threshold.
type Monitor struct {
	mu        sync.Mutex
	rates     map[string]entry
	threshold decimal.Decimal
	now       func() time.Time
}

// New constructs a Monitor with the given default threshold.
func New(threshold decimal.Decimal) (*Monitor, error) {
	if !threshold.IsPositive() {
		return nil, fmt.Errorf("%w: threshold must be greater than zero", domain.ErrInvalidInput)
	}
	return &Monitor{
		rates:     make(map[string]entry),
		threshold: threshold,
		now:       time.Now,
	}, nil
}

// Evaluate compares records against the stored baselines.
//
// New symbols only record a baseline. Every known symbol gets its baseline
// replaced by the fetched value, whether or not an event was produced, so
// sub-threshold drift is always measured from the last fetch.
func (m *Monitor) Evaluate(records []domain.RateRecord, force bool) []ChangeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	events := make([]ChangeEvent, 0)
	for _, rec := range records {
		if rec.Symbol == "" {
			continue
		}

		prev, known := m.rates[rec.Symbol]
		m.rates[rec.Symbol] = entry{rate: rec.Rate, nextEventTime: rec.NextEventTime}
		if !known {
			continue
		}

		delta := rec.Rate.Sub(prev.rate).Abs()
		crossed := delta.GreaterThanOrEqual(m.threshold)
		if !crossed && !force {
			continue
		}

		events = append(events, ChangeEvent{
			Symbol:        rec.Symbol,
			Previous:      prev.rate,
			Current:       rec.Rate,
			Delta:         delta,
			Direction:     classify(prev.rate, rec.Rate),
			NextEventTime: rec.NextEventTime,
			Remaining:     remaining(rec.NextEventTime, now),
			Threshold:     m.threshold,
			Dispatch:      crossed,
		})
	}
	return events
}

// Threshold returns the current notification threshold.
func (m *Monitor) Threshold() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threshold
}

// SetThreshold replaces the threshold. Non-positive values are rejected and leave it unchanged.
func (m *Monitor) SetThreshold(value decimal.Decimal) error {
	if !value.IsPositive() {
		return fmt.Errorf("%w: threshold must be greater than zero, got %s", domain.ErrInvalidInput, value.String())
	}
	m.mu.Lock()
	m.threshold = value
	m.mu.Unlock()
	return nil
}

// Reset forgets every tracked symbol.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.rates = make(map[string]entry)
	m.mu.Unlock()
}

// Seed replaces the baseline table with records and returns the tracked count.
func (m *Monitor) Seed(records []domain.RateRecord) int {
	rates := make(map[string]entry, len(records))
	for _, rec := range records {
		if rec.Symbol == "" {
			continue
		}
		rates[rec.Symbol] = entry{rate: rec.Rate, nextEventTime: rec.NextEventTime}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates = rates
	return len(m.rates)
}

// Tracked returns the number of symbols with a baseline.
func (m *Monitor) Tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rates)
}

func (m *Monitor) baseline(symbol string) (decimal.Decimal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rates[symbol]
	return e.rate, ok
}

// NextEvent returns the earliest upcoming event time across tracked symbols.
func (m *Monitor) NextEvent() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var next time.Time
	for _, e := range m.rates {
		if e.nextEventTime.IsZero() || !e.nextEventTime.After(now) {
			continue
		}
		if next.IsZero() || e.nextEventTime.Before(next) {
			next = e.nextEventTime
		}
	}
	return next, !next.IsZero()
}

func classify(prev, cur decimal.Decimal) Direction {
	switch cur.Cmp(prev) {
	case 1:
		return Increase
	case -1:
		return Decrease
	default:
		return Unchanged
	}
}

func remaining(next, now time.Time) time.Duration {
	if next.IsZero() {
		return 0
	}
	d := next.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
