package fetcher

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fundingwatch/internal/domain"
	"fundingwatch/internal/metrics"
)

// SnapshotFetcher retrieves the current rate of every symbol on the feed.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context) ([]domain.RateRecord, error)
}

// PriceFetcher retrieves the current price of a single symbol.
type PriceFetcher interface {
	FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Pinger performs a lightweight reachability check against the feed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Source bundles everything the service needs from one feed.
type Source interface {
	SnapshotFetcher
	PriceFetcher
	Pinger
}

// collectRecords converts raw feed entries and drops the ones that do not
// parse. A snapshot fails only when it had entries and none were usable.
func collectRecords[T any](items []T, convert func(T) (domain.RateRecord, error), source string, m *metrics.Metrics, logger zerolog.Logger) ([]domain.RateRecord, error) {
	records := make([]domain.RateRecord, 0, len(items))
	skipped := 0
	var lastErr error
	for _, item := range items {
		rec, err := convert(item)
		if err != nil {
			skipped++
			lastErr = err
			m.SkippedRecord(source)
			logger.Warn().Err(err).Msg("skipping unusable feed record")
			continue
		}
		records = append(records, rec)
	}

	if len(records) == 0 && skipped > 0 {
		return nil, fmt.Errorf("%w: no usable records in snapshot (%d skipped): %v", domain.ErrFetchTransient, skipped, lastErr)
	}
	return records, nil
}
