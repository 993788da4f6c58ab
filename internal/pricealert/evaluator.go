package pricealert

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"fundingwatch/internal/alerting"
	"fundingwatch/internal/domain"
	"fundingwatch/internal/fetcher"
	"fundingwatch/internal/metrics"
	"fundingwatch/internal/retry"
	"fundingwatch/internal/storage"
)

// Result summarises one evaluation pass.
type Result struct {
	Checked int
	Fired   []domain.Alert
	Failed  map[string]error
}

// Evaluator checks pending alerts against current prices.
type Evaluator struct {
	store    storage.AlertStore
	prices   fetcher.PriceFetcher
	notifier alerting.Notifier
	policy   retry.Policy
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

// New constructs an Evaluator. m may be nil.
func New(store storage.AlertStore, prices fetcher.PriceFetcher, notifier alerting.Notifier, policy retry.Policy, m *metrics.Metrics, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		store:    store,
		prices:   prices,
		notifier: notifier,
		policy:   policy,
		metrics:  m,
		logger:   logger.With().Str("component", "price_alerts").Logger(),
		now:      time.Now,
	}
}

// Evaluate fires every pending alert whose condition holds. A symbol whose
// price cannot be fetched is skipped and reported in Result.Failed.
func (e *Evaluator) Evaluate(ctx context.Context) (Result, error) {
	result := Result{Failed: map[string]error{}}

	pending, err := e.store.ListPendingAlerts(ctx)
	if err != nil {
		return result, fmt.Errorf("list pending alerts: %w", err)
	}
	result.Checked = len(pending)
	if len(pending) == 0 {
		return result, nil
	}

	bySymbol := lo.GroupBy(pending, func(a domain.Alert) string { return a.Symbol })
	symbols := lo.Uniq(lo.Map(pending, func(a domain.Alert, _ int) string { return a.Symbol }))

	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		price, err := e.fetchPrice(ctx, symbol)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			e.logger.Warn().Err(err).Str("symbol", symbol).Msg("price unavailable, alerts left pending")
			result.Failed[symbol] = err
			continue
		}

		for _, alert := range bySymbol[symbol] {
			if !alert.Triggered(price) {
				continue
			}
			fired, ok := e.fire(ctx, alert, price)
			if ok {
				result.Fired = append(result.Fired, fired)
			}
		}
	}

	return result, nil
}

func (e *Evaluator) fetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	logger := e.logger.With().Str("symbol", symbol).Logger()
	price, _, err := retry.Do(ctx, e.policy, logger, func(ctx context.Context) (decimal.Decimal, error) {
		e.metrics.FetchAttempt("price")
		p, err := e.prices.FetchPrice(ctx, symbol)
		if err != nil {
			e.metrics.FetchFailure("price")
		}
		return p, err
	})
	return price, err
}

// fire persists the fired flag before telling the owner, so a crash between
// the two can lose a message but never repeat one.
func (e *Evaluator) fire(ctx context.Context, alert domain.Alert, price decimal.Decimal) (domain.Alert, bool) {
	at := e.now().UTC()
	changed, err := e.store.MarkAlertFired(ctx, alert.ID, price, at)
	if err != nil {
		e.logger.Error().Err(err).Int64("alert_id", alert.ID).Msg("failed to mark alert fired")
		return alert, false
	}
	if !changed {
		e.logger.Debug().Int64("alert_id", alert.ID).Msg("alert already fired elsewhere")
		return alert, false
	}

	alert.Fired = true
	alert.FiredAt = &at
	alert.FiredPrice = price
	e.metrics.AlertFired(string(alert.Direction))

	e.logger.Info().
		Int64("alert_id", alert.ID).
		Str("symbol", alert.Symbol).
		Str("direction", string(alert.Direction)).
		Str("target", alert.TargetPrice.String()).
		Str("price", price.String()).
		Msg("price alert fired")

	if e.notifier != nil {
		if err := e.notifier.Send(ctx, alert.OwnerID, FormatFired(alert, price)); err != nil {
			e.logger.Error().Err(err).Int64("alert_id", alert.ID).Str("owner", alert.OwnerID).Msg("failed to notify alert owner")
		}
	}
	return alert, true
}

// FormatFired renders the owner notification for a fired alert.
func FormatFired(alert domain.Alert, price decimal.Decimal) string {
	arrow := "📈"
	if alert.Direction == domain.DirectionBelow {
		arrow = "📉"
	}
	return fmt.Sprintf("🔔 #%s %s\n\nPrice is %s %s\nCurrent price: %s",
		alert.Symbol, arrow, alert.Direction, alert.TargetPrice.String(), price.String())
}
