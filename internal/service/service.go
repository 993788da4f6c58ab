package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fundingwatch/internal/alerting"
	"fundingwatch/internal/config"
	"fundingwatch/internal/domain"
	"fundingwatch/internal/fetcher"
	"fundingwatch/internal/metrics"
	"fundingwatch/internal/monitor"
	"fundingwatch/internal/pricealert"
	"fundingwatch/internal/retry"
	"fundingwatch/internal/scheduler"
	"fundingwatch/internal/storage"
)

// Status is the operator status report.
type Status struct {
	Tracked      int
	Threshold    decimal.Decimal
	NextEvent    time.Time
	Remaining    time.Duration
	HasNextEvent bool
	ConnectionOK bool
	Err          error
	CheckedAt    time.Time
}

// Service orchestrates fetching, change detection, alert evaluation, and notification.
type Service struct {
	scheduler *scheduler.Scheduler
	source    fetcher.Source
	store     storage.Backend
	notifier  alerting.Notifier
	monitor   *monitor.Monitor
	evaluator *pricealert.Evaluator
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	policy       retry.Policy
	operatorChat string
	sendTimeout  time.Duration
	listLimit    int
	intervals    intervals
	healthCron   string

	locker  storage.AdvisoryLocker
	lockKey int64

	now func() time.Time
}

type intervals struct {
	rate     time.Duration
	liveness time.Duration
	alerts   time.Duration
}

// New constructs the monitoring service. prices may be nil, in which case
// alert evaluation reads prices straight from source.
func New(cfg *config.Config, sched *scheduler.Scheduler, source fetcher.Source, prices fetcher.PriceFetcher, store storage.Backend, notifier alerting.Notifier, m *metrics.Metrics, logger zerolog.Logger) (*Service, error) {
	threshold := decimal.NewFromFloat(cfg.Monitor.Threshold)
	mon, err := monitor.New(threshold)
	if err != nil {
		return nil, err
	}
	if prices == nil {
		prices = source
	}
	if notifier == nil {
		notifier = alerting.NewLogNotifier(logger)
	}

	policy := retry.Policy{MaxAttempts: cfg.Retry.MaxAttempts, Delay: cfg.Retry.Delay}

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	listLimit := cfg.Alerts.ListLimit
	if listLimit <= 0 {
		listLimit = 20
	}

	m.SetThreshold(threshold.InexactFloat64())

	return &Service{
		scheduler:    sched,
		source:       source,
		store:        store,
		notifier:     notifier,
		monitor:      mon,
		evaluator:    pricealert.New(store, prices, notifier, policy, m, logger),
		metrics:      m,
		logger:       logger.With().Str("component", "service").Logger(),
		policy:       policy,
		operatorChat: cfg.Alerting.OperatorChatID,
		sendTimeout:  cfg.Alerting.SendTimeout,
		listLimit:    listLimit,
		intervals: intervals{
			rate:     cfg.Monitor.Interval,
			liveness: cfg.Monitor.LivenessInterval,
			alerts:   cfg.Alerts.Interval,
		},
		healthCron: strings.TrimSpace(cfg.Monitor.HealthReportCron),
		locker:     locker,
		lockKey:    cfg.Database.AdvisoryLockKey,
		now:        time.Now,
	}, nil
}

// Run seeds the monitor, registers the periodic jobs, and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}

	s.Start(ctx)

	for _, job := range s.jobs() {
		if err := s.scheduler.Add(job); err != nil {
			return err
		}
	}
	s.logger.Info().Strs("jobs", s.scheduler.Jobs()).Msg("periodic jobs registered")
	return s.scheduler.Run(ctx)
}

// jobs lists the periodic work. The health report runs on its crontab and is
// left out when none is configured.
func (s *Service) jobs() []scheduler.Job {
	jobs := []scheduler.Job{
		{Name: "rate_changes", Interval: s.intervals.rate, Task: s.RateTick},
		{Name: "liveness", Interval: s.intervals.liveness, Task: s.LivenessTick},
		{Name: "price_alerts", Interval: s.intervals.alerts, Task: s.AlertTick, RunAtStart: true},
	}
	if s.healthCron != "" {
		jobs = append(jobs, scheduler.Job{Name: "health_report", Cron: s.healthCron, Task: s.HealthReport})
	}
	return jobs
}

// Start seeds the baseline table and announces the launch. A failed seed is
// logged only; the first rate tick records the baselines instead.
func (s *Service) Start(ctx context.Context) {
	tracked, err := s.Restart(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to initialise funding rates")
		return
	}
	s.logger.Info().Int("tracked", tracked).Msg("funding rates initialised")
	s.notify(ctx, formatLaunch(s.now(), tracked))
}

// RateTick fetches a snapshot and dispatches every change at or above the threshold.
func (s *Service) RateTick(ctx context.Context) error {
	records, failures, err := s.fetchSnapshot(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, domain.ErrFetchExhausted) {
			s.notify(ctx, formatTrouble(err))
		}
		return fmt.Errorf("fetch funding rates: %w", err)
	}
	if failures > 0 {
		s.notify(ctx, formatRecovered(failures))
	}
	// no monitor writes once shutdown has begun
	if err := ctx.Err(); err != nil {
		return err
	}

	events := s.monitor.Evaluate(records, false)
	s.metrics.SetTracked(s.monitor.Tracked())
	s.dispatch(ctx, events)
	return nil
}

// CheckNow evaluates a fresh snapshot with force set. Every compared symbol
// is returned; only threshold crossings are dispatched.
func (s *Service) CheckNow(ctx context.Context) ([]monitor.ChangeEvent, error) {
	records, _, err := s.fetchSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch funding rates: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	events := s.monitor.Evaluate(records, true)
	s.metrics.SetTracked(s.monitor.Tracked())
	s.dispatch(ctx, events)
	return events, nil
}

// LivenessTick probes the feed; on failure it notifies the operator and
// rebuilds the baseline table from a fresh fetch.
func (s *Service) LivenessTick(ctx context.Context) error {
	err := s.source.Ping(ctx)
	if err == nil {
		s.logger.Debug().Msg("liveness probe ok")
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.logger.Warn().Err(err).Msg("liveness probe failed, restarting monitor")
	s.notify(ctx, formatLivenessFailure(err))

	tracked, restartErr := s.Restart(ctx)
	if restartErr != nil {
		s.notify(ctx, formatAutoRestartFailed(restartErr))
		return fmt.Errorf("auto restart: %w", restartErr)
	}
	s.logger.Info().Int("tracked", tracked).Msg("auto restart succeeded")
	s.notify(ctx, formatAutoRestarted(tracked))
	return nil
}

// AlertTick evaluates pending price alerts.
func (s *Service) AlertTick(ctx context.Context) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Msg("skip alert tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	res, err := s.evaluator.Evaluate(ctx)
	if err != nil {
		return fmt.Errorf("evaluate price alerts: %w", err)
	}
	if len(res.Fired) > 0 || len(res.Failed) > 0 {
		s.logger.Info().Int("checked", res.Checked).Int("fired", len(res.Fired)).Int("failed_symbols", len(res.Failed)).Msg("price alerts evaluated")
	}
	if len(res.Failed) > 0 {
		s.notify(ctx, formatAlertFailures(res.Failed))
	}
	return nil
}

// HealthReport tells the operator channel the monitor is alive.
func (s *Service) HealthReport(ctx context.Context) error {
	s.notify(ctx, formatHealth(s.now()))
	return nil
}

// Status reports tracked count, threshold, time to the next funding event,
// and feed reachability.
func (s *Service) Status(ctx context.Context) Status {
	st := Status{
		Tracked:   s.monitor.Tracked(),
		Threshold: s.monitor.Threshold(),
		CheckedAt: s.now(),
	}
	if next, ok := s.monitor.NextEvent(); ok {
		st.NextEvent = next
		st.HasNextEvent = true
		st.Remaining = next.Sub(st.CheckedAt)
		if st.Remaining < 0 {
			st.Remaining = 0
		}
	}
	if err := s.source.Ping(ctx); err != nil {
		st.Err = err
	} else {
		st.ConnectionOK = true
	}
	return st
}

// Threshold returns the current notification threshold.
func (s *Service) Threshold() decimal.Decimal {
	return s.monitor.Threshold()
}

// SetThreshold replaces the notification threshold. Non-positive values fail
// with domain.ErrInvalidInput and change nothing.
func (s *Service) SetThreshold(value decimal.Decimal) error {
	if err := s.monitor.SetThreshold(value); err != nil {
		return err
	}
	s.metrics.SetThreshold(value.InexactFloat64())
	s.logger.Info().Str("threshold", value.String()).Msg("notification threshold updated")
	return nil
}

// Restart clears the baseline table and re-seeds it from a fresh fetch.
func (s *Service) Restart(ctx context.Context) (int, error) {
	s.monitor.Reset()
	s.metrics.SetTracked(0)

	records, _, err := s.fetchSnapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch funding rates: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	tracked := s.monitor.Seed(records)
	s.metrics.SetTracked(tracked)
	return tracked, nil
}

// CreateAlert validates and persists a new price alert.
func (s *Service) CreateAlert(ctx context.Context, ownerID, symbol string, target decimal.Decimal, direction domain.Direction) (domain.Alert, error) {
	ownerID = strings.TrimSpace(ownerID)
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	switch {
	case ownerID == "":
		return domain.Alert{}, fmt.Errorf("%w: owner is required", domain.ErrInvalidInput)
	case symbol == "":
		return domain.Alert{}, fmt.Errorf("%w: symbol is required", domain.ErrInvalidInput)
	case !target.IsPositive():
		return domain.Alert{}, fmt.Errorf("%w: target price must be greater than zero", domain.ErrInvalidInput)
	case !direction.Valid():
		return domain.Alert{}, fmt.Errorf("%w: direction must be above or below", domain.ErrInvalidInput)
	}

	alert := domain.Alert{
		OwnerID:     ownerID,
		Symbol:      symbol,
		TargetPrice: target,
		Direction:   direction,
		CreatedAt:   s.now().UTC(),
	}
	id, err := s.store.InsertAlert(ctx, alert)
	if err != nil {
		return domain.Alert{}, err
	}
	alert.ID = id

	s.logger.Info().Int64("alert_id", id).Str("owner", ownerID).Str("symbol", symbol).
		Str("direction", string(direction)).Str("target", target.String()).Msg("price alert created")
	return alert, nil
}

// ListAlerts returns the owner's most recent alerts.
func (s *Service) ListAlerts(ctx context.Context, ownerID string) ([]domain.Alert, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner is required", domain.ErrInvalidInput)
	}
	return s.store.ListAlertsByOwner(ctx, ownerID, s.listLimit)
}

func (s *Service) fetchSnapshot(ctx context.Context) ([]domain.RateRecord, int, error) {
	return retry.Do(ctx, s.policy, s.logger, func(ctx context.Context) ([]domain.RateRecord, error) {
		s.metrics.FetchAttempt("snapshot")
		records, err := s.source.FetchSnapshot(ctx)
		if err != nil {
			s.metrics.FetchFailure("snapshot")
		}
		return records, err
	})
}

func (s *Service) dispatch(ctx context.Context, events []monitor.ChangeEvent) {
	for _, ev := range monitor.Dispatched(events) {
		s.metrics.RateChange(string(ev.Direction))
		s.logger.Info().
			Str("symbol", ev.Symbol).
			Str("previous", ev.Previous.String()).
			Str("current", ev.Current.String()).
			Str("delta", ev.Delta.String()).
			Msg("funding rate change detected")

		record := storage.ChangeRecord{
			Symbol:       ev.Symbol,
			PreviousRate: ev.Previous,
			CurrentRate:  ev.Current,
			Delta:        ev.Delta,
			Direction:    string(ev.Direction),
			Threshold:    ev.Threshold,
			CreatedAt:    s.now().UTC(),
		}
		if !ev.NextEventTime.IsZero() {
			next := ev.NextEventTime.UTC()
			record.NextEventTime = &next
		}
		if err := s.store.InsertChange(ctx, record); err != nil {
			s.logger.Error().Err(err).Str("symbol", ev.Symbol).Msg("failed to persist rate change")
		}

		s.notify(ctx, FormatChange(ev))
	}
}

// notify sends text to the operator channel. Failures are logged, never retried.
func (s *Service) notify(ctx context.Context, text string) {
	if s.operatorChat == "" {
		s.logger.Info().Str("text", text).Msg("no operator channel configured")
		return
	}
	if s.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.sendTimeout)
		defer cancel()
	}
	if err := s.notifier.Send(ctx, s.operatorChat, text); err != nil {
		s.logger.Error().Err(err).Msg("failed to notify operator channel")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
