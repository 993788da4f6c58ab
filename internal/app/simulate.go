package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fundingwatch/internal/domain"
	"fundingwatch/internal/fetcher"
	"fundingwatch/internal/service"
	"fundingwatch/internal/storage"
)

// SimulateOptions 描述一次模拟的资金费率变化。
type SimulateOptions struct {
	Symbol   string
	Previous decimal.Decimal
	Current  decimal.Decimal
}

// Simulate 使用给定的前后费率跑一遍检测和通知流程。
// 变化记录写入内存数据库，不会污染配置的存储。
func (a *App) Simulate(ctx context.Context, opts SimulateOptions, out io.Writer) error {
	symbol := strings.ToUpper(strings.TrimSpace(opts.Symbol))
	if symbol == "" {
		return errors.New("symbol is required")
	}

	notifier, _, err := a.newNotifier()
	if err != nil {
		return err
	}

	store, err := storage.OpenSQLite(":memory:")
	if err != nil {
		return err
	}
	defer store.Close()

	next := time.Now().UTC().Truncate(time.Hour).Add(time.Hour)
	source := &staticSource{snapshots: [][]domain.RateRecord{
		{{Symbol: symbol, Rate: opts.Previous, NextEventTime: next}},
		{{Symbol: symbol, Rate: opts.Current, NextEventTime: next}},
	}}

	svc, err := service.New(a.Config, nil, source, nil, store, notifier, nil, a.Logger)
	if err != nil {
		return err
	}
	if _, err := svc.Restart(ctx); err != nil {
		return err
	}
	events, err := svc.CheckNow(ctx)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, service.FormatCheck(events))
	return err
}

// staticSource 依次返回预设的快照，最后一个快照会被重复返回。
type staticSource struct {
	mu        sync.Mutex
	snapshots [][]domain.RateRecord
	next      int
}

func (s *staticSource) FetchSnapshot(ctx context.Context) ([]domain.RateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snapshots) == 0 {
		return nil, errors.New("no snapshots configured")
	}
	idx := min(s.next, len(s.snapshots)-1)
	s.next++
	return s.snapshots[idx], nil
}

func (s *staticSource) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("prices are not simulated")
}

func (s *staticSource) Ping(ctx context.Context) error {
	return nil
}

var _ fetcher.Source = (*staticSource)(nil)
