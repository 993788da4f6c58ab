package pricealert

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"fundingwatch/internal/domain"
	"fundingwatch/internal/retry"
	"fundingwatch/internal/storage"
)

type stubPrices struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	fail   map[string]error
	calls  map[string]int
}

func (s *stubPrices) FetchPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[symbol]++
	if err, ok := s.fail[symbol]; ok {
		return decimal.Zero, err
	}
	return s.prices[symbol], nil
}

type sent struct {
	chatID string
	text   string
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, chatID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, sent{chatID, text})
	return n.err
}

func newStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	s, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func addAlert(t *testing.T, s storage.AlertStore, owner, symbol, target string, dir domain.Direction) int64 {
	t.Helper()
	id, err := s.InsertAlert(context.Background(), domain.Alert{
		OwnerID:     owner,
		Symbol:      symbol,
		TargetPrice: decimal.RequireFromString(target),
		Direction:   dir,
	})
	require.NoError(t, err)
	return id
}

func policy() retry.Policy { return retry.Policy{MaxAttempts: 2} }

func TestEvaluateFiresAboveAlertOnce(t *testing.T) {
	store := newStore(t)
	id := addAlert(t, store, "42", "BTCUSDT", "60000", domain.DirectionAbove)

	prices := &stubPrices{prices: map[string]decimal.Decimal{"BTCUSDT": decimal.RequireFromString("60000.01")}}
	notifier := &recordingNotifier{}
	ev := New(store, prices, notifier, policy(), nil, zerolog.Nop())

	res, err := ev.Evaluate(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Checked)
	require.Len(t, res.Fired, 1)
	require.Equal(t, id, res.Fired[0].ID)
	require.True(t, res.Fired[0].FiredPrice.Equal(decimal.RequireFromString("60000.01")))
	require.Len(t, notifier.msgs, 1)
	require.Equal(t, "42", notifier.msgs[0].chatID)
	require.Contains(t, notifier.msgs[0].text, "BTCUSDT")
	require.Contains(t, notifier.msgs[0].text, "60000.01")

	res, err = ev.Evaluate(context.Background())
	require.NoError(t, err)
	require.Zero(t, res.Checked)
	require.Empty(t, res.Fired)
	require.Len(t, notifier.msgs, 1)
}

func TestEvaluateBoundaries(t *testing.T) {
	store := newStore(t)
	addAlert(t, store, "1", "BTCUSDT", "60000", domain.DirectionAbove)
	addAlert(t, store, "2", "ETHUSDT", "2500", domain.DirectionBelow)
	addAlert(t, store, "3", "SOLUSDT", "100", domain.DirectionAbove)

	prices := &stubPrices{prices: map[string]decimal.Decimal{
		"BTCUSDT": decimal.RequireFromString("60000"),
		"ETHUSDT": decimal.RequireFromString("2500"),
		"SOLUSDT": decimal.RequireFromString("99.99"),
	}}
	notifier := &recordingNotifier{}
	res, err := New(store, prices, notifier, policy(), nil, zerolog.Nop()).Evaluate(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, res.Checked)
	require.Len(t, res.Fired, 2)

	pending, err := store.ListPendingAlerts(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "SOLUSDT", pending[0].Symbol)
}

func TestEvaluateFetchesEachSymbolOnce(t *testing.T) {
	store := newStore(t)
	addAlert(t, store, "1", "BTCUSDT", "50000", domain.DirectionAbove)
	addAlert(t, store, "2", "BTCUSDT", "70000", domain.DirectionAbove)
	addAlert(t, store, "3", "BTCUSDT", "65000", domain.DirectionBelow)

	prices := &stubPrices{prices: map[string]decimal.Decimal{"BTCUSDT": decimal.RequireFromString("60000")}}
	res, err := New(store, prices, &recordingNotifier{}, policy(), nil, zerolog.Nop()).Evaluate(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Fired, 2)
	require.Equal(t, 1, prices.calls["BTCUSDT"])
}

func TestEvaluateIsolatesSymbolFailures(t *testing.T) {
	store := newStore(t)
	addAlert(t, store, "1", "BADUSDT", "1", domain.DirectionAbove)
	addAlert(t, store, "2", "ETHUSDT", "3000", domain.DirectionAbove)

	feedErr := errors.New("feed down")
	prices := &stubPrices{
		prices: map[string]decimal.Decimal{"ETHUSDT": decimal.RequireFromString("3100")},
		fail:   map[string]error{"BADUSDT": feedErr},
	}
	res, err := New(store, prices, &recordingNotifier{}, policy(), nil, zerolog.Nop()).Evaluate(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Fired, 1)
	require.Equal(t, "ETHUSDT", res.Fired[0].Symbol)
	require.Contains(t, res.Failed, "BADUSDT")
	require.ErrorIs(t, res.Failed["BADUSDT"], domain.ErrFetchExhausted)
	require.ErrorIs(t, res.Failed["BADUSDT"], feedErr)
	require.Equal(t, 2, prices.calls["BADUSDT"])

	pending, err := store.ListPendingAlerts(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "BADUSDT", pending[0].Symbol)
}

func TestEvaluateNotifyFailureStillMarksFired(t *testing.T) {
	store := newStore(t)
	addAlert(t, store, "1", "BTCUSDT", "1", domain.DirectionAbove)

	prices := &stubPrices{prices: map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(2)}}
	notifier := &recordingNotifier{err: errors.New("telegram down")}
	res, err := New(store, prices, notifier, policy(), nil, zerolog.Nop()).Evaluate(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Fired, 1)

	pending, err := store.ListPendingAlerts(context.Background())
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestConcurrentEvaluatorsNotifyOnce(t *testing.T) {
	store := newStore(t)
	addAlert(t, store, "1", "BTCUSDT", "1", domain.DirectionAbove)

	prices := &stubPrices{prices: map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(2)}}
	notifier := &recordingNotifier{}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = New(store, prices, notifier, policy(), nil, zerolog.Nop()).Evaluate(context.Background())
		}()
	}
	wg.Wait()
	require.Len(t, notifier.msgs, 1)
}

func TestEvaluateCancelled(t *testing.T) {
	store := newStore(t)
	addAlert(t, store, "1", "BTCUSDT", "1", domain.DirectionAbove)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	prices := &stubPrices{prices: map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(2)}}
	_, err := New(store, prices, &recordingNotifier{}, policy(), nil, zerolog.Nop()).Evaluate(ctx)
	require.Error(t, err)
}
