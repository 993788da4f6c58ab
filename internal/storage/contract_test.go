package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"fundingwatch/internal/domain"
)

// runBackendContract exercises the behaviour every backend must share.
func runBackendContract(t *testing.T, newBackend func(t *testing.T) Backend) {
	t.Run("insert and list pending", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		id1, err := b.InsertAlert(ctx, domain.Alert{OwnerID: "42", Symbol: "BTCUSDT", TargetPrice: decimal.RequireFromString("60000"), Direction: domain.DirectionAbove})
		require.NoError(t, err)
		id2, err := b.InsertAlert(ctx, domain.Alert{OwnerID: "7", Symbol: "ETHUSDT", TargetPrice: decimal.RequireFromString("2500.5"), Direction: domain.DirectionBelow})
		require.NoError(t, err)
		require.NotEqual(t, id1, id2)

		pending, err := b.ListPendingAlerts(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		require.Equal(t, id1, pending[0].ID)
		require.Equal(t, "BTCUSDT", pending[0].Symbol)
		require.Equal(t, domain.DirectionAbove, pending[0].Direction)
		require.True(t, pending[0].TargetPrice.Equal(decimal.RequireFromString("60000")))
		require.True(t, pending[1].TargetPrice.Equal(decimal.RequireFromString("2500.5")))
		require.False(t, pending[1].Fired)
	})

	t.Run("mark fired is idempotent", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		id, err := b.InsertAlert(ctx, domain.Alert{OwnerID: "42", Symbol: "BTCUSDT", TargetPrice: decimal.NewFromInt(60000), Direction: domain.DirectionAbove})
		require.NoError(t, err)

		at := time.Now().UTC().Truncate(time.Second)
		changed, err := b.MarkAlertFired(ctx, id, decimal.RequireFromString("60000.01"), at)
		require.NoError(t, err)
		require.True(t, changed)

		changed, err = b.MarkAlertFired(ctx, id, decimal.RequireFromString("61000"), at.Add(time.Minute))
		require.NoError(t, err)
		require.False(t, changed)

		pending, err := b.ListPendingAlerts(ctx)
		require.NoError(t, err)
		require.Empty(t, pending)

		owned, err := b.ListAlertsByOwner(ctx, "42", 10)
		require.NoError(t, err)
		require.Len(t, owned, 1)
		require.True(t, owned[0].Fired)
		require.NotNil(t, owned[0].FiredAt)
		require.True(t, owned[0].FiredPrice.Equal(decimal.RequireFromString("60000.01")))
	})

	t.Run("mark fired unknown id", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.MarkAlertFired(context.Background(), 999, decimal.NewFromInt(1), time.Now())
		require.True(t, errors.Is(err, domain.ErrNotFound))
	})

	t.Run("concurrent mark fired flips once", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		id, err := b.InsertAlert(ctx, domain.Alert{OwnerID: "1", Symbol: "SOLUSDT", TargetPrice: decimal.NewFromInt(100), Direction: domain.DirectionBelow})
		require.NoError(t, err)

		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			flips int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				changed, err := b.MarkAlertFired(ctx, id, decimal.NewFromInt(99), time.Now())
				if err == nil && changed {
					mu.Lock()
					flips++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		require.Equal(t, 1, flips)
	})

	t.Run("list by owner newest first with limit", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
		for i := 0; i < 3; i++ {
			_, err := b.InsertAlert(ctx, domain.Alert{
				OwnerID:     "owner",
				Symbol:      "BTCUSDT",
				TargetPrice: decimal.NewFromInt(int64(1000 + i)),
				Direction:   domain.DirectionAbove,
				CreatedAt:   base.Add(time.Duration(i) * time.Minute),
			})
			require.NoError(t, err)
		}
		_, err := b.InsertAlert(ctx, domain.Alert{OwnerID: "other", Symbol: "BTCUSDT", TargetPrice: decimal.NewFromInt(1), Direction: domain.DirectionAbove})
		require.NoError(t, err)

		owned, err := b.ListAlertsByOwner(ctx, "owner", 2)
		require.NoError(t, err)
		require.Len(t, owned, 2)
		require.True(t, owned[0].TargetPrice.Equal(decimal.NewFromInt(1002)))
		require.True(t, owned[1].TargetPrice.Equal(decimal.NewFromInt(1001)))
	})

	t.Run("rate change history", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
		next := base.Add(8 * time.Hour)

		for i := 0; i < 3; i++ {
			require.NoError(t, b.InsertChange(ctx, ChangeRecord{
				Symbol:        "BTCUSDT",
				PreviousRate:  decimal.RequireFromString("0.0001"),
				CurrentRate:   decimal.RequireFromString("0.0006"),
				Delta:         decimal.RequireFromString("0.0005"),
				Direction:     "increase",
				Threshold:     decimal.RequireFromString("0.0005"),
				NextEventTime: &next,
				CreatedAt:     base.Add(time.Duration(i) * time.Minute),
			}))
		}
		require.NoError(t, b.InsertChange(ctx, ChangeRecord{
			Symbol:       "ETHUSDT",
			PreviousRate: decimal.Zero,
			CurrentRate:  decimal.RequireFromString("-0.001"),
			Delta:        decimal.RequireFromString("0.001"),
			Direction:    "decrease",
			Threshold:    decimal.RequireFromString("0.0005"),
			CreatedAt:    base.Add(10 * time.Minute),
		}))

		window, err := b.ListChanges(ctx, "BTCUSDT", base, base.Add(2*time.Minute))
		require.NoError(t, err)
		require.Len(t, window, 2)
		require.True(t, window[0].Delta.Equal(decimal.RequireFromString("0.0005")))
		require.NotNil(t, window[0].NextEventTime)

		recent, err := b.ListRecentChanges(ctx, 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		require.Equal(t, "ETHUSDT", recent[0].Symbol)
		require.Nil(t, recent[0].NextEventTime)
	})
}
