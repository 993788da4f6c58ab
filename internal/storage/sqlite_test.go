package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"fundingwatch/internal/domain"
)

func newSQLite(t *testing.T) Backend {
	t.Helper()
	store, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func TestSQLiteStoreContract(t *testing.T) {
	runBackendContract(t, newSQLite)
}

func TestSQLiteAlertsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.db")
	ctx := context.Background()

	first, err := OpenSQLite(path)
	require.NoError(t, err)
	id, err := first.InsertAlert(ctx, domain.Alert{OwnerID: "42", Symbol: "BTCUSDT", TargetPrice: decimal.NewFromInt(60000), Direction: domain.DirectionAbove})
	require.NoError(t, err)
	first.Close()

	second, err := OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(second.Close)

	pending, err := second.ListPendingAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, id, pending[0].ID)
}
