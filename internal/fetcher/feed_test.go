package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"fundingwatch/internal/domain"
	"fundingwatch/internal/metrics"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestFeedFetchSnapshotSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"symbol": "BTCUSDT", "markPrice": "60000.5", "lastFundingRate": "0.00010000", "nextFundingTime": 1767254400000},
			{"symbol": "ETHUSDT", "markPrice": "2500", "lastFundingRate": "-0.00025000", "nextFundingTime": 1767254400000},
		})
	}))
	t.Cleanup(srv.Close)

	feed := NewFeed(FeedOptions{URL: srv.URL, Timeout: time.Second, UserAgent: "test"}, noopLogger())
	records, err := feed.FetchSnapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.Equal(t, "BTCUSDT", records[0].Symbol)
	require.True(t, records[0].Rate.Equal(decimal.RequireFromString("0.0001")))
	require.True(t, records[0].MarkPrice.Equal(decimal.RequireFromString("60000.5")))
	require.Equal(t, time.UnixMilli(1767254400000).UTC(), records[0].NextEventTime)
	require.True(t, records[1].Rate.IsNegative())
}

func TestFeedFetchSnapshotHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": -1003, "msg": "Too many requests"})
	}))
	t.Cleanup(srv.Close)

	feed := NewFeed(FeedOptions{URL: srv.URL, Timeout: time.Second}, noopLogger())
	_, err := feed.FetchSnapshot(context.Background())
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrFetchTransient))
	require.Contains(t, err.Error(), "429")
	require.Contains(t, err.Error(), "Too many requests")
}

func TestFeedFetchSnapshotMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("[{"))
	}))
	t.Cleanup(srv.Close)

	feed := NewFeed(FeedOptions{URL: srv.URL, Timeout: time.Second}, noopLogger())
	_, err := feed.FetchSnapshot(context.Background())
	require.ErrorIs(t, err, domain.ErrFetchTransient)
}

func skippedMetric(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func TestFeedFetchSnapshotSkipsUnusableRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"symbol":"BTCUSDT","markPrice":"60000","lastFundingRate":"0.0001","nextFundingTime":1767254400000},
			{"symbol":"BTCUSDT_250926","markPrice":"61000","lastFundingRate":"","nextFundingTime":0},
			{"symbol":"ETHUSDT","markPrice":"2500","lastFundingRate":"n/a","nextFundingTime":0},
			{"symbol":"SOLUSDT","markPrice":"150","lastFundingRate":"-0.0002","nextFundingTime":1767254400000}
		]`))
	}))
	t.Cleanup(srv.Close)

	m := metrics.New()
	feed := NewFeed(FeedOptions{URL: srv.URL, Timeout: time.Second, Metrics: m}, noopLogger())
	records, err := feed.FetchSnapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "BTCUSDT", records[0].Symbol)
	require.Equal(t, "SOLUSDT", records[1].Symbol)
	require.Contains(t, skippedMetric(t, m), `fundingwatch_feed_records_skipped_total{source="http"} 2`)
}

func TestFeedFetchSnapshotNoUsableRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","lastFundingRate":"n/a","nextFundingTime":0}]`))
	}))
	t.Cleanup(srv.Close)

	feed := NewFeed(FeedOptions{URL: srv.URL, Timeout: time.Second}, noopLogger())
	_, err := feed.FetchSnapshot(context.Background())
	require.ErrorIs(t, err, domain.ErrFetchTransient)
}

func TestFeedFetchSnapshotEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)

	feed := NewFeed(FeedOptions{URL: srv.URL, Timeout: time.Second}, noopLogger())
	records, err := feed.FetchSnapshot(context.Background())
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestFeedTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	feed := NewFeed(FeedOptions{URL: srv.URL, Timeout: 50 * time.Millisecond}, noopLogger())
	start := time.Now()
	err := feed.Ping(context.Background())
	require.ErrorIs(t, err, domain.ErrFetchTransient)
	require.Less(t, time.Since(start), time.Second)
}

func TestFeedFetchPrice(t *testing.T) {
	var gotSymbol string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSymbol = r.URL.Query().Get("symbol")
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","markPrice":"61234.10","lastFundingRate":"0.0001","nextFundingTime":0}`))
	}))
	t.Cleanup(srv.Close)

	feed := NewFeed(FeedOptions{URL: srv.URL, Timeout: time.Second}, noopLogger())
	price, err := feed.FetchPrice(context.Background(), " btcusdt ")
	require.NoError(t, err)
	require.Equal(t, "BTCUSDT", gotSymbol)
	require.True(t, price.Equal(decimal.RequireFromString("61234.1")))

	_, err = feed.FetchPrice(context.Background(), "")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}
