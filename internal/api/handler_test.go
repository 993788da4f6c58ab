package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"fundingwatch/internal/domain"
	"fundingwatch/internal/monitor"
	"fundingwatch/internal/service"
)

type MockOperator struct{ mock.Mock }

func (m *MockOperator) Status(ctx context.Context) service.Status {
	args := m.Called(ctx)
	st, _ := args.Get(0).(service.Status)
	return st
}

func (m *MockOperator) SetThreshold(v decimal.Decimal) error {
	return m.Called(v).Error(0)
}

func (m *MockOperator) CheckNow(ctx context.Context) ([]monitor.ChangeEvent, error) {
	args := m.Called(ctx)
	events, _ := args.Get(0).([]monitor.ChangeEvent)
	return events, args.Error(1)
}

func (m *MockOperator) Restart(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockOperator) CreateAlert(ctx context.Context, owner, symbol string, target decimal.Decimal, dir domain.Direction) (domain.Alert, error) {
	args := m.Called(ctx, owner, symbol, target, dir)
	a, _ := args.Get(0).(domain.Alert)
	return a, args.Error(1)
}

func (m *MockOperator) ListAlerts(ctx context.Context, owner string) ([]domain.Alert, error) {
	args := m.Called(ctx, owner)
	alerts, _ := args.Get(0).([]domain.Alert)
	return alerts, args.Error(1)
}

func do(t *testing.T, op *MockOperator, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	NewRouter(op, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("metrics"))
	}), "", zerolog.Nop()).ServeHTTP(rec, req)
	return rec
}

func TestHealthzAndMetrics(t *testing.T) {
	op := &MockOperator{}
	require.Equal(t, http.StatusOK, do(t, op, http.MethodGet, "/healthz", nil).Code)

	rec := do(t, op, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "metrics", rec.Body.String())
}

func TestStatus(t *testing.T) {
	op := &MockOperator{}
	next := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	op.On("Status", mock.Anything).Return(service.Status{
		Tracked:      12,
		Threshold:    decimal.RequireFromString("0.0005"),
		NextEvent:    next,
		HasNextEvent: true,
		Remaining:    90 * time.Minute,
		ConnectionOK: true,
	})

	rec := do(t, op, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, 12, res.Tracked)
	require.True(t, res.Threshold.Equal(decimal.RequireFromString("0.0005")))
	require.Equal(t, "01:30:00", res.Remaining)
	require.True(t, res.ConnectionOK)
	op.AssertExpectations(t)
}

func TestSetThreshold(t *testing.T) {
	op := &MockOperator{}
	op.On("SetThreshold", decimal.RequireFromString("0.001")).Return(nil)
	op.On("SetThreshold", decimal.RequireFromString("-1")).
		Return(fmt.Errorf("%w: threshold must be greater than zero", domain.ErrInvalidInput))

	rec := do(t, op, http.MethodPut, "/api/v1/threshold", map[string]string{"threshold": "0.001"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, op, http.MethodPut, "/api/v1/threshold", map[string]string{"threshold": "-1"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/threshold", bytes.NewBufferString("{"))
	rec = httptest.NewRecorder()
	NewRouter(op, nil, "", zerolog.Nop()).ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheck(t *testing.T) {
	op := &MockOperator{}
	op.On("CheckNow", mock.Anything).Return([]monitor.ChangeEvent{
		{Symbol: "BTCUSDT", Delta: decimal.RequireFromString("0.0005"), Direction: monitor.Increase, Dispatch: true},
		{Symbol: "ETHUSDT", Delta: decimal.RequireFromString("0.0001"), Direction: monitor.Decrease},
	}, nil).Once()
	op.On("CheckNow", mock.Anything).Return(nil, fmt.Errorf("fetch: %w", domain.ErrFetchExhausted)).Once()

	rec := do(t, op, http.MethodPost, "/api/v1/check", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res CheckResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Events, 2)
	require.Equal(t, 1, res.Dispatched)

	rec = do(t, op, http.MethodPost, "/api/v1/check", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRestart(t *testing.T) {
	op := &MockOperator{}
	op.On("Restart", mock.Anything).Return(42, nil)

	rec := do(t, op, http.MethodPost, "/api/v1/restart", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"tracked":42}`, rec.Body.String())
}

func TestCreateAlert(t *testing.T) {
	op := &MockOperator{}
	target := decimal.RequireFromString("60000")
	op.On("CreateAlert", mock.Anything, "42", "BTCUSDT", target, domain.DirectionAbove).
		Return(domain.Alert{ID: 1, OwnerID: "42", Symbol: "BTCUSDT", TargetPrice: target, Direction: domain.DirectionAbove}, nil)

	rec := do(t, op, http.MethodPost, "/api/v1/alerts", map[string]string{
		"owner_id": "42", "symbol": "BTCUSDT", "target_price": "60000", "direction": "above",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var res AlertResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, int64(1), res.ID)
	require.Nil(t, res.FiredPrice)

	rec = do(t, op, http.MethodPost, "/api/v1/alerts", map[string]string{
		"owner_id": "42", "symbol": "BTCUSDT", "target_price": "60000", "direction": "sideways",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	op.AssertNumberOfCalls(t, "CreateAlert", 1)
}

func TestListAlerts(t *testing.T) {
	op := &MockOperator{}
	op.On("ListAlerts", mock.Anything, "42").Return([]domain.Alert{{ID: 3, OwnerID: "42", Symbol: "ETHUSDT", Direction: domain.DirectionBelow}}, nil)
	op.On("ListAlerts", mock.Anything, "").Return(nil, fmt.Errorf("%w: owner is required", domain.ErrInvalidInput))
	op.On("ListAlerts", mock.Anything, "broken").Return(nil, errors.New("db down"))

	rec := do(t, op, http.MethodGet, "/api/v1/alerts?owner=42", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res []AlertResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res, 1)

	require.Equal(t, http.StatusUnprocessableEntity, do(t, op, http.MethodGet, "/api/v1/alerts", nil).Code)
	require.Equal(t, http.StatusInternalServerError, do(t, op, http.MethodGet, "/api/v1/alerts?owner=broken", nil).Code)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, listener, NewRouter(&MockOperator{}, nil, "", zerolog.Nop()), zerolog.Nop()) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + listener.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestBearerTokenGuardsOperatorEndpoints(t *testing.T) {
	op := &MockOperator{}
	op.On("Restart", mock.Anything).Return(3, nil).Once()
	router := NewRouter(op, http.NotFoundHandler(), "s3cret", zerolog.Nop())

	send := func(method, path, auth string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := send(http.MethodPost, "/api/v1/restart", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")

	require.Equal(t, http.StatusUnauthorized, send(http.MethodPost, "/api/v1/restart", "Bearer wrong").Code)
	require.Equal(t, http.StatusUnauthorized, send(http.MethodPut, "/api/v1/threshold", "s3cret").Code)
	require.Equal(t, http.StatusUnauthorized, send(http.MethodPost, "/api/v1/restart", "Basic s3cret").Code)

	require.Equal(t, http.StatusOK, send(http.MethodPost, "/api/v1/restart", "Bearer s3cret").Code)
	require.Equal(t, http.StatusOK, send(http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusNotFound, send(http.MethodGet, "/metrics", "").Code)
	op.AssertExpectations(t)
}
