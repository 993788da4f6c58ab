package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fundingwatch/internal/domain"
	"fundingwatch/internal/monitor"
	"fundingwatch/internal/service"
)

// Operator is the service surface exposed over HTTP.
type Operator interface {
	Status(ctx context.Context) service.Status
	SetThreshold(value decimal.Decimal) error
	CheckNow(ctx context.Context) ([]monitor.ChangeEvent, error)
	Restart(ctx context.Context) (int, error)
	CreateAlert(ctx context.Context, ownerID, symbol string, target decimal.Decimal, direction domain.Direction) (domain.Alert, error)
	ListAlerts(ctx context.Context, ownerID string) ([]domain.Alert, error)
}

// NewRouter wires the operator endpoints. metricsHandler may be nil. When
// token is set every /api/v1 request must present it as a bearer token;
// /healthz and /metrics stay open.
func NewRouter(op Operator, metricsHandler http.Handler, token string, logger zerolog.Logger) *chi.Mux {
	h := &Handler{op: op, logger: logger.With().Str("component", "http").Logger()}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Heartbeat("/healthz"))

	if metricsHandler != nil {
		router.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(requireToken(token))
		r.Get("/status", h.Status)
		r.Put("/threshold", h.SetThreshold)
		r.Post("/check", h.Check)
		r.Post("/restart", h.Restart)
		r.Post("/alerts", h.CreateAlert)
		r.Get("/alerts", h.ListAlerts)
	})
	return router
}
