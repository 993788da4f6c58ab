package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fundingwatch/internal/domain"
	"fundingwatch/internal/monitor"
)

// Handler serves the operator endpoints.
type Handler struct {
	op     Operator
	logger zerolog.Logger
}

type StatusResponse struct {
	Tracked         int             `json:"tracked"`
	Threshold       decimal.Decimal `json:"threshold"`
	NextFundingTime *time.Time      `json:"next_funding_time,omitempty"`
	Remaining       string          `json:"remaining,omitempty"`
	ConnectionOK    bool            `json:"connection_ok"`
	ConnectionError string          `json:"connection_error,omitempty"`
	CheckedAt       time.Time       `json:"checked_at"`
}

type ThresholdRequest struct {
	Threshold decimal.Decimal `json:"threshold"`
}

type ChangeEventResponse struct {
	Symbol    string          `json:"symbol"`
	Previous  decimal.Decimal `json:"previous"`
	Current   decimal.Decimal `json:"current"`
	Delta     decimal.Decimal `json:"delta"`
	Direction string          `json:"direction"`
	Remaining string          `json:"remaining"`
	Dispatch  bool            `json:"dispatch"`
}

type CheckResponse struct {
	Events     []ChangeEventResponse `json:"events"`
	Dispatched int                   `json:"dispatched"`
}

type RestartResponse struct {
	Tracked int `json:"tracked"`
}

type CreateAlertRequest struct {
	OwnerID     string          `json:"owner_id"`
	Symbol      string          `json:"symbol"`
	TargetPrice decimal.Decimal `json:"target_price"`
	Direction   string          `json:"direction"`
}

type AlertResponse struct {
	ID          int64            `json:"id"`
	OwnerID     string           `json:"owner_id"`
	Symbol      string           `json:"symbol"`
	TargetPrice decimal.Decimal  `json:"target_price"`
	Direction   string           `json:"direction"`
	CreatedAt   time.Time        `json:"created_at"`
	Fired       bool             `json:"fired"`
	FiredAt     *time.Time       `json:"fired_at,omitempty"`
	FiredPrice  *decimal.Decimal `json:"fired_price,omitempty"`
}

type errorJSON struct {
	Error string `json:"error"`
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st := h.op.Status(r.Context())
	res := StatusResponse{
		Tracked:      st.Tracked,
		Threshold:    st.Threshold,
		ConnectionOK: st.ConnectionOK,
		CheckedAt:    st.CheckedAt,
	}
	if st.HasNextEvent {
		next := st.NextEvent
		res.NextFundingTime = &next
		res.Remaining = monitor.FormatRemaining(st.Remaining)
	}
	if st.Err != nil {
		res.ConnectionError = st.Err.Error()
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) SetThreshold(w http.ResponseWriter, r *http.Request) {
	var req ThresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.op.SetThreshold(req.Threshold); err != nil {
		h.fail(w, r, "SetThreshold", err)
		return
	}
	writeJSON(w, http.StatusOK, ThresholdRequest{Threshold: req.Threshold})
}

func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	events, err := h.op.CheckNow(r.Context())
	if err != nil {
		h.fail(w, r, "Check", err)
		return
	}
	res := CheckResponse{Events: make([]ChangeEventResponse, 0, len(events))}
	for _, ev := range events {
		if ev.Dispatch {
			res.Dispatched++
		}
		res.Events = append(res.Events, ChangeEventResponse{
			Symbol:    ev.Symbol,
			Previous:  ev.Previous,
			Current:   ev.Current,
			Delta:     ev.Delta,
			Direction: string(ev.Direction),
			Remaining: monitor.FormatRemaining(ev.Remaining),
			Dispatch:  ev.Dispatch,
		})
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) Restart(w http.ResponseWriter, r *http.Request) {
	tracked, err := h.op.Restart(r.Context())
	if err != nil {
		h.fail(w, r, "Restart", err)
		return
	}
	writeJSON(w, http.StatusOK, RestartResponse{Tracked: tracked})
}

func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	var req CreateAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	direction, err := domain.ParseDirection(req.Direction)
	if err != nil {
		h.fail(w, r, "CreateAlert", err)
		return
	}
	alert, err := h.op.CreateAlert(r.Context(), req.OwnerID, req.Symbol, req.TargetPrice, direction)
	if err != nil {
		h.fail(w, r, "CreateAlert", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAlertResponse(alert))
}

func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.op.ListAlerts(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		h.fail(w, r, "ListAlerts", err)
		return
	}
	res := make([]AlertResponse, 0, len(alerts))
	for _, a := range alerts {
		res = append(res, toAlertResponse(a))
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, handler string, err error) {
	if errors.Is(err, domain.ErrInvalidInput) {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.logger.Error().Err(err).
		Str("handler", handler).
		Str("request_id", middleware.GetReqID(r.Context())).
		Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func toAlertResponse(a domain.Alert) AlertResponse {
	res := AlertResponse{
		ID:          a.ID,
		OwnerID:     a.OwnerID,
		Symbol:      a.Symbol,
		TargetPrice: a.TargetPrice,
		Direction:   string(a.Direction),
		CreatedAt:   a.CreatedAt,
		Fired:       a.Fired,
		FiredAt:     a.FiredAt,
	}
	if a.Fired {
		price := a.FiredPrice
		res.FiredPrice = &price
	}
	return res
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorJSON{Error: msg})
}
