package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/Proton-105/hashpay/internal/domain"
	apperrors "github.com/Proton-105/hashpay/internal/errors"
	"github.com/Proton-105/hashpay/internal/user"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodyBytes     = 16 << 10
)

type priceResponse struct {
	Currency domain.Currency `json:"currency"`
	Price    decimal.Decimal `json:"price"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *handler) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *handler) updatePayout(w http.ResponseWriter, r *http.Request) {
	var req user.UpdatePayoutRequest

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.fail(w, r, apperrors.NewValidationError(fmt.Sprintf("malformed request body: %v", err)))
		return
	}

	u, err := h.users.UpdatePayout(r.Context(), r.PathValue("id"), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *handler) listActivity(w http.ResponseWriter, r *http.Request) {
	limit, err := listLimit(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	entries, err := h.users.Activity(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []*domain.ActivityLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) listPayouts(w http.ResponseWriter, r *http.Request) {
	limit, err := listLimit(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	records, err := h.users.Payouts(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if records == nil {
		records = []*domain.PayoutRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *handler) getPrice(w http.ResponseWriter, r *http.Request) {
	currency, price, err := h.users.Price(r.Context(), r.PathValue("currency"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, priceResponse{Currency: currency, Price: decimal.NewFromFloat(price).Round(2)})
}

func (h *handler) liveness(w http.ResponseWriter, r *http.Request) {
	if err := h.probes.Liveness(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (h *handler) readiness(w http.ResponseWriter, r *http.Request) {
	if err := h.probes.Readiness(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Checks: h.probes.Results(r.Context())})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// fail logs err through the error handler and writes the JSON envelope.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	message, _ := h.errors.Handle(r.Context(), err)
	apperrors.WriteJSON(w, apperrors.HTTPStatus(err), apperrors.CodeOf(err), message)
}

func listLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, apperrors.NewValidationError("limit must be a positive integer")
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
