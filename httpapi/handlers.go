package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goliatone/go-webhook-gateway/core"
	"github.com/goliatone/go-webhook-gateway/webhooks"
)

const maxListLimit = 200

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message  string         `json:"message"`
	TextCode string         `json:"text_code,omitempty"`
	Category string         `json:"category,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (a *App) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": a.now().UTC().Format(time.RFC3339Nano),
	})
}

func (a *App) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.observer.Warn(r.Context(), "webhook body exceeds limit", map[string]any{"limit": a.maxBodyBytes})
			writeJSON(w, http.StatusRequestEntityTooLarge, core.Acknowledgment{Status: webhooks.AckStatusRejected})
			return
		}
		writeJSON(w, http.StatusBadRequest, core.Acknowledgment{Status: webhooks.AckStatusRejected})
		return
	}

	ack, err := a.processor.Process(r.Context(), core.InboundRequest{
		Headers:    flattenHeaders(r.Header),
		Body:       body,
		ReceivedAt: a.now().UTC(),
		Metadata: map[string]any{
			"request_id":  RequestIDFrom(r.Context()),
			"remote_addr": r.RemoteAddr,
		},
	})
	if err != nil && ack.StatusCode >= http.StatusInternalServerError {
		a.observer.Error(r.Context(), "webhook processing failed", map[string]any{
			"delivery_id": ack.DeliveryID,
			"status":      ack.Status,
			"error":       err.Error(),
		})
	}
	code := ack.StatusCode
	if code == 0 {
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, ack)
}

func (a *App) getDelivery(w http.ResponseWriter, r *http.Request) {
	deliveryID := strings.TrimSpace(chi.URLParam(r, "deliveryID"))
	record, err := a.ledger.Get(r.Context(), deliveryID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (a *App) listDeliveries(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, core.BadInput("httpapi: limit must be a positive integer", map[string]any{"limit": raw}))
			return
		}
		limit = min(parsed, maxListLimit)
	}
	status := core.ProcessingStatus(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))))
	switch status {
	case "", core.ProcessingStatusPending, core.ProcessingStatusSucceeded, core.ProcessingStatusFailed:
	default:
		writeError(w, core.BadInput("httpapi: unknown status filter", map[string]any{"status": string(status)}))
		return
	}
	records, err := a.lister.List(r.Context(), status, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": records})
}

func (a *App) listTeamIssues(w http.ResponseWriter, r *http.Request) {
	issues, err := a.teamIssues(r.Context(), chi.URLParam(r, "teamID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": issues})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	mapped := core.MapError(err)
	writeJSON(w, mapped.Code, errorBody{Error: errorDetail{
		Message:  mapped.Message,
		TextCode: mapped.TextCode,
		Category: string(mapped.Category),
		Metadata: mapped.Metadata,
	}})
}

func flattenHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) == 0 {
			continue
		}
		out[key] = values[0]
	}
	return out
}
