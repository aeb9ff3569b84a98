package api

import (
	"context"
	"io"
	"net/http"

	"github.com/LeventeLantos/event-messaging/internal/webhook"
)

const maxBodyBytes = 1 << 20

// VerifyWebhook answers the provider's subscription handshake.
func (h *Handler) VerifyWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || h.verifyToken == "" || q.Get("hub.verify_token") != h.verifyToken {
		h.log.Warn("webhook verification rejected", "mode", q.Get("hub.mode"))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

// ReceiveWebhook always acknowledges with 200. The provider retries anything
// else, so failures stay in the log.
func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.log.Warn("read webhook body failed", "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"received": true})
		return
	}

	payload, err := webhook.ParsePayload(body)
	if err != nil {
		h.log.Warn("webhook payload dropped", "error", err, "size", len(body))
		writeJSON(w, http.StatusOK, map[string]any{"received": true})
		return
	}

	ctx := context.WithoutCancel(r.Context())
	for _, b := range payload.Batches() {
		h.handleBatch(ctx, b)
	}

	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}

func (h *Handler) handleBatch(ctx context.Context, b webhook.Batch) {
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error("webhook batch panic recovered", "panic", rec)
		}
	}()
	h.correlator.HandleBatch(ctx, b)
}
