package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hohichh/marketplace-orders/internal/platform/httpx"
)

const maxPaymentEventBodySize = 16 * 1024

// PaymentEventSink consumes raw payment event payloads. Delivery is at least
// once; the sink tolerates replays and malformed input.
type PaymentEventSink interface {
	Process(ctx context.Context, payload []byte)
}

// InternalHandlers exposes machine-to-machine endpoints mounted under the
// internal route group. Callers are authenticated by the group middleware.
type InternalHandlers struct {
	sink PaymentEventSink
}

func NewInternalHandlers(sink PaymentEventSink) *InternalHandlers {
	return &InternalHandlers{sink: sink}
}

// Routes registers internal endpoints on the provided router.
func (h *InternalHandlers) Routes(r chi.Router) {
	r.Post("/payment-events", h.ingestPaymentEvent)
}

func (h *InternalHandlers) ingestPaymentEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sink == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_events_unavailable", "payment event ingestion is not configured", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxPaymentEventBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if len(body) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		return
	}

	h.sink.Process(ctx, body)
	w.WriteHeader(http.StatusAccepted)
}
