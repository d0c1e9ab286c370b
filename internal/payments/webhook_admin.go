package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/wolfman30/vetcare-platform/pkg/logging"
)

type webhookLister interface {
	ListByOutcome(ctx context.Context, outcome string, limit int) ([]WebhookRecord, error)
}

// WebhookEventsHandler lets operators review deliveries that were
// acknowledged but not applied.
type WebhookEventsHandler struct {
	log    webhookLister
	logger *logging.Logger
}

func NewWebhookEventsHandler(log webhookLister, logger *logging.Logger) *WebhookEventsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookEventsHandler{log: log, logger: logger}
}

// List handles GET /admin/webhook-events?outcome=unreconciled&limit=50.
func (h *WebhookEventsHandler) List(w http.ResponseWriter, r *http.Request) {
	outcome := r.URL.Query().Get("outcome")
	if outcome == "" {
		outcome = OutcomeUnreconciled
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := h.log.ListByOutcome(r.Context(), outcome, limit)
	if err != nil {
		h.logger.Error("list webhook events failed", "outcome", outcome, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []WebhookRecord{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"events": records})
}
