package payments

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/wolfman30/vetcare-platform/internal/bookings"
	"github.com/wolfman30/vetcare-platform/internal/observability/metrics"
	"github.com/wolfman30/vetcare-platform/pkg/logging"
)

const (
	maxWebhookBody  = 1 << 20
	followUpTimeout = 30 * time.Second
)

type paymentLedger interface {
	TransactionExists(ctx context.Context, paymentID string) (bool, error)
	ApplyPaymentConfirmation(ctx context.Context, c bookings.PaymentConfirmation) (*bookings.Booking, bookings.ApplyOutcome, error)
}

type followUpRunner interface {
	Run(ctx context.Context, bookingID string) error
}

type throttleResetter interface {
	Reset(ctx context.Context, ownerID string) error
}

type webhookRecorder interface {
	Record(ctx context.Context, rec WebhookRecord) error
}

// WebhookHandler receives payment gateway webhooks, verifies them and
// confirms bookings exactly once per payment id.
type WebhookHandler struct {
	secret    string
	ledger    paymentLedger
	followUps followUpRunner
	events    webhookRecorder
	throttle  throttleResetter
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
	now       func() time.Time
}

// NewWebhookHandler creates a webhook handler. followUps may be nil, in
// which case post-confirmation work is left to the sweeper.
func NewWebhookHandler(secret string, ledger paymentLedger, followUps followUpRunner, logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		secret:    secret,
		ledger:    ledger,
		followUps: followUps,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithEventLog records every delivery's outcome.
func (h *WebhookHandler) WithEventLog(rec webhookRecorder) *WebhookHandler {
	h.events = rec
	return h
}

// WithThrottleReset clears the owner's checkout counter once a payment is
// applied.
func (h *WebhookHandler) WithThrottleReset(r throttleResetter) *WebhookHandler {
	h.throttle = r
	return h
}

// WithMetrics records webhook counters and latency.
func (h *WebhookHandler) WithMetrics(m *metrics.BookingMetrics) *WebhookHandler {
	h.metrics = m
	return h
}

// Handle processes POST /webhooks/payments.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	rec := WebhookRecord{BodySHA256: bodyDigest(body), ReceivedAt: h.now()}

	if err := VerifySignature(h.secret, body, r.Header.Get(SignatureHeader)); err != nil {
		h.logger.Warn("payment webhook signature rejected", "remote_addr", r.RemoteAddr, "body_sha256", rec.BodySHA256)
		rec.Outcome = OutcomeRejectedSignature
		h.finish(r.Context(), rec, started)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	evt, err := ParseEvent(body)
	if err != nil {
		h.logger.Warn("payment webhook malformed", "error", err, "body_sha256", rec.BodySHA256)
		rec.Outcome = OutcomeMalformed
		rec.Detail = err.Error()
		h.finish(r.Context(), rec, started)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	rec.Event = evt.EventName()

	payment, ok := evt.(PaymentEvent)
	if !ok {
		rec.Outcome = OutcomeIgnored
		h.finish(r.Context(), rec, started)
		w.WriteHeader(http.StatusOK)
		return
	}

	status := h.handlePayment(r.Context(), payment, &rec)
	h.finish(r.Context(), rec, started)
	if status != http.StatusOK {
		http.Error(w, "server error", status)
		return
	}
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	if rec.Outcome == OutcomeApplied {
		h.resetThrottle(r.Context(), payment.UserID)
		h.runFollowUps(r.Context(), payment.BookingID)
	}
}

func (h *WebhookHandler) handlePayment(ctx context.Context, evt PaymentEvent, rec *WebhookRecord) int {
	rec.PaymentID = evt.PaymentID
	rec.BookingID = evt.BookingID

	if err := evt.Validate(); err != nil {
		// Acknowledge so the gateway stops retrying; the log row is the
		// reconciliation trail.
		h.logger.Warn("payment webhook missing required metadata",
			"event", evt.Name, "payment_id", evt.PaymentID, "order_id", evt.OrderID, "error", err)
		rec.Outcome = OutcomeUnreconciled
		rec.Detail = err.Error()
		return http.StatusOK
	}

	exists, err := h.ledger.TransactionExists(ctx, evt.PaymentID)
	if err != nil {
		h.logger.Error("transaction lookup failed", "payment_id", evt.PaymentID, "error", err)
		rec.Outcome = OutcomeError
		rec.Detail = err.Error()
		return http.StatusInternalServerError
	}
	if exists {
		rec.Outcome = OutcomeDuplicate
		return http.StatusOK
	}

	_, outcome, err := h.ledger.ApplyPaymentConfirmation(ctx, evt.Confirmation())
	switch {
	case err == nil && outcome == bookings.OutcomeAlreadyApplied:
		rec.Outcome = OutcomeDuplicate
		return http.StatusOK
	case err == nil:
		h.logger.Info("booking payment confirmed",
			"booking_id", evt.BookingID, "payment_id", evt.PaymentID, "amount_minor", evt.AmountMinor, "method", evt.Method)
		rec.Outcome = OutcomeApplied
		return http.StatusOK
	case errors.Is(err, bookings.ErrNotFound),
		errors.Is(err, bookings.ErrInvalidState),
		errors.Is(err, bookings.ErrAmountMismatch),
		errors.Is(err, bookings.ErrOrderMismatch):
		h.logger.Warn("payment could not be applied to booking",
			"booking_id", evt.BookingID, "payment_id", evt.PaymentID, "order_id", evt.OrderID, "error", err)
		rec.Outcome = OutcomeUnreconciled
		rec.Detail = err.Error()
		return http.StatusOK
	default:
		h.logger.Error("payment confirmation failed", "booking_id", evt.BookingID, "payment_id", evt.PaymentID, "error", err)
		rec.Outcome = OutcomeError
		rec.Detail = err.Error()
		return http.StatusInternalServerError
	}
}

func (h *WebhookHandler) resetThrottle(ctx context.Context, ownerID string) {
	if h.throttle == nil {
		return
	}
	if err := h.throttle.Reset(context.WithoutCancel(ctx), ownerID); err != nil {
		h.logger.Warn("checkout throttle reset failed", "owner_id", ownerID, "error", err)
	}
}

// runFollowUps never affects the already-committed confirmation.
func (h *WebhookHandler) runFollowUps(ctx context.Context, bookingID string) {
	if h.followUps == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), followUpTimeout)
	defer cancel()
	if err := h.followUps.Run(ctx, bookingID); err != nil {
		h.logger.Warn("post-confirmation follow-ups incomplete; sweeper will retry", "booking_id", bookingID, "error", err)
	}
}

func (h *WebhookHandler) finish(ctx context.Context, rec WebhookRecord, started time.Time) {
	event := rec.Event
	if event == "" {
		event = "unknown"
	}
	h.metrics.ObserveWebhook(event, rec.Outcome)
	h.metrics.ObserveWebhookLatency(event, time.Since(started).Seconds())
	if h.events == nil {
		return
	}
	if err := h.events.Record(ctx, rec); err != nil {
		h.logger.Warn("failed to record webhook delivery", "outcome", rec.Outcome, "error", err)
	}
}
