package payments

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wolfman30/vetcare-platform/internal/bookings"
	"github.com/wolfman30/vetcare-platform/internal/identity"
	"github.com/wolfman30/vetcare-platform/pkg/logging"
)

// CheckoutHandler exposes POST /checkout/sessions.
type CheckoutHandler struct {
	service *CheckoutService
	logger  *logging.Logger
}

// NewCheckoutHandler creates a checkout handler.
func NewCheckoutHandler(service *CheckoutService, logger *logging.Logger) *CheckoutHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &CheckoutHandler{service: service, logger: logger}
}

// CreateSession handles POST /checkout/sessions.
func (h *CheckoutHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "missing actor", http.StatusUnauthorized)
		return
	}
	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	session, err := h.service.Start(r.Context(), actor, req)
	if err != nil {
		status := checkoutStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("checkout failed", "error", err, "booking_id", req.BookingID)
			http.Error(w, http.StatusText(status), status)
			return
		}
		h.logger.Warn("checkout rejected", "error", err, "booking_id", req.BookingID)
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(session)
}

func checkoutStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidCheckout):
		return http.StatusBadRequest
	case errors.Is(err, ErrCheckoutThrottled):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrGateway):
		return http.StatusBadGateway
	default:
		return bookings.StatusCode(err)
	}
}
