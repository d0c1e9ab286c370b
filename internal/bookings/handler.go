package bookings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/vetcare-platform/internal/identity"
	"github.com/wolfman30/vetcare-platform/pkg/logging"
)

// Handler exposes booking operations over HTTP.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

// NewHandler creates a bookings handler.
func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Routes mounts the booking endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/bookings", h.CreateDraft)
	r.Get("/bookings/{bookingID}", h.Get)
	r.Post("/bookings/{bookingID}/reschedule", h.Reschedule)
	r.Post("/bookings/{bookingID}/cancel", h.Cancel)
	r.Post("/bookings/{bookingID}/complete", h.Complete)
	r.Get("/bookings/{bookingID}/join", h.Join)
}

// CreateDraft handles POST /bookings.
func (h *Handler) CreateDraft(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "missing actor", http.StatusUnauthorized)
		return
	}
	var draft Draft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	draft.ID = ""
	if !actor.Role.Elevated() {
		draft.PetOwnerID = actor.ID
	}
	b, err := h.service.CreateDraft(r.Context(), draft)
	if err != nil {
		h.writeError(w, err, "create draft", "")
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// Get handles GET /bookings/{bookingID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "missing actor", http.StatusUnauthorized)
		return
	}
	id := chi.URLParam(r, "bookingID")
	b, err := h.service.Get(r.Context(), id, actor)
	if err != nil {
		h.writeError(w, err, "get", id)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// Reschedule handles POST /bookings/{bookingID}/reschedule.
func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "missing actor", http.StatusUnauthorized)
		return
	}
	var sched Schedule
	if err := json.NewDecoder(r.Body).Decode(&sched); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "bookingID")
	b, err := h.service.Reschedule(r.Context(), id, sched, actor)
	if err != nil {
		h.writeError(w, err, "reschedule", id)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// Cancel handles POST /bookings/{bookingID}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "cancel", h.service.Cancel)
}

// Complete handles POST /bookings/{bookingID}/complete.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "complete", h.service.Complete)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, id string, actor identity.Actor) (*Booking, error)) {
	actor, ok := identity.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "missing actor", http.StatusUnauthorized)
		return
	}
	id := chi.URLParam(r, "bookingID")
	b, err := fn(r.Context(), id, actor)
	if err != nil {
		h.writeError(w, err, op, id)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// Join handles GET /bookings/{bookingID}/join.
func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "missing actor", http.StatusUnauthorized)
		return
	}
	id := chi.URLParam(r, "bookingID")
	info, err := h.service.JoinInfo(r.Context(), id, actor)
	if err != nil {
		h.writeError(w, err, "join", id)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) writeError(w http.ResponseWriter, err error, op, id string) {
	status := StatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("booking request failed", "op", op, "booking_id", id, "error", err)
		http.Error(w, "internal error", status)
		return
	}
	h.logger.Warn("booking request rejected", "op", op, "booking_id", id, "error", err)
	http.Error(w, err.Error(), status)
}

// StatusCode maps booking errors onto HTTP statuses.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidDraft), errors.Is(err, ErrInvalidSchedule):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrInvalidState), errors.Is(err, ErrRescheduleDenied):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
