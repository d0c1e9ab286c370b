package bookings

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/vetcare-platform/internal/identity"
	"github.com/wolfman30/vetcare-platform/internal/policy"
	"github.com/wolfman30/vetcare-platform/pkg/logging"
)

func newTestRouter(svc *Service, actor *identity.Actor) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if actor != nil {
				req = req.WithContext(identity.WithActor(req.Context(), *actor))
			}
			next.ServeHTTP(w, req)
		})
	})
	NewHandler(svc, logging.Discard()).Routes(r)
	return r
}

func TestHandlerCreateDraftUsesActorAsOwner(t *testing.T) {
	svc, _, _ := newTestService(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	router := newTestRouter(svc, &owner)

	body, _ := json.Marshal(map[string]any{
		"petOwnerId":       "someone-else",
		"vetId":            "vet-1",
		"petId":            "pet-1",
		"consultationType": "video_call",
		"schedule":         map[string]string{"bookingDate": "2026-03-10", "startTime": "10:00", "endTime": "10:30"},
	})
	req := httptest.NewRequest(http.MethodPost, "/bookings", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var b Booking
	if err := json.NewDecoder(rec.Body).Decode(&b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.PetOwnerID != owner.ID {
		t.Fatalf("expected owner from actor, got %s", b.PetOwnerID)
	}
	if b.Status != StatusPending {
		t.Fatalf("expected pending, got %s", b.Status)
	}
}

func TestHandlerRequiresActor(t *testing.T) {
	svc, _, _ := newTestService(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	router := newTestRouter(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/bookings/abc", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandlerRescheduleDeniedIsConflict(t *testing.T) {
	svc, store, _ := newTestService(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	b := confirmedBooking(t, store)
	router := newTestRouter(svc, &owner)

	body := []byte(`{"bookingDate":"2026-03-10","startTime":"14:00","endTime":"14:30"}`)
	req := httptest.NewRequest(http.MethodPost, "/bookings/"+b.ID+"/reschedule", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandlerJoin(t *testing.T) {
	svc, store, _ := newTestService(t, time.Date(2026, 3, 10, 9, 50, 0, 0, time.UTC))
	b := confirmedBooking(t, store)
	if _, err := store.SetMeeting(context.Background(), b.ID, Meeting{ID: "room", ParticipantURL: "https://v/p", HostURL: "https://v/h"}); err != nil {
		t.Fatalf("set meeting: %v", err)
	}
	router := newTestRouter(svc, &owner)

	req := httptest.NewRequest(http.MethodGet, "/bookings/"+b.ID+"/join", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var info JoinInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.State != policy.JoinOpen || info.MeetingURL != "https://v/p" {
		t.Fatalf("unexpected join info %+v", info)
	}
}

func TestHandlerNotFound(t *testing.T) {
	svc, _, _ := newTestService(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	router := newTestRouter(svc, &operator)

	req := httptest.NewRequest(http.MethodPost, "/bookings/missing/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
