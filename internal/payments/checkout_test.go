package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/vetcare-platform/internal/bookings"
	"github.com/wolfman30/vetcare-platform/internal/identity"
	"github.com/wolfman30/vetcare-platform/internal/policy"
	"github.com/wolfman30/vetcare-platform/pkg/logging"
)

var checkoutNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type stubOrders struct {
	mu       sync.Mutex
	requests []OrderRequest
	err      error
}

func (s *stubOrders) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return &Order{ID: fmt.Sprintf("order_%d", len(s.requests)), AmountMinor: req.AmountMinor, Currency: req.Currency, Status: "created"}, nil
}

type countingDrafts struct {
	*bookings.Service
	created int
}

func (c *countingDrafts) CreateDraft(ctx context.Context, d bookings.Draft) (*bookings.Booking, error) {
	c.created++
	return c.Service.CreateDraft(ctx, d)
}

type stubLimiter struct{ allowed bool }

func (s stubLimiter) CheckCheckout(ctx context.Context, ownerID string) (*VelocityResult, error) {
	return &VelocityResult{Allowed: s.allowed, Message: "too many checkouts"}, nil
}

type checkoutFixture struct {
	store   *bookings.MemoryStore
	drafts  *countingDrafts
	orders  *stubOrders
	service *CheckoutService
}

func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()
	clock := func() time.Time { return checkoutNow }
	store := bookings.NewMemoryStore().WithClock(clock)
	drafts := &countingDrafts{Service: bookings.NewService(store, time.UTC, logging.Discard()).WithClock(clock)}
	orders := &stubOrders{}
	svc := NewCheckoutService(store, drafts, orders, "rzp_test_key", "inr", logging.Discard())
	return &checkoutFixture{store: store, drafts: drafts, orders: orders, service: svc}
}

var checkoutOwner = identity.Actor{ID: "owner-1", Role: policy.RoleOwner}

func newCheckoutRequest() CheckoutRequest {
	return CheckoutRequest{
		VetID:            "vet-1",
		PetID:            "pet-1",
		Schedule:         bookings.Schedule{Date: "2026-03-10", StartTime: "10:00", EndTime: "10:30"},
		ConsultationType: bookings.ConsultationVideo,
		Fee:              500,
	}
}

func TestCheckoutCreatesDraftWithOrder(t *testing.T) {
	f := newCheckoutFixture(t)

	session, err := f.service.Start(context.Background(), checkoutOwner, newCheckoutRequest())
	require.NoError(t, err)
	assert.Equal(t, int64(52500), session.Amount)
	assert.Equal(t, "INR", session.Currency)
	assert.Equal(t, "rzp_test_key", session.GatewayPublicKeyID)
	assert.Equal(t, "order_1", session.OrderID)

	b, err := f.store.Get(context.Background(), session.BookingID)
	require.NoError(t, err)
	assert.Equal(t, bookings.StatusPending, b.Status)
	assert.Equal(t, bookings.PaymentUnpaid, b.PaymentStatus)
	assert.Equal(t, "order_1", b.GatewayOrderID)
	assert.Equal(t, int64(52500), b.AmountMinor)
	assert.Equal(t, "owner-1", b.PetOwnerID)

	require.Len(t, f.orders.requests, 1)
	notes := f.orders.requests[0].Notes
	assert.Equal(t, session.BookingID, notes[NoteBookingID])
	assert.Equal(t, "owner-1", notes[NoteUserID])
	assert.Equal(t, "video_call", notes[NoteConsultationType])
	assert.Equal(t, "10:00", notes[NoteStartTime])
}

func TestCheckoutGatewayFailureLeavesNoBooking(t *testing.T) {
	f := newCheckoutFixture(t)
	f.orders.err = fmt.Errorf("%w: timeout", ErrGateway)

	_, err := f.service.Start(context.Background(), checkoutOwner, newCheckoutRequest())
	require.ErrorIs(t, err, ErrGateway)
	assert.Zero(t, f.drafts.created)
}

func TestCheckoutRejectsBadInputBeforeGateway(t *testing.T) {
	f := newCheckoutFixture(t)

	req := newCheckoutRequest()
	req.Fee = 0
	_, err := f.service.Start(context.Background(), checkoutOwner, req)
	require.ErrorIs(t, err, ErrInvalidCheckout)

	req = newCheckoutRequest()
	req.Fee = 1e15
	_, err = f.service.Start(context.Background(), checkoutOwner, req)
	require.ErrorIs(t, err, ErrInvalidCheckout)

	req = newCheckoutRequest()
	req.Schedule.Date = "2026-02-01"
	_, err = f.service.Start(context.Background(), checkoutOwner, req)
	require.ErrorIs(t, err, bookings.ErrInvalidSchedule)

	assert.Empty(t, f.orders.requests)
}

func TestCheckoutExistingDraftAttachesOrder(t *testing.T) {
	f := newCheckoutFixture(t)
	b, err := f.store.CreateDraft(context.Background(), bookings.Draft{
		PetOwnerID:       "owner-1",
		VetID:            "vet-1",
		PetID:            "pet-1",
		Schedule:         bookings.Schedule{Date: "2026-03-10", StartTime: "10:00", EndTime: "10:30"},
		ConsultationType: bookings.ConsultationInPerson,
	})
	require.NoError(t, err)

	req := newCheckoutRequest()
	req.BookingID = b.ID
	session, err := f.service.Start(context.Background(), checkoutOwner, req)
	require.NoError(t, err)
	assert.Equal(t, b.ID, session.BookingID)

	got, err := f.store.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, session.OrderID, got.GatewayOrderID)
	assert.Equal(t, int64(52500), got.AmountMinor)
	assert.Equal(t, "in_person", f.orders.requests[0].Notes[NoteConsultationType])
}

func TestCheckoutExistingDraftOwnedByOtherOwner(t *testing.T) {
	f := newCheckoutFixture(t)
	b, err := f.store.CreateDraft(context.Background(), bookings.Draft{
		PetOwnerID:       "owner-2",
		VetID:            "vet-1",
		PetID:            "pet-9",
		Schedule:         bookings.Schedule{Date: "2026-03-10", StartTime: "10:00", EndTime: "10:30"},
		ConsultationType: bookings.ConsultationVideo,
	})
	require.NoError(t, err)

	req := newCheckoutRequest()
	req.BookingID = b.ID
	_, err = f.service.Start(context.Background(), checkoutOwner, req)
	require.ErrorIs(t, err, bookings.ErrForbidden)
	assert.Empty(t, f.orders.requests)
}

func TestCheckoutThrottled(t *testing.T) {
	f := newCheckoutFixture(t)
	f.service.WithLimiter(stubLimiter{allowed: false})

	_, err := f.service.Start(context.Background(), checkoutOwner, newCheckoutRequest())
	require.ErrorIs(t, err, ErrCheckoutThrottled)
	assert.Empty(t, f.orders.requests)
}

func postCheckout(h *CheckoutHandler, actor *identity.Actor, body any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/checkout/sessions", bytes.NewReader(raw))
	if actor != nil {
		req = req.WithContext(identity.WithActor(req.Context(), *actor))
	}
	rec := httptest.NewRecorder()
	h.CreateSession(rec, req)
	return rec
}

func TestCheckoutHandlerStatuses(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		f := newCheckoutFixture(t)
		rec := postCheckout(NewCheckoutHandler(f.service, logging.Discard()), &checkoutOwner, newCheckoutRequest())
		require.Equal(t, http.StatusCreated, rec.Code)

		var session CheckoutSession
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
		assert.Equal(t, int64(52500), session.Amount)
		assert.NotEmpty(t, session.BookingID)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		f := newCheckoutFixture(t)
		rec := postCheckout(NewCheckoutHandler(f.service, logging.Discard()), nil, newCheckoutRequest())
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("gateway down", func(t *testing.T) {
		f := newCheckoutFixture(t)
		f.orders.err = fmt.Errorf("%w: status 503", ErrGateway)
		rec := postCheckout(NewCheckoutHandler(f.service, logging.Discard()), &checkoutOwner, newCheckoutRequest())
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("throttled", func(t *testing.T) {
		f := newCheckoutFixture(t)
		f.service.WithLimiter(stubLimiter{allowed: false})
		rec := postCheckout(NewCheckoutHandler(f.service, logging.Discard()), &checkoutOwner, newCheckoutRequest())
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})

	t.Run("unknown booking", func(t *testing.T) {
		f := newCheckoutFixture(t)
		req := newCheckoutRequest()
		req.BookingID = "missing"
		rec := postCheckout(NewCheckoutHandler(f.service, logging.Discard()), &checkoutOwner, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestCheckoutResultLabels(t *testing.T) {
	assert.Equal(t, "gateway_error", checkoutResult(fmt.Errorf("%w: x", ErrGateway)))
	assert.Equal(t, "throttled", checkoutResult(ErrCheckoutThrottled))
	assert.Equal(t, "rejected", checkoutResult(errors.New("other")))
}
