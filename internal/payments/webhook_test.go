package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/vetcare-platform/internal/bookings"
	"github.com/wolfman30/vetcare-platform/pkg/logging"
)

const testWebhookSecret = "whsec_test"

type recordingFollowUps struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordingFollowUps) Run(ctx context.Context, bookingID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, bookingID)
	return r.err
}

type memoryWebhookLog struct {
	mu      sync.Mutex
	records []WebhookRecord
}

func (m *memoryWebhookLog) Record(ctx context.Context, rec WebhookRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryWebhookLog) outcomes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, r := range m.records {
		out = append(out, r.Outcome)
	}
	return out
}

func paymentPayload(event, paymentID, orderID string, amount int64, notes any) []byte {
	body := map[string]any{
		"event": event,
		"payload": map[string]any{
			"payment": map[string]any{
				"entity": map[string]any{
					"id":       paymentID,
					"order_id": orderID,
					"amount":   amount,
					"currency": "INR",
					"method":   "upi",
					"status":   "captured",
					"notes":    notes,
				},
			},
		},
	}
	raw, _ := json.Marshal(body)
	return raw
}

func bookingNotes(bookingID string) map[string]string {
	return map[string]string{NoteBookingID: bookingID, NoteUserID: "owner-1"}
}

func deliver(h *WebhookHandler, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, signature)
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

type webhookFixture struct {
	store     *bookings.MemoryStore
	followUps *recordingFollowUps
	log       *memoryWebhookLog
	handler   *WebhookHandler
	booking   *bookings.Booking
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	store := bookings.NewMemoryStore()
	b, err := store.CreateDraft(context.Background(), bookings.Draft{
		PetOwnerID:       "owner-1",
		VetID:            "vet-1",
		PetID:            "pet-1",
		Schedule:         bookings.Schedule{Date: "2026-03-10", StartTime: "10:00", EndTime: "10:30"},
		ConsultationType: bookings.ConsultationVideo,
		GatewayOrderID:   "order_1",
		AmountMinor:      52500,
		Currency:         "INR",
	})
	require.NoError(t, err)

	followUps := &recordingFollowUps{}
	log := &memoryWebhookLog{}
	handler := NewWebhookHandler(testWebhookSecret, store, followUps, logging.Discard()).WithEventLog(log)
	return &webhookFixture{store: store, followUps: followUps, log: log, handler: handler, booking: b}
}

func TestWebhookHappyPath(t *testing.T) {
	f := newWebhookFixture(t)
	body := paymentPayload(EventPaymentCaptured, "pay_1", "order_1", 52500, bookingNotes(f.booking.ID))

	rec := deliver(f.handler, body, Sign(testWebhookSecret, body))
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := f.store.Get(context.Background(), f.booking.ID)
	require.NoError(t, err)
	assert.Equal(t, bookings.StatusConfirmed, got.Status)
	assert.Equal(t, bookings.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, "pay_1", got.GatewayPaymentID)

	txs, err := f.store.ListTransactions(context.Background(), f.booking.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "pay_1", txs[0].GatewayPaymentID)
	assert.Equal(t, int64(52500), txs[0].AmountMinor)

	assert.Equal(t, []string{f.booking.ID}, f.followUps.calls)
	assert.Equal(t, []string{OutcomeApplied}, f.log.outcomes())
}

func TestWebhookDuplicateDeliveryIsNoop(t *testing.T) {
	f := newWebhookFixture(t)
	body := paymentPayload(EventPaymentCaptured, "pay_1", "order_1", 52500, bookingNotes(f.booking.ID))
	sig := Sign(testWebhookSecret, body)

	require.Equal(t, http.StatusOK, deliver(f.handler, body, sig).Code)
	first, err := f.store.Get(context.Background(), f.booking.ID)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, deliver(f.handler, body, sig).Code)
	second, err := f.store.Get(context.Background(), f.booking.ID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	txs, err := f.store.ListTransactions(context.Background(), f.booking.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
	assert.Len(t, f.followUps.calls, 1)
	assert.Equal(t, []string{OutcomeApplied, OutcomeDuplicate}, f.log.outcomes())
}

func TestWebhookAuthorizedThenCapturedAppliesOnce(t *testing.T) {
	f := newWebhookFixture(t)
	authorized := paymentPayload(EventPaymentAuthorized, "pay_1", "order_1", 52500, bookingNotes(f.booking.ID))
	captured := paymentPayload(EventPaymentCaptured, "pay_1", "order_1", 52500, bookingNotes(f.booking.ID))

	require.Equal(t, http.StatusOK, deliver(f.handler, captured, Sign(testWebhookSecret, captured)).Code)
	require.Equal(t, http.StatusOK, deliver(f.handler, authorized, Sign(testWebhookSecret, authorized)).Code)

	txs, err := f.store.ListTransactions(context.Background(), f.booking.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestWebhookConcurrentDeliveries(t *testing.T) {
	f := newWebhookFixture(t)
	body := paymentPayload(EventPaymentCaptured, "pay_1", "order_1", 52500, bookingNotes(f.booking.ID))
	sig := Sign(testWebhookSecret, body)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if code := deliver(f.handler, body, sig).Code; code != http.StatusOK {
				t.Errorf("expected 200, got %d", code)
			}
		}()
	}
	wg.Wait()

	txs, err := f.store.ListTransactions(context.Background(), f.booking.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
	assert.Len(t, f.followUps.calls, 1)
}

func TestWebhookFlippedByteRejected(t *testing.T) {
	f := newWebhookFixture(t)
	body := paymentPayload(EventPaymentCaptured, "pay_1", "order_1", 52500, bookingNotes(f.booking.ID))
	sig := Sign(testWebhookSecret, body)
	tampered := append([]byte(nil), body...)
	tampered[len(tampered)/2] ^= 0x01

	rec := deliver(f.handler, tampered, sig)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	got, err := f.store.Get(context.Background(), f.booking.ID)
	require.NoError(t, err)
	assert.Equal(t, bookings.StatusPending, got.Status)
	assert.Empty(t, f.followUps.calls)
	assert.Equal(t, []string{OutcomeRejectedSignature}, f.log.outcomes())
}

func TestWebhookMalformedJSON(t *testing.T) {
	f := newWebhookFixture(t)
	body := []byte(`{"event":`)
	rec := deliver(f.handler, body, Sign(testWebhookSecret, body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{OutcomeMalformed}, f.log.outcomes())
}

func TestWebhookIgnoredEvent(t *testing.T) {
	f := newWebhookFixture(t)
	body := []byte(`{"event":"refund.processed","payload":{}}`)
	rec := deliver(f.handler, body, Sign(testWebhookSecret, body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{OutcomeIgnored}, f.log.outcomes())
}

func TestWebhookMissingMetadataAcknowledged(t *testing.T) {
	f := newWebhookFixture(t)
	body := paymentPayload(EventPaymentCaptured, "pay_1", "order_1", 52500, []string{})
	rec := deliver(f.handler, body, Sign(testWebhookSecret, body))
	assert.Equal(t, http.StatusOK, rec.Code)

	got, err := f.store.Get(context.Background(), f.booking.ID)
	require.NoError(t, err)
	assert.Equal(t, bookings.StatusPending, got.Status)
	assert.Equal(t, []string{OutcomeUnreconciled}, f.log.outcomes())
}

func TestWebhookAmountMismatchUnreconciled(t *testing.T) {
	f := newWebhookFixture(t)
	body := paymentPayload(EventPaymentCaptured, "pay_1", "order_1", 100, bookingNotes(f.booking.ID))
	rec := deliver(f.handler, body, Sign(testWebhookSecret, body))
	assert.Equal(t, http.StatusOK, rec.Code)

	got, err := f.store.Get(context.Background(), f.booking.ID)
	require.NoError(t, err)
	assert.Equal(t, bookings.PaymentUnpaid, got.PaymentStatus)
	exists, err := f.store.TransactionExists(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, []string{OutcomeUnreconciled}, f.log.outcomes())
}

func TestWebhookFollowUpFailureKeepsPayment(t *testing.T) {
	f := newWebhookFixture(t)
	f.followUps.err = errors.New("video provider down")
	body := paymentPayload(EventPaymentCaptured, "pay_1", "order_1", 52500, bookingNotes(f.booking.ID))

	rec := deliver(f.handler, body, Sign(testWebhookSecret, body))
	assert.Equal(t, http.StatusOK, rec.Code)

	got, err := f.store.Get(context.Background(), f.booking.ID)
	require.NoError(t, err)
	assert.True(t, got.IsConfirmedPaid())
}

type failingLedger struct{}

func (failingLedger) TransactionExists(ctx context.Context, paymentID string) (bool, error) {
	return false, nil
}

func (failingLedger) ApplyPaymentConfirmation(ctx context.Context, c bookings.PaymentConfirmation) (*bookings.Booking, bookings.ApplyOutcome, error) {
	return nil, 0, errors.New("connection reset")
}

func TestWebhookStorageErrorAsksForRetry(t *testing.T) {
	h := NewWebhookHandler(testWebhookSecret, failingLedger{}, nil, logging.Discard())
	body := paymentPayload(EventPaymentCaptured, "pay_1", "order_1", 52500, bookingNotes("b-1"))
	rec := deliver(h, body, Sign(testWebhookSecret, body))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhookMeetingHintStoredWithConfirmation(t *testing.T) {
	f := newWebhookFixture(t)
	notes := bookingNotes(f.booking.ID)
	notes[NoteMeetingDetails] = encodeMeetingHint(&bookings.Meeting{ID: "room-9", ParticipantURL: "https://v/p", HostURL: "https://v/h"})
	body := paymentPayload(EventPaymentCaptured, "pay_1", "order_1", 52500, notes)

	require.Equal(t, http.StatusOK, deliver(f.handler, body, Sign(testWebhookSecret, body)).Code)
	got, err := f.store.Get(context.Background(), f.booking.ID)
	require.NoError(t, err)
	assert.Equal(t, "room-9", got.MeetingID)
	assert.WithinDuration(t, time.Now(), got.UpdatedAt, time.Minute)
}

type recordingThrottle struct {
	mu     sync.Mutex
	owners []string
}

func (r *recordingThrottle) Reset(ctx context.Context, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners = append(r.owners, ownerID)
	return nil
}

func TestWebhookAppliedPaymentClearsCheckoutThrottle(t *testing.T) {
	f := newWebhookFixture(t)
	throttle := &recordingThrottle{}
	f.handler.WithThrottleReset(throttle)
	body := paymentPayload(EventPaymentCaptured, "pay_1", "order_1", 52500, bookingNotes(f.booking.ID))

	require.Equal(t, http.StatusOK, deliver(f.handler, body, Sign(testWebhookSecret, body)).Code)
	require.Equal(t, http.StatusOK, deliver(f.handler, body, Sign(testWebhookSecret, body)).Code)

	assert.Equal(t, []string{"owner-1"}, throttle.owners, "only the applying delivery resets")
}
