package payments

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventCaptured(t *testing.T) {
	body := []byte(`{
		"event": "payment.captured",
		"payload": {"payment": {"entity": {
			"id": " pay_1 ", "order_id": "order_1", "amount": 52500, "currency": "inr",
			"method": "upi", "status": "captured",
			"notes": {"booking_id": "b-1", "user_id": "owner-1", "meeting_details": "{\"meetingId\":\"m-1\",\"participantMeetingUrl\":\"https://v/p\"}"}
		}}}
	}`)

	evt, err := ParseEvent(body)
	require.NoError(t, err)
	pe, ok := evt.(PaymentEvent)
	require.True(t, ok)
	assert.Equal(t, "pay_1", pe.PaymentID)
	assert.Equal(t, "b-1", pe.BookingID)
	assert.Equal(t, "owner-1", pe.UserID)
	require.NotNil(t, pe.Meeting)
	assert.Equal(t, "m-1", pe.Meeting.ID)
	require.NoError(t, pe.Validate())

	c := pe.Confirmation()
	assert.Equal(t, "INR", c.Currency)
	assert.Equal(t, int64(52500), c.AmountMinor)
}

func TestParseEventIgnoresOtherKinds(t *testing.T) {
	evt, err := ParseEvent([]byte(`{"event":"refund.created","payload":{}}`))
	require.NoError(t, err)
	assert.Equal(t, IgnoredEvent{Name: "refund.created"}, evt)
}

func TestParseEventMalformed(t *testing.T) {
	for name, body := range map[string]string{
		"not json":      `{"event":`,
		"missing event": `{"payload":{}}`,
		"bad notes":     `{"event":"payment.captured","payload":{"payment":{"entity":{"notes":{"booking_id":}}}}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseEvent([]byte(body))
			assert.True(t, errors.Is(err, ErrMalformedEvent), "got %v", err)
		})
	}
}

func TestParseEventEmptyNotesArrayMissesMetadata(t *testing.T) {
	evt, err := ParseEvent([]byte(`{"event":"payment.authorized","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_1","amount":100,"notes":[]}}}}`))
	require.NoError(t, err)

	err = evt.(PaymentEvent).Validate()
	assert.True(t, errors.Is(err, ErrMissingMetadata))
	assert.Contains(t, err.Error(), NoteBookingID)
}

func TestMeetingHintRoundTripSkipsEmpty(t *testing.T) {
	assert.Empty(t, encodeMeetingHint(nil))
	assert.Nil(t, decodeMeetingHint(""))
	assert.Nil(t, decodeMeetingHint("not-json"))
	assert.Nil(t, decodeMeetingHint(`{}`))
}
