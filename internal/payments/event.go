package payments

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wolfman30/vetcare-platform/internal/bookings"
)

// Note keys carried on gateway orders and echoed back on payment events.
const (
	NoteBookingID        = "booking_id"
	NoteUserID           = "user_id"
	NoteVetID            = "vet_id"
	NotePetID            = "pet_id"
	NoteConsultationType = "consultation_type"
	NoteBookingDate      = "booking_date"
	NoteStartTime        = "start_time"
	NoteEndTime          = "end_time"
	NoteMeetingDetails   = "meeting_details"
)

const (
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentCaptured   = "payment.captured"
)

// Event is a parsed webhook delivery: either a PaymentEvent or an
// IgnoredEvent.
type Event interface {
	EventName() string
}

// IgnoredEvent is any event kind the receiver acknowledges without acting on.
type IgnoredEvent struct {
	Name string
}

func (e IgnoredEvent) EventName() string { return e.Name }

// PaymentEvent is an authorized or captured payment.
type PaymentEvent struct {
	Name        string
	PaymentID   string
	OrderID     string
	AmountMinor int64
	Currency    string
	Method      string
	Status      string
	BookingID   string
	UserID      string
	Meeting     *bookings.Meeting
}

func (e PaymentEvent) EventName() string { return e.Name }

// Validate checks that the event carries what is needed to apply it.
func (e PaymentEvent) Validate() error {
	var missing []string
	if e.PaymentID == "" {
		missing = append(missing, "payment id")
	}
	if e.OrderID == "" {
		missing = append(missing, "order id")
	}
	if e.AmountMinor <= 0 {
		missing = append(missing, "amount")
	}
	if e.BookingID == "" {
		missing = append(missing, NoteBookingID)
	}
	if e.UserID == "" {
		missing = append(missing, NoteUserID)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingMetadata, strings.Join(missing, ", "))
	}
	return nil
}

// Confirmation converts the event into a booking payment confirmation.
func (e PaymentEvent) Confirmation() bookings.PaymentConfirmation {
	return bookings.PaymentConfirmation{
		BookingID:   e.BookingID,
		OrderID:     e.OrderID,
		PaymentID:   e.PaymentID,
		AmountMinor: e.AmountMinor,
		Currency:    strings.ToUpper(e.Currency),
		Method:      e.Method,
		Meeting:     e.Meeting,
	}
}

type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID       string          `json:"id"`
				OrderID  string          `json:"order_id"`
				Amount   int64           `json:"amount"`
				Currency string          `json:"currency"`
				Method   string          `json:"method"`
				Status   string          `json:"status"`
				Notes    json.RawMessage `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// ParseEvent decodes a raw webhook body into a typed event. Unknown event
// kinds come back as IgnoredEvent; only undecodable bodies are errors.
func ParseEvent(raw []byte) (Event, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	name := strings.TrimSpace(env.Event)
	if name == "" {
		return nil, fmt.Errorf("%w: missing event name", ErrMalformedEvent)
	}
	if name != EventPaymentAuthorized && name != EventPaymentCaptured {
		return IgnoredEvent{Name: name}, nil
	}

	entity := env.Payload.Payment.Entity
	notes, err := decodeNotes(entity.Notes)
	if err != nil {
		return nil, err
	}
	return PaymentEvent{
		Name:        name,
		PaymentID:   strings.TrimSpace(entity.ID),
		OrderID:     strings.TrimSpace(entity.OrderID),
		AmountMinor: entity.Amount,
		Currency:    entity.Currency,
		Method:      entity.Method,
		Status:      entity.Status,
		BookingID:   strings.TrimSpace(notes[NoteBookingID]),
		UserID:      strings.TrimSpace(notes[NoteUserID]),
		Meeting:     decodeMeetingHint(notes[NoteMeetingDetails]),
	}, nil
}

// decodeNotes accepts the gateway's notes object. An empty notes value is
// sent as an empty JSON array, which is treated as no notes.
func decodeNotes(raw json.RawMessage) (map[string]string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return map[string]string{}, nil
	}
	var values map[string]any
	if err := json.Unmarshal(trimmed, &values); err != nil {
		return nil, fmt.Errorf("%w: notes: %v", ErrMalformedEvent, err)
	}
	notes := make(map[string]string, len(values))
	for k, v := range values {
		switch val := v.(type) {
		case string:
			notes[k] = val
		case nil:
		default:
			encoded, _ := json.Marshal(val)
			notes[k] = string(encoded)
		}
	}
	return notes, nil
}

func decodeMeetingHint(raw string) *bookings.Meeting {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var m bookings.Meeting
	if err := json.Unmarshal([]byte(raw), &m); err != nil || m.Empty() {
		return nil
	}
	return &m
}

func encodeMeetingHint(m *bookings.Meeting) string {
	if m == nil || m.Empty() {
		return ""
	}
	encoded, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(encoded)
}
