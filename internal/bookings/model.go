package bookings

import (
	"fmt"
	"strings"
	"time"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// ConsultationType is how the appointment is held.
type ConsultationType string

const (
	ConsultationVideo    ConsultationType = "video_call"
	ConsultationInPerson ConsultationType = "in_person"
)

// Valid reports whether the consultation type is known.
func (c ConsultationType) Valid() bool {
	return c == ConsultationVideo || c == ConsultationInPerson
}

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// PaymentStatus tracks whether the consultation fee has been captured.
type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

// Schedule is the appointment slot as local wall-clock values.
type Schedule struct {
	Date      string `json:"bookingDate"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

// Validate checks the layouts and that the slot ends after it starts.
func (s Schedule) Validate() error {
	_, _, err := s.Window(time.UTC)
	return err
}

// Window combines the wall-clock slot with the clinic location into instants.
func (s Schedule) Window(loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	date := strings.TrimSpace(s.Date)
	start, err := time.ParseInLocation(dateLayout+" "+timeLayout, date+" "+strings.TrimSpace(s.StartTime), loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start: %v", ErrInvalidSchedule, err)
	}
	end, err := time.ParseInLocation(dateLayout+" "+timeLayout, date+" "+strings.TrimSpace(s.EndTime), loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end: %v", ErrInvalidSchedule, err)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end must be after start", ErrInvalidSchedule)
	}
	return start, end, nil
}

// Meeting holds the video-provider room for a booking.
type Meeting struct {
	ID             string `json:"meetingId"`
	ParticipantURL string `json:"participantMeetingUrl"`
	HostURL        string `json:"hostMeetingUrl"`
}

// Empty reports whether no meeting data is present.
func (m Meeting) Empty() bool {
	return strings.TrimSpace(m.ID) == ""
}

// Booking is a single consultation appointment.
type Booking struct {
	ID                    string           `json:"id"`
	PetOwnerID            string           `json:"petOwnerId"`
	VetID                 string           `json:"vetId"`
	PetID                 string           `json:"petId"`
	BookingDate           string           `json:"bookingDate"`
	StartTime             string           `json:"startTime"`
	EndTime               string           `json:"endTime"`
	ConsultationType      ConsultationType `json:"consultationType"`
	Status                Status           `json:"status"`
	PaymentStatus         PaymentStatus    `json:"paymentStatus"`
	GatewayOrderID        string           `json:"gatewayOrderId,omitempty"`
	GatewayPaymentID      string           `json:"gatewayPaymentId,omitempty"`
	AmountMinor           int64            `json:"amount"`
	Currency              string           `json:"currency,omitempty"`
	MeetingID             string           `json:"meetingId,omitempty"`
	ParticipantMeetingURL string           `json:"participantMeetingUrl,omitempty"`
	HostMeetingURL        string           `json:"hostMeetingUrl,omitempty"`
	Notes                 string           `json:"notes,omitempty"`
	ReminderFireAt        *time.Time       `json:"reminderFireAt,omitempty"`
	ReminderDispatchedAt  *time.Time       `json:"-"`
	ConfirmationSentAt    *time.Time       `json:"-"`
	CreatedAt             time.Time        `json:"createdAt"`
	UpdatedAt             time.Time        `json:"updatedAt"`
}

// Schedule returns the booking's slot.
func (b *Booking) Schedule() Schedule {
	return Schedule{Date: b.BookingDate, StartTime: b.StartTime, EndTime: b.EndTime}
}

// Meeting returns the meeting data currently on the booking.
func (b *Booking) Meeting() Meeting {
	return Meeting{ID: b.MeetingID, ParticipantURL: b.ParticipantMeetingURL, HostURL: b.HostMeetingURL}
}

// IsConfirmedPaid reports whether the booking has been paid for and is live.
func (b *Booking) IsConfirmedPaid() bool {
	return b.Status == StatusConfirmed && b.PaymentStatus == PaymentPaid
}

// NeedsMeeting reports whether a video room still has to be provisioned.
func (b *Booking) NeedsMeeting() bool {
	return b.ConsultationType == ConsultationVideo && b.MeetingID == ""
}

func (b *Booking) clone() *Booking {
	cp := *b
	cp.ReminderFireAt = cloneTime(b.ReminderFireAt)
	cp.ReminderDispatchedAt = cloneTime(b.ReminderDispatchedAt)
	cp.ConfirmationSentAt = cloneTime(b.ConfirmationSentAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Draft is the input for creating a pending booking.
type Draft struct {
	ID               string           `json:"id,omitempty"`
	PetOwnerID       string           `json:"petOwnerId"`
	VetID            string           `json:"vetId"`
	PetID            string           `json:"petId"`
	Schedule         Schedule         `json:"schedule"`
	ConsultationType ConsultationType `json:"consultationType"`
	Notes            string           `json:"notes,omitempty"`
	GatewayOrderID   string           `json:"-"`
	AmountMinor      int64            `json:"-"`
	Currency         string           `json:"-"`
}

// Validate checks the draft has the parties and a usable slot.
func (d Draft) Validate() error {
	if strings.TrimSpace(d.PetOwnerID) == "" {
		return fmt.Errorf("%w: petOwnerId is required", ErrInvalidDraft)
	}
	if strings.TrimSpace(d.VetID) == "" {
		return fmt.Errorf("%w: vetId is required", ErrInvalidDraft)
	}
	if strings.TrimSpace(d.PetID) == "" {
		return fmt.Errorf("%w: petId is required", ErrInvalidDraft)
	}
	if !d.ConsultationType.Valid() {
		return fmt.Errorf("%w: unknown consultation type %q", ErrInvalidDraft, d.ConsultationType)
	}
	return d.Schedule.Validate()
}

// PaymentConfirmation is a verified payment to apply to a booking.
type PaymentConfirmation struct {
	BookingID   string
	OrderID     string
	PaymentID   string
	AmountMinor int64
	Currency    string
	Method      string
	// Meeting, when present, is stored with the confirmation if the booking
	// has no meeting yet.
	Meeting   *Meeting
	AppliedAt time.Time
}

// ApplyOutcome distinguishes a fresh confirmation from a replay.
type ApplyOutcome int

const (
	OutcomeApplied ApplyOutcome = iota + 1
	OutcomeAlreadyApplied
)

func (o ApplyOutcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeAlreadyApplied:
		return "already_applied"
	default:
		return "unknown"
	}
}

// Transaction is an append-only ledger entry for an applied payment.
type Transaction struct {
	BookingID        string    `json:"bookingId"`
	GatewayPaymentID string    `json:"gatewayPaymentId"`
	AmountMinor      int64     `json:"amount"`
	Currency         string    `json:"currency"`
	Method           string    `json:"method"`
	AppliedAt        time.Time `json:"appliedAt"`
}

// RescheduleGuard is evaluated against the locked, current booking before
// the new slot is written. Returning an error aborts the reschedule.
type RescheduleGuard func(current *Booking) error

// RescheduleRequest moves a booking to a new slot.
type RescheduleRequest struct {
	Schedule Schedule
	// ReminderFireAt is stored when the booking is confirmed and paid;
	// nil clears any outstanding reminder.
	ReminderFireAt *time.Time
	Guard          RescheduleGuard
}
