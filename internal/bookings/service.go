package bookings

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/vetcare-platform/internal/identity"
	"github.com/wolfman30/vetcare-platform/internal/policy"
	"github.com/wolfman30/vetcare-platform/pkg/logging"
)

var bookingsTracer = otel.Tracer("vetcare.internal.bookings")

// Service runs booking mutations that originate from people rather than the
// payment gateway: drafting, rescheduling, cancelling and completing.
type Service struct {
	store  Store
	loc    *time.Location
	clock  policy.Clock
	logger *logging.Logger
}

// NewService constructs a bookings service. loc is the clinic location used
// to turn wall-clock slots into instants.
func NewService(store Store, loc *time.Location, logger *logging.Logger) *Service {
	if store == nil {
		panic("bookings: store required")
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: store, loc: loc, clock: policy.SystemClock, logger: logger}
}

// WithClock overrides the time source.
func (s *Service) WithClock(clock policy.Clock) *Service {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// Location returns the clinic location.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Get loads a booking the actor is a party to.
func (s *Service) Get(ctx context.Context, id string, actor identity.Actor) (*Booking, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, b); err != nil {
		return nil, err
	}
	return b, nil
}

// CreateDraft stores a pending, unpaid booking for a future slot.
func (s *Service) CreateDraft(ctx context.Context, d Draft) (*Booking, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.create_draft")
	defer span.End()

	if err := s.ValidateDraft(d); err != nil {
		return nil, err
	}
	b, err := s.store.CreateDraft(ctx, d)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("vetcare.booking_id", b.ID))
	s.logger.Info("booking draft created", "booking_id", b.ID, "vet_id", b.VetID, "consultation_type", b.ConsultationType)
	return b, nil
}

// ValidateDraft checks a draft without storing it.
func (s *Service) ValidateDraft(d Draft) error {
	if err := d.Validate(); err != nil {
		return err
	}
	start, _, err := d.Schedule.Window(s.loc)
	if err != nil {
		return err
	}
	if !start.After(s.clock.Now()) {
		return fmt.Errorf("%w: slot is in the past", ErrInvalidSchedule)
	}
	return nil
}

// Reschedule moves a pending or confirmed booking to a new slot. The cutoff
// is evaluated against the stored slot while the row is locked, and any
// outstanding reminder is replaced in the same write.
func (s *Service) Reschedule(ctx context.Context, id string, sched Schedule, actor identity.Actor) (*Booking, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.reschedule")
	defer span.End()
	span.SetAttributes(
		attribute.String("vetcare.booking_id", id),
		attribute.String("vetcare.actor_role", string(actor.Role)),
	)

	newStart, _, err := sched.Window(s.loc)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if !newStart.After(now) {
		return nil, fmt.Errorf("%w: slot is in the past", ErrInvalidSchedule)
	}
	var fireAt *time.Time
	if at := policy.ReminderFireAt(newStart); at.After(now) {
		fireAt = &at
	}

	b, err := s.store.Reschedule(ctx, id, RescheduleRequest{
		Schedule:       sched,
		ReminderFireAt: fireAt,
		Guard: func(current *Booking) error {
			if err := authorize(actor, current); err != nil {
				return err
			}
			currentStart, _, err := current.Schedule().Window(s.loc)
			if err != nil {
				return err
			}
			decision := policy.CanReschedule(s.clock.Now(), currentStart, actor.Role)
			if !decision.Allowed {
				return fmt.Errorf("%w: %s", ErrRescheduleDenied, decision.Reason)
			}
			return nil
		},
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.Info("booking rescheduled",
		"booking_id", b.ID,
		"booking_date", b.BookingDate,
		"start_time", b.StartTime,
		"actor_role", actor.Role,
	)
	return b, nil
}

// Cancel moves a pending or confirmed booking to cancelled. Any scheduled
// reminder is dropped with the status change.
func (s *Service) Cancel(ctx context.Context, id string, actor identity.Actor) (*Booking, error) {
	return s.transition(ctx, id, StatusCancelled, actor)
}

// Complete marks a confirmed booking as fulfilled. Only the vet or an
// elevated role may do this.
func (s *Service) Complete(ctx context.Context, id string, actor identity.Actor) (*Booking, error) {
	if actor.Role != policy.RoleVet && !actor.Role.Elevated() {
		return nil, fmt.Errorf("%w: only the vet can complete a consultation", ErrForbidden)
	}
	return s.transition(ctx, id, StatusCompleted, actor)
}

func (s *Service) transition(ctx context.Context, id string, to Status, actor identity.Actor) (*Booking, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("vetcare.booking_id", id),
		attribute.String("vetcare.status", string(to)),
	)

	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, current); err != nil {
		return nil, err
	}
	b, err := s.store.UpdateStatus(ctx, id, to)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.Info("booking status changed", "booking_id", id, "status", to, "actor_role", actor.Role)
	return b, nil
}

// JoinInfo is what a participant sees when opening a consultation.
type JoinInfo struct {
	BookingID        string           `json:"bookingId"`
	ConsultationType ConsultationType `json:"consultationType"`
	State            policy.JoinState `json:"state"`
	OpensAt          time.Time        `json:"opensAt"`
	EndsAt           time.Time        `json:"endsAt"`
	MeetingReady     bool             `json:"meetingReady"`
	MeetingURL       string           `json:"meetingUrl,omitempty"`
}

// JoinInfo evaluates the join window for the actor. The meeting URL is only
// revealed while the window is open; the vet and elevated roles get the
// host URL.
func (s *Service) JoinInfo(ctx context.Context, id string, actor identity.Actor) (*JoinInfo, error) {
	b, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if !b.IsConfirmedPaid() {
		return nil, fmt.Errorf("%w: booking is %s/%s", ErrInvalidState, b.Status, b.PaymentStatus)
	}
	start, end, err := b.Schedule().Window(s.loc)
	if err != nil {
		return nil, err
	}
	info := &JoinInfo{
		BookingID:        b.ID,
		ConsultationType: b.ConsultationType,
		State:            policy.JoinWindow(s.clock.Now(), start, end),
		OpensAt:          start.Add(-policy.JoinLeadTime),
		EndsAt:           end,
		MeetingReady:     b.MeetingID != "",
	}
	if info.State == policy.JoinOpen && info.MeetingReady {
		if actor.Role == policy.RoleVet || actor.Role.Elevated() {
			info.MeetingURL = b.HostMeetingURL
		} else {
			info.MeetingURL = b.ParticipantMeetingURL
		}
	}
	return info, nil
}

func authorize(actor identity.Actor, b *Booking) error {
	if actor.Role.Elevated() {
		return nil
	}
	switch actor.Role {
	case policy.RoleVet:
		if actor.ID == b.VetID {
			return nil
		}
	default:
		if actor.ID == b.PetOwnerID {
			return nil
		}
	}
	return ErrForbidden
}
