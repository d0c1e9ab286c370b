// Package reminders keeps a single persisted reminder per booking and
// dispatches it from a periodic sweep.
package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/vetcare-platform/internal/bookings"
	"github.com/wolfman30/vetcare-platform/internal/policy"
	"github.com/wolfman30/vetcare-platform/pkg/logging"
)

// Store is the subset of bookings.Store the reminder components use.
type Store interface {
	Get(ctx context.Context, id string) (*bookings.Booking, error)
	SetReminder(ctx context.Context, id string, fireAt time.Time) error
	ClearReminder(ctx context.Context, id string) error
	ListDueReminders(ctx context.Context, now time.Time, limit int) ([]*bookings.Booking, error)
	ClaimReminder(ctx context.Context, id string, fireAt, now time.Time) (bool, error)
	ReleaseReminder(ctx context.Context, id string, fireAt time.Time) error
}

// Scheduler derives and stores the reminder time for a booking.
type Scheduler struct {
	store  Store
	loc    *time.Location
	clock  policy.Clock
	logger *logging.Logger
}

// NewScheduler creates a scheduler interpreting slots in loc.
func NewScheduler(store Store, loc *time.Location, logger *logging.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{store: store, loc: loc, clock: policy.SystemClock, logger: logger}
}

// WithClock overrides the time source.
func (s *Scheduler) WithClock(clock policy.Clock) *Scheduler {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// Schedule replaces the booking's outstanding reminder. A fire time already
// in the past, or a booking that is not confirmed and paid, clears it
// instead. The returned time is nil when nothing is scheduled.
func (s *Scheduler) Schedule(ctx context.Context, b *bookings.Booking) (*time.Time, error) {
	if !b.IsConfirmedPaid() {
		return nil, s.clear(ctx, b)
	}
	start, _, err := b.Schedule().Window(s.loc)
	if err != nil {
		return nil, err
	}
	fireAt := policy.ReminderFireAt(start)
	if !fireAt.After(s.clock.Now()) {
		s.logger.Debug("reminder time already passed; not scheduling", "booking_id", b.ID, "fire_at", fireAt)
		return nil, s.clear(ctx, b)
	}
	if err := s.store.SetReminder(ctx, b.ID, fireAt); err != nil {
		return nil, fmt.Errorf("reminders: set reminder: %w", err)
	}
	s.logger.Debug("reminder scheduled", "booking_id", b.ID, "fire_at", fireAt)
	return &fireAt, nil
}

func (s *Scheduler) clear(ctx context.Context, b *bookings.Booking) error {
	if b.ReminderFireAt == nil {
		return nil
	}
	if err := s.store.ClearReminder(ctx, b.ID); err != nil {
		return fmt.Errorf("reminders: clear reminder: %w", err)
	}
	return nil
}
