// Package followup performs the work owed to a booking once its payment is
// confirmed: a video room, the reminder and the confirmation notice.
package followup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/vetcare-platform/internal/bookings"
	"github.com/wolfman30/vetcare-platform/internal/meetings"
	"github.com/wolfman30/vetcare-platform/internal/notify"
	"github.com/wolfman30/vetcare-platform/internal/observability/metrics"
	"github.com/wolfman30/vetcare-platform/internal/policy"
	"github.com/wolfman30/vetcare-platform/pkg/logging"
)

// Store is the subset of bookings.Store used for follow-ups.
type Store interface {
	Get(ctx context.Context, id string) (*bookings.Booking, error)
	SetMeeting(ctx context.Context, id string, m bookings.Meeting) (bool, error)
	MarkConfirmationSent(ctx context.Context, id string, at time.Time) (bool, error)
	ClaimFollowUp(ctx context.Context, id string, now, until time.Time) (bool, error)
	ReleaseFollowUp(ctx context.Context, id string, until time.Time) error
	ListPendingFollowUps(ctx context.Context, fromDate string, limit int) ([]*bookings.Booking, error)
}

type reminderScheduler interface {
	Schedule(ctx context.Context, b *bookings.Booking) (*time.Time, error)
}

type confirmationNotifier interface {
	BookingConfirmed(ctx context.Context, b *bookings.Booking) error
}

// DefaultLease bounds how long one Run holds a booking's follow-ups.
const DefaultLease = 2 * time.Minute

// Processor runs the follow-up steps. Every step is idempotent, and a lease
// on the booking keeps the webhook and the sweeper from running them at the
// same time.
type Processor struct {
	store     Store
	meetings  meetings.Provisioner
	reminders reminderScheduler
	notifier  confirmationNotifier
	loc       *time.Location
	clock     policy.Clock
	lease     time.Duration
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
}

// NewProcessor wires the follow-up steps. Any collaborator may be nil, in
// which case its step is skipped.
func NewProcessor(store Store, provisioner meetings.Provisioner, reminders reminderScheduler, notifier confirmationNotifier, loc *time.Location, logger *logging.Logger) *Processor {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Processor{
		store:     store,
		meetings:  provisioner,
		reminders: reminders,
		notifier:  notifier,
		loc:       loc,
		clock:     policy.SystemClock,
		lease:     DefaultLease,
		logger:    logger,
	}
}

func (p *Processor) WithClock(clock policy.Clock) *Processor {
	if clock != nil {
		p.clock = clock
	}
	return p
}

// WithLease sets how long a Run may hold the booking before another
// caller can take over.
func (p *Processor) WithLease(d time.Duration) *Processor {
	if d > 0 {
		p.lease = d
	}
	return p
}

func (p *Processor) WithMetrics(m *metrics.BookingMetrics) *Processor {
	p.metrics = m
	return p
}

// Run performs whatever follow-up work the booking still needs. Failures of
// individual steps are joined; the remaining steps still run.
func (p *Processor) Run(ctx context.Context, bookingID string) error {
	now := p.clock.Now()
	until := now.Add(p.lease)
	claimed, err := p.store.ClaimFollowUp(ctx, bookingID, now, until)
	if err != nil {
		return fmt.Errorf("followup: claim booking: %w", err)
	}
	if !claimed {
		p.logger.Debug("follow-up skipped; booking not confirmed or already in progress", "booking_id", bookingID)
		return nil
	}
	defer func() {
		if err := p.store.ReleaseFollowUp(context.WithoutCancel(ctx), bookingID, until); err != nil {
			p.logger.Warn("follow-up lease release failed", "booking_id", bookingID, "error", err)
		}
	}()

	// Reload under the lease so work finished by a previous holder is seen.
	b, err := p.store.Get(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("followup: load booking: %w", err)
	}
	if !b.IsConfirmedPaid() {
		return nil
	}

	var errs []error
	if b.NeedsMeeting() && p.meetings != nil {
		if err := p.provisionMeeting(ctx, b); err != nil {
			p.metrics.ObserveFollowUpFailure("meeting")
			p.logger.Warn("meeting provisioning failed; booking left with meeting pending", "booking_id", b.ID, "error", err)
			errs = append(errs, err)
		}
	}

	if p.reminders != nil {
		if _, err := p.reminders.Schedule(ctx, b); err != nil {
			p.metrics.ObserveFollowUpFailure("reminder")
			p.logger.Warn("reminder scheduling failed", "booking_id", b.ID, "error", err)
			errs = append(errs, err)
		}
	}

	if b.ConfirmationSentAt == nil && p.notifier != nil {
		if err := p.sendConfirmation(ctx, b); err != nil {
			p.metrics.ObserveFollowUpFailure("notification")
			p.logger.Warn("confirmation notice failed", "booking_id", b.ID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Processor) provisionMeeting(ctx context.Context, b *bookings.Booking) error {
	start, end, err := b.Schedule().Window(p.loc)
	if err != nil {
		return err
	}
	m, err := p.meetings.Provision(ctx, meetings.Request{
		BookingID: b.ID,
		Title:     "Veterinary consultation",
		Start:     start,
		End:       end,
	})
	if err != nil {
		return err
	}
	stored, err := p.store.SetMeeting(ctx, b.ID, *m)
	if err != nil {
		return fmt.Errorf("followup: store meeting: %w", err)
	}
	if stored {
		p.logger.Info("meeting attached to booking", "booking_id", b.ID, "meeting_id", m.ID)
	} else {
		p.logger.Info("booking already had a meeting; provisioned room discarded", "booking_id", b.ID, "meeting_id", m.ID)
	}
	return nil
}

func (p *Processor) sendConfirmation(ctx context.Context, b *bookings.Booking) error {
	err := p.notifier.BookingConfirmed(ctx, b)
	if errors.Is(err, notify.ErrNoRecipient) {
		// Nobody to tell; retrying cannot help.
		err = nil
	}
	if err != nil {
		return err
	}
	if _, err := p.store.MarkConfirmationSent(ctx, b.ID, p.clock.Now()); err != nil {
		return fmt.Errorf("followup: mark confirmation sent: %w", err)
	}
	return nil
}
