package reminders

import (
	"context"
	"time"

	"github.com/wolfman30/vetcare-platform/internal/bookings"
	"github.com/wolfman30/vetcare-platform/internal/observability/metrics"
	"github.com/wolfman30/vetcare-platform/internal/policy"
	"github.com/wolfman30/vetcare-platform/pkg/logging"
)

// Sender delivers the reminder notice for a booking.
type Sender interface {
	Reminder(ctx context.Context, b *bookings.Booking) error
}

// Worker sweeps due reminders and sends each at most once.
type Worker struct {
	store     Store
	scheduler *Scheduler
	sender    Sender
	loc       *time.Location
	clock     policy.Clock
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
	batchSize int
	interval  time.Duration
}

// NewWorker creates a reminder sweep worker.
func NewWorker(store Store, sender Sender, loc *time.Location, logger *logging.Logger) *Worker {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{
		store:     store,
		scheduler: NewScheduler(store, loc, logger),
		sender:    sender,
		loc:       loc,
		clock:     policy.SystemClock,
		logger:    logger,
		batchSize: 50,
		interval:  30 * time.Second,
	}
}

func (w *Worker) WithClock(clock policy.Clock) *Worker {
	if clock != nil {
		w.clock = clock
		w.scheduler.WithClock(clock)
	}
	return w
}

func (w *Worker) WithBatchSize(size int) *Worker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

func (w *Worker) WithInterval(interval time.Duration) *Worker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

func (w *Worker) WithMetrics(m *metrics.BookingMetrics) *Worker {
	w.metrics = m
	return w
}

// Start runs the sweep until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	if w.store == nil || w.sender == nil {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.ProcessDue(ctx); err != nil {
				w.logger.Error("reminder sweep failed", "error", err)
			}
		}
	}
}

// ProcessDue sends every reminder due now and returns how many were sent.
// Each booking is re-read before sending so a reschedule or cancellation
// committed after the listing wins.
func (w *Worker) ProcessDue(ctx context.Context) (int, error) {
	now := w.clock.Now()
	due, err := w.store.ListDueReminders(ctx, now, w.batchSize)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, listed := range due {
		if w.process(ctx, listed, now) {
			sent++
		}
	}
	return sent, nil
}

func (w *Worker) process(ctx context.Context, listed *bookings.Booking, now time.Time) bool {
	b, err := w.store.Get(ctx, listed.ID)
	if err != nil {
		w.logger.Error("reminder reload failed", "booking_id", listed.ID, "error", err)
		return false
	}
	if !b.IsConfirmedPaid() {
		w.skip(ctx, b, "not_confirmed")
		return false
	}
	if b.ReminderFireAt == nil || listed.ReminderFireAt == nil || !b.ReminderFireAt.Equal(*listed.ReminderFireAt) {
		w.metrics.ObserveReminder("superseded")
		return false
	}

	start, _, err := b.Schedule().Window(w.loc)
	if err != nil {
		w.logger.Error("reminder booking has invalid slot", "booking_id", b.ID, "error", err)
		return false
	}
	fireAt := *b.ReminderFireAt
	if expected := policy.ReminderFireAt(start); !expected.Equal(fireAt) {
		// Slot and reminder disagree; derive it again from the slot.
		if _, err := w.scheduler.Schedule(ctx, b); err != nil {
			w.logger.Error("reminder re-derive failed", "booking_id", b.ID, "error", err)
		}
		w.metrics.ObserveReminder("superseded")
		return false
	}
	if now.After(start) {
		w.skip(ctx, b, "stale")
		return false
	}

	claimed, err := w.store.ClaimReminder(ctx, b.ID, fireAt, now)
	if err != nil {
		w.logger.Error("reminder claim failed", "booking_id", b.ID, "error", err)
		return false
	}
	if !claimed {
		return false
	}

	if err := w.sender.Reminder(ctx, b); err != nil {
		w.logger.Warn("reminder send failed; releasing for retry", "booking_id", b.ID, "error", err)
		if relErr := w.store.ReleaseReminder(ctx, b.ID, fireAt); relErr != nil {
			w.logger.Error("reminder release failed", "booking_id", b.ID, "error", relErr)
		}
		w.metrics.ObserveReminder("failed")
		return false
	}
	w.logger.Info("reminder sent", "booking_id", b.ID, "fire_at", fireAt)
	w.metrics.ObserveReminder("sent")
	return true
}

func (w *Worker) skip(ctx context.Context, b *bookings.Booking, reason string) {
	if err := w.store.ClearReminder(ctx, b.ID); err != nil {
		w.logger.Error("reminder clear failed", "booking_id", b.ID, "error", err)
	}
	w.logger.Debug("reminder dropped", "booking_id", b.ID, "reason", reason)
	w.metrics.ObserveReminder(reason)
}
