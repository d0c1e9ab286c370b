package bookings

import (
	"context"
	"time"
)

// Store is the durable home of bookings and the payment ledger. All
// mutations are conditional writes; implementations must never apply a
// change after only reading the current state.
type Store interface {
	CreateDraft(ctx context.Context, d Draft) (*Booking, error)
	Get(ctx context.Context, id string) (*Booking, error)
	AttachOrder(ctx context.Context, id, orderID string, amountMinor int64, currency string) error

	// ApplyPaymentConfirmation marks a pending booking confirmed and paid and
	// records the transaction, all or nothing. Replays of the same payment id
	// report OutcomeAlreadyApplied.
	ApplyPaymentConfirmation(ctx context.Context, c PaymentConfirmation) (*Booking, ApplyOutcome, error)
	TransactionExists(ctx context.Context, paymentID string) (bool, error)
	ListTransactions(ctx context.Context, bookingID string) ([]Transaction, error)

	Reschedule(ctx context.Context, id string, req RescheduleRequest) (*Booking, error)
	// UpdateStatus moves a booking along the lifecycle. Confirmation is not
	// reachable here; it only happens through ApplyPaymentConfirmation.
	UpdateStatus(ctx context.Context, id string, to Status) (*Booking, error)
	// SetMeeting stores meeting data only when none is set. It reports
	// whether the write happened.
	SetMeeting(ctx context.Context, id string, m Meeting) (bool, error)

	SetReminder(ctx context.Context, id string, fireAt time.Time) error
	ClearReminder(ctx context.Context, id string) error
	ListDueReminders(ctx context.Context, now time.Time, limit int) ([]*Booking, error)
	// ClaimReminder marks the reminder for fireAt as dispatched if it is
	// still outstanding and the booking is still confirmed and paid.
	ClaimReminder(ctx context.Context, id string, fireAt, now time.Time) (bool, error)
	ReleaseReminder(ctx context.Context, id string, fireAt time.Time) error

	MarkConfirmationSent(ctx context.Context, id string, at time.Time) (bool, error)
	// ClaimFollowUp takes the post-confirmation lease until the given time
	// when no unexpired lease is held and the booking is confirmed and paid.
	ClaimFollowUp(ctx context.Context, id string, now, until time.Time) (bool, error)
	// ReleaseFollowUp drops the lease taken with until, leaving any newer
	// lease alone.
	ReleaseFollowUp(ctx context.Context, id string, until time.Time) error
	// ListPendingFollowUps returns confirmed, paid bookings on or after
	// fromDate that still lack a confirmation notice or a video meeting.
	ListPendingFollowUps(ctx context.Context, fromDate string, limit int) ([]*Booking, error)
}

func sameInstant(a *time.Time, b time.Time) bool {
	return a != nil && a.Equal(b)
}
