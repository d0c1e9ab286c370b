package bookings

import "errors"

var (
	// ErrNotFound is returned when no booking has the requested id.
	ErrNotFound = errors.New("bookings: not found")
	// ErrInvalidTransition is returned when a status change is not allowed
	// by the lifecycle.
	ErrInvalidTransition = errors.New("bookings: invalid status transition")
	// ErrInvalidState is returned when a booking is not in a state that
	// accepts the requested mutation.
	ErrInvalidState = errors.New("bookings: invalid state")
	// ErrAmountMismatch is returned when a payment amount differs from the
	// amount charged at checkout.
	ErrAmountMismatch = errors.New("bookings: payment amount mismatch")
	// ErrOrderMismatch is returned when a payment references a different
	// gateway order than the one attached to the booking, or an order that
	// another booking already holds.
	ErrOrderMismatch = errors.New("bookings: gateway order mismatch")
	// ErrRescheduleDenied is returned when the reschedule cutoff has passed
	// for the acting role.
	ErrRescheduleDenied = errors.New("bookings: reschedule denied")
	// ErrInvalidSchedule is returned for a slot that does not parse, ends
	// before it starts or lies in the past.
	ErrInvalidSchedule = errors.New("bookings: invalid schedule")
	// ErrInvalidDraft is returned when a draft is missing a party or has an
	// unknown consultation type.
	ErrInvalidDraft = errors.New("bookings: invalid draft")
	// ErrForbidden is returned when the actor may not act on the booking.
	ErrForbidden = errors.New("bookings: forbidden")
)
