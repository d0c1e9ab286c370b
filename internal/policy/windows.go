// Package policy holds the time-window rules for rescheduling, joining a
// video consultation and reminder timing. Everything here is a pure function
// of its inputs so the same answer is given to mutation paths and to
// read-only display.
package policy

import (
	"strings"
	"time"
)

const (
	// RescheduleCutoff is how long before the start a non-elevated actor
	// loses the ability to reschedule.
	RescheduleCutoff = 3 * time.Hour
	// JoinLeadTime is how early participants may join a video consultation.
	JoinLeadTime = 15 * time.Minute
	// ReminderLeadTime is how long before the start the reminder goes out.
	ReminderLeadTime = 30 * time.Minute
)

// Role identifies who is acting on a booking.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleVet      Role = "vet"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// ParseRole normalizes a role claim. Unknown values map to RoleOwner, the
// least privileged role.
func ParseRole(raw string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleVet:
		return RoleVet
	case RoleOperator:
		return RoleOperator
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleOwner
	}
}

// Elevated reports whether the role bypasses the reschedule cutoff.
func (r Role) Elevated() bool {
	return r == RoleOperator || r == RoleAdmin
}

// Decision is the result of an eligibility check.
type Decision struct {
	Allowed bool
	Reason  string
}

// CanReschedule denies rescheduling once now reaches start-3h unless the
// role is elevated.
func CanReschedule(now, start time.Time, role Role) Decision {
	if role.Elevated() {
		return Decision{Allowed: true}
	}
	if !now.Before(start.Add(-RescheduleCutoff)) {
		return Decision{Allowed: false, Reason: "reschedule window closed 3 hours before the appointment"}
	}
	return Decision{Allowed: true}
}

// JoinState describes where now falls relative to the join window.
type JoinState string

const (
	JoinTooEarly JoinState = "too_early"
	JoinOpen     JoinState = "joinable"
	JoinEnded    JoinState = "ended"
)

// JoinWindow returns too_early before start-15m, ended strictly after end,
// and joinable in between (both bounds inclusive).
func JoinWindow(now, start, end time.Time) JoinState {
	if now.Before(start.Add(-JoinLeadTime)) {
		return JoinTooEarly
	}
	if now.After(end) {
		return JoinEnded
	}
	return JoinOpen
}

// ReminderFireAt is start-30m.
func ReminderFireAt(start time.Time) time.Time {
	return start.Add(-ReminderLeadTime)
}

// Clock is the server-authoritative time source.
type Clock func() time.Time

// SystemClock returns the current UTC time.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// Now calls c, falling back to SystemClock when c is nil.
func (c Clock) Now() time.Time {
	if c == nil {
		return SystemClock()
	}
	return c()
}
