package bookings

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/vetcare-platform/internal/identity"
	"github.com/wolfman30/vetcare-platform/internal/policy"
	"github.com/wolfman30/vetcare-platform/pkg/logging"
)

var (
	owner    = identity.Actor{ID: "owner-1", Role: policy.RoleOwner}
	vet      = identity.Actor{ID: "vet-1", Role: policy.RoleVet}
	operator = identity.Actor{ID: "ops-1", Role: policy.RoleOperator}
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func newTestService(t *testing.T, now time.Time) (*Service, *MemoryStore, *fixedClock) {
	t.Helper()
	clock := &fixedClock{now: now}
	store := NewMemoryStore().WithClock(clock.Now)
	svc := NewService(store, time.UTC, logging.Discard()).WithClock(clock.Now)
	return svc, store, clock
}

func confirmedBooking(t *testing.T, store *MemoryStore) *Booking {
	t.Helper()
	ctx := context.Background()
	b, err := store.CreateDraft(ctx, testDraft())
	require.NoError(t, err)
	b, _, err = store.ApplyPaymentConfirmation(ctx, confirmation(b.ID, "pay_1"))
	require.NoError(t, err)
	return b
}

func TestServiceCreateDraftRejectsPastSlot(t *testing.T) {
	svc, _, _ := newTestService(t, time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC))
	_, err := svc.CreateDraft(context.Background(), testDraft())
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}

func TestServiceRescheduleCutoff(t *testing.T) {
	start := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	target := Schedule{Date: "2026-03-10", StartTime: "14:00", EndTime: "14:30"}

	t.Run("allowed one second before cutoff", func(t *testing.T) {
		svc, store, _ := newTestService(t, start.Add(-3*time.Hour-time.Second))
		b := confirmedBooking(t, store)
		got, err := svc.Reschedule(context.Background(), b.ID, target, owner)
		require.NoError(t, err)
		assert.Equal(t, "14:00", got.StartTime)
		assert.Equal(t, b.ID, got.ID)
		assert.Equal(t, StatusConfirmed, got.Status)
		assert.Equal(t, "pay_1", got.GatewayPaymentID)
	})

	t.Run("denied at cutoff", func(t *testing.T) {
		svc, store, _ := newTestService(t, start.Add(-3*time.Hour))
		b := confirmedBooking(t, store)
		_, err := svc.Reschedule(context.Background(), b.ID, target, owner)
		assert.ErrorIs(t, err, ErrRescheduleDenied)

		unchanged, err := store.Get(context.Background(), b.ID)
		require.NoError(t, err)
		assert.Equal(t, "10:00", unchanged.StartTime)
	})

	t.Run("operator bypasses cutoff", func(t *testing.T) {
		svc, store, _ := newTestService(t, start.Add(-time.Hour))
		b := confirmedBooking(t, store)
		_, err := svc.Reschedule(context.Background(), b.ID, target, operator)
		assert.NoError(t, err)
	})
}

func TestServiceRescheduleReplacesReminder(t *testing.T) {
	svc, store, _ := newTestService(t, time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC))
	b := confirmedBooking(t, store)
	require.NoError(t, store.SetReminder(context.Background(), b.ID, time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)))

	got, err := svc.Reschedule(context.Background(), b.ID, Schedule{Date: "2026-03-10", StartTime: "14:00", EndTime: "14:30"}, owner)
	require.NoError(t, err)
	require.NotNil(t, got.ReminderFireAt)
	assert.Equal(t, time.Date(2026, 3, 10, 13, 30, 0, 0, time.UTC), *got.ReminderFireAt)
}

func TestServiceRescheduleRejectsStrangers(t *testing.T) {
	svc, store, _ := newTestService(t, time.Date(2026, 3, 9, 6, 0, 0, 0, time.UTC))
	b := confirmedBooking(t, store)
	stranger := identity.Actor{ID: "owner-2", Role: policy.RoleOwner}
	_, err := svc.Reschedule(context.Background(), b.ID, Schedule{Date: "2026-03-11", StartTime: "09:00", EndTime: "09:30"}, stranger)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestServiceCancelAndComplete(t *testing.T) {
	svc, store, _ := newTestService(t, time.Date(2026, 3, 9, 6, 0, 0, 0, time.UTC))
	b := confirmedBooking(t, store)

	_, err := svc.Complete(context.Background(), b.ID, owner)
	assert.ErrorIs(t, err, ErrForbidden)

	got, err := svc.Complete(context.Background(), b.ID, vet)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)

	_, err = svc.Cancel(context.Background(), b.ID, owner)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestServiceJoinInfo(t *testing.T) {
	start := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	svc, store, clock := newTestService(t, start.Add(-time.Hour))
	b := confirmedBooking(t, store)
	_, err := store.SetMeeting(context.Background(), b.ID, Meeting{ID: "room", ParticipantURL: "https://v/p", HostURL: "https://v/h"})
	require.NoError(t, err)

	info, err := svc.JoinInfo(context.Background(), b.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, policy.JoinTooEarly, info.State)
	assert.Empty(t, info.MeetingURL)

	clock.now = start.Add(-15 * time.Minute)
	info, err = svc.JoinInfo(context.Background(), b.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, policy.JoinOpen, info.State)
	assert.Equal(t, "https://v/p", info.MeetingURL)

	info, err = svc.JoinInfo(context.Background(), b.ID, vet)
	require.NoError(t, err)
	assert.Equal(t, "https://v/h", info.MeetingURL)

	clock.now = start.Add(30*time.Minute + time.Second)
	info, err = svc.JoinInfo(context.Background(), b.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, policy.JoinEnded, info.State)
	assert.Empty(t, info.MeetingURL)
}
