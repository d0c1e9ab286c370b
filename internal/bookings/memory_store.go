package bookings

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used for local development and tests.
// A single mutex makes every mutation atomic.
type MemoryStore struct {
	mu           sync.RWMutex
	bookings     map[string]*Booking
	transactions map[string]Transaction
	leases       map[string]time.Time
	now          func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings:     make(map[string]*Booking),
		transactions: make(map[string]Transaction),
		leases:       make(map[string]time.Time),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the timestamp source used for createdAt/updatedAt.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *MemoryStore) CreateDraft(ctx context.Context, d Draft) (*Booking, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(d.ID)
	if id == "" {
		id = uuid.NewString()
	}
	now := s.now()
	b := &Booking{
		ID:               id,
		PetOwnerID:       d.PetOwnerID,
		VetID:            d.VetID,
		PetID:            d.PetID,
		BookingDate:      d.Schedule.Date,
		StartTime:        d.Schedule.StartTime,
		EndTime:          d.Schedule.EndTime,
		ConsultationType: d.ConsultationType,
		Status:           StatusPending,
		PaymentStatus:    PaymentUnpaid,
		GatewayOrderID:   d.GatewayOrderID,
		AmountMinor:      d.AmountMinor,
		Currency:         d.Currency,
		Notes:            d.Notes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bookings[id]; exists {
		return nil, fmt.Errorf("bookings: insert draft: duplicate id %s", id)
	}
	s.bookings[id] = b
	return b.clone(), nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b.clone(), nil
}

func (s *MemoryStore) AttachOrder(ctx context.Context, id, orderID string, amountMinor int64, currency string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return ErrNotFound
	}
	if b.Status != StatusPending || b.PaymentStatus != PaymentUnpaid {
		return fmt.Errorf("%w: cannot attach order to %s booking", ErrInvalidState, b.Status)
	}
	b.GatewayOrderID = orderID
	b.AmountMinor = amountMinor
	b.Currency = currency
	b.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) ApplyPaymentConfirmation(ctx context.Context, c PaymentConfirmation) (*Booking, ApplyOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.transactions[c.PaymentID]; seen {
		b, ok := s.bookings[c.BookingID]
		if !ok {
			return nil, OutcomeAlreadyApplied, nil
		}
		return b.clone(), OutcomeAlreadyApplied, nil
	}
	b, ok := s.bookings[c.BookingID]
	if !ok {
		return nil, 0, ErrNotFound
	}
	if err := confirmable(b, c); err != nil {
		return nil, 0, err
	}
	if b.GatewayOrderID == "" && s.orderHeldElsewhere(c.OrderID, b.ID) {
		return nil, 0, fmt.Errorf("%w: order %s belongs to another booking", ErrOrderMismatch, c.OrderID)
	}

	appliedAt := c.AppliedAt
	if appliedAt.IsZero() {
		appliedAt = s.now()
	}
	b.Status = StatusConfirmed
	b.PaymentStatus = PaymentPaid
	b.GatewayPaymentID = c.PaymentID
	if b.GatewayOrderID == "" {
		b.GatewayOrderID = c.OrderID
	}
	if b.AmountMinor == 0 {
		b.AmountMinor = c.AmountMinor
		b.Currency = c.Currency
	}
	if c.Meeting != nil && !c.Meeting.Empty() && b.MeetingID == "" {
		b.MeetingID = c.Meeting.ID
		b.ParticipantMeetingURL = c.Meeting.ParticipantURL
		b.HostMeetingURL = c.Meeting.HostURL
	}
	b.UpdatedAt = s.now()
	s.transactions[c.PaymentID] = Transaction{
		BookingID:        b.ID,
		GatewayPaymentID: c.PaymentID,
		AmountMinor:      c.AmountMinor,
		Currency:         c.Currency,
		Method:           c.Method,
		AppliedAt:        appliedAt,
	}
	return b.clone(), OutcomeApplied, nil
}

func (s *MemoryStore) orderHeldElsewhere(orderID, bookingID string) bool {
	for id, other := range s.bookings {
		if id != bookingID && other.GatewayOrderID == orderID {
			return true
		}
	}
	return false
}

// confirmable holds the preconditions shared with the SQL WHERE clause of
// the Postgres implementation.
func confirmable(b *Booking, c PaymentConfirmation) error {
	if b.Status != StatusPending || b.PaymentStatus != PaymentUnpaid {
		return fmt.Errorf("%w: booking is %s/%s", ErrInvalidState, b.Status, b.PaymentStatus)
	}
	if b.GatewayOrderID != "" && b.GatewayOrderID != c.OrderID {
		return fmt.Errorf("%w: expected %s, got %s", ErrOrderMismatch, b.GatewayOrderID, c.OrderID)
	}
	if b.AmountMinor > 0 && (b.AmountMinor != c.AmountMinor || !strings.EqualFold(b.Currency, c.Currency)) {
		return fmt.Errorf("%w: expected %d %s, got %d %s", ErrAmountMismatch, b.AmountMinor, b.Currency, c.AmountMinor, c.Currency)
	}
	return nil
}

func (s *MemoryStore) TransactionExists(ctx context.Context, paymentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.transactions[paymentID]
	return ok, nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, bookingID string) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transaction
	for _, tx := range s.transactions {
		if tx.BookingID == bookingID {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppliedAt.Before(out[j].AppliedAt) })
	return out, nil
}

func (s *MemoryStore) Reschedule(ctx context.Context, id string, req RescheduleRequest) (*Booking, error) {
	if err := req.Schedule.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	if b.Status != StatusPending && b.Status != StatusConfirmed {
		return nil, fmt.Errorf("%w: cannot reschedule %s booking", ErrInvalidState, b.Status)
	}
	if req.Guard != nil {
		if err := req.Guard(b.clone()); err != nil {
			return nil, err
		}
	}
	b.BookingDate = req.Schedule.Date
	b.StartTime = req.Schedule.StartTime
	b.EndTime = req.Schedule.EndTime
	if b.IsConfirmedPaid() && req.ReminderFireAt != nil {
		b.ReminderFireAt = cloneTime(req.ReminderFireAt)
	} else {
		b.ReminderFireAt = nil
	}
	b.ReminderDispatchedAt = nil
	b.UpdatedAt = s.now()
	return b.clone(), nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, to Status) (*Booking, error) {
	if to == StatusConfirmed {
		return nil, fmt.Errorf("%w: confirmation requires a verified payment", ErrInvalidTransition)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := checkTransition(b.Status, to); err != nil {
		return nil, err
	}
	b.Status = to
	b.ReminderFireAt = nil
	b.UpdatedAt = s.now()
	return b.clone(), nil
}

func (s *MemoryStore) SetMeeting(ctx context.Context, id string, m Meeting) (bool, error) {
	if m.Empty() {
		return false, fmt.Errorf("bookings: set meeting: meeting id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return false, ErrNotFound
	}
	if b.MeetingID != "" {
		return false, nil
	}
	b.MeetingID = m.ID
	b.ParticipantMeetingURL = m.ParticipantURL
	b.HostMeetingURL = m.HostURL
	b.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) SetReminder(ctx context.Context, id string, fireAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return ErrNotFound
	}
	if sameInstant(b.ReminderFireAt, fireAt) {
		return nil
	}
	b.ReminderFireAt = &fireAt
	b.ReminderDispatchedAt = nil
	b.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) ClearReminder(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return ErrNotFound
	}
	if b.ReminderFireAt == nil {
		return nil
	}
	b.ReminderFireAt = nil
	b.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) ListDueReminders(ctx context.Context, now time.Time, limit int) ([]*Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Booking
	for _, b := range s.bookings {
		if !b.IsConfirmedPaid() || b.ReminderFireAt == nil || b.ReminderDispatchedAt != nil {
			continue
		}
		if b.ReminderFireAt.After(now) {
			continue
		}
		out = append(out, b.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReminderFireAt.Before(*out[j].ReminderFireAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ClaimReminder(ctx context.Context, id string, fireAt, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return false, ErrNotFound
	}
	if !b.IsConfirmedPaid() || !sameInstant(b.ReminderFireAt, fireAt) || b.ReminderDispatchedAt != nil {
		return false, nil
	}
	b.ReminderDispatchedAt = &now
	return true, nil
}

func (s *MemoryStore) ReleaseReminder(ctx context.Context, id string, fireAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return ErrNotFound
	}
	if sameInstant(b.ReminderFireAt, fireAt) {
		b.ReminderDispatchedAt = nil
	}
	return nil
}

func (s *MemoryStore) MarkConfirmationSent(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return false, ErrNotFound
	}
	if b.ConfirmationSentAt != nil {
		return false, nil
	}
	b.ConfirmationSentAt = &at
	return true, nil
}

func (s *MemoryStore) ClaimFollowUp(ctx context.Context, id string, now, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return false, ErrNotFound
	}
	if !b.IsConfirmedPaid() {
		return false, nil
	}
	if held, ok := s.leases[id]; ok && held.After(now) {
		return false, nil
	}
	s.leases[id] = until
	return true, nil
}

func (s *MemoryStore) ReleaseFollowUp(ctx context.Context, id string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.leases[id]; ok && held.Equal(until) {
		delete(s.leases, id)
	}
	return nil
}

func (s *MemoryStore) ListPendingFollowUps(ctx context.Context, fromDate string, limit int) ([]*Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Booking
	for _, b := range s.bookings {
		if !b.IsConfirmedPaid() || b.BookingDate < fromDate {
			continue
		}
		if b.ConfirmationSentAt == nil || b.NeedsMeeting() {
			out = append(out, b.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
