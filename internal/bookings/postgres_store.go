package bookings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// DB is the subset of pgxpool.Pool used by the store, so pgxmock can stand in.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const bookingColumns = `id, pet_owner_id, vet_id, pet_id, booking_date, start_time, end_time,
	consultation_type, status, payment_status,
	COALESCE(gateway_order_id, ''), COALESCE(gateway_payment_id, ''), amount_minor, currency,
	COALESCE(meeting_id, ''), COALESCE(participant_meeting_url, ''), COALESCE(host_meeting_url, ''),
	notes, reminder_fire_at, reminder_dispatched_at, confirmation_sent_at, created_at, updated_at`

// PostgresStore persists bookings and transactions with pgx.
type PostgresStore struct {
	db DB
}

// NewPostgresStore wraps a pgx pool (or compatible mock).
func NewPostgresStore(db DB) *PostgresStore {
	if db == nil {
		panic("bookings: db required")
	}
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateDraft(ctx context.Context, d Draft) (*Booking, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(d.ID)
	if id == "" {
		id = uuid.NewString()
	}
	query := `
		INSERT INTO bookings (
			id, pet_owner_id, vet_id, pet_id, booking_date, start_time, end_time,
			consultation_type, status, payment_status, gateway_order_id, amount_minor, currency, notes
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', 'unpaid', $9, $10, $11, $12)
		RETURNING ` + bookingColumns
	b, err := scanBooking(s.db.QueryRow(ctx, query,
		id,
		d.PetOwnerID,
		d.VetID,
		d.PetID,
		d.Schedule.Date,
		d.Schedule.StartTime,
		d.Schedule.EndTime,
		string(d.ConsultationType),
		nullText(d.GatewayOrderID),
		d.AmountMinor,
		d.Currency,
		d.Notes,
	))
	if err != nil {
		return nil, fmt.Errorf("bookings: insert draft: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Booking, error) {
	return getBooking(ctx, s.db, id, false)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getBooking(ctx context.Context, q rowQuerier, id string, forUpdate bool) (*Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	b, err := scanBooking(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("bookings: select: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) AttachOrder(ctx context.Context, id, orderID string, amountMinor int64, currency string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE bookings
		SET gateway_order_id = $2, amount_minor = $3, currency = $4, updated_at = now()
		WHERE id = $1 AND status = 'pending' AND payment_status = 'unpaid'
	`, id, orderID, amountMinor, currency)
	if err != nil {
		return fmt.Errorf("bookings: attach order: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: cannot attach order to %s booking", ErrInvalidState, current.Status)
}

func (s *PostgresStore) ApplyPaymentConfirmation(ctx context.Context, c PaymentConfirmation) (*Booking, ApplyOutcome, error) {
	appliedAt := c.AppliedAt
	if appliedAt.IsZero() {
		appliedAt = time.Now().UTC()
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("bookings: begin confirmation: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO transactions (gateway_payment_id, booking_id, amount_minor, currency, method, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (gateway_payment_id) DO NOTHING
	`, c.PaymentID, c.BookingID, c.AmountMinor, c.Currency, c.Method, appliedAt)
	if err != nil {
		switch pgErrorCode(err) {
		case pgForeignKeyViolation:
			return nil, 0, ErrNotFound
		case pgUniqueViolation:
			return nil, OutcomeAlreadyApplied, nil
		}
		return nil, 0, fmt.Errorf("bookings: insert transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		b, err := getBooking(ctx, tx, c.BookingID, false)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, 0, err
		}
		return b, OutcomeAlreadyApplied, nil
	}

	var meetingID, participantURL, hostURL *string
	if c.Meeting != nil && !c.Meeting.Empty() {
		meetingID = nullText(c.Meeting.ID)
		participantURL = nullText(c.Meeting.ParticipantURL)
		hostURL = nullText(c.Meeting.HostURL)
	}
	b, err := scanBooking(tx.QueryRow(ctx, `
		UPDATE bookings
		SET status = 'confirmed',
			payment_status = 'paid',
			gateway_payment_id = $2,
			gateway_order_id = COALESCE(gateway_order_id, $3),
			currency = CASE WHEN amount_minor = 0 THEN $5 ELSE currency END,
			amount_minor = CASE WHEN amount_minor = 0 THEN $4 ELSE amount_minor END,
			participant_meeting_url = CASE WHEN meeting_id IS NULL THEN $7 ELSE participant_meeting_url END,
			host_meeting_url = CASE WHEN meeting_id IS NULL THEN $8 ELSE host_meeting_url END,
			meeting_id = COALESCE(meeting_id, $6),
			updated_at = now()
		WHERE id = $1
			AND status = 'pending'
			AND payment_status = 'unpaid'
			AND (gateway_order_id IS NULL OR gateway_order_id = $3)
			AND (amount_minor = 0 OR (amount_minor = $4 AND upper(currency) = upper($5)))
		RETURNING `+bookingColumns,
		c.BookingID, c.PaymentID, c.OrderID, c.AmountMinor, c.Currency, meetingID, participantURL, hostURL,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			current, getErr := getBooking(ctx, tx, c.BookingID, false)
			if getErr != nil {
				return nil, 0, getErr
			}
			if reason := confirmable(current, c); reason != nil {
				return nil, 0, reason
			}
			return nil, 0, fmt.Errorf("%w: booking changed during confirmation", ErrInvalidState)
		}
		if pgErrorCode(err) == pgUniqueViolation {
			// The transaction insert already passed, so the collision is on an
			// order or payment id held by another booking.
			return nil, 0, fmt.Errorf("%w: order %s or payment %s belongs to another booking", ErrOrderMismatch, c.OrderID, c.PaymentID)
		}
		return nil, 0, fmt.Errorf("bookings: confirm: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, fmt.Errorf("bookings: commit confirmation: %w", err)
	}
	return b, OutcomeApplied, nil
}

func (s *PostgresStore) TransactionExists(ctx context.Context, paymentID string) (bool, error) {
	var one int
	err := s.db.QueryRow(ctx, `SELECT 1 FROM transactions WHERE gateway_payment_id = $1`, paymentID).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("bookings: transaction lookup: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, bookingID string) ([]Transaction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT booking_id, gateway_payment_id, amount_minor, currency, method, applied_at
		FROM transactions
		WHERE booking_id = $1
		ORDER BY applied_at
	`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("bookings: list transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var tx Transaction
		if err := rows.Scan(&tx.BookingID, &tx.GatewayPaymentID, &tx.AmountMinor, &tx.Currency, &tx.Method, &tx.AppliedAt); err != nil {
			return nil, fmt.Errorf("bookings: scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Reschedule(ctx context.Context, id string, req RescheduleRequest) (*Booking, error) {
	if err := req.Schedule.Validate(); err != nil {
		return nil, err
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("bookings: begin reschedule: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := getBooking(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusPending && current.Status != StatusConfirmed {
		return nil, fmt.Errorf("%w: cannot reschedule %s booking", ErrInvalidState, current.Status)
	}
	if req.Guard != nil {
		if err := req.Guard(current); err != nil {
			return nil, err
		}
	}

	b, err := scanBooking(tx.QueryRow(ctx, `
		UPDATE bookings
		SET booking_date = $2,
			start_time = $3,
			end_time = $4,
			reminder_fire_at = CASE WHEN status = 'confirmed' AND payment_status = 'paid' THEN $5::timestamptz ELSE NULL END,
			reminder_dispatched_at = NULL,
			updated_at = now()
		WHERE id = $1
		RETURNING `+bookingColumns,
		id, req.Schedule.Date, req.Schedule.StartTime, req.Schedule.EndTime, req.ReminderFireAt,
	))
	if err != nil {
		return nil, fmt.Errorf("bookings: reschedule: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("bookings: commit reschedule: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, to Status) (*Booking, error) {
	if to == StatusConfirmed {
		return nil, fmt.Errorf("%w: confirmation requires a verified payment", ErrInvalidTransition)
	}
	const maxAttempts = 3
	for attempt := 0; attempt < maxAttempts; attempt++ {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := checkTransition(current.Status, to); err != nil {
			return nil, err
		}
		b, err := scanBooking(s.db.QueryRow(ctx, `
			UPDATE bookings
			SET status = $3, reminder_fire_at = NULL, updated_at = now()
			WHERE id = $1 AND status = $2
			RETURNING `+bookingColumns,
			id, string(current.Status), string(to),
		))
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("bookings: update status: %w", err)
		}
	}
	return nil, fmt.Errorf("%w: status changed concurrently", ErrInvalidState)
}

func (s *PostgresStore) SetMeeting(ctx context.Context, id string, m Meeting) (bool, error) {
	if m.Empty() {
		return false, fmt.Errorf("bookings: set meeting: meeting id required")
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE bookings
		SET meeting_id = $2, participant_meeting_url = $3, host_meeting_url = $4, updated_at = now()
		WHERE id = $1 AND meeting_id IS NULL
	`, id, m.ID, nullText(m.ParticipantURL), nullText(m.HostURL))
	if err != nil {
		return false, fmt.Errorf("bookings: set meeting: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) SetReminder(ctx context.Context, id string, fireAt time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE bookings
		SET reminder_dispatched_at = CASE WHEN reminder_fire_at IS DISTINCT FROM $2 THEN NULL ELSE reminder_dispatched_at END,
			reminder_fire_at = $2,
			updated_at = now()
		WHERE id = $1
	`, id, fireAt)
	if err != nil {
		return fmt.Errorf("bookings: set reminder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ClearReminder(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `UPDATE bookings SET reminder_fire_at = NULL, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("bookings: clear reminder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListDueReminders(ctx context.Context, now time.Time, limit int) ([]*Booking, error) {
	return s.list(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'confirmed'
			AND payment_status = 'paid'
			AND reminder_fire_at <= $1
			AND reminder_dispatched_at IS NULL
		ORDER BY reminder_fire_at
		LIMIT $2
	`, now, limit)
}

func (s *PostgresStore) ClaimReminder(ctx context.Context, id string, fireAt, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE bookings
		SET reminder_dispatched_at = $3
		WHERE id = $1
			AND reminder_fire_at = $2
			AND reminder_dispatched_at IS NULL
			AND status = 'confirmed'
			AND payment_status = 'paid'
	`, id, fireAt, now)
	if err != nil {
		return false, fmt.Errorf("bookings: claim reminder: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ReleaseReminder(ctx context.Context, id string, fireAt time.Time) error {
	if _, err := s.db.Exec(ctx, `
		UPDATE bookings SET reminder_dispatched_at = NULL
		WHERE id = $1 AND reminder_fire_at = $2
	`, id, fireAt); err != nil {
		return fmt.Errorf("bookings: release reminder: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkConfirmationSent(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE bookings SET confirmation_sent_at = $2
		WHERE id = $1 AND confirmation_sent_at IS NULL
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("bookings: mark confirmation sent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ClaimFollowUp(ctx context.Context, id string, now, until time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE bookings SET followup_lease_until = $3
		WHERE id = $1
			AND status = 'confirmed'
			AND payment_status = 'paid'
			AND (followup_lease_until IS NULL OR followup_lease_until <= $2)
	`, id, now, until)
	if err != nil {
		return false, fmt.Errorf("bookings: claim follow-up: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ReleaseFollowUp(ctx context.Context, id string, until time.Time) error {
	if _, err := s.db.Exec(ctx, `
		UPDATE bookings SET followup_lease_until = NULL
		WHERE id = $1 AND followup_lease_until = $2
	`, id, until); err != nil {
		return fmt.Errorf("bookings: release follow-up: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPendingFollowUps(ctx context.Context, fromDate string, limit int) ([]*Booking, error) {
	return s.list(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'confirmed'
			AND payment_status = 'paid'
			AND booking_date >= $1
			AND (confirmation_sent_at IS NULL OR (consultation_type = 'video_call' AND meeting_id IS NULL))
		ORDER BY updated_at
		LIMIT $2
	`, fromDate, limit)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*Booking, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("bookings: list: %w", err)
	}
	defer rows.Close()

	var out []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("bookings: scan: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var (
		b                                 Booking
		consultationType, status, payment string
	)
	if err := row.Scan(
		&b.ID,
		&b.PetOwnerID,
		&b.VetID,
		&b.PetID,
		&b.BookingDate,
		&b.StartTime,
		&b.EndTime,
		&consultationType,
		&status,
		&payment,
		&b.GatewayOrderID,
		&b.GatewayPaymentID,
		&b.AmountMinor,
		&b.Currency,
		&b.MeetingID,
		&b.ParticipantMeetingURL,
		&b.HostMeetingURL,
		&b.Notes,
		&b.ReminderFireAt,
		&b.ReminderDispatchedAt,
		&b.ConfirmationSentAt,
		&b.CreatedAt,
		&b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	b.ConsultationType = ConsultationType(consultationType)
	b.Status = Status(status)
	b.PaymentStatus = PaymentStatus(payment)
	return &b, nil
}

func nullText(v string) *string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return &v
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
