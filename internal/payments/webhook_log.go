package payments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Webhook outcomes recorded for every delivery.
const (
	OutcomeRejectedSignature = "rejected_signature"
	OutcomeMalformed         = "malformed"
	OutcomeIgnored           = "ignored"
	OutcomeDuplicate         = "duplicate"
	OutcomeApplied           = "applied"
	OutcomeUnreconciled      = "unreconciled"
	OutcomeError             = "error"
)

// WebhookRecord is one row of the delivery log.
type WebhookRecord struct {
	Event      string    `json:"event"`
	PaymentID  string    `json:"paymentId,omitempty"`
	BookingID  string    `json:"bookingId,omitempty"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	BodySHA256 string    `json:"bodySha256"`
	ReceivedAt time.Time `json:"receivedAt"`
}

type logDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// WebhookLog persists webhook deliveries for security review and manual
// reconciliation. Bodies are stored only as a digest.
type WebhookLog struct {
	db logDB
}

// NewWebhookLog creates a log backed by pgx.
func NewWebhookLog(db logDB) *WebhookLog {
	if db == nil {
		panic("payments: db required")
	}
	return &WebhookLog{db: db}
}

// Record appends a delivery.
func (l *WebhookLog) Record(ctx context.Context, rec WebhookRecord) error {
	query := `
		INSERT INTO webhook_events (event, payment_id, booking_id, outcome, detail, body_sha256, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := l.db.Exec(ctx, query,
		rec.Event,
		rec.PaymentID,
		rec.BookingID,
		rec.Outcome,
		rec.Detail,
		rec.BodySHA256,
		rec.ReceivedAt,
	); err != nil {
		return fmt.Errorf("payments: record webhook: %w", err)
	}
	return nil
}

// ListByOutcome returns the most recent deliveries with the given outcome.
func (l *WebhookLog) ListByOutcome(ctx context.Context, outcome string, limit int) ([]WebhookRecord, error) {
	rows, err := l.db.Query(ctx, `
		SELECT event, payment_id, booking_id, outcome, detail, body_sha256, received_at
		FROM webhook_events
		WHERE outcome = $1
		ORDER BY received_at DESC
		LIMIT $2
	`, outcome, limit)
	if err != nil {
		return nil, fmt.Errorf("payments: list webhooks: %w", err)
	}
	defer rows.Close()

	var out []WebhookRecord
	for rows.Next() {
		var rec WebhookRecord
		if err := rows.Scan(&rec.Event, &rec.PaymentID, &rec.BookingID, &rec.Outcome, &rec.Detail, &rec.BodySHA256, &rec.ReceivedAt); err != nil {
			return nil, fmt.Errorf("payments: scan webhook: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func bodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
