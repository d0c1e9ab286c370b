package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/vetcare-platform/internal/bookings"
	"github.com/wolfman30/vetcare-platform/internal/directory"
	"github.com/wolfman30/vetcare-platform/pkg/logging"
)

// ErrNoRecipient means neither party of the booking has a usable email.
var ErrNoRecipient = errors.New("notify: no recipient for booking")

// Dispatcher renders booking notices and hands them to an EmailSender.
type Dispatcher struct {
	email    EmailSender
	contacts directory.Lookup
	loc      *time.Location
	appURL   string
	logger   *logging.Logger
}

// NewDispatcher creates a dispatcher. Slot times are rendered in loc and
// join links point at appURL.
func NewDispatcher(email EmailSender, contacts directory.Lookup, loc *time.Location, appURL string, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Dispatcher{
		email:    email,
		contacts: contacts,
		loc:      loc,
		appURL:   strings.TrimRight(appURL, "/"),
		logger:   logger,
	}
}

// BookingConfirmed tells the owner and vet that the consultation is booked.
func (d *Dispatcher) BookingConfirmed(ctx context.Context, b *bookings.Booking) error {
	return d.deliver(ctx, b, KindConfirmation, "Consultation confirmed", func(to directory.Contact, isVet bool) string {
		var sb strings.Builder
		fmt.Fprintf(&sb, "Hi %s,\n\n", greetingName(to))
		fmt.Fprintf(&sb, "Your %s consultation on %s is confirmed.\n", consultationLabel(b.ConsultationType), d.slot(b))
		if b.AmountMinor > 0 && !isVet {
			fmt.Fprintf(&sb, "Amount paid: %s\n", formatAmount(b.AmountMinor, b.Currency))
		}
		d.writeJoinHint(&sb, b)
		return sb.String()
	})
}

// Reminder is sent shortly before the consultation starts.
func (d *Dispatcher) Reminder(ctx context.Context, b *bookings.Booking) error {
	return d.deliver(ctx, b, KindReminder, "Your consultation starts soon", func(to directory.Contact, isVet bool) string {
		var sb strings.Builder
		fmt.Fprintf(&sb, "Hi %s,\n\n", greetingName(to))
		fmt.Fprintf(&sb, "Reminder: your %s consultation starts at %s.\n", consultationLabel(b.ConsultationType), d.slot(b))
		d.writeJoinHint(&sb, b)
		return sb.String()
	})
}

func (d *Dispatcher) deliver(ctx context.Context, b *bookings.Booking, kind Kind, subject string, render func(directory.Contact, bool) string) error {
	if d.email == nil || d.contacts == nil {
		d.logger.Debug("notify: email or directory not configured, skipping", "booking_id", b.ID)
		return nil
	}
	contacts, err := d.contacts.Contacts(ctx, b.PetOwnerID, b.VetID)
	if err != nil {
		return fmt.Errorf("notify: lookup contacts: %w", err)
	}

	sent := 0
	var errs []error
	for _, party := range []struct {
		id    string
		role  string
		isVet bool
	}{{b.PetOwnerID, "owner", false}, {b.VetID, "vet", true}} {
		c, ok := contacts[party.id]
		if !ok || strings.TrimSpace(c.Email) == "" {
			continue
		}
		msg := EmailMessage{
			To:        c.Email,
			ToName:    c.Name,
			Subject:   subject,
			Body:      render(c, party.isVet),
			BookingID: b.ID,
			Kind:      kind,
		}
		if err := d.email.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("notify: send to %s: %w", party.role, err))
			continue
		}
		sent++
	}
	if len(errs) > 0 && sent == 0 {
		return errors.Join(errs...)
	}
	// Once any party has the notice the whole send counts as done; a retry
	// would repeat it for the parties that already got it.
	for _, err := range errs {
		d.logger.Warn("notify: notice not delivered to every party",
			"booking_id", b.ID,
			"kind", string(kind),
			"error", err,
		)
	}
	if sent == 0 {
		d.logger.Warn("notify: booking has no reachable recipients", "booking_id", b.ID)
		return ErrNoRecipient
	}
	return nil
}

func (d *Dispatcher) slot(b *bookings.Booking) string {
	start, end, err := b.Schedule().Window(d.loc)
	if err != nil {
		return fmt.Sprintf("%s %s-%s", b.BookingDate, b.StartTime, b.EndTime)
	}
	return fmt.Sprintf("%s, %s-%s (%s)", start.Format("Monday, January 2"), start.Format("3:04 PM"), end.Format("3:04 PM"), start.Format("MST"))
}

func (d *Dispatcher) writeJoinHint(sb *strings.Builder, b *bookings.Booking) {
	if b.ConsultationType != bookings.ConsultationVideo {
		return
	}
	if d.appURL == "" {
		sb.WriteString("The video link opens 15 minutes before the start time.\n")
		return
	}
	fmt.Fprintf(sb, "Join from %s/bookings/%s/join, which opens 15 minutes before the start time.\n", d.appURL, b.ID)
}

func greetingName(c directory.Contact) string {
	if name := strings.TrimSpace(c.Name); name != "" {
		return name
	}
	return "there"
}

func consultationLabel(t bookings.ConsultationType) string {
	if t == bookings.ConsultationVideo {
		return "video"
	}
	return "in-clinic"
}

func formatAmount(minor int64, currency string) string {
	return fmt.Sprintf("%s %d.%02d", strings.ToUpper(currency), minor/100, minor%100)
}
