// Package notify sends booking notices to pet owners and vets.
package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/vetcare-platform/pkg/logging"
)

// Kind classifies a notice so providers can tag and report on it.
type Kind string

const (
	KindConfirmation Kind = "booking_confirmed"
	KindReminder     Kind = "booking_reminder"
)

const defaultFromName = "VetCare"

// EmailSender delivers a single email.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is one notice to one recipient. Body is plain text.
type EmailMessage struct {
	To        string
	ToName    string
	Subject   string
	Body      string
	BookingID string
	Kind      Kind
}

// SendGridConfig configures the SendGrid sender.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// sendGridAPI returns the HTTP status of an accepted request.
type sendGridAPI interface {
	send(ctx context.Context, email *mail.SGMailV3) (int, error)
}

type sendGridClient struct {
	client *sendgrid.Client
}

func (c sendGridClient) send(ctx context.Context, email *mail.SGMailV3) (int, error) {
	resp, err := c.client.SendWithContext(ctx, email)
	if err != nil {
		return 0, err
	}
	return resp.StatusCode, nil
}

// SendGridSender sends notices through the SendGrid v3 API. Each message
// carries the booking id as a custom arg and the notice kind as a category
// so bounces can be traced back to a booking.
type SendGridSender struct {
	client sendGridAPI
	from   *mail.Email
	logger *logging.Logger
}

// NewSendGridSender returns nil when no API key is configured.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	return newSendGridSender(sendGridClient{sendgrid.NewSendClient(cfg.APIKey)}, cfg, logger)
}

func newSendGridSender(client sendGridAPI, cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	return &SendGridSender{
		client: client,
		from:   mail.NewEmail(cfg.FromName, cfg.FromEmail),
		logger: logger,
	}
}

func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}

	message := mail.NewSingleEmailPlainText(s.from, msg.Subject, mail.NewEmail(msg.ToName, msg.To), msg.Body)
	if msg.Kind != "" {
		message.AddCategories(string(msg.Kind))
	}
	if msg.BookingID != "" && len(message.Personalizations) > 0 {
		message.Personalizations[0].SetCustomArg("booking_id", msg.BookingID)
	}

	status, err := s.client.send(ctx, message)
	if err != nil {
		return fmt.Errorf("notify: sendgrid send: %w", err)
	}
	if status >= 400 {
		return fmt.Errorf("notify: sendgrid returned status %d", status)
	}
	s.logger.Info("notice sent", "provider", "sendgrid", "booking_id", msg.BookingID, "kind", msg.Kind, "status", status)
	return nil
}

// StubEmailSender logs instead of sending.
type StubEmailSender struct {
	logger *logging.Logger
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	s.logger.Info("notice not sent (stub sender)", "booking_id", msg.BookingID, "kind", msg.Kind, "subject", msg.Subject)
	return nil
}

var (
	_ EmailSender = (*SendGridSender)(nil)
	_ EmailSender = (*StubEmailSender)(nil)
)
