package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/vetcare-platform/internal/bookings"
	"github.com/wolfman30/vetcare-platform/internal/identity"
	"github.com/wolfman30/vetcare-platform/internal/observability/metrics"
	"github.com/wolfman30/vetcare-platform/pkg/logging"
)

var checkoutTracer = otel.Tracer("vetcare.internal.payments.checkout")

// CheckoutRequest starts payment for a new or existing draft booking.
type CheckoutRequest struct {
	BookingID        string                    `json:"bookingId,omitempty"`
	VetID            string                    `json:"vetId"`
	PetID            string                    `json:"petId"`
	Schedule         bookings.Schedule         `json:"schedule"`
	ConsultationType bookings.ConsultationType `json:"consultationType"`
	Notes            string                    `json:"notes,omitempty"`
	// Fee is the vet's consultation fee in major currency units.
	Fee            float64           `json:"fee"`
	MeetingDetails *bookings.Meeting `json:"meetingDetails,omitempty"`
}

// CheckoutSession is returned to the client to open the gateway widget.
type CheckoutSession struct {
	OrderID            string `json:"orderId"`
	Amount             int64  `json:"amount"`
	Currency           string `json:"currency"`
	GatewayPublicKeyID string `json:"gatewayPublicKeyId"`
	BookingID          string `json:"bookingId"`
}

type checkoutStore interface {
	Get(ctx context.Context, id string) (*bookings.Booking, error)
	AttachOrder(ctx context.Context, id, orderID string, amountMinor int64, currency string) error
}

type draftCreator interface {
	ValidateDraft(d bookings.Draft) error
	CreateDraft(ctx context.Context, d bookings.Draft) (*bookings.Booking, error)
}

type checkoutLimiter interface {
	CheckCheckout(ctx context.Context, ownerID string) (*VelocityResult, error)
}

// CheckoutService creates gateway orders and the pending bookings they pay
// for. A gateway failure never leaves a booking mutated.
type CheckoutService struct {
	store       checkoutStore
	drafts      draftCreator
	orders      OrderCreator
	publicKeyID string
	currency    string
	limiter     checkoutLimiter
	metrics     *metrics.BookingMetrics
	logger      *logging.Logger
}

// NewCheckoutService wires the checkout flow.
func NewCheckoutService(store checkoutStore, drafts draftCreator, orders OrderCreator, publicKeyID, currency string, logger *logging.Logger) *CheckoutService {
	if logger == nil {
		logger = logging.Default()
	}
	if currency == "" {
		currency = "INR"
	}
	return &CheckoutService{
		store:       store,
		drafts:      drafts,
		orders:      orders,
		publicKeyID: publicKeyID,
		currency:    strings.ToUpper(currency),
		logger:      logger,
	}
}

// WithLimiter enables per-owner checkout throttling.
func (s *CheckoutService) WithLimiter(limiter checkoutLimiter) *CheckoutService {
	s.limiter = limiter
	return s
}

// WithMetrics records checkout outcomes.
func (s *CheckoutService) WithMetrics(m *metrics.BookingMetrics) *CheckoutService {
	s.metrics = m
	return s
}

// Start creates the gateway order. With a bookingId the order is attached to
// that draft; otherwise a new draft is created carrying the order id.
func (s *CheckoutService) Start(ctx context.Context, actor identity.Actor, req CheckoutRequest) (*CheckoutSession, error) {
	ctx, span := checkoutTracer.Start(ctx, "payments.checkout_start")
	defer span.End()

	session, err := s.start(ctx, actor, req)
	if err != nil {
		span.RecordError(err)
		s.metrics.ObserveCheckout(checkoutResult(err))
		return nil, err
	}
	span.SetAttributes(
		attribute.String("vetcare.booking_id", session.BookingID),
		attribute.String("vetcare.order_id", session.OrderID),
		attribute.Int64("vetcare.amount_minor", session.Amount),
	)
	s.metrics.ObserveCheckout("created")
	s.logger.Info("checkout session created",
		"booking_id", session.BookingID,
		"order_id", session.OrderID,
		"amount_minor", session.Amount,
	)
	return session, nil
}

func (s *CheckoutService) start(ctx context.Context, actor identity.Actor, req CheckoutRequest) (*CheckoutSession, error) {
	feeMinor, ok := FeeMinor(req.Fee)
	if !ok {
		return nil, fmt.Errorf("%w: fee must be positive and at most %d minor units", ErrInvalidCheckout, MaxFeeMinor)
	}
	if s.limiter != nil {
		result, err := s.limiter.CheckCheckout(ctx, actor.ID)
		if err != nil {
			return nil, err
		}
		if !result.Allowed {
			return nil, fmt.Errorf("%w: %s", ErrCheckoutThrottled, result.Message)
		}
	}
	amount := ChargeMinor(feeMinor)

	if strings.TrimSpace(req.BookingID) != "" {
		return s.startExisting(ctx, actor, req, amount)
	}

	draft := bookings.Draft{
		ID:               uuid.NewString(),
		PetOwnerID:       actor.ID,
		VetID:            req.VetID,
		PetID:            req.PetID,
		Schedule:         req.Schedule,
		ConsultationType: req.ConsultationType,
		Notes:            req.Notes,
		AmountMinor:      amount,
		Currency:         s.currency,
	}
	if err := s.drafts.ValidateDraft(draft); err != nil {
		return nil, err
	}
	order, err := s.orders.CreateOrder(ctx, OrderRequest{
		AmountMinor: amount,
		Currency:    s.currency,
		Receipt:     draft.ID,
		Notes:       orderNotes(draft.ID, actor.ID, draft.VetID, draft.PetID, draft.ConsultationType, draft.Schedule, req.MeetingDetails),
	})
	if err != nil {
		return nil, err
	}
	draft.GatewayOrderID = order.ID
	b, err := s.drafts.CreateDraft(ctx, draft)
	if err != nil {
		return nil, fmt.Errorf("payments: create draft after order %s: %w", order.ID, err)
	}
	return s.session(order, b.ID, amount), nil
}

func (s *CheckoutService) startExisting(ctx context.Context, actor identity.Actor, req CheckoutRequest, amount int64) (*CheckoutSession, error) {
	b, err := s.store.Get(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	if b.PetOwnerID != actor.ID && !actor.Role.Elevated() {
		return nil, bookings.ErrForbidden
	}
	if b.Status != bookings.StatusPending || b.PaymentStatus != bookings.PaymentUnpaid {
		return nil, fmt.Errorf("%w: booking is %s/%s", bookings.ErrInvalidState, b.Status, b.PaymentStatus)
	}
	order, err := s.orders.CreateOrder(ctx, OrderRequest{
		AmountMinor: amount,
		Currency:    s.currency,
		Receipt:     b.ID,
		Notes:       orderNotes(b.ID, b.PetOwnerID, b.VetID, b.PetID, b.ConsultationType, b.Schedule(), req.MeetingDetails),
	})
	if err != nil {
		return nil, err
	}
	if err := s.store.AttachOrder(ctx, b.ID, order.ID, amount, s.currency); err != nil {
		return nil, err
	}
	return s.session(order, b.ID, amount), nil
}

func (s *CheckoutService) session(order *Order, bookingID string, amount int64) *CheckoutSession {
	return &CheckoutSession{
		OrderID:            order.ID,
		Amount:             amount,
		Currency:           s.currency,
		GatewayPublicKeyID: s.publicKeyID,
		BookingID:          bookingID,
	}
}

func orderNotes(bookingID, ownerID, vetID, petID string, ct bookings.ConsultationType, sched bookings.Schedule, meeting *bookings.Meeting) map[string]string {
	notes := map[string]string{
		NoteBookingID:        bookingID,
		NoteUserID:           ownerID,
		NoteVetID:            vetID,
		NotePetID:            petID,
		NoteConsultationType: string(ct),
		NoteBookingDate:      sched.Date,
		NoteStartTime:        sched.StartTime,
		NoteEndTime:          sched.EndTime,
	}
	if hint := encodeMeetingHint(meeting); hint != "" {
		notes[NoteMeetingDetails] = hint
	}
	return notes
}

func checkoutResult(err error) string {
	switch {
	case errors.Is(err, ErrGateway):
		return "gateway_error"
	case errors.Is(err, ErrCheckoutThrottled):
		return "throttled"
	default:
		return "rejected"
	}
}
