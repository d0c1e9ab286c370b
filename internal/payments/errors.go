package payments

import "errors"

var (
	// ErrInvalidSignature is returned when a webhook body does not match its
	// HMAC signature.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrMalformedEvent is returned when a webhook body cannot be parsed.
	ErrMalformedEvent = errors.New("payments: malformed webhook event")
	// ErrMissingMetadata is returned when a payment event lacks the fields
	// needed to locate the booking.
	ErrMissingMetadata = errors.New("payments: payment event missing metadata")
	// ErrGateway wraps failures talking to the payment gateway.
	ErrGateway           = errors.New("payments: gateway request failed")
	ErrInvalidCheckout   = errors.New("payments: invalid checkout request")
	ErrCheckoutThrottled = errors.New("payments: too many checkout attempts")
)
