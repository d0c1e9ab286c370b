package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/vetcare-platform/pkg/logging"
)

var gatewayTracer = otel.Tracer("vetcare.internal.payments.gateway")

// OrderRequest describes a gateway order to create.
type OrderRequest struct {
	AmountMinor int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

// Order is the gateway's view of a created order.
type Order struct {
	ID          string `json:"id"`
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
}

// OrderCreator creates payment orders at the gateway.
type OrderCreator interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
}

// OrdersClient talks to a Razorpay-compatible orders API.
type OrdersClient struct {
	keyID      string
	keySecret  string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
	dryRun     bool
}

// NewOrdersClient creates an orders client. Requests are bounded by timeout;
// a timeout is reported as a failure.
func NewOrdersClient(keyID, keySecret string, timeout time.Duration, logger *logging.Logger) *OrdersClient {
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OrdersClient{
		keyID:      keyID,
		keySecret:  keySecret,
		baseURL:    "https://api.razorpay.com",
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// WithBaseURL overrides the gateway base URL (for testing).
func (c *OrdersClient) WithBaseURL(baseURL string) *OrdersClient {
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	return c
}

// WithDryRun returns fake orders without calling the gateway.
func (c *OrdersClient) WithDryRun(enabled bool) *OrdersClient {
	c.dryRun = enabled
	return c
}

// KeyID is the public key id handed to clients for the checkout widget.
func (c *OrdersClient) KeyID() string {
	return c.keyID
}

type createOrderBody struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt,omitempty"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// CreateOrder implements OrderCreator.
func (c *OrdersClient) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	ctx, span := gatewayTracer.Start(ctx, "gateway.create_order")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("vetcare.amount_minor", req.AmountMinor),
		attribute.String("vetcare.currency", req.Currency),
		attribute.String("vetcare.booking_id", req.Notes[NoteBookingID]),
	)

	if c.dryRun {
		fakeID := "order_dryrun_" + uuid.New().String()[:8]
		c.logger.Info("gateway dry run: skipping order creation",
			"booking_id", req.Notes[NoteBookingID], "amount_minor", req.AmountMinor)
		return &Order{ID: fakeID, AmountMinor: req.AmountMinor, Currency: req.Currency, Status: "created"}, nil
	}
	if c.keyID == "" || c.keySecret == "" {
		return nil, fmt.Errorf("%w: gateway credentials not configured", ErrGateway)
	}

	payload, err := json.Marshal(createOrderBody{
		Amount:   req.AmountMinor,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Notes:    req.Notes,
	})
	if err != nil {
		return nil, fmt.Errorf("payments: encode order: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("payments: gateway request: %w", err)
	}
	httpReq.SetBasicAuth(c.keyID, c.keySecret)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrGateway, resp.StatusCode, string(body))
	}

	var order Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrGateway, err)
	}
	if order.ID == "" {
		return nil, fmt.Errorf("%w: response missing order id", ErrGateway)
	}
	return &order, nil
}
