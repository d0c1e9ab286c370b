// Package meetings provisions video rooms for video-call consultations.
package meetings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/vetcare-platform/internal/bookings"
	"github.com/wolfman30/vetcare-platform/pkg/logging"
)

// ErrProvider wraps any failure talking to the video provider, timeouts included.
var ErrProvider = errors.New("meetings: provider error")

var tracer = otel.Tracer("vetcare.internal.meetings")

// Request describes the room to create.
type Request struct {
	BookingID string
	Title     string
	Start     time.Time
	End       time.Time
}

// Provisioner creates meeting rooms.
type Provisioner interface {
	Provision(ctx context.Context, req Request) (*bookings.Meeting, error)
}

// Client calls the video provider's REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logging.Logger
	dryRun     bool
}

// NewClient creates a provider client whose requests are bounded by timeout.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// WithDryRun returns placeholder rooms instead of calling the provider.
func (c *Client) WithDryRun(enabled bool) *Client {
	c.dryRun = enabled
	return c
}

type createMeetingBody struct {
	Title       string `json:"title"`
	ExternalRef string `json:"external_ref"`
	StartsAt    string `json:"starts_at"`
	EndsAt      string `json:"ends_at"`
}

type createMeetingResponse struct {
	ID             string `json:"id"`
	ParticipantURL string `json:"participant_url"`
	HostURL        string `json:"host_url"`
}

// Provision implements Provisioner.
func (c *Client) Provision(ctx context.Context, req Request) (*bookings.Meeting, error) {
	ctx, span := tracer.Start(ctx, "meetings.provision")
	defer span.End()
	span.SetAttributes(attribute.String("vetcare.booking_id", req.BookingID))

	if c.dryRun {
		id := "dryrun-" + uuid.NewString()[:8]
		c.logger.Info("video provider dry run: skipping room creation", "booking_id", req.BookingID, "meeting_id", id)
		return &bookings.Meeting{
			ID:             id,
			ParticipantURL: "https://meet.invalid/" + id,
			HostURL:        "https://meet.invalid/" + id + "?host=1",
		}, nil
	}
	if c.baseURL == "" || c.apiKey == "" {
		return nil, fmt.Errorf("%w: provider not configured", ErrProvider)
	}

	payload, err := json.Marshal(createMeetingBody{
		Title:       req.Title,
		ExternalRef: req.BookingID,
		StartsAt:    req.Start.UTC().Format(time.RFC3339),
		EndsAt:      req.End.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("meetings: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/meetings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("meetings: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrProvider, resp.StatusCode, string(body))
	}

	var out createMeetingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrProvider, err)
	}
	m := &bookings.Meeting{ID: out.ID, ParticipantURL: out.ParticipantURL, HostURL: out.HostURL}
	if m.Empty() || m.ParticipantURL == "" {
		return nil, fmt.Errorf("%w: response missing meeting fields", ErrProvider)
	}
	c.logger.Info("meeting provisioned", "booking_id", req.BookingID, "meeting_id", m.ID)
	return m, nil
}

var _ Provisioner = (*Client)(nil)
