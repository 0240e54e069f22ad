// Package calcom is a typed client for the Cal.com v2 REST API. Every response
// envelope is normalized into pkg/model types, transport failures are retried
// with backoff, and non-2xx responses surface as *APIError values that unwrap
// to the package sentinels.
package calcom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/tanpawarit/Chative-Scheduling-Assistant/pkg/model"
)

const maxResponseBytes = 4 << 20

type Client struct {
	baseURL    string
	apiKey     string
	apiVersion string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      retryConfig
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. The configured timeout is
// ignored when this option is used.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		if l != nil {
			c.limiter = l
		}
	}
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("calcom base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("calcom base url: %w", err)
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("calcom api key is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}

	client := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiVersion: strings.TrimSpace(cfg.APIVersion),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		retry:      cfg.retryConfig(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

func MustNew(cfg Config, opts ...Option) *Client {
	client, err := NewClient(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return client
}

// BookingQuery filters ListBookings. Zero values are omitted from the request.
type BookingQuery struct {
	AttendeeEmail string
	Status        string
	AfterStart    *time.Time
	BeforeStart   *time.Time
}

type CreateBookingRequest struct {
	EventTypeID int64
	Start       time.Time
	Attendee    model.Attendee
	Reason      string
}

func (c *Client) ListEventTypes(ctx context.Context) ([]model.EventType, error) {
	data, err := c.do(ctx, "list_event_types", http.MethodGet, "/event-types", nil, nil)
	if err != nil {
		return nil, err
	}
	return normalizeEventTypes(data)
}

func (c *Client) ListAvailableSlots(ctx context.Context, eventTypeID int64, start, end time.Time) ([]model.Slot, error) {
	if eventTypeID <= 0 {
		return nil, fmt.Errorf("%w: event type id must be positive", ErrClient)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%w: end must be after start", ErrClient)
	}
	q := url.Values{}
	q.Set("eventTypeId", strconv.FormatInt(eventTypeID, 10))
	q.Set("startTime", formatTime(start))
	q.Set("endTime", formatTime(end))

	data, err := c.do(ctx, "list_available_slots", http.MethodGet, "/slots/available", q, nil)
	if err != nil {
		return nil, err
	}
	return normalizeSlots(data)
}

func (c *Client) ListBookings(ctx context.Context, query BookingQuery) ([]model.Booking, error) {
	q := url.Values{}
	if email := strings.TrimSpace(query.AttendeeEmail); email != "" {
		q.Set("attendeeEmail", email)
	}
	if status := strings.TrimSpace(query.Status); status != "" {
		q.Set("status", status)
	}
	if query.AfterStart != nil {
		q.Set("afterStart", formatTime(*query.AfterStart))
	}
	if query.BeforeStart != nil {
		q.Set("beforeStart", formatTime(*query.BeforeStart))
	}

	data, err := c.do(ctx, "list_bookings", http.MethodGet, "/bookings", q, nil)
	if err != nil {
		return nil, err
	}
	return normalizeBookings(data)
}

func (c *Client) CreateBooking(ctx context.Context, req CreateBookingRequest) (model.Booking, error) {
	if req.EventTypeID <= 0 {
		return model.Booking{}, fmt.Errorf("%w: event type id must be positive", ErrClient)
	}
	if strings.TrimSpace(req.Attendee.Email) == "" {
		return model.Booking{}, fmt.Errorf("%w: attendee email is required", ErrClient)
	}

	body := createBookingBody{
		Start:       formatTime(req.Start),
		EventTypeID: req.EventTypeID,
		Attendee: wireAttendee{
			Name:     strings.TrimSpace(req.Attendee.Name),
			Email:    strings.TrimSpace(req.Attendee.Email),
			TimeZone: firstNonEmpty(req.Attendee.TimeZone, "UTC"),
		},
	}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		body.Metadata = map[string]any{"reason": reason}
	}

	data, err := c.do(ctx, "create_booking", http.MethodPost, "/bookings", nil, body)
	if err != nil {
		return model.Booking{}, err
	}
	booking, err := normalizeBooking(data)
	if err != nil {
		return model.Booking{}, err
	}
	if booking.Reason == "" {
		booking.Reason = strings.TrimSpace(req.Reason)
	}
	return booking, nil
}

func (c *Client) CancelBooking(ctx context.Context, uid, reason string) error {
	uid, err := checkUID(uid)
	if err != nil {
		return err
	}
	body := cancelBookingBody{CancellationReason: strings.TrimSpace(reason)}
	_, err = c.do(ctx, "cancel_booking", http.MethodPost, "/bookings/"+url.PathEscape(uid)+"/cancel", nil, body)
	return err
}

func (c *Client) RescheduleBooking(ctx context.Context, uid string, newStart time.Time, reason string) (model.Booking, error) {
	uid, err := checkUID(uid)
	if err != nil {
		return model.Booking{}, err
	}
	body := rescheduleBookingBody{
		Start:              formatTime(newStart),
		ReschedulingReason: strings.TrimSpace(reason),
	}
	data, err := c.do(ctx, "reschedule_booking", http.MethodPost, "/bookings/"+url.PathEscape(uid)+"/reschedule", nil, body)
	if err != nil {
		return model.Booking{}, err
	}
	return normalizeBooking(data)
}

// checkUID rejects values that cannot be a booking uid. The service-internal
// numeric id is never a valid reference for cancel or reschedule.
func checkUID(uid string) (string, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return "", fmt.Errorf("%w: booking uid is required", ErrInvalidReference)
	}
	if _, err := strconv.ParseInt(uid, 10, 64); err == nil {
		return "", fmt.Errorf("%w: %q is a numeric id, not a booking uid", ErrInvalidReference, uid)
	}
	return uid, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body any) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("calcom: encode %s: %w", op, err)
		}
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var data json.RawMessage
	err := retryOp(ctx, c.retry, op, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		data, err = c.send(ctx, method, endpoint, payload)
		return err
	})
	if err != nil {
		log.Debug().Err(err).Str("op", op).Str("method", method).Str("path", path).Msg("calcom: request failed")
		return nil, err
	}
	return data, nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, payload []byte) (json.RawMessage, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("calcom: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if c.apiVersion != "" {
		req.Header.Set("cal-api-version", c.apiVersion)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	env, decodeErr := decodeEnvelope(raw)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code, message := env.errorMessage()
		if decodeErr != nil || message == "" {
			message = strings.TrimSpace(string(raw))
		}
		return nil, newAPIError(resp.StatusCode, code, message)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrServer, decodeErr)
	}
	if strings.EqualFold(env.Status, "error") {
		code, message := env.errorMessage()
		return nil, newAPIError(http.StatusBadRequest, code, message)
	}
	return env.Data, nil
}

func newAPIError(status int, code, message string) *APIError {
	return &APIError{
		Status:  status,
		Code:    code,
		Message: message,
		kind:    classifyStatus(status, code, message),
	}
}

var slotUnavailableHints = []string{
	"slot unavailable",
	"not available",
	"no longer available",
	"already booked",
	"already has booking",
	"booking conflict",
}

func classifyStatus(status int, code, message string) error {
	switch {
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusConflict:
		return ErrSlotUnavailable
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		text := strings.ToLower(code + " " + message)
		for _, hint := range slotUnavailableHints {
			if strings.Contains(text, hint) {
				return ErrSlotUnavailable
			}
		}
		return ErrClient
	case status >= 500:
		return ErrServer
	default:
		return ErrClient
	}
}
