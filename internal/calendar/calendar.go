// Package calendar is a minimal Google Calendar v3 REST client: find an
// event by its idempotency key and create one.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/abelbrown/recall/internal/logging"
)

// Sentinel errors. APIError unwraps to one of them.
var (
	ErrNotFound      = errors.New("calendar event not found")
	ErrAuthExpired   = errors.New("calendar auth expired")
	ErrQuotaExceeded = errors.New("calendar quota exceeded")
	ErrUnavailable   = errors.New("calendar unavailable")
)

// keyProperty is the private extended property holding the idempotency key.
const keyProperty = "recallKey"

// APIError is a non-2xx answer from the calendar API.
type APIError struct {
	Status  int
	Reason  string
	Message string
	kind    error
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("calendar API error (status %d, %s): %s", e.Status, e.Reason, e.Message)
	}
	return fmt.Sprintf("calendar API error (status %d): %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return e.kind }

// Event is what gets written to the calendar.
type Event struct {
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	Attendee    string // optional
	Key         string // idempotency key
}

// Config configures a Client.
type Config struct {
	Endpoint   string // default https://www.googleapis.com/calendar/v3
	CalendarID string // default "primary"
	Token      string // OAuth access token
	TimeZone   string // IANA zone written on events
	Timeout    time.Duration
}

// Client talks to one calendar.
type Client struct {
	endpoint   string
	calendarID string
	token      string
	timeZone   string
	httpClient *http.Client
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://www.googleapis.com/calendar/v3"
	}
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		calendarID: cfg.CalendarID,
		token:      cfg.Token,
		timeZone:   cfg.TimeZone,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type eventTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone,omitempty"`
}

type attendee struct {
	Email string `json:"email"`
}

type eventBody struct {
	ID                 string      `json:"id,omitempty"`
	Summary            string      `json:"summary"`
	Description        string      `json:"description,omitempty"`
	Start              eventTime   `json:"start"`
	End                eventTime   `json:"end"`
	Attendees          []attendee  `json:"attendees,omitempty"`
	ExtendedProperties *properties `json:"extendedProperties,omitempty"`
	HTMLLink           string      `json:"htmlLink,omitempty"`
}

type properties struct {
	Private map[string]string `json:"private"`
}

func (c *Client) eventsURL() string {
	return c.endpoint + "/calendars/" + url.PathEscape(c.calendarID) + "/events"
}

// FindEvent returns the id of a live event carrying key, or ErrNotFound.
func (c *Client) FindEvent(ctx context.Context, key string) (string, error) {
	q := url.Values{}
	q.Set("privateExtendedProperty", keyProperty+"="+key)
	q.Set("showDeleted", "false")
	q.Set("maxResults", "1")

	var out struct {
		Items []eventBody `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, c.eventsURL()+"?"+q.Encode(), nil, &out); err != nil {
		return "", fmt.Errorf("find event: %w", err)
	}
	if len(out.Items) == 0 {
		return "", ErrNotFound
	}
	return out.Items[0].ID, nil
}

// CreateEvent inserts ev and returns the new event id.
func (c *Client) CreateEvent(ctx context.Context, ev Event) (string, error) {
	body := eventBody{
		Summary:     ev.Title,
		Description: ev.Description,
		Start:       eventTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: c.timeZone},
		End:         eventTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: c.timeZone},
		ExtendedProperties: &properties{
			Private: map[string]string{keyProperty: ev.Key},
		},
	}
	if ev.Attendee != "" {
		body.Attendees = []attendee{{Email: ev.Attendee}}
	}

	var out eventBody
	if err := c.do(ctx, http.MethodPost, c.eventsURL(), body, &out); err != nil {
		return "", fmt.Errorf("create event: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("create event: %w: response has no event id", ErrUnavailable)
	}
	logging.Info("calendar event created", "event_id", out.ID, "link", out.HTMLLink)
	return out.ID, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, in, out any) error {
	if c.token == "" {
		return fmt.Errorf("%w: no access token configured", ErrAuthExpired)
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	logging.Debug("calendar request", "method", method, "calendar", c.calendarID)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
		}
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %w", ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := parseError(resp.StatusCode, data)
		logging.Warn("calendar request failed", "method", method, "status", resp.StatusCode, "reason", apiErr.Reason)
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%w: decode response: %w", ErrUnavailable, err)
		}
	}
	return nil
}

// parseError classifies a Google API error body.
func parseError(status int, body []byte) *APIError {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Errors  []struct {
				Reason string `json:"reason"`
			} `json:"errors"`
		} `json:"error"`
	}
	apiErr := &APIError{Status: status}
	if json.Unmarshal(body, &envelope) == nil {
		apiErr.Message = envelope.Error.Message
		if len(envelope.Error.Errors) > 0 {
			apiErr.Reason = envelope.Error.Errors[0].Reason
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}

	switch {
	case status == http.StatusUnauthorized:
		apiErr.kind = ErrAuthExpired
	case status == http.StatusTooManyRequests:
		apiErr.kind = ErrQuotaExceeded
	case status == http.StatusForbidden && isQuotaReason(apiErr.Reason):
		apiErr.kind = ErrQuotaExceeded
	case status == http.StatusForbidden:
		apiErr.kind = ErrAuthExpired
	default:
		apiErr.kind = ErrUnavailable
	}
	return apiErr
}

func isQuotaReason(reason string) bool {
	switch reason {
	case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded", "dailyLimitExceeded":
		return true
	}
	return false
}
