// Package dispatch turns a resolved date into a calendar event, falling
// back to an emailed invitation when the calendar cannot be used.
//
// The calendar is always tried first and email only after it has failed;
// the two channels are never attempted in parallel. Repeated dispatches for
// the same page and instant are detected through an idempotency key stored
// on the calendar event.
package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/abelbrown/recall/internal/calendar"
	"github.com/abelbrown/recall/internal/logging"
	"github.com/abelbrown/recall/internal/mail"
)

// ErrDispatchFailed means both channels failed. It is carried by *FailedError.
var ErrDispatchFailed = errors.New("event dispatch failed")

var errNotConfigured = errors.New("not configured")

// State is a step of a single dispatch.
type State string

const (
	Pending           State = "pending"
	CalendarAttempted State = "calendar_attempted"
	CalendarSucceeded State = "calendar_succeeded"
	EmailAttempted    State = "email_attempted"
	EmailSucceeded    State = "email_succeeded"
	Failed            State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == CalendarSucceeded || s == EmailSucceeded || s == Failed
}

// Channel is where the event ended up.
type Channel string

const (
	ChannelCalendar Channel = "calendar"
	ChannelEmail    Channel = "email"
	ChannelNone     Channel = "none"
)

// Calendar is the calendar collaborator.
type Calendar interface {
	FindEvent(ctx context.Context, key string) (string, error)
	CreateEvent(ctx context.Context, ev calendar.Event) (string, error)
}

// Mailer is the email collaborator.
type Mailer interface {
	SendInvitation(ctx context.Context, inv mail.Invitation) (string, error)
}

// Request asks for one event.
type Request struct {
	PageID      int64
	Start       time.Time
	Title       string
	Description string
	Attendee    string // optional
}

// Result reports the outcome. Exactly one of the channels succeeded when
// Created is true; on failure both causes are kept.
type Result struct {
	Created      bool
	Channel      Channel
	ID           string // calendar event id or email Message-ID
	Key          string
	FallbackUsed bool
	Existing     bool // the calendar already had an event with Key
	State        State
	Transitions  []State
	CalendarErr  error
	EmailErr     error
}

// FailedError is returned when neither channel succeeded.
type FailedError struct {
	Key         string
	CalendarErr error
	EmailErr    error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("event dispatch failed: calendar: %v; email: %v", e.CalendarErr, e.EmailErr)
}

// Unwrap exposes ErrDispatchFailed and both causes to errors.Is/As.
func (e *FailedError) Unwrap() []error {
	return []error{ErrDispatchFailed, e.CalendarErr, e.EmailErr}
}

// Options tunes event details.
type Options struct {
	Duration time.Duration // event length; default 1h
}

// Dispatcher is stateless between requests and safe for concurrent use.
type Dispatcher struct {
	calendar Calendar
	mailer   Mailer
	duration time.Duration
}

// New creates a Dispatcher. Either collaborator may be nil, which counts as
// a failure of that channel.
func New(cal Calendar, mailer Mailer, opts Options) *Dispatcher {
	if opts.Duration <= 0 {
		opts.Duration = time.Hour
	}
	return &Dispatcher{calendar: cal, mailer: mailer, duration: opts.Duration}
}

// Key derives the idempotency key for a page and instant.
func Key(pageID int64, start time.Time) string {
	sum := sha256.Sum256([]byte(strconv.FormatInt(pageID, 10) + "|" + start.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(sum[:])
}

// Dispatch runs Pending -> CalendarAttempted -> {CalendarSucceeded |
// EmailAttempted -> {EmailSucceeded | Failed}}. A non-nil error is always a
// *FailedError; the returned Result is filled in either way.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	res := Result{Key: Key(req.PageID, req.Start), Channel: ChannelNone}
	advance := func(s State) {
		res.State = s
		res.Transitions = append(res.Transitions, s)
	}
	advance(Pending)

	ctx, span := otel.Tracer("recall/dispatch").Start(ctx, "dispatch.Dispatch", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.Int64("recall.page_id", req.PageID), attribute.String("recall.key", res.Key))

	title := req.Title
	if title == "" {
		title = "Event from Recall"
	}
	end := req.Start.Add(d.duration)

	advance(CalendarAttempted)
	id, existing, err := d.tryCalendar(ctx, calendar.Event{
		Title:       title,
		Description: req.Description,
		Start:       req.Start,
		End:         end,
		Attendee:    req.Attendee,
		Key:         res.Key,
	})
	if err == nil {
		advance(CalendarSucceeded)
		res.Created, res.Channel, res.ID, res.Existing = true, ChannelCalendar, id, existing
		logging.Info("event dispatched", "page_id", req.PageID, "channel", res.Channel, "existing", existing)
		return res, nil
	}
	res.CalendarErr = err
	logging.Warn("calendar failed, falling back to email", "page_id", req.PageID, "err", err)

	advance(EmailAttempted)
	res.FallbackUsed = true
	id, err = d.tryEmail(ctx, mail.Invitation{
		To:          req.Attendee,
		Title:       title,
		Description: req.Description,
		Start:       req.Start,
		End:         end,
		UID:         res.Key + "@recall",
	})
	if err == nil {
		advance(EmailSucceeded)
		res.Created, res.Channel, res.ID = true, ChannelEmail, id
		logging.Info("event dispatched", "page_id", req.PageID, "channel", res.Channel)
		return res, nil
	}
	res.EmailErr = err

	advance(Failed)
	failure := &FailedError{Key: res.Key, CalendarErr: res.CalendarErr, EmailErr: res.EmailErr}
	logging.Error("event dispatch failed", "page_id", req.PageID, "calendar_err", res.CalendarErr, "email_err", res.EmailErr)
	span.RecordError(failure)
	span.SetStatus(codes.Error, failure.Error())
	return res, failure
}

// tryCalendar looks up the key first and only creates when nothing exists.
func (d *Dispatcher) tryCalendar(ctx context.Context, ev calendar.Event) (id string, existing bool, err error) {
	if d.calendar == nil {
		return "", false, fmt.Errorf("calendar %w", errNotConfigured)
	}
	id, err = d.calendar.FindEvent(ctx, ev.Key)
	switch {
	case err == nil && id != "":
		return id, true, nil
	case err != nil && !errors.Is(err, calendar.ErrNotFound):
		return "", false, err
	}
	id, err = d.calendar.CreateEvent(ctx, ev)
	if err != nil {
		return "", false, err
	}
	return id, false, nil
}

func (d *Dispatcher) tryEmail(ctx context.Context, inv mail.Invitation) (string, error) {
	if d.mailer == nil {
		return "", fmt.Errorf("email %w", errNotConfigured)
	}
	return d.mailer.SendInvitation(ctx, inv)
}
