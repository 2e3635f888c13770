// Package assistant wires the two pipelines together: query -> retrieve ->
// synthesize -> interpret, and page -> extract date -> dispatch event.
package assistant

import (
	"context"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/abelbrown/recall/internal/capture"
	"github.com/abelbrown/recall/internal/dispatch"
	"github.com/abelbrown/recall/internal/interpret"
	"github.com/abelbrown/recall/internal/journal"
	"github.com/abelbrown/recall/internal/logging"
	"github.com/abelbrown/recall/internal/metrics"
	"github.com/abelbrown/recall/internal/retrieve"
	"github.com/abelbrown/recall/internal/store"
	"github.com/abelbrown/recall/internal/synth"
	"github.com/abelbrown/recall/internal/temporal"
)

var (
	// ErrTemporalUnresolved means the page has no date to act on.
	ErrTemporalUnresolved = errors.New("no resolvable date in page")
	// ErrInvalidPage is returned when a captured page lacks a url or title.
	ErrInvalidPage = errors.New("invalid page")
	// ErrInvalidAttendee is returned for an attendee that is not a single
	// RFC 5322 address.
	ErrInvalidAttendee = errors.New("invalid attendee")
)

const (
	msgNoPages     = "You haven't saved any pages yet."
	msgNoMatch     = "None of your saved pages match that query."
	msgUnavailable = "Search is unavailable right now, so here are the matching pages without a summary."
)

// PageStore is what the assistant needs from the page store.
type PageStore interface {
	retrieve.PageSource
	Insert(p store.Page) (int64, error)
	Get(id int64) (store.Page, error)
	ListRecent(n int) ([]store.Page, error)
	Count() (int, error)
	SaveDispatch(r store.DispatchRecord) error
}

// Synthesizer answers a query from candidates.
type Synthesizer interface {
	Synthesize(ctx context.Context, req synth.Request) (synth.Result, error)
}

// EventDispatcher creates events.
type EventDispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (dispatch.Result, error)
}

// Deps are the collaborators. Fetcher, Metrics and Journal may be nil.
type Deps struct {
	Store      PageStore
	Retriever  *retrieve.Retriever
	Synth      Synthesizer
	Extractor  *temporal.Extractor
	Dispatcher EventDispatcher
	Fetcher    *capture.Fetcher
	Metrics    *metrics.Metrics
	Journal    *journal.Journal
}

// Options holds request defaults.
type Options struct {
	Limit  int             // candidates per query; default 8
	Policy temporal.Policy // default date selection policy
}

// Assistant is safe for concurrent use.
type Assistant struct {
	Deps
	opts Options
}

// New creates an Assistant.
func New(deps Deps, opts Options) *Assistant {
	if opts.Limit <= 0 {
		opts.Limit = 8
	}
	if opts.Policy == "" {
		opts.Policy = temporal.HighestConfidence
	}
	return &Assistant{Deps: deps, opts: opts}
}

// Answer is the caller-facing result of a query.
type Answer struct {
	ConversationalResponse string           `json:"conversational_response"`
	Items                  []interpret.Item `json:"items"`
	Message                string           `json:"message,omitempty"`
	SearchUnavailable      bool             `json:"search_unavailable"`
	NoPages                bool             `json:"no_pages,omitempty"`
	GroundedIDs            []int64          `json:"grounded_ids,omitempty"`
	Cached                 bool             `json:"cached,omitempty"`
}

// AskRequest is one query, with optional conversation history.
type AskRequest struct {
	Query   string
	Limit   int
	History []synth.Turn
}

// Ask answers a query. Only an invalid query is an error: no matches and
// an unavailable synthesis service both produce an Answer.
func (a *Assistant) Ask(ctx context.Context, req AskRequest) (Answer, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = a.opts.Limit
	}

	candidates, err := a.Retriever.Retrieve(req.Query, limit)
	if err != nil {
		if errors.Is(err, retrieve.ErrInvalidQuery) {
			a.Metrics.ObserveQuery("invalid")
		}
		return Answer{}, err
	}

	if len(candidates) == 0 {
		ans := Answer{Items: []interpret.Item{}, Message: msgNoMatch}
		if n, err := a.Store.Count(); err == nil && n == 0 {
			ans.Message, ans.NoPages = msgNoPages, true
			a.Metrics.ObserveQuery("no_pages")
			a.Journal.Emit(journal.Entry{Kind: journal.KindQueryNoPages})
		} else {
			a.Metrics.ObserveQuery("no_match")
			a.Journal.Emit(journal.Entry{Kind: journal.KindQueryNoMatch})
		}
		return ans, nil
	}

	start := time.Now()
	res, err := a.Synth.Synthesize(ctx, synth.Request{Query: req.Query, Candidates: candidates, History: req.History})
	if err != nil {
		logging.Warn("answering without synthesis", "query_len", len(req.Query), "candidates", len(candidates), "err", err)
		a.Metrics.ObserveSynthesis("unavailable", time.Since(start))
		a.Metrics.ObserveQuery("degraded")
		a.Journal.Emit(journal.Entry{Kind: journal.KindQueryDegraded, Count: len(candidates), Dur: time.Since(start), Err: err.Error()})
		return Answer{
			Items:             interpret.FromCandidates(candidates),
			Message:           msgUnavailable,
			SearchUnavailable: true,
		}, nil
	}
	if res.Cached {
		a.Metrics.ObserveSynthesis("cached", 0)
	} else {
		a.Metrics.ObserveSynthesis("ok", time.Since(start))
	}
	a.Metrics.ObserveQuery("answered")
	a.Journal.Emit(journal.Entry{Kind: journal.KindQueryAnswered, Count: len(candidates), Dur: time.Since(start)})

	out := interpret.Interpret(res.Answer, candidates)
	return Answer{
		ConversationalResponse: out.ConversationalResponse,
		Items:                  out.Items,
		GroundedIDs:            res.GroundedIDs,
		Cached:                 res.Cached,
	}, nil
}

// SaveRequest is a captured page as sent by the browser. Content may be a
// string or any decoded JSON value.
type SaveRequest struct {
	URL     string
	Title   string
	Content any
}

// Save stores a captured page. Re-saving a URL overwrites it in place.
func (a *Assistant) Save(req SaveRequest) (store.Page, error) {
	p := store.Page{
		URL:        strings.TrimSpace(req.URL),
		Title:      strings.TrimSpace(req.Title),
		Content:    capture.FlattenContent(req.Content),
		CapturedAt: time.Now(),
	}
	if p.URL == "" || p.Title == "" {
		a.Metrics.ObserveCapture(false)
		return store.Page{}, fmt.Errorf("%w: title and url are required", ErrInvalidPage)
	}
	return a.insert(p)
}

// SaveURL fetches url and stores it.
func (a *Assistant) SaveURL(ctx context.Context, url string) (store.Page, error) {
	if a.Fetcher == nil {
		return store.Page{}, errors.New("page fetching is not configured")
	}
	p, err := a.Fetcher.Fetch(ctx, url)
	if err != nil {
		a.Metrics.ObserveCapture(false)
		a.Journal.Emit(journal.Entry{Kind: journal.KindCaptureFailed, Err: err.Error()})
		return store.Page{}, err
	}
	return a.insert(p)
}

func (a *Assistant) insert(p store.Page) (store.Page, error) {
	id, err := a.Store.Insert(p)
	if err != nil {
		a.Metrics.ObserveCapture(false)
		a.Journal.Emit(journal.Entry{Kind: journal.KindCaptureFailed, Err: err.Error()})
		return store.Page{}, err
	}
	a.Metrics.ObserveCapture(true)
	a.Journal.Emit(journal.Entry{Kind: journal.KindCaptureSaved, PageID: id})
	p.ID = id
	logging.Info("page saved", "page_id", id, "url", p.URL, "content_len", len(p.Content))
	return p, nil
}

// Pages lists the most recently captured pages.
func (a *Assistant) Pages(limit int) ([]store.Page, error) {
	return a.Store.ListRecent(limit)
}

// Activity returns the most recent journal entries, oldest first.
func (a *Assistant) Activity(n int) []journal.Entry {
	return a.Journal.Recent(n)
}

// Page returns one page; the error wraps store.ErrNotFound when missing.
func (a *Assistant) Page(id int64) (store.Page, error) {
	return a.Store.Get(id)
}

// Dates lists every resolvable date in a page, best first.
func (a *Assistant) Dates(id int64) ([]temporal.Match, error) {
	p, err := a.Store.Get(id)
	if err != nil {
		return nil, err
	}
	return a.Extractor.ExtractPage(p), nil
}

// EventOptions adjusts one event request. A non-zero Start skips date
// extraction and uses that instant directly.
type EventOptions struct {
	Title    string
	Attendee string
	Policy   temporal.Policy
	Start    time.Time
}

// NormalizeAttendee parses an attendee such as "Ada <ada@example.com>" and
// returns the bare address. An empty attendee stays empty.
func NormalizeAttendee(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	addr, err := netmail.ParseAddress(s)
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrInvalidAttendee, s, err)
	}
	return addr.Address, nil
}

// Scheduled is the outcome of Schedule.
type Scheduled struct {
	Match  temporal.Match  `json:"match"`
	Result dispatch.Result `json:"result"`
}

// Schedule turns the page's selected date into an event. It returns
// ErrTemporalUnresolved when the page has no usable date,
// ErrInvalidAttendee for a malformed attendee and a *dispatch.FailedError
// when neither calendar nor email worked.
func (a *Assistant) Schedule(ctx context.Context, pageID int64, opts EventOptions) (Scheduled, error) {
	attendee, err := NormalizeAttendee(opts.Attendee)
	if err != nil {
		return Scheduled{}, err
	}

	p, err := a.Store.Get(pageID)
	if err != nil {
		return Scheduled{}, err
	}

	var match temporal.Match
	if !opts.Start.IsZero() {
		match = temporal.Match{Time: opts.Start, HasTime: true, Confidence: 1, Kind: "explicit"}
	} else {
		policy := opts.Policy
		if policy == "" {
			policy = a.opts.Policy
		}
		var ok bool
		match, ok = temporal.Select(a.Extractor.ExtractPage(p), policy, p.CapturedAt)
		if !ok {
			a.Journal.Emit(journal.Entry{Kind: journal.KindEventUnresolved, PageID: pageID})
			return Scheduled{}, fmt.Errorf("page %d: %w", pageID, ErrTemporalUnresolved)
		}
	}

	title := opts.Title
	if title == "" {
		title = p.Title
	}
	desc := p.URL
	if match.Context != "" {
		desc += "\n\n" + match.Context
	}

	res, err := a.Dispatcher.Dispatch(ctx, dispatch.Request{
		PageID:      p.ID,
		Start:       match.Time,
		Title:       title,
		Description: desc,
		Attendee:    attendee,
	})
	a.Metrics.ObserveDispatch(string(res.Channel))
	a.audit(p.ID, res)
	entry := journal.Entry{Kind: journal.KindEventCreated, PageID: p.ID, Channel: string(res.Channel)}
	if err != nil {
		entry.Kind, entry.Err = journal.KindEventFailed, err.Error()
	}
	a.Journal.Emit(entry)
	return Scheduled{Match: match, Result: res}, err
}

func (a *Assistant) audit(pageID int64, res dispatch.Result) {
	rec := store.DispatchRecord{
		PageID:         pageID,
		IdempotencyKey: res.Key,
		Channel:        string(res.Channel),
		State:          string(res.State),
		ExternalID:     res.ID,
	}
	if res.CalendarErr != nil {
		rec.CalendarError = res.CalendarErr.Error()
	}
	if res.EmailErr != nil {
		rec.EmailError = res.EmailErr.Error()
	}
	if err := a.Store.SaveDispatch(rec); err != nil {
		logging.Error("failed to record dispatch", "page_id", pageID, "err", err)
	}
}
