package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/abelbrown/recall/internal/brain"
	"github.com/abelbrown/recall/internal/calendar"
	"github.com/abelbrown/recall/internal/dispatch"
	"github.com/abelbrown/recall/internal/journal"
	"github.com/abelbrown/recall/internal/mail"
	"github.com/abelbrown/recall/internal/metrics"
	"github.com/abelbrown/recall/internal/retrieve"
	"github.com/abelbrown/recall/internal/store"
	"github.com/abelbrown/recall/internal/synth"
	"github.com/abelbrown/recall/internal/temporal"
)

// echoProvider answers with the first excerpt in the prompt, verbatim.
type echoProvider struct {
	available bool
	err       error
}

func (p *echoProvider) Name() string    { return "echo" }
func (p *echoProvider) Available() bool { return p.available }

func (p *echoProvider) Generate(_ context.Context, req brain.Request) (brain.Response, error) {
	if p.err != nil {
		return brain.Response{}, p.err
	}
	const marker = "Excerpt:\n"
	i := strings.Index(req.UserPrompt, marker)
	if i < 0 {
		return brain.Response{Content: "nothing"}, nil
	}
	rest := req.UserPrompt[i+len(marker):]
	if j := strings.Index(rest, "\n"); j >= 0 {
		rest = rest[:j]
	}
	return brain.Response{Content: rest, Model: "echo"}, nil
}

type memCalendar struct {
	mu     sync.Mutex
	events map[string]string
	err    error
}

func (m *memCalendar) FindEvent(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if id, ok := m.events[key]; ok {
		return id, nil
	}
	return "", calendar.ErrNotFound
}

func (m *memCalendar) CreateEvent(_ context.Context, ev calendar.Event) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	id := "evt-" + ev.Key[:6]
	m.events[ev.Key] = id
	return id, nil
}

type failingMailer struct{ err error }

func (f failingMailer) SendInvitation(context.Context, mail.Invitation) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "msg-1@example.com", nil
}

// recordingMailer keeps every invitation it is asked to send.
type recordingMailer struct {
	mu   sync.Mutex
	sent []mail.Invitation
}

func (r *recordingMailer) SendInvitation(_ context.Context, inv mail.Invitation) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, inv)
	return "msg-1@example.com", nil
}

type fixture struct {
	a     *Assistant
	store *store.Store
	cal   *memCalendar
	reg   *prometheus.Registry
}

func newFixture(t *testing.T, provider brain.Provider, mailer dispatch.Mailer) *fixture {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cal := &memCalendar{events: make(map[string]string)}
	reg := prometheus.NewRegistry()
	a := New(Deps{
		Store:      st,
		Retriever:  retrieve.New(st, retrieve.Options{}),
		Synth:      synth.New(provider, synth.Options{Timeout: time.Second}),
		Extractor:  temporal.New(temporal.Options{DefaultHour: 9}),
		Dispatcher: dispatch.New(cal, mailer, dispatch.Options{}),
		Metrics:    metrics.NewWithRegisterer(reg),
	}, Options{Limit: 5})
	return &fixture{a: a, store: st, cal: cal, reg: reg}
}

var captured = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

func (f *fixture) insert(t *testing.T, url, title, content string) int64 {
	t.Helper()
	id, err := f.store.Insert(store.Page{URL: url, Title: title, Content: content, CapturedAt: captured})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	return id
}

func TestEndToEndAIEthics(t *testing.T) {
	f := newFixture(t, &echoProvider{available: true}, failingMailer{})
	id := f.insert(t, "https://ethics.example/board", "Board notes", "... AI ethics board meets March 3 2025 ...")
	if id != 1 {
		t.Fatalf("first page id = %d, want 1", id)
	}

	ans, err := f.a.Ask(context.Background(), AskRequest{Query: "AI ethics"})
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if ans.SearchUnavailable {
		t.Error("SearchUnavailable = true")
	}
	if !strings.Contains(ans.ConversationalResponse, "AI ethics board meets March 3 2025") {
		t.Errorf("response = %q", ans.ConversationalResponse)
	}
	if len(ans.Items) == 0 {
		t.Fatal("no items")
	}
	if ans.Items[0].PageID != 1 || ans.Items[0].URL != "https://ethics.example/board" {
		t.Errorf("first item = %+v", ans.Items[0])
	}

	dates, err := f.a.Dates(id)
	if err != nil {
		t.Fatalf("Dates failed: %v", err)
	}
	if len(dates) != 1 {
		t.Fatalf("got %d dates, want 1", len(dates))
	}
	if want := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC); !dates[0].Time.Equal(want) {
		t.Errorf("date = %v, want %v", dates[0].Time, want)
	}

	sched, err := f.a.Schedule(context.Background(), id, EventOptions{})
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if !sched.Result.Created || sched.Result.Channel != dispatch.ChannelCalendar || sched.Result.ID == "" {
		t.Errorf("result = %+v, want a calendar event", sched.Result)
	}

	again, err := f.a.Schedule(context.Background(), id, EventOptions{})
	if err != nil {
		t.Fatalf("second Schedule failed: %v", err)
	}
	if !again.Result.Existing || again.Result.ID != sched.Result.ID {
		t.Errorf("repeat = %+v, want existing %q", again.Result, sched.Result.ID)
	}
	if len(f.cal.events) != 1 {
		t.Errorf("calendar has %d events, want 1", len(f.cal.events))
	}

	records, err := f.store.ListDispatches(id)
	if err != nil {
		t.Fatalf("ListDispatches failed: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("got %d dispatch records, want 2", len(records))
	}
}

func TestAskDistinguishesEmptyStoreFromNoMatch(t *testing.T) {
	f := newFixture(t, &echoProvider{available: true}, failingMailer{})

	ans, err := f.a.Ask(context.Background(), AskRequest{Query: "anything"})
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if !ans.NoPages || ans.Message != msgNoPages || len(ans.Items) != 0 {
		t.Errorf("empty store answer = %+v", ans)
	}

	f.insert(t, "https://bread.example", "Sourdough", "flour water salt")
	ans, err = f.a.Ask(context.Background(), AskRequest{Query: "quantum"})
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if ans.NoPages || ans.Message != msgNoMatch || ans.SearchUnavailable {
		t.Errorf("no match answer = %+v", ans)
	}
}

func TestAskDegradesWhenSynthesisUnavailable(t *testing.T) {
	f := newFixture(t, &echoProvider{available: true, err: &brain.APIError{Provider: "echo", Status: 500}}, failingMailer{})
	f.insert(t, "https://ethics.example", "AI Ethics", "ai ethics content")

	ans, err := f.a.Ask(context.Background(), AskRequest{Query: "ethics"})
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if !ans.SearchUnavailable || ans.Message != msgUnavailable {
		t.Errorf("answer = %+v, want degraded", ans)
	}
	if ans.ConversationalResponse != "" {
		t.Errorf("response = %q, want empty", ans.ConversationalResponse)
	}
	if len(ans.Items) != 1 || ans.Items[0].URL != "https://ethics.example" {
		t.Errorf("items = %+v", ans.Items)
	}
}

func TestAskInvalidQuery(t *testing.T) {
	f := newFixture(t, &echoProvider{available: true}, failingMailer{})
	if _, err := f.a.Ask(context.Background(), AskRequest{Query: "   "}); !errors.Is(err, retrieve.ErrInvalidQuery) {
		t.Errorf("error = %v, want ErrInvalidQuery", err)
	}
}

func TestScheduleUnresolved(t *testing.T) {
	f := newFixture(t, &echoProvider{available: true}, failingMailer{})
	id := f.insert(t, "https://bread.example", "Sourdough", "no dates in here")

	if _, err := f.a.Schedule(context.Background(), id, EventOptions{}); !errors.Is(err, ErrTemporalUnresolved) {
		t.Errorf("error = %v, want ErrTemporalUnresolved", err)
	}
	if _, err := f.a.Schedule(context.Background(), 999, EventOptions{}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("error = %v, want store.ErrNotFound", err)
	}
}

func TestScheduleBothChannelsFail(t *testing.T) {
	f := newFixture(t, &echoProvider{available: true}, failingMailer{err: mail.ErrUnavailable})
	f.cal.err = calendar.ErrAuthExpired
	id := f.insert(t, "https://ethics.example", "Board", "meets tomorrow at 3pm")

	sched, err := f.a.Schedule(context.Background(), id, EventOptions{Attendee: "me@example.com"})
	if err == nil {
		t.Fatal("expected an error when both channels fail")
	}
	for _, want := range []error{dispatch.ErrDispatchFailed, calendar.ErrAuthExpired, mail.ErrUnavailable} {
		if !errors.Is(err, want) {
			t.Errorf("error %v does not wrap %v", err, want)
		}
	}
	if sched.Result.State != dispatch.Failed {
		t.Errorf("State = %v, want Failed", sched.Result.State)
	}
	if want := time.Date(2025, 2, 2, 15, 0, 0, 0, time.UTC); !sched.Match.Time.Equal(want) {
		t.Errorf("match time = %v, want %v", sched.Match.Time, want)
	}

	records, err := f.store.ListDispatches(id)
	if err != nil {
		t.Fatalf("ListDispatches failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].Channel != "none" || records[0].CalendarError == "" || records[0].EmailError == "" {
		t.Errorf("record = %+v", records[0])
	}
}

func TestScheduleFallsBackToEmail(t *testing.T) {
	f := newFixture(t, &echoProvider{available: true}, failingMailer{})
	f.cal.err = calendar.ErrQuotaExceeded
	id := f.insert(t, "https://ethics.example", "Board", "next Friday")

	sched, err := f.a.Schedule(context.Background(), id, EventOptions{})
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if sched.Result.Channel != dispatch.ChannelEmail || !sched.Result.FallbackUsed {
		t.Errorf("result = %+v, want emailed fallback", sched.Result)
	}
}

func TestScheduleExplicitStartAndPolicy(t *testing.T) {
	f := newFixture(t, &echoProvider{available: true}, failingMailer{})
	id := f.insert(t, "https://ethics.example", "Board", "Final review 2025-06-01. Kickoff tomorrow.")

	sched, err := f.a.Schedule(context.Background(), id, EventOptions{Policy: temporal.SoonestFuture})
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if sched.Match.Text != "tomorrow" {
		t.Errorf("soonest-future match = %q, want tomorrow", sched.Match.Text)
	}

	sched, err = f.a.Schedule(context.Background(), id, EventOptions{})
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if sched.Match.Text != "2025-06-01" {
		t.Errorf("default match = %q, want 2025-06-01", sched.Match.Text)
	}

	at := time.Date(2025, 7, 4, 18, 0, 0, 0, time.UTC)
	sched, err = f.a.Schedule(context.Background(), id, EventOptions{Start: at, Title: "Fireworks"})
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if !sched.Match.Time.Equal(at) || sched.Match.Kind != "explicit" {
		t.Errorf("explicit match = %+v", sched.Match)
	}
}

func TestScheduleAttendee(t *testing.T) {
	m := &recordingMailer{}
	f := newFixture(t, &echoProvider{available: true}, m)
	f.cal.err = calendar.ErrUnavailable
	id := f.insert(t, "https://ethics.example", "Board", "meets tomorrow at 3pm")

	if _, err := f.a.Schedule(context.Background(), id, EventOptions{Attendee: "Ada <ada@example.com>"}); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if len(m.sent) != 1 || m.sent[0].To != "ada@example.com" {
		t.Errorf("sent = %+v, want one invitation to ada@example.com", m.sent)
	}

	for _, bad := range []string{"not an address", "a@example.com, b@example.com", "ada@"} {
		_, err := f.a.Schedule(context.Background(), id, EventOptions{Attendee: bad})
		if !errors.Is(err, ErrInvalidAttendee) {
			t.Errorf("Attendee %q: error = %v, want ErrInvalidAttendee", bad, err)
		}
	}
	if len(m.sent) != 1 {
		t.Errorf("invalid attendees reached the mailer: %+v", m.sent)
	}
	records, err := f.store.ListDispatches(id)
	if err != nil {
		t.Fatalf("ListDispatches failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("got %d dispatch records, want 1", len(records))
	}
}

func TestNormalizeAttendee(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "", false},
		{"  ", "", false},
		{"ada@example.com", "ada@example.com", false},
		{" Ada Lovelace <ada@example.com> ", "ada@example.com", false},
		{"ada", "", true},
		{"<>", "", true},
		{"a@example.com; b@example.com", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeAttendee(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidAttendee) {
				t.Errorf("NormalizeAttendee(%q) error = %v, want ErrInvalidAttendee", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("NormalizeAttendee(%q) = %q, %v, want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestSave(t *testing.T) {
	f := newFixture(t, &echoProvider{available: true}, failingMailer{})

	p, err := f.a.Save(SaveRequest{
		URL:   " https://ethics.example ",
		Title: "AI Ethics",
		Content: map[string]any{
			"metadata": map[string]any{"ignored": "x"},
			"output":   map[string]any{"website_content": "the body text"},
		},
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if p.ID == 0 || p.URL != "https://ethics.example" || p.Content != "the body text" {
		t.Errorf("saved page = %+v", p)
	}

	again, err := f.a.Save(SaveRequest{URL: "https://ethics.example", Title: "AI Ethics v2", Content: "new"})
	if err != nil {
		t.Fatalf("re-save failed: %v", err)
	}
	if again.ID != p.ID {
		t.Errorf("re-save id = %d, want %d", again.ID, p.ID)
	}

	if _, err := f.a.Save(SaveRequest{URL: "https://x.example"}); !errors.Is(err, ErrInvalidPage) {
		t.Errorf("error = %v, want ErrInvalidPage", err)
	}

	pages, err := f.a.Pages(10)
	if err != nil {
		t.Fatalf("Pages failed: %v", err)
	}
	if len(pages) != 1 || pages[0].Title != "AI Ethics v2" {
		t.Errorf("pages = %+v", pages)
	}
}

func TestSaveURLWithoutFetcher(t *testing.T) {
	f := newFixture(t, &echoProvider{available: true}, failingMailer{})
	_, err := f.a.SaveURL(context.Background(), "https://example.com")
	if err == nil {
		t.Fatal("expected an error without a fetcher")
	}
	if errors.Is(err, ErrInvalidPage) {
		t.Errorf("error = %v, should not be ErrInvalidPage", err)
	}
}

func TestJournalRecordsActivity(t *testing.T) {
	f := newFixture(t, &echoProvider{available: true}, failingMailer{})
	j := journal.New(nil, 16)
	f.a.Journal = j

	id := f.insert(t, "https://ethics.example/board", "Board notes", "AI ethics board meets March 3 2025")
	if _, err := f.a.Ask(context.Background(), AskRequest{Query: "AI ethics"}); err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if _, err := f.a.Schedule(context.Background(), id, EventOptions{}); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	j.Close()

	entries := f.a.Activity(10)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(entries), entries)
	}
	if entries[0].Kind != journal.KindQueryAnswered || entries[0].Count != 1 {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[1].Kind != journal.KindEventCreated || entries[1].Channel != "calendar" || entries[1].PageID != id {
		t.Errorf("entry 1 = %+v", entries[1])
	}
}
