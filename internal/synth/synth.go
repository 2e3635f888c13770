// Package synth asks a language model to answer a query from retrieved
// pages. It owns the context budget, the prompt contract, the call timeout
// and the single retry on transient failure.
package synth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/abelbrown/recall/internal/brain"
	"github.com/abelbrown/recall/internal/interpret"
	"github.com/abelbrown/recall/internal/logging"
	"github.com/abelbrown/recall/internal/retrieve"
)

// ErrUnavailable wraps every failure to obtain an answer: timeouts,
// provider errors, missing configuration. Callers degrade to raw candidates.
var ErrUnavailable = errors.New("synthesis unavailable")

const systemPrompt = `You answer questions using only the user's saved web pages, which are listed below with their ids and URLs.
Cite every page you rely on as [page:ID] or by its URL.
If the pages do not answer the question, say so plainly. Do not invent pages or URLs.`

// Turn is an earlier question and answer in the same conversation.
type Turn struct {
	Query  string `json:"query"`
	Answer string `json:"answer"`
}

// Request is the input to Synthesize.
type Request struct {
	Query      string
	Candidates []retrieve.Candidate // retrieval order
	History    []Turn               // oldest first
}

// Result is the model's answer.
type Result struct {
	Answer      string
	GroundedIDs []int64              // page ids the answer references, in order of first reference
	Used        []retrieve.Candidate // candidates that fit the context budget
	Model       string
	Cached      bool
}

// Options tunes the adapter.
type Options struct {
	Timeout         time.Duration // per Synthesize call, retry included; default 15s
	MaxContextChars int           // excerpt budget; default 12000
	MaxTokens       int
	CacheSize       int           // 0 disables the answer cache
	CacheTTL        time.Duration // default 10m
}

// Adapter is safe for concurrent use.
type Adapter struct {
	provider brain.Provider
	opts     Options
	cache    *expirable.LRU[string, Result]
}

// New creates an Adapter over provider.
func New(provider brain.Provider, opts Options) *Adapter {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = 12000
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	a := &Adapter{provider: provider, opts: opts}
	if opts.CacheSize > 0 {
		a.cache = expirable.NewLRU[string, Result](opts.CacheSize, nil, opts.CacheTTL)
	}
	return a
}

// Synthesize sends the query and the budgeted candidates to the provider.
// Transient failures get one immediate retry; anything else, including the
// caller's deadline, returns an error wrapping ErrUnavailable.
func (a *Adapter) Synthesize(ctx context.Context, req Request) (Result, error) {
	used := Budget(req.Candidates, a.opts.MaxContextChars)

	ctx, span := otel.Tracer("recall/synth").Start(ctx, "synth.Synthesize", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.Int("recall.candidates", len(req.Candidates)),
		attribute.Int("recall.candidates_used", len(used)),
	)

	if a.provider == nil || !a.provider.Available() {
		err := fmt.Errorf("%w: no language model configured", ErrUnavailable)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	key := cacheKey(req.Query, used, req.History)
	if a.cache != nil {
		if res, ok := a.cache.Get(key); ok {
			res.Cached = true
			span.SetAttributes(attribute.Bool("recall.cached", true))
			return res, nil
		}
	}

	breq := brain.Request{
		SystemPrompt: systemPrompt,
		History:      history(req.History),
		UserPrompt:   BuildPrompt(req.Query, used),
		MaxTokens:    a.opts.MaxTokens,
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	logging.Debug("synthesis request", "provider", a.provider.Name(), "candidates", len(used))
	start := time.Now()

	var resp brain.Response
	attempts := 0
	op := func() error {
		attempts++
		var err error
		resp, err = a.provider.Generate(ctx, breq)
		if err != nil && !brain.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1), ctx)
	err := backoff.Retry(op, policy)
	if err == nil && strings.TrimSpace(resp.Content) == "" {
		err = errors.New("empty response")
	}
	if err != nil {
		logging.Warn("synthesis failed", "provider", a.provider.Name(), "attempts", attempts, "elapsed", time.Since(start), "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	res := Result{
		Answer:      strings.TrimSpace(resp.Content),
		GroundedIDs: interpret.GroundedIDs(resp.Content, used),
		Used:        used,
		Model:       resp.Model,
	}
	logging.Debug("synthesis done", "provider", a.provider.Name(), "attempts", attempts, "elapsed", time.Since(start), "grounded", len(res.GroundedIDs))

	if a.cache != nil {
		a.cache.Add(key, res)
	}
	return res, nil
}

// Budget keeps candidates, in order, while their excerpts fit in maxChars.
// A candidate whose excerpt would overflow is dropped whole and later,
// shorter ones are still considered.
func Budget(candidates []retrieve.Candidate, maxChars int) []retrieve.Candidate {
	used := make([]retrieve.Candidate, 0, len(candidates))
	total := 0
	for _, c := range candidates {
		n := utf8.RuneCountInString(c.Excerpt)
		if total+n > maxChars {
			continue
		}
		total += n
		used = append(used, c)
	}
	return used
}

// BuildPrompt renders the user prompt: the question followed by the
// enumerated pages.
func BuildPrompt(query string, candidates []retrieve.Candidate) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(strings.TrimSpace(query))
	b.WriteString("\n\n")

	if len(candidates) == 0 {
		b.WriteString("No saved pages matched this question.\n")
		return b.String()
	}

	b.WriteString("Saved pages:\n")
	for _, c := range candidates {
		fmt.Fprintf(&b, "\n[page:%d] %s\nURL: %s\nCaptured: %s\nExcerpt:\n%s\n",
			c.PageID, c.Title, c.URL, c.CapturedAt.Format("2006-01-02"), c.Excerpt)
	}
	return b.String()
}

func history(turns []Turn) []brain.Message {
	msgs := make([]brain.Message, 0, 2*len(turns))
	for _, t := range turns {
		msgs = append(msgs,
			brain.Message{Role: "user", Content: t.Query},
			brain.Message{Role: "assistant", Content: t.Answer},
		)
	}
	return msgs
}

func cacheKey(query string, candidates []retrieve.Candidate, turns []Turn) string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	for _, t := range turns {
		write(t.Query)
		write(t.Answer)
	}
	write(strings.TrimSpace(query))
	for _, c := range candidates {
		write(strconv.FormatInt(c.PageID, 10))
		write(c.CapturedAt.UTC().Format(time.RFC3339Nano))
		write(c.Excerpt)
	}
	return hex.EncodeToString(h.Sum(nil))
}
