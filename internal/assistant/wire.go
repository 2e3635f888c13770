package assistant

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/abelbrown/recall/internal/brain"
	"github.com/abelbrown/recall/internal/calendar"
	"github.com/abelbrown/recall/internal/capture"
	"github.com/abelbrown/recall/internal/config"
	"github.com/abelbrown/recall/internal/dispatch"
	"github.com/abelbrown/recall/internal/journal"
	"github.com/abelbrown/recall/internal/mail"
	"github.com/abelbrown/recall/internal/metrics"
	"github.com/abelbrown/recall/internal/retrieve"
	"github.com/abelbrown/recall/internal/store"
	"github.com/abelbrown/recall/internal/synth"
	"github.com/abelbrown/recall/internal/temporal"
)

// FromConfig opens the store and builds every collaborator described by
// cfg. The caller closes the returned store. m and j may be nil.
func FromConfig(cfg *config.Config, m *metrics.Metrics, j *journal.Journal) (*Assistant, *store.Store, error) {
	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
			return nil, nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}

	provider, err := brain.NewProvider(brain.Settings{
		Provider: cfg.Synthesis.Provider,
		APIKey:   cfg.Synthesis.APIKey,
		Model:    cfg.Synthesis.Model,
		Endpoint: cfg.Synthesis.Endpoint,
	})
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	provider.SetRateLimit(cfg.Synthesis.RatePerSecond, 1)

	order, err := temporal.ParseDateOrder(cfg.Temporal.DateOrder)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	policy, err := temporal.ParsePolicy(cfg.Temporal.Policy)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	// Dates are read in the zone events are written in unless configured
	// otherwise.
	zone := cfg.Temporal.TimeZone
	if zone == "" {
		zone = cfg.Calendar.TimeZone
	}
	var loc *time.Location
	if zone != "" {
		if loc, err = time.LoadLocation(zone); err != nil {
			st.Close()
			return nil, nil, fmt.Errorf("time zone %q: %w", zone, err)
		}
	}

	cal := calendar.New(calendar.Config{
		Endpoint:   cfg.Calendar.Endpoint,
		CalendarID: cfg.Calendar.CalendarID,
		Token:      cfg.Calendar.Token,
		TimeZone:   cfg.Calendar.TimeZone,
		Timeout:    cfg.Calendar.Timeout,
	})
	sender := mail.New(mail.Config{
		Host:             cfg.Email.Host,
		Port:             cfg.Email.Port,
		Username:         cfg.Email.Username,
		Password:         cfg.Email.Password,
		From:             cfg.Email.From,
		DefaultRecipient: cfg.Email.DefaultRecipient,
		Timeout:          cfg.Email.Timeout,
	})

	a := New(Deps{
		Store: st,
		Retriever: retrieve.New(st, retrieve.Options{
			ExcerptChars: cfg.Retrieval.ExcerptChars,
			SnippetChars: cfg.Retrieval.SnippetChars,
			TitleWeight:  cfg.Retrieval.TitleWeight,
			PoolSize:     cfg.Retrieval.PoolSize,
		}),
		Synth: synth.New(provider, synth.Options{
			Timeout:         cfg.Synthesis.Timeout,
			MaxContextChars: cfg.Synthesis.MaxContextChars,
			MaxTokens:       cfg.Synthesis.MaxTokens,
			CacheSize:       cfg.Synthesis.CacheSize,
			CacheTTL:        cfg.Synthesis.CacheTTL,
		}),
		Extractor: temporal.New(temporal.Options{
			DefaultHour: cfg.Temporal.DefaultHour,
			DateOrder:   order,
			Location:    loc,
		}),
		Dispatcher: dispatch.New(cal, sender, dispatch.Options{Duration: cfg.Calendar.EventDuration}),
		Fetcher:    capture.NewFetcher(30 * time.Second),
		Metrics:    m,
		Journal:    j,
	}, Options{Limit: cfg.Retrieval.Limit, Policy: policy})

	return a, st, nil
}
