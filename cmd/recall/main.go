// Command recall saves web pages, answers questions about them and turns
// dates found in them into calendar events.
//
// Usage:
//
//	recall serve                 Run the HTTP API for the browser extension
//	recall save <url>...         Fetch and save pages
//	recall pages                 List recently saved pages
//	recall ask <question>        Ask about saved pages
//	recall dates <page-id>       Show dates found on a page
//	recall event <page-id>       Create an event from a page's date
//	recall config                Show the effective configuration
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"github.com/abelbrown/recall/internal/assistant"
	"github.com/abelbrown/recall/internal/config"
	"github.com/abelbrown/recall/internal/journal"
	"github.com/abelbrown/recall/internal/logging"
	"github.com/abelbrown/recall/internal/metrics"
	"github.com/abelbrown/recall/internal/store"
)

var configPath string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, styleError.Render("error: "+err.Error()))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "recall",
		Short:         "Personal memory for the pages you read",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.recall/config.yaml)")

	root.AddCommand(
		newServeCmd(),
		newSaveCmd(),
		newPagesCmd(),
		newAskCmd(),
		newDatesCmd(),
		newEventCmd(),
		newConfigCmd(),
	)
	return root
}

// loadConfig reads the config and starts logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := logging.Init(logging.Options{File: cfg.Logging.File, Level: cfg.Logging.Level}); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openAssistant loads config and wires the assistant. The returned cleanup
// closes the store, the journal and the log file.
func openAssistant() (*assistant.Assistant, *config.Config, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	var j *journal.Journal
	if cfg.Logging.EventLog != "" {
		if j, err = journal.Open(cfg.Logging.EventLog, journal.DefaultRingSize); err != nil {
			logging.Close()
			return nil, nil, nil, fmt.Errorf("open event log: %w", err)
		}
	} else {
		j = journal.New(nil, journal.DefaultRingSize)
	}

	a, st, err := assistant.FromConfig(cfg, metrics.Default(), j)
	if err != nil {
		j.Close()
		logging.Close()
		return nil, nil, nil, err
	}
	return a, cfg, cleanup(st, j), nil
}

func cleanup(st *store.Store, j *journal.Journal) func() {
	return func() {
		if err := st.Close(); err != nil {
			logging.Error("failed to close store", "err", err)
		}
		j.Close()
		logging.Close()
	}
}
