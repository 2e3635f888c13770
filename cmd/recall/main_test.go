package main

import (
	"errors"
	"testing"

	"github.com/abelbrown/recall/internal/assistant"
	"github.com/abelbrown/recall/internal/config"
)

func TestRootRegistersCommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "save", "pages", "ask", "dates", "event", "config"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil {
			t.Errorf("Find(%q): %v", name, err)
			continue
		}
		if cmd.Name() != name {
			t.Errorf("Find(%q) = %q", name, cmd.Name())
		}
	}
}

func TestParsePageID(t *testing.T) {
	id, err := parsePageID("42")
	if err != nil || id != 42 {
		t.Errorf("parsePageID(42) = %d, %v", id, err)
	}

	for _, bad := range []string{"", "0", "-3", "x"} {
		if _, err := parsePageID(bad); err == nil {
			t.Errorf("parsePageID(%q) error = nil", bad)
		}
	}
}

func TestEventRejectsBadAttendee(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"event", "1", "--attendee", "not an address"})
	err := root.Execute()
	if !errors.Is(err, assistant.ErrInvalidAttendee) {
		t.Fatalf("Execute error = %v, want ErrInvalidAttendee", err)
	}
}

func TestRedact(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Synthesis.APIKey = "sk-secret"
	cfg.Email.Password = "hunter2"

	redact(cfg)
	if cfg.Synthesis.APIKey != "********" {
		t.Errorf("APIKey = %q, want redacted", cfg.Synthesis.APIKey)
	}
	if cfg.Email.Password != "********" {
		t.Errorf("Password = %q, want redacted", cfg.Email.Password)
	}
	if cfg.Calendar.Token != "" {
		t.Errorf("empty Token should stay empty, got %q", cfg.Calendar.Token)
	}
}
