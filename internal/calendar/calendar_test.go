package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFindEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/calendars/primary/events" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("privateExtendedProperty"); got != "recallKey=abc" {
			t.Errorf("unexpected property filter %q", got)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		w.Write([]byte(`{"items":[{"id":"evt-1","summary":"x","start":{"dateTime":""},"end":{"dateTime":""}}]}`))
	}))
	defer server.Close()

	c := New(Config{Endpoint: server.URL, Token: "tok"})
	id, err := c.FindEvent(context.Background(), "abc")
	if err != nil {
		t.Fatalf("FindEvent: %v", err)
	}
	if id != "evt-1" {
		t.Errorf("expected evt-1, got %q", id)
	}
}

func TestFindEventNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[]}`))
	}))
	defer server.Close()

	_, err := New(Config{Endpoint: server.URL, Token: "tok"}).FindEvent(context.Background(), "abc")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateEvent(t *testing.T) {
	var got eventBody
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`{"id":"new-1","htmlLink":"https://calendar.example/e/new-1"}`))
	}))
	defer server.Close()

	start := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	c := New(Config{Endpoint: server.URL, Token: "tok", TimeZone: "America/Los_Angeles"})
	id, err := c.CreateEvent(context.Background(), Event{
		Title:    "AI ethics board",
		Start:    start,
		End:      start.Add(time.Hour),
		Attendee: "me@example.com",
		Key:      "k1",
	})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if id != "new-1" {
		t.Errorf("expected new-1, got %q", id)
	}
	if got.Summary != "AI ethics board" {
		t.Errorf("summary = %q", got.Summary)
	}
	if got.Start.DateTime != "2025-03-03T09:00:00Z" || got.End.DateTime != "2025-03-03T10:00:00Z" {
		t.Errorf("times = %q .. %q", got.Start.DateTime, got.End.DateTime)
	}
	if got.Start.TimeZone != "America/Los_Angeles" {
		t.Errorf("time zone = %q", got.Start.TimeZone)
	}
	if got.ExtendedProperties == nil || got.ExtendedProperties.Private["recallKey"] != "k1" {
		t.Errorf("idempotency key not written: %+v", got.ExtendedProperties)
	}
	if len(got.Attendees) != 1 || got.Attendees[0].Email != "me@example.com" {
		t.Errorf("attendees = %+v", got.Attendees)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", 401, `{"error":{"code":401,"message":"Invalid Credentials","errors":[{"reason":"authError"}]}}`, ErrAuthExpired},
		{"rate limit", 403, `{"error":{"code":403,"message":"Rate Limit Exceeded","errors":[{"reason":"rateLimitExceeded"}]}}`, ErrQuotaExceeded},
		{"too many requests", 429, `{}`, ErrQuotaExceeded},
		{"forbidden", 403, `{"error":{"code":403,"message":"Forbidden","errors":[{"reason":"forbidden"}]}}`, ErrAuthExpired},
		{"server error", 503, `backend down`, ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := New(Config{Endpoint: server.URL, Token: "tok"}).CreateEvent(context.Background(), Event{Key: "k"})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.Status != tt.status {
				t.Errorf("expected APIError with status %d, got %v", tt.status, err)
			}
		})
	}
}

func TestMissingTokenIsAuthExpired(t *testing.T) {
	_, err := New(Config{Endpoint: "http://127.0.0.1:1"}).FindEvent(context.Background(), "k")
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
}

func TestNetworkErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := server.URL
	server.Close()

	_, err := New(Config{Endpoint: endpoint, Token: "tok", Timeout: time.Second}).FindEvent(context.Background(), "k")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
