// Package journal records pipeline activity as JSONL lines and keeps the
// most recent entries in memory for the debug endpoint.
package journal

import (
	"encoding/json"
	"time"
)

// Kind identifies what happened, as "<stage>.<outcome>".
type Kind string

const (
	KindCaptureSaved  Kind = "capture.saved"
	KindCaptureFailed Kind = "capture.failed"

	KindQueryAnswered Kind = "query.answered"
	KindQueryDegraded Kind = "query.degraded"
	KindQueryNoMatch  Kind = "query.no_match"
	KindQueryNoPages  Kind = "query.no_pages"

	KindEventCreated    Kind = "event.created"
	KindEventUnresolved Kind = "event.unresolved"
	KindEventFailed     Kind = "event.failed"
)

// Entry is one journal record. Only Kind and Time are always set.
type Entry struct {
	Time      time.Time     `json:"t"`
	Kind      Kind          `json:"kind"`
	SessionID string        `json:"session_id,omitempty"`
	PageID    int64         `json:"page_id,omitempty"`
	Query     string        `json:"query,omitempty"`
	Count     int           `json:"count,omitempty"`
	Channel   string        `json:"channel,omitempty"`
	Dur       time.Duration `json:"-"`
	DurMs     float64       `json:"dur_ms,omitempty"`
	Err       string        `json:"err,omitempty"`
}

// MarshalJSON reports Dur in milliseconds.
func (e Entry) MarshalJSON() ([]byte, error) {
	type alias Entry
	a := alias(e)
	if e.Dur > 0 {
		a.DurMs = float64(e.Dur) / float64(time.Millisecond)
	}
	return json.Marshal(a)
}
