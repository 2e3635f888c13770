package store

import (
	"database/sql"
	"fmt"
	"time"
)

// DispatchRecord is one audited event-dispatch outcome.
type DispatchRecord struct {
	ID             int64
	PageID         int64
	IdempotencyKey string
	Channel        string // "calendar", "email", "none"
	State          string
	ExternalID     string
	CalendarError  string
	EmailError     string
	CreatedAt      time.Time
}

// SaveDispatch appends a dispatch outcome to the audit log.
// Thread-safe: acquires write lock.
func (s *Store) SaveDispatch(r DispatchRecord) error {
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO dispatches (page_id, idempotency_key, channel, state, external_id, calendar_error, email_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.PageID, r.IdempotencyKey, r.Channel, r.State, r.ExternalID, r.CalendarError, r.EmailError, created.UTC())
	if err != nil {
		return fmt.Errorf("save dispatch: %w", err)
	}
	return nil
}

// ListDispatches returns the audit log for a page, newest first.
// Thread-safe: acquires read lock.
func (s *Store) ListDispatches(pageID int64) ([]DispatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, page_id, idempotency_key, channel, state, external_id, calendar_error, email_error, created_at
		FROM dispatches
		WHERE page_id = ?
		ORDER BY created_at DESC, id DESC
	`, pageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []DispatchRecord{}
	for rows.Next() {
		var r DispatchRecord
		var extID, calErr, mailErr sql.NullString
		if err := rows.Scan(&r.ID, &r.PageID, &r.IdempotencyKey, &r.Channel, &r.State, &extID, &calErr, &mailErr, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.ExternalID = extID.String
		r.CalendarError = calErr.String
		r.EmailError = mailErr.String
		records = append(records, r)
	}
	return records, rows.Err()
}
