// Package store provides SQLite persistence for captured pages.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a page id does not exist.
var ErrNotFound = errors.New("page not found")

// schemaVersion is stored in PRAGMA user_version.
const schemaVersion = 1

// Store handles SQLite persistence. NOT an interface - concrete type.
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Store struct {
	db *sql.DB
	mu sync.RWMutex // Protects all database operations
}

// Page is a captured web page. Pages are immutable once captured except
// for re-capture of the same URL, which overwrites title, content and
// capture time but keeps the id.
type Page struct {
	ID         int64
	URL        string
	Title      string
	Content    string
	CapturedAt time.Time
}

// Open creates a new Store with the given database path.
// Creates tables if they don't exist.
// Uses WAL mode for better concurrent read performance (file-based DBs only).
func Open(dbPath string) (*Store, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		// Private in-memory database per Store; a single connection keeps
		// every query on the same database.
		connStr = "file::memory:"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &Store{db: db}

	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return s, nil
}

// createTables creates the required tables, the FTS index and its sync
// triggers if they don't exist.
func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		captured_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pages_captured ON pages(captured_at DESC);

	CREATE VIRTUAL TABLE IF NOT EXISTS pages_fts USING fts5(
		title, content, content='pages', content_rowid='id',
		tokenize='unicode61 remove_diacritics 2'
	);

	CREATE TRIGGER IF NOT EXISTS pages_ai AFTER INSERT ON pages BEGIN
		INSERT INTO pages_fts(rowid, title, content) VALUES (new.id, new.title, new.content);
	END;

	CREATE TRIGGER IF NOT EXISTS pages_ad AFTER DELETE ON pages BEGIN
		INSERT INTO pages_fts(pages_fts, rowid, title, content) VALUES ('delete', old.id, old.title, old.content);
	END;

	CREATE TRIGGER IF NOT EXISTS pages_au AFTER UPDATE ON pages BEGIN
		INSERT INTO pages_fts(pages_fts, rowid, title, content) VALUES ('delete', old.id, old.title, old.content);
		INSERT INTO pages_fts(rowid, title, content) VALUES (new.id, new.title, new.content);
	END;

	CREATE TABLE IF NOT EXISTS dispatches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		page_id INTEGER NOT NULL,
		idempotency_key TEXT NOT NULL,
		channel TEXT NOT NULL,
		state TEXT NOT NULL,
		external_id TEXT,
		calendar_error TEXT,
		email_error TEXT,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (page_id) REFERENCES pages(id)
	);

	CREATE INDEX IF NOT EXISTS idx_dispatches_page ON dispatches(page_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

// Close closes the database connection.
// Thread-safe: acquires write lock to prevent closing during in-flight operations.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Insert stores a page and returns its id. A page whose URL is already
// stored overwrites the previous capture and keeps the original id.
// A zero CapturedAt is set to now. Times are stored in UTC.
// Thread-safe: acquires write lock.
func (s *Store) Insert(p Page) (int64, error) {
	if strings.TrimSpace(p.URL) == "" {
		return 0, errors.New("page url is required")
	}
	if strings.TrimSpace(p.Title) == "" {
		return 0, errors.New("page title is required")
	}
	captured := p.CapturedAt
	if captured.IsZero() {
		captured = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.db.QueryRow(`
		INSERT INTO pages (url, title, content, captured_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			captured_at = excluded.captured_at
		RETURNING id
	`, p.URL, p.Title, p.Content, captured.UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert page: %w", err)
	}
	return id, nil
}

// Get returns the page with the given id, or ErrNotFound.
// Thread-safe: acquires read lock.
func (s *Store) Get(id int64) (Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pages, err := s.queryPages(`
		SELECT id, url, title, content, captured_at
		FROM pages
		WHERE id = ?
	`, id)
	if err != nil {
		return Page{}, err
	}
	if len(pages) == 0 {
		return Page{}, fmt.Errorf("page %d: %w", id, ErrNotFound)
	}
	return pages[0], nil
}

// ListRecent returns up to n pages, most recently captured first.
// Thread-safe: acquires read lock.
func (s *Store) ListRecent(n int) ([]Page, error) {
	if n <= 0 {
		return []Page{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryPages(`
		SELECT id, url, title, content, captured_at
		FROM pages
		ORDER BY captured_at DESC, id DESC
		LIMIT ?
	`, n)
}

// TextMatch returns up to limit pages whose title or content contains any
// of terms, using the FTS index. Pages come back best bm25 match first
// (title hits weigh double), then insertion order, so a limit cuts the
// weakest matches. Callers still apply their own ranking.
// Thread-safe: acquires read lock.
func (s *Store) TextMatch(terms []string, limit int) ([]Page, error) {
	query := ftsQuery(terms)
	if query == "" || limit <= 0 {
		return []Page{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	pages, err := s.queryPages(`
		SELECT p.id, p.url, p.title, p.content, p.captured_at
		FROM pages_fts f
		JOIN pages p ON p.id = f.rowid
		WHERE pages_fts MATCH ?
		ORDER BY bm25(pages_fts, 2.0, 1.0), p.id
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("text match: %w", err)
	}
	return pages, nil
}

// Count returns the number of stored pages.
// Thread-safe: acquires read lock.
func (s *Store) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM pages").Scan(&count)
	return count, err
}

// ftsQuery builds an FTS5 OR query with every term quoted, so user text can
// never be interpreted as FTS syntax.
func ftsQuery(terms []string) string {
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// queryPages is a helper that executes a query and scans results into Pages.
// Caller must hold s.mu (read lock is sufficient).
func (s *Store) queryPages(query string, args ...any) ([]Page, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pages := []Page{}
	for rows.Next() {
		var p Page
		if err := rows.Scan(&p.ID, &p.URL, &p.Title, &p.Content, &p.CapturedAt); err != nil {
			return nil, err
		}
		p.CapturedAt = p.CapturedAt.UTC()
		pages = append(pages, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return pages, nil
}
