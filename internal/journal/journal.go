package journal

// The drain goroutine is the only reader of j.ch and the only writer to j.w.
// The ring has its own lock, so Emit never blocks on disk.

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/abelbrown/recall/internal/logging"
)

const chanSize = 1024

type pending struct {
	data  []byte
	entry Entry
}

// Journal writes entries asynchronously. A nil *Journal discards
// everything, so callers never need to check.
type Journal struct {
	ring      *Ring
	sessionID string
	ch        chan pending
	w         io.Writer
	closer    io.Closer
	dropped   atomic.Uint64
	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// New starts a journal writing JSONL to w (nil keeps entries in memory
// only) and remembering the last ringSize entries.
func New(w io.Writer, ringSize int) *Journal {
	if w == nil {
		w = io.Discard
	}
	j := &Journal{
		ring:      NewRing(ringSize),
		sessionID: uuid.NewString()[:8],
		ch:        make(chan pending, chanSize),
		w:         w,
		done:      make(chan struct{}),
	}
	go j.drain()
	return j
}

// Open appends to the JSONL file at path, creating its directory.
func Open(path string, ringSize int) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	j := New(f, ringSize)
	j.closer = f
	return j, nil
}

func (j *Journal) drain() {
	defer close(j.done)
	for p := range j.ch {
		if _, err := j.w.Write(p.data); err != nil {
			j.dropped.Add(1)
		}
		j.ring.Push(p.entry)
	}
}

// Emit records e. It never blocks: when the queue is full or the journal
// is closed the entry is dropped and counted.
func (j *Journal) Emit(e Entry) {
	if j == nil {
		return
	}
	defer func() {
		// Close can race the closed check below.
		if recover() != nil {
			j.dropped.Add(1)
		}
	}()
	if j.closed.Load() {
		j.dropped.Add(1)
		return
	}

	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	e.SessionID = j.sessionID

	data, err := json.Marshal(e)
	if err != nil {
		j.dropped.Add(1)
		return
	}
	select {
	case j.ch <- pending{data: append(data, '\n'), entry: e}:
	default:
		j.dropped.Add(1)
	}
}

// Recent returns the last n entries, oldest first.
func (j *Journal) Recent(n int) []Entry {
	if j == nil {
		return nil
	}
	return j.ring.Last(n)
}

// Stats counts buffered entries by kind.
func (j *Journal) Stats() map[Kind]int {
	if j == nil {
		return map[Kind]int{}
	}
	return j.ring.Stats()
}

// Dropped reports how many entries were lost.
func (j *Journal) Dropped() uint64 {
	if j == nil {
		return 0
	}
	return j.dropped.Load()
}

// Close flushes queued entries and closes the file opened by Open.
func (j *Journal) Close() {
	if j == nil {
		return
	}
	j.closeOnce.Do(func() {
		j.closed.Store(true)
		close(j.ch)
		<-j.done
		if j.closer != nil {
			if err := j.closer.Close(); err != nil {
				logging.Warn("failed to close journal", "err", err)
			}
		}
		if d := j.dropped.Load(); d > 0 {
			logging.Warn("journal entries dropped", "count", d, "session", j.sessionID)
		}
	})
}
