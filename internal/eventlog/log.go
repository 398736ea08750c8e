// Package eventlog appends mutation events keyed by (timestamp, sequence)
// and serves cursor-based forward scans with type filtering.
package eventlog

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/qofy/quoteflow/internal/apperr"
	"github.com/qofy/quoteflow/internal/kv"
)

const collectionName = "runtime_events"
const keyPrefix = "runtime_event_"

// Event is a single recorded mutation.
type Event struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	TS      int64           `json:"ts"` // epoch-ms
	Payload json.RawMessage `json:"payload"`
	Cursor  string          `json:"cursor"`

	seq uint64 // not serialised; recovered from the key on scan
}

// Log is the Event Log (C3).
type Log struct {
	coll  kv.Collection
	seq   atomic.Uint64
	nowFn func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the time source (tests only).
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.nowFn = now }
}

func New(engine kv.Engine, opts ...Option) *Log {
	l := &Log{coll: engine.OpenCollection(collectionName), nowFn: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Emit records a new event and returns its id.
func (l *Log) Emit(eventType string, payload json.RawMessage) (id string, err error) {
	ts := l.nowFn().UnixMilli()
	seq := l.seq.Add(1)

	ev := Event{
		ID:      uuid.NewString(),
		Type:    eventType,
		TS:      ts,
		Payload: payload,
		Cursor:  encodeCursor(ts, seq),
	}

	encoded, jerr := json.Marshal(ev)
	if jerr != nil {
		return "", apperr.ErrStorage.WithCause(jerr)
	}
	key := fmt.Sprintf("%s%020d_%020d", keyPrefix, ts, seq)
	if err := l.coll.Put(key, encoded); err != nil {
		return "", apperr.ErrStorage.WithCause(err)
	}
	return ev.ID, nil
}

// ListResult is the paginated response from List.
type ListResult struct {
	Items      []Event
	HasMore    bool
	NextCursor string
}

// List performs a forward scan over keys with prefix runtime_event_,
// keeping records whose (ts, seq) is strictly greater than sinceCursor,
// optionally filtered by type, stopping after limit hits.
func (l *Log) List(sinceCursor string, limit int, types []string) (*ListResult, error) {
	ts0, seq0, err := decodeCursor(sinceCursor)
	if err != nil {
		return nil, apperr.ErrBadRequest.WithCause(err)
	}

	var typeSet map[string]bool
	if len(types) > 0 {
		typeSet = make(map[string]bool, len(types))
		for _, t := range types {
			typeSet[t] = true
		}
	}

	result := &ListResult{}
	var lastTS int64
	var lastSeq uint64
	var scanErr error

	err = l.coll.ScanPrefix(keyPrefix, func(key string, value []byte) bool {
		var ev Event
		if jerr := json.Unmarshal(value, &ev); jerr != nil {
			scanErr = apperr.ErrStorage.WithCause(jerr)
			return false
		}
		seq, perr := parseSeqFromKey(key)
		if perr != nil {
			scanErr = apperr.ErrStorage.WithCause(perr)
			return false
		}
		ev.seq = seq

		if !after(ev.TS, seq, ts0, seq0) {
			return true
		}
		if typeSet != nil && !typeSet[ev.Type] {
			return true
		}

		if len(result.Items) >= limit {
			result.HasMore = true
			return false
		}

		result.Items = append(result.Items, ev)
		lastTS, lastSeq = ev.TS, seq
		return true
	})
	if err != nil {
		return nil, apperr.ErrStorage.WithCause(err)
	}
	if scanErr != nil {
		return nil, scanErr
	}

	if result.HasMore {
		result.NextCursor = encodeCursor(lastTS, lastSeq)
	} else if len(result.Items) > 0 {
		result.NextCursor = encodeCursor(lastTS, lastSeq+1)
	}
	return result, nil
}

func after(ts int64, seq uint64, ts0 int64, seq0 uint64) bool {
	if ts != ts0 {
		return ts > ts0
	}
	return seq > seq0
}

func encodeCursor(ts int64, seq uint64) string {
	raw := fmt.Sprintf("%d:%d", ts, seq)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (ts int64, seq uint64, err error) {
	if cursor == "" {
		return 0, 0, nil
	}
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, 0, fmt.Errorf("eventlog: decode cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("eventlog: malformed cursor %q", cursor)
	}
	ts, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("eventlog: malformed cursor timestamp: %w", err)
	}
	seqVal, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("eventlog: malformed cursor sequence: %w", err)
	}
	return ts, seqVal, nil
}

func parseSeqFromKey(key string) (uint64, error) {
	trimmed := strings.TrimPrefix(key, keyPrefix)
	parts := strings.SplitN(trimmed, "_", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("eventlog: malformed key %q", key)
	}
	return strconv.ParseUint(parts[1], 10, 64)
}
