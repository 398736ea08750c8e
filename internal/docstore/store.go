// Package docstore implements the versioned document store: structured
// records with monotonically increasing per-key versions, optimistic
// concurrency preconditions, and a legacy-key mirror for unversioned reads.
package docstore

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/qofy/quoteflow/internal/apperr"
	"github.com/qofy/quoteflow/internal/kv"
)

// Record is the versioned shape returned to callers.
type Record struct {
	Data      json.RawMessage `json:"data"`
	Version   uint64          `json:"version"`
	UpdatedAt int64           `json:"updated_at"` // epoch-ms
	CreatedAt int64           `json:"created_at"` // epoch-ms
}

// Checksum returns the SHA-256 hex of the record's data bytes as stored,
// for cheap client-side change detection. The JSON is not canonicalised:
// equal documents with different key order or whitespace hash differently.
func (r *Record) Checksum() string {
	sum := sha256.Sum256(r.Data)
	return fmt.Sprintf("%x", sum)
}

const versionedKeyPrefix = "versioned_"

// Hooks lets callers observe successful writes/deletes without C2 taking a
// direct dependency on the event log or replication engine.
type Hooks struct {
	OnWrite  func(coll, key string, rec *Record)
	OnDelete func(coll, key string)
}

// Store is the Versioned Document Store (C2).
type Store struct {
	engine          kv.Engine
	hooks           Hooks
	nowFn           func() time.Time
	legacyMirrorOff bool
}

// Option configures a Store.
type Option func(*Store)

// WithHooks installs event/replication observation hooks.
func WithHooks(h Hooks) Option {
	return func(s *Store) { s.hooks = h }
}

// WithClock overrides the time source (tests only).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.nowFn = now }
}

// WithLegacyMirrorDisabled stops Put from writing the bare-key legacy
// mirror entry. Existing legacy entries are still read and migrated by
// Get; this only affects writes going forward. Safer for new deployments
// that never need the pre-versioning read path.
func WithLegacyMirrorDisabled() Option {
	return func(s *Store) { s.legacyMirrorOff = true }
}

func New(engine kv.Engine, opts ...Option) *Store {
	s := &Store{engine: engine, nowFn: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) now() int64 {
	return s.nowFn().UnixMilli()
}

// Get reads the versioned entry for (coll, key). If only a legacy entry
// exists, it is migrated (a single write) to version 1 before being
// returned. Returns apperr.ErrDocNotFound if neither entry exists.
func (s *Store) Get(coll, key string) (*Record, error) {
	c := s.engine.OpenCollection(coll)

	raw, err := c.Get(versionedKeyPrefix + key)
	if err == nil {
		var rec Record
		if jerr := json.Unmarshal(raw, &rec); jerr != nil {
			return nil, apperr.ErrStorage.WithCause(jerr)
		}
		return &rec, nil
	}
	if err != kv.ErrKeyNotFound {
		return nil, apperr.ErrStorage.WithCause(err)
	}

	// No versioned entry. Check for a legacy entry to migrate.
	legacy, err := c.Get(key)
	if err == kv.ErrKeyNotFound {
		return nil, apperr.ErrDocNotFound
	}
	if err != nil {
		return nil, apperr.ErrStorage.WithCause(err)
	}

	now := s.now()
	rec := &Record{Data: json.RawMessage(legacy), Version: 1, CreatedAt: now, UpdatedAt: now}
	if err := s.writeBoth(c, key, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Put writes data for (coll, key), enforcing the optimistic-concurrency
// precondition when baseVersion is non-nil:
//   - nil: last-writer-wins, always succeeds.
//   - *0: first-create only; fails if any prior entry exists.
//   - *v (v>0): requires the stored version equal v.
func (s *Store) Put(coll, key string, data json.RawMessage, baseVersion *uint64) (*Record, error) {
	c := s.engine.OpenCollection(coll)

	existing, err := s.readVersioned(c, key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		// A legacy-only entry is a prior entry: migrate it to version 1 first.
		existing, err = s.Get(coll, key)
		if err == apperr.ErrDocNotFound {
			existing, err = nil, nil
		}
		if err != nil {
			return nil, err
		}
	}

	if baseVersion != nil {
		var storedVersion uint64
		if existing != nil {
			storedVersion = existing.Version
		}
		if *baseVersion != storedVersion {
			var updatedAt int64
			if existing != nil {
				updatedAt = existing.UpdatedAt
			}
			return nil, apperr.ErrDocVersionConflict.WithVersionConflict(storedVersion, updatedAt)
		}
	}

	now := s.now()
	rec := &Record{Data: data, UpdatedAt: now}
	if existing != nil {
		rec.Version = existing.Version + 1
		rec.CreatedAt = existing.CreatedAt
	} else {
		rec.Version = 1
		rec.CreatedAt = now
	}

	if err := s.writeBoth(c, key, rec); err != nil {
		return nil, err
	}

	if s.hooks.OnWrite != nil {
		s.hooks.OnWrite(coll, key, rec)
	}
	return rec, nil
}

// Delete removes both the versioned and legacy entries for (coll, key).
// existed distinguishes a no-op from an actual removal; Delete is
// idempotent at the API surface.
func (s *Store) Delete(coll, key string) (existed bool, err error) {
	c := s.engine.OpenCollection(coll)

	versionedExisted, err := c.Delete(versionedKeyPrefix + key)
	if err != nil {
		return false, apperr.ErrStorage.WithCause(err)
	}
	legacyExisted, err := c.Delete(key)
	if err != nil {
		return false, apperr.ErrStorage.WithCause(err)
	}
	if _, ferr := s.engine.Flush(); ferr != nil {
		return false, apperr.ErrStorage.WithCause(ferr)
	}

	existed = versionedExisted || legacyExisted
	if existed && s.hooks.OnDelete != nil {
		s.hooks.OnDelete(coll, key)
	}
	return existed, nil
}

func (s *Store) readVersioned(c kv.Collection, key string) (*Record, error) {
	raw, err := c.Get(versionedKeyPrefix + key)
	if err == kv.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.ErrStorage.WithCause(err)
	}
	var rec Record
	if jerr := json.Unmarshal(raw, &rec); jerr != nil {
		return nil, apperr.ErrStorage.WithCause(jerr)
	}
	return &rec, nil
}

// writeBoth serialises rec into the versioned entry and mirrors rec.Data
// into the legacy entry, then flushes once per operation.
func (s *Store) writeBoth(c kv.Collection, key string, rec *Record) error {
	encoded, err := json.Marshal(rec)
	if err != nil {
		return apperr.ErrStorage.WithCause(err)
	}
	if err := c.Put(versionedKeyPrefix+key, encoded); err != nil {
		return apperr.ErrStorage.WithCause(err)
	}
	if !s.legacyMirrorOff {
		if err := c.Put(key, rec.Data); err != nil {
			return apperr.ErrStorage.WithCause(err)
		}
	}
	if _, err := s.engine.Flush(); err != nil {
		return apperr.ErrStorage.WithCause(err)
	}
	return nil
}
