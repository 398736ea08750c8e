// Package kv provides a thin, typed wrapper over an embedded ordered
// key-value store. It exposes named collections, byte-level get/put/delete
// and prefix scans, and a durable flush, on top of Badger.
package kv

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrKeyNotFound is returned by Get when the key does not exist.
var ErrKeyNotFound = errors.New("kv: key not found")

// collectionSep separates a collection name from the caller's key so that
// one Badger keyspace can host many logical collections ("trees").
const collectionSep = '\x00'

// Engine is the KV Engine Adapter capability set.
type Engine interface {
	// OpenCollection returns a handle scoped to name. Idempotent and cheap.
	OpenCollection(name string) Collection
	// Flush forces durable write-through and reports the store's total
	// on-disk size in bytes (LSM plus value log).
	Flush() (int64, error)
	// Close releases the underlying store.
	Close() error
	// DataDir is the on-disk directory backing this engine.
	DataDir() string
}

// Collection is a named, flat keyspace.
type Collection interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) (existed bool, err error)
	// Scan invokes fn for every key in lexicographic order; fn returning
	// false stops the scan early.
	Scan(fn func(key string, value []byte) bool) error
	// ScanPrefix is Scan restricted to keys with the given prefix.
	ScanPrefix(prefix string, fn func(key string, value []byte) bool) error
}

// Config configures the Badger-backed engine. Defaults are grounded in the
// teacher's KVConfig/BadgerConfig tuning values.
type Config struct {
	Dir                     string
	CacheSize               int64
	ValueLogFileSize        int64
	NumMemtables            int
	NumLevelZeroTables      int
	NumLevelZeroTablesStall int
	SyncWrites              bool
	DetectConflicts         bool
}

// DefaultConfig returns tuning defaults matching the teacher's BadgerConfig.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:                     dir,
		CacheSize:               64 << 20,  // 64MB
		ValueLogFileSize:        1 << 30,   // 1GB
		NumMemtables:            2,
		NumLevelZeroTables:      5,
		NumLevelZeroTablesStall: 10,
		SyncWrites:              false,
		DetectConflicts:         false,
	}
}

type badgerEngine struct {
	db     *badger.DB
	dir    string
	logger *slog.Logger

	metricTotalSize prometheus.Gauge
}

// Open opens (or creates) the KV directory at cfg.Dir.
//
// Opening a corrupted directory yields an unrecoverable error; the caller's
// recovery policy is to remove the directory and restore from the newest
// snapshot (see internal/snapshot).
func Open(cfg Config, logger *slog.Logger) (Engine, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("kv: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = &badgerLogAdapter{logger: logger}
	opts.BlockCacheSize = cfg.CacheSize
	opts.ValueLogFileSize = cfg.ValueLogFileSize
	opts.NumMemtables = cfg.NumMemtables
	opts.NumLevelZeroTables = cfg.NumLevelZeroTables
	opts.NumLevelZeroTablesStall = cfg.NumLevelZeroTablesStall
	opts.SyncWrites = cfg.SyncWrites
	opts.DetectConflicts = cfg.DetectConflicts

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kv: open: %w", err)
	}

	e := &badgerEngine{
		db:     db,
		dir:    cfg.Dir,
		logger: logger,
		metricTotalSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quoteflow_kv_total_size_bytes",
			Help: "Total on-disk size of the KV store (LSM + value log).",
		}),
	}
	logger.Info("kv engine opened", "dir", cfg.Dir)
	return e, nil
}

func (e *badgerEngine) DataDir() string { return e.dir }

func (e *badgerEngine) OpenCollection(name string) Collection {
	return &badgerCollection{db: e.db, prefix: name + string(collectionSep)}
}

func (e *badgerEngine) Flush() (int64, error) {
	if err := e.db.Sync(); err != nil {
		return 0, fmt.Errorf("kv: flush: %w", err)
	}
	lsm, vlog := e.db.Size()
	e.metricTotalSize.Set(float64(lsm + vlog))
	return lsm + vlog, nil
}

func (e *badgerEngine) Close() error {
	return e.db.Close()
}

type badgerCollection struct {
	db     *badger.DB
	prefix string
}

func (c *badgerCollection) fullKey(key string) []byte {
	return []byte(c.prefix + key)
}

func (c *badgerCollection) Get(key string) ([]byte, error) {
	var value []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(c.fullKey(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrKeyNotFound
			}
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (c *badgerCollection) Put(key string, value []byte) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(c.fullKey(key), value)
	})
}

func (c *badgerCollection) Delete(key string) (bool, error) {
	existed := true
	err := c.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(c.fullKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			existed = false
			return nil
		}
		if err != nil {
			return err
		}
		return txn.Delete(c.fullKey(key))
	})
	if err != nil {
		return false, err
	}
	return existed, nil
}

func (c *badgerCollection) Scan(fn func(key string, value []byte) bool) error {
	return c.ScanPrefix("", fn)
}

func (c *badgerCollection) ScanPrefix(prefix string, fn func(key string, value []byte) bool) error {
	fullPrefix := []byte(c.prefix + prefix)
	return c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = fullPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key()[len(c.prefix):])
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !fn(key, value) {
				break
			}
		}
		return nil
	})
}

// badgerLogAdapter adapts *slog.Logger to Badger's internal Logger interface.
type badgerLogAdapter struct {
	logger *slog.Logger
}

func (l *badgerLogAdapter) Errorf(f string, v ...interface{})   { l.logger.Error(fmt.Sprintf(f, v...)) }
func (l *badgerLogAdapter) Warningf(f string, v ...interface{}) { l.logger.Warn(fmt.Sprintf(f, v...)) }
func (l *badgerLogAdapter) Infof(f string, v ...interface{})    { l.logger.Info(fmt.Sprintf(f, v...)) }
func (l *badgerLogAdapter) Debugf(f string, v ...interface{})   { l.logger.Debug(fmt.Sprintf(f, v...)) }
