// Package replication implements the asynchronous fan-out replication
// engine: one connection pool per external relational target, routed per
// table, with lazy table creation and best-effort fire-and-forget dispatch.
package replication

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/qofy/quoteflow/internal/apperr"
)

// TargetConfig declares one replication target.
type TargetConfig struct {
	// ConnString is a lib/pq-compatible Postgres connection string.
	ConnString string
	// Tables, if non-empty, restricts this target to the given table names
	// (the "targets" set in the routing-rule table).
	Tables []string
}

// Config configures the Engine.
type Config struct {
	Enabled     bool
	Targets     []TargetConfig
	MaxOpenConn int // per target; defaults to 8
}

// Engine is the Replication Engine (C4). A disabled or zero-target Engine
// is a safe no-op: Replicate returns immediately without spawning anything.
type Engine struct {
	enabled bool
	pools   []*sql.DB
	routes  map[string][]int // table -> ordered target indices

	mu          sync.Mutex
	provisioned map[string]bool // "{targetIdx}:{table}" -> created

	logger *slog.Logger
}

// New opens one connection pool per configured target and computes the
// routing table once. DATABASE_SYNC_ON_OFF=off (cfg.Enabled=false) or zero
// targets both yield a no-op Engine.
func New(cfg Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		enabled:     cfg.Enabled && len(cfg.Targets) > 0,
		provisioned: make(map[string]bool),
		logger:      logger,
	}
	if !e.enabled {
		return e, nil
	}

	maxOpen := cfg.MaxOpenConn
	if maxOpen <= 0 {
		maxOpen = 8
	}

	for i, t := range cfg.Targets {
		db, err := sql.Open("postgres", t.ConnString)
		if err != nil {
			return nil, fmt.Errorf("replication: open target %d: %w", i, err)
		}
		db.SetMaxOpenConns(maxOpen)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pingErr := db.PingContext(ctx)
		cancel()
		if pingErr != nil {
			return nil, fmt.Errorf("replication: ping target %d: %w", i, pingErr)
		}
		e.pools = append(e.pools, db)
	}

	e.routes = computeRoutes(cfg.Targets)
	return e, nil
}

// computeRoutes implements the routing-rule table: 0 targets is a no-op
// (handled by the caller); 1 target routes everything to target 0; with
// ≥2 targets, tables listed by exactly the targets that declare them,
// unlisted tables default to target 0.
func computeRoutes(targets []TargetConfig) map[string][]int {
	routes := make(map[string][]int)
	if len(targets) == 1 {
		return routes // lazily resolved to [0] for every table at dispatch time
	}

	anyDeclared := false
	for _, t := range targets {
		if len(t.Tables) > 0 {
			anyDeclared = true
			break
		}
	}
	if !anyDeclared {
		return routes // every target receives every table; resolved at dispatch time
	}

	declaredTables := make(map[string]map[int]bool)
	for idx, t := range targets {
		for _, table := range t.Tables {
			if declaredTables[table] == nil {
				declaredTables[table] = make(map[int]bool)
			}
			declaredTables[table][idx] = true
		}
	}
	for table, idxSet := range declaredTables {
		var idxs []int
		for idx := range idxSet {
			idxs = append(idxs, idx)
		}
		sort.Ints(idxs)
		routes[table] = idxs
	}
	return routes
}

// targetsFor resolves the routed target indices for table, applying the
// remaining rows of the routing-rule table that computeRoutes left lazy.
func (e *Engine) targetsFor(table string) []int {
	if len(e.pools) == 1 {
		return []int{0}
	}
	if explicit, ok := e.routes[table]; ok {
		return explicit
	}
	if len(e.routes) == 0 {
		// no target declared a Tables set: every target receives every table
		all := make([]int, len(e.pools))
		for i := range all {
			all[i] = i
		}
		return all
	}
	// some targets declared sets, table wasn't listed anywhere: default to target 0
	return []int{0}
}

// Replicate dispatches an upsert (or, if deleted is true, a delete) of
// (table, id, data) to every routed target, each as an independent
// detached goroutine. A single target's failure is logged and never
// propagated to the caller.
func (e *Engine) Replicate(table, id string, data json.RawMessage, deleted bool) {
	if !e.enabled {
		return
	}
	for _, idx := range e.targetsFor(table) {
		idx := idx
		go e.replicateOne(idx, table, id, data, deleted)
	}
}

func (e *Engine) replicateOne(targetIdx int, table, id string, data json.RawMessage, deleted bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db := e.pools[targetIdx]
	if err := e.ensureTable(ctx, targetIdx, table); err != nil {
		e.logger.Error("replication: ensure table failed", "target", targetIdx, "table", table, "error", err)
		return
	}

	qualified := "quoteflow_" + table
	if deleted {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", qualified), id); err != nil {
			e.logger.Error("replication: delete failed", "target", targetIdx, "table", table, "error", err)
		}
		return
	}

	lastUpdated := extractLastUpdated(data)
	stmt := fmt.Sprintf(
		"INSERT INTO %s (id, last_updated, data) VALUES ($1, $2, $3) ON CONFLICT (id) DO UPDATE SET last_updated = EXCLUDED.last_updated, data = EXCLUDED.data",
		qualified,
	)
	if _, err := db.ExecContext(ctx, stmt, id, lastUpdated, []byte(data)); err != nil {
		e.logger.Error("replication: upsert failed", "target", targetIdx, "table", table, "error", err)
	}
}

func (e *Engine) ensureTable(ctx context.Context, targetIdx int, table string) error {
	key := fmt.Sprintf("%d:%s", targetIdx, table)

	e.mu.Lock()
	if e.provisioned[key] {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	qualified := "quoteflow_" + table
	ddl := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, last_updated TIMESTAMPTZ, data JSONB)",
		qualified,
	)
	if _, err := e.pools[targetIdx].ExecContext(ctx, ddl); err != nil {
		return apperr.ErrReplication.WithCause(err)
	}

	e.mu.Lock()
	e.provisioned[key] = true
	e.mu.Unlock()
	return nil
}

// extractLastUpdated pulls an RFC-3339 "last_updated" field out of the
// payload if present, else returns nil (SQL NULL).
func extractLastUpdated(data json.RawMessage) interface{} {
	var probe struct {
		LastUpdated *string `json:"last_updated"`
	}
	if err := json.Unmarshal(data, &probe); err != nil || probe.LastUpdated == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *probe.LastUpdated)
	if err != nil {
		return nil
	}
	return t
}

// Close releases all target connection pools.
func (e *Engine) Close() error {
	var firstErr error
	for _, db := range e.pools {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
