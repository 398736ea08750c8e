// Package snapshot implements the periodic backup engine: byte-for-byte
// copies of the KV data directory to a timestamp-named sibling directory,
// bounded retention, and best-effort restore-from-latest at boot.
package snapshot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/qofy/quoteflow/internal/apperr"
)

const timestampToken = "{{timestamp}}"
const timestampLayout = "20060102T150405Z"

// Config configures the Manager.
type Config struct {
	// SourceDir is the KV engine's data directory.
	SourceDir string
	// Root is the directory under which snapshot directories are created.
	Root string
	// NameTemplate contains the literal token {{timestamp}}, e.g.
	// "snap_{{timestamp}}". The timestamp must be a proper suffix.
	NameTemplate string
	// Retention is the maximum number of snapshots kept.
	Retention int
	// Interval between snapshot cycles.
	Interval time.Duration

	Logger *slog.Logger
}

// Manager is the Snapshot Engine (C5).
type Manager struct {
	cfg    Config
	lock   chan struct{} // 1-buffered: acts as a mutex with timeout support
	logger *slog.Logger
}

// New validates the configuration and constructs a Manager. Per the design
// decision recorded in DESIGN.md, only prefix{{timestamp}} templates are
// accepted.
func New(cfg Config) (*Manager, error) {
	if cfg.SourceDir == "" || cfg.Root == "" {
		return nil, fmt.Errorf("snapshot: source and root directories are required")
	}
	if !strings.HasSuffix(cfg.NameTemplate, timestampToken) {
		return nil, fmt.Errorf("snapshot: name template %q must end with %s", cfg.NameTemplate, timestampToken)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, lock: make(chan struct{}, 1), logger: logger}, nil
}

func (m *Manager) prefix() string {
	return strings.TrimSuffix(m.cfg.NameTemplate, timestampToken)
}

// Info describes one snapshot directory.
type Info struct {
	Name string
	Path string
}

// Run executes the periodic loop until ctx is cancelled: sleep interval,
// acquire the coordination mutex with a 5-minute timeout, attempt doBackup
// up to 3 times (each bounded by a 3-minute timeout), release, repeat.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runCycle(ctx)
		}
	}
}

func (m *Manager) runCycle(ctx context.Context) {
	select {
	case m.lock <- struct{}{}:
		defer func() { <-m.lock }()
	case <-time.After(5 * time.Minute):
		m.logger.Warn("snapshot: lock acquisition timed out, skipping cycle")
		return
	case <-ctx.Done():
		return
	}

	for attempt := 1; attempt <= 3; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Minute)
		err := m.doBackup(attemptCtx)
		cancel()
		if err == nil {
			m.logger.Info("snapshot: backup succeeded", "attempt", attempt)
			return
		}
		m.logger.Warn("snapshot: backup attempt failed", "attempt", attempt, "error", err)
	}
	m.logger.Error("snapshot: all backup attempts failed this cycle")
}

// doBackup computes a timestamped destination directory name, recursively
// copies the KV data directory into it, then prunes.
func (m *Manager) doBackup(ctx context.Context) error {
	ts := time.Now().UTC().Format(timestampLayout)
	name := strings.Replace(m.cfg.NameTemplate, timestampToken, ts, 1)
	dest := filepath.Join(m.cfg.Root, name)

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return apperr.ErrSnapshot.WithCause(err)
	}
	if err := copyTree(m.cfg.SourceDir, dest); err != nil {
		return apperr.ErrSnapshot.WithCause(err)
	}
	return m.Prune()
}

// List returns snapshot directories named with this Manager's prefix,
// sorted ascending (lexicographic order equals chronological order).
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.cfg.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	prefix := m.prefix()
	var infos []Info
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		infos = append(infos, Info{Name: e.Name(), Path: filepath.Join(m.cfg.Root, e.Name())})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Prune removes the oldest snapshot directories beyond retention.
func (m *Manager) Prune() error {
	infos, err := m.List()
	if err != nil {
		return err
	}
	if m.cfg.Retention <= 0 || len(infos) <= m.cfg.Retention {
		return nil
	}
	toRemove := infos[:len(infos)-m.cfg.Retention]
	for _, info := range toRemove {
		if err := os.RemoveAll(info.Path); err != nil {
			return err
		}
	}
	return nil
}

// RestoreFromLatest is the boot-time, best-effort restore: if the KV
// directory is missing or empty, copies the newest snapshot into it.
// Never overwrites a populated store.
func (m *Manager) RestoreFromLatest() (restored bool, err error) {
	infos, err := m.List()
	if err != nil {
		return false, err
	}
	if len(infos) == 0 {
		return false, nil
	}

	populated, err := dirHasEntries(m.cfg.SourceDir)
	if err != nil {
		return false, err
	}
	if populated {
		return false, nil
	}

	if err := os.MkdirAll(m.cfg.SourceDir, 0o755); err != nil {
		return false, err
	}
	newest := infos[len(infos)-1]
	if err := copyTree(newest.Path, m.cfg.SourceDir); err != nil {
		return false, err
	}
	return true, nil
}

func dirHasEntries(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return len(entries) > 0, nil
}

// copyTree recursively copies src into dst, directories first, then files,
// preserving relative layout. No custom container format is imposed.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
