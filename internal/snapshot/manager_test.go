package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestRejectsTemplateWithoutTimestampSuffix(t *testing.T) {
	_, err := New(Config{
		SourceDir:    t.TempDir(),
		Root:         t.TempDir(),
		NameTemplate: "{{timestamp}}_snap",
	})
	require.Error(t, err)
}

func TestDoBackupCopiesAndPrunes(t *testing.T) {
	source := t.TempDir()
	root := t.TempDir()
	writeFile(t, filepath.Join(source, "00001.sst"), "payload")

	m, err := New(Config{
		SourceDir:    source,
		Root:         root,
		NameTemplate: "snap_{{timestamp}}",
		Retention:    2,
	})
	require.NoError(t, err)

	require.NoError(t, m.doBackup(context.Background()))
	infos, err := m.List()
	require.NoError(t, err)
	require.Len(t, infos, 1)

	copied, err := os.ReadFile(filepath.Join(infos[0].Path, "00001.sst"))
	require.NoError(t, err)
	require.Equal(t, "payload", string(copied))
}

func TestPruneKeepsNewestWithinRetention(t *testing.T) {
	root := t.TempDir()
	m, err := New(Config{
		SourceDir:    t.TempDir(),
		Root:         root,
		NameTemplate: "snap_{{timestamp}}",
		Retention:    3,
	})
	require.NoError(t, err)

	names := []string{"snap_20260101T000001Z", "snap_20260101T000002Z", "snap_20260101T000003Z", "snap_20260101T000004Z", "snap_20260101T000005Z"}
	for _, n := range names {
		require.NoError(t, os.MkdirAll(filepath.Join(root, n), 0o755))
	}

	require.NoError(t, m.Prune())
	infos, err := m.List()
	require.NoError(t, err)
	require.Len(t, infos, 3)
	require.Equal(t, "snap_20260101T000003Z", infos[0].Name)
	require.Equal(t, "snap_20260101T000005Z", infos[2].Name)
}

func TestRestoreGuardSkipsWhenPopulated(t *testing.T) {
	source := t.TempDir()
	writeFile(t, filepath.Join(source, "existing.sst"), "already-here")
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "snap_20260101T000000Z"), 0o755))
	writeFile(t, filepath.Join(root, "snap_20260101T000000Z", "stale.sst"), "stale")

	m, err := New(Config{SourceDir: source, Root: root, NameTemplate: "snap_{{timestamp}}", Retention: 3})
	require.NoError(t, err)

	restored, err := m.RestoreFromLatest()
	require.NoError(t, err)
	require.False(t, restored)
	_, err = os.Stat(filepath.Join(source, "stale.sst"))
	require.True(t, os.IsNotExist(err))
}

func TestRestoreFromLatestCopiesNewest(t *testing.T) {
	source := filepath.Join(t.TempDir(), "missing")
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "snap_20260101T000000Z"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "snap_20260102T000000Z"), 0o755))
	writeFile(t, filepath.Join(root, "snap_20260102T000000Z", "data.sst"), "latest")

	m, err := New(Config{SourceDir: source, Root: root, NameTemplate: "snap_{{timestamp}}", Retention: 3})
	require.NoError(t, err)

	restored, err := m.RestoreFromLatest()
	require.NoError(t, err)
	require.True(t, restored)

	got, err := os.ReadFile(filepath.Join(source, "data.sst"))
	require.NoError(t, err)
	require.Equal(t, "latest", string(got))
}
