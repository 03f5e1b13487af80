package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_CreatesMissingDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "out", "nested")
	store, err := New(dir)
	require.NoError(t, err)
	require.NotNil(t, store)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestNew_RejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := New("  ")
	require.Error(t, err)
}

func TestNew_RejectsFilePath(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	_, err := New(file)
	require.Error(t, err)
}

func TestStore_PutOpenStatRemove(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir())
	require.NoError(t, err)

	data := []byte("%PDF-1.7 payload")
	abs, err := store.Put(context.Background(), "reports/a.pdf", data)
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(abs) || strings.Contains(abs, string(filepath.Separator)))

	got, err := store.Open("reports/a.pdf")
	require.NoError(t, err)
	require.Equal(t, data, got)

	size, ok := store.Stat("reports/a.pdf")
	require.True(t, ok)
	require.Equal(t, int64(len(data)), size)

	require.NoError(t, store.Remove("reports/a.pdf"))
	_, ok = store.Stat("reports/a.pdf")
	require.False(t, ok)

	// Missing files remove cleanly.
	require.NoError(t, store.Remove("reports/a.pdf"))
}

func TestStore_PutLeavesNoTempFilesBehind(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(dir)
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "doc.pdf", []byte("data"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		require.False(t, strings.HasPrefix(entry.Name(), ".partial-"), "temp file left behind: %s", entry.Name())
	}
}

func TestStore_PutOverwritesAtomically(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "doc.pdf", []byte("old"))
	require.NoError(t, err)
	_, err = store.Put(context.Background(), "doc.pdf", []byte("new content"))
	require.NoError(t, err)

	got, err := store.Open("doc.pdf")
	require.NoError(t, err)
	require.Equal(t, []byte("new content"), got)
}

func TestStore_RejectsTraversal(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "../escape.pdf", []byte("x"))
	require.Error(t, err)

	_, err = store.Open("../../etc/passwd")
	require.Error(t, err)

	_, ok := store.Stat("../outside")
	require.False(t, ok)
}

func TestStore_PutHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.Put(ctx, "doc.pdf", []byte("x"))
	require.ErrorIs(t, err, context.Canceled)
}
