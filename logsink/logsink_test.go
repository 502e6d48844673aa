package logsink

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingFileWritesUnderTodaysName(t *testing.T) {
	dir := t.TempDir()
	rf, err := NewRotatingFile(dir, "boxlite-shim")
	require.NoError(t, err)
	defer rf.Close()

	n, err := rf.Write([]byte("hello\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	expected := filepath.Join(dir, "boxlite-shim-"+time.Now().Format("2006-01-02")+".log")
	data, err := os.ReadFile(expected)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestRotatingFileRotateLockedIsIdempotentWithinSameDay(t *testing.T) {
	dir := t.TempDir()
	rf, err := NewRotatingFile(dir, "boxlite-shim")
	require.NoError(t, err)
	defer rf.Close()

	first := rf.current
	require.NoError(t, rf.rotateLocked(time.Now()))
	assert.Same(t, first, rf.current)
}

func TestNonBlockingWriterDropsUnderBackpressure(t *testing.T) {
	dir := t.TempDir()
	rf, err := NewRotatingFile(dir, "test")
	require.NoError(t, err)
	defer rf.Close()

	w := &nonBlockingWriter{dest: rf, lines: make(chan []byte)} // unbuffered: every send but the drained one blocks
	n, err := w.Write([]byte("dropped\n"))
	require.NoError(t, err)
	assert.Equal(t, len("dropped\n"), n) // Write always reports success; drops are silent to the caller
	assert.Equal(t, uint64(1), w.dropped)
}

func TestNewInstallsJSONFormatterAndSourceField(t *testing.T) {
	dir := t.TempDir()
	entry, err := New(dir)
	require.NoError(t, err)
	assert.Equal(t, "shim", entry.Data["source"])

	entry.Info("hello")
	// give the non-blocking writer's goroutine a chance to drain
	time.Sleep(50 * time.Millisecond)

	matches, err := filepath.Glob(filepath.Join(dir, "boxlite-shim-*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}
