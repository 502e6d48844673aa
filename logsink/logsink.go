// Package logsink is the shim process's structured log destination: a
// daily-rotating file plus a non-blocking writer so a slow or full disk
// never backs up the VMM's own event loop, grounded on the teacher's
// katautils.SetLogger installation pattern (package-level *logrus.Entry,
// fields carrying the subsystem name) and on original_source/boxlite's
// expectation that the shim logs independently of the host runtime's own
// log file (§4.3 step 2).
package logsink

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RotatingFile is an io.Writer that rotates to a new file named
// "<prefix>-<YYYY-MM-DD>.log" in dir whenever the wall-clock date changes
// between writes.
type RotatingFile struct {
	dir    string
	prefix string

	mu      sync.Mutex
	day     string
	current *os.File
}

// NewRotatingFile opens (creating dir if needed) today's log file under
// dir, named "<prefix>-<date>.log".
func NewRotatingFile(dir, prefix string) (*RotatingFile, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	rf := &RotatingFile{dir: dir, prefix: prefix}
	if err := rf.rotateLocked(time.Now()); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *RotatingFile) rotateLocked(now time.Time) error {
	day := now.Format("2006-01-02")
	if rf.current != nil && rf.day == day {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(rf.dir, rf.prefix+"-"+day+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return err
	}
	if rf.current != nil {
		rf.current.Close()
	}
	rf.current = f
	rf.day = day
	return nil
}

// Write rotates if the date has changed since the last write, then writes
// to the current file.
func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if err := rf.rotateLocked(time.Now()); err != nil {
		return 0, err
	}
	return rf.current.Write(p)
}

// Close closes the currently-open file.
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.current == nil {
		return nil
	}
	return rf.current.Close()
}

// nonBlockingWriter drops log lines rather than let a slow sink (disk
// contention, a full volume) stall the caller's goroutine. dropped counts
// lines lost since the last successful write, for an occasional
// self-reported "N log lines dropped" line.
type nonBlockingWriter struct {
	dest    *RotatingFile
	lines   chan []byte
	dropped uint64
	mu      sync.Mutex
}

// NewNonBlockingWriter starts a background goroutine draining into dest
// from a bounded queue; writes that would block because the queue is full
// are dropped instead, and a warning line is appended once a drop run ends.
func NewNonBlockingWriter(dest *RotatingFile, queueDepth int) *nonBlockingWriter {
	w := &nonBlockingWriter{dest: dest, lines: make(chan []byte, queueDepth)}
	go w.drain()
	return w
}

func (w *nonBlockingWriter) drain() {
	for line := range w.lines {
		if _, err := w.dest.Write(line); err != nil {
			return
		}
	}
}

func (w *nonBlockingWriter) Write(p []byte) (int, error) {
	line := append([]byte(nil), p...)
	select {
	case w.lines <- line:
		w.reportDroppedIfAny()
	default:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
	}
	return len(p), nil
}

func (w *nonBlockingWriter) reportDroppedIfAny() {
	w.mu.Lock()
	n := w.dropped
	w.dropped = 0
	w.mu.Unlock()
	if n > 0 {
		select {
		case w.lines <- []byte("logsink: dropped " + strconv.FormatUint(n, 10) + " log lines under backpressure\n"):
		default:
		}
	}
}

// New installs a logrus entry that writes JSON lines to a non-blocking,
// daily-rotating file under dir, tagged with the field source="shim",
// matching the teacher's katautils.SetLogger fields convention.
func New(dir string) (*logrus.Entry, error) {
	rf, err := NewRotatingFile(dir, "boxlite-shim")
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetOutput(NewNonBlockingWriter(rf, 4096))
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	return logger.WithField("source", "shim"), nil
}
