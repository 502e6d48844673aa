//go:build !windows

package layout

import (
	"os"
	"syscall"

	"github.com/qidi1/boxlite/boxerrors"
)

// FileLock is an exclusive advisory lock held on box.lock for the box's
// lifetime (§5: "Filesystem per-box lock is held for the box lifetime;
// removal requires lock acquisition").
type FileLock struct {
	f *os.File
}

// Lock acquires the exclusive lock, creating the lock file if needed.
// It does not block: a box already locked by a live runtime returns
// InvalidState immediately rather than hanging removal/start calls.
func (b *Box) Lock() (*FileLock, error) {
	f, err := os.OpenFile(b.LockPath(), os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, boxerrors.Wrap(err, boxerrors.Storage, "open lock file %q", b.LockPath())
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, boxerrors.Wrap(err, boxerrors.InvalidState, "box %s is locked by another process", b.ID)
	}
	return &FileLock{f: f}, nil
}

// Unlock releases the lock and closes the underlying file descriptor.
func (l *FileLock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	return l.f.Close()
}
