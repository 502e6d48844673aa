// Package layout materializes and resolves the on-disk home directory
// structure from spec §6.3. It is the Go analogue of the teacher's
// virtcontainers/persist/fs root-path conventions, adapted to BoxLite's
// flatter per-box subtree (sockets/disks/logs/lock, no legacy
// sandbox/container split).
package layout

import (
	"os"
	"path/filepath"

	"github.com/qidi1/boxlite/boxerrors"
	"github.com/qidi1/boxlite/types"
)

// DirMode matches the teacher's virtcontainers.DirMode permission bits.
const DirMode = os.FileMode(0o750) | os.ModeDir

// Home represents "<home>/" and every path derivable from it.
type Home struct {
	Dir string
}

// NewHome resolves the home directory: explicit dir, else $BOXLITE_HOME,
// else "~/.boxlite".
func NewHome(dir string) (*Home, error) {
	if dir == "" {
		dir = os.Getenv("BOXLITE_HOME")
	}
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, boxerrors.Wrap(err, boxerrors.Storage, "resolve home directory")
		}
		dir = filepath.Join(home, ".boxlite")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, boxerrors.Wrap(err, boxerrors.Storage, "resolve absolute home path %q", dir)
	}
	return &Home{Dir: abs}, nil
}

// Ensure creates the home directory and its top-level subtrees.
func (h *Home) Ensure() error {
	for _, dir := range []string{h.Dir, h.ImagesDir(), h.LogsDir(), h.BoxesDir()} {
		if err := os.MkdirAll(dir, DirMode); err != nil {
			return boxerrors.Wrap(err, boxerrors.Storage, "create directory %q", dir)
		}
	}
	return nil
}

func (h *Home) DBPath() string      { return filepath.Join(h.Dir, "boxlite.db") }
func (h *Home) ConfigPath() string  { return filepath.Join(h.Dir, "config.json") }
func (h *Home) ImagesDir() string   { return filepath.Join(h.Dir, "images") }
func (h *Home) LogsDir() string     { return filepath.Join(h.Dir, "logs") }
func (h *Home) ShimLogPath() string { return filepath.Join(h.LogsDir(), "boxlite-shim.log") }
func (h *Home) BoxesDir() string    { return filepath.Join(h.Dir, "boxes") }

// Box represents "<home>/boxes/<id>/" and its children.
type Box struct {
	Home *Home
	ID   types.BoxID
}

func (h *Home) Box(id types.BoxID) *Box { return &Box{Home: h, ID: id} }

func (b *Box) Dir() string          { return filepath.Join(b.Home.BoxesDir(), string(b.ID)) }
func (b *Box) ConfigPath() string   { return filepath.Join(b.Dir(), "config.json") }
func (b *Box) RWDir() string        { return filepath.Join(b.Dir(), "rw") }
func (b *Box) MountsDir() string    { return filepath.Join(b.Dir(), "mounts") }
func (b *Box) DataDiskPath() string { return filepath.Join(b.Dir(), "disk.qcow2") }
func (b *Box) RootfsDiskPath() string { return filepath.Join(b.Dir(), "rootfs.qcow2") }
func (b *Box) InitDiskPath() string { return filepath.Join(b.Dir(), "init.qcow2") }
func (b *Box) SocketsDir() string   { return filepath.Join(b.Dir(), "sockets") }
func (b *Box) PortalSocket() string { return filepath.Join(b.SocketsDir(), "portal.sock") }
func (b *Box) ReadySocket() string  { return filepath.Join(b.SocketsDir(), "ready.sock") }
func (b *Box) NetworkSocket() string { return filepath.Join(b.SocketsDir(), "network.sock") }
func (b *Box) LockPath() string     { return filepath.Join(b.Dir(), "box.lock") }

// Create materializes the box's rw/mounts/sockets subtrees. It is the
// Filesystem stage's side effect; its rollback is os.RemoveAll(b.Dir()).
func (b *Box) Create() error {
	for _, dir := range []string{b.Dir(), b.RWDir(), b.MountsDir(), b.SocketsDir()} {
		if err := os.MkdirAll(dir, DirMode); err != nil {
			return boxerrors.Wrap(err, boxerrors.Storage, "create box directory %q", dir)
		}
	}
	return nil
}

// Remove best-effort deletes the box's entire subtree. Errors are returned
// but callers following the "forget row then best-effort delete subtree"
// invariant (§3) should log and continue rather than fail the operation.
func (b *Box) Remove() error {
	if err := os.RemoveAll(b.Dir()); err != nil {
		return boxerrors.Wrap(err, boxerrors.Storage, "remove box directory %q", b.Dir())
	}
	return nil
}
