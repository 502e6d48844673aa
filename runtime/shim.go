package runtime

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/qidi1/boxlite/boxerrors"
	"github.com/qidi1/boxlite/types"
)

// spawnShim serializes spec to JSON, spawns the shim binary with
// "--engine <kind> --config <json-file>", and blocks until the ready
// socket file appears or ctx is cancelled (§4.2 spawn stage). It returns
// the running *exec.Cmd so the caller can track its PID and exit.
func spawnShim(ctx context.Context, shimPath, configPath string, spec types.InstanceSpec, readySocket string, logWriter *os.File) (*exec.Cmd, error) {
	encoded, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return nil, boxerrors.Wrap(err, boxerrors.Internal, "marshal instance spec")
	}
	if err := os.WriteFile(configPath, encoded, 0o640); err != nil {
		return nil, boxerrors.Wrap(err, boxerrors.Storage, "write instance spec %q", configPath)
	}

	cmd := exec.Command(shimPath, "--engine", spec.EngineKind, "--config", configPath)
	cmd.Stdout = logWriter
	cmd.Stderr = logWriter
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		return nil, boxerrors.Wrap(err, boxerrors.Engine, "spawn shim %q", shimPath)
	}

	if err := waitForReadySocket(ctx, readySocket); err != nil {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
		return nil, err
	}

	return cmd, nil
}

// waitForReadySocket blocks until readySocket exists, using fsnotify to
// watch its parent directory rather than polling.
func waitForReadySocket(ctx context.Context, readySocket string) error {
	if _, err := os.Stat(readySocket); err == nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return boxerrors.Wrap(err, boxerrors.Internal, "create fs watcher")
	}
	defer watcher.Close()

	dir := filepath.Dir(readySocket)
	if err := watcher.Add(dir); err != nil {
		return boxerrors.Wrap(err, boxerrors.Storage, "watch sockets directory %q", dir)
	}

	// A socket may have appeared between the Stat above and Add; check
	// again before blocking on events.
	if _, err := os.Stat(readySocket); err == nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return boxerrors.Wrap(ctx.Err(), boxerrors.RPCTransport, "timed out waiting for shim ready-notify")
		case ev, ok := <-watcher.Events:
			if !ok {
				return boxerrors.New(boxerrors.Internal, "fs watcher closed unexpectedly")
			}
			if ev.Name == readySocket && (ev.Op&(fsnotify.Create|fsnotify.Write) != 0) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return boxerrors.New(boxerrors.Internal, "fs watcher closed unexpectedly")
			}
			return boxerrors.Wrap(err, boxerrors.Internal, "fs watcher error")
		}
	}
}

// waitShimExit blocks until the shim process exits and reports the
// outcome, used by Box to detect VM halt/crash and transition to Stopped
// (§4.3: "the host runtime detects exit through the child process
// handle").
func waitShimExit(cmd *exec.Cmd) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- cmd.Wait()
	}()
	return ch
}
