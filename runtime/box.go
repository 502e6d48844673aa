package runtime

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qidi1/boxlite/boxerrors"
	"github.com/qidi1/boxlite/boxtrace"
	"github.com/qidi1/boxlite/cancel"
	"github.com/qidi1/boxlite/guestrpc"
	"github.com/qidi1/boxlite/layout"
	"github.com/qidi1/boxlite/types"
)

// Box is a single microVM instance plus its on-disk state and RPC
// endpoint (GLOSSARY). It is the caller-facing handle returned by
// Runtime.Create/Get.
type Box struct {
	rt     *Runtime
	token  *cancel.Token
	logger *logrus.Entry
	layout *layout.Box

	mu     sync.Mutex
	config types.BoxConfig
	state  types.BoxState
	spec   *types.InstanceSpec
	cmd    *exec.Cmd
	client *guestrpc.Client
	lock   *layout.FileLock

	execTokens map[string]*cancel.Token
}

// ID returns the box's identifier.
func (b *Box) ID() types.BoxID { return b.config.ID }

// Workload returns the image's resolved entrypoint+cmd argv, the process
// `run` attaches to in the foreground. Empty until the box has a prepared
// InstanceSpec (see Start).
func (b *Box) Workload() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.spec == nil {
		return nil
	}
	return b.spec.Workload
}

// Info returns a point-in-time snapshot of the box's config and state.
func (b *Box) Info() types.BoxInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return types.BoxInfo{Config: b.config, State: b.state}
}

func (b *Box) setState(status types.Status, pid *int) error {
	b.mu.Lock()
	b.state.Status = status
	b.state.PID = pid
	now := time.Now().UnixNano()
	switch status {
	case types.StatusRunning:
		b.state.StartedAt = now
	case types.StatusStopped:
		b.state.StoppedAt = now
	}
	state := b.state
	b.mu.Unlock()
	return b.rt.store.UpdateState(state)
}

// Start spawns the shim subprocess and opens the guest RPC channel: the
// spawn and guest-ready stages of the init pipeline (§4.2), deferred from
// Runtime.Create so a box can rest in Configured with no live shim (§3).
func (b *Box) Start(ctx context.Context) error {
	span, ctx := boxtrace.Trace(ctx, b.logger, "box.start", map[string]string{"box_id": string(b.ID())})
	defer span.End()

	b.mu.Lock()
	if b.state.Status == types.StatusRunning {
		b.mu.Unlock()
		return nil
	}
	if !b.state.Status.CanTransition(types.StatusRunning) {
		status := b.state.Status
		b.mu.Unlock()
		return boxerrors.New(boxerrors.InvalidState, "box %s cannot start from state %s", b.ID(), status)
	}
	// A Stopped->Running restart (§3) reuses this Box, but b.token was
	// permanently cancelled by the Stop that got it to Stopped (context
	// cancellation never un-cancels). Mint a fresh child of the runtime's
	// root token so this lifecycle's Exec calls don't inherit a dead one.
	if b.token.Cancelled() {
		b.token = b.rt.cancelRoot.Child(string(b.ID()))
	}
	spec := b.spec
	b.mu.Unlock()

	if spec == nil {
		return boxerrors.New(boxerrors.InvalidState, "box %s has no prepared instance spec", b.ID())
	}

	guard := NewCleanupGuard(b.logger)
	defer guard.Unwind()

	lock, err := b.layout.Lock()
	if err != nil {
		return err
	}
	guard.Add("box lock", func() { _ = lock.Unlock() })

	logFile, err := openShimLog(b.rt.home.ShimLogPath())
	if err != nil {
		return err
	}
	guard.Add("shim log", func() { _ = logFile.Close() })

	cmd, err := spawnShim(ctx, b.rt.shimPath, b.layout.ConfigPath(), *spec, b.layout.ReadySocket(), logFile)
	if err != nil {
		return err
	}
	guard.Add("shim process", func() { _ = cmd.Process.Kill() })

	// The ready-notify file only confirms the spawn stage handed off to the
	// VMM; the portal socket itself is bound asynchronously by the engine
	// (e.g. qemu's own chardev socket server), so the guest-ready stage
	// waits for it separately before dialing.
	if err := waitForReadySocket(ctx, b.layout.PortalSocket()); err != nil {
		return err
	}

	client, err := guestrpc.Dial(ctx, b.logger, b.layout.PortalSocket())
	if err != nil {
		return err
	}
	guard.Add("guest rpc client", func() { _ = client.Close() })

	pid := cmd.Process.Pid
	if err := b.setState(types.StatusRunning, &pid); err != nil {
		return err
	}

	b.mu.Lock()
	b.cmd = cmd
	b.client = client
	b.lock = lock
	b.mu.Unlock()

	b.rt.metrics.BoxesRunning.Inc()
	go b.watchShimExit(cmd)

	guard.Disarm()
	return nil
}

func (b *Box) watchShimExit(cmd *exec.Cmd) {
	<-waitShimExit(cmd)
	b.logger.WithField("box_id", b.ID()).Info("shim exited")

	b.token.Cancel()

	b.mu.Lock()
	client := b.client
	lock := b.lock
	b.client = nil
	b.cmd = nil
	b.mu.Unlock()

	if client != nil {
		client.Close()
	}
	if lock != nil {
		lock.Unlock()
	}

	_ = b.setState(types.StatusStopped, nil)
	b.rt.metrics.BoxesRunning.Dec()
}

// Exec starts a guest process and returns an Execution handle that the
// caller owns (§4.4). Returns Stopped if the box isn't Running (§4.5 rule
// 5).
func (b *Box) Exec(ctx context.Context, req guestrpc.ExecRequest) (*guestrpc.Execution, error) {
	b.mu.Lock()
	if b.state.Status != types.StatusRunning || b.client == nil {
		b.mu.Unlock()
		return nil, boxerrors.New(boxerrors.Stopped, "box %s is not running", b.ID())
	}
	client := b.client
	b.mu.Unlock()

	resp, err := client.Exec(ctx, req)
	if err != nil {
		return nil, err
	}

	execToken := b.token.Child(resp.ExecutionID)
	b.mu.Lock()
	if b.execTokens == nil {
		b.execTokens = make(map[string]*cancel.Token)
	}
	b.execTokens[resp.ExecutionID] = execToken
	b.mu.Unlock()

	b.rt.metrics.ExecutionsStarted.Inc()
	return guestrpc.NewExecution(client, execToken, resp.ExecutionID, b.logger), nil
}

// Stop requests the shim to exit and waits up to timeout for it to do so,
// force-killing it afterward (§5). A nil timeout uses the 10s default;
// -1 waits forever.
func (b *Box) Stop(ctx context.Context, timeoutSeconds *int) error {
	b.mu.Lock()
	if b.state.Status != types.StatusRunning {
		b.mu.Unlock()
		return nil
	}
	cmd := b.cmd
	b.state.Status = types.StatusStopping
	b.mu.Unlock()

	b.token.Cancel()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	_ = cmd.Process.Signal(shutdownSignal)

	d, infinite := ShutdownTimeout(timeoutSeconds)
	exited := waitShimExit(cmd)

	if infinite {
		<-exited
		return nil
	}

	select {
	case <-exited:
		return nil
	case <-time.After(d):
		_ = cmd.Process.Kill()
		<-exited
		return nil
	}
}

// openShimLog opens the host's tee of the shim process's raw stdout/stderr
// in append mode. The shim's own structured log sink (daily rotation,
// non-blocking) is initialized inside the shim binary itself (§4.3 step
// 2, package logsink); this file only captures whatever the shim writes
// before that sink is ready, plus any panic output.
func openShimLog(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, boxerrors.Wrap(err, boxerrors.Storage, "open shim log %q", path)
	}
	return f, nil
}
