// Package runtime is the box lifecycle core: Runtime is the process-wide
// façade (create/get/list/remove/shutdown) and Box is the per-instance
// handle it hands back, grounded on the teacher's virtcontainers.Sandbox
// (a struct wrapping a store handle, a hypervisor, and an agent connection
// behind a small set of lifecycle methods) adapted to BoxLite's box/exec
// model (§4.1).
package runtime

import (
	"context"
	"encoding/json"
	"os"
	goruntime "runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/qidi1/boxlite/block"
	"github.com/qidi1/boxlite/boxerrors"
	"github.com/qidi1/boxlite/boxtrace"
	"github.com/qidi1/boxlite/cancel"
	"github.com/qidi1/boxlite/image"
	"github.com/qidi1/boxlite/layout"
	"github.com/qidi1/boxlite/rootfs"
	"github.com/qidi1/boxlite/store"
	"github.com/qidi1/boxlite/types"
)

// Runtime is the single owner of the store, the home directory tree, and
// every live Box handle in this process. Callers obtain one via New and
// share it across the CLI/daemon's lifetime.
type Runtime struct {
	logger   *logrus.Entry
	home     *layout.Home
	store    *store.Store
	metrics  *Metrics
	shimPath string

	builder *BoxBuilder

	cancelRoot *cancel.Token

	mu    sync.Mutex
	boxes map[types.BoxID]*Box
}

// Options configures New. ShimPath is the path to the boxlite-shim binary;
// Puller and DiskBuilder are the init pipeline's external collaborators
// (§2: "specified only as interfaces").
type Options struct {
	HomeDir      string
	ShimPath     string
	Puller       image.Puller
	DiskBuilder  block.Builder
	Caps         rootfs.Capabilities
	Registries   []string
	Logger       *logrus.Entry
}

// New opens the home directory and store, reconciles any crash left behind
// by a previous boot (§5), and returns a ready Runtime. It installs the
// process signal handler so Shutdown runs on SIGTERM/SIGINT.
func New(opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	home, err := layout.NewHome(opts.HomeDir)
	if err != nil {
		return nil, err
	}
	if err := home.Ensure(); err != nil {
		return nil, err
	}

	st, err := store.Open(home.DBPath())
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		logger:     logger,
		home:       home,
		store:      st,
		metrics:    NewMetrics(),
		shimPath:   opts.ShimPath,
		cancelRoot: cancel.NewRoot("runtime"),
		boxes:      make(map[types.BoxID]*Box),
		builder: &BoxBuilder{
			logger:      logger,
			home:        home,
			puller:      opts.Puller,
			caps:        opts.Caps,
			diskBuilder: opts.DiskBuilder,
			registries:  opts.Registries,
		},
	}

	stale, err := st.ReconcileCrash()
	if err != nil {
		st.Close()
		return nil, err
	}
	for _, id := range stale {
		logger.WithField("box_id", id).Warn("reconciling box left running by a previous crashed boot")
		if err := st.UpdateState(types.BoxState{ID: id, Status: types.StatusStopped}); err != nil {
			logger.WithError(err).WithField("box_id", id).Error("failed to reconcile crashed box state")
		}
	}

	InstallSignalHandler(func(timeoutSeconds *int) {
		ctx := context.Background()
		if err := rt.Shutdown(ctx, timeoutSeconds); err != nil {
			logger.WithError(err).Error("shutdown failed")
		}
	})

	return rt, nil
}

// Metrics returns the runtime's metric set; its Registry method gives the
// Prometheus registry a caller can expose over /metrics.
func (rt *Runtime) Metrics() *Metrics { return rt.metrics }

// Close releases the store handle. It does not stop any running box; call
// Shutdown first if that's required.
func (rt *Runtime) Close() error { return rt.store.Close() }

func newBoxID() types.BoxID { return types.BoxID(uuid.NewString()) }

// Create runs the init pipeline's parallel and config stages and persists
// the resulting box in Configured state with no live shim (§3, §4.1). The
// caller must call Box.Start to bring it to Running.
func (rt *Runtime) Create(ctx context.Context, opts types.BoxOptions, name string) (*Box, error) {
	span, ctx := boxtrace.Trace(ctx, rt.logger, "runtime.create", map[string]string{"name": name})
	defer span.End()

	if rt.cancelRoot.Cancelled() {
		return nil, boxerrors.New(boxerrors.Stopped, "runtime is shut down")
	}

	if err := opts.Sanitize(goos()); err != nil {
		return nil, boxerrors.Wrap(err, boxerrors.InvalidArgument, "validate box options")
	}

	cfg := types.BoxConfig{
		ID:        newBoxID(),
		Name:      types.BoxName(name),
		CreatedAt: time.Now().UnixNano(),
		Options:   opts,
	}

	if err := rt.store.CreateBox(cfg); err != nil {
		rt.metrics.BoxesFailedTotal.Inc()
		return nil, err
	}

	result, err := rt.builder.Build(ctx, cfg)
	if err != nil {
		// Build has already unwound its own guard on every error path.
		if delErr := rt.store.RemoveBox(cfg.ID); delErr != nil {
			rt.logger.WithError(delErr).WithField("box_id", cfg.ID).Error("failed to remove box_config row after failed create")
		}
		rt.metrics.BoxesFailedTotal.Inc()
		return nil, err
	}
	result.Guard.Disarm()

	box := &Box{
		rt:     rt,
		token:  rt.cancelRoot.Child(string(cfg.ID)),
		logger: rt.logger.WithField("box_id", cfg.ID),
		layout: rt.home.Box(cfg.ID),
		config: cfg,
		state:  types.BoxState{ID: cfg.ID, Status: types.StatusConfigured},
		spec:   &result.Spec,
	}

	rt.mu.Lock()
	rt.boxes[cfg.ID] = box
	rt.mu.Unlock()

	rt.metrics.BoxesCreatedTotal.Inc()
	return box, nil
}

// Get resolves idOrName against in-memory handles first, then the store:
// exact name match, then id-prefix match (§4.1: "id or name, resolved by
// exact name then unique id prefix"). A box resolved purely from the store
// (no live handle yet, e.g. after process restart) is rehydrated as a
// Configured or Stopped handle without touching its shim.
func (rt *Runtime) Get(ctx context.Context, idOrName string) (*Box, error) {
	rt.mu.Lock()
	for id, box := range rt.boxes {
		if string(id) == idOrName || string(box.config.Name) == idOrName {
			rt.mu.Unlock()
			return box, nil
		}
	}
	rt.mu.Unlock()

	info, err := rt.store.GetByName(idOrName)
	if err != nil {
		return nil, err
	}
	if info == nil && len(idOrName) >= types.MinIDPrefixLen {
		info, err = rt.store.GetByIDPrefix(idOrName)
		if err != nil {
			return nil, err
		}
	}
	if info == nil {
		return nil, boxerrors.New(boxerrors.NotFound, "no box matches %q", idOrName)
	}

	return rt.rehydrate(*info), nil
}

// rehydrate builds a Box handle for a box the store knows about but this
// process has no live reference to (fresh process, or a box whose shim
// this process never spawned). It carries no *exec.Cmd or client. Its
// InstanceSpec is reloaded from the last one the spawn stage (spawnShim,
// run by Start) wrote to disk, when one exists (i.e. the box has been started at least once in
// some prior boot); a box that has never started has no spec to reload,
// and Start will report InvalidState until it is recreated.
func (rt *Runtime) rehydrate(info types.BoxInfo) *Box {
	box := &Box{
		rt:     rt,
		token:  rt.cancelRoot.Child(string(info.Config.ID)),
		logger: rt.logger.WithField("box_id", info.Config.ID),
		layout: rt.home.Box(info.Config.ID),
		config: info.Config,
		state:  info.State,
		spec:   loadPersistedSpec(rt.home.Box(info.Config.ID).ConfigPath()),
	}

	rt.mu.Lock()
	if existing, ok := rt.boxes[info.Config.ID]; ok {
		rt.mu.Unlock()
		return existing
	}
	rt.boxes[info.Config.ID] = box
	rt.mu.Unlock()
	return box
}

// ListInfo returns every box's joined config+state, newest first (§4.1).
func (rt *Runtime) ListInfo(ctx context.Context) ([]types.BoxInfo, error) {
	return rt.store.ListInfo()
}

// Remove deletes a box's rows and on-disk subtree. A Running box is
// rejected with InvalidState unless force is set, in which case it is
// stopped first (§4.1, §5: "removal requires lock acquisition").
func (rt *Runtime) Remove(ctx context.Context, idOrName string, force bool) error {
	box, err := rt.Get(ctx, idOrName)
	if err != nil {
		return err
	}

	box.mu.Lock()
	running := box.state.Status == types.StatusRunning
	box.mu.Unlock()

	if running {
		if !force {
			return boxerrors.New(boxerrors.InvalidState, "box %s is running; stop it or pass force", box.ID())
		}
		if err := box.Stop(ctx, nil); err != nil {
			return err
		}
	}

	lock, err := box.layout.Lock()
	if err != nil {
		return err
	}
	defer lock.Unlock()

	if err := rt.store.RemoveBox(box.ID()); err != nil {
		return err
	}
	if err := box.layout.Remove(); err != nil {
		rt.logger.WithError(err).WithField("box_id", box.ID()).Error("failed to remove box directory")
	}

	rt.mu.Lock()
	delete(rt.boxes, box.ID())
	rt.mu.Unlock()

	rt.metrics.BoxesRemovedTotal.Inc()
	return nil
}

// Shutdown cancels the runtime's cancellation root and stops every
// currently-Running box concurrently, each bounded by timeoutSeconds
// (§5: process-wide shutdown). It returns once every box handle has
// settled to Stopped or been force-killed.
func (rt *Runtime) Shutdown(ctx context.Context, timeoutSeconds *int) error {
	rt.mu.Lock()
	boxes := make([]*Box, 0, len(rt.boxes))
	for _, box := range rt.boxes {
		boxes = append(boxes, box)
	}
	rt.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs *multierror.Error
	)
	for _, box := range boxes {
		box.mu.Lock()
		running := box.state.Status == types.StatusRunning
		box.mu.Unlock()
		if !running {
			continue
		}
		wg.Add(1)
		go func(b *Box) {
			defer wg.Done()
			if err := b.Stop(ctx, timeoutSeconds); err != nil {
				rt.logger.WithError(err).WithField("box_id", b.ID()).Error("failed to stop box during shutdown")
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
			}
		}(box)
	}
	wg.Wait()

	rt.cancelRoot.Cancel()
	return errs.ErrorOrNil()
}

func goos() string { return goruntime.GOOS }

// loadPersistedSpec best-effort reloads the InstanceSpec the spawn stage
// last wrote to a box's config.json. It returns nil (not an error) when the
// file doesn't exist, since a never-started box has nothing to reload.
func loadPersistedSpec(path string) *types.InstanceSpec {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var spec types.InstanceSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil
	}
	return &spec
}
