package runtime

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/qidi1/boxlite/block"
	"github.com/qidi1/boxlite/boxerrors"
	"github.com/qidi1/boxlite/boxtrace"
	"github.com/qidi1/boxlite/image"
	"github.com/qidi1/boxlite/layout"
	"github.com/qidi1/boxlite/netbackend"
	"github.com/qidi1/boxlite/rootfs"
	"github.com/qidi1/boxlite/types"
)

// BoxBuilder assembles an InstanceSpec for one box via the init pipeline's
// DAG of stages (§4.2): three concurrent leaf stages (filesystem, rootfs,
// guest-rootfs), then the sequential config stage. Spawning the shim and
// opening the guest RPC channel are handled separately by Box.Start, since
// the Configured lifecycle state (§3) requires a box to exist with a
// fully-prepared InstanceSpec but no live shim.
type BoxBuilder struct {
	logger     *logrus.Entry
	home       *layout.Home
	puller     image.Puller
	caps       rootfs.Capabilities
	diskBuilder block.Builder
	registries []string
}

// BuildResult is everything the config stage assembles plus the cleanup
// obligations accrued preparing it.
type BuildResult struct {
	Spec  types.InstanceSpec
	Guard *CleanupGuard
}

func (b *BoxBuilder) Build(ctx context.Context, cfg types.BoxConfig) (*BuildResult, error) {
	span, ctx := boxtrace.Trace(ctx, b.logger, "pipeline.build", map[string]string{"box_id": string(cfg.ID)})
	defer span.End()

	guard := NewCleanupGuard(b.logger)
	box := b.home.Box(cfg.ID)

	var (
		fsErr, rootfsErr, guestErr error
		preparedRootfs             *rootfs.Prepared
		preparedInit               *rootfs.Prepared
		img                        image.Image
		initImg                    image.Image
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := box.Create(); err != nil {
			fsErr = boxerrors.Wrap(err, boxerrors.Storage, "filesystem stage")
			return fsErr
		}
		lock, err := box.Lock()
		if err != nil {
			fsErr = boxerrors.Wrap(err, boxerrors.Storage, "filesystem stage: acquire lock")
			return fsErr
		}
		guard.Add("box directory", func() { _ = box.Remove() })
		guard.Add("box lock", func() { _ = lock.Unlock() })
		return nil
	})

	g.Go(func() error {
		registries := append(append([]string{}, b.registries...), cfg.Options.Registries...)
		pulled, err := b.puller.Pull(gctx, cfg.Options.Image, registries)
		if err != nil {
			rootfsErr = boxerrors.Wrap(err, boxerrors.Image, "rootfs stage: pull %q", cfg.Options.Image)
			return rootfsErr
		}
		img = pulled
		prepared, err := rootfs.Resolve(gctx, box, pulled, b.caps)
		if err != nil {
			rootfsErr = err
			return err
		}
		preparedRootfs = prepared
		guard.Add("rootfs strategy", func() { _ = rootfs.Cleanup(prepared.Strategy) })
		return nil
	})

	g.Go(func() error {
		pulled, ok := b.puller.Lookup(gctx, initRootfsReference)
		if !ok {
			guestErr = boxerrors.New(boxerrors.Image, "init rootfs image %q not found in cache", initRootfsReference)
			return guestErr
		}
		initImg = pulled
		prepared, err := rootfs.Resolve(gctx, box, pulled, b.caps)
		if err != nil {
			guestErr = err
			return err
		}
		preparedInit = prepared
		guard.Add("init rootfs strategy", func() { _ = rootfs.Cleanup(prepared.Strategy) })
		return nil
	})

	if err := g.Wait(); err != nil {
		guard.Unwind()
		return nil, firstNonNil(fsErr, rootfsErr, guestErr, err)
	}

	if err := b.materializeDiskOverlays(ctx, box, preparedRootfs, preparedInit, guard); err != nil {
		guard.Unwind()
		return nil, err
	}

	spec, err := b.configStage(cfg, box, img, initImg, preparedRootfs, preparedInit)
	if err != nil {
		guard.Unwind()
		return nil, err
	}

	return &BuildResult{Spec: spec, Guard: guard}, nil
}

// initRootfsReference names the cached init-rootfs image the guest-rootfs
// stage resolves against, analogous to the teacher's fixed kata rootfs
// image reference baked into its config.
const initRootfsReference = "boxlite/init-rootfs:latest"

// materializeDiskOverlays creates the qcow2 COW children backing any Disk-
// strategy rootfs results, registering each in a block.Table and the
// guard's rollback chain (§2's block/disk builder component).
func (b *BoxBuilder) materializeDiskOverlays(ctx context.Context, box *layout.Box, rootfsResult, initResult *rootfs.Prepared, guard *CleanupGuard) error {
	table := &block.Table{}

	if rootfsResult.Strategy.Kind == types.RootfsDisk {
		overlay := box.RootfsDiskPath()
		if err := b.diskBuilder.CreateCOWOverlay(ctx, rootfsResult.Strategy.BaseDiskPath, overlay); err != nil {
			return err
		}
		guard.Add("rootfs disk overlay", func() { _ = os.Remove(overlay) })
		table.Register("rootfs", overlay, types.DiskFormatQCOW2, false)
	}
	if initResult.Strategy.Kind == types.RootfsDisk {
		overlay := box.InitDiskPath()
		if err := b.diskBuilder.CreateCOWOverlay(ctx, initResult.Strategy.BaseDiskPath, overlay); err != nil {
			return err
		}
		guard.Add("init rootfs disk overlay", func() { _ = os.Remove(overlay) })
		table.Register("init-rootfs", overlay, types.DiskFormatQCOW2, true)
	}
	return nil
}

func (b *BoxBuilder) configStage(cfg types.BoxConfig, box *layout.Box, img, initImg image.Image, rootfsResult, initResult *rootfs.Prepared) (types.InstanceSpec, error) {
	var mounts []types.Mount
	for _, v := range cfg.Options.Volumes {
		mounts = append(mounts, types.Mount{Tag: v.Tag, HostPath: v.HostPath, ReadOnly: v.ReadOnly})
	}

	var disks []types.Disk
	if rootfsResult.Strategy.Kind == types.RootfsDisk {
		overlayPath := box.RootfsDiskPath()
		disks = append(disks, types.Disk{DevicePath: "/dev/vda", HostPath: overlayPath, Format: types.DiskFormatQCOW2, ReadOnly: false})
	}
	if initResult.Strategy.Kind == types.RootfsDisk {
		overlayPath := box.InitDiskPath()
		disks = append(disks, types.Disk{DevicePath: "/dev/vdb", HostPath: overlayPath, Format: types.DiskFormatQCOW2, ReadOnly: true})
	}
	if err := validateUniqueDevicePaths(disks); err != nil {
		return types.InstanceSpec{}, err
	}

	cfgImage := img.Config()
	initCfgImage := initImg.Config()
	userEnv := make([]string, 0, len(cfg.Options.Env))
	for k, v := range cfg.Options.Env {
		userEnv = append(userEnv, k+"="+v)
	}
	entrypoint := types.GuestEntrypoint{
		Executable: "boxlite-guest",
		Args:       []string{"--listen", box.PortalSocket(), "--notify", box.ReadySocket()},
		Env:        mergeEnv(initCfgImage.Env, cfgImage.Env, userEnv),
	}

	ports, err := netbackend.ResolvePortMap(cfgImage.ExposedPorts, cfg.Options.Ports)
	if err != nil {
		return types.InstanceSpec{}, err
	}

	workload := append(append([]string{}, cfgImage.Entrypoint...), cfgImage.Cmd...)

	spec := types.InstanceSpec{
		BoxID:          cfg.ID,
		Cpus:           uint32(cfg.Options.Cpus),
		MemoryMiB:      uint64(cfg.Options.MemoryMiB),
		Mounts:         mounts,
		Disks:          disks,
		Entrypoint:     entrypoint,
		Workload:       workload,
		Transport:      box.PortalSocket(),
		ReadyTransport: box.ReadySocket(),
		InitRootfs:     initResult.Strategy,
		Rootfs:         rootfsResult.Strategy,
		NetworkSocket:  box.NetworkSocket(),
		Ports:          ports,
		HomeDir:        b.home.Dir,
		EngineKind:     "qemu",
		Security:       cfg.Options.Security,
	}
	return spec, nil
}

func validateUniqueDevicePaths(disks []types.Disk) error {
	seen := make(map[string]bool, len(disks))
	for _, d := range disks {
		if seen[d.DevicePath] {
			return boxerrors.New(boxerrors.InvalidArgument, "duplicate device path %q", d.DevicePath)
		}
		seen[d.DevicePath] = true
	}
	return nil
}

// mergeEnv implements §4.2's env precedence: init image env, then image
// env, then user env wins per key; RUST_LOG is forwarded from the host if
// not already set. Output is sorted for determinism (§8 round-trip
// property).
func mergeEnv(initImageEnv, imageEnv, userEnv []string) []string {
	merged := make(map[string]string)
	apply := func(kvs []string) {
		for _, kv := range kvs {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				continue
			}
			merged[parts[0]] = parts[1]
		}
	}
	apply(initImageEnv)
	apply(imageEnv)
	apply(userEnv)

	if _, ok := merged["RUST_LOG"]; !ok {
		if v, ok := os.LookupEnv("RUST_LOG"); ok {
			merged["RUST_LOG"] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, merged[k]))
	}
	return out
}

func firstNonNil(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
