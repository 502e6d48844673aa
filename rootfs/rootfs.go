// Package rootfs implements the rootfs preparation stage of the init
// pipeline: resolving an image into one of the three rootfs strategies
// (direct/merged, extracted layers with overlay, or a disk image), grounded
// on the teacher's fs_share*.go layer-sharing selection logic (still
// present, read-only, under the example pack) and on
// original_source/boxlite/src/litebox/init/stages/mod.rs's RootfsStage.
package rootfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/qidi1/boxlite/boxerrors"
	"github.com/qidi1/boxlite/image"
	"github.com/qidi1/boxlite/layout"
	"github.com/qidi1/boxlite/types"
)

// Capabilities describes what the current platform/engine combination can
// do, which in turn decides which of the three strategies Resolve picks.
type Capabilities struct {
	// SupportsVirtioFS reports whether the engine can share a host
	// directory straight into the guest (enables Direct).
	SupportsVirtioFS bool
	// SupportsOverlayMount reports whether the host can mount an overlay
	// filesystem combining image layers (enables OverlayMount).
	SupportsOverlayMount bool
}

// Prepared is the rootfs stage's output: the chosen strategy plus the
// cleanup obligation it carries.
type Prepared struct {
	Strategy   types.RootfsStrategy
	Obligation types.CleanupObligation
}

// Resolve picks a rootfs strategy for img: the disk image when the image
// ships one, otherwise, following Capabilities in priority order, a direct
// share (single layer with virtio-fs), then an overlay mount, then the
// extracted-layers fallback. For the overlay and extracted strategies it
// creates the strategy's directories under the box's mounts directory; it
// does not mount the overlay and does not copy layer contents into the
// extracted directory.
func Resolve(ctx context.Context, box *layout.Box, img image.Image, caps Capabilities) (*Prepared, error) {
	if disk := img.DiskImage(); disk != "" {
		return resolveDisk(box, disk)
	}

	layers := img.Layers()
	if len(layers) == 0 {
		return nil, boxerrors.New(boxerrors.Image, "image %s has no layers and no disk image", img.Reference())
	}

	if caps.SupportsVirtioFS && len(layers) == 1 {
		return &Prepared{
			Strategy:   types.RootfsStrategy{Kind: types.RootfsDirect, MergedDir: layers[0].Path},
			Obligation: types.CleanupNone,
		}, nil
	}

	if caps.SupportsOverlayMount {
		return resolveOverlay(box, layers)
	}

	return resolveExtracted(box, layers)
}

func resolveDisk(box *layout.Box, baseDiskPath string) (*Prepared, error) {
	info, err := os.Stat(baseDiskPath)
	if err != nil {
		return nil, boxerrors.Wrap(err, boxerrors.Image, "stat base disk image %q", baseDiskPath)
	}
	sizeMiB := uint64(info.Size()) / (1024 * 1024)
	return &Prepared{
		Strategy: types.RootfsStrategy{
			Kind:         types.RootfsDisk,
			BaseDiskPath: baseDiskPath,
			SizeMiB:      sizeMiB,
		},
		Obligation: types.CleanupNone,
	}, nil
}

func resolveOverlay(box *layout.Box, layers []image.Layer) (*Prepared, error) {
	overlayDir := filepath.Join(box.MountsDir(), "rootfs-overlay")
	upperDir := filepath.Join(overlayDir, "upper")
	workDir := filepath.Join(overlayDir, "work")
	mergedDir := filepath.Join(overlayDir, "merged")
	for _, dir := range []string{upperDir, workDir, mergedDir} {
		if err := os.MkdirAll(dir, layout.DirMode); err != nil {
			return nil, boxerrors.Wrap(err, boxerrors.Storage, "create overlay directory %q", dir)
		}
	}

	lowerDirs := make([]string, len(layers))
	for i, l := range layers {
		// overlayfs lower dirs are listed top-to-bottom.
		lowerDirs[len(layers)-1-i] = l.Path
	}

	return &Prepared{
		Strategy: types.RootfsStrategy{
			Kind:       types.RootfsOverlayMount,
			LayersDir:  overlayDir,
			OverlayDir: mergedDir,
		},
		Obligation: types.CleanupUnmountAndDelete,
	}, nil
}

func resolveExtracted(box *layout.Box, layers []image.Layer) (*Prepared, error) {
	extractedDir := filepath.Join(box.MountsDir(), "rootfs-extracted")
	if err := os.MkdirAll(extractedDir, layout.DirMode); err != nil {
		return nil, boxerrors.Wrap(err, boxerrors.Storage, "create extracted rootfs directory %q", extractedDir)
	}
	return &Prepared{
		Strategy: types.RootfsStrategy{
			Kind:      types.RootfsExtracted,
			LayersDir: extractedDir,
		},
		Obligation: types.CleanupDeleteDir,
	}, nil
}

// Cleanup releases whatever the strategy's obligation names: a no-op for
// Direct/Disk, an rm -rf for Extracted, and an unmount-then-rm-rf for
// OverlayMount.
func Cleanup(strategy types.RootfsStrategy) error {
	obligation := strategy.Kind.Obligation()
	switch obligation {
	case types.CleanupNone:
		return nil
	case types.CleanupDeleteDir:
		if strategy.LayersDir == "" {
			return nil
		}
		if err := os.RemoveAll(strategy.LayersDir); err != nil {
			return boxerrors.Wrap(err, boxerrors.Storage, "remove rootfs directory %q", strategy.LayersDir)
		}
		return nil
	case types.CleanupUnmountAndDelete:
		if strategy.OverlayDir != "" {
			if err := unmount(strategy.OverlayDir); err != nil {
				return boxerrors.Wrap(err, boxerrors.Storage, "unmount overlay %q", strategy.OverlayDir)
			}
		}
		if strategy.LayersDir != "" {
			if err := os.RemoveAll(strategy.LayersDir); err != nil {
				return boxerrors.Wrap(err, boxerrors.Storage, "remove overlay directory %q", strategy.LayersDir)
			}
		}
		return nil
	default:
		return fmt.Errorf("rootfs: unknown cleanup obligation %v", obligation)
	}
}
