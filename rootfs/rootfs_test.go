package rootfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qidi1/boxlite/image"
	"github.com/qidi1/boxlite/layout"
	"github.com/qidi1/boxlite/types"
)

type fakeImage struct {
	reference string
	diskImage string
	layers    []image.Layer
}

func (f fakeImage) Reference() string                    { return f.reference }
func (f fakeImage) DiskImage() string                     { return f.diskImage }
func (f fakeImage) Layers() []image.Layer                 { return f.layers }
func (f fakeImage) Config() image.ContainerImageConfig    { return image.ContainerImageConfig{} }

func newTestBox(t *testing.T) *layout.Box {
	t.Helper()
	home, err := layout.NewHome(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, home.Ensure())
	box := home.Box(types.BoxID("box-1"))
	require.NoError(t, os.MkdirAll(box.MountsDir(), 0o750))
	return box
}

func TestResolveDiskImagePrefersDiskStrategy(t *testing.T) {
	box := newTestBox(t)
	diskPath := filepath.Join(t.TempDir(), "base.qcow2")
	require.NoError(t, os.WriteFile(diskPath, make([]byte, 2*1024*1024), 0o640))

	prepared, err := Resolve(nil, box, fakeImage{reference: "alpine:latest", diskImage: diskPath}, Capabilities{})
	require.NoError(t, err)
	assert.Equal(t, types.RootfsDisk, prepared.Strategy.Kind)
	assert.Equal(t, uint64(2), prepared.Strategy.SizeMiB)
	assert.Equal(t, types.CleanupNone, prepared.Obligation)
}

func TestResolveNoLayersNoDiskErrors(t *testing.T) {
	box := newTestBox(t)
	_, err := Resolve(nil, box, fakeImage{reference: "alpine:latest"}, Capabilities{})
	require.Error(t, err)
}

func TestResolveSingleLayerVirtioFSPrefersDirect(t *testing.T) {
	box := newTestBox(t)
	img := fakeImage{reference: "alpine:latest", layers: []image.Layer{{Digest: "d1", Path: "/var/cache/boxlite/d1"}}}

	prepared, err := Resolve(nil, box, img, Capabilities{SupportsVirtioFS: true})
	require.NoError(t, err)
	assert.Equal(t, types.RootfsDirect, prepared.Strategy.Kind)
	assert.Equal(t, "/var/cache/boxlite/d1", prepared.Strategy.MergedDir)
	assert.Equal(t, types.CleanupNone, prepared.Obligation)
}

func TestResolveMultiLayerOverlayCapable(t *testing.T) {
	box := newTestBox(t)
	img := fakeImage{reference: "alpine:latest", layers: []image.Layer{
		{Digest: "base", Path: "/cache/base"},
		{Digest: "top", Path: "/cache/top"},
	}}

	prepared, err := Resolve(nil, box, img, Capabilities{SupportsOverlayMount: true})
	require.NoError(t, err)
	assert.Equal(t, types.RootfsOverlayMount, prepared.Strategy.Kind)
	assert.Equal(t, types.CleanupUnmountAndDelete, prepared.Obligation)

	for _, dir := range []string{"upper", "work", "merged"} {
		_, err := os.Stat(filepath.Join(prepared.Strategy.LayersDir, dir))
		assert.NoError(t, err)
	}
}

func TestResolveFallsBackToExtractedWhenNoOtherCapability(t *testing.T) {
	box := newTestBox(t)
	img := fakeImage{reference: "alpine:latest", layers: []image.Layer{{Digest: "d1", Path: "/cache/d1"}}}

	prepared, err := Resolve(nil, box, img, Capabilities{})
	require.NoError(t, err)
	assert.Equal(t, types.RootfsExtracted, prepared.Strategy.Kind)
	assert.Equal(t, types.CleanupDeleteDir, prepared.Obligation)

	_, err = os.Stat(prepared.Strategy.LayersDir)
	assert.NoError(t, err)
}

func TestCleanupNoneIsNoOp(t *testing.T) {
	assert.NoError(t, Cleanup(types.RootfsStrategy{Kind: types.RootfsDirect}))
}

func TestCleanupDeleteDirRemovesDirectory(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "extracted")
	require.NoError(t, os.MkdirAll(target, 0o750))

	require.NoError(t, Cleanup(types.RootfsStrategy{Kind: types.RootfsExtracted, LayersDir: target}))
	_, err := os.Stat(target)
	assert.True(t, os.IsNotExist(err))
}

func TestCleanupDeleteDirEmptyPathIsNoOp(t *testing.T) {
	assert.NoError(t, Cleanup(types.RootfsStrategy{Kind: types.RootfsExtracted, LayersDir: ""}))
}
