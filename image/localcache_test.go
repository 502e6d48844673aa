package image

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	ociv1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixture(t *testing.T, dir, ref string, cfg ContainerImageConfig) {
	t.Helper()
	entryDir := filepath.Join(dir, sanitizeRef(ref))
	require.NoError(t, os.MkdirAll(entryDir, 0o750))
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(entryDir, "config.json"), data, 0o640))
}

func TestLocalCacheLookupMiss(t *testing.T) {
	cache, err := NewLocalCache(t.TempDir())
	require.NoError(t, err)

	_, ok := cache.Lookup(context.Background(), "alpine:latest")
	assert.False(t, ok)
}

func TestLocalCacheLookupHit(t *testing.T) {
	dir := t.TempDir()
	cfg := ContainerImageConfig{ImageConfig: ociv1.ImageConfig{Entrypoint: []string{"/bin/sh"}}}
	writeFixture(t, dir, "alpine:latest", cfg)

	cache, err := NewLocalCache(dir)
	require.NoError(t, err)

	img, ok := cache.Lookup(context.Background(), "alpine:latest")
	require.True(t, ok)
	assert.Equal(t, "alpine:latest", img.Reference())
	assert.Equal(t, []string{"/bin/sh"}, img.Config().Entrypoint)
	assert.Empty(t, img.DiskImage())
	assert.Empty(t, img.Layers())
}

func TestLocalCachePullTriesRegistriesInOrder(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "mirror.example.com/alpine:latest", ContainerImageConfig{})

	cache, err := NewLocalCache(dir)
	require.NoError(t, err)

	img, err := cache.Pull(context.Background(), "alpine:latest", []string{"unreachable.example.com", "mirror.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "mirror.example.com/alpine:latest", img.Reference())
}

func TestLocalCachePullNotFoundNamesAttempts(t *testing.T) {
	cache, err := NewLocalCache(t.TempDir())
	require.NoError(t, err)

	_, err = cache.Pull(context.Background(), "alpine:latest", []string{"a.example.com", "b.example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a.example.com/alpine:latest")
	assert.Contains(t, err.Error(), "b.example.com/alpine:latest")
}

func TestLocalCacheLookupPicksUpDiskAndLayers(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "alpine:latest", ContainerImageConfig{})
	entryDir := filepath.Join(dir, sanitizeRef("alpine:latest"))
	require.NoError(t, os.WriteFile(filepath.Join(entryDir, "disk.qcow2"), []byte("fake"), 0o640))
	require.NoError(t, os.MkdirAll(filepath.Join(entryDir, "layers", "02-top"), 0o750))
	require.NoError(t, os.MkdirAll(filepath.Join(entryDir, "layers", "01-base"), 0o750))

	cache, err := NewLocalCache(dir)
	require.NoError(t, err)

	img, ok := cache.Lookup(context.Background(), "alpine:latest")
	require.True(t, ok)
	assert.NotEmpty(t, img.DiskImage())
	require.Len(t, img.Layers(), 2)
	assert.Equal(t, "01-base", img.Layers()[0].Digest)
	assert.Equal(t, "02-top", img.Layers()[1].Digest)
}

func TestLocalCacheListSortedAndUsesReferenceSidecar(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "zebra:latest", ContainerImageConfig{})
	writeFixture(t, dir, "alpine:latest", ContainerImageConfig{})
	require.NoError(t, os.WriteFile(filepath.Join(dir, sanitizeRef("alpine:latest"), "reference"), []byte("alpine:latest"), 0o640))

	cache, err := NewLocalCache(dir)
	require.NoError(t, err)

	refs, err := cache.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpine:latest", sanitizeRef("zebra:latest")}, refs)
}

func TestSanitizeRefReplacesPathAndTagSeparators(t *testing.T) {
	assert.Equal(t, "docker.io_library_alpine@latest", sanitizeRef("docker.io/library/alpine:latest"))
}
