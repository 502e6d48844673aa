// Package image's LocalCache is the narrow, concrete Puller this module
// ships: a content-addressed directory cache with no network fetch of its
// own. Registry fetch and layer extraction are the external collaborators
// spec §2 scopes out ("lookup by reference yields a cached object or
// not"); LocalCache only implements the half of that contract this module
// owns — resolving a reference against entries someone else (an image
// puller daemon, a `boxlite pull` run against a populated cache, or a test
// fixture) has already placed on disk, grounded on
// original_source/boxlite/src/images/config.rs's on-disk config.json shape
// and the teacher's virtcontainers/image.go request/response narrowness.
package image

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/qidi1/boxlite/boxerrors"
)

// LocalCache resolves image references against "<dir>/<sanitized-ref>/"
// entries: a required config.json (ContainerImageConfig), an optional
// disk.qcow2 (disk-backed rootfs strategy), and an optional layers/
// subdirectory of one directory per layer in base-to-top order.
type LocalCache struct {
	Dir string
}

// NewLocalCache returns a cache rooted at dir, creating it if needed.
func NewLocalCache(dir string) (*LocalCache, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, boxerrors.Wrap(err, boxerrors.Storage, "create image cache %q", dir)
	}
	return &LocalCache{Dir: dir}, nil
}

// Pull resolves reference against registries in order, returning the first
// cache hit (§8 scenario S5: registry fallback order). An empty registries
// list falls back to resolving reference directly. It never fetches over
// the network; a miss across every registry is an Image error naming what
// was tried.
func (c *LocalCache) Pull(ctx context.Context, reference string, registries []string) (Image, error) {
	candidates := registries
	if len(candidates) == 0 {
		candidates = []string{""}
	}
	var tried []string
	for _, registry := range candidates {
		full := reference
		if registry != "" {
			full = registry + "/" + reference
		}
		if img, ok := c.Lookup(ctx, full); ok {
			return img, nil
		}
		tried = append(tried, full)
	}
	return nil, boxerrors.New(boxerrors.Image, "image %q not found in local cache (tried: %s)", reference, strings.Join(tried, ", "))
}

// Lookup returns a cached Image for reference without pulling.
func (c *LocalCache) Lookup(ctx context.Context, reference string) (Image, bool) {
	dir := filepath.Join(c.Dir, sanitizeRef(reference))
	cfgPath := filepath.Join(dir, "config.json")
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, false
	}
	var cfg ContainerImageConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, false
	}

	img := &localImage{reference: reference, dir: dir, cfg: cfg}

	if _, err := os.Stat(filepath.Join(dir, "disk.qcow2")); err == nil {
		img.diskImage = filepath.Join(dir, "disk.qcow2")
	}

	layersDir := filepath.Join(dir, "layers")
	if entries, err := os.ReadDir(layersDir); err == nil {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names) // layer dirs are named so lexical order is base-to-top
		for _, name := range names {
			img.layers = append(img.layers, Layer{Digest: name, Path: filepath.Join(layersDir, name)})
		}
	}

	return img, true
}

// List enumerates every reference found in the cache, for the `images`
// CLI command. Directory names are the sanitized form of a reference, so
// entries carry a "reference" sidecar file with the original string;
// entries without one (hand-placed fixtures) fall back to the directory
// name itself.
func (c *LocalCache) List() ([]string, error) {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, boxerrors.Wrap(err, boxerrors.Storage, "list image cache %q", c.Dir)
	}
	refs := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if data, err := os.ReadFile(filepath.Join(c.Dir, e.Name(), "reference")); err == nil {
			refs = append(refs, strings.TrimSpace(string(data)))
		} else {
			refs = append(refs, e.Name())
		}
	}
	sort.Strings(refs)
	return refs, nil
}

// sanitizeRef turns an image reference into a filesystem-safe directory
// name by replacing path and tag separators.
func sanitizeRef(reference string) string {
	return strings.NewReplacer("/", "_", ":", "@").Replace(reference)
}

type localImage struct {
	reference string
	dir       string
	diskImage string
	layers    []Layer
	cfg       ContainerImageConfig
}

func (i *localImage) Reference() string           { return i.reference }
func (i *localImage) DiskImage() string            { return i.diskImage }
func (i *localImage) Layers() []Layer              { return i.layers }
func (i *localImage) Config() ContainerImageConfig { return i.cfg }

var _ Image = (*localImage)(nil)
