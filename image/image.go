// Package image defines the content-addressed Image object handle that the
// rootfs stage consumes. Pulling, layer caching, and content-addressability
// are external collaborators per spec §1/§2 ("lookup by reference yields a
// cached object or not"); this package only specifies the interface a
// puller/cache must satisfy, grounded on the teacher's
// virtcontainers/image.ImageService shape (request/response structs plus a
// narrow interface) and on original_source/boxlite/src/images/config.rs for
// the ContainerImageConfig fields.
package image

import (
	"context"

	ociv1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// Layer is one content-addressed filesystem layer of a pulled image.
type Layer struct {
	Digest string
	Path   string // extracted layer directory or tarball, cache-owned
}

// ContainerImageConfig is the subset of the OCI image config the core reads:
// entrypoint/cmd/env for the guest entrypoint, and exposed ports for the
// port-map default in §4.2.
type ContainerImageConfig struct {
	ociv1.ImageConfig
	ExposedPorts []uint16
}

// Image is a read-only, content-addressed handle that may be shared across
// boxes. Cleanup of the underlying cache entry is owned by the image cache,
// not by any one box (§3).
type Image interface {
	// Reference is the reference this handle was resolved from, e.g.
	// "docker.io/library/alpine:latest".
	Reference() string

	// DiskImage returns the path to a prebuilt base disk image for this
	// image, when the platform's rootfs strategy uses disk-backed boxes.
	// Returns "" when no disk image was prepared.
	DiskImage() string

	// Layers returns the image's filesystem layers in base-to-top order.
	Layers() []Layer

	// Config returns the resolved OCI container image config.
	Config() ContainerImageConfig
}

// Puller resolves an image reference, trying each registry in order until
// one succeeds, per §8 scenario S5 ("--registry" fallback). The concrete
// implementation (network fetch, content-addressable cache) lives outside
// this module's scope.
type Puller interface {
	Pull(ctx context.Context, reference string, registries []string) (Image, error)
	// Lookup returns a cached Image for reference without pulling, and
	// false when no cached object exists for it.
	Lookup(ctx context.Context, reference string) (Image, bool)
}
