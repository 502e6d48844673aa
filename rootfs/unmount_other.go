//go:build !linux

package rootfs

import "github.com/qidi1/boxlite/boxerrors"

func unmount(path string) error {
	return boxerrors.New(boxerrors.Unsupported, "overlay mount rootfs strategy is linux-only")
}
