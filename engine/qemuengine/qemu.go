// Package qemuengine is the "qemu" VMM engine: it builds a qemu-system
// command line from an InstanceSpec and replaces the shim process image
// with it, the Go analogue of the teacher's virtcontainers/qemu.go
// createSandbox (govmm-driven argument assembly) adapted to BoxLite's
// flatter per-box device model and without the govmm dependency, since
// BoxLite's shim has no QMP monitor session to keep open afterward.
package qemuengine

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/qidi1/boxlite/boxerrors"
	"github.com/qidi1/boxlite/engine"
	"github.com/qidi1/boxlite/types"
)

const kind = "qemu"

func init() {
	engine.Register(kind, func() (engine.Engine, error) {
		return &Engine{Binary: "qemu-system-x86_64"}, nil
	})
}

// Engine constructs qemu Instances.
type Engine struct {
	Binary string
}

func (e *Engine) Create(ctx context.Context, spec types.InstanceSpec) (engine.Instance, error) {
	binary := e.Binary
	if binary == "" {
		binary = "qemu-system-x86_64"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return nil, boxerrors.Wrap(err, boxerrors.Engine, "locate %s on PATH", binary)
	}
	return &instance{binary: binary, spec: spec}, nil
}

type instance struct {
	binary string
	spec   types.InstanceSpec
}

func (i *instance) Enter(ctx context.Context) error {
	args := i.buildArgs()

	path, err := exec.LookPath(i.binary)
	if err != nil {
		return boxerrors.Wrap(err, boxerrors.Engine, "locate %s", i.binary)
	}

	// syscall.Exec replaces this process's image with qemu: per §4.3,
	// "instance.enter() ... may never return normally". A successful call
	// never returns to this line; a failed one surfaces the exec error.
	env := os.Environ()
	if err := execReplace(path, append([]string{i.binary}, args...), env); err != nil {
		return boxerrors.Wrap(err, boxerrors.Engine, "exec %s", i.binary)
	}
	return nil
}

func (i *instance) buildArgs() []string {
	spec := i.spec
	args := []string{
		"-machine", "q35,accel=kvm",
		"-cpu", "host",
		"-smp", fmt.Sprintf("%d", spec.Cpus),
		"-m", fmt.Sprintf("%dM", spec.MemoryMiB),
		"-nographic",
		"-no-reboot",
	}

	for idx, mount := range spec.Mounts {
		args = append(args,
			"-fsdev", fmt.Sprintf("local,id=fs%d,path=%s,security_model=mapped-xattr%s", idx, mount.HostPath, readOnlySuffix(mount.ReadOnly)),
			"-device", fmt.Sprintf("virtio-9p-pci,fsdev=fs%d,mount_tag=%s", idx, mount.Tag),
		)
	}

	for idx, disk := range spec.Disks {
		roFlag := ""
		if disk.ReadOnly {
			roFlag = ",readonly=on"
		}
		args = append(args,
			"-drive", fmt.Sprintf("id=disk%d,file=%s,format=%s,if=none%s", idx, disk.HostPath, disk.Format, roFlag),
			"-device", fmt.Sprintf("virtio-blk-pci,drive=disk%d", idx),
		)
	}

	if spec.Network != nil {
		args = append(args,
			"-netdev", fmt.Sprintf("stream,id=net0,addr.type=unix,addr.path=%s", spec.Network.SocketPath),
			"-device", fmt.Sprintf("virtio-net-pci,netdev=net0,mac=%s", spec.Network.MACAddress),
		)
	}

	args = append(args,
		"-chardev", fmt.Sprintf("socket,id=portal,path=%s,server=on,wait=off", spec.Transport),
		"-device", "virtio-serial-pci",
		"-device", "virtserialport,chardev=portal,name=boxlite.portal",
	)

	return args
}

func readOnlySuffix(ro bool) string {
	if ro {
		return ",readonly=on"
	}
	return ""
}
