package qemuengine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/qidi1/boxlite/types"
)

func TestBuildArgsBaseline(t *testing.T) {
	i := &instance{binary: "qemu-system-x86_64", spec: types.InstanceSpec{
		Cpus:      2,
		MemoryMiB: 512,
		Transport: "/run/boxlite/box-1/portal.sock",
	}}
	args := i.buildArgs()
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-smp 2")
	assert.Contains(t, joined, "-m 512M")
	assert.Contains(t, joined, "virtserialport,chardev=portal,name=boxlite.portal")
}

func TestBuildArgsOmitsNetdevWhenNetworkNil(t *testing.T) {
	i := &instance{spec: types.InstanceSpec{Cpus: 1, MemoryMiB: 256, Transport: "/run/p.sock"}}
	args := i.buildArgs()
	for _, a := range args {
		assert.NotContains(t, a, "netdev")
	}
}

func TestBuildArgsIncludesNetdevWhenNetworkSet(t *testing.T) {
	i := &instance{spec: types.InstanceSpec{
		Cpus:      1,
		MemoryMiB: 256,
		Transport: "/run/p.sock",
		Network:   &types.NetworkEndpoint{SocketPath: "/run/net.sock", MACAddress: "5a:94:ef:e4:0c:ee"},
	}}
	args := i.buildArgs()
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "addr.path=/run/net.sock")
	assert.Contains(t, joined, "mac=5a:94:ef:e4:0c:ee")
}

func TestBuildArgsMountsAndDisks(t *testing.T) {
	i := &instance{spec: types.InstanceSpec{
		Cpus:      1,
		MemoryMiB: 256,
		Transport: "/run/p.sock",
		Mounts:    []types.Mount{{Tag: "rootfs", HostPath: "/var/lib/boxlite/box-1/rootfs", ReadOnly: true}},
		Disks:     []types.Disk{{HostPath: "/var/lib/boxlite/box-1/disk.qcow2", Format: types.DiskFormatQCOW2}},
	}}
	args := i.buildArgs()
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "mount_tag=rootfs")
	assert.Contains(t, joined, "readonly=on")
	assert.Contains(t, joined, "format=qcow2")
}

func TestReadOnlySuffix(t *testing.T) {
	assert.Equal(t, ",readonly=on", readOnlySuffix(true))
	assert.Equal(t, "", readOnlySuffix(false))
}
