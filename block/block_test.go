package block

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/qidi1/boxlite/types"
)

func TestTableRegisterAssignsSequentialIndexes(t *testing.T) {
	var table Table
	first := table.Register("rootfs", "/dev/vda", types.DiskFormatQCOW2, false)
	second := table.Register("scratch", "/dev/vdb", types.DiskFormatRaw, true)

	assert.Equal(t, 0, first.Index)
	assert.Equal(t, 1, second.Index)
}

func TestTableDrivesReturnsRegistrationOrder(t *testing.T) {
	var table Table
	table.Register("a", "/dev/vda", types.DiskFormatQCOW2, false)
	table.Register("b", "/dev/vdb", types.DiskFormatQCOW2, false)

	drives := table.Drives()
	assert.Equal(t, []string{"a", "b"}, []string{drives[0].ID, drives[1].ID})
}

func TestTableRegisterPreservesReadOnlyAndFormat(t *testing.T) {
	var table Table
	d := table.Register("rootfs", "/dev/vda", types.DiskFormatQCOW2, true)
	assert.True(t, d.ReadOnly)
	assert.Equal(t, types.DiskFormatQCOW2, d.Format)
}

func TestQemuImgBuilderBinaryDefaultsToPathLookup(t *testing.T) {
	b := QemuImgBuilder{}
	assert.Equal(t, "qemu-img", b.binary())
}

func TestQemuImgBuilderBinaryHonorsOverride(t *testing.T) {
	b := QemuImgBuilder{Path: "/custom/qemu-img"}
	assert.Equal(t, "/custom/qemu-img", b.binary())
}
