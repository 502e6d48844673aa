package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/qidi1/boxlite/boxerrors"
	"github.com/qidi1/boxlite/types"
)

func TestMergeEnvUserWinsPerKey(t *testing.T) {
	out := mergeEnv(nil, []string{"KEY=A"}, []string{"KEY=B"})
	assert.Equal(t, []string{"KEY=B"}, out)
}

func TestMergeEnvPrecedenceInitThenImageThenUser(t *testing.T) {
	out := mergeEnv([]string{"A=init", "SHARED=init"}, []string{"B=image", "SHARED=image"}, []string{"C=user", "SHARED=user"})
	assert.Equal(t, []string{"A=init", "B=image", "C=user", "SHARED=user"}, out)
}

func TestMergeEnvSortedDeterministic(t *testing.T) {
	out := mergeEnv(nil, nil, []string{"Z=1", "A=2", "M=3"})
	assert.Equal(t, []string{"A=2", "M=3", "Z=1"}, out)
}

func TestValidateUniqueDevicePathsRejectsDuplicate(t *testing.T) {
	err := validateUniqueDevicePaths([]types.Disk{
		{DevicePath: "/dev/vda"},
		{DevicePath: "/dev/vda"},
	})
	assert.Error(t, err)
	assert.Equal(t, boxerrors.InvalidArgument, boxerrors.KindOf(err))
}
