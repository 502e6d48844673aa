package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusIsRunning(t *testing.T) {
	assert.True(t, StatusRunning.IsRunning())
	assert.False(t, StatusStopped.IsRunning())
	assert.False(t, StatusConfigured.IsRunning())
}

func TestStatusCanTransition(t *testing.T) {
	assert.True(t, StatusConfigured.CanTransition(StatusRunning))
	assert.True(t, StatusRunning.CanTransition(StatusStopping))
	assert.True(t, StatusStopping.CanTransition(StatusStopped))
	assert.True(t, StatusStopped.CanTransition(StatusRunning))

	assert.False(t, StatusConfigured.CanTransition(StatusStopped))
	assert.False(t, StatusRunning.CanTransition(StatusConfigured))
	assert.False(t, StatusStopped.CanTransition(StatusStopping))
	assert.False(t, StatusUnknown.CanTransition(StatusRunning))
}

// TestSanitizeAutoRemoveDetachRejected is Testable Property 7: auto_remove ∧
// detach must be rejected with an error (the runtime wraps it as
// InvalidArgument at the call site in runtime.Create).
func TestSanitizeAutoRemoveDetachRejected(t *testing.T) {
	opts := BoxOptions{Image: "alpine:latest", AutoRemove: true, Detach: true}
	err := opts.Sanitize("linux")
	require.Error(t, err)
}

func TestSanitizeAutoRemoveOrDetachAloneAccepted(t *testing.T) {
	opts := BoxOptions{Image: "alpine:latest", AutoRemove: true}
	assert.NoError(t, opts.Sanitize("linux"))

	opts = BoxOptions{Image: "alpine:latest", Detach: true}
	assert.NoError(t, opts.Sanitize("linux"))
}

func TestSanitizeRejectsEmptyImage(t *testing.T) {
	opts := BoxOptions{}
	err := opts.Sanitize("linux")
	require.Error(t, err)
}

func TestSanitizeAppliesDefaults(t *testing.T) {
	opts := BoxOptions{Image: "alpine:latest"}
	require.NoError(t, opts.Sanitize("linux"))
	assert.Equal(t, DefaultCpus, opts.Cpus)
	assert.Equal(t, DefaultMemoryMiB, opts.MemoryMiB)
}

func TestSanitizeCapsCpusAtMax(t *testing.T) {
	opts := BoxOptions{Image: "alpine:latest", Cpus: 1000}
	require.NoError(t, opts.Sanitize("linux"))
	assert.Equal(t, MaxCpus, opts.Cpus)
}

func TestSanitizeIsolateMountsLinuxOnly(t *testing.T) {
	opts := BoxOptions{Image: "alpine:latest", Security: SecurityOptions{IsolateMounts: true}}
	assert.NoError(t, opts.Sanitize("linux"))

	opts = BoxOptions{Image: "alpine:latest", Security: SecurityOptions{IsolateMounts: true}}
	err := opts.Sanitize("darwin")
	require.Error(t, err)
}

func TestSanitizeRejectsDuplicateGuestPort(t *testing.T) {
	opts := BoxOptions{
		Image: "alpine:latest",
		Ports: []PortSpec{{GuestPort: 80}, {GuestPort: 80}},
	}
	err := opts.Sanitize("linux")
	require.Error(t, err)
}

func TestSanitizeRejectsDuplicateVolumeTag(t *testing.T) {
	opts := BoxOptions{
		Image:   "alpine:latest",
		Volumes: []VolumeSpec{{Tag: "data"}, {Tag: "data"}},
	}
	err := opts.Sanitize("linux")
	require.Error(t, err)
}

func TestApplySecurityPresetMaximum(t *testing.T) {
	sec := ApplySecurityPreset(SecurityMaximum, "linux")
	assert.Equal(t, SecurityMaximum, sec.Preset)
	assert.True(t, sec.Jailer)
	assert.True(t, sec.Seccomp)
	assert.True(t, sec.Chroot)
	assert.True(t, sec.DropFDs)
	assert.True(t, sec.SanitizeEnv)
	assert.Equal(t, []string{"PATH"}, sec.EnvAllowlist)
}

func TestApplySecurityPresetMaximumNonLinuxDropsKernelFeatures(t *testing.T) {
	sec := ApplySecurityPreset(SecurityMaximum, "darwin")
	assert.False(t, sec.Seccomp)
	assert.False(t, sec.Chroot)
	assert.True(t, sec.Jailer)
}

func TestApplySecurityPresetStandard(t *testing.T) {
	sec := ApplySecurityPreset(SecurityStandard, "linux")
	assert.True(t, sec.Jailer)
	assert.True(t, sec.Seccomp)
	assert.True(t, sec.Chroot)

	sec = ApplySecurityPreset(SecurityStandard, "windows")
	assert.False(t, sec.Jailer)
	assert.False(t, sec.Seccomp)
}

func TestApplySecurityPresetDevelopmentDefault(t *testing.T) {
	sec := ApplySecurityPreset(SecurityDevelopment, "linux")
	assert.Equal(t, SecurityDevelopment, sec.Preset)
	assert.False(t, sec.Jailer)
	assert.False(t, sec.Seccomp)
}

func TestApplySecurityPresetUnknownFallsBackToDevelopment(t *testing.T) {
	sec := ApplySecurityPreset(SecurityPreset("bogus"), "linux")
	assert.Equal(t, SecurityDevelopment, sec.Preset)
}
