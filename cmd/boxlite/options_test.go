package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvSplitsKeyValue(t *testing.T) {
	env, err := parseEnv([]string{"FOO=bar", "BAZ=qux=extra"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"FOO": "bar", "BAZ": "qux=extra"}, env)
}

func TestParseEnvBareKeyIsEmptyValue(t *testing.T) {
	env, err := parseEnv([]string{"FOO"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"FOO": ""}, env)
}

func TestParseEnvEmptyInputIsNil(t *testing.T) {
	env, err := parseEnv(nil)
	require.NoError(t, err)
	assert.Nil(t, env)
}

func TestParsePortsGuestOnly(t *testing.T) {
	ports, err := parsePorts([]string{"8080"})
	require.NoError(t, err)
	require.Len(t, ports, 1)
	assert.Equal(t, uint16(8080), ports[0].GuestPort)
	assert.Nil(t, ports[0].HostPort)
	assert.Equal(t, "tcp", ports[0].Protocol)
}

func TestParsePortsGuestAndHostWithUDP(t *testing.T) {
	ports, err := parsePorts([]string{"53:5353/udp"})
	require.NoError(t, err)
	require.Len(t, ports, 1)
	assert.Equal(t, uint16(53), ports[0].GuestPort)
	require.NotNil(t, ports[0].HostPort)
	assert.Equal(t, uint16(5353), *ports[0].HostPort)
	assert.Equal(t, "udp", ports[0].Protocol)
}

func TestParsePortsRejectsNonNumeric(t *testing.T) {
	_, err := parsePorts([]string{"http"})
	assert.Error(t, err)
}

func TestParseVolumesRequiresHostAndTag(t *testing.T) {
	_, err := parseVolumes([]string{"/host/only"})
	assert.Error(t, err)
}

func TestParseVolumesReadOnlySuffix(t *testing.T) {
	volumes, err := parseVolumes([]string{"/host/path:data:ro"})
	require.NoError(t, err)
	require.Len(t, volumes, 1)
	assert.Equal(t, "/host/path", volumes[0].HostPath)
	assert.Equal(t, "data", volumes[0].Tag)
	assert.True(t, volumes[0].ReadOnly)
}

func TestParseVolumesDefaultsReadWrite(t *testing.T) {
	volumes, err := parseVolumes([]string{"/host/path:data"})
	require.NoError(t, err)
	require.Len(t, volumes, 1)
	assert.False(t, volumes[0].ReadOnly)
}
