package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qidi1/boxlite/types"
)

func sampleInfo() types.BoxInfo {
	return types.BoxInfo{
		Config: types.BoxConfig{
			ID:        "abc123def456",
			Name:      "web",
			CreatedAt: 1000,
			Options: types.BoxOptions{
				Image:     "alpine:latest",
				Cpus:      2,
				MemoryMiB: 512,
				Security:  types.SecurityOptions{Preset: types.SecurityStandard},
			},
		},
		State: types.BoxState{
			ID:     "abc123def456",
			Status: types.StatusRunning,
		},
	}
}

func TestRenderInspectJSONDefaultIsArrayWrapped(t *testing.T) {
	out, err := renderInspect([]types.BoxInfo{sampleInfo()}, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "["))
	assert.Contains(t, out, `"Id": "abc123def456"`)
	assert.Contains(t, out, `"Image": "alpine:latest"`)
}

func TestRenderInspectJSONMultipleBoxes(t *testing.T) {
	a := sampleInfo()
	b := sampleInfo()
	b.Config.ID = "zzz999"
	out, err := renderInspect([]types.BoxInfo{a, b}, "")
	require.NoError(t, err)
	assert.Contains(t, out, `"Id": "abc123def456"`)
	assert.Contains(t, out, `"Id": "zzz999"`)
}

func TestRenderInspectYAML(t *testing.T) {
	out, err := renderInspect([]types.BoxInfo{sampleInfo()}, "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "- Id: abc123def456")
}

func TestRenderInspectTemplateFieldPath(t *testing.T) {
	out, err := renderInspect([]types.BoxInfo{sampleInfo()}, "{{ .Status }}")
	require.NoError(t, err)
	assert.Equal(t, "running", out)
}

func TestRenderInspectTemplateStateObject(t *testing.T) {
	out, err := renderInspect([]types.BoxInfo{sampleInfo()}, "{{ .State.Status }}")
	require.NoError(t, err)
	assert.Equal(t, "running", out)
}

func TestRenderInspectTemplateStateRunningBool(t *testing.T) {
	out, err := renderInspect([]types.BoxInfo{sampleInfo()}, "{{ .State.Running }}")
	require.NoError(t, err)
	assert.Equal(t, "true", out)
}

func TestRenderInspectTemplateIDAlias(t *testing.T) {
	out, err := renderInspect([]types.BoxInfo{sampleInfo()}, "{{ .ID }}")
	require.NoError(t, err)
	assert.Equal(t, "abc123def456", out)
}

func TestRenderInspectTemplateImageIDAlias(t *testing.T) {
	out, err := renderInspect([]types.BoxInfo{sampleInfo()}, "{{ .ImageID }}")
	require.NoError(t, err)
	assert.Equal(t, "alpine:latest", out)
}

func TestRenderInspectTemplateOneLinePerBox(t *testing.T) {
	a := sampleInfo()
	b := sampleInfo()
	b.Config.ID = "zzz999"
	out, err := renderInspect([]types.BoxInfo{a, b}, "{{ .ID }}")
	require.NoError(t, err)
	assert.Equal(t, "abc123def456\nzzz999", out)
}

func TestRenderInspectTemplateObjectPathGoStructStyle(t *testing.T) {
	out, err := renderInspect([]types.BoxInfo{sampleInfo()}, "{{ .Security }}")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "{") && strings.HasSuffix(out, "}"))
	assert.Contains(t, out, "Preset:standard")
}

func TestRenderInspectTemplateJSONFunction(t *testing.T) {
	out, err := renderInspect([]types.BoxInfo{sampleInfo()}, "{{ json .Security }}")
	require.NoError(t, err)
	assert.JSONEq(t, `{"preset":"standard","jailer":false,"seccomp":false,"chroot":false,"drop_fds":false,"sanitize_env":false,"isolate_mounts":false,"resource_limits":{}}`, out)
}

func TestRenderInspectTemplateMissingFieldErrors(t *testing.T) {
	_, err := renderInspect([]types.BoxInfo{sampleInfo()}, "{{ .NoSuchField }}")
	assert.Error(t, err)
}

func TestToInspectViewStateDefaultsPidZeroWhenStopped(t *testing.T) {
	info := sampleInfo()
	info.State.Status = types.StatusStopped
	info.State.PID = nil
	view := toInspectView(info)
	assert.Equal(t, types.StatusStopped, view.State.Status)
	assert.False(t, view.State.Running)
	assert.Equal(t, uint32(0), view.State.Pid)
}

func TestToInspectViewStatePidWhenRunning(t *testing.T) {
	info := sampleInfo()
	pid := 4242
	info.State.PID = &pid
	view := toInspectView(info)
	assert.True(t, view.State.Running)
	assert.Equal(t, uint32(4242), view.State.Pid)
}
