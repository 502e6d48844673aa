package guestrpc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	req := ExecRequest{Executable: "/bin/sh", Args: []string{"-c", "true"}, TTY: true, Rows: 24, Cols: 80}

	require.NoError(t, writeFrame(&buf, &mu, TypeExecRequest, req))

	frame, err := readFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, TypeExecRequest, frame.Type)

	var got ExecRequest
	require.NoError(t, unmarshalPayload(frame, &got))
	assert.Equal(t, req, got)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	_, err := readFrame(bufio.NewReader(&buf))
	assert.Error(t, err)
}

func TestReadFrameRejectsZeroLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x00, 0x00, 0x00})
	_, err := readFrame(bufio.NewReader(&buf))
	assert.Error(t, err)
}

func TestReadFrameTruncatedHeaderErrors(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x01})
	_, err := readFrame(bufio.NewReader(&buf))
	assert.Error(t, err)
}

func TestWriteFrameLargePayloadUsesHeapBuffer(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	out := ExecOutput{ExecutionID: "abc", Stream: StreamStdout, Data: bytes.Repeat([]byte("x"), 64<<10)}
	require.NoError(t, writeFrame(&buf, &mu, TypeExecOutput, out))

	frame, err := readFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	var got ExecOutput
	require.NoError(t, unmarshalPayload(frame, &got))
	assert.Equal(t, out.Data, got.Data)
}

func unmarshalPayload(frame Frame, v interface{}) error {
	return json.Unmarshal(frame.Payload, v)
}
