package guestrpc

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/qidi1/boxlite/cancel"
)

// ExecResult is the terminal outcome of an Execution, cached after the
// first Wait() resolves (§4.4: "Execution.wait() is idempotent and
// cached").
type ExecResult struct {
	ExitCode     int32
	ErrorMessage string
}

// cancelledResult is the canonical value emitted when a token is
// cancelled before the guest reports a terminal status (§4.5 rule 4, §7).
var cancelledResult = ExecResult{ExitCode: -1, ErrorMessage: "cancelled"}

// Execution is one user command running inside a box, owned by the caller
// that obtained it from a box's exec() call. It holds the three background
// tasks described in §4.4: a stdin pump, an attach fanout, and a wait pump.
type Execution struct {
	ID     string
	client *Client
	token  *cancel.Token
	logger *logrus.Entry

	stdin  chan stdinFrame
	stdout chan ExecOutput

	mu     sync.Mutex
	result *ExecResult
	done   chan struct{}
}

type stdinFrame struct {
	data  []byte
	close bool
}

// NewExecution starts the background stdin pump, attach fanout, and wait
// pump for an already-started guest process.
func NewExecution(client *Client, token *cancel.Token, executionID string, logger *logrus.Entry) *Execution {
	e := &Execution{
		ID:     executionID,
		client: client,
		token:  token,
		logger: logger,
		stdin:  make(chan stdinFrame, 32),
		stdout: make(chan ExecOutput, 64),
		done:   make(chan struct{}),
	}
	go e.pumpStdin()
	go e.pumpAttach()
	go e.pumpWait()
	return e
}

// Stdin returns the channel SendInput writes to; closing it terminates the
// stdin pump after flushing a close frame to the guest.
func (e *Execution) Stdin() chan<- []byte {
	ch := make(chan []byte)
	go func() {
		for data := range ch {
			e.stdin <- stdinFrame{data: data}
		}
		e.stdin <- stdinFrame{close: true}
	}()
	return ch
}

// Output returns the fanned-out stdout/stderr stream.
func (e *Execution) Output() <-chan ExecOutput {
	return e.stdout
}

func (e *Execution) pumpStdin() {
	for {
		select {
		case <-e.token.Done():
			return
		case frame := <-e.stdin:
			if frame.close {
				_ = e.client.SendInput(e.ID, nil, true)
				return
			}
			if err := e.client.SendInput(e.ID, frame.data, false); err != nil {
				e.logger.WithError(err).Warn("stdin pump: send failed")
				return
			}
		}
	}
}

func (e *Execution) pumpAttach() {
	out, err := e.client.Attach(e.token.Context(), e.ID)
	if err != nil {
		e.logger.WithError(err).Warn("attach fanout: failed to open")
		return
	}
	defer e.client.Detach(e.ID)

	for {
		select {
		case <-e.token.Done():
			return
		case chunk, ok := <-out:
			if !ok {
				return
			}
			select {
			case e.stdout <- chunk:
			case <-e.token.Done():
				return
			}
		}
	}
}

func (e *Execution) pumpWait() {
	defer close(e.done)

	resp, ok := cancel.Wait(e.token, e.waitAsync())
	if !ok {
		e.setResult(cancelledResult)
		return
	}
	e.setResult(ExecResult{ExitCode: resp.ExitCode})
}

func (e *Execution) waitAsync() <-chan WaitResponse {
	ch := make(chan WaitResponse, 1)
	go func() {
		resp, err := e.client.Wait(e.token.Context(), e.ID)
		if err != nil {
			ch <- WaitResponse{ExitCode: -1}
			return
		}
		ch <- resp
	}()
	return ch
}

func (e *Execution) setResult(r ExecResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.result == nil {
		e.result = &r
	}
}

// Wait blocks until the execution's terminal result is available, then
// returns the same cached value on every subsequent call (§4.4).
func (e *Execution) Wait(ctx context.Context) ExecResult {
	select {
	case <-e.done:
	case <-ctx.Done():
		return cancelledResult
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.result == nil {
		return cancelledResult
	}
	return *e.result
}

// Kill sends a signal to the execution's guest process.
func (e *Execution) Kill(ctx context.Context, signal int32) error {
	return e.client.Kill(ctx, e.ID, signal)
}

// ResizeTty updates the execution's TTY window size.
func (e *Execution) ResizeTty(ctx context.Context, rows, cols, xPixels, yPixels uint16) error {
	return e.client.ResizeTty(ctx, e.ID, rows, cols, xPixels, yPixels)
}
