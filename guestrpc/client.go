package guestrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/qidi1/boxlite/boxerrors"
)

// Client is one connection to a box's portal socket, multiplexing control
// calls (Exec/Wait/Kill/ResizeTty) and output fanout (Attach) over the
// single framed stream named in §6.4.
type Client struct {
	logger *logrus.Entry

	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex

	// execMu serializes Exec calls: ExecResponse carries no correlation id
	// of its own (the execution id it returns doesn't exist until the
	// response arrives), so only one Exec may be in flight at a time.
	execMu     sync.Mutex
	execWaiter chan ExecResponse

	mu            sync.Mutex
	waitWaiters   map[string]chan WaitResponse
	killWaiters   map[string]chan Ack
	resizeWaiters map[string]chan Ack
	attachSubs    map[string]chan ExecOutput

	closed    chan struct{}
	closeOnce sync.Once
	runErr    error
}

// Dial connects to a portal socket and starts the frame dispatcher.
func Dial(ctx context.Context, logger *logrus.Entry, socketPath string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, boxerrors.Wrap(err, boxerrors.RPCTransport, "dial portal socket %q", socketPath)
	}
	c := &Client{
		logger:        logger,
		conn:          conn,
		reader:        bufio.NewReader(conn),
		waitWaiters:   make(map[string]chan WaitResponse),
		killWaiters:   make(map[string]chan Ack),
		resizeWaiters: make(map[string]chan Ack),
		attachSubs:    make(map[string]chan ExecOutput),
		closed:        make(chan struct{}),
	}
	go c.dispatch()
	return c, nil
}

// Close tears down the connection and unblocks every pending waiter with a
// transport error, per the cancellation-is-not-an-error rule handled one
// layer up: callers translate a closed client into exit_code = -1.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
	return nil
}

func (c *Client) dispatch() {
	for {
		frame, err := readFrame(c.reader)
		if err != nil {
			c.mu.Lock()
			c.runErr = err
			if c.execWaiter != nil {
				close(c.execWaiter)
				c.execWaiter = nil
			}
			for _, ch := range c.waitWaiters {
				close(ch)
			}
			for _, ch := range c.killWaiters {
				close(ch)
			}
			for _, ch := range c.resizeWaiters {
				close(ch)
			}
			for _, ch := range c.attachSubs {
				close(ch)
			}
			c.mu.Unlock()
			c.Close()
			return
		}

		switch frame.Type {
		case TypeExecResponse:
			var resp ExecResponse
			if err := json.Unmarshal(frame.Payload, &resp); err != nil {
				c.logger.WithError(err).Warn("decode exec_response")
				continue
			}
			c.mu.Lock()
			w := c.execWaiter
			c.execWaiter = nil
			c.mu.Unlock()
			if w != nil {
				w <- resp
			}
		case TypeWaitResponse:
			var resp WaitResponse
			if err := json.Unmarshal(frame.Payload, &resp); err != nil {
				c.logger.WithError(err).Warn("decode wait_response")
				continue
			}
			c.routeWait(resp)
		case TypeAck:
			var ack Ack
			if err := json.Unmarshal(frame.Payload, &ack); err != nil {
				c.logger.WithError(err).Warn("decode ack")
				continue
			}
			c.routeAck(ack)
		case TypeExecOutput:
			var out ExecOutput
			if err := json.Unmarshal(frame.Payload, &out); err != nil {
				c.logger.WithError(err).Warn("decode exec_output")
				continue
			}
			c.routeOutput(out)
		default:
			c.logger.WithField("type", frame.Type).Warn("unexpected frame type from guest")
		}
	}
}

// routeWait and routeAck correlate a response to its waiter by
// ExecutionID, not map iteration order: with two executions concurrently
// pending Wait/Kill/ResizeTty on the same connection, a response must
// reach the waiter that asked for that specific execution id.
func (c *Client) routeWait(resp WaitResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.waitWaiters[resp.ExecutionID]
	if !ok {
		c.logger.WithField("execution_id", resp.ExecutionID).Warn("wait_response for unknown execution")
		return
	}
	ch <- resp
	delete(c.waitWaiters, resp.ExecutionID)
}

func (c *Client) routeAck(ack Ack) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.killWaiters[ack.ExecutionID]; ok {
		ch <- ack
		delete(c.killWaiters, ack.ExecutionID)
		return
	}
	if ch, ok := c.resizeWaiters[ack.ExecutionID]; ok {
		ch <- ack
		delete(c.resizeWaiters, ack.ExecutionID)
		return
	}
	c.logger.WithField("execution_id", ack.ExecutionID).Warn("ack for unknown execution")
}

func (c *Client) routeOutput(out ExecOutput) {
	c.mu.Lock()
	sub, ok := c.attachSubs[out.ExecutionID]
	c.mu.Unlock()
	if ok {
		select {
		case sub <- out:
		case <-c.closed:
		}
	}
}

func (c *Client) write(msgType MessageType, payload interface{}) error {
	return writeFrame(c.conn, &c.writeMu, msgType, payload)
}

// Exec starts a guest process. It is non-idempotent and is never retried
// internally (§7).
func (c *Client) Exec(ctx context.Context, req ExecRequest) (ExecResponse, error) {
	c.execMu.Lock()
	defer c.execMu.Unlock()

	waiter := make(chan ExecResponse, 1)
	c.mu.Lock()
	c.execWaiter = waiter
	c.mu.Unlock()

	if err := c.write(TypeExecRequest, req); err != nil {
		return ExecResponse{}, err
	}

	select {
	case resp, ok := <-waiter:
		if !ok {
			return ExecResponse{}, boxerrors.New(boxerrors.RPCTransport, "connection closed waiting for exec response")
		}
		if resp.Error != "" {
			return resp, boxerrors.New(boxerrors.Execution, "%s", resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return ExecResponse{}, boxerrors.Wrap(ctx.Err(), boxerrors.RPCTransport, "exec cancelled")
	}
}

// Attach subscribes to an execution's output stream. The returned channel
// closes when the connection drops or the caller calls Detach.
func (c *Client) Attach(ctx context.Context, executionID string) (<-chan ExecOutput, error) {
	ch := make(chan ExecOutput, 64)
	c.mu.Lock()
	c.attachSubs[executionID] = ch
	c.mu.Unlock()

	if err := c.write(TypeAttachRequest, AttachRequest{ExecutionID: executionID}); err != nil {
		c.Detach(executionID)
		return nil, err
	}
	return ch, nil
}

// Detach unsubscribes from an execution's output.
func (c *Client) Detach(executionID string) {
	c.mu.Lock()
	ch, ok := c.attachSubs[executionID]
	delete(c.attachSubs, executionID)
	c.mu.Unlock()
	if ok {
		close(ch)
	}
}

// SendInput forwards one chunk of stdin, or a close marker when data is
// nil and close is true.
func (c *Client) SendInput(executionID string, data []byte, closeStream bool) error {
	return c.write(TypeExecStdin, ExecStdin{ExecutionID: executionID, Data: data, Close: closeStream})
}

// Wait blocks for an execution's terminal status. Idempotent operations
// like Wait may be retried once on a transport error per §7.
func (c *Client) Wait(ctx context.Context, executionID string) (WaitResponse, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := c.waitOnce(ctx, executionID)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if boxerrors.KindOf(err) != boxerrors.RPCTransport {
			return WaitResponse{}, err
		}
	}
	return WaitResponse{}, lastErr
}

func (c *Client) waitOnce(ctx context.Context, executionID string) (WaitResponse, error) {
	waiter := make(chan WaitResponse, 1)
	c.mu.Lock()
	c.waitWaiters[executionID] = waiter
	c.mu.Unlock()

	if err := c.write(TypeWaitRequest, WaitRequest{ExecutionID: executionID}); err != nil {
		return WaitResponse{}, err
	}

	select {
	case resp, ok := <-waiter:
		if !ok {
			return WaitResponse{}, boxerrors.New(boxerrors.RPCTransport, "connection closed waiting for wait response")
		}
		return resp, nil
	case <-ctx.Done():
		return WaitResponse{}, boxerrors.Wrap(ctx.Err(), boxerrors.RPCTransport, "wait cancelled")
	}
}

// Kill signals a running execution. Non-idempotent; never retried (§7).
func (c *Client) Kill(ctx context.Context, executionID string, signal int32) error {
	waiter := make(chan Ack, 1)
	c.mu.Lock()
	c.killWaiters[executionID] = waiter
	c.mu.Unlock()

	if err := c.write(TypeKillRequest, KillRequest{ExecutionID: executionID, Signal: signal}); err != nil {
		return err
	}

	select {
	case ack, ok := <-waiter:
		if !ok {
			return boxerrors.New(boxerrors.RPCTransport, "connection closed waiting for kill ack")
		}
		if !ack.Success {
			return boxerrors.New(boxerrors.Execution, "%s", ack.Error)
		}
		return nil
	case <-ctx.Done():
		return boxerrors.Wrap(ctx.Err(), boxerrors.RPCTransport, "kill cancelled")
	}
}

// ResizeTty updates a TTY execution's window size. Idempotent; eligible
// for one retry on transport error (§7).
func (c *Client) ResizeTty(ctx context.Context, executionID string, rows, cols, xPixels, yPixels uint16) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		err := c.resizeOnce(ctx, executionID, rows, cols, xPixels, yPixels)
		if err == nil {
			return nil
		}
		lastErr = err
		if boxerrors.KindOf(err) != boxerrors.RPCTransport {
			return err
		}
	}
	return lastErr
}

func (c *Client) resizeOnce(ctx context.Context, executionID string, rows, cols, xPixels, yPixels uint16) error {
	waiter := make(chan Ack, 1)
	c.mu.Lock()
	c.resizeWaiters[executionID] = waiter
	c.mu.Unlock()

	req := ResizeTtyRequest{ExecutionID: executionID, Rows: rows, Cols: cols, XPixels: xPixels, YPixels: yPixels}
	if err := c.write(TypeResizeTtyRequest, req); err != nil {
		return err
	}

	select {
	case ack, ok := <-waiter:
		if !ok {
			return boxerrors.New(boxerrors.RPCTransport, "connection closed waiting for resize ack")
		}
		if !ack.Success {
			return boxerrors.New(boxerrors.Execution, "%s", ack.Error)
		}
		return nil
	case <-ctx.Done():
		return boxerrors.Wrap(ctx.Err(), boxerrors.RPCTransport, "resize cancelled")
	}
}
