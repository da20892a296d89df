package signal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// errClosed is returned for calls made after the subprocess went away.
var errClosed = errors.New("signal-cli subprocess exited")

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcMessage is any line signal-cli writes: a response when ID is set,
// a notification otherwise.
type rpcMessage struct {
	ID     *int64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error reported by signal-cli.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("signal-cli rpc error %d: %s", e.Code, e.Message)
}

type rpcResult struct {
	raw json.RawMessage
	err error
}

// rpcConn speaks newline-delimited JSON-RPC 2.0 over a pair of pipes.
// Responses are matched to callers by ID; "receive" notifications that
// carry a data message are pushed to envelopes.
type rpcConn struct {
	w      io.WriteCloser
	r      *bufio.Reader
	logger *slog.Logger

	nextID  atomic.Int64
	mu      sync.Mutex // guards pending and writes to w
	pending map[int64]chan rpcResult

	envelopes chan *Envelope
	done      chan struct{}
}

func newRPCConn(w io.WriteCloser, r io.Reader, logger *slog.Logger) *rpcConn {
	c := &rpcConn{
		w:         w,
		r:         bufio.NewReaderSize(r, 1<<20),
		logger:    logger,
		pending:   make(map[int64]chan rpcResult),
		envelopes: make(chan *Envelope, 64),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// call sends one request and waits for its response.
func (c *rpcConn) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := c.nextID.Add(1)
	data, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}

	ch := make(chan rpcResult, 1)
	c.mu.Lock()
	c.pending[id] = ch
	_, err = c.w.Write(append(data, '\n'))
	if err != nil {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("write %s request: %w", method, err)
	}

	select {
	case res := <-ch:
		return res.raw, res.err
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case <-c.done:
		c.forget(id)
		return nil, errClosed
	}
}

func (c *rpcConn) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *rpcConn) readLoop() {
	defer close(c.done)
	defer close(c.envelopes)

	for {
		line, err := c.r.ReadBytes('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Error("signal-cli read failed", "error", err)
			}
			c.failPending()
			return
		}

		var msg rpcMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			c.logger.Debug("signal-cli non-JSON output", "line", string(line))
			continue
		}

		if msg.ID != nil {
			c.resolve(*msg.ID, msg)
			continue
		}

		switch msg.Method {
		case "receive":
			c.dispatch(msg.Params)
		default:
			c.logger.Debug("signal-cli notification ignored", "method", msg.Method)
		}
	}
}

func (c *rpcConn) resolve(id int64, msg rpcMessage) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("signal-cli response for unknown request", "id", id)
		return
	}
	if msg.Error != nil {
		ch <- rpcResult{err: msg.Error}
		return
	}
	ch <- rpcResult{raw: msg.Result}
}

// dispatch forwards data messages. Receipts, typing, and sync events
// are not actionable here.
func (c *rpcConn) dispatch(params json.RawMessage) {
	var n receiveNotification
	if err := json.Unmarshal(params, &n); err != nil {
		c.logger.Warn("signal-cli malformed receive notification", "error", err)
		return
	}
	if n.Envelope.DataMessage == nil {
		return
	}

	select {
	case c.envelopes <- &n.Envelope:
	default:
		c.logger.Warn("signal inbound queue full, dropping message", "sender", n.Envelope.Source)
	}
}

func (c *rpcConn) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		ch <- rpcResult{err: errClosed}
		delete(c.pending, id)
	}
}

func (c *rpcConn) close() error {
	return c.w.Close()
}
