// File: internal/protocol/connection.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rewind-cli/api/schemas"
)

var (
	// ErrDetached rejects commands that were still in flight when their
	// connection was torn down.
	ErrDetached = errors.New("protocol: connection detached")
	// ErrNotAttached reports a command issued against a tab that has no
	// live connection and could not be attached.
	ErrNotAttached = errors.New("protocol: not attached")
)

// commandReply resolves one in-flight command: either a result payload or an
// error, never both.
type commandReply struct {
	result []byte
	err    error
}

// pendingCommand is one in-flight command awaiting its correlated response.
type pendingCommand struct {
	method string
	// done is buffered so that resolution never blocks the reader
	// goroutine, and so that each entry resolves exactly once.
	done chan commandReply
}

// connection is the per-tab protocol state. It is created on first use of a
// tab and destroyed on detach, close or cleanup; it is never shared between
// tabs. Command-id allocation is serialized under mu while many commands may
// be concurrently in flight.
type connection struct {
	tab       string
	transport Transport
	logger    *zap.Logger

	mu       sync.Mutex
	closed   bool
	closeErr error
	nextID   int64
	pending  map[int64]*pendingCommand
	subs     map[string]schemas.EventHandler

	readerDone chan struct{}
}

func newConnection(tab string, transport Transport, logger *zap.Logger) *connection {
	c := &connection{
		tab:        tab,
		transport:  transport,
		logger:     logger,
		pending:    make(map[int64]*pendingCommand),
		subs:       make(map[string]schemas.EventHandler),
		readerDone: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// send issues one command and waits for its correlated response or the
// context's end. It returns the raw result payload.
func (c *connection) send(ctx context.Context, method string, params []byte) ([]byte, error) {
	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return nil, err
	}
	c.nextID++
	id := c.nextID
	cmd := &pendingCommand{method: method, done: make(chan commandReply, 1)}
	c.pending[id] = cmd
	c.mu.Unlock()

	msg := &cdproto.Message{
		ID:     id,
		Method: cdproto.MethodType(method),
		Params: params,
	}
	if err := c.transport.WriteMessage(msg); err != nil {
		c.resolve(id, commandReply{err: fmt.Errorf("writing %s: %w", method, err)})
	}

	select {
	case reply := <-cmd.done:
		return reply.result, reply.err
	case <-ctx.Done():
		// Forget the entry; a response arriving later is dropped by the
		// reader when the id is no longer pending.
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

// resolve completes one pending command exactly once and removes it.
func (c *connection) resolve(id int64, reply commandReply) {
	c.mu.Lock()
	cmd, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		cmd.done <- reply
	}
}

// subscribe registers the callback for an event name, replacing any previous
// registration for that name.
func (c *connection) subscribe(event string, h schemas.EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[event] = h
}

func (c *connection) unsubscribe(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, event)
}

// readLoop owns the transport's read side: it correlates responses to
// pending commands by id and dispatches events to subscribers by method
// name. It exits when the transport fails or is closed.
func (c *connection) readLoop() {
	defer close(c.readerDone)
	for {
		msg, err := c.transport.ReadMessage()
		if err != nil {
			c.close(fmt.Errorf("%w: %v", ErrDetached, err))
			return
		}

		switch {
		case msg.ID != 0:
			reply := commandReply{result: msg.Result}
			if msg.Error != nil {
				reply = commandReply{err: msg.Error}
			}
			c.resolve(msg.ID, reply)
		case msg.Method != "":
			c.mu.Lock()
			h := c.subs[string(msg.Method)]
			c.mu.Unlock()
			if h != nil {
				h(msg.Params)
			}
		default:
			c.logger.Debug("Discarding protocol message with neither id nor method.",
				zap.String("tab", c.tab))
		}
	}
}

// close tears the connection down: every pending command is rejected exactly
// once with the given error before the table is cleared, so no command is
// ever left permanently unresolved. Safe to call repeatedly and while
// commands are in flight.
func (c *connection) close(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if cause == nil {
		cause = ErrDetached
	}
	c.closeErr = cause
	stranded := c.pending
	c.pending = make(map[int64]*pendingCommand)
	c.subs = make(map[string]schemas.EventHandler)
	c.mu.Unlock()

	for id, cmd := range stranded {
		cmd.done <- commandReply{err: fmt.Errorf("%s (id %d): %w", cmd.method, id, cause)}
	}
	if err := c.transport.Close(); err != nil {
		c.logger.Debug("Closing transport reported an error.", zap.String("tab", c.tab), zap.Error(err))
	}
}
