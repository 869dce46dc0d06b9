// File: internal/protocol/client.go
package protocol

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rewind-cli/api/schemas"
	"github.com/xkilldash9x/rewind-cli/internal/config"
)

// Client is the sole owner of the debugging-protocol channel. It manages one
// connection per tab, lazily attached, and exposes the typed operation
// surface (ops.go) that every other component goes through.
type Client struct {
	cfg    config.ProtocolConfig
	logger *zap.Logger
	dial   DialFunc

	mu    sync.Mutex
	conns map[string]*connection
	// subs is the durable subscription table, keyed tab then event name.
	// Connections come and go across transient detaches; subscriptions are
	// re-installed on every attach so event handlers survive a reconnect.
	subs map[string]map[string]schemas.EventHandler
}

// enableCommands are the command domains required before any query or
// interaction works on a fresh connection.
var enableCommands = []string{
	dom.CommandEnable,
	page.CommandEnable,
	runtime.CommandEnable,
	accessibility.CommandEnable,
}

// NewClient builds a client using the production websocket dialer.
func NewClient(cfg config.ProtocolConfig, logger *zap.Logger) *Client {
	dialer := NewDialer(cfg.Endpoint, cfg.DialTimeout)
	return NewClientWithDialer(cfg, logger, dialer.Dial)
}

// NewClientWithDialer builds a client with a custom transport dialer. Tests
// use this to substitute in-memory transports.
func NewClientWithDialer(cfg config.ProtocolConfig, logger *zap.Logger, dial DialFunc) *Client {
	return &Client{
		cfg:    cfg,
		logger: logger.Named("protocol"),
		dial:   dial,
		conns:  make(map[string]*connection),
		subs:   make(map[string]map[string]schemas.EventHandler),
	}
}

// Attach opens the connection for a tab and enables the required command
// domains. Attaching an already-attached tab is a no-op.
func (c *Client) Attach(ctx context.Context, tab string) error {
	_, err := c.attach(ctx, tab)
	return err
}

func (c *Client) attach(ctx context.Context, tab string) (*connection, error) {
	c.mu.Lock()
	if conn, ok := c.conns[tab]; ok {
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	transport, err := c.dial(ctx, tab)
	if err != nil {
		return nil, err
	}
	conn := newConnection(tab, transport, c.logger)

	c.mu.Lock()
	if existing, ok := c.conns[tab]; ok {
		// A concurrent attach won; keep the first connection.
		c.mu.Unlock()
		conn.close(ErrDetached)
		return existing, nil
	}
	c.conns[tab] = conn
	// Install the tab's durable subscriptions before any event can arrive.
	for event, h := range c.subs[tab] {
		conn.subscribe(event, h)
	}
	c.mu.Unlock()

	for _, method := range enableCommands {
		if err := c.enableDomain(ctx, conn, method); err != nil {
			c.logger.Error("Enabling protocol domain failed; detaching.",
				zap.String("tab", tab), zap.String("method", method), zap.Error(err))
			c.removeConnection(tab, conn)
			return nil, err
		}
	}

	c.logger.Debug("Attached to tab.", zap.String("tab", tab))
	return conn, nil
}

// enableDomain issues one enable command under the command deadline, so an
// unresponsive browser cannot hang Attach even on a background context.
func (c *Client) enableDomain(ctx context.Context, conn *connection, method string) error {
	if c.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CommandTimeout)
		defer cancel()
	}
	_, err := conn.send(ctx, method, nil)
	return err
}

// Detach tears down the tab's connection. Every in-flight command for the
// connection is rejected with a detach failure before its state is cleared.
// Detaching a tab that is not attached is a no-op.
func (c *Client) Detach(_ context.Context, tab string) error {
	c.mu.Lock()
	conn, ok := c.conns[tab]
	if ok {
		delete(c.conns, tab)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	conn.close(ErrDetached)
	c.logger.Debug("Detached from tab.", zap.String("tab", tab))
	return nil
}

// Cleanup detaches every connection.
func (c *Client) Cleanup(ctx context.Context) {
	c.mu.Lock()
	tabs := make([]string, 0, len(c.conns))
	for tab := range c.conns {
		tabs = append(tabs, tab)
	}
	c.mu.Unlock()
	for _, tab := range tabs {
		_ = c.Detach(ctx, tab)
	}
}

// Subscribe registers the callback for an event name on the tab. The
// registration outlives any single connection: it takes effect on a not yet
// attached tab and is re-installed whenever the tab reattaches.
func (c *Client) Subscribe(tab, event string, h schemas.EventHandler) {
	c.mu.Lock()
	if c.subs[tab] == nil {
		c.subs[tab] = make(map[string]schemas.EventHandler)
	}
	c.subs[tab][event] = h
	conn := c.conns[tab]
	c.mu.Unlock()
	if conn != nil {
		conn.subscribe(event, h)
	}
}

// Unsubscribe drops the callback for an event name on the tab.
func (c *Client) Unsubscribe(tab, event string) {
	c.mu.Lock()
	if subs := c.subs[tab]; subs != nil {
		delete(subs, event)
		if len(subs) == 0 {
			delete(c.subs, tab)
		}
	}
	conn := c.conns[tab]
	c.mu.Unlock()
	if conn != nil {
		conn.unsubscribe(event)
	}
}

func (c *Client) removeConnection(tab string, conn *connection) {
	c.mu.Lock()
	if c.conns[tab] == conn {
		delete(c.conns, tab)
	}
	c.mu.Unlock()
	conn.close(ErrDetached)
}

// Send issues one command against a tab, lazily attaching first. Every
// attempt runs under the configured command timeout so a browser that never
// replies cannot park a caller forever. Transient failures are retried up to
// the fixed budget with a fixed delay; semantic failures (target gone, node
// not found, bad params) fail immediately. No backoff: the waiter and
// evaluation timeouts elsewhere dominate latency.
func (c *Client) Send(ctx context.Context, tab, method string, params, out any) error {
	var payload []byte
	if params != nil {
		var err error
		payload, err = json.Marshal(params)
		if err != nil {
			return err
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.cfg.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
			c.logger.Debug("Retrying protocol command.",
				zap.String("tab", tab), zap.String("method", method), zap.Int("attempt", attempt))
		}

		final, err := c.sendOnce(ctx, tab, method, payload, out)
		if final {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// sendOnce runs a single attempt under its own command deadline. The bool
// reports whether the outcome is final: success, a semantic failure, or the
// caller's own context ending. A timed-out attempt with a live parent
// context is not final and stays eligible for the retry budget.
func (c *Client) sendOnce(parent context.Context, tab, method string, payload []byte, out any) (bool, error) {
	ctx := parent
	if c.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, c.cfg.CommandTimeout)
		defer cancel()
	}

	conn, err := c.attach(ctx, tab)
	if err != nil {
		return isSemanticError(err) || parent.Err() != nil, err
	}

	result, err := conn.send(ctx, method, payload)
	if err == nil {
		if out == nil || len(result) == 0 {
			return true, nil
		}
		return true, json.Unmarshal(result, out)
	}
	// A detached connection may have been replaced; drop our stale entry so
	// the next attempt re-attaches.
	if errors.Is(err, ErrDetached) {
		c.removeConnection(tab, conn)
	}
	return isSemanticError(err) || parent.Err() != nil, err
}

// semanticErrorFragments mark protocol errors that describe the page's
// state rather than a transport hiccup. Retrying those cannot help.
var semanticErrorFragments = []string{
	"could not find node",
	"no node with given id",
	"node with given id does not belong",
	"could not find context",
	"cannot find context",
	"no target with given id",
	"target closed",
	"invalid parameters",
	"invalid selector",
	"dom agent hasn't been enabled",
	"object id doesn't reference a node",
}

// isSemanticError classifies a command failure. Protocol-level errors with
// well-known "gone for real" messages, and outright protocol violations, are
// semantic; everything else (transport failures, busy targets) is considered
// transient and eligible for the fixed retry budget.
func isSemanticError(err error) bool {
	var protoErr *cdproto.Error
	if errors.As(err, &protoErr) {
		switch protoErr.Code {
		case -32600, -32601, -32602: // invalid request / method / params
			return true
		}
		msg := strings.ToLower(protoErr.Message)
		for _, fragment := range semanticErrorFragments {
			if strings.Contains(msg, fragment) {
				return true
			}
		}
		return false
	}
	// Context ends are not semantic, but they are not retryable either;
	// Send checks ctx separately. Everything else is transient.
	return false
}
