// File: internal/protocol/transport.go
package protocol

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Transport carries raw protocol messages to and from one browser tab.
// Implementations must allow one concurrent reader and one concurrent
// writer; WriteMessage may be called from multiple goroutines.
type Transport interface {
	WriteMessage(msg *cdproto.Message) error
	ReadMessage() (*cdproto.Message, error)
	Close() error
}

// DialFunc opens a transport to the given tab. The production implementation
// is Dialer.Dial; tests substitute in-memory transports.
type DialFunc func(ctx context.Context, tab string) (Transport, error)

// wsTransport is the production Transport over the tab's DevTools websocket.
type wsTransport struct {
	conn *websocket.Conn

	// gorilla allows at most one concurrent writer.
	writeMu sync.Mutex
}

func (t *wsTransport) WriteMessage(msg *cdproto.Message) error {
	buf, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshalling protocol message: %w", err)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, buf)
}

func (t *wsTransport) ReadMessage() (*cdproto.Message, error) {
	_, buf, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var msg cdproto.Message
	if err := json.Unmarshal(buf, &msg); err != nil {
		return nil, fmt.Errorf("unmarshalling protocol message: %w", err)
	}
	return &msg, nil
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// TargetInfo is one debuggable page as reported by the DevTools HTTP
// endpoint.
type TargetInfo struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Dialer discovers debuggable targets over the DevTools HTTP endpoint and
// dials their websockets.
type Dialer struct {
	Endpoint    string
	DialTimeout time.Duration
	HTTPClient  *http.Client
}

// NewDialer builds a dialer for the given DevTools HTTP endpoint, e.g.
// "http://127.0.0.1:9222".
func NewDialer(endpoint string, dialTimeout time.Duration) *Dialer {
	return &Dialer{
		Endpoint:    strings.TrimRight(endpoint, "/"),
		DialTimeout: dialTimeout,
		HTTPClient:  &http.Client{Timeout: dialTimeout},
	}
}

// ListTargets fetches the debuggable pages from /json/list.
func (d *Dialer) ListTargets(ctx context.Context) ([]TargetInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.Endpoint+"/json/list", nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing debug targets: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing debug targets: unexpected status %s", resp.Status)
	}

	var targets []TargetInfo
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return nil, fmt.Errorf("decoding target list: %w", err)
	}
	return targets, nil
}

// FindTarget matches a page target by exact ID first, then by URL substring.
func (d *Dialer) FindTarget(ctx context.Context, idOrURL string) (*TargetInfo, error) {
	targets, err := d.ListTargets(ctx)
	if err != nil {
		return nil, err
	}
	for i := range targets {
		if targets[i].ID == idOrURL {
			return &targets[i], nil
		}
	}
	for i := range targets {
		if targets[i].Type == "page" && strings.Contains(targets[i].URL, idOrURL) {
			return &targets[i], nil
		}
	}
	return nil, fmt.Errorf("no debuggable page matches %q", idOrURL)
}

// Dial opens the websocket for the given tab ID (or URL fragment).
func (d *Dialer) Dial(ctx context.Context, tab string) (Transport, error) {
	target, err := d.FindTarget(ctx, tab)
	if err != nil {
		return nil, err
	}
	if target.WebSocketDebuggerURL == "" {
		return nil, fmt.Errorf("target %s exposes no websocket debugger URL (already attached elsewhere?)", target.ID)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: d.DialTimeout,
		// CDP responses for large DOM snapshots routinely exceed the
		// default buffer sizes.
		ReadBufferSize:  4 * 1024 * 1024,
		WriteBufferSize: 1 * 1024 * 1024,
	}
	conn, _, err := dialer.DialContext(ctx, target.WebSocketDebuggerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", target.WebSocketDebuggerURL, err)
	}
	return &wsTransport{conn: conn}, nil
}
