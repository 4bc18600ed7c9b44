// Package wsrpc drives an external browser sidecar over a websocket using
// JSON request/response frames. Events pushed by the sidecar are fanned out
// to the attached listeners.
package wsrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/LinuxSuRen/wechaty/internal/bridge"
	"github.com/LinuxSuRen/wechaty/internal/webschema"
)

// ErrClosed is returned for calls on a closed or never opened connection.
var ErrClosed = errors.New("wsrpc: connection closed")

// CookieSource provides the jar restored into the browser on init.
type CookieSource interface {
	LoadCookies(ctx context.Context) ([]webschema.Cookie, error)
}

type request struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type frame struct {
	ID     uint64          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Event  string          `json:"event,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type Client struct {
	url     string
	dialer  *websocket.Dialer
	cookies CookieSource
	profile string
	log     *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	nextID  uint64
	pending map[uint64]chan frame
	writeMu sync.Mutex

	lmu       sync.RWMutex
	listeners []bridge.Listener
}

var _ bridge.Bridge = (*Client)(nil)

// New creates a client for the sidecar at url. cookies may be nil.
func New(url, profile string, cookies CookieSource) *Client {
	return &Client{
		url:     url,
		dialer:  websocket.DefaultDialer,
		cookies: cookies,
		profile: profile,
		pending: make(map[uint64]chan frame),
		log:     slog.With("component", "wsrpc", "profile", profile),
	}
}

func (c *Client) Attach(l bridge.Listener) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *Client) Detach(l bridge.Listener) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	for i, x := range c.listeners {
		if x == l {
			c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
			return
		}
	}
}

// Init connects to the sidecar when needed and starts the browser session.
func (c *Client) Init(ctx context.Context) error {
	if err := c.connect(ctx); err != nil {
		return err
	}
	var jar []webschema.Cookie
	if c.cookies != nil {
		var err error
		jar, err = c.cookies.LoadCookies(ctx)
		if err != nil {
			c.log.Warn("load cookies failed, starting without", "error", err)
		}
	}
	return c.call(ctx, "init", map[string]any{"profile": c.profile, "cookies": jar}, nil)
}

// Quit stops the browser session and closes the connection.
func (c *Client) Quit(ctx context.Context) error {
	err := c.call(ctx, "quit", nil, nil)
	c.close()
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (c *Client) Reload(ctx context.Context) error {
	return c.call(ctx, "reload", nil, nil)
}

func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	c.conn = conn
	go c.readLoop(conn)
	return nil
}

func (c *Client) close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return
	}
	c.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	conn.Close()
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.failPending(conn)
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("read loop ended", "error", err)
			}
			return
		}
		if f.Event != "" {
			c.dispatch(f.Event, f.Data)
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[f.ID]
		delete(c.pending, f.ID)
		c.mu.Unlock()
		if ok {
			ch <- f
		}
	}
}

func (c *Client) failPending(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	pending := c.pending
	c.pending = make(map[uint64]chan frame)
	c.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
	conn.Close()
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", method, ErrClosed)
	}
	c.nextID++
	id := c.nextID
	ch := make(chan frame, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := conn.WriteJSON(request{ID: id, Method: method, Params: params})
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("%s: write: %w", method, err)
	}

	select {
	case f, ok := <-ch:
		if !ok {
			return fmt.Errorf("%s: %w", method, ErrClosed)
		}
		if f.Error != "" {
			return fmt.Errorf("%s: %s", method, f.Error)
		}
		if out != nil && len(f.Result) > 0 {
			if err := json.Unmarshal(f.Result, out); err != nil {
				return fmt.Errorf("%s: decode result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

func (c *Client) snapshot() []bridge.Listener {
	c.lmu.RLock()
	defer c.lmu.RUnlock()
	return append([]bridge.Listener(nil), c.listeners...)
}

func (c *Client) dispatch(event string, data json.RawMessage) {
	listeners := c.snapshot()
	switch event {
	case "login", "logout":
		var p struct {
			UserID string `json:"userId"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			c.log.Warn("bad event payload", "event", event, "error", err)
			return
		}
		for _, l := range listeners {
			if event == "login" {
				l.OnLogin(p.UserID)
			} else {
				l.OnLogout(p.UserID)
			}
		}
	case "scan":
		var p webschema.ScanData
		if err := json.Unmarshal(data, &p); err != nil {
			c.log.Warn("bad event payload", "event", event, "error", err)
			return
		}
		for _, l := range listeners {
			l.OnScan(p)
		}
	case "message":
		var p webschema.RawMessage
		if err := json.Unmarshal(data, &p); err != nil {
			c.log.Warn("bad event payload", "event", event, "error", err)
			return
		}
		for _, l := range listeners {
			l.OnMessage(p)
		}
	case "error":
		var p struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &p)
		err := fmt.Errorf("sidecar: %s", p.Message)
		for _, l := range listeners {
			l.OnError(err)
		}
	case "unload":
		for _, l := range listeners {
			l.OnUnload()
		}
	case "ding", "log":
		var s string
		_ = json.Unmarshal(data, &s)
		for _, l := range listeners {
			if event == "ding" {
				l.OnDing(s)
			} else {
				l.OnLog(s)
			}
		}
	default:
		c.log.Debug("unknown event", "event", event)
	}
}
