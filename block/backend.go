package block

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// ErrNotConnected is returned by Send and Receive before Connect succeeds
// or after Close.
var ErrNotConnected = errors.New("backend not connected")

// Backend is a block's link to its own service (a data feed, a model
// server). The compliance gate never uses it.
type Backend interface {
	Initialize(ctx context.Context) error
	Connect(ctx context.Context) error
	Send(ctx context.Context, v any) error
	Receive(ctx context.Context, v any) error
	Close() error
}

// WebsocketBackend exchanges JSON messages over a websocket.
type WebsocketBackend struct {
	URL          string
	Header       http.Header
	WriteTimeout time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWebsocketBackend(rawURL string) *WebsocketBackend {
	return &WebsocketBackend{URL: rawURL, WriteTimeout: 5 * time.Second}
}

// Initialize checks the URL; nothing is dialed yet.
func (w *WebsocketBackend) Initialize(ctx context.Context) error {
	u, err := url.Parse(w.URL)
	if err != nil {
		return fmt.Errorf("backend url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("backend url %q: unsupported scheme %q", w.URL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("backend url %q: missing host", w.URL)
	}
	return nil
}

func (w *WebsocketBackend) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		return nil
	}
	conn, _, err := websocket.Dial(ctx, w.URL, &websocket.DialOptions{HTTPHeader: w.Header})
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.URL, err)
	}
	w.conn = conn
	return nil
}

func (w *WebsocketBackend) current() (*websocket.Conn, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil, ErrNotConnected
	}
	return w.conn, nil
}

func (w *WebsocketBackend) Send(ctx context.Context, v any) error {
	conn, err := w.current()
	if err != nil {
		return err
	}
	if w.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.WriteTimeout)
		defer cancel()
	}
	return wsjson.Write(ctx, conn, v)
}

func (w *WebsocketBackend) Receive(ctx context.Context, v any) error {
	conn, err := w.current()
	if err != nil {
		return err
	}
	return wsjson.Read(ctx, conn, v)
}

func (w *WebsocketBackend) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close(websocket.StatusNormalClosure, "closed")
	w.conn = nil
	return err
}
