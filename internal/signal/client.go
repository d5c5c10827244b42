package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"github.com/mentorloop/meetroom/internal/application/constant"
	"github.com/mentorloop/meetroom/internal/domain/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client is the websocket Transport used against the relay.
type Client struct {
	serverURL string

	connectTimeout    time.Duration
	reconnectAttempts uint
	reconnectBackoff  time.Duration

	mu   sync.RWMutex
	conn *websocket.Conn
	id   string

	handlers   map[string]Handler
	handlersMu sync.RWMutex

	reconnectHooks []func()

	outgoing chan events.Message
	done     chan struct{}

	closeOnce sync.Once
	closed    bool
	started   bool
}

type Option func(*Client)

func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) { c.connectTimeout = d }
}

func WithReconnect(attempts uint, backoff time.Duration) Option {
	return func(c *Client) {
		c.reconnectAttempts = attempts
		c.reconnectBackoff = backoff
	}
}

func NewClient(serverURL string, opts ...Option) *Client {
	c := &Client{
		serverURL:         serverURL,
		connectTimeout:    10 * time.Second,
		reconnectAttempts: 5,
		reconnectBackoff:  500 * time.Millisecond,
		handlers:          make(map[string]Handler),
		outgoing:          make(chan events.Message, 16),
		done:              make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Client) Connect(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}

	if err := c.dial(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	alreadyStarted := c.started
	c.started = true
	c.mu.Unlock()

	if !alreadyStarted {
		go c.readPump()
		go c.writePump()
	}

	return nil
}

// dial opens the websocket and consumes the relay's connected event, which
// carries this connection's id.
func (c *Client) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.serverURL, nil)
	if err != nil {
		return fmt.Errorf("dial signaling relay: %w", err)
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(c.connectTimeout))

	var msg events.Message
	if err := conn.ReadJSON(&msg); err != nil {
		conn.Close()
		return fmt.Errorf("read handshake: %w", err)
	}

	if msg.Type != events.Connected {
		conn.Close()
		return fmt.Errorf("unexpected handshake event %q", msg.Type)
	}

	var connected events.ConnectedEvent
	if err := json.Unmarshal(msg.Data, &connected); err != nil {
		conn.Close()
		return fmt.Errorf("unmarshal handshake: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.id = connected.SocketID
	c.mu.Unlock()

	return nil
}

func (c *Client) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.id
}

func (c *Client) Emit(event string, payload any) error {
	if c.isClosed() {
		return ErrClosed
	}

	msg, err := events.NewMessage(event, payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}

	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *Client) On(event string, handler Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	c.handlers[event] = handler
}

func (c *Client) Off(event string) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	delete(c.handlers, event)
}

func (c *Client) OnReconnect(hook func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reconnectHooks = append(c.reconnectHooks, hook)
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn := c.conn
		c.mu.Unlock()

		close(c.done)

		if conn != nil {
			conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			conn.Close()
		}
	})

	return nil
}

func (c *Client) readPump() {
	for {
		conn := c.current()
		if conn == nil {
			return
		}

		var msg events.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if c.isClosed() {
				return
			}

			if rerr := c.reconnect(); rerr != nil {
				slog.Error(
					"signaling reconnect failed",
					slog.Any(constant.Error, rerr),
				)
				c.Close()
				return
			}

			continue
		}

		c.dispatch(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.outgoing:
			conn := c.current()
			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				slog.Error(
					"write signaling event",
					slog.Any(constant.Error, err),
					slog.String(constant.Event, msg.Type),
				)
			}

		case <-ticker.C:
			conn := c.current()
			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.PingMessage, nil)

		case <-c.done:
			return
		}
	}
}

// reconnect re-dials with backoff and replays the presence announcement via
// the registered hooks. The relay assigns a fresh connection id, so hooks
// must not assume the old one survived.
func (c *Client) reconnect() error {
	ctx := context.Background()

	backoff := retry.WithMaxRetries(
		uint64(c.reconnectAttempts),
		retry.NewExponential(c.reconnectBackoff),
	)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if c.isClosed() {
			return ErrClosed
		}

		if err := c.dial(ctx); err != nil {
			return retry.RetryableError(err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("signaling channel re-established", slog.String(constant.SocketID, c.ID()))

	c.mu.RLock()
	hooks := make([]func(), len(c.reconnectHooks))
	copy(hooks, c.reconnectHooks)
	c.mu.RUnlock()

	for _, hook := range hooks {
		hook()
	}

	return nil
}

func (c *Client) dispatch(msg events.Message) {
	c.handlersMu.RLock()
	handler, ok := c.handlers[msg.Type]
	c.handlersMu.RUnlock()

	if !ok {
		return
	}

	handler(msg.Data)
}

func (c *Client) current() *websocket.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.conn
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.closed
}
