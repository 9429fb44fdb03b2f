package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Client maintains a Binance market stream connection. Stream names are
// remembered across reconnects and re-subscribed after every dial, so a
// dropped connection resumes the same feed. Binance drives keepalive with
// server-side ping frames, which the transport answers during reads.
type Client struct {
	url            string
	reconnectDelay time.Duration
	log            *zap.Logger
	onReconnect    func()

	mu      sync.Mutex
	conn    *websocket.Conn
	streams []string
	reqID   int
}

type request struct {
	Method string   `json:"method"`
	Params []string `json:"params,omitempty"`
	ID     int      `json:"id"`
}

func New(url string, reconnectDelay time.Duration, log *zap.Logger) *Client {
	return &Client{url: url, reconnectDelay: reconnectDelay, log: log}
}

// OnReconnect registers a callback invoked after each successful re-dial.
// Set before Run; used to bump reconnect counters.
func (c *Client) OnReconnect(fn func()) {
	c.onReconnect = fn
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}
	conn.SetReadLimit(1 << 20)
	c.conn = conn
	return nil
}

// Subscribe adds streams to the active set and, when connected, sends the
// subscription request immediately.
func (c *Client) Subscribe(ctx context.Context, streams ...string) error {
	c.mu.Lock()
	for _, s := range streams {
		if !contains(c.streams, s) {
			c.streams = append(c.streams, s)
		}
	}
	conn := c.conn
	c.reqID++
	id := c.reqID
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return writeJSON(ctx, conn, request{Method: "SUBSCRIBE", Params: streams, ID: id})
}

// Unsubscribe removes streams from the active set and notifies the server
// when connected.
func (c *Client) Unsubscribe(ctx context.Context, streams ...string) error {
	c.mu.Lock()
	kept := c.streams[:0]
	for _, s := range c.streams {
		if !contains(streams, s) {
			kept = append(kept, s)
		}
	}
	c.streams = kept
	conn := c.conn
	c.reqID++
	id := c.reqID
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return writeJSON(ctx, conn, request{Method: "UNSUBSCRIBE", Params: streams, ID: id})
}

// Run reads messages until ctx is canceled, reconnecting with a fixed delay
// after any transport failure.
func (c *Client) Run(ctx context.Context, handler func(json.RawMessage)) error {
	first := true
	for {
		if err := c.ensureConnected(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if c.log != nil {
				c.log.Warn("ws dial failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.reconnectDelay):
			}
			continue
		}
		if !first && c.onReconnect != nil {
			c.onReconnect()
		}
		first = false

		err := c.readLoop(ctx, handler)
		if ctx.Err() != nil {
			c.resetConn()
			return ctx.Err()
		}
		c.logReadLoopError(err)
		c.resetConn()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *Client) ensureConnected(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	streams := append([]string(nil), c.streams...)
	c.reqID++
	id := c.reqID
	c.mu.Unlock()
	if len(streams) == 0 {
		return nil
	}
	return writeJSON(ctx, conn, request{Method: "SUBSCRIBE", Params: streams, ID: id})
}

func (c *Client) readLoop(ctx context.Context, handler func(json.RawMessage)) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("ws not connected")
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if handler != nil {
			handler(json.RawMessage(data))
		}
	}
}

func (c *Client) logReadLoopError(err error) {
	if c.log == nil {
		return
	}
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		c.log.Info("ws read loop ended", zap.Error(err))
		return
	}
	c.log.Warn("ws read loop ended", zap.Error(err))
}

func (c *Client) resetConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "reset")
		c.conn = nil
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
