// Package transport maintains the duplex websocket channel to the
// workflow backend. Delivery is at-least-once and unordered across
// reconnects; duplicate suppression lives downstream in the engine.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	boarderrors "github.com/kvnkishore11/AgenticKanban-sub008/internal/errors"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB

	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second

	sendBufferSize = 256
)

// Handler consumes inbound frames and reconnect notifications.
type Handler interface {
	HandleRaw(raw []byte)
	OnReconnect()
}

// Options configures the transport client.
type Options struct {
	URL            string
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// TriggerRequest asks the backend to start a workflow run for a task.
// The backend echoes TaskID in its trigger_response so the answer can be
// bound to the originating task.
type TriggerRequest struct {
	TaskID       int64  `json:"task_id"`
	WorkflowName string `json:"workflow_name"`
	Prompt       string `json:"prompt,omitempty"`
}

// Client dials the backend and keeps the connection alive, redialing
// with exponential backoff when it drops. Outbound messages queue in a
// bounded buffer that survives reconnects.
type Client struct {
	opts    Options
	handler Handler
	logger  *slog.Logger
	dialer  *websocket.Dialer
	send    chan []byte
}

// New creates a transport client. Run must be called to connect.
func New(opts Options, handler Handler, logger *slog.Logger) *Client {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		opts:    opts,
		handler: handler,
		logger:  logger,
		dialer:  websocket.DefaultDialer,
		send:    make(chan []byte, sendBufferSize),
	}
}

// Run connects and serves the channel until ctx is cancelled, redialing
// on every disconnect. The handler's OnReconnect fires on every
// connection after the first, before any frame from the new connection
// is delivered.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.opts.InitialBackoff
	connectedBefore := false

	for {
		conn, resp, err := c.dialer.DialContext(ctx, c.opts.URL, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("websocket dial failed",
				"url", c.opts.URL, "retry_in", backoff, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.opts.MaxBackoff)
			continue
		}

		backoff = c.opts.InitialBackoff
		if connectedBefore {
			c.handler.OnReconnect()
		}
		connectedBefore = true
		c.logger.Info("websocket connected", "url", c.opts.URL)

		if err := c.serve(ctx, conn); err != nil && ctx.Err() == nil {
			c.logger.Warn("websocket session ended", "error", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Send queues an outbound message. It never blocks: a full buffer is
// reported as an error rather than stalling the caller.
func (c *Client) Send(v any) error {
	msg, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return boarderrors.New(boarderrors.CodeTransportClosed, "send buffer full")
	}
}

// Trigger queues a workflow trigger request for a task.
func (c *Client) Trigger(req TriggerRequest) error {
	return c.Send(map[string]any{
		"type": "trigger_request",
		"data": req,
	})
}

// serve runs the read and write pumps for one connection and returns
// when either fails or ctx is cancelled.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.readPump(conn)
	})
	g.Go(func() error {
		return c.writePump(gctx, conn)
	})
	g.Go(func() error {
		// Unblock the read pump when the other pump or ctx ends.
		<-gctx.Done()
		return conn.Close()
	})
	return g.Wait()
}

func (c *Client) readPump(conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			// Returning an error (even a normal close) cancels the
			// group so the write pump and serve unwind together.
			return fmt.Errorf("websocket read: %w", err)
		}
		c.handler.HandleRaw(message)
	}
}

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return ctx.Err()
		case message := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return fmt.Errorf("websocket write: %w", err)
			}

			// Drain any queued messages as separate frames.
			n := len(c.send)
			for i := 0; i < n; i++ {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return fmt.Errorf("websocket write: %w", err)
				}
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("websocket ping: %w", err)
			}
		}
	}
}
