// Package client provides a Go client for a remote dispatch server
// speaking the rt frame protocol over WebSocket.
//
// Usage:
//
//	c, err := client.Dial("wss://api.example.com/rt",
//	    client.WithToken("pk_..."),
//	)
//	defer c.Close()
//
//	// Post a job and watch it.
//	j, err := c.CreateJob(ctx, landlordID, "Leaking kitchen tap")
//	ch, err := c.WatchJob(ctx, j.ID.String())
//	for evt := range ch {
//	    fmt.Printf("%s v%d\n", evt.Type, evt.Version)
//	}
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/propagentic/dispatch/backoff"
	"github.com/propagentic/dispatch/feed"
	"github.com/propagentic/dispatch/rt"
)

// Client talks the frame protocol to a remote dispatch server.
type Client struct {
	url     string
	token   string
	format  string
	logger  *slog.Logger
	timeout time.Duration

	// Reconnection.
	reconnect  bool
	maxRetries int
	strategy   backoff.Strategy

	// Connection state.
	conn      net.Conn
	mu        sync.Mutex
	closed    atomic.Bool
	sessionID string

	// Request-response correlation.
	pending sync.Map // frameID → chan *rt.Frame

	// Subscriptions.
	subs sync.Map // channel → chan *feed.Event
}

// Error is a protocol-level error returned by the server.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("rt error %d: %s", e.Code, e.Message)
}

// Dial connects to a dispatch server and authenticates.
func Dial(url string, opts ...Option) (*Client, error) {
	return DialContext(context.Background(), url, opts...)
}

// DialContext connects to a dispatch server with a context.
func DialContext(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c := &Client{
		url:        url,
		format:     rt.CodecNameJSON,
		logger:     slog.Default(),
		timeout:    10 * time.Second,
		maxRetries: 5,
		strategy:   backoff.DefaultStrategy(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.connect(ctx); err != nil {
		return nil, fmt.Errorf("dispatch/client: dial: %w", err)
	}

	go c.readLoop()

	return c, nil
}

// connect establishes the WebSocket connection and runs the auth
// exchange. The exchange is always JSON; the negotiated format applies
// only to subsequent frames.
func (c *Client) connect(ctx context.Context) error {
	conn, _, _, err := ws.Dial(ctx, c.url)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	authFrame, err := rt.NewRequestFrame(rt.GenerateFrameID(), rt.MethodAuth, rt.AuthRequest{
		Token:  c.token,
		Format: c.format,
	})
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("build auth frame: %w", err)
	}
	if writeErr := c.writeFrame(authFrame); writeErr != nil {
		_ = conn.Close()
		return fmt.Errorf("write auth frame: %w", writeErr)
	}

	// Read the auth response directly; the readLoop has not started yet.
	type readResult struct {
		resp *rt.Frame
		err  error
	}
	resultCh := make(chan readResult, 1)

	go func() {
		data, readErr := wsutil.ReadServerText(conn)
		if readErr != nil {
			resultCh <- readResult{err: fmt.Errorf("read auth response: %w", readErr)}
			return
		}
		var frame rt.Frame
		if unmarshalErr := json.Unmarshal(data, &frame); unmarshalErr != nil {
			resultCh <- readResult{err: fmt.Errorf("unmarshal auth response: %w", unmarshalErr)}
			return
		}
		resultCh <- readResult{resp: &frame}
	}()

	select {
	case result := <-resultCh:
		if result.err != nil {
			_ = conn.Close()
			return result.err
		}
		resp := result.resp
		if resp.Type == rt.FrameErr {
			_ = conn.Close()
			return frameError(resp)
		}
		var authResp rt.AuthResponse
		if len(resp.Data) > 0 {
			if unmarshalErr := json.Unmarshal(resp.Data, &authResp); unmarshalErr != nil {
				c.logger.Warn("failed to unmarshal auth response", slog.String("error", unmarshalErr.Error()))
			}
		}
		c.sessionID = authResp.SessionID
		c.logger.Info("rt client connected",
			slog.String("session_id", c.sessionID),
			slog.String("format", authResp.Format),
		)
		return nil
	case <-ctx.Done():
		_ = conn.Close()
		return ctx.Err()
	case <-time.After(c.timeout):
		_ = conn.Close()
		return fmt.Errorf("auth timeout")
	}
}

// readLoop reads frames from the WebSocket and dispatches them.
func (c *Client) readLoop() {
	for {
		if c.closed.Load() {
			return
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		data, _, err := wsutil.ReadServerData(conn)
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.Warn("rt client read error", slog.String("error", err.Error()))
			if c.reconnect {
				c.tryReconnect()
			}
			return
		}

		var frame rt.Frame
		if unmarshalErr := json.Unmarshal(data, &frame); unmarshalErr != nil {
			c.logger.Warn("rt client: invalid frame", slog.String("error", unmarshalErr.Error()))
			continue
		}

		switch frame.Type {
		case rt.FrameResponse, rt.FrameErr:
			if val, ok := c.pending.Load(frame.CorrelID); ok {
				ch := val.(chan *rt.Frame) //nolint:errcheck // pending map always stores chan *rt.Frame
				select {
				case ch <- &frame:
				default:
				}
			}
		case rt.FrameEvent:
			if val, ok := c.subs.Load(frame.Channel); ok {
				ch := val.(chan *feed.Event) //nolint:errcheck // subs map always stores chan *feed.Event
				var evt feed.Event
				if json.Unmarshal(frame.Data, &evt) == nil {
					select {
					case ch <- &evt:
					default:
						// Drop if subscriber is slow.
					}
				}
			}
		case rt.FramePong:
			// Ignore pong frames.
		}
	}
}

// tryReconnect attempts to reconnect, then restores subscriptions.
func (c *Client) tryReconnect() {
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		delay := c.strategy.Delay(attempt)
		c.logger.Info("rt client reconnecting",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)
		time.Sleep(delay)

		if err := c.connect(context.Background()); err != nil {
			c.logger.Warn("rt client reconnect failed", slog.String("error", err.Error()))
			continue
		}

		go c.readLoop()
		c.resubscribe()
		c.logger.Info("rt client reconnected")
		return
	}
	c.logger.Error("rt client: max reconnection attempts reached")
}

// resubscribe replays subscribe requests for all live channels.
func (c *Client) resubscribe() {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	c.subs.Range(func(key, _ any) bool {
		channel := key.(string) //nolint:errcheck // subs map keys are always channel strings
		if _, err := c.request(ctx, rt.MethodSubscribe, rt.SubscribeRequest{Channel: channel}); err != nil {
			c.logger.Warn("rt client resubscribe failed",
				slog.String("channel", channel),
				slog.String("error", err.Error()),
			)
		}
		return true
	})
}

// request sends a request frame and waits for the correlated response.
func (c *Client) request(ctx context.Context, method string, data any) (*rt.Frame, error) {
	frame, err := rt.NewRequestFrame(rt.GenerateFrameID(), method, data)
	if err != nil {
		return nil, fmt.Errorf("marshal request data: %w", err)
	}

	respCh := make(chan *rt.Frame, 1)
	c.pending.Store(frame.ID, respCh)
	defer c.pending.Delete(frame.ID)

	if err := c.writeFrame(frame); err != nil {
		return nil, err
	}

	select {
	case resp := <-respCh:
		if resp.Type == rt.FrameErr {
			return nil, frameError(resp)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// writeFrame JSON-encodes and sends a frame over the WebSocket.
func (c *Client) writeFrame(frame *rt.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return wsutil.WriteClientText(c.conn, data)
}

func frameError(frame *rt.Frame) error {
	if frame.Error == nil {
		return &Error{Code: rt.ErrCodeInternal, Message: "unknown error"}
	}
	return &Error{Code: frame.Error.Code, Message: frame.Error.Message}
}

// SessionID returns the session ID assigned by the server.
func (c *Client) SessionID() string { return c.sessionID }

// Close closes the client connection.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil // already closed
	}

	c.subs.Range(func(key, val any) bool {
		ch := val.(chan *feed.Event) //nolint:errcheck // subs map always stores chan *feed.Event
		close(ch)
		c.subs.Delete(key)
		return true
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
