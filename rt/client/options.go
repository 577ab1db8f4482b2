package client

import (
	"log/slog"
	"time"

	"github.com/propagentic/dispatch/backoff"
)

// Option configures a Client.
type Option func(*Client)

// WithToken sets the authentication token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithFormat sets the wire format for frame encoding.
// Supported values: "json" (default), "msgpack".
func WithFormat(format string) Option {
	return func(c *Client) { c.format = format }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithTimeout sets the auth handshake timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithReconnect enables automatic reconnection with up to maxRetries
// attempts per disconnect.
func WithReconnect(maxRetries int) Option {
	return func(c *Client) {
		c.reconnect = true
		c.maxRetries = maxRetries
	}
}

// WithBackoff sets the reconnect delay strategy.
func WithBackoff(s backoff.Strategy) Option {
	return func(c *Client) { c.strategy = s }
}
