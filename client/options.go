package client

import (
	"log/slog"
	"time"
)

// Option configures a Client.
type Option func(*Client)

// WithToken sets the API key sent in the auth handshake.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithFormat selects the frame codec negotiated during the handshake:
// "json" (default) or "msgpack". Unknown names fall back to JSON.
func WithFormat(format string) Option {
	return func(c *Client) { c.format = format }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithReconnect redials up to maxRetries times after the connection
// drops, doubling the delay from baseDelay, and restores subscriptions.
func WithReconnect(maxRetries int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.reconnect = true
		c.maxRetries = maxRetries
		c.baseDelay = baseDelay
	}
}

// WithCreditBatch sets how many stream events are consumed before the
// client grants the server that many new credits. Values below 1 are
// ignored.
func WithCreditBatch(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.creditBatch = int64(n)
		}
	}
}

// WithHandshakeTimeout bounds how long the auth handshake may take when
// the dial context carries no earlier deadline.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.handshakeTimeout = d
		}
	}
}
