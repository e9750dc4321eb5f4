// Package client provides a Go client for managing a remote workhorse
// engine over the wire protocol (package dwp) on a WebSocket.
//
// Usage:
//
//	c, err := client.Dial("wss://workhorse.example.com/dwp",
//	    client.WithToken("wh_..."),
//	)
//	defer c.Close()
//
//	// Queue an execution.
//	e, err := c.CreateExecution(ctx, "send-report", params, client.WithPriority())
//
//	// Watch it run.
//	ch, err := c.WatchExecution(ctx, e.ID.String())
//	for evt := range ch {
//	    fmt.Println(evt.Type)
//	}
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/coodoo-workhorse/workhorse-sub001/dwp"
	"github.com/coodoo-workhorse/workhorse-sub001/stream"
)

// ErrClosed is returned by requests on a closed client.
var ErrClosed = errors.New("workhorse/client: client closed")

// Error is an error frame returned by the server.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("workhorse/client: server error %d: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is a server "not found" error.
func IsNotFound(err error) bool { return hasCode(err, dwp.ErrCodeNotFound) }

// IsConflict reports whether err is a server conflict error.
func IsConflict(err error) bool { return hasCode(err, dwp.ErrCodeConflict) }

func hasCode(err error, code int) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// Defaults for the tunables in options.go.
const (
	defaultCreditBatch      = 100
	defaultHandshakeTimeout = 10 * time.Second
)

// Client is a protocol client that manages a remote workhorse engine.
type Client struct {
	url    string
	token  string
	format string
	codec  dwp.Codec
	logger *slog.Logger

	// creditBatch is how many events the client consumes before granting
	// the server the same number of new credits.
	creditBatch      int64
	handshakeTimeout time.Duration

	// Reconnection.
	reconnect  bool
	maxRetries int
	baseDelay  time.Duration

	// Connection state.
	connMu    sync.RWMutex
	conn      net.Conn
	writeMu   sync.Mutex
	closed    atomic.Bool
	sessionID atomic.Value // string

	// Request-response correlation.
	pending sync.Map // frameID → chan *dwp.Frame

	// Subscriptions.
	subsMu sync.Mutex
	subs   map[string]chan *stream.Event

	received atomic.Int64
}

// Dial connects to a server and authenticates.
func Dial(url string, opts ...Option) (*Client, error) {
	return DialContext(context.Background(), url, opts...)
}

// DialContext connects to a server with a context.
func DialContext(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c := &Client{
		url:        url,
		format:     dwp.CodecNameJSON,
		logger:     slog.Default(),
		maxRetries: 5,
		baseDelay:  time.Second,
		subs:       make(map[string]chan *stream.Event),

		creditBatch:      defaultCreditBatch,
		handshakeTimeout: defaultHandshakeTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.codec = dwp.GetCodec(c.format)
	c.sessionID.Store("")

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("workhorse/client: dial: %w", err)
	}
	go c.readLoop(conn)

	return c, nil
}

// connect establishes the WebSocket connection and runs the auth
// handshake. The auth frame is always JSON; the response arrives in the
// negotiated codec.
func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	conn, _, _, err := ws.Dial(ctx, c.url)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	authFrame, err := dwp.NewRequestFrame(dwp.MethodAuth, dwp.AuthRequest{
		Token:  c.token,
		Format: c.format,
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("marshal auth request: %w", err)
	}
	authData, err := json.Marshal(authFrame)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("marshal auth frame: %w", err)
	}
	if err := wsutil.WriteClientText(conn, authData); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("write auth frame: %w", err)
	}

	deadline := time.Now().Add(c.handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	data, op, err := wsutil.ReadServerData(conn)
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read auth response: %w", err)
	}

	// A rejected handshake is answered in JSON regardless of the
	// requested codec.
	codec := c.codec
	if op == ws.OpText {
		codec = &dwp.JSONCodec{}
	}
	resp, err := codec.Decode(data)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("decode auth response: %w", err)
	}
	if resp.Type == dwp.FrameErr {
		_ = conn.Close()
		return nil, fmt.Errorf("auth failed: %w", frameError(resp))
	}

	var authResp dwp.AuthResponse
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &authResp); err != nil {
			c.logger.Warn("failed to unmarshal auth response", slog.String("error", err.Error()))
		}
	}
	c.sessionID.Store(authResp.SessionID)

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.logger.Info("client connected",
		slog.String("session_id", authResp.SessionID),
		slog.String("format", authResp.Format),
	)
	return conn, nil
}

// readLoop reads frames from conn and dispatches them until the
// connection fails.
func (c *Client) readLoop(conn net.Conn) {
	for {
		data, _, err := wsutil.ReadServerData(conn)
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.Warn("client read error", slog.String("error", err.Error()))
			if c.reconnect {
				c.tryReconnect()
			}
			return
		}

		frame, err := c.codec.Decode(data)
		if err != nil {
			c.logger.Warn("client: invalid frame", slog.String("error", err.Error()))
			continue
		}

		switch frame.Type {
		case dwp.FrameResponse, dwp.FrameErr, dwp.FramePong:
			if val, ok := c.pending.Load(frame.CorrelID); ok {
				ch := val.(chan *dwp.Frame) //nolint:errcheck // pending map always stores chan *dwp.Frame
				select {
				case ch <- frame:
				default:
				}
			}
		case dwp.FrameEvent:
			c.dispatchEvent(frame)
		}
	}
}

// dispatchEvent delivers an event to every local subscription whose
// topic it matches.
func (c *Client) dispatchEvent(frame *dwp.Frame) {
	var evt stream.Event
	if err := json.Unmarshal(frame.Data, &evt); err != nil {
		c.logger.Warn("client: invalid event", slog.String("error", err.Error()))
		return
	}

	c.subsMu.Lock()
	for topic, ch := range c.subs {
		if !evt.Matches(topic) {
			continue
		}
		select {
		case ch <- &evt:
		default:
			// Drop if subscriber is slow.
		}
	}
	c.subsMu.Unlock()

	if c.received.Add(1)%c.creditBatch == 0 {
		go c.grantCredits(int(c.creditBatch))
	}
}

func (c *Client) grantCredits(n int) {
	f := &dwp.Frame{
		ID:        dwp.GenerateFrameID(),
		Type:      dwp.FrameRequest,
		Credits:   n,
		Timestamp: time.Now().UTC(),
	}
	if err := c.writeFrame(f); err != nil {
		c.logger.Warn("client: grant credits", slog.String("error", err.Error()))
	}
}

// tryReconnect attempts to reconnect with exponential backoff and
// restores the subscriptions held before the connection dropped.
func (c *Client) tryReconnect() {
	delay := c.baseDelay
	for i := range c.maxRetries {
		c.logger.Info("client reconnecting",
			slog.Int("attempt", i+1),
			slog.Duration("delay", delay),
		)
		time.Sleep(delay)
		if c.closed.Load() {
			return
		}

		conn, err := c.connect(context.Background())
		if err != nil {
			c.logger.Warn("client reconnect failed", slog.String("error", err.Error()))
			delay = min(delay*2, 30*time.Second)
			continue
		}

		c.logger.Info("client reconnected")
		go c.readLoop(conn)
		c.resubscribe()
		return
	}
	c.logger.Error("client: max reconnection attempts reached")
}

func (c *Client) resubscribe() {
	c.subsMu.Lock()
	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	c.subsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, topic := range topics {
		if _, err := c.request(ctx, dwp.MethodSubscribe, dwp.SubscribeRequest{Channel: topic}); err != nil {
			c.logger.Warn("client: resubscribe failed",
				slog.String("channel", topic),
				slog.String("error", err.Error()),
			)
		}
	}
}

// request sends a request frame and waits for the correlated response.
func (c *Client) request(ctx context.Context, method string, data any) (*dwp.Frame, error) {
	frame, err := dwp.NewRequestFrame(method, data)
	if err != nil {
		return nil, fmt.Errorf("marshal request data: %w", err)
	}
	return c.roundTrip(ctx, frame)
}

func (c *Client) roundTrip(ctx context.Context, frame *dwp.Frame) (*dwp.Frame, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	respCh := make(chan *dwp.Frame, 1)
	c.pending.Store(frame.ID, respCh)
	defer c.pending.Delete(frame.ID)

	if err := c.writeFrame(frame); err != nil {
		return nil, err
	}

	select {
	case resp := <-respCh:
		if resp.Type == dwp.FrameErr {
			return nil, frameError(resp)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// call sends a request and decodes the response payload into out.
func (c *Client) call(ctx context.Context, method string, data, out any) error {
	resp, err := c.request(ctx, method, data)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("unmarshal %s response: %w", method, err)
	}
	return nil
}

func frameError(f *dwp.Frame) error {
	if f.Error == nil {
		return &Error{Code: dwp.ErrCodeInternal, Message: "unknown error"}
	}
	return &Error{Code: f.Error.Code, Message: f.Error.Message}
}

// writeFrame encodes and sends a frame with the negotiated codec.
func (c *Client) writeFrame(frame *dwp.Frame) error {
	data, err := c.codec.Encode(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	op := ws.OpText
	if c.codec.Binary() {
		op = ws.OpBinary
	}

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteClientMessage(conn, op, data)
}

// Ping sends a ping frame and waits for the pong.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.roundTrip(ctx, &dwp.Frame{
		ID:        dwp.GenerateFrameID(),
		Type:      dwp.FramePing,
		Timestamp: time.Now().UTC(),
	})
	return err
}

// SessionID returns the session ID assigned by the server.
func (c *Client) SessionID() string {
	s, _ := c.sessionID.Load().(string)
	return s
}

// Close closes the client connection.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil // already closed
	}

	// Close all subscription channels.
	c.subsMu.Lock()
	for topic, ch := range c.subs {
		close(ch)
		delete(c.subs, topic)
	}
	c.subsMu.Unlock()

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
