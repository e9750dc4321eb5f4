package dwp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/coodoo-workhorse/workhorse-sub001/stream"
)

var errNotStreaming = errors.New("dwp: connection does not stream")

// maxRPCBody bounds the size of an HTTP RPC request body.
const maxRPCBody = 1 << 20

// Server is the protocol server. It serves WebSocket, SSE and HTTP RPC
// connections, dispatches request frames to the Handler and forwards
// stream broker events to subscribed connections.
type Server struct {
	broker       *stream.Broker
	handler      *Handler
	auth         Authenticator
	defaultCodec Codec
	conns        *ConnectionManager
	logger       *slog.Logger
	basePath     string
}

// NewServer creates a new server.
func NewServer(broker *stream.Broker, handler *Handler, opts ...Option) *Server {
	s := &Server{
		broker:       broker,
		handler:      handler,
		defaultCodec: &JSONCodec{},
		conns:        NewConnectionManager(),
		logger:       slog.Default(),
		basePath:     "/dwp",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.auth == nil {
		s.auth = &NoopAuthenticator{}
	}
	s.basePath = "/" + strings.Trim(s.basePath, "/")
	handler.conns = s.conns
	return s
}

// Broker returns the underlying stream broker.
func (s *Server) Broker() *stream.Broker { return s.broker }

// Connections returns the connection manager.
func (s *Server) Connections() *ConnectionManager { return s.conns }

// RegisterRoutes mounts the endpoints on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	// Primary: WebSocket
	mux.HandleFunc("GET "+s.basePath, s.handleWebSocket)

	// Fallback: SSE for read-only subscriptions
	mux.HandleFunc("GET "+s.basePath+"/sse", s.handleSSE)

	// One-shot: HTTP RPC
	mux.HandleFunc("POST "+s.basePath+"/rpc", s.handleHTTPRPC)
}

// Handler returns an http.Handler serving only the protocol endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Shutdown closes every open WebSocket connection.
func (s *Server) Shutdown() {
	s.conns.CloseAll()
}

// handleWebSocket upgrades the request and serves one connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	connID := "ws-" + GenerateFrameID()
	if err := s.serveConn(r.Context(), connID, conn); err != nil {
		s.logger.Warn("websocket closed with error",
			slog.String("conn_id", connID),
			slog.String("error", err.Error()),
		)
	}
}

// serveConn runs the auth handshake and then the frame loop of one
// WebSocket connection.
func (s *Server) serveConn(ctx context.Context, connID string, conn net.Conn) error {
	s.logger.Debug("websocket connected", slog.String("conn_id", connID))

	// Auth frames are always JSON (before codec negotiation).
	authData, _, readErr := wsutil.ReadClientData(conn)
	if readErr != nil {
		return fmt.Errorf("dwp: read auth frame: %w", readErr)
	}
	rejectAuth := func(f *Frame) {
		data, _ := json.Marshal(f)
		//nolint:errcheck // best-effort error response before disconnect
		wsutil.WriteServerMessage(conn, ws.OpText, data)
	}

	var authFrame Frame
	if err := json.Unmarshal(authData, &authFrame); err != nil {
		rejectAuth(NewErrorFrame("", ErrCodeBadRequest, "invalid auth frame"))
		return fmt.Errorf("dwp: unmarshal auth frame: %w", err)
	}
	if authFrame.Method != MethodAuth {
		rejectAuth(NewErrorFrame(authFrame.ID, ErrCodeBadRequest, "first frame must be auth"))
		return fmt.Errorf("dwp: expected auth frame, got %q", authFrame.Method)
	}

	var authReq AuthRequest
	if len(authFrame.Data) > 0 {
		if err := json.Unmarshal(authFrame.Data, &authReq); err != nil {
			rejectAuth(NewErrorFrame(authFrame.ID, ErrCodeBadRequest, "invalid auth data"))
			return fmt.Errorf("dwp: unmarshal auth data: %w", err)
		}
	}

	token := authReq.Token
	if token == "" {
		token = authFrame.Token
	}
	identity, authErr := s.auth.Authenticate(ctx, token)
	if authErr != nil {
		rejectAuth(NewErrorFrame(authFrame.ID, ErrCodeUnauthorized, "authentication failed"))
		return fmt.Errorf("dwp: auth failed: %w", authErr)
	}

	codec := s.defaultCodec
	if authReq.Format != "" {
		codec = GetCodec(authReq.Format)
	}

	dwpConn := newSocketConnection(connID, identity, codec, conn)
	s.conns.Add(dwpConn)
	defer func() {
		s.broker.RemoveSubscriber(connID)
		s.conns.Remove(connID)
		s.logger.Debug("websocket disconnected", slog.String("conn_id", connID))
	}()

	// Subscribed with no topics until the client asks for some.
	sub := s.broker.Subscribe(connID)

	// The auth response goes out in the negotiated codec.
	resp, respErr := NewResponseFrame(authFrame.ID, AuthResponse{
		Format:    codec.Name(),
		SessionID: connID,
	})
	if respErr != nil {
		return fmt.Errorf("dwp: marshal auth response: %w", respErr)
	}
	if err := dwpConn.WriteFrame(resp); err != nil {
		return err
	}

	s.logger.Info("client authenticated",
		slog.String("conn_id", connID),
		slog.String("subject", identity.Subject),
		slog.String("codec", codec.Name()),
	)

	go s.forwardEvents(dwpConn, sub)

	for {
		data, _, err := wsutil.ReadClientData(conn)
		if err != nil {
			if isClosed(err) {
				return nil
			}
			return err
		}
		dwpConn.Touch()

		frame, decErr := codec.Decode(data)
		if decErr != nil {
			s.write(dwpConn, NewErrorFrame("", ErrCodeBadRequest, "invalid frame: "+decErr.Error()))
			continue
		}

		if frame.Type == FramePing {
			s.write(dwpConn, &Frame{
				ID:        GenerateFrameID(),
				Type:      FramePong,
				CorrelID:  frame.ID,
				Timestamp: frame.Timestamp,
			})
			continue
		}

		// A bare credits frame replenishes flow control.
		if frame.Method == "" && frame.Credits > 0 {
			sub.AddCredits(int64(frame.Credits))
			continue
		}

		if reqScope := RequiredScope(frame.Method); reqScope != "" && !identity.HasScope(reqScope) {
			s.write(dwpConn, NewErrorFrame(frame.ID, ErrCodeForbidden, "insufficient permissions"))
			continue
		}

		respFrame := s.handler.Handle(ctx, frame, dwpConn)
		if respFrame == nil {
			continue
		}
		if respFrame.Type == FrameResponse {
			s.applySubscription(dwpConn, sub, frame)
		}
		s.write(dwpConn, respFrame)
	}
}

// applySubscription performs the broker side effects of successful
// subscribe and unsubscribe requests.
func (s *Server) applySubscription(conn *Connection, sub *stream.Subscriber, frame *Frame) {
	switch frame.Method {
	case MethodSubscribe:
		var req SubscribeRequest
		if json.Unmarshal(frame.Data, &req) != nil {
			return
		}
		s.broker.SubscribeTo(conn.ID, req.Channel)
		conn.AddSubscription(req.Channel)
		if req.Credits > 0 {
			sub.AddCredits(int64(req.Credits))
		}
	case MethodUnsubscribe:
		var req UnsubscribeRequest
		if json.Unmarshal(frame.Data, &req) != nil {
			return
		}
		s.broker.Unsubscribe(conn.ID, req.Channel)
		conn.RemoveSubscription(req.Channel)
	}
}

// forwardEvents writes broker events to the connection until the
// subscriber is closed or a write fails.
func (s *Server) forwardEvents(conn *Connection, sub *stream.Subscriber) {
	for evt := range sub.C() {
		evtFrame, err := NewEventFrame(evt.Topic, evt)
		if err != nil {
			continue
		}
		if writeErr := conn.WriteFrame(evtFrame); writeErr != nil {
			return // Connection gone.
		}
	}
}

func (s *Server) write(conn *Connection, f *Frame) {
	if err := conn.WriteFrame(f); err != nil {
		s.logger.Warn("failed to write frame",
			slog.String("conn_id", conn.ID),
			slog.String("type", string(f.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// handleSSE serves read-only Server-Sent Events for clients that
// cannot establish WebSocket connections.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearer(r)
	}
	identity, err := s.auth.Authenticate(r.Context(), token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !identity.HasScope(ScopeSubscribe) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	channel := r.URL.Query().Get("channel")
	if err := stream.ValidateTopic(channel); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	connID := "sse-" + GenerateFrameID()
	sub := s.broker.Subscribe(connID, channel)
	defer s.broker.RemoveSubscriber(connID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data); err != nil {
				return
			}
			flusher.Flush()
			// SSE has no credits frame; every delivered event is paid back.
			sub.AddCredits(1)
		case <-r.Context().Done():
			return
		}
	}
}

// handleHTTPRPC handles one-shot HTTP RPC requests.
func (s *Server) handleHTTPRPC(w http.ResponseWriter, r *http.Request) {
	var frame Frame
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRPCBody)).Decode(&frame); err != nil {
		writeJSON(w, http.StatusBadRequest, NewErrorFrame("", ErrCodeBadRequest, "invalid request body"))
		return
	}

	token := frame.Token
	if token == "" {
		token = bearer(r)
	}
	identity, err := s.auth.Authenticate(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, NewErrorFrame(frame.ID, ErrCodeUnauthorized, "unauthorized"))
		return
	}

	if reqScope := RequiredScope(frame.Method); reqScope != "" && !identity.HasScope(reqScope) {
		writeJSON(w, http.StatusForbidden, NewErrorFrame(frame.ID, ErrCodeForbidden, "forbidden"))
		return
	}

	conn := NewConnection("rpc-"+GenerateFrameID(), identity, &JSONCodec{})
	resp := s.handler.Handle(r.Context(), &frame, conn)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	status := http.StatusOK
	if resp.Type == FrameErr && resp.Error != nil {
		status = resp.Error.Code
		if status < 100 || status > 599 {
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // the client may already be gone
	json.NewEncoder(w).Encode(v)
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return token
	}
	return h
}

func isClosed(err error) bool {
	var closed wsutil.ClosedError
	return errors.As(err, &closed) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
