package rt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/propagentic/dispatch/engine"
	"github.com/propagentic/dispatch/feed"
)

// Server accepts WebSocket connections and speaks the frame protocol.
// It implements http.Handler so it can be mounted on any mux.
type Server struct {
	eng     *engine.Engine
	handler *Handler
	auth    Authenticator
	conns   *ConnectionManager
	logger  *slog.Logger
	connSeq atomic.Uint64
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAuthenticator sets the connection authenticator. Defaults to
// NoopAuthenticator.
func WithAuthenticator(a Authenticator) ServerOption {
	return func(s *Server) { s.auth = a }
}

// WithServerLogger sets the server logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a protocol server on top of an engine.
func NewServer(eng *engine.Engine, opts ...ServerOption) *Server {
	s := &Server{
		eng:    eng,
		auth:   &NoopAuthenticator{},
		conns:  NewConnectionManager(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = NewHandler(eng, s.logger)
	return s
}

// Connections returns the number of active connections.
func (s *Server) Connections() int { return s.conns.Count() }

// ServeHTTP upgrades the request to a WebSocket and serves the frame
// protocol until the peer disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	go s.serveConn(netConn)
}

// serveConn owns a single connection: auth handshake, frame loop, and
// event forwarding.
func (s *Server) serveConn(netConn net.Conn) {
	defer netConn.Close() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := s.handshake(ctx, netConn)
	if err != nil {
		s.logger.Debug("handshake failed", "error", err, "remote", netConn.RemoteAddr())
		return
	}

	s.conns.Add(conn)
	sub := s.eng.Broker().Subscribe(conn.ID)
	defer func() {
		s.eng.RemoveSubscriber(conn.ID)
		s.conns.Remove(conn.ID)
	}()

	var writeMu sync.Mutex
	go s.forwardEvents(ctx, netConn, conn, &writeMu, sub)

	s.frameLoop(ctx, netConn, conn, &writeMu, sub)
}

// handshake reads the first frame, which must be a JSON auth request,
// and negotiates the wire codec for the rest of the session.
func (s *Server) handshake(ctx context.Context, netConn net.Conn) (*Connection, error) {
	data, err := wsutil.ReadClientText(netConn)
	if err != nil {
		return nil, fmt.Errorf("read auth frame: %w", err)
	}

	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decode auth frame: %w", err)
	}
	if frame.Method != MethodAuth {
		s.writeJSON(netConn, NewErrorFrame(frame.ID, ErrCodeUnauthorized, "first frame must be auth"))
		return nil, errors.New("first frame was " + frame.Method)
	}

	var req AuthRequest
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			return nil, fmt.Errorf("decode auth request: %w", err)
		}
	}
	if req.Token == "" {
		req.Token = frame.Token
	}

	identity, err := s.auth.Authenticate(ctx, req.Token)
	if err != nil {
		s.writeJSON(netConn, NewErrorFrame(frame.ID, ErrCodeUnauthorized, "authentication failed"))
		return nil, err
	}

	codec := GetCodec(req.Format)
	connID := fmt.Sprintf("conn-%d", s.connSeq.Add(1))
	conn := NewConnection(connID, identity, codec)

	resp, err := NewResponseFrame(frame.ID, AuthResponse{
		Format:    codec.Name(),
		SessionID: connID,
	})
	if err != nil {
		return nil, err
	}
	if err := s.writeJSON(netConn, resp); err != nil {
		return nil, err
	}

	s.logger.Info("connection authenticated",
		"conn_id", connID,
		"subject", identity.Subject,
		"format", codec.Name(),
	)
	return conn, nil
}

// frameLoop reads and serves frames until the peer disconnects.
func (s *Server) frameLoop(ctx context.Context, netConn net.Conn, conn *Connection, writeMu *sync.Mutex, sub *feed.Subscriber) {
	for {
		data, op, err := wsutil.ReadClientData(netConn)
		if err != nil {
			if !isClosedErr(err) {
				s.logger.Debug("read frame", "conn_id", conn.ID, "error", err)
			}
			return
		}
		if op != ws.OpText && op != ws.OpBinary {
			continue
		}

		conn.Touch()

		frame, err := conn.Codec.Decode(data)
		if err != nil {
			s.write(netConn, conn, writeMu, NewErrorFrame("", ErrCodeBadRequest, "malformed frame: "+err.Error()))
			continue
		}

		if frame.Credits > 0 {
			sub.AddCredits(int64(frame.Credits))
		}

		switch frame.Type {
		case FramePing:
			s.write(netConn, conn, writeMu, &Frame{
				ID:       GenerateFrameID(),
				Type:     FramePong,
				CorrelID: frame.ID,
			})
			continue
		case FrameRequest:
			// Handled below.
		default:
			continue
		}

		if scope := RequiredScope(frame.Method); scope != "" && !conn.Identity.HasScope(scope) {
			s.write(netConn, conn, writeMu, NewErrorFrame(frame.ID, ErrCodeForbidden, "missing scope: "+scope))
			continue
		}

		resp := s.handler.Handle(ctx, frame, conn)
		s.write(netConn, conn, writeMu, resp)

		// Subscription side effects happen after the response is on the
		// wire so the client never sees an event for a channel it has
		// not been confirmed on.
		if resp.Type == FrameResponse {
			switch frame.Method {
			case MethodSubscribe:
				var req SubscribeRequest
				if json.Unmarshal(frame.Data, &req) == nil {
					s.eng.Broker().SubscribeTo(conn.ID, req.Channel)
					conn.AddSubscription(req.Channel)
				}
			case MethodUnsubscribe:
				var req UnsubscribeRequest
				if json.Unmarshal(frame.Data, &req) == nil {
					s.eng.Broker().Unsubscribe(conn.ID, req.Channel)
					conn.RemoveSubscription(req.Channel)
				}
			}
		}
	}
}

// forwardEvents pushes feed events to the peer as event frames.
func (s *Server) forwardEvents(ctx context.Context, netConn net.Conn, conn *Connection, writeMu *sync.Mutex, sub *feed.Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			frame, err := NewEventFrame(evt.Topic, evt)
			if err != nil {
				s.logger.Warn("encode event", "conn_id", conn.ID, "error", err)
				continue
			}
			if err := s.write(netConn, conn, writeMu, frame); err != nil {
				return
			}
		}
	}
}

// write encodes a frame with the connection's codec and writes it with
// the matching opcode. Writes are serialized per connection.
func (s *Server) write(netConn net.Conn, conn *Connection, writeMu *sync.Mutex, frame *Frame) error {
	data, err := conn.Codec.Encode(frame)
	if err != nil {
		return err
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	if conn.Codec.Name() == CodecNameMsgpack {
		return wsutil.WriteServerBinary(netConn, data)
	}
	return wsutil.WriteServerText(netConn, data)
}

// writeJSON writes a frame as JSON text, used during the handshake
// before a codec is negotiated.
func (s *Server) writeJSON(netConn net.Conn, frame *Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return wsutil.WriteServerText(netConn, data)
}

func isClosedErr(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var closed wsutil.ClosedError
	return errors.As(err, &closed)
}
