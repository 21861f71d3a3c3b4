package ws

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wagiedev/parabox-connector-go/internal/config"
	"github.com/wagiedev/parabox-connector-go/internal/errors"
)

// DefaultPath is the HTTP path upgraded to websocket.
const DefaultPath = "/parabox"

// Server accepts websocket peers.
type Server struct {
	log      *slog.Logger
	addr     string
	path     string
	upgrader websocket.Upgrader
	hub      *hub

	httpServer *http.Server
	listener   net.Listener
}

// Compile-time verification that Server implements the Transport interface.
var _ config.Transport = (*Server)(nil)

// NewServer creates a server that listens on addr when started. With an
// empty addr nothing is listened on and Handler must be mounted by the caller.
func NewServer(log *slog.Logger, addr, path string) *Server {
	if path == "" {
		path = DefaultPath
	}

	log = log.With("component", "ws_server")

	return &Server{
		log:  log,
		addr: addr,
		path: path,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		hub: newHub(log),
	}
}

// Handler returns the HTTP handler serving the websocket path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleUpgrade)

	return mux
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.hub.closed() {
		http.Error(w, "closed", http.StatusServiceUnavailable)

		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Upgrade failed", "remote", r.RemoteAddr, "error", err)

		return
	}

	s.hub.add(&conn{id: "ws:" + r.RemoteAddr, ws: wsConn})
}

// Start listens on the configured address, if any.
func (s *Server) Start(context.Context) error {
	if s.hub.closed() {
		return errors.ErrTransportClosed
	}

	if s.addr == "" {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return &errors.TransportError{Transport: "websocket", Err: fmt.Errorf("listen %s: %w", s.addr, err)}
	}

	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server stopped", "error", err)
		}
	}()

	s.log.Info("Websocket server listening", "addr", ln.Addr().String(), "path", s.path)

	return nil
}

// Addr returns the listening address, or "" when not listening.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// ReadFrames returns frames from every connected peer.
func (s *Server) ReadFrames(ctx context.Context) (<-chan config.Frame, <-chan error) {
	return s.hub.readFrames(ctx)
}

// Close disconnects every peer and stops listening. Safe to call multiple times.
func (s *Server) Close() error {
	s.hub.close()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeGrace)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
	}

	return nil
}
