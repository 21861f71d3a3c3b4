package parabox

import (
	"io"
	"log/slog"
	"net/http"

	natsgo "github.com/nats-io/nats.go"

	"github.com/wagiedev/parabox-connector-go/internal/config"
	"github.com/wagiedev/parabox-connector-go/internal/transport/nats"
	"github.com/wagiedev/parabox-connector-go/internal/transport/pipe"
	"github.com/wagiedev/parabox-connector-go/internal/transport/stdio"
	"github.com/wagiedev/parabox-connector-go/internal/transport/subprocess"
	"github.com/wagiedev/parabox-connector-go/internal/transport/ws"
)

// Transport defines the interface for moving envelopes between endpoints.
// Implement this to provide custom transports for testing, mocking,
// or alternative communication methods.
//
// Custom transports are injected via WithTransport.
type Transport = config.Transport

// Link is the reply handle of one remote peer connection.
type Link = config.Link

// Frame is one unit read from a Transport.
type Frame = config.Frame

// SubprocessConfig configures NewSubprocessTransport.
type SubprocessConfig = subprocess.Config

// NewPipe returns two in-memory transports connected to each other.
func NewPipe() (*pipe.Transport, *pipe.Transport) {
	return pipe.New(pipe.DefaultBuffer)
}

// NewStdioTransport speaks newline-delimited envelopes over r and w.
func NewStdioTransport(log *slog.Logger, r io.Reader, w io.Writer) *stdio.Transport {
	return stdio.New(orNop(log), "stdio", r, w)
}

// NewSubprocessTransport starts a core binary and speaks to it over its
// standard streams.
func NewSubprocessTransport(log *slog.Logger, cfg SubprocessConfig) *subprocess.Transport {
	return subprocess.New(orNop(log), cfg)
}

// NewWebsocketServer accepts peer connections on addr at path.
// An empty addr only serves through the returned server's Handler.
func NewWebsocketServer(log *slog.Logger, addr, path string) *ws.Server {
	return ws.NewServer(orNop(log), addr, path)
}

// NewWebsocketClient dials a websocket server at url.
func NewWebsocketClient(log *slog.Logger, url string, header http.Header) *ws.Client {
	return ws.NewClient(orNop(log), url, header)
}

// NewNATSTransport connects to a NATS server and listens on the subject of
// self under prefix.
func NewNATSTransport(log *slog.Logger, url, prefix string, self Role) *nats.Transport {
	return nats.New(orNop(log), url, prefix, self)
}

// NewNATSTransportFromConn shares an existing NATS connection.
func NewNATSTransportFromConn(log *slog.Logger, nc *natsgo.Conn, prefix string, self Role) *nats.Transport {
	return nats.NewFromConn(orNop(log), nc, prefix, self)
}

// CoreLink returns the link a controller-side transport uses to reach the
// core, or nil when the transport cannot name one before the core speaks.
func CoreLink(t Transport) Link {
	switch v := t.(type) {
	case interface{ LinkTo(Role) config.Link }:
		return v.LinkTo(RoleCore)
	case interface{ Link() config.Link }:
		return v.Link()
	default:
		return nil
	}
}

func orNop(log *slog.Logger) *slog.Logger {
	if log == nil {
		return NopLogger()
	}

	return log
}
