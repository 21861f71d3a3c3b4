package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/wagiedev/parabox-connector-go/internal/config"
	"github.com/wagiedev/parabox-connector-go/internal/errors"
)

// Client dials a websocket server.
type Client struct {
	log    *slog.Logger
	url    string
	header http.Header
	hub    *hub

	mu   sync.Mutex
	conn *conn
}

// Compile-time verification that Client implements the Transport interface.
var _ config.Transport = (*Client)(nil)

// NewClient creates a client for url, sending header with the handshake.
func NewClient(log *slog.Logger, url string, header http.Header) *Client {
	log = log.With("component", "ws_client")

	return &Client{
		log:    log,
		url:    url,
		header: header,
		hub:    newHub(log),
	}
}

// Start dials the server.
func (c *Client) Start(ctx context.Context) error {
	if c.hub.closed() {
		return errors.ErrTransportClosed
	}

	c.log.Debug("Dialing", "url", c.url)

	wsConn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return &errors.TransportError{Transport: "websocket", Err: fmt.Errorf("dial %s: %w", c.url, err)}
	}

	cn := &conn{id: "ws:" + c.url, ws: wsConn}

	c.mu.Lock()
	c.conn = cn
	c.mu.Unlock()

	if !c.hub.add(cn) {
		return errors.ErrTransportClosed
	}

	return nil
}

// Link returns the link to the server, or nil before Start.
func (c *Client) Link() config.Link {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	return c.conn
}

// ReadFrames returns frames from the server.
func (c *Client) ReadFrames(ctx context.Context) (<-chan config.Frame, <-chan error) {
	return c.hub.readFrames(ctx)
}

// Close closes the connection. Safe to call multiple times.
func (c *Client) Close() error {
	c.hub.close()

	return nil
}
