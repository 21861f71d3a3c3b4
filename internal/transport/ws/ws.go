// Package ws carries envelopes as websocket text messages.
//
// Server accepts any number of peer connections and surfaces each as its own
// link. Client dials one server and exposes the single resulting link.
package ws

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wagiedev/parabox-connector-go/internal/config"
	"github.com/wagiedev/parabox-connector-go/internal/errors"
)

const (
	// inboxSize is the number of frames buffered ahead of the reader.
	inboxSize = 64

	// closeGrace bounds the close handshake write.
	closeGrace = time.Second
)

// conn is one websocket connection and the link to its peer.
type conn struct {
	id   string
	ws   *websocket.Conn
	mu   sync.Mutex // Serializes writes
	once sync.Once
}

func (c *conn) ID() string {
	return c.id
}

// Send writes data as one text message. The context deadline, if any,
// becomes the write deadline.
func (c *conn) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return &errors.TransportError{Transport: "websocket", Err: err}
	}

	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return &errors.TransportError{Transport: "websocket", Err: fmt.Errorf("write %s: %w", c.id, err)}
	}

	return nil
}

// close sends a close frame and closes the socket once.
func (c *conn) close() {
	c.once.Do(func() {
		// WriteControl may run concurrently with WriteMessage.
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeGrace))

		_ = c.ws.Close()
	})
}

// hub fans frames from every connection into one inbox.
type hub struct {
	log   *slog.Logger
	inbox chan config.Frame

	mu    sync.Mutex
	conns map[*conn]struct{}

	closeOnce sync.Once
	done      chan struct{}
}

func newHub(log *slog.Logger) *hub {
	return &hub{
		log:   log,
		inbox: make(chan config.Frame, inboxSize),
		conns: make(map[*conn]struct{}),
		done:  make(chan struct{}),
	}
}

// add registers c and starts reading from it.
func (h *hub) add(c *conn) bool {
	h.mu.Lock()

	select {
	case <-h.done:
		h.mu.Unlock()
		c.close()

		return false
	default:
	}

	h.conns[c] = struct{}{}
	count := len(h.conns)
	h.mu.Unlock()

	h.log.Info("Peer connected", "link", c.id, "active", count)

	go h.read(c)

	return true
}

func (h *hub) read(c *conn) {
	defer func() {
		h.mu.Lock()
		delete(h.conns, c)
		count := len(h.conns)
		h.mu.Unlock()

		c.close()
		h.push(config.Frame{Link: c, Closed: true})

		h.log.Info("Peer disconnected", "link", c.id, "active", count)
	}()

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			h.log.Debug("Read failed", "link", c.id, "error", err)

			return
		}

		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}

		if !h.push(config.Frame{Data: data, Link: c}) {
			return
		}
	}
}

func (h *hub) push(f config.Frame) bool {
	select {
	case h.inbox <- f:
		return true
	case <-h.done:
		return false
	}
}

func (h *hub) readFrames(ctx context.Context) (<-chan config.Frame, <-chan error) {
	frames := make(chan config.Frame)
	errs := make(chan error, 1)

	go func() {
		defer close(frames)
		defer close(errs)

		for {
			select {
			case f := <-h.inbox:
				select {
				case frames <- f:
				case <-h.done:
					return
				case <-ctx.Done():
					errs <- ctx.Err()

					return
				}
			case <-h.done:
				return
			case <-ctx.Done():
				errs <- ctx.Err()

				return
			}
		}
	}()

	return frames, errs
}

func (h *hub) close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		close(h.done)

		conns := make([]*conn, 0, len(h.conns))
		for c := range h.conns {
			conns = append(conns, c)
		}
		h.mu.Unlock()

		for _, c := range conns {
			c.close()
		}
	})
}

func (h *hub) closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
