// Package pipe provides an in-memory connected pair of transports.
//
// A pair is useful for tests and for embedding a core and a controller in the
// same process. Each side sees exactly one link: the other side.
package pipe

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/wagiedev/parabox-connector-go/internal/config"
	"github.com/wagiedev/parabox-connector-go/internal/errors"
)

// DefaultBuffer is the number of frames each side can hold before Send blocks.
const DefaultBuffer = 64

// Transport is one side of a pipe.
type Transport struct {
	name  string
	peer  *Transport
	link  *link
	inbox chan config.Frame

	started   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// Compile-time verification that Transport implements the Transport interface.
var _ config.Transport = (*Transport)(nil)

// New returns two connected transports. Envelopes sent on a link of one side
// are read from the other side.
func New(buffer int) (*Transport, *Transport) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	a := &Transport{name: "a", inbox: make(chan config.Frame, buffer), done: make(chan struct{})}
	b := &Transport{name: "b", inbox: make(chan config.Frame, buffer), done: make(chan struct{})}

	a.peer, b.peer = b, a
	a.link = &link{from: a, to: b}
	b.link = &link{from: b, to: a}

	return a, b
}

// Link returns the link that reaches the other side. Dialing endpoints pass it
// to Dispatcher.Connect.
func (t *Transport) Link() config.Link {
	return t.link
}

// Start marks the transport ready.
func (t *Transport) Start(context.Context) error {
	select {
	case <-t.done:
		return errors.ErrTransportClosed
	default:
	}

	t.started.Store(true)

	return nil
}

// ReadFrames forwards frames sent by the other side. When the other side
// closes, a single Closed frame is emitted for its link. Both channels close
// when this side closes or ctx is cancelled.
func (t *Transport) ReadFrames(ctx context.Context) (<-chan config.Frame, <-chan error) {
	frames := make(chan config.Frame)
	errs := make(chan error, 1)

	go func() {
		defer close(frames)
		defer close(errs)

		peerDone := t.peer.done

		for {
			var frame config.Frame

			select {
			case frame = <-t.inbox:
			case <-peerDone:
				peerDone = nil
				frame = config.Frame{Link: t.link, Closed: true}
			case <-t.done:
				return
			case <-ctx.Done():
				errs <- ctx.Err()

				return
			}

			select {
			case frames <- frame:
			case <-t.done:
				return
			case <-ctx.Done():
				errs <- ctx.Err()

				return
			}
		}
	}()

	return frames, errs
}

// Close closes this side. Safe to call multiple times.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
	})

	return nil
}

type link struct {
	from *Transport
	to   *Transport
}

func (l *link) ID() string {
	return "pipe:" + l.to.name
}

// Send delivers data to the other side. It fails once either side is closed.
func (l *link) Send(ctx context.Context, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)

	select {
	case <-l.from.done:
		return errors.ErrTransportClosed
	case <-l.to.done:
		return &errors.TransportError{Transport: "pipe", Err: errors.ErrTransportClosed}
	default:
	}

	select {
	case l.to.inbox <- config.Frame{Data: buf, Link: l.to.link}:
		return nil
	case <-l.from.done:
		return errors.ErrTransportClosed
	case <-l.to.done:
		return &errors.TransportError{Transport: "pipe", Err: errors.ErrTransportClosed}
	case <-ctx.Done():
		return ctx.Err()
	}
}
