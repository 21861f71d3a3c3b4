// Package nats carries envelopes over NATS subjects.
//
// Every endpoint subscribes to "<prefix>.<role>" for its own role. Envelopes
// are published to the peer role's subject with the sender's subject as the
// reply subject, which becomes the link the receiver answers on.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/wagiedev/parabox-connector-go/internal/config"
	"github.com/wagiedev/parabox-connector-go/internal/envelope"
	"github.com/wagiedev/parabox-connector-go/internal/errors"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "parabox"

const inboxSize = 64

// Transport is a NATS transport for one endpoint role.
type Transport struct {
	log    *slog.Logger
	url    string
	prefix string
	self   envelope.Role

	mu      sync.Mutex
	nc      *natsgo.Conn
	ownConn bool
	sub     *natsgo.Subscription
	links   map[string]*link

	inbox     chan config.Frame
	closeOnce sync.Once
	done      chan struct{}
}

// Compile-time verification that Transport implements the Transport interface.
var _ config.Transport = (*Transport)(nil)

// New creates a transport that connects to url when started.
func New(log *slog.Logger, url, prefix string, self envelope.Role) *Transport {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &Transport{
		log:    log.With("component", "nats_transport", "self", self.String()),
		url:    url,
		prefix: prefix,
		self:   self,
		links:  make(map[string]*link),
		inbox:  make(chan config.Frame, inboxSize),
		done:   make(chan struct{}),
	}
}

// NewFromConn creates a transport over an existing connection. The
// connection is not closed by Close and its handlers are left untouched.
func NewFromConn(log *slog.Logger, nc *natsgo.Conn, prefix string, self envelope.Role) *Transport {
	t := New(log, "", prefix, self)
	t.nc = nc

	return t
}

// Subject returns the subject role listens on.
func (t *Transport) Subject(role envelope.Role) string {
	return t.prefix + "." + role.String()
}

// Start connects, if needed, and subscribes to this endpoint's subject.
func (t *Transport) Start(context.Context) error {
	select {
	case <-t.done:
		return errors.ErrTransportClosed
	default:
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.nc == nil {
		nc, err := natsgo.Connect(t.url,
			natsgo.Name("parabox-"+t.self.String()),
			natsgo.Timeout(10*time.Second),
			natsgo.ReconnectWait(2*time.Second),
			natsgo.MaxReconnects(60),
			natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
				t.log.Warn("NATS disconnected", "error", err)
				t.dropLinks()
			}),
			natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
				t.log.Info("NATS reconnected", "url", nc.ConnectedUrl())
			}),
			natsgo.ClosedHandler(func(*natsgo.Conn) {
				t.log.Debug("NATS connection closed")
			}),
		)
		if err != nil {
			return &errors.TransportError{Transport: "nats", Err: fmt.Errorf("connect %s: %w", t.url, err)}
		}

		t.nc = nc
		t.ownConn = true
	}

	sub, err := t.nc.Subscribe(t.Subject(t.self), t.receive)
	if err != nil {
		return &errors.TransportError{Transport: "nats", Err: fmt.Errorf("subscribe: %w", err)}
	}

	// Round-trip so the subscription is active before anyone publishes.
	if err := t.nc.Flush(); err != nil {
		return &errors.TransportError{Transport: "nats", Err: fmt.Errorf("flush: %w", err)}
	}

	t.sub = sub
	t.log.Info("Subscribed", "subject", sub.Subject)

	return nil
}

// receive runs on the subscription's goroutine.
func (t *Transport) receive(msg *natsgo.Msg) {
	if msg.Reply == "" {
		t.log.Debug("Dropping message without reply subject", "subject", msg.Subject)

		return
	}

	select {
	case t.inbox <- config.Frame{Data: msg.Data, Link: t.linkFor(msg.Reply)}:
	case <-t.done:
	}
}

// LinkTo returns the link publishing to role's subject.
func (t *Transport) LinkTo(role envelope.Role) config.Link {
	return t.linkFor(t.Subject(role))
}

// linkFor returns the cached link for subject so the same peer always maps
// to the same link value.
func (t *Transport) linkFor(subject string) *link {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.links[subject]
	if !ok {
		l = &link{t: t, subject: subject}
		t.links[subject] = l
	}

	return l
}

// dropLinks reports every known link as closed.
func (t *Transport) dropLinks() {
	t.mu.Lock()
	links := make([]*link, 0, len(t.links))

	for subject, l := range t.links {
		links = append(links, l)
		delete(t.links, subject)
	}
	t.mu.Unlock()

	for _, l := range links {
		select {
		case t.inbox <- config.Frame{Link: l, Closed: true}:
		case <-t.done:
			return
		}
	}
}

// ReadFrames returns frames published to this endpoint's subject.
func (t *Transport) ReadFrames(ctx context.Context) (<-chan config.Frame, <-chan error) {
	frames := make(chan config.Frame)
	errs := make(chan error, 1)

	go func() {
		defer close(frames)
		defer close(errs)

		for {
			select {
			case f := <-t.inbox:
				select {
				case frames <- f:
				case <-t.done:
					return
				case <-ctx.Done():
					errs <- ctx.Err()

					return
				}
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

// Close unsubscribes and closes the connection if this transport opened it.
// Safe to call multiple times.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)

		t.mu.Lock()
		defer t.mu.Unlock()

		if t.sub != nil {
			_ = t.sub.Unsubscribe()
		}

		if t.ownConn && t.nc != nil {
			t.nc.Close()
		}
	})

	return nil
}

type link struct {
	t       *Transport
	subject string
}

func (l *link) ID() string {
	return "nats:" + l.subject
}

// Send publishes data to the link's subject with this endpoint's subject as
// the reply.
func (l *link) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case <-l.t.done:
		return errors.ErrTransportClosed
	default:
	}

	l.t.mu.Lock()
	nc := l.t.nc
	l.t.mu.Unlock()

	if nc == nil {
		return errors.ErrTransportNotStarted
	}

	msg := &natsgo.Msg{Subject: l.subject, Reply: l.t.Subject(l.t.self), Data: data}
	if err := nc.PublishMsg(msg); err != nil {
		return &errors.TransportError{Transport: "nats", Err: fmt.Errorf("publish %s: %w", l.subject, err)}
	}

	return nil
}
