// Package channel keeps the reply handles of remote peers and delivers
// envelopes to them.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/wagiedev/parabox-connector-go/internal/config"
	"github.com/wagiedev/parabox-connector-go/internal/envelope"
	perrors "github.com/wagiedev/parabox-connector-go/internal/errors"
)

// Endpoint holds one link per remote role. A core may know its controller and
// the main host at the same time.
type Endpoint struct {
	log  *slog.Logger
	self envelope.Role

	mu    sync.RWMutex
	links map[envelope.Role]config.Link

	hooksMu      sync.RWMutex
	onIdentified func(envelope.Role)
	onLost       func(envelope.Role)
}

// New creates an endpoint sending as self.
func New(log *slog.Logger, self envelope.Role) *Endpoint {
	return &Endpoint{
		log:   log.With("component", "channel", "self", self.String()),
		self:  self,
		links: make(map[envelope.Role]config.Link, 2),
	}
}

// Self returns the role this endpoint sends as.
func (e *Endpoint) Self() envelope.Role {
	return e.self
}

// OnIdentified sets the callback invoked when a role gets a new link.
func (e *Endpoint) OnIdentified(fn func(envelope.Role)) {
	e.hooksMu.Lock()
	defer e.hooksMu.Unlock()

	e.onIdentified = fn
}

// OnLost sets the callback invoked when a role loses its link.
func (e *Endpoint) OnLost(fn func(envelope.Role)) {
	e.hooksMu.Lock()
	defer e.hooksMu.Unlock()

	e.onLost = fn
}

// Identify stores link as the reply handle of role. The identified callback
// runs only when the link is new for that role.
func (e *Endpoint) Identify(role envelope.Role, link config.Link) {
	e.mu.Lock()
	prev, known := e.links[role]
	e.links[role] = link
	e.mu.Unlock()

	if known && prev == link {
		return
	}

	e.log.Debug("Peer identified", "peer", role.String(), "link", link.ID())

	e.hooksMu.RLock()
	fn := e.onIdentified
	e.hooksMu.RUnlock()

	if fn != nil {
		fn(role)
	}
}

// Lose forgets the link of role and runs the lost callback. It reports
// whether role was known.
func (e *Endpoint) Lose(role envelope.Role) bool {
	e.mu.Lock()
	_, known := e.links[role]
	delete(e.links, role)
	e.mu.Unlock()

	if !known {
		return false
	}

	e.notifyLost(role)

	return true
}

// LoseLink forgets every role bound to link and returns them.
func (e *Endpoint) LoseLink(link config.Link) []envelope.Role {
	e.mu.Lock()

	var lost []envelope.Role

	for role, l := range e.links {
		if l == link {
			delete(e.links, role)
			lost = append(lost, role)
		}
	}

	e.mu.Unlock()

	slices.Sort(lost)

	for _, role := range lost {
		e.notifyLost(role)
	}

	return lost
}

// loseIf forgets role only while it is still bound to link.
func (e *Endpoint) loseIf(role envelope.Role, link config.Link) {
	e.mu.Lock()
	current, known := e.links[role]
	matched := known && current == link

	if matched {
		delete(e.links, role)
	}

	e.mu.Unlock()

	if matched {
		e.notifyLost(role)
	}
}

func (e *Endpoint) notifyLost(role envelope.Role) {
	e.log.Debug("Peer lost", "peer", role.String())

	e.hooksMu.RLock()
	fn := e.onLost
	e.hooksMu.RUnlock()

	if fn != nil {
		fn(role)
	}
}

// Link returns the link of role.
func (e *Endpoint) Link(role envelope.Role) (config.Link, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	link, ok := e.links[role]

	return link, ok
}

// Known returns the roles with a live link, sorted.
func (e *Endpoint) Known() []envelope.Role {
	e.mu.RLock()
	roles := make([]envelope.Role, 0, len(e.links))

	for role := range e.links {
		roles = append(roles, role)
	}

	e.mu.RUnlock()

	slices.Sort(roles)

	return roles
}

// Send encodes env and writes it to the link of role. A send failure loses
// the peer.
func (e *Endpoint) Send(ctx context.Context, role envelope.Role, env *envelope.Envelope) error {
	link, ok := e.Link(role)
	if !ok {
		return &perrors.ChannelError{Peer: role.String(), Err: perrors.ErrPeerUnknown}
	}

	data, err := envelope.Encode(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	if err := link.Send(ctx, data); err != nil {
		e.log.Warn("Send failed, dropping peer", "peer", role.String(), "error", err)
		e.loseIf(role, link)

		return &perrors.ChannelError{Peer: role.String(), Err: err}
	}

	return nil
}

// Broadcast sends env to every known peer and returns how many deliveries
// succeeded.
func (e *Endpoint) Broadcast(ctx context.Context, env *envelope.Envelope) int {
	delivered := 0

	for _, role := range e.Known() {
		if err := e.Send(ctx, role, env); err != nil {
			continue
		}

		delivered++
	}

	return delivered
}
