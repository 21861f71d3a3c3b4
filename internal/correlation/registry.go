// Package correlation tracks calls awaiting an acknowledgement.
//
// Every pending call owns a one-slot result channel. A slot is claimed by
// deleting its entry under the registry mutex; only the claimant may write
// the result, so each call is fulfilled exactly once no matter how the
// acknowledgement, the timer, a disconnect and a cancellation race.
package correlation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wagiedev/parabox-connector-go/internal/envelope"
	perrors "github.com/wagiedev/parabox-connector-go/internal/errors"
)

// Call is a pending command or request.
type Call struct {
	Key      string
	TypeCode envelope.TypeCode
	Peer     envelope.Role
	Started  time.Time

	// Sent is the call's envelope timestamp in Unix milliseconds. Local
	// failures carry it so they identify the call like an ack does.
	Sent int64

	result chan envelope.Result
}

func (c *Call) fail(code envelope.ErrorCode) envelope.Fail {
	return envelope.Fail{TypeCode: c.TypeCode, Timestamp: c.Sent, ErrorCode: code}
}

// Registry maps correlation keys to pending calls.
type Registry struct {
	log *slog.Logger

	mu      sync.Mutex
	pending map[string]*Call
}

// New creates an empty registry.
func New(log *slog.Logger) *Registry {
	return &Registry{
		log:     log.With("component", "correlation"),
		pending: make(map[string]*Call, 16),
	}
}

// Register adds a pending call under key, sent now.
func (r *Registry) Register(key string, typeCode envelope.TypeCode, peer envelope.Role) (*Call, error) {
	return r.RegisterSent(key, typeCode, peer, envelope.NowMillis())
}

// RegisterSent adds a pending call under key whose envelope was stamped sent.
func (r *Registry) RegisterSent(key string, typeCode envelope.TypeCode, peer envelope.Role, sent int64) (*Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pending[key]; exists {
		return nil, fmt.Errorf("%w: %s", perrors.ErrDuplicateKey, key)
	}

	call := &Call{
		Key:      key,
		TypeCode: typeCode,
		Peer:     peer,
		Started:  time.Now(),
		Sent:     sent,
		result:   make(chan envelope.Result, 1),
	}

	r.pending[key] = call

	return call, nil
}

// Fulfill delivers result to the call registered under key. It returns false
// when no call is waiting, for example because it already timed out.
func (r *Registry) Fulfill(key string, result envelope.Result) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, exists := r.pending[key]
	if !exists {
		return false
	}

	delete(r.pending, key)
	call.result <- result

	return true
}

// Release removes a pending call without delivering a result.
func (r *Registry) Release(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pending[key]; !exists {
		return false
	}

	delete(r.pending, key)

	return true
}

// claim removes call if it is still pending and reports whether it did.
func (r *Registry) claim(call *Call) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending[call.Key] != call {
		return false
	}

	delete(r.pending, call.Key)

	return true
}

// Await blocks until call is fulfilled, timeout elapses or ctx is done.
// A non-positive timeout waits without a deadline.
//
// On timer expiry the slot is claimed and Fail{TIMEOUT} returned; a later
// Fulfill is a no-op. If the acknowledgement claimed the slot first its result
// is returned even when the timer fired in the meantime.
func (r *Registry) Await(ctx context.Context, call *Call, timeout time.Duration) (envelope.Result, error) {
	var expired <-chan time.Time

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		expired = timer.C
	}

	select {
	case res := <-call.result:
		return res, nil

	case <-expired:
		if r.claim(call) {
			r.log.Debug("Call timed out", "key", call.Key, "type_code", call.TypeCode, "timeout", timeout)

			return call.fail(envelope.CodeTimeout), nil
		}

		return <-call.result, nil

	case <-ctx.Done():
		if r.claim(call) {
			return nil, ctx.Err()
		}

		return <-call.result, nil
	}
}

// FailPeer resolves every call pending toward peer with code and returns how
// many calls were resolved.
func (r *Registry) FailPeer(peer envelope.Role, code envelope.ErrorCode) int {
	return r.failWhere(code, func(c *Call) bool { return c.Peer == peer })
}

// FailAll resolves every pending call with code.
func (r *Registry) FailAll(code envelope.ErrorCode) int {
	return r.failWhere(code, func(*Call) bool { return true })
}

func (r *Registry) failWhere(code envelope.ErrorCode, match func(*Call) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0

	for key, call := range r.pending {
		if !match(call) {
			continue
		}

		delete(r.pending, key)
		call.result <- call.fail(code)
		n++
	}

	if n > 0 {
		r.log.Debug("Flushed pending calls", "count", n, "code", code)
	}

	return n
}

// Len returns the number of pending calls.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.pending)
}

// Pending reports whether key is still awaiting a result.
func (r *Registry) Pending(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.pending[key]

	return exists
}
