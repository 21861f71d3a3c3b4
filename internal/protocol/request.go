package protocol

import (
	"context"

	"github.com/wagiedev/parabox-connector-go/internal/envelope"
)

// Handler processes an inbound command or request. It answers through the
// Inbound, either before returning or later from another goroutine.
type Handler func(ctx context.Context, in *Inbound)

// NotificationHandler processes an inbound notification. It runs on the read
// loop and must not block.
type NotificationHandler func(ctx context.Context, env *envelope.Envelope)

// Inbound is a command or request awaiting its single acknowledgement.
type Inbound struct {
	// Envelope is the decoded call.
	Envelope *envelope.Envelope

	d *Dispatcher
}

// Key returns the correlation key of the call.
func (in *Inbound) Key() string {
	return in.Envelope.Key
}

// TypeCode returns the type code of the call.
func (in *Inbound) TypeCode() envelope.TypeCode {
	return in.Envelope.TypeCode
}

// Sender returns the role that issued the call.
func (in *Inbound) Sender() envelope.Role {
	return in.Envelope.Sender
}

// Payload returns the decoded payload of the call.
func (in *Inbound) Payload() envelope.Payload {
	return in.Envelope.Payload
}

// Succeed acknowledges the call with payload.
func (in *Inbound) Succeed(payload envelope.Payload) error {
	return in.Respond(envelope.Succeed(in.Envelope.TypeCode, payload))
}

// Fail acknowledges the call with code.
func (in *Inbound) Fail(code envelope.ErrorCode) error {
	return in.Respond(envelope.Failed(in.Envelope.TypeCode, code))
}

// Respond acknowledges the call with result. Only the first answer counts;
// later ones return errors.ErrAlreadyResponded.
func (in *Inbound) Respond(result envelope.Result) error {
	return in.d.Respond(in.Envelope.Key, result)
}

// Responded reports whether the call has been answered.
func (in *Inbound) Responded() bool {
	return !in.d.inbound.Pending(in.Envelope.Key)
}
