package parabox

import "github.com/wagiedev/parabox-connector-go/internal/errors"

// Re-export error types from internal package

// ParaboxError is the marker interface of all typed errors in this module.
type ParaboxError = errors.ParaboxError

// ChannelError indicates a send to a peer failed.
type ChannelError = errors.ChannelError

// EnvelopeDecodeError indicates an inbound frame was not a valid envelope.
type EnvelopeDecodeError = errors.EnvelopeDecodeError

// CallError is the Go error form of a failed acknowledgement.
type CallError = errors.CallError

// TransportError indicates a transport failed.
type TransportError = errors.TransportError

// CoreNotFoundError indicates the core binary was not found.
type CoreNotFoundError = errors.CoreNotFoundError

// ProcessError indicates the core process exited unexpectedly.
type ProcessError = errors.ProcessError

// Re-export sentinel errors from internal package.
var (
	// ErrPeerUnknown indicates no link is known for the target role.
	ErrPeerUnknown = errors.ErrPeerUnknown

	// ErrTransportClosed indicates the transport has been closed.
	ErrTransportClosed = errors.ErrTransportClosed

	// ErrAlreadyResponded indicates an inbound call was answered twice.
	ErrAlreadyResponded = errors.ErrAlreadyResponded

	// ErrEndpointClosed indicates the endpoint has been closed and cannot be reused.
	ErrEndpointClosed = errors.ErrEndpointClosed

	// ErrEndpointAlreadyStarted indicates Start was called twice.
	ErrEndpointAlreadyStarted = errors.ErrEndpointAlreadyStarted
)
