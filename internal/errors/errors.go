package errors

import (
	"errors"
	"fmt"
)

// ParaboxError is the base interface for all connector errors.
type ParaboxError interface {
	error
	IsParaboxError() bool
}

// Compile-time verification that all error types implement ParaboxError.
var (
	_ ParaboxError = (*ChannelError)(nil)
	_ ParaboxError = (*EnvelopeDecodeError)(nil)
	_ ParaboxError = (*CallError)(nil)
	_ ParaboxError = (*TransportError)(nil)
	_ ParaboxError = (*CoreNotFoundError)(nil)
	_ ParaboxError = (*ProcessError)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrPeerUnknown indicates no reply handle is known for the addressed peer.
	ErrPeerUnknown = errors.New("peer unknown")

	// ErrDispatcherStopped indicates the dispatcher has stopped.
	ErrDispatcherStopped = errors.New("dispatcher stopped")

	// ErrTransportClosed indicates the transport has been closed.
	ErrTransportClosed = errors.New("transport closed")

	// ErrTransportNotStarted indicates the transport has not been started.
	ErrTransportNotStarted = errors.New("transport not started")

	// ErrDuplicateKey indicates a correlation key is already pending.
	ErrDuplicateKey = errors.New("duplicate correlation key")

	// ErrAlreadyResponded indicates an inbound call has already been answered.
	ErrAlreadyResponded = errors.New("call already responded")

	// ErrInvalidState indicates a lifecycle transition is not allowed from the current state.
	ErrInvalidState = errors.New("invalid endpoint state")

	// ErrEndpointClosed indicates the endpoint has been closed and cannot be reused.
	ErrEndpointClosed = errors.New("endpoint closed: endpoints are single-use, create a new one")

	// ErrEndpointAlreadyStarted indicates the endpoint is already running.
	ErrEndpointAlreadyStarted = errors.New("endpoint already started")

	// ErrEndpointNotStarted indicates the endpoint has not been started.
	ErrEndpointNotStarted = errors.New("endpoint not started")

	// ErrUnknownPayload indicates a payload shape is not recognized.
	// Callers should skip these envelopes rather than treating them as fatal.
	ErrUnknownPayload = errors.New("unknown payload")
)

// ChannelError indicates an envelope could not be delivered to a peer.
type ChannelError struct {
	Peer string
	Err  error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel to %s: %v", e.Peer, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// IsParaboxError implements ParaboxError.
func (e *ChannelError) IsParaboxError() bool { return true }

// EnvelopeDecodeError indicates an inbound frame could not be decoded.
// This error preserves the original raw data that failed to parse.
type EnvelopeDecodeError struct {
	RawData string
	Err     error
}

func (e *EnvelopeDecodeError) Error() string {
	return fmt.Sprintf("failed to decode envelope: %v", e.Err)
}

func (e *EnvelopeDecodeError) Unwrap() error {
	return e.Err
}

// IsParaboxError implements ParaboxError.
func (e *EnvelopeDecodeError) IsParaboxError() bool { return true }

// CallError is the Go error form of a failed command or request.
type CallError struct {
	TypeCode int
	Code     int
	Name     string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("call %d failed: %s (%d)", e.TypeCode, e.Name, e.Code)
}

// IsParaboxError implements ParaboxError.
func (e *CallError) IsParaboxError() bool { return true }

// TransportError indicates the underlying transport failed.
type TransportError struct {
	Transport string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport failed: %v", e.Transport, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsParaboxError implements ParaboxError.
func (e *TransportError) IsParaboxError() bool { return true }

// CoreNotFoundError indicates the core binary was not found.
type CoreNotFoundError struct {
	SearchedPaths []string
}

func (e *CoreNotFoundError) Error() string {
	return fmt.Sprintf("core binary not found in: %v", e.SearchedPaths)
}

// IsParaboxError implements ParaboxError.
func (e *CoreNotFoundError) IsParaboxError() bool { return true }

// ProcessError indicates a core child process exited with an error.
type ProcessError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("core process failed (exit %d): %v", e.ExitCode, e.Err)
	}

	return fmt.Sprintf("core process failed (exit %d): %s", e.ExitCode, e.Stderr)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// IsParaboxError implements ParaboxError.
func (e *ProcessError) IsParaboxError() bool { return true }
