// Package config provides configuration types shared by Parabox endpoints.
package config

import "context"

// Link is the reply handle of one remote peer connection.
type Link interface {
	// Send writes one encoded envelope to the peer.
	// This method must be safe for concurrent use.
	Send(ctx context.Context, data []byte) error

	// ID names the connection for logs.
	ID() string
}

// Frame is one unit read from a transport: either an encoded envelope and
// the link it arrived on, or a marker that the link is gone.
type Frame struct {
	Data   []byte
	Link   Link
	Closed bool
}

// Transport defines the interface for moving envelopes between endpoints.
// Implement this to provide custom transports for testing, mocking,
// or alternative communication methods.
//
// Implementations in this module: pipe, stdio, subprocess, websocket and nats.
type Transport interface {
	// Start initializes the transport and prepares it for communication.
	// This is called before any frames are sent or received.
	Start(ctx context.Context) error

	// ReadFrames returns channels for receiving frames and errors.
	// The error channel yields fatal read errors.
	// Both channels are closed when reading completes or an error occurs.
	ReadFrames(ctx context.Context) (<-chan Frame, <-chan error)

	// Close terminates the transport and releases resources.
	// It's safe to call Close multiple times.
	Close() error
}
