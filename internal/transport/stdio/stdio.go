// Package stdio carries envelopes as newline-delimited JSON over a reader and
// a writer. A core started as a child process uses it on its own stdin and
// stdout.
package stdio

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/wagiedev/parabox-connector-go/internal/config"
	"github.com/wagiedev/parabox-connector-go/internal/errors"
)

const (
	// maxLineSize is the largest envelope accepted on one line.
	maxLineSize = 1024 * 1024 // 1MB
)

// Transport reads envelopes from r and writes them to w.
type Transport struct {
	log  *slog.Logger
	name string
	r    io.Reader
	link *link

	closeOnce sync.Once
	done      chan struct{}
}

// Compile-time verification that Transport implements the Transport interface.
var _ config.Transport = (*Transport)(nil)

// New creates a transport named name over r and w.
func New(log *slog.Logger, name string, r io.Reader, w io.Writer) *Transport {
	t := &Transport{
		log:  log.With("component", "stdio_transport", "name", name),
		name: name,
		r:    r,
		done: make(chan struct{}),
	}

	t.link = &link{t: t, w: w}

	return t
}

// NewStd creates a transport over the process's stdin and stdout.
func NewStd(log *slog.Logger) *Transport {
	return New(log, "stdio", os.Stdin, os.Stdout)
}

// Link returns the single link of this transport.
func (t *Transport) Link() config.Link {
	return t.link
}

// Start checks the transport is still open.
func (t *Transport) Start(context.Context) error {
	select {
	case <-t.done:
		return errors.ErrTransportClosed
	default:
	}

	t.log.Debug("Stdio transport started")

	return nil
}

// ReadFrames reads one envelope per line. Blank lines are skipped. When the
// reader is exhausted a Closed frame is emitted for the link before both
// channels close.
func (t *Transport) ReadFrames(ctx context.Context) (<-chan config.Frame, <-chan error) {
	frames := make(chan config.Frame)
	errs := make(chan error, 1)

	go func() {
		defer close(frames)
		defer close(errs)
		defer t.log.Debug("ReadFrames goroutine stopped")

		emit := func(f config.Frame) bool {
			select {
			case frames <- f:
				return true
			case <-t.done:
				return false
			case <-ctx.Done():
				errs <- ctx.Err()

				return false
			}
		}

		scanner := bufio.NewScanner(t.r)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)

		lineCount := 0

		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			lineCount++

			data := make([]byte, len(line))
			copy(data, line)

			if !emit(config.Frame{Data: data, Link: t.link}) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			t.log.Debug("Scanner error while reading frames", "error", err, "lines", lineCount)

			select {
			case <-t.done:
			default:
				errs <- &errors.TransportError{Transport: t.name, Err: fmt.Errorf("scanner error: %w", err)}
			}

			return
		}

		t.log.Debug("Input exhausted", "lines", lineCount)
		emit(config.Frame{Link: t.link, Closed: true})
	}()

	return frames, errs
}

// Close marks the transport closed. Later sends fail with
// errors.ErrTransportClosed. Safe to call multiple times.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
	})

	return nil
}

type link struct {
	t  *Transport
	mu sync.Mutex // Serializes writes
	w  io.Writer
}

func (l *link) ID() string {
	return l.t.name
}

// Send writes data followed by a newline. A write blocked past ctx is
// abandoned and the link is left unusable.
func (l *link) Send(ctx context.Context, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	select {
	case <-l.t.done:
		return errors.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// Copy so the caller's backing array is never mutated.
	line := make([]byte, len(data)+1)
	copy(line, data)
	line[len(data)] = '\n'

	written := make(chan error, 1)

	go func() {
		_, err := l.w.Write(line)
		written <- err
	}()

	select {
	case err := <-written:
		if err != nil {
			return &errors.TransportError{Transport: l.t.name, Err: fmt.Errorf("write: %w", err)}
		}

		return nil

	case <-ctx.Done():
		l.t.log.Debug("Context cancelled during write")

		if c, ok := l.w.(io.Closer); ok {
			_ = c.Close()
		}

		return ctx.Err()
	}
}
