package parabox

import (
	"context"
	"fmt"

	"github.com/wagiedev/parabox-connector-go/internal/controller"
	"github.com/wagiedev/parabox-connector-go/internal/core"
)

// Core is the core endpoint: it answers lifecycle and message commands and
// pushes received messages to the main host.
type Core = core.Endpoint

// Controller is a controller or main-host endpoint driving one core.
type Controller = controller.Endpoint

// Extension receives core lifecycle hooks and domain commands.
type Extension = core.Extension

// NopExtension is an Extension that accepts lifecycle commands and refuses
// every message. Embed it to override only the hooks you need.
type NopExtension = core.NopExtension

// PeerObserver is optionally implemented by an Extension to learn when
// peers connect and disconnect.
type PeerObserver = core.PeerObserver

// StateFunc observes core state changes on a controller.
type StateFunc = controller.StateFunc

// NewCore creates a core endpoint. WithTransport is required.
func NewCore(opts ...Option) (*Core, error) {
	options := applyOptions(opts)

	return core.New(&options.Options, options.Extension)
}

// NewController creates a controller endpoint. WithTransport is required.
func NewController(opts ...Option) (*Controller, error) {
	options := applyOptions(opts)

	return controller.New(&options.Options, RoleController)
}

// NewMainHost creates a main-host endpoint: a controller that also receives
// and syncs messages pushed by the core. WithTransport is required.
func NewMainHost(opts ...Option) (*Controller, error) {
	options := applyOptions(opts)

	return controller.New(&options.Options, RoleMainHost)
}

// WithController manages controller lifecycle with automatic cleanup.
//
// It creates and starts a controller, binds the core link when the
// transport can name one, runs fn and closes the controller when fn returns.
//
// Example usage:
//
//	err := parabox.WithController(ctx, func(c *parabox.Controller) error {
//	    res, err := c.StartCore(ctx)
//	    if err != nil {
//	        return err
//	    }
//	    return parabox.AsError(res)
//	},
//	    parabox.WithTransport(t),
//	    parabox.WithLogger(log),
//	)
func WithController(ctx context.Context, fn func(*Controller) error, opts ...Option) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	options := applyOptions(opts)
	log := options.LoggerOrDefault()

	c, err := controller.New(&options.Options, RoleController)
	if err != nil {
		return fmt.Errorf("create controller: %w", err)
	}

	defer func() {
		if closeErr := c.Close(); closeErr != nil {
			log.Warn("failed to close controller", "error", closeErr)
		}
	}()

	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("start controller: %w", err)
	}

	if link := CoreLink(options.Transport); link != nil {
		c.Connect(link)
	}

	return fn(c)
}

// RunCore creates and starts a core, then blocks until ctx is done or the
// core stops dispatching. The core is closed before RunCore returns.
func RunCore(ctx context.Context, opts ...Option) error {
	c, err := NewCore(opts...)
	if err != nil {
		return err
	}

	defer func() { _ = c.Close() }()

	if err := c.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return nil
	case <-c.Done():
		return c.Err()
	}
}
