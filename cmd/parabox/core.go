package main

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/wagiedev/parabox-connector-go"
)

// errStopped ends the run group when the core stops dispatching cleanly.
var errStopped = errors.New("core stopped")

// loopback is a demo core: every message it is asked to send comes back to
// the main host as a received message from the same conversation.
type loopback struct {
	parabox.NopExtension

	ctx   context.Context
	core  *parabox.Core
	log   *slog.Logger
	count atomic.Int64
}

func (l *loopback) OnStart(context.Context) {
	go l.core.UpdateState(parabox.StateRunning, "loopback ready")
}

func (l *loopback) OnSendMessage(_ context.Context, dto parabox.SendMessageDto) bool {
	n := l.count.Add(1)

	go func() {
		_, _ = l.core.ReceiveMessage(l.ctx, parabox.ReceiveMessageDto{
			Contents:         dto.Contents,
			Profile:          parabox.Profile{Name: "loopback"},
			SubjectProfile:   parabox.Profile{Name: "loopback"},
			Timestamp:        dto.Timestamp,
			MessageID:        &n,
			PluginConnection: dto.PluginConnection,
		})
	}()

	return true
}

func (l *loopback) OnRecallMessage(context.Context, int64) bool {
	return true
}

func (l *loopback) OnMainHostLaunch(context.Context) {
	l.log.Info("main host launched")
}

// HandleCustom echoes custom commands.
func (l *loopback) HandleCustom(_ context.Context, in *parabox.Inbound) {
	_ = in.Succeed(in.Payload())
}

func (l *loopback) OnPeerConnected(role parabox.Role) {
	l.log.Info("peer connected", "role", role.String())
}

func (l *loopback) OnPeerDisconnected(role parabox.Role) {
	l.log.Info("peer disconnected", "role", role.String())
}

func runCore(ctx context.Context, e *env) error {
	t, err := e.newTransport(parabox.RoleCore)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	ext := &loopback{ctx: gctx, log: e.log}

	c, err := parabox.NewCore(append(e.options(t), parabox.WithExtension(ext))...)
	if err != nil {
		return err
	}

	ext.core = c

	defer func() { _ = c.Close() }()

	if err := c.Start(ctx); err != nil {
		return err
	}

	e.log.Info("core running", "transport", e.settings.Transport)

	g.Go(func() error { return e.serveMetrics(gctx) })
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-c.Done():
			if err := c.Err(); err != nil {
				return err
			}

			return errStopped
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errStopped) {
		return err
	}

	return nil
}
