package core

import (
	"context"

	"github.com/wagiedev/parabox-connector-go/internal/envelope"
	"github.com/wagiedev/parabox-connector-go/internal/lifecycle"
	"github.com/wagiedev/parabox-connector-go/internal/protocol"
)

func (e *Endpoint) registerHandlers() {
	d := e.dispatcher

	d.Handle(envelope.CommandStart, e.lifecycleHandler(lifecycle.Start, e.ext.OnStart))
	d.Handle(envelope.CommandStop, e.lifecycleHandler(lifecycle.Stop, e.ext.OnStop))
	d.Handle(envelope.CommandForceStop, e.lifecycleHandler(lifecycle.ForceStop, e.ext.OnStop))
	d.Handle(envelope.CommandGetState, e.handleGetState)
	d.Handle(envelope.CommandSendMessage, e.handleSendMessage)
	d.Handle(envelope.CommandRecallMessage, e.handleRecallMessage)
	d.Handle(envelope.CommandRefreshMessage, e.handleRefreshMessage)
	d.HandleFallback(e.ext.HandleCustom)

	d.HandleNotification(envelope.NotificationMainHostLaunch, func(ctx context.Context, _ *envelope.Envelope) {
		e.ext.OnMainHostLaunch(ctx)
	})
	d.HandleNotificationFallback(e.ext.HandleNotification)
}

// lifecycleHandler applies rule atomically, so of two concurrent calls only
// one sees the allowed source state.
func (e *Endpoint) lifecycleHandler(rule lifecycle.Rule, hook func(context.Context)) protocol.Handler {
	return func(ctx context.Context, in *protocol.Inbound) {
		if _, ok := e.lifecycle.Apply(rule); !ok {
			state, _ := e.lifecycle.State()
			e.log.Debug("Rejected lifecycle command", "command", rule.Name, "state", state.String())

			_ = in.Fail(envelope.CodeRepeatedCall)

			return
		}

		hook(ctx)

		_ = in.Succeed(envelope.Empty{})
	}
}

func (e *Endpoint) handleGetState(_ context.Context, in *protocol.Inbound) {
	state, msg := e.lifecycle.State()

	_ = in.Succeed(&envelope.StatePayload{State: state, Message: msg})
}

func (e *Endpoint) handleSendMessage(ctx context.Context, in *protocol.Inbound) {
	if !e.lifecycle.Is(envelope.StateRunning) {
		_ = in.Fail(envelope.CodeDisconnected)

		return
	}

	p, ok := in.Payload().(*envelope.SendMessagePayload)
	if !ok {
		_ = in.Fail(envelope.CodeSendFailed)

		return
	}

	if !e.ext.OnSendMessage(ctx, p.Dto) {
		_ = in.Fail(envelope.CodeSendFailed)

		return
	}

	_ = in.Succeed(envelope.Empty{})
}

func (e *Endpoint) handleRecallMessage(ctx context.Context, in *protocol.Inbound) {
	if !e.lifecycle.Is(envelope.StateRunning) {
		_ = in.Fail(envelope.CodeDisconnected)

		return
	}

	p, ok := in.Payload().(*envelope.RecallMessagePayload)
	if !ok {
		_ = in.Fail(envelope.CodeSendFailed)

		return
	}

	if !e.ext.OnRecallMessage(ctx, p.MessageID) {
		_ = in.Fail(envelope.CodeSendFailed)

		return
	}

	_ = in.Succeed(envelope.Empty{})
}

// handleRefreshMessage starts the replay in the background and acknowledges
// right away. The replay issues its own requests, which must not hold up the
// command's acknowledgement.
func (e *Endpoint) handleRefreshMessage(ctx context.Context, in *protocol.Inbound) {
	e.bg.Go(func() {
		if err := e.Refresh(e.bgCtx); err != nil {
			e.log.Warn("Refresh failed", "error", err)
		}
	})

	_ = in.Succeed(envelope.Empty{})

	e.ext.OnRefreshMessage(ctx)
}
