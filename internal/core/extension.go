package core

import (
	"context"

	"github.com/wagiedev/parabox-connector-go/internal/envelope"
	"github.com/wagiedev/parabox-connector-go/internal/message"
	"github.com/wagiedev/parabox-connector-go/internal/protocol"
)

// Extension is the business side of a core endpoint.
//
// OnStart and OnStop run before the command is acknowledged and should
// return promptly; long work belongs in a goroutine that reports progress
// through Endpoint.UpdateState.
//
// OnMainHostLaunch and HandleNotification run on the endpoint's notification
// worker, one notification at a time in arrival order. They may issue calls
// such as ReceiveMessage or Refresh; commands keep being dispatched while they
// wait, but later notifications queue behind them.
type Extension interface {
	// OnStart runs after a START command moved the core to Loading.
	OnStart(ctx context.Context)

	// OnStop runs after a STOP or FORCE_STOP command moved the core to Stopped.
	OnStop(ctx context.Context)

	// OnStateUpdate runs after every state change, in the order the changes
	// happened. It must not change the state itself.
	OnStateUpdate(state envelope.State, message string)

	// OnSendMessage delivers a message. It is only called while Running.
	OnSendMessage(ctx context.Context, dto message.SendMessageDto) bool

	// OnRecallMessage recalls a message. It is only called while Running.
	OnRecallMessage(ctx context.Context, messageID int64) bool

	// OnRefreshMessage runs after a REFRESH_MESSAGE command was acknowledged.
	OnRefreshMessage(ctx context.Context)

	// OnMainHostLaunch runs when the main host announces it started.
	OnMainHostLaunch(ctx context.Context)

	// HandleCustom answers commands and requests with extension type codes.
	HandleCustom(ctx context.Context, in *protocol.Inbound)

	// HandleNotification receives notifications with extension type codes.
	HandleNotification(ctx context.Context, env *envelope.Envelope)
}

// PeerObserver is implemented by extensions that track peer connectivity.
type PeerObserver interface {
	OnPeerConnected(role envelope.Role)
	OnPeerDisconnected(role envelope.Role)
}

// NopExtension implements Extension with no behavior. Embed it to override
// only the hooks you need.
type NopExtension struct{}

var _ Extension = NopExtension{}

func (NopExtension) OnStart(context.Context) {}

func (NopExtension) OnStop(context.Context) {}

func (NopExtension) OnStateUpdate(envelope.State, string) {}

func (NopExtension) OnSendMessage(context.Context, message.SendMessageDto) bool { return false }

func (NopExtension) OnRecallMessage(context.Context, int64) bool { return false }

func (NopExtension) OnRefreshMessage(context.Context) {}

func (NopExtension) OnMainHostLaunch(context.Context) {}

// HandleCustom answers every extension call with RESOURCE_NOT_FOUND.
func (NopExtension) HandleCustom(_ context.Context, in *protocol.Inbound) {
	_ = in.Fail(envelope.CodeResourceNotFound)
}

func (NopExtension) HandleNotification(context.Context, *envelope.Envelope) {}
