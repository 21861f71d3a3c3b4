// Package controller implements the endpoints that drive a core: the
// controller, which issues lifecycle and message commands, and the main host,
// which additionally receives the core's messages.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wagiedev/parabox-connector-go/internal/config"
	"github.com/wagiedev/parabox-connector-go/internal/envelope"
	"github.com/wagiedev/parabox-connector-go/internal/errors"
	"github.com/wagiedev/parabox-connector-go/internal/message"
	"github.com/wagiedev/parabox-connector-go/internal/metrics"
	"github.com/wagiedev/parabox-connector-go/internal/protocol"
)

// StateFunc observes the core's reported state.
type StateFunc func(state envelope.State, message string)

// Endpoint is a controller or main-host endpoint talking to one core.
type Endpoint struct {
	log        *slog.Logger
	options    *config.Options
	dispatcher *protocol.Dispatcher

	mu             sync.RWMutex
	state          envelope.State
	stateMessage   string
	stateKnown     bool
	onState        []StateFunc
	onConnected    []func()
	onDisconnected []func()
	onProgress     []func(envelope.UploadProgressPayload)

	started atomic.Bool
	closed  atomic.Bool
}

// New creates an endpoint sending as role, which must be RoleController or
// RoleMainHost.
func New(options *config.Options, role envelope.Role) (*Endpoint, error) {
	if role != envelope.RoleController && role != envelope.RoleMainHost {
		return nil, fmt.Errorf("controller: role %s cannot drive a core", role)
	}

	if options.Transport == nil {
		return nil, fmt.Errorf("controller: transport is required")
	}

	base := options.LoggerOrDefault()

	var m *metrics.Metrics
	if options.MetricsRegisterer != nil {
		m = metrics.New(options.MetricsRegisterer)
		if err := m.Register(); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	e := &Endpoint{
		log:     base.With("component", "controller", "role", role.String()),
		options: options,
		dispatcher: protocol.NewDispatcher(base, role, options.Transport,
			protocol.WithMetrics(m), protocol.WithTracerProvider(options.TracerProvider)),
	}

	e.dispatcher.HandleNotification(envelope.NotificationStateUpdate, e.handleStateUpdate)
	e.dispatcher.HandleNotification(envelope.NotificationUploadProgress, e.handleUploadProgress)
	e.dispatcher.OnPeerIdentified(e.peerIdentified)
	e.dispatcher.OnPeerLost(e.peerLost)

	return e, nil
}

// Role returns the role this endpoint sends as.
func (e *Endpoint) Role() envelope.Role {
	return e.dispatcher.Self()
}

// Start starts the transport and begins dispatching.
func (e *Endpoint) Start(ctx context.Context) error {
	if e.closed.Load() {
		return errors.ErrEndpointClosed
	}

	if !e.started.CompareAndSwap(false, true) {
		return errors.ErrEndpointAlreadyStarted
	}

	if err := e.options.Transport.Start(ctx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}

	if err := e.dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}

	e.log.Info("Endpoint started")

	return nil
}

// Close stops dispatching and closes the transport. Safe to call multiple times.
func (e *Endpoint) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	e.dispatcher.Stop()

	if err := e.options.Transport.Close(); err != nil {
		return fmt.Errorf("close transport: %w", err)
	}

	e.log.Info("Endpoint closed")

	return nil
}

// Done is closed when the endpoint stops dispatching.
func (e *Endpoint) Done() <-chan struct{} {
	return e.dispatcher.Done()
}

// Err returns the fatal error that stopped dispatching, if any.
func (e *Endpoint) Err() error {
	return e.dispatcher.FatalError()
}

// Connect binds link as the route to the core. Transports that dial the core
// call this so commands can be sent before the core speaks.
func (e *Endpoint) Connect(link config.Link) {
	e.dispatcher.Connect(envelope.RoleCore, link)
}

// Connected reports whether a route to the core is known.
func (e *Endpoint) Connected() bool {
	return slices.Contains(e.dispatcher.Channel().Known(), envelope.RoleCore)
}

// OnStateChange adds an observer for STATE_UPDATE notifications and
// successful GET_STATE results.
func (e *Endpoint) OnStateChange(fn StateFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.onState = append(e.onState, fn)
}

// OnConnected adds an observer run when a route to the core appears.
func (e *Endpoint) OnConnected(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.onConnected = append(e.onConnected, fn)
}

// OnDisconnected adds an observer run when the route to the core is lost.
func (e *Endpoint) OnDisconnected(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.onDisconnected = append(e.onDisconnected, fn)
}

// OnUploadProgress adds an observer for UPLOAD_PROGRESS notifications.
func (e *Endpoint) OnUploadProgress(fn func(envelope.UploadProgressPayload)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.onProgress = append(e.onProgress, fn)
}

// LastState returns the most recent state reported by the core. ok is false
// until the core has reported once.
func (e *Endpoint) LastState() (state envelope.State, message string, ok bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.state, e.stateMessage, e.stateKnown
}

func (e *Endpoint) setState(state envelope.State, message string) {
	e.mu.Lock()
	e.state, e.stateMessage, e.stateKnown = state, message, true
	observers := e.onState
	e.mu.Unlock()

	for _, fn := range observers {
		fn(state, message)
	}
}

func (e *Endpoint) handleStateUpdate(_ context.Context, env *envelope.Envelope) {
	p, ok := env.Payload.(*envelope.StatePayload)
	if !ok || !p.State.Valid() {
		e.log.Debug("Ignoring malformed state update")

		return
	}

	e.setState(p.State, p.Message)
}

func (e *Endpoint) handleUploadProgress(_ context.Context, env *envelope.Envelope) {
	p, ok := env.Payload.(*envelope.UploadProgressPayload)
	if !ok {
		return
	}

	e.mu.RLock()
	observers := e.onProgress
	e.mu.RUnlock()

	for _, fn := range observers {
		fn(*p)
	}
}

func (e *Endpoint) peerIdentified(role envelope.Role) {
	if role != envelope.RoleCore {
		return
	}

	e.mu.RLock()
	observers := e.onConnected
	e.mu.RUnlock()

	for _, fn := range observers {
		fn()
	}
}

func (e *Endpoint) peerLost(role envelope.Role) {
	if role != envelope.RoleCore {
		return
	}

	e.mu.RLock()
	observers := e.onDisconnected
	e.mu.RUnlock()

	for _, fn := range observers {
		fn()
	}
}

// SendCommand sends a command to the core. A timeout of zero uses the
// configured command timeout.
func (e *Endpoint) SendCommand(
	ctx context.Context,
	typeCode envelope.TypeCode,
	payload envelope.Payload,
	timeout time.Duration,
) (envelope.Result, error) {
	if timeout <= 0 {
		timeout = e.options.CommandTimeoutOrDefault()
	}

	return e.dispatcher.SendCommand(ctx, envelope.RoleCore, typeCode, payload, timeout)
}

// SendNotification sends a notification to the core.
func (e *Endpoint) SendNotification(ctx context.Context, typeCode envelope.TypeCode, payload envelope.Payload) error {
	return e.dispatcher.SendNotificationTo(ctx, envelope.RoleCore, typeCode, payload)
}

// StartCore asks the core to start.
func (e *Endpoint) StartCore(ctx context.Context) (envelope.Result, error) {
	return e.SendCommand(ctx, envelope.CommandStart, envelope.Empty{}, 0)
}

// StopCore asks a running core to stop.
func (e *Endpoint) StopCore(ctx context.Context) (envelope.Result, error) {
	return e.SendCommand(ctx, envelope.CommandStop, envelope.Empty{}, 0)
}

// ForceStopCore stops a core that is running, loading, paused or failed.
func (e *Endpoint) ForceStopCore(ctx context.Context) (envelope.Result, error) {
	return e.SendCommand(ctx, envelope.CommandForceStop, envelope.Empty{}, 0)
}

// GetState queries the core's state. A successful result also updates
// LastState and runs the state observers.
func (e *Endpoint) GetState(ctx context.Context) (envelope.Result, error) {
	res, err := e.SendCommand(ctx, envelope.CommandGetState, envelope.Empty{}, 0)
	if err != nil {
		return nil, err
	}

	if s, ok := res.(envelope.Success); ok {
		if p, ok := s.Payload.(*envelope.StatePayload); ok && p.State.Valid() {
			e.setState(p.State, p.Message)
		}
	}

	return res, nil
}

// SendMessage asks the core to deliver dto.
func (e *Endpoint) SendMessage(ctx context.Context, dto message.SendMessageDto) (envelope.Result, error) {
	return e.SendCommand(ctx, envelope.CommandSendMessage, &envelope.SendMessagePayload{Dto: dto}, 0)
}

// RecallMessage asks the core to recall a delivered message.
func (e *Endpoint) RecallMessage(ctx context.Context, messageID int64) (envelope.Result, error) {
	return e.SendCommand(ctx, envelope.CommandRecallMessage, &envelope.RecallMessagePayload{MessageID: messageID}, 0)
}

// RefreshMessage asks the core to replay its retry queues.
func (e *Endpoint) RefreshMessage(ctx context.Context) (envelope.Result, error) {
	return e.SendCommand(ctx, envelope.CommandRefreshMessage, envelope.Empty{}, 0)
}

// AnnounceLaunch tells the core the main host has started.
func (e *Endpoint) AnnounceLaunch(ctx context.Context) error {
	return e.SendNotification(ctx, envelope.NotificationMainHostLaunch, envelope.Empty{})
}

// HandleReceiveMessage answers RECEIVE_MESSAGE requests with fn. A false
// return acknowledges with SEND_FAILED so the core queues the message.
func (e *Endpoint) HandleReceiveMessage(fn func(ctx context.Context, dto message.ReceiveMessageDto) bool) {
	e.dispatcher.Handle(envelope.RequestReceiveMessage, func(ctx context.Context, in *protocol.Inbound) {
		p, ok := in.Payload().(*envelope.ReceiveMessagePayload)
		if !ok || !fn(ctx, p.Dto) {
			_ = in.Fail(envelope.CodeSendFailed)

			return
		}

		_ = in.Succeed(envelope.Empty{})
	})
}

// HandleSyncMessage answers SYNC_MESSAGE requests with fn.
func (e *Endpoint) HandleSyncMessage(fn func(ctx context.Context, dto message.SendMessageDto) bool) {
	e.dispatcher.Handle(envelope.RequestSyncMessage, func(ctx context.Context, in *protocol.Inbound) {
		p, ok := in.Payload().(*envelope.SendMessagePayload)
		if !ok || !fn(ctx, p.Dto) {
			_ = in.Fail(envelope.CodeSendFailed)

			return
		}

		_ = in.Succeed(envelope.Empty{})
	})
}

// Handle registers h for extension requests with typeCode.
func (e *Endpoint) Handle(typeCode envelope.TypeCode, h protocol.Handler) {
	e.dispatcher.Handle(typeCode, h)
}

// HandleFallback registers h for every request without a dedicated handler.
func (e *Endpoint) HandleFallback(h protocol.Handler) {
	e.dispatcher.HandleFallback(h)
}

// HandleNotification registers h for extension notifications with typeCode.
func (e *Endpoint) HandleNotification(typeCode envelope.TypeCode, h protocol.NotificationHandler) {
	e.dispatcher.HandleNotification(typeCode, h)
}

// Respond answers an inbound request after its handler returned.
func (e *Endpoint) Respond(key string, result envelope.Result) error {
	return e.dispatcher.Respond(key, result)
}

// PendingCalls returns the number of commands awaiting acknowledgement.
func (e *Endpoint) PendingCalls() int {
	return e.dispatcher.PendingCalls()
}
