package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wagiedev/parabox-connector-go/internal/channel"
	"github.com/wagiedev/parabox-connector-go/internal/config"
	"github.com/wagiedev/parabox-connector-go/internal/correlation"
	"github.com/wagiedev/parabox-connector-go/internal/envelope"
	"github.com/wagiedev/parabox-connector-go/internal/errors"
	"github.com/wagiedev/parabox-connector-go/internal/metrics"
)

const tracerName = "github.com/wagiedev/parabox-connector-go/internal/protocol"

// Dispatcher routes envelopes between one local endpoint and its peers.
//
// The Dispatcher handles:
//   - Sending commands and requests with fresh correlation keys
//   - Correlating acknowledgements with waiting callers
//   - Call timeout enforcement
//   - Handler registration for inbound commands, requests and notifications
//   - Failing pending calls with DISCONNECTED when a peer is lost
//
// The Dispatcher must be started with Start() before use and manages its own
// goroutine for reading and routing frames.
type Dispatcher struct {
	log       *slog.Logger
	self      envelope.Role
	transport config.Transport
	channel   *channel.Endpoint
	metrics   *metrics.Metrics
	tracer    trace.Tracer

	// Calls we sent, awaiting acknowledgement
	outbound *correlation.Registry

	// Calls we received, awaiting our answer
	inbound *correlation.Registry

	handlersMu    sync.RWMutex
	handlers      map[envelope.TypeCode]Handler
	fallback      Handler
	notifications map[envelope.TypeCode]NotificationHandler
	notifyDefault NotificationHandler

	// Notifications waiting for the notification worker, in arrival order.
	// The queue is unbounded so the read loop never waits on a handler.
	notesMu   sync.Mutex
	notes     []*envelope.Envelope
	notesWake chan struct{}

	peerHooksMu  sync.RWMutex
	onIdentified []func(envelope.Role)
	onLost       []func(envelope.Role)

	// Fatal error handling - stores error and broadcasts via done channel
	errMu    sync.RWMutex
	fatalErr error

	// Lifecycle management
	started    atomic.Bool
	handlerCtx context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
	done       chan struct{}
	wg         sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics records call and inbound statistics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithTracerProvider creates spans from tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) {
		if tp != nil {
			d.tracer = tp.Tracer(tracerName)
		}
	}
}

// NewDispatcher creates a dispatcher sending as self over transport.
//
// The logger will receive debug, info, warn, and error messages during
// protocol operations. The transport must be started before calling Start().
func NewDispatcher(log *slog.Logger, self envelope.Role, transport config.Transport, opts ...Option) *Dispatcher {
	log = log.With("component", "protocol", "self", self.String())

	handlerCtx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		log:           log,
		self:          self,
		transport:     transport,
		channel:       channel.New(log, self),
		tracer:        otel.Tracer(tracerName),
		outbound:      correlation.New(log),
		inbound:       correlation.New(log),
		handlers:      make(map[envelope.TypeCode]Handler, 16),
		notifications: make(map[envelope.TypeCode]NotificationHandler, 4),
		notesWake:     make(chan struct{}, 1),
		handlerCtx:    handlerCtx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(d)
	}

	d.channel.OnIdentified(d.peerIdentified)
	d.channel.OnLost(d.peerLost)

	if err := d.metrics.RegisterPending(func() float64 { return float64(d.outbound.Len()) }); err != nil {
		d.log.Warn("Failed to register pending calls gauge", "error", err)
	}

	return d
}

// Self returns the role this dispatcher sends as.
func (d *Dispatcher) Self() envelope.Role {
	return d.self
}

// Channel returns the channel endpoint holding peer links.
func (d *Dispatcher) Channel() *channel.Endpoint {
	return d.channel
}

// closeDone safely closes the done channel exactly once.
func (d *Dispatcher) closeDone() {
	d.closeOnce.Do(func() {
		close(d.done)
		d.cancel()
	})
}

// SetFatalError stores a fatal error, fails all pending calls and broadcasts
// to all waiters by closing done.
func (d *Dispatcher) SetFatalError(err error) {
	d.errMu.Lock()

	if d.fatalErr == nil {
		d.fatalErr = err
	}

	d.errMu.Unlock()

	d.closeDone()
	d.outbound.FailAll(envelope.CodeDisconnected)
}

// FatalError returns the fatal error if one occurred.
func (d *Dispatcher) FatalError() error {
	d.errMu.RLock()
	defer d.errMu.RUnlock()

	return d.fatalErr
}

// Done returns a channel that is closed when the dispatcher stops.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Start begins reading frames from the transport and routing envelopes.
//
// Start must be called before any handler runs or any acknowledgement can
// complete a call.
func (d *Dispatcher) Start(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return errors.ErrEndpointAlreadyStarted
	}

	select {
	case <-d.done:
		return errors.ErrDispatcherStopped
	default:
	}

	d.log.Debug("Starting dispatcher")

	frames, errs := d.transport.ReadFrames(ctx)

	d.wg.Add(1)

	go d.readLoop(ctx, frames, errs)

	d.wg.Go(d.notificationLoop)

	d.log.Info("Dispatcher started")

	return nil
}

// Stop shuts down the dispatcher.
//
// Pending outbound calls fail with DISCONNECTED and inbound handlers see their
// context cancelled. Safe to call multiple times.
func (d *Dispatcher) Stop() {
	d.log.Debug("Stopping dispatcher")

	d.closeDone()
	d.outbound.FailAll(envelope.CodeDisconnected)
	d.wg.Wait()

	d.log.Info("Dispatcher stopped")
}

// Handle registers the handler for inbound commands or requests with typeCode.
// Registering the same code twice replaces the previous handler.
func (d *Dispatcher) Handle(typeCode envelope.TypeCode, h Handler) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()

	d.log.Debug("Registering handler", "type_code", typeCode)
	d.handlers[typeCode] = h
}

// HandleFallback registers the handler for codes without a dedicated handler.
func (d *Dispatcher) HandleFallback(h Handler) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()

	d.fallback = h
}

// HandleNotification registers the handler for notifications with typeCode.
func (d *Dispatcher) HandleNotification(typeCode envelope.TypeCode, h NotificationHandler) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()

	d.notifications[typeCode] = h
}

// HandleNotificationFallback registers the handler for notification codes
// without a dedicated handler.
func (d *Dispatcher) HandleNotificationFallback(h NotificationHandler) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()

	d.notifyDefault = h
}

// OnPeerIdentified adds a callback run when a peer gets a new link.
func (d *Dispatcher) OnPeerIdentified(fn func(envelope.Role)) {
	d.peerHooksMu.Lock()
	defer d.peerHooksMu.Unlock()

	d.onIdentified = append(d.onIdentified, fn)
}

// OnPeerLost adds a callback run after a peer's pending calls were failed.
func (d *Dispatcher) OnPeerLost(fn func(envelope.Role)) {
	d.peerHooksMu.Lock()
	defer d.peerHooksMu.Unlock()

	d.onLost = append(d.onLost, fn)
}

func (d *Dispatcher) peerIdentified(role envelope.Role) {
	d.peerHooksMu.RLock()
	hooks := d.onIdentified
	d.peerHooksMu.RUnlock()

	for _, fn := range hooks {
		fn(role)
	}
}

func (d *Dispatcher) peerLost(role envelope.Role) {
	n := d.outbound.FailPeer(role, envelope.CodeDisconnected)
	d.log.Info("Peer disconnected", "peer", role.String(), "failed_calls", n)

	d.peerHooksMu.RLock()
	hooks := d.onLost
	d.peerHooksMu.RUnlock()

	for _, fn := range hooks {
		fn(role)
	}
}

// Connect binds link to role without waiting for the peer to speak first.
// Dialing endpoints use this so they can call a peer right away.
func (d *Dispatcher) Connect(role envelope.Role, link config.Link) {
	d.channel.Identify(role, link)
}

// SendCommand sends a command to peer and waits for its acknowledgement.
func (d *Dispatcher) SendCommand(
	ctx context.Context,
	peer envelope.Role,
	typeCode envelope.TypeCode,
	payload envelope.Payload,
	timeout time.Duration,
) (envelope.Result, error) {
	return d.call(ctx, peer, envelope.KindCommand, typeCode, payload, timeout)
}

// SendRequest sends a request to peer and waits for its acknowledgement.
func (d *Dispatcher) SendRequest(
	ctx context.Context,
	peer envelope.Role,
	typeCode envelope.TypeCode,
	payload envelope.Payload,
	timeout time.Duration,
) (envelope.Result, error) {
	return d.call(ctx, peer, envelope.KindRequest, typeCode, payload, timeout)
}

// call allocates a key, registers the call, sends it and awaits the result.
//
// Protocol failures are returned as a Fail result with a nil error. An error
// is returned only for local misuse or context cancellation.
func (d *Dispatcher) call(
	ctx context.Context,
	peer envelope.Role,
	kind envelope.Kind,
	typeCode envelope.TypeCode,
	payload envelope.Payload,
	timeout time.Duration,
) (envelope.Result, error) {
	select {
	case <-d.done:
		return nil, errors.ErrDispatcherStopped
	default:
	}

	if err := envelope.CheckPayload(typeCode, false, payload); err != nil {
		return nil, err
	}

	ctx, span := d.tracer.Start(ctx, "parabox.call", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	env := envelope.NewCall(kind, typeCode, d.self, payload)

	span.SetAttributes(
		attribute.String("parabox.kind", kind.String()),
		attribute.String("parabox.type", typeCode.String()),
		attribute.String("parabox.peer", peer.String()),
		attribute.String("parabox.key", env.Key),
	)

	pending, err := d.outbound.RegisterSent(env.Key, typeCode, peer, env.Timestamp)
	if err != nil {
		span.RecordError(err)

		return nil, err
	}

	d.log.Debug("Sending call", "key", env.Key, "kind", kind, "type_code", typeCode, "peer", peer.String())

	start := time.Now()

	if err := d.channel.Send(ctx, peer, env); err != nil {
		d.log.Debug("Call not delivered", "key", env.Key, "error", err)
		d.outbound.Fulfill(env.Key, envelope.Fail{
			TypeCode:  typeCode,
			Timestamp: env.Timestamp,
			ErrorCode: envelope.CodeDisconnected,
		})
	}

	res, err := d.outbound.Await(ctx, pending, timeout)
	if err != nil {
		d.metrics.ObserveCall(kind.String(), typeCode.String(), metrics.OutcomeError, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return nil, err
	}

	outcome := metrics.OutcomeSuccess

	if f, ok := res.(envelope.Fail); ok {
		outcome = metrics.OutcomeFail

		span.SetStatus(codes.Error, f.ErrorCode.String())
		d.log.Debug("Call failed", "key", env.Key, "type_code", typeCode, "code", f.ErrorCode)
	}

	d.metrics.ObserveCall(kind.String(), typeCode.String(), outcome, time.Since(start))

	return res, nil
}

// SendNotification broadcasts a notification to every known peer and returns
// the number of peers reached.
func (d *Dispatcher) SendNotification(ctx context.Context, typeCode envelope.TypeCode, payload envelope.Payload) int {
	return d.channel.Broadcast(ctx, envelope.NewNotification(typeCode, d.self, payload))
}

// SendNotificationTo sends a notification to a single peer.
func (d *Dispatcher) SendNotificationTo(
	ctx context.Context,
	peer envelope.Role,
	typeCode envelope.TypeCode,
	payload envelope.Payload,
) error {
	return d.channel.Send(ctx, peer, envelope.NewNotification(typeCode, d.self, payload))
}

// Respond answers the inbound call registered under key. Extensions use it to
// acknowledge a call after its handler returned.
func (d *Dispatcher) Respond(key string, result envelope.Result) error {
	if !d.inbound.Fulfill(key, result) {
		return fmt.Errorf("%w: %s", errors.ErrAlreadyResponded, key)
	}

	return nil
}

// PendingCalls returns the number of outbound calls awaiting acknowledgement.
func (d *Dispatcher) PendingCalls() int {
	return d.outbound.Len()
}

// PendingInbound returns the number of inbound calls not yet answered.
func (d *Dispatcher) PendingInbound() int {
	return d.inbound.Len()
}

// readLoop reads frames from the transport and routes envelopes.
func (d *Dispatcher) readLoop(ctx context.Context, frames <-chan config.Frame, errs <-chan error) {
	defer d.wg.Done()
	defer d.log.Debug("Dispatcher read loop stopped")

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				d.log.Debug("Frame channel closed")
				d.SetFatalError(errors.ErrTransportClosed)

				return
			}

			d.handleFrame(frame)

		case err, ok := <-errs:
			if !ok {
				errs = nil

				continue
			}

			if err != nil {
				d.log.Debug("Transport error in dispatcher", "error", err)
				d.SetFatalError(err)

				return
			}

		case <-d.done:
			d.log.Debug("Dispatcher stop signal received")

			return

		case <-ctx.Done():
			d.log.Debug("Context cancelled in dispatcher read loop")
			d.SetFatalError(ctx.Err())

			return
		}
	}
}

// handleFrame decodes one frame and routes it by kind.
func (d *Dispatcher) handleFrame(frame config.Frame) {
	if frame.Closed {
		if frame.Link != nil {
			d.log.Debug("Link closed", "link", frame.Link.ID())
			d.channel.LoseLink(frame.Link)
		}

		return
	}

	env, err := envelope.Decode(frame.Data)
	if err != nil {
		d.log.Warn("Dropping undecodable frame", "error", err)
		d.metrics.Dropped()

		return
	}

	if frame.Link != nil {
		d.channel.Identify(env.Sender, frame.Link)
	}

	d.metrics.Inbound(env.Kind.String())

	if env.IsAck() {
		d.handleAck(env)

		return
	}

	switch env.Kind {
	case envelope.KindNotification:
		d.enqueueNotification(env)

	case envelope.KindCommand, envelope.KindRequest:
		d.handleCall(env)
	}
}

// handleAck routes an acknowledgement to the waiting call.
func (d *Dispatcher) handleAck(env *envelope.Envelope) {
	if !d.outbound.Fulfill(env.Key, envelope.ResultOf(env)) {
		d.log.Debug("No pending call for acknowledgement", "key", env.Key, "type_code", env.TypeCode)
	}
}

// enqueueNotification hands env to the notification worker.
func (d *Dispatcher) enqueueNotification(env *envelope.Envelope) {
	d.notesMu.Lock()
	d.notes = append(d.notes, env)
	d.notesMu.Unlock()

	select {
	case d.notesWake <- struct{}{}:
	default:
	}
}

// notificationLoop runs notification handlers one at a time in arrival order.
// A handler may issue calls of its own: their acknowledgements are read by
// the read loop while the handler waits.
func (d *Dispatcher) notificationLoop() {
	for {
		select {
		case <-d.notesWake:
		case <-d.done:
			return
		}

		for {
			d.notesMu.Lock()
			if len(d.notes) == 0 {
				d.notesMu.Unlock()

				break
			}

			env := d.notes[0]
			d.notes[0] = nil
			d.notes = d.notes[1:]
			d.notesMu.Unlock()

			select {
			case <-d.done:
				return
			default:
			}

			d.handleNotification(d.handlerCtx, env)
		}
	}
}

// handleNotification runs the notification handler, recovering a panic.
func (d *Dispatcher) handleNotification(ctx context.Context, env *envelope.Envelope) {
	d.handlersMu.RLock()
	h, ok := d.notifications[env.TypeCode]

	if !ok {
		h = d.notifyDefault
	}
	d.handlersMu.RUnlock()

	if h == nil {
		d.log.Debug("Ignoring notification without handler", "type_code", env.TypeCode)

		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Notification handler panicked",
				"type_code", env.TypeCode, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	h(ctx, env)
}

// handleCall registers the inbound slot and runs the handler in its own goroutine.
func (d *Dispatcher) handleCall(env *envelope.Envelope) {
	slot, err := d.inbound.RegisterSent(env.Key, env.TypeCode, env.Sender, env.Timestamp)
	if err != nil {
		d.log.Warn("Ignoring repeated inbound call", "key", env.Key, "type_code", env.TypeCode)

		return
	}

	d.handlersMu.RLock()
	h, ok := d.handlers[env.TypeCode]

	if !ok {
		h = d.fallback
	}
	d.handlersMu.RUnlock()

	in := &Inbound{Envelope: env, d: d}

	d.log.Debug("Received call", "key", env.Key, "kind", env.Kind, "type_code", env.TypeCode,
		"sender", env.Sender.String())

	d.wg.Go(func() {
		if h == nil {
			d.log.Warn("No handler registered for call", "type_code", env.TypeCode)
			_ = in.Fail(envelope.CodeResourceNotFound)
		} else {
			d.runHandler(h, in)
		}

		// A handler that never answers keeps this goroutine until Stop.
		res, err := d.inbound.Await(d.handlerCtx, slot, 0)
		if err != nil {
			d.log.Debug("Inbound call abandoned", "key", env.Key, "error", err)

			return
		}

		ack := envelope.NewAck(env, d.self, res)
		if err := d.channel.Send(d.handlerCtx, env.Sender, ack); err != nil {
			d.log.Warn("Failed to send acknowledgement", "key", env.Key, "error", err)
		}
	})
}

// runHandler invokes h under a span. A panic answers the call with SEND_FAILED.
func (d *Dispatcher) runHandler(h Handler, in *Inbound) {
	ctx, span := d.tracer.Start(d.handlerCtx, "parabox.handle", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	span.SetAttributes(
		attribute.String("parabox.kind", in.Envelope.Kind.String()),
		attribute.String("parabox.type", in.Envelope.TypeCode.String()),
		attribute.String("parabox.sender", in.Envelope.Sender.String()),
		attribute.String("parabox.key", in.Envelope.Key),
	)

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Call handler panicked",
				"type_code", in.Envelope.TypeCode, "panic", r, "stack", string(debug.Stack()))
			span.SetStatus(codes.Error, fmt.Sprint(r))

			_ = in.Fail(envelope.CodeSendFailed)
		}
	}()

	h(ctx, in)
}
