// Package core implements the core endpoint: the side that owns the chat
// connection, obeys lifecycle commands and pushes messages to the main host.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wagiedev/parabox-connector-go/internal/config"
	"github.com/wagiedev/parabox-connector-go/internal/envelope"
	"github.com/wagiedev/parabox-connector-go/internal/errors"
	"github.com/wagiedev/parabox-connector-go/internal/lifecycle"
	"github.com/wagiedev/parabox-connector-go/internal/message"
	"github.com/wagiedev/parabox-connector-go/internal/metrics"
	"github.com/wagiedev/parabox-connector-go/internal/protocol"
	"github.com/wagiedev/parabox-connector-go/internal/retry"
)

// Endpoint is a core endpoint.
type Endpoint struct {
	log     *slog.Logger
	options *config.Options
	ext     Extension
	metrics *metrics.Metrics

	dispatcher *protocol.Dispatcher
	lifecycle  *lifecycle.Machine

	unreceived *retry.Queue[message.ReceiveMessageDto]
	unsynced   *retry.Queue[message.SendMessageDto]

	// Background work such as refresh replays
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup

	started atomic.Bool
	closed  atomic.Bool
}

// New creates a core endpoint. A nil extension behaves like NopExtension.
func New(options *config.Options, ext Extension) (*Endpoint, error) {
	if options.Transport == nil {
		return nil, fmt.Errorf("core: transport is required")
	}

	if ext == nil {
		ext = NopExtension{}
	}

	base := options.LoggerOrDefault()
	log := base.With("component", "core")

	var m *metrics.Metrics
	if options.MetricsRegisterer != nil {
		m = metrics.New(options.MetricsRegisterer)
		if err := m.Register(); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	store := options.RetryStoreOrDefault()

	bgCtx, bgCancel := context.WithCancel(context.Background())

	e := &Endpoint{
		log:     log,
		options: options,
		ext:     ext,
		metrics: m,
		dispatcher: protocol.NewDispatcher(base, envelope.RoleCore, options.Transport,
			protocol.WithMetrics(m), protocol.WithTracerProvider(options.TracerProvider)),
		lifecycle:  lifecycle.New(),
		unreceived: retry.NewQueue(base, retry.QueueUnreceived, store, receiveID, m),
		unsynced:   retry.NewQueue(base, retry.QueueUnsynced, store, sendID, m),
		bgCtx:      bgCtx,
		bgCancel:   bgCancel,
	}

	if options.ReplayConcurrency > 0 {
		e.unreceived.SetConcurrency(options.ReplayConcurrency)
		e.unsynced.SetConcurrency(options.ReplayConcurrency)
	}

	e.lifecycle.OnTransition(e.reportTransition)
	e.registerHandlers()

	if obs, ok := ext.(PeerObserver); ok {
		e.dispatcher.OnPeerIdentified(obs.OnPeerConnected)
		e.dispatcher.OnPeerLost(obs.OnPeerDisconnected)
	}

	return e, nil
}

func receiveID(dto message.ReceiveMessageDto) (int64, bool) {
	if dto.MessageID == nil {
		return 0, false
	}

	return *dto.MessageID, true
}

func sendID(dto message.SendMessageDto) (int64, bool) {
	if dto.MessageID == nil {
		return 0, false
	}

	return *dto.MessageID, true
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

	e.log.Info("Core endpoint started")

	return nil
}

// Close stops dispatching and closes the transport. Safe to call multiple times.
func (e *Endpoint) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	e.bgCancel()
	e.dispatcher.Stop()
	e.bg.Wait()

	if err := e.options.Transport.Close(); err != nil {
		return fmt.Errorf("close transport: %w", err)
	}

	e.log.Info("Core endpoint closed")

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

// State returns the lifecycle state and its message.
func (e *Endpoint) State() (envelope.State, string) {
	return e.lifecycle.State()
}

// Peers returns the roles currently connected.
func (e *Endpoint) Peers() []envelope.Role {
	return e.dispatcher.Channel().Known()
}

// UpdateState moves to state without any guard, runs the extension's state
// hook and broadcasts STATE_UPDATE to every connected peer.
func (e *Endpoint) UpdateState(state envelope.State, message string) {
	e.lifecycle.Set(state, message)
}

// reportTransition fans a state change out to metrics, the extension and peers.
func (e *Endpoint) reportTransition(t lifecycle.Transition) {
	e.log.Debug("State changed", "from", t.From.String(), "to", t.To.String(), "message", t.Message)
	e.metrics.StateTransition(t.To.String())
	e.ext.OnStateUpdate(t.To, t.Message)

	e.dispatcher.SendNotification(e.bgCtx, envelope.NotificationStateUpdate,
		&envelope.StatePayload{State: t.To, Message: t.Message})
}

// SendNotification broadcasts a notification and returns the number of
// peers reached.
func (e *Endpoint) SendNotification(ctx context.Context, typeCode envelope.TypeCode, payload envelope.Payload) int {
	return e.dispatcher.SendNotification(ctx, typeCode, payload)
}

// UploadProgress broadcasts the progress of a resource upload.
func (e *Endpoint) UploadProgress(ctx context.Context, resourceID string, sent, total int64) int {
	return e.dispatcher.SendNotification(ctx, envelope.NotificationUploadProgress,
		&envelope.UploadProgressPayload{ResourceID: resourceID, SentBytes: sent, TotalBytes: total})
}

// SendRequest issues an extension request to the main host. A zero timeout
// uses the command timeout.
func (e *Endpoint) SendRequest(
	ctx context.Context,
	typeCode envelope.TypeCode,
	payload envelope.Payload,
	timeout time.Duration,
) (envelope.Result, error) {
	if timeout <= 0 {
		timeout = e.options.CommandTimeoutOrDefault()
	}

	return e.dispatcher.SendRequest(ctx, envelope.RoleMainHost, typeCode, payload, timeout)
}

// Respond answers an inbound call after its handler returned.
func (e *Endpoint) Respond(key string, result envelope.Result) error {
	return e.dispatcher.Respond(key, result)
}

// ReceiveMessage pushes an inbound chat message to the main host. On failure
// the message is queued for the next refresh; on success any queued copy is
// dropped.
func (e *Endpoint) ReceiveMessage(ctx context.Context, dto message.ReceiveMessageDto) (envelope.Result, error) {
	return e.ReceiveMessageTimeout(ctx, dto, 0)
}

// ReceiveMessageTimeout is ReceiveMessage with its own acknowledgement
// timeout. Zero uses the request timeout.
func (e *Endpoint) ReceiveMessageTimeout(
	ctx context.Context,
	dto message.ReceiveMessageDto,
	timeout time.Duration,
) (envelope.Result, error) {
	res, err := e.sendReceive(ctx, dto, timeout)
	if err != nil {
		return nil, err
	}

	if res.OK() {
		err = e.unreceived.Remove(ctx, dto)
	} else {
		_, err = e.unreceived.Add(ctx, dto)
	}

	if err != nil {
		e.log.Warn("Failed to update retry queue", "queue", retry.QueueUnreceived, "error", err)
	}

	return res, nil
}

// SyncMessage records a message sent from elsewhere with the main host. It
// is queued and dropped the same way as ReceiveMessage.
func (e *Endpoint) SyncMessage(ctx context.Context, dto message.SendMessageDto) (envelope.Result, error) {
	return e.SyncMessageTimeout(ctx, dto, 0)
}

// SyncMessageTimeout is SyncMessage with its own acknowledgement timeout.
// Zero uses the request timeout.
func (e *Endpoint) SyncMessageTimeout(
	ctx context.Context,
	dto message.SendMessageDto,
	timeout time.Duration,
) (envelope.Result, error) {
	res, err := e.sendSync(ctx, dto, timeout)
	if err != nil {
		return nil, err
	}

	if res.OK() {
		err = e.unsynced.Remove(ctx, dto)
	} else {
		_, err = e.unsynced.Add(ctx, dto)
	}

	if err != nil {
		e.log.Warn("Failed to update retry queue", "queue", retry.QueueUnsynced, "error", err)
	}

	return res, nil
}

func (e *Endpoint) requestTimeout(timeout time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}

	return e.options.RequestTimeoutOrDefault()
}

func (e *Endpoint) sendReceive(
	ctx context.Context,
	dto message.ReceiveMessageDto,
	timeout time.Duration,
) (envelope.Result, error) {
	return e.dispatcher.SendRequest(ctx, envelope.RoleMainHost, envelope.RequestReceiveMessage,
		&envelope.ReceiveMessagePayload{Dto: dto}, e.requestTimeout(timeout))
}

func (e *Endpoint) sendSync(ctx context.Context, dto message.SendMessageDto, timeout time.Duration) (envelope.Result, error) {
	return e.dispatcher.SendRequest(ctx, envelope.RoleMainHost, envelope.RequestSyncMessage,
		&envelope.SendMessagePayload{Dto: dto}, e.requestTimeout(timeout))
}

// Refresh replays both retry queues concurrently. Each entry is sent as a new
// request with a fresh key.
func (e *Endpoint) Refresh(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		stats, err := e.unreceived.Replay(gctx, func(ctx context.Context, dto message.ReceiveMessageDto) bool {
			res, err := e.sendReceive(ctx, dto, 0)

			return err == nil && res.OK()
		})
		e.log.Debug("Replayed queue", "queue", retry.QueueUnreceived,
			"attempted", stats.Attempted, "succeeded", stats.Succeeded)

		return err
	})

	g.Go(func() error {
		stats, err := e.unsynced.Replay(gctx, func(ctx context.Context, dto message.SendMessageDto) bool {
			res, err := e.sendSync(ctx, dto, 0)

			return err == nil && res.OK()
		})
		e.log.Debug("Replayed queue", "queue", retry.QueueUnsynced,
			"attempted", stats.Attempted, "succeeded", stats.Succeeded)

		return err
	})

	return g.Wait()
}

// PendingRetries returns the sizes of the unreceived and unsynced queues.
func (e *Endpoint) PendingRetries(ctx context.Context) (unreceived, unsynced int, err error) {
	if unreceived, err = e.unreceived.Len(ctx); err != nil {
		return 0, 0, err
	}

	if unsynced, err = e.unsynced.Len(ctx); err != nil {
		return 0, 0, err
	}

	return unreceived, unsynced, nil
}
