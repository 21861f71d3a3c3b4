package protocol

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/wagiedev/parabox-connector-go/internal/config"
	"github.com/wagiedev/parabox-connector-go/internal/envelope"
	perrors "github.com/wagiedev/parabox-connector-go/internal/errors"
)

// mockTransport feeds frames to a dispatcher.
type mockTransport struct {
	frames chan config.Frame
	errs   chan error
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		frames: make(chan config.Frame, 64),
		errs:   make(chan error, 1),
	}
}

func (m *mockTransport) Start(context.Context) error { return nil }

func (m *mockTransport) ReadFrames(context.Context) (<-chan config.Frame, <-chan error) {
	return m.frames, m.errs
}

func (m *mockTransport) Close() error { return nil }

func (m *mockTransport) push(f config.Frame) {
	select {
	case m.frames <- f:
	case <-time.After(time.Second):
	}
}

// mockLink records every frame the dispatcher writes to a peer.
type mockLink struct {
	id   string
	sent chan []byte
}

func newMockLink(id string) *mockLink {
	return &mockLink{id: id, sent: make(chan []byte, 64)}
}

func (l *mockLink) Send(ctx context.Context, data []byte) error {
	select {
	case l.sent <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *mockLink) ID() string { return l.id }

func (l *mockLink) next(t *testing.T) *envelope.Envelope {
	t.Helper()

	select {
	case data := <-l.sent:
		env, err := envelope.Decode(data)
		require.NoError(t, err)

		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound envelope")

		return nil
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func encode(t *testing.T, env *envelope.Envelope) []byte {
	t.Helper()

	data, err := envelope.Encode(env)
	require.NoError(t, err)

	return data
}

func startDispatcher(t *testing.T, self envelope.Role) (*Dispatcher, *mockTransport) {
	t.Helper()

	transport := newMockTransport()
	d := NewDispatcher(testLogger(), self, transport)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(d.Stop)

	return d, transport
}

func TestDispatcher_SetFatalError_ConcurrentWithStop(t *testing.T) {
	for range 100 {
		d := NewDispatcher(testLogger(), envelope.RoleController, newMockTransport())
		require.NoError(t, d.Start(context.Background()))

		var wg sync.WaitGroup

		wg.Go(func() { d.SetFatalError(errors.New("transport error")) })
		wg.Go(d.Stop)
		wg.Wait()

		select {
		case <-d.Done():
		default:
			t.Fatal("done channel should be closed")
		}
	}
}

func TestDispatcher_SetFatalError_MultipleCalls(t *testing.T) {
	d, _ := startDispatcher(t, envelope.RoleController)

	d.SetFatalError(errors.New("first error"))
	require.EqualError(t, d.FatalError(), "first error")

	d.SetFatalError(errors.New("second error"))
	require.EqualError(t, d.FatalError(), "first error")
}

func TestDispatcher_StartTwice(t *testing.T) {
	d, _ := startDispatcher(t, envelope.RoleCore)
	require.ErrorIs(t, d.Start(context.Background()), perrors.ErrEndpointAlreadyStarted)
}

func TestDispatcher_Stop_MultipleCalls(t *testing.T) {
	d := NewDispatcher(testLogger(), envelope.RoleCore, newMockTransport())
	require.NoError(t, d.Start(context.Background()))

	d.Stop()
	d.Stop()

	_, err := d.SendCommand(context.Background(), envelope.RoleCore, envelope.CommandStart, nil, time.Second)
	require.ErrorIs(t, err, perrors.ErrDispatcherStopped)
}

func TestSendCommand_UnknownPeerFailsImmediately(t *testing.T) {
	d, _ := startDispatcher(t, envelope.RoleController)

	start := time.Now()
	res, err := d.SendCommand(context.Background(), envelope.RoleCore, envelope.CommandStart, nil, 5*time.Second)
	require.NoError(t, err)
	require.Less(t, time.Since(start), time.Second)

	fail, ok := res.(envelope.Fail)
	require.True(t, ok)
	require.Equal(t, envelope.CodeDisconnected, fail.ErrorCode)
	require.Equal(t, envelope.CommandStart, fail.TypeCode)
	require.Zero(t, d.PendingCalls())
}

func TestSendCommand_Acknowledged(t *testing.T) {
	d, transport := startDispatcher(t, envelope.RoleController)
	core := newMockLink("core")
	d.Connect(envelope.RoleCore, core)

	go func() {
		call, err := envelope.Decode(<-core.sent)
		if !assert.NoError(t, err) {
			return
		}

		assert.Equal(t, envelope.KindCommand, call.Kind)
		assert.Equal(t, envelope.RoleController, call.Sender)

		ack := envelope.NewAck(call, envelope.RoleCore, envelope.Succeed(call.TypeCode,
			&envelope.StatePayload{State: envelope.StateStopped}))

		data, err := envelope.Encode(ack)
		if !assert.NoError(t, err) {
			return
		}

		transport.push(config.Frame{Data: data, Link: core})
	}()

	res, err := d.SendCommand(context.Background(), envelope.RoleCore, envelope.CommandGetState, nil, time.Second)
	require.NoError(t, err)
	require.True(t, res.OK())

	success := res.(envelope.Success)
	require.Equal(t, &envelope.StatePayload{State: envelope.StateStopped}, success.Payload)
}

func TestSendCommand_RejectsMismatchedPayload(t *testing.T) {
	d, _ := startDispatcher(t, envelope.RoleController)

	_, err := d.SendCommand(context.Background(), envelope.RoleCore, envelope.CommandRecallMessage,
		&envelope.StatePayload{}, time.Second)
	require.Error(t, err)
}

func TestSendCommand_TimeoutThenLateAck(t *testing.T) {
	d, transport := startDispatcher(t, envelope.RoleController)
	core := newMockLink("core")
	d.Connect(envelope.RoleCore, core)

	start := time.Now()
	res, err := d.SendCommand(context.Background(), envelope.RoleCore, envelope.CommandStart, nil, 50*time.Millisecond)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, envelope.CodeTimeout, res.(envelope.Fail).ErrorCode)

	call := core.next(t)
	ack := envelope.NewAck(call, envelope.RoleCore, envelope.Succeed(call.TypeCode, nil))
	transport.push(config.Frame{Data: encode(t, ack), Link: core})

	// The late ack is dropped and the dispatcher keeps working.
	require.Eventually(t, func() bool { return d.PendingCalls() == 0 }, time.Second, 5*time.Millisecond)
}

func TestInbound_HandlerAcknowledges(t *testing.T) {
	d, transport := startDispatcher(t, envelope.RoleCore)
	ctl := newMockLink("ctl")

	d.Handle(envelope.CommandGetState, func(_ context.Context, in *Inbound) {
		_ = in.Succeed(&envelope.StatePayload{State: envelope.StateStopped})
	})

	call := envelope.NewCall(envelope.KindCommand, envelope.CommandGetState, envelope.RoleController, nil)
	transport.push(config.Frame{Data: encode(t, call), Link: ctl})

	ack := ctl.next(t)
	require.Equal(t, call.Key, ack.Key)
	require.Equal(t, envelope.RoleCore, ack.Sender)
	require.True(t, ack.Ack.IsSuccess)
	require.Equal(t, &envelope.StatePayload{State: envelope.StateStopped}, ack.Payload)
	require.Equal(t, []envelope.Role{envelope.RoleController}, d.Channel().Known())
}

func TestInbound_AsyncRespond(t *testing.T) {
	d, transport := startDispatcher(t, envelope.RoleCore)
	ctl := newMockLink("ctl")
	keys := make(chan string, 1)

	d.HandleFallback(func(_ context.Context, in *Inbound) {
		keys <- in.Key()
	})

	call := envelope.NewCall(envelope.KindCommand, envelope.TypeCode(77), envelope.RoleController, envelope.Custom{"q": "x"})
	transport.push(config.Frame{Data: encode(t, call), Link: ctl})

	key := <-keys
	require.Equal(t, 1, d.PendingInbound())

	require.NoError(t, d.Respond(key, envelope.Succeed(envelope.TypeCode(77), envelope.Custom{"a": "y"})))
	require.ErrorIs(t, d.Respond(key, envelope.Succeed(envelope.TypeCode(77), nil)), perrors.ErrAlreadyResponded)

	ack := ctl.next(t)
	require.Equal(t, key, ack.Key)
	require.Equal(t, envelope.Custom{"a": "y"}, ack.Payload)
}

func TestInbound_FirstAnswerWins(t *testing.T) {
	d, transport := startDispatcher(t, envelope.RoleCore)
	ctl := newMockLink("ctl")

	var second error

	d.Handle(envelope.CommandStart, func(_ context.Context, in *Inbound) {
		_ = in.Succeed(nil)
		second = in.Fail(envelope.CodeRepeatedCall)
	})

	call := envelope.NewCall(envelope.KindCommand, envelope.CommandStart, envelope.RoleController, nil)
	transport.push(config.Frame{Data: encode(t, call), Link: ctl})

	ack := ctl.next(t)
	require.True(t, ack.Ack.IsSuccess)
	require.ErrorIs(t, second, perrors.ErrAlreadyResponded)

	select {
	case extra := <-ctl.sent:
		t.Fatalf("unexpected second acknowledgement: %s", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInbound_NoHandler(t *testing.T) {
	d, transport := startDispatcher(t, envelope.RoleCore)
	ctl := newMockLink("ctl")

	call := envelope.NewCall(envelope.KindCommand, envelope.TypeCode(99), envelope.RoleController, nil)
	transport.push(config.Frame{Data: encode(t, call), Link: ctl})

	ack := ctl.next(t)
	require.False(t, ack.Ack.IsSuccess)
	require.Equal(t, envelope.CodeResourceNotFound, ack.Ack.ErrorCode)
	require.Zero(t, d.PendingInbound())
}

func TestInbound_HandlerPanicRecovered(t *testing.T) {
	d, transport := startDispatcher(t, envelope.RoleCore)
	ctl := newMockLink("ctl")

	d.Handle(envelope.CommandStop, func(context.Context, *Inbound) {
		panic("boom")
	})
	d.Handle(envelope.CommandGetState, func(_ context.Context, in *Inbound) {
		_ = in.Succeed(&envelope.StatePayload{State: envelope.StateRunning})
	})

	transport.push(config.Frame{Data: encode(t,
		envelope.NewCall(envelope.KindCommand, envelope.CommandStop, envelope.RoleController, nil)), Link: ctl})

	ack := ctl.next(t)
	require.Equal(t, envelope.CodeSendFailed, ack.Ack.ErrorCode)

	transport.push(config.Frame{Data: encode(t,
		envelope.NewCall(envelope.KindCommand, envelope.CommandGetState, envelope.RoleController, nil)), Link: ctl})

	ack = ctl.next(t)
	require.True(t, ack.Ack.IsSuccess)
}

func TestInbound_NeverAnsweredReleasedOnStop(t *testing.T) {
	transport := newMockTransport()
	d := NewDispatcher(testLogger(), envelope.RoleCore, transport)
	require.NoError(t, d.Start(context.Background()))

	entered := make(chan struct{})

	d.Handle(envelope.CommandStart, func(context.Context, *Inbound) {
		close(entered)
	})

	transport.push(config.Frame{Data: encode(t,
		envelope.NewCall(envelope.KindCommand, envelope.CommandStart, envelope.RoleController, nil)), Link: newMockLink("ctl")})

	<-entered
	require.Eventually(t, func() bool { return d.PendingInbound() == 1 }, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})

	go func() {
		d.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not release the unanswered call")
	}
}

func TestDispatcher_DecodeFaultSwallowed(t *testing.T) {
	d, transport := startDispatcher(t, envelope.RoleCore)
	ctl := newMockLink("ctl")

	d.Handle(envelope.CommandGetState, func(_ context.Context, in *Inbound) {
		_ = in.Succeed(&envelope.StatePayload{State: envelope.StateStopped})
	})

	transport.push(config.Frame{Data: []byte("{not json"), Link: ctl})
	transport.push(config.Frame{Data: encode(t,
		envelope.NewCall(envelope.KindCommand, envelope.CommandGetState, envelope.RoleController, nil)), Link: ctl})

	ack := ctl.next(t)
	require.True(t, ack.Ack.IsSuccess)
	require.Nil(t, d.FatalError())
}

func TestDispatcher_NotificationsInOrder(t *testing.T) {
	d, transport := startDispatcher(t, envelope.RoleController)
	core := newMockLink("core")

	var (
		mu     sync.Mutex
		states []envelope.State
	)

	d.HandleNotification(envelope.NotificationStateUpdate, func(_ context.Context, env *envelope.Envelope) {
		mu.Lock()
		defer mu.Unlock()

		states = append(states, env.Payload.(*envelope.StatePayload).State)
	})

	want := []envelope.State{envelope.StateLoading, envelope.StateRunning, envelope.StateStopped}
	for _, s := range want {
		transport.push(config.Frame{Data: encode(t, envelope.NewNotification(envelope.NotificationStateUpdate,
			envelope.RoleCore, &envelope.StatePayload{State: s})), Link: core})
	}

	// Unhandled codes are ignored.
	transport.push(config.Frame{Data: encode(t, envelope.NewNotification(envelope.TypeCode(5),
		envelope.RoleCore, envelope.Custom{})), Link: core})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(states) == len(want)
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	require.Equal(t, want, states)
	mu.Unlock()
}

func TestDispatcher_LinkClosedFailsPending(t *testing.T) {
	d, transport := startDispatcher(t, envelope.RoleCore)
	host := newMockLink("host")
	d.Connect(envelope.RoleMainHost, host)

	var lost atomic.Int32

	d.OnPeerLost(func(r envelope.Role) {
		if r == envelope.RoleMainHost {
			lost.Add(1)
		}
	})

	results := make(chan envelope.Result, 3)

	for range 3 {
		go func() {
			res, _ := d.SendRequest(context.Background(), envelope.RoleMainHost,
				envelope.RequestReceiveMessage, nil, 5*time.Second)
			results <- res
		}()
	}

	for range 3 {
		host.next(t)
	}

	transport.push(config.Frame{Link: host, Closed: true})

	for range 3 {
		select {
		case res := <-results:
			require.Equal(t, envelope.CodeDisconnected, res.(envelope.Fail).ErrorCode)
		case <-time.After(2 * time.Second):
			t.Fatal("pending request not flushed")
		}
	}

	require.Equal(t, int32(1), lost.Load())
	require.Empty(t, d.Channel().Known())
}

func TestDispatcher_TransportErrorIsFatal(t *testing.T) {
	d, transport := startDispatcher(t, envelope.RoleController)
	d.Connect(envelope.RoleCore, newMockLink("core"))

	result := make(chan envelope.Result, 1)

	go func() {
		res, _ := d.SendCommand(context.Background(), envelope.RoleCore, envelope.CommandStart, nil, 5*time.Second)
		result <- res
	}()

	require.Eventually(t, func() bool { return d.PendingCalls() == 1 }, time.Second, 5*time.Millisecond)

	transport.errs <- errors.New("pipe broken")

	select {
	case <-d.Done():
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}

	require.EqualError(t, d.FatalError(), "pipe broken")
	require.Equal(t, envelope.CodeDisconnected, (<-result).(envelope.Fail).ErrorCode)
}

func TestSendCommand_AckAfterTimeout_Race(t *testing.T) {
	for range 100 {
		transport := newMockTransport()
		d := NewDispatcher(testLogger(), envelope.RoleController, transport)
		require.NoError(t, d.Start(context.Background()))

		core := newMockLink("core")
		d.Connect(envelope.RoleCore, core)

		var wg sync.WaitGroup

		wg.Go(func() {
			res, err := d.SendCommand(context.Background(), envelope.RoleCore, envelope.CommandStart, nil, time.Millisecond)
			assert.NoError(t, err)
			assert.NotNil(t, res)
		})

		wg.Go(func() {
			data := <-core.sent

			call, err := envelope.Decode(data)
			if !assert.NoError(t, err) {
				return
			}

			ack := envelope.NewAck(call, envelope.RoleCore, envelope.Succeed(call.TypeCode, nil))
			ackData, err := envelope.Encode(ack)
			if !assert.NoError(t, err) {
				return
			}

			for range 5 {
				transport.push(config.Frame{Data: ackData, Link: core})
			}
		})

		wg.Wait()
		d.Stop()
	}
}

func TestSendCommand_ConcurrentCalls(t *testing.T) {
	d, transport := startDispatcher(t, envelope.RoleController)
	core := newMockLink("core")
	d.Connect(envelope.RoleCore, core)

	go func() {
		for data := range core.sent {
			call, err := envelope.Decode(data)
			if err != nil {
				return
			}

			ack := envelope.NewAck(call, envelope.RoleCore, envelope.Succeed(call.TypeCode, nil))
			ackData, _ := envelope.Encode(ack)
			transport.push(config.Frame{Data: ackData, Link: core})
		}
	}()

	var (
		wg sync.WaitGroup
		ok atomic.Int32
	)

	for range 50 {
		wg.Go(func() {
			res, err := d.SendCommand(context.Background(), envelope.RoleCore, envelope.CommandGetState, nil, 2*time.Second)
			if err == nil && res.OK() {
				ok.Add(1)
			}
		})
	}

	wg.Wait()
	require.Equal(t, int32(50), ok.Load())
}

// spanRecorder is a tracer provider that reports the name of every span started.
type spanRecorder struct {
	noop.TracerProvider

	spans chan string
}

func (p *spanRecorder) Tracer(string, ...trace.TracerOption) trace.Tracer {
	return recordingTracer{spans: p.spans}
}

type recordingTracer struct {
	noop.Tracer

	spans chan string
}

func (r recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	r.spans <- name

	return r.Tracer.Start(ctx, name, opts...)
}

func TestDispatcher_TracesCallsAndHandlers(t *testing.T) {
	rec := &spanRecorder{spans: make(chan string, 8)}

	transport := newMockTransport()
	d := NewDispatcher(testLogger(), envelope.RoleCore, transport, WithTracerProvider(rec))
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(d.Stop)

	d.Handle(envelope.CommandGetState, func(_ context.Context, in *Inbound) {
		_ = in.Succeed(&envelope.StatePayload{State: envelope.StateStopped})
	})

	ctl := newMockLink("ctl")
	call := envelope.NewCall(envelope.KindCommand, envelope.CommandGetState, envelope.RoleController, nil)
	transport.push(config.Frame{Data: encode(t, call), Link: ctl})
	ctl.next(t)

	require.Equal(t, "parabox.handle", <-rec.spans)

	res, err := d.SendRequest(context.Background(), envelope.RoleMainHost, envelope.RequestReceiveMessage,
		&envelope.ReceiveMessagePayload{}, 50*time.Millisecond)
	require.NoError(t, err)
	require.False(t, res.OK())
	require.Equal(t, "parabox.call", <-rec.spans)
}
