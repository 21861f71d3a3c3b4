package correlation

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

	"github.com/wagiedev/parabox-connector-go/internal/envelope"
	perrors "github.com/wagiedev/parabox-connector-go/internal/errors"
)

func newTestRegistry() *Registry {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegister_DuplicateKey(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Register("k1", envelope.CommandStart, envelope.RoleCore)
	require.NoError(t, err)

	_, err = r.Register("k1", envelope.CommandStart, envelope.RoleCore)
	require.ErrorIs(t, err, perrors.ErrDuplicateKey)
	require.Equal(t, 1, r.Len())
}

func TestFulfill_DeliversToWaiter(t *testing.T) {
	r := newTestRegistry()

	call, err := r.Register("k1", envelope.CommandGetState, envelope.RoleCore)
	require.NoError(t, err)

	want := envelope.Succeed(envelope.CommandGetState, &envelope.StatePayload{State: envelope.StateStopped})

	go func() {
		time.Sleep(10 * time.Millisecond)
		assert.True(t, r.Fulfill("k1", want))
	}()

	got, err := r.Await(context.Background(), call, time.Second)
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Zero(t, r.Len())
}

func TestFulfill_UnknownKey(t *testing.T) {
	r := newTestRegistry()
	require.False(t, r.Fulfill("missing", envelope.Succeed(envelope.CommandStart, nil)))
}

func TestAwait_TimeoutBound(t *testing.T) {
	r := newTestRegistry()

	call, err := r.Register("k1", envelope.CommandStart, envelope.RoleCore)
	require.NoError(t, err)

	start := time.Now()
	got, err := r.Await(context.Background(), call, 50*time.Millisecond)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Equal(t, envelope.CodeTimeout, got.(envelope.Fail).ErrorCode)
	require.Equal(t, envelope.CommandStart, got.Code())
	require.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	require.Less(t, elapsed, time.Second)

	// A late acknowledgement is dropped.
	require.False(t, r.Fulfill("k1", envelope.Succeed(envelope.CommandStart, nil)))
	require.Zero(t, r.Len())
}

func TestAwait_AckBeforeAwait(t *testing.T) {
	r := newTestRegistry()

	call, err := r.Register("k1", envelope.CommandStop, envelope.RoleCore)
	require.NoError(t, err)
	require.True(t, r.Fulfill("k1", envelope.Failed(envelope.CommandStop, envelope.CodeRepeatedCall)))

	got, err := r.Await(context.Background(), call, time.Nanosecond)
	require.NoError(t, err)
	require.Equal(t, envelope.CodeRepeatedCall, got.(envelope.Fail).ErrorCode)
}

func TestAwait_ContextCancelled(t *testing.T) {
	r := newTestRegistry()

	call, err := r.Register("k1", envelope.CommandStart, envelope.RoleCore)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = r.Await(ctx, call, time.Second)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, r.Pending("k1"))
}

func TestAwait_NoDeadline(t *testing.T) {
	r := newTestRegistry()

	call, err := r.Register("k1", envelope.TypeCode(42), envelope.RoleController)
	require.NoError(t, err)

	done := make(chan envelope.Result, 1)

	go func() {
		res, _ := r.Await(context.Background(), call, 0)
		done <- res
	}()

	select {
	case <-done:
		t.Fatal("await without deadline returned early")
	case <-time.After(30 * time.Millisecond):
	}

	require.True(t, r.Fulfill("k1", envelope.Succeed(envelope.TypeCode(42), envelope.Custom{"a": 1.0})))

	select {
	case res := <-done:
		require.True(t, res.OK())
	case <-time.After(time.Second):
		t.Fatal("await did not return after fulfil")
	}
}

func TestFailPeer_DisconnectFlush(t *testing.T) {
	r := newTestRegistry()

	var calls []*Call

	for _, key := range []string{"a", "b", "c"} {
		call, err := r.Register(key, envelope.RequestReceiveMessage, envelope.RoleMainHost)
		require.NoError(t, err)

		calls = append(calls, call)
	}

	other, err := r.Register("d", envelope.CommandStart, envelope.RoleController)
	require.NoError(t, err)

	require.Equal(t, 3, r.FailPeer(envelope.RoleMainHost, envelope.CodeDisconnected))
	require.Equal(t, 1, r.Len())

	for _, call := range calls {
		res, err := r.Await(context.Background(), call, time.Second)
		require.NoError(t, err)
		require.Equal(t, envelope.CodeDisconnected, res.(envelope.Fail).ErrorCode)
	}

	require.Equal(t, 1, r.FailAll(envelope.CodeDisconnected))

	res, err := r.Await(context.Background(), other, time.Second)
	require.NoError(t, err)
	require.False(t, res.OK())
	require.Zero(t, r.Len())
}

func TestRelease(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Register("k1", envelope.CommandStart, envelope.RoleCore)
	require.NoError(t, err)

	require.True(t, r.Release("k1"))
	require.False(t, r.Release("k1"))
	require.False(t, r.Fulfill("k1", envelope.Succeed(envelope.CommandStart, nil)))
}

func TestSingleFulfilment_Race(t *testing.T) {
	for range 100 {
		r := newTestRegistry()

		call, err := r.Register("k", envelope.CommandStart, envelope.RoleCore)
		require.NoError(t, err)

		var (
			wg       sync.WaitGroup
			accepted atomic.Int32
		)

		for range 4 {
			wg.Go(func() {
				if r.Fulfill("k", envelope.Succeed(envelope.CommandStart, nil)) {
					accepted.Add(1)
				}
			})
		}

		wg.Go(func() {
			if r.FailPeer(envelope.RoleCore, envelope.CodeDisconnected) > 0 {
				accepted.Add(1)
			}
		})

		res, err := r.Await(context.Background(), call, time.Millisecond)
		require.NoError(t, err)
		require.NotNil(t, res)

		wg.Wait()

		// The timer may have won instead of any writer.
		require.LessOrEqual(t, accepted.Load(), int32(1))
		require.Zero(t, r.Len())

		if accepted.Load() == 0 {
			require.Equal(t, envelope.CodeTimeout, res.(envelope.Fail).ErrorCode)
		}
	}
}

func TestAwait_ConcurrentCalls(t *testing.T) {
	r := newTestRegistry()

	var wg sync.WaitGroup

	for range 50 {
		key := envelope.NewKey()

		call, err := r.Register(key, envelope.CommandGetState, envelope.RoleCore)
		require.NoError(t, err)

		wg.Go(func() {
			res, err := r.Await(context.Background(), call, time.Second)
			if !assert.NoError(t, err) {
				return
			}

			assert.True(t, res.OK())
		})

		wg.Go(func() {
			r.Fulfill(key, envelope.Succeed(envelope.CommandGetState, nil))
		})
	}

	wg.Wait()
	require.Zero(t, r.Len())
}

func TestAwait_ErrorsIsCallError(t *testing.T) {
	r := newTestRegistry()

	call, err := r.Register("k", envelope.CommandSendMessage, envelope.RoleCore)
	require.NoError(t, err)
	r.Fulfill("k", envelope.Failed(envelope.CommandSendMessage, envelope.CodeSendFailed))

	res, err := r.Await(context.Background(), call, time.Second)
	require.NoError(t, err)

	callErr, ok := errors.AsType[*perrors.CallError](envelope.AsError(res))
	require.True(t, ok)
	require.Equal(t, int(envelope.CodeSendFailed), callErr.Code)
}

func TestLocalFailures_CarrySendTime(t *testing.T) {
	r := newTestRegistry()

	timed, err := r.RegisterSent("t", envelope.CommandStart, envelope.RoleCore, 1700000000001)
	require.NoError(t, err)

	res, err := r.Await(context.Background(), timed, 5*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, envelope.Fail{
		TypeCode:  envelope.CommandStart,
		Timestamp: 1700000000001,
		ErrorCode: envelope.CodeTimeout,
	}, res)

	flushed, err := r.RegisterSent("f", envelope.RequestSyncMessage, envelope.RoleMainHost, 1700000000002)
	require.NoError(t, err)
	require.Equal(t, 1, r.FailPeer(envelope.RoleMainHost, envelope.CodeDisconnected))

	res, err = r.Await(context.Background(), flushed, time.Second)
	require.NoError(t, err)
	require.Equal(t, int64(1700000000002), res.(envelope.Fail).Timestamp)
}
