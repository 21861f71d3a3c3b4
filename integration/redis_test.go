//go:build integration

package integration

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagiedev/parabox-connector-go"
)

// A message the main host could not take survives a core restart when the
// retry store is Redis, and is delivered by the next refresh.
func TestRedis_UnreceivedSurvivesRestart(t *testing.T) {
	addr := envOrSkip(t, "PARABOX_TEST_REDIS_ADDR")
	prefix := "parabox:it:" + t.Name() + ":"

	store := parabox.NewRedisStore(addr, prefix)
	require.NoError(t, store.Ping(t.Context()))
	t.Cleanup(func() { _ = store.Close() })

	first, _ := parabox.NewPipe()

	c1, err := parabox.NewCore(parabox.WithTransport(first), parabox.WithRetryStore(store))
	require.NoError(t, err)
	require.NoError(t, c1.Start(t.Context()))

	// No main host is connected, so the request fails and is queued.
	res, err := c1.ReceiveMessage(t.Context(), parabox.ReceiveMessageDto{
		Contents:  textOf("kept in redis"),
		MessageID: ptr(int64(77)),
	})
	require.NoError(t, err)
	require.False(t, res.OK())
	require.NoError(t, c1.Close())

	coreSide, hostSide := parabox.NewPipe()
	c2 := startCore(t, parabox.WithTransport(coreSide), parabox.WithRetryStore(store))

	unreceived, _, err := c2.PendingRetries(t.Context())
	require.NoError(t, err)
	require.Equal(t, 1, unreceived)

	host, err := parabox.NewMainHost(parabox.WithTransport(hostSide))
	require.NoError(t, err)

	var delivered atomic.Int32
	host.HandleReceiveMessage(func(context.Context, parabox.ReceiveMessageDto) bool {
		delivered.Add(1)

		return true
	})

	require.NoError(t, host.Start(t.Context()))
	t.Cleanup(func() { _ = host.Close() })

	host.Connect(parabox.CoreLink(hostSide))

	res, err = host.RefreshMessage(t.Context())
	require.NoError(t, err)
	require.True(t, res.OK())

	require.Eventually(t, func() bool {
		n, _, err := c2.PendingRetries(t.Context())

		return err == nil && n == 0
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, int32(1), delivered.Load())
}
