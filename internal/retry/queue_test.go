package retry

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/wagiedev/parabox-connector-go/internal/message"
	"github.com/wagiedev/parabox-connector-go/internal/metrics"
)

func receiveID(dto message.ReceiveMessageDto) (int64, bool) {
	if dto.MessageID == nil {
		return 0, false
	}

	return *dto.MessageID, true
}

func newTestQueue(store Store) *Queue[message.ReceiveMessageDto] {
	return NewQueue(slog.New(slog.NewTextHandler(io.Discard, nil)), QueueUnreceived, store, receiveID,
		metrics.New(prometheus.NewRegistry()))
}

func dtoWithID(id int64, text string) message.ReceiveMessageDto {
	return message.ReceiveMessageDto{
		Contents:  message.Contents{&message.PlainText{Text: text}},
		Profile:   message.Profile{Name: "alice"},
		MessageID: &id,
	}
}

func TestQueue_AddIsIdempotent(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(NewMemoryStore())

	for range 3 {
		queued, err := q.Add(ctx, dtoWithID(1, "hi"))
		require.NoError(t, err)
		require.True(t, queued)
	}

	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestQueue_SkipsItemsWithoutID(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(NewMemoryStore())

	queued, err := q.Add(ctx, message.ReceiveMessageDto{Profile: message.Profile{Name: "anon"}})
	require.NoError(t, err)
	require.False(t, queued)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, q.Remove(ctx, message.ReceiveMessageDto{}))
}

func TestQueue_EntriesOrderedAndDecoded(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(NewMemoryStore())

	for _, id := range []int64{30, 10, 20} {
		_, err := q.Add(ctx, dtoWithID(id, "m"))
		require.NoError(t, err)
	}

	entries, err := q.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, []int64{10, 20, 30}, []int64{entries[0].ID, entries[1].ID, entries[2].ID})
	require.Equal(t, "m", entries[0].Item.Contents.ContentString())
	require.Equal(t, "alice", entries[0].Item.Profile.Name)
}

func TestQueue_Remove(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(NewMemoryStore())

	_, err := q.Add(ctx, dtoWithID(1, "a"))
	require.NoError(t, err)
	_, err = q.Add(ctx, dtoWithID(2, "b"))
	require.NoError(t, err)

	require.NoError(t, q.Remove(ctx, dtoWithID(1, "a")))
	require.NoError(t, q.RemoveID(ctx, 99))

	entries, err := q.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, int64(2), entries[0].ID)
}

func TestQueue_ReplayRemovesSucceeded(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(NewMemoryStore())

	for id := range int64(6) {
		_, err := q.Add(ctx, dtoWithID(id, "m"))
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen []int64
	)

	stats, err := q.Replay(ctx, func(_ context.Context, dto message.ReceiveMessageDto) bool {
		mu.Lock()
		seen = append(seen, *dto.MessageID)
		mu.Unlock()

		return *dto.MessageID%2 == 0
	})
	require.NoError(t, err)
	require.Equal(t, ReplayStats{Attempted: 6, Succeeded: 3}, stats)
	require.ElementsMatch(t, []int64{0, 1, 2, 3, 4, 5}, seen)

	entries, err := q.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	for _, e := range entries {
		require.Equal(t, int64(1), e.ID%2)
	}
}

func TestQueue_ReplayEmptyIsNoop(t *testing.T) {
	q := newTestQueue(NewMemoryStore())

	called := false

	stats, err := q.Replay(context.Background(), func(context.Context, message.ReceiveMessageDto) bool {
		called = true

		return true
	})
	require.NoError(t, err)
	require.Zero(t, stats)
	require.False(t, called)
}

func TestQueue_ReplayConcurrencyBound(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(NewMemoryStore())
	q.SetConcurrency(2)

	for id := range int64(10) {
		_, err := q.Add(ctx, dtoWithID(id, "m"))
		require.NoError(t, err)
	}

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
	)

	_, err := q.Replay(ctx, func(context.Context, message.ReceiveMessageDto) bool {
		mu.Lock()
		active++
		maxSeen = max(maxSeen, active)
		mu.Unlock()

		mu.Lock()
		active--
		mu.Unlock()

		return true
	})
	require.NoError(t, err)
	require.LessOrEqual(t, maxSeen, 2)
}

func TestMemoryStore_QueuesAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Put(ctx, QueueUnreceived, 1, []byte(`{}`)))
	require.NoError(t, s.Put(ctx, QueueUnsynced, 1, []byte(`{"x":1}`)))
	require.NoError(t, s.Delete(ctx, QueueUnreceived, 1))

	n, err := s.Len(ctx, QueueUnreceived)
	require.NoError(t, err)
	require.Zero(t, n)

	got, err := s.List(ctx, QueueUnsynced)
	require.NoError(t, err)
	require.Equal(t, map[int64][]byte{1: []byte(`{"x":1}`)}, got)
}
