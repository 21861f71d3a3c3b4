package retry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/wagiedev/parabox-connector-go/internal/jsoncodec"
	"github.com/wagiedev/parabox-connector-go/internal/metrics"
)

// Queue names used by the core endpoint.
const (
	QueueUnreceived = "unreceived"
	QueueUnsynced   = "unsynced"
)

// defaultReplayConcurrency bounds how many entries are replayed at once.
const defaultReplayConcurrency = 16

// Queue is a typed view over one named queue in a Store.
type Queue[T any] struct {
	name    string
	store   Store
	idOf    func(T) (int64, bool)
	log     *slog.Logger
	metrics *metrics.Metrics

	concurrency int
}

// NewQueue creates a queue. idOf extracts the message id of an item; items
// without one are never queued.
func NewQueue[T any](log *slog.Logger, name string, store Store, idOf func(T) (int64, bool), m *metrics.Metrics) *Queue[T] {
	return &Queue[T]{
		name:        name,
		store:       store,
		idOf:        idOf,
		log:         log.With("component", "retry", "queue", name),
		metrics:     m,
		concurrency: defaultReplayConcurrency,
	}
}

// Name returns the queue name.
func (q *Queue[T]) Name() string {
	return q.name
}

// SetConcurrency bounds parallel replays. Values below one are ignored.
func (q *Queue[T]) SetConcurrency(n int) {
	if n > 0 {
		q.concurrency = n
	}
}

// Add stores item under its message id and reports whether it was queued.
// Adding the same id twice keeps a single entry.
func (q *Queue[T]) Add(ctx context.Context, item T) (bool, error) {
	id, ok := q.idOf(item)
	if !ok {
		return false, nil
	}

	data, err := jsoncodec.Marshal(item)
	if err != nil {
		return false, fmt.Errorf("encode %s entry %d: %w", q.name, id, err)
	}

	if err := q.store.Put(ctx, q.name, id, data); err != nil {
		return false, fmt.Errorf("store %s entry %d: %w", q.name, id, err)
	}

	q.log.Debug("Queued entry", "id", id)
	q.updateGauge(ctx)

	return true, nil
}

// Remove deletes the entry of item if it has a message id.
func (q *Queue[T]) Remove(ctx context.Context, item T) error {
	id, ok := q.idOf(item)
	if !ok {
		return nil
	}

	return q.RemoveID(ctx, id)
}

// RemoveID deletes the entry with id.
func (q *Queue[T]) RemoveID(ctx context.Context, id int64) error {
	if err := q.store.Delete(ctx, q.name, id); err != nil {
		return fmt.Errorf("delete %s entry %d: %w", q.name, id, err)
	}

	q.updateGauge(ctx)

	return nil
}

// Entry is one queued item and its id.
type Entry[T any] struct {
	ID   int64
	Item T
}

// Entries returns every queued item ordered by id.
func (q *Queue[T]) Entries(ctx context.Context) ([]Entry[T], error) {
	raw, err := q.store.List(ctx, q.name)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", q.name, err)
	}

	entries := make([]Entry[T], 0, len(raw))

	for id, data := range raw {
		var item T
		if err := jsoncodec.Unmarshal(data, &item); err != nil {
			q.log.Warn("Skipping undecodable entry", "id", id, "error", err)

			continue
		}

		entries = append(entries, Entry[T]{ID: id, Item: item})
	}

	slices.SortFunc(entries, func(a, b Entry[T]) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})

	return entries, nil
}

// Len returns the number of queued entries.
func (q *Queue[T]) Len(ctx context.Context) (int, error) {
	return q.store.Len(ctx, q.name)
}

// ReplayStats summarizes one replay.
type ReplayStats struct {
	Attempted int
	Succeeded int
}

// Replay calls send for every queued entry concurrently. Entries whose send
// succeeds are removed; the rest stay queued.
func (q *Queue[T]) Replay(ctx context.Context, send func(context.Context, T) bool) (ReplayStats, error) {
	entries, err := q.Entries(ctx)
	if err != nil {
		return ReplayStats{}, err
	}

	if len(entries) == 0 {
		return ReplayStats{}, nil
	}

	q.log.Debug("Replaying entries", "count", len(entries))

	var succeeded atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.concurrency)

	for _, e := range entries {
		g.Go(func() error {
			if !send(gctx, e.Item) {
				q.metrics.RetryReplayed(q.name, metrics.OutcomeFail)

				return nil
			}

			q.metrics.RetryReplayed(q.name, metrics.OutcomeSuccess)
			succeeded.Add(1)

			if err := q.store.Delete(gctx, q.name, e.ID); err != nil {
				return fmt.Errorf("delete %s entry %d: %w", q.name, e.ID, err)
			}

			return nil
		})
	}

	err = g.Wait()
	q.updateGauge(ctx)

	return ReplayStats{Attempted: len(entries), Succeeded: int(succeeded.Load())}, err
}

func (q *Queue[T]) updateGauge(ctx context.Context) {
	if q.metrics == nil {
		return
	}

	n, err := q.store.Len(ctx, q.name)
	if err != nil {
		return
	}

	q.metrics.SetRetryEntries(q.name, n)
}
