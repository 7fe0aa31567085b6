package store

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// MemoryStore keeps window state in a process-local map. Entries are never
// evicted, so memory grows with the number of distinct keys seen.
type MemoryStore struct {
	data map[string]*WindowState
	// lock is a weight-1 semaphore so waiters can give up when their
	// context is cancelled.
	lock   *semaphore.Weighted
	logger *zap.Logger
}

type MemoryStoreOption func(*MemoryStore)

func WithMemoryStoreLogger(logger *zap.Logger) MemoryStoreOption {
	return func(ms *MemoryStore) {
		if logger != nil {
			ms.logger = logger
		}
	}
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	ms := &MemoryStore{
		data:   make(map[string]*WindowState),
		lock:   semaphore.NewWeighted(1),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ms)
	}
	return ms
}

func (ms *MemoryStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := ms.lock.Acquire(ctx, 1); err != nil {
		ms.logger.Debug("window store lock abandoned", zap.String("key", key), zap.Error(err))
		return err
	}
	defer ms.lock.Release(1)

	var prev *WindowState
	if current, ok := ms.data[key]; ok {
		snapshot := *current
		prev = &snapshot
	}

	next := fn(prev)
	if next == nil {
		return nil
	}

	if current, ok := ms.data[key]; ok {
		*current = *next
		return nil
	}
	state := *next
	ms.data[key] = &state
	return nil
}

func (ms *MemoryStore) Get(ctx context.Context, key string) (*WindowState, error) {
	if err := ms.lock.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer ms.lock.Release(1)

	current, ok := ms.data[key]
	if !ok {
		return nil, nil
	}
	snapshot := *current
	return &snapshot, nil
}

// Len reports the number of tracked keys. It waits for in-flight updates.
func (ms *MemoryStore) Len() int {
	// Acquire only fails on a done context, and Background never is.
	if err := ms.lock.Acquire(context.Background(), 1); err != nil {
		return 0
	}
	defer ms.lock.Release(1)

	return len(ms.data)
}
