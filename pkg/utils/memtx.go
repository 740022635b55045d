package utils

import (
	"context"
	"sync"
)

// Snapshotter is implemented by in-memory repositories that can take part in a
// MemoryTxRunner unit of work. Snapshot captures current state and returns a
// function that puts it back.
type Snapshotter interface {
	Snapshot() (restore func())
}

// MemoryTxRunner gives in-memory repositories transaction semantics for tests
// and local development: units of work are serialized, and state is restored
// when fn fails or panics.
type MemoryTxRunner struct {
	mu     sync.Mutex
	stores []Snapshotter
}

func NewMemoryTxRunner(stores ...Snapshotter) *MemoryTxRunner {
	return &MemoryTxRunner{stores: stores}
}

type memTxKey struct{}

func (r *MemoryTxRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if owner, ok := ctx.Value(memTxKey{}).(*MemoryTxRunner); ok && owner == r {
		return fn(ctx)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	restores := make([]func(), 0, len(r.stores))
	for _, s := range r.stores {
		restores = append(restores, s.Snapshot())
	}
	rollback := func() {
		for i := len(restores) - 1; i >= 0; i-- {
			restores[i]()
		}
	}

	defer func() {
		if p := recover(); p != nil {
			rollback()
			panic(p)
		}
		if err != nil {
			rollback()
		}
	}()

	return fn(context.WithValue(ctx, memTxKey{}, r))
}
