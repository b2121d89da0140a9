package chain

import (
	"context"
	"sync"

	serrors "github.com/axleworks/settler/common/errors"
)

type execTokenKey struct{}

// Executor provides the serialized-transaction guarantee the settlement
// engines assume. Entry points queue on one lock. The context returned by
// Begin marks the in-flight transaction; a nested Begin carrying that mark
// is the in-flight taker callback re-entering and is rejected instead of
// deadlocking on its own lock. Unrelated callers simply queue.
type Executor struct {
	mu sync.Mutex
}

// Begin enters a settlement transaction, blocking until any in-flight one
// completes. It returns a context to hand to untrusted calls made inside the
// transaction and the completion func to defer. A Begin issued with the
// in-flight transaction's own context fails with ErrReentrantCall.
func (e *Executor) Begin(ctx context.Context) (context.Context, func(), error) {
	if owner, _ := ctx.Value(execTokenKey{}).(*Executor); owner == e {
		return nil, nil, serrors.ErrReentrantCall
	}
	e.mu.Lock()
	return context.WithValue(ctx, execTokenKey{}, e), func() { e.mu.Unlock() }, nil
}
