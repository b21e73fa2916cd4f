package registry

import (
	"context"
	"sync/atomic"
)

type lockKey struct{}

// heldLock marks a context as running under the registry lock.
type heldLock struct {
	r      *Registry
	active atomic.Bool
}

// lock acquires the tree lock unless ctx already carries it. The returned
// context must be passed to every callback made while the lock is held.
func (r *Registry) lock(ctx context.Context) (context.Context, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if h, ok := ctx.Value(lockKey{}).(*heldLock); ok && h.r == r && h.active.Load() {
		return ctx, func() {}
	}

	r.mu.Lock()
	h := &heldLock{r: r}
	h.active.Store(true)
	return context.WithValue(ctx, lockKey{}, h), func() {
		h.active.Store(false)
		r.mu.Unlock()
	}
}
