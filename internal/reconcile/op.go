package reconcile

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lalith-99/viewify/internal/models"
)

// Op is the handle for one optimistic mutation. The local state change has
// already happened when the caller gets it; Done closes once the store (or
// a matching feed event) has settled the outcome and listeners have seen it.
type Op struct {
	localID string
	done    chan struct{}
	once    sync.Once

	mu  sync.Mutex
	ent models.Entity
	err error
}

func newOp(localID string) *Op {
	return &Op{localID: localID, done: make(chan struct{})}
}

// LocalID is the id the row was visible under when the op started.
func (o *Op) LocalID() string { return o.localID }

// ID is the authoritative id, or "" until the op succeeds.
func (o *Op) ID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return ""
	}
	return o.ent.ID
}

func (o *Op) Done() <-chan struct{} { return o.done }

// Err is nil while the op is in flight.
func (o *Op) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Wait blocks until the op settles or ctx ends.
func (o *Op) Wait(ctx context.Context) (models.Entity, error) {
	select {
	case <-o.done:
		o.mu.Lock()
		defer o.mu.Unlock()
		return o.ent, o.err
	case <-ctx.Done():
		return models.Entity{}, ctx.Err()
	}
}

// finish settles the op. Only the first call counts: whichever of the store
// response and the feed event arrives first wins.
func (o *Op) finish(e models.Entity, err error) {
	o.once.Do(func() {
		o.mu.Lock()
		o.ent, o.err = e, err
		o.mu.Unlock()
		close(o.done)
	})
}

// WaitAll waits for every op and returns the first error.
func WaitAll(ctx context.Context, ops ...*Op) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, op := range ops {
		if op == nil {
			continue
		}
		g.Go(func() error {
			_, err := op.Wait(ctx)
			return err
		})
	}
	return g.Wait()
}
