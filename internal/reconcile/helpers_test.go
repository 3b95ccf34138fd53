package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lalith-99/viewify/internal/models"
	"github.com/lalith-99/viewify/internal/repository"
	"github.com/lalith-99/viewify/internal/repository/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// gatedStore wraps the memory store. Calls whose key has a gate block until
// the gate is closed; calls for an op with an injected error fail.
//
// Keys: create calls use the entity text, update and delete calls use
// "update:<id>" and "delete:<id>".
type gatedStore struct {
	*memory.Store

	mu    sync.Mutex
	gates map[string]chan struct{}
	fail  map[string]error
}

func newGatedStore(clock *fakeClock, opts ...memory.Option) *gatedStore {
	opts = append([]memory.Option{memory.WithClock(clock.Now)}, opts...)
	return &gatedStore{
		Store: memory.New(opts...),
		gates: make(map[string]chan struct{}),
		fail:  make(map[string]error),
	}
}

func (s *gatedStore) hold(key string) func() {
	ch := make(chan struct{})
	s.mu.Lock()
	s.gates[key] = ch
	s.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (s *gatedStore) failOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

func (s *gatedStore) pass(ctx context.Context, key, op string) error {
	s.mu.Lock()
	ch := s.gates[key]
	s.mu.Unlock()
	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fail[op]
}

func (s *gatedStore) Create(ctx context.Context, e models.Entity) (models.Entity, error) {
	if err := s.pass(ctx, e.Text, "create"); err != nil {
		return models.Entity{}, err
	}
	return s.Store.Create(ctx, e)
}

func (s *gatedStore) Update(ctx context.Context, kind models.Kind, id string, patch models.Patch) (models.Entity, error) {
	if err := s.pass(ctx, "update:"+id, "update"); err != nil {
		return models.Entity{}, err
	}
	return s.Store.Update(ctx, kind, id, patch)
}

func (s *gatedStore) Delete(ctx context.Context, kind models.Kind, id string) error {
	if err := s.pass(ctx, "delete:"+id, "delete"); err != nil {
		return err
	}
	return s.Store.Delete(ctx, kind, id)
}

type countingRecorder struct {
	mu        sync.Mutex
	events    map[string]int
	rollbacks map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{events: map[string]int{}, rollbacks: map[string]int{}}
}

func (r *countingRecorder) ObserveEvent(kind, outcome string) {
	r.mu.Lock()
	r.events[outcome]++
	r.mu.Unlock()
}

func (r *countingRecorder) ObserveStoreCall(string, string, error) {}

func (r *countingRecorder) ObserveRollback(kind, op string) {
	r.mu.Lock()
	r.rollbacks[op]++
	r.mu.Unlock()
}

func (r *countingRecorder) count(m map[string]int, key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return m[key]
}

func postComments(store repository.EntityStore, clock *fakeClock, opts Options) *Collection {
	opts.Now = clock.Now
	return New(models.KindComment, store, repository.Filter{PostID: "p1", RootOnly: true}, opts)
}

func waitOp(t *testing.T, op *Op) (models.Entity, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	e, err := op.Wait(ctx)
	if err == context.DeadlineExceeded {
		t.Fatalf("op %s did not settle", op.LocalID())
	}
	return e, err
}

func texts(es []models.Entity) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Text
	}
	return out
}

func event(typ models.EventType, e models.Entity) models.Event {
	return models.Event{Type: typ, Entity: e}
}
