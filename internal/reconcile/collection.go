package reconcile

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/lalith-99/viewify/internal/models"
	"github.com/lalith-99/viewify/internal/observ"
	"github.com/lalith-99/viewify/internal/repository"
)

// MaxTextLength caps comment and message bodies, in runes.
const MaxTextLength = 2000

// DefaultTombstoneTTL is how long a deleted id is remembered when
// Options.TombstoneTTL is unset.
const DefaultTombstoneTTL = 2 * time.Minute

// Recorder receives counters for what a collection does. observ.Metrics
// implements it.
type Recorder interface {
	ObserveEvent(kind, outcome string)
	ObserveStoreCall(kind, op string, err error)
	ObserveRollback(kind, op string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveEvent(string, string)            {}
func (nopRecorder) ObserveStoreCall(string, string, error) {}
func (nopRecorder) ObserveRollback(string, string)         {}

// Subscriber is the shared change feed. feed.Hub implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, kind models.Kind, match func(models.Entity) bool, handle func(models.Event)) (func(), error)
}

type Options struct {
	// Now defaults to time.Now.
	Now func() time.Time

	MatchWindow  time.Duration
	TombstoneTTL time.Duration
	BufferTTL    time.Duration
	// FailedTTL drops failed rows after this long. 0 keeps them until
	// Retry or Discard.
	FailedTTL    time.Duration
	StoreTimeout time.Duration
	ListLimit    int

	// SortBySubmission orders rows by the time they were submitted here
	// instead of the store's CreatedAt, so confirmation never moves a row.
	SortBySubmission bool

	// OnConfirm runs when a local row gets its authoritative id.
	OnConfirm func(localID string, e models.Entity)
	// OnFail runs when a local submission fails.
	OnFail func(localID string, err error)
	// OnDelete runs when a row is tombstoned, locally or remotely.
	OnDelete func(e models.Entity)

	Logger   *zap.Logger
	Recorder Recorder
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.MatchWindow <= 0 {
		o.MatchWindow = 10 * time.Second
	}
	if o.TombstoneTTL <= 0 {
		o.TombstoneTTL = DefaultTombstoneTTL
	}
	if o.BufferTTL <= 0 {
		o.BufferTTL = 30 * time.Second
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 10 * time.Second
	}
	if o.ListLimit <= 0 {
		o.ListLimit = 50
	}
	o.Logger = observ.OrNop(o.Logger)
	if o.Recorder == nil {
		o.Recorder = nopRecorder{}
	}
	return o
}

// Collection is the visible, ordered set of one entity kind within one
// scope. It merges local optimistic mutations, store responses, and feed
// events into a single de-duplicated view.
//
// All state sits behind mu. Store calls run on their own goroutines and
// re-take the lock to apply their results; listeners and hooks are always
// called with the lock released.
type Collection struct {
	kind  models.Kind
	store repository.EntityStore
	opts  Options
	log   *zap.Logger

	mu         sync.Mutex
	filter     repository.Filter
	rows       map[string]*row // by current id, local or authoritative
	aliases    map[string]string
	tombstones map[string]time.Time // id -> expiry
	buffer     map[string]buffered
	listeners  map[int]func([]models.Entity)
	nextL      int
	seq        uint64
	version    uint64
	mounted    bool
	unsubs     []func()

	emitMu  sync.Mutex
	emitted uint64
}

type row struct {
	ent       models.Entity
	seq       uint64
	submitted time.Time
	op        *Op // outstanding create; nil once settled
	held      bool
	failedAt  time.Time
	// deletedRemotely is set when a delete event lands while our own
	// delete is in flight, so a failed call doesn't bring the row back.
	deletedRemotely bool
}

type buffered struct {
	ent models.Entity
	at  time.Time
}

// effects collects what has to happen once mu is released.
type effects struct {
	hooks   []func()
	ops     []settled
	changed bool
}

type settled struct {
	op  *Op
	ent models.Entity
	err error
}

func (fx *effects) settle(op *Op, e models.Entity, err error) {
	if op != nil {
		fx.ops = append(fx.ops, settled{op, e, err})
	}
}

func New(kind models.Kind, store repository.EntityStore, filter repository.Filter, opts Options) *Collection {
	opts = opts.withDefaults()
	return &Collection{
		kind:       kind,
		store:      store,
		opts:       opts,
		log:        opts.Logger.With(zap.String("kind", string(kind))),
		filter:     filter,
		rows:       make(map[string]*row),
		aliases:    make(map[string]string),
		tombstones: make(map[string]time.Time),
		buffer:     make(map[string]buffered),
		listeners:  make(map[int]func([]models.Entity)),
		mounted:    true,
	}
}

func (c *Collection) Kind() models.Kind { return c.kind }

func (c *Collection) Filter() repository.Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

// Rescope swaps the scope predicate. Used when a scope keyed by a local id
// learns its authoritative id.
func (c *Collection) Rescope(f repository.Filter) {
	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()
}

// Attach subscribes the collection to the shared feed. Events are filtered
// by Matches before they reach ApplyEvent.
func (c *Collection) Attach(ctx context.Context, sub Subscriber) error {
	unsub, err := sub.Subscribe(ctx, c.kind, c.Matches, func(ev models.Event) {
		c.ApplyEvent(ev)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.kind, err)
	}

	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		unsub()
		return ErrUnmounted
	}
	c.unsubs = append(c.unsubs, unsub)
	c.mu.Unlock()
	return nil
}

// Matches reports whether an event about e concerns this collection: it is
// in scope, or it names an id the collection already tracks.
func (c *Collection) Matches(e models.Entity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.filter.Match(e) {
		return true
	}
	if c.find(e.ID) != nil {
		return true
	}
	_, dead := c.tombstones[e.ID]
	return dead
}

// OnChange registers fn to receive the visible list after every change.
// fn must not mutate the collection.
func (c *Collection) OnChange(fn func([]models.Entity)) func() {
	c.mu.Lock()
	id := c.nextL
	c.nextL++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Close unmounts the collection. In-flight store calls still complete but
// their results are not applied.
func (c *Collection) Close() {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return
	}
	c.mounted = false
	unsubs := c.unsubs
	c.unsubs = nil
	c.listeners = map[int]func([]models.Entity){}
	var held []*Op
	for _, r := range c.rows {
		if r.held && r.op != nil {
			held = append(held, r.op)
		}
	}
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	for _, op := range held {
		op.finish(models.Entity{}, ErrUnmounted)
	}
}

// List returns the visible rows, Pending and Confirmed, in order.
func (c *Collection) List() []models.Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visibleLocked()
}

// Get looks up a row by local or authoritative id, whatever its state.
func (c *Collection) Get(id string) (models.Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.find(id)
	if r == nil {
		return models.Entity{}, false
	}
	return r.ent, true
}

// Failed returns rows whose submission failed and can be retried.
func (c *Collection) Failed() []models.Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Entity
	for _, r := range c.rows {
		if r.ent.State == models.StateFailed {
			out = append(out, r.ent)
		}
	}
	slices.SortFunc(out, func(a, b models.Entity) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// Submit inserts d as a Pending row and creates it in the store in the
// background.
func (c *Collection) Submit(ctx context.Context, d models.Draft) (*Op, error) {
	r, op, e, err := c.insertLocal(d, false)
	if err != nil {
		return nil, err
	}
	c.emit()
	c.create(ctx, r, op, e)
	return op, nil
}

// Hold inserts d as a Pending row without calling the store. The row waits
// for Release or FailHeld.
func (c *Collection) Hold(ctx context.Context, d models.Draft) (*Op, error) {
	_, op, _, err := c.insertLocal(d, true)
	if err != nil {
		return nil, err
	}
	c.emit()
	return op, nil
}

// Release rewrites every held row with rewrite and starts its store create.
func (c *Collection) Release(ctx context.Context, rewrite func(models.Draft) models.Draft) {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return
	}
	type release struct {
		r  *row
		op *Op
		e  models.Entity
	}
	var rs []release
	for _, r := range c.rows {
		if !r.held {
			continue
		}
		d := rewrite(draftOf(r.ent))
		r.ent.PostID, r.ent.ParentID, r.ent.RecipientID = d.PostID, d.ParentID, d.RecipientID
		r.held = false
		rs = append(rs, release{r, r.op, entityFromDraft(r.ent)})
	}
	if len(rs) > 0 {
		c.version++
	}
	c.mu.Unlock()

	slices.SortFunc(rs, func(a, b release) int { return cmp.Compare(a.r.seq, b.r.seq) })
	c.emit()
	for _, rel := range rs {
		c.create(ctx, rel.r, rel.op, rel.e)
	}
}

// FailHeld marks every held row Failed with err.
func (c *Collection) FailHeld(err error) {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return
	}
	var fx effects
	now := c.opts.Now()
	for _, r := range c.rows {
		if !r.held {
			continue
		}
		r.held = false
		c.failLocked(r, now, err, &fx)
	}
	c.mu.Unlock()
	c.flush(&fx)
}

// Update patches a confirmed row locally, then in the store. On failure the
// text goes back to what it was; the read flag never does.
func (c *Collection) Update(ctx context.Context, id string, patch models.Patch) (*Op, error) {
	if patch.Text == nil && patch.Read == nil {
		return nil, fmt.Errorf("%w: empty patch", ErrInvalidInput)
	}
	if patch.Text != nil {
		text, err := validateText(*patch.Text)
		if err != nil {
			return nil, err
		}
		patch.Text = &text
	}

	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return nil, ErrUnmounted
	}
	now := c.opts.Now()
	c.pruneLocked(now)
	r := c.find(id)
	if err := c.checkMutableLocked(r, "update", id); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	prev := r.ent
	next := patch.Apply(prev)
	next.Read = prev.Read || next.Read
	next.UpdatedAt = now
	r.ent = next
	if patch.Read != nil {
		read := next.Read
		patch.Read = &read
	}
	target := next.ID
	op := newOp(id)
	c.version++
	c.mu.Unlock()
	c.emit()

	go func() {
		var res models.Entity
		err := c.call(ctx, "update", func(ctx context.Context) (err error) {
			res, err = c.store.Update(ctx, c.kind, target, patch)
			return err
		})
		c.afterUpdate(r, prev, next, patch, op, res, err)
	}()
	return op, nil
}

func (c *Collection) afterUpdate(r *row, prev, next models.Entity, patch models.Patch, op *Op, res models.Entity, err error) {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		op.finish(res, err)
		return
	}
	var fx effects
	switch {
	case err == nil:
		if r.ent.State.Visible() {
			r.ent = mergeRemote(r.ent, res)
			c.markLocked(&fx)
		}
		fx.settle(op, r.ent, nil)
	default:
		// Only undo our own text; a newer edit or event wins.
		if patch.Text != nil && r.ent.State.Visible() && r.ent.Text == next.Text {
			r.ent.Text = prev.Text
			r.ent.UpdatedAt = prev.UpdatedAt
			c.opts.Recorder.ObserveRollback(string(c.kind), "update")
			c.markLocked(&fx)
		}
		fx.settle(op, r.ent, err)
	}
	c.mu.Unlock()
	c.flush(&fx)
}

// Remove tombstones a confirmed row and deletes it in the store. If the
// store call fails the row comes back, unless the store says it is already
// gone.
func (c *Collection) Remove(ctx context.Context, id string) (*Op, error) {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return nil, ErrUnmounted
	}
	now := c.opts.Now()
	c.pruneLocked(now)
	r := c.find(id)
	if err := c.checkMutableLocked(r, "remove", id); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	var fx effects
	prev := r.ent.State
	target := r.ent.ID
	c.tombstoneLocked(r, now, &fx)
	op := newOp(id)
	c.mu.Unlock()
	c.flush(&fx)

	go func() {
		err := c.call(ctx, "delete", func(ctx context.Context) error {
			return c.store.Delete(ctx, c.kind, target)
		})
		c.afterRemove(r, prev, op, err)
	}()
	return op, nil
}

func (c *Collection) afterRemove(r *row, prev models.State, op *Op, err error) {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		op.finish(r.ent, err)
		return
	}
	var fx effects
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound) || r.deletedRemotely:
		// Already gone on the store side; keep the tombstone.
	default:
		r.ent.State = prev
		delete(c.tombstones, r.ent.ID)
		c.rows[r.ent.ID] = r
		c.opts.Recorder.ObserveRollback(string(c.kind), "delete")
		c.markLocked(&fx)
	}
	fx.settle(op, r.ent, err)
	c.mu.Unlock()
	c.flush(&fx)
}

// Retry resubmits a Failed row under its original local id.
func (c *Collection) Retry(ctx context.Context, localID string) (*Op, error) {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return nil, ErrUnmounted
	}
	r := c.rows[localID]
	if r == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("retry %s %s: %w", c.kind, localID, repository.ErrNotFound)
	}
	if r.ent.State != models.StateFailed {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s, not failed", ErrInvalidInput, localID, r.ent.State)
	}
	r.ent.State = models.StatePending
	r.failedAt = time.Time{}
	op := newOp(localID)
	r.op = op
	e := entityFromDraft(r.ent)
	c.version++
	c.mu.Unlock()

	c.emit()
	c.create(ctx, r, op, e)
	return op, nil
}

// Discard drops a Failed row.
func (c *Collection) Discard(localID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.rows[localID]
	if r == nil || r.ent.State != models.StateFailed {
		return fmt.Errorf("discard %s %s: %w", c.kind, localID, repository.ErrNotFound)
	}
	delete(c.rows, localID)
	return nil
}

// Load fetches the first page of the scope and merges it in.
func (c *Collection) Load(ctx context.Context) error {
	return c.sync(ctx, false)
}

// Resync lists the scope again and diffs it against the visible rows.
// Confirmed rows missing from a complete listing are treated as deleted.
func (c *Collection) Resync(ctx context.Context) error {
	return c.sync(ctx, true)
}

func (c *Collection) sync(ctx context.Context, prune bool) error {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return ErrUnmounted
	}
	f := c.filter
	c.mu.Unlock()

	limit := c.opts.ListLimit
	var items []models.Entity
	err := c.call(ctx, "list", func(ctx context.Context) (err error) {
		items, err = c.store.List(ctx, c.kind, f, repository.ListOptions{
			Order: repository.OrderAsc,
			Limit: limit,
		})
		return err
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return ErrUnmounted
	}
	now := c.opts.Now()
	c.pruneLocked(now)
	var fx effects
	seen := make(map[string]bool, len(items))
	for _, e := range items {
		seen[e.ID] = true
		c.mergeLocked(e, &fx)
	}
	if prune && len(items) < limit {
		for id, r := range c.rows {
			if r.ent.State == models.StateConfirmed && !seen[id] {
				c.tombstoneLocked(r, now, &fx)
			}
		}
	}
	c.mu.Unlock()
	c.flush(&fx)
	return nil
}

func (c *Collection) insertLocal(d models.Draft, held bool) (*row, *Op, models.Entity, error) {
	d.Kind = c.kind
	if err := c.validateDraft(&d); err != nil {
		return nil, nil, models.Entity{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mounted {
		return nil, nil, models.Entity{}, ErrUnmounted
	}
	now := c.opts.Now()
	c.pruneLocked(now)

	localID := NewLocalID()
	e := models.Entity{
		ID:          localID,
		LocalID:     localID,
		Kind:        c.kind,
		PostID:      d.PostID,
		ParentID:    d.ParentID,
		AuthorID:    d.AuthorID,
		RecipientID: d.RecipientID,
		Text:        d.Text,
		CreatedAt:   now,
		UpdatedAt:   now,
		State:       models.StatePending,
	}
	if !c.filter.Match(e) {
		return nil, nil, models.Entity{}, fmt.Errorf("%w: draft is outside this collection's scope", ErrInvalidInput)
	}
	c.seq++
	op := newOp(localID)
	r := &row{ent: e, seq: c.seq, submitted: now, op: op, held: held}
	c.rows[localID] = r
	c.version++
	return r, op, entityFromDraft(e), nil
}

func (c *Collection) create(ctx context.Context, r *row, op *Op, e models.Entity) {
	go func() {
		var res models.Entity
		err := c.call(ctx, "create", func(ctx context.Context) (err error) {
			res, err = c.store.Create(ctx, e)
			return err
		})
		c.afterCreate(r, op, res, err)
	}()
}

func (c *Collection) afterCreate(r *row, op *Op, res models.Entity, err error) {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		op.finish(res, err)
		return
	}
	var fx effects
	switch {
	case r.op != op:
		// A feed event confirmed the row first. If the store handed back a
		// different id, the event belonged to someone else's identical
		// submission and this result is a separate entity.
		if err == nil && res.ID != r.ent.ID {
			c.mergeLocked(res, &fx)
		}
	case err != nil:
		c.failLocked(r, c.opts.Now(), err, &fx)
		c.opts.Recorder.ObserveRollback(string(c.kind), "create")
	default:
		c.confirmLocked(r, res, &fx)
	}
	c.mu.Unlock()
	c.flush(&fx)
}

// confirmLocked turns pending row r into the authoritative entity e in
// place.
func (c *Collection) confirmLocked(r *row, e models.Entity, fx *effects) {
	localID := r.ent.LocalID
	op := r.op
	r.op = nil

	_, dead := c.tombstones[e.ID]
	if other := c.rows[e.ID]; dead || (other != nil && other != r) {
		// Already materialized (or deleted) under its real id.
		delete(c.rows, localID)
		c.aliases[localID] = e.ID
		c.markLocked(fx)
		if other != nil {
			e = other.ent
		}
		fx.settle(op, e, nil)
		c.hookConfirm(localID, e, fx)
		return
	}

	e.LocalID = localID
	e.State = models.StateConfirmed
	e.Read = e.Read || r.ent.Read
	r.ent = e
	delete(c.rows, localID)
	c.rows[e.ID] = r
	c.aliases[localID] = e.ID
	c.applyBufferedLocked(r)
	c.markLocked(fx)
	fx.settle(op, r.ent, nil)
	c.hookConfirm(localID, r.ent, fx)
}

func (c *Collection) hookConfirm(localID string, e models.Entity, fx *effects) {
	if c.opts.OnConfirm != nil {
		fx.hooks = append(fx.hooks, func() { c.opts.OnConfirm(localID, e) })
	}
}

func (c *Collection) failLocked(r *row, now time.Time, err error, fx *effects) {
	op := r.op
	r.op = nil
	r.ent.State = models.StateFailed
	r.failedAt = now
	c.markLocked(fx)
	fx.settle(op, r.ent, err)
	if c.opts.OnFail != nil {
		localID := r.ent.LocalID
		fx.hooks = append(fx.hooks, func() { c.opts.OnFail(localID, err) })
	}
}

func (c *Collection) tombstoneLocked(r *row, now time.Time, fx *effects) {
	r.ent.State = models.StateTombstoned
	c.tombstones[r.ent.ID] = now.Add(c.opts.TombstoneTTL)
	c.markLocked(fx)
	if c.opts.OnDelete != nil {
		e := r.ent
		fx.hooks = append(fx.hooks, func() { c.opts.OnDelete(e) })
	}
}

func (c *Collection) insertRemoteLocked(e models.Entity) *row {
	e.State = models.StateConfirmed
	e.LocalID = ""
	c.seq++
	r := &row{ent: e, seq: c.seq, submitted: e.CreatedAt}
	c.rows[e.ID] = r
	c.applyBufferedLocked(r)
	return r
}

func (c *Collection) applyBufferedLocked(r *row) {
	b, ok := c.buffer[r.ent.ID]
	if !ok {
		return
	}
	delete(c.buffer, r.ent.ID)
	r.ent = mergeRemote(r.ent, b.ent)
}

func (c *Collection) checkMutableLocked(r *row, verb, id string) error {
	if r == nil || !r.ent.State.Visible() {
		return fmt.Errorf("%s %s %s: %w", verb, c.kind, id, repository.ErrNotFound)
	}
	if r.ent.State == models.StatePending {
		return fmt.Errorf("%s %s %s: %w", verb, c.kind, id, ErrNotConfirmed)
	}
	return nil
}

// pruneLocked drops expired tombstones, buffered updates and failed rows.
func (c *Collection) pruneLocked(now time.Time) {
	for id, exp := range c.tombstones {
		if now.Before(exp) {
			continue
		}
		delete(c.tombstones, id)
		if r := c.rows[id]; r != nil && r.ent.State == models.StateTombstoned {
			delete(c.rows, id)
		}
		for local, target := range c.aliases {
			if target == id {
				delete(c.aliases, local)
			}
		}
	}
	for id, b := range c.buffer {
		if now.Sub(b.at) >= c.opts.BufferTTL {
			delete(c.buffer, id)
		}
	}
	if c.opts.FailedTTL > 0 {
		for id, r := range c.rows {
			if r.ent.State == models.StateFailed && now.Sub(r.failedAt) >= c.opts.FailedTTL {
				delete(c.rows, id)
			}
		}
	}
}

func (c *Collection) find(id string) *row {
	if r, ok := c.rows[id]; ok {
		return r
	}
	if target, ok := c.aliases[id]; ok {
		return c.rows[target]
	}
	return nil
}

func (c *Collection) resolve(id string) string {
	if target, ok := c.aliases[id]; ok {
		return target
	}
	return id
}

func (c *Collection) markLocked(fx *effects) {
	c.version++
	fx.changed = true
}

func (c *Collection) visibleLocked() []models.Entity {
	rs := make([]*row, 0, len(c.rows))
	for _, r := range c.rows {
		if r.ent.State.Visible() {
			rs = append(rs, r)
		}
	}
	slices.SortFunc(rs, func(a, b *row) int {
		if n := c.sortKey(a).Compare(c.sortKey(b)); n != 0 {
			return n
		}
		return cmp.Compare(a.seq, b.seq)
	})
	out := make([]models.Entity, len(rs))
	for i, r := range rs {
		out[i] = r.ent
	}
	return out
}

func (c *Collection) sortKey(r *row) time.Time {
	if c.opts.SortBySubmission {
		return r.submitted
	}
	return r.ent.CreatedAt
}

// flush runs hooks, notifies listeners, then settles ops, so a caller
// waiting on an op sees every consequence of it.
func (c *Collection) flush(fx *effects) {
	for _, h := range fx.hooks {
		h()
	}
	if fx.changed {
		c.emit()
	}
	for _, s := range fx.ops {
		s.op.finish(s.ent, s.err)
	}
}

// emit hands the current list to listeners. Snapshots older than one
// already delivered are dropped.
func (c *Collection) emit() {
	c.mu.Lock()
	v := c.version
	list := c.visibleLocked()
	ls := make([]func([]models.Entity), 0, len(c.listeners))
	for _, l := range c.listeners {
		ls = append(ls, l)
	}
	c.mu.Unlock()

	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if v <= c.emitted {
		return
	}
	c.emitted = v
	for _, l := range ls {
		l(list)
	}
}

// call runs one store call detached from the caller's cancellation but
// bounded by StoreTimeout.
func (c *Collection) call(parent context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.opts.StoreTimeout)
	defer cancel()

	err := fn(ctx)
	c.opts.Recorder.ObserveStoreCall(string(c.kind), op, err)
	if err != nil {
		c.log.Warn("store call failed", zap.String("op", op), zap.Error(err))
		return &StoreError{Op: op, Kind: c.kind, Err: err}
	}
	return nil
}

func (c *Collection) validateDraft(d *models.Draft) error {
	if d.AuthorID == "" {
		return fmt.Errorf("%w: author is required", ErrInvalidInput)
	}
	switch d.Kind {
	case models.KindComment:
		if d.PostID == "" {
			return fmt.Errorf("%w: post is required", ErrInvalidInput)
		}
	case models.KindMessage:
		if d.RecipientID == "" {
			return fmt.Errorf("%w: recipient is required", ErrInvalidInput)
		}
	case models.KindFollow:
		if d.RecipientID == "" || d.RecipientID == d.AuthorID {
			return fmt.Errorf("%w: cannot follow %q", ErrInvalidInput, d.RecipientID)
		}
		return nil
	}
	text, err := validateText(d.Text)
	if err != nil {
		return err
	}
	d.Text = text
	return nil
}

func validateText(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: text is empty", ErrInvalidInput)
	}
	if utf8.RuneCountInString(s) > MaxTextLength {
		return "", fmt.Errorf("%w: text longer than %d characters", ErrInvalidInput, MaxTextLength)
	}
	return s, nil
}

func draftOf(e models.Entity) models.Draft {
	return models.Draft{
		Kind:        e.Kind,
		PostID:      e.PostID,
		ParentID:    e.ParentID,
		AuthorID:    e.AuthorID,
		RecipientID: e.RecipientID,
		Text:        e.Text,
	}
}

func entityFromDraft(e models.Entity) models.Entity {
	return models.Entity{
		Kind:        e.Kind,
		PostID:      e.PostID,
		ParentID:    e.ParentID,
		AuthorID:    e.AuthorID,
		RecipientID: e.RecipientID,
		Text:        e.Text,
	}
}
