package commenttree

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalith-99/viewify/internal/models"
	"github.com/lalith-99/viewify/internal/observ"
	"github.com/lalith-99/viewify/internal/reconcile"
	"github.com/lalith-99/viewify/internal/repository"
)

// Node is one comment in a rendered tree.
type Node struct {
	models.Entity
	// Deleted marks a placeholder for a removed comment whose replies are
	// still on screen.
	Deleted  bool    `json:"deleted,omitempty"`
	Expanded bool    `json:"expanded"`
	Replies  []*Node `json:"replies,omitempty"`
}

// Tree is the comment section of one post: a collection for the top level
// plus one per expanded comment, kept in a map keyed by parent id.
type Tree struct {
	postID string
	store  repository.EntityStore
	sub    reconcile.Subscriber
	opts   reconcile.Options
	log    *zap.Logger

	root *reconcile.Collection

	// admit orders reply admission against parent confirmation: a reply
	// either lands in the scope onConfirm is about to release, or is
	// submitted under the authoritative parent id.
	admit sync.Mutex

	mu        sync.Mutex
	replies   map[string]*scope
	deleted   map[string]deletedComment
	listeners map[int]func([]*Node)
	nextL     int
	closed    bool

	deletedTTL time.Duration
	now        func() time.Time
	// beforeConfirm, when set, runs ahead of onConfirm's work.
	beforeConfirm func(e models.Entity)
}

type scope struct {
	coll   *reconcile.Collection
	loaded bool
}

type deletedComment struct {
	ent     models.Entity
	expires time.Time
}

// New builds the tree for postID. sub may be nil, in which case the tree
// only reflects its own writes and explicit loads.
func New(postID string, store repository.EntityStore, sub reconcile.Subscriber, opts reconcile.Options) *Tree {
	t := &Tree{
		postID:    postID,
		store:     store,
		sub:       sub,
		opts:      opts,
		log:       observ.OrNop(opts.Logger).With(zap.String("post_id", postID)),
		replies:   make(map[string]*scope),
		deleted:   make(map[string]deletedComment),
		listeners: make(map[int]func([]*Node)),

		deletedTTL: opts.TombstoneTTL,
		now:        opts.Now,
	}
	if t.deletedTTL <= 0 {
		t.deletedTTL = reconcile.DefaultTombstoneTTL
	}
	if t.now == nil {
		t.now = time.Now
	}
	t.root = t.newCollection(repository.Filter{PostID: postID, RootOnly: true})
	return t
}

func (t *Tree) PostID() string { return t.postID }

// Load fetches the top-level comments and starts following the feed.
func (t *Tree) Load(ctx context.Context) error {
	if t.sub != nil {
		if err := t.root.Attach(ctx, t.sub); err != nil {
			return err
		}
	}
	if err := t.root.Load(ctx); err != nil {
		return fmt.Errorf("load comments of %s: %w", t.postID, err)
	}
	return nil
}

func (t *Tree) AddTopLevel(ctx context.Context, authorID, text string) (*reconcile.Op, error) {
	return t.root.Submit(ctx, models.Draft{PostID: t.postID, AuthorID: authorID, Text: text})
}

// AddReply submits a reply under parentID. When the parent is still
// pending the reply is held and only created once the parent has its
// authoritative id.
func (t *Tree) AddReply(ctx context.Context, parentID, authorID, text string) (*reconcile.Op, error) {
	t.admit.Lock()
	defer t.admit.Unlock()

	_, parent, ok := t.locate(parentID)
	if !ok || !parent.State.Visible() {
		return nil, fmt.Errorf("reply to %s: %w", parentID, repository.ErrNotFound)
	}

	s, key, held, err := t.replyScope(ctx, parent)
	if err != nil {
		return nil, err
	}
	d := models.Draft{PostID: t.postID, ParentID: key, AuthorID: authorID, Text: text}
	if held {
		return s.coll.Hold(ctx, d)
	}
	return s.coll.Submit(ctx, d)
}

// Edit changes the text of a comment the actor wrote.
func (t *Tree) Edit(ctx context.Context, actorID, id, text string) (*reconcile.Op, error) {
	c, e, err := t.owned(actorID, id, "edit")
	if err != nil {
		return nil, err
	}
	return c.Update(ctx, e.ID, models.Patch{Text: &text})
}

// Delete removes a comment the actor wrote. Its replies stay where they
// are; the store does not cascade and neither does the view.
func (t *Tree) Delete(ctx context.Context, actorID, id string) (*reconcile.Op, error) {
	c, e, err := t.owned(actorID, id, "delete")
	if err != nil {
		return nil, err
	}
	return c.Remove(ctx, e.ID)
}

// Retry resubmits a failed comment or reply.
func (t *Tree) Retry(ctx context.Context, localID string) (*reconcile.Op, error) {
	c, _, ok := t.locate(localID)
	if !ok {
		return nil, fmt.Errorf("retry %s: %w", localID, repository.ErrNotFound)
	}
	return c.Retry(ctx, localID)
}

func (t *Tree) Discard(localID string) error {
	c, _, ok := t.locate(localID)
	if !ok {
		return fmt.Errorf("discard %s: %w", localID, repository.ErrNotFound)
	}
	return c.Discard(localID)
}

// Expand instantiates, subscribes and loads the replies of parentID.
// Expanding twice is a no-op.
func (t *Tree) Expand(ctx context.Context, parentID string) error {
	t.admit.Lock()
	_, parent, ok := t.locate(parentID)
	if !ok {
		t.mu.Lock()
		var d deletedComment
		d, ok = t.deleted[parentID]
		parent = d.ent
		t.mu.Unlock()
	}
	if !ok {
		t.admit.Unlock()
		return fmt.Errorf("expand %s: %w", parentID, repository.ErrNotFound)
	}
	s, _, held, err := t.replyScope(ctx, parent)
	t.admit.Unlock()
	if err != nil {
		return err
	}

	t.mu.Lock()
	if s.loaded {
		t.mu.Unlock()
		return nil
	}
	s.loaded = true
	t.mu.Unlock()

	// Nothing to list under a parent the store hasn't seen.
	if held {
		return nil
	}
	if err := s.coll.Load(ctx); err != nil {
		t.mu.Lock()
		s.loaded = false
		t.mu.Unlock()
		return fmt.Errorf("load replies of %s: %w", parentID, err)
	}
	return nil
}

// Collapse tears down the replies of parentID and everything below them.
// In-flight store calls for those scopes finish but are not applied.
func (t *Tree) Collapse(parentID string) {
	t.mu.Lock()
	var drop []*reconcile.Collection
	queue := []string{parentID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		s, ok := t.replies[id]
		if !ok {
			continue
		}
		delete(t.replies, id)
		drop = append(drop, s.coll)
		for _, child := range s.coll.List() {
			queue = append(queue, child.ID)
		}
	}
	t.pruneDeletedLocked(t.now())
	t.mu.Unlock()

	for _, c := range drop {
		c.Close()
	}
	if len(drop) > 0 {
		t.changed()
	}
}

// Snapshot renders the tree as currently known.
func (t *Tree) Snapshot() []*Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.levelLocked("", t.root.List())
}

// OnChange registers fn to receive a fresh snapshot after every change to
// any level of the tree.
func (t *Tree) OnChange(fn func([]*Node)) func() {
	t.mu.Lock()
	id := t.nextL
	t.nextL++
	t.listeners[id] = fn
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

func (t *Tree) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	scopes := t.replies
	t.replies = make(map[string]*scope)
	t.deleted = make(map[string]deletedComment)
	t.listeners = make(map[int]func([]*Node))
	t.mu.Unlock()

	t.root.Close()
	for _, s := range scopes {
		s.coll.Close()
	}
}

func (t *Tree) levelLocked(parentID string, list []models.Entity) []*Node {
	nodes := make([]*Node, 0, len(list))
	present := make(map[string]bool, len(list))
	for _, e := range list {
		present[e.ID] = true
		nodes = append(nodes, t.nodeLocked(e, false))
	}
	for id, d := range t.deleted {
		if present[id] || d.ent.ParentID != parentID {
			continue
		}
		if n := t.nodeLocked(d.ent, true); len(n.Replies) > 0 {
			n.Text = ""
			nodes = append(nodes, n)
		}
	}
	slices.SortFunc(nodes, func(a, b *Node) int {
		if n := a.CreatedAt.Compare(b.CreatedAt); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return nodes
}

func (t *Tree) nodeLocked(e models.Entity, deleted bool) *Node {
	n := &Node{Entity: e, Deleted: deleted}
	s, ok := t.replies[e.ID]
	if !ok && e.LocalID != "" {
		s, ok = t.replies[e.LocalID]
	}
	if ok {
		n.Expanded = true
		n.Replies = t.levelLocked(e.ID, s.coll.List())
	}
	return n
}

// replyScope picks the scope replies to parent belong in. Until onConfirm
// has moved a parent's scope over to its authoritative id, replies keep
// going to the local one and wait there. Callers hold t.admit.
func (t *Tree) replyScope(ctx context.Context, parent models.Entity) (*scope, string, bool, error) {
	key, held := parent.ID, parent.State == models.StatePending
	if !held && parent.LocalID != "" && parent.LocalID != parent.ID {
		t.mu.Lock()
		_, held = t.replies[parent.LocalID]
		t.mu.Unlock()
		if held {
			key = parent.LocalID
		}
	}
	s, err := t.scopeFor(ctx, key)
	if err != nil {
		return nil, "", false, err
	}
	return s, key, held, nil
}

// scopeFor returns the replies scope of parentID, creating it unloaded.
func (t *Tree) scopeFor(ctx context.Context, parentID string) (*scope, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, reconcile.ErrUnmounted
	}
	if s, ok := t.replies[parentID]; ok {
		t.mu.Unlock()
		return s, nil
	}
	s := &scope{coll: t.newCollection(repository.Filter{PostID: t.postID, ParentID: parentID})}
	t.replies[parentID] = s
	t.mu.Unlock()

	if t.sub != nil {
		if err := s.coll.Attach(ctx, t.sub); err != nil {
			t.log.Warn("replies not live", zap.String("parent_id", parentID), zap.Error(err))
		}
	}
	return s, nil
}

func (t *Tree) newCollection(f repository.Filter) *reconcile.Collection {
	opts := t.opts
	opts.Logger = t.log
	opts.SortBySubmission = false
	opts.OnConfirm = t.onConfirm
	opts.OnFail = t.onFail
	opts.OnDelete = t.onDelete
	c := reconcile.New(models.KindComment, t.store, f, opts)
	c.OnChange(func([]models.Entity) { t.changed() })
	return c
}

// onConfirm moves the replies scope of a comment that was keyed by its
// local id over to its authoritative id, and releases any held replies.
func (t *Tree) onConfirm(localID string, e models.Entity) {
	if t.beforeConfirm != nil {
		t.beforeConfirm(e)
	}
	t.admit.Lock()
	defer t.admit.Unlock()

	t.mu.Lock()
	s, ok := t.replies[localID]
	if ok {
		delete(t.replies, localID)
		t.replies[e.ID] = s
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	s.coll.Rescope(repository.Filter{PostID: t.postID, ParentID: e.ID})
	s.coll.Release(context.Background(), func(d models.Draft) models.Draft {
		d.ParentID = e.ID
		return d
	})
}

// onFail fails the replies held under a parent whose create failed. The
// parent is already Failed here, so once admit is taken no new reply can
// be held under it.
func (t *Tree) onFail(localID string, err error) {
	t.admit.Lock()
	t.mu.Lock()
	s, ok := t.replies[localID]
	t.mu.Unlock()
	t.admit.Unlock()
	if ok {
		s.coll.FailHeld(fmt.Errorf("%w: %w", reconcile.ErrParentFailed, err))
	}
}

func (t *Tree) onDelete(e models.Entity) {
	t.mu.Lock()
	now := t.now()
	t.pruneDeletedLocked(now)
	t.deleted[e.ID] = deletedComment{ent: e, expires: now.Add(t.deletedTTL)}
	t.mu.Unlock()
}

// pruneDeletedLocked forgets deleted comments whose tombstone has expired
// and whose replies aren't open. Nothing can render or expand those.
func (t *Tree) pruneDeletedLocked(now time.Time) {
	for id, d := range t.deleted {
		if now.Before(d.expires) {
			continue
		}
		if _, open := t.replies[id]; open {
			continue
		}
		delete(t.deleted, id)
	}
}

func (t *Tree) changed() {
	t.mu.Lock()
	if t.closed || len(t.listeners) == 0 {
		t.mu.Unlock()
		return
	}
	snap := t.levelLocked("", t.root.List())
	ls := make([]func([]*Node), 0, len(t.listeners))
	for _, l := range t.listeners {
		ls = append(ls, l)
	}
	t.mu.Unlock()

	for _, l := range ls {
		l(snap)
	}
}

// locate finds the collection holding id, at any expanded level.
func (t *Tree) locate(id string) (*reconcile.Collection, models.Entity, bool) {
	if e, ok := t.root.Get(id); ok {
		return t.root, e, true
	}
	t.mu.Lock()
	colls := make([]*reconcile.Collection, 0, len(t.replies))
	for _, s := range t.replies {
		colls = append(colls, s.coll)
	}
	t.mu.Unlock()

	for _, c := range colls {
		if e, ok := c.Get(id); ok {
			return c, e, true
		}
	}
	return nil, models.Entity{}, false
}

func (t *Tree) owned(actorID, id, verb string) (*reconcile.Collection, models.Entity, error) {
	c, e, ok := t.locate(id)
	if !ok || !e.State.Visible() {
		return nil, models.Entity{}, fmt.Errorf("%s %s: %w", verb, id, repository.ErrNotFound)
	}
	if e.AuthorID != actorID {
		return nil, models.Entity{}, fmt.Errorf("%s %s: %w", verb, id, reconcile.ErrUnauthorizedMutation)
	}
	return c, e, nil
}
