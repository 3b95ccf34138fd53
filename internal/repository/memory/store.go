package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lalith-99/viewify/internal/models"
	"github.com/lalith-99/viewify/internal/repository"
)

var idPrefix = map[models.Kind]string{
	models.KindComment: "c-",
	models.KindMessage: "m-",
	models.KindFollow:  "f-",
}

// Store is an in-process EntityStore. It backs local development
// (STORE_DRIVER=memory) and every package's tests.
type Store struct {
	mu sync.RWMutex

	nextID int64
	byID   map[models.Kind]map[string]models.Entity
	now    func() time.Time
}

type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithFirstID sets the first numeric id handed out (default 1).
func WithFirstID(n int64) Option {
	return func(s *Store) { s.nextID = n }
}

func New(opts ...Option) *Store {
	s := &Store{
		nextID: 1,
		byID:   make(map[models.Kind]map[string]models.Entity),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Create(ctx context.Context, e models.Entity) (models.Entity, error) {
	if err := ctx.Err(); err != nil {
		return models.Entity{}, err
	}
	prefix, ok := idPrefix[e.Kind]
	if !ok {
		return models.Entity{}, fmt.Errorf("create: unknown kind %q", e.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e.ID = fmt.Sprintf("%s%d", prefix, s.nextID)
	e.LocalID = ""
	e.CreatedAt = now
	e.UpdatedAt = now
	e.State = models.StateConfirmed
	s.nextID++

	if s.byID[e.Kind] == nil {
		s.byID[e.Kind] = make(map[string]models.Entity)
	}
	s.byID[e.Kind][e.ID] = e
	return e, nil
}

func (s *Store) Get(ctx context.Context, kind models.Kind, id string) (models.Entity, error) {
	if err := ctx.Err(); err != nil {
		return models.Entity{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byID[kind][id]
	if !ok {
		return models.Entity{}, repository.ErrNotFound
	}
	return e, nil
}

func (s *Store) List(ctx context.Context, kind models.Kind, filter repository.Filter, opts repository.ListOptions) ([]models.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Entity, 0)
	for _, e := range s.byID[kind] {
		if filter.Match(e) {
			out = append(out, e)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if opts.Order == repository.OrderDesc {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if opts.Order == repository.OrderDesc {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})

	if opts.Cursor != "" {
		for i, e := range out {
			if e.ID == opts.Cursor {
				out = out[i+1:]
				break
			}
		}
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, kind models.Kind, id string, patch models.Patch) (models.Entity, error) {
	if err := ctx.Err(); err != nil {
		return models.Entity{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[kind][id]
	if !ok {
		return models.Entity{}, repository.ErrNotFound
	}
	e = patch.Apply(e)
	e.UpdatedAt = s.now()
	s.byID[kind][id] = e
	return e, nil
}

func (s *Store) Delete(ctx context.Context, kind models.Kind, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[kind][id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.byID[kind], id)
	return nil
}

// Users is an in-memory UserRepository.
type Users struct {
	mu    sync.RWMutex
	users map[string]models.User
}

func NewUsers(users ...models.User) *Users {
	u := &Users{users: make(map[string]models.User, len(users))}
	for _, user := range users {
		u.users[user.ID] = user
	}
	return u
}

func (u *Users) Put(user models.User) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.users[user.ID] = user
}

func (u *Users) GetByID(ctx context.Context, id string) (*models.User, error) {
	_ = ctx
	u.mu.RLock()
	defer u.mu.RUnlock()
	user, ok := u.users[id]
	if !ok {
		return nil, nil
	}
	return &user, nil
}
