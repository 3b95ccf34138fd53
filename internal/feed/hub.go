package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lalith-99/viewify/internal/models"
	"github.com/lalith-99/viewify/internal/observ"
)

// Recorder counts events the hub could not decode.
type Recorder interface {
	ObserveEvent(kind, outcome string)
}

// Hub multiplexes one transport subscription per entity kind across any
// number of scoped handlers. Each handler brings its own predicate, so
// expanding another comment thread adds a handler, not a subscription.
type Hub struct {
	transport Transport
	db        string
	log       *zap.Logger
	rec       Recorder

	mu     sync.Mutex
	kinds  map[models.Kind]*kindSub
	nextID int
}

type kindSub struct {
	handlers map[int]handler
	close    func() error
}

type handler struct {
	match  func(models.Entity) bool
	handle func(models.Event)
}

func NewHub(transport Transport, db string, log *zap.Logger, rec Recorder) *Hub {
	return &Hub{
		transport: transport,
		db:        db,
		log:       observ.OrNop(log).Named("feed"),
		rec:       rec,
		kinds:     make(map[models.Kind]*kindSub),
	}
}

// Subscribe registers handle for events of kind whose entity satisfies
// match (nil matches everything). The first handler for a kind opens the
// transport subscription; the returned func removes the handler and closes
// the subscription with the last one.
func (h *Hub) Subscribe(ctx context.Context, kind models.Kind, match func(models.Entity) bool, handle func(models.Event)) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ks := h.kinds[kind]
	if ks == nil {
		closeFn, err := h.transport.Subscribe(ctx, Channel(h.db, kind), func(data []byte) {
			h.dispatch(kind, data)
		})
		if err != nil {
			return nil, fmt.Errorf("subscribe feed: %w", err)
		}
		ks = &kindSub{handlers: make(map[int]handler), close: closeFn}
		h.kinds[kind] = ks
		h.log.Info("feed subscription opened", zap.String("kind", string(kind)))
	}

	id := h.nextID
	h.nextID++
	ks.handlers[id] = handler{match: match, handle: handle}

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(kind, id) })
	}, nil
}

func (h *Hub) remove(kind models.Kind, id int) {
	h.mu.Lock()
	ks := h.kinds[kind]
	if ks == nil {
		h.mu.Unlock()
		return
	}
	delete(ks.handlers, id)
	if len(ks.handlers) > 0 {
		h.mu.Unlock()
		return
	}
	delete(h.kinds, kind)
	h.mu.Unlock()

	if err := ks.close(); err != nil {
		h.log.Warn("closing feed subscription", zap.String("kind", string(kind)), zap.Error(err))
	}
	h.log.Info("feed subscription closed", zap.String("kind", string(kind)))
}

// Publish encodes e and sends it on its kind's channel.
func (h *Hub) Publish(ctx context.Context, typ models.EventType, e models.Entity) error {
	data, err := json.Marshal(Encode(h.db, typ, e))
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return h.transport.Publish(ctx, Channel(h.db, e.Kind), data)
}

// Handlers reports how many handlers are registered for kind.
func (h *Hub) Handlers(kind models.Kind) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ks := h.kinds[kind]; ks != nil {
		return len(ks.handlers)
	}
	return 0
}

// Close drops every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	kinds := h.kinds
	h.kinds = make(map[models.Kind]*kindSub)
	h.mu.Unlock()

	for kind, ks := range kinds {
		if err := ks.close(); err != nil {
			h.log.Warn("closing feed subscription", zap.String("kind", string(kind)), zap.Error(err))
		}
	}
}

// dispatch decodes one message and fans it out. A bad message is logged
// and dropped; it never stops the subscription.
func (h *Hub) dispatch(kind models.Kind, data []byte) {
	var raw RawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		h.malformed(kind, err)
		return
	}
	ev, err := Decode(kind, raw)
	if err != nil {
		h.malformed(kind, err)
		return
	}

	h.mu.Lock()
	var hs []handler
	if ks := h.kinds[kind]; ks != nil {
		hs = make([]handler, 0, len(ks.handlers))
		for _, hd := range ks.handlers {
			hs = append(hs, hd)
		}
	}
	h.mu.Unlock()

	for _, hd := range hs {
		if hd.match == nil || hd.match(ev.Entity) {
			hd.handle(ev)
		}
	}
}

func (h *Hub) malformed(kind models.Kind, err error) {
	h.log.Warn("dropping malformed feed event", zap.String("kind", string(kind)), zap.Error(err))
	if h.rec != nil {
		h.rec.ObserveEvent(string(kind), "malformed")
	}
}
