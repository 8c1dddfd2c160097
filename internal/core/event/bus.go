package event

import (
	"go.uber.org/zap"
)

// MaxCascadeDepth bounds how many generations of handler re-publishes one
// flush will chase before declaring a cascade and dropping the remainder.
const MaxCascadeDepth = 8

// ListenerID is the opaque handle returned by Subscribe. IDs grow
// monotonically and are never reissued.
type ListenerID uint64

// Handler receives the publishing tick and a read-only view of the event.
type Handler func(tick uint64, ev Event)

type listener struct {
	id    ListenerID
	owner string
	kind  string
	fn    Handler
	dead  bool
}

type queued struct {
	tick uint64
	ev   Event
}

// Bus queues events published during a tick and dispatches them at the flush
// point, each kind's listeners in registration order. Re-publishes from
// handlers form the next cascade generation. Owned by the tick goroutine; no
// locking, no cross-goroutine use.
type Bus struct {
	log     *zap.Logger
	tick    uint64
	nextID  ListenerID
	byKind  map[string][]*listener
	byID    map[ListenerID]*listener
	dormant map[string]bool
	deadN   int

	pending  []queued
	cascade  []queued
	flushing bool
}

func NewBus(log *zap.Logger) *Bus {
	return &Bus{
		log:     log,
		byKind:  make(map[string][]*listener),
		byID:    make(map[ListenerID]*listener),
		dormant: make(map[string]bool),
	}
}

// BeginTick stamps subsequently published events with the new tick index and
// sweeps out listeners unsubscribed since the last tick. Removal only marks;
// compaction here keeps dispatch iteration safe against mid-flush churn.
func (b *Bus) BeginTick(tick uint64) {
	b.tick = tick
	if b.deadN == 0 {
		return
	}
	for kind, ls := range b.byKind {
		kept := ls[:0]
		for _, l := range ls {
			if !l.dead {
				kept = append(kept, l)
			}
		}
		if len(kept) == 0 {
			delete(b.byKind, kind)
			continue
		}
		b.byKind[kind] = kept
	}
	b.deadN = 0
}

// Publish queues an event for the current tick's flush. Publishing from
// inside a handler appends to the next cascade generation instead of
// recursing.
func (b *Bus) Publish(ev Event) {
	q := queued{tick: b.tick, ev: ev}
	if b.flushing {
		b.cascade = append(b.cascade, q)
		return
	}
	b.pending = append(b.pending, q)
}

// Subscribe registers a handler for one event kind on behalf of an owner.
// Listener count ceilings are the caller's concern; the bus only records.
func (b *Bus) Subscribe(kind, owner string, fn Handler) ListenerID {
	b.nextID++
	l := &listener{id: b.nextID, owner: owner, kind: kind, fn: fn}
	b.byKind[kind] = append(b.byKind[kind], l)
	b.byID[l.id] = l
	return l.id
}

// On registers a typed handler; the kind comes from T's zero value.
func On[T Event](b *Bus, owner string, fn func(tick uint64, ev T)) ListenerID {
	var zero T
	return b.Subscribe(zero.Kind(), owner, func(tick uint64, ev Event) {
		if t, ok := ev.(T); ok {
			fn(tick, t)
		}
	})
}

// Unsubscribe marks the registration dead. It stops firing immediately and
// is swept out at the next BeginTick.
func (b *Bus) Unsubscribe(id ListenerID) bool {
	l, ok := b.byID[id]
	if !ok {
		return false
	}
	l.dead = true
	b.deadN++
	delete(b.byID, id)
	return true
}

// RemoveOwner drops every registration held by the owner and returns how
// many were removed. Used on terminate, unload, and reload.
func (b *Bus) RemoveOwner(owner string) int {
	removed := 0
	for id, l := range b.byID {
		if l.owner != owner {
			continue
		}
		l.dead = true
		b.deadN++
		delete(b.byID, id)
		removed++
	}
	delete(b.dormant, owner)
	return removed
}

// SetOwnerDormant parks or wakes an owner's registrations without touching
// them. Dormant listeners are skipped at dispatch.
func (b *Bus) SetOwnerDormant(owner string, dormant bool) {
	if dormant {
		b.dormant[owner] = true
		return
	}
	delete(b.dormant, owner)
}

func (b *Bus) OwnerListenerCount(owner string) int {
	n := 0
	for _, l := range b.byID {
		if l.owner == owner {
			n++
		}
	}
	return n
}

// Flush dispatches everything published during the tick, then each cascade
// generation in turn. Hitting MaxCascadeDepth stops the chain: the remainder
// is dropped and a single cascade-overflow diagnostic is emitted directly.
func (b *Bus) Flush(tick uint64) {
	queue := b.pending
	b.pending = nil
	depth := 0
	for len(queue) > 0 {
		if depth >= MaxCascadeDepth {
			dropped := len(queue)
			kinds := make([]string, 0, 4)
			seen := make(map[string]bool, 4)
			for _, q := range queue {
				if !seen[q.ev.Kind()] {
					seen[q.ev.Kind()] = true
					kinds = append(kinds, q.ev.Kind())
				}
			}
			b.log.Warn("event cascade exceeded max depth, dropping remainder",
				zap.Uint64("tick", tick),
				zap.Int("depth", depth),
				zap.Int("dropped", dropped),
				zap.Strings("kinds", kinds))
			b.Emit(tick, CascadeOverflow{Depth: depth, Dropped: dropped, Kinds: kinds})
			return
		}
		b.flushing = true
		for i := range queue {
			b.dispatch(queue[i])
		}
		b.flushing = false
		queue = b.cascade
		b.cascade = nil
		depth++
	}
}

// Emit dispatches one event immediately, outside the cascade accounting.
// Reserved for diagnostics that must not be deferred or re-counted;
// publishes from its handlers land in the next flush.
func (b *Bus) Emit(tick uint64, ev Event) {
	b.dispatch(queued{tick: tick, ev: ev})
}

func (b *Bus) dispatch(q queued) {
	ls := b.byKind[q.ev.Kind()]
	for _, l := range ls {
		if l.dead || b.dormant[l.owner] {
			continue
		}
		l.fn(q.tick, q.ev)
	}
}
