package ecs

import "fmt"

// World is the canonical entity and component store. It is owned by the tick
// goroutine; nothing else mutates it. Engine systems write directly, extension
// writes arrive as batches and are applied atomically between dispatch and
// the output phases.
type World struct {
	pool         *EntityPool
	registry     *Registry
	destroyQueue []EntityID
	maxBatchOps  int
}

func NewWorld(maxBatchOps int) *World {
	return &World{
		pool:         NewEntityPool(),
		registry:     NewRegistry(),
		destroyQueue: make([]EntityID, 0, 64),
		maxBatchOps:  maxBatchOps,
	}
}

func (w *World) Pool() *EntityPool   { return w.pool }
func (w *World) Registry() *Registry { return w.registry }

func (w *World) Create() EntityID {
	return w.pool.Create()
}

func (w *World) Alive(id EntityID) bool {
	return w.pool.Alive(id)
}

// MarkForDestruction queues an entity for end-of-tick cleanup. Engine systems
// use this so iteration never observes a half-removed entity.
func (w *World) MarkForDestruction(id EntityID) {
	w.destroyQueue = append(w.destroyQueue, id)
}

// FlushDestroyQueue destroys queued entities, clears their components, and
// releases tombstones old enough to leave quarantine.
func (w *World) FlushDestroyQueue(tick uint64) {
	for _, id := range w.destroyQueue {
		w.registry.RemoveAll(id)
		w.pool.Destroy(id, tick)
	}
	w.destroyQueue = w.destroyQueue[:0]
	w.pool.ReleaseTombstones(tick)
}

// decodedOp pairs an op with its validated value so the apply phase never
// re-validates.
type decodedOp struct {
	op    *Op
	value any
	spawn []spawnPart
}

type spawnPart struct {
	store Store
	value any
}

// ApplyBatch validates every op against the current world state and applies
// them all in submission order, or applies nothing and returns a RejectError.
func (w *World) ApplyBatch(tick uint64, b *Batch) error {
	if b == nil || len(b.Ops) == 0 {
		return nil
	}
	if len(b.Ops) > w.maxBatchOps {
		return &RejectError{Owner: b.Owner, OpIdx: 0,
			Reason: fmt.Sprintf("size %d exceeds ceiling %d", len(b.Ops), w.maxBatchOps)}
	}

	decoded := make([]decodedOp, 0, len(b.Ops))
	destroyed := make(map[EntityID]bool)
	for i := range b.Ops {
		op := &b.Ops[i]
		switch op.Kind {
		case OpSet:
			store, ok := w.registry.Lookup(op.Component)
			if !ok {
				return &RejectError{b.Owner, i, fmt.Sprintf("unknown component %q", op.Component)}
			}
			if err := w.checkTarget(op.Entity, destroyed); err != nil {
				return &RejectError{b.Owner, i, err.Error()}
			}
			v, err := store.DecodeValue(op.Value)
			if err != nil {
				return &RejectError{b.Owner, i, err.Error()}
			}
			decoded = append(decoded, decodedOp{op: op, value: v})
		case OpRemove:
			if _, ok := w.registry.Lookup(op.Component); !ok {
				return &RejectError{b.Owner, i, fmt.Sprintf("unknown component %q", op.Component)}
			}
			if err := w.checkTarget(op.Entity, destroyed); err != nil {
				return &RejectError{b.Owner, i, err.Error()}
			}
			decoded = append(decoded, decodedOp{op: op})
		case OpDestroy:
			if err := w.checkTarget(op.Entity, destroyed); err != nil {
				return &RejectError{b.Owner, i, err.Error()}
			}
			destroyed[op.Entity] = true
			decoded = append(decoded, decodedOp{op: op})
		case OpSpawn:
			parts := make([]spawnPart, 0, len(op.Components))
			for _, store := range w.registry.order {
				raw, ok := op.Components[store.Kind()]
				if !ok {
					continue
				}
				v, err := store.DecodeValue(raw)
				if err != nil {
					return &RejectError{b.Owner, i, err.Error()}
				}
				parts = append(parts, spawnPart{store: store, value: v})
			}
			if len(parts) != len(op.Components) {
				return &RejectError{b.Owner, i, "spawn references unknown component kind"}
			}
			decoded = append(decoded, decodedOp{op: op, spawn: parts})
		default:
			return &RejectError{b.Owner, i, "unknown op kind"}
		}
	}

	for i := range decoded {
		d := &decoded[i]
		switch d.op.Kind {
		case OpSet:
			store, _ := w.registry.Lookup(d.op.Component)
			store.SetDecoded(d.op.Entity, d.value)
		case OpRemove:
			store, _ := w.registry.Lookup(d.op.Component)
			store.Remove(d.op.Entity)
		case OpDestroy:
			w.registry.RemoveAll(d.op.Entity)
			w.pool.Destroy(d.op.Entity, tick)
		case OpSpawn:
			id := w.pool.Create()
			for _, p := range d.spawn {
				p.store.SetDecoded(id, p.value)
			}
		}
	}
	return nil
}

func (w *World) checkTarget(id EntityID, destroyed map[EntityID]bool) error {
	if !w.pool.Alive(id) {
		return fmt.Errorf("entity %d is not alive", id)
	}
	if destroyed[id] {
		return fmt.Errorf("entity %d destroyed earlier in batch", id)
	}
	return nil
}
