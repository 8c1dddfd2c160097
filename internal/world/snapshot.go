package world

import (
	"fmt"
	"slices"

	"github.com/driftmud/server/internal/core/ecs"
)

// Snapshot is one complete world capture taken between ticks. The whole
// struct round-trips through encoding/json, which is how the persist layer
// stores it.
type Snapshot struct {
	Tick     uint64         `json:"tick"`
	DefsSum  uint64         `json:"defs_sum"`
	Pool     ecs.PoolState  `json:"pool"`
	Entities []EntityRecord `json:"entities"`
}

// EntityRecord carries one entity's components in their raw encoded form,
// keyed by component kind.
type EntityRecord struct {
	ID         ecs.EntityID              `json:"id"`
	Components map[string]map[string]any `json:"components"`
}

// Capture encodes the world into a snapshot. Entities are ordered by ID so
// two captures of the same state encode identically. DefsSum records the
// fingerprint of the definition set the state was built against.
func Capture(w *ecs.World, tick, defsSum uint64) *Snapshot {
	byID := make(map[ecs.EntityID]map[string]map[string]any, 256)
	w.Registry().Each(func(s ecs.Store) {
		s.EachRaw(func(id ecs.EntityID, raw map[string]any) {
			comps := byID[id]
			if comps == nil {
				comps = make(map[string]map[string]any, 4)
				byID[id] = comps
			}
			comps[s.Kind()] = raw
		})
	})

	ids := make([]ecs.EntityID, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	snap := &Snapshot{
		Tick:     tick,
		DefsSum:  defsSum,
		Pool:     w.Pool().Export(),
		Entities: make([]EntityRecord, 0, len(ids)),
	}
	for _, id := range ids {
		snap.Entities = append(snap.Entities, EntityRecord{ID: id, Components: byID[id]})
	}
	return snap
}

// Restore replaces the world's state with the snapshot's. Every record is
// decoded and validated before anything is touched; a bad record leaves the
// target world exactly as it was. Call only between ticks, when the destroy
// queue is empty.
func Restore(w *ecs.World, snap *Snapshot) error {
	type entry struct {
		store ecs.Store
		id    ecs.EntityID
		value any
	}
	decoded := make([]entry, 0, len(snap.Entities)*2)
	for _, rec := range snap.Entities {
		for kind, raw := range rec.Components {
			store, ok := w.Registry().Lookup(kind)
			if !ok {
				return fmt.Errorf("entity %d: unknown component %q", rec.ID, kind)
			}
			v, err := store.DecodeValue(raw)
			if err != nil {
				return fmt.Errorf("entity %d: %w", rec.ID, err)
			}
			decoded = append(decoded, entry{store: store, id: rec.ID, value: v})
		}
	}

	w.Registry().Each(func(s ecs.Store) { s.Clear() })
	w.Pool().Import(snap.Pool)
	for _, e := range decoded {
		e.store.SetDecoded(e.id, e.value)
	}
	return nil
}
