package system

import (
	"slices"
	"time"

	"github.com/driftmud/server/internal/core/ecs"
	"github.com/driftmud/server/internal/core/event"
	coresys "github.com/driftmud/server/internal/core/system"
	"github.com/driftmud/server/internal/world"
)

// DecaySystem counts down item lifetimes and retires the expired ones.
// Phase 2 (Update). Items with a zero decay field are permanent.
type DecaySystem struct {
	world  *ecs.World
	tables *world.Tables
	bus    *event.Bus
}

func NewDecaySystem(w *ecs.World, tables *world.Tables, bus *event.Bus) *DecaySystem {
	return &DecaySystem{world: w, tables: tables, bus: bus}
}

func (s *DecaySystem) Name() string         { return "decay" }
func (s *DecaySystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *DecaySystem) Update(_ uint64, _ time.Duration) error {
	var expired []ecs.EntityID
	s.tables.Item.Each(func(id ecs.EntityID, it *world.Item) {
		if it.Decay <= 0 {
			return
		}
		it.Decay--
		if it.Decay == 0 {
			expired = append(expired, id)
		}
	})
	slices.Sort(expired)

	for _, id := range expired {
		it, _ := s.tables.Item.Get(id)
		s.bus.Publish(event.EntityDied{Entity: id, DefID: it.Def})
		s.world.MarkForDestruction(id)
	}
	return nil
}
