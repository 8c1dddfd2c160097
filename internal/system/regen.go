package system

import (
	"time"

	"github.com/driftmud/server/internal/core/ecs"
	coresys "github.com/driftmud/server/internal/core/system"
	"github.com/driftmud/server/internal/data"
	"github.com/driftmud/server/internal/world"
)

// regenInterval gates how often regeneration runs, in ticks.
const regenInterval = 5

// RegenSystem tops up wounded NPCs by their definition's regen rate.
// Phase 2 (Update). Keyed to the tick counter, not an internal accumulator,
// so a restored snapshot resumes the same cadence.
type RegenSystem struct {
	tables *world.Tables
	defs   *data.Holder
}

func NewRegenSystem(tables *world.Tables, defs *data.Holder) *RegenSystem {
	return &RegenSystem{tables: tables, defs: defs}
}

func (s *RegenSystem) Name() string         { return "regen" }
func (s *RegenSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *RegenSystem) Update(tick uint64, _ time.Duration) error {
	if tick%regenInterval != 0 {
		return nil
	}
	set := s.defs.Current()
	ecs.Each2(s.tables.NPC, s.tables.Health, func(_ ecs.EntityID, n *world.NPC, h *world.Health) {
		if h.Current <= 0 || h.Current >= h.Max {
			return
		}
		def := set.NPC(n.Def)
		if def == nil || def.Regen <= 0 {
			return
		}
		h.Current += def.Regen
		if h.Current > h.Max {
			h.Current = h.Max
		}
	})
	return nil
}
