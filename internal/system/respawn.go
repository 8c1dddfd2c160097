package system

import (
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/driftmud/server/internal/core/ecs"
	"github.com/driftmud/server/internal/core/event"
	coresys "github.com/driftmud/server/internal/core/system"
	"github.com/driftmud/server/internal/data"
	"github.com/driftmud/server/internal/world"
)

type pendingSpawn struct {
	def  string
	x    int
	y    int
	zone string
	due  uint64
}

// RespawnSystem handles death. Dead avatars reset to the spawn point at full
// health; dead NPCs leave the world and come back at their spawn anchor
// after their definition's respawn delay. Phase 2 (Update).
type RespawnSystem struct {
	log     *zap.Logger
	world   *ecs.World
	tables  *world.Tables
	bus     *event.Bus
	defs    *data.Holder
	outbox  *world.Outbox
	spawn   SpawnPoint
	pending []pendingSpawn
}

func NewRespawnSystem(log *zap.Logger, w *ecs.World, tables *world.Tables, bus *event.Bus,
	defs *data.Holder, outbox *world.Outbox, spawn SpawnPoint) *RespawnSystem {
	return &RespawnSystem{
		log:    log,
		world:  w,
		tables: tables,
		bus:    bus,
		defs:   defs,
		outbox: outbox,
		spawn:  spawn,
	}
}

func (s *RespawnSystem) Name() string         { return "respawn" }
func (s *RespawnSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *RespawnSystem) Update(tick uint64, _ time.Duration) error {
	s.resetDeadAvatars()
	s.retireDeadNPCs(tick)
	s.spawnDue(tick)
	return nil
}

func (s *RespawnSystem) resetDeadAvatars() {
	var dead []ecs.EntityID
	ecs.Each2(s.tables.Avatar, s.tables.Health, func(id ecs.EntityID, _ *world.Avatar, h *world.Health) {
		if h.Current <= 0 {
			dead = append(dead, id)
		}
	})
	slices.Sort(dead)

	for _, id := range dead {
		av, _ := s.tables.Avatar.Get(id)
		h, _ := s.tables.Health.Get(id)
		h.Current = h.Max
		s.tables.Position.Set(id, &world.Position{X: s.spawn.X, Y: s.spawn.Y, Zone: s.spawn.Zone})

		s.bus.Publish(event.EntityDied{Entity: id})
		s.bus.Publish(event.EntityMoved{Entity: id, X: s.spawn.X, Y: s.spawn.Y})
		if av != nil {
			s.outbox.Send(av.Session, "respawn", map[string]any{
				"zone": s.spawn.Zone, "x": s.spawn.X, "y": s.spawn.Y,
			})
		}
	}
}

func (s *RespawnSystem) retireDeadNPCs(tick uint64) {
	var dead []ecs.EntityID
	ecs.Each2(s.tables.NPC, s.tables.Health, func(id ecs.EntityID, _ *world.NPC, h *world.Health) {
		if h.Current <= 0 {
			dead = append(dead, id)
		}
	})
	slices.Sort(dead)

	set := s.defs.Current()
	for _, id := range dead {
		n, _ := s.tables.NPC.Get(id)
		s.bus.Publish(event.EntityDied{Entity: id, DefID: n.Def})
		s.world.MarkForDestruction(id)

		def := set.NPC(n.Def)
		if def == nil || def.RespawnTicks <= 0 {
			continue
		}
		s.pending = append(s.pending, pendingSpawn{
			def:  n.Def,
			x:    n.SpawnX,
			y:    n.SpawnY,
			zone: n.SpawnZone,
			due:  tick + uint64(def.RespawnTicks),
		})
	}
}

func (s *RespawnSystem) spawnDue(tick uint64) {
	if len(s.pending) == 0 {
		return
	}
	set := s.defs.Current()
	kept := s.pending[:0]
	for _, p := range s.pending {
		if p.due > tick {
			kept = append(kept, p)
			continue
		}
		def := set.NPC(p.def)
		if def == nil {
			s.log.Debug("respawn dropped, definition gone", zap.String("def", p.def))
			continue
		}
		id := SpawnNPC(s.world, s.tables, def, p.x, p.y, p.zone)
		s.bus.Publish(event.EntitySpawned{Entity: id, DefID: p.def})
	}
	s.pending = kept
}

// SpawnNPC creates one live instance of a definition at the given anchor.
// World seeding and the respawn path both come through here.
func SpawnNPC(w *ecs.World, tables *world.Tables, def *data.NPCDef, x, y int, zone string) ecs.EntityID {
	id := w.Create()
	tables.Position.Set(id, &world.Position{X: x, Y: y, Zone: zone})
	tables.Health.Set(id, &world.Health{Current: def.Health, Max: def.Health})
	tables.Name.Set(id, &world.Name{Display: def.Name})
	tables.NPC.Set(id, &world.NPC{Def: def.ID, SpawnX: x, SpawnY: y, SpawnZone: zone})
	return id
}
