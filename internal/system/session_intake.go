package system

import (
	"time"

	"go.uber.org/zap"

	"github.com/driftmud/server/internal/core/ecs"
	"github.com/driftmud/server/internal/core/event"
	coresys "github.com/driftmud/server/internal/core/system"
	"github.com/driftmud/server/internal/world"
)

const (
	avatarHealth      = 30
	defaultAvatarName = "Traveler"
)

// SpawnPoint is where new avatars appear and dead ones are put back.
type SpawnPoint struct {
	Zone string
	X    int
	Y    int
}

// SessionSource yields the connects and disconnects the gateway accumulated
// since the last drain.
type SessionSource interface {
	DrainJoined() []string
	DrainLeft() []string
}

// IntakeSystem turns gateway session lifecycle into avatar entities and owns
// the session-to-entity mapping intent handlers resolve through.
// Phase 0 (Input).
type IntakeSystem struct {
	log      *zap.Logger
	src      SessionSource
	world    *ecs.World
	tables   *world.Tables
	bus      *event.Bus
	outbox   *world.Outbox
	spawn    SpawnPoint
	entities map[string]ecs.EntityID
}

func NewIntakeSystem(log *zap.Logger, src SessionSource, w *ecs.World, tables *world.Tables,
	bus *event.Bus, outbox *world.Outbox, spawn SpawnPoint) *IntakeSystem {
	return &IntakeSystem{
		log:      log,
		src:      src,
		world:    w,
		tables:   tables,
		bus:      bus,
		outbox:   outbox,
		spawn:    spawn,
		entities: make(map[string]ecs.EntityID),
	}
}

func (s *IntakeSystem) Name() string         { return "session_intake" }
func (s *IntakeSystem) Phase() coresys.Phase { return coresys.PhaseInput }

// Entity resolves a session to its avatar.
func (s *IntakeSystem) Entity(session string) (ecs.EntityID, bool) {
	id, ok := s.entities[session]
	return id, ok
}

func (s *IntakeSystem) Update(_ uint64, _ time.Duration) error {
	for _, sid := range s.src.DrainJoined() {
		if _, dup := s.entities[sid]; dup {
			s.log.Warn("session joined twice", zap.String("session", sid))
			continue
		}
		id := s.world.Create()
		s.tables.Position.Set(id, &world.Position{X: s.spawn.X, Y: s.spawn.Y, Zone: s.spawn.Zone})
		s.tables.Health.Set(id, &world.Health{Current: avatarHealth, Max: avatarHealth})
		s.tables.Name.Set(id, &world.Name{Display: defaultAvatarName})
		s.tables.Avatar.Set(id, &world.Avatar{Session: sid})
		s.entities[sid] = id

		s.bus.Publish(event.SessionJoined{Session: sid, Entity: id})
		s.outbox.Send(sid, "welcome", map[string]any{
			"entity": uint64(id),
			"zone":   s.spawn.Zone,
			"x":      s.spawn.X,
			"y":      s.spawn.Y,
		})
		s.log.Info("session joined", zap.String("session", sid), zap.Uint64("entity", uint64(id)))
	}

	for _, sid := range s.src.DrainLeft() {
		id, ok := s.entities[sid]
		if !ok {
			continue
		}
		delete(s.entities, sid)
		s.world.MarkForDestruction(id)
		s.bus.Publish(event.SessionLeft{Session: sid, Entity: id})
		s.log.Info("session left", zap.String("session", sid), zap.Uint64("entity", uint64(id)))
	}
	return nil
}
