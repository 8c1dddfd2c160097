package system

import (
	"time"

	"github.com/driftmud/server/internal/core/ecs"
	coresys "github.com/driftmud/server/internal/core/system"
)

// CleanupSystem flushes the deferred destruction queue and releases
// tombstones old enough to leave quarantine. Phase 6 (Cleanup).
type CleanupSystem struct {
	world *ecs.World
}

func NewCleanupSystem(world *ecs.World) *CleanupSystem {
	return &CleanupSystem{world: world}
}

func (s *CleanupSystem) Name() string         { return "cleanup" }
func (s *CleanupSystem) Phase() coresys.Phase { return coresys.PhaseCleanup }

func (s *CleanupSystem) Update(tick uint64, _ time.Duration) error {
	s.world.FlushDestroyQueue(tick)
	return nil
}
