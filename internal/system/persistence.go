package system

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftmud/server/internal/core/ecs"
	coresys "github.com/driftmud/server/internal/core/system"
	"github.com/driftmud/server/internal/data"
	"github.com/driftmud/server/internal/world"
)

const saveTimeout = 5 * time.Second

// SnapshotStore persists world captures and trims old ones.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *world.Snapshot) (uuid.UUID, error)
	Prune(ctx context.Context, keep int) (int64, error)
}

// StorageFlusher writes dirty extension KV back to its store.
type StorageFlusher interface {
	FlushStorage() error
}

// PersistenceSystem writes a periodic autosave: one world snapshot plus the
// extension storage flush. After a successful save it trims history down to
// keep snapshots. Phase 5 (Persist). Either sink may be nil for database-less
// runs.
type PersistenceSystem struct {
	log      *zap.Logger
	world    *ecs.World
	defs     *data.Holder
	store    SnapshotStore
	flusher  StorageFlusher
	interval uint64
	keep     int
}

func NewPersistenceSystem(log *zap.Logger, w *ecs.World, defs *data.Holder,
	store SnapshotStore, flusher StorageFlusher, intervalTicks uint64, keep int) *PersistenceSystem {
	return &PersistenceSystem{
		log:      log,
		world:    w,
		defs:     defs,
		store:    store,
		flusher:  flusher,
		interval: intervalTicks,
		keep:     keep,
	}
}

func (s *PersistenceSystem) Name() string         { return "persistence" }
func (s *PersistenceSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *PersistenceSystem) Update(tick uint64, _ time.Duration) error {
	if s.interval == 0 || tick%s.interval != 0 {
		return nil
	}
	s.SaveNow(tick)
	return nil
}

// SaveNow captures and writes immediately, ignoring the interval. The drain
// path calls this for the final autosave. Persistence failures are logged,
// never escalated: a broken database must not halt the loop.
func (s *PersistenceSystem) SaveNow(tick uint64) {
	if s.store != nil {
		snap := world.Capture(s.world, tick, s.defs.Current().Fingerprint())
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		id, err := s.store.SaveSnapshot(ctx, snap)
		if err != nil {
			s.log.Error("autosave failed", zap.Uint64("tick", tick), zap.Error(err))
		} else {
			s.log.Info("autosave written",
				zap.Uint64("tick", tick),
				zap.String("snapshot", id.String()),
				zap.Int("entities", len(snap.Entities)))
			if s.keep > 0 {
				if n, perr := s.store.Prune(ctx, s.keep); perr != nil {
					s.log.Warn("snapshot prune failed", zap.Error(perr))
				} else if n > 0 {
					s.log.Debug("old snapshots pruned", zap.Int64("removed", n))
				}
			}
		}
		cancel()
	}
	if s.flusher != nil {
		if err := s.flusher.FlushStorage(); err != nil {
			s.log.Error("extension storage flush failed", zap.Error(err))
		}
	}
}
