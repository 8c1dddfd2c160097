package ops

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/driftmud/server/internal/core/ecs"
	"github.com/driftmud/server/internal/core/event"
	coresys "github.com/driftmud/server/internal/core/system"
	"github.com/driftmud/server/internal/data"
	"github.com/driftmud/server/internal/govern"
	"github.com/driftmud/server/internal/modhost"
	"github.com/driftmud/server/internal/sim"
	"github.com/driftmud/server/internal/world"
)

type memSnapStore struct {
	snaps  map[uuid.UUID]*world.Snapshot
	latest uuid.UUID
}

func newMemSnapStore() *memSnapStore {
	return &memSnapStore{snaps: make(map[uuid.UUID]*world.Snapshot)}
}

func (s *memSnapStore) SaveSnapshot(_ context.Context, snap *world.Snapshot) (uuid.UUID, error) {
	id := uuid.New()
	s.snaps[id] = snap
	s.latest = id
	return id, nil
}

func (s *memSnapStore) Load(_ context.Context, id uuid.UUID) (*world.Snapshot, error) {
	return s.snaps[id], nil
}

func (s *memSnapStore) LoadLatest(_ context.Context) (*world.Snapshot, uuid.UUID, error) {
	if s.latest == uuid.Nil {
		return nil, uuid.Nil, nil
	}
	return s.snaps[s.latest], s.latest, nil
}

type controlFixture struct {
	ctl    *Control
	sched  *sim.Scheduler
	world  *ecs.World
	tables *world.Tables
	bus    *event.Bus
	defs   *data.Holder
	loader *data.Loader
	store  *memSnapStore
	dir    string
}

func writeDefs(t *testing.T, dir, src string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.yaml"), []byte(src), 0o644))
}

const defsV1 = "zones:\n" +
	"  - id: meadow\n" +
	"    name: Meadow\n" +
	"    width: 8\n" +
	"    height: 8\n" +
	"npcs:\n" +
	"  - id: rat\n" +
	"    name: Rat\n" +
	"    health: 20\n"

func newControlFixture(t *testing.T) *controlFixture {
	t.Helper()
	log := zap.NewNop()
	dir := t.TempDir()
	writeDefs(t, dir, defsV1)

	loader := data.NewLoader(log, []string{dir}, nil)
	set, err := loader.Load()
	require.NoError(t, err)
	defs := data.NewHolder(set)

	w := ecs.NewWorld(32)
	tables, err := world.RegisterComponents(w)
	require.NoError(t, err)
	bus := event.NewBus(log)
	gov := govern.New(log)
	host := modhost.New(modhost.Deps{
		Log: log, Bus: bus, Gov: gov, World: w, Defs: defs,
	})
	sched := sim.New(sim.Deps{
		Log: log, World: w, Bus: bus, Gov: gov, Host: host,
		Systems: coresys.NewRunner(),
		Rate:    10 * time.Millisecond,
	})
	store := newMemSnapStore()
	ctl := New(Deps{
		Log: log, Sched: sched, World: w, Bus: bus, Defs: defs,
		Loader: loader, Host: host, Snapshots: store,
		Budget: govern.Budget{TickSlice: 2 * time.Millisecond},
	})
	t.Cleanup(func() {
		if sched.State() != sim.StateStopped {
			_ = sched.Stop()
		}
	})
	return &controlFixture{
		ctl: ctl, sched: sched, world: w, tables: tables, bus: bus,
		defs: defs, loader: loader, store: store, dir: dir,
	}
}

func TestStatusWhileStopped(t *testing.T) {
	f := newControlFixture(t)

	st, err := f.ctl.Status()
	require.NoError(t, err)
	assert.Equal(t, "stopped", st.State)
	assert.Equal(t, uint64(0), st.Tick)
	assert.Equal(t, "10ms", st.Rate)
	assert.Equal(t, 1, st.DefsCounts[data.KindNPC])
	assert.Empty(t, st.Extensions)
}

func TestReloadDefsSwapsSet(t *testing.T) {
	f := newControlFixture(t)
	var reloads []event.DefsReloaded
	event.On(f.bus, "test", func(_ uint64, ev event.DefsReloaded) {
		reloads = append(reloads, ev)
	})
	before := f.defs.Current().Fingerprint()

	writeDefs(t, f.dir, defsV1+"items:\n  - id: apple\n    name: Apple\n")
	sum, err := f.ctl.ReloadDefs()
	require.NoError(t, err)
	assert.NotEqual(t, before, sum)
	assert.Equal(t, sum, f.defs.Current().Fingerprint())
	assert.NotNil(t, f.defs.Current().Item("apple"))
	require.Len(t, reloads, 1)
	assert.Equal(t, sum, reloads[0].Fingerprint)
}

func TestReloadDefsKeepsCurrentOnFailure(t *testing.T) {
	f := newControlFixture(t)
	before := f.defs.Current().Fingerprint()

	writeDefs(t, f.dir, "npcs:\n  - id: broken\n    name: Broken\n") // missing health
	_, err := f.ctl.ReloadDefs()
	require.Error(t, err)
	assert.Equal(t, before, f.defs.Current().Fingerprint())
}

func TestSnapshotSaveRestoreRoundTrip(t *testing.T) {
	f := newControlFixture(t)
	ctx := context.Background()

	hero := f.world.Create()
	f.tables.Name.Set(hero, &world.Name{Display: "Hero"})
	require.NoError(t, f.sched.SetTick(9))

	id, tick, err := f.ctl.SaveSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), tick)

	f.tables.Name.Set(hero, &world.Name{Display: "Renamed"})
	intruder := f.world.Create()
	f.tables.Name.Set(intruder, &world.Name{Display: "Intruder"})

	restored, err := f.ctl.RestoreSnapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), restored)
	assert.Equal(t, uint64(9), f.sched.Tick())

	n, ok := f.tables.Name.Get(hero)
	require.True(t, ok)
	assert.Equal(t, "Hero", n.Display)
	assert.False(t, f.world.Alive(intruder))
}

func TestRestoreLatestWhenIDNil(t *testing.T) {
	f := newControlFixture(t)
	ctx := context.Background()

	_, _, err := f.ctl.SaveSnapshot(ctx)
	require.NoError(t, err)

	_, err = f.ctl.RestoreSnapshot(ctx, uuid.Nil)
	require.NoError(t, err)
}

func TestRestoreRequiresStoppedScheduler(t *testing.T) {
	f := newControlFixture(t)
	ctx := context.Background()

	_, _, err := f.ctl.SaveSnapshot(ctx)
	require.NoError(t, err)

	require.NoError(t, f.ctl.StartTicking())
	_, err = f.ctl.RestoreSnapshot(ctx, uuid.Nil)
	assert.ErrorIs(t, err, ErrNotStopped)
	require.NoError(t, f.ctl.StopTicking())
}

func TestRestoreMissingSnapshot(t *testing.T) {
	f := newControlFixture(t)

	_, err := f.ctl.RestoreSnapshot(context.Background(), uuid.New())
	assert.ErrorContains(t, err, "not found")
}
