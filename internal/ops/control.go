package ops

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftmud/server/internal/core/ecs"
	"github.com/driftmud/server/internal/core/event"
	"github.com/driftmud/server/internal/data"
	"github.com/driftmud/server/internal/govern"
	"github.com/driftmud/server/internal/modhost"
	"github.com/driftmud/server/internal/sim"
	"github.com/driftmud/server/internal/world"
)

var ErrNotStopped = errors.New("scheduler must be stopped first")

// SnapshotStore is the slice of the snapshot repository the control surface
// uses. Nil disables the snapshot commands.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *world.Snapshot) (uuid.UUID, error)
	Load(ctx context.Context, id uuid.UUID) (*world.Snapshot, error)
	LoadLatest(ctx context.Context) (*world.Snapshot, uuid.UUID, error)
}

// Control is the operator command surface. Every world or host mutation is
// funneled through the scheduler's Do, so commands interleave with ticks
// instead of racing them.
type Control struct {
	log       *zap.Logger
	sched     *sim.Scheduler
	world     *ecs.World
	bus       *event.Bus
	defs      *data.Holder
	loader    *data.Loader
	host      *modhost.Host
	snapshots SnapshotStore
	budget    govern.Budget
}

type Deps struct {
	Log       *zap.Logger
	Sched     *sim.Scheduler
	World     *ecs.World
	Bus       *event.Bus
	Defs      *data.Holder
	Loader    *data.Loader
	Host      *modhost.Host
	Snapshots SnapshotStore
	Budget    govern.Budget // applied to extensions loaded through the surface
}

func New(d Deps) *Control {
	return &Control{
		log:       d.Log,
		sched:     d.Sched,
		world:     d.World,
		bus:       d.Bus,
		defs:      d.Defs,
		loader:    d.Loader,
		host:      d.Host,
		snapshots: d.Snapshots,
		budget:    d.Budget,
	}
}

type ExtensionStatus struct {
	ID        string   `json:"id"`
	State     string   `json:"state"`
	Perms     []string `json:"perms,omitempty"`
	SpentMS   int64    `json:"spent_ms"`
	DeficitMS int64    `json:"deficit_ms"`
	Memory    int      `json:"memory"`
	Listeners int      `json:"listeners"`
}

type Status struct {
	State      string            `json:"state"`
	Tick       uint64            `json:"tick"`
	Rate       string            `json:"rate"`
	DefsSum    string            `json:"defs_sum"`
	DefsCounts map[string]int    `json:"defs_counts"`
	Extensions []ExtensionStatus `json:"extensions"`
}

func (c *Control) Status() (Status, error) {
	set := c.defs.Current()
	st := Status{
		State:      c.sched.State().String(),
		Tick:       c.sched.Tick(),
		Rate:       c.sched.Rate().String(),
		DefsSum:    fmt.Sprintf("%016x", set.Fingerprint()),
		DefsCounts: set.Counts(),
	}
	err := c.sched.Do(func() error {
		for _, info := range c.host.List() {
			st.Extensions = append(st.Extensions, ExtensionStatus{
				ID:        info.ID,
				State:     info.State.String(),
				Perms:     info.Perms,
				SpentMS:   info.Usage.Spent.Milliseconds(),
				DeficitMS: info.Usage.Deficit.Milliseconds(),
				Memory:    info.Usage.Memory,
				Listeners: info.Usage.Listeners,
			})
		}
		return nil
	})
	return st, err
}

func (c *Control) StartTicking() error {
	c.log.Info("operator start")
	return c.sched.Start()
}

func (c *Control) StopTicking() error {
	c.log.Info("operator stop")
	return c.sched.Stop()
}

// ReloadDefs builds a fresh definition set from disk and swaps it in between
// ticks. A load failure leaves the current set untouched.
func (c *Control) ReloadDefs() (uint64, error) {
	set, err := c.loader.Load()
	if err != nil {
		return 0, err
	}
	err = c.sched.Do(func() error {
		c.defs.Swap(set)
		c.bus.Emit(c.sched.Tick(), event.DefsReloaded{
			Fingerprint: set.Fingerprint(),
			Records:     set.Total(),
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	c.log.Info("definitions reloaded",
		zap.Uint64("fingerprint", set.Fingerprint()),
		zap.Int("records", set.Total()))
	return set.Fingerprint(), nil
}

// LoadExtension reads a script from disk and loads it under the surface's
// default budget.
func (c *Control) LoadExtension(id, path string, perms []string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read extension %s: %w", id, err)
	}
	return c.sched.Do(func() error {
		return c.host.Load(id, string(src), perms, c.budget)
	})
}

func (c *Control) UnloadExtension(id string) error {
	return c.sched.Do(func() error { return c.host.Unload(id) })
}

func (c *Control) SuspendExtension(id string) error {
	return c.sched.Do(func() error { return c.host.Suspend(id) })
}

func (c *Control) ResumeExtension(id string) error {
	return c.sched.Do(func() error { return c.host.Resume(id) })
}

func (c *Control) ReloadExtension(id string) error {
	return c.sched.Do(func() error { return c.host.Reload(id) })
}

func (c *Control) InvokeExtension(id, fn string, payload map[string]any) (any, error) {
	var ret any
	err := c.sched.Do(func() error {
		var ierr error
		ret, ierr = c.host.Invoke(id, fn, payload)
		return ierr
	})
	return ret, err
}

// SaveSnapshot captures the world between ticks and writes it out on the
// caller's goroutine; the capture is immutable once taken.
func (c *Control) SaveSnapshot(ctx context.Context) (uuid.UUID, uint64, error) {
	if c.snapshots == nil {
		return uuid.Nil, 0, errors.New("snapshot store not configured")
	}
	var snap *world.Snapshot
	err := c.sched.Do(func() error {
		snap = world.Capture(c.world, c.sched.Tick(), c.defs.Current().Fingerprint())
		return nil
	})
	if err != nil {
		return uuid.Nil, 0, err
	}
	id, err := c.snapshots.SaveSnapshot(ctx, snap)
	if err != nil {
		return uuid.Nil, 0, err
	}
	c.log.Info("snapshot saved", zap.String("snapshot", id.String()), zap.Uint64("tick", snap.Tick))
	return id, snap.Tick, nil
}

// RestoreSnapshot replaces the world with a stored snapshot. Only allowed
// while the scheduler is stopped; id Nil means the newest one.
func (c *Control) RestoreSnapshot(ctx context.Context, id uuid.UUID) (uint64, error) {
	if c.snapshots == nil {
		return 0, errors.New("snapshot store not configured")
	}
	if c.sched.State() != sim.StateStopped {
		return 0, ErrNotStopped
	}

	var snap *world.Snapshot
	var err error
	if id == uuid.Nil {
		snap, id, err = c.snapshots.LoadLatest(ctx)
	} else {
		snap, err = c.snapshots.Load(ctx, id)
	}
	if err != nil {
		return 0, err
	}
	if snap == nil {
		return 0, errors.New("snapshot not found")
	}
	if cur := c.defs.Current().Fingerprint(); cur != snap.DefsSum {
		c.log.Warn("snapshot was taken against different definitions",
			zap.Uint64("snapshot_sum", snap.DefsSum), zap.Uint64("current_sum", cur))
	}

	if err := c.sched.Do(func() error { return world.Restore(c.world, snap) }); err != nil {
		return 0, err
	}
	// Outside Do: SetTick takes the scheduler lock itself. A Start racing in
	// here surfaces as ErrAlreadyRunning rather than a corrupt clock.
	if err := c.sched.SetTick(snap.Tick); err != nil {
		return 0, err
	}
	c.log.Info("snapshot restored",
		zap.String("snapshot", id.String()), zap.Uint64("tick", snap.Tick))
	return snap.Tick, nil
}

// Deadline wraps the surface's default timeout around DB-bound commands.
func Deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 10*time.Second)
}
