package sim

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/driftmud/server/internal/core/ecs"
	"github.com/driftmud/server/internal/core/event"
	coresys "github.com/driftmud/server/internal/core/system"
	"github.com/driftmud/server/internal/govern"
	"github.com/driftmud/server/internal/world"
)

// probeSystem reports every tick it runs on a channel the test can wait on.
// fn, when set, runs first and its error becomes the system's error.
type probeSystem struct {
	phase coresys.Phase
	ticks chan uint64
	fn    func(tick uint64) error
}

func (p *probeSystem) Name() string         { return "probe" }
func (p *probeSystem) Phase() coresys.Phase { return p.phase }

func (p *probeSystem) Update(tick uint64, _ time.Duration) error {
	var err error
	if p.fn != nil {
		err = p.fn(tick)
	}
	select {
	case p.ticks <- tick:
	default:
	}
	return err
}

type stubHost struct {
	mu       sync.Mutex
	batches  []*ecs.Batch
	verdicts []map[string]govern.Verdict
}

func (h *stubHost) queue(b *ecs.Batch) {
	h.mu.Lock()
	h.batches = append(h.batches, b)
	h.mu.Unlock()
}

func (h *stubHost) CollectBatches() []*ecs.Batch {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.batches
	h.batches = nil
	return out
}

func (h *stubHost) ApplyVerdicts(v map[string]govern.Verdict) {
	h.mu.Lock()
	h.verdicts = append(h.verdicts, v)
	h.mu.Unlock()
}

type fixture struct {
	sched  *Scheduler
	world  *ecs.World
	tables *world.Tables
	bus    *event.Bus
	host   *stubHost
	probe  *probeSystem
}

func newFixture(t *testing.T, rate time.Duration, tweak func(*Deps)) *fixture {
	t.Helper()
	log := zap.NewNop()
	w := ecs.NewWorld(32)
	tb, err := world.RegisterComponents(w)
	require.NoError(t, err)

	f := &fixture{
		world:  w,
		tables: tb,
		bus:    event.NewBus(log),
		host:   &stubHost{},
		probe:  &probeSystem{phase: coresys.PhaseUpdate, ticks: make(chan uint64, 64)},
	}
	runner := coresys.NewRunner()
	runner.Register(f.probe)

	deps := Deps{
		Log:           log,
		World:         w,
		Bus:           f.bus,
		Gov:           govern.New(log),
		Host:          f.host,
		Systems:       runner,
		Rate:          10 * time.Millisecond,
		IntentCeiling: 2,
		IntentBacklog: 4,
	}
	if rate > 0 {
		deps.Rate = rate
	}
	if tweak != nil {
		tweak(&deps)
	}
	f.sched = New(deps)
	t.Cleanup(func() {
		if f.sched.State() == StateRunning {
			_ = f.sched.Stop()
		}
	})
	return f
}

// waitTick blocks until the probe has run a tick >= want.
func waitTick(t *testing.T, ch <-chan uint64, want uint64) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-ch:
			if got >= want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for tick %d", want)
		}
	}
}

func TestStartStopLifecycle(t *testing.T) {
	f := newFixture(t, 0, nil)
	assert.Equal(t, StateStopped, f.sched.State())

	require.NoError(t, f.sched.Start())
	assert.Equal(t, StateRunning, f.sched.State())
	assert.ErrorIs(t, f.sched.Start(), ErrAlreadyRunning)

	waitTick(t, f.probe.ticks, 2)
	require.NoError(t, f.sched.Stop())
	assert.Equal(t, StateStopped, f.sched.State())
	assert.ErrorIs(t, f.sched.Stop(), ErrNotRunning)
}

func TestIntentsDrainUpToCeiling(t *testing.T) {
	f := newFixture(t, 0, nil)

	var handled []uint64
	f.sched.HandleIntent("move", func(tick uint64, in Intent) error {
		handled = append(handled, tick)
		return nil
	})

	require.NoError(t, f.sched.Start())
	// Submitting from inside Do pins all three intents to the gap before one
	// tick, so the ceiling of 2 forces a split across two ticks.
	require.NoError(t, f.sched.Do(func() error {
		for i := 0; i < 3; i++ {
			if err := f.sched.SubmitIntent(Intent{Session: "s", Kind: "move"}); err != nil {
				return err
			}
		}
		return nil
	}))

	waitTick(t, f.probe.ticks, f.sched.Tick()+3)
	require.NoError(t, f.sched.Stop())

	require.Len(t, handled, 3)
	assert.Equal(t, handled[0], handled[1])
	assert.Equal(t, handled[0]+1, handled[2])
}

func TestIntentRejectionsAreDiagnosed(t *testing.T) {
	f := newFixture(t, 0, nil)

	f.sched.HandleIntent("move", func(tick uint64, in Intent) error {
		return errors.New("target tile blocked")
	})
	var rejected []event.IntentRejected
	event.On(f.bus, "test", func(_ uint64, ev event.IntentRejected) {
		rejected = append(rejected, ev)
	})

	require.NoError(t, f.sched.Start())
	require.NoError(t, f.sched.Do(func() error {
		if err := f.sched.SubmitIntent(Intent{Session: "s1", Kind: "move"}); err != nil {
			return err
		}
		return f.sched.SubmitIntent(Intent{Session: "s2", Kind: "teleport"})
	}))

	waitTick(t, f.probe.ticks, f.sched.Tick()+2)
	require.NoError(t, f.sched.Stop())

	require.Len(t, rejected, 2)
	assert.Equal(t, "target tile blocked", rejected[0].Reason)
	assert.Equal(t, "teleport", rejected[1].IntentKind)
	assert.Equal(t, "unknown intent kind", rejected[1].Reason)
}

func TestSubmitIntentGates(t *testing.T) {
	f := newFixture(t, 0, nil)
	f.sched.HandleIntent("noop", func(uint64, Intent) error { return nil })

	err := f.sched.SubmitIntent(Intent{Session: "s", Kind: "noop"})
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, f.sched.Start())
	err = f.sched.Do(func() error {
		for i := 0; i < 4; i++ {
			if err := f.sched.SubmitIntent(Intent{Session: "s", Kind: "noop"}); err != nil {
				return err
			}
		}
		return f.sched.SubmitIntent(Intent{Session: "s", Kind: "noop"})
	})
	assert.ErrorIs(t, err, ErrBacklogFull)
	require.NoError(t, f.sched.Stop())
}

func TestBatchesApplyAtFlushPoint(t *testing.T) {
	f := newFixture(t, 0, nil)

	e := f.world.Create()
	f.tables.Health.Set(e, &world.Health{Current: 10, Max: 10})

	good := ecs.NewBatch("mod.ok")
	good.Set(e, world.KindHealth, map[string]any{"current": 3, "max": 10})
	bad := ecs.NewBatch("mod.bad")
	bad.Set(e, world.KindHealth, map[string]any{"current": -5, "max": 10})
	f.host.queue(good)
	f.host.queue(bad)

	var rejections []event.BatchRejected
	event.On(f.bus, "test", func(_ uint64, ev event.BatchRejected) {
		rejections = append(rejections, ev)
	})

	require.NoError(t, f.sched.Start())
	waitTick(t, f.probe.ticks, 2)
	require.NoError(t, f.sched.Stop())

	got, ok := f.tables.Health.Get(e)
	require.True(t, ok)
	assert.Equal(t, 3, got.Current)

	require.Len(t, rejections, 1)
	assert.Equal(t, "mod.bad", rejections[0].Owner)
	assert.Contains(t, rejections[0].Reason, "negative")
}

func TestOverrunEmitsExactlyOneDiagnostic(t *testing.T) {
	f := newFixture(t, 40*time.Millisecond, nil)
	f.probe.fn = func(tick uint64) error {
		if tick == 2 {
			time.Sleep(100 * time.Millisecond)
		}
		return nil
	}

	var overruns []event.TickOverrun
	event.On(f.bus, "test", func(_ uint64, ev event.TickOverrun) {
		overruns = append(overruns, ev)
	})

	require.NoError(t, f.sched.Start())
	waitTick(t, f.probe.ticks, 4)
	require.NoError(t, f.sched.Stop())

	require.Len(t, overruns, 1)
	assert.Equal(t, uint64(2), overruns[0].Tick)
	assert.Greater(t, overruns[0].Took, overruns[0].Target)
}

func TestEngineSystemErrorHaltsLoop(t *testing.T) {
	f := newFixture(t, 0, nil)
	f.probe.fn = func(tick uint64) error {
		if tick == 2 {
			return errors.New("store corrupted")
		}
		return nil
	}

	require.NoError(t, f.sched.Start())
	select {
	case <-f.sched.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not halt")
	}

	assert.Equal(t, StateStopped, f.sched.State())
	assert.ErrorIs(t, f.sched.Stop(), ErrNotRunning)
	assert.Equal(t, uint64(2), f.sched.Tick())
}

func TestEnginePanicHaltsLoop(t *testing.T) {
	f := newFixture(t, 0, nil)
	f.probe.fn = func(tick uint64) error {
		if tick == 1 {
			panic("index out of range")
		}
		return nil
	}

	require.NoError(t, f.sched.Start())
	select {
	case <-f.sched.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not halt")
	}
	assert.Equal(t, StateStopped, f.sched.State())
}

func TestDoRunsBetweenTicks(t *testing.T) {
	f := newFixture(t, 0, nil)

	// Parked loop: Do executes inline.
	ran := false
	require.NoError(t, f.sched.Do(func() error {
		ran = true
		return nil
	}))
	assert.True(t, ran)

	require.NoError(t, f.sched.Start())
	var id ecs.EntityID
	require.NoError(t, f.sched.Do(func() error {
		id = f.world.Create()
		f.tables.Name.Set(id, &world.Name{Display: "operator"})
		return nil
	}))
	wantErr := errors.New("nope")
	assert.ErrorIs(t, f.sched.Do(func() error { return wantErr }), wantErr)

	require.NoError(t, f.sched.Stop())
	assert.True(t, f.world.Alive(id))
}

func TestDrainRunsFinalFlush(t *testing.T) {
	var (
		mu     sync.Mutex
		calls  int
		atTick uint64
	)
	f := newFixture(t, 0, func(d *Deps) {
		d.OnDrain = func(tick uint64) error {
			mu.Lock()
			calls++
			atTick = tick
			mu.Unlock()
			return nil
		}
	})

	require.NoError(t, f.sched.Start())
	waitTick(t, f.probe.ticks, 2)
	require.NoError(t, f.sched.Stop())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
	assert.Equal(t, f.sched.Tick(), atTick)
}

func TestSetTickOnlyWhileStopped(t *testing.T) {
	f := newFixture(t, 0, nil)
	require.NoError(t, f.sched.SetTick(41))
	assert.Equal(t, uint64(41), f.sched.Tick())

	require.NoError(t, f.sched.Start())
	assert.ErrorIs(t, f.sched.SetTick(7), ErrAlreadyRunning)

	waitTick(t, f.probe.ticks, 42) // counting resumes above the restored mark
	require.NoError(t, f.sched.Stop())
}
