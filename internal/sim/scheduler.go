package sim

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/driftmud/server/internal/core/ecs"
	"github.com/driftmud/server/internal/core/event"
	coresys "github.com/driftmud/server/internal/core/system"
	"github.com/driftmud/server/internal/govern"
)

// State is the scheduler lifecycle. Draining is the window between a stop
// request and the loop goroutine finishing its last tick and final flush.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	}
	return "unknown"
}

var (
	ErrAlreadyRunning = errors.New("scheduler already running")
	ErrNotRunning     = errors.New("scheduler not running")
	ErrBacklogFull    = errors.New("intent backlog full")
)

// ExtensionHost is the slice of the mod host the scheduler drives at the
// fixed points of a tick. Script invocation itself happens inside an engine
// system, not here.
type ExtensionHost interface {
	CollectBatches() []*ecs.Batch
	ApplyVerdicts(verdicts map[string]govern.Verdict)
}

type command struct {
	fn    func() error
	reply chan error
}

type Deps struct {
	Log     *zap.Logger
	World   *ecs.World
	Bus     *event.Bus
	Gov     *govern.Governor
	Host    ExtensionHost
	Systems *coresys.Runner

	// Rate is the tick interval; dt passed to systems equals it.
	Rate time.Duration
	// IntentCeiling caps how many intents one tick drains.
	IntentCeiling int
	// IntentBacklog sizes the submission channel.
	IntentBacklog int
	// OnDrain runs after the last tick of a drain, before the loop parks.
	OnDrain func(tick uint64) error
}

// Scheduler owns the tick goroutine. Everything that mutates the world or
// the bus happens on that goroutine; the rest of the process talks to it
// through SubmitIntent and Do.
type Scheduler struct {
	log     *zap.Logger
	world   *ecs.World
	bus     *event.Bus
	gov     *govern.Governor
	host    ExtensionHost
	sys     *coresys.Runner
	rate    time.Duration
	ceiling int
	onDrain func(tick uint64) error

	handlers map[string]IntentHandler
	intents  chan Intent
	cmds     chan command

	mu    sync.Mutex
	state atomic.Int32
	tick  atomic.Uint64
	stop  chan struct{}
	done  chan struct{}
}

func New(d Deps) *Scheduler {
	if d.Rate <= 0 {
		d.Rate = 100 * time.Millisecond
	}
	if d.IntentCeiling <= 0 {
		d.IntentCeiling = 128
	}
	if d.IntentBacklog <= 0 {
		d.IntentBacklog = 256
	}
	return &Scheduler{
		log:      d.Log,
		world:    d.World,
		bus:      d.Bus,
		gov:      d.Gov,
		host:     d.Host,
		sys:      d.Systems,
		rate:     d.Rate,
		ceiling:  d.IntentCeiling,
		onDrain:  d.OnDrain,
		handlers: make(map[string]IntentHandler),
		intents:  make(chan Intent, d.IntentBacklog),
		cmds:     make(chan command),
	}
}

func (s *Scheduler) State() State        { return State(s.state.Load()) }
func (s *Scheduler) Tick() uint64        { return s.tick.Load() }
func (s *Scheduler) Rate() time.Duration { return s.rate }

// SetTick repositions the counter, typically after a snapshot restore. Only
// valid while stopped.
func (s *Scheduler) SetTick(t uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != StateStopped {
		return ErrAlreadyRunning
	}
	s.tick.Store(t)
	return nil
}

// Start spawns the tick loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != StateStopped {
		return ErrAlreadyRunning
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.state.Store(int32(StateRunning))
	go s.loop(s.stop, s.done)
	return nil
}

// Stop drains: the in-flight tick finishes, the final flush runs, and the
// call returns once the loop goroutine has parked.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.State() != StateRunning {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.state.Store(int32(StateDraining))
	close(s.stop)
	done := s.done
	s.mu.Unlock()
	<-done
	return nil
}

// Done reports loop termination, including a halt on an engine defect.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

// Do runs fn on the tick goroutine between two ticks, or inline when the
// loop is parked. Either way fn never races a tick.
func (s *Scheduler) Do(fn func() error) error {
	s.mu.Lock()
	if s.State() == StateStopped {
		defer s.mu.Unlock()
		return fn()
	}
	done := s.done
	s.mu.Unlock()

	reply := make(chan error, 1)
	select {
	case s.cmds <- command{fn: fn, reply: reply}:
		return <-reply
	case <-done:
		return ErrNotRunning
	}
}

func (s *Scheduler) loop(stop, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.state.Store(int32(StateStopped))
		s.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(s.rate)
	defer ticker.Stop()

	s.log.Info("tick loop running", zap.Duration("rate", s.rate))
	for {
		select {
		case <-ticker.C:
			if s.State() == StateDraining {
				s.drainDown()
				return
			}
			if err := s.safeTick(); err != nil {
				s.log.Error("engine tick failed, halting loop",
					zap.Uint64("tick", s.Tick()), zap.Error(err))
				return
			}
		case cmd := <-s.cmds:
			cmd.reply <- cmd.fn()
		case <-stop:
			s.drainDown()
			return
		}
	}
}

func (s *Scheduler) safeTick() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panicked: %v", r)
		}
	}()
	return s.runTick()
}

// runTick is the fixed per-tick sequence. Extension failures surface as
// diagnostics and never stop the loop; an engine system error does.
func (s *Scheduler) runTick() error {
	tick := s.tick.Add(1)
	start := time.Now()
	s.bus.BeginTick(tick)

	if err := s.sys.TickPhase(coresys.PhaseInput, tick, s.rate); err != nil {
		return err
	}
	s.drainIntents(tick)
	if err := s.sys.TickRange(coresys.PhasePreUpdate, coresys.PhasePostUpdate, tick, s.rate); err != nil {
		return err
	}

	s.bus.Flush(tick)
	s.applyBatches(tick)
	if s.host != nil {
		if verdicts := s.gov.CloseTick(); len(verdicts) > 0 {
			s.host.ApplyVerdicts(verdicts)
		}
	}

	if err := s.sys.TickRange(coresys.PhaseOutput, coresys.PhasePersist, tick, s.rate); err != nil {
		return err
	}
	if err := s.sys.TickPhase(coresys.PhaseCleanup, tick, s.rate); err != nil {
		return err
	}

	if took := time.Since(start); took > s.rate {
		s.log.Warn("tick overran its slot",
			zap.Uint64("tick", tick),
			zap.Duration("took", took),
			zap.Duration("target", s.rate))
		s.bus.Emit(tick, event.TickOverrun{Tick: tick, Took: took, Target: s.rate})
	}
	return nil
}

// applyBatches lands the writes extensions queued during dispatch. A
// rejected batch costs its owner the whole batch, nothing else.
func (s *Scheduler) applyBatches(tick uint64) {
	if s.host == nil {
		return
	}
	for _, b := range s.host.CollectBatches() {
		err := s.world.ApplyBatch(tick, b)
		if err == nil {
			continue
		}
		var rej *ecs.RejectError
		if !errors.As(err, &rej) {
			rej = &ecs.RejectError{Owner: b.Owner, Reason: err.Error()}
		}
		s.log.Warn("extension batch rejected",
			zap.String("owner", rej.Owner),
			zap.Int("op", rej.OpIdx),
			zap.String("reason", rej.Reason))
		s.bus.Emit(tick, event.BatchRejected{Owner: rej.Owner, Ops: len(b.Ops), Reason: rej.Reason})
	}
}

// drainDown is the tail of a drain or halt: leftover intents are discarded
// and the final flush hook runs with the last completed tick.
func (s *Scheduler) drainDown() {
	dropped := 0
	for {
		select {
		case <-s.intents:
			dropped++
			continue
		default:
		}
		break
	}
	tick := s.Tick()
	if dropped > 0 {
		s.log.Debug("discarded queued intents on drain", zap.Int("count", dropped))
	}
	if s.onDrain != nil {
		if err := s.onDrain(tick); err != nil {
			s.log.Error("final flush failed", zap.Uint64("tick", tick), zap.Error(err))
		}
	}
	s.log.Info("tick loop stopped", zap.Uint64("tick", tick))
}
