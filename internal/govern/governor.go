package govern

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Budget bounds one extension. A zero or negative field means that axis is
// unmetered; config supplies real values for production loads.
type Budget struct {
	TickSlice    time.Duration // wall clock across all invocations in one tick
	MemoryBytes  int           // host-retained footprint ceiling
	MaxListeners int
}

// Verdict is the governor's ruling after an accounting event. The governor
// decides, the mod host executes: nothing else may change an extension's
// lifecycle for resource reasons.
type Verdict int

const (
	VerdictNone Verdict = iota
	VerdictSuspend
	VerdictTerminate
)

func (v Verdict) String() string {
	switch v {
	case VerdictSuspend:
		return "suspend"
	case VerdictTerminate:
		return "terminate"
	}
	return "none"
}

var (
	ErrOverBudget       = errors.New("over budget")
	ErrUnknownExtension = errors.New("unknown extension")
)

// Token carries one admitted invocation back to EndInvocation.
type Token struct {
	ext string
}

// Usage is a point-in-time snapshot of one account, for the operator surface.
type Usage struct {
	Spent     time.Duration
	Deficit   time.Duration
	Memory    int
	Listeners int
	OverTicks int
}

type account struct {
	budget    Budget
	spent     time.Duration
	deficit   time.Duration
	memory    int
	listeners int
	overTicks int
	dead      bool
}

// Governor tracks per-extension budgets and issues suspend/terminate
// verdicts. Owned by the tick goroutine alongside the bus and the world.
type Governor struct {
	log      *zap.Logger
	accounts map[string]*account
}

func New(log *zap.Logger) *Governor {
	return &Governor{
		log:      log,
		accounts: make(map[string]*account),
	}
}

// Register opens an account. Re-registering an id resets nothing; the mod
// host guarantees ids are single-use.
func (g *Governor) Register(ext string, b Budget) {
	if _, ok := g.accounts[ext]; ok {
		return
	}
	g.accounts[ext] = &account{budget: b}
}

// Drop closes an account after terminate or unload.
func (g *Governor) Drop(ext string) {
	delete(g.accounts, ext)
}

// Reset clears time debt after an operator resume, so a previously suspended
// extension starts its next tick with a clean slate.
func (g *Governor) Reset(ext string) {
	if a, ok := g.accounts[ext]; ok {
		a.spent = 0
		a.deficit = 0
		a.overTicks = 0
	}
}

func (g *Governor) Usage(ext string) (Usage, bool) {
	a, ok := g.accounts[ext]
	if !ok {
		return Usage{}, false
	}
	return Usage{
		Spent:     a.spent,
		Deficit:   a.deficit,
		Memory:    a.memory,
		Listeners: a.listeners,
		OverTicks: a.overTicks,
	}, true
}

// BeginInvocation admits a call while the tick allowance (slice minus carried
// deficit minus time already spent this tick) is positive. A call that then
// runs long is never cut off; the overage is charged, not preempted.
func (g *Governor) BeginInvocation(ext string) (Token, error) {
	a, ok := g.accounts[ext]
	if !ok || a.dead {
		return Token{}, fmt.Errorf("extension %s: %w", ext, ErrUnknownExtension)
	}
	if a.budget.TickSlice > 0 {
		allowance := a.budget.TickSlice - a.deficit - a.spent
		if allowance <= 0 {
			return Token{}, fmt.Errorf("extension %s tick allowance spent: %w", ext, ErrOverBudget)
		}
	}
	return Token{ext: ext}, nil
}

// EndInvocation charges elapsed wall clock and the memory delta retained by
// the call. Breaching the memory ceiling is immediately fatal; time overage
// settles at CloseTick.
func (g *Governor) EndInvocation(tok Token, elapsed time.Duration, memDelta int) Verdict {
	a, ok := g.accounts[tok.ext]
	if !ok || a.dead {
		return VerdictNone
	}
	a.spent += elapsed
	a.memory += memDelta
	if a.memory < 0 {
		a.memory = 0
	}
	if a.budget.MemoryBytes > 0 && a.memory > a.budget.MemoryBytes {
		a.dead = true
		g.log.Error("extension memory ceiling breached",
			zap.String("extension", tok.ext),
			zap.Int("resident", a.memory),
			zap.Int("ceiling", a.budget.MemoryBytes))
		return VerdictTerminate
	}
	return VerdictNone
}

// AddMemory charges footprint growth that happens outside an invocation,
// such as storage flushed on the extension's behalf. Same fatality rule as
// EndInvocation.
func (g *Governor) AddMemory(ext string, delta int) Verdict {
	return g.EndInvocation(Token{ext: ext}, 0, delta)
}

// CheckListenerCeiling gates a new subscription.
func (g *Governor) CheckListenerCeiling(ext string) error {
	a, ok := g.accounts[ext]
	if !ok {
		return fmt.Errorf("extension %s: %w", ext, ErrUnknownExtension)
	}
	if a.budget.MaxListeners > 0 && a.listeners >= a.budget.MaxListeners {
		return fmt.Errorf("extension %s listener ceiling %d reached: %w",
			ext, a.budget.MaxListeners, ErrOverBudget)
	}
	return nil
}

func (g *Governor) ListenerAdded(ext string) {
	if a, ok := g.accounts[ext]; ok {
		a.listeners++
	}
}

func (g *Governor) ListenersRemoved(ext string, n int) {
	if a, ok := g.accounts[ext]; ok {
		a.listeners -= n
		if a.listeners < 0 {
			a.listeners = 0
		}
	}
}

// CloseTick settles every account at the tick boundary. Spending past the
// allowance makes this an overage tick: the residue carries into the next
// tick's deficit, and three consecutive overage ticks earn a suspend
// verdict. Idle ticks pay the debt down one slice at a time.
func (g *Governor) CloseTick() map[string]Verdict {
	var verdicts map[string]Verdict
	for ext, a := range g.accounts {
		if a.dead || a.budget.TickSlice <= 0 {
			a.spent = 0
			continue
		}
		over := a.spent + a.deficit - a.budget.TickSlice
		a.spent = 0
		if over <= 0 {
			a.deficit = 0
			a.overTicks = 0
			continue
		}
		a.deficit = over
		a.overTicks++
		g.log.Warn("extension exceeded tick slice",
			zap.String("extension", ext),
			zap.Duration("carried", over),
			zap.Int("consecutive", a.overTicks))
		if a.overTicks >= 3 {
			if verdicts == nil {
				verdicts = make(map[string]Verdict)
			}
			verdicts[ext] = VerdictSuspend
			a.overTicks = 0
			a.deficit = 0
		}
	}
	return verdicts
}
