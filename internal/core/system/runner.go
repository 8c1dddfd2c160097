package system

import (
	"fmt"
	"sort"
	"time"
)

// Runner executes systems in phase order each tick. Registration order is
// preserved within a phase, so the per-tick sequence is fixed and declared.
type Runner struct {
	systems []System
	sorted  bool
}

func NewRunner() *Runner {
	return &Runner{
		systems: make([]System, 0, 16),
	}
}

func (r *Runner) Register(s System) {
	r.systems = append(r.systems, s)
	r.sorted = false
}

func (r *Runner) Len() int { return len(r.systems) }

// TickPhase runs only the systems of one phase.
func (r *Runner) TickPhase(phase Phase, tick uint64, dt time.Duration) error {
	return r.TickRange(phase, phase, tick, dt)
}

// TickRange runs systems whose phase lies in [from, to]. The first failing
// system aborts the range.
func (r *Runner) TickRange(from, to Phase, tick uint64, dt time.Duration) error {
	r.ensureSorted()
	for _, s := range r.systems {
		p := s.Phase()
		if p < from || p > to {
			continue
		}
		if err := s.Update(tick, dt); err != nil {
			return fmt.Errorf("system %s: %w", s.Name(), err)
		}
	}
	return nil
}

func (r *Runner) ensureSorted() {
	if !r.sorted {
		sort.SliceStable(r.systems, func(i, j int) bool {
			return r.systems[i].Phase() < r.systems[j].Phase()
		})
		r.sorted = true
	}
}
