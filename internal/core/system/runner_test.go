package system

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type probe struct {
	name  string
	phase Phase
	fail  error
	log   *[]string
}

func (p *probe) Name() string { return p.name }
func (p *probe) Phase() Phase { return p.phase }
func (p *probe) Update(tick uint64, dt time.Duration) error {
	*p.log = append(*p.log, p.name)
	return p.fail
}

func TestRunnerOrdersByPhaseThenRegistration(t *testing.T) {
	var log []string
	r := NewRunner()
	r.Register(&probe{name: "cleanup", phase: PhaseCleanup, log: &log})
	r.Register(&probe{name: "update-a", phase: PhaseUpdate, log: &log})
	r.Register(&probe{name: "input", phase: PhaseInput, log: &log})
	r.Register(&probe{name: "update-b", phase: PhaseUpdate, log: &log})

	require.NoError(t, r.TickRange(PhaseInput, PhaseCleanup, 1, time.Millisecond))
	assert.Equal(t, []string{"input", "update-a", "update-b", "cleanup"}, log)
}

func TestRunnerRangeFilters(t *testing.T) {
	var log []string
	r := NewRunner()
	r.Register(&probe{name: "input", phase: PhaseInput, log: &log})
	r.Register(&probe{name: "update", phase: PhaseUpdate, log: &log})
	r.Register(&probe{name: "persist", phase: PhasePersist, log: &log})

	require.NoError(t, r.TickRange(PhasePreUpdate, PhasePostUpdate, 1, time.Millisecond))
	assert.Equal(t, []string{"update"}, log)

	log = log[:0]
	require.NoError(t, r.TickPhase(PhasePersist, 1, time.Millisecond))
	assert.Equal(t, []string{"persist"}, log)
}

func TestRunnerStopsOnFirstError(t *testing.T) {
	var log []string
	boom := errors.New("boom")
	r := NewRunner()
	r.Register(&probe{name: "ok", phase: PhaseUpdate, log: &log})
	r.Register(&probe{name: "bad", phase: PhaseUpdate, fail: boom, log: &log})
	r.Register(&probe{name: "never", phase: PhaseOutput, log: &log})

	err := r.TickRange(PhaseInput, PhaseCleanup, 1, time.Millisecond)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "system bad")
	assert.Equal(t, []string{"ok", "bad"}, log)
}
