package govern

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const slice = 10 * time.Millisecond

func newGov() *Governor {
	g := New(zap.NewNop())
	g.Register("mod.x", Budget{TickSlice: slice, MemoryBytes: 1024, MaxListeners: 2})
	return g
}

func TestDeniesOnceAllowanceSpent(t *testing.T) {
	g := newGov()

	tok, err := g.BeginInvocation("mod.x")
	require.NoError(t, err)
	// the call ran long; it was allowed to finish
	assert.Equal(t, VerdictNone, g.EndInvocation(tok, 15*time.Millisecond, 0))

	_, err = g.BeginInvocation("mod.x")
	assert.ErrorIs(t, err, ErrOverBudget)
}

func TestOverageCarriesIntoNextTick(t *testing.T) {
	g := newGov()

	tok, _ := g.BeginInvocation("mod.x")
	g.EndInvocation(tok, 18*time.Millisecond, 0)
	assert.Empty(t, g.CloseTick())

	// next tick's allowance is slice minus the 8ms deficit
	tok, err := g.BeginInvocation("mod.x")
	require.NoError(t, err)
	g.EndInvocation(tok, 2*time.Millisecond, 0)
	u, ok := g.Usage("mod.x")
	require.True(t, ok)
	assert.Equal(t, 8*time.Millisecond, u.Deficit)
	assert.Equal(t, 1, u.OverTicks)
}

func TestThreeConsecutiveOverageTicksSuspend(t *testing.T) {
	g := newGov()

	for tick := 1; tick <= 2; tick++ {
		tok, err := g.BeginInvocation("mod.x")
		require.NoError(t, err)
		g.EndInvocation(tok, 12*time.Millisecond, 0)
		assert.Empty(t, g.CloseTick(), "tick %d must not suspend yet", tick)
	}

	tok, err := g.BeginInvocation("mod.x")
	require.NoError(t, err)
	g.EndInvocation(tok, 12*time.Millisecond, 0)
	verdicts := g.CloseTick()
	assert.Equal(t, VerdictSuspend, verdicts["mod.x"])
}

func TestIdleTicksPayDownDebt(t *testing.T) {
	g := newGov()

	tok, _ := g.BeginInvocation("mod.x")
	g.EndInvocation(tok, 25*time.Millisecond, 0) // 15ms of debt
	assert.Empty(t, g.CloseTick())

	// tick 2: denied entry, debt shrinks to 5ms, still an overage tick
	_, err := g.BeginInvocation("mod.x")
	assert.ErrorIs(t, err, ErrOverBudget)
	assert.Empty(t, g.CloseTick())
	u, _ := g.Usage("mod.x")
	assert.Equal(t, 5*time.Millisecond, u.Deficit)
	assert.Equal(t, 2, u.OverTicks)

	// tick 3: the remaining debt fits inside the slice, account is clean
	assert.Empty(t, g.CloseTick())
	u, _ = g.Usage("mod.x")
	assert.Equal(t, time.Duration(0), u.Deficit)
	assert.Equal(t, 0, u.OverTicks)
}

func TestMemoryBreachIsImmediatelyFatal(t *testing.T) {
	g := newGov()

	tok, err := g.BeginInvocation("mod.x")
	require.NoError(t, err)
	assert.Equal(t, VerdictTerminate, g.EndInvocation(tok, time.Millisecond, 2048))

	// the account is dead; nothing more is admitted
	_, err = g.BeginInvocation("mod.x")
	assert.ErrorIs(t, err, ErrUnknownExtension)
}

func TestMemoryDeltaAccumulates(t *testing.T) {
	g := newGov()

	tok, _ := g.BeginInvocation("mod.x")
	assert.Equal(t, VerdictNone, g.EndInvocation(tok, 0, 600))
	tok, _ = g.BeginInvocation("mod.x")
	assert.Equal(t, VerdictNone, g.EndInvocation(tok, 0, -200))
	assert.Equal(t, VerdictTerminate, g.AddMemory("mod.x", 700))
}

func TestListenerCeiling(t *testing.T) {
	g := newGov()

	require.NoError(t, g.CheckListenerCeiling("mod.x"))
	g.ListenerAdded("mod.x")
	g.ListenerAdded("mod.x")
	assert.ErrorIs(t, g.CheckListenerCeiling("mod.x"), ErrOverBudget)

	g.ListenersRemoved("mod.x", 1)
	assert.NoError(t, g.CheckListenerCeiling("mod.x"))
}

func TestResetClearsDebt(t *testing.T) {
	g := newGov()

	tok, _ := g.BeginInvocation("mod.x")
	g.EndInvocation(tok, 30*time.Millisecond, 0)
	g.CloseTick()

	g.Reset("mod.x")
	_, err := g.BeginInvocation("mod.x")
	assert.NoError(t, err)
}

func TestUnknownExtension(t *testing.T) {
	g := newGov()
	_, err := g.BeginInvocation("mod.ghost")
	assert.ErrorIs(t, err, ErrUnknownExtension)
	assert.ErrorIs(t, g.CheckListenerCeiling("mod.ghost"), ErrUnknownExtension)
}
