package system

import (
	"time"

	coresys "github.com/driftmud/server/internal/core/system"
)

// ScriptTicker fans the tick out to every active extension.
type ScriptTicker interface {
	TickAll(tick uint64)
}

// ScriptTickSystem hands the tick to the mod host after the engine's own
// update pass, so scripts observe a settled world. Phase 3 (PostUpdate).
type ScriptTickSystem struct {
	host ScriptTicker
}

func NewScriptTickSystem(host ScriptTicker) *ScriptTickSystem {
	return &ScriptTickSystem{host: host}
}

func (s *ScriptTickSystem) Name() string         { return "script_tick" }
func (s *ScriptTickSystem) Phase() coresys.Phase { return coresys.PhasePostUpdate }

func (s *ScriptTickSystem) Update(tick uint64, _ time.Duration) error {
	s.host.TickAll(tick)
	return nil
}
