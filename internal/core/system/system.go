package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseInput      Phase = iota // 0: session intake from the transport
	PhasePreUpdate               // 1: timed effects before the main pass
	PhaseUpdate                  // 2: world logic
	PhasePostUpdate              // 3: script ticks, late reactions
	PhaseOutput                  // 4: build + send outbound frames
	PhasePersist                 // 5: snapshot autosave + storage flush
	PhaseCleanup                 // 6: destroy queue + tombstone release
)

// System is one engine-owned stage of the tick. A returned error is treated
// as a core defect: the scheduler halts instead of carrying on with a broken
// stage.
type System interface {
	Name() string
	Phase() Phase
	Update(tick uint64, dt time.Duration) error
}
