package sim

import (
	"go.uber.org/zap"

	"github.com/driftmud/server/internal/core/event"
)

// Intent is one session-originated request, decoded from a gateway frame.
type Intent struct {
	Session string
	Kind    string
	Data    map[string]any
}

// IntentHandler validates and applies one intent kind on the tick goroutine.
// A returned error rejects the intent; the world stays untouched.
type IntentHandler func(tick uint64, in Intent) error

// HandleIntent registers the handler for a kind. Register everything before
// Start; the map is read without locking on the tick goroutine.
func (s *Scheduler) HandleIntent(kind string, h IntentHandler) {
	s.handlers[kind] = h
}

// SubmitIntent queues an intent for the next tick. Safe from any goroutine.
func (s *Scheduler) SubmitIntent(in Intent) error {
	if s.State() != StateRunning {
		return ErrNotRunning
	}
	select {
	case s.intents <- in:
		return nil
	default:
		return ErrBacklogFull
	}
}

// drainIntents pulls at most the per-tick ceiling from the backlog. Unknown
// kinds and handler failures become diagnostics, never tick failures.
func (s *Scheduler) drainIntents(tick uint64) {
	for n := 0; n < s.ceiling; n++ {
		select {
		case in := <-s.intents:
			h, ok := s.handlers[in.Kind]
			if !ok {
				s.rejectIntent(tick, in, "unknown intent kind")
				continue
			}
			if err := h(tick, in); err != nil {
				s.rejectIntent(tick, in, err.Error())
			}
		default:
			return
		}
	}
}

func (s *Scheduler) rejectIntent(tick uint64, in Intent, reason string) {
	s.log.Debug("intent rejected",
		zap.String("session", in.Session),
		zap.String("kind", in.Kind),
		zap.String("reason", reason))
	s.bus.Publish(event.IntentRejected{Session: in.Session, IntentKind: in.Kind, Reason: reason})
}
