package system

import (
	"time"

	"go.uber.org/zap"

	"github.com/driftmud/server/internal/core/event"
	coresys "github.com/driftmud/server/internal/core/system"
	"github.com/driftmud/server/internal/world"
)

// MessageSink delivers frames to connected sessions. Send reports whether
// the session was still connected.
type MessageSink interface {
	Send(session, kind string, data map[string]any) bool
	Broadcast(kind string, data map[string]any)
}

// OutboundSystem drains the outbox to the gateway. It also tells a session
// when one of its intents was refused, so clients see why nothing happened.
// Phase 4 (Output).
type OutboundSystem struct {
	log    *zap.Logger
	outbox *world.Outbox
	sink   MessageSink
}

func NewOutboundSystem(log *zap.Logger, bus *event.Bus, outbox *world.Outbox, sink MessageSink) *OutboundSystem {
	s := &OutboundSystem{log: log, outbox: outbox, sink: sink}
	event.On(bus, "engine", func(_ uint64, ev event.IntentRejected) {
		outbox.Send(ev.Session, "intent_rejected", map[string]any{
			"intent": ev.IntentKind,
			"reason": ev.Reason,
		})
	})
	return s
}

func (s *OutboundSystem) Name() string         { return "outbound" }
func (s *OutboundSystem) Phase() coresys.Phase { return coresys.PhaseOutput }

func (s *OutboundSystem) Update(_ uint64, _ time.Duration) error {
	for _, m := range s.outbox.Drain() {
		if m.Session == "" {
			s.sink.Broadcast(m.Kind, m.Data)
			continue
		}
		if !s.sink.Send(m.Session, m.Kind, m.Data) {
			s.log.Debug("dropped frame for disconnected session",
				zap.String("session", m.Session), zap.String("kind", m.Kind))
		}
	}
	return nil
}
