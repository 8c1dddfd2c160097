package system

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/driftmud/server/internal/core/event"
	coresys "github.com/driftmud/server/internal/core/system"
	"github.com/driftmud/server/internal/persist"
)

const maxJournalBuffer = 512

// journalKinds are the diagnostics worth keeping after the logs rotate.
var journalKinds = []string{
	event.KindIntentRejected,
	event.KindBatchRejected,
	event.KindCascadeOverflow,
	event.KindTickOverrun,
	event.KindBudgetDenied,
	event.KindCapabilityDenied,
	event.KindExtensionState,
	event.KindDefsReloaded,
}

// JournalSink receives buffered diagnostics at the persistence phase.
type JournalSink interface {
	Append(ctx context.Context, entries []persist.JournalEntry) error
}

// JournalSystem buffers diagnostic events during the tick and flushes them
// in one batch. A failed flush keeps the buffer for the next attempt; past
// the cap new entries are dropped and counted. Phase 5 (Persist).
type JournalSystem struct {
	log     *zap.Logger
	sink    JournalSink
	buf     []persist.JournalEntry
	dropped int
}

func NewJournalSystem(log *zap.Logger, bus *event.Bus, sink JournalSink) *JournalSystem {
	s := &JournalSystem{log: log, sink: sink}
	for _, kind := range journalKinds {
		bus.Subscribe(kind, "journal", s.record)
	}
	return s
}

func (s *JournalSystem) Name() string         { return "journal" }
func (s *JournalSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *JournalSystem) record(tick uint64, ev event.Event) {
	if len(s.buf) >= maxJournalBuffer {
		s.dropped++
		return
	}
	s.buf = append(s.buf, persist.JournalEntry{
		Tick:   tick,
		Kind:   ev.Kind(),
		Fields: ev.Fields(),
	})
}

func (s *JournalSystem) Update(_ uint64, _ time.Duration) error {
	if s.sink == nil || len(s.buf) == 0 {
		return nil
	}
	if s.dropped > 0 {
		s.log.Warn("journal buffer overflowed", zap.Int("dropped", s.dropped))
		s.dropped = 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := s.sink.Append(ctx, s.buf); err != nil {
		s.log.Warn("journal flush failed", zap.Int("entries", len(s.buf)), zap.Error(err))
		return nil
	}
	s.buf = s.buf[:0]
	return nil
}
