package event

import (
	"time"

	"github.com/driftmud/server/internal/core/ecs"
)

// Event is the dispatch envelope: Kind routes to listeners, Fields feeds
// structured logs and the script bridge. Events are immutable records;
// handlers get read-only views and never a pointer into bus internals.
type Event interface {
	Kind() string
	Fields() map[string]any
}

// Kind names are wire-stable: extensions subscribe by these strings.
const (
	KindSessionJoined    = "session_joined"
	KindSessionLeft      = "session_left"
	KindEntityMoved      = "entity_moved"
	KindEntitySpoke      = "entity_spoke"
	KindEntityStruck     = "entity_struck"
	KindEntityDied       = "entity_died"
	KindEntitySpawned    = "entity_spawned"
	KindDefsReloaded     = "defs_reloaded"
	KindExtensionState   = "extension_state"
	KindIntentRejected   = "intent_rejected"
	KindBatchRejected    = "batch_rejected"
	KindCapabilityDenied = "capability_denied"
	KindBudgetDenied     = "budget_denied"
	KindCascadeOverflow  = "cascade_overflow"
	KindTickOverrun      = "tick_overrun"

	// ModKindPrefix namespaces custom events published by extensions.
	ModKindPrefix = "mod:"
)

type SessionJoined struct {
	Session string
	Entity  ecs.EntityID
}

func (SessionJoined) Kind() string { return KindSessionJoined }
func (e SessionJoined) Fields() map[string]any {
	return map[string]any{"session": e.Session, "entity": uint64(e.Entity)}
}

type SessionLeft struct {
	Session string
	Entity  ecs.EntityID
}

func (SessionLeft) Kind() string { return KindSessionLeft }
func (e SessionLeft) Fields() map[string]any {
	return map[string]any{"session": e.Session, "entity": uint64(e.Entity)}
}

type EntityMoved struct {
	Entity ecs.EntityID
	X, Y   int
}

func (EntityMoved) Kind() string { return KindEntityMoved }
func (e EntityMoved) Fields() map[string]any {
	return map[string]any{"entity": uint64(e.Entity), "x": e.X, "y": e.Y}
}

type EntitySpoke struct {
	Entity ecs.EntityID
	Text   string
}

func (EntitySpoke) Kind() string { return KindEntitySpoke }
func (e EntitySpoke) Fields() map[string]any {
	return map[string]any{"entity": uint64(e.Entity), "text": e.Text}
}

type EntityStruck struct {
	Attacker  ecs.EntityID
	Target    ecs.EntityID
	Damage    int
	Remaining int
}

func (EntityStruck) Kind() string { return KindEntityStruck }
func (e EntityStruck) Fields() map[string]any {
	return map[string]any{
		"attacker":  uint64(e.Attacker),
		"target":    uint64(e.Target),
		"damage":    e.Damage,
		"remaining": e.Remaining,
	}
}

type EntityDied struct {
	Entity ecs.EntityID
	DefID  string
}

func (EntityDied) Kind() string { return KindEntityDied }
func (e EntityDied) Fields() map[string]any {
	return map[string]any{"entity": uint64(e.Entity), "def": e.DefID}
}

type EntitySpawned struct {
	Entity ecs.EntityID
	DefID  string
}

func (EntitySpawned) Kind() string { return KindEntitySpawned }
func (e EntitySpawned) Fields() map[string]any {
	return map[string]any{"entity": uint64(e.Entity), "def": e.DefID}
}

type DefsReloaded struct {
	Fingerprint uint64
	Records     int
}

func (DefsReloaded) Kind() string { return KindDefsReloaded }
func (e DefsReloaded) Fields() map[string]any {
	return map[string]any{"fingerprint": e.Fingerprint, "records": e.Records}
}

// ExtensionState announces a lifecycle transition decided by the host or the
// governor.
type ExtensionState struct {
	Extension string
	From      string
	To        string
	Reason    string
}

func (ExtensionState) Kind() string { return KindExtensionState }
func (e ExtensionState) Fields() map[string]any {
	return map[string]any{"extension": e.Extension, "from": e.From, "to": e.To, "reason": e.Reason}
}

type IntentRejected struct {
	Session    string
	IntentKind string
	Reason     string
}

func (IntentRejected) Kind() string { return KindIntentRejected }
func (e IntentRejected) Fields() map[string]any {
	return map[string]any{"session": e.Session, "intent": e.IntentKind, "reason": e.Reason}
}

type BatchRejected struct {
	Owner  string
	Ops    int
	Reason string
}

func (BatchRejected) Kind() string { return KindBatchRejected }
func (e BatchRejected) Fields() map[string]any {
	return map[string]any{"owner": e.Owner, "ops": e.Ops, "reason": e.Reason}
}

type CapabilityDenied struct {
	Extension  string
	Capability string
	Call       string
}

func (CapabilityDenied) Kind() string { return KindCapabilityDenied }
func (e CapabilityDenied) Fields() map[string]any {
	return map[string]any{"extension": e.Extension, "capability": e.Capability, "call": e.Call}
}

// BudgetDenied marks an invocation skipped because the extension's tick
// allowance was already spent when the call was due.
type BudgetDenied struct {
	Extension string
	Call      string
}

func (BudgetDenied) Kind() string { return KindBudgetDenied }
func (e BudgetDenied) Fields() map[string]any {
	return map[string]any{"extension": e.Extension, "call": e.Call}
}

type CascadeOverflow struct {
	Depth   int
	Dropped int
	Kinds   []string
}

func (CascadeOverflow) Kind() string { return KindCascadeOverflow }
func (e CascadeOverflow) Fields() map[string]any {
	return map[string]any{"depth": e.Depth, "dropped": e.Dropped, "kinds": e.Kinds}
}

type TickOverrun struct {
	Tick   uint64
	Took   time.Duration
	Target time.Duration
}

func (TickOverrun) Kind() string { return KindTickOverrun }
func (e TickOverrun) Fields() map[string]any {
	return map[string]any{"tick": e.Tick, "took_ms": e.Took.Milliseconds(), "target_ms": e.Target.Milliseconds()}
}

// ModEvent is a custom event published by an extension. Name already carries
// the mod: prefix by the time it reaches the bus.
type ModEvent struct {
	Name    string
	Source  string
	Payload map[string]any
}

func (e ModEvent) Kind() string { return e.Name }
func (e ModEvent) Fields() map[string]any {
	f := map[string]any{"source": e.Source}
	for k, v := range e.Payload {
		f[k] = v
	}
	return f
}
