package modhost

import (
	"errors"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/driftmud/server/internal/core/ecs"
	"github.com/driftmud/server/internal/core/event"
	"github.com/driftmud/server/internal/data"
	"github.com/driftmud/server/internal/govern"
)

// State tracks an extension through its lifecycle. Terminated is terminal:
// the identifier is retired and never reactivated.
type State uint8

const (
	StateLoading State = iota
	StateActive
	StateSuspended
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	case StateSuspended:
		return "suspended"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// Hook names an extension may define as globals.
const (
	initFn = "on_init"
	tickFn = "on_tick"
)

// StorageProvider persists extension key-value state across restarts. A nil
// provider keeps storage purely in memory.
type StorageProvider interface {
	Load(ext string) (map[string]string, error)
	Save(ext string, kv map[string]string) error
}

// Deps wires the host into the core. Every method runs on the tick
// goroutine; the host does no locking of its own.
type Deps struct {
	Log       *zap.Logger
	Bus       *event.Bus
	Gov       *govern.Governor
	World     *ecs.World
	Defs      *data.Holder
	Storage   StorageProvider
	Broadcast func(from, text string)
	Limits    Limits
}

type extension struct {
	id      string
	state   State
	source  string
	perms   []string
	granted map[string]bool
	budget  govern.Budget

	ls  *lua.LState
	log *zap.Logger

	batch        *ecs.Batch
	storage      map[string]string
	storageDirty bool
	handlers     map[event.ListenerID]*lua.LFunction

	denied    *PermissionError
	memKilled bool
}

// Host runs extensions in isolated sandboxes and mediates everything they
// touch through capabilities. One Lua state per extension; no state is ever
// shared between two extensions.
type Host struct {
	log       *zap.Logger
	bus       *event.Bus
	gov       *govern.Governor
	world     *ecs.World
	defs      *data.Holder
	store     StorageProvider
	broadcast func(from, text string)
	limits    Limits

	exts  map[string]*extension
	order []string
}

func New(d Deps) *Host {
	return &Host{
		log:       d.Log,
		bus:       d.Bus,
		gov:       d.Gov,
		world:     d.World,
		defs:      d.Defs,
		store:     d.Storage,
		broadcast: d.Broadcast,
		limits:    d.Limits,
		exts:      make(map[string]*extension),
	}
}

// Info is a point-in-time view of one extension for the control surface.
type Info struct {
	ID    string
	State State
	Perms []string
	Usage govern.Usage
}

// List reports every extension the host has seen, in load order, terminated
// ones included.
func (h *Host) List() []Info {
	out := make([]Info, 0, len(h.order))
	for _, id := range h.order {
		if info, ok := h.Get(id); ok {
			out = append(out, info)
		}
	}
	return out
}

func (h *Host) Get(id string) (Info, bool) {
	ext, ok := h.exts[id]
	if !ok {
		return Info{}, false
	}
	usage, _ := h.gov.Usage(id)
	return Info{
		ID:    ext.id,
		State: ext.state,
		Perms: append([]string(nil), ext.perms...),
		Usage: usage,
	}, true
}

// Load compiles and runs an extension chunk in a fresh sandbox, seeds its
// persistent storage, and calls its init hook if one was defined. Any
// failure terminates the extension and retires the identifier.
func (h *Host) Load(id, source string, perms []string, budget govern.Budget) error {
	if prev, ok := h.exts[id]; ok {
		if prev.state == StateTerminated {
			return &LoadError{Extension: id, Err: errors.New("identifier retired")}
		}
		return &LoadError{Extension: id, Err: errors.New("already loaded")}
	}
	granted := make(map[string]bool, len(perms))
	for _, p := range perms {
		if !capCatalog[p] {
			return &LoadError{Extension: id, Err: fmt.Errorf("unknown capability %q", p)}
		}
		granted[p] = true
	}

	ls, err := newSandbox(h.limits)
	if err != nil {
		return &LoadError{Extension: id, Err: err}
	}
	ext := &extension{
		id:       id,
		state:    StateLoading,
		source:   source,
		perms:    append([]string(nil), perms...),
		granted:  granted,
		budget:   budget,
		ls:       ls,
		log:      h.log.With(zap.String("extension", id)),
		storage:  make(map[string]string),
		handlers: make(map[event.ListenerID]*lua.LFunction),
	}
	h.gov.Register(id, budget)
	h.bindCaps(ext)
	h.exts[id] = ext
	h.order = append(h.order, id)

	if err := h.seedStorage(ext); err != nil {
		h.terminate(ext, "load failed")
		return &LoadError{Extension: id, Err: err}
	}
	if err := h.boot(ext); err != nil {
		h.terminate(ext, "load failed")
		return &LoadError{Extension: id, Err: err}
	}

	ext.state = StateActive
	h.bus.Publish(event.ExtensionState{
		Extension: id, From: StateLoading.String(), To: StateActive.String(), Reason: "loaded",
	})
	ext.log.Info("extension loaded",
		zap.Strings("permissions", ext.perms),
		zap.Int("listeners", len(ext.handlers)))
	return nil
}

func (h *Host) seedStorage(ext *extension) error {
	if h.store == nil {
		return nil
	}
	kv, err := h.store.Load(ext.id)
	if err != nil {
		return fmt.Errorf("seed storage: %w", err)
	}
	bytes := 0
	for k, v := range kv {
		ext.storage[k] = v
		bytes += len(k) + len(v) + storageKVOverhead
	}
	if v := h.gov.AddMemory(ext.id, bytes); v == govern.VerdictTerminate {
		return errMemoryCeiling
	}
	return nil
}

// boot runs the chunk top level, then the init hook. Both are governed.
func (h *Host) boot(ext *extension) error {
	tok, err := h.gov.BeginInvocation(ext.id)
	if err != nil {
		return err
	}
	start := time.Now()
	derr := ext.ls.DoString(ext.source)
	verdict := h.gov.EndInvocation(tok, time.Since(start), 0)
	if ext.memKilled || verdict == govern.VerdictTerminate {
		ext.memKilled = false
		return errMemoryCeiling
	}
	if derr != nil {
		if pd := ext.denied; pd != nil {
			ext.denied = nil
			return pd
		}
		return derr
	}
	ext.denied = nil

	if ext.ls.GetGlobal(initFn) == lua.LNil {
		return nil
	}
	_, err = h.call(ext, initFn)
	return err
}

// call is the governed invocation core shared by hooks, event dispatch, and
// the operator surface. The callee's first return value comes back raw; hook
// callers drop it.
func (h *Host) call(ext *extension, fn string, args ...lua.LValue) (lua.LValue, error) {
	fnv := ext.ls.GetGlobal(fn)
	if fnv == lua.LNil {
		return lua.LNil, &InvocationError{Extension: ext.id, Fn: fn, Err: errors.New("function not defined")}
	}
	tok, err := h.gov.BeginInvocation(ext.id)
	if err != nil {
		return lua.LNil, err
	}
	start := time.Now()
	cerr := ext.ls.CallByParam(lua.P{Fn: fnv, NRet: 1, Protect: true}, args...)
	verdict := h.gov.EndInvocation(tok, time.Since(start), 0)
	var ret lua.LValue = lua.LNil
	if cerr == nil {
		ret = ext.ls.Get(-1)
		ext.ls.Pop(1)
	}
	if err := h.settle(ext, fn, cerr, verdict); err != nil {
		return lua.LNil, err
	}
	return ret, nil
}

// settle turns the raw outcome of a protected call into the typed result. A
// memory verdict terminates here; a denial or crash leaves the extension
// Active.
func (h *Host) settle(ext *extension, call string, callErr error, verdict govern.Verdict) error {
	if ext.memKilled || verdict == govern.VerdictTerminate {
		ext.memKilled = false
		ext.denied = nil
		h.terminate(ext, "memory ceiling exceeded")
		return &InvocationError{Extension: ext.id, Fn: call, Err: errMemoryCeiling}
	}
	if callErr != nil {
		if pd := ext.denied; pd != nil {
			ext.denied = nil
			return pd
		}
		ext.log.Error("extension call failed",
			zap.String("call", call), zap.Error(callErr))
		return &InvocationError{Extension: ext.id, Fn: call, Err: callErr}
	}
	ext.denied = nil
	return nil
}

// Invoke calls a global function inside an Active extension, passing the
// payload as a table when one is given, and returns the function's first
// return value in raw form. Faults are contained and returned, never
// propagated.
func (h *Host) Invoke(id, fn string, payload map[string]any) (any, error) {
	ext, ok := h.exts[id]
	if !ok {
		return nil, fmt.Errorf("extension %s: %w", id, ErrUnknownExtension)
	}
	if ext.state != StateActive {
		return nil, fmt.Errorf("extension %s is %s: %w", id, ext.state, ErrNotActive)
	}
	var args []lua.LValue
	if payload != nil {
		args = append(args, goToLua(ext.ls, payload))
	}
	ret, err := h.call(ext, fn, args...)
	if err != nil {
		return nil, err
	}
	return luaToGo(ret), nil
}

// TickAll runs each Active extension's tick hook in load order. A spent
// allowance skips the extension for this tick and leaves a diagnostic.
func (h *Host) TickAll(tick uint64) {
	for _, id := range h.order {
		ext := h.exts[id]
		if ext == nil || ext.state != StateActive {
			continue
		}
		if ext.ls.GetGlobal(tickFn) == lua.LNil {
			continue
		}
		if _, err := h.call(ext, tickFn, lua.LNumber(tick)); errors.Is(err, govern.ErrOverBudget) {
			ext.log.Debug("tick hook skipped, allowance spent", zap.Uint64("tick", tick))
			h.bus.Publish(event.BudgetDenied{Extension: id, Call: tickFn})
		}
	}
}

// dispatchToExt runs a subscribed handler under the governor. Dormant owners
// are already filtered at the bus; the state check covers the direct-emit
// path.
func (h *Host) dispatchToExt(ext *extension, fn *lua.LFunction, tick uint64, ev event.Event) {
	if ext.state != StateActive {
		return
	}
	tok, err := h.gov.BeginInvocation(ext.id)
	if err != nil {
		if errors.Is(err, govern.ErrOverBudget) {
			h.bus.Publish(event.BudgetDenied{Extension: ext.id, Call: "on " + ev.Kind()})
		}
		return
	}
	payload := goToLua(ext.ls, ev.Fields())
	start := time.Now()
	cerr := ext.ls.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true},
		lua.LNumber(tick), lua.LString(ev.Kind()), payload)
	verdict := h.gov.EndInvocation(tok, time.Since(start), 0)
	h.settle(ext, "handler "+ev.Kind(), cerr, verdict)
}

// CollectBatches takes the staged mutation batches in load order and refunds
// their footprint charge; applying them moves the cost into the world.
// Suspended extensions keep theirs until resumed.
func (h *Host) CollectBatches() []*ecs.Batch {
	var out []*ecs.Batch
	for _, id := range h.order {
		ext := h.exts[id]
		if ext == nil || ext.state != StateActive || ext.batch == nil || ext.batch.Len() == 0 {
			continue
		}
		h.gov.AddMemory(id, -ext.batch.CostBytes())
		out = append(out, ext.batch)
		ext.batch = nil
	}
	return out
}

// ApplyVerdicts enacts the governor's tick-boundary decisions.
func (h *Host) ApplyVerdicts(verdicts map[string]govern.Verdict) {
	if len(verdicts) == 0 {
		return
	}
	for _, id := range h.order {
		v, ok := verdicts[id]
		if !ok {
			continue
		}
		ext := h.exts[id]
		if ext == nil || ext.state == StateTerminated {
			continue
		}
		switch v {
		case govern.VerdictSuspend:
			h.suspend(ext, "tick slice exceeded for three consecutive ticks")
		case govern.VerdictTerminate:
			h.terminate(ext, "memory ceiling exceeded")
		}
	}
}

// Suspend parks an Active extension at the operator's request.
func (h *Host) Suspend(id string) error {
	ext, ok := h.exts[id]
	if !ok {
		return fmt.Errorf("extension %s: %w", id, ErrUnknownExtension)
	}
	if ext.state != StateActive {
		return fmt.Errorf("extension %s is %s: %w", id, ext.state, ErrNotActive)
	}
	h.suspend(ext, "operator request")
	return nil
}

// Resume wakes a suspended extension with a clean slate: carried time debt
// is forgiven and dormant registrations fire again.
func (h *Host) Resume(id string) error {
	ext, ok := h.exts[id]
	if !ok {
		return fmt.Errorf("extension %s: %w", id, ErrUnknownExtension)
	}
	if ext.state != StateSuspended {
		return fmt.Errorf("extension %s is %s, not suspended", id, ext.state)
	}
	ext.state = StateActive
	h.gov.Reset(id)
	h.bus.SetOwnerDormant(id, false)
	h.bus.Publish(event.ExtensionState{
		Extension: id, From: StateSuspended.String(), To: StateActive.String(), Reason: "resumed",
	})
	ext.log.Info("extension resumed")
	return nil
}

// Unload terminates an extension at the operator's request. The identifier
// is retired with it.
func (h *Host) Unload(id string) error {
	ext, ok := h.exts[id]
	if !ok || ext.state == StateTerminated {
		return fmt.Errorf("extension %s: %w", id, ErrUnknownExtension)
	}
	h.terminate(ext, "unloaded")
	return nil
}

// Reload tears the extension's context down and boots a fresh one from the
// same source and grants. Persistent storage survives; registrations,
// staged writes, and every Lua global do not. A failed reload terminates.
func (h *Host) Reload(id string) error {
	ext, ok := h.exts[id]
	if !ok || ext.state == StateTerminated {
		return fmt.Errorf("extension %s: %w", id, ErrUnknownExtension)
	}

	n := h.bus.RemoveOwner(id)
	h.gov.ListenersRemoved(id, n)
	if ext.batch != nil {
		h.gov.AddMemory(id, -ext.batch.CostBytes())
		ext.batch = nil
	}
	ext.handlers = make(map[event.ListenerID]*lua.LFunction)
	ext.denied = nil
	ext.memKilled = false
	ext.ls.Close()

	ls, err := newSandbox(h.limits)
	if err != nil {
		ext.ls = nil
		h.terminate(ext, "reload failed")
		return &LoadError{Extension: id, Err: err}
	}
	from := ext.state
	ext.ls = ls
	ext.state = StateLoading
	h.gov.Reset(id)
	h.bindCaps(ext)
	if err := h.boot(ext); err != nil {
		h.terminate(ext, "reload failed")
		return &LoadError{Extension: id, Err: err}
	}
	ext.state = StateActive
	h.bus.Publish(event.ExtensionState{
		Extension: id, From: from.String(), To: StateActive.String(), Reason: "reloaded",
	})
	ext.log.Info("extension reloaded")
	return nil
}

func (h *Host) suspend(ext *extension, reason string) {
	if ext.state != StateActive {
		return
	}
	ext.state = StateSuspended
	h.bus.SetOwnerDormant(ext.id, true)
	h.bus.Publish(event.ExtensionState{
		Extension: ext.id, From: StateActive.String(), To: StateSuspended.String(), Reason: reason,
	})
	ext.log.Warn("extension suspended", zap.String("reason", reason))
}

// terminate is the one-way door. Registrations and the governor account go
// with the context; the staged batch is discarded unapplied.
func (h *Host) terminate(ext *extension, reason string) {
	if ext.state == StateTerminated {
		return
	}
	from := ext.state
	ext.state = StateTerminated
	ext.batch = nil
	ext.denied = nil
	ext.memKilled = false
	ext.handlers = nil
	h.bus.RemoveOwner(ext.id)
	h.gov.Drop(ext.id)
	if ext.ls != nil {
		ext.ls.Close()
	}
	h.bus.Publish(event.ExtensionState{
		Extension: ext.id, From: from.String(), To: StateTerminated.String(), Reason: reason,
	})
	ext.log.Warn("extension terminated", zap.String("reason", reason))
}

// FlushStorage writes dirty extension storage through the provider. Called
// from the persistence phase. A terminated extension keeps whatever the last
// flush wrote; nothing staged after that survives it.
func (h *Host) FlushStorage() error {
	if h.store == nil {
		return nil
	}
	var firstErr error
	for _, id := range h.order {
		ext := h.exts[id]
		if ext == nil || ext.state == StateTerminated || !ext.storageDirty {
			continue
		}
		kv := make(map[string]string, len(ext.storage))
		for k, v := range ext.storage {
			kv[k] = v
		}
		if err := h.store.Save(id, kv); err != nil {
			ext.log.Error("storage flush failed", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		ext.storageDirty = false
	}
	return firstErr
}
