package modhost

import (
	"strings"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/driftmud/server/internal/core/ecs"
	"github.com/driftmud/server/internal/core/event"
	"github.com/driftmud/server/internal/data"
	"github.com/driftmud/server/internal/govern"
)

// Capability names an extension may declare at load time. The log bridge is
// ambient and needs no grant.
const (
	CapWorldRead  = "world_read"
	CapWorldWrite = "world_write"
	CapItems      = "items"
	CapNPCs       = "npcs"
	CapEvents     = "events"
	CapStorage    = "storage"
	CapBroadcast  = "broadcast"
)

var capCatalog = map[string]bool{
	CapWorldRead:  true,
	CapWorldWrite: true,
	CapItems:      true,
	CapNPCs:       true,
	CapEvents:     true,
	CapStorage:    true,
	CapBroadcast:  true,
}

const storageKVOverhead = 32

// bindCaps installs the caps global. Every namespace is present regardless
// of grants; calls outside the declared set record a denial and raise, so an
// ungranted capability is never a silent no-op.
func (h *Host) bindCaps(ext *extension) {
	ls := ext.ls
	caps := ls.NewTable()

	logTbl := ls.NewTable()
	ls.SetField(logTbl, "debug", ls.NewFunction(h.logFn(ext, zapcore.DebugLevel)))
	ls.SetField(logTbl, "info", ls.NewFunction(h.logFn(ext, zapcore.InfoLevel)))
	ls.SetField(logTbl, "warn", ls.NewFunction(h.logFn(ext, zapcore.WarnLevel)))
	ls.SetField(caps, "log", logTbl)

	world := ls.NewTable()
	h.bindFns(ext, world, "world", CapWorldRead, map[string]lua.LGFunction{
		"get":   h.worldGetFn(ext),
		"has":   h.worldHasFn(ext),
		"alive": h.worldAliveFn(ext),
	})
	h.bindFns(ext, world, "world", CapWorldWrite, map[string]lua.LGFunction{
		"set":     h.worldSetFn(ext),
		"remove":  h.worldRemoveFn(ext),
		"destroy": h.worldDestroyFn(ext),
		"spawn":   h.worldSpawnFn(ext),
	})
	ls.SetField(caps, "world", world)

	items := ls.NewTable()
	h.bindFns(ext, items, "items", CapItems, map[string]lua.LGFunction{
		"get": h.itemGetFn(ext),
		"ids": h.itemIDsFn(ext),
	})
	ls.SetField(caps, "items", items)

	npcs := ls.NewTable()
	h.bindFns(ext, npcs, "npcs", CapNPCs, map[string]lua.LGFunction{
		"get": h.npcGetFn(ext),
		"ids": h.npcIDsFn(ext),
	})
	ls.SetField(caps, "npcs", npcs)

	events := ls.NewTable()
	h.bindFns(ext, events, "events", CapEvents, map[string]lua.LGFunction{
		"publish": h.eventPublishFn(ext),
		"on":      h.eventOnFn(ext),
		"off":     h.eventOffFn(ext),
	})
	ls.SetField(caps, "events", events)

	storage := ls.NewTable()
	h.bindFns(ext, storage, "storage", CapStorage, map[string]lua.LGFunction{
		"get":    h.storageGetFn(ext),
		"set":    h.storageSetFn(ext),
		"delete": h.storageDeleteFn(ext),
	})
	ls.SetField(caps, "storage", storage)

	broadcast := ls.NewTable()
	h.bindFns(ext, broadcast, "broadcast", CapBroadcast, map[string]lua.LGFunction{
		"send": h.broadcastSendFn(ext),
	})
	ls.SetField(caps, "broadcast", broadcast)

	ls.SetGlobal("caps", caps)
}

// bindFns attaches the namespace methods, swapping each for a denial stub
// when the capability was not declared.
func (h *Host) bindFns(ext *extension, ns *lua.LTable, nsName, capability string, fns map[string]lua.LGFunction) {
	ls := ext.ls
	granted := ext.granted[capability]
	for method, fn := range fns {
		if granted {
			ls.SetField(ns, method, ls.NewFunction(fn))
			continue
		}
		ls.SetField(ns, method, ls.NewFunction(h.deniedFn(ext, capability, nsName+"."+method)))
	}
}

func (h *Host) deniedFn(ext *extension, capability, call string) lua.LGFunction {
	return func(ls *lua.LState) int {
		h.recordDenial(ext, capability, call)
		ls.RaiseError("capability %s not granted", capability)
		return 0
	}
}

// recordDenial publishes the diagnostic at call time. A script may pcall the
// raise away, but the denial is still on the record.
func (h *Host) recordDenial(ext *extension, capability, call string) {
	ext.denied = &PermissionError{Extension: ext.id, Capability: capability, Call: call}
	ext.log.Warn("capability denied",
		zap.String("capability", capability),
		zap.String("call", call))
	h.bus.Publish(event.CapabilityDenied{Extension: ext.id, Capability: capability, Call: call})
}

func (h *Host) logFn(ext *extension, lvl zapcore.Level) lua.LGFunction {
	return func(ls *lua.LState) int {
		msg := ls.CheckString(1)
		if ce := ext.log.Check(lvl, msg); ce != nil {
			ce.Write()
		}
		return 0
	}
}

// --- world ---

func (h *Host) worldGetFn(ext *extension) lua.LGFunction {
	return func(ls *lua.LState) int {
		id := ecs.EntityID(ls.CheckNumber(1))
		kind := ls.CheckString(2)
		store, ok := h.world.Registry().Lookup(kind)
		if !ok {
			ls.Push(lua.LNil)
			return 1
		}
		raw, ok := store.EncodeOf(id)
		if !ok {
			ls.Push(lua.LNil)
			return 1
		}
		ls.Push(goToLua(ls, raw))
		return 1
	}
}

func (h *Host) worldHasFn(ext *extension) lua.LGFunction {
	return func(ls *lua.LState) int {
		id := ecs.EntityID(ls.CheckNumber(1))
		kind := ls.CheckString(2)
		store, ok := h.world.Registry().Lookup(kind)
		ls.Push(lua.LBool(ok && store.Has(id)))
		return 1
	}
}

func (h *Host) worldAliveFn(ext *extension) lua.LGFunction {
	return func(ls *lua.LState) int {
		id := ecs.EntityID(ls.CheckNumber(1))
		ls.Push(lua.LBool(h.world.Alive(id)))
		return 1
	}
}

func (h *Host) worldSetFn(ext *extension) lua.LGFunction {
	return func(ls *lua.LState) int {
		id := ecs.EntityID(ls.CheckNumber(1))
		kind := ls.CheckString(2)
		raw, ok := luaToGo(ls.CheckTable(3)).(map[string]any)
		if !ok {
			ls.RaiseError("component value must be a table of named fields")
			return 0
		}
		h.stageOp(ext, ls, func(b *ecs.Batch) { b.Set(id, kind, raw) })
		return 0
	}
}

func (h *Host) worldRemoveFn(ext *extension) lua.LGFunction {
	return func(ls *lua.LState) int {
		id := ecs.EntityID(ls.CheckNumber(1))
		kind := ls.CheckString(2)
		h.stageOp(ext, ls, func(b *ecs.Batch) { b.Remove(id, kind) })
		return 0
	}
}

func (h *Host) worldDestroyFn(ext *extension) lua.LGFunction {
	return func(ls *lua.LState) int {
		id := ecs.EntityID(ls.CheckNumber(1))
		h.stageOp(ext, ls, func(b *ecs.Batch) { b.Destroy(id) })
		return 0
	}
}

func (h *Host) worldSpawnFn(ext *extension) lua.LGFunction {
	return func(ls *lua.LState) int {
		raw, ok := luaToGo(ls.CheckTable(1)).(map[string]any)
		if !ok {
			ls.RaiseError("spawn takes a table of component kind to field table")
			return 0
		}
		parts := make(map[string]map[string]any, len(raw))
		for kind, v := range raw {
			fields, ok := v.(map[string]any)
			if !ok {
				ls.RaiseError("spawn component %s must be a table of named fields", kind)
				return 0
			}
			parts[kind] = fields
		}
		h.stageOp(ext, ls, func(b *ecs.Batch) { b.Spawn(parts) })
		return 0
	}
}

// stageOp appends to the extension's pending batch and charges the footprint
// growth. A memory verdict kills the call on the spot.
func (h *Host) stageOp(ext *extension, ls *lua.LState, stage func(*ecs.Batch)) {
	if ext.batch == nil {
		ext.batch = ecs.NewBatch(ext.id)
	}
	before := ext.batch.CostBytes()
	stage(ext.batch)
	if v := h.gov.AddMemory(ext.id, ext.batch.CostBytes()-before); v == govern.VerdictTerminate {
		ext.memKilled = true
		ls.RaiseError("memory ceiling exceeded")
	}
}

// --- definitions ---

func (h *Host) itemGetFn(ext *extension) lua.LGFunction {
	return func(ls *lua.LState) int {
		def := h.defs.Current().Item(ls.CheckString(1))
		if def == nil {
			ls.Push(lua.LNil)
			return 1
		}
		tbl := ls.NewTable()
		tbl.RawSetString("id", lua.LString(def.ID))
		tbl.RawSetString("name", lua.LString(def.Name))
		tbl.RawSetString("damage", lua.LNumber(def.Damage))
		tbl.RawSetString("stack", lua.LNumber(def.Stack))
		tbl.RawSetString("decay_ticks", lua.LNumber(def.DecayTicks))
		tbl.RawSetString("effects", goToLua(ls, def.Effects))
		ls.Push(tbl)
		return 1
	}
}

func (h *Host) itemIDsFn(ext *extension) lua.LGFunction {
	return func(ls *lua.LState) int {
		tbl := ls.NewTable()
		i := 0
		h.defs.Current().EachItem(func(def *data.ItemDef) {
			i++
			tbl.RawSetInt(i, lua.LString(def.ID))
		})
		ls.Push(tbl)
		return 1
	}
}

func (h *Host) npcGetFn(ext *extension) lua.LGFunction {
	return func(ls *lua.LState) int {
		def := h.defs.Current().NPC(ls.CheckString(1))
		if def == nil {
			ls.Push(lua.LNil)
			return 1
		}
		tbl := ls.NewTable()
		tbl.RawSetString("id", lua.LString(def.ID))
		tbl.RawSetString("name", lua.LString(def.Name))
		tbl.RawSetString("health", lua.LNumber(def.Health))
		tbl.RawSetString("regen", lua.LNumber(def.Regen))
		tbl.RawSetString("respawn_ticks", lua.LNumber(def.RespawnTicks))
		tbl.RawSetString("hostile", lua.LBool(def.Hostile))
		ls.Push(tbl)
		return 1
	}
}

func (h *Host) npcIDsFn(ext *extension) lua.LGFunction {
	return func(ls *lua.LState) int {
		tbl := ls.NewTable()
		i := 0
		h.defs.Current().EachNPC(func(def *data.NPCDef) {
			i++
			tbl.RawSetInt(i, lua.LString(def.ID))
		})
		ls.Push(tbl)
		return 1
	}
}

// --- events ---

func (h *Host) eventPublishFn(ext *extension) lua.LGFunction {
	return func(ls *lua.LState) int {
		name := ls.CheckString(1)
		var payload map[string]any
		if ls.GetTop() >= 2 {
			payload, _ = luaToGo(ls.CheckTable(2)).(map[string]any)
		}
		h.bus.Publish(event.ModEvent{Name: modKindName(name), Source: ext.id, Payload: payload})
		return 0
	}
}

// modKindName forces the mod namespace so extensions cannot forge engine
// events. Listed kinds are what subscribers must use.
func modKindName(name string) string {
	if strings.HasPrefix(name, event.ModKindPrefix) {
		return name
	}
	return event.ModKindPrefix + name
}

func (h *Host) eventOnFn(ext *extension) lua.LGFunction {
	return func(ls *lua.LState) int {
		kind := ls.CheckString(1)
		fn := ls.CheckFunction(2)
		if err := h.gov.CheckListenerCeiling(ext.id); err != nil {
			h.bus.Publish(event.BudgetDenied{Extension: ext.id, Call: "events.on"})
			ls.RaiseError("listener ceiling reached")
			return 0
		}
		lid := h.bus.Subscribe(kind, ext.id, func(tick uint64, ev event.Event) {
			h.dispatchToExt(ext, fn, tick, ev)
		})
		ext.handlers[lid] = fn
		h.gov.ListenerAdded(ext.id)
		ls.Push(lua.LNumber(lid))
		return 1
	}
}

func (h *Host) eventOffFn(ext *extension) lua.LGFunction {
	return func(ls *lua.LState) int {
		lid := event.ListenerID(ls.CheckNumber(1))
		if _, ok := ext.handlers[lid]; !ok {
			ls.RaiseError("unknown listener %d", lid)
			return 0
		}
		delete(ext.handlers, lid)
		if h.bus.Unsubscribe(lid) {
			h.gov.ListenersRemoved(ext.id, 1)
		}
		return 0
	}
}

// --- storage ---

func (h *Host) storageGetFn(ext *extension) lua.LGFunction {
	return func(ls *lua.LState) int {
		v, ok := ext.storage[ls.CheckString(1)]
		if !ok {
			ls.Push(lua.LNil)
			return 1
		}
		ls.Push(lua.LString(v))
		return 1
	}
}

func (h *Host) storageSetFn(ext *extension) lua.LGFunction {
	return func(ls *lua.LState) int {
		key := ls.CheckString(1)
		val := ls.CheckString(2)
		delta := len(val)
		if old, ok := ext.storage[key]; ok {
			delta -= len(old)
		} else {
			delta += len(key) + storageKVOverhead
		}
		ext.storage[key] = val
		ext.storageDirty = true
		if v := h.gov.AddMemory(ext.id, delta); v == govern.VerdictTerminate {
			ext.memKilled = true
			ls.RaiseError("memory ceiling exceeded")
		}
		return 0
	}
}

func (h *Host) storageDeleteFn(ext *extension) lua.LGFunction {
	return func(ls *lua.LState) int {
		key := ls.CheckString(1)
		old, ok := ext.storage[key]
		if !ok {
			return 0
		}
		delete(ext.storage, key)
		ext.storageDirty = true
		h.gov.AddMemory(ext.id, -(len(key) + len(old) + storageKVOverhead))
		return 0
	}
}

// --- broadcast ---

func (h *Host) broadcastSendFn(ext *extension) lua.LGFunction {
	return func(ls *lua.LState) int {
		text := ls.CheckString(1)
		if h.broadcast != nil {
			h.broadcast(ext.id, text)
		}
		return 0
	}
}
