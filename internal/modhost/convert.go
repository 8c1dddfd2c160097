package modhost

import (
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/driftmud/server/internal/core/ecs"
)

// maxConvertDepth bounds table nesting crossing the sandbox boundary in
// either direction. Anything deeper truncates to nil.
const maxConvertDepth = 8

// goToLua converts event fields, definition records, and component maps into
// sandbox values. Entity ids travel as numbers.
func goToLua(ls *lua.LState, v any) lua.LValue {
	return goToLuaDepth(ls, v, 0)
}

func goToLuaDepth(ls *lua.LState, v any, depth int) lua.LValue {
	if depth > maxConvertDepth {
		return lua.LNil
	}
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(t)
	case int:
		return lua.LNumber(t)
	case int32:
		return lua.LNumber(t)
	case int64:
		return lua.LNumber(t)
	case uint64:
		return lua.LNumber(t)
	case float64:
		return lua.LNumber(t)
	case string:
		return lua.LString(t)
	case time.Duration:
		return lua.LNumber(t.Milliseconds())
	case ecs.EntityID:
		return lua.LNumber(t)
	case []string:
		tbl := ls.NewTable()
		for i, e := range t {
			tbl.RawSetInt(i+1, lua.LString(e))
		}
		return tbl
	case []any:
		tbl := ls.NewTable()
		for i, e := range t {
			tbl.RawSetInt(i+1, goToLuaDepth(ls, e, depth+1))
		}
		return tbl
	case map[string]any:
		tbl := ls.NewTable()
		for k, e := range t {
			tbl.RawSetString(k, goToLuaDepth(ls, e, depth+1))
		}
		return tbl
	}
	return lua.LNil
}

// luaToGo converts a sandbox value into the raw form carried by mutation
// batches and event payloads. A table with a dense 1..n integer spine becomes
// a slice, everything else a string-keyed map; non-string keys are dropped.
func luaToGo(v lua.LValue) any {
	return luaToGoDepth(v, 0)
}

func luaToGoDepth(v lua.LValue, depth int) any {
	if depth > maxConvertDepth {
		return nil
	}
	switch t := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(t)
	case lua.LNumber:
		return float64(t)
	case lua.LString:
		return string(t)
	case *lua.LTable:
		if n := t.MaxN(); n > 0 {
			arr := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				arr = append(arr, luaToGoDepth(t.RawGetInt(i), depth+1))
			}
			return arr
		}
		m := make(map[string]any)
		t.ForEach(func(k, e lua.LValue) {
			if ks, ok := k.(lua.LString); ok {
				m[string(ks)] = luaToGoDepth(e, depth+1)
			}
		})
		return m
	}
	return nil
}
