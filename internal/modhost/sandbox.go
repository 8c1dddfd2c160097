package modhost

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// Limits caps the interpreter data structures of one sandbox. Zero fields
// fall back to defaults sized for small gameplay extensions.
type Limits struct {
	RegistrySize    int
	RegistryMaxSize int
	CallStackSize   int
}

func (l Limits) withDefaults() Limits {
	if l.RegistrySize <= 0 {
		l.RegistrySize = 1024
	}
	if l.RegistryMaxSize <= 0 {
		l.RegistryMaxSize = 64 * 1024
	}
	if l.CallStackSize <= 0 {
		l.CallStackSize = 128
	}
	return l
}

// Only these libraries open inside a sandbox. No io, no os, no debug, no
// package loader: a chunk can reach the outside world through caps alone.
var sandboxLibs = []struct {
	name string
	open lua.LGFunction
}{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// Base globals that load code, touch the environment, or print outside the
// log bridge. Nil'd out after the libraries open.
var scrubbedGlobals = []string{
	"dofile", "loadfile", "load", "loadstring",
	"print", "collectgarbage", "getfenv", "setfenv",
}

func newSandbox(lim Limits) (*lua.LState, error) {
	lim = lim.withDefaults()
	ls := lua.NewState(lua.Options{
		SkipOpenLibs:    true,
		RegistrySize:    lim.RegistrySize,
		RegistryMaxSize: lim.RegistryMaxSize,
		CallStackSize:   lim.CallStackSize,
	})
	for _, lib := range sandboxLibs {
		if err := ls.CallByParam(lua.P{
			Fn:      ls.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			ls.Close()
			return nil, fmt.Errorf("open lua lib %q: %w", lib.name, err)
		}
	}
	for _, name := range scrubbedGlobals {
		ls.SetGlobal(name, lua.LNil)
	}
	return ls, nil
}
