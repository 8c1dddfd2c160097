package modhost

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownExtension = errors.New("unknown extension")
	ErrNotActive        = errors.New("extension not active")

	errMemoryCeiling = errors.New("memory ceiling exceeded")
)

// LoadError reports a failed load or reload. A failed load terminates the
// extension and retires its identifier.
type LoadError struct {
	Extension string
	Err       error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load extension %s: %v", e.Extension, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// InvocationError reports a fault raised inside an extension call. The fault
// is contained: the host keeps running and the extension stays Active unless
// the fault carried a resource verdict.
type InvocationError struct {
	Extension string
	Fn        string
	Err       error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("extension %s: %s: %v", e.Extension, e.Fn, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// PermissionError reports a capability call outside the extension's declared
// grants. The call raises inside the sandbox; the extension stays Active.
type PermissionError struct {
	Extension  string
	Capability string
	Call       string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("extension %s: capability %q not granted (%s)",
		e.Extension, e.Capability, e.Call)
}
