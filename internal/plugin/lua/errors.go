package lua

import (
	"errors"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// ErrExecutorClosed is returned when attempting to use a closed executor.
var ErrExecutorClosed = errors.New("lua executor is closed")

// ModuleNotFoundError is raised by require when no loader exists for a module.
type ModuleNotFoundError struct {
	Module string
	Tried  []string
}

func (e *ModuleNotFoundError) Error() string {
	if len(e.Tried) == 0 {
		return fmt.Sprintf("module %q not found", e.Module)
	}
	return fmt.Sprintf("module %q not found:\n\tno field package.preload[%q]\n\tno file %s",
		e.Module, e.Module, strings.Join(e.Tried, "\n\tno file "))
}

// CapabilityError is raised by require for a standard module the sandbox
// has not unlocked.
type CapabilityError struct {
	Module     string
	Capability Capability
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("module %q requires capability %q", e.Module, e.Capability)
}

// ScriptError is a Lua error that carries a Go error, such as a failed
// require. It unwraps to both Err and the *lua.ApiError gopher-lua produced.
type ScriptError struct {
	Err error
	API *lua.ApiError
}

func (e *ScriptError) Error() string {
	return e.API.Error()
}

func (e *ScriptError) Unwrap() []error {
	return []error{e.Err, e.API}
}

const errorTypeName = "snippy.error"

// raiseError raises err as a userdata Lua error. Lua code sees its message
// through tostring; ExecLua turns it back into a *ScriptError.
func raiseError(L *lua.LState, err error) {
	mt := L.NewTypeMetatable(errorTypeName)
	if mt.RawGetString("__tostring") == lua.LNil {
		mt.RawSetString("__tostring", L.NewFunction(errorString))
	}
	ud := L.NewUserData()
	ud.Value = err
	L.SetMetatable(ud, mt)
	L.Error(ud, 1)
}

func errorString(L *lua.LState) int {
	ud := L.CheckUserData(1)
	if err, ok := ud.Value.(error); ok {
		L.Push(lua.LString(err.Error()))
		return 1
	}
	L.Push(lua.LString(errorTypeName))
	return 1
}

// scriptError converts an error raised by raiseError into a *ScriptError.
// Other errors are returned unchanged.
func scriptError(err error) error {
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) {
		return err
	}
	ud, ok := apiErr.Object.(*lua.LUserData)
	if !ok {
		return err
	}
	cause, ok := ud.Value.(error)
	if !ok {
		return err
	}
	apiErr.Object = lua.LString(cause.Error())
	return &ScriptError{Err: cause, API: apiErr}
}
