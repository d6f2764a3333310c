package lua

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime"
	"slices"
	"weak"

	lua "github.com/yuin/gopher-lua"
)

// Capability represents a permission granted to Lua code.
type Capability string

// Available capabilities.
const (
	CapabilityFileRead Capability = "filesystem.read"
	CapabilityUnsafe   Capability = "unsafe" // Full io, os and debug libraries
)

// ParseCapability parses a capability name.
func ParseCapability(s string) (Capability, error) {
	switch Capability(s) {
	case CapabilityFileRead, CapabilityUnsafe:
		return Capability(s), nil
	}
	return "", fmt.Errorf("unknown capability %q", s)
}

// Sandbox restricts Lua execution to safe operations.
type Sandbox struct {
	L            *lua.LState
	capabilities map[Capability]bool

	// files are the handles opened by the read-only io module. Handles
	// dropped by Lua are closed when collected; the rest by closeFiles.
	files []weak.Pointer[readFile]
}

// NewSandbox creates a sandbox for L.
func NewSandbox(L *lua.LState) *Sandbox {
	return &Sandbox{
		L:            L,
		capabilities: make(map[Capability]bool),
	}
}

// Install removes functions that load code from outside the module loader.
func (s *Sandbox) Install() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.L.SetGlobal(name, lua.LNil)
	}
}

// Grant enables a capability and installs the libraries it unlocks.
func (s *Sandbox) Grant(c Capability) {
	if s.capabilities[c] {
		return
	}
	s.capabilities[c] = true

	switch c {
	case CapabilityFileRead:
		if !s.capabilities[CapabilityUnsafe] {
			s.installReadOnlyIO()
		}
	case CapabilityUnsafe:
		openLibs(s.L, []lib{
			{lua.IoLibName, lua.OpenIo},
			{lua.OsLibName, lua.OpenOs},
			{lua.DebugLibName, lua.OpenDebug},
		})
	}
}

// Capabilities returns the granted capabilities in sorted order.
func (s *Sandbox) Capabilities() []Capability {
	caps := make([]Capability, 0, len(s.capabilities))
	for c := range s.capabilities {
		caps = append(caps, c)
	}
	slices.Sort(caps)
	return caps
}

// checkModule returns a *CapabilityError when name is a standard module the
// granted capabilities don't unlock. With unsafe granted io is already in
// package.loaded.
func (s *Sandbox) checkModule(name string) error {
	var c Capability
	switch name {
	case lua.IoLibName:
		if s.capabilities[CapabilityFileRead] {
			return nil
		}
		c = CapabilityFileRead
	case lua.OsLibName, lua.DebugLibName:
		if s.capabilities[CapabilityUnsafe] {
			return nil
		}
		c = CapabilityUnsafe
	default:
		return nil
	}
	return &CapabilityError{Module: name, Capability: c}
}

// installReadOnlyIO installs an io module that can only read files.
func (s *Sandbox) installReadOnlyIO() {
	L := s.L

	fileMeta := L.NewTypeMetatable("snippy.file")
	L.SetField(fileMeta, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"read":  fileRead,
		"lines": fileLines,
		"close": fileClose,
	}))

	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"open": func(L *lua.LState) int {
			name := L.CheckString(1)
			mode := L.OptString(2, "r")
			if mode != "r" && mode != "rb" {
				L.ArgError(2, "only read modes (r, rb) are allowed")
				return 0
			}
			rf, err := s.openFile(name)
			if err != nil {
				L.Push(lua.LNil)
				L.Push(lua.LString(err.Error()))
				return 2
			}
			ud := L.NewUserData()
			ud.Value = rf
			L.SetMetatable(ud, fileMeta)
			L.Push(ud)
			return 1
		},
		"lines": func(L *lua.LState) int {
			name := L.CheckString(1)
			rf, err := s.openFile(name)
			if err != nil {
				L.RaiseError("%s", err.Error())
				return 0
			}
			L.Push(linesIter(L, rf, true))
			return 1
		},
	})

	L.SetGlobal(lua.IoLibName, mod)
	loadedTable(L).RawSetString(lua.IoLibName, mod)
}

// openFile opens name for the io module and tracks the handle.
func (s *Sandbox) openFile(name string) (*readFile, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	rf := &readFile{f: f, r: bufio.NewReader(f)}
	runtime.AddCleanup(rf, func(f *os.File) { _ = f.Close() }, f)

	s.files = slices.DeleteFunc(s.files, func(p weak.Pointer[readFile]) bool {
		open := p.Value()
		return open == nil || open.closed
	})
	s.files = append(s.files, weak.Make(rf))
	return rf, nil
}

// closeFiles closes every handle Lua still holds.
func (s *Sandbox) closeFiles() {
	for _, p := range s.files {
		if rf := p.Value(); rf != nil {
			_ = rf.close()
		}
	}
	s.files = nil
}

type readFile struct {
	f      *os.File
	r      *bufio.Reader
	closed bool
}

func (rf *readFile) close() error {
	if rf.closed {
		return nil
	}
	rf.closed = true
	return rf.f.Close()
}

func checkFile(L *lua.LState) *readFile {
	ud := L.CheckUserData(1)
	rf, ok := ud.Value.(*readFile)
	if !ok {
		L.ArgError(1, "file expected")
		return nil
	}
	if rf.closed {
		L.RaiseError("attempt to use a closed file")
		return nil
	}
	return rf
}

// readLine reads one line without its terminator. ok is false at EOF.
func (rf *readFile) readLine() (string, bool, error) {
	line, err := rf.r.ReadString('\n')
	if err == io.EOF {
		if line == "" {
			return "", false, nil
		}
		err = nil
	}
	if err != nil {
		return "", false, err
	}
	line = trimEOL(line)
	return line, true, nil
}

func trimEOL(line string) string {
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line
}

func fileRead(L *lua.LState) int {
	rf := checkFile(L)
	switch format := L.OptString(2, "*l"); format {
	case "*a", "a", "*all":
		data, err := io.ReadAll(rf.r)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LString(data))
		return 1
	case "*l", "l", "*line":
		line, ok, err := rf.readLine()
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(line))
		return 1
	default:
		L.ArgError(2, fmt.Sprintf("unsupported format %q", format))
		return 0
	}
}

func fileLines(L *lua.LState) int {
	rf := checkFile(L)
	L.Push(linesIter(L, rf, false))
	return 1
}

func fileClose(L *lua.LState) int {
	rf := checkFile(L)
	if err := rf.close(); err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// linesIter returns an iterator over the lines of rf. With closeAtEOF the
// file is closed once the last line has been returned.
func linesIter(L *lua.LState, rf *readFile, closeAtEOF bool) *lua.LFunction {
	return L.NewFunction(func(L *lua.LState) int {
		if rf.closed {
			return 0
		}
		line, ok, err := rf.readLine()
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		if !ok {
			if closeAtEOF {
				_ = rf.close()
			}
			return 0
		}
		L.Push(lua.LString(line))
		return 1
	})
}
