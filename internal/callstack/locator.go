package callstack

import (
	"runtime"
	"sync"
)

// FunctionLocator maps an exported function name ("Type::function") to
// the file and line where that function is defined.
type FunctionLocator interface {
	Locate(name string) (file string, line int, ok bool)
}

// LocatorFunc adapts a function to FunctionLocator.
type LocatorFunc func(name string) (string, int, bool)

// Locate calls f.
func (f LocatorFunc) Locate(name string) (string, int, bool) { return f(name) }

// Location is a file and line pair.
type Location struct {
	File string
	Line int
}

// MapLocator is a static name to location table.
type MapLocator map[string]Location

// Locate looks name up in the table.
func (m MapLocator) Locate(name string) (string, int, bool) {
	loc, ok := m[name]
	if !ok {
		return "", 0, false
	}
	return loc.File, loc.Line, true
}

// RuntimeLocator resolves Go functions through the runtime symbol table.
// Functions become resolvable once one of their frames has been seen.
type RuntimeLocator struct {
	mu      sync.RWMutex
	entries map[string]uintptr
}

// NewRuntimeLocator returns an empty RuntimeLocator.
func NewRuntimeLocator() *RuntimeLocator {
	return &RuntimeLocator{entries: make(map[string]uintptr)}
}

// Remember records the entry PC of the function behind a runtime frame.
func (l *RuntimeLocator) Remember(f runtime.Frame) {
	if f.Function == "" {
		return
	}
	entry := f.Entry
	if entry == 0 && f.Func != nil {
		entry = f.Func.Entry()
	}
	if entry == 0 {
		return
	}
	typ, fn, _ := splitGoName(f.Function)
	name := Frame{Function: fn, EnclosingType: typ}.Export()

	l.mu.Lock()
	l.entries[name] = entry
	l.entries[f.Function] = entry
	l.mu.Unlock()
}

// Locate returns the definition site of a remembered function.
func (l *RuntimeLocator) Locate(name string) (string, int, bool) {
	l.mu.RLock()
	pc, ok := l.entries[name]
	l.mu.RUnlock()
	if !ok {
		return "", 0, false
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "", 0, false
	}
	file, line := fn.FileLine(pc)
	if file == "" {
		return "", 0, false
	}
	return file, line, true
}
