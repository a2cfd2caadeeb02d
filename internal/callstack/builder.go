package callstack

import (
	"regexp"
	"strconv"
	"time"
)

// RawEntry is one entry of a native trace: a call site and the function
// invoked there. Entries are ordered innermost call first.
type RawEntry struct {
	File     string
	Line     int
	Function string
	Class    string
	CallKind CallKind
	Callee   string
	Args     []any
	Ordinal  int
	Time     time.Duration
	Memory   int64
}

// DropPolicy decides whether a parsed report entry is discarded before the
// stack is built.
type DropPolicy func(RawEntry) bool

// DropEntryAtZero drops entries whose ordinal and line are both zero. This
// removes the script entry point that reports list as "{main}() file:0".
func DropEntryAtZero(e RawEntry) bool {
	return e.Ordinal == 0 && e.Line == 0
}

// KeepAll never drops an entry.
func KeepAll(RawEntry) bool { return false }

type config struct {
	locator FunctionLocator
	drop    DropPolicy
}

// Option configures Build, ParseReport and Capture.
type Option func(*config)

// WithLocator sets the locator used for frames whose location is missing.
func WithLocator(l FunctionLocator) Option {
	return func(c *config) { c.locator = l }
}

// WithDropPolicy overrides the report entry drop policy.
func WithDropPolicy(p DropPolicy) Option {
	return func(c *config) { c.drop = p }
}

func newConfig(opts []Option) config {
	c := config{drop: DropEntryAtZero}
	for _, o := range opts {
		o(&c)
	}
	if c.drop == nil {
		c.drop = KeepAll
	}
	return c
}

// Build normalizes raw entries into a Callstack. Frame i takes its
// function, type, call kind, callee and args from entry i+1 and its
// location from entry i, so every frame reads "inside this function, here".
// The outermost frame has no function. Frames with neither a function nor
// a file are internal callbacks and are dropped. A frame with a function
// but no file is located through the configured FunctionLocator.
func Build(entries []RawEntry, opts ...Option) Callstack {
	cfg := newConfig(opts)
	return build(entries, cfg)
}

func build(entries []RawEntry, cfg config) Callstack {
	frames := make([]Frame, 0, len(entries))
	for i, loc := range entries {
		var fn RawEntry
		if i+1 < len(entries) {
			fn = entries[i+1]
		}

		f := Frame{
			File:          loc.File,
			Line:          loc.Line,
			Function:      fn.Function,
			EnclosingType: fn.Class,
			CallKind:      fn.CallKind,
			CalleeRef:     fn.Callee,
			Args:          fn.Args,
			Time:          fn.Time,
			Memory:        fn.Memory,
		}

		if f.Function == "" && f.File == "" {
			continue
		}

		if f.File == "" && cfg.locator != nil {
			if file, line, ok := cfg.locator.Locate(f.Export()); ok {
				f.File, f.Line = file, line
			}
		}

		if isClosure(f.Function) {
			f.Function = closureName(f.Function, closureLine(f, cfg.locator))
		}

		f.Ordinal = len(frames)
		frames = append(frames, f)
	}
	return Callstack{frames: frames}
}

var (
	closurePHP  = regexp.MustCompile(`^\{closure(?::.*?:(\d+))?\}$`)
	closureGo   = regexp.MustCompile(`(^|\.)func\d+(\.\d+)*$`)
	closureNorm = regexp.MustCompile(`^\{closure:\d+\}$`)
)

func isClosure(name string) bool {
	if name == "" || closureNorm.MatchString(name) {
		return false
	}
	return closurePHP.MatchString(name) || closureGo.MatchString(name)
}

// closureLine is the line a closure is named after. Go closures use their
// definition line when the locator knows it, so one literal keeps one name
// wherever it is executing; everything else uses the frame line.
func closureLine(f Frame, l FunctionLocator) int {
	if l == nil || !closureGo.MatchString(f.Function) {
		return f.Line
	}
	if _, line, ok := l.Locate(f.Export()); ok && line > 0 {
		return line
	}
	return f.Line
}

// closureName collapses a closure to "{closure:LINE}". A line embedded in
// the name wins over the frame line.
func closureName(name string, line int) string {
	if m := closurePHP.FindStringSubmatch(name); m != nil && m[1] != "" {
		return "{closure:" + m[1] + "}"
	}
	return "{closure:" + strconv.Itoa(line) + "}"
}
