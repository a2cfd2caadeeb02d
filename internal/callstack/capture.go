package callstack

import (
	"regexp"
	"runtime"
	"strings"
)

const maxCaptureDepth = 64

// Capture records the calling goroutine's stack. skip counts frames above
// the caller of Capture to omit (0 = the function calling Capture is the
// innermost frame). filters are applied fail-open.
func Capture(skip int, filters []*regexp.Regexp, opts ...Option) Callstack {
	pcs := make([]uintptr, maxCaptureDepth)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return Callstack{}
	}

	var frames []runtime.Frame
	it := runtime.CallersFrames(pcs[:n])
	for {
		f, more := it.Next()
		if !runtimeInternal(f.Function) {
			frames = append(frames, f)
		}
		if !more {
			break
		}
	}

	cfg := newConfig(opts)
	if cfg.locator == nil {
		rl := NewRuntimeLocator()
		for _, f := range frames {
			rl.Remember(f)
		}
		cfg.locator = rl
	}

	return build(FromRuntime(frames), cfg).Filter(filters...)
}

// FromRuntime converts Go runtime frames (innermost first) into raw entries.
// Entry i carries frame i's location and the function frame i-1 runs, so
// Build pairs every function with the location inside it. main.main is
// treated as the outermost scope; any other root keeps its name.
func FromRuntime(frames []runtime.Frame) []RawEntry {
	if len(frames) == 0 {
		return nil
	}

	entries := make([]RawEntry, 0, len(frames)+1)
	for i, f := range frames {
		e := RawEntry{File: f.File, Line: f.Line}
		if i > 0 {
			prev := frames[i-1]
			e.Class, e.Function, e.CallKind = splitGoName(prev.Function)
		}
		entries = append(entries, e)
	}

	root := frames[len(frames)-1]
	if root.Function != "main.main" {
		typ, fn, kind := splitGoName(root.Function)
		entries = append(entries, RawEntry{Class: typ, Function: fn, CallKind: kind})
	}
	return entries
}

// splitGoName splits a runtime function name such as
// "example.com/app/store.(*DB).Get" into its receiver type
// ("example.com/app/store.DB"), function ("Get") and call kind.
func splitGoName(full string) (typ, fn string, kind CallKind) {
	if full == "" {
		return "", "", CallNone
	}

	slash := strings.LastIndex(full, "/")
	dot := strings.Index(full[slash+1:], ".")
	if dot < 0 {
		return "", full, CallNone
	}
	pkg := full[:slash+1+dot]
	rest := full[slash+1+dot+1:]

	if strings.HasPrefix(rest, "(*") {
		if end := strings.Index(rest, ")."); end > 0 {
			return pkg + "." + rest[2:end], rest[end+2:], CallInstance
		}
	}

	parts := strings.SplitN(rest, ".", 2)
	if len(parts) == 2 && !goFreeSuffix.MatchString(parts[1]) {
		return pkg + "." + parts[0], parts[1], CallInstance
	}
	return "", full, CallNone
}

// goFreeSuffix matches what follows a free function name: closures
// ("func1") and numbered init functions ("0").
var goFreeSuffix = regexp.MustCompile(`^(func\d+|\d+)(\.|$)`)

func runtimeInternal(name string) bool {
	return name == "runtime.goexit" || name == "runtime.main"
}
