// Package callstack normalizes raw call traces into frames that pair each
// function with the location executing inside it.
package callstack

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// CallKind tells how a frame's function was entered.
type CallKind int

const (
	CallNone CallKind = iota
	CallInstance
	CallStatic
)

// Separator returns the display separator between type and function.
func (k CallKind) Separator() string {
	switch k {
	case CallInstance:
		return "->"
	case CallStatic:
		return "::"
	default:
		return ""
	}
}

func (k CallKind) String() string {
	switch k {
	case CallInstance:
		return "instance"
	case CallStatic:
		return "static"
	default:
		return "none"
	}
}

// MainName is shown for the outermost scope, which has no function.
const MainName = "{main}"

// Frame is one normalized call-stack entry. File and Line locate the
// execution point inside Function, not the place Function was called from.
type Frame struct {
	File          string
	Line          int
	Function      string // empty for the outermost scope
	EnclosingType string
	CallKind      CallKind
	CalleeRef     string // identifies the receiver for display only
	Args          []any
	Ordinal       int
	Time          time.Duration // crash reports only
	Memory        int64         // crash reports only
}

// Export returns the "Type::function" form used by filters and locators.
func (f Frame) Export() string {
	name := f.Function
	if name == "" {
		name = MainName
	}
	if f.EnclosingType == "" {
		return name
	}
	return f.EnclosingType + "::" + name
}

// Display returns the function as it is shown to users, e.g. "App->run()".
func (f Frame) Display() string {
	if f.Function == "" {
		return MainName + "()"
	}
	if f.EnclosingType == "" {
		return f.Function + "()"
	}
	sep := f.CallKind.Separator()
	if sep == "" {
		sep = "::"
	}
	return f.EnclosingType + sep + f.Function + "()"
}

// Location returns "file:line", or an empty string when unknown.
func (f Frame) Location() string {
	if f.File == "" {
		return ""
	}
	return f.File + ":" + strconv.Itoa(f.Line)
}

// Callstack is an immutable, innermost-first sequence of frames.
type Callstack struct {
	frames []Frame
}

// New wraps frames in a Callstack. The slice is copied.
func New(frames []Frame) Callstack {
	out := make([]Frame, len(frames))
	copy(out, frames)
	return Callstack{frames: out}
}

// Len returns the number of frames.
func (c Callstack) Len() int { return len(c.frames) }

// Frames returns a copy of the frames.
func (c Callstack) Frames() []Frame {
	out := make([]Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

// At returns frame i.
func (c Callstack) At(i int) Frame { return c.frames[i] }

// Last returns the innermost frame.
func (c Callstack) Last() (Frame, bool) {
	if len(c.frames) == 0 {
		return Frame{}, false
	}
	return c.frames[0], true
}

// Previous returns the frame that called the innermost one.
func (c Callstack) Previous() (Frame, bool) {
	if len(c.frames) < 2 {
		return Frame{}, false
	}
	return c.frames[1], true
}

// Filter removes frames whose exported name matches any pattern, in order.
// If nothing would remain, the receiver is returned unchanged.
func (c Callstack) Filter(patterns ...*regexp.Regexp) Callstack {
	if len(patterns) == 0 || len(c.frames) == 0 {
		return c
	}

	kept := make([]Frame, 0, len(c.frames))
	for _, f := range c.frames {
		if !excluded(f, patterns) {
			kept = append(kept, f)
		}
	}
	if len(kept) == 0 {
		return c
	}
	return Callstack{frames: kept}
}

func excluded(f Frame, patterns []*regexp.Regexp) bool {
	name := f.Export()
	for _, p := range patterns {
		if p.MatchString(name) {
			return true
		}
	}
	return false
}

// FilterStrings compiles exprs and applies them with Filter.
func (c Callstack) FilterStrings(exprs ...string) (Callstack, error) {
	patterns, err := CompilePatterns(exprs)
	if err != nil {
		return c, err
	}
	return c.Filter(patterns...), nil
}

// CompilePatterns compiles exclusion patterns, keeping their order.
func CompilePatterns(exprs []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		re, err := regexp.Compile(e)
		if err != nil {
			return nil, fmt.Errorf("callstack: compile pattern %q: %w", e, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Format renders the stack as backtrace text, one frame per line:
//
//	#0 App->run() /srv/app/src/App.php:40
func (c Callstack) Format() string {
	var b strings.Builder
	for i, f := range c.frames {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "#%d %s", i, f.Display())
		if loc := f.Location(); loc != "" {
			b.WriteByte(' ')
			b.WriteString(loc)
		}
	}
	return b.String()
}

var formattedLine = regexp.MustCompile(`^#(\d+) (\S.*?\(\))(?: (.+):(\d+))?$`)

// ParseFormatted reads text produced by Format back into a Callstack.
// Lines that do not look like frames are skipped.
func ParseFormatted(text string) Callstack {
	var frames []Frame
	for _, line := range strings.Split(text, "\n") {
		m := formattedLine.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		typ, fn, kind := splitQualified(strings.TrimSuffix(m[2], "()"))
		f := Frame{
			Function:      fn,
			EnclosingType: typ,
			CallKind:      kind,
			Ordinal:       len(frames),
		}
		if m[3] != "" {
			f.File = m[3]
			f.Line, _ = strconv.Atoi(m[4])
		}
		frames = append(frames, f)
	}
	return Callstack{frames: frames}
}

// splitQualified splits "Type->fn", "Type::fn", "fn" or "{main}".
func splitQualified(q string) (typ, fn string, kind CallKind) {
	if q == MainName {
		return "", "", CallNone
	}
	if strings.HasPrefix(q, "{closure") {
		return "", q, CallNone
	}
	if i := strings.Index(q, "->"); i > 0 {
		return q[:i], q[i+2:], CallInstance
	}
	if i := strings.Index(q, "::"); i > 0 {
		return q[:i], q[i+2:], CallStatic
	}
	return "", q, CallNone
}
