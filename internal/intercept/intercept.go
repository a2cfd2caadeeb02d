// Package intercept reports calls made through injected wrappers as
// Intercept records. Each named call has a Mode: Direct calls run
// unobserved, Logged calls run and are reported with their duration and
// outcome, Prevented calls do not run and return a fallback value.
package intercept

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/debugtail/internal/callstack"
	"github.com/ppiankov/debugtail/internal/event"
)

// Mode selects how an intercepted call is handled.
type Mode int

const (
	Direct Mode = iota
	Logged
	Prevented
)

func (m Mode) String() string {
	switch m {
	case Direct:
		return "direct"
	case Logged:
		return "logged"
	case Prevented:
		return "prevented"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode maps "direct", "logged" or "prevented" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "direct", "":
		return Direct, nil
	case "logged", "log":
		return Logged, nil
	case "prevented", "prevent":
		return Prevented, nil
	}
	return Direct, fmt.Errorf("intercept: unknown mode %q", s)
}

// Emitter sends records. *sender.Sender satisfies it.
type Emitter interface {
	Send(t event.Type, payload, backtrace string, d time.Duration)
}

// Call describes one invocation.
type Call[T any] struct {
	Name string
	Args []any
	Fn   func() (T, error)
}

// Invoke runs call according to mode. Prevented calls return fallback
// without running. Emission never changes the call's result.
func Invoke[T any](em Emitter, mode Mode, call Call[T], fallback T) (T, error) {
	return invoke(em, mode, call, fallback)
}

// invoke is called directly by Invoke and by the Wrap closure; emit
// relies on that depth to start backtraces at the user's call site.
func invoke[T any](em Emitter, mode Mode, call Call[T], fallback T) (T, error) {
	switch mode {
	case Prevented:
		emit(em, fmt.Sprintf("%s prevented, returned %s", signature(call.Name, call.Args), brief(fallback)), 0)
		return fallback, nil

	case Logged:
		start := time.Now()
		out, err := call.Fn()
		elapsed := time.Since(start)
		outcome := brief(out)
		if err != nil {
			outcome = "error: " + err.Error()
		}
		emit(em, fmt.Sprintf("%s = %s", signature(call.Name, call.Args), outcome), elapsed)
		return out, err

	default:
		return call.Fn()
	}
}

func emit(em Emitter, payload string, d time.Duration) {
	if em == nil {
		return
	}
	// Skip emit, invoke and Invoke or the Wrap closure.
	bt := callstack.Capture(3, nil).Format()
	em.Send(event.Intercept, payload, bt, d)
}

// Rules maps call names to modes. Unknown names are Direct. It is safe for
// concurrent use.
type Rules struct {
	mu    sync.RWMutex
	modes map[string]Mode
}

// NewRules returns rules populated from modes.
func NewRules(modes map[string]Mode) *Rules {
	r := &Rules{modes: make(map[string]Mode, len(modes))}
	for k, v := range modes {
		r.modes[k] = v
	}
	return r
}

// Set changes the mode for name.
func (r *Rules) Set(name string, m Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modes[name] = m
}

// Mode returns the mode for name.
func (r *Rules) Mode(name string) Mode {
	if r == nil {
		return Direct
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.modes[name]
}

// Wrap returns fn guarded by the mode rules assigns to name at call time.
func Wrap[A, R any](em Emitter, rules *Rules, name string, fn func(A) (R, error), fallback R) func(A) (R, error) {
	return func(a A) (R, error) {
		return invoke(em, rules.Mode(name), Call[R]{
			Name: name,
			Args: []any{a},
			Fn:   func() (R, error) { return fn(a) },
		}, fallback)
	}
}

func signature(name string, args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = brief(a)
	}
	return name + "(" + strings.Join(parts, ", ") + ")"
}

const maxBrief = 80

// brief renders v on one short line.
func brief(v any) string {
	var s string
	switch x := v.(type) {
	case nil:
		s = "nil"
	case string:
		s = fmt.Sprintf("%q", x)
	case error:
		s = x.Error()
	default:
		s = fmt.Sprintf("%v", x)
	}
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > maxBrief {
		s = s[:maxBrief-3] + "..."
	}
	return s
}
