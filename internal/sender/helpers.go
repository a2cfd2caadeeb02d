package sender

import (
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ppiankov/debugtail/internal/callstack"
	"github.com/ppiankov/debugtail/internal/event"
)

// Dump sends a textual rendering of v. Strings, byte slices, errors and
// Stringers are sent as text; anything else is sent as JSON when it
// marshals, otherwise in Go syntax.
func (s *Sender) Dump(v any) {
	s.Send(event.Dump, dumpText(v), s.backtrace(0), 0)
}

func dumpText(v any) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case string:
		return x
	case []byte:
		return string(x)
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%#v", v)
}

// Label sends a short marker line.
func (s *Sender) Label(format string, args ...any) {
	s.Send(event.Label, fmt.Sprintf(format, args...), s.backtrace(0), 0)
}

// Error sends err with the caller's stack. The stack is attached even when
// backtraces are otherwise disabled.
func (s *Sender) Error(err error) {
	if err == nil {
		return
	}
	bt := callstack.Capture(1+s.cfg.CallerSkip, s.cfg.Exclude).Format()
	s.Send(event.Error, err.Error(), bt, 0)
}

// Memory sends the current heap statistics.
func (s *Sender) Memory(label string) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	payload := fmt.Sprintf("heap %s, sys %s, total alloc %s, %d gc",
		humanize.IBytes(ms.HeapAlloc),
		humanize.IBytes(ms.Sys),
		humanize.IBytes(ms.TotalAlloc),
		ms.NumGC)
	if label != "" {
		payload = label + ": " + payload
	}
	s.Send(event.Memory, payload, s.backtrace(0), 0)
}

// Timer starts a timer and returns the function that stops it. Stopping
// sends a Timer record carrying the elapsed time; later calls, from any
// goroutine, return the same duration and send nothing.
func (s *Sender) Timer(name string) func() time.Duration {
	start := time.Now()
	bt := s.backtrace(0)
	var (
		once    sync.Once
		elapsed time.Duration
	)
	return func() time.Duration {
		once.Do(func() {
			elapsed = time.Since(start)
			s.Send(event.Timer, name, bt, elapsed)
		})
		return elapsed
	}
}

// Callstack sends the caller's stack. The payload names the innermost
// function.
func (s *Sender) Callstack() {
	cs := callstack.Capture(1+s.cfg.CallerSkip, s.cfg.Exclude)
	payload := "callstack"
	if f, ok := cs.Last(); ok {
		payload = f.Display()
	}
	s.Send(event.Callstack, payload, cs.Format(), 0)
}
