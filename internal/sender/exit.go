package sender

import (
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"sync"
	"syscall"

	"github.com/ppiankov/debugtail/internal/callstack"
	"github.com/ppiankov/debugtail/internal/event"
)

// hookOnce limits the process to a single exit hook, whichever sender
// registers first.
var hookOnce sync.Once

// RegisterExitHook closes s when the process receives SIGINT or SIGTERM and
// then re-raises the signal with default handling restored. Only the first
// call in a process installs a hook; it reports whether this call did.
func (s *Sender) RegisterExitHook() bool {
	installed := false
	hookOnce.Do(func() {
		installed = true
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-ch
			s.Close()
			signal.Stop(ch)
			signal.Reset(sig)
			if p, err := os.FindProcess(os.Getpid()); err == nil && p.Signal(sig) == nil {
				return
			}
			os.Exit(1)
		}()
	})
	return installed
}

var runtimeFrames = regexp.MustCompile(`^runtime\.`)

// Recover must be deferred directly. It reports a panic as an Error record
// with the panicking stack, closes the sender and panics again with the
// same value.
func (s *Sender) Recover() {
	r := recover()
	if r == nil {
		return
	}
	s.reportPanic(r, 1)
	panic(r)
}

// ReportPanic reports r and closes the sender, for wrappers that have to
// call recover themselves. The caller re-panics.
func (s *Sender) ReportPanic(r any) {
	s.reportPanic(r, 1)
}

func (s *Sender) reportPanic(r any, skip int) {
	filters := append([]*regexp.Regexp{runtimeFrames}, s.cfg.Exclude...)
	bt := callstack.Capture(skip+1+s.cfg.CallerSkip, filters).Format()
	s.Send(event.Error, fmt.Sprintf("panic: %v", r), bt, 0)
	s.Close()
}
