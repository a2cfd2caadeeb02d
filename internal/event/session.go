package event

import (
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is the per-process producer context. It owns the record counter
// and the aggregate send statistics that end up in the Outro footer.
//
// A Session is created by the sender on its first send and injected
// wherever records are composed. Reset restores a fresh state for tests.
type Session struct {
	mu      sync.Mutex
	id      string
	pid     int
	started time.Time
	counter uint64
	counts  map[Type]int
	timed   map[Type]time.Duration
	now     func() time.Time
}

// NewSession creates a session for the current process.
func NewSession() *Session {
	s := &Session{now: time.Now}
	s.reset()
	return s
}

// NewSessionAt creates a session with an injected clock.
func NewSessionAt(now func() time.Time) *Session {
	s := &Session{now: now}
	s.reset()
	return s
}

// Reset discards all counters and starts a new session ID.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *Session) reset() {
	s.id = uuid.NewString()
	s.pid = os.Getpid()
	s.started = s.now()
	s.counter = 0
	s.counts = make(map[Type]int)
	s.timed = make(map[Type]time.Duration)
}

// ID returns the session identifier.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// PID returns the producer process ID.
func (s *Session) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// Started returns the session start time.
func (s *Session) Started() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Compose builds the next Record. The counter increases by exactly one per
// call, so records from one session are totally ordered.
func (s *Session) Compose(t Type, payload, backtrace string, d time.Duration, tid int) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	s.counts[t]++
	s.timed[t] += d

	return Record{
		Type:      t,
		Payload:   payload,
		Backtrace: backtrace,
		Counter:   s.counter,
		Time:      s.now(),
		Duration:  d,
		PID:       s.pid,
		TID:       tid,
	}
}

// Totals is a snapshot of what a session has sent so far.
type Totals struct {
	Records int
	Elapsed time.Duration
	Counts  map[Type]int
	Timed   map[Type]time.Duration
}

// Totals returns a copy of the session statistics.
func (s *Session) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := Totals{
		Records: int(s.counter),
		Elapsed: s.now().Sub(s.started),
		Counts:  make(map[Type]int, len(s.counts)),
		Timed:   make(map[Type]time.Duration, len(s.timed)),
	}
	for k, v := range s.counts {
		t.Counts[k] = v
	}
	for k, v := range s.timed {
		t.Timed[k] = v
	}
	return t
}
