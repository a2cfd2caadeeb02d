// Package sender is the producer side of debugtail. A Sender composes
// records from its Session, opens the configured transport on first use
// and writes one encoded record per call. Nothing on the send path returns
// an error to, or panics into, the instrumented program.
package sender

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/debugtail/internal/callstack"
	"github.com/ppiankov/debugtail/internal/event"
	"github.com/ppiankov/debugtail/internal/wire"
)

// Transport kinds accepted in Config.Transport.
const (
	TransportSocket = "socket"
	TransportFile   = "file"
)

// Defaults used when Config leaves a field zero.
const (
	DefaultAddr          = "127.0.0.1:1729"
	DefaultDialTimeout   = 250 * time.Millisecond
	DefaultWriteTimeout  = time.Second
	DefaultRetryInterval = 5 * time.Second
	warnEvery            = 10 * time.Second
)

// Config selects and tunes the transport.
type Config struct {
	Transport     string // TransportSocket (default) or TransportFile
	Addr          string
	File          string
	Fsync         bool
	MaxPayload    int
	Backtraces    bool
	Exclude       []*regexp.Regexp
	Disabled      bool
	DialTimeout   time.Duration
	WriteTimeout  time.Duration
	RetryInterval time.Duration

	// CallerSkip is added to the stack depth helpers skip, for wrappers
	// that call them on behalf of user code.
	CallerSkip int
}

func (c Config) withDefaults() Config {
	if c.Transport == "" {
		c.Transport = TransportSocket
	}
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	return c
}

// Option configures a Sender.
type Option func(*Sender)

// WithLogger sets the logger used for local diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sender) { s.log = l }
}

// WithSession injects an existing session instead of creating one on the
// first send.
func WithSession(sess *event.Session) Option {
	return func(s *Sender) { s.session = sess }
}

// WithTransport injects a ready transport.
func WithTransport(t Transport) Option {
	return func(s *Sender) { s.transport = t }
}

// Sender transmits records for one producer process.
type Sender struct {
	cfg Config
	log *slog.Logger

	mu         sync.Mutex
	session    *event.Session
	transport  Transport
	introduced bool
	closed     bool
	diagnosing bool
	lastWarn   time.Time

	closeOnce sync.Once
}

// New returns a Sender. No transport is opened until the first send.
func New(cfg Config, opts ...Option) *Sender {
	s := &Sender{cfg: cfg.withDefaults()}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Session returns the sender's session, creating it if needed.
func (s *Sender) Session() *event.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionLocked()
}

func (s *Sender) sessionLocked() *event.Session {
	if s.session == nil {
		s.session = event.NewSession()
	}
	return s.session
}

// Send composes and transmits one record. The first send of a session is
// preceded by an Intro record. Failures are logged and swallowed.
func (s *Sender) Send(t event.Type, payload, backtrace string, d time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("debugtail send panicked", "type", t, "panic", r)
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Disabled || s.closed {
		return
	}
	if !s.introduced {
		s.introduced = true
		s.emit(event.Intro, s.introPayload(), "", 0)
	}
	s.emit(t, payload, backtrace, d)
}

// emit writes one record. Violations reported by the encoder are sent as
// Error records right after it; those diagnostics never produce further
// diagnostics. Framing records and diagnostics are not truncated.
func (s *Sender) emit(t event.Type, payload, backtrace string, d time.Duration) {
	opts := wire.Options{MaxPayload: s.cfg.MaxPayload}
	if t.Framing() || s.diagnosing {
		opts.MaxPayload = -1
	}
	rec := s.sessionLocked().Compose(t, payload, backtrace, d, threadID())
	data, violations := wire.Encode(rec, opts)
	s.write(data)

	if len(violations) == 0 || s.diagnosing {
		return
	}
	s.diagnosing = true
	defer func() { s.diagnosing = false }()
	for _, v := range violations {
		s.emit(event.Error, v.Diagnostic(), "", 0)
	}
}

func (s *Sender) write(data []byte) {
	if s.transport == nil {
		t, err := s.open()
		if err != nil {
			s.warn(err)
			return
		}
		s.transport = t
	}
	if err := s.transport.Write(data); err != nil {
		s.warn(err)
	}
}

func (s *Sender) open() (Transport, error) {
	switch s.cfg.Transport {
	case TransportFile:
		if s.cfg.File == "" {
			return nil, &TransportError{Op: "open", Err: fmt.Errorf("no file configured")}
		}
		return OpenFile(s.cfg.File, s.cfg.Fsync)
	case TransportSocket:
		return NewSocketTransport(s.cfg.Addr, s.cfg.DialTimeout, s.cfg.WriteTimeout, s.cfg.RetryInterval), nil
	default:
		return nil, &TransportError{Op: "open", Err: fmt.Errorf("unknown transport %q", s.cfg.Transport)}
	}
}

// warn logs a transport failure at most once per warnEvery.
func (s *Sender) warn(err error) {
	now := time.Now()
	if !s.lastWarn.IsZero() && now.Sub(s.lastWarn) < warnEvery {
		return
	}
	s.lastWarn = now
	s.log.Warn("debugtail: event not delivered", "error", err)
}

func (s *Sender) introPayload() string {
	sess := s.sessionLocked()
	cmd := strings.Join(os.Args, " ")
	return fmt.Sprintf("%s session=%s pid=%d %s", cmd, sess.ID(), sess.PID(), runtime.Version())
}

// Close sends the Outro footer and closes the transport. Only the first
// call has any effect; the Outro is sent only if an Intro was.
func (s *Sender) Close() {
	s.closeOnce.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("debugtail close panicked", "panic", r)
			}
		}()

		s.mu.Lock()
		defer s.mu.Unlock()

		if s.introduced && !s.cfg.Disabled {
			totals := s.sessionLocked().Totals()
			s.emit(event.Outro, outroPayload(totals), "", totals.Elapsed)
		}
		s.closed = true
		if s.transport != nil {
			if err := s.transport.Close(); err != nil {
				s.log.Debug("debugtail: close transport", "error", err)
			}
		}
	})
}

func outroPayload(t event.Totals) string {
	var parts []string
	for _, typ := range event.Types() {
		if n := t.Counts[typ]; n > 0 && !typ.Framing() {
			parts = append(parts, fmt.Sprintf("%s=%d", typ, n))
		}
	}
	// The Outro itself is the next record.
	return fmt.Sprintf("%d records in %s (%s)", t.Records+1, t.Elapsed.Round(time.Millisecond), strings.Join(parts, " "))
}

// backtrace returns the formatted stack of the code that called a helper,
// or "" when backtraces are disabled. With skip 0 the helper's caller is
// the innermost frame.
func (s *Sender) backtrace(skip int) string {
	if !s.cfg.Backtraces {
		return ""
	}
	return callstack.Capture(skip+2+s.cfg.CallerSkip, s.cfg.Exclude).Format()
}
