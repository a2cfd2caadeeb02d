// Package listener runs the console side of debugtail: one goroutine that
// polls a TCP socket and a tailed file, decodes complete fragments and
// hands every record to a Sink in arrival order.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ppiankov/debugtail/internal/event"
	"github.com/ppiankov/debugtail/internal/wire"
)

// ErrNoSource is returned by New when neither the socket nor the file
// could be set up.
var ErrNoSource = errors.New("listener: no event source available")

// Defaults applied by New.
const (
	DefaultAddr        = "127.0.0.1:1729"
	DefaultInterval    = time.Second
	DefaultReadTimeout = 2 * time.Millisecond
	DefaultChunk       = 64 * 1024
)

// Config describes the event sources.
type Config struct {
	Addr        string // TCP address to bind
	NoSocket    bool
	File        string // file to tail; empty disables tailing
	FromStart   bool   // read the file from offset 0 instead of its end
	Interval    time.Duration
	ReadTimeout time.Duration
	Chunk       int // bytes per read call; a poll may issue several
}

// Sink consumes decoded records. producers is the number of producers
// active when the record was dispatched.
type Sink interface {
	Render(r event.Record, producers int)
}

// Option configures a Listener.
type Option func(*Listener)

// WithLogger sets the diagnostics logger.
func WithLogger(l *slog.Logger) Option {
	return func(ln *Listener) { ln.log = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(ln *Listener) { ln.now = now }
}

// Listener is the polling event loop. All of its state is owned by the
// goroutine calling Run or Poll.
type Listener struct {
	cfg  Config
	sink Sink
	log  *slog.Logger
	now  func() time.Time

	socket   *socketSource
	tail     *tail
	setupErr *SetupError

	// filePIDs holds producers seen on the file with an Intro and no Outro.
	filePIDs map[int]bool
}

// New sets up the configured sources. A socket that cannot be bound is
// logged once and the listener continues with the file alone; New fails
// with ErrNoSource only when no source is left.
func New(cfg Config, sink Sink, opts ...Option) (*Listener, error) {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Chunk <= 0 {
		cfg.Chunk = DefaultChunk
	}

	l := &Listener{
		cfg:      cfg,
		sink:     sink,
		now:      time.Now,
		filePIDs: make(map[int]bool),
	}
	for _, o := range opts {
		o(l)
	}
	if l.log == nil {
		l.log = slog.Default()
	}

	var errs []error

	if !cfg.NoSocket {
		s, err := listenTCP(cfg.Addr, cfg.ReadTimeout, cfg.Chunk)
		if err != nil {
			var se *SetupError
			if errors.As(err, &se) {
				l.setupErr = se
			}
			l.log.Warn("socket unavailable, tailing file only", "addr", cfg.Addr, "error", err)
			errs = append(errs, err)
		} else {
			l.socket = s
		}
	}

	if cfg.File != "" {
		t, err := openTail(cfg.File, cfg.FromStart, cfg.Chunk)
		if err != nil {
			errs = append(errs, err)
		} else {
			if err := t.watch(); err != nil {
				l.log.Debug("file notifications unavailable, polling only", "error", err)
			}
			l.tail = t
		}
	}

	if l.socket == nil && l.tail == nil {
		if len(errs) == 0 {
			return nil, ErrNoSource
		}
		return nil, fmt.Errorf("%w: %w", ErrNoSource, errors.Join(errs...))
	}
	if l.tail == nil && len(errs) > 0 {
		l.log.Warn("file source unavailable", "file", cfg.File, "error", errs[len(errs)-1])
	}
	return l, nil
}

// Addr returns the bound socket address, or nil in file-only mode.
func (l *Listener) Addr() net.Addr {
	if l.socket == nil {
		return nil
	}
	return l.socket.addr()
}

// SetupErr returns the socket setup failure, if any.
func (l *Listener) SetupErr() *SetupError { return l.setupErr }

// Producers returns the number of currently active producers: open
// connections plus file producers that introduced themselves and have not
// said goodbye.
func (l *Listener) Producers() int {
	n := len(l.filePIDs)
	if l.socket != nil {
		n += len(l.socket.conns)
	}
	return n
}

// Run polls until ctx is cancelled, then closes every source. Polling
// happens every Interval and additionally whenever the tailed file changes.
func (l *Listener) Run(ctx context.Context) error {
	defer l.Close()

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	l.Poll()

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if l.tail != nil && l.tail.watcher != nil {
		events = l.tail.watcher.Events
		watchErrs = l.tail.watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			l.Poll()

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if l.tail.relevant(ev) {
				l.Poll()
			}

		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			l.log.Debug("file watcher error", "error", err)
		}
	}
}

// Poll runs one loop iteration: accept pending connections, read what each
// connection has buffered, read newly appended file data and dispatch every
// decoded record.
func (l *Listener) Poll() {
	if l.socket != nil {
		if err := l.socket.accept(); err != nil {
			l.log.Debug("accept", "error", err)
		}
		l.socket.read(l.dispatchSocket)
	}

	if l.tail != nil {
		reset, err := l.tail.poll(l.dispatchFile)
		if err != nil {
			l.log.Debug("tail", "file", l.tail.path, "error", err)
		}
		if reset {
			l.log.Debug("tailed file truncated, reading from start", "file", l.tail.path)
		}
	}
}

func (l *Listener) dispatchSocket(frag []byte) {
	l.sink.Render(l.decode(frag), l.Producers())
}

func (l *Listener) dispatchFile(frag []byte) {
	r := l.decode(frag)
	switch r.Type {
	case event.Intro:
		l.filePIDs[r.PID] = true
	case event.Outro:
		delete(l.filePIDs, r.PID)
	}
	l.sink.Render(r, l.Producers())
}

func (l *Listener) decode(frag []byte) event.Record {
	r, err := wire.Decode(frag)
	if err != nil {
		return wire.RawRecord(err, l.now())
	}
	return r
}

// Close releases every source.
func (l *Listener) Close() {
	if l.socket != nil {
		l.socket.close()
		l.socket = nil
	}
	if l.tail != nil {
		l.tail.close()
		l.tail = nil
	}
}
