package debugtail

import (
	"fmt"
	"os"
	"time"

	"github.com/ppiankov/debugtail/internal/config"
	"github.com/ppiankov/debugtail/internal/intercept"
	"github.com/ppiankov/debugtail/internal/sender"
)

// Client sends events for one process. Safe for concurrent use.
type Client struct {
	s     *sender.Sender
	rules *intercept.Rules
}

// New creates a Client. The connection to the listener is opened on the
// first event.
func New(opts ...Option) (*Client, error) {
	var cc clientConfig
	for _, o := range opts {
		o(&cc)
	}

	cfg, err := config.Load(cc.configPath)
	if err != nil {
		return nil, fmt.Errorf("debugtail: %w", err)
	}
	cfg.ApplyEnv(os.LookupEnv)

	switch {
	case cc.file != "":
		cfg.Producer.Transport = sender.TransportFile
		cfg.Producer.File = cc.file
	case cc.addr != "":
		cfg.Producer.Transport = sender.TransportSocket
		cfg.Producer.Addr = cc.addr
	}
	if cc.backtraces != nil {
		cfg.Producer.Backtraces = *cc.backtraces
	}
	if cc.disabled {
		cfg.Producer.Disabled = true
	}
	cfg.Producer.Exclude = append(cfg.Producer.Exclude, cc.exclude...)

	sc, err := cfg.SenderConfig()
	if err != nil {
		return nil, fmt.Errorf("debugtail: %w", err)
	}
	sc.CallerSkip = 1

	var sopts []sender.Option
	if cc.logger != nil {
		sopts = append(sopts, sender.WithLogger(cc.logger))
	}

	rules := cfg.InterceptRules()
	for name, m := range cc.modes {
		rules.Set(name, m)
	}

	return &Client{s: sender.New(sc, sopts...), rules: rules}, nil
}

// Send transmits a raw event.
func (c *Client) Send(t Type, payload string, d time.Duration) {
	c.s.Send(t, payload, "", d)
}

// Dump sends v as text, JSON or Go syntax.
func (c *Client) Dump(v any) { c.s.Dump(v) }

// Label sends a marker line.
func (c *Client) Label(format string, args ...any) { c.s.Label(format, args...) }

// Error sends err with the caller's stack.
func (c *Client) Error(err error) { c.s.Error(err) }

// Memory sends heap statistics.
func (c *Client) Memory(label string) { c.s.Memory(label) }

// Timer starts a timer; calling the returned function sends it.
func (c *Client) Timer(name string) func() time.Duration { return c.s.Timer(name) }

// Callstack sends the caller's stack.
func (c *Client) Callstack() { c.s.Callstack() }

// SetMode changes how calls wrapped under name are handled.
func (c *Client) SetMode(name string, m Mode) { c.rules.Set(name, m) }

// RegisterExitHook closes the client on SIGINT or SIGTERM. Only the first
// call in a process installs the hook.
func (c *Client) RegisterExitHook() bool { return c.s.RegisterExitHook() }

// Recover must be deferred directly. It reports a panic, closes the
// client and panics again.
func (c *Client) Recover() {
	r := recover()
	if r == nil {
		return
	}
	c.s.ReportPanic(r)
	panic(r)
}

// Close sends the session footer and releases the connection.
func (c *Client) Close() { c.s.Close() }
