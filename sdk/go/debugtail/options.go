package debugtail

import "log/slog"

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	configPath string
	addr       string
	file       string
	backtraces *bool
	exclude    []string
	disabled   bool
	logger     *slog.Logger
	modes      map[string]Mode
}

// WithConfig reads settings from path instead of ~/.debugtail/config.yaml.
func WithConfig(path string) Option {
	return func(c *clientConfig) { c.configPath = path }
}

// WithSocket sends to the listener at addr.
func WithSocket(addr string) Option {
	return func(c *clientConfig) {
		c.addr = addr
		c.file = ""
	}
}

// WithFile appends events to path instead of using the socket.
func WithFile(path string) Option {
	return func(c *clientConfig) {
		c.file = path
		c.addr = ""
	}
}

// WithBacktraces attaches the caller's stack to every event.
func WithBacktraces(on bool) Option {
	return func(c *clientConfig) { c.backtraces = &on }
}

// WithExclude drops stack frames whose Type::function matches any of the
// regular expressions.
func WithExclude(exprs ...string) Option {
	return func(c *clientConfig) { c.exclude = append(c.exclude, exprs...) }
}

// WithDisabled turns every call into a no-op.
func WithDisabled() Option {
	return func(c *clientConfig) { c.disabled = true }
}

// WithLogger sets the logger for delivery warnings.
func WithLogger(l *slog.Logger) Option {
	return func(c *clientConfig) { c.logger = l }
}

// WithMode sets the interception mode for a wrapped call name.
func WithMode(name string, m Mode) Option {
	return func(c *clientConfig) {
		if c.modes == nil {
			c.modes = make(map[string]Mode)
		}
		c.modes[name] = m
	}
}
