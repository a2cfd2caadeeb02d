package sender

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Transport writes encoded records to a listener.
// One Write call carries exactly one encoded record.
type Transport interface {
	Write(p []byte) error
	Close() error
}

// TransportError reports a failed dial, open or write. The sender logs and
// swallows it; it never reaches the host program.
type TransportError struct {
	Op   string // "dial", "open" or "write"
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("sender: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrBackoff is returned while a socket transport waits out RetryInterval
// after a failed dial.
var ErrBackoff = errors.New("reconnect pending")

// SocketTransport streams records over TCP to a running listener.
type SocketTransport struct {
	Addr          string
	DialTimeout   time.Duration
	WriteTimeout  time.Duration
	RetryInterval time.Duration

	mu       sync.Mutex
	conn     net.Conn
	nextDial time.Time
	now      func() time.Time
}

// NewSocketTransport returns a transport that connects on first write.
func NewSocketTransport(addr string, dialTimeout, writeTimeout, retry time.Duration) *SocketTransport {
	return &SocketTransport{
		Addr:          addr,
		DialTimeout:   dialTimeout,
		WriteTimeout:  writeTimeout,
		RetryInterval: retry,
		now:           time.Now,
	}
}

// Write sends p, dialing first if needed. After a dial or write failure the
// connection is dropped and no new dial happens before RetryInterval passes.
func (t *SocketTransport) Write(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		if t.clock().Before(t.nextDial) {
			return &TransportError{Op: "dial", Addr: t.Addr, Err: ErrBackoff}
		}
		conn, err := net.DialTimeout("tcp", t.Addr, t.DialTimeout)
		if err != nil {
			t.nextDial = t.clock().Add(t.RetryInterval)
			return &TransportError{Op: "dial", Addr: t.Addr, Err: err}
		}
		t.conn = conn
	}

	if t.WriteTimeout > 0 {
		_ = t.conn.SetWriteDeadline(t.clock().Add(t.WriteTimeout))
	}
	if _, err := t.conn.Write(p); err != nil {
		_ = t.conn.Close()
		t.conn = nil
		t.nextDial = t.clock().Add(t.RetryInterval)
		return &TransportError{Op: "write", Addr: t.Addr, Err: err}
	}
	return nil
}

// Close closes the connection, if any.
func (t *SocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *SocketTransport) clock() time.Time {
	if t.now == nil {
		return time.Now()
	}
	return t.now()
}

// FileTransport appends records to a shared file. Many short-lived
// producers can fan in to one file; each record is a single O_APPEND write
// so concurrent writers never interleave inside a record.
type FileTransport struct {
	path  string
	file  *os.File
	fsync bool
	mu    sync.Mutex
}

// OpenFile opens (or creates) path for appending.
func OpenFile(path string, fsync bool) (*FileTransport, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &TransportError{Op: "open", Addr: path, Err: fmt.Errorf("create directory: %w", err)}
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &TransportError{Op: "open", Addr: path, Err: err}
	}
	return &FileTransport{path: path, file: f, fsync: fsync}, nil
}

// Write appends p in one write call.
func (t *FileTransport) Write(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.file.Write(p); err != nil {
		return &TransportError{Op: "write", Addr: t.path, Err: err}
	}
	if t.fsync {
		if err := t.file.Sync(); err != nil {
			return &TransportError{Op: "write", Addr: t.path, Err: fmt.Errorf("sync: %w", err)}
		}
	}
	return nil
}

// Close closes the underlying file.
func (t *FileTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Close()
}

// Path returns the file being appended to.
func (t *FileTransport) Path() string { return t.path }
