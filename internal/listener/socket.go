package listener

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ppiankov/debugtail/internal/wire"
)

// SetupError reports that the TCP socket could not be bound. The listener
// keeps running on the file source alone.
type SetupError struct {
	Addr string
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("listener: listen on %s: %v", e.Addr, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// acceptWindow bounds how long one iteration waits for new connections.
const acceptWindow = time.Millisecond

// maxReadsPerConn caps reads per connection per iteration so a busy
// producer cannot starve the others.
const maxReadsPerConn = 16

type conn struct {
	nc    net.Conn
	split wire.Splitter
}

type socketSource struct {
	ln          *net.TCPListener
	conns       []*conn
	readTimeout time.Duration
	buf         []byte
}

func listenTCP(addr string, readTimeout time.Duration, chunk int) (*socketSource, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &SetupError{Addr: addr, Err: err}
	}
	return &socketSource{
		ln:          ln.(*net.TCPListener),
		readTimeout: readTimeout,
		buf:         make([]byte, chunk),
	}, nil
}

// accept takes every connection that is already pending.
func (s *socketSource) accept() error {
	if err := s.ln.SetDeadline(time.Now().Add(acceptWindow)); err != nil {
		return err
	}
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if isTimeout(err) {
				return nil
			}
			return err
		}
		s.conns = append(s.conns, &conn{nc: nc})
	}
}

// read drains what each connection has buffered, without blocking past
// readTimeout, and passes complete fragments to emit. Closed or failed
// connections are removed. Each connection gets its own deadline, so an
// idle connection costs at most readTimeout and never starves the next.
func (s *socketSource) read(emit func([]byte)) {
	kept := s.conns[:0]
	for _, c := range s.conns {
		if s.readConn(c, emit) {
			kept = append(kept, c)
			continue
		}
		_ = c.nc.Close()
	}
	for i := len(kept); i < len(s.conns); i++ {
		s.conns[i] = nil
	}
	s.conns = kept
}

func (s *socketSource) readConn(c *conn, emit func([]byte)) bool {
	if err := c.nc.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
		return false
	}
	for i := 0; i < maxReadsPerConn; i++ {
		n, err := c.nc.Read(s.buf)
		if n > 0 {
			for _, frag := range c.split.Feed(s.buf[:n]) {
				emit(frag)
			}
		}
		switch {
		case err == nil:
			if n < len(s.buf) {
				return true
			}
		case isTimeout(err):
			return true
		default:
			// EOF or a read error: the producer is gone.
			return false
		}
	}
	return true
}

func (s *socketSource) addr() net.Addr { return s.ln.Addr() }

func (s *socketSource) close() {
	for _, c := range s.conns {
		_ = c.nc.Close()
	}
	s.conns = nil
	_ = s.ln.Close()
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
