package wire

import "bytes"

// DefaultMaxPending bounds how many bytes a Splitter holds without seeing a
// delimiter before it gives the data up as one (malformed) fragment.
const DefaultMaxPending = 16 << 20

// Splitter cuts a byte stream into record fragments. Bytes after the last
// delimiter are kept until a later Feed completes them.
type Splitter struct {
	buf        []byte
	MaxPending int
}

// Feed appends p and returns every complete fragment, without delimiters.
// Returned slices are owned by the caller.
func (s *Splitter) Feed(p []byte) [][]byte {
	s.buf = append(s.buf, p...)

	var out [][]byte
	for {
		i := bytes.Index(s.buf, Delimiter)
		if i < 0 {
			break
		}
		frag := make([]byte, i)
		copy(frag, s.buf[:i])
		out = append(out, frag)
		s.buf = s.buf[i+len(Delimiter):]
	}

	max := s.MaxPending
	if max <= 0 {
		max = DefaultMaxPending
	}
	if len(s.buf) > max {
		frag := make([]byte, len(s.buf))
		copy(frag, s.buf)
		out = append(out, frag)
		s.buf = nil
	}

	if len(s.buf) == 0 {
		s.buf = nil
	}
	return out
}

// Pending returns the number of buffered bytes awaiting a delimiter.
func (s *Splitter) Pending() int { return len(s.buf) }

// Reset drops any buffered partial fragment.
func (s *Splitter) Reset() { s.buf = nil }
