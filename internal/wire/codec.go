// Package wire implements the debugtail stream protocol.
//
// A stream is a flat concatenation of encoded records, each followed by
// Delimiter. One encoded record is
//
//	header RS payload RS backtrace
//	header = type US counter US unix-nanos US duration-nanos US pid US tid
//
// Text fields are byte-stuffed with ESC so that GS (the first delimiter
// byte), RS and US never occur raw inside a record.
package wire

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ppiankov/debugtail/internal/event"
)

const (
	esc = 0x1B
	gs  = 0x1D
	rs  = 0x1E
	us  = 0x1F
)

// Delimiter terminates every encoded record in a stream.
var Delimiter = []byte{gs, gs, '\n'}

// DefaultMaxPayload is the payload size above which text is truncated.
const DefaultMaxPayload = 64 * 1024

const headerFields = 6

// ErrMalformed is wrapped by every decode failure.
var ErrMalformed = errors.New("malformed record")

// MalformedError describes a fragment that did not decode.
// Raw holds the fragment as received so it can be shown verbatim.
type MalformedError struct {
	Raw    string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("wire: %s: %s", ErrMalformed, e.Reason)
}

func (e *MalformedError) Unwrap() error { return ErrMalformed }

// Options tunes encoding.
type Options struct {
	// MaxPayload truncates longer payloads. Zero means DefaultMaxPayload,
	// a negative value disables truncation.
	MaxPayload int
}

func (o Options) maxPayload() int {
	if o.MaxPayload == 0 {
		return DefaultMaxPayload
	}
	return o.MaxPayload
}

// Encode serializes r followed by Delimiter. Payload and backtrace are
// sanitized first; every change made is reported as a Violation so the
// caller can emit a diagnostic record.
func Encode(r event.Record, opts Options) ([]byte, []Violation) {
	payload, violations := sanitize(r.Payload, FieldPayload, opts.maxPayload())
	backtrace, bv := sanitize(r.Backtrace, FieldBacktrace, -1)
	violations = append(violations, bv...)

	var b bytes.Buffer
	b.Grow(len(payload) + len(backtrace) + 64)

	b.WriteString(string(r.Type))
	b.WriteByte(us)
	b.WriteString(strconv.FormatUint(r.Counter, 10))
	b.WriteByte(us)
	if !r.Time.IsZero() {
		b.WriteString(strconv.FormatInt(r.Time.UnixNano(), 10))
	}
	b.WriteByte(us)
	if r.Duration != 0 {
		b.WriteString(strconv.FormatInt(int64(r.Duration), 10))
	}
	b.WriteByte(us)
	b.WriteString(strconv.Itoa(r.PID))
	b.WriteByte(us)
	if r.TID != 0 {
		b.WriteString(strconv.Itoa(r.TID))
	}

	b.WriteByte(rs)
	stuff(&b, payload)
	b.WriteByte(rs)
	stuff(&b, backtrace)
	b.Write(Delimiter)

	return b.Bytes(), violations
}

// Decode parses one fragment produced by Encode. A trailing Delimiter is
// tolerated. Any structural problem yields a *MalformedError; Decode never
// panics on arbitrary input.
func Decode(frag []byte) (event.Record, error) {
	raw := bytes.TrimSuffix(frag, Delimiter)

	sections := bytes.Split(raw, []byte{rs})
	if len(sections) != 3 {
		return event.Record{}, malformed(frag, "expected 3 sections, got %d", len(sections))
	}

	fields := bytes.Split(sections[0], []byte{us})
	if len(fields) != headerFields {
		return event.Record{}, malformed(frag, "expected %d header fields, got %d", headerFields, len(fields))
	}

	typ, err := event.ParseType(string(fields[0]))
	if err != nil {
		return event.Record{}, malformed(frag, "%v", err)
	}

	counter, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return event.Record{}, malformed(frag, "bad counter %q", fields[1])
	}

	var ts time.Time
	if len(fields[2]) > 0 {
		n, err := strconv.ParseInt(string(fields[2]), 10, 64)
		if err != nil {
			return event.Record{}, malformed(frag, "bad time %q", fields[2])
		}
		ts = time.Unix(0, n)
	}

	var dur time.Duration
	if len(fields[3]) > 0 {
		n, err := strconv.ParseInt(string(fields[3]), 10, 64)
		if err != nil {
			return event.Record{}, malformed(frag, "bad duration %q", fields[3])
		}
		dur = time.Duration(n)
	}

	pid, err := strconv.Atoi(string(fields[4]))
	if err != nil {
		return event.Record{}, malformed(frag, "bad pid %q", fields[4])
	}

	var tid int
	if len(fields[5]) > 0 {
		tid, err = strconv.Atoi(string(fields[5]))
		if err != nil {
			return event.Record{}, malformed(frag, "bad tid %q", fields[5])
		}
	}

	payload, err := unstuff(sections[1])
	if err != nil {
		return event.Record{}, malformed(frag, "payload: %v", err)
	}
	backtrace, err := unstuff(sections[2])
	if err != nil {
		return event.Record{}, malformed(frag, "backtrace: %v", err)
	}

	return event.Record{
		Type:      typ,
		Payload:   payload,
		Backtrace: backtrace,
		Counter:   counter,
		Time:      ts,
		Duration:  dur,
		PID:       pid,
		TID:       tid,
	}, nil
}

// RawRecord converts a decode failure into a displayable Raw record.
func RawRecord(err error, at time.Time) event.Record {
	text := err.Error()
	var me *MalformedError
	if errors.As(err, &me) {
		text = me.Raw
	}
	return event.Record{Type: event.Raw, Payload: text, Time: at}
}

func malformed(frag []byte, format string, args ...any) *MalformedError {
	return &MalformedError{
		Raw:    string(bytes.TrimSuffix(frag, Delimiter)),
		Reason: fmt.Sprintf(format, args...),
	}
}

func stuff(b *bytes.Buffer, s string) {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case esc:
			b.WriteByte(esc)
			b.WriteByte(esc)
		case gs:
			b.WriteByte(esc)
			b.WriteByte('g')
		case rs:
			b.WriteByte(esc)
			b.WriteByte('r')
		case us:
			b.WriteByte(esc)
			b.WriteByte('u')
		default:
			b.WriteByte(c)
		}
	}
}

func unstuff(p []byte) (string, error) {
	if bytes.IndexByte(p, esc) < 0 {
		return string(p), nil
	}
	out := make([]byte, 0, len(p))
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c != esc {
			out = append(out, c)
			continue
		}
		if i+1 >= len(p) {
			return "", errors.New("dangling escape")
		}
		i++
		switch p[i] {
		case esc:
			out = append(out, esc)
		case 'g':
			out = append(out, gs)
		case 'r':
			out = append(out, rs)
		case 'u':
			out = append(out, us)
		default:
			return "", fmt.Errorf("unknown escape 0x%02x", p[i])
		}
	}
	return string(out), nil
}
