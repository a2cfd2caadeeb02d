package wire

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Field names the record section a Violation was found in.
type Field string

const (
	FieldPayload   Field = "payload"
	FieldBacktrace Field = "backtrace"
)

// ViolationKind classifies a sanitization change.
type ViolationKind int

const (
	ControlByte ViolationKind = iota + 1
	Oversize
)

// Violation records one change Encode made to a text field. A field
// yields at most one ControlByte violation, describing the first
// offending byte and how many were escaped in total.
type Violation struct {
	Kind   ViolationKind
	Field  Field
	Offset int  // byte offset of the first offending byte (ControlByte)
	Byte   byte // first offending byte (ControlByte)
	Count  int  // offending bytes escaped (ControlByte)
	Size   int  // original length (Oversize)
	Limit  int  // configured maximum (Oversize)
}

// Diagnostic renders the violation as a plain ASCII message suitable for a
// secondary error record. The text never contains control bytes, so encoding
// it cannot produce further violations.
func (v Violation) Diagnostic() string {
	switch v.Kind {
	case ControlByte:
		if v.Count > 1 {
			return fmt.Sprintf("%s contains %d control bytes, first 0x%02x at offset %d (escaped)",
				v.Field, v.Count, v.Byte, v.Offset)
		}
		return fmt.Sprintf("%s contains control byte 0x%02x at offset %d (escaped)", v.Field, v.Byte, v.Offset)
	case Oversize:
		return fmt.Sprintf("%s of %d bytes exceeds limit of %d (truncated)", v.Field, v.Size, v.Limit)
	default:
		return fmt.Sprintf("%s violation", v.Field)
	}
}

// TruncationMarker is appended to truncated payloads.
const TruncationMarker = "…[truncated %d bytes]"

// disallowed reports whether c may not appear raw in a text field.
// TAB, LF, CR and ESC are allowed; GS, RS and US are allowed because the
// codec stuffs them.
func disallowed(c byte) bool {
	switch {
	case c == '\t', c == '\n', c == '\r':
		return false
	case c == esc, c == gs, c == rs, c == us:
		return false
	case c < 0x20, c == 0x7F:
		return true
	}
	return false
}

// Sanitize applies the same escaping and truncation Encode does. A record
// whose text already went through Sanitize round-trips exactly.
func Sanitize(s string, field Field, max int) (string, []Violation) {
	return sanitize(s, field, max)
}

func sanitize(s string, field Field, max int) (string, []Violation) {
	var violations []Violation

	clean := s
	if strings.IndexFunc(s, func(r rune) bool { return r < utf8.RuneSelf && disallowed(byte(r)) }) >= 0 {
		var b strings.Builder
		b.Grow(len(s) + 8)
		v := Violation{Kind: ControlByte, Field: field}
		for i := 0; i < len(s); i++ {
			c := s[i]
			if disallowed(c) {
				fmt.Fprintf(&b, `\x%02x`, c)
				if v.Count == 0 {
					v.Offset, v.Byte = i, c
				}
				v.Count++
				continue
			}
			b.WriteByte(c)
		}
		clean = b.String()
		violations = append(violations, v)
	}

	if max > 0 && len(clean) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(clean[cut]) {
			cut--
		}
		dropped := len(clean) - cut
		violations = append(violations, Violation{Kind: Oversize, Field: field, Size: len(clean), Limit: max})
		clean = clean[:cut] + fmt.Sprintf(TruncationMarker, dropped)
	}

	return clean, violations
}
