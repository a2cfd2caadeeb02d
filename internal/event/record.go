package event

import (
	"fmt"
	"strings"
	"time"
)

// Type identifies the kind of debug occurrence a Record describes.
type Type string

const (
	Intro     Type = "intro"
	Outro     Type = "outro"
	Dump      Type = "dump"
	Label     Type = "label"
	Timer     Type = "timer"
	Memory    Type = "memory"
	Callstack Type = "callstack"
	Error     Type = "error"
	Intercept Type = "intercept"
	Query     Type = "query"
	Stream    Type = "stream"
	Cache     Type = "cache"

	// Raw carries a fragment the listener could not decode.
	Raw Type = "raw"
)

// knownTypes lists every Type in display order.
var knownTypes = []Type{
	Intro, Outro, Dump, Label, Timer, Memory, Callstack,
	Error, Intercept, Query, Stream, Cache, Raw,
}

// Types returns all known event types in display order.
func Types() []Type {
	out := make([]Type, len(knownTypes))
	copy(out, knownTypes)
	return out
}

// ParseType maps a type name to a Type. Matching is case-insensitive.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	for _, k := range knownTypes {
		if k == t {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

// Framing reports whether t opens or closes a producer session.
func (t Type) Framing() bool {
	return t == Intro || t == Outro
}

// Record is one discrete debug event as transmitted over the wire.
// Records are built once by the sender and never mutated afterwards.
type Record struct {
	Type      Type
	Payload   string
	Backtrace string
	Counter   uint64
	Time      time.Time
	Duration  time.Duration // zero when the event carries no duration
	PID       int
	TID       int // zero when unknown
}

// Equal reports whether two records carry the same values.
// Time is compared with time.Time.Equal so monotonic readings are ignored.
func (r Record) Equal(o Record) bool {
	return r.Type == o.Type &&
		r.Payload == o.Payload &&
		r.Backtrace == o.Backtrace &&
		r.Counter == o.Counter &&
		r.Time.Equal(o.Time) &&
		r.Duration == o.Duration &&
		r.PID == o.PID &&
		r.TID == o.TID
}
