package debugtail

import (
	"github.com/ppiankov/debugtail/internal/event"
	"github.com/ppiankov/debugtail/internal/intercept"
)

// Type identifies an event kind.
type Type = event.Type

// Event types accepted by Send.
const (
	Dump      = event.Dump
	Label     = event.Label
	Timer     = event.Timer
	Memory    = event.Memory
	Callstack = event.Callstack
	Error     = event.Error
	Intercept = event.Intercept
	Query     = event.Query
	Stream    = event.Stream
	Cache     = event.Cache
)

// Mode selects how a wrapped call is handled.
type Mode = intercept.Mode

const (
	Direct    = intercept.Direct
	Logged    = intercept.Logged
	Prevented = intercept.Prevented
)
