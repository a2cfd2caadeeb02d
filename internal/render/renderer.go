// Package render turns decoded records into terminal output. It collapses
// repeated events from the same call site into one line and keeps running
// statistics for the summary footer.
package render

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"github.com/ppiankov/debugtail/internal/callstack"
	"github.com/ppiankov/debugtail/internal/event"
)

// Option configures a Renderer.
type Option func(*Renderer)

// WithDecorator sets the color decorator. The default is Plain.
func WithDecorator(d Decorator) Option {
	return func(r *Renderer) { r.dec = d }
}

// WithProfile collects every rendered backtrace into p.
func WithProfile(p *ProfileBuilder) Option {
	return func(r *Renderer) { r.profile = p }
}

// WithBacktraces prints the full backtrace under each entry instead of
// only the innermost location.
func WithBacktraces(on bool) Option {
	return func(r *Renderer) { r.backtraces = on }
}

// Renderer consumes records from a single goroutine.
type Renderer struct {
	screen     Screen
	dec        Decorator
	profile    *ProfileBuilder
	backtraces bool

	last        event.Record
	hasLast     bool
	durationSum time.Duration
	repeats     int

	stats Stats
}

// New returns a Renderer writing to screen.
func New(screen Screen, opts ...Option) *Renderer {
	r := &Renderer{screen: screen, dec: Plain{}, stats: newStats()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Render shows rec. A record with a non-empty backtrace that matches the
// previous record's type and backtrace is a repeat: the previous entry is
// erased and redrawn with the summed duration and a repeat count.
// producers is the number of active producers; above one, entries other
// than Intro and Outro are prefixed with the producer's pid.
func (r *Renderer) Render(rec event.Record, producers int) {
	repeat := r.hasLast &&
		rec.Backtrace != "" &&
		rec.Type == r.last.Type &&
		rec.Backtrace == r.last.Backtrace

	if repeat {
		r.durationSum += rec.Duration
		r.repeats++
		r.screen.EraseLast()
	} else {
		r.durationSum = rec.Duration
		r.repeats = 1
	}
	r.last = rec
	r.hasLast = true

	r.screen.Print(r.format(rec, producers))
	r.stats.add(rec, repeat)
	if r.profile != nil {
		r.profile.Add(rec)
	}
}

// DurationSum returns the accumulated duration of the current entry.
func (r *Renderer) DurationSum() time.Duration { return r.durationSum }

// Repeats returns how many records the current entry stands for.
func (r *Renderer) Repeats() int { return r.repeats }

// Stats returns a snapshot of the statistics.
func (r *Renderer) Stats() Stats { return r.stats.clone() }

// Summary renders the statistics footer, followed by the busiest call
// sites when a profile is being collected.
func (r *Renderer) Summary() string {
	out := FormatSummary(r.stats)
	if r.profile != nil && r.profile.Len() > 0 {
		out += "Top call sites:\n"
		for _, line := range r.profile.topStacks(5) {
			out += line + "\n"
		}
	}
	return out
}

func (r *Renderer) format(rec event.Record, producers int) string {
	pal := typeColors[rec.Type]

	var b strings.Builder
	if producers > 1 && !rec.Type.Framing() {
		b.WriteString(r.dec.Decorate("#"+strconv.Itoa(rec.PID), dimColor, ""))
		b.WriteByte(' ')
	}
	if !rec.Time.IsZero() {
		b.WriteString(r.dec.Decorate(rec.Time.Local().Format("15:04:05.000"), dimColor, ""))
		b.WriteByte(' ')
	}
	b.WriteString(r.dec.Decorate(fmt.Sprintf(" %-9s", strings.ToUpper(string(rec.Type))), pal.fg, pal.bg))
	b.WriteByte(' ')

	body := r.body(rec)
	var below []string
	if strings.Contains(body, "\n") {
		below = strings.Split(body, "\n")
	} else {
		b.WriteString(body)
	}

	if r.durationSum > 0 {
		b.WriteString(" " + r.dec.Decorate(formatDuration(r.durationSum), pal.fg, ""))
	}
	if r.repeats > 1 {
		b.WriteString(" " + r.dec.Decorate("x"+strconv.Itoa(r.repeats), "", ""))
	}

	if rec.Backtrace != "" {
		cs := callstack.ParseFormatted(rec.Backtrace)
		if f, ok := cs.Last(); ok && f.Location() != "" {
			b.WriteString(" " + r.dec.Decorate(f.Location(), dimColor, ""))
		}
		if r.backtraces {
			for _, line := range strings.Split(rec.Backtrace, "\n") {
				below = append(below, r.dec.Decorate(line, dimColor, ""))
			}
		}
	}

	for _, line := range below {
		b.WriteString("\n    ")
		b.WriteString(line)
	}
	return b.String()
}

// body renders the payload. JSON dumps are pretty printed; Raw fragments
// are quoted since they may contain arbitrary bytes.
func (r *Renderer) body(rec event.Record) string {
	switch rec.Type {
	case event.Raw:
		return strconv.QuoteToGraphic(rec.Payload)
	case event.Intro:
		return fmt.Sprintf("pid %d started: %s", rec.PID, rec.Payload)
	case event.Outro:
		return fmt.Sprintf("pid %d finished: %s", rec.PID, rec.Payload)
	case event.Dump:
		if isJSON(rec.Payload) {
			out := pretty.Pretty([]byte(rec.Payload))
			return strings.TrimRight(string(out), "\n")
		}
	}
	return rec.Payload
}

func isJSON(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return false
	}
	return gjson.Valid(s)
}
