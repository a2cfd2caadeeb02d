package render

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/pprof/profile"

	"github.com/ppiankov/debugtail/internal/callstack"
	"github.com/ppiankov/debugtail/internal/event"
)

// ProfileBuilder aggregates the backtraces of received records into a
// pprof profile with two sample values per stack: the number of events
// and their summed duration.
type ProfileBuilder struct {
	samples   map[string]*profile.Sample
	order     []string
	functions map[string]*profile.Function
	locations map[string]*profile.Location
	prof      *profile.Profile
	first     time.Time
	last      time.Time
}

// NewProfileBuilder returns an empty builder.
func NewProfileBuilder() *ProfileBuilder {
	return &ProfileBuilder{
		samples:   make(map[string]*profile.Sample),
		functions: make(map[string]*profile.Function),
		locations: make(map[string]*profile.Location),
		prof: &profile.Profile{
			SampleType: []*profile.ValueType{
				{Type: "events", Unit: "count"},
				{Type: "duration", Unit: "nanoseconds"},
			},
			DefaultSampleType: "events",
			PeriodType:        &profile.ValueType{Type: "events", Unit: "count"},
			Period:            1,
		},
	}
}

// Add records rec's backtrace. Records without one are ignored.
func (p *ProfileBuilder) Add(rec event.Record) {
	if rec.Backtrace == "" {
		return
	}
	cs := callstack.ParseFormatted(rec.Backtrace)
	if cs.Len() == 0 {
		return
	}

	key := string(rec.Type) + "\x00" + rec.Backtrace
	s, ok := p.samples[key]
	if !ok {
		s = &profile.Sample{
			Value: []int64{0, 0},
			Label: map[string][]string{"type": {string(rec.Type)}},
		}
		for _, f := range cs.Frames() {
			s.Location = append(s.Location, p.location(f))
		}
		p.samples[key] = s
		p.order = append(p.order, key)
		p.prof.Sample = append(p.prof.Sample, s)
	}
	s.Value[0]++
	s.Value[1] += int64(rec.Duration)

	if !rec.Time.IsZero() {
		if p.first.IsZero() || rec.Time.Before(p.first) {
			p.first = rec.Time
		}
		if rec.Time.After(p.last) {
			p.last = rec.Time
		}
	}
}

func (p *ProfileBuilder) location(f callstack.Frame) *profile.Location {
	name := f.Export()

	fnKey := name + "\x00" + f.File
	fn, ok := p.functions[fnKey]
	if !ok {
		fn = &profile.Function{
			ID:         uint64(len(p.prof.Function) + 1),
			Name:       name,
			SystemName: name,
			Filename:   f.File,
		}
		p.functions[fnKey] = fn
		p.prof.Function = append(p.prof.Function, fn)
	}

	locKey := fmt.Sprintf("%s:%d", fnKey, f.Line)
	loc, ok := p.locations[locKey]
	if !ok {
		loc = &profile.Location{
			ID:   uint64(len(p.prof.Location) + 1),
			Line: []profile.Line{{Function: fn, Line: int64(f.Line)}},
		}
		p.locations[locKey] = loc
		p.prof.Location = append(p.prof.Location, loc)
	}
	return loc
}

// Len returns the number of distinct stacks seen.
func (p *ProfileBuilder) Len() int { return len(p.order) }

// Profile returns the accumulated profile.
func (p *ProfileBuilder) Profile() *profile.Profile {
	if !p.first.IsZero() {
		p.prof.TimeNanos = p.first.UnixNano()
		p.prof.DurationNanos = p.last.Sub(p.first).Nanoseconds()
	}
	return p.prof
}

// Export writes the profile in gzipped protobuf form.
func (p *ProfileBuilder) Export(w io.Writer) error {
	prof := p.Profile()
	if err := prof.CheckValid(); err != nil {
		return fmt.Errorf("render: invalid profile: %w", err)
	}
	if err := prof.Write(w); err != nil {
		return fmt.Errorf("render: write profile: %w", err)
	}
	return nil
}

// topStacks lists the n most frequent stacks, for the summary.
func (p *ProfileBuilder) topStacks(n int) []string {
	keys := make([]string, len(p.order))
	copy(keys, p.order)
	sort.SliceStable(keys, func(i, j int) bool {
		return p.samples[keys[i]].Value[0] > p.samples[keys[j]].Value[0]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		s := p.samples[k]
		top := s.Location[0].Line[0]
		out = append(out, fmt.Sprintf("%6d  %-9s %s (%s:%d)",
			s.Value[0], strings.Join(s.Label["type"], ","), top.Function.Name, top.Function.Filename, top.Line))
	}
	return out
}
