package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ppiankov/debugtail/internal/event"
)

const separator = "──────────────────────────────────────────────────────────────────"

// Stats aggregates what the listener has received.
type Stats struct {
	Records   int
	Bytes     uint64
	Collapsed int
	Counts    map[event.Type]int
	Durations map[event.Type]time.Duration
	Producers map[int]bool
	First     time.Time
	Last      time.Time
}

func newStats() Stats {
	return Stats{
		Counts:    make(map[event.Type]int),
		Durations: make(map[event.Type]time.Duration),
		Producers: make(map[int]bool),
	}
}

func (s *Stats) add(r event.Record, repeat bool) {
	s.Records++
	s.Bytes += uint64(len(r.Payload) + len(r.Backtrace))
	s.Counts[r.Type]++
	s.Durations[r.Type] += r.Duration
	if r.PID != 0 {
		s.Producers[r.PID] = true
	}
	if repeat {
		s.Collapsed++
	}
	if !r.Time.IsZero() {
		if s.First.IsZero() || r.Time.Before(s.First) {
			s.First = r.Time
		}
		if r.Time.After(s.Last) {
			s.Last = r.Time
		}
	}
}

func (s Stats) clone() Stats {
	out := s
	out.Counts = make(map[event.Type]int, len(s.Counts))
	for k, v := range s.Counts {
		out.Counts[k] = v
	}
	out.Durations = make(map[event.Type]time.Duration, len(s.Durations))
	for k, v := range s.Durations {
		out.Durations[k] = v
	}
	out.Producers = make(map[int]bool, len(s.Producers))
	for k, v := range s.Producers {
		out.Producers[k] = v
	}
	return out
}

// FormatSummary renders stats as a short footer block.
func FormatSummary(s Stats) string {
	var b strings.Builder
	b.WriteString(separator + "\n")

	span := ""
	if !s.First.IsZero() && s.Last.After(s.First) {
		span = " over " + formatDuration(s.Last.Sub(s.First))
	}
	b.WriteString(fmt.Sprintf("Summary: %s records from %d producers, %s%s\n",
		humanize.Comma(int64(s.Records)), len(s.Producers), humanize.IBytes(s.Bytes), span))

	var parts []string
	for _, t := range event.Types() {
		n := s.Counts[t]
		if n == 0 {
			continue
		}
		part := fmt.Sprintf("%s %s", t, humanize.Comma(int64(n)))
		if d := s.Durations[t]; d > 0 && !t.Framing() {
			part += " (" + formatDuration(d) + ")"
		}
		parts = append(parts, part)
	}
	if len(parts) > 0 {
		b.WriteString(strings.Join(parts, ", ") + "\n")
	}
	if s.Collapsed > 0 {
		b.WriteString(fmt.Sprintf("%s repeats collapsed\n", humanize.Comma(int64(s.Collapsed))))
	}
	return b.String()
}

// formatDuration rounds d for display.
func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Microsecond:
		return d.String()
	case d < time.Millisecond:
		return d.Round(time.Microsecond).String()
	case d < time.Second:
		return d.Round(10 * time.Microsecond).String()
	default:
		return d.Round(time.Millisecond).String()
	}
}
