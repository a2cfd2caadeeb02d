package render

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/debugtail/internal/event"
)

const loopBacktrace = "#0 Worker->tick() /srv/worker.php:42\n#1 {main}() /srv/run.php:7"

func rec(t event.Type, payload, backtrace string, d time.Duration, pid int) event.Record {
	return event.Record{Type: t, Payload: payload, Backtrace: backtrace, Duration: d, PID: pid}
}

func TestRepeatedCallSiteCollapsesIntoOneLine(t *testing.T) {
	screen := &MemoryScreen{}
	r := New(screen)

	r.Render(rec(event.Timer, "tick", loopBacktrace, 10*time.Millisecond, 1), 1)
	r.Render(rec(event.Timer, "tick", loopBacktrace, 25*time.Millisecond, 1), 1)

	entries := screen.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, 35*time.Millisecond, r.DurationSum())
	assert.Equal(t, 2, r.Repeats())
	assert.Contains(t, entries[0], "35ms")
	assert.Contains(t, entries[0], "x2")
	assert.Contains(t, entries[0], "/srv/worker.php:42")
}

func TestDifferentRecordsStartNewLines(t *testing.T) {
	screen := &MemoryScreen{}
	r := New(screen)

	r.Render(rec(event.Timer, "a", loopBacktrace, time.Millisecond, 1), 1)
	// Same backtrace, other type.
	r.Render(rec(event.Dump, "b", loopBacktrace, 0, 1), 1)
	// Same type, other backtrace.
	r.Render(rec(event.Dump, "c", "#0 x() /a.go:1", 0, 1), 1)
	// Identical records without a backtrace never collapse.
	r.Render(rec(event.Label, "d", "", 0, 1), 1)
	r.Render(rec(event.Label, "d", "", 0, 1), 1)
	r.Render(rec(event.Timer, "e", loopBacktrace, 3*time.Millisecond, 1), 1)

	assert.Len(t, screen.Entries(), 6)
	assert.Equal(t, 3*time.Millisecond, r.DurationSum())
	assert.Equal(t, 1, r.Repeats())
}

func TestPidPrefixWithSeveralProducers(t *testing.T) {
	screen := &MemoryScreen{}
	r := New(screen)

	r.Render(rec(event.Dump, "one producer", "", 0, 4242), 1)
	r.Render(rec(event.Dump, "two producers", "", 0, 4242), 2)
	r.Render(rec(event.Intro, "prog", "", 0, 4242), 2)
	r.Render(rec(event.Outro, "done", "", 0, 4242), 3)

	entries := screen.Entries()
	require.Len(t, entries, 4)
	assert.False(t, strings.HasPrefix(entries[0], "#"))
	assert.True(t, strings.HasPrefix(entries[1], "#4242 "), entries[1])
	assert.False(t, strings.HasPrefix(entries[2], "#"), entries[2])
	assert.False(t, strings.HasPrefix(entries[3], "#"), entries[3])
	assert.Contains(t, entries[2], "pid 4242 started: prog")
	assert.Contains(t, entries[3], "pid 4242 finished: done")
}

func TestJSONDumpIsPrettyPrinted(t *testing.T) {
	screen := &MemoryScreen{}
	r := New(screen)

	r.Render(rec(event.Dump, `{"a":1,"b":[true]}`, "", 0, 1), 1)
	r.Render(rec(event.Dump, `{not json`, "", 0, 1), 1)

	entries := screen.Entries()
	require.Len(t, entries, 2)
	assert.Contains(t, entries[0], "\n    {")
	assert.Contains(t, entries[0], `"a": 1`)
	assert.NotContains(t, entries[1], "\n")
}

func TestRawFragmentsAreQuoted(t *testing.T) {
	screen := &MemoryScreen{}
	r := New(screen)
	r.Render(rec(event.Raw, "bad\x01frag", "", 0, 0), 1)
	assert.Contains(t, screen.Entries()[0], `"bad\x01frag"`)
}

func TestFullBacktraceOption(t *testing.T) {
	screen := &MemoryScreen{}
	r := New(screen, WithBacktraces(true))
	r.Render(rec(event.Callstack, "Worker->tick()", loopBacktrace, 0, 1), 1)

	lines := strings.Split(screen.Entries()[0], "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "    #1 {main}() /srv/run.php:7", lines[2])
}

func TestStatsAndSummary(t *testing.T) {
	r := New(&MemoryScreen{})

	r.Render(rec(event.Timer, "t", loopBacktrace, time.Second, 1), 2)
	r.Render(rec(event.Timer, "t", loopBacktrace, time.Second, 1), 2)
	r.Render(rec(event.Dump, "payload", "", 0, 2), 2)

	st := r.Stats()
	assert.Equal(t, 3, st.Records)
	assert.Equal(t, 2, st.Counts[event.Timer])
	assert.Equal(t, 2*time.Second, st.Durations[event.Timer])
	assert.Len(t, st.Producers, 2)
	assert.Equal(t, 1, st.Collapsed)

	// The snapshot is detached from the renderer.
	st.Counts[event.Timer] = 99
	assert.Equal(t, 2, r.Stats().Counts[event.Timer])

	sum := r.Summary()
	assert.Contains(t, sum, "Summary: 3 records from 2 producers")
	assert.Contains(t, sum, "timer 2 (2s)")
	assert.Contains(t, sum, "dump 1")
	assert.Contains(t, sum, "1 repeats collapsed")
}

func TestProfileCollectsBacktraces(t *testing.T) {
	pb := NewProfileBuilder()
	r := New(&MemoryScreen{}, WithProfile(pb))

	r.Render(rec(event.Timer, "t", loopBacktrace, time.Millisecond, 1), 1)
	r.Render(rec(event.Timer, "t", loopBacktrace, 2*time.Millisecond, 1), 1)
	r.Render(rec(event.Dump, "d", "#0 render() /srv/view.php:3", 0, 1), 1)
	r.Render(rec(event.Label, "no stack", "", 0, 1), 1)

	require.Equal(t, 2, pb.Len())
	assert.Contains(t, r.Summary(), "Top call sites:")
	assert.Contains(t, r.Summary(), "Worker::tick (/srv/worker.php:42)")

	var buf bytes.Buffer
	require.NoError(t, pb.Export(&buf))

	p, err := profile.Parse(&buf)
	require.NoError(t, err)
	require.Len(t, p.Sample, 2)

	timer := p.Sample[0]
	assert.Equal(t, []int64{2, int64(3 * time.Millisecond)}, timer.Value)
	require.Len(t, timer.Location, 2)
	assert.Equal(t, "Worker::tick", timer.Location[0].Line[0].Function.Name)
	assert.Equal(t, "{main}", timer.Location[1].Line[0].Function.Name)
	assert.Equal(t, []string{"timer"}, timer.Label["type"])
}

func TestTerminalScreenWithoutTTYOnlyAppends(t *testing.T) {
	var buf bytes.Buffer
	s := NewTerminalScreen(&buf)
	assert.False(t, s.Interactive())

	s.Print("one")
	s.EraseLast()
	s.Print("two")
	assert.Equal(t, "one\ntwo\n", buf.String())
}

func TestDecorators(t *testing.T) {
	assert.Equal(t, "x", Plain{}.Decorate("x", "196", "15"))

	var buf bytes.Buffer
	styled := DecoratorFor(ColorAlways, &buf).Decorate("x", "196", "")
	assert.Contains(t, styled, "\x1b[")
	assert.Contains(t, styled, "x")

	assert.Equal(t, "x", DecoratorFor(ColorNever, &buf).Decorate("x", "196", ""))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", formatDuration(0))
	assert.Equal(t, "500ns", formatDuration(500))
	assert.Equal(t, "1.23ms", formatDuration(1234567))
	assert.Equal(t, "2.5s", formatDuration(2500*time.Millisecond))
}
