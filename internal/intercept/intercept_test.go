package intercept

import (
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/debugtail/internal/event"
)

type sent struct {
	typ       event.Type
	payload   string
	backtrace string
	d         time.Duration
}

type recorder struct{ got []sent }

func (r *recorder) Send(t event.Type, payload, backtrace string, d time.Duration) {
	r.got = append(r.got, sent{t, payload, backtrace, d})
}

func TestDirectRunsWithoutRecord(t *testing.T) {
	rec := &recorder{}
	ran := false
	out, err := Invoke(rec, Direct, Call[int]{Name: "f", Fn: func() (int, error) {
		ran = true
		return 7, nil
	}}, -1)

	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 7, out)
	assert.Empty(t, rec.got)
}

func TestLoggedRunsAndReports(t *testing.T) {
	rec := &recorder{}
	out, err := Invoke(rec, Logged, Call[string]{
		Name: "lookup",
		Args: []any{"alice", 3},
		Fn: func() (string, error) {
			time.Sleep(time.Millisecond)
			return "found", nil
		},
	}, "")

	require.NoError(t, err)
	assert.Equal(t, "found", out)
	require.Len(t, rec.got, 1)
	assert.Equal(t, event.Intercept, rec.got[0].typ)
	assert.Equal(t, `lookup("alice", 3) = "found"`, rec.got[0].payload)
	assert.GreaterOrEqual(t, rec.got[0].d, time.Millisecond)
	assert.True(t, strings.HasPrefix(rec.got[0].backtrace, "#0 "), rec.got[0].backtrace)
	assert.Contains(t, strings.SplitN(rec.got[0].backtrace, "\n", 2)[0], "TestLoggedRunsAndReports")
}

func TestLoggedKeepsError(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	_, err := Invoke(rec, Logged, Call[int]{Name: "f", Fn: func() (int, error) { return 0, boom }}, 0)

	assert.ErrorIs(t, err, boom)
	require.Len(t, rec.got, 1)
	assert.Equal(t, "f() = error: boom", rec.got[0].payload)
}

func TestPreventedReturnsFallback(t *testing.T) {
	rec := &recorder{}
	out, err := Invoke(rec, Prevented, Call[int]{Name: "charge", Args: []any{100}, Fn: func() (int, error) {
		t.Fatal("prevented call ran")
		return 0, nil
	}}, 42)

	require.NoError(t, err)
	assert.Equal(t, 42, out)
	require.Len(t, rec.got, 1)
	assert.Equal(t, "charge(100) prevented, returned 42", rec.got[0].payload)
	assert.Zero(t, rec.got[0].d)
}

func TestNilEmitter(t *testing.T) {
	out, err := Invoke[int](nil, Logged, Call[int]{Name: "f", Fn: func() (int, error) { return 1, nil }}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, out)
}

func TestWrapFollowsRules(t *testing.T) {
	rec := &recorder{}
	rules := NewRules(map[string]Mode{"atoi": Logged})
	atoi := Wrap(rec, rules, "atoi", strconv.Atoi, -1)

	n, err := atoi("12")
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	require.Len(t, rec.got, 1)
	assert.Equal(t, `atoi("12") = 12`, rec.got[0].payload)
	assert.Contains(t, strings.SplitN(rec.got[0].backtrace, "\n", 2)[0], "TestWrapFollowsRules")

	rules.Set("atoi", Prevented)
	n, err = atoi("12")
	require.NoError(t, err)
	assert.Equal(t, -1, n)

	rules.Set("atoi", Direct)
	_, _ = atoi("12")
	assert.Len(t, rec.got, 2)
}

func TestWrapWithoutRulesIsDirect(t *testing.T) {
	rec := &recorder{}
	f := Wrap(rec, nil, "f", func(s string) (int, error) { return len(s), nil }, 0)
	n, err := f("abc")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Empty(t, rec.got)
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": Direct, "direct": Direct, "Logged": Logged, "prevent": Prevented} {
		m, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, m, in)
	}
	_, err := ParseMode("maybe")
	assert.Error(t, err)
	assert.Equal(t, "prevented", Prevented.String())
}

func TestBriefTruncates(t *testing.T) {
	s := brief(strings.Repeat("a", 200))
	assert.Len(t, s, maxBrief)
	assert.True(t, strings.HasSuffix(s, "..."))
	assert.Equal(t, "nil", brief(nil))
	assert.Equal(t, "x y", brief(errors.New("x\ny")))
}
