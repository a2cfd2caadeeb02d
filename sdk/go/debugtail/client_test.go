package debugtail

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/debugtail/internal/event"
	"github.com/ppiankov/debugtail/internal/wire"
)

func newTestClient(t *testing.T, opts ...Option) (*Client, string) {
	t.Helper()
	t.Setenv("DEBUGTAIL_DISABLE", "0")
	dir := t.TempDir()
	path := filepath.Join(dir, "events.log")
	opts = append([]Option{WithConfig(filepath.Join(dir, "none.yaml")), WithFile(path)}, opts...)
	c, err := New(opts...)
	require.NoError(t, err)
	return c, path
}

func readRecords(t *testing.T, path string) []event.Record {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var sp wire.Splitter
	var out []event.Record
	for _, frag := range sp.Feed(data) {
		r, err := wire.Decode(frag)
		require.NoError(t, err)
		out = append(out, r)
	}
	return out
}

func firstLine(s string) string {
	return strings.SplitN(s, "\n", 2)[0]
}

func TestClientHelpersPointAtCaller(t *testing.T) {
	c, path := newTestClient(t, WithBacktraces(true))

	c.Dump([]int{1, 2})
	c.Label("step %d", 2)
	c.Error(errors.New("bad"))
	c.Callstack()
	c.Close()

	recs := readRecords(t, path)
	require.Len(t, recs, 6)
	assert.Equal(t, event.Intro, recs[0].Type)
	assert.Equal(t, "[1,2]", recs[1].Payload)
	assert.Equal(t, "step 2", recs[2].Payload)
	assert.Equal(t, "bad", recs[3].Payload)
	for _, r := range recs[1:5] {
		assert.Contains(t, firstLine(r.Backtrace), "TestClientHelpersPointAtCaller", r.Type)
	}
	assert.Contains(t, recs[4].Payload, "TestClientHelpersPointAtCaller")
	assert.Equal(t, event.Outro, recs[5].Type)
}

func TestClientWithoutBacktraces(t *testing.T) {
	c, path := newTestClient(t, WithBacktraces(false))
	c.Label("plain")
	c.Close()

	recs := readRecords(t, path)
	require.Len(t, recs, 3)
	assert.Empty(t, recs[1].Backtrace)
}

func TestClientDisabled(t *testing.T) {
	c, path := newTestClient(t, WithDisabled())
	c.Label("nothing")
	c.Close()

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestClientRejectsBadExclude(t *testing.T) {
	_, err := New(WithConfig(filepath.Join(t.TempDir(), "none.yaml")), WithExclude("("))
	assert.Error(t, err)
}

func TestWrapModes(t *testing.T) {
	c, path := newTestClient(t, WithMode("double", Logged))
	double := Wrap(c, "double", func(n int) (int, error) { return n * 2, nil }, -1)

	n, err := double(4)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	c.SetMode("double", Prevented)
	n, err = double(4)
	require.NoError(t, err)
	assert.Equal(t, -1, n)
	c.Close()

	recs := readRecords(t, path)
	require.Len(t, recs, 4)
	assert.Equal(t, event.Intercept, recs[1].Type)
	assert.Equal(t, "double(4) = 8", recs[1].Payload)
	assert.Contains(t, firstLine(recs[1].Backtrace), "TestWrapModes")
	assert.Equal(t, "double(4) prevented, returned -1", recs[2].Payload)
}

func TestClientRecover(t *testing.T) {
	c, path := newTestClient(t)

	assert.PanicsWithValue(t, "boom", func() {
		defer c.Recover()
		panic("boom")
	})

	recs := readRecords(t, path)
	require.Len(t, recs, 3)
	assert.Equal(t, "panic: boom", recs[1].Payload)
	assert.NotContains(t, recs[1].Backtrace, "Recover")
}

func TestClientSend(t *testing.T) {
	c, path := newTestClient(t)
	c.Send(Query, "SELECT 1", 3*time.Millisecond)
	c.Close()

	recs := readRecords(t, path)
	require.Len(t, recs, 3)
	assert.Equal(t, event.Query, recs[1].Type)
	assert.Equal(t, 3*time.Millisecond, recs[1].Duration)
}
