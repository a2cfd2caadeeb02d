package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/debugtail/internal/event"
	"github.com/ppiankov/debugtail/internal/wire"
)

const report = `PHP Fatal error:  Allowed memory size of 134217728 bytes exhausted in /srv/app/src/Repo.php on line 88
PHP Stack trace:
PHP   1. {main}() /srv/app/index.php:0
PHP   2. App->run() /srv/app/index.php:12
PHP   3. Repo::load($id = 5) /srv/app/src/App.php:40
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config=" + filepath.Join(t.TempDir(), "none.yaml")}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestStackCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crash.txt")
	require.NoError(t, os.WriteFile(path, []byte(report), 0o600))

	out, err := run(t, "stack", "--raw", path)
	require.NoError(t, err)
	assert.Equal(t, "#0 Repo::load() /srv/app/src/Repo.php:88\n#1 App->run() /srv/app/src/App.php:40\n#2 {main}() /srv/app/index.php:12\n", out)

	out, err = run(t, "stack", "--raw=false", "--exclude", `^App::run$`, path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "Repo::load()")
	assert.Contains(t, lines[1], "{main}()")
}

func TestStackCommandRejectsEmptyReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(path, []byte("nothing here\n"), 0o600))

	_, err := run(t, "stack", path)
	assert.Error(t, err)
}

func TestSendCommandAppendsSession(t *testing.T) {
	t.Setenv("DEBUGTAIL_DISABLE", "0")
	path := filepath.Join(t.TempDir(), "events.log")

	_, err := run(t, "send", "--file", path, "label", "hello", "world")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var sp wire.Splitter
	frags := sp.Feed(data)
	require.Len(t, frags, 3)

	var types []event.Type
	for _, f := range frags {
		r, err := wire.Decode(f)
		require.NoError(t, err)
		types = append(types, r.Type)
	}
	assert.Equal(t, []event.Type{event.Intro, event.Label, event.Outro}, types)

	r, err := wire.Decode(frags[1])
	require.NoError(t, err)
	assert.Equal(t, "hello world", r.Payload)
}

func TestSendCommandRejectsFramingTypes(t *testing.T) {
	_, err := run(t, "send", "intro", "x")
	assert.Error(t, err)

	_, err = run(t, "send", "bogus", "x")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "debugtail"`)
}

func TestDemoWorkerFlagIsHidden(t *testing.T) {
	f := demoCmd.Flags().Lookup("worker")
	require.NotNil(t, f)
	assert.True(t, f.Hidden)
	assert.NotContains(t, demoCmd.UsageString(), "--worker")
}
