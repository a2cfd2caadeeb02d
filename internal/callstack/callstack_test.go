package callstack

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mainFooBar is the raw trace of main -> foo -> bar, captured inside bar.
func mainFooBar() []RawEntry {
	return []RawEntry{
		{File: "/app/lib.php", Line: 30, Function: "capture"}, // inside bar
		{File: "/app/lib.php", Line: 12, Function: "bar"},     // inside foo
		{File: "/app/index.php", Line: 5, Function: "foo"},    // top level
	}
}

func TestBuildPairsFunctionWithItsOwnLocation(t *testing.T) {
	cs := Build(mainFooBar())
	require.Equal(t, 3, cs.Len())

	f0 := cs.At(0)
	assert.Equal(t, "bar", f0.Function)
	assert.Equal(t, "/app/lib.php", f0.File)
	assert.Equal(t, 30, f0.Line)

	f1 := cs.At(1)
	assert.Equal(t, "foo", f1.Function)
	assert.Equal(t, 12, f1.Line)

	f2 := cs.At(2)
	assert.Empty(t, f2.Function)
	assert.Equal(t, "/app/index.php", f2.File)
	assert.Equal(t, 5, f2.Line)

	for i, f := range cs.Frames() {
		assert.Equal(t, i, f.Ordinal)
	}
}

func TestBuildCarriesTypeKindAndArgs(t *testing.T) {
	cs := Build([]RawEntry{
		{File: "/a.php", Line: 3, Function: "dump"},
		{File: "/b.php", Line: 9, Function: "save", Class: "Repo", CallKind: CallInstance, Callee: "Repo#12", Args: []any{42}},
		{File: "/c.php", Line: 1, Function: "boot", Class: "Kernel", CallKind: CallStatic},
	})
	require.Equal(t, 3, cs.Len())

	f0 := cs.At(0)
	assert.Equal(t, "Repo", f0.EnclosingType)
	assert.Equal(t, CallInstance, f0.CallKind)
	assert.Equal(t, "Repo#12", f0.CalleeRef)
	assert.Equal(t, []any{42}, f0.Args)
	assert.Equal(t, "Repo->save()", f0.Display())
	assert.Equal(t, "Repo::save", f0.Export())

	f1 := cs.At(1)
	assert.Equal(t, "Kernel::boot()", f1.Display())
	assert.Equal(t, "{main}()", cs.At(2).Display())
}

func TestBuildDropsInternalCallbacks(t *testing.T) {
	cs := Build([]RawEntry{
		{File: "/a.php", Line: 3, Function: "x"},
		{Function: "cb"},
		{},
		{File: "/a.php", Line: 20, Function: "main"},
	})
	// The frame located at the bare entry has no function either.
	require.Equal(t, 3, cs.Len())
	assert.Equal(t, "cb", cs.At(0).Function)
	assert.Equal(t, "main", cs.At(1).Function)
	assert.Empty(t, cs.At(1).File)
	assert.Empty(t, cs.At(2).Function)
	assert.Equal(t, "/a.php:20", cs.At(2).Location())
}

func TestBuildResolvesMissingLocationThroughLocator(t *testing.T) {
	loc := MapLocator{"Repo::save": {File: "/src/Repo.php", Line: 77}}
	cs := Build([]RawEntry{
		{},
		{File: "/src/App.php", Line: 9, Function: "save", Class: "Repo", CallKind: CallInstance},
	}, WithLocator(loc))

	require.Equal(t, 2, cs.Len())
	assert.Equal(t, "/src/Repo.php", cs.At(0).File)
	assert.Equal(t, 77, cs.At(0).Line)
}

func TestBuildCollapsesClosures(t *testing.T) {
	cs := Build([]RawEntry{
		{File: "/a.php", Line: 14, Function: "x"},
		{File: "/a.php", Line: 20, Function: "{closure}"},
		{File: "/a.php", Line: 30, Function: "{closure:/a.php:25}"},
		{File: "/a.go", Line: 40, Function: "main.run.func1"},
	})
	require.Equal(t, 4, cs.Len())
	assert.Equal(t, "{closure:14}", cs.At(0).Function)
	assert.Equal(t, "{closure:25}", cs.At(1).Function)
	assert.Equal(t, "{closure:30}", cs.At(2).Function)
}

func TestBuildNamesGoClosureByDefinitionLine(t *testing.T) {
	loc := MapLocator{"main.run.func1": {File: "/a.go", Line: 12}}
	entries := func(line int) []RawEntry {
		return []RawEntry{
			{File: "/a.go", Line: line},
			{File: "/a.go", Line: 30, Function: "main.run.func1"},
		}
	}
	a := Build(entries(14), WithLocator(loc))
	b := Build(entries(19), WithLocator(loc))
	assert.Equal(t, "{closure:12}", a.At(0).Function)
	assert.Equal(t, a.At(0).Function, b.At(0).Function)
	assert.Equal(t, 14, a.At(0).Line)
}

func TestLastAndPrevious(t *testing.T) {
	cs := Build(mainFooBar())

	last, ok := cs.Last()
	require.True(t, ok)
	assert.Equal(t, "bar", last.Function)

	prev, ok := cs.Previous()
	require.True(t, ok)
	assert.Equal(t, "foo", prev.Function)

	var empty Callstack
	_, ok = empty.Last()
	assert.False(t, ok)
	_, ok = empty.Previous()
	assert.False(t, ok)
}

func TestFilterWithoutPatternsReturnsStack(t *testing.T) {
	cs := Build(mainFooBar())
	assert.Equal(t, cs.Frames(), cs.Filter().Frames())
}

func TestFilterExcludesMatchingFrames(t *testing.T) {
	cs := Build(mainFooBar())
	got := cs.Filter(regexp.MustCompile(`^bar$`))
	require.Equal(t, 2, got.Len())
	assert.Equal(t, "foo", got.At(0).Function)
}

func TestFilterFailsOpen(t *testing.T) {
	cs := Build(mainFooBar())
	got := cs.Filter(regexp.MustCompile(`.*`))
	assert.Equal(t, cs.Frames(), got.Frames())
}

func TestFilterMatchesTypeQualifiedName(t *testing.T) {
	cs := Build([]RawEntry{
		{File: "/a.php", Line: 1, Function: "capture"},
		{File: "/a.php", Line: 2, Function: "log", Class: "Debug\\Logger", CallKind: CallInstance},
		{File: "/a.php", Line: 3, Function: "run", Class: "App", CallKind: CallInstance},
	})
	patterns, err := CompilePatterns([]string{`^Debug\\`})
	require.NoError(t, err)

	got := cs.Filter(patterns...)
	require.Equal(t, 2, got.Len())
	assert.Equal(t, "App::run", got.At(0).Export())
}

func TestFilterStrings(t *testing.T) {
	cs := Build(mainFooBar())
	got, err := cs.FilterStrings(`^foo$`)
	require.NoError(t, err)
	require.Equal(t, 2, got.Len())
	assert.Equal(t, "bar", got.At(0).Function)

	_, err = cs.FilterStrings("[")
	assert.Error(t, err)
}

func TestCompilePatternsRejectsBadRegex(t *testing.T) {
	_, err := CompilePatterns([]string{"("})
	assert.Error(t, err)
}

func TestFormatAndParseFormatted(t *testing.T) {
	cs := Build([]RawEntry{
		{File: "/a.php", Line: 3, Function: "capture"},
		{File: "/b.php", Line: 9, Function: "save", Class: "Repo", CallKind: CallInstance},
		{File: "/c.php", Line: 1, Function: "boot", Class: "Kernel", CallKind: CallStatic},
	})
	text := cs.Format()
	assert.Equal(t, "#0 Repo->save() /a.php:3\n#1 Kernel::boot() /b.php:9\n#2 {main}() /c.php:1", text)

	back := ParseFormatted(text)
	require.Equal(t, 3, back.Len())
	for i := 0; i < 3; i++ {
		assert.Equal(t, cs.At(i).Export(), back.At(i).Export())
		assert.Equal(t, cs.At(i).Location(), back.At(i).Location())
		assert.Equal(t, cs.At(i).CallKind, back.At(i).CallKind)
	}
}

const oomReport = `PHP Fatal error:  Allowed memory size of 134217728 bytes exhausted in /srv/app/src/Repo.php on line 88
PHP Stack trace:
PHP   1. {main}() /srv/app/index.php:0
PHP   2. App->run() /srv/app/index.php:12
PHP   3. Repo::load($id = 5) /srv/app/src/App.php:40
`

func TestParseReport(t *testing.T) {
	cs, err := ParseReport(oomReport)
	require.NoError(t, err)
	require.Equal(t, 3, cs.Len())

	f0 := cs.At(0)
	assert.Equal(t, "load", f0.Function)
	assert.Equal(t, "Repo", f0.EnclosingType)
	assert.Equal(t, CallStatic, f0.CallKind)
	assert.Equal(t, "/srv/app/src/Repo.php", f0.File)
	assert.Equal(t, 88, f0.Line)
	assert.Equal(t, []any{"$id = 5"}, f0.Args)

	f1 := cs.At(1)
	assert.Equal(t, "App->run()", f1.Display())
	assert.Equal(t, "/srv/app/src/App.php:40", f1.Location())

	f2 := cs.At(2)
	assert.Empty(t, f2.Function)
	assert.Equal(t, "/srv/app/index.php:12", f2.Location())
}

func TestParseReportUsesLocatorWithoutOrigin(t *testing.T) {
	report := strings.SplitN(oomReport, "\n", 2)[1]
	cs, err := ParseReport(report, WithLocator(MapLocator{
		"Repo::load": {File: "/srv/app/src/Repo.php", Line: 70},
	}))
	require.NoError(t, err)
	assert.Equal(t, "/srv/app/src/Repo.php:70", cs.At(0).Location())
}

func TestParseReportDropPolicyOverride(t *testing.T) {
	cs, err := ParseReport(oomReport, WithDropPolicy(KeepAll))
	require.NoError(t, err)
	require.Equal(t, 4, cs.Len())
	assert.Equal(t, "/srv/app/index.php:0", cs.At(3).Location())
}

func TestParseReportTimeAndMemoryColumns(t *testing.T) {
	report := `    0.0002     393464   1. {main}() /srv/index.php:0
    0.0150    1048576   2. Worker->handle() /srv/index.php:7
`
	cs, err := ParseReport(report)
	require.NoError(t, err)
	require.Equal(t, 2, cs.Len())

	f0 := cs.At(0)
	assert.Equal(t, "handle", f0.Function)
	assert.Equal(t, int64(1048576), f0.Memory)
	assert.Equal(t, 15*time.Millisecond, f0.Time)
	assert.Empty(t, f0.File)
}

func TestParseReportWithoutFrames(t *testing.T) {
	_, err := ParseReport("PHP Warning: nothing to see\n")
	assert.ErrorIs(t, err, ErrNoFrames)
}
