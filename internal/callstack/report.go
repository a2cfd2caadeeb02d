package callstack

import (
	"bufio"
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrNoFrames is returned when a report contains no stack lines.
var ErrNoFrames = errors.New("callstack: no frames found in report")

var (
	// "PHP   3. App->run($x = 1) /srv/app/src/App.php:40"
	// "    0.0021     412336   3. App->run() /srv/app/src/App.php:40"
	reportLine = regexp.MustCompile(
		`^\s*(?:PHP\s+)?(?:(\d+\.\d+)\s+(\d+)\s+)?(\d+)\.\s+(\S.*?)\((.*)\)\s+(\S.*):(\d+)\s*$`)

	// "PHP Fatal error:  Allowed memory size ... in /srv/app/src/App.php on line 88"
	reportOrigin = regexp.MustCompile(`\bin (\S.*) on line (\d+)\s*$`)
)

// ParseReport rebuilds a Callstack from crash or out-of-memory report text.
// Reports list the entry point first; entries are renumbered from zero,
// passed through the drop policy, reversed to innermost-first and built.
// The innermost function's location comes from the report's "in FILE on
// line N" clause when present, otherwise from the FunctionLocator.
func ParseReport(text string, opts ...Option) (Callstack, error) {
	cfg := newConfig(opts)

	var (
		entries []RawEntry
		origin  RawEntry
		minOrd  = -1
	)

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()

		if m := reportLine.FindStringSubmatch(line); m != nil {
			e := parseReportEntry(m)
			if minOrd < 0 || e.Ordinal < minOrd {
				minOrd = e.Ordinal
			}
			entries = append(entries, e)
			continue
		}

		if origin.File == "" {
			if m := reportOrigin.FindStringSubmatch(line); m != nil {
				origin.File = m[1]
				origin.Line, _ = strconv.Atoi(m[2])
			}
		}
	}
	if err := sc.Err(); err != nil {
		return Callstack{}, err
	}
	if len(entries) == 0 {
		return Callstack{}, ErrNoFrames
	}

	kept := make([]RawEntry, 0, len(entries)+1)
	kept = append(kept, origin)
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		e.Ordinal -= minOrd
		if cfg.drop(e) {
			continue
		}
		kept = append(kept, e)
	}

	return build(kept, cfg), nil
}

func parseReportEntry(m []string) RawEntry {
	var e RawEntry

	if m[1] != "" {
		if secs, err := strconv.ParseFloat(m[1], 64); err == nil {
			e.Time = time.Duration(math.Round(secs * float64(time.Second)))
		}
		e.Memory, _ = strconv.ParseInt(m[2], 10, 64)
	}
	e.Ordinal, _ = strconv.Atoi(m[3])
	e.Class, e.Function, e.CallKind = splitQualified(strings.TrimSpace(m[4]))
	if args := strings.TrimSpace(m[5]); args != "" {
		e.Args = []any{args}
	}
	e.File = m[6]
	e.Line, _ = strconv.Atoi(m[7])
	return e
}
