package render

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// Screen is where rendered entries go. An entry may span several lines.
type Screen interface {
	// Print shows a new entry below the previous ones.
	Print(entry string)
	// EraseLast removes the most recent entry, if the screen can.
	EraseLast()
}

// TerminalScreen writes entries to a terminal. When the output is a TTY,
// EraseLast moves the cursor up over the rows the last entry occupied and
// clears them; otherwise entries are only appended.
type TerminalScreen struct {
	mu       sync.Mutex
	w        io.Writer
	fd       int
	tty      bool
	lastRows int
}

// NewTerminalScreen returns a screen on w. Erasing is enabled only when w
// is an *os.File attached to a terminal.
func NewTerminalScreen(w io.Writer) *TerminalScreen {
	s := &TerminalScreen{w: w, fd: -1}
	if f, ok := w.(*os.File); ok {
		s.fd = int(f.Fd())
		s.tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return s
}

// Interactive reports whether the screen can erase.
func (s *TerminalScreen) Interactive() bool { return s.tty }

func (s *TerminalScreen) Print(entry string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = io.WriteString(s.w, entry+"\n")
	s.lastRows = s.rows(entry)
}

func (s *TerminalScreen) EraseLast() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tty || s.lastRows == 0 {
		return
	}
	// Cursor up one row and clear it, once per row.
	_, _ = io.WriteString(s.w, strings.Repeat("\x1b[1A\x1b[2K", s.lastRows)+"\r")
	s.lastRows = 0
}

// rows counts the terminal rows entry occupies, including soft wraps.
func (s *TerminalScreen) rows(entry string) int {
	width := 0
	if s.tty {
		if w, _, err := term.GetSize(s.fd); err == nil && w > 0 {
			width = w
		}
	}
	n := 0
	for _, line := range strings.Split(entry, "\n") {
		w := lipgloss.Width(line)
		if width == 0 || w <= width {
			n++
			continue
		}
		n += (w + width - 1) / width
	}
	return n
}

// MemoryScreen keeps entries in memory.
type MemoryScreen struct {
	mu      sync.Mutex
	entries []string
}

func (m *MemoryScreen) Print(entry string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
}

func (m *MemoryScreen) EraseLast() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) > 0 {
		m.entries = m.entries[:len(m.entries)-1]
	}
}

// Entries returns a copy of what is on screen.
func (m *MemoryScreen) Entries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	copy(out, m.entries)
	return out
}
