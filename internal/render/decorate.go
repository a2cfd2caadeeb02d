package render

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/ppiankov/debugtail/internal/event"
)

// Decorator applies terminal colors. fg and bg are ANSI 256 color numbers
// ("196") or hex values ("#ff0000"); empty means unchanged.
type Decorator interface {
	Decorate(text, fg, bg string) string
}

// Plain leaves text unchanged.
type Plain struct{}

func (Plain) Decorate(text, _, _ string) string { return text }

// Styled colors text with lipgloss.
type Styled struct {
	r *lipgloss.Renderer
}

// NewStyled returns a decorator for output written to w. When force is set
// colors are emitted even if w is not a terminal.
func NewStyled(w io.Writer, force bool) *Styled {
	r := lipgloss.NewRenderer(w)
	if force {
		r.SetColorProfile(termenv.ANSI256)
	}
	return &Styled{r: r}
}

func (s *Styled) Decorate(text, fg, bg string) string {
	st := s.r.NewStyle()
	if fg != "" {
		st = st.Foreground(lipgloss.Color(fg))
	}
	if bg != "" {
		st = st.Background(lipgloss.Color(bg))
	}
	return st.Render(text)
}

// ColorMode selects a Decorator for the listen command.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

// DecoratorFor returns the decorator for mode writing to w.
func DecoratorFor(mode ColorMode, w io.Writer) Decorator {
	switch mode {
	case ColorNever:
		return Plain{}
	case ColorAlways:
		return NewStyled(w, true)
	default:
		return NewStyled(w, false)
	}
}

type palette struct{ fg, bg string }

var typeColors = map[event.Type]palette{
	event.Intro:     {fg: "15", bg: "22"},
	event.Outro:     {fg: "15", bg: "238"},
	event.Dump:      {fg: "39"},
	event.Label:     {fg: "220"},
	event.Timer:     {fg: "141"},
	event.Memory:    {fg: "81"},
	event.Callstack: {fg: "69"},
	event.Error:     {fg: "15", bg: "160"},
	event.Intercept: {fg: "208"},
	event.Query:     {fg: "78"},
	event.Stream:    {fg: "110"},
	event.Cache:     {fg: "180"},
	event.Raw:       {fg: "244"},
}

const dimColor = "241"
