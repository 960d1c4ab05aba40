package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/layola13/autozig/internal/build"
	"github.com/layola13/autozig/internal/diag"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Report writes a build summary. Styling is applied only when styled is set.
func Report(w io.Writer, res *build.Result, styled bool) error {
	style := func(s lipgloss.Style, text string) string {
		if !styled {
			return text
		}
		return s.Render(text)
	}

	var b strings.Builder
	b.WriteString(style(titleStyle, "autozig") + "\n")
	for _, p := range res.Packages {
		fmt.Fprintf(&b, "  %s %s %s\n",
			style(okStyle, "bridge"),
			p.Name,
			style(dimStyle, fmt.Sprintf("%s (%d symbols)", rel(p.BridgeFile), p.Specs)),
		)
	}
	if res.Artifact != "" {
		state := "compiled"
		if !res.Compiled {
			state = "up to date"
		}
		fmt.Fprintf(&b, "  %s %s %s\n", style(okStyle, "library"), rel(res.Artifact), style(dimStyle, state))
	}

	warnings := res.Diagnostics.Count(diag.SeverityWarning) - res.Diagnostics.Count(diag.SeverityError)
	skipped := res.Diagnostics.Count(diag.SeverityError)
	if warnings > 0 || skipped > 0 {
		fmt.Fprintf(&b, "  %s %s\n",
			style(warnStyle, fmt.Sprintf("%d warning(s)", warnings)),
			style(errStyle, fmt.Sprintf("%d skipped", skipped)),
		)
	}
	if len(res.Packages) == 0 && res.Artifact == "" {
		b.WriteString("  " + style(dimStyle, "no embedded zig found") + "\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func rel(path string) string {
	wd, err := os.Getwd()
	if err != nil {
		return path
	}
	if r, err := filepath.Rel(wd, path); err == nil && !strings.HasPrefix(r, "..") {
		return r
	}
	return path
}
