package render

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/jpalmerr/walletfleet"
)

// Progress prints one line per enrollment stage change.
type Progress struct {
	mu  sync.Mutex
	out io.Writer

	ok   lipgloss.Style
	bad  lipgloss.Style
	info lipgloss.Style
}

// NewProgress creates a [Progress] writing to out.
func NewProgress(out io.Writer) *Progress {
	r := lipgloss.NewRenderer(out)
	return &Progress{
		out:  out,
		ok:   r.NewStyle().Foreground(lipgloss.Color("#3fb950")),
		bad:  r.NewStyle().Foreground(lipgloss.Color("#f85149")),
		info: r.NewStyle().Foreground(lipgloss.Color("#d29922")),
	}
}

// Report handles one progress event. It has the signature expected by
// walletfleet.WithProgress.
func (p *Progress) Report(ev walletfleet.EnrollProgress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prefix := fmt.Sprintf("[%d/%d]", ev.Index+1, ev.Total)
	wallet := ShortID(ev.PublicID)
	if wallet == "" {
		wallet = "-"
	}

	var line string
	switch ev.Stage {
	case walletfleet.EnrollSucceeded:
		line = p.ok.Render("Success")
	case walletfleet.EnrollFailed:
		line = p.bad.Render(fmt.Sprintf("Failed: %v", ev.Err))
	case walletfleet.EnrollGenerating:
		line = p.info.Render("Generating...")
	case walletfleet.EnrollSigning:
		line = p.info.Render("Signing...")
	case walletfleet.EnrollRegistering:
		line = p.info.Render("Registering...")
	default:
		line = string(ev.Stage)
	}

	_, _ = fmt.Fprintf(p.out, "%s %-20s %s\n", prefix, wallet, line)
}
