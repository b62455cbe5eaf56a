// Package render draws fleet statistics and enrollment progress for a
// terminal using lipgloss.
package render

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/term"

	"github.com/jpalmerr/walletfleet"
)

// clearScreen erases the display and homes the cursor.
const clearScreen = "\033[2J\033[H"

var headers = []string{"Wallet", "Requests", "Success", "Failed", "Total Time", "Last Status"}

// statusCol is the index of the "Last Status" column.
const statusCol = 5

// Terminal renders the stats table to a writer.
//
// When the writer is a terminal the screen is cleared before each frame and
// statuses are coloured; otherwise frames are appended as plain text.
// Terminal implements walletfleet.Reporter.
type Terminal struct {
	mu    sync.Mutex
	out   io.Writer
	tty   bool
	title string

	header lipgloss.Style
	muted  lipgloss.Style
	cell   lipgloss.Style
	status map[walletfleet.Status]lipgloss.Style
}

// NewTerminal creates a [Terminal] writing to out. An empty title defaults
// to "Node Runner".
func NewTerminal(out io.Writer, title string) *Terminal {
	if title == "" {
		title = "Node Runner"
	}

	r := lipgloss.NewRenderer(out)
	green := lipgloss.Color("#3fb950")
	red := lipgloss.Color("#f85149")
	yellow := lipgloss.Color("#d29922")
	cyan := lipgloss.Color("#39c5cf")
	blue := lipgloss.Color("#58a6ff")

	return &Terminal{
		out:    out,
		tty:    isTerminal(out),
		title:  title,
		header: r.NewStyle().Bold(true).Foreground(blue),
		muted:  r.NewStyle().Foreground(blue),
		cell:   r.NewStyle().Padding(0, 1),
		status: map[walletfleet.Status]lipgloss.Style{
			walletfleet.StatusReady:         r.NewStyle().Foreground(blue),
			walletfleet.StatusSending:       r.NewStyle().Foreground(yellow),
			walletfleet.StatusSuccess:       r.NewStyle().Foreground(green),
			walletfleet.StatusParseError:    r.NewStyle().Foreground(yellow),
			walletfleet.StatusTokenExpired:  r.NewStyle().Foreground(yellow),
			walletfleet.StatusRefreshing:    r.NewStyle().Foreground(cyan),
			walletfleet.StatusRefreshed:     r.NewStyle().Foreground(green),
			walletfleet.StatusRefreshFailed: r.NewStyle().Foreground(red),
			walletfleet.StatusFailed:        r.NewStyle().Foreground(red),
		},
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Render draws one frame.
func (t *Terminal) Render(now time.Time, stats []walletfleet.WalletStat) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tty {
		_, _ = io.WriteString(t.out, clearScreen)
	}

	_, _ = fmt.Fprintln(t.out, t.header.Render(fmt.Sprintf("%s - %d wallets", t.title, len(stats))))
	_, _ = fmt.Fprintln(t.out, t.muted.Render("Last update: "+now.Format("15:04:05")))
	_, _ = fmt.Fprintln(t.out, t.Table(stats))
}

// Empty prints message once; there is no table to draw.
func (t *Terminal) Empty(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = fmt.Fprintln(t.out, t.status[walletfleet.StatusParseError].Render(message))
}

// Table returns the stats table without the title lines.
func (t *Terminal) Table(stats []walletfleet.WalletStat) string {
	rows := make([][]string, len(stats))
	for i, s := range stats {
		rows[i] = Row(s)
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return t.header.Padding(0, 1)
			}
			if col == statusCol && row >= 0 && row < len(stats) {
				if st, ok := t.status[stats[row].Status]; ok {
					return st.Padding(0, 1)
				}
			}
			return t.cell
		})

	return tbl.String()
}

// Row formats one stat as table cells.
func Row(s walletfleet.WalletStat) []string {
	return []string{
		ShortID(s.PublicID),
		strconv.FormatUint(s.RequestsSent, 10),
		strconv.FormatUint(s.Successes, 10),
		strconv.FormatUint(s.Failures, 10),
		strconv.FormatFloat(s.ServerTime, 'f', 2, 64),
		s.StatusText(),
	}
}

// ShortID abbreviates a public identifier to its first 8 and last 6
// characters.
func ShortID(id string) string {
	if len(id) <= 14 {
		return id
	}
	return id[:8] + "..." + id[len(id)-6:]
}
