package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

const barWidth = 30

// Terminal renders progress for people. On a TTY it redraws one line with
// \r; elsewhere it prints a line at every 10% step so CI logs stay short.
type Terminal struct {
	w     io.Writer
	isTTY bool
	label string

	mu       sync.Mutex
	last     int
	lastLen  int
	disabled bool
}

// NewTerminal writes to w, or stderr when w is nil. CI=anything forces the
// line mode.
func NewTerminal(w io.Writer, label string) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, label: label, last: -1}
	if f, ok := w.(*os.File); ok && os.Getenv("CI") == "" {
		t.isTTY = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return t
}

// Sink adapts the terminal to a progress Sink.
func (t *Terminal) Sink() Sink { return t.Report }

func (t *Terminal) Report(p int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disabled || p == t.last {
		return
	}
	if p < t.last {
		// new run
		t.last = -1
	}
	if t.isTTY {
		t.inline(t.bar(p))
		if p == 100 {
			t.write("\n")
			t.lastLen = 0
		}
	} else if p == 100 || p/10 > t.last/10 || t.last < 0 {
		t.write(fmt.Sprintf("%s %3d%%\n", t.label, p))
	}
	t.last = p
}

func (t *Terminal) bar(p int) string {
	filled := p * barWidth / 100
	return fmt.Sprintf("%s [%s%s] %3d%%", t.label,
		strings.Repeat("#", filled), strings.Repeat(".", barWidth-filled), p)
}

func (t *Terminal) inline(s string) {
	pad := 0
	if t.lastLen > len(s) {
		pad = t.lastLen - len(s)
	}
	t.write("\r" + s + strings.Repeat(" ", pad))
	t.lastLen = len(s)
}

// write disables the terminal after the first failed write.
func (t *Terminal) write(s string) {
	if _, err := io.WriteString(t.w, s); err != nil {
		t.disabled = true
	}
}
