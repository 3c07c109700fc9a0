package progress

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

const barWidth = 50

// FormatLine renders a snapshot as
// "Progress: [####----] 12.34% (12s / 100s) ETA: 3.4s".
func FormatLine(s Snapshot) string {
	filled := int(float64(barWidth) * s.Ratio)
	if filled > barWidth {
		filled = barWidth
	}
	bar := strings.Repeat("#", filled) + strings.Repeat("-", barWidth-filled)
	eta := 0.0
	if s.ETAKnown {
		eta = s.ETA.Seconds()
	}
	return fmt.Sprintf("Progress: [%s] %.2f%% (%ds / %ds) ETA: %.1fs",
		bar, s.Percent(), int64(s.Position.Seconds()), int64(s.Duration.Seconds()), eta)
}

// LineRenderer redraws one line in place on a terminal. On anything else it
// writes a full line per whole-percent step.
type LineRenderer struct {
	mu          sync.Mutex
	w           io.Writer
	tty         bool
	drawn       bool
	lastPercent int
}

func NewLineRenderer(w io.Writer) *LineRenderer {
	return &LineRenderer{w: w, tty: isTerminal(w), lastPercent: -1}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (r *LineRenderer) Render(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tty {
		fmt.Fprint(r.w, "\r"+FormatLine(s))
		r.drawn = true
		return
	}
	pct := int(math.Floor(s.Percent()))
	if pct <= r.lastPercent {
		return
	}
	r.lastPercent = pct
	fmt.Fprintln(r.w, FormatLine(s))
}

func (r *LineRenderer) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tty && r.drawn {
		fmt.Fprintln(r.w)
	}
	r.drawn = false
}
