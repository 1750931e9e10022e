package agewatch

import (
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

// progressBarWidth is the fixed number of cells in the terminal bar.
const progressBarWidth = 50

// Progress is one countdown tick.
type Progress struct {
	// Tick is 1-based; Ticks is the total for the session.
	Tick     int
	Ticks    int
	Elapsed  time.Duration
	Total    time.Duration
	Fraction float64
}

func newProgress(tick, ticks int, elapsed, total time.Duration) Progress {
	frac := 0.0
	if total > 0 {
		frac = float64(elapsed) / float64(total)
	}
	if frac > 1 {
		frac = 1
	}
	return Progress{Tick: tick, Ticks: ticks, Elapsed: elapsed, Total: total, Fraction: frac}
}

// ProgressReporter receives countdown ticks. Implementations must not block.
type ProgressReporter interface {
	Progress(p Progress)
	// Finish is called once when the countdown ends, on every exit path.
	Finish()
}

// NopReporter discards progress.
type NopReporter struct{}

func (NopReporter) Progress(Progress) {}
func (NopReporter) Finish()           {}

// MultiReporter fans progress out to several reporters.
type MultiReporter []ProgressReporter

func (m MultiReporter) Progress(p Progress) {
	for _, r := range m {
		r.Progress(p)
	}
}

func (m MultiReporter) Finish() {
	for _, r := range m {
		r.Finish()
	}
}

var (
	progressLabelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#06B6D4"))
	progressCountStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

// TerminalReporter redraws a single progress line:
//
//	Monitoring: [=========================                         ] 5/10 seconds
type TerminalReporter struct {
	mu    sync.Mutex
	out   io.Writer
	label string
	bar   progress.Model
	dirty bool
}

// NewTerminalReporter writes the progress line to out.
func NewTerminalReporter(out io.Writer, label string) *TerminalReporter {
	if label == "" {
		label = "Monitoring"
	}
	return &TerminalReporter{
		out:   out,
		label: label,
		bar: progress.New(
			progress.WithWidth(progressBarWidth),
			progress.WithoutPercentage(),
			progress.WithFillCharacters('=', ' '),
			progress.WithSolidFill("#22C55E"),
		),
	}
}

func (r *TerminalReporter) Progress(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "\r%s: [%s] %s",
		progressLabelStyle.Render(r.label),
		r.bar.ViewAs(p.Fraction),
		progressCountStyle.Render(formatSeconds(p.Elapsed)+"/"+formatSeconds(p.Total)+" seconds"))
	r.dirty = true
}

func (r *TerminalReporter) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dirty {
		fmt.Fprintln(r.out)
		r.dirty = false
	}
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
