package agewatch

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/agewatch/agewatch/internal/plot"
)

// Chart is the renderable comparison of observed and predicted values,
// one panel per target resource.
type Chart struct {
	Title  string
	Model  ModelKind
	Panels []ChartPanel
}

// ChartPanel holds one target resource.
type ChartPanel struct {
	Resource   Resource
	Timestamps []int64
	Observed   []float64
	Fitted     []float64

	ForecastTimestamps []int64
	Forecast           []float64
	Lower              []float64
	Upper              []float64

	RMSE float64
	MAE  float64
}

// ChartFromForecast converts a trained forecast into a chart.
func ChartFromForecast(f *Forecast) *Chart {
	c := &Chart{
		Title:  fmt.Sprintf("Resource usage forecast (%s)", f.Model),
		Model:  f.Model,
		Panels: make([]ChartPanel, 0, len(f.Resources)),
	}
	for _, rf := range f.Resources {
		p := ChartPanel{
			Resource:           rf.Resource,
			Timestamps:         rf.Timestamps,
			Observed:           rf.Observed,
			Fitted:             rf.Fitted,
			ForecastTimestamps: make([]int64, len(rf.Predictions)),
			Forecast:           make([]float64, len(rf.Predictions)),
			Lower:              make([]float64, len(rf.Predictions)),
			Upper:              make([]float64, len(rf.Predictions)),
			RMSE:               rf.RMSE,
			MAE:                rf.MAE,
		}
		for i, fp := range rf.Predictions {
			p.ForecastTimestamps[i] = fp.Timestamp
			p.Forecast[i] = fp.Value
			p.Lower[i] = fp.LowerBound
			p.Upper[i] = fp.UpperBound
		}
		c.Panels = append(c.Panels, p)
	}
	return c
}

// ResultRenderer turns a chart into some artifact: an image, a terminal
// summary, a file.
type ResultRenderer interface {
	Render(c *Chart) error
}

// ResultRendererFunc adapts a function to ResultRenderer.
type ResultRendererFunc func(c *Chart) error

func (f ResultRendererFunc) Render(c *Chart) error { return f(c) }

// MultiRenderer renders with every renderer and joins their errors.
type MultiRenderer []ResultRenderer

func (m MultiRenderer) Render(c *Chart) error {
	var errs []error
	for _, r := range m {
		if err := r.Render(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Default image sizes. Charts are drawn at the view size and scaled to the
// export size when saved.
const (
	DefaultViewWidth    = 960
	DefaultViewHeight   = 720
	DefaultExportWidth  = 1920
	DefaultExportHeight = 1440
)

var errNothingRendered = errors.New("no chart rendered")

// ImageRenderer draws charts in memory. The last rendered image stays
// available through Image for interactive inspection.
type ImageRenderer struct {
	width, height int

	mu  sync.RWMutex
	img *image.NRGBA
}

// NewImageRenderer draws at width x height; non-positive sizes use the
// defaults.
func NewImageRenderer(width, height int) *ImageRenderer {
	if width <= 0 {
		width = DefaultViewWidth
	}
	if height <= 0 {
		height = DefaultViewHeight
	}
	return &ImageRenderer{width: width, height: height}
}

func (r *ImageRenderer) Render(c *Chart) error {
	img, err := chartFigure(c).Render(r.width, r.height)
	if err != nil {
		return fmt.Errorf("draw chart: %w", err)
	}
	r.mu.Lock()
	r.img = img
	r.mu.Unlock()
	return nil
}

// Image returns the last rendered chart, or nil.
func (r *ImageRenderer) Image() image.Image {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.img == nil {
		return nil
	}
	return r.img
}

// Export writes the last rendered chart to path at exactly width x height.
// The format follows the extension of path.
func (r *ImageRenderer) Export(path string, width, height int) error {
	r.mu.RLock()
	img := r.img
	r.mu.RUnlock()
	if img == nil {
		return errNothingRendered
	}
	if width <= 0 {
		width = DefaultExportWidth
	}
	if height <= 0 {
		height = DefaultExportHeight
	}

	out := img
	if b := img.Bounds(); b.Dx() != width || b.Dy() != height {
		out = plot.Resize(img, width, height)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create export dir: %w", err)
		}
	}
	if err := plot.Save(out, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func chartFigure(c *Chart) *plot.Figure {
	fig := &plot.Figure{Title: c.Title, XLabel: "seconds"}
	if len(c.Panels) == 0 {
		return fig
	}

	// X axis is seconds since the first observed sample
	origin := int64(0)
	if len(c.Panels[0].Timestamps) > 0 {
		origin = c.Panels[0].Timestamps[0]
	}
	seconds := func(ts []int64) []float64 {
		out := make([]float64, len(ts))
		for i, t := range ts {
			out[i] = float64(t-origin) / 1e9
		}
		return out
	}

	for _, p := range c.Panels {
		x := seconds(p.Timestamps)
		panel := plot.Panel{
			Title: fmt.Sprintf("%s (%%)  rmse %.2f  mae %.2f", p.Resource, p.RMSE, p.MAE),
			YMin:  0,
			YMax:  100,
			Lines: []plot.Line{
				{Label: "observed", X: x, Y: p.Observed, Color: plot.Observed},
				{Label: "fitted", X: x, Y: p.Fitted, Color: plot.Fitted},
			},
		}
		if len(p.Forecast) > 0 && len(x) > 0 {
			// Join the forecast to the last observation
			last := len(x) - 1
			fx := append([]float64{x[last]}, seconds(p.ForecastTimestamps)...)
			fy := append([]float64{p.Observed[last]}, p.Forecast...)
			lo := append([]float64{p.Observed[last]}, p.Lower...)
			hi := append([]float64{p.Observed[last]}, p.Upper...)
			panel.Areas = []plot.Area{{X: fx, Lo: lo, Hi: hi, Color: plot.Band}}
			panel.Lines = append(panel.Lines, plot.Line{Label: "forecast", X: fx, Y: fy, Color: plot.Forecast})
		}
		fig.Panels = append(fig.Panels, panel)
	}
	return fig
}

var (
	summaryTitleStyle    = lipgloss.NewStyle().Bold(true)
	summaryResourceStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#06B6D4")).Width(5)
	summaryMutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

// SummaryRenderer prints one line per target: last observed value, next
// predicted value with its band, and the fit error.
type SummaryRenderer struct {
	out io.Writer
}

// NewSummaryRenderer writes summaries to out.
func NewSummaryRenderer(out io.Writer) *SummaryRenderer {
	return &SummaryRenderer{out: out}
}

func (r *SummaryRenderer) Render(c *Chart) error {
	var b strings.Builder
	b.WriteString(summaryTitleStyle.Render(c.Title))
	b.WriteByte('\n')
	for _, p := range c.Panels {
		b.WriteString(summaryResourceStyle.Render(string(p.Resource)))
		if n := len(p.Observed); n > 0 {
			fmt.Fprintf(&b, " last %6.2f%%", p.Observed[n-1])
		}
		if len(p.Forecast) > 0 {
			fmt.Fprintf(&b, "  next %6.2f%% [%.2f, %.2f]", p.Forecast[0], p.Lower[0], p.Upper[0])
			fmt.Fprintf(&b, "  +%d %6.2f%%", len(p.Forecast), p.Forecast[len(p.Forecast)-1])
		}
		b.WriteString(summaryMutedStyle.Render(fmt.Sprintf("  rmse %.3f mae %.3f", p.RMSE, p.MAE)))
		b.WriteByte('\n')
	}
	_, err := io.WriteString(r.out, b.String())
	return err
}
