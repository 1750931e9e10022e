// Package plot draws stacked line charts into raster images.
package plot

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	gplot "gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// Palette used by Figure.
var (
	Background = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	Axis       = color.NRGBA{R: 60, G: 60, B: 60, A: 255}
	Grid       = color.NRGBA{R: 225, G: 225, B: 225, A: 255}
	Observed   = color.NRGBA{R: 31, G: 119, B: 180, A: 255}
	Fitted     = color.NRGBA{R: 255, G: 127, B: 14, A: 255}
	Forecast   = color.NRGBA{R: 214, G: 39, B: 40, A: 255}
	Band       = color.NRGBA{R: 214, G: 39, B: 40, A: 48}
)

// Line is a polyline in data coordinates.
type Line struct {
	Label string
	X, Y  []float64
	Color color.Color
}

// Area is a shaded band between Lo and Hi.
type Area struct {
	X, Lo, Hi []float64
	Color     color.Color
}

// Panel is one chart with its own axes.
type Panel struct {
	Title      string
	Lines      []Line
	Areas      []Area
	YMin, YMax float64
}

// Figure stacks panels vertically.
type Figure struct {
	Title  string
	XLabel string
	Panels []Panel
}

// dpi maps one point to one pixel.
const dpi = 72

// LineWidth is the stroke width of data lines.
var LineWidth = vg.Points(2)

// Render draws the figure at width x height pixels.
func (f *Figure) Render(width, height int) (*image.NRGBA, error) {
	canvas := vgimg.NewWith(
		vgimg.UseWH(vg.Length(width), vg.Length(height)),
		vgimg.UseDPI(dpi),
		vgimg.UseBackgroundColor(Background),
	)
	dc := draw.New(canvas)

	panels := f.Panels
	if len(panels) == 0 {
		panels = []Panel{{}}
	}
	rows := make([][]*gplot.Plot, len(panels))
	for i, p := range panels {
		gp, err := f.panel(p)
		if err != nil {
			return nil, err
		}
		if i == 0 && f.Title != "" {
			gp.Title.Text = f.Title + "\n" + gp.Title.Text
		}
		rows[i] = []*gplot.Plot{gp}
	}

	tiles := draw.Tiles{Rows: len(rows), Cols: 1, PadX: vg.Points(8), PadY: vg.Points(8),
		PadTop: vg.Points(4), PadBottom: vg.Points(4), PadLeft: vg.Points(4), PadRight: vg.Points(8)}
	cells := gplot.Align(rows, tiles, dc)
	for i := range rows {
		rows[i][0].Draw(cells[i][0])
	}
	return imaging.Clone(canvas.Image()), nil
}

func (f *Figure) panel(p Panel) (*gplot.Plot, error) {
	gp := gplot.New()
	gp.Title.Text = p.Title
	gp.Title.TextStyle.Color = Axis
	gp.X.Label.Text = f.XLabel
	gp.Legend.Top = true

	grid := plotter.NewGrid()
	grid.Vertical.Color = Grid
	grid.Horizontal.Color = Grid
	gp.Add(grid)

	for _, a := range p.Areas {
		band, err := bandPolygon(a)
		if err != nil {
			return nil, err
		}
		if band != nil {
			gp.Add(band)
		}
	}
	for _, l := range p.Lines {
		n := min(len(l.X), len(l.Y))
		if n == 0 {
			continue
		}
		pts := make(plotter.XYs, n)
		for i := 0; i < n; i++ {
			pts[i].X, pts[i].Y = l.X[i], l.Y[i]
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.LineStyle.Color = l.Color
		line.LineStyle.Width = LineWidth
		gp.Add(line)
		if l.Label != "" {
			gp.Legend.Add(l.Label, line)
		}
	}

	// Axis ranges are fixed after Add, which widens them to the data
	if p.YMax > p.YMin {
		gp.Y.Min, gp.Y.Max = p.YMin, p.YMax
	}
	return gp, nil
}

// bandPolygon closes Hi forward and Lo backward into one polygon.
func bandPolygon(a Area) (*plotter.Polygon, error) {
	n := min(len(a.X), len(a.Lo), len(a.Hi))
	if n < 2 {
		return nil, nil
	}
	ring := make(plotter.XYs, 0, 2*n)
	for i := 0; i < n; i++ {
		ring = append(ring, plotter.XY{X: a.X[i], Y: a.Hi[i]})
	}
	for i := n - 1; i >= 0; i-- {
		ring = append(ring, plotter.XY{X: a.X[i], Y: a.Lo[i]})
	}
	poly, err := plotter.NewPolygon(ring)
	if err != nil {
		return nil, err
	}
	poly.Color = a.Color
	poly.LineStyle.Width = 0
	return poly, nil
}

// Resize scales img to exactly width x height with Lanczos resampling.
func Resize(img image.Image, width, height int) *image.NRGBA {
	return imaging.Resize(img, width, height, imaging.Lanczos)
}

// Save writes img to path; the format follows the file extension.
func Save(img image.Image, path string) error {
	return imaging.Save(img, path)
}
