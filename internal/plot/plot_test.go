package plot

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
)

// countNear counts pixels within tol of want on every channel.
func countNear(img *image.NRGBA, want [3]uint8, tol int) int {
	n := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.NRGBAAt(x, y)
			if near(c.R, want[0], tol) && near(c.G, want[1], tol) && near(c.B, want[2], tol) {
				n++
			}
		}
	}
	return n
}

func near(a, b uint8, tol int) bool {
	d := int(a) - int(b)
	return d >= -tol && d <= tol
}

func TestFigureRender(t *testing.T) {
	f := &Figure{
		Title:  "usage",
		XLabel: "seconds",
		Panels: []Panel{
			{
				Title: "CPU",
				YMin:  0, YMax: 100,
				Lines: []Line{
					{Label: "observed", X: []float64{0, 1, 2, 3}, Y: []float64{50, 50, 50, 50}, Color: Observed},
					{Label: "forecast", X: []float64{3, 4, 5}, Y: []float64{50, 55, 60}, Color: Forecast},
				},
				Areas: []Area{{X: []float64{3, 4, 5}, Lo: []float64{45, 48, 50}, Hi: []float64{55, 62, 70}, Color: Band}},
			},
			{Title: "Mem", YMin: 0, YMax: 100},
		},
	}
	img, err := f.Render(640, 480)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 640 || b.Dy() != 480 {
		t.Fatalf("size = %v, want 640x480", b)
	}
	if got := img.NRGBAAt(0, 0); got != Background {
		t.Errorf("corner pixel = %v, want background", got)
	}
	if countNear(img, [3]uint8{Observed.R, Observed.G, Observed.B}, 10) == 0 {
		t.Error("observed line not drawn")
	}
	if countNear(img, [3]uint8{Forecast.R, Forecast.G, Forecast.B}, 10) == 0 {
		t.Error("forecast line not drawn")
	}
}

func TestFigureRenderEmpty(t *testing.T) {
	img, err := (&Figure{Title: "nothing yet"}).Render(200, 150)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 200 || b.Dy() != 150 {
		t.Fatalf("size = %v, want 200x150", b)
	}
}

func TestBandPolygon(t *testing.T) {
	if poly, err := bandPolygon(Area{X: []float64{1}, Lo: []float64{0}, Hi: []float64{1}}); err != nil || poly != nil {
		t.Fatalf("single point band = %v, %v; want nil, nil", poly, err)
	}

	poly, err := bandPolygon(Area{X: []float64{0, 1, 2}, Lo: []float64{1, 2, 3}, Hi: []float64{4, 5, 6}, Color: Band})
	if err != nil {
		t.Fatalf("bandPolygon: %v", err)
	}
	if len(poly.XYs) != 1 || len(poly.XYs[0]) != 6 {
		t.Fatalf("expected one ring of 6 vertices, got %v", poly.XYs)
	}
	ring := poly.XYs[0]
	if ring[0].Y != 4 || ring[2].Y != 6 || ring[3].Y != 3 || ring[5].Y != 1 {
		t.Errorf("ring does not run along hi then back along lo: %v", ring)
	}
	if poly.Color != Band {
		t.Errorf("color = %v, want %v", poly.Color, Band)
	}
}

func TestResizeSave(t *testing.T) {
	img, err := (&Figure{Title: "t"}).Render(100, 80)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := Resize(img, 300, 200)
	if b := out.Bounds(); b.Dx() != 300 || b.Dy() != 200 {
		t.Fatalf("resized to %v, want 300x200", b)
	}

	path := filepath.Join(t.TempDir(), "out.png")
	if err := Save(out, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}
	back, err := imaging.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if b := back.Bounds(); b.Dx() != 300 || b.Dy() != 200 {
		t.Errorf("saved image is %v, want 300x200", b)
	}
}
