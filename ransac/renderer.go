package ransac

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// OverlayRenderer draws a solved problem into a raster image with a text
// legend, for quick inspection without a vector viewer
type OverlayRenderer struct {
	Problem  *Problem
	Solution *Solution
	Size     int // Longest image side in pixels
	Padding  int
}

// NewOverlayRenderer creates a 800px overlay renderer
func NewOverlayRenderer(p *Problem, s *Solution) *OverlayRenderer {
	return &OverlayRenderer{Problem: p, Solution: s, Size: 800, Padding: 40}
}

// Render returns the overlay image
func (r *OverlayRenderer) Render() (*image.RGBA, error) {
	if r.Problem == nil || r.Solution == nil {
		return nil, fmt.Errorf("nothing to render")
	}
	b, ok := dataBound(r.Problem)
	if !ok {
		return nil, fmt.Errorf("problem %s has no points", r.Problem.ID)
	}

	span := math.Max(b.Max[0]-b.Min[0], b.Max[1]-b.Min[1])
	if span <= 0 {
		span = 1
	}
	scale := float64(r.Size-2*r.Padding) / span
	width := int(math.Ceil((b.Max[0]-b.Min[0])*scale)) + 2*r.Padding
	height := int(math.Ceil((b.Max[1]-b.Min[1])*scale)) + 2*r.Padding

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(BackgroundGray), image.Point{}, draw.Src)

	// Image rows grow downwards; flip y so the picture matches the SVG
	toPixel := func(x, y float64) (int, int) {
		px := r.Padding + int(math.Round((x-b.Min[0])*scale))
		py := height - r.Padding - int(math.Round((y-b.Min[1])*scale))
		return px, py
	}

	mask := r.Solution.InlierMask(r.Problem)
	lineKind := r.Problem.Kind == KindLine
	for _, inliers := range []bool{false, true} {
		c := OutlierColor
		if inliers {
			c = InlierColor
		}
		for i, in := range mask {
			if in != inliers {
				continue
			}
			x1, y1, x2, y2 := r.Problem.Correspondence(i)
			dx, dy := toPixel(x2, y2)
			if !lineKind {
				sx, sy := toPixel(x1, y1)
				drawLine(img, sx, sy, dx, dy, c)
			}
			drawCircle(img, dx, dy, 3, c)
		}
	}

	r.drawLegend(img)
	return img, nil
}

// SavePNG renders the overlay to a file
func (r *OverlayRenderer) SavePNG(path string) error {
	img, err := r.Render()
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	return png.Encode(f, img)
}

func (r *OverlayRenderer) drawLegend(img *image.RGBA) {
	s := r.Solution
	lines := []struct {
		text   string
		swatch color.RGBA
	}{
		{fmt.Sprintf("%s (%s)", s.ID, s.Kind), color.RGBA{}},
		{fmt.Sprintf("inliers %d/%d", s.Score.Inliers, s.Total), InlierColor},
		{fmt.Sprintf("outliers %d", s.Total-s.Score.Inliers), OutlierColor},
		{fmt.Sprintf("rmse %.3f  iterations %d", s.RMSE, s.Iterations), color.RGBA{}},
	}

	y := 15
	for _, l := range lines {
		x := 10
		if l.swatch.A != 0 {
			for dy := 0; dy < 10; dy++ {
				for dx := 0; dx < 10; dx++ {
					img.Set(x+dx, y+dy-9, l.swatch)
				}
			}
			x += 16
		}
		drawText(img, x, y, l.text, color.RGBA{0, 0, 0, 255})
		y += 16
	}
}

// drawText renders text with its baseline at y
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// drawCircle draws a filled circle clipped to the image
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	bounds := img.Bounds()
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy > radius*radius {
				continue
			}
			if p := (image.Point{X: cx + dx, Y: cy + dy}); p.In(bounds) {
				img.SetRGBA(p.X, p.Y, c)
			}
		}
	}
}

// drawLine draws a one pixel Bresenham line clipped to the image
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	bounds := img.Bounds()
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		if p := (image.Point{X: x0, Y: y0}); p.In(bounds) {
			img.SetRGBA(x0, y0, c)
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
