package ransac

import (
	"fmt"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// Colors shared by the vector and raster renderers
var (
	InlierColor    = color.RGBA{34, 139, 34, 255}  // forest green
	OutlierColor   = color.RGBA{220, 20, 60, 255}  // crimson
	ModelColor     = color.RGBA{30, 90, 200, 255}  // blue
	SourceColor    = color.RGBA{90, 90, 90, 255}   // grey
	BackgroundGray = color.RGBA{245, 245, 245, 255} // raster background
)

// VectorRenderer draws a solved problem as vector graphics: each
// correspondence is a segment from its source to its destination point,
// green for inliers and red for outliers. Two-view models also show where
// the model sends each inlier source point; line models show the line.
type VectorRenderer struct {
	Problem    *Problem
	Solution   *Solution
	Width      float64           // Canvas width in millimeters
	Padding    float64           // Padding in millimeters
	Resolution canvas.Resolution // Resolution for PNG output
	PointSize  float64           // Marker radius in millimeters
}

// NewVectorRenderer creates a renderer with settings from config
func NewVectorRenderer(p *Problem, s *Solution, cfg RenderConfig) *VectorRenderer {
	return &VectorRenderer{
		Problem:    p,
		Solution:   s,
		Width:      cfg.Width,
		Padding:    cfg.Padding,
		Resolution: canvas.DPI(cfg.Resolution),
		PointSize:  0.6,
	}
}

// canvasRenderer is implemented by the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderToSVG writes the solution as SVG
func (r *VectorRenderer) RenderToSVG(w io.Writer) error {
	v, err := r.view()
	if err != nil {
		return err
	}
	out := svg.New(w, v.width, v.height, nil)
	r.renderToCanvas(out, v)
	return out.Close()
}

// RenderToPNG writes the solution as PNG
func (r *VectorRenderer) RenderToPNG(w io.Writer) error {
	v, err := r.view()
	if err != nil {
		return err
	}
	rast := rasterizer.New(v.width, v.height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, v)
	return png.Encode(w, rast)
}

// view maps data coordinates to canvas millimeters
type view struct {
	bound         orb.Bound
	scale         float64
	width, height float64
	padding       float64
}

func (v view) toCanvas(x, y float64) (float64, float64) {
	return v.padding + (x-v.bound.Min[0])*v.scale, v.padding + (y-v.bound.Min[1])*v.scale
}

func (r *VectorRenderer) view() (view, error) {
	if r.Problem == nil || r.Solution == nil {
		return view{}, fmt.Errorf("nothing to render")
	}
	b, ok := dataBound(r.Problem)
	if !ok {
		return view{}, fmt.Errorf("problem %s has no points", r.Problem.ID)
	}
	inner := r.Width - 2*r.Padding
	if inner <= 0 {
		return view{}, fmt.Errorf("render width %.1f leaves no room inside padding %.1f", r.Width, r.Padding)
	}
	span := math.Max(b.Max[0]-b.Min[0], b.Max[1]-b.Min[1])
	if span <= 0 {
		span = 1
	}
	scale := inner / span
	return view{
		bound:   b,
		scale:   scale,
		width:   r.Width,
		height:  (b.Max[1]-b.Min[1])*scale + 2*r.Padding,
		padding: r.Padding,
	}, nil
}

// dataBound is the bounding box of every source and destination point
func dataBound(p *Problem) (orb.Bound, bool) {
	n := p.Count()
	if n == 0 {
		return orb.Bound{}, false
	}
	points := make(orb.MultiPoint, 0, 2*n)
	for i := 0; i < n; i++ {
		x1, y1, x2, y2 := p.Correspondence(i)
		points = append(points, orb.Point{x1, y1}, orb.Point{x2, y2})
	}
	return points.Bound(), true
}

func (r *VectorRenderer) renderToCanvas(out canvasRenderer, v view) {
	bg := canvas.DefaultStyle
	bg.Fill = canvas.Paint{Color: canvas.White}
	out.RenderPath(canvas.Rectangle(v.width, v.height), bg, canvas.Identity)

	mask := r.Solution.InlierMask(r.Problem)
	model := ModelFromRows(r.Solution.Model)
	lineKind := r.Problem.Kind == KindLine

	if lineKind && !model.IsZero() {
		r.renderLine(out, v, model)
	}

	// Outliers first so inliers stay visible where they overlap
	for _, inliers := range []bool{false, true} {
		c := OutlierColor
		if inliers {
			c = InlierColor
		}
		stroke := canvas.DefaultStyle
		stroke.Fill = canvas.Paint{Color: canvas.Transparent}
		stroke.Stroke = canvas.Paint{Color: c}
		stroke.StrokeWidth = 0.2

		dot := canvas.DefaultStyle
		dot.Fill = canvas.Paint{Color: c}
		dot.Stroke = canvas.Paint{Color: canvas.Transparent}

		for i, in := range mask {
			if in != inliers {
				continue
			}
			x1, y1, x2, y2 := r.Problem.Correspondence(i)
			sx, sy := v.toCanvas(x1, y1)
			dx, dy := v.toCanvas(x2, y2)
			if !lineKind {
				seg := &canvas.Path{}
				seg.MoveTo(sx, sy)
				seg.LineTo(dx, dy)
				out.RenderPath(seg, stroke, canvas.Identity)

				src := canvas.DefaultStyle
				src.Fill = canvas.Paint{Color: SourceColor}
				out.RenderPath(canvas.Circle(r.PointSize*0.6).Translate(sx, sy), src, canvas.Identity)
			}
			out.RenderPath(canvas.Circle(r.PointSize).Translate(dx, dy), dot, canvas.Identity)
		}
	}

	// Model predictions for inlier sources
	if !lineKind && !model.IsZero() {
		pred := canvas.DefaultStyle
		pred.Fill = canvas.Paint{Color: canvas.Transparent}
		pred.Stroke = canvas.Paint{Color: ModelColor}
		pred.StrokeWidth = 0.15
		for i, in := range mask {
			if !in {
				continue
			}
			x1, y1, _, _ := r.Problem.Correspondence(i)
			px, py := transformPoint(model, x1, y1)
			cx, cy := v.toCanvas(px, py)
			out.RenderPath(canvas.Circle(r.PointSize*1.5).Translate(cx, cy), pred, canvas.Identity)
		}
	}
}

// renderLine draws a*x + b*y + c = 0 clipped to the data bound
func (r *VectorRenderer) renderLine(out canvasRenderer, v view, model Model) {
	d := model.Descriptor
	a, b, c := d.At(0, 0), d.At(0, 1), d.At(0, 2)
	x0, x1 := v.bound.Min[0], v.bound.Max[0]
	y0, y1 := v.bound.Min[1], v.bound.Max[1]

	var p0, p1 orb.Point
	if math.Abs(b) >= math.Abs(a) {
		p0 = orb.Point{x0, -(a*x0 + c) / b}
		p1 = orb.Point{x1, -(a*x1 + c) / b}
	} else {
		p0 = orb.Point{-(b*y0 + c) / a, y0}
		p1 = orb.Point{-(b*y1 + c) / a, y1}
	}

	style := canvas.DefaultStyle
	style.Fill = canvas.Paint{Color: canvas.Transparent}
	style.Stroke = canvas.Paint{Color: ModelColor}
	style.StrokeWidth = 0.4

	path := &canvas.Path{}
	path.MoveTo(v.toCanvas(p0[0], p0[1]))
	path.LineTo(v.toCanvas(p1[0], p1[1]))
	out.RenderPath(path, style, canvas.Identity)
}
