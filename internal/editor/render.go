package editor

import (
	"fmt"
	"image"
	"math"
	"time"

	"stickerstudio/internal/imaging"
	"stickerstudio/internal/logger"
	"stickerstudio/internal/metrics"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

type scene struct {
	base      image.Image
	layers    []Layer
	strokes   []Stroke
	resampler draw.Interpolator
}

func (e *Editor) snapshot() scene {
	e.mu.Lock()
	defer e.mu.Unlock()

	sc := scene{
		base:      e.base,
		layers:    append([]Layer{}, e.layers...),
		strokes:   make([]Stroke, len(e.strokes)),
		resampler: e.resampler,
	}
	for i, s := range e.strokes {
		sc.strokes[i] = Stroke{Points: append([]Point{}, s.Points...), Width: s.Width}
	}
	return sc
}

// Render flattens the scene at PixelRatio. The editor itself is not
// modified and stays usable while rendering runs.
func (e *Editor) Render() (*image.RGBA, error) {
	return e.snapshot().render(PixelRatio)
}

// Export renders and encodes the scene as png (the default) or webp.
func (e *Editor) Export(format string) ([]byte, error) {
	if format == "" {
		format = imaging.FormatPNG
	}
	if format != imaging.FormatPNG && format != imaging.FormatWEBP {
		return nil, fmt.Errorf("unsupported export format %q", format)
	}

	start := time.Now()
	img, err := e.Render()
	if err != nil {
		return nil, err
	}
	data, err := imaging.Encode(img, format)
	if err != nil {
		return nil, err
	}

	took := time.Since(start)
	metrics.RecordRender(format, took)
	logger.Debug("Editor scene exported", "format", format, "bytes", len(data), "took", took)
	return data, nil
}

func (sc scene) render(ratio int) (*image.RGBA, error) {
	k := float64(ratio)
	out := image.NewRGBA(image.Rect(0, 0, CanvasWidth*ratio, CanvasHeight*ratio))

	// The base is stretched to the canvas, then strokes cut through it
	// before anything else is painted.
	if sc.base != nil {
		sc.resampler.Scale(out, out.Bounds(), sc.base, sc.base.Bounds(), draw.Src, nil)
		for _, s := range sc.strokes {
			eraseStroke(out, s, k)
		}
	}

	for _, l := range sc.layers {
		if err := sc.paintLayer(out, l, k); err != nil {
			return nil, fmt.Errorf("paint layer %s: %w", l.ID, err)
		}
	}
	return out, nil
}

func (sc scene) paintLayer(dst *image.RGBA, l Layer, k float64) error {
	switch l.Kind {
	case LayerText:
		if l.FontSize <= 0 {
			return nil
		}
		// Text is rasterized at output resolution so glyphs stay sharp, and
		// only the part that lands on dst is rasterized at all.
		ratio := k * math.Max(math.Abs(l.ScaleX), math.Abs(l.ScaleY))
		if ratio == 0 {
			return nil
		}
		ratio = math.Min(ratio, maxGlyphPixels/l.FontSize)

		m := layerMatrix(l, k, ratio)
		area := visibleArea(m, dst.Bounds(), textBounds(l, ratio))
		if area.Empty() {
			return nil
		}
		img, err := renderText(l, ratio, area)
		if err != nil {
			return err
		}
		sc.resampler.Transform(dst, m, img, img.Bounds(), draw.Over, nil)
	case LayerImage:
		if l.image == nil {
			return nil
		}
		sc.resampler.Transform(dst, layerMatrix(l, k, 1), l.image, l.image.Bounds(), draw.Over, nil)
	default:
		return fmt.Errorf("unknown layer kind %q", l.Kind)
	}
	return nil
}

// layerMatrix maps source pixels, ratio of them per canvas unit, to output
// pixels at k per canvas unit.
func layerMatrix(l Layer, k, ratio float64) f64.Aff3 {
	sin, cos := math.Sincos(l.Rotation * math.Pi / 180)
	return f64.Aff3{
		k * cos * l.ScaleX / ratio, -k * sin * l.ScaleY / ratio, k * l.X,
		k * sin * l.ScaleX / ratio, k * cos * l.ScaleY / ratio, k * l.Y,
	}
}

// visibleArea returns the part of src that m maps onto out, padded so the
// resampling kernel at the edge still sees its neighbors.
func visibleArea(m f64.Aff3, out, src image.Rectangle) image.Rectangle {
	const pad = 4

	det := m[0]*m[4] - m[1]*m[3]
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		return image.Rectangle{}
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	corners := [4][2]int{
		{out.Min.X, out.Min.Y}, {out.Max.X, out.Min.Y},
		{out.Min.X, out.Max.Y}, {out.Max.X, out.Max.Y},
	}
	for _, c := range corners {
		x, y := float64(c[0])-m[2], float64(c[1])-m[5]
		u := (m[4]*x - m[1]*y) / det
		v := (m[0]*y - m[3]*x) / det
		minX, maxX = math.Min(minX, u), math.Max(maxX, u)
		minY, maxY = math.Min(minY, v), math.Max(maxY, v)
	}

	clamp := func(v float64, lo, hi int) int {
		return int(math.Max(float64(lo-pad), math.Min(float64(hi+pad), v)))
	}
	return image.Rect(
		clamp(math.Floor(minX), src.Min.X, src.Max.X)-pad,
		clamp(math.Floor(minY), src.Min.Y, src.Max.Y)-pad,
		clamp(math.Ceil(maxX), src.Min.X, src.Max.X)+pad,
		clamp(math.Ceil(maxY), src.Min.Y, src.Max.Y)+pad,
	).Intersect(src)
}

// eraseStroke removes coverage of a round-capped, round-joined polyline
// from dst. k converts canvas units to pixels.
func eraseStroke(dst *image.RGBA, s Stroke, k float64) {
	if len(s.Points) == 0 || s.Width <= 0 {
		return
	}
	hw := s.Width * k / 2

	pts := make([]Point, len(s.Points))
	for i, p := range s.Points {
		pts[i] = Point{X: p.X * k, Y: p.Y * k}
	}

	minX, minY := pts[0].X, pts[0].Y
	maxX, maxY := minX, minY
	for _, p := range pts[1:] {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	area := image.Rect(
		int(math.Floor(minX-hw-1)), int(math.Floor(minY-hw-1)),
		int(math.Ceil(maxX+hw+1)), int(math.Ceil(maxY+hw+1)),
	).Intersect(dst.Bounds())
	if area.Empty() {
		return
	}

	// Coverage is accumulated per segment as a max, so overlapping segments
	// of one stroke do not erase twice.
	mask := make([]float64, area.Dx()*area.Dy())
	cover := func(a, b Point) {
		r := image.Rect(
			int(math.Floor(math.Min(a.X, b.X)-hw-1)), int(math.Floor(math.Min(a.Y, b.Y)-hw-1)),
			int(math.Ceil(math.Max(a.X, b.X)+hw+1)), int(math.Ceil(math.Max(a.Y, b.Y)+hw+1)),
		).Intersect(area)
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				d := segmentDistance(Point{X: float64(x) + 0.5, Y: float64(y) + 0.5}, a, b)
				c := math.Max(0, math.Min(1, hw+0.5-d))
				idx := (y-area.Min.Y)*area.Dx() + (x - area.Min.X)
				if c > mask[idx] {
					mask[idx] = c
				}
			}
		}
	}
	if len(pts) == 1 {
		cover(pts[0], pts[0])
	}
	for i := 1; i < len(pts); i++ {
		cover(pts[i-1], pts[i])
	}

	for y := area.Min.Y; y < area.Max.Y; y++ {
		for x := area.Min.X; x < area.Max.X; x++ {
			c := mask[(y-area.Min.Y)*area.Dx()+(x-area.Min.X)]
			if c == 0 {
				continue
			}
			keep := 1 - c
			off := dst.PixOffset(x, y)
			for j := 0; j < 4; j++ {
				dst.Pix[off+j] = uint8(math.Round(float64(dst.Pix[off+j]) * keep))
			}
		}
	}
}

func segmentDistance(p, a, b Point) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	l2 := dx*dx + dy*dy
	t := 0.0
	if l2 > 0 {
		t = math.Max(0, math.Min(1, ((p.X-a.X)*dx+(p.Y-a.Y)*dy)/l2))
	}
	return math.Hypot(p.X-(a.X+t*dx), p.Y-(a.Y+t*dy))
}
