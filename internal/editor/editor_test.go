package editor

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"reflect"
	"testing"
	"time"

	"golang.org/x/image/draw"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func newTestEditor() *Editor {
	return New(WithResampler(draw.NearestNeighbor))
}

var (
	red  = color.RGBA{R: 255, A: 255}
	blue = color.RGBA{B: 255, A: 255}
)

func TestExportReproducesBase(t *testing.T) {
	base := image.NewRGBA(image.Rect(0, 0, CanvasWidth, CanvasHeight))
	for y := 0; y < CanvasHeight; y++ {
		for x := 0; x < CanvasWidth; x++ {
			base.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 7, A: 255})
		}
	}

	e := newTestEditor()
	e.LoadBase(base)

	out, err := e.Render()
	if err != nil {
		t.Fatal("Failed to render:", err)
	}
	if out.Bounds().Dx() != CanvasWidth*PixelRatio || out.Bounds().Dy() != CanvasHeight*PixelRatio {
		t.Fatalf("Expected %dx%d output, got %v", CanvasWidth*PixelRatio, CanvasHeight*PixelRatio, out.Bounds())
	}
	for _, p := range []image.Point{{0, 0}, {13, 470}, {399, 299}, {799, 599}, {512, 3}} {
		want := base.RGBAAt(p.X, p.Y)
		for dy := 0; dy < PixelRatio; dy++ {
			for dx := 0; dx < PixelRatio; dx++ {
				got := out.RGBAAt(p.X*PixelRatio+dx, p.Y*PixelRatio+dy)
				if got != want {
					t.Fatalf("Pixel %v: expected %v, got %v", p, want, got)
				}
			}
		}
	}

	data, err := e.Export("")
	if err != nil {
		t.Fatal("Failed to export:", err)
	}
	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal("Export is not a png:", err)
	}
	if decoded.Bounds() != out.Bounds() {
		t.Errorf("Expected exported bounds %v, got %v", out.Bounds(), decoded.Bounds())
	}
}

func TestBaseStretchedToCanvas(t *testing.T) {
	e := newTestEditor()
	e.LoadBase(solid(10, 10, red))

	out, err := e.Render()
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []image.Point{{0, 0}, {2399, 0}, {0, 1799}, {2399, 1799}} {
		if got := out.RGBAAt(p.X, p.Y); got != red {
			t.Errorf("Expected base to cover %v, got %v", p, got)
		}
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	if _, err := newTestEditor().Export("bmp"); err == nil {
		t.Error("Expected error for unsupported format")
	}
}

func TestDeleteSelectedWithoutSelection(t *testing.T) {
	e := newTestEditor()
	if _, err := e.AddTextLayer("hello"); err != nil {
		t.Fatal(err)
	}
	e.AddImageLayer(solid(20, 20, blue))
	before := e.State().Layers

	if e.DeleteSelected() {
		t.Error("Expected no deletion without a selection")
	}
	if after := e.State().Layers; !reflect.DeepEqual(before, after) {
		t.Errorf("Expected layers unchanged, got %+v", after)
	}
}

func TestDeleteSelected(t *testing.T) {
	e := newTestEditor()
	first := e.AddImageLayer(solid(100, 100, blue))
	e.AddImageLayer(solid(10, 10, red))

	e.PointerDown(Point{X: 120, Y: 120})
	e.PointerUp()
	if e.State().Selected != first {
		t.Fatal("Expected first layer selected")
	}
	if !e.DeleteSelected() {
		t.Fatal("Expected selected layer deleted")
	}

	st := e.State()
	if len(st.Layers) != 1 || st.Layers[0].ID == first || st.Selected != "" {
		t.Errorf("Unexpected state after delete: %+v", st)
	}
}

func TestEraseAffectsOnlyBase(t *testing.T) {
	e := newTestEditor()
	e.LoadBase(solid(CanvasWidth, CanvasHeight, red))
	e.AddImageLayer(solid(100, 100, blue))

	if err := e.SetTool(ToolErase); err != nil {
		t.Fatal(err)
	}
	e.PointerDown(Point{X: 400, Y: 300})
	e.PointerMove(Point{X: 420, Y: 300})
	e.PointerUp()

	e.PointerDown(Point{X: 90, Y: 100})
	e.PointerMove(Point{X: 110, Y: 100})
	e.PointerUp()

	out, err := e.Render()
	if err != nil {
		t.Fatal(err)
	}

	if got := out.RGBAAt(410*PixelRatio, 300*PixelRatio); got.A != 0 {
		t.Errorf("Expected erased base to be transparent, got %v", got)
	}
	if got := out.RGBAAt(100*PixelRatio, 100*PixelRatio); got != blue {
		t.Errorf("Expected layer painted over erased base, got %v", got)
	}
	if got := out.RGBAAt(700*PixelRatio, 500*PixelRatio); got != red {
		t.Errorf("Expected untouched base, got %v", got)
	}
}

func TestEraseStrokeLifecycle(t *testing.T) {
	e := newTestEditor()
	e.SetBrushSize(30)
	e.SetTool(ToolErase)

	e.PointerDown(Point{X: 1, Y: 1})
	e.PointerMove(Point{X: 2, Y: 2})
	e.PointerMove(Point{X: 3, Y: 3})
	e.PointerUp()
	e.PointerMove(Point{X: 9, Y: 9})

	e.SetBrushSize(10)
	e.PointerDown(Point{X: 5, Y: 5})
	e.PointerUp()

	st := e.State()
	if len(st.Strokes) != 2 {
		t.Fatalf("Expected 2 strokes, got %d", len(st.Strokes))
	}
	if len(st.Strokes[0].Points) != 3 || st.Strokes[0].Width != 30 {
		t.Errorf("Unexpected first stroke %+v", st.Strokes[0])
	}
	if len(st.Strokes[1].Points) != 1 || st.Strokes[1].Width != 10 {
		t.Errorf("Unexpected second stroke %+v", st.Strokes[1])
	}
}

func TestSelectAndDrag(t *testing.T) {
	e := newTestEditor()
	id, err := e.AddTextLayer("")
	if err != nil {
		t.Fatal(err)
	}

	st := e.State()
	l := st.Layers[0]
	if l.Text != DefaultText || l.X != 100 || l.Y != 100 || l.FontSize != DefaultFontSize || l.Fill != DefaultFill {
		t.Errorf("Unexpected default text layer %+v", l)
	}
	if l.Width <= 10 || l.Height != DefaultFontSize {
		t.Errorf("Unexpected text extent %vx%v", l.Width, l.Height)
	}

	e.PointerDown(Point{X: 110, Y: 110})
	e.PointerMove(Point{X: 210, Y: 160})
	e.PointerUp()

	st = e.State()
	if st.Selected != id {
		t.Errorf("Expected %s selected, got %q", id, st.Selected)
	}
	if st.Layers[0].X != 200 || st.Layers[0].Y != 150 {
		t.Errorf("Expected layer dragged to (200,150), got (%v,%v)", st.Layers[0].X, st.Layers[0].Y)
	}

	e.PointerMove(Point{X: 700, Y: 500})
	if e.State().Layers[0].X != 200 {
		t.Error("Expected no drag after pointer up")
	}

	e.PointerDown(Point{X: 700, Y: 550})
	e.PointerUp()
	if e.State().Selected != "" {
		t.Error("Expected click on empty canvas to clear the selection")
	}
}

func TestTopmostLayerWins(t *testing.T) {
	e := newTestEditor()
	e.AddImageLayer(solid(100, 100, blue))
	top := e.AddImageLayer(solid(100, 100, red))

	e.PointerDown(Point{X: 60, Y: 60})
	e.PointerUp()
	if e.State().Selected != top {
		t.Error("Expected topmost layer selected")
	}
}

func TestEraseModeClearsSelection(t *testing.T) {
	e := newTestEditor()
	e.AddImageLayer(solid(100, 100, blue))
	e.PointerDown(Point{X: 60, Y: 60})
	e.PointerUp()

	e.SetTool(ToolErase)
	if e.State().Selected != "" {
		t.Error("Expected erase mode to clear the selection")
	}

	// Pointer down over a layer in erase mode still only draws.
	e.PointerDown(Point{X: 60, Y: 60})
	e.PointerUp()
	st := e.State()
	if st.Selected != "" || len(st.Strokes) != 1 {
		t.Errorf("Expected a stroke and no selection, got %+v", st)
	}

	e.AddTextLayer("hi")
	if e.State().Tool != ToolSelect {
		t.Error("Expected adding a layer to switch to select mode")
	}

	if err := e.SetTool("lasso"); !errors.Is(err, ErrInvalidTool) {
		t.Errorf("Expected ErrInvalidTool, got %v", err)
	}
}

func TestBrushSizeClamped(t *testing.T) {
	e := newTestEditor()
	if e.State().BrushSize != DefaultBrushSize {
		t.Errorf("Expected default brush %d", DefaultBrushSize)
	}
	if got := e.SetBrushSize(1); got != MinBrushSize {
		t.Errorf("Expected %d, got %v", MinBrushSize, got)
	}
	if got := e.SetBrushSize(500); got != MaxBrushSize {
		t.Errorf("Expected %d, got %v", MaxBrushSize, got)
	}
}

func TestTransformLayer(t *testing.T) {
	e := newTestEditor()
	id := e.AddImageLayer(solid(100, 100, blue))

	if err := e.TransformLayer(id, Transform{ScaleX: 0, ScaleY: 1}); !errors.Is(err, ErrInvalidTransform) {
		t.Errorf("Expected ErrInvalidTransform, got %v", err)
	}
	if err := e.TransformLayer("nope", Transform{ScaleX: 1, ScaleY: 1}); !errors.Is(err, ErrLayerNotFound) {
		t.Errorf("Expected ErrLayerNotFound, got %v", err)
	}

	if err := e.TransformLayer(id, Transform{X: 50, Y: 50, Rotation: 90, ScaleX: 1, ScaleY: 1}); err != nil {
		t.Fatal(err)
	}

	// Rotated 90 degrees around its corner, the layer now extends left.
	e.PointerDown(Point{X: 0, Y: 100})
	e.PointerUp()
	if e.State().Selected != id {
		t.Error("Expected rotated layer hit")
	}
	e.PointerDown(Point{X: 100, Y: 100})
	e.PointerUp()
	if e.State().Selected != "" {
		t.Error("Expected point outside rotated layer to miss")
	}
}

func TestTransformLayerRejectsOversize(t *testing.T) {
	e := newTestEditor()
	id, err := e.AddTextLayer("Hello")
	if err != nil {
		t.Fatal(err)
	}

	if err := e.TransformLayer(id, Transform{ScaleX: 500, ScaleY: 500}); !errors.Is(err, ErrInvalidTransform) {
		t.Errorf("Expected ErrInvalidTransform for a huge scale, got %v", err)
	}
	nan := math.NaN()
	if err := e.TransformLayer(id, Transform{X: nan, ScaleX: 1, ScaleY: 1}); !errors.Is(err, ErrInvalidTransform) {
		t.Errorf("Expected ErrInvalidTransform for NaN position, got %v", err)
	}
	if l := e.State().Layers[0]; l.ScaleX != 1 || l.X != textAnchor.X {
		t.Errorf("Expected rejected transforms to leave the layer alone, got %+v", l)
	}
}

func TestScaledTextRasterIsClipped(t *testing.T) {
	e := newTestEditor()
	id, err := e.AddTextLayer("Hello")
	if err != nil {
		t.Fatal(err)
	}
	if err := e.TransformLayer(id, Transform{X: 700, Y: 500, ScaleX: 40, ScaleY: 40}); err != nil {
		t.Fatal(err)
	}

	out, err := e.Render()
	if err != nil {
		t.Fatal(err)
	}
	if out.Bounds() != image.Rect(0, 0, CanvasWidth*PixelRatio, CanvasHeight*PixelRatio) {
		t.Fatalf("Expected full canvas output, got %v", out.Bounds())
	}

	l := e.State().Layers[0]
	k := float64(PixelRatio)
	ratio := math.Min(k*40, maxGlyphPixels/l.FontSize)
	full := textBounds(l, ratio)
	area := visibleArea(layerMatrix(l, k, ratio), out.Bounds(), full)
	if area.Empty() || !area.In(full) {
		t.Fatalf("Expected a non-empty area inside %v, got %v", full, area)
	}
	// The canvas shows a 100x100 unit corner of the layer.
	if area.Dx()*area.Dy() > 200*200 {
		t.Errorf("Expected a small raster for the visible corner, got %v of %v", area, full)
	}
}

func TestClippedTextMatchesFullRaster(t *testing.T) {
	e := newTestEditor()
	id, err := e.AddTextLayer("Hello")
	if err != nil {
		t.Fatal(err)
	}
	if err := e.TransformLayer(id, Transform{X: 700, Y: 550, Rotation: 10, ScaleX: 2, ScaleY: 2}); err != nil {
		t.Fatal(err)
	}

	got, err := e.Render()
	if err != nil {
		t.Fatal(err)
	}

	l := e.State().Layers[0]
	k := float64(PixelRatio)
	ratio := k * 2
	src, err := renderText(l, ratio, textBounds(l, ratio))
	if err != nil {
		t.Fatal(err)
	}
	want := image.NewRGBA(got.Bounds())
	draw.NearestNeighbor.Transform(want, layerMatrix(l, k, ratio), src, src.Bounds(), draw.Over, nil)

	inked := 0
	for i := 3; i < len(want.Pix); i += 4 {
		if want.Pix[i] > 0 {
			inked++
		}
	}
	if inked == 0 {
		t.Fatal("Expected text pixels on the canvas")
	}
	if !bytes.Equal(got.Pix, want.Pix) {
		t.Error("Expected clipped rendering to match the full raster")
	}
}

func TestUpdateText(t *testing.T) {
	e := newTestEditor()
	id, _ := e.AddTextLayer("a")
	narrow := e.State().Layers[0].Width

	text := "a much longer caption"
	size := 80.0
	if err := e.UpdateText(id, TextPatch{Text: &text, FontSize: &size}); err != nil {
		t.Fatal(err)
	}
	l := e.State().Layers[0]
	if l.Text != text || l.FontSize != size || l.Width <= narrow || l.Height != size {
		t.Errorf("Unexpected text layer %+v", l)
	}

	bad := "not-a-color"
	if err := e.UpdateText(id, TextPatch{Fill: &bad}); err == nil {
		t.Error("Expected invalid fill to be rejected")
	}

	img := e.AddImageLayer(solid(5, 5, red))
	if err := e.UpdateText(img, TextPatch{Text: &text}); !errors.Is(err, ErrLayerNotFound) {
		t.Errorf("Expected image layer to reject text edits, got %v", err)
	}
}

func TestTextLayerRendered(t *testing.T) {
	e := newTestEditor()
	if _, err := e.AddTextLayer("Hello"); err != nil {
		t.Fatal(err)
	}
	out, err := e.Render()
	if err != nil {
		t.Fatal(err)
	}

	l := e.State().Layers[0]
	r := image.Rect(int(l.X)*PixelRatio, int(l.Y)*PixelRatio,
		int(l.X+l.Width)*PixelRatio, int(l.Y+l.Height)*PixelRatio)
	inked := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if out.RGBAAt(x, y).A > 0 {
				inked++
			}
		}
	}
	if inked == 0 {
		t.Error("Expected text pixels inside the layer box")
	}
	if out.RGBAAt(5, 5).A != 0 {
		t.Error("Expected transparent canvas outside the layer")
	}
}

func TestExportLeavesStateUntouched(t *testing.T) {
	e := newTestEditor()
	e.LoadBase(solid(40, 30, red))
	e.AddTextLayer("x")
	e.SetTool(ToolErase)
	e.PointerDown(Point{X: 10, Y: 10})
	e.PointerUp()

	before := e.State()
	if _, err := e.Export("png"); err != nil {
		t.Fatal(err)
	}
	if after := e.State(); !reflect.DeepEqual(before, after) {
		t.Error("Expected export to leave editor state unchanged")
	}
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in   string
		want color.NRGBA
	}{
		{"#fff", color.NRGBA{255, 255, 255, 255}},
		{"#ff0000", color.NRGBA{255, 0, 0, 255}},
		{"#00ff0080", color.NRGBA{0, 255, 0, 128}},
		{"Navy", color.NRGBA{0, 0, 128, 255}},
	}
	for _, tt := range tests {
		got, err := ParseColor(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseColor(%q): expected %v, got %v (%v)", tt.in, tt.want, got, err)
		}
	}
	for _, bad := range []string{"", "#12", "#zzzzzz", "blurple"} {
		if _, err := ParseColor(bad); err == nil {
			t.Errorf("ParseColor(%q): expected error", bad)
		}
	}
}

func TestSessions(t *testing.T) {
	s := NewSessions(WithResampler(draw.NearestNeighbor))
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }

	id, e := s.Create(solid(4, 4, red))
	if !e.State().HasBase {
		t.Error("Expected base loaded")
	}
	got, err := s.Get(id)
	if err != nil || got != e {
		t.Fatalf("Expected session editor, got %v, %v", got, err)
	}

	other, _ := s.Create(nil)
	now = now.Add(time.Hour)
	s.Get(other)

	if n := s.Prune(30 * time.Minute); n != 1 {
		t.Errorf("Expected 1 pruned session, got %d", n)
	}
	if _, err := s.Get(id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected idle session gone, got %v", err)
	}
	if !s.Close(other) || s.Close(other) {
		t.Error("Expected close to succeed once")
	}
	if s.Len() != 0 {
		t.Errorf("Expected empty registry, got %d", s.Len())
	}
}
