// Package editor holds the layered canvas used to touch up a sticker:
// a stretched base image, erase strokes cut out of that base, and text and
// image layers painted above it.
package editor

import (
	"errors"
	"image"
	"math"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/image/draw"
)

const (
	CanvasWidth  = 800
	CanvasHeight = 600
	PixelRatio   = 3

	DefaultBrushSize = 20
	MinBrushSize     = 5
	MaxBrushSize     = 100

	DefaultText     = "Teks custom"
	DefaultFontSize = 40
	DefaultFill     = "#ffffff"

	minLayerExtent = 5
	maxLayerExtent = 20 * CanvasWidth

	// maxGlyphPixels caps the rasterized em size of text; larger text is
	// magnified by the layer transform instead.
	maxGlyphPixels = CanvasHeight * PixelRatio
)

var (
	textAnchor  = Point{X: 100, Y: 100}
	imageAnchor = Point{X: 50, Y: 50}
)

var (
	ErrLayerNotFound    = errors.New("layer not found")
	ErrInvalidTool      = errors.New("invalid tool mode")
	ErrInvalidTransform = errors.New("layer size out of range")
	ErrInvalidFontSize  = errors.New("font size must be positive")
)

type Tool string

const (
	ToolSelect Tool = "select"
	ToolErase  Tool = "erase"
)

func (t Tool) Valid() bool {
	return t == ToolSelect || t == ToolErase
}

type LayerKind string

const (
	LayerText  LayerKind = "text"
	LayerImage LayerKind = "image"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Layer is a text or image element. Position is its top-left corner in
// canvas units; rotation is in degrees around that corner.
type Layer struct {
	ID       string    `json:"id"`
	Kind     LayerKind `json:"type"`
	X        float64   `json:"x"`
	Y        float64   `json:"y"`
	Rotation float64   `json:"rotation"`
	ScaleX   float64   `json:"scaleX"`
	ScaleY   float64   `json:"scaleY"`

	Text     string  `json:"text,omitempty"`
	FontSize float64 `json:"fontSize,omitempty"`
	Fill     string  `json:"fill,omitempty"`

	// Width and Height are the unscaled extent used for hit testing.
	Width  float64 `json:"width"`
	Height float64 `json:"height"`

	image image.Image
}

// Stroke is one continuous erase drag.
type Stroke struct {
	Points []Point `json:"points"`
	Width  float64 `json:"strokeWidth"`
}

// Transform is what a resize or rotate handle commits on release.
type Transform struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Rotation float64 `json:"rotation"`
	ScaleX   float64 `json:"scaleX"`
	ScaleY   float64 `json:"scaleY"`
}

type TextPatch struct {
	Text     *string  `json:"text"`
	FontSize *float64 `json:"fontSize"`
	Fill     *string  `json:"fill"`
}

// State is a read-only copy of the editor for callers.
type State struct {
	Tool      Tool     `json:"tool"`
	BrushSize float64  `json:"brushSize"`
	Selected  string   `json:"selectedId"`
	HasBase   bool     `json:"hasBase"`
	Layers    []Layer  `json:"layers"`
	Strokes   []Stroke `json:"strokes"`
	Width     int      `json:"width"`
	Height    int      `json:"height"`
}

type drag struct {
	layerID string
	offset  Point
}

type Editor struct {
	mu sync.Mutex

	base      image.Image
	tool      Tool
	brushSize float64
	selected  string
	layers    []Layer
	strokes   []Stroke
	drawing   bool
	dragging  *drag

	resampler draw.Interpolator
	newID     func() string
}

type Option func(*Editor)

// WithResampler sets the interpolator used when scaling the base image
// and image layers. The default is CatmullRom.
func WithResampler(r draw.Interpolator) Option {
	return func(e *Editor) { e.resampler = r }
}

func WithIDGenerator(fn func() string) Option {
	return func(e *Editor) { e.newID = fn }
}

func New(opts ...Option) *Editor {
	e := &Editor{
		tool:      ToolSelect,
		brushSize: DefaultBrushSize,
		layers:    []Layer{},
		strokes:   []Stroke{},
		resampler: draw.CatmullRom,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LoadBase replaces the base image. Layers and strokes are kept.
func (e *Editor) LoadBase(img image.Image) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.base = img
}

func (e *Editor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := State{
		Tool:      e.tool,
		BrushSize: e.brushSize,
		Selected:  e.selected,
		HasBase:   e.base != nil,
		Layers:    append([]Layer{}, e.layers...),
		Strokes:   make([]Stroke, len(e.strokes)),
		Width:     CanvasWidth,
		Height:    CanvasHeight,
	}
	for i, s := range e.strokes {
		st.Strokes[i] = Stroke{Points: append([]Point{}, s.Points...), Width: s.Width}
	}
	return st
}

// SetTool switches mode. Entering erase mode drops the selection.
func (e *Editor) SetTool(t Tool) error {
	if !t.Valid() {
		return ErrInvalidTool
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.tool = t
	e.drawing = false
	e.dragging = nil
	if t == ToolErase {
		e.selected = ""
	}
	return nil
}

// SetBrushSize clamps size to the eraser range.
func (e *Editor) SetBrushSize(size float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.brushSize = math.Max(MinBrushSize, math.Min(MaxBrushSize, size))
	return e.brushSize
}

// PointerDown starts a stroke in erase mode. In select mode it selects the
// topmost layer under p and starts dragging it, or clears the selection
// when p hits only the base image or empty canvas.
func (e *Editor) PointerDown(p Point) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.tool == ToolErase {
		e.selected = ""
		e.drawing = true
		e.strokes = append(e.strokes, Stroke{Points: []Point{p}, Width: e.brushSize})
		return
	}

	i := e.hitTest(p)
	if i < 0 {
		e.selected = ""
		e.dragging = nil
		return
	}
	l := e.layers[i]
	e.selected = l.ID
	e.dragging = &drag{layerID: l.ID, offset: Point{X: p.X - l.X, Y: p.Y - l.Y}}
}

// PointerMove extends the open stroke or moves the dragged layer.
func (e *Editor) PointerMove(p Point) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.tool == ToolErase && e.drawing && len(e.strokes) > 0:
		last := &e.strokes[len(e.strokes)-1]
		last.Points = append(last.Points, p)
	case e.tool == ToolSelect && e.dragging != nil:
		if i := e.indexOf(e.dragging.layerID); i >= 0 {
			e.layers[i].X = p.X - e.dragging.offset.X
			e.layers[i].Y = p.Y - e.dragging.offset.Y
		}
	}
}

func (e *Editor) PointerUp() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.drawing = false
	e.dragging = nil
}

// AddTextLayer appends a text layer at the default anchor and switches to
// select mode.
func (e *Editor) AddTextLayer(content string) (string, error) {
	if content == "" {
		content = DefaultText
	}
	w, h, err := measureText(content, DefaultFontSize)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	l := Layer{
		ID:       e.newID(),
		Kind:     LayerText,
		X:        textAnchor.X,
		Y:        textAnchor.Y,
		ScaleX:   1,
		ScaleY:   1,
		Text:     content,
		FontSize: DefaultFontSize,
		Fill:     DefaultFill,
		Width:    w,
		Height:   h,
	}
	e.layers = append(e.layers, l)
	e.tool = ToolSelect
	return l.ID, nil
}

// AddImageLayer appends an already decoded image at its natural size and
// switches to select mode.
func (e *Editor) AddImageLayer(img image.Image) string {
	b := img.Bounds()

	e.mu.Lock()
	defer e.mu.Unlock()

	l := Layer{
		ID:     e.newID(),
		Kind:   LayerImage,
		X:      imageAnchor.X,
		Y:      imageAnchor.Y,
		ScaleX: 1,
		ScaleY: 1,
		Width:  float64(b.Dx()),
		Height: float64(b.Dy()),
		image:  img,
	}
	e.layers = append(e.layers, l)
	e.tool = ToolSelect
	return l.ID
}

// TransformLayer commits position, scale and rotation together.
func (e *Editor) TransformLayer(id string, t Transform) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.indexOf(id)
	if i < 0 {
		return ErrLayerNotFound
	}
	l := &e.layers[i]
	for _, v := range []float64{t.X, t.Y, t.Rotation, t.ScaleX, t.ScaleY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrInvalidTransform
		}
	}
	w, h := math.Abs(t.ScaleX)*l.Width, math.Abs(t.ScaleY)*l.Height
	if w < minLayerExtent || h < minLayerExtent || w > maxLayerExtent || h > maxLayerExtent {
		return ErrInvalidTransform
	}
	l.X, l.Y = t.X, t.Y
	l.Rotation = t.Rotation
	l.ScaleX, l.ScaleY = t.ScaleX, t.ScaleY
	return nil
}

func (e *Editor) UpdateText(id string, patch TextPatch) error {
	e.mu.Lock()
	i := e.indexOf(id)
	if i < 0 || e.layers[i].Kind != LayerText {
		e.mu.Unlock()
		return ErrLayerNotFound
	}
	l := e.layers[i]
	e.mu.Unlock()

	if patch.Text != nil {
		l.Text = *patch.Text
	}
	if patch.FontSize != nil {
		if *patch.FontSize <= 0 {
			return ErrInvalidFontSize
		}
		l.FontSize = *patch.FontSize
	}
	if patch.Fill != nil {
		if _, err := ParseColor(*patch.Fill); err != nil {
			return err
		}
		l.Fill = *patch.Fill
	}
	w, h, err := measureText(l.Text, l.FontSize)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// The layer may have moved or been deleted while measuring.
	if i = e.indexOf(id); i < 0 {
		return ErrLayerNotFound
	}
	cur := &e.layers[i]
	cur.Text, cur.FontSize, cur.Fill = l.Text, l.FontSize, l.Fill
	cur.Width, cur.Height = w, h
	return nil
}

// DeleteSelected removes the selected layer. It reports false when nothing
// was selected.
func (e *Editor) DeleteSelected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.selected == "" {
		return false
	}
	i := e.indexOf(e.selected)
	e.selected = ""
	e.dragging = nil
	if i < 0 {
		return false
	}
	e.layers = append(e.layers[:i:i], e.layers[i+1:]...)
	return true
}

func (e *Editor) indexOf(id string) int {
	for i := range e.layers {
		if e.layers[i].ID == id {
			return i
		}
	}
	return -1
}

// hitTest returns the index of the topmost layer containing p, or -1.
func (e *Editor) hitTest(p Point) int {
	for i := len(e.layers) - 1; i >= 0; i-- {
		if e.layers[i].contains(p) {
			return i
		}
	}
	return -1
}

func (l Layer) contains(p Point) bool {
	if l.ScaleX == 0 || l.ScaleY == 0 {
		return false
	}
	sin, cos := math.Sincos(l.Rotation * math.Pi / 180)
	dx, dy := p.X-l.X, p.Y-l.Y
	u := (cos*dx + sin*dy) / l.ScaleX
	v := (-sin*dx + cos*dy) / l.ScaleY
	return u >= 0 && u <= l.Width && v >= 0 && v <= l.Height
}

func splitLines(s string) []string {
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}
