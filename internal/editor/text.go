package editor

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/image/colornames"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

var (
	fontOnce sync.Once
	textFont *opentype.Font
	fontErr  error
)

func loadFont() (*opentype.Font, error) {
	fontOnce.Do(func() {
		textFont, fontErr = opentype.Parse(goregular.TTF)
	})
	return textFont, fontErr
}

// newFace returns a face at size pixels. Faces are not safe for concurrent
// use, so every caller gets its own.
func newFace(size float64) (font.Face, error) {
	f, err := loadFont()
	if err != nil {
		return nil, fmt.Errorf("load font: %w", err)
	}
	return opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
}

// measureText returns the unscaled box of content. Lines are fontSize apart.
func measureText(content string, fontSize float64) (float64, float64, error) {
	face, err := newFace(fontSize)
	if err != nil {
		return 0, 0, err
	}
	defer face.Close()

	lines := splitLines(content)
	width := 0.0
	for _, line := range lines {
		adv := font.MeasureString(face, line)
		width = math.Max(width, float64(adv)/64)
	}
	return width, float64(len(lines)) * fontSize, nil
}

// textBounds is the full raster of a text layer at ratio pixels per
// canvas unit.
func textBounds(l Layer, ratio float64) image.Rectangle {
	w := int(math.Ceil(l.Width * ratio))
	h := int(math.Ceil(l.Height * ratio))
	return image.Rect(0, 0, max(w, 1), max(h, 1))
}

// renderText rasterizes the area part of a text layer at ratio pixels per
// canvas unit. area is in the coordinates of textBounds.
func renderText(l Layer, ratio float64, area image.Rectangle) (*image.RGBA, error) {
	fill, err := ParseColor(l.Fill)
	if err != nil {
		return nil, err
	}

	size := l.FontSize * ratio
	face, err := newFace(size)
	if err != nil {
		return nil, err
	}
	defer face.Close()

	dst := image.NewRGBA(area)

	m := face.Metrics()
	ascent := float64(m.Ascent) / 64
	descent := float64(m.Descent) / 64

	d := font.Drawer{Dst: dst, Src: image.NewUniform(fill), Face: face}
	for i, line := range splitLines(l.Text) {
		// Each line is vertically centered in a box one font size tall.
		top := float64(i) * size
		if top-size > float64(area.Max.Y) || top+2*size < float64(area.Min.Y) {
			continue
		}
		baseline := top + (size+ascent-descent)/2
		d.Dot = fixed.Point26_6{X: 0, Y: fixed.Int26_6(baseline * 64)}
		d.DrawString(line)
	}
	return dst, nil
}

// ParseColor accepts #rgb, #rrggbb, #rrggbbaa and SVG color names.
func ParseColor(s string) (color.NRGBA, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "#") {
		if c, ok := colornames.Map[strings.ToLower(s)]; ok {
			return color.NRGBA{R: c.R, G: c.G, B: c.B, A: c.A}, nil
		}
		return color.NRGBA{}, fmt.Errorf("unknown color %q", s)
	}

	hex := s[1:]
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
