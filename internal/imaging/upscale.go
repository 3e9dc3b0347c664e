package imaging

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"stickerstudio/internal/logger"
	"stickerstudio/internal/metrics"

	"golang.org/x/image/draw"
)

const (
	DefaultUpscaleTarget = 5000
	maxOutputPixels      = 120_000_000
)

var ErrInvalidTarget = errors.New("upscale target must be positive")

// ScaleFor returns max(target/w, target/h). The shorter side reaches the
// target, so both sides end up at least that long.
func ScaleFor(w, h, target int) float64 {
	return math.Max(float64(target)/float64(w), float64(target)/float64(h))
}

// Resize scales src uniformly by ScaleFor using interp.
func Resize(src image.Image, target int, interp draw.Interpolator) (*image.RGBA, error) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, errors.New("image has no pixels")
	}

	scale := ScaleFor(w, h, target)
	outW := int(math.Round(float64(w) * scale))
	outH := int(math.Round(float64(h) * scale))
	if int64(outW)*int64(outH) > maxOutputPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooLarge, outW, outH)
	}

	dst := image.NewRGBA(image.Rect(0, 0, outW, outH))
	interp.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst, nil
}

type Upscaler struct {
	fetcher *Fetcher
	interp  draw.Interpolator
}

func NewUpscaler(fetcher *Fetcher) *Upscaler {
	return &Upscaler{fetcher: fetcher, interp: draw.CatmullRom}
}

// Upscale loads ref, scales it so both sides reach at least target and
// returns lossless PNG bytes. Nothing is returned on failure.
func (u *Upscaler) Upscale(ctx context.Context, ref string, target int) ([]byte, error) {
	if target <= 0 {
		return nil, ErrInvalidTarget
	}

	out, err := u.upscale(ctx, ref, target)
	if err != nil {
		metrics.RecordUpscale("error")
		logger.Warn("Upscale failed", "target", target, "error", err)
		return nil, err
	}
	metrics.RecordUpscale("ok")
	return out, nil
}

func (u *Upscaler) upscale(ctx context.Context, ref string, target int) ([]byte, error) {
	data, err := u.fetcher.Fetch(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("load image: %w", err)
	}
	src, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dst, err := Resize(src, target, u.interp)
	if err != nil {
		return nil, err
	}
	return EncodePNG(dst)
}
