// Package imaging decodes and encodes sticker images, resolves image
// references and implements the upscale utility.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"github.com/kolesa-team/go-webp/decoder"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
)

var ErrUnknownFormat = errors.New("unrecognized image format")

const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
	FormatGIF  = "gif"
	FormatWEBP = "webp"
)

// Sniff identifies the image format from its leading bytes.
func Sniff(data []byte) string {
	switch {
	case len(data) >= 8 && string(data[:8]) == "\x89PNG\r\n\x1a\n":
		return FormatPNG
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return FormatJPEG
	case len(data) >= 6 && (string(data[:6]) == "GIF87a" || string(data[:6]) == "GIF89a"):
		return FormatGIF
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return FormatWEBP
	}
	return ""
}

// Extension returns the file extension, dot included, for a sniffed format.
func Extension(format string) string {
	switch format {
	case FormatJPEG:
		return ".jpg"
	case FormatGIF:
		return ".gif"
	case FormatWEBP:
		return ".webp"
	default:
		return ".png"
	}
}

func ContentType(format string) string {
	switch format {
	case FormatJPEG:
		return "image/jpeg"
	case FormatGIF:
		return "image/gif"
	case FormatWEBP:
		return "image/webp"
	default:
		return "image/png"
	}
}

func Decode(data []byte) (image.Image, error) {
	switch Sniff(data) {
	case FormatWEBP:
		img, err := webp.Decode(bytes.NewReader(data), &decoder.Options{})
		if err != nil {
			return nil, fmt.Errorf("decode webp: %w", err)
		}
		return img, nil
	case "":
		return nil, ErrUnknownFormat
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

func EncodePNG(img image.Image) ([]byte, error) {
	var out bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&out, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return out.Bytes(), nil
}

// EncodeWEBP writes lossless WebP.
func EncodeWEBP(img image.Image) ([]byte, error) {
	opts, err := encoder.NewLosslessEncoderOptions(encoder.PresetDefault, 6)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	if err := webp.Encode(&out, img, opts); err != nil {
		return nil, fmt.Errorf("encode webp: %w", err)
	}
	return out.Bytes(), nil
}

// Encode writes img in format, which is png or webp.
func Encode(img image.Image, format string) ([]byte, error) {
	switch format {
	case "", FormatPNG:
		return EncodePNG(img)
	case FormatWEBP:
		return EncodeWEBP(img)
	}
	return nil, fmt.Errorf("unsupported output format %q", format)
}
