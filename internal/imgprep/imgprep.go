// Package imgprep normalizes page images before they reach the vision
// model: edge trimming, orientation correction, tall-page splitting
// and size-bounded recompression.
//
// Encoded output never carries a DPI header (Go's png encoder writes
// no pHYs chunk), and the OSD workers pin user_defined_dpi, so
// Tesseract has no occasion to warn about invalid resolutions.
package imgprep

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // pages arrive as JPEG when the source was one
	"image/png"
	"math"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/spherical/docmark/internal/tesspool"
)

// maxAspect is the height:width ratio beyond which a page is split so
// vision-model tiles stay within reasonable bounds. A guideline, not a
// contract.
const maxAspect = 5.0

// trimTolerance is the per-channel distance (16-bit) within which a
// pixel still counts as background during edge trimming.
const trimTolerance = 2500

// Detector reports page orientation; satisfied by tesspool.Pool
type Detector interface {
	Detect(ctx context.Context, png []byte) (tesspool.Orientation, error)
}

// CleanupOptions controls the per-page normalization steps
type CleanupOptions struct {
	CorrectOrientation bool
	TrimEdges          bool
	Detector           Detector // required when CorrectOrientation is set
	Log                zerolog.Logger
}

// Cleanup normalizes one PNG page. It returns a single buffer in the
// normal case and several when the page is split for aspect ratio.
func Cleanup(ctx context.Context, data []byte, opts CleanupOptions) ([][]byte, error) {
	img, err := decodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("decoding page image: %w", err)
	}

	if opts.TrimEdges {
		img = TrimUniformBorders(img)
	}

	if opts.CorrectOrientation && opts.Detector != nil {
		encoded, err := EncodePNG(img)
		if err != nil {
			return nil, err
		}
		orient, err := opts.Detector.Detect(ctx, encoded)
		if err != nil {
			// Blank or text-free pages routinely fail OSD; leave the
			// page as is.
			opts.Log.Debug().Err(err).Msg("orientation detection skipped")
		} else if orient.Rotate == 90 || orient.Rotate == 180 || orient.Rotate == 270 {
			img = Rotate(img, orient.Rotate)
			opts.Log.Debug().
				Int("rotate", orient.Rotate).
				Float64("confidence", orient.Confidence).
				Msg("corrected page orientation")
		}
	}

	segments := SplitTall(img, maxAspect)
	out := make([][]byte, 0, len(segments))
	for _, seg := range segments {
		encoded, err := EncodePNG(seg)
		if err != nil {
			return nil, err
		}
		out = append(out, encoded)
	}
	return out, nil
}

func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

// EncodePNG encodes img as PNG
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

// MIMEType sniffs an image buffer's media type, defaulting to PNG
func MIMEType(data []byte) string {
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return "image/png"
	}
	return mime
}

// DataURL encodes an image buffer as a base64 data URL
func DataURL(data []byte) string {
	return "data:" + MIMEType(data) + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Rotate returns img rotated clockwise by 90, 180 or 270 degrees.
// Other angles return img unchanged.
func Rotate(img image.Image, degreesCW int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var (
		dst *image.RGBA
		m   f64.Aff3
	)
	switch degreesCW % 360 {
	case 90:
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
		m = f64.Aff3{0, -1, float64(h), 1, 0, 0}
	case 180:
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
		m = f64.Aff3{-1, 0, float64(w), 0, -1, float64(h)}
	case 270:
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
		m = f64.Aff3{0, 1, 0, -1, 0, float64(w)}
	default:
		return img
	}
	draw.NearestNeighbor.Transform(dst, m, img, b, draw.Src, nil)
	return dst
}

// TrimUniformBorders crops borders whose pixels match the top-left
// corner color within a tolerance. A fully uniform image is returned
// unchanged.
func TrimUniformBorders(img image.Image) image.Image {
	b := img.Bounds()
	bg := img.At(b.Min.X, b.Min.Y)

	top := b.Min.Y
	for top < b.Max.Y && rowUniform(img, top, bg) {
		top++
	}
	if top == b.Max.Y {
		return img
	}
	bottom := b.Max.Y - 1
	for bottom > top && rowUniform(img, bottom, bg) {
		bottom--
	}
	left := b.Min.X
	for left < b.Max.X && colUniform(img, left, top, bottom, bg) {
		left++
	}
	right := b.Max.X - 1
	for right > left && colUniform(img, right, top, bottom, bg) {
		right--
	}

	rect := image.Rect(left, top, right+1, bottom+1)
	if rect == b {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Copy(dst, image.Point{}, img, rect, draw.Src, nil)
	return dst
}

func rowUniform(img image.Image, y int, bg color.Color) bool {
	b := img.Bounds()
	for x := b.Min.X; x < b.Max.X; x++ {
		if !colorsClose(img.At(x, y), bg) {
			return false
		}
	}
	return true
}

func colUniform(img image.Image, x, top, bottom int, bg color.Color) bool {
	for y := top; y <= bottom; y++ {
		if !colorsClose(img.At(x, y), bg) {
			return false
		}
	}
	return true
}

func colorsClose(a, b color.Color) bool {
	ar, ag, ab, _ := a.RGBA()
	br, bg, bb, _ := b.RGBA()
	return absDiff(ar, br) <= trimTolerance &&
		absDiff(ag, bg) <= trimTolerance &&
		absDiff(ab, bb) <= trimTolerance
}

func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

// SplitTall slices img into vertical segments when its height exceeds
// ratio times its width, so each segment stays under the ratio.
func SplitTall(img image.Image, ratio float64) []image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || float64(h)/float64(w) <= ratio {
		return []image.Image{img}
	}

	segments := int(math.Ceil(float64(h) / (float64(w) * ratio)))
	segHeight := int(math.Ceil(float64(h) / float64(segments)))

	out := make([]image.Image, 0, segments)
	for y := b.Min.Y; y < b.Max.Y; y += segHeight {
		end := y + segHeight
		if end > b.Max.Y {
			end = b.Max.Y
		}
		rect := image.Rect(b.Min.X, y, b.Max.X, end)
		dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
		draw.Copy(dst, image.Point{}, img, rect, draw.Src, nil)
		out = append(out, dst)
	}
	return out
}

// ScaleToHeight resizes img to the given height, preserving aspect
// ratio. Non-positive heights return img unchanged.
func ScaleToHeight(img image.Image, height int) image.Image {
	b := img.Bounds()
	if height <= 0 || b.Dy() == 0 || height == b.Dy() {
		return img
	}
	width := int(math.Round(float64(b.Dx()) * float64(height) / float64(b.Dy())))
	if width < 1 {
		width = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// CompressToSize re-encodes data until it fits maxBytes, shrinking
// dimensions stepwise. PNG has no quality knob, so size reduction
// comes from downscaling.
func CompressToSize(data []byte, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 || int64(len(data)) <= maxBytes {
		return data, nil
	}
	img, err := decodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("decoding image for compression: %w", err)
	}

	const attempts = 6
	current := data
	for i := 0; i < attempts && int64(len(current)) > maxBytes; i++ {
		scale := math.Sqrt(float64(maxBytes)/float64(len(current))) * 0.95
		if scale >= 1 {
			scale = 0.9
		}
		b := img.Bounds()
		w := int(float64(b.Dx()) * scale)
		h := int(float64(b.Dy()) * scale)
		if w < 1 || h < 1 {
			break
		}
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		img = dst

		current, err = EncodePNG(img)
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}
