package imgprep

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/docmark/internal/tesspool"
)

var (
	red  = color.RGBA{R: 255, A: 255}
	blue = color.RGBA{B: 255, A: 255}
)

type stubDetector struct {
	orient tesspool.Orientation
	err    error
	calls  int
}

func (s *stubDetector) Detect(_ context.Context, _ []byte) (tesspool.Orientation, error) {
	s.calls++
	return s.orient, s.err
}

// redBlueStrip is a 2x1 image: red left, blue right
func redBlueStrip(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, red)
	img.Set(1, 0, blue)
	data, err := EncodePNG(img)
	require.NoError(t, err)
	return data
}

func decode(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestRotate_Quarters(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 1))
	src.Set(0, 0, red)
	src.Set(1, 0, blue)

	t.Run("90 clockwise puts left edge on top", func(t *testing.T) {
		got := Rotate(src, 90)
		require.Equal(t, image.Rect(0, 0, 1, 2), got.Bounds())
		assert.Equal(t, red, got.At(0, 0))
		assert.Equal(t, blue, got.At(0, 1))
	})

	t.Run("180 swaps ends", func(t *testing.T) {
		got := Rotate(src, 180)
		require.Equal(t, image.Rect(0, 0, 2, 1), got.Bounds())
		assert.Equal(t, blue, got.At(0, 0))
		assert.Equal(t, red, got.At(1, 0))
	})

	t.Run("270 clockwise puts left edge on bottom", func(t *testing.T) {
		got := Rotate(src, 270)
		require.Equal(t, image.Rect(0, 0, 1, 2), got.Bounds())
		assert.Equal(t, blue, got.At(0, 0))
		assert.Equal(t, red, got.At(0, 1))
	})

	t.Run("other angles are a no-op", func(t *testing.T) {
		got := Rotate(src, 45)
		assert.Equal(t, image.Image(src), got)
	})
}

func TestTrimUniformBorders(t *testing.T) {
	t.Run("crops to content", func(t *testing.T) {
		img := image.NewRGBA(image.Rect(0, 0, 20, 20))
		for y := 0; y < 20; y++ {
			for x := 0; x < 20; x++ {
				img.Set(x, y, color.White)
			}
		}
		for y := 5; y < 15; y++ {
			for x := 5; x < 15; x++ {
				img.Set(x, y, color.Black)
			}
		}

		got := TrimUniformBorders(img)
		require.Equal(t, image.Rect(0, 0, 10, 10), got.Bounds())
		r, g, b, _ := got.At(0, 0).RGBA()
		assert.Zero(t, r+g+b)
	})

	t.Run("uniform image unchanged", func(t *testing.T) {
		img := image.NewRGBA(image.Rect(0, 0, 8, 8))
		got := TrimUniformBorders(img)
		assert.Equal(t, image.Image(img), got)
	})

	t.Run("no border to trim", func(t *testing.T) {
		img := image.NewRGBA(image.Rect(0, 0, 4, 4))
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				img.Set(x, y, color.RGBA{uint8(x * 60), uint8(y * 60), 0, 255})
			}
		}
		got := TrimUniformBorders(img)
		assert.Equal(t, image.Image(img), got)
	})
}

func TestSplitTall(t *testing.T) {
	t.Run("splits beyond ratio", func(t *testing.T) {
		img := image.NewRGBA(image.Rect(0, 0, 10, 120))
		got := SplitTall(img, 5)
		require.Len(t, got, 3)
		for _, seg := range got {
			assert.Equal(t, 10, seg.Bounds().Dx())
			assert.Equal(t, 40, seg.Bounds().Dy())
		}
	})

	t.Run("within ratio stays whole", func(t *testing.T) {
		img := image.NewRGBA(image.Rect(0, 0, 10, 40))
		got := SplitTall(img, 5)
		require.Len(t, got, 1)
		assert.Equal(t, image.Image(img), got[0])
	})

	t.Run("uneven height covers every row", func(t *testing.T) {
		img := image.NewRGBA(image.Rect(0, 0, 10, 101))
		got := SplitTall(img, 5)
		total := 0
		for _, seg := range got {
			total += seg.Bounds().Dy()
		}
		assert.Equal(t, 101, total)
	})
}

func TestScaleToHeight(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 200))

	got := ScaleToHeight(img, 100)
	assert.Equal(t, image.Rect(0, 0, 50, 100), got.Bounds())

	same := ScaleToHeight(img, 200)
	assert.Equal(t, image.Image(img), same)

	noop := ScaleToHeight(img, 0)
	assert.Equal(t, image.Image(img), noop)
}

func TestCleanup_OrientationCorrected(t *testing.T) {
	det := &stubDetector{orient: tesspool.Orientation{Rotate: 90, Confidence: 12.5}}

	out, err := Cleanup(context.Background(), redBlueStrip(t), CleanupOptions{
		CorrectOrientation: true,
		Detector:           det,
		Log:                zerolog.Nop(),
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 1, det.calls)

	img := decode(t, out[0])
	require.Equal(t, image.Rect(0, 0, 1, 2), img.Bounds())
	r, _, _, _ := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), r)
}

func TestCleanup_DetectionFailureLeavesPage(t *testing.T) {
	det := &stubDetector{err: errors.New("too few characters")}

	out, err := Cleanup(context.Background(), redBlueStrip(t), CleanupOptions{
		CorrectOrientation: true,
		Detector:           det,
		Log:                zerolog.Nop(),
	})
	require.NoError(t, err)
	require.Len(t, out, 1)

	img := decode(t, out[0])
	assert.Equal(t, image.Rect(0, 0, 2, 1), img.Bounds())
}

func TestCleanup_TrimsEdges(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 30, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 30; x++ {
			img.Set(x, y, color.White)
		}
	}
	for y := 10; y < 20; y++ {
		for x := 10; x < 20; x++ {
			img.Set(x, y, color.Black)
		}
	}
	data, err := EncodePNG(img)
	require.NoError(t, err)

	out, err := Cleanup(context.Background(), data, CleanupOptions{TrimEdges: true, Log: zerolog.Nop()})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, image.Rect(0, 0, 10, 10), decode(t, out[0]).Bounds())
}

func TestCleanup_RejectsGarbage(t *testing.T) {
	_, err := Cleanup(context.Background(), []byte("not a png"), CleanupOptions{Log: zerolog.Nop()})
	assert.Error(t, err)
}

func TestCleanup_OutputCarriesNoDPIMetadata(t *testing.T) {
	out, err := Cleanup(context.Background(), redBlueStrip(t), CleanupOptions{Log: zerolog.Nop()})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.False(t, bytes.Contains(out[0], []byte("pHYs")),
		"re-encoded pages carry no resolution chunk")
}

func TestCompressToSize(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	img := image.NewRGBA(image.Rect(0, 0, 200, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 200; x++ {
			img.Set(x, y, color.RGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}
	data, err := EncodePNG(img)
	require.NoError(t, err)

	limit := int64(len(data) / 4)
	out, err := CompressToSize(data, limit)
	require.NoError(t, err)
	assert.LessOrEqual(t, int64(len(out)), limit)
	assert.Less(t, decode(t, out).Bounds().Dx(), 200)

	t.Run("already small enough", func(t *testing.T) {
		out, err := CompressToSize(data, int64(len(data)))
		require.NoError(t, err)
		assert.Equal(t, data, out)
	})

	t.Run("zero limit disables", func(t *testing.T) {
		out, err := CompressToSize(data, 0)
		require.NoError(t, err)
		assert.Equal(t, data, out)
	})
}

func TestDataURL(t *testing.T) {
	t.Run("png detected", func(t *testing.T) {
		data := redBlueStrip(t)
		url := DataURL(data)
		require.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, "data:image/png;base64,"))
		require.NoError(t, err)
		assert.Equal(t, data, raw)
	})

	t.Run("unknown bytes fall back to png", func(t *testing.T) {
		url := DataURL([]byte{1, 2, 3})
		assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))
	})
}
