package thumbnail

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/genricoloni/nowplaying/internal/domain"
	"go.uber.org/zap"
)

type ratioConfig float64

func (r ratioConfig) GetListenAddr() string         { return "" }
func (r ratioConfig) GetDBPath() string             { return "" }
func (r ratioConfig) GetThumbnailRatio() float64    { return float64(r) }
func (r ratioConfig) GetArtDebounce() time.Duration { return 0 }

func createTestPNG(w, h int, c color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	buf := new(bytes.Buffer)
	_ = png.Encode(buf, img)
	return buf.Bytes()
}

func newConverter(t *testing.T, height int, ratio float64) *Converter {
	t.Helper()
	c, err := NewConverter(zap.NewNop(), &domain.ScreenResolution{Width: height * 16 / 9, Height: height}, ratioConfig(ratio))
	if err != nil {
		t.Fatalf("failed to create converter: %v", err)
	}
	return c
}

func decodeDataURL(t *testing.T, url string) image.Image {
	t.Helper()
	const prefix = "data:image/jpeg;base64,"
	if !strings.HasPrefix(url, prefix) {
		t.Fatalf("unexpected url prefix: %.40s", url)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, prefix))
	if err != nil {
		t.Fatalf("invalid base64: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("invalid jpeg: %v", err)
	}
	return img
}

func TestConverter_Convert(t *testing.T) {
	tests := []struct {
		name          string
		data          []byte
		screenHeight  int
		ratio         float64
		expectedError string
		wantW, wantH  int
	}{
		{
			name:         "Downscales Square Cover",
			data:         createTestPNG(640, 640, color.RGBA{R: 255, A: 255}),
			screenHeight: 1000,
			ratio:        0.2,
			wantW:        200,
			wantH:        200,
		},
		{
			name:         "Keeps Aspect Ratio",
			data:         createTestPNG(800, 400, color.RGBA{G: 255, A: 255}),
			screenHeight: 1000,
			ratio:        0.2,
			wantW:        200,
			wantH:        100,
		},
		{
			name:         "Never Upscales",
			data:         createTestPNG(100, 100, color.RGBA{B: 255, A: 255}),
			screenHeight: 2160,
			ratio:        0.5,
			wantW:        100,
			wantH:        100,
		},
		{
			name:         "Minimum Edge",
			data:         createTestPNG(300, 300, color.RGBA{R: 9, A: 255}),
			screenHeight: 100,
			ratio:        0.1,
			wantW:        minEdge,
			wantH:        minEdge,
		},
		{
			name:          "Invalid Image Data",
			data:          []byte("not an image"),
			screenHeight:  1080,
			ratio:         0.15,
			expectedError: "failed to decode thumbnail",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newConverter(t, tt.screenHeight, tt.ratio)

			url, err := c.Convert(domain.ThumbnailInfo{ContentType: "image/png", Data: tt.data})

			if tt.expectedError != "" {
				if err == nil || !strings.Contains(err.Error(), tt.expectedError) {
					t.Fatalf("expected error containing %q, got %v", tt.expectedError, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			img := decodeDataURL(t, url)
			if b := img.Bounds(); b.Dx() != tt.wantW || b.Dy() != tt.wantH {
				t.Errorf("expected %dx%d, got %dx%d", tt.wantW, tt.wantH, b.Dx(), b.Dy())
			}
		})
	}
}

func TestConverter_EmptyData(t *testing.T) {
	c := newConverter(t, 1080, 0.15)

	url, err := c.Convert(domain.ThumbnailInfo{ContentType: "image/png"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "" {
		t.Errorf("expected empty url, got %q", url)
	}
}

func TestConverter_Cache(t *testing.T) {
	c := newConverter(t, 1080, 0.15)
	thumb := domain.ThumbnailInfo{ContentType: "image/png", Data: createTestPNG(50, 50, color.White)}

	first, err := c.Convert(thumb)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.cache.Len() != 1 {
		t.Fatalf("expected 1 cached entry, got %d", c.cache.Len())
	}

	second, err := c.Convert(thumb)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Error("cached conversion differs from the first one")
	}
	if c.cache.Len() != 1 {
		t.Errorf("expected cache hit, got %d entries", c.cache.Len())
	}
}
