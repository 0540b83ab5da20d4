package display

import (
	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/kbinani/screenshot"
	"go.uber.org/zap"
)

const (
	fallbackWidth  = 1920
	fallbackHeight = 1080
)

// displayBounds abstracts the screenshot package so tests can run headless
type displayBounds interface {
	NumActiveDisplays() int
	Bounds(index int) (width, height int)
}

type screenshotBounds struct{}

func (screenshotBounds) NumActiveDisplays() int { return screenshot.NumActiveDisplays() }

func (screenshotBounds) Bounds(index int) (int, int) {
	b := screenshot.GetDisplayBounds(index)
	return b.Dx(), b.Dy()
}

// NewScreenResolution detects the primary screen resolution at startup
func NewScreenResolution(logger *zap.Logger) *domain.ScreenResolution {
	return detect(logger, screenshotBounds{})
}

func detect(logger *zap.Logger, src displayBounds) *domain.ScreenResolution {
	n := src.NumActiveDisplays()
	if n <= 0 {
		logger.Warn("No active displays detected, falling back to 1920x1080")
		return &domain.ScreenResolution{Width: fallbackWidth, Height: fallbackHeight}
	}

	// Use primary monitor (index 0)
	w, h := src.Bounds(0)
	if w <= 0 || h <= 0 {
		logger.Warn("Primary display reported empty bounds, falling back to 1920x1080",
			zap.Int("width", w),
			zap.Int("height", h))
		return &domain.ScreenResolution{Width: fallbackWidth, Height: fallbackHeight}
	}

	res := &domain.ScreenResolution{Width: w, Height: h}

	logger.Info("Screen resolution detected",
		zap.Int("width", res.Width),
		zap.Int("height", res.Height))

	return res
}
