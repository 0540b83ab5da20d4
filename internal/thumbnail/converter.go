// Package thumbnail turns raw artwork bytes into URLs an overlay can display.
package thumbnail

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/genricoloni/nowplaying/internal/domain"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const (
	cacheSize   = 64
	jpegQuality = 90
	minEdge     = 64
)

// Converter downsizes thumbnails to a share of the screen height and returns
// them as data URLs. Conversions are cached by content.
type Converter struct {
	logger *zap.Logger
	edge   int
	cache  *lru.Cache[string, string]
}

// NewConverter creates a converter sized for res
func NewConverter(logger *zap.Logger, res *domain.ScreenResolution, cfg domain.Config) (*Converter, error) {
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create thumbnail cache: %w", err)
	}

	edge := int(float64(res.Height) * cfg.GetThumbnailRatio())
	if edge < minEdge {
		edge = minEdge
	}

	logger.Debug("Thumbnail converter ready", zap.Int("edge", edge))

	return &Converter{
		logger: logger,
		edge:   edge,
		cache:  cache,
	}, nil
}

// Convert returns a data URL for thumb. A thumbnail without data converts to "".
func (c *Converter) Convert(thumb domain.ThumbnailInfo) (string, error) {
	if len(thumb.Data) == 0 {
		return "", nil
	}

	key := cacheKey(thumb)
	if url, ok := c.cache.Get(key); ok {
		return url, nil
	}

	data, contentType, err := c.Resize(thumb.Data)
	if err != nil {
		return "", err
	}

	url := "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
	c.cache.Add(key, url)
	return url, nil
}

// Resize decodes data, fits it into the thumbnail edge and re-encodes it as JPEG
func (c *Converter) Resize(data []byte) ([]byte, string, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode thumbnail: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, "", fmt.Errorf("invalid thumbnail dimensions: %dx%d", bounds.Dx(), bounds.Dy())
	}

	// Fit never upscales
	fitted := imaging.Fit(img, c.edge, c.edge, imaging.Lanczos)

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, fitted, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, "", fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	c.logger.Debug("Thumbnail resized",
		zap.Int("srcW", bounds.Dx()),
		zap.Int("srcH", bounds.Dy()),
		zap.Int("bytes", buf.Len()))

	return buf.Bytes(), "image/jpeg", nil
}

func cacheKey(thumb domain.ThumbnailInfo) string {
	sum := sha256.Sum256(thumb.Data)
	return thumb.ContentType + ":" + hex.EncodeToString(sum[:])
}
