package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/genricoloni/nowplaying/internal/domain"
	"go.uber.org/zap"
)

const _maxImageSize = 10 * 1024 * 1024 // 10 MB

var (
	// ErrUnsupportedScheme is returned for artwork URLs that are neither http(s) nor local files
	ErrUnsupportedScheme = errors.New("unsupported artwork url scheme")
	// ErrNotImage is returned when the resource is not an image
	ErrNotImage = errors.New("resource is not an image")
)

// ArtworkFetcher retrieves album art from HTTP/HTTPS URLs and local files
type ArtworkFetcher struct {
	logger *zap.Logger
	client *http.Client
}

// NewArtworkFetcher creates a new artwork fetcher instance
func NewArtworkFetcher(logger *zap.Logger) *ArtworkFetcher {
	return &ArtworkFetcher{
		logger: logger,
		client: &http.Client{
			Timeout: 10 * time.Second, // Essential to prevent blocking the engine loop
		},
	}
}

// Fetch returns the image at rawURL as thumbnail bytes plus content type.
// Players report either http(s) URLs or file:// URIs; bare paths are read as files.
func (f *ArtworkFetcher) Fetch(ctx context.Context, rawURL string) (*domain.ThumbnailInfo, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid artwork url: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		return f.fetchHTTP(ctx, rawURL)
	case "file":
		return f.readFile(ctx, u.Path)
	case "":
		return f.readFile(ctx, rawURL)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
}

func (f *ArtworkFetcher) fetchHTTP(ctx context.Context, rawURL string) (*domain.ThumbnailInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", "nowplayingDaemon/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("%w: %s", ErrNotImage, contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, _maxImageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	f.logger.Debug("Artwork fetched", zap.Int("bytes", len(data)), zap.String("url", rawURL))
	return &domain.ThumbnailInfo{ContentType: contentType, Data: data}, nil
}

func (f *ArtworkFetcher) readFile(ctx context.Context, path string) (*domain.ThumbnailInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open artwork: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, _maxImageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read artwork: %w", err)
	}

	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("%w: %s", ErrNotImage, contentType)
	}

	f.logger.Debug("Artwork read", zap.Int("bytes", len(data)), zap.String("path", path))
	return &domain.ThumbnailInfo{ContentType: contentType, Data: data}, nil
}
