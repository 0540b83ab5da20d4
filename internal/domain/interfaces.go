package domain

import (
	"context"
	"time"
)

// Monitor defines the interface for monitoring OS media sessions
// Implementations should handle D-Bus/MPRIS communication
type Monitor interface {
	// Start begins monitoring for media events
	// It should block until context is cancelled or an error occurs
	Start(ctx context.Context) error

	// Stop gracefully stops the monitor
	Stop(ctx context.Context) error

	// Events returns a read-only channel of session lifecycle events, in the
	// order they were observed
	Events() <-chan SessionEvent
}

// Fetcher defines the interface for retrieving album artwork
type Fetcher interface {
	// Fetch downloads or reads image data from a URL or local path
	Fetch(ctx context.Context, url string) (*ThumbnailInfo, error)
}

// ThumbnailConverter turns raw thumbnail bytes into a displayable URL
type ThumbnailConverter interface {
	Convert(thumb ThumbnailInfo) (string, error)
}

// KeyValueStore is durable storage for small serialized blobs
type KeyValueStore interface {
	// Get returns the stored value; ok is false when the key does not exist
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
}

// StateFetcher answers the "last known full state" request of the host runtime
type StateFetcher interface {
	LastKnownState(ctx context.Context) (*InitializePayload, error)
}

// Config defines the interface for application configuration
type Config interface {
	// GetListenAddr returns the address of the overlay API
	GetListenAddr() string

	// GetDBPath returns the path of the preference database
	GetDBPath() string

	// GetThumbnailRatio returns the thumbnail height as a share of screen height
	GetThumbnailRatio() float64

	// GetArtDebounce returns the quiet period before artwork is fetched
	GetArtDebounce() time.Duration
}
