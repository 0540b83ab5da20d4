package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// PlaybackStatus represents the current state of a media session
type PlaybackStatus string

const (
	StatusClosed   PlaybackStatus = "Closed"
	StatusOpened   PlaybackStatus = "Opened"
	StatusChanging PlaybackStatus = "Changing"
	StatusStopped  PlaybackStatus = "Stopped"
	// StatusPlaying indicates the media is currently playing
	StatusPlaying PlaybackStatus = "Playing"
	// StatusPaused indicates the media is paused
	StatusPaused PlaybackStatus = "Paused"
)

// PlaybackType describes the kind of media a session is playing
type PlaybackType string

const (
	PlaybackUnknown PlaybackType = "Unknown"
	PlaybackMusic   PlaybackType = "Music"
	PlaybackVideo   PlaybackType = "Video"
	PlaybackImage   PlaybackType = "Image"
)

// AutoRepeat is the repeat mode reported by the player
type AutoRepeat string

const (
	RepeatNone  AutoRepeat = "None"
	RepeatTrack AutoRepeat = "Track"
	RepeatList  AutoRepeat = "List"
)

// SystemTime is a wall clock instant split into seconds and nanoseconds since the epoch
type SystemTime struct {
	Secs  int64 `json:"secs_since_epoch"`
	Nanos int64 `json:"nanos_since_epoch"`
}

// NewSystemTime converts t into a SystemTime
func NewSystemTime(t time.Time) *SystemTime {
	return &SystemTime{Secs: t.Unix(), Nanos: int64(t.Nanosecond())}
}

// UnixNano returns the instant in nanoseconds since the epoch, saturating at
// the int64 bounds. A nil receiver is 0.
func (t *SystemTime) UnixNano() int64 {
	if t == nil {
		return 0
	}

	const maxSecs = math.MaxInt64 / int64(time.Second)
	switch {
	case t.Secs > maxSecs:
		return math.MaxInt64
	case t.Secs < -maxSecs:
		return math.MinInt64
	}

	ns := t.Secs * int64(time.Second)
	switch {
	case t.Nanos > 0 && ns > math.MaxInt64-t.Nanos:
		return math.MaxInt64
	case t.Nanos < 0 && ns < math.MinInt64-t.Nanos:
		return math.MinInt64
	}
	return ns + t.Nanos
}

// Time converts the instant back into a time.Time
func (t *SystemTime) Time() time.Time {
	if t == nil {
		return time.Time{}
	}
	return time.Unix(t.Secs, t.Nanos)
}

// AlbumModel holds album level metadata
type AlbumModel struct {
	Artist     string `json:"artist"`
	Title      string `json:"title"`
	TrackCount int    `json:"track_count"`
}

// MediaModel contains information about the track currently loaded in a session
type MediaModel struct {
	Album        *AlbumModel  `json:"album"`
	Artist       string       `json:"artist"`
	Genres       []string     `json:"genres"`
	PlaybackType PlaybackType `json:"playback_type"`
	Subtitle     string       `json:"subtitle"`
	Title        string       `json:"title"`
	TrackNumber  *int         `json:"track_number"`
}

// PlaybackModel is the transport state of a session
type PlaybackModel struct {
	AutoRepeat AutoRepeat     `json:"auto_repeat"`
	Rate       float64        `json:"rate"`
	Shuffle    bool           `json:"shuffle"`
	Status     PlaybackStatus `json:"status"`
	Type       PlaybackType   `json:"type"`
}

// TimelineModel positions are expressed in milliseconds
type TimelineModel struct {
	End             int64 `json:"end"`
	LastUpdatedAtMs int64 `json:"last_updated_at_ms"`
	Position        int64 `json:"position"`
	Start           int64 `json:"start"`
}

// SessionModel is a point-in-time snapshot of a media session
type SessionModel struct {
	Playback *PlaybackModel `json:"playback"`
	Timeline *TimelineModel `json:"timeline"`
	Media    *MediaModel    `json:"media"`
	Source   string         `json:"source"`
}

// ByteValues marshals as a JSON array of numbers instead of base64
type ByteValues []byte

func (b ByteValues) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}
	values := make([]uint16, len(b))
	for i, v := range b {
		values[i] = uint16(v)
	}
	return json.Marshal(values)
}

func (b *ByteValues) UnmarshalJSON(data []byte) error {
	var values []int
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	if values == nil {
		*b = nil
		return nil
	}
	out := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return fmt.Errorf("byte value out of range at index %d: %d", i, v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// ThumbnailInfo carries raw artwork bytes. URL is derived for display and never persisted.
type ThumbnailInfo struct {
	ContentType string     `json:"content_type,omitempty"`
	Data        ByteValues `json:"data,omitempty"`
	URL         string     `json:"url,omitempty"`
}

// MediaUpdate is the latest media payload of a session, serialized as {"Media": [model, thumbnail]}
type MediaUpdate struct {
	Model     SessionModel
	Thumbnail *ThumbnailInfo
}

func (u MediaUpdate) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string][2]any{
		"Media": {u.Model, u.Thumbnail},
	})
}

func (u *MediaUpdate) UnmarshalJSON(data []byte) error {
	var wire struct {
		Media []json.RawMessage `json:"Media"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if len(wire.Media) != 2 {
		return fmt.Errorf("media update: expected 2 elements, got %d", len(wire.Media))
	}
	var out MediaUpdate
	if err := json.Unmarshal(wire.Media[0], &out.Model); err != nil {
		return fmt.Errorf("media update model: %w", err)
	}
	if err := json.Unmarshal(wire.Media[1], &out.Thumbnail); err != nil {
		return fmt.Errorf("media update thumbnail: %w", err)
	}
	*u = out
	return nil
}

// ModelUpdate is the latest playback/timeline snapshot of a session, serialized as {"Model": model}
type ModelUpdate struct {
	Model SessionModel `json:"Model"`
}

// Session is a live media source as tracked by the host runtime
type Session struct {
	SessionID        int          `json:"session_id"`
	Source           string       `json:"source"`
	TimestampCreated *SystemTime  `json:"timestamp_created"`
	TimestampUpdated *SystemTime  `json:"timestamp_updated"`
	LastMediaUpdate  *MediaUpdate `json:"last_media_update"`
	LastModelUpdate  *ModelUpdate `json:"last_model_update"`
}

// Status returns the playback status of the latest model update, falling back
// to the playback block of the latest media update.
func (s Session) Status() PlaybackStatus {
	if s.LastModelUpdate != nil && s.LastModelUpdate.Model.Playback != nil {
		return s.LastModelUpdate.Model.Playback.Status
	}
	if s.LastMediaUpdate != nil && s.LastMediaUpdate.Model.Playback != nil {
		return s.LastMediaUpdate.Model.Playback.Status
	}
	return ""
}

// IsPlaying reports whether the session is actively playing
func (s Session) IsPlaying() bool {
	return s.Status() == StatusPlaying
}

// PrioritySource is the identifier matched against the source priority list
func (s Session) PrioritySource() string {
	return s.Source
}

// Recency is the last update time in nanoseconds since the epoch, 0 when unknown
func (s Session) Recency() int64 {
	return s.TimestampUpdated.UnixNano()
}

// Media returns the most recent media metadata and thumbnail, if any
func (s Session) Media() (*MediaModel, *ThumbnailInfo) {
	if s.LastMediaUpdate == nil {
		return nil, nil
	}
	return s.LastMediaUpdate.Model.Media, s.LastMediaUpdate.Thumbnail
}

// ScreenResolution holds the display dimensions
type ScreenResolution struct {
	Width  int
	Height int
}
