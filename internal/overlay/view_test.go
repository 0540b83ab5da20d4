package overlay

import (
	"errors"
	"testing"

	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/genricoloni/nowplaying/internal/prefs"
	"github.com/genricoloni/nowplaying/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubConverter turns the thumbnail content type into a fake URL
type stubConverter struct {
	err error
}

func (s stubConverter) Convert(thumb domain.ThumbnailInfo) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if len(thumb.Data) == 0 {
		return "", nil
	}
	return "data:" + thumb.ContentType, nil
}

func playing(id int, source string) domain.Session {
	return domain.Session{
		SessionID: id,
		Source:    source,
		LastModelUpdate: &domain.ModelUpdate{Model: domain.SessionModel{
			Playback: &domain.PlaybackModel{Status: domain.StatusPlaying},
		}},
	}
}

func withThumbnail(s domain.Session) domain.Session {
	s.LastMediaUpdate = &domain.MediaUpdate{
		Model:     domain.SessionModel{Media: &domain.MediaModel{Title: "track"}},
		Thumbnail: &domain.ThumbnailInfo{ContentType: "image/png", Data: domain.ByteValues{1, 2, 3}},
	}
	return s
}

func TestBuildView_Order(t *testing.T) {
	st := store.State{
		Sessions: map[int]domain.Session{
			1: {SessionID: 1, Source: "vlc"},
			2: {SessionID: 2, Source: "spotify"},
			3: {SessionID: 3, Source: "mpv"},
		},
		Preferences: prefs.Preferences{SourcePriority: "spotify\nvlc", StyleOverride: "h1{}"},
	}

	view := BuildView(zap.NewNop(), stubConverter{}, st)

	require.Len(t, view.Sessions, 3)
	assert.Equal(t, "mpv", view.Sessions[0].Source)
	assert.Equal(t, "vlc", view.Sessions[1].Source)
	assert.Equal(t, "spotify", view.Sessions[2].Source)

	require.NotNil(t, view.Top)
	assert.Equal(t, "spotify", view.Top.Source)
	assert.Equal(t, "h1{}", view.StyleOverride)
}

func TestBuildView_Thumbnails(t *testing.T) {
	st := store.State{Sessions: map[int]domain.Session{
		1: withThumbnail(playing(1, "spotify")),
		2: {SessionID: 2, Source: "vlc"},
	}}

	view := BuildView(zap.NewNop(), stubConverter{}, st)

	byID := map[int]Entry{}
	for _, e := range view.Sessions {
		byID[e.SessionID] = e
	}
	assert.Equal(t, "data:image/png", byID[1].ThumbnailURL)
	assert.True(t, byID[1].Playing)
	assert.Empty(t, byID[2].ThumbnailURL)
	assert.False(t, byID[2].Playing)
}

func TestBuildView_ConverterErrorLeavesThumbnailOut(t *testing.T) {
	st := store.State{Sessions: map[int]domain.Session{1: withThumbnail(playing(1, "spotify"))}}

	view := BuildView(zap.NewNop(), stubConverter{err: errors.New("corrupt")}, st)

	require.Len(t, view.Sessions, 1)
	assert.Empty(t, view.Sessions[0].ThumbnailURL)
}

func TestBuildView_Empty(t *testing.T) {
	view := BuildView(zap.NewNop(), nil, store.State{})

	assert.NotNil(t, view.Sessions)
	assert.Empty(t, view.Sessions)
	assert.Nil(t, view.Top)
}
