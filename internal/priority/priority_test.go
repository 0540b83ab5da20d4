package priority

import (
	"testing"

	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withStatus(s domain.Session, status domain.PlaybackStatus) domain.Session {
	s.LastModelUpdate = &domain.ModelUpdate{Model: domain.SessionModel{
		Playback: &domain.PlaybackModel{Status: status, AutoRepeat: domain.RepeatNone, Type: domain.PlaybackUnknown},
		Source:   "set_me",
	}}
	return s
}

func updatedAt(s domain.Session, secs int64) domain.Session {
	s.TimestampUpdated = &domain.SystemTime{Secs: secs}
	return s
}

func sources(sessions []domain.Session) []string {
	out := make([]string, len(sessions))
	for i, s := range sessions {
		out[i] = s.Source
	}
	return out
}

func fixture() map[int]domain.Session {
	base := domain.Session{
		LastMediaUpdate: &domain.MediaUpdate{Model: domain.SessionModel{
			Media:  &domain.MediaModel{Artist: "fooartist", Title: "bartitle", PlaybackType: domain.PlaybackMusic, Genres: []string{}},
			Source: "test.exe",
		}},
		LastModelUpdate: &domain.ModelUpdate{},
	}
	foobar, barbaz, notinlist := base, base, base
	foobar.SessionID, foobar.Source = 0, "foobar"
	barbaz.SessionID, barbaz.Source = 2, "barbaz"
	notinlist.SessionID, notinlist.Source = 4, "notinlist"
	return map[int]domain.Session{0: foobar, 2: barbaz, 4: notinlist}
}

func TestSort_PriorityList(t *testing.T) {
	sorted := Sort(fixture(), "barbaz\nfoobar")

	assert.Equal(t, []string{"notinlist", "foobar", "barbaz"}, sources(sorted))

	top, ok := Top(sorted)
	require.True(t, ok)
	assert.Equal(t, "barbaz", top.Source)
}

func TestSort_PlayingAfterPriorityList(t *testing.T) {
	sessions := fixture()
	sessions[0] = withStatus(sessions[0], domain.StatusPlaying)
	sessions[2] = withStatus(sessions[2], domain.StatusStopped)
	sessions[4] = withStatus(sessions[4], domain.StatusPlaying)

	sorted := Sort(sessions, "barbaz\nfoobar")

	assert.Equal(t, []string{"foobar", "notinlist", "barbaz"}, sources(sorted))
}

func TestSort_RecencyWhenListIsEmpty(t *testing.T) {
	sessions := fixture()
	sessions[0] = updatedAt(sessions[0], 10)
	sessions[2] = updatedAt(sessions[2], 100)
	sessions[4] = updatedAt(sessions[4], 1000)

	sorted := Sort(sessions, "")

	assert.Equal(t, []string{"foobar", "barbaz", "notinlist"}, sources(sorted))
}

func TestSort_RecencyUsesNanos(t *testing.T) {
	sessions := fixture()
	for id, ts := range map[int]*domain.SystemTime{
		0: {Secs: 5, Nanos: 900},
		2: {Secs: 5, Nanos: 100},
		4: nil,
	} {
		s := sessions[id]
		s.TimestampUpdated = ts
		sessions[id] = s
	}

	sorted := Sort(sessions, "")

	assert.Equal(t, []string{"notinlist", "barbaz", "foobar"}, sources(sorted))
}

func TestSort_UnlistedRanksBelowListed(t *testing.T) {
	sessions := map[int]domain.Session{
		1: {SessionID: 1, Source: "A"},
		2: {SessionID: 2, Source: "B"},
		3: {SessionID: 3, Source: "C"},
	}

	sorted := Sort(sessions, "b\na")

	assert.Equal(t, []string{"C", "A", "B"}, sources(sorted))
}

func TestSort_ListBeatsRecency(t *testing.T) {
	sessions := map[int]domain.Session{
		1: updatedAt(domain.Session{SessionID: 1, Source: "spotify"}, 1),
		2: updatedAt(domain.Session{SessionID: 2, Source: "vlc"}, 500),
	}

	sorted := Sort(sessions, "spotify")

	assert.Equal(t, []string{"vlc", "spotify"}, sources(sorted))
}

func TestSort_MissingFields(t *testing.T) {
	sessions := map[int]domain.Session{
		7: {SessionID: 7},
		8: updatedAt(domain.Session{SessionID: 8, Source: "foobar"}, 3),
	}

	sorted := Sort(sessions, "foobar")

	require.Len(t, sorted, 2)
	assert.Equal(t, 7, sorted[0].SessionID)
	assert.Equal(t, 8, sorted[1].SessionID)
}

func TestSort_Empty(t *testing.T) {
	sorted := Sort(map[int]domain.Session{}, "foobar")
	assert.Empty(t, sorted)

	_, ok := Top(sorted)
	assert.False(t, ok)

	assert.Empty(t, Sort[int, domain.Session](nil, ""))
}

func TestSort_Deterministic(t *testing.T) {
	sessions := fixture()
	sessions[0] = withStatus(sessions[0], domain.StatusPaused)
	sessions[4] = withStatus(sessions[4], domain.StatusPlaying)

	first := Sort(sessions, "barbaz\nfoobar")
	for i := 0; i < 50; i++ {
		assert.Equal(t, sources(first), sources(Sort(sessions, "barbaz\nfoobar")))
	}

	// Feeding the sorted result back in keeps the order
	again := make(map[int]domain.Session, len(first))
	for i, s := range first {
		again[i] = s
	}
	assert.Equal(t, sources(first), sources(Sort(again, "barbaz\nfoobar")))
}

func TestSort_TiedPlayingKeepsKeyOrder(t *testing.T) {
	sessions := map[int]domain.Session{
		1: withStatus(domain.Session{SessionID: 1, Source: "a"}, domain.StatusPlaying),
		2: withStatus(domain.Session{SessionID: 2, Source: "b"}, domain.StatusPlaying),
		3: withStatus(domain.Session{SessionID: 3, Source: "c"}, domain.StatusPlaying),
	}

	assert.Equal(t, []string{"a", "b", "c"}, sources(Sort(sessions, "")))
}

func TestSort_IdempotentWithTies(t *testing.T) {
	sessions := map[int]domain.Session{
		1: withStatus(domain.Session{SessionID: 1, Source: "a"}, domain.StatusPlaying),
		2: withStatus(domain.Session{SessionID: 2, Source: "b"}, domain.StatusPlaying),
		3: withStatus(domain.Session{SessionID: 3, Source: "c"}, domain.StatusPaused),
		4: withStatus(domain.Session{SessionID: 4, Source: "d"}, domain.StatusPaused),
		5: {SessionID: 5, Source: "e"},
	}

	first := Sort(sessions, "")
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, sources(first))

	again := make(map[int]domain.Session, len(first))
	for i, s := range first {
		again[i] = s
	}
	assert.Equal(t, sources(first), sources(Sort(again, "")))
}

func TestRank(t *testing.T) {
	list := "spotifyab.spotifymusic_zpdnekdrzrea0!spotify\nfoobar2000.exe"

	tests := []struct {
		name   string
		source string
		list   string
		want   int
	}{
		{name: "First Entry", source: "SpotifyAB.SpotifyMusic_zpdnekdrzrea0!Spotify", list: list, want: 0},
		{name: "Second Entry", source: "foobar2000.exe", list: list, want: 45},
		{name: "Case Insensitive", source: "FOOBAR2000.EXE", list: list, want: 45},
		{name: "Substring Match", source: "spotify", list: list, want: 0},
		{name: "Uppercase List", source: "vlc", list: "VLC", want: 0},
		{name: "Absent", source: "vlc", list: list, want: Unlisted},
		{name: "Empty Source", source: "", list: list, want: Unlisted},
		{name: "Empty List", source: "vlc", list: "", want: Unlisted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Rank(tt.source, tt.list))
		})
	}
}

type record struct {
	source  string
	playing bool
	ts      int64
}

func (r record) PrioritySource() string { return r.source }
func (r record) IsPlaying() bool        { return r.playing }
func (r record) Recency() int64         { return r.ts }

func TestSort_SourceKeyedRecords(t *testing.T) {
	records := map[string]record{
		"vlc":     {source: "vlc", ts: 30},
		"spotify": {source: "spotify", ts: 10},
		"mpv":     {source: "mpv", ts: 20},
	}

	sorted := Sort(records, "")

	require.Len(t, sorted, 3)
	assert.Equal(t, "spotify", sorted[0].source)
	assert.Equal(t, "mpv", sorted[1].source)
	assert.Equal(t, "vlc", sorted[2].source)
}
