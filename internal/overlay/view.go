package overlay

import (
	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/genricoloni/nowplaying/internal/priority"
	"github.com/genricoloni/nowplaying/internal/store"
	"go.uber.org/zap"
)

// Entry is a session as the overlay renders it
type Entry struct {
	domain.Session
	Playing      bool   `json:"playing"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// View is the priority ordered list of sessions. The last entry is shown on top.
type View struct {
	Sessions      []Entry `json:"sessions"`
	Top           *Entry  `json:"top"`
	StyleOverride string  `json:"styleOverride"`
}

// BuildView orders the sessions of st and resolves their thumbnails.
// A thumbnail that cannot be converted is logged and left out.
func BuildView(logger *zap.Logger, conv domain.ThumbnailConverter, st store.State) View {
	sorted := priority.Sort(st.Sessions, st.SourcePriority)

	view := View{
		Sessions:      make([]Entry, 0, len(sorted)),
		StyleOverride: st.StyleOverride,
	}

	for _, s := range sorted {
		entry := Entry{Session: s, Playing: s.IsPlaying()}

		if media := s.LastMediaUpdate; media != nil && media.Thumbnail != nil && conv != nil {
			url, err := conv.Convert(*media.Thumbnail)
			if err != nil {
				logger.Warn("Failed to convert thumbnail",
					zap.Int("sessionId", s.SessionID),
					zap.String("source", s.Source),
					zap.Error(err))
			}
			entry.ThumbnailURL = url
		}

		view.Sessions = append(view.Sessions, entry)
	}

	if n := len(view.Sessions); n > 0 {
		top := view.Sessions[n-1]
		view.Top = &top
	}

	return view
}
