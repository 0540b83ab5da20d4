package domain

// SessionEventKind is the lifecycle step reported by a monitor
type SessionEventKind int

const (
	// SessionCreated is emitted once when a player appears
	SessionCreated SessionEventKind = iota
	// SessionUpdated carries a new model or media snapshot
	SessionUpdated
	// SessionRemoved is emitted when a player disappears
	SessionRemoved
)

func (k SessionEventKind) String() string {
	switch k {
	case SessionCreated:
		return "created"
	case SessionUpdated:
		return "updated"
	case SessionRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// UpdateKind selects which slot of a Session an update replaces
type UpdateKind int

const (
	UpdateModel UpdateKind = iota
	UpdateMedia
)

// SessionUpdate is a model or media snapshot for one session
type SessionUpdate struct {
	Kind      UpdateKind
	Model     SessionModel
	Thumbnail *ThumbnailInfo
}

// SessionEvent is a raw lifecycle event produced by a Monitor
type SessionEvent struct {
	Kind      SessionEventKind
	SessionID int
	// Source is only set on SessionCreated
	Source string
	// Update is only set on SessionUpdated
	Update *SessionUpdate
	// ArtURL points at the artwork of the current track, if the player exposes one
	ArtURL string
}

// Bridge event names. The first three are consumed by the store, the session_*
// names are what the host runtime emits and are accepted as aliases.
const (
	EventInitialize    = "initialize"
	EventUpdate        = "update"
	EventDelete        = "delete"
	EventSessionCreate = "session_create"
	EventSessionUpdate = "session_update"
	EventSessionDelete = "session_delete"
)

// InitializePayload replaces the whole session mapping
type InitializePayload struct {
	Sessions map[int]Session `json:"sessions"`
}

// SessionPayload wraps a single session record
type SessionPayload struct {
	SessionRecord *Session `json:"sessionRecord"`
}

// BridgeEvent is one host runtime event routed to the store
type BridgeEvent struct {
	Name       string
	Initialize *InitializePayload
	Session    *SessionPayload
}
