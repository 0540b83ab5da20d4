// Package session folds raw monitor events into session records, the way the
// host runtime does before forwarding them to the overlay store.
package session

import (
	"context"
	"maps"
	"sync"

	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Tracker keeps the host side view of every live session.
// It also answers the last-known-state request made by the store at startup.
type Tracker struct {
	logger *zap.Logger
	clock  clockwork.Clock

	mu       sync.RWMutex
	sessions map[int]domain.Session
}

// NewTracker creates an empty tracker stamping records with clock
func NewTracker(logger *zap.Logger, clock clockwork.Clock) *Tracker {
	return &Tracker{
		logger:   logger,
		clock:    clock,
		sessions: make(map[int]domain.Session),
	}
}

// Apply records ev and returns the bridge event to forward, if any
func (t *Tracker) Apply(ev domain.SessionEvent) (domain.BridgeEvent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := domain.NewSystemTime(t.clock.Now())

	switch ev.Kind {
	case domain.SessionCreated:
		record := domain.Session{
			SessionID:        ev.SessionID,
			Source:           ev.Source,
			TimestampCreated: now,
		}
		t.sessions[ev.SessionID] = record
		t.logger.Info("Session created",
			zap.Int("sessionId", ev.SessionID),
			zap.String("source", ev.Source))
		return sessionEvent(domain.EventSessionCreate, record), true

	case domain.SessionUpdated:
		if ev.Update == nil {
			t.logger.Warn("Update event without payload, ignoring", zap.Int("sessionId", ev.SessionID))
			return domain.BridgeEvent{}, false
		}

		record, ok := t.sessions[ev.SessionID]
		if ok {
			record.TimestampUpdated = now
		} else {
			// Updates can race ahead of the creation event; the source stays unknown
			t.logger.Debug("Update for unknown session", zap.Int("sessionId", ev.SessionID))
			created := *now
			record = domain.Session{
				SessionID:        ev.SessionID,
				TimestampCreated: &created,
				TimestampUpdated: now,
			}
		}

		switch ev.Update.Kind {
		case domain.UpdateMedia:
			record.LastMediaUpdate = &domain.MediaUpdate{
				Model:     ev.Update.Model,
				Thumbnail: ev.Update.Thumbnail,
			}
		default:
			record.LastModelUpdate = &domain.ModelUpdate{Model: ev.Update.Model}
		}

		t.sessions[ev.SessionID] = record
		return sessionEvent(domain.EventSessionUpdate, record), true

	case domain.SessionRemoved:
		record, ok := t.sessions[ev.SessionID]
		if !ok {
			t.logger.Debug("Removal of unknown session", zap.Int("sessionId", ev.SessionID))
			return domain.BridgeEvent{}, false
		}
		delete(t.sessions, ev.SessionID)
		t.logger.Info("Session removed",
			zap.Int("sessionId", ev.SessionID),
			zap.String("source", record.Source))
		return sessionEvent(domain.EventSessionDelete, record), true

	default:
		t.logger.Warn("Unsupported session event", zap.Stringer("kind", ev.Kind))
		return domain.BridgeEvent{}, false
	}
}

// Get returns the record for id
func (t *Tracker) Get(id int) (domain.Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[id]
	return s, ok
}

// LastKnownState returns every live session
func (t *Tracker) LastKnownState(ctx context.Context) (*domain.InitializePayload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return &domain.InitializePayload{Sessions: maps.Clone(t.sessions)}, nil
}

func sessionEvent(name string, record domain.Session) domain.BridgeEvent {
	return domain.BridgeEvent{
		Name:    name,
		Session: &domain.SessionPayload{SessionRecord: &record},
	}
}
