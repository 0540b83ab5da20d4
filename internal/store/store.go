// Package store is the single source of truth for known media sessions and
// user preferences. Consumers subscribe and receive the full state on every
// change.
package store

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/genricoloni/nowplaying/internal/metrics"
	"github.com/genricoloni/nowplaying/internal/prefs"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const persistTimeout = 2 * time.Second

// State is an immutable snapshot of the store. Listeners must not modify it.
type State struct {
	Sessions map[int]domain.Session `json:"sessions"`
	prefs.Preferences
}

// Listener receives the state after every change
type Listener func(State)

// Store holds the session mapping and preferences.
//
// Mutations are serialized: each one is applied and announced to every
// listener before the next one starts, so listeners see changes in arrival
// order and never observe a partial update. Listeners run on the mutating
// goroutine and must not call mutating methods themselves.
type Store struct {
	logger  *zap.Logger
	kv      domain.KeyValueStore
	metrics *metrics.Metrics

	writeMu sync.Mutex // serializes apply + notify + persist

	mu          sync.RWMutex
	state       State
	listeners   map[uuid.UUID]Listener
	order       []uuid.UUID
	lastPersist []byte
}

// New creates a store seeded with defaults merged with the persisted preferences.
// Unreadable or malformed preferences are logged and replaced by defaults.
func New(logger *zap.Logger, kv domain.KeyValueStore, m *metrics.Metrics) *Store {
	s := &Store{
		logger:    logger,
		kv:        kv,
		metrics:   m,
		listeners: make(map[uuid.UUID]Listener),
	}

	p := s.loadPreferences()
	s.state = State{
		Sessions:    map[int]domain.Session{},
		Preferences: p,
	}

	logger.Info("Store initialized",
		zap.Strings("sourcePriority", p.Sources()),
		zap.Bool("styleOverride", p.StyleOverride != ""))

	return s
}

func (s *Store) loadPreferences() prefs.Preferences {
	if s.kv == nil {
		return prefs.Defaults()
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	raw, ok, err := s.kv.Get(ctx, prefs.StorageKey)
	if err != nil {
		s.logger.Warn("Failed to read persisted preferences, using defaults", zap.Error(err))
		return prefs.Defaults()
	}
	if !ok {
		s.logger.Debug("No persisted preferences, using defaults")
		return prefs.Defaults()
	}

	res := prefs.Decode(raw)
	if !res.OK() {
		s.logger.Warn("Discarding persisted preferences",
			zap.Stringer("failure", res.Failure),
			zap.Error(res.Err))
		return res.Prefs
	}
	s.lastPersist = raw
	return res.Prefs
}

// Snapshot returns the current state
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe registers fn and immediately calls it with the current state.
// The returned function removes the subscription.
func (s *Store) Subscribe(fn Listener) func() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	id := uuid.New()
	s.mu.Lock()
	s.listeners[id] = fn
	s.order = append(s.order, id)
	current := s.state
	s.mu.Unlock()

	fn(current)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.listeners[id]; !ok {
			return
		}
		delete(s.listeners, id)
		for i, other := range s.order {
			if other == id {
				s.order = append(s.order[:i:i], s.order[i+1:]...)
				break
			}
		}
	}
}

// Initialize replaces the whole session mapping. A nil mapping is ignored.
func (s *Store) Initialize(sessions map[int]domain.Session) {
	s.logger.Debug("Store handling session initialization", zap.Int("sessions", len(sessions)))
	if sessions == nil {
		s.logger.Info("Skipping initialization, no sessions in payload")
		return
	}

	replacement := maps.Clone(sessions)
	s.apply("initialize", func(st *State) {
		st.Sessions = replacement
	})
}

// Upsert inserts or replaces the session stored under session.SessionID
func (s *Store) Upsert(session domain.Session) {
	s.logger.Debug("Store handling update",
		zap.Int("sessionId", session.SessionID),
		zap.String("source", session.Source))

	s.apply("upsert", func(st *State) {
		next := maps.Clone(st.Sessions)
		next[session.SessionID] = session
		st.Sessions = next
	})
}

// Remove deletes the session stored under session.SessionID, if any
func (s *Store) Remove(session domain.Session) {
	s.logger.Debug("Store handling delete", zap.Int("sessionId", session.SessionID))

	s.apply("remove", func(st *State) {
		if _, ok := st.Sessions[session.SessionID]; !ok {
			return
		}
		next := maps.Clone(st.Sessions)
		delete(next, session.SessionID)
		st.Sessions = next
	})
}

// SetPreferences replaces both persisted preferences
func (s *Store) SetPreferences(p prefs.Preferences) {
	s.apply("preferences", func(st *State) {
		st.Preferences = p
	})
}

// UpdatePreferences applies fn to the current preferences as one mutation and
// returns the result. fn runs under the write lock and must not call the store.
func (s *Store) UpdatePreferences(fn func(*prefs.Preferences)) prefs.Preferences {
	var updated prefs.Preferences
	s.apply("preferences", func(st *State) {
		fn(&st.Preferences)
		updated = st.Preferences
	})
	return updated
}

// SetSourcePriority replaces the source priority list
func (s *Store) SetSourcePriority(list string) {
	s.apply("preferences", func(st *State) {
		st.SourcePriority = list
	})
}

// SetStyleOverride replaces the style override
func (s *Store) SetStyleOverride(style string) {
	s.apply("preferences", func(st *State) {
		st.StyleOverride = style
	})
}

// apply runs fn on a copy of the state, publishes it, notifies listeners once
// and persists the preferences. fn must copy the session map before editing it.
func (s *Store) apply(kind string, fn func(*State)) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	next := s.state
	fn(&next)
	s.state = next
	listeners := make([]Listener, 0, len(s.order))
	for _, id := range s.order {
		listeners = append(listeners, s.listeners[id])
	}
	s.mu.Unlock()

	s.metrics.StoreEvent(kind, len(next.Sessions))

	for _, fn := range listeners {
		fn(next)
	}

	s.persist(next.Preferences)
}

// persist writes the preferences when they differ from the last written value.
// Failures are logged only.
func (s *Store) persist(p prefs.Preferences) {
	if s.kv == nil {
		return
	}

	raw, err := prefs.Encode(p)
	if err != nil {
		s.logger.Warn("Failed to encode preferences", zap.Error(err))
		return
	}
	if string(raw) == string(s.lastPersist) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.kv.Set(ctx, prefs.StorageKey, raw); err != nil {
		s.logger.Warn("Failed to persist preferences", zap.Error(err))
		return
	}
	s.lastPersist = raw
}
