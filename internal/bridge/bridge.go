// Package bridge routes host runtime events into the session store.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/genricoloni/nowplaying/internal/metrics"
	"go.uber.org/zap"
)

// ErrUnknownEvent is returned when decoding an envelope with an unsupported event name
var ErrUnknownEvent = errors.New("unknown event")

// Store is the part of the session store the bridge drives
type Store interface {
	Initialize(sessions map[int]domain.Session)
	Upsert(session domain.Session)
	Remove(session domain.Session)
}

// Bridge applies host events to a Store one at a time, in arrival order
type Bridge struct {
	logger  *zap.Logger
	store   Store
	fetcher domain.StateFetcher
	metrics *metrics.Metrics
}

// New creates a bridge. fetcher may be nil when there is no last-known-state source.
func New(logger *zap.Logger, store Store, fetcher domain.StateFetcher, m *metrics.Metrics) *Bridge {
	return &Bridge{
		logger:  logger,
		store:   store,
		fetcher: fetcher,
		metrics: m,
	}
}

// Run requests the last known state once, applies it as an initialize event and
// then applies events until ctx is cancelled or the channel is closed.
func (b *Bridge) Run(ctx context.Context, events <-chan domain.BridgeEvent) error {
	b.Bootstrap(ctx)

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Bridge stopped")
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				b.logger.Info("Bridge event stream closed")
				return nil
			}
			b.Dispatch(ev)
		}
	}
}

// Bootstrap performs the last-known-state request. Failures are logged and the
// store keeps whatever it had.
func (b *Bridge) Bootstrap(ctx context.Context) {
	if b.fetcher == nil {
		return
	}
	payload, err := b.fetcher.LastKnownState(ctx)
	if err != nil {
		b.logger.Warn("Failed to fetch last known state", zap.Error(err))
		return
	}
	b.Dispatch(domain.BridgeEvent{Name: domain.EventInitialize, Initialize: payload})
}

// Dispatch applies a single event. Absent payloads are logged and skipped.
func (b *Bridge) Dispatch(ev domain.BridgeEvent) {
	switch ev.Name {
	case domain.EventInitialize:
		if ev.Initialize == nil {
			b.skip(ev.Name)
			return
		}
		b.store.Initialize(ev.Initialize.Sessions)

	case domain.EventUpdate, domain.EventSessionCreate, domain.EventSessionUpdate:
		record, ok := b.record(ev)
		if !ok {
			return
		}
		b.store.Upsert(record)

	case domain.EventDelete, domain.EventSessionDelete:
		record, ok := b.record(ev)
		if !ok {
			return
		}
		b.store.Remove(record)

	default:
		b.logger.Warn("Unsupported bridge event", zap.String("event", ev.Name))
	}
}

func (b *Bridge) record(ev domain.BridgeEvent) (domain.Session, bool) {
	if ev.Session == nil || ev.Session.SessionRecord == nil {
		b.skip(ev.Name)
		return domain.Session{}, false
	}
	return *ev.Session.SessionRecord, true
}

func (b *Bridge) skip(name string) {
	b.metrics.SkippedPayload(name)
	b.logger.Info("Skipping event without payload", zap.String("event", name))
}

// HandleMessage decodes a JSON envelope and dispatches it
func (b *Bridge) HandleMessage(raw []byte) error {
	ev, err := Decode(raw)
	if err != nil {
		return err
	}
	b.Dispatch(ev)
	return nil
}

type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Decode parses {"event": name, "payload": ...}. A null or missing payload
// decodes to an event without payload, which Dispatch skips.
func Decode(raw []byte) (domain.BridgeEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.BridgeEvent{}, fmt.Errorf("decode envelope: %w", err)
	}

	ev := domain.BridgeEvent{Name: env.Event}
	hasPayload := len(env.Payload) > 0 && !bytes.Equal(env.Payload, []byte("null"))

	switch env.Event {
	case domain.EventInitialize:
		if hasPayload {
			var p domain.InitializePayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return domain.BridgeEvent{}, fmt.Errorf("decode %s payload: %w", env.Event, err)
			}
			ev.Initialize = &p
		}
	case domain.EventUpdate, domain.EventDelete,
		domain.EventSessionCreate, domain.EventSessionUpdate, domain.EventSessionDelete:
		if hasPayload {
			var p domain.SessionPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return domain.BridgeEvent{}, fmt.Errorf("decode %s payload: %w", env.Event, err)
			}
			ev.Session = &p
		}
	default:
		return domain.BridgeEvent{}, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	return ev, nil
}
