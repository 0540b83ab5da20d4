// Package engine drives the host side of the pipeline: it folds monitor
// events into session records, fetches artwork and hands the resulting
// bridge events to the store.
package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/genricoloni/nowplaying/internal/metrics"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const outBuffer = 64

// Tracker folds monitor events into session records
type Tracker interface {
	Apply(ev domain.SessionEvent) (domain.BridgeEvent, bool)
}

// artwork is the per-session artwork bookkeeping of the loop
type artwork struct {
	url   string
	thumb *domain.ThumbnailInfo
	media domain.SessionModel
	gen   uint64
	timer clockwork.Timer
}

type fired struct {
	sessionID int
	gen       uint64
}

type fetched struct {
	sessionID int
	gen       uint64
	url       string
	thumb     *domain.ThumbnailInfo
	err       error
}

// Engine orchestrates the session pipeline.
// It listens to monitor events, debounces artwork fetches per session and
// emits bridge events in the order they were produced.
type Engine struct {
	logger  *zap.Logger
	cfg     domain.Config
	clock   clockwork.Clock
	monitor domain.Monitor
	tracker Tracker
	fetcher domain.Fetcher
	metrics *metrics.Metrics

	out    chan domain.BridgeEvent
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewEngine creates a new orchestration engine
func NewEngine(
	logger *zap.Logger,
	cfg domain.Config,
	clock clockwork.Clock,
	mon domain.Monitor,
	tracker Tracker,
	fetch domain.Fetcher,
	m *metrics.Metrics,
) *Engine {
	return &Engine{
		logger:  logger,
		cfg:     cfg,
		clock:   clock,
		monitor: mon,
		tracker: tracker,
		fetcher: fetch,
		metrics: m,
		out:     make(chan domain.BridgeEvent, outBuffer),
		done:    make(chan struct{}),
	}
}

// Events returns the bridge events produced by the engine. The channel is
// closed when the loop exits.
func (e *Engine) Events() <-chan domain.BridgeEvent {
	return e.out
}

// Start launches the engine's event processing loop in a goroutine.
// It returns immediately (non-blocking). The loop outlives ctx and ends on Stop.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("Engine starting...",
		zap.Duration("artDebounce", e.cfg.GetArtDebounce()))

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel

	go e.runLoop(loopCtx)
	return nil
}

// Stop ends the loop and waits for it to exit
func (e *Engine) Stop(ctx context.Context) error {
	e.logger.Info("Engine stopping...")

	if e.cancel == nil {
		return nil
	}
	e.cancel()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("engine did not stop in time"), ctx.Err())
	}
}

// runLoop is the main event processing loop
func (e *Engine) runLoop(ctx context.Context) {
	defer e.once.Do(func() {
		close(e.out)
		close(e.done)
	})

	events := e.monitor.Events()
	art := make(map[int]*artwork)
	timers := make(chan fired, outBuffer)
	results := make(chan fetched, outBuffer)

	defer func() {
		for _, a := range art {
			if a.timer != nil {
				a.timer.Stop()
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Engine loop stopped")
			return

		case ev, ok := <-events:
			if !ok {
				e.logger.Info("Monitor events channel closed")
				return
			}
			e.handleEvent(ctx, ev, art, timers)

		case f := <-timers:
			a, ok := art[f.sessionID]
			if !ok || a.gen != f.gen {
				continue
			}
			a.timer = nil
			go e.fetch(ctx, f.sessionID, a.gen, a.url, results)

		case r := <-results:
			e.handleArtwork(ctx, r, art)
		}
	}
}

// handleEvent records ev, forwards it and schedules an artwork fetch when the
// artwork of the session changed
func (e *Engine) handleEvent(ctx context.Context, ev domain.SessionEvent, art map[int]*artwork, timers chan<- fired) {
	e.logger.Debug("Monitor event received",
		zap.Stringer("kind", ev.Kind),
		zap.Int("sessionId", ev.SessionID))

	var schedule *artwork

	switch ev.Kind {
	case domain.SessionRemoved:
		if a, ok := art[ev.SessionID]; ok {
			if a.timer != nil {
				a.timer.Stop()
			}
			delete(art, ev.SessionID)
		}

	case domain.SessionUpdated:
		if ev.Update == nil || ev.Update.Kind != domain.UpdateMedia {
			break
		}

		a, ok := art[ev.SessionID]
		if !ok {
			a = &artwork{}
			art[ev.SessionID] = a
		}
		a.media = ev.Update.Model

		if ev.ArtURL == a.url {
			// Same artwork, keep showing what we already fetched
			if ev.Update.Thumbnail == nil {
				update := *ev.Update
				update.Thumbnail = a.thumb
				ev.Update = &update
			}
			break
		}

		if a.timer != nil {
			a.timer.Stop()
			a.timer = nil
		}
		a.gen++
		a.url = ev.ArtURL
		a.thumb = nil
		if a.url != "" {
			schedule = a
		}
	}

	if bev, ok := e.tracker.Apply(ev); ok {
		e.forward(ctx, bev)
	}

	if schedule != nil {
		sessionID, gen := ev.SessionID, schedule.gen
		schedule.timer = e.clock.AfterFunc(e.cfg.GetArtDebounce(), func() {
			select {
			case timers <- fired{sessionID: sessionID, gen: gen}:
			case <-ctx.Done():
			}
		})
	}
}

func (e *Engine) fetch(ctx context.Context, sessionID int, gen uint64, url string, results chan<- fetched) {
	e.logger.Debug("Fetching artwork",
		zap.Int("sessionId", sessionID),
		zap.String("url", url))

	thumb, err := e.fetcher.Fetch(ctx, url)

	select {
	case results <- fetched{sessionID: sessionID, gen: gen, url: url, thumb: thumb, err: err}:
	case <-ctx.Done():
	}
}

// handleArtwork attaches fetched artwork to the session, unless the session
// moved on to other artwork or went away in the meantime
func (e *Engine) handleArtwork(ctx context.Context, r fetched, art map[int]*artwork) {
	a, ok := art[r.sessionID]
	if !ok || a.gen != r.gen {
		e.logger.Debug("Discarding stale artwork",
			zap.Int("sessionId", r.sessionID),
			zap.String("url", r.url))
		e.metrics.ArtworkFetch("stale")
		return
	}

	if r.err != nil {
		e.logger.Warn("Failed to fetch artwork",
			zap.Int("sessionId", r.sessionID),
			zap.String("url", r.url),
			zap.Error(r.err))
		e.metrics.ArtworkFetch("error")
		return
	}
	e.metrics.ArtworkFetch("ok")

	a.thumb = r.thumb

	ev := domain.SessionEvent{
		Kind:      domain.SessionUpdated,
		SessionID: r.sessionID,
		Update: &domain.SessionUpdate{
			Kind:      domain.UpdateMedia,
			Model:     a.media,
			Thumbnail: r.thumb,
		},
		ArtURL: r.url,
	}
	if bev, ok := e.tracker.Apply(ev); ok {
		e.logger.Info("Artwork updated",
			zap.Int("sessionId", r.sessionID),
			zap.Int("bytes", len(r.thumb.Data)))
		e.forward(ctx, bev)
	}
}

func (e *Engine) forward(ctx context.Context, ev domain.BridgeEvent) {
	select {
	case e.out <- ev:
	case <-ctx.Done():
	}
}
