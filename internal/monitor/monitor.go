//go:build linux

package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/genricoloni/nowplaying/internal/metrics"
	"github.com/godbus/dbus/v5"
	"github.com/jonboulle/clockwork"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	mprisPrefix     = "org.mpris.MediaPlayer2."
	mprisPath       = "/org/mpris/MediaPlayer2"
	playerInterface = "org.mpris.MediaPlayer2.Player"
	eventBuffer     = 64
)

// player is the per-session state kept between signals. MPRIS only sends the
// properties that changed, the overlay wants full snapshots.
type player struct {
	id       int
	name     string
	source   string
	playback domain.PlaybackModel
	timeline domain.TimelineModel
	media    *domain.MediaModel
	artURL   string
}

// MprisMonitor monitors media sessions via the D-Bus MPRIS interface
type MprisMonitor struct {
	logger      *zap.Logger
	clock       clockwork.Clock
	metrics     *metrics.Metrics
	events      chan domain.SessionEvent
	mu          sync.RWMutex
	running     bool
	ctx         context.Context
	cancel      context.CancelFunc
	conn        DBusClient         // Interface for testability
	dropWarning rate.Sometimes     // Rate limiting for "channel full" warnings
	wg          sync.WaitGroup     // Tracks active producer goroutines
	playerNames map[string]string  // Maps unique bus names (:1.45) to well-known names (org.mpris.MediaPlayer2.spotify)
	players     map[string]*player // Keyed by well-known name
	nextID      int
	processName func(pid int32) (string, error)
}

// NewMprisMonitor creates a new MPRIS monitor instance
func NewMprisMonitor(logger *zap.Logger, clock clockwork.Clock, m *metrics.Metrics) *MprisMonitor {
	return &MprisMonitor{
		logger:      logger,
		clock:       clock,
		metrics:     m,
		events:      make(chan domain.SessionEvent, eventBuffer),
		ctx:         context.Background(),
		dropWarning: rate.Sometimes{Interval: 5 * time.Second},
		playerNames: make(map[string]string),
		players:     make(map[string]*player),
		processName: lookupProcessName,
	}
}

func lookupProcessName(pid int32) (string, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return "", err
	}
	return proc.Name()
}

// Start begins monitoring for media sessions. It blocks until ctx is cancelled or Stop is called.
func (m *MprisMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	// Stop waits for Start itself, so the channel is never closed under a producer
	m.wg.Add(1)
	defer m.wg.Done()

	monitorCtx, cancel := context.WithCancel(ctx)
	m.ctx = monitorCtx
	m.cancel = cancel
	m.mu.Unlock()

	m.logger.Info("MPRIS monitor started")

	// Connect to Session Bus (this may block)
	conn, err := NewStdDBusClient()
	if err != nil {
		m.logger.Error("Failed to connect to session bus", zap.Error(err))
		m.mu.Lock()
		defer m.mu.Unlock()
		m.running = false
		m.cancel = nil
		cancel()
		return fmt.Errorf("session bus connection failed: %w", err)
	}

	// Check if we were stopped while connecting to D-Bus
	select {
	case <-monitorCtx.Done():
		m.logger.Info("Monitor stopped during D-Bus connection")
		if err := conn.Close(); err != nil {
			m.logger.Warn("Failed to close D-Bus connection", zap.Error(err))
		}
		return monitorCtx.Err()
	default:
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(mprisPath),
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		m.logger.Error("Failed to add match signal", zap.Error(err))
		return fmt.Errorf("failed to add match signal: %w", err)
	}

	// Track new/removed players dynamically
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		m.logger.Warn("Failed to add NameOwnerChanged match signal", zap.Error(err))
	} else {
		m.logger.Info("Dynamic player tracking enabled via NameOwnerChanged")
	}

	if err := m.detectExistingPlayers(); err != nil {
		m.logger.Warn("Failed to detect existing players", zap.Error(err))
	}

	m.wg.Add(1)
	go m.monitorSignals(monitorCtx)

	<-monitorCtx.Done()

	m.logger.Info("MPRIS monitor stopped")
	return monitorCtx.Err()
}

// Stop gracefully stops the monitor
func (m *MprisMonitor) Stop(ctx context.Context) error {
	m.mu.Lock()

	if !m.running {
		m.mu.Unlock()
		return nil
	}

	if m.cancel != nil {
		m.cancel()
	}

	m.running = false
	m.mu.Unlock()

	// Wait for all producers before closing the channel
	m.logger.Debug("Waiting for monitoring goroutines to finish")
	m.wg.Wait()

	close(m.events)

	m.mu.Lock()
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			m.logger.Warn("Failed to close D-Bus connection", zap.Error(err))
		}
	}
	m.mu.Unlock()

	m.logger.Info("MPRIS monitor shutdown complete")
	return nil
}

// Events returns a read-only channel of session lifecycle events
func (m *MprisMonitor) Events() <-chan domain.SessionEvent {
	return m.events
}

// detectExistingPlayers queries D-Bus for currently running MPRIS players
func (m *MprisMonitor) detectExistingPlayers() error {
	names, err := m.conn.ListNames()
	if err != nil {
		return fmt.Errorf("failed to list bus names: %w", err)
	}

	playerCount := 0
	for _, name := range names {
		if !strings.HasPrefix(name, mprisPrefix) {
			continue
		}
		playerCount++
		m.logger.Info("Detected MPRIS player", zap.String("name", name))

		uniqueName, err := m.conn.GetNameOwner(name)
		if err != nil {
			m.logger.Debug("Failed to resolve player owner", zap.String("name", name), zap.Error(err))
			uniqueName = ""
		}

		m.addPlayer(name, uniqueName)

		if err := m.fetchPlayerState(name); err != nil {
			m.logger.Warn("Failed to fetch initial state",
				zap.String("player", name),
				zap.Error(err))
		}
	}

	m.logger.Info("Player detection complete", zap.Int("count", playerCount))
	return nil
}

// addPlayer registers a new session for name and announces it
func (m *MprisMonitor) addPlayer(name, uniqueName string) *player {
	source := m.resolveSource(name, uniqueName)

	m.mu.Lock()
	if uniqueName != "" {
		m.playerNames[uniqueName] = name
	}
	if existing, ok := m.players[name]; ok {
		m.mu.Unlock()
		return existing
	}
	p := &player{
		id:     m.nextID,
		name:   name,
		source: source,
		playback: domain.PlaybackModel{
			AutoRepeat: domain.RepeatNone,
			Rate:       1,
			Status:     domain.StatusStopped,
			Type:       domain.PlaybackUnknown,
		},
	}
	m.nextID++
	m.players[name] = p
	m.mu.Unlock()

	m.logger.Debug("Mapped player",
		zap.String("unique", uniqueName),
		zap.String("wellKnown", name),
		zap.Int("sessionId", p.id),
		zap.String("source", source))

	m.emit(domain.SessionEvent{Kind: domain.SessionCreated, SessionID: p.id, Source: source})
	return p
}

// removePlayer forgets name and announces the removal
func (m *MprisMonitor) removePlayer(name, uniqueName string) {
	m.mu.Lock()
	delete(m.playerNames, uniqueName)
	p, ok := m.players[name]
	delete(m.players, name)
	m.mu.Unlock()

	if !ok {
		return
	}
	m.emit(domain.SessionEvent{Kind: domain.SessionRemoved, SessionID: p.id})
}

// resolveSource names a session after the executable owning the bus name.
// Falls back to the MPRIS name suffix (e.g. "spotify") when the process is unknown.
func (m *MprisMonitor) resolveSource(name, uniqueName string) string {
	fallback := strings.TrimPrefix(name, mprisPrefix)
	if uniqueName == "" || m.conn == nil {
		return fallback
	}

	pid, err := m.conn.GetConnectionUnixProcessID(uniqueName)
	if err != nil {
		m.logger.Debug("Failed to resolve player pid", zap.String("player", name), zap.Error(err))
		return fallback
	}

	exe, err := m.processName(int32(pid))
	if err != nil || exe == "" {
		m.logger.Debug("Failed to resolve player executable",
			zap.String("player", name),
			zap.Uint32("pid", pid),
			zap.Error(err))
		return fallback
	}
	return exe
}

// fetchPlayerState reads the full state of a player and emits a model and a media snapshot
func (m *MprisMonitor) fetchPlayerState(playerName string) error {
	variant, err := m.conn.GetProperty(playerName, mprisPath, playerInterface+".Metadata")
	if err != nil {
		return fmt.Errorf("failed to get metadata: %w", err)
	}

	// Some players return nil or unexpected types if not playing anything
	metadata, ok := variant.Value().(map[string]dbus.Variant)
	if !ok {
		m.logger.Debug("Metadata variant is not a map, skipping", zap.String("player", playerName))
		return nil
	}

	statusVariant, err := m.conn.GetProperty(playerName, mprisPath, playerInterface+".PlaybackStatus")
	if err != nil {
		return fmt.Errorf("failed to get playback status: %w", err)
	}
	if _, ok := statusVariant.Value().(string); !ok {
		return fmt.Errorf("invalid playback status format")
	}

	props := map[string]dbus.Variant{
		"Metadata":       variant,
		"PlaybackStatus": statusVariant,
	}

	// Optional properties, not every player implements them
	for _, prop := range []string{"LoopStatus", "Shuffle", "Rate", "Position"} {
		v, err := m.conn.GetProperty(playerName, mprisPath, playerInterface+"."+prop)
		if err != nil {
			continue
		}
		props[prop] = v
	}

	m.mu.RLock()
	p, ok := m.players[playerName]
	m.mu.RUnlock()
	if !ok {
		p = m.addPlayer(playerName, "")
	}

	m.applyMetadata(p, metadata)
	m.applyPlayback(p, props)

	m.emitModel(p)
	m.emitMedia(p)
	return nil
}

// monitorSignals listens for D-Bus signals and processes them
func (m *MprisMonitor) monitorSignals(ctx context.Context) {
	defer m.wg.Done()

	signals := make(chan *dbus.Signal, 10)
	m.conn.Signal(signals)

	m.logger.Info("Signal monitoring goroutine started")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Signal monitoring goroutine stopped")
			return
		case sig := <-signals:
			if sig == nil {
				continue
			}
			if sig.Name == "org.freedesktop.DBus.NameOwnerChanged" {
				m.handleNameOwnerChanged(sig)
			} else {
				m.handleSignal(sig)
			}
		}
	}
}

// handleNameOwnerChanged processes NameOwnerChanged signals to track player lifecycle
func (m *MprisMonitor) handleNameOwnerChanged(sig *dbus.Signal) {
	if len(sig.Body) < 3 {
		return
	}

	name, ok := sig.Body[0].(string)
	if !ok || !strings.HasPrefix(name, mprisPrefix) {
		return
	}

	oldOwner, _ := sig.Body[1].(string)
	newOwner, _ := sig.Body[2].(string)

	switch {
	case newOwner != "" && oldOwner == "":
		m.logger.Info("New MPRIS player detected",
			zap.String("player", name),
			zap.String("unique", newOwner))

		m.addPlayer(name, newOwner)
		if err := m.fetchPlayerState(name); err != nil {
			m.logger.Warn("Failed to fetch state from new player",
				zap.String("player", name),
				zap.Error(err))
		}

	case newOwner == "" && oldOwner != "":
		m.logger.Info("MPRIS player removed",
			zap.String("player", name),
			zap.String("unique", oldOwner))

		m.removePlayer(name, oldOwner)

	case newOwner != "" && oldOwner != "":
		// Ownership transfer, the session itself lives on
		m.mu.Lock()
		delete(m.playerNames, oldOwner)
		m.playerNames[newOwner] = name
		m.mu.Unlock()

		m.logger.Debug("MPRIS player ownership changed",
			zap.String("player", name),
			zap.String("oldUnique", oldOwner),
			zap.String("newUnique", newOwner))
	}
}

// handleSignal processes a PropertiesChanged signal. The body carries the
// interface name, the changed properties and the invalidated property names.
func (m *MprisMonitor) handleSignal(sig *dbus.Signal) {
	if sig.Name != "org.freedesktop.DBus.Properties.PropertiesChanged" {
		return
	}

	if len(sig.Body) < 2 {
		return
	}

	interfaceName, ok := sig.Body[0].(string)
	if !ok || interfaceName != playerInterface {
		return
	}

	changedProps, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}

	playerName := m.getPlayerName(sig.Sender)

	m.logger.Debug("Received PropertiesChanged signal",
		zap.String("sender", sig.Sender),
		zap.String("player", playerName),
		zap.Int("properties", len(changedProps)))

	var metadata map[string]dbus.Variant
	metadataVariant, hasMetadata := changedProps["Metadata"]
	if hasMetadata {
		metadata, ok = metadataVariant.Value().(map[string]dbus.Variant)
		if !ok {
			m.logger.Warn("Invalid metadata format in signal, ignoring")
			return
		}
	}

	if statusVariant, hasStatus := changedProps["PlaybackStatus"]; hasStatus {
		if _, ok := statusVariant.Value().(string); !ok {
			m.logger.Warn("Invalid playback status format in signal, ignoring")
			return
		}
	}

	playbackChanged := false
	for _, prop := range []string{"PlaybackStatus", "LoopStatus", "Shuffle", "Rate"} {
		if _, ok := changedProps[prop]; ok {
			playbackChanged = true
		}
	}

	if !hasMetadata && !playbackChanged {
		return
	}

	m.mu.RLock()
	p, known := m.players[playerName]
	m.mu.RUnlock()
	if !known {
		unique := ""
		if playerName != sig.Sender {
			unique = sig.Sender
		}
		p = m.addPlayer(playerName, unique)
	}

	if playbackChanged {
		m.applyPlayback(p, changedProps)
		m.emitModel(p)
	}

	if hasMetadata {
		m.applyMetadata(p, metadata)
		m.emitMedia(p)
	}

	m.mu.RLock()
	media := p.media
	status := p.playback.Status
	m.mu.RUnlock()

	fields := []zap.Field{
		zap.String("player", playerName),
		zap.String("status", string(status)),
	}
	if media != nil {
		fields = append(fields, zap.String("title", media.Title), zap.String("artist", media.Artist))
	}
	m.logger.Info("Media change detected", fields...)
}

// applyPlayback merges the playback related properties in props into p
func (m *MprisMonitor) applyPlayback(p *player, props map[string]dbus.Variant) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := props["PlaybackStatus"]; ok {
		if status, ok := v.Value().(string); ok {
			p.playback.Status = parseStatus(status)
		}
	}
	if v, ok := props["LoopStatus"]; ok {
		if loop, ok := v.Value().(string); ok {
			p.playback.AutoRepeat = parseLoopStatus(loop)
		}
	}
	if v, ok := props["Shuffle"]; ok {
		if shuffle, ok := v.Value().(bool); ok {
			p.playback.Shuffle = shuffle
		}
	}
	if v, ok := props["Rate"]; ok {
		if r, ok := v.Value().(float64); ok {
			p.playback.Rate = r
		}
	}
	if v, ok := props["Position"]; ok {
		if pos, ok := toInt64(v.Value()); ok {
			p.timeline.Position = pos / 1000
			p.timeline.LastUpdatedAtMs = m.clock.Now().UnixMilli()
		}
	}
}

// applyMetadata replaces the media snapshot of p
func (m *MprisMonitor) applyMetadata(p *player, metadata map[string]dbus.Variant) {
	media, artURL, length := m.parseMetadata(metadata)

	m.mu.Lock()
	defer m.mu.Unlock()

	p.media = media
	p.artURL = artURL
	p.timeline.End = length / 1000
	p.timeline.Position = 0
	p.timeline.LastUpdatedAtMs = m.clock.Now().UnixMilli()
	p.playback.Type = media.PlaybackType
}

// snapshot copies the state of p into a SessionModel
func (m *MprisMonitor) snapshot(p *player) (domain.SessionModel, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	playback := p.playback
	timeline := p.timeline
	model := domain.SessionModel{
		Playback: &playback,
		Timeline: &timeline,
		Source:   p.source,
	}
	if p.media != nil {
		media := *p.media
		model.Media = &media
	}
	return model, p.artURL
}

func (m *MprisMonitor) emitModel(p *player) {
	model, _ := m.snapshot(p)
	m.emit(domain.SessionEvent{
		Kind:      domain.SessionUpdated,
		SessionID: p.id,
		Update:    &domain.SessionUpdate{Kind: domain.UpdateModel, Model: model},
	})
}

func (m *MprisMonitor) emitMedia(p *player) {
	model, artURL := m.snapshot(p)
	m.emit(domain.SessionEvent{
		Kind:      domain.SessionUpdated,
		SessionID: p.id,
		Update:    &domain.SessionUpdate{Kind: domain.UpdateMedia, Model: model},
		ArtURL:    artURL,
	})
}

// emit delivers ev in order. A full channel blocks the producer until the
// consumer catches up or the monitor stops.
func (m *MprisMonitor) emit(ev domain.SessionEvent) {
	select {
	case m.events <- ev:
	default:
		m.dropWarning.Do(func() {
			m.logger.Warn("Events channel full, waiting for consumer",
				zap.Int("capacity", cap(m.events)))
		})

		m.mu.RLock()
		ctx := m.ctx
		m.mu.RUnlock()

		select {
		case m.events <- ev:
		case <-ctx.Done():
			m.logger.Debug("Dropping event on shutdown",
				zap.Stringer("kind", ev.Kind),
				zap.Int("sessionId", ev.SessionID))
			return
		}
	}
	m.metrics.MonitorEvent(ev.Kind.String())
}

// parseMetadata converts MPRIS metadata to the media model, the artwork URL
// and the track length in microseconds
func (m *MprisMonitor) parseMetadata(metadata map[string]dbus.Variant) (*domain.MediaModel, string, int64) {
	media := &domain.MediaModel{
		Genres:       []string{},
		PlaybackType: domain.PlaybackUnknown,
	}

	if metadata == nil {
		return media, "", 0
	}

	if v, ok := metadata["xesam:title"]; ok {
		if title, ok := v.Value().(string); ok {
			media.Title = title
		}
	}

	if v, ok := metadata["xesam:artist"]; ok {
		artists, ok := stringList(v.Value())
		if !ok {
			// Some non-compliant players may use unexpected types
			m.logger.Debug("Unexpected artist type in metadata",
				zap.String("type", fmt.Sprintf("%T", v.Value())))
		}
		media.Artist = strings.Join(artists, ", ")
	}

	var album domain.AlbumModel
	if v, ok := metadata["xesam:album"]; ok {
		if title, ok := v.Value().(string); ok {
			album.Title = title
		}
	}
	if v, ok := metadata["xesam:albumArtist"]; ok {
		if artists, ok := stringList(v.Value()); ok {
			album.Artist = strings.Join(artists, ", ")
		}
	}
	if album.Title != "" || album.Artist != "" {
		media.Album = &album
	}

	if v, ok := metadata["xesam:genre"]; ok {
		if genres, ok := stringList(v.Value()); ok {
			media.Genres = genres
		}
	}

	if v, ok := metadata["xesam:trackNumber"]; ok {
		if n, ok := toInt64(v.Value()); ok {
			track := int(n)
			media.TrackNumber = &track
		}
	}

	if media.Title != "" || media.Artist != "" {
		media.PlaybackType = domain.PlaybackMusic
	}

	var artURL string
	if v, ok := metadata["mpris:artUrl"]; ok {
		if url, ok := v.Value().(string); ok {
			if url == "" {
				// Browsers and local files may send an empty artUrl
				m.logger.Debug("Empty artUrl received",
					zap.String("title", media.Title),
					zap.String("artist", media.Artist))
			}
			artURL = url
		}
	}

	var length int64
	if v, ok := metadata["mpris:length"]; ok {
		length, _ = toInt64(v.Value())
	}

	return media, artURL, length
}

// getPlayerName returns the well-known player name for a unique bus name
// Falls back to the unique name if no mapping exists
func (m *MprisMonitor) getPlayerName(uniqueName string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if wellKnown, ok := m.playerNames[uniqueName]; ok {
		return wellKnown
	}
	return uniqueName
}

func parseStatus(status string) domain.PlaybackStatus {
	switch status {
	case "Playing":
		return domain.StatusPlaying
	case "Paused":
		return domain.StatusPaused
	default:
		return domain.StatusStopped
	}
}

func parseLoopStatus(loop string) domain.AutoRepeat {
	switch loop {
	case "Track":
		return domain.RepeatTrack
	case "Playlist":
		return domain.RepeatList
	default:
		return domain.RepeatNone
	}
}

func stringList(v any) ([]string, bool) {
	switch vals := v.(type) {
	case []string:
		return vals, true
	case string:
		return []string{vals}, true
	default:
		return nil, false
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
