//go:build linux

package monitor

import (
	"fmt"
	"testing"

	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/genricoloni/nowplaying/internal/monitor/mocks"
	"github.com/godbus/dbus/v5"
	"go.uber.org/mock/gomock"
)

const (
	objPath    = "/org/mpris/MediaPlayer2"
	metaPath   = "org.mpris.MediaPlayer2.Player.Metadata"
	statusPath = "org.mpris.MediaPlayer2.Player.PlaybackStatus"
)

// expectOptionalProperties answers the optional player properties with errors
func expectOptionalProperties(m *mocks.MockDBusClient, player string) {
	for _, prop := range []string{"LoopStatus", "Shuffle", "Rate", "Position"} {
		m.EXPECT().GetProperty(player, objPath, "org.mpris.MediaPlayer2.Player."+prop).
			Return(dbus.Variant{}, fmt.Errorf("not supported"))
	}
}

// TestFetchPlayerState unifies all scenarios regarding state fetching:
// 1. Success (Happy Path)
// 2. DBus Errors (Connection fail)
// 3. Invalid Data types (Robustness)
func TestFetchPlayerState(t *testing.T) {
	playerName := "org.mpris.MediaPlayer2.spotify"

	tests := []struct {
		name           string
		setupMock      func(*mocks.MockDBusClient)
		expectError    bool
		expectedStatus domain.PlaybackStatus
		expectedTitle  string
		expectedRepeat domain.AutoRepeat
		expectEvents   bool
	}{
		{
			name: "Success - Valid Metadata",
			setupMock: func(m *mocks.MockDBusClient) {
				m.EXPECT().GetProperty(playerName, objPath, metaPath).
					Return(dbus.MakeVariant(map[string]dbus.Variant{
						"xesam:title":  dbus.MakeVariant("Stairway to Heaven"),
						"xesam:artist": dbus.MakeVariant([]string{"Led Zeppelin"}),
					}), nil)
				m.EXPECT().GetProperty(playerName, objPath, statusPath).
					Return(dbus.MakeVariant("Playing"), nil)
				expectOptionalProperties(m, playerName)
			},
			expectedStatus: domain.StatusPlaying,
			expectedTitle:  "Stairway to Heaven",
			expectedRepeat: domain.RepeatNone,
			expectEvents:   true,
		},
		{
			name: "Success - Optional Properties",
			setupMock: func(m *mocks.MockDBusClient) {
				m.EXPECT().GetProperty(playerName, objPath, metaPath).
					Return(dbus.MakeVariant(map[string]dbus.Variant{
						"xesam:title": dbus.MakeVariant("Kashmir"),
					}), nil)
				m.EXPECT().GetProperty(playerName, objPath, statusPath).
					Return(dbus.MakeVariant("Paused"), nil)
				m.EXPECT().GetProperty(playerName, objPath, "org.mpris.MediaPlayer2.Player.LoopStatus").
					Return(dbus.MakeVariant("Track"), nil)
				m.EXPECT().GetProperty(playerName, objPath, "org.mpris.MediaPlayer2.Player.Shuffle").
					Return(dbus.MakeVariant(false), nil)
				m.EXPECT().GetProperty(playerName, objPath, "org.mpris.MediaPlayer2.Player.Rate").
					Return(dbus.MakeVariant(1.0), nil)
				m.EXPECT().GetProperty(playerName, objPath, "org.mpris.MediaPlayer2.Player.Position").
					Return(dbus.MakeVariant(int64(42_000_000)), nil)
			},
			expectedStatus: domain.StatusPaused,
			expectedTitle:  "Kashmir",
			expectedRepeat: domain.RepeatTrack,
			expectEvents:   true,
		},
		{
			name: "DBus Error - Connection Fail",
			setupMock: func(m *mocks.MockDBusClient) {
				m.EXPECT().GetProperty(playerName, objPath, metaPath).
					Return(dbus.MakeVariant(""), fmt.Errorf("connection timeout"))
			},
			expectError: true,
		},
		{
			name: "DBus Error - Status Fail",
			setupMock: func(m *mocks.MockDBusClient) {
				m.EXPECT().GetProperty(playerName, objPath, metaPath).
					Return(dbus.MakeVariant(map[string]dbus.Variant{}), nil)
				m.EXPECT().GetProperty(playerName, objPath, statusPath).
					Return(dbus.Variant{}, fmt.Errorf("connection reset"))
			},
			expectError: true,
		},
		{
			name: "Invalid Data - Metadata is Int not Map",
			setupMock: func(m *mocks.MockDBusClient) {
				m.EXPECT().GetProperty(playerName, objPath, metaPath).
					Return(dbus.MakeVariant(12345), nil) // Wrong type
			},
			expectError: false, // Should handle gracefully, no error returned
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)

			mockClient := mocks.NewMockDBusClient(ctrl)
			tt.setupMock(mockClient)

			mon := newTestMonitor()
			mon.conn = mockClient
			registered := mon.addPlayer(playerName, "")
			drain(mon)

			err := mon.fetchPlayerState(playerName)

			if tt.expectError && err == nil {
				t.Error("Expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}

			events := drain(mon)
			if !tt.expectEvents {
				if len(events) != 0 {
					t.Errorf("Unexpected events emitted: %+v", events)
				}
				return
			}

			if len(events) != 2 {
				t.Fatalf("Expected a model and a media update, got %d events", len(events))
			}
			for _, ev := range events {
				if ev.SessionID != registered.id {
					t.Errorf("Session mismatch: want %d, got %d", registered.id, ev.SessionID)
				}
			}

			model := events[0].Update
			if model.Kind != domain.UpdateModel {
				t.Errorf("Expected model update first, got %v", model.Kind)
			}
			if model.Model.Playback.Status != tt.expectedStatus {
				t.Errorf("Status mismatch: want %v, got %v", tt.expectedStatus, model.Model.Playback.Status)
			}
			if model.Model.Playback.AutoRepeat != tt.expectedRepeat {
				t.Errorf("Repeat mismatch: want %v, got %v", tt.expectedRepeat, model.Model.Playback.AutoRepeat)
			}

			media := events[1].Update
			if media.Kind != domain.UpdateMedia {
				t.Errorf("Expected media update second, got %v", media.Kind)
			}
			if media.Model.Media.Title != tt.expectedTitle {
				t.Errorf("Title mismatch: want %s, got %s", tt.expectedTitle, media.Model.Media.Title)
			}
		})
	}
}

// TestDetectExistingPlayers verifies the initial scan of DBus names.
func TestDetectExistingPlayers(t *testing.T) {
	respond := func(title, status string) func(string, string, string) (dbus.Variant, error) {
		return func(_, _, prop string) (dbus.Variant, error) {
			switch prop {
			case metaPath:
				return dbus.MakeVariant(map[string]dbus.Variant{"xesam:title": dbus.MakeVariant(title)}), nil
			case statusPath:
				return dbus.MakeVariant(status), nil
			default:
				return dbus.Variant{}, fmt.Errorf("not supported")
			}
		}
	}

	tests := []struct {
		name             string
		setupMock        func(*mocks.MockDBusClient)
		expectError      bool
		expectedSources  []string
		expectedMappings map[string]string
	}{
		{
			name: "Success - Detects Spotify and VLC",
			setupMock: func(m *mocks.MockDBusClient) {
				// 1. ListNames
				m.EXPECT().ListNames().Return([]string{
					"org.freedesktop.DBus",
					"org.mpris.MediaPlayer2.spotify",
					"org.mpris.MediaPlayer2.vlc",
					"com.example.OtherApp",
				}, nil)

				// 2. GetNameOwner (Mapping)
				m.EXPECT().GetNameOwner("org.mpris.MediaPlayer2.spotify").Return(":1.100", nil)
				m.EXPECT().GetNameOwner("org.mpris.MediaPlayer2.vlc").Return(":1.200", nil)

				// 3. Source resolution, VLC falls back to the bus name
				m.EXPECT().GetConnectionUnixProcessID(":1.100").Return(uint32(1234), nil)
				m.EXPECT().GetConnectionUnixProcessID(":1.200").Return(uint32(0), fmt.Errorf("denied"))

				// 4. Full state per player
				m.EXPECT().GetProperty("org.mpris.MediaPlayer2.spotify", gomock.Any(), gomock.Any()).
					DoAndReturn(respond("Song A", "Playing")).Times(6)
				m.EXPECT().GetProperty("org.mpris.MediaPlayer2.vlc", gomock.Any(), gomock.Any()).
					DoAndReturn(respond("Video B", "Paused")).Times(6)
			},
			expectedSources: []string{"spotify-launcher", "vlc"},
			expectedMappings: map[string]string{
				":1.100": "org.mpris.MediaPlayer2.spotify",
				":1.200": "org.mpris.MediaPlayer2.vlc",
			},
		},
		{
			name: "Failure - ListNames fails",
			setupMock: func(m *mocks.MockDBusClient) {
				m.EXPECT().ListNames().Return(nil, fmt.Errorf("bus error"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)

			mockClient := mocks.NewMockDBusClient(ctrl)
			tt.setupMock(mockClient)

			mon := newTestMonitor()
			mon.conn = mockClient
			mon.processName = func(pid int32) (string, error) {
				if pid == 1234 {
					return "spotify-launcher", nil
				}
				return "", fmt.Errorf("no such process")
			}

			err := mon.detectExistingPlayers()

			if tt.expectError && err == nil {
				t.Error("Expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}

			if len(mon.playerNames) != len(tt.expectedMappings) {
				t.Errorf("Mapping count mismatch: want %d, got %d", len(tt.expectedMappings), len(mon.playerNames))
			}
			for k, v := range tt.expectedMappings {
				if mon.playerNames[k] != v {
					t.Errorf("Mapping mismatch for %s: want %s, got %s", k, v, mon.playerNames[k])
				}
			}

			// Each player is announced, then gets a model and a media update
			events := drain(mon)
			var sources []string
			for _, ev := range events {
				if ev.Kind == domain.SessionCreated {
					sources = append(sources, ev.Source)
				}
			}
			if len(events) != 3*len(tt.expectedSources) {
				t.Errorf("Expected %d events, got %d", 3*len(tt.expectedSources), len(events))
			}
			if fmt.Sprint(sources) != fmt.Sprint(tt.expectedSources) {
				t.Errorf("Sources mismatch: want %v, got %v", tt.expectedSources, sources)
			}
		})
	}
}
