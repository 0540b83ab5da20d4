package overlay

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/genricoloni/nowplaying/internal/bridge"
	"github.com/genricoloni/nowplaying/internal/prefs"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// maxEventSize bounds POST /api/events bodies, thumbnails included
const maxEventSize = 64 << 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Overlays are loaded from file:// or browser sources
	},
}

type preferencesRequest struct {
	SourcePriority *string `json:"sourcePriority"`
	StyleOverride  *string `json:"styleOverride"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(s.store.Snapshot().Sessions),
		"clients":  s.hub.ClientCount(),
	})
}

func (s *Server) handleState(c echo.Context) error {
	return c.JSON(http.StatusOK, s.store.Snapshot())
}

func (s *Server) handleNowPlaying(c echo.Context) error {
	return c.JSON(http.StatusOK, BuildView(s.logger, s.converter, s.store.Snapshot()))
}

// handlePutPreferences updates the fields present in the body and keeps the others
func (s *Server) handlePutPreferences(c echo.Context) error {
	var req preferencesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid preferences")
	}

	p := s.store.UpdatePreferences(func(cur *prefs.Preferences) {
		if req.SourcePriority != nil {
			cur.SourcePriority = *req.SourcePriority
		}
		if req.StyleOverride != nil {
			cur.StyleOverride = *req.StyleOverride
		}
	})

	s.logger.Info("Preferences updated",
		zap.Strings("sourcePriority", p.Sources()),
		zap.Bool("styleOverride", p.StyleOverride != ""))

	return c.JSON(http.StatusOK, p)
}

// handleEvents accepts one host event envelope
func (s *Server) handleEvents(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxEventSize+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}
	if len(body) > maxEventSize {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "event too large")
	}

	if err := s.events.HandleMessage(body); err != nil {
		if errors.Is(err, bridge.ErrUnknownEvent) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, "malformed event").SetInternal(err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade websocket", zap.Error(err))
		return nil
	}

	cl, err := s.hub.add(conn)
	if err != nil {
		s.logger.Warn("Rejecting overlay client", zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()), time.Now().Add(writeWait))
		conn.Close()
		return nil
	}

	// Read pump, blocks until the connection closes
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.hub.remove(cl)
	return nil
}
