package channels

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kda-wallet/bridge/internal/logger"
)

// SurfaceHub fans messages out to every connected extension surface
// (popups, options page). Unlike tab channels, surfaces are not keyed:
// a sync notification goes to all of them.
type SurfaceHub struct {
	mu       sync.RWMutex
	surfaces map[string]*WSChannel
	upgrader websocket.Upgrader
}

// NewSurfaceHub creates an empty surface hub.
func NewSurfaceHub() *SurfaceHub {
	return &SurfaceHub{
		surfaces: make(map[string]*WSChannel),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Notify sends msg to every connected surface. Failed surfaces are
// dropped from the hub.
func (h *SurfaceHub) Notify(ctx context.Context, msg any) {
	h.mu.RLock()
	surfaces := make(map[string]*WSChannel, len(h.surfaces))
	for id, ch := range h.surfaces {
		surfaces[id] = ch
	}
	h.mu.RUnlock()

	for id, ch := range surfaces {
		if err := ch.Send(msg); err != nil {
			logger.Debug(ctx, "surface notify failed", "surface_id", id, "error", err)
			h.remove(id)
			_ = ch.Close()
		}
	}
}

// ServeHTTP handles GET /surface, keeping the connection open until the
// surface goes away.
func (h *SurfaceHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug(r.Context(), "surface upgrade failed", "error", err)
		return
	}

	id := uuid.NewString()
	ch := &WSChannel{conn: conn}

	h.mu.Lock()
	h.surfaces[id] = ch
	h.mu.Unlock()

	conn.SetReadLimit(maxMessageLen)
	for {
		// Surfaces only listen; drain until the peer closes.
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(defaultPingInterval + defaultPongWait))
	}

	h.remove(id)
	_ = conn.Close()
}

func (h *SurfaceHub) remove(id string) {
	h.mu.Lock()
	delete(h.surfaces, id)
	h.mu.Unlock()
}
