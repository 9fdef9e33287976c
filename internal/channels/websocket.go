package channels

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kda-wallet/bridge/internal/logger"
)

const (
	// defaultPingInterval is how often we ping an idle channel.
	defaultPingInterval = 30 * time.Second

	// defaultPongWait is how long we wait for the pong before the
	// connection is considered dead.
	defaultPongWait = 10 * time.Second

	writeWait     = 10 * time.Second
	maxMessageLen = 1 << 20
)

// InboundHandler consumes raw envelopes arriving on a channel.
type InboundHandler interface {
	HandleMessage(ctx context.Context, tabID int, raw []byte)
}

// WSChannel is the WebSocket-backed Channel implementation. Writes are
// serialized; gorilla connections do not allow concurrent writers.
type WSChannel struct {
	tabID   int
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// TabID returns the owning tab.
func (c *WSChannel) TabID() int {
	return c.tabID
}

// Send writes msg as a JSON message.
func (c *WSChannel) Send(msg any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

// Close tears down the underlying connection.
func (c *WSChannel) Close() error {
	return c.conn.Close()
}

func (c *WSChannel) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Server upgrades content-script connections into registered channels
// and pumps their inbound messages into the handler.
type Server struct {
	registry     *Registry
	handler      InboundHandler
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	pongWait     time.Duration
}

// NewServer creates a channel server over registry, delivering inbound
// envelopes to handler.
func NewServer(registry *Registry, handler InboundHandler) *Server {
	return &Server{
		registry: registry,
		handler:  handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origins are authorized per-request by the engine, not
			// at the transport layer.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		pingInterval: defaultPingInterval,
		pongWait:     defaultPongWait,
	}
}

// ServeHTTP handles GET /channel?tab=<id>.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tabID, err := strconv.Atoi(r.URL.Query().Get("tab"))
	if err != nil || tabID <= 0 {
		http.Error(w, "missing or invalid tab parameter", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	ch := &WSChannel{tabID: tabID, conn: conn}

	// A new connection from the same tab replaces the old channel;
	// close the superseded pipe rather than leaking it.
	if prior := s.registry.Register(ch); prior != nil {
		_ = prior.Close()
	}

	ctx := logger.WithTabID(context.Background(), tabID)
	logger.Debug(ctx, "channel connected")

	go s.pingLoop(ctx, ch)
	s.readLoop(ctx, ch)
}

func (s *Server) readLoop(ctx context.Context, ch *WSChannel) {
	defer func() {
		s.registry.Remove(ch.tabID, ch)
		_ = ch.Close()
		logger.Debug(ctx, "channel disconnected")
	}()

	ch.conn.SetReadLimit(maxMessageLen)
	_ = ch.conn.SetReadDeadline(time.Now().Add(s.pingInterval + s.pongWait))
	ch.conn.SetPongHandler(func(string) error {
		return ch.conn.SetReadDeadline(time.Now().Add(s.pingInterval + s.pongWait))
	})

	for {
		_, raw, err := ch.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = ch.conn.SetReadDeadline(time.Now().Add(s.pingInterval + s.pongWait))
		s.handler.HandleMessage(ctx, ch.tabID, raw)
	}
}

func (s *Server) pingLoop(ctx context.Context, ch *WSChannel) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		if current, ok := s.registry.Lookup(ch.tabID); !ok || current != Channel(ch) {
			return
		}
		if err := ch.ping(); err != nil {
			return
		}
	}
}
