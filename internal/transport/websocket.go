package transport

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gateway-fm/openbook-loadgen/pkg/types"
)

const defaultStatusInterval = 500 * time.Millisecond

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}

		originURL, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if originURL.Host == r.Host {
			return true
		}
		return originURL.Hostname() == "localhost" || originURL.Hostname() == "127.0.0.1"
	},
}

// WebSocketServer pushes the live status to connected clients while a run
// is in progress.
type WebSocketServer struct {
	status   StatusSource
	interval time.Duration
	logger   *zap.Logger

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// NewWebSocketServer creates a new WebSocket server. A zero interval uses
// 500ms.
func NewWebSocketServer(status StatusSource, interval time.Duration, logger *zap.Logger) *WebSocketServer {
	if interval <= 0 {
		interval = defaultStatusInterval
	}
	return &WebSocketServer{
		status:   status,
		interval: interval,
		logger:   logger,
		clients:  make(map[*websocket.Conn]bool),
		done:     make(chan struct{}),
	}
}

// Handler returns the WebSocket HTTP handler. Each client receives the
// current status once on connect.
func (ws *WebSocketServer) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			ws.logger.Error("websocket upgrade failed", zap.Error(err))
			return
		}

		ws.clientsMu.Lock()
		ws.clients[conn] = true
		total := len(ws.clients)
		if data, err := json.Marshal(ws.status.Status()); err == nil {
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
		ws.clientsMu.Unlock()
		ws.logger.Debug("websocket client connected", zap.Int("total_clients", total))

		defer func() {
			ws.clientsMu.Lock()
			delete(ws.clients, conn)
			ws.clientsMu.Unlock()
			conn.Close()
			ws.logger.Debug("websocket client disconnected")
		}()

		// Reads only detect disconnects.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					ws.logger.Debug("websocket read error", zap.Error(err))
				}
				return
			}
		}
	}
}

// Start begins the broadcasting goroutine. It is safe to call more than once.
func (ws *WebSocketServer) Start() {
	ws.startOnce.Do(func() { go ws.broadcastLoop() })
}

// Stop stops broadcasting and closes every client connection.
func (ws *WebSocketServer) Stop() {
	ws.stopOnce.Do(func() {
		close(ws.done)

		ws.clientsMu.Lock()
		for conn := range ws.clients {
			conn.Close()
		}
		ws.clients = make(map[*websocket.Conn]bool)
		ws.clientsMu.Unlock()
	})
}

func (ws *WebSocketServer) broadcastLoop() {
	ticker := time.NewTicker(ws.interval)
	defer ticker.Stop()

	var lastStatus types.RunStatus
	for {
		select {
		case <-ws.done:
			return
		case <-ticker.C:
			st := ws.status.Status()
			// Idle collectors have nothing new; a finished run is pushed once.
			if st.Status == types.StatusRunning || st.Status != lastStatus {
				ws.broadcast(st)
			}
			lastStatus = st.Status
		}
	}
}

func (ws *WebSocketServer) broadcast(st types.LiveStatus) {
	data, err := json.Marshal(st)
	if err != nil {
		ws.logger.Error("failed to marshal status", zap.Error(err))
		return
	}

	ws.clientsMu.Lock()
	defer ws.clientsMu.Unlock()
	for conn := range ws.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			ws.logger.Debug("failed to write to websocket", zap.Error(err))
		}
	}
}

// ClientCount returns the number of connected clients.
func (ws *WebSocketServer) ClientCount() int {
	ws.clientsMu.RLock()
	defer ws.clientsMu.RUnlock()
	return len(ws.clients)
}
