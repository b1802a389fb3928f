package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/moneta-app/wallet/backend/internal/entities"
)

// WebSocketManager pushes transaction events to connected clients. Each
// user only receives events for their own transactions.
type WebSocketManager struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mutex       sync.RWMutex
	subscribers map[int64]map[*websocket.Conn]bool
}

func NewWebSocketManager(logger *slog.Logger) *WebSocketManager {
	return &WebSocketManager{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		subscribers: make(map[int64]map[*websocket.Conn]bool),
	}
}

func (m *WebSocketManager) Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return m.upgrader.Upgrade(w, r, nil)
}

func (m *WebSocketManager) AddSubscriber(userID int64, conn *websocket.Conn) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.subscribers[userID] == nil {
		m.subscribers[userID] = make(map[*websocket.Conn]bool)
	}
	m.subscribers[userID][conn] = true
}

func (m *WebSocketManager) RemoveSubscriber(userID int64, conn *websocket.Conn) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.subscribers[userID], conn)
	if len(m.subscribers[userID]) == 0 {
		delete(m.subscribers, userID)
	}
}

// PublishTransactionEvent sends the event to every connection of the
// event's user. A broken connection is dropped from the registry.
func (m *WebSocketManager) PublishTransactionEvent(_ context.Context, event entities.TransactionEvent) {
	m.mutex.RLock()
	connections := make([]*websocket.Conn, 0, len(m.subscribers[event.UserID]))
	for conn := range m.subscribers[event.UserID] {
		connections = append(connections, conn)
	}
	m.mutex.RUnlock()

	for _, conn := range connections {
		if err := conn.WriteJSON(event); err != nil {
			m.logger.Warn("Dropping broken websocket connection",
				"user_id", event.UserID, "error", err)
			conn.Close()
			m.RemoveSubscriber(event.UserID, conn)
		}
	}
}

// WebSocketHandler serves the live transaction feed.
type WebSocketHandler struct {
	logger  *slog.Logger
	manager *WebSocketManager
}

func NewWebSocketHandler(logger *slog.Logger, manager *WebSocketManager) *WebSocketHandler {
	return &WebSocketHandler{
		logger:  logger,
		manager: manager,
	}
}

func (h *WebSocketHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws/transactions", h.HandleConnection)
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("X-User-ID")
	if header == "" {
		http.Error(w, "missing X-User-ID header", http.StatusUnauthorized)
		return
	}
	userID, err := strconv.ParseInt(header, 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "invalid X-User-ID header", http.StatusUnauthorized)
		return
	}

	conn, err := h.manager.Upgrade(w, r)
	if err != nil {
		h.logger.Error("Error upgrading connection", "error", err)
		return
	}

	h.logger.Info("New transaction feed connection", "user_id", userID)
	h.manager.AddSubscriber(userID, conn)

	// Keep the connection open until the client goes away.
	for {
		if _, _, readErr := conn.ReadMessage(); readErr != nil {
			h.manager.RemoveSubscriber(userID, conn)
			conn.Close()
			h.logger.Info("Transaction feed connection closed", "user_id", userID)
			return
		}
	}
}
