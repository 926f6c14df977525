package websocket

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/xpanvictor/vera/pkg/Logger"
	"github.com/xpanvictor/vera/pkg/io/device"
	wsdevice "github.com/xpanvictor/vera/pkg/io/device/websocket"
)

// Inbound receives client input for the voice session
type Inbound interface {
	SubmitChat(text string)
	HandleAudio(frame []byte)
	EndSpeech()
}

// WebSocketHandler handles client WebSocket connections
type WebSocketHandler struct {
	logger            *Logger.Logger
	inbound           Inbound
	connectionManager *ConnectionManager
	upgrader          websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(logger *Logger.Logger, inbound Inbound, cm *ConnectionManager) *WebSocketHandler {
	if logger == nil {
		logger = Logger.NewNop()
	}
	return &WebSocketHandler{
		logger:            logger,
		inbound:           inbound,
		connectionManager: cm,
		upgrader: websocket.Upgrader{
			// thin clients connect from native apps without an Origin header
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades the request and serves the client until it leaves
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	ep := wsdevice.New(conn)
	h.connectionManager.RegisterConnection(ep)
	defer h.connectionManager.UnregisterConnection(ep.ID())

	h.handleConnection(conn, ep)
}

// handleConnection is the read loop for one client
func (h *WebSocketHandler) handleConnection(conn *websocket.Conn, ep device.Endpoint) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warnf("WebSocket read error for client %s: %v", ep.ID(), err)
			} else {
				h.logger.Infof("WebSocket connection closed for client %s", ep.ID())
			}
			return
		}
		ep.Touch()

		switch messageType {
		case websocket.TextMessage:
			h.handleTextMessage(ep, data)
		case websocket.BinaryMessage:
			h.inbound.HandleAudio(data)
		}
	}
}

// handleTextMessage processes incoming control messages
func (h *WebSocketHandler) handleTextMessage(ep device.Endpoint, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Debugf("Malformed message from client %s: %v", ep.ID(), err)
		h.sendError(ep, "invalid message format")
		return
	}

	switch msg.Type {
	case MessageTypeEndSpeech:
		h.inbound.EndSpeech()
	case MessageTypeChat:
		h.inbound.SubmitChat(msg.Text)
	default:
		h.logger.Warnf("Unknown message type from client %s: %q", ep.ID(), msg.Type)
		h.sendError(ep, fmt.Sprintf("unknown message type: %s", msg.Type))
	}
}

func (h *WebSocketHandler) sendError(ep device.Endpoint, message string) {
	b, err := json.Marshal(ErrorMessage{Type: MessageTypeError, Message: message})
	if err != nil {
		return
	}
	if err := ep.SendText(b); err != nil {
		h.logger.Debugf("Failed to send error to client %s: %v", ep.ID(), err)
	}
}

// HandleStats provides connection statistics
func (h *WebSocketHandler) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"data":   h.connectionManager.GetStats(),
	})
}

// Close shuts down the WebSocket handler
func (h *WebSocketHandler) Close() error {
	return h.connectionManager.Close()
}
