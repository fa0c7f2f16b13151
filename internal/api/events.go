package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jamlink-audio/jamlink/internal/quality"
	"github.com/jamlink-audio/jamlink/pkg/logger"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// uiEvent is one frame pushed to subscribed interfaces.
type uiEvent struct {
	Type    string          `json:"type"`
	PeerID  string          `json:"peerId,omitempty"`
	Text    string          `json:"text,omitempty"`
	Quality *quality.Sample `json:"quality,omitempty"`
}

// EventHub streams registry updates to websocket subscribers. It is the
// live half of the display fanout; slow subscribers get dropped rather
// than blocking the registry.
type EventHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

func NewEventHub() *EventHub {
	return &EventHub{clients: make(map[*websocket.Conn]chan []byte)}
}

// HandleWS upgrades the request and streams events until the client hangs
// up.
func (h *EventHub) HandleWS(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Errorf("upgrade websocket failed: %v", err)
		return
	}

	send := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[conn] = send
	h.mu.Unlock()

	go func() {
		for msg := range send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
		conn.Close()
	}()

	// Inbound frames are ignored; the read loop only detects hangup.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *EventHub) broadcast(ev uiEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Log.Errorf("Failed to marshal event: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, send := range h.clients {
		select {
		case send <- payload:
		default:
			delete(h.clients, conn)
			close(send)
		}
	}
}

func (h *EventHub) SetStatus(text string) {
	h.broadcast(uiEvent{Type: "status", Text: text})
}

func (h *EventHub) AddPeer(peerID string) {
	h.broadcast(uiEvent{Type: "peer-added", PeerID: peerID})
}

func (h *EventHub) RemovePeer(peerID string) {
	h.broadcast(uiEvent{Type: "peer-removed", PeerID: peerID})
}

func (h *EventHub) UpdateQuality(peerID string, s quality.Sample) {
	h.broadcast(uiEvent{Type: "quality", PeerID: peerID, Quality: &s})
}

func (h *EventHub) Chat(peerID, message string) {
	h.broadcast(uiEvent{Type: "chat", PeerID: peerID, Text: message})
}
