// Package broker is the bundled rendezvous service: it registers peer
// identities and relays signaling envelopes between them. Peers that cannot
// address each other directly meet here first.
package broker

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jamlink-audio/jamlink/pkg/logger"
)

var ErrIDTaken = errors.New("peer id already registered")

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// Client is one registered peer's websocket.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}

// Hub owns the identity namespace and routes envelopes by their "to" field.
type Hub struct {
	mu    sync.RWMutex
	peers map[string]*Client
}

func NewHub() *Hub {
	return &Hub{peers: make(map[string]*Client)}
}

// Register claims an identity. The namespace is flat: a second claim on a
// live id is rejected, not queued.
func (h *Hub) Register(id string, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.peers[id]; exists {
		return nil, ErrIDTaken
	}
	c := &Client{ID: id, Conn: conn, Send: make(chan []byte, 256)}
	h.peers[id] = c
	logger.Log.Infof("Peer %s registered (%d online)", id, len(h.peers))
	return c, nil
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if current, ok := h.peers[c.ID]; ok && current == c {
		delete(h.peers, c.ID)
	}
	h.mu.Unlock()
	close(c.Send)
	logger.Log.Infof("Peer %s unregistered", c.ID)
}

// PeerCount reports how many identities are currently registered.
func (h *Hub) PeerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Route forwards one raw envelope from sender. The broker stamps the "from"
// field so peers cannot impersonate each other. A missing target produces a
// peer-unavailable reply to the sender.
func (h *Hub) Route(sender *Client, raw []byte) {
	var env map[string]interface{}
	if err := json.Unmarshal(raw, &env); err != nil {
		logger.Log.Warnf("Malformed envelope from %s: %v", sender.ID, err)
		return
	}
	to, _ := env["to"].(string)
	msgType, _ := env["type"].(string)
	if to == "" {
		logger.Log.Debugf("broker: %s envelope from %s without target", msgType, sender.ID)
		return
	}
	env["from"] = sender.ID

	h.mu.RLock()
	target, ok := h.peers[to]
	h.mu.RUnlock()

	if !ok {
		reply, _ := json.Marshal(map[string]string{
			"type": "peer-unavailable",
			"to":   sender.ID,
			"text": to,
		})
		h.deliver(sender, reply)
		return
	}

	out, err := json.Marshal(env)
	if err != nil {
		return
	}
	h.deliver(target, out)
}

func (h *Hub) deliver(c *Client, payload []byte) {
	select {
	case c.Send <- payload:
	default:
		logger.Log.Warnf("Peer %s send buffer full, dropping envelope", c.ID)
	}
}

// ReadPump consumes envelopes from a peer until its socket dies.
func (h *Hub) ReadPump(c *Client) {
	defer func() {
		h.unregister(c)
		_ = c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Log.Warnf("Peer %s read error: %v", c.ID, err)
			}
			return
		}
		h.Route(c, raw)
	}
}

// WritePump drains a peer's send queue onto its socket.
func (h *Hub) WritePump(c *Client) {
	for payload := range c.Send {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}
