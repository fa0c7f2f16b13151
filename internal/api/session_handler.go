package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jamlink-audio/jamlink/internal/config"
	"github.com/jamlink-audio/jamlink/internal/session"
	"github.com/jamlink-audio/jamlink/internal/store"
)

type SessionHandler struct {
	reg      *session.Registry
	recorder *store.Recorder
}

func NewSessionHandler(reg *session.Registry, recorder *store.Recorder) *SessionHandler {
	return &SessionHandler{reg: reg, recorder: recorder}
}

// shareURL builds the copyable invite link for a local identity.
func shareURL(peerID string) string {
	return config.AppConfig.Server.PublicURL + "/?join=" + peerID
}

// CreateSession registers a local identity with the rendezvous broker and
// returns it together with a shareable join link.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	peerID, err := h.reg.CreateSession(c.Request.Context())
	if err != nil {
		switch {
		case errors.Is(err, session.ErrAlreadyActive):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "peer_id": h.reg.SelfID()})
		case errors.Is(err, session.ErrIDTaken):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		}
		return
	}

	h.recorder.StartSession(peerID)
	c.JSON(http.StatusOK, gin.H{
		"peer_id":   peerID,
		"share_url": shareURL(peerID),
	})
}

// JoinSession connects to a remote peer, registering a local identity first
// if none exists. It blocks until the data channel opens or the attempt
// fails.
func (h *SessionHandler) JoinSession(c *gin.Context) {
	var req struct {
		PeerID string `json:"peer_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hadIdentity := h.reg.SelfID() != ""
	if err := h.reg.JoinSession(c.Request.Context(), req.PeerID); err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidPeerID):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, session.ErrLocalStreamUnavailable):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, session.ErrPeerUnreachable):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		}
		return
	}

	if !hadIdentity {
		h.recorder.StartSession(h.reg.SelfID())
	}
	c.JSON(http.StatusOK, gin.H{
		"peer_id":   h.reg.SelfID(),
		"share_url": shareURL(h.reg.SelfID()),
		"peers":     h.reg.ConnectedPeers(),
	})
}

// LeaveSession disconnects every peer and releases the local identity.
func (h *SessionHandler) LeaveSession(c *gin.Context) {
	localID := h.reg.SelfID()
	h.reg.DisconnectAll()
	if localID != "" {
		h.recorder.EndSession(localID)
	}
	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}

func (h *SessionHandler) DisconnectPeer(c *gin.Context) {
	h.reg.DisconnectPeer(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}

func (h *SessionHandler) ListPeers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"self":  h.reg.SelfID(),
		"peers": h.reg.Peers(),
	})
}

// PeerQuality returns the current reading plus persisted history for one
// peer.
func (h *SessionHandler) PeerQuality(c *gin.Context) {
	peerID := c.Param("id")

	var current *session.PeerInfo
	for _, info := range h.reg.Peers() {
		if info.ID == peerID {
			p := info
			current = &p
			break
		}
	}

	history, err := h.recorder.QualityHistory(peerID, queryLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"peer":    current,
		"history": history,
	})
}

func (h *SessionHandler) SendChat(c *gin.Context) {
	var req struct {
		PeerID  string `json:"peer_id"`
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.reg.SendChat(req.PeerID, req.Message); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

func (h *SessionHandler) ListSessions(c *gin.Context) {
	recs, err := h.recorder.RecentSessions(queryLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, recs)
}

func (h *SessionHandler) ListPeerEvents(c *gin.Context) {
	events, err := h.recorder.PeerEvents(queryLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, events)
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	return limit
}
