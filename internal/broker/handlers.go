package broker

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/jamlink-audio/jamlink/internal/auth"
	"github.com/jamlink-audio/jamlink/internal/config"
	"github.com/jamlink-audio/jamlink/pkg/logger"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleToken exchanges the shared access key for a broker JWT. Disabled
// (404) when no access key hash is configured.
func HandleToken(cfg config.BrokerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.AccessKeyHash == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "token auth not enabled"})
			return
		}
		var req struct {
			AccessKey string `json:"access_key"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "access_key required"})
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(cfg.AccessKeyHash), []byte(req.AccessKey)); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid access key"})
			return
		}
		token, err := auth.GenerateToken(0, "peer")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}

// HandleWS upgrades a peer's registration socket. The peer supplies its
// desired identity as a query parameter; an empty one gets a generated id.
func HandleWS(hub *Hub, cfg config.BrokerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.AccessKeyHash != "" {
			token := c.Query("token")
			if token == "" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
				return
			}
			if _, err := auth.ValidateToken(token); err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
		}

		peerID := strings.TrimSpace(c.Query("peer"))
		if peerID == "" {
			peerID = "daw-" + strings.ToUpper(uuid.New().String()[:8])
		}

		conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Log.Errorf("Upgrade websocket failed: %v", err)
			return
		}

		client, err := hub.Register(peerID, conn)
		if err != nil {
			_ = conn.WriteJSON(gin.H{"type": "error", "text": "id taken"})
			_ = conn.Close()
			return
		}

		if err := conn.WriteJSON(gin.H{"type": "welcome", "to": peerID}); err != nil {
			hub.unregister(client)
			_ = conn.Close()
			return
		}

		go hub.WritePump(client)
		go hub.ReadPump(client)
	}
}

// HandleHealth reports broker liveness and population.
func HandleHealth(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "peers": hub.PeerCount()})
	}
}
