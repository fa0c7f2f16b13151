package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/jamlink-audio/jamlink/internal/api"
	"github.com/jamlink-audio/jamlink/internal/audio"
	"github.com/jamlink-audio/jamlink/internal/auth"
	"github.com/jamlink-audio/jamlink/internal/config"
	"github.com/jamlink-audio/jamlink/internal/notify"
	"github.com/jamlink-audio/jamlink/internal/quality"
	"github.com/jamlink-audio/jamlink/internal/rendezvous"
	"github.com/jamlink-audio/jamlink/internal/session"
	"github.com/jamlink-audio/jamlink/internal/store"
	"github.com/jamlink-audio/jamlink/internal/transport"
	"github.com/jamlink-audio/jamlink/pkg/logger"
)

func main() {
	// 1. Load Config
	config.LoadConfig()

	// 2. Init Logger
	logger.InitLogger(config.AppConfig.Log.Level)
	logger.Log.Info("Starting jamlink...")

	auth.SetSecret(config.AppConfig.Server.JWTSecret)

	// 3. Init Database
	db := store.InitDB()
	recorder := store.NewRecorder(db)

	// 4. Audio Bridge
	var bridge session.MediaBridge
	if config.AppConfig.Audio.Enabled {
		b, err := audio.NewBridge(config.AppConfig.Audio)
		if err != nil {
			logger.Log.Fatalf("Failed to open audio devices: %v", err)
		}
		if err := b.Start(); err != nil {
			logger.Log.Fatalf("Failed to start audio streams: %v", err)
		}
		defer b.Close()
		bridge = b
	} else {
		logger.Log.Warn("Audio disabled, joins will be rejected until enabled")
		bridge = audio.NewNullBridge()
	}

	// 5. Session wiring: rendezvous client, peer transport, quality monitor
	client := rendezvous.NewClient(config.AppConfig.Rendezvous.URL, config.AppConfig.Rendezvous.AccessKey)

	engine, err := transport.NewEngine(config.AppConfig.Session)
	if err != nil {
		logger.Log.Fatalf("Failed to build WebRTC engine: %v", err)
	}
	peerTransport := transport.NewPionTransport(engine, client, bridge.PushPlayback)

	hub := api.NewEventHub()
	notifier := notify.NewNotifier(config.AppConfig.Webhooks)
	display := session.FanoutDisplay{hub, recorder, notifier}

	monitor := quality.NewMonitor(
		config.AppConfig.Session.PingDuration(),
		config.AppConfig.Session.RTTWindow,
		display,
	)

	reg := session.NewRegistry(client, peerTransport, bridge, display, monitor)
	client.OnSignal(reg.HandleSignal)
	reg.Start()
	defer reg.Close()

	// 6. Init Router
	if config.AppConfig.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	// Load Templates
	r.LoadHTMLGlob("web/templates/*")
	r.Static("/static", "./web/static")

	r.GET("/", func(c *gin.Context) {
		c.HTML(http.StatusOK, "index.html", nil)
	})

	// Setup Routes
	uh := api.NewUserHandler(db)
	sh := api.NewSessionHandler(reg, recorder)

	r.GET("/events", hub.HandleWS)

	apiGroup := r.Group("/api/v1")
	{
		apiGroup.POST("/login", uh.Login)

		// Authenticated Routes
		authGroup := apiGroup.Group("/")
		authGroup.Use(api.AuthMiddleware(db))
		{
			authGroup.POST("/change_password", uh.ChangePassword)

			authGroup.POST("/session", sh.CreateSession)
			authGroup.POST("/session/join", sh.JoinSession)
			authGroup.DELETE("/session", sh.LeaveSession)
			authGroup.GET("/peers", sh.ListPeers)
			authGroup.DELETE("/peers/:id", sh.DisconnectPeer)
			authGroup.GET("/peers/:id/quality", sh.PeerQuality)
			authGroup.POST("/chat", sh.SendChat)
			authGroup.GET("/history/sessions", sh.ListSessions)
			authGroup.GET("/history/events", sh.ListPeerEvents)

			// Admin Only
			adminGroup := authGroup.Group("/")
			adminGroup.Use(api.AdminOnly())
			{
				adminGroup.GET("/users", uh.ListUsers)
				adminGroup.POST("/users", uh.CreateUser)
				adminGroup.DELETE("/users/:id", uh.DeleteUser)
			}
		}
	}

	// 7. Start Server
	go func() {
		port := config.AppConfig.Server.Port
		logger.Log.Infof("Server listening on %s", port)
		if err := r.Run(port); err != nil {
			logger.Log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down...")
	reg.DisconnectAll()
}
