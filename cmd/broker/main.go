package main

import (
	"github.com/gin-gonic/gin"

	"github.com/jamlink-audio/jamlink/internal/auth"
	"github.com/jamlink-audio/jamlink/internal/broker"
	"github.com/jamlink-audio/jamlink/internal/config"
	"github.com/jamlink-audio/jamlink/pkg/logger"
)

func main() {
	config.LoadConfig()
	logger.InitLogger(config.AppConfig.Log.Level)
	logger.Log.Info("Starting jamlink rendezvous broker...")

	brokerCfg := config.AppConfig.Broker
	auth.SetSecret(brokerCfg.JWTSecret)

	if brokerCfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	hub := broker.NewHub()

	r.GET("/health", broker.HandleHealth(hub))
	r.GET("/ws", broker.HandleWS(hub, brokerCfg))
	r.POST("/api/v1/token", broker.HandleToken(brokerCfg))

	logger.Log.Infof("Broker listening on %s", brokerCfg.Port)
	if err := r.Run(brokerCfg.Port); err != nil {
		logger.Log.Fatalf("Broker failed to start: %v", err)
	}
}
