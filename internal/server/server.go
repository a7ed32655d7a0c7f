package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/berfenger/devbridge2mqtt/internal/config"
	"github.com/berfenger/devbridge2mqtt/internal/metrics"

	_ "github.com/joho/godotenv/autoload"
)

type Server struct {
	port    uint
	httpLog bool
	gateway EntityGateway
	metrics *metrics.Metrics
}

func NewServer(cfg config.Config, gateway EntityGateway, metrics *metrics.Metrics) *http.Server {
	NewServer := &Server{
		port:    cfg.Port,
		gateway: gateway,
		metrics: metrics,
		httpLog: cfg.HttpLog,
	}

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewServer.port),
		Handler:      NewServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server
}
