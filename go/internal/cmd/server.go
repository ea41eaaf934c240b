package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mcdev12/tempo/go/internal/config"
	"github.com/mcdev12/tempo/go/internal/gateway"
	"github.com/mcdev12/tempo/go/internal/timer/session"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func setupServer(cfg *config.Config, gatewayService *gateway.Service, sessions *session.Manager, stats *session.SyncStats) *http.Server {
	mux := http.NewServeMux()

	gatewayService.RegisterRoutes(mux)
	setupHealthCheck(mux)
	setupInfo(mux, cfg, gatewayService, sessions, stats)

	handler := gateway.CORSMiddleware(cfg.AllowedOrigins, mux)

	return &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      h2c.NewHandler(handler, &http2.Server{}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}

type serviceInfo struct {
	Service     string                    `json:"service"`
	Store       string                    `json:"store"`
	Sessions    int                       `json:"sessions"`
	Connections interface{}               `json:"connections"`
	Sync        session.SyncStatsSnapshot `json:"sync"`
}

func setupInfo(mux *http.ServeMux, cfg *config.Config, gatewayService *gateway.Service, sessions *session.Manager, stats *session.SyncStats) {
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		info := serviceInfo{
			Service:     "timerd",
			Store:       cfg.StoreBackend,
			Sessions:    sessions.Active(),
			Connections: gatewayService.GetStats()["total_connections"],
			Sync:        stats.Snapshot(),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(info); err != nil {
			log.Error().Err(err).Msg("failed to encode info response")
		}
	})
}
