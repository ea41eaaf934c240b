package gateway

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Service is the timer gateway: the intent API plus the websocket stream
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	intentHandler     *IntentHandler
}

// Config holds configuration for the timer gateway
type Config struct {
	ConnectionConfig ConnectionConfig
}

func DefaultConfig() Config {
	return Config{ConnectionConfig: DefaultConnectionConfig()}
}

func NewService(config Config, sessions SessionProvider, auth *Authenticator) *Service {
	connectionManager := NewConnectionManager(config.ConnectionConfig)
	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager, sessions, auth),
		intentHandler:     NewIntentHandler(sessions, auth),
	}
}

// Start runs the connection manager until ctx is done
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting timer gateway service")
	s.connectionManager.Start(ctx)
	log.Info().Msg("timer gateway service stopped")
	return nil
}

// RegisterRoutes registers the websocket and intent routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.intentHandler.RegisterRoutes(mux)
	log.Info().Msg("timer gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() map[string]interface{} {
	stats := s.connectionManager.GetConnectionStats()
	stats["service"] = "timer_gateway"
	stats["status"] = "running"
	return stats
}
