package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dbehnke/cpslink/pkg/config"
	"github.com/dbehnke/cpslink/pkg/logger"
	"github.com/dbehnke/cpslink/pkg/metrics"
	"github.com/dbehnke/cpslink/pkg/session"
)

// Server serves the monitor HTTP endpoints: health, session status and
// the WebSocket event feed.
type Server struct {
	config  config.MonitorConfig
	logger  *logger.Logger
	server  *http.Server
	hub     *Hub
	addr    string
	mu      sync.RWMutex
	session *session.Session
	met     *metrics.Collector
}

// NewServer creates a new monitor server instance
func NewServer(cfg config.MonitorConfig, log *logger.Logger) *Server {
	return &Server{
		config: cfg,
		logger: log,
		hub:    NewHub(log),
	}
}

// AttachSession binds the session whose status the server reports.
// Safe to call before or after Start.
func (s *Server) AttachSession(sess *session.Session, met *metrics.Collector) {
	s.mu.Lock()
	s.session = sess
	s.met = met
	s.mu.Unlock()
}

// Hub returns the WebSocket hub, for wiring as the session event sink.
func (s *Server) Hub() *Hub {
	return s.hub
}

// GetAddr returns the address the server is listening on
func (s *Server) GetAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Start runs the HTTP server until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Monitor server is disabled")
		return nil
	}

	go s.hub.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.Handle("/ws", s.hub.Handler())

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start listener to get actual address (especially for port 0)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	s.mu.Lock()
	s.addr = listener.Addr().String()
	s.mu.Unlock()

	s.logger.Info("Starting monitor server",
		logger.String("address", s.addr))

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down monitor server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		return ctx.Err()
	case err := <-errChan:
		return err
	}
}

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "cpslink",
		"time":    time.Now().Unix(),
	}); err != nil {
		s.logger.Warn("Failed to encode health response", logger.Error(err))
	}
}

// handleStatus reports the attached session's identity, state and
// counters.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	sess := s.session
	met := s.met
	s.mu.RUnlock()

	response := map[string]interface{}{
		"service": "cpslink",
		"clients": s.hub.GetClientCount(),
	}

	if sess != nil {
		id := sess.Identity()
		response["session"] = map[string]interface{}{
			"state":          id.State.String(),
			"local_address":  fmt.Sprintf("0x%04X", id.LocalAddress),
			"peer_address":   fmt.Sprintf("0x%04X", id.PeerAddress),
			"session_prefix": fmt.Sprintf("0x%02X", id.SessionPrefix),
		}
	} else {
		response["session"] = nil
	}

	if met != nil {
		response["counters"] = map[string]interface{}{
			"frames_sent":      met.GetFramesSent(),
			"frames_received":  met.GetFramesReceived(),
			"commands_sent":    met.GetCommandsSent(),
			"command_retries":  met.GetCommandRetries(),
			"command_timeouts": met.GetCommandTimeouts(),
			"records_read":     met.GetRecordsRead(),
			"transfer_bytes":   met.GetTransferBytes(),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Warn("Failed to encode status response", logger.Error(err))
	}
}
