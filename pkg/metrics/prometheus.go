package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dbehnke/cpslink/pkg/logger"
)

// PrometheusConfig holds Prometheus server configuration
type PrometheusConfig struct {
	Enabled bool
	Port    int
	Path    string
}

// PrometheusHandler handles Prometheus metrics HTTP requests
type PrometheusHandler struct {
	collector *Collector
}

// NewPrometheusHandler creates a new Prometheus handler
func NewPrometheusHandler(collector *Collector) *PrometheusHandler {
	return &PrometheusHandler{
		collector: collector,
	}
}

// ServeHTTP handles HTTP requests for metrics
func (h *PrometheusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	var output strings.Builder

	counter := func(name, help string, value uint64) {
		output.WriteString(fmt.Sprintf("# HELP %s %s\n", name, help))
		output.WriteString(fmt.Sprintf("# TYPE %s counter\n", name))
		output.WriteString(fmt.Sprintf("%s %d\n", name, value))
	}
	gauge := func(name, help string, value uint64) {
		output.WriteString(fmt.Sprintf("# HELP %s %s\n", name, help))
		output.WriteString(fmt.Sprintf("# TYPE %s gauge\n", name))
		output.WriteString(fmt.Sprintf("%s %d\n", name, value))
	}

	counter("cpslink_sessions_opened_total", "Total authenticated radio sessions", h.collector.GetSessionsOpened())
	counter("cpslink_sessions_failed_total", "Total failed session attempts", h.collector.GetSessionsFailed())
	counter("cpslink_frames_sent_total", "Total frames sent", h.collector.GetFramesSent())
	counter("cpslink_frames_received_total", "Total frames received", h.collector.GetFramesReceived())
	counter("cpslink_bytes_sent_total", "Total bytes sent", h.collector.GetBytesSent())
	counter("cpslink_bytes_received_total", "Total bytes received", h.collector.GetBytesReceived())
	counter("cpslink_commands_sent_total", "Total commands dispatched", h.collector.GetCommandsSent())
	counter("cpslink_command_retries_total", "Total command retries after timeout", h.collector.GetCommandRetries())
	counter("cpslink_command_timeouts_total", "Total commands that exhausted retries", h.collector.GetCommandTimeouts())
	counter("cpslink_records_read_total", "Total codeplug records read", h.collector.GetRecordsRead())
	counter("cpslink_transfer_bytes_total", "Total codeplug bytes transferred", h.collector.GetTransferBytes())
	gauge("cpslink_transfer_percent", "Most recent write transfer percentage", h.collector.GetTransferPercent())
	counter("cpslink_writes_committed_total", "Total committed codeplug writes", h.collector.GetWritesCommitted())
	counter("cpslink_writes_aborted_total", "Total aborted codeplug writes", h.collector.GetWritesAborted())

	w.Write([]byte(output.String()))
}

// PrometheusServer is an HTTP server for Prometheus metrics
type PrometheusServer struct {
	config    PrometheusConfig
	collector *Collector
	log       *logger.Logger
	server    *http.Server
}

// NewPrometheusServer creates a new Prometheus metrics server
func NewPrometheusServer(config PrometheusConfig, collector *Collector, log *logger.Logger) *PrometheusServer {
	if log == nil {
		log = logger.New(logger.Config{Level: "info"})
	}

	return &PrometheusServer{
		config:    config,
		collector: collector,
		log:       log.WithComponent("metrics"),
	}
}

// Start starts the Prometheus metrics server
func (s *PrometheusServer) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.log.Info("Prometheus metrics server disabled")
		return nil
	}

	handler := NewPrometheusHandler(s.collector)
	mux := http.NewServeMux()
	mux.Handle(s.config.Path, handler)

	// Use a listener to get the actual port (useful for testing with port 0)
	addr := fmt.Sprintf(":%d", s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	actualPort := listener.Addr().(*net.TCPAddr).Port

	s.server = &http.Server{
		Handler: mux,
	}

	s.log.Info("Starting Prometheus metrics server",
		logger.Int("port", actualPort),
		logger.String("path", s.config.Path))

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info("Shutting down Prometheus metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown error: %w", err)
		}
		return ctx.Err()
	case err := <-errChan:
		return err
	}
}

// Stop stops the Prometheus metrics server
func (s *PrometheusServer) Stop() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctx)
	}
}
