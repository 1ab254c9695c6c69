// cpslink is a command-line programmer for radios speaking the CPS
// session protocol: it authenticates, lists and reads codeplug records,
// and writes codeplug images.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbehnke/cpslink/pkg/config"
	"github.com/dbehnke/cpslink/pkg/logger"
	"github.com/dbehnke/cpslink/pkg/metrics"
	"github.com/dbehnke/cpslink/pkg/monitor"
	"github.com/dbehnke/cpslink/pkg/session"
	"github.com/dbehnke/cpslink/pkg/transport"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var rootFlags = struct {
	configFile string
	host       string
	port       int
	key        string
	logLevel   string
}{}

var rootCmd = &cobra.Command{
	Use:     "cpslink",
	Short:   "Program two-way radios over the CPS session protocol",
	Version: fmt.Sprintf("%s (built %s)", version, buildTime),
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&rootFlags.configFile, "config", "c", "", "Path to configuration file")
	pf.StringVar(&rootFlags.host, "host", "", "Radio address (overrides config)")
	pf.IntVar(&rootFlags.port, "port", 0, "Radio port (overrides config)")
	pf.StringVar(&rootFlags.key, "key", "", "Session key, hex encoded (overrides config)")
	pf.StringVar(&rootFlags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(rootFlags.configFile)
	if err != nil {
		return nil, err
	}
	if rootFlags.host != "" {
		cfg.Transport.Host = rootFlags.host
	}
	if rootFlags.port != 0 {
		cfg.Transport.Port = rootFlags.port
	}
	if rootFlags.key != "" {
		cfg.Session.Key = rootFlags.key
	}
	if rootFlags.logLevel != "" {
		cfg.Logging.Level = rootFlags.logLevel
	}
	return cfg, nil
}

// withSession dials the radio, authenticates, waits for readiness and
// hands the ready session to fn. Monitor and metrics servers run for
// the duration when enabled.
func withSession(fn func(ctx context.Context, cfg *config.Config, log *logger.Logger, met *metrics.Collector, sess *session.Session) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := logger.New(logger.Config{Level: cfg.Logging.Level})
	met := metrics.NewCollector()

	key, err := cfg.Session.KeyBytes()
	if err != nil {
		return fmt.Errorf("no usable session key: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var events session.EventSink
	var monitorSrv *monitor.Server
	if cfg.Monitor.Enabled {
		monitorSrv = monitor.NewServer(cfg.Monitor, log.WithComponent("monitor"))
		events = monitorSrv.Hub()
		go func() {
			if err := monitorSrv.Start(ctx); err != nil && err != context.Canceled {
				log.Error("Monitor server failed", logger.Error(err))
			}
		}()
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Prometheus.Enabled {
		promSrv := metrics.NewPrometheusServer(
			metrics.PrometheusConfig{
				Enabled: cfg.Metrics.Prometheus.Enabled,
				Port:    cfg.Metrics.Prometheus.Port,
				Path:    cfg.Metrics.Prometheus.Path,
			},
			met,
			log.WithComponent("metrics"),
		)
		go func() {
			if err := promSrv.Start(ctx); err != nil && err != context.Canceled {
				log.Error("Metrics server failed", logger.Error(err))
			}
		}()
	}

	ch, err := transport.Dial(ctx, transport.Config{
		Host:           cfg.Transport.Host,
		Port:           cfg.Transport.Port,
		ConnectTimeout: time.Duration(cfg.Transport.ConnectTimeout) * time.Second,
	}, log.WithComponent("transport"))
	if err != nil {
		return fmt.Errorf("connecting to radio: %w", err)
	}

	sess, err := session.Connect(ch, session.Options{
		Key:             key,
		EntityType:      byte(cfg.Session.EntityType),
		CommandTimeout:  time.Duration(cfg.Session.CommandTimeout) * time.Second,
		CommandAttempts: cfg.Session.CommandAttempts,
		AuthTimeout:     time.Duration(cfg.Session.AuthTimeout) * time.Second,
		Logger:          log,
		Metrics:         met,
		Events:          events,
	})
	if err != nil {
		return fmt.Errorf("opening session: %w", err)
	}
	defer sess.Close()

	if monitorSrv != nil {
		monitorSrv.AttachSession(sess, met)
	}

	if err := sess.Authenticate(ctx); err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}
	if err := sess.WaitUntilReady(ctx); err != nil {
		return fmt.Errorf("waiting for radio readiness: %w", err)
	}

	return fn(ctx, cfg, log, met, sess)
}
