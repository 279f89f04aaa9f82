package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aegis-cms/dbal"
	"github.com/aegis-cms/dbal/internal/config"
	"github.com/aegis-cms/dbal/internal/log"
)

var (
	configPath string
	dbType     string
)

var rootCmd = &cobra.Command{
	Use:           "aegisdb",
	Short:         "aegisdb talks to the configured AEGIS database backend",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file (yaml, toml or json)")
	rootCmd.PersistentFlags().StringVarP(&dbType, "type", "t", "", "backend type, overrides the configuration")

	rootCmd.AddCommand(pingCmd, columnsCmd, queryCmd, serveCmd)
}

// app is what every subcommand needs after startup.
type app struct {
	cfg *config.Config
	log *zap.SugaredLogger
	db  dbal.Database
}

// setup loads configuration, builds the logger and connects the database.
// withMetrics registers operation metrics and serves them when an address
// is configured.
func setup(ctx context.Context, withMetrics bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbType != "" {
		cfg.Type = dbType
	}

	logger, err := log.New(&cfg.Log)
	if err != nil {
		return nil, err
	}

	opts := []dbal.Option{dbal.WithLogger(logger)}
	if withMetrics && cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		m, err := dbal.NewMetrics(reg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, dbal.WithMetrics(m))
		serveMetrics(ctx, logger, cfg.Metrics.Addr, reg)
	}

	db, err := dbal.Open(ctx, cfg.Type, cfg.Database, opts...)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: logger, db: db}, nil
}

func (a *app) close() {
	if err := a.db.Disconnect(); err != nil {
		a.log.Warnw("disconnect failed", "error", err)
	}
	_ = a.log.Sync()
}

func serveMetrics(ctx context.Context, logger *zap.SugaredLogger, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Infow("metrics server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("metrics server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "aegisdb:", err)
		stop()
		os.Exit(1)
	}
}
