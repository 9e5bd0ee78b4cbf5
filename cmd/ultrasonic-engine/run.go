package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ultrasonic/ultrasonic-sub000/internal/config"
	"github.com/ultrasonic/ultrasonic-sub000/internal/engine"
	"github.com/ultrasonic/ultrasonic-sub000/internal/events"
	"github.com/ultrasonic/ultrasonic-sub000/internal/monitoring"
)

var (
	runOffline bool
	runShuffle bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the engine until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if runOffline {
			cfg.Server.Offline = true
		}

		logger, err := monitoring.NewLogger(monitoring.LogConfigFrom(cfg.Logging))
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runEngine(ctx, cfg, logger)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runOffline, "offline", false, "serve from the local cache only")
	runCmd.Flags().BoolVar(&runShuffle, "shuffle", false, "start shuffle play right away")
	rootCmd.AddCommand(runCmd)
}

func runEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	e, err := engine.New(cfg, logger, engine.Options{Version: version})
	if err != nil {
		return err
	}
	if err := e.Start(ctx); err != nil {
		e.Stop()
		return err
	}
	defer e.Stop()

	err = config.Watch(resolvedConfigPath(), e.ApplyConfig, func(err error) {
		logger.Warn("ignoring invalid configuration change", zap.Error(err))
	})
	if err != nil {
		logger.Warn("configuration changes will not be picked up", zap.Error(err))
	}

	sub := e.Notifier().Subscribe("cli")
	defer e.Notifier().Unsubscribe("cli")
	go logEvents(logger, sub)

	if cfg.Metrics.Enabled {
		srv := metricsServer(cfg.Metrics.ListenAddr, e)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("metrics listening", zap.String("addr", cfg.Metrics.ListenAddr))
	}

	if runShuffle {
		if err := e.Downloader().SetShufflePlay(ctx, true); err != nil {
			logger.Warn("shuffle play unavailable", zap.Error(err))
		}
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func metricsServer(addr string, e *engine.Engine) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", e.HealthHandler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func logEvents(logger *zap.Logger, sub *events.Subscriber) {
	for ev := range sub.C {
		fields := []zap.Field{
			zap.String("event", string(ev.Type)),
			zap.String("track_id", ev.TrackID),
		}
		switch ev.Type {
		case events.TransferFailed, events.JukeboxNotice:
			logger.Warn("engine event", append(fields, zap.String("error", ev.Error), zap.String("message", ev.Message))...)
		case events.TransferProgress:
			logger.Debug("engine event", append(fields, zap.Int64("bytes", ev.BytesProcessed), zap.Float64("speed", ev.Speed))...)
		default:
			logger.Debug("engine event", append(fields, zap.Int("index", ev.Index), zap.Int64("revision", ev.Revision))...)
		}
	}
}
