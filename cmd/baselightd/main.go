// Baselight Server
//
// Features:
// - Profile-scoped baseline asset store over pluggable capability backends
// - Prometheus metrics & structured logging (zap)
// - SSE change events, including external edits to the asset directory
// - Revocable display references with thumbnail rendering
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/baselight/baselight/internal/api"
	"github.com/baselight/baselight/internal/auth"
	"github.com/baselight/baselight/internal/capability"
	"github.com/baselight/baselight/internal/capability/osfs"
	"github.com/baselight/baselight/internal/capability/s3fs"
	"github.com/baselight/baselight/internal/config"
	"github.com/baselight/baselight/internal/display"
	"github.com/baselight/baselight/internal/events"
	"github.com/baselight/baselight/internal/logging"
	"github.com/baselight/baselight/internal/metrics"
	"github.com/baselight/baselight/internal/profile"
	"github.com/baselight/baselight/internal/session"
	"github.com/baselight/baselight/internal/watcher"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("Baselight server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("backend", cfg.PickerBackend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	picker := buildPicker(ctx, cfg)
	store := profile.NewStore(picker)
	displays := display.NewManager()
	broadcaster := events.NewBroadcaster()

	var watch *watcher.Watcher
	if cfg.WatchAssets {
		watch, err = watcher.New(broadcaster)
		if err != nil {
			logging.Error("watcher unavailable, external changes will not be reported", zap.Error(err))
		} else {
			defer watch.Close()
		}
	}

	sess := session.New(store, displays, broadcaster, watch, cfg.BaselineLimit)
	defer sess.Close()

	authHandler := auth.New(cfg.JWTSecret, cfg.APIUsername, cfg.APIPasswordHash)
	if !authHandler.Enabled() {
		logging.Warn("JWT_SECRET not set, API authentication disabled")
	}

	srv := api.NewServer(sess, authHandler, broadcaster, cfg.MaxUploadSize)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		httpServer.Close()
		metricsServer.Close()
	}()

	logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}

// buildPicker constructs the configured capability backend. An unknown
// backend is a detected-unsupported condition, not a startup failure: the
// server still runs and reports the persistent warning through its state.
func buildPicker(ctx context.Context, cfg *config.Config) capability.Picker {
	switch cfg.PickerBackend {
	case "osfs":
		p, err := osfs.New(osfs.Config{
			BaseDir:    cfg.BaseDir,
			CreateDirs: cfg.CreateDirs,
		})
		if err != nil {
			logging.Error("osfs picker init failed", zap.Error(err))
			return capability.UnsupportedPicker(err.Error())
		}
		return p
	case "s3":
		p, err := s3fs.New(ctx, s3fs.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			logging.Error("s3 picker init failed", zap.Error(err))
			return capability.UnsupportedPicker(err.Error())
		}
		return p
	default:
		logging.Error("unknown picker backend", zap.String("backend", cfg.PickerBackend))
		return capability.UnsupportedPicker("unknown backend " + cfg.PickerBackend)
	}
}
