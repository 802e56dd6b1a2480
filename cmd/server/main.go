// MediaFS Server
//
// Features:
// - Virtual folders over a flat object store (S3 or local)
// - Batch upload with image optimization presets
// - Rename, move and recursive delete
// - Folder selection and gallery picker
// - SSE change and progress events
// - Per-account rate limiting
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/mediafs/internal/api"
	"github.com/fruitsalade/mediafs/internal/auth"
	"github.com/fruitsalade/mediafs/internal/config"
	"github.com/fruitsalade/mediafs/internal/events"
	"github.com/fruitsalade/mediafs/internal/logging"
	"github.com/fruitsalade/mediafs/internal/metrics"
	"github.com/fruitsalade/mediafs/internal/optimizer"
	"github.com/fruitsalade/mediafs/internal/quota"
	"github.com/fruitsalade/mediafs/internal/storage"
	"github.com/fruitsalade/mediafs/internal/storage/local"
	s3storage "github.com/fruitsalade/mediafs/internal/storage/s3"
	"github.com/fruitsalade/mediafs/internal/vfs"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("MediaFS server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("storage", cfg.StorageBackend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := newBackend(ctx, cfg)
	if err != nil {
		logging.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()

	presets, err := optimizer.LoadPresets(cfg.PresetsFile)
	if err != nil {
		logging.Fatal("presets load failed", zap.Error(err))
	}
	if _, ok := presets.Get(cfg.DefaultPreset); !ok {
		logging.Fatal("unknown default preset", zap.String("preset", cfg.DefaultPreset))
	}
	logging.Info("optimization presets loaded", zap.Int("count", len(presets)))

	// Initialize SSE broadcaster
	broadcaster := events.NewBroadcaster()

	url := vfs.PublicURL(cfg.PublicBaseURL)
	mutator := vfs.NewMutator(store, optimizer.New(cfg.UploadConcurrency), broadcaster, url, vfs.Options{
		MaxUploadSize: cfg.MaxUploadSize,
		MaxFiles:      cfg.MaxFilesPerUpload,
		Concurrency:   cfg.UploadConcurrency,
	})

	// Per-account rate limiting (off when RATE_LIMIT_RPM is 0)
	var limiter *quota.RateLimiter
	if cfg.RateLimitRPM > 0 {
		limiter = quota.NewRateLimiter(cfg.RateLimitRPM)
		logging.Info("rate limiter initialized", zap.Int("rpm", cfg.RateLimitRPM))
	}

	srv := api.NewServer(
		vfs.NewLister(store, url),
		vfs.NewCollector(store),
		mutator,
		auth.New(cfg.JWTSecret),
		broadcaster,
		presets,
		api.Options{
			DefaultPreset: cfg.DefaultPreset,
			MaxUploadSize: cfg.MaxUploadSize,
			MaxFiles:      cfg.MaxFilesPerUpload,
			RateLimiter:   limiter,
		},
	)

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

	// Start HTTP(S) server
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	useTLS := cfg.TLSCertFile != "" && cfg.TLSKeyFile != ""
	if useTLS {
		httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()

		// SSE streams end when their request contexts are cancelled.
		shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
		defer done()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logging.Warn("graceful shutdown timed out", zap.Error(err))
			httpServer.Close()
		}
		metricsServer.Close()
	}()

	// Start periodic cleanup of idle rate limiter buckets
	if limiter != nil {
		go func() {
			ticker := time.NewTicker(1 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					limiter.Cleanup(24 * time.Hour)
				}
			}
		}()
	}

	if useTLS {
		logging.Info("server listening (TLS 1.3)",
			zap.String("addr", cfg.ListenAddr),
			zap.String("cert", cfg.TLSCertFile))
		if err := httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	} else {
		logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	}
}

// newBackend opens the object store named by STORAGE_BACKEND.
func newBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	switch cfg.StorageBackend {
	case "s3":
		return s3storage.NewBackend(ctx, s3storage.BackendConfig{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
	case "local":
		return local.New(local.Config{
			RootPath:   cfg.LocalStoragePath,
			CreateDirs: true,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
