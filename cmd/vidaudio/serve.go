package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	HTTPAdapter "github.com/bnema/vidaudio/internal/adapter/http"
	"github.com/bnema/vidaudio/internal/infrastructure/logger"
	"github.com/bnema/vidaudio/internal/service"
	"github.com/spf13/cobra"
)

const cleanupInterval = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP conversion service",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	logger.Info.Printf("starting vidaudio on port %d, store=%s, data=%s", cfg.Port, cfg.StoreBackend, cfg.DataDir)

	if version, err := a.svc.CheckTranscoder(cmd.Context()); err != nil {
		logger.Warn.Printf("transcoder unavailable: %v", err)
	} else {
		logger.Info.Printf("transcoder: %s", version)
	}

	if n, err := a.svc.RecoverInterrupted(); err != nil {
		logger.Error.Printf("recover interrupted jobs: %v", err)
	} else if n > 0 {
		logger.Info.Printf("marked %d interrupted jobs as failed", n)
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	go runJanitor(bgCtx, a.svc)

	server := HTTPAdapter.NewServer(a.svc, a.events, HTTPAdapter.Options{
		UploadDir:          cfg.StagingDir,
		DefaultFormat:      cfg.DefaultFormat,
		DefaultBitrate:     cfg.DefaultBitrate,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		BehindProxy:        cfg.TrustProxy,
		JobTimeout:         cfg.TranscodeTimeout,
	})
	go server.Limiter().Run(bgCtx)

	httpServer := newHTTPServer(cfg.Addr(), server)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info.Printf("server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-serverErr:
		if err != nil {
			return err
		}
	case sig := <-sigChan:
		logger.Info.Printf("received %s, shutting down", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error.Printf("http shutdown error: %v", err)
	}

	// Background jobs still running at the deadline are canceled.
	if err := a.svc.Shutdown(shutdownCtx); err != nil {
		logger.Warn.Printf("background jobs canceled: %v", err)
	}

	bgCancel()
	logger.Info.Printf("shutdown complete")
	return nil
}

// newHTTPServer only bounds header reads and idle connections. Body reads
// and response writes of conversion requests get per-request deadlines
// sized from the upload limit and the job timeout.
func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// runJanitor removes expired jobs once at startup and then every
// cleanupInterval until ctx ends.
func runJanitor(ctx context.Context, svc *service.ConversionService) {
	sweep := func() {
		n, err := svc.Cleanup(time.Now().UTC())
		if err != nil {
			logger.Error.Printf("cleanup failed: %v", err)
		}
		if n > 0 {
			logger.Info.Printf("cleanup removed %d expired jobs", n)
		}
	}

	sweep()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sweep()
		case <-ctx.Done():
			return
		}
	}
}
