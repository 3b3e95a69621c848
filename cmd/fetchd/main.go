package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ytget/fetchd/internal/config"
	"github.com/ytget/fetchd/internal/httpapi"
	applog "github.com/ytget/fetchd/internal/log"
	"github.com/ytget/fetchd/internal/model"
	"github.com/ytget/fetchd/internal/platform"
	"github.com/ytget/fetchd/internal/progress"
	"github.com/ytget/fetchd/internal/runner"
	"github.com/ytget/fetchd/internal/scheduler"
	"github.com/ytget/fetchd/internal/store"
	"github.com/ytget/fetchd/internal/token"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to the settings file")
	listenAddr := flag.String("listen", "", "listen address (overrides settings)")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	logger := applog.New(*verbose)

	if err := run(*configPath, *listenAddr, logger); err != nil {
		logger.Error("fetchd exited", "err", err)
		os.Exit(1)
	}
}

func run(configPath, listenAddr string, logger *slog.Logger) error {
	settings, err := config.Load(configPath)
	if err != nil {
		logger.Warn("settings file unreadable, continuing with defaults",
			"path", configPath, "err", err)
	}
	if listenAddr != "" {
		settings.ListenAddr = listenAddr
	}
	if err := platform.CreateDirectoryIfNotExists(settings.DownloadDir); err != nil {
		return fmt.Errorf("prepare download dir: %w", err)
	}

	tokens, err := token.NewService(settings.KeySet(), settings.ActiveKey)
	if err != nil {
		return fmt.Errorf("token service: %w", err)
	}

	st := store.New()
	hub := progress.NewHub()
	multi := runner.NewMulti(
		runner.NewFetchRunner(settings.DownloadDir, settings.ProxyURL, settings.LimitRateKbps),
		runner.NewTranscodeRunner(0),
	)
	sched := scheduler.New(st, hub, multi, settings.MaxConcurrent, logger)
	cleanup := func(job model.Job) {
		if job.ArtifactPath == "" {
			return
		}
		if err := platform.RemoveArtifact(job.ArtifactPath); err != nil {
			logger.Warn("remove artifact", "job_id", job.ID, "err", err)
		}
	}
	scheduler.NewFinalizer(st, hub, sched, cleanup, logger)

	server := httpapi.NewServer(st, sched, hub, tokens, settings, configPath,
		platform.NewPlaylistProber(), logger)

	httpServer := &http.Server{
		Addr:              settings.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("fetchd listening", "addr", settings.ListenAddr,
			"download_dir", settings.DownloadDir, "max_concurrent", settings.MaxConcurrent)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "fetchd.yaml"
	}
	return filepath.Join(home, ".config", "fetchd", "settings.yaml")
}
