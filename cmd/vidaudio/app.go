package main

import (
	"fmt"
	"io"

	"github.com/bnema/vidaudio/config"
	"github.com/bnema/vidaudio/internal/adapter/converter/ffmpeg"
	"github.com/bnema/vidaudio/internal/adapter/joblog"
	"github.com/bnema/vidaudio/internal/adapter/storage/jsonfile"
	sqlitestore "github.com/bnema/vidaudio/internal/adapter/storage/sqlite"
	"github.com/bnema/vidaudio/internal/port"
	"github.com/bnema/vidaudio/internal/service"
	"github.com/bnema/vidaudio/internal/validation"
)

type app struct {
	cfg    *config.Config
	svc    *service.ConversionService
	store  port.JobStore
	events *service.EventBus
	closer io.Closer
}

func (a *app) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openStore(cfg *config.Config) (port.JobStore, io.Closer, error) {
	switch cfg.StoreBackend {
	case config.StoreJSON:
		store, err := jsonfile.NewStore(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return store, nopCloser{}, nil
	default:
		store, err := sqlitestore.NewStore(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	}
}

// newApp creates the storage directories and wires the conversion service.
func newApp(cfg *config.Config) (*app, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	store, closer, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}

	runner := ffmpeg.NewRunner()
	events := service.NewEventBus()

	svc := service.NewConversionService(service.Deps{
		Validator: validation.NewValidator(cfg.MaxFileSizeBytes(), cfg.AllowedVideoExtensions),
		Builder:   ffmpeg.NewBuilder(cfg.FFmpegPath),
		Runner:    runner,
		JobLog:    joblog.NewFileLogger(),
		Checker:   ffmpeg.NewVerifier(runner, cfg.FFmpegPath),
		Store:     store,
		Events:    events,
	}, service.Config{
		StagingDir:      cfg.StagingDir,
		OutputDir:       cfg.OutputDir,
		LogDir:          cfg.LogDir,
		DefaultFormat:   cfg.DefaultFormat,
		DefaultBitrate:  cfg.DefaultBitrate,
		Timeout:         cfg.TranscodeTimeout,
		MaxConcurrent:   cfg.MaxConcurrentJobs,
		DownloadBaseURL: cfg.DownloadBaseURL,
		Retention:       cfg.Retention(),
	})

	return &app{
		cfg:    cfg,
		svc:    svc,
		store:  store,
		events: events,
		closer: closer,
	}, nil
}
