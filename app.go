package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"codesage/internal/classifier"
	"codesage/internal/config"
	"codesage/internal/service/ai"
	"codesage/internal/service/assistant"
	"codesage/internal/service/session"
	"codesage/internal/storage"
)

// app holds the wired services shared by every command.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	backend   storage.Backend
	store     *session.Store
	assistant *assistant.Service
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// newApp loads configuration, opens the backend and reads every session.
// A missing provider key is not fatal: code requests then answer with an
// inline generation error.
func newApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.BasicConfig.LogLevel)
	slog.SetDefault(logger)

	backend, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	var gen ai.Generator
	name, provCfg, err := cfg.Provider("")
	if err == nil {
		gen, err = ai.NewGenerator(ctx, name, provCfg)
	}
	if err != nil {
		logger.Warn("generation provider unavailable", "provider", cfg.BasicConfig.DefaultProvider, "error", err)
	}

	opts := []session.Option{session.WithLogger(logger)}
	if gen != nil {
		opts = append(opts, session.WithTitler(ai.NewSummarizer(gen, cfg.BasicConfig.TitleMaxTokens)))
	}
	store := session.NewStore(backend, opts...)
	if err := store.LoadAll(ctx); err != nil {
		if !errors.Is(err, session.ErrPersistence) {
			backend.Close()
			return nil, err
		}
		logger.Error("could not read sessions, saving disabled until restart", "driver", cfg.BasicConfig.StorageDriver, "error", err)
	}

	cls, err := classifier.New(cfg.Classifier.ExtraKeywords)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("build classifier: %w", err)
	}

	svc := assistant.NewService(store, gen, assistant.Options{
		Classifier:        cls,
		Logger:            logger,
		GenerationTimeout: time.Duration(cfg.BasicConfig.GenerationTimeout) * time.Second,
	})
	logger.Debug("codesage ready", "driver", cfg.BasicConfig.StorageDriver, "provider", name, "sessions", store.Len())
	return &app{
		cfg:       cfg,
		logger:    logger,
		backend:   backend,
		store:     store,
		assistant: svc,
	}, nil
}

func (a *app) Close() error {
	return a.backend.Close()
}
