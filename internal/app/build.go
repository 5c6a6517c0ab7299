package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/antoniostano/storageagent/internal/calllog"
	"github.com/antoniostano/storageagent/internal/config"
	"github.com/antoniostano/storageagent/internal/conversation"
	"github.com/antoniostano/storageagent/internal/entities"
	"github.com/antoniostano/storageagent/internal/httpapi"
	"github.com/antoniostano/storageagent/internal/observability"
	"github.com/antoniostano/storageagent/internal/storage"
)

const indicatorFallbackScript = "fallback_script"

type BuildResult struct {
	Config      config.Config
	API         *httpapi.Server
	Engine      *conversation.Engine
	Store       storage.Store
	CallLog     calllog.Store
	Transcriber TranscriberInfo
	Metrics     *observability.Metrics
	Monitor     *httpapi.Monitor

	// Cleanup should be called on shutdown to release external resources (DB, cache).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := storage.NewStore(ctx, storage.Options{
		DatabaseURL:  cfg.DatabaseURL,
		Migrate:      cfg.DatabaseMigrate,
		RedisURL:     cfg.RedisURL,
		UnitCacheTTL: cfg.UnitCacheTTL,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("storage init failed: %w", err)
	}

	callStore, err := calllog.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("call log init failed: %w", err)
	}

	transcriber, info, err := resolveTranscriber(cfg, logger)
	if err != nil {
		_ = callStore.Close()
		_ = store.Close()
		return nil, err
	}

	monitor := httpapi.NewMonitor(metrics, logger)

	var engine *conversation.Engine
	engine = conversation.NewEngine(conversation.DefaultRegistry(), store,
		conversation.WithTTL(cfg.ConversationTTL),
		conversation.WithLogger(logger),
		conversation.WithTurnHook(func(ev conversation.TurnEvent) {
			if ev.LookupErr != nil {
				metrics.CollaboratorError("store", "lookup")
				metrics.ObserveIndicator(indicatorFallbackScript)
			}
			monitor.OnTurn(ev)
		}),
		conversation.WithEvictHook(func(c conversation.Context, reason conversation.EvictReason) {
			event := "ended"
			if reason == conversation.EvictIdle {
				event = "evicted_idle"
			}
			metrics.ConversationEvent(event, engine.ActiveCount())
			monitor.OnEvict(c, reason)
		}),
	)

	api := httpapi.New(httpapi.Deps{
		Config:      cfg,
		Engine:      engine,
		Extractor:   entities.NewExtractor(logger),
		Store:       store,
		CallLog:     calllog.NewRecorder(callStore, logger),
		Transcriber: transcriber,
		Metrics:     metrics,
		Monitor:     monitor,
		Logger:      logger,
	})

	cleanup := func() error {
		return errors.Join(callStore.Close(), store.Close())
	}

	return &BuildResult{
		Config:      cfg,
		API:         api,
		Engine:      engine,
		Store:       store,
		CallLog:     callStore,
		Transcriber: info,
		Metrics:     metrics,
		Monitor:     monitor,
		Cleanup:     cleanup,
	}, nil
}
