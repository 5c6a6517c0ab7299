package app

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/antoniostano/storageagent/internal/config"
	"github.com/antoniostano/storageagent/internal/transcription"
)

type TranscriberInfo struct {
	Mode     string
	Provider string
	Fallback bool
}

func resolveTranscriber(cfg config.Config, logger *zap.Logger) (transcription.Transcriber, TranscriberInfo, error) {
	t, err := transcription.New(transcription.Options{
		Mode:        cfg.TranscriberMode,
		URL:         cfg.TranscriberURL,
		FallbackURL: cfg.TranscriberFallbackURL,
		Timeout:     cfg.TranscriberTimeout,
		MaxAttempts: cfg.TranscriberMaxAttempts,
	}, logger)
	if err != nil {
		return nil, TranscriberInfo{}, fmt.Errorf("transcriber init failed: %w", err)
	}

	info := TranscriberInfo{Mode: cfg.TranscriberMode, Provider: t.Name()}
	if _, ok := t.(*transcription.Failover); ok {
		info.Fallback = true
	}
	if _, ok := t.(*transcription.MockTranscriber); ok && cfg.TranscriberMode == "auto" {
		logger.Warn("no TRANSCRIBER_URL set, recordings are answered by the mock transcriber")
	}
	return t, info, nil
}
