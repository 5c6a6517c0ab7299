package transcription

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/storageagent/internal/reliability"
)

// Options selects the transcription backend.
type Options struct {
	// Mode is mock, http, or auto (http when URL is set, otherwise mock).
	Mode        string
	URL         string
	FallbackURL string
	Timeout     time.Duration
	MaxAttempts int
}

func New(opts Options, logger *zap.Logger) (Transcriber, error) {
	mode := strings.ToLower(strings.TrimSpace(opts.Mode))
	if mode == "" || mode == "auto" {
		mode = "mock"
		if strings.TrimSpace(opts.URL) != "" {
			mode = "http"
		}
	}

	switch mode {
	case "mock":
		return NewMockTranscriber(), nil
	case "http":
		policy := reliability.DefaultPolicy()
		if opts.MaxAttempts > 0 {
			policy.Attempts = uint(opts.MaxAttempts)
		}
		primary, err := NewHTTPTranscriber(opts.URL, opts.Timeout, logger,
			WithName("primary"), WithRetryPolicy(policy))
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(opts.FallbackURL) == "" {
			return primary, nil
		}
		fallback, err := NewHTTPTranscriber(opts.FallbackURL, opts.Timeout, logger,
			WithName("fallback"), WithRetryPolicy(policy))
		if err != nil {
			return nil, err
		}
		return NewFailover(primary, fallback), nil
	default:
		return nil, fmt.Errorf("unknown transcriber mode %q", opts.Mode)
	}
}
