package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/storageagent/internal/audio"
	"github.com/antoniostano/storageagent/internal/reliability"
)

const maxResponseBytes = 1 << 20

// HTTPTranscriber posts clips as WAV to a whisper-server style /inference
// endpoint.
type HTTPTranscriber struct {
	name     string
	endpoint string
	language string
	client   *http.Client
	policy   reliability.Policy
	logger   *zap.Logger
}

type HTTPOption func(*HTTPTranscriber)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTranscriber) {
		if c != nil {
			t.client = c
		}
	}
}

func WithRetryPolicy(p reliability.Policy) HTTPOption {
	return func(t *HTTPTranscriber) { t.policy = p }
}

func WithLanguage(lang string) HTTPOption {
	return func(t *HTTPTranscriber) {
		if lang = strings.TrimSpace(lang); lang != "" {
			t.language = lang
		}
	}
}

func WithName(name string) HTTPOption {
	return func(t *HTTPTranscriber) {
		if name = strings.TrimSpace(name); name != "" {
			t.name = name
		}
	}
}

func NewHTTPTranscriber(baseURL string, timeout time.Duration, logger *zap.Logger, opts ...HTTPOption) (*HTTPTranscriber, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("transcriber url is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &HTTPTranscriber{
		name:     "http",
		endpoint: baseURL + "/inference",
		language: "en-US",
		client:   &http.Client{Timeout: timeout},
		policy:   reliability.DefaultPolicy(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.Named("transcriber").With(zap.String("provider", t.name))
	return t, nil
}

func (t *HTTPTranscriber) Name() string { return t.name }

type inferenceResponse struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
}

func (t *HTTPTranscriber) Transcribe(ctx context.Context, clip []byte) (Transcript, error) {
	if err := audio.Validate(clip); err != nil {
		return Transcript{}, errors.Join(ErrInaudible, err)
	}
	wav := audio.EnsureWAV(clip, audio.DefaultSampleRate)

	var out inferenceResponse
	attempt := 0
	err := reliability.Do(ctx, t.policy, func(ctx context.Context) error {
		attempt++
		resp, err := t.post(ctx, wav)
		if err != nil {
			t.logger.Warn("transcription attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		var se *reliability.StatusError
		switch {
		case errors.Is(err, context.Canceled):
			return Transcript{}, err
		case errors.As(err, &se) && (se.Code == http.StatusBadRequest || se.Code == http.StatusUnprocessableEntity):
			return Transcript{}, fmt.Errorf("%w: %v", ErrInaudible, err)
		default:
			return Transcript{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	tr := Transcript{Text: out.Text, Confidence: 1, Provider: t.name}
	if out.Confidence != nil {
		tr.Confidence = *out.Confidence
	}
	return normalize(tr)
}

func (t *HTTPTranscriber) post(ctx context.Context, wav []byte) (inferenceResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return inferenceResponse{}, reliability.Permanent(err)
	}
	if _, err := fw.Write(wav); err != nil {
		return inferenceResponse{}, reliability.Permanent(err)
	}
	_ = mw.WriteField("temperature", "0.0")
	_ = mw.WriteField("response_format", "json")
	_ = mw.WriteField("language", t.language)
	if err := mw.Close(); err != nil {
		return inferenceResponse{}, reliability.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, &body)
	if err != nil {
		return inferenceResponse{}, reliability.Permanent(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return inferenceResponse{}, context.Canceled
		}
		return inferenceResponse{}, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return inferenceResponse{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return inferenceResponse{}, &reliability.StatusError{
			Service: t.name,
			Code:    resp.StatusCode,
			Body:    strings.TrimSpace(string(b)),
		}
	}

	var out inferenceResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return inferenceResponse{}, reliability.Permanent(fmt.Errorf("decode transcription: %w", err))
	}
	return out, nil
}
