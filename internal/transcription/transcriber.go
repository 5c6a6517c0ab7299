package transcription

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/antoniostano/storageagent/internal/audio"
)

var (
	// ErrInaudible means the clip held no usable speech.
	ErrInaudible = errors.New("speech not understood")
	// ErrUnavailable means the transcription backend could not be reached.
	ErrUnavailable = errors.New("transcription service unavailable")
)

// Transcript is the best-guess text for one clip.
type Transcript struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Provider   string  `json:"provider"`
}

// Transcriber turns recorded caller audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, clip []byte) (Transcript, error)
	Name() string
}

// MockTranscriber returns canned transcripts, for local runs and tests.
type MockTranscriber struct {
	mu      sync.Mutex
	replies []Transcript
	err     error
	calls   int
}

// NewMockTranscriber cycles through replies; with none it always answers
// with a general question.
func NewMockTranscriber(replies ...Transcript) *MockTranscriber {
	return &MockTranscriber{replies: replies}
}

// FailWith makes every later call return err.
func (m *MockTranscriber) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockTranscriber) Name() string { return "mock" }

func (m *MockTranscriber) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockTranscriber) Transcribe(ctx context.Context, clip []byte) (Transcript, error) {
	if err := ctx.Err(); err != nil {
		return Transcript{}, err
	}
	if err := audio.Validate(clip); err != nil {
		return Transcript{}, errors.Join(ErrInaudible, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.calls
	m.calls++
	if m.err != nil {
		return Transcript{}, m.err
	}
	if len(m.replies) == 0 {
		return Transcript{Text: "what unit sizes do you have available", Confidence: 0.9, Provider: m.Name()}, nil
	}
	out := m.replies[idx%len(m.replies)]
	out.Provider = m.Name()
	return out, nil
}

// normalize trims the transcript and rejects empty text.
func normalize(t Transcript) (Transcript, error) {
	t.Text = strings.TrimSpace(t.Text)
	if t.Text == "" {
		return Transcript{}, ErrInaudible
	}
	if t.Confidence < 0 {
		t.Confidence = 0
	}
	if t.Confidence > 1 {
		t.Confidence = 1
	}
	return t, nil
}
