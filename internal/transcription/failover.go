package transcription

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// Failover prefers the primary backend and switches to the fallback when the
// primary is unavailable. Once the fallback succeeds it stays active until it
// fails; then the primary is retried. Inaudible clips never trigger a switch.
type Failover struct {
	primary        Transcriber
	fallback       Transcriber
	fallbackActive atomic.Bool
}

func NewFailover(primary, fallback Transcriber) *Failover {
	return &Failover{primary: primary, fallback: fallback}
}

func (f *Failover) Name() string {
	return f.primary.Name() + "+" + f.fallback.Name()
}

// FallbackActive reports which backend the next call tries first.
func (f *Failover) FallbackActive() bool { return f.fallbackActive.Load() }

func (f *Failover) Transcribe(ctx context.Context, clip []byte) (Transcript, error) {
	if f.fallbackActive.Load() {
		t, fbErr := f.fallback.Transcribe(ctx, clip)
		if !shouldSwitch(fbErr) {
			return t, fbErr
		}
		t, prErr := f.primary.Transcribe(ctx, clip)
		if prErr == nil {
			f.fallbackActive.Store(false)
			return t, nil
		}
		return Transcript{}, fmt.Errorf("fallback failed: %v; primary failed: %w", fbErr, prErr)
	}

	t, prErr := f.primary.Transcribe(ctx, clip)
	if !shouldSwitch(prErr) {
		return t, prErr
	}
	t, fbErr := f.fallback.Transcribe(ctx, clip)
	if fbErr != nil {
		return Transcript{}, fmt.Errorf("primary failed: %v; fallback failed: %w", prErr, fbErr)
	}
	f.fallbackActive.Store(true)
	return t, nil
}

func shouldSwitch(err error) bool {
	if err == nil || errors.Is(err, ErrInaudible) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
