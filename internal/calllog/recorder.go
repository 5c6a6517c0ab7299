package calllog

import (
	"context"

	"go.uber.org/zap"

	"github.com/antoniostano/storageagent/internal/policy"
)

// Recorder redacts PII before anything reaches the store. Write failures
// are logged and swallowed; a lost transcript line never fails a call.
type Recorder struct {
	store  Store
	logger *zap.Logger
}

func NewRecorder(store Store, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, logger: logger.Named("calllog")}
}

func (r *Recorder) Store() Store { return r.store }

// Record redacts and appends rec, reporting whether it was stored.
func (r *Recorder) Record(ctx context.Context, rec TurnRecord) bool {
	content, changed := policy.RedactPII(rec.Content)
	rec.Content = content
	rec.PIIRedacted = rec.PIIRedacted || changed

	if err := r.store.Append(ctx, rec); err != nil {
		r.logger.Warn("call turn not recorded",
			zap.String("call_sid", rec.CallSID),
			zap.Int("turn", rec.Turn),
			zap.String("role", string(rec.Role)),
			zap.Error(err),
		)
		return false
	}
	return true
}
