package calllog

import (
	"context"
	"time"
)

type Role string

const (
	RoleCaller    Role = "caller"
	RoleAssistant Role = "assistant"
)

// TurnRecord is one side of one exchange on a call.
type TurnRecord struct {
	ID          string    `json:"id"`
	CallSID     string    `json:"call_sid"`
	Turn        int       `json:"turn"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	Intent      string    `json:"intent,omitempty"`
	Confidence  float64   `json:"confidence,omitempty"`
	Source      string    `json:"source,omitempty"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the append-only call transcript log.
type Store interface {
	Append(ctx context.Context, record TurnRecord) error
	// CallTurns returns the last limit records for a call, oldest first.
	CallTurns(ctx context.Context, callSID string, limit int) ([]TurnRecord, error)
	Close() error
}
