package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType identifies monitor websocket payload variants.
type MessageType string

const (
	TypeSubscribe         MessageType = "subscribe"
	TypePing              MessageType = "ping"
	TypeConversationStart MessageType = "conversation_started"
	TypeTurnProcessed     MessageType = "turn_processed"
	TypeConversationEnd   MessageType = "conversation_ended"
	TypeSystemEvent       MessageType = "system_event"
	TypeErrorEvent        MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// Subscribe narrows a monitor connection to one call. An empty SessionID
// watches every call.
type Subscribe struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type Ping struct {
	Type MessageType `json:"type"`
	TSMs int64       `json:"ts_ms"`
}

type EntityView struct {
	Type       string  `json:"type"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

type ConversationStarted struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	CallerPhone string      `json:"caller_phone,omitempty"`
	TSMs        int64       `json:"ts_ms"`
}

type TurnProcessed struct {
	Type       MessageType  `json:"type"`
	SessionID  string       `json:"session_id"`
	Turn       int          `json:"turn"`
	Intent     string       `json:"intent"`
	Confidence float64      `json:"confidence"`
	Entities   []EntityView `json:"entities,omitempty"`
	Prompt     string       `json:"prompt"`
	Degraded   bool         `json:"degraded,omitempty"`
	LatencyMS  float64      `json:"latency_ms"`
	TSMs       int64        `json:"ts_ms"`
}

type ConversationEnded struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Reason    string      `json:"reason"`
	Turns     int         `json:"turns"`
	TSMs      int64       `json:"ts_ms"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// SessionOf returns the call a server event belongs to, or "" for events
// that concern every watcher.
func SessionOf(msg any) string {
	switch m := msg.(type) {
	case ConversationStarted:
		return m.SessionID
	case TurnProcessed:
		return m.SessionID
	case ConversationEnded:
		return m.SessionID
	case ErrorEvent:
		return m.SessionID
	case SystemEvent:
		return m.SessionID
	default:
		return ""
	}
}

func Millis(t time.Time) int64 { return t.UnixMilli() }

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeSubscribe:
		var msg Subscribe
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypePing:
		var msg Ping
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
