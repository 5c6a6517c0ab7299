package telephony

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

var ErrMissingCallSID = errors.New("missing CallSid")

const maxFormBytes = 64 << 10

// Webhook holds the voice callback fields the service reads.
type Webhook struct {
	CallSID      string
	From         string
	To           string
	SpeechResult string
	Digits       string
	Confidence   float64
	CallStatus   string
}

// HasInput reports whether the caller said or pressed anything.
func (w Webhook) HasInput() bool {
	return w.SpeechResult != "" || w.Digits != ""
}

// ParseWebhook reads a form-encoded callback. CallSid may also arrive as a
// query parameter, which recording uploads use.
func ParseWebhook(r *http.Request) (Webhook, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return Webhook{}, fmt.Errorf("parse webhook form: %w", err)
		}
	}

	get := func(key string) string {
		if v := r.PostFormValue(key); v != "" {
			return strings.TrimSpace(v)
		}
		return strings.TrimSpace(r.URL.Query().Get(key))
	}

	w := Webhook{
		CallSID:      get("CallSid"),
		From:         get("From"),
		To:           get("To"),
		SpeechResult: get("SpeechResult"),
		Digits:       get("Digits"),
		CallStatus:   strings.ToLower(get("CallStatus")),
	}
	if raw := get("Confidence"); raw != "" {
		if c, err := strconv.ParseFloat(raw, 64); err == nil && c >= 0 && c <= 1 {
			w.Confidence = c
		}
	}
	if w.CallSID == "" {
		return w, ErrMissingCallSID
	}
	return w, nil
}

// CallFinished reports whether a status callback marks the end of the call.
func CallFinished(status string) bool {
	switch strings.ToLower(status) {
	case "completed", "busy", "failed", "no-answer", "canceled":
		return true
	default:
		return false
	}
}
