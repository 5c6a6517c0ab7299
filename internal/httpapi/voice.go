package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/storageagent/internal/calllog"
	"github.com/antoniostano/storageagent/internal/entities"
	"github.com/antoniostano/storageagent/internal/intent"
	"github.com/antoniostano/storageagent/internal/observability"
	"github.com/antoniostano/storageagent/internal/policy"
	"github.com/antoniostano/storageagent/internal/protocol"
	"github.com/antoniostano/storageagent/internal/telephony"
	"github.com/antoniostano/storageagent/internal/transcription"
)

const (
	maxRecordingBytes = 10 << 20
	turnTimeout       = 5 * time.Second

	indicatorNoInput   = "no_input"
	indicatorInaudible = "inaudible"
)

// Telephony webhooks always answer 200 with a TwiML document so the call
// keeps going; only signature failures are rejected earlier.
func (s *Server) writeTwiML(w http.ResponseWriter, route string, doc string, err error) {
	if err != nil {
		s.logger.Error("render twiml", zap.String("route", route), zap.Error(err))
		s.metrics.WebhookRequest(route, "render_error")
		doc, _ = s.twiml.Fallback()
	}
	w.Header().Set("Content-Type", telephony.ContentTypeTwiML)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, doc)
}

func (s *Server) handleWelcome(w http.ResponseWriter, _ *http.Request) {
	s.metrics.WebhookRequest("welcome", "ok")
	doc, err := s.twiml.Welcome()
	s.writeTwiML(w, "welcome", doc, err)
}

func (s *Server) handleFallback(w http.ResponseWriter, r *http.Request) {
	hook, _ := telephony.ParseWebhook(r)
	s.logger.Warn("telephony fallback invoked",
		zap.String("call_sid", hook.CallSID),
		zap.String("error_code", r.PostFormValue("ErrorCode")),
	)
	s.metrics.WebhookRequest("fallback", "ok")
	doc, err := s.twiml.Fallback()
	s.writeTwiML(w, "fallback", doc, err)
}

func (s *Server) handleIncoming(w http.ResponseWriter, r *http.Request) {
	hook, err := telephony.ParseWebhook(r)
	if err != nil {
		s.logger.Warn("incoming call rejected", zap.Error(err))
		s.metrics.WebhookRequest("incoming", "invalid")
		doc, rerr := s.twiml.Trouble()
		s.writeTwiML(w, "incoming", doc, rerr)
		return
	}

	_, existed := s.engine.Lookup(hook.CallSID)
	s.engine.GetOrCreateContext(hook.CallSID)
	s.engine.SetCallerPhone(hook.CallSID, hook.From)
	if !existed {
		s.metrics.ConversationEvent("started", s.engine.ActiveCount())
		s.monitor.Publish(protocol.ConversationStarted{
			Type:        protocol.TypeConversationStart,
			SessionID:   hook.CallSID,
			CallerPhone: policy.MaskPhone(hook.From),
			TSMs:        protocol.Millis(time.Now()),
		})
	}
	s.logger.Info("incoming call",
		zap.String("call_sid", hook.CallSID),
		zap.String("from", policy.MaskPhone(hook.From)),
	)

	s.metrics.WebhookRequest("incoming", "ok")
	doc, err := s.twiml.Incoming()
	s.writeTwiML(w, "incoming", doc, err)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	hook, err := telephony.ParseWebhook(r)
	if err != nil {
		s.metrics.WebhookRequest("process", "invalid")
		doc, rerr := s.twiml.Trouble()
		s.writeTwiML(w, "process", doc, rerr)
		return
	}
	if !hook.HasInput() {
		s.metrics.WebhookRequest("process", "no_input")
		s.metrics.ObserveIndicator(indicatorNoInput)
		doc, rerr := s.twiml.NoInput()
		s.writeTwiML(w, "process", doc, rerr)
		return
	}

	prompt := s.runTurn(r.Context(), hook, hook.SpeechResult, start)
	s.metrics.WebhookRequest("process", "ok")
	doc, err := s.twiml.Prompt(prompt)
	s.writeTwiML(w, "process", doc, err)
}

// handleRecording accepts a raw audio clip for a call, transcribes it and
// runs the resulting text as a turn.
func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	hook, err := telephony.ParseWebhook(r)
	if err != nil {
		s.metrics.WebhookRequest("recording", "invalid")
		doc, rerr := s.twiml.Trouble()
		s.writeTwiML(w, "recording", doc, rerr)
		return
	}
	if s.transcriber == nil {
		s.metrics.WebhookRequest("recording", "disabled")
		doc, rerr := s.twiml.NotUnderstood()
		s.writeTwiML(w, "recording", doc, rerr)
		return
	}

	clip, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRecordingBytes))
	if err != nil {
		s.metrics.WebhookRequest("recording", "too_large")
		doc, rerr := s.twiml.NotUnderstood()
		s.writeTwiML(w, "recording", doc, rerr)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.transcribeTimeout())
	transcribeStart := time.Now()
	tr, err := s.transcriber.Transcribe(ctx, clip)
	cancel()
	s.metrics.ObserveTurnStage(observability.StageTranscribe, time.Since(transcribeStart))
	if err != nil {
		kind := "unavailable"
		if errors.Is(err, transcription.ErrInaudible) {
			kind = "inaudible"
			s.metrics.ObserveIndicator(indicatorInaudible)
		}
		s.metrics.CollaboratorError("transcriber", kind)
		s.metrics.WebhookRequest("recording", kind)
		s.logger.Warn("transcription failed",
			zap.String("call_sid", hook.CallSID),
			zap.String("kind", kind),
			zap.Error(err),
		)
		s.monitor.Publish(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: hook.CallSID,
			Code:      "transcription_" + kind,
			Source:    s.transcriberName(),
			Retryable: kind == "unavailable",
			Detail:    err.Error(),
		})
		doc, rerr := s.twiml.NotUnderstood()
		s.writeTwiML(w, "recording", doc, rerr)
		return
	}

	hook.Confidence = tr.Confidence
	prompt := s.runTurn(r.Context(), hook, tr.Text, start)
	s.metrics.WebhookRequest("recording", "ok")
	doc, err := s.twiml.Prompt(prompt)
	s.writeTwiML(w, "recording", doc, err)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	hook, err := telephony.ParseWebhook(r)
	if err != nil {
		s.metrics.WebhookRequest("status", "invalid")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	outcome := "ignored"
	if telephony.CallFinished(hook.CallStatus) {
		if final, ok := s.engine.End(hook.CallSID); ok {
			outcome = "ended"
			s.logger.Info("call ended",
				zap.String("call_sid", hook.CallSID),
				zap.String("status", hook.CallStatus),
				zap.Int("turns", final.TurnCount),
			)
		}
	}
	s.metrics.WebhookRequest("status", outcome)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) transcribeTimeout() time.Duration {
	if s.cfg.TranscriberTimeout > 0 {
		// Leave room for retries inside the transcriber.
		return 2 * s.cfg.TranscriberTimeout
	}
	return 20 * time.Second
}

// runTurn classifies the caller's input, advances the conversation and
// records both sides of the exchange.
func (s *Server) runTurn(ctx context.Context, hook telephony.Webhook, text string, start time.Time) string {
	ctx, cancel := context.WithTimeout(ctx, turnTimeout)
	defer cancel()

	s.engine.SetCallerPhone(hook.CallSID, hook.From)

	understandStart := time.Now()
	extracted := s.extractor.ExtractAll(text)
	res := intent.Classify(text, hook.Digits, extracted)
	s.metrics.ObserveTurnStage(observability.StageUnderstand, time.Since(understandStart))

	respondStart := time.Now()
	prompt := s.engine.ProcessIntent(ctx, hook.CallSID, res.Intent, res.Confidence, entities.Ordered(extracted))
	s.metrics.ObserveTurnStage(observability.StageRespond, time.Since(respondStart))
	s.metrics.ObserveTurn(res.Intent.String(), string(res.Source))

	turn := 0
	if c, ok := s.engine.Lookup(hook.CallSID); ok {
		turn = c.TurnCount
	}
	said := text
	if hook.Digits != "" {
		said = "pressed " + hook.Digits
	}
	if s.calls != nil {
		s.calls.Record(ctx, calllog.TurnRecord{
			CallSID:    hook.CallSID,
			Turn:       turn,
			Role:       calllog.RoleCaller,
			Content:    said,
			Intent:     res.Intent.String(),
			Confidence: res.Confidence,
			Source:     string(res.Source),
		})
		s.calls.Record(ctx, calllog.TurnRecord{
			CallSID: hook.CallSID,
			Turn:    turn,
			Role:    calllog.RoleAssistant,
			Content: prompt,
			Intent:  res.Intent.String(),
		})
	}

	s.metrics.ObserveTurnStage(observability.StageTurnTotal, time.Since(start))
	s.logger.Info("turn handled",
		zap.String("call_sid", hook.CallSID),
		zap.Int("turn", turn),
		zap.String("intent", res.Intent.String()),
		zap.String("source", string(res.Source)),
		zap.Float64("confidence", res.Confidence),
		zap.Float64("speech_confidence", hook.Confidence),
	)
	return prompt
}
