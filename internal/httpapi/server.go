package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/antoniostano/storageagent/internal/calllog"
	"github.com/antoniostano/storageagent/internal/config"
	"github.com/antoniostano/storageagent/internal/conversation"
	"github.com/antoniostano/storageagent/internal/entities"
	"github.com/antoniostano/storageagent/internal/observability"
	"github.com/antoniostano/storageagent/internal/storage"
	"github.com/antoniostano/storageagent/internal/telephony"
	"github.com/antoniostano/storageagent/internal/transcription"
)

const readyTimeout = 2 * time.Second

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Config      config.Config
	Engine      *conversation.Engine
	Extractor   *entities.Extractor
	Store       storage.Store
	CallLog     *calllog.Recorder
	Transcriber transcription.Transcriber
	Metrics     *observability.Metrics
	Monitor     *Monitor
	Logger      *zap.Logger
}

type Server struct {
	cfg         config.Config
	engine      *conversation.Engine
	extractor   *entities.Extractor
	store       storage.Store
	calls       *calllog.Recorder
	transcriber transcription.Transcriber
	metrics     *observability.Metrics
	monitor     *Monitor
	twiml       *telephony.Builder
	logger      *zap.Logger
	upgrader    websocket.Upgrader
}

func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if d.Extractor == nil {
		d.Extractor = entities.NewExtractor(logger)
	}
	if d.Metrics == nil {
		d.Metrics = observability.NewMetrics("storageagent")
	}
	if d.Monitor == nil {
		d.Monitor = NewMonitor(d.Metrics, logger)
	}
	cfg := d.Config
	return &Server{
		cfg:         cfg,
		engine:      d.Engine,
		extractor:   d.Extractor,
		store:       d.Store,
		calls:       d.CallLog,
		transcriber: d.Transcriber,
		metrics:     d.Metrics,
		monitor:     d.Monitor,
		twiml:       telephony.NewBuilder(cfg.TTSVoice),
		logger:      logger.Named("httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.MonitorAllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", s.metrics.Handler().ServeHTTP)

	r.Route("/api/voice", func(r chi.Router) {
		if s.cfg.SignatureValidation() {
			r.Use(telephony.SignatureMiddleware(s.cfg.TwilioAuthToken, s.cfg.PublicBaseURL, s.logger))
		}
		r.Post("/welcome", s.handleWelcome)
		r.Post("/incoming", s.handleIncoming)
		r.Post("/process", s.handleProcess)
		r.Post("/recording", s.handleRecording)
		r.Post("/status", s.handleStatus)
		r.Post("/fallback", s.handleFallback)
	})

	r.Get("/api/facility", s.handleFacility)
	r.Get("/api/units", s.handleListUnits)
	r.Post("/api/reservations", s.handleCreateReservation)
	r.Get("/api/reservations/{id}", s.handleGetReservation)
	r.Post("/api/reservations/{id}/{action}", s.handleTransitionReservation)
	r.Get("/api/conversations/{id}", s.handleGetConversation)
	r.Get("/api/calls/{id}/turns", s.handleListCallTurns)
	r.Get("/api/perf/latency", s.handlePerfLatency)
	r.Delete("/api/perf/latency", s.handleResetPerfLatency)
	r.Get("/api/monitor/ws", s.handleMonitorWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":               "ok",
		"active_conversations": s.engine.ActiveCount(),
		"transcriber":          s.transcriberName(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) transcriberName() string {
	if s.transcriber == nil {
		return "disabled"
	}
	return s.transcriber.Name()
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
