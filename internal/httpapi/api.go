package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/antoniostano/storageagent/internal/policy"
	"github.com/antoniostano/storageagent/internal/storage"
)

const maxTurnsLimit = 500

func (s *Server) handleFacility(w http.ResponseWriter, r *http.Request) {
	f, err := s.store.Facility(r.Context())
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, f)
}

// handleListUnits accepts either an exact size ("10x10") or any phrase the
// entity extractor understands ("10 by 10", "100 square feet").
func (s *Server) handleListUnits(w http.ResponseWriter, r *http.Request) {
	size := strings.TrimSpace(r.URL.Query().Get("size"))
	if size != "" {
		us, ok := s.extractor.ExtractUnitSize(size)
		if !ok {
			respondError(w, http.StatusBadRequest, "invalid_size", "size must look like 10x10")
			return
		}
		size = us.Value()
	}

	units, err := s.store.AvailableUnits(r.Context(), size)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	if units == nil {
		units = []storage.Unit{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"units": units})
}

func (s *Server) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	var req storage.ReservationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	res, err := s.store.CreateReservation(r.Context(), req)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.logger.Info("reservation created",
		zap.String("reservation_id", res.ReservationID),
		zap.String("unit_id", res.UnitID),
		zap.Int("duration_months", res.DurationMonths),
	)
	respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := s.store.Reservation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleTransitionReservation(w http.ResponseWriter, r *http.Request) {
	action := storage.Action(strings.ToLower(chi.URLParam(r, "action")))
	switch action {
	case storage.ActionConfirm, storage.ActionCancel, storage.ActionComplete:
	default:
		respondError(w, http.StatusBadRequest, "invalid_action", "action must be confirm, cancel or complete")
		return
	}

	res, err := s.store.TransitionReservation(r.Context(), chi.URLParam(r, "id"), action)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.logger.Info("reservation updated",
		zap.String("reservation_id", res.ReservationID),
		zap.String("status", string(res.Status)),
	)
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, storage.ErrUnitNotFound):
		respondError(w, http.StatusNotFound, "unit_not_found", err.Error())
	case errors.Is(err, storage.ErrReservationNotFound):
		respondError(w, http.StatusNotFound, "reservation_not_found", err.Error())
	case errors.Is(err, storage.ErrUnitUnavailable):
		respondError(w, http.StatusConflict, "unit_unavailable", err.Error())
	case errors.Is(err, storage.ErrInvalidTransition):
		respondError(w, http.StatusConflict, "invalid_transition", err.Error())
	default:
		s.logger.Error("store request failed", zap.Error(err))
		s.metrics.CollaboratorError("store", "request")
		respondError(w, http.StatusInternalServerError, "store_error", "storage backend failed")
	}
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	c, ok := s.engine.Lookup(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, "conversation_not_found", "no active conversation for this call")
		return
	}
	c.CallerPhone = policy.MaskPhone(c.CallerPhone)
	respondJSON(w, http.StatusOK, map[string]any{
		"conversation": c,
		"ttl_ms":       s.engine.TTL().Milliseconds(),
	})
}

func (s *Server) handleListCallTurns(w http.ResponseWriter, r *http.Request) {
	if s.calls == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "call log not configured")
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxTurnsLimit {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	turns, err := s.calls.Store().CallTurns(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.logger.Error("list call turns", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "calllog_error", "call log backend failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"turns": turns})
}
