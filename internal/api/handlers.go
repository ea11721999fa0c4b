package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/mattjoyce/courier/internal/message"
	"github.com/mattjoyce/courier/internal/query"
	"github.com/mattjoyce/courier/internal/webhook"
)

// handleWebhook handles POST /webhook.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			res := s.ingestor.Reject(webhook.OutcomePayloadTooLarge)
			annotate(r.Context(), slog.String("result", string(res.Outcome)))
			writeError(w, http.StatusRequestEntityTooLarge, kindPayloadTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", s.config.MaxBodySize), nil)
			return
		}
		res := s.ingestor.Reject(webhook.OutcomeValidationError)
		annotate(r.Context(), slog.String("result", string(res.Outcome)))
		writeError(w, http.StatusBadRequest, kindValidationFailed, "request body could not be read",
			[]message.FieldError{{Field: "body", Reason: "could not be read"}})
		return
	}

	res, err := s.ingestor.Ingest(r.Context(), body, r.Header.Get(webhook.SignatureHeader))
	annotate(r.Context(), slog.String("result", string(res.Outcome)))
	if res.MessageID != "" {
		annotate(r.Context(), slog.String("message_id", res.MessageID))
	}

	var verr *message.ValidationError
	switch {
	case err == nil:
	case errors.Is(err, webhook.ErrSignatureInvalid):
		writeError(w, http.StatusUnauthorized, kindSignatureInvalid, "invalid or missing signature", nil)
		return
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, kindValidationFailed, "payload failed validation", verr.Fields)
		return
	case errors.Is(err, webhook.ErrStorageUnavailable):
		writeError(w, http.StatusServiceUnavailable, kindStorageUnavailable, "message could not be stored, retry later", nil)
		return
	default:
		s.logger.Error("webhook ingest failed", "error", err)
		writeError(w, http.StatusInternalServerError, kindInternal, "internal error", nil)
		return
	}

	if res.Outcome == webhook.OutcomeDuplicate {
		annotate(r.Context(), slog.Bool("dup", true))
		respondJSON(w, http.StatusOK, WebhookResponse{Result: "duplicate", MessageID: res.MessageID})
		return
	}
	annotate(r.Context(), slog.Bool("dup", false))
	respondJSON(w, http.StatusCreated, WebhookResponse{Result: "success", MessageID: res.MessageID})
}

// handleListMessages handles GET /messages.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	params, err := query.ParseParams(r.URL.Query())
	if err != nil {
		var verr *message.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, kindValidationFailed, "invalid query parameters", verr.Fields)
			return
		}
		writeError(w, http.StatusBadRequest, kindValidationFailed, "invalid query parameters", nil)
		return
	}

	page, err := s.queries.List(r.Context(), params)
	if err != nil {
		s.logger.Error("list messages failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, kindStorageUnavailable, "messages are temporarily unavailable", nil)
		return
	}

	respondJSON(w, http.StatusOK, toMessagesResponse(page))
}

// handleStats handles GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("compute stats failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, kindStorageUnavailable, "stats are temporarily unavailable", nil)
		return
	}
	respondJSON(w, http.StatusOK, toStatsResponse(st))
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{Status: "alive"})
}

// handleReady reports ready only when the store answers a ping in time.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.ReadyTimeout)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, kindStorageUnavailable, "storage is not reachable", nil)
		return
	}
	respondJSON(w, http.StatusOK, HealthResponse{Status: "ready"})
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, statusCode int, kind, msg string, fields []message.FieldError) {
	respondJSON(w, statusCode, ErrorResponse{Error: kind, Message: msg, Fields: fields})
}
