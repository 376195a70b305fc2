package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/mtlprog/pms/internal/auth"
	"github.com/mtlprog/pms/internal/domain"
	"github.com/mtlprog/pms/internal/eventstore"
	"github.com/mtlprog/pms/internal/handler/dto"
	"github.com/mtlprog/pms/internal/messaging"
)

// handleHardDeleteTask permanently removes a task.
func (h *Handler) handleHardDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.taskCommands.HardDelete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleHardDeleteProject permanently removes a project and its tasks.
func (h *Handler) handleHardDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := h.projectCommands.HardDelete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleAggregateHistory returns every event of an aggregate, oldest first.
func (h *Handler) handleAggregateHistory(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToEventResponses(events))
}

// handleRecentHistory returns the latest ?limit events of an aggregate, newest first.
func (h *Handler) handleRecentHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", eventstore.DefaultRecentLimit)
	if err != nil {
		respondError(w, r, err)
		return
	}

	events, err := h.events.RecentHistory(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToEventResponses(events))
}

// handleEventsByType returns events of one type within optional ?start and ?end.
func (h *Handler) handleEventsByType(w http.ResponseWriter, r *http.Request) {
	eventType := domain.EventType(chi.URLParam(r, "eventType"))
	if !eventType.IsValid() {
		respondError(w, r, fmt.Errorf("%w: %q", domain.ErrInvalidEventType, eventType))
		return
	}
	start, err := queryTime(r, "start")
	if err != nil {
		respondError(w, r, err)
		return
	}
	end, err := queryTime(r, "end")
	if err != nil {
		respondError(w, r, err)
		return
	}

	events, err := h.events.EventsOfType(r.Context(), eventType, &eventstore.TimeRange{Start: start, End: end})
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToEventResponses(events))
}

// handleEventStats returns event counts per type.
func (h *Handler) handleEventStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.events.Stats(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToEventStatsResponse(stats))
}

// handleListDeadLetters lists dead letters of a notification topic.
func (h *Handler) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")
	if !slices.Contains(messaging.Topics, topic) {
		respondError(w, r, fmt.Errorf("%w: unknown topic %q", domain.ErrValidation, topic))
		return
	}

	msgs, err := h.deadLetters.DeadLetters(r.Context(), topic)
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: %w", domain.ErrInfrastructure, err))
		return
	}

	respondJSON(w, http.StatusOK, dto.ToDeadLetterResponses(msgs))
}

// handleRequeueDeadLetter sends a dead letter back to its topic.
func (h *Handler) handleRequeueDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.deadLetters.Requeue(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}

	slog.Info("dead letter requeued by admin", "message_id", id, "actor", auth.ActorName(r.Context()))
	w.WriteHeader(http.StatusAccepted)
}
