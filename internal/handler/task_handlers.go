package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mtlprog/pms/internal/domain"
	"github.com/mtlprog/pms/internal/handler/dto"
	"github.com/mtlprog/pms/internal/service"
)

// Due-soon window in days: the default when ?days is absent, and the largest accepted.
const (
	defaultDueSoonDays = 7
	maxDueSoonDays     = 3650
)

// handleCreateTask creates a new task under a live project.
func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateTaskRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	task, err := h.taskCommands.Create(r.Context(), req.Input())
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/tasks/"+task.ID)
	respondJSON(w, http.StatusCreated, task)
}

// handleListTasks lists live tasks filtered by ?status, ?priority and ?projectId.
func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	status, err := queryStatus(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	priority, err := queryPriority(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	projectID, err := queryUUID(r, "projectId")
	if err != nil {
		respondError(w, r, err)
		return
	}

	var tasks []service.TaskView
	switch {
	case status != nil && priority == nil && projectID == nil:
		tasks, err = h.taskQueries.FindByStatus(r.Context(), *status)
	case priority != nil && status == nil && projectID == nil:
		tasks, err = h.taskQueries.FindByPriority(r.Context(), *priority)
	case projectID != nil && status == nil && priority == nil:
		tasks, err = h.taskQueries.FindByProject(r.Context(), *projectID)
	default:
		tasks, err = h.taskQueries.FindAll(r.Context(), service.TaskQuery{
			Status:    status,
			Priority:  priority,
			ProjectID: projectID,
		})
	}
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, tasks)
}

// handleCountTasks counts live tasks by optional ?status and ?projectId.
func (h *Handler) handleCountTasks(w http.ResponseWriter, r *http.Request) {
	status, err := queryStatus(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	projectID, err := queryUUID(r, "projectId")
	if err != nil {
		respondError(w, r, err)
		return
	}

	count, err := h.taskQueries.Count(r.Context(), status, projectID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.CountResponse{Count: count})
}

// handleDueSoonTasks lists unfinished tasks due within ?days (default 7).
func (h *Handler) handleDueSoonTasks(w http.ResponseWriter, r *http.Request) {
	projectID, err := queryUUID(r, "projectId")
	if err != nil {
		respondError(w, r, err)
		return
	}
	days, err := queryInt(r, "days", defaultDueSoonDays)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if days > maxDueSoonDays {
		respondError(w, r, fmt.Errorf("%w: days must be at most %d", domain.ErrValidation, maxDueSoonDays))
		return
	}

	tasks, err := h.taskQueries.FindDueSoon(r.Context(), projectID, time.Duration(days)*24*time.Hour)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, tasks)
}

// handleGetTask returns one task, including soft-deleted ones.
func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.taskQueries.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, task)
}

// handleUpdateTask applies a partial update.
func (h *Handler) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var req dto.UpdateTaskRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	task, err := h.taskCommands.Update(r.Context(), chi.URLParam(r, "id"), req.Input())
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, task)
}

// handleUpdateTaskStatus moves a task to a new status.
func (h *Handler) handleUpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req dto.UpdateStatusRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	task, err := h.taskCommands.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status())
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, task)
}

// handleDeleteTask soft-deletes a task.
func (h *Handler) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.taskCommands.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
