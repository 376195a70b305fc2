package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mtlprog/pms/internal/handler/dto"
	"github.com/mtlprog/pms/internal/service"
)

// handleCreateProject creates a project with a unique name.
func (h *Handler) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateProjectRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	project, err := h.projectCommands.Create(r.Context(), req.Input())
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/projects/"+project.ID)
	respondJSON(w, http.StatusCreated, project)
}

// handleListProjects returns one page of live projects, optionally filtered by ?name.
func (h *Handler) handleListProjects(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 0)
	if err != nil {
		respondError(w, r, err)
		return
	}
	size, err := queryInt(r, "size", service.DefaultPageSize)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if size == 0 {
		size = service.DefaultPageSize
	}
	size = min(size, service.MaxPageSize)

	projects, err := h.projectQueries.FindAll(r.Context(), queryString(r, "name"), page, size)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ProjectPageResponse{Projects: projects, Page: page, Size: size})
}

// handleCountProjects counts live projects.
func (h *Handler) handleCountProjects(w http.ResponseWriter, r *http.Request) {
	count, err := h.projectQueries.Count(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.CountResponse{Count: count})
}

// handleGetProject returns a project with its live task count.
func (h *Handler) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.projectQueries.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, project)
}

// handleUpdateProject applies a partial update.
func (h *Handler) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	var req dto.UpdateProjectRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	project, err := h.projectCommands.Update(r.Context(), chi.URLParam(r, "id"), req.Input())
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, project)
}

// handleDeleteProject soft-deletes a project; its tasks are kept.
func (h *Handler) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := h.projectCommands.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
