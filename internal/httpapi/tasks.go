package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/taskpulse/internal/tasks"
)

type addTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	DueDate     string `json:"due_date"`
}

type taskResponse struct {
	Task     tasks.Task `json:"task"`
	Warnings []string   `json:"warnings,omitempty"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	if !s.requireManager(w) {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"tasks":          s.manager.List(),
		"remote":         s.manager.Remote(),
		"pending_remote": s.manager.PendingRemote(),
	})
}

func (s *Server) handleAddTask(w http.ResponseWriter, r *http.Request) {
	if !s.requireManager(w) {
		return
	}
	var req addTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	add := tasks.AddRequest{Title: req.Title, Description: req.Description}
	if strings.TrimSpace(req.DueDate) != "" {
		due, err := tasks.ParseDueDate(req.DueDate)
		if err != nil {
			respondTaskError(w, err)
			return
		}
		add.DueDate = &due
	}

	task, warnings, err := s.manager.AddTask(add)
	if err != nil {
		respondTaskError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, taskResponse{Task: task, Warnings: warnings.Strings()})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	if !s.requireManager(w) {
		return
	}
	task, err := s.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondTaskError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, taskResponse{Task: task})
}

func (s *Server) handleEditTask(w http.ResponseWriter, r *http.Request) {
	if !s.requireManager(w) {
		return
	}
	var req tasks.WirePatch
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	patch, err := tasks.PatchFromWire(req)
	if err != nil {
		respondTaskError(w, err)
		return
	}
	task, warnings, err := s.manager.EditTask(chi.URLParam(r, "id"), patch)
	if err != nil {
		respondTaskError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, taskResponse{Task: task, Warnings: warnings.Strings()})
}

func (s *Server) handleToggleTask(w http.ResponseWriter, r *http.Request) {
	if !s.requireManager(w) {
		return
	}
	task, warnings, err := s.manager.ToggleCompletion(chi.URLParam(r, "id"))
	if err != nil {
		respondTaskError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, taskResponse{Task: task, Warnings: warnings.Strings()})
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if !s.requireManager(w) {
		return
	}
	taskID := strings.TrimSpace(chi.URLParam(r, "id"))
	warnings, err := s.manager.DeleteTask(taskID)
	if err != nil {
		respondTaskError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"deleted":  true,
		"task_id":  taskID,
		"warnings": warnings.Strings(),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.requireManager(w) {
		return
	}
	if err := s.manager.Refresh(r.Context()); err != nil {
		respondTaskError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"tasks": s.manager.List(),
	})
}

func (s *Server) handleListTaskEvents(w http.ResponseWriter, r *http.Request) {
	if !s.requireManager(w) {
		return
	}
	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}
	events, err := s.manager.ListEvents(chi.URLParam(r, "id"), limit)
	if err != nil {
		respondTaskError(w, err)
		return
	}
	// Snapshots repeat the whole task set; history readers only need the delta.
	for i := range events {
		events[i].Snapshot = nil
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"events": events,
	})
}

func (s *Server) requireManager(w http.ResponseWriter) bool {
	if s.manager == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "task manager not configured")
		return false
	}
	return true
}

func respondTaskError(w http.ResponseWriter, err error) {
	var (
		verr *tasks.ValidationError
		rerr *tasks.RemoteError
	)
	switch {
	case errors.As(err, &verr):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, tasks.ErrTaskNotFound):
		respondError(w, http.StatusNotFound, "task_not_found", err.Error())
	case errors.Is(err, tasks.ErrManagerClosed):
		respondError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", err.Error())
	case errors.As(err, &rerr):
		respondError(w, http.StatusBadGateway, "remote_error", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
