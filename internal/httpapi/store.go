package httpapi

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/taskpulse/internal/observability"
	"github.com/ent0n29/taskpulse/internal/tasks"
)

// StoreServer exposes a tasks.Store over the REST contract the HTTP gateway
// speaks. It is the reference remote for local development.
type StoreServer struct {
	store   tasks.Store
	metrics *observability.Metrics
}

func NewStoreServer(store tasks.Store, metrics *observability.Metrics) *StoreServer {
	return &StoreServer{store: store, metrics: metrics}
}

func (s *StoreServer) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/tasks", s.handleList)
	r.Post("/tasks", s.handleCreate)
	r.Get("/tasks/{id}", s.handleGet)
	r.Put("/tasks/{id}", s.handleUpdate)
	r.Delete("/tasks/{id}", s.handleDelete)
	r.Put("/tasks/{id}/complete", s.handleComplete)
	r.Post("/tasks/{id}/complete", s.handleComplete)
	r.Patch("/tasks/{id}/complete", s.handleComplete)

	return r
}

func (s *StoreServer) handleList(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	list, err := s.store.List(r.Context())
	s.observe("list", start, err)
	if err != nil {
		s.respondStoreError(w, "list", err)
		return
	}
	out := make([]tasks.WireTask, 0, len(list))
	for _, task := range list {
		out = append(out, tasks.ToWire(task))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *StoreServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req tasks.WireTask
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	task, err := tasks.FromWire(req)
	if err != nil {
		s.respondStoreError(w, "create", err)
		return
	}
	task.Title = strings.TrimSpace(task.Title)
	if task.Title == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "title is required")
		return
	}
	task.RemoteID = ""
	start := time.Now()
	created, err := s.store.Create(r.Context(), task)
	s.observe("create", start, err)
	if err != nil {
		s.respondStoreError(w, "create", err)
		return
	}
	respondJSON(w, http.StatusCreated, tasks.ToWire(created))
}

func (s *StoreServer) handleGet(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	task, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	s.observe("get", start, err)
	if err != nil {
		s.respondStoreError(w, "get", err)
		return
	}
	respondJSON(w, http.StatusOK, tasks.ToWire(task))
}

func (s *StoreServer) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req tasks.WirePatch
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	patch, err := tasks.PatchFromWire(req)
	if err != nil {
		s.respondStoreError(w, "update", err)
		return
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "title must not be blank")
		return
	}
	start := time.Now()
	task, err := s.store.Update(r.Context(), chi.URLParam(r, "id"), patch)
	s.observe("update", start, err)
	if err != nil {
		s.respondStoreError(w, "update", err)
		return
	}
	respondJSON(w, http.StatusOK, tasks.ToWire(task))
}

func (s *StoreServer) handleComplete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	task, err := s.store.Complete(r.Context(), chi.URLParam(r, "id"))
	s.observe("complete", start, err)
	if err != nil {
		s.respondStoreError(w, "complete", err)
		return
	}
	respondJSON(w, http.StatusOK, tasks.ToWire(task))
}

func (s *StoreServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	start := time.Now()
	err := s.store.Delete(r.Context(), id)
	s.observe("delete", start, err)
	if err != nil {
		s.respondStoreError(w, "delete", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"deleted": true,
		"id":      tasks.WireID(id),
	})
}

// observe records backend latency. Not-found is a normal answer, not a failure.
func (s *StoreServer) observe(op string, start time.Time, err error) {
	if errors.Is(err, tasks.ErrStoreNotFound) {
		err = nil
	}
	s.metrics.ObserveRemoteCall(op, err, time.Since(start))
}

func (s *StoreServer) respondStoreError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, tasks.ErrStoreNotFound):
		respondError(w, http.StatusNotFound, "not_found", "task not found")
	case errors.Is(err, tasks.ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		log.Printf("task store %s failed: %v", op, err)
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
	}
}
