// Package api serves a task collection over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"go-computetask/events"
	"go-computetask/model"
	"go-computetask/queue"
	"go-computetask/store"
)

// Queue is the part of the work queue the API needs.
type Queue interface {
	Enqueue(ctx context.Context, job queue.Job) error
	Remove(ctx context.Context, uid string) error
}

type Server struct {
	store  store.Store
	queue  Queue
	events events.Publisher
	logger *slog.Logger
	newUID func() string
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithPublisher publishes the status changes the API makes: creation as
// pending, reset to pending and stop.
func WithPublisher(pub events.Publisher) Option {
	return func(s *Server) {
		s.events = pub
	}
}

// WithUIDGenerator replaces the default uuid v4 generator.
func WithUIDGenerator(newUID func() string) Option {
	return func(s *Server) {
		s.newUID = newUID
	}
}

func New(st store.Store, q Queue, opts ...Option) *Server {
	s := &Server{
		store:  st,
		queue:  q,
		events: events.Nop{},
		logger: slog.Default(),
		newUID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler routes the task collection. Item routes accept an optional
// trailing slash.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /tasks", s.getTasks)
	mux.HandleFunc("GET /tasks/{$}", s.getTasks)
	mux.HandleFunc("POST /tasks", s.postTask)
	mux.HandleFunc("POST /tasks/{$}", s.postTask)

	for _, pattern := range []string{"/tasks/{uid}", "/tasks/{uid}/{$}"} {
		mux.HandleFunc("GET "+pattern, s.getTask)
		mux.HandleFunc("PATCH "+pattern, s.patchTask)
		mux.HandleFunc("DELETE "+pattern, s.stopTask)
	}

	return mux
}

func NewServer(addr string, s *Server) *http.Server {
	return &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.Context(), r.PathValue("uid"))
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, "Task not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("Get task failed", "error", err)
		s.writeError(w, "Database error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, render(rec))
}

// getTasks lists tasks whose document contains the JSON object in the
// "query" parameter. A "status" parameter is added to the filter.
func (s *Server) getTasks(w http.ResponseWriter, r *http.Request) {
	filter := map[string]any{}
	if raw := r.URL.Query().Get("query"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &filter); err != nil || filter == nil {
			s.writeError(w, "Invalid query: must be a JSON object", http.StatusBadRequest)
			return
		}
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filter["status"] = status
	}

	records, err := s.store.Find(r.Context(), filter)
	if err != nil {
		s.logger.Error("Find tasks failed", "error", err)
		s.writeError(w, "Database error", http.StatusInternalServerError)
		return
	}

	tasks := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		tasks = append(tasks, render(rec))
	}
	s.writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) postTask(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.decodeParams(w, r)
	if !ok {
		return
	}
	if status, _ := doc["status"].(string); status == "" {
		doc["status"] = model.StatusPending
	}

	rec, err := s.store.Create(r.Context(), s.newUID(), doc)
	if err != nil {
		s.logger.Error("Create task failed", "error", err)
		s.writeError(w, "Failed to insert task", http.StatusInternalServerError)
		return
	}
	s.logger.Info("Created task", "uid", rec.UID, "status", rec.Status())

	if rec.Status() == model.StatusPending {
		if err := s.queue.Enqueue(r.Context(), queue.Job{UID: rec.UID}); err != nil {
			s.logger.Error("Enqueue failed", "uid", rec.UID, "error", err)
			s.writeError(w, "Failed to enqueue task", http.StatusInternalServerError)
			return
		}
		s.publish(r.Context(), rec.UID, model.StatusPending)
	}

	s.writeJSON(w, http.StatusCreated, render(rec))
}

// patchTask merges the body into the task. Moving a task to pending queues it
// again; runAs=last is the only supported run mode and is also the default.
func (s *Server) patchTask(w http.ResponseWriter, r *http.Request) {
	if runAs := r.URL.Query().Get(model.OptionRunAs); runAs != "" && runAs != model.RunAsLast {
		s.writeError(w, "Unsupported runAs value: "+runAs, http.StatusBadRequest)
		return
	}

	params, ok := s.decodeParams(w, r)
	if !ok {
		return
	}

	uid := r.PathValue("uid")
	prev, err := s.store.Get(r.Context(), uid)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, "Task not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("Get task failed", "error", err)
		s.writeError(w, "Database error", http.StatusInternalServerError)
		return
	}

	rec, err := s.store.Patch(r.Context(), uid, params)
	if err != nil {
		s.logger.Error("Patch task failed", "uid", uid, "error", err)
		s.writeError(w, "Failed to update task", http.StatusInternalServerError)
		return
	}
	s.logger.Info("Updated task", "uid", uid, "status", rec.Status())

	if prev.Status() != model.StatusPending && rec.Status() == model.StatusPending {
		if err := s.queue.Enqueue(r.Context(), queue.Job{UID: uid}); err != nil {
			s.logger.Error("Enqueue failed", "uid", uid, "error", err)
			s.writeError(w, "Failed to enqueue task", http.StatusInternalServerError)
			return
		}
		s.publish(r.Context(), uid, model.StatusPending)
	}

	s.writeJSON(w, http.StatusOK, render(rec))
}

// stopTask stops a pending or running task.
func (s *Server) stopTask(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	rec, err := s.store.Get(r.Context(), uid)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, "Task not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.writeError(w, "Database error", http.StatusInternalServerError)
		return
	}

	status := rec.Status()
	if status != model.StatusPending && status != model.StatusRunning {
		s.writeError(w, "Task cannot be stopped from status: "+status, http.StatusConflict)
		return
	}

	if status == model.StatusPending {
		if err := s.queue.Remove(r.Context(), uid); err != nil {
			s.writeError(w, "Failed to remove from queue", http.StatusInternalServerError)
			return
		}
	}

	if _, err := s.store.SetStatus(r.Context(), uid, model.StatusStopped); err != nil {
		s.writeError(w, "Failed to stop task", http.StatusInternalServerError)
		return
	}
	s.logger.Info("Stopped task", "uid", uid)
	s.publish(r.Context(), uid, model.StatusStopped)

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) decodeParams(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var params map[string]any
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil || params == nil {
		s.writeError(w, "Invalid request body: must be a JSON object", http.StatusBadRequest)
		return nil, false
	}
	delete(params, "uid")
	return params, true
}

func (s *Server) publish(ctx context.Context, uid, status string) {
	event := events.StatusEvent{UID: uid, Status: status, Timestamp: time.Now()}
	if err := s.events.PublishStatus(ctx, event); err != nil {
		s.logger.Error("Failed to publish status", "uid", uid, "error", err)
	}
}

func render(rec store.Record) map[string]any {
	out := make(map[string]any, len(rec.Doc)+3)
	for k, v := range rec.Doc {
		out[k] = v
	}
	out["uid"] = rec.UID
	out["created_at"] = rec.CreatedAt
	out["updated_at"] = rec.UpdatedAt
	return out
}

type apiError struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Encoding error", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, message string, status int) {
	s.writeJSON(w, status, apiError{Error: message})
}
