// Package api exposes the orchestration pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ospreylabs/conduct/internal/fault"
	"github.com/ospreylabs/conduct/internal/orchestrator"
	"github.com/ospreylabs/conduct/internal/task"
	"go.uber.org/zap"
)

// TaskService is the slice of the task store the HTTP layer needs.
type TaskService interface {
	CreateTask(ctx context.Context, title, description string) (*task.Task, error)
	GetTask(ctx context.Context, id string) (*task.Task, error)
	ListTasks(ctx context.Context) ([]*task.Task, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	orch   *orchestrator.Orchestrator
	tasks  TaskService
	logger *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(orch *orchestrator.Orchestrator, tasks TaskService, logger *zap.Logger) *Handler {
	return &Handler{orch: orch, tasks: tasks, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Get("/tasks", h.listTasks)
		r.Post("/tasks", h.createTask)
		r.Get("/tasks/{id}", h.getTask)
		r.Post("/tasks/{id}/execute", h.executeTask)
		r.Get("/tasks/{id}/steps", h.taskSteps)

		r.Get("/agents", h.listAgents)
		r.Get("/agents/{name}", h.getAgent)
		r.Put("/agents/{name}/prompt", h.updateAgentPrompt)
		r.Delete("/agents/{name}/prompt", h.resetAgentPrompt)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "conduct"})
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.tasks.ListTasks(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *Handler) createTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "title is required"})
		return
	}
	t, err := h.tasks.CreateTask(r.Context(), req.Title, req.Description)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.tasks.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// executeTask kicks off the pipeline asynchronously. The orchestrator's
// registry stays the source of truth; the preflight here only shapes
// the HTTP response.
func (h *Handler) executeTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.tasks.GetTask(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	if h.orch.IsRunning(id) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "task is already running", "kind": string(fault.TaskRunning),
		})
		return
	}

	go func() {
		if err := h.orch.StartExecution(context.Background(), id); err != nil {
			h.logger.Warn("execution finished with error", zap.String("task", id), zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "task_id": id})
}

func (h *Handler) taskSteps(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	steps := h.orch.RunningSteps(id)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"running": h.orch.IsRunning(id),
		"steps":   steps,
	})
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.ListAgents())
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	a, err := h.orch.GetAgentConfig(chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) updateAgentPrompt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if err := h.orch.UpdateSystemPrompt(chi.URLParam(r, "name"), req.Prompt); err != nil {
		if fault.KindOf(err) == "" {
			// Length validation is a plain error, not a fault kind.
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) resetAgentPrompt(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.ResetSystemPrompt(chi.URLParam(r, "name")); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch fault.KindOf(err) {
	case fault.NotFound:
		status = http.StatusNotFound
	case fault.TaskRunning:
		status = http.StatusConflict
	case fault.ConfigError:
		status = http.StatusBadRequest
	case fault.AIError:
		status = http.StatusBadGateway
	}
	body := map[string]string{"error": err.Error()}
	if k := fault.KindOf(err); k != "" {
		body["kind"] = string(k)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
