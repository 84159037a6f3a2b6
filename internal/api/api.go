package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tushkiz/go-tiny-orchestrator/internal/orchestrator"
	"github.com/tushkiz/go-tiny-orchestrator/internal/queue"
	"github.com/tushkiz/go-tiny-orchestrator/internal/scheduler"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type RegisterWorkerRequest struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
}

type AddTaskRequest struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data,omitempty"`
	Priority int             `json:"priority"`
}

type AddTaskResponse struct {
	ID string `json:"id"`
}

type PruneRequest struct {
	OlderThan string `json:"older_than"`
}

type PruneResponse struct {
	Pruned int `json:"pruned"`
}

// NewHandler serves the admin API and mounts the hub at /ws.
func NewHandler(o *orchestrator.Orchestrator, logger *log.Logger) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/workers", func(w http.ResponseWriter, r *http.Request) {
		var body RegisterWorkerRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
			return
		}
		if err := o.RegisterWorker(body.ID, body.Name, body.Capabilities); err != nil {
			writeError(w, err)
			return
		}
		wk, _ := o.GetWorkerStatus(body.ID)
		writeJSON(w, http.StatusCreated, wk)
	})

	mux.HandleFunc("GET /api/workers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"workers": o.ListWorkers()})
	})

	mux.HandleFunc("GET /api/workers/{id}", func(w http.ResponseWriter, r *http.Request) {
		wk, ok := o.GetWorkerStatus(r.PathValue("id"))
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
			return
		}
		writeJSON(w, http.StatusOK, wk)
	})

	mux.HandleFunc("POST /api/workers/{id}/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		if err := o.Heartbeat(r.PathValue("id")); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	mux.HandleFunc("POST /api/tasks", func(w http.ResponseWriter, r *http.Request) {
		var body AddTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
			return
		}
		id, err := o.AddTask(body.Type, body.Data, body.Priority)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, AddTaskResponse{ID: id})
	})

	mux.HandleFunc("GET /api/tasks", func(w http.ResponseWriter, r *http.Request) {
		status, err := parseStatus(r.URL.Query().Get("status"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		limit := defaultListLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		if limit > maxListLimit {
			limit = maxListLimit
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": o.ListTasks(status, limit)})
	})

	mux.HandleFunc("GET /api/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		t, ok := o.GetTaskStatus(r.PathValue("id"))
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
			return
		}
		writeJSON(w, http.StatusOK, t)
	})

	mux.HandleFunc("POST /api/tasks/prune", func(w http.ResponseWriter, r *http.Request) {
		var body PruneRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
			return
		}
		d, err := time.ParseDuration(body.OlderThan)
		if err != nil || d < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid older_than"})
			return
		}
		writeJSON(w, http.StatusOK, PruneResponse{Pruned: o.PruneTasks(d)})
	})

	mux.HandleFunc("GET /api/metrics", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, o.GetSystemMetrics())
	})

	mux.HandleFunc("GET /api/hub/channels/{name}", func(w http.ResponseWriter, r *http.Request) {
		info, ok := o.Hub().ChannelInfo(r.PathValue("name"))
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
			return
		}
		writeJSON(w, http.StatusOK, info)
	})

	mux.HandleFunc("GET /api/hub/clients/{id}", func(w http.ResponseWriter, r *http.Request) {
		info, ok := o.Hub().ClientInfo(r.PathValue("id"))
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
			return
		}
		writeJSON(w, http.StatusOK, info)
	})

	mux.Handle("GET /ws", o.Hub())

	return logRequests(logger, mux)
}

func parseStatus(s string) (queue.TaskStatus, error) {
	switch strings.ToUpper(s) {
	case "", "ALL":
		return "", nil
	case string(queue.StatusPending), string(queue.StatusRunning), string(queue.StatusCompleted), string(queue.StatusFailed):
		return queue.TaskStatus(strings.ToUpper(s)), nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduler.ErrUnknownWorker), errors.Is(err, scheduler.ErrUnknownTask):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Printf("%s %s -> %s (%s)", r.Method, r.URL.Path, r.RemoteAddr, time.Since(start))
	})
}
