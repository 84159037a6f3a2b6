package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tushkiz/go-tiny-orchestrator/internal/api"
	"github.com/tushkiz/go-tiny-orchestrator/internal/orchestrator"
	"github.com/tushkiz/go-tiny-orchestrator/internal/queue"
)

var ErrNotFound = errors.New("client: not found")

// Client talks to the orchestrator admin API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTP: &http.Client{Timeout: 10 * time.Second}}
}

func (c *Client) RegisterWorker(ctx context.Context, id, name string, capabilities []string) (queue.Worker, error) {
	var w queue.Worker
	err := c.do(ctx, http.MethodPost, "/api/workers", api.RegisterWorkerRequest{ID: id, Name: name, Capabilities: capabilities}, &w)
	return w, err
}

func (c *Client) Heartbeat(ctx context.Context, workerID string) error {
	return c.do(ctx, http.MethodPost, "/api/workers/"+url.PathEscape(workerID)+"/heartbeat", nil, nil)
}

func (c *Client) GetWorker(ctx context.Context, id string) (queue.Worker, error) {
	var w queue.Worker
	err := c.do(ctx, http.MethodGet, "/api/workers/"+url.PathEscape(id), nil, &w)
	return w, err
}

func (c *Client) ListWorkers(ctx context.Context) ([]queue.Worker, error) {
	var body struct {
		Workers []queue.Worker `json:"workers"`
	}
	err := c.do(ctx, http.MethodGet, "/api/workers", nil, &body)
	return body.Workers, err
}

// AddTask submits a task. data must be valid JSON or empty.
func (c *Client) AddTask(ctx context.Context, taskType string, data json.RawMessage, priority int) (string, error) {
	var res api.AddTaskResponse
	err := c.do(ctx, http.MethodPost, "/api/tasks", api.AddTaskRequest{Type: taskType, Data: data, Priority: priority}, &res)
	return res.ID, err
}

func (c *Client) GetTask(ctx context.Context, id string) (queue.Task, error) {
	var t queue.Task
	err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id), nil, &t)
	return t, err
}

// ListTasks lists tasks newest first. An empty status means all.
func (c *Client) ListTasks(ctx context.Context, status string, limit int) ([]queue.Task, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var body struct {
		Tasks []queue.Task `json:"tasks"`
	}
	err := c.do(ctx, http.MethodGet, "/api/tasks?"+q.Encode(), nil, &body)
	return body.Tasks, err
}

func (c *Client) PruneTasks(ctx context.Context, olderThan time.Duration) (int, error) {
	var res api.PruneResponse
	err := c.do(ctx, http.MethodPost, "/api/tasks/prune", api.PruneRequest{OlderThan: olderThan.String()}, &res)
	return res.Pruned, err
}

func (c *Client) Metrics(ctx context.Context) (orchestrator.SystemMetrics, error) {
	var m orchestrator.SystemMetrics
	err := c.do(ctx, http.MethodGet, "/api/metrics", nil, &m)
	return m, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("client: %s %s: %s: %s", method, path, resp.Status, e.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}
