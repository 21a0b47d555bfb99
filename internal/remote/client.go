// Package remote implements the HTTP client for the workflow backend's
// task persistence API, the system of record for board tasks.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	boarderrors "github.com/kvnkishore11/AgenticKanban-sub008/internal/errors"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/task"
)

// DefaultTimeout bounds a single persistence call.
const DefaultTimeout = 15 * time.Second

// TaskRecord is the remote task representation. On success the backend
// returns canonical field values which callers merge back locally.
type TaskRecord struct {
	ID          int64          `json:"id"`
	ExternalID  string         `json:"external_id,omitempty"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Stage       string         `json:"stage"`
	Substage    string         `json:"substage,omitempty"`
	Progress    int            `json:"progress"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	UpdatedAt   *time.Time     `json:"updated_at,omitempty"`
}

// RecordFromTask builds the remote representation of a task.
func RecordFromTask(t *task.Task) *TaskRecord {
	return &TaskRecord{
		ID:          t.ID,
		ExternalID:  t.ExternalID,
		Title:       t.Title,
		Description: t.Description,
		Stage:       string(t.Stage),
		Substage:    t.Substage,
		Progress:    t.Progress,
		Metadata:    t.Metadata,
	}
}

// Key returns the persistence key for a record: the external workflow ID
// once a run is bound, otherwise the local board ID.
func (r *TaskRecord) Key() string {
	if r.ExternalID != "" {
		return r.ExternalID
	}
	return fmt.Sprintf("local-%d", r.ID)
}

// Client talks to the persistence API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a persistence client. baseURL is the API root
// (e.g. http://localhost:8754).
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// CreateTask persists a new task and returns the canonical record.
func (c *Client) CreateTask(ctx context.Context, rec *TaskRecord) (*TaskRecord, error) {
	return c.doTask(ctx, http.MethodPost, c.baseURL+"/api/tasks", rec)
}

// UpdateTask persists task fields and returns the canonical record.
func (c *Client) UpdateTask(ctx context.Context, rec *TaskRecord) (*TaskRecord, error) {
	return c.doTask(ctx, http.MethodPut, c.baseURL+"/api/tasks/"+rec.Key(), rec)
}

// DeleteTask removes the remote task. Callers must not drop local state
// until this succeeds.
func (c *Client) DeleteTask(ctx context.Context, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/tasks/"+key, nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.apiError(resp)
	}
	return nil
}

func (c *Client) doTask(ctx context.Context, method, url string, rec *TaskRecord) (*TaskRecord, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal task record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.apiError(resp)
	}

	var canonical TaskRecord
	if err := json.NewDecoder(resp.Body).Decode(&canonical); err != nil {
		return nil, boarderrors.Wrap(boarderrors.CodeRemoteRejected, "decode persistence response", err)
	}
	return &canonical, nil
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, boarderrors.Wrap(boarderrors.CodeRemoteTimeout, "persistence call canceled", err)
		}
		return nil, boarderrors.Wrap(boarderrors.CodeRemoteUnavailable, "persistence call failed", err)
	}
	return resp, nil
}

// apiError maps a non-2xx response to a structured error, extracting the
// backend's human-readable detail string when present.
func (c *Client) apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	detail := ""
	for _, field := range []string{"detail", "error", "message"} {
		if v := gjson.GetBytes(body, field); v.Exists() && v.String() != "" {
			detail = v.String()
			break
		}
	}

	var code boarderrors.Code
	switch {
	case resp.StatusCode == http.StatusNotFound:
		code = boarderrors.CodeTaskNotFound
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		code = boarderrors.CodeRemoteTimeout
	case resp.StatusCode >= 500:
		code = boarderrors.CodeRemoteUnavailable
	default:
		code = boarderrors.CodeRemoteRejected
	}

	c.logger.Debug("persistence call rejected",
		"status", resp.StatusCode, "detail", detail,
		"request_id", resp.Request.Header.Get("X-Request-ID"))

	err := boarderrors.New(code, fmt.Sprintf("persistence API returned %d", resp.StatusCode))
	if detail != "" {
		err = err.WithDetail(detail)
	}
	return err
}
