package migration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Job statuses reported by the migration backend.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ConnectionParams describes the source system to migrate from.
type ConnectionParams struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Preview summarizes what a migration would import.
type Preview struct {
	Conversations int `json:"conversations"`
	Messages      int `json:"messages"`
	Users         int `json:"users"`
	Attachments   int `json:"attachments"`
}

// JobStatus is a snapshot of a running or finished migration job.
type JobStatus struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	Total     int    `json:"total"`
	Error     string `json:"error,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

// Terminal reports whether the job has finished, successfully or not.
func (s JobStatus) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// Client is a thin polling wrapper over the migration job API. The
// backend owns all migration state; this client only starts jobs and
// observes them.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// New builds a migration client.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("migration api: status %d: %s", resp.StatusCode, apiErr.Error)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// TestConnection validates the source connection parameters.
func (c *Client) TestConnection(ctx context.Context, params ConnectionParams) error {
	return c.do(ctx, http.MethodPost, "/migration/connection", params, nil)
}

// GetPreview returns the import summary for the configured source.
func (c *Client) GetPreview(ctx context.Context, params ConnectionParams) (Preview, error) {
	var preview Preview
	err := c.do(ctx, http.MethodPost, "/migration/preview", params, &preview)
	return preview, err
}

// StartJob kicks off a migration job and returns its id.
func (c *Client) StartJob(ctx context.Context, params ConnectionParams) (string, error) {
	var resp struct {
		JobID string `json:"job_id"`
	}
	err := c.do(ctx, http.MethodPost, "/migration/jobs", params, &resp)
	return resp.JobID, err
}

// GetJobStatus fetches one status snapshot.
func (c *Client) GetJobStatus(ctx context.Context, jobID string) (JobStatus, error) {
	var status JobStatus
	err := c.do(ctx, http.MethodGet, "/migration/jobs/"+jobID, nil, &status)
	return status, err
}

// PollJob polls the job until it reaches a terminal status or ctx is
// cancelled. Every snapshot, terminal included, is passed to onUpdate.
func (c *Client) PollJob(ctx context.Context, jobID string, interval time.Duration, onUpdate func(JobStatus)) (JobStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.GetJobStatus(ctx, jobID)
		if err != nil {
			return JobStatus{}, err
		}
		if onUpdate != nil {
			onUpdate(status)
		}
		if status.Terminal() {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}
