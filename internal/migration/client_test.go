package migration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestConnectionSendsParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/migration/connection", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var params ConnectionParams
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		assert.Equal(t, "legacy-db", params.Host)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := New(srv.URL, "tok")
	err := client.TestConnection(context.Background(), ConnectionParams{Host: "legacy-db", Port: 5432})
	require.NoError(t, err)
}

func TestGetPreview(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Preview{Conversations: 3, Messages: 120, Users: 7})
	}))
	defer srv.Close()

	client := New(srv.URL, "")
	preview, err := client.GetPreview(context.Background(), ConnectionParams{})
	require.NoError(t, err)
	assert.Equal(t, 3, preview.Conversations)
	assert.Equal(t, 120, preview.Messages)
}

func TestStartJobReturnsID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"job_id": "job-1"})
	}))
	defer srv.Close()

	client := New(srv.URL, "")
	jobID, err := client.StartJob(context.Background(), ConnectionParams{})
	require.NoError(t, err)
	assert.Equal(t, "job-1", jobID)
}

func TestStartJobSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{"error": "source unreachable"})
	}))
	defer srv.Close()

	client := New(srv.URL, "")
	_, err := client.StartJob(context.Background(), ConnectionParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source unreachable")
}

func TestPollJobUntilTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		status := JobStatus{JobID: "job-1", Status: StatusRunning, Progress: int(n) * 10, Total: 30}
		if n >= 3 {
			status.Status = StatusCompleted
			status.Progress = status.Total
		}
		json.NewEncoder(w).Encode(status)
	}))
	defer srv.Close()

	client := New(srv.URL, "")
	var seen []JobStatus
	final, err := client.PollJob(context.Background(), "job-1", 5*time.Millisecond, func(s JobStatus) {
		seen = append(seen, s)
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, final.Total, final.Progress)
	assert.Len(t, seen, 3)
	assert.True(t, final.Terminal())
}

func TestPollJobHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(JobStatus{JobID: "job-1", Status: StatusRunning})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	client := New(srv.URL, "")
	_, err := client.PollJob(ctx, "job-1", 10*time.Millisecond, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobStatus{Status: StatusPending}.Terminal())
	assert.False(t, JobStatus{Status: StatusRunning}.Terminal())
	assert.True(t, JobStatus{Status: StatusCompleted}.Terminal())
	assert.True(t, JobStatus{Status: StatusFailed}.Terminal())
}
