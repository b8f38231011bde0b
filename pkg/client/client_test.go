package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Enqueue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/task", r.URL.Path)

		var body struct {
			Given map[string]string `json:"given"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://github.com/acme/widget", body.Given["git_url"])

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"data":{"repo_git":"https://github.com/acme/widget","repo_id":42},"queued":1}`))
	}))
	defer server.Close()

	task, err := NewClient(server.URL).Enqueue("https://github.com/acme/widget")
	require.NoError(t, err)
	assert.Equal(t, int64(42), task.RepoID)
}

func TestClient_EnqueueUnknownRepository(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND"}}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL).Enqueue("https://github.com/acme/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestClient_GetStatusAndHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/status":
			_, _ = w.Write([]byte(`{"data":{"worker_id":"github_worker.1","queue_length":2,"worker":{"busy":true,"processed":5},"rate_limit":{"limit":5000,"remaining":10}}}`))
		case "/health":
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL)
	status, err := c.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, "github_worker.1", status.WorkerID)
	assert.Equal(t, 2, status.QueueLength)
	require.NotNil(t, status.Worker)
	assert.True(t, status.Worker.Busy)
	require.NotNil(t, status.RateLimit)
	assert.Equal(t, 10, status.RateLimit.Remaining)

	assert.NoError(t, c.HealthCheck())
}
