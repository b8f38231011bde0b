package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-issue-worker/internal/collector"
	"github.com/kurihiro0119/github-issue-worker/internal/domain"
	"github.com/kurihiro0119/github-issue-worker/internal/logger"
	"github.com/kurihiro0119/github-issue-worker/internal/queue"
	"github.com/kurihiro0119/github-issue-worker/internal/storage/memory"
	"github.com/kurihiro0119/github-issue-worker/internal/worker"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type fixedQuota collector.Quota

func (q fixedQuota) Quota() collector.Quota { return collector.Quota(q) }

type fixedStatus worker.Status

func (s fixedStatus) Status() worker.Status { return worker.Status(s) }

func newTestRouter(t *testing.T) (*gin.Engine, *queue.Queue) {
	t.Helper()
	store := memory.New()
	store.AddRepository(&domain.RepositoryTask{RepoGit: "https://github.com/acme/widget", RepoID: 42})

	q := queue.New()
	handler := NewHandler("github_worker.test", store, q,
		fixedStatus{Processed: 3},
		fixedQuota{Limit: 5000, Remaining: 4200, Reset: time.Unix(1_700_000_000, 0)},
	)
	return SetupRoutes(handler), q
}

func do(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAddTask(t *testing.T) {
	router, q := newTestRouter(t)

	w := do(router, http.MethodPost, "/task",
		`{"job_type":"MAINTAIN","models":["issues"],"given":{"git_url":"https://github.com/acme/widget"}}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	pending := q.Drain()
	require.Len(t, pending, 1)
	msg := pending[0]
	assert.Equal(t, queue.TypeTask, msg.Type)
	assert.Equal(t, int64(42), msg.Task.RepoID)
	assert.Equal(t, "https://github.com/acme/widget", msg.Task.Given["git_url"])
}

func TestAddTask_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{name: "unknown repository", body: `{"given":{"git_url":"https://github.com/acme/missing"}}`, status: http.StatusNotFound, code: "NOT_FOUND"},
		{name: "missing git_url", body: `{"given":{}}`, status: http.StatusBadRequest, code: "BAD_REQUEST"},
		{name: "not json", body: `git_url=x`, status: http.StatusBadRequest, code: "BAD_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, q := newTestRouter(t)

			w := do(router, http.MethodPost, "/task", tt.body)
			assert.Equal(t, tt.status, w.Code)

			var resp struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.Equal(t, 0, q.Len())
		})
	}
}

func TestGetStatus(t *testing.T) {
	router, q := newTestRouter(t)
	q.PushTask(&domain.RepositoryTask{RepoID: 1})

	w := do(router, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			WorkerID    string `json:"worker_id"`
			QueueLength int    `json:"queue_length"`
			Worker      struct {
				Processed int `json:"processed"`
			} `json:"worker"`
			RateLimit struct {
				Limit     int    `json:"limit"`
				Remaining int    `json:"remaining"`
				Reset     string `json:"reset"`
			} `json:"rate_limit"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "github_worker.test", resp.Data.WorkerID)
	assert.Equal(t, 1, resp.Data.QueueLength)
	assert.Equal(t, 3, resp.Data.Worker.Processed)
	assert.Equal(t, 4200, resp.Data.RateLimit.Remaining)
	assert.Equal(t, "2023-11-14T22:13:20Z", resp.Data.RateLimit.Reset)
}

func TestHealthCheck(t *testing.T) {
	router, _ := newTestRouter(t)

	w := do(router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	router, _ := newTestRouter(t)

	w := do(router, http.MethodOptions, "/task", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
