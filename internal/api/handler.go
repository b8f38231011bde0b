package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kurihiro0119/github-issue-worker/internal/collector"
	"github.com/kurihiro0119/github-issue-worker/internal/domain"
	apperrors "github.com/kurihiro0119/github-issue-worker/internal/errors"
	"github.com/kurihiro0119/github-issue-worker/internal/logger"
	"github.com/kurihiro0119/github-issue-worker/internal/worker"
)

// RepositoryFinder resolves a git URL to a known repository
type RepositoryFinder interface {
	GetRepositoryByGitURL(ctx context.Context, repoGit string) (*domain.RepositoryTask, error)
}

// TaskQueue accepts tasks for the worker
type TaskQueue interface {
	PushTask(task *domain.RepositoryTask)
	Len() int
}

// StatusReporter exposes the worker loop state
type StatusReporter interface {
	Status() worker.Status
}

// QuotaReporter exposes the last known GitHub quota
type QuotaReporter interface {
	Quota() collector.Quota
}

// Handler handles API requests
type Handler struct {
	workerID string
	repos    RepositoryFinder
	queue    TaskQueue
	status   StatusReporter
	quota    QuotaReporter
}

// NewHandler creates a new API handler. status and quota may be nil.
func NewHandler(workerID string, repos RepositoryFinder, queue TaskQueue, status StatusReporter, quota QuotaReporter) *Handler {
	return &Handler{
		workerID: workerID,
		repos:    repos,
		queue:    queue,
		status:   status,
		quota:    quota,
	}
}

// TaskRequest is a task handed out by the broker
type TaskRequest struct {
	JobType string            `json:"job_type,omitempty"`
	Models  []string          `json:"models,omitempty"`
	Given   map[string]string `json:"given"`
}

// AddTask queues a repository for ingestion
// POST /task
func (h *Handler) AddTask(c *gin.Context) {
	var req TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewBadRequestError("invalid task body: "+err.Error()))
		return
	}
	gitURL := strings.TrimSpace(req.Given["git_url"])
	if gitURL == "" {
		respondError(c, apperrors.NewBadRequestError("given.git_url is required"))
		return
	}

	repo, err := h.repos.GetRepositoryByGitURL(c.Request.Context(), gitURL)
	if err != nil {
		respondError(c, err)
		return
	}

	task := &domain.RepositoryTask{RepoGit: repo.RepoGit, RepoID: repo.RepoID, Given: req.Given}
	h.queue.PushTask(task)
	logger.Info("Queued %s (repo_id %d) from broker", task.RepoGit, task.RepoID)

	c.JSON(http.StatusAccepted, gin.H{
		"data":   task,
		"queued": h.queue.Len(),
	})
}

// GetStatus returns the queue, worker and quota state
// GET /status
func (h *Handler) GetStatus(c *gin.Context) {
	data := gin.H{
		"worker_id":    h.workerID,
		"queue_length": h.queue.Len(),
	}
	if h.status != nil {
		data["worker"] = h.status.Status()
	}
	if h.quota != nil {
		q := h.quota.Quota()
		data["rate_limit"] = gin.H{
			"limit":     q.Limit,
			"remaining": q.Remaining,
			"reset":     q.Reset.UTC().Format(time.RFC3339),
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"data": data,
	})
}

// HealthCheck returns the health status
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// respondError sends an error response
func respondError(c *gin.Context, err error) {
	code := apperrors.CodeOf(err)
	if code == "" {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    apperrors.ErrCodeInternal,
				"message": err.Error(),
			},
		})
		return
	}

	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case apperrors.ErrCodeBadRequest:
		status = http.StatusBadRequest
	}

	message := err.Error()
	if appErr, ok := err.(*apperrors.AppError); ok {
		message = appErr.Message
	}
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}
