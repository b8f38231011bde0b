// Package worker runs the single consumer loop over the task queue.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kurihiro0119/github-issue-worker/internal/domain"
	apperrors "github.com/kurihiro0119/github-issue-worker/internal/errors"
	"github.com/kurihiro0119/github-issue-worker/internal/logger"
	"github.com/kurihiro0119/github-issue-worker/internal/pipeline"
	"github.com/kurihiro0119/github-issue-worker/internal/queue"
)

// Processor ingests one repository task
type Processor interface {
	ProcessRepository(ctx context.Context, task *domain.RepositoryTask) (*pipeline.Summary, error)
}

// RepositoryLister lists the repositories known to the store
type RepositoryLister interface {
	GetRepositories(ctx context.Context) ([]*domain.RepositoryTask, error)
}

// Status is a snapshot of the worker loop
type Status struct {
	Busy        bool                   `json:"busy"`
	Current     *domain.RepositoryTask `json:"current,omitempty"`
	Processed   int                    `json:"processed"`
	Failed      int                    `json:"failed"`
	Dropped     int                    `json:"dropped"`
	LastSummary *pipeline.Summary      `json:"last_summary,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
}

// Worker pops tasks and hands them to the processor one at a time
type Worker struct {
	queue     *queue.Queue
	processor Processor

	mu     sync.Mutex
	status Status
}

// New creates a new worker
func New(q *queue.Queue, processor Processor) *Worker {
	return &Worker{
		queue:     q,
		processor: processor,
		status:    Status{StartedAt: time.Now()},
	}
}

// Run consumes the queue until an EXIT message, queue termination or ctx cancellation.
// On termination the pending messages are drained and dropped.
// Task failures are logged and the loop moves on; an unrecognized message type or a
// fatal error is returned.
func (w *Worker) Run(ctx context.Context) error {
	for {
		msg, err := w.queue.Pop(ctx)
		if errors.Is(err, queue.ErrTerminated) {
			w.drop()
			return nil
		}
		if err != nil {
			return err
		}

		switch msg.Type {
		case queue.TypeExit:
			logger.Info("Received exit message, stopping")
			return nil
		case queue.TypeTask:
			if err := w.handle(ctx, msg.Task); err != nil {
				return err
			}
		default:
			err := apperrors.NewUnknownTaskTypeError(string(msg.Type))
			logger.Error("%v", err)
			return err
		}
	}
}

// handle processes one task, returning only errors that must stop the loop
func (w *Worker) handle(ctx context.Context, task *domain.RepositoryTask) error {
	if task == nil {
		logger.Warn("Ignoring task message without a repository")
		return nil
	}

	w.mu.Lock()
	w.status.Busy = true
	w.status.Current = task
	w.mu.Unlock()

	logger.Info("Processing %s (repo_id %d)", task.RepoGit, task.RepoID)
	summary, err := w.processor.ProcessRepository(ctx, task)

	w.mu.Lock()
	w.status.Busy = false
	w.status.Current = nil
	if summary != nil {
		w.status.LastSummary = summary
	}
	if err != nil {
		w.status.Failed++
	} else {
		w.status.Processed++
	}
	w.mu.Unlock()

	if err != nil {
		if apperrors.IsFatal(err) {
			logger.Error("Fatal error on %s: %v", task.RepoGit, err)
			return err
		}
		logger.Error("Task %s failed: %v", task.RepoGit, err)
		return nil
	}

	logger.Info("Finished %s: %d issues, %d messages, %d events, %d labels, %d assignees",
		task.RepoGit, summary.Issues, summary.Messages, summary.Events, summary.Labels, summary.Assignees)
	return nil
}

// drop empties the queue after termination and logs what will not be processed
func (w *Worker) drop() {
	pending := w.queue.Drain()
	logger.Info("Queue terminated, dropping %d pending messages", len(pending))
	for _, msg := range pending {
		if msg.Task != nil {
			logger.Info("Dropped task %s (repo_id %d)", msg.Task.RepoGit, msg.Task.RepoID)
		}
	}

	w.mu.Lock()
	w.status.Dropped += len(pending)
	w.mu.Unlock()
}

// Status returns a snapshot of the loop
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Seed enqueues every repository in the store and returns how many were queued
func Seed(ctx context.Context, repos RepositoryLister, q *queue.Queue) (int, error) {
	tasks, err := repos.GetRepositories(ctx)
	if err != nil {
		return 0, err
	}
	for _, task := range tasks {
		q.PushTask(task)
	}
	logger.Info("Queued %d repositories from the store", len(tasks))
	return len(tasks), nil
}
