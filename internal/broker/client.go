// Package broker talks to the housekeeper that hands out tasks: it announces the
// worker on startup and reports each completed issue.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kurihiro0119/github-issue-worker/internal/domain"
	"github.com/kurihiro0119/github-issue-worker/internal/logger"
)

// DefaultURL is where the broker listens when none is configured
const DefaultURL = "http://localhost:5000"

// Qualification advertises which task inputs and models the worker handles
type Qualification struct {
	Given  [][]string `json:"given"`
	Models []string   `json:"models"`
}

// Registration is the hello message sent to the broker
type Registration struct {
	ID             string          `json:"id"`
	Location       string          `json:"location"`
	Qualifications []Qualification `json:"qualifications"`
}

// NewRegistration builds the hello message for an issue worker reachable at location
func NewRegistration(workerID, location string) Registration {
	return Registration{
		ID:       workerID,
		Location: location,
		Qualifications: []Qualification{
			{Given: [][]string{{"git_url"}}, Models: []string{"issues"}},
		},
	}
}

// Client is the broker API client
type Client struct {
	baseURL    string
	workerID   string
	httpClient *http.Client
}

// NewClient creates a new broker client
func NewClient(baseURL, workerID string) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		workerID: workerID,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WorkerID returns the id the client reports under
func (c *Client) WorkerID() string {
	return c.workerID
}

// Register announces the worker to the broker
func (c *Client) Register(ctx context.Context, reg Registration) error {
	if err := c.post(ctx, "/api/workers", reg); err != nil {
		return fmt.Errorf("failed to register worker %s: %w", reg.ID, err)
	}
	logger.Info("Registered with broker at %s as %s", c.baseURL, reg.ID)
	return nil
}

// NotifyCompleted reports that an issue of task has been processed. The task fields
// are echoed back so the broker can match the notification to its request.
func (c *Client) NotifyCompleted(ctx context.Context, task *domain.RepositoryTask) error {
	body := domain.CompletedTask{RepositoryTask: *task, WorkerID: c.workerID}
	if err := c.post(ctx, "/api/completed_task", body); err != nil {
		return fmt.Errorf("failed to notify completion of %s: %w", task.RepoGit, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("broker error: %s - %s", resp.Status, string(body))
	}
	return nil
}
