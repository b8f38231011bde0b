package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kurihiro0119/github-issue-worker/internal/domain"
)

// Client is the API client for a running github-issue-worker
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// RateLimit is the worker's view of the GitHub quota
type RateLimit struct {
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	Reset     string `json:"reset"`
}

// WorkerState is the state of the worker loop
type WorkerState struct {
	Busy      bool                   `json:"busy"`
	Current   *domain.RepositoryTask `json:"current,omitempty"`
	Processed int                    `json:"processed"`
	Failed    int                    `json:"failed"`
	Dropped   int                    `json:"dropped"`
}

// Status is returned by GET /status
type Status struct {
	WorkerID    string       `json:"worker_id"`
	QueueLength int          `json:"queue_length"`
	Worker      *WorkerState `json:"worker,omitempty"`
	RateLimit   *RateLimit   `json:"rate_limit,omitempty"`
}

// Enqueue asks the worker to ingest a repository it already knows about
func (c *Client) Enqueue(gitURL string) (*domain.RepositoryTask, error) {
	body := map[string]interface{}{
		"models": []string{"issues"},
		"given":  map[string]string{"git_url": gitURL},
	}

	var response struct {
		Data *domain.RepositoryTask `json:"data"`
	}
	if err := c.post("/task", body, http.StatusAccepted, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetStatus retrieves the queue and worker status
func (c *Client) GetStatus() (*Status, error) {
	var response struct {
		Data *Status `json:"data"`
	}
	if err := c.get("/status", nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck() error {
	var response struct {
		Status string `json:"status"`
	}
	if err := c.get("/health", nil, &response); err != nil {
		return err
	}
	if response.Status != "ok" {
		return fmt.Errorf("unhealthy status: %s", response.Status)
	}
	return nil
}

func (c *Client) get(path string, params url.Values, result interface{}) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}

	resp, err := c.httpClient.Get(u.String())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

func (c *Client) post(path string, payload interface{}, want int, result interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(result)
}
