package taskwatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrAuthExpired means the server rejected the stored token (401).
	ErrAuthExpired = errors.New("auth token rejected")

	// ErrNotFound means the requested task does not exist (404).
	ErrNotFound = errors.New("task not found")

	// ErrAlreadyRunning means a launch was refused because a task of the
	// same type is still running (409). The returned task id identifies the
	// running task, which the caller can adopt instead of retrying.
	ErrAlreadyRunning = errors.New("a task of this type is already running")
)

// Client talks to the stockpit task API.
type Client struct {
	baseURL string
	httpc   *http.Client
	tokens  TokenStore // nil sends unauthenticated requests
}

// NewClient creates a Client for the server at baseURL. tokens may be nil
// for servers with auth disabled.
func NewClient(baseURL string, tokens TokenStore) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 10 * time.Second},
		tokens:  tokens,
	}
}

// SetHTTPClient replaces the underlying HTTP client, mainly for tests and
// custom timeouts.
func (c *Client) SetHTTPClient(httpc *http.Client) {
	c.httpc = httpc
}

// Launch starts a job via POST to path (e.g. "/api/stocks/collect-history")
// with the given query parameters. A missing stored token fails immediately
// with ErrNoToken, before any network traffic. On 409 the returned id is the
// already-running task's, with ErrAlreadyRunning as the error.
func (c *Client) Launch(ctx context.Context, path string, query url.Values) (taskID, message string, err error) {
	token, err := c.token()
	if err != nil {
		return "", "", err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return "", "", err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("launching task: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		TaskID  string `json:"task_id"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return "", "", ErrAuthExpired
	case resp.StatusCode == http.StatusConflict:
		return body.TaskID, body.Message, ErrAlreadyRunning
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		if body.Error != "" {
			return "", "", fmt.Errorf("launch failed: %s", body.Error)
		}
		return "", "", fmt.Errorf("launch failed: HTTP %d", resp.StatusCode)
	case decodeErr != nil:
		return "", "", fmt.Errorf("decoding launch response: %w", decodeErr)
	case body.TaskID == "":
		return "", "", errors.New("launch response missing task_id")
	}
	return body.TaskID, body.Message, nil
}

// Task fetches one progress snapshot.
func (c *Client) Task(ctx context.Context, taskID string) (*Task, error) {
	var t Task
	if err := c.getJSON(ctx, "/api/tasks/"+taskID, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Latest fetches the most recent task of the given type, or ErrNotFound if
// the server has never run one.
func (c *Client) Latest(ctx context.Context, taskType string) (*Task, error) {
	var t Task
	if err := c.getJSON(ctx, "/api/tasks/latest/"+taskType, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Logs fetches the per-item outcome records of a task.
func (c *Client) Logs(ctx context.Context, taskID string) ([]LogEntry, error) {
	var logs []LogEntry
	if err := c.getJSON(ctx, "/api/tasks/"+taskID+"/logs", &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// Cancel requests cancellation. The boolean and message come from the
// server; success=false still carries a message worth showing. Cancellation
// is advisory — the task's status only changes once the job observes it, so
// callers keep polling rather than assuming the outcome.
func (c *Client) Cancel(ctx context.Context, taskID string) (bool, string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/tasks/"+taskID+"/cancel")
	if err != nil {
		return false, "", err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return false, "", fmt.Errorf("requesting cancellation: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return false, "", err
	}
	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, "", fmt.Errorf("decoding cancel response: %w", err)
	}
	return body.Success, body.Message, nil
}

// RetryFailed launches a retry of a collection task's failed items.
func (c *Client) RetryFailed(ctx context.Context, taskID string, days int) (string, string, error) {
	path := "/api/tasks/" + taskID + "/retry-failed"
	if days > 0 {
		path += fmt.Sprintf("?days=%d", days)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path)
	if err != nil {
		return "", "", err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("requesting retry: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", "", err
	}
	var body struct {
		Success bool   `json:"success"`
		TaskID  string `json:"task_id"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", "", fmt.Errorf("decoding retry response: %w", err)
	}
	if !body.Success {
		return "", body.Message, fmt.Errorf("retry refused: %s", body.Message)
	}
	return body.TaskID, body.Message, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// newRequest builds a request with the bearer token attached when one is
// stored. Reads proceed without a token; only Launch insists on one.
func (c *Client) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if token, err := c.token(); err == nil && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// token resolves the stored token. A nil store means auth is not in use.
func (c *Client) token() (string, error) {
	if c.tokens == nil {
		return "", nil
	}
	return c.tokens.Token()
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrAuthExpired
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
