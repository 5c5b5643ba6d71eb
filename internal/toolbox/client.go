package toolbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/fulcrumsec/pentestd/internal/config"
)

// Executor abstracts the tool-execution service.
type Executor interface {
	// Execute runs a named tool synchronously and returns its output.
	Execute(ctx context.Context, tool string, parameters map[string]any, taskID string) (string, error)
	// ReadFile fetches a file from the service's data directory.
	ReadFile(ctx context.Context, path string) (string, error)
}

// Client is the HTTP client for the tool-execution service.
type Client struct {
	baseURL     string
	execTimeout time.Duration
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewClient creates a toolbox client from config.
func NewClient(cfg config.ToolboxConfig, logger *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("toolbox url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:     cfg.URL,
		execTimeout: cfg.ExecTimeout,
		// The HTTP timeout must outlast the service-side exec timeout.
		httpClient: &http.Client{Timeout: cfg.ExecTimeout + 30*time.Second},
		logger:     logger,
	}, nil
}

type execRequest struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
	TaskID     string         `json:"task_id,omitempty"`
	Timeout    int            `json:"timeout,omitempty"`
}

type execResponse struct {
	Status string `json:"status"`
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// Execute implements Executor.
func (c *Client) Execute(ctx context.Context, tool string, parameters map[string]any, taskID string) (string, error) {
	reqBody := execRequest{
		Tool:       tool,
		Parameters: parameters,
		TaskID:     taskID,
		Timeout:    int(c.execTimeout.Seconds()),
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal exec request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute/sync", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build exec request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("toolbox request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read toolbox response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("toolbox returned status %d: %s", resp.StatusCode, respBody)
	}

	var execResp execResponse
	if err := json.Unmarshal(respBody, &execResp); err != nil {
		return "", fmt.Errorf("decode toolbox response: %w", err)
	}

	c.logger.Debug("tool executed",
		zap.String("tool", tool),
		zap.String("status", execResp.Status),
		zap.Duration("elapsed", time.Since(start)))

	if execResp.Error != "" {
		return "", fmt.Errorf("tool %s failed: %s", tool, execResp.Error)
	}
	return execResp.Output, nil
}

// ReadFile implements Executor.
func (c *Client) ReadFile(ctx context.Context, path string) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/files/"+url.PathEscape(path), nil)
	if err != nil {
		return "", fmt.Errorf("build file request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("toolbox request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read file response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("file not found: %s", path)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("toolbox returned status %d: %s", resp.StatusCode, body)
	}
	return string(body), nil
}
