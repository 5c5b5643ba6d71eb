package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/fulcrumsec/pentestd/internal/config"
)

const (
	anthropicVersion   = "2023-06-01"
	defaultBaseBackoff = 500 * time.Millisecond
)

// AnthropicClient implements Client against the Anthropic messages API.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	maxRetries int
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewAnthropicClient creates a client from config.
func NewAnthropicClient(cfg config.ModelConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("model api_key is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("model base_url is required")
	}

	limit := rate.Limit(cfg.RequestsPerSec)
	if cfg.RequestsPerSec <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &AnthropicClient{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		model:      cfg.Name,
		maxTokens:  cfg.MaxTokens,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    rate.NewLimiter(limit, burst),
	}, nil
}

// Wire types for the messages API.

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []toolSchema       `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`

	// type == "text"
	Text string `json:"text,omitempty"`

	// type == "tool_use"
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// type == "tool_result"
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type anthropicResponse struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete implements Client. It rate-limits, retries retryable statuses
// with exponential backoff, and honors context cancellation throughout.
func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	wireReq := anthropicRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    req.System,
		Messages:  encodeTurns(req.Turns),
	}
	if req.ToolsEnabled {
		wireReq.Tools = agentTools()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultBaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		completion, err := c.doRequest(ctx, wireReq)
		if err == nil {
			return completion, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *AnthropicClient) doRequest(ctx context.Context, req anthropicRequest) (*Completion, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("model request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr anthropicError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, &statusError{status: resp.StatusCode, message: apiErr.Error.Message}
		}
		return nil, &statusError{status: resp.StatusCode, message: string(respBody)}
	}

	var wireResp anthropicResponse
	if err := json.Unmarshal(respBody, &wireResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	completion := &Completion{StopReason: wireResp.StopReason}
	for _, block := range wireResp.Content {
		switch block.Type {
		case "text":
			completion.TextBlocks = append(completion.TextBlocks, block.Text)
		case "tool_use":
			completion.ToolUses = append(completion.ToolUses, ToolUse{
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		}
	}
	return completion, nil
}

// encodeTurns converts orchestrator turns to wire messages.
func encodeTurns(turns []Turn) []anthropicMessage {
	messages := make([]anthropicMessage, 0, len(turns))
	for _, turn := range turns {
		msg := anthropicMessage{Role: string(turn.Role)}
		if turn.Content != "" {
			msg.Content = append(msg.Content, contentBlock{Type: "text", Text: turn.Content})
		}
		for _, use := range turn.ToolUses {
			msg.Content = append(msg.Content, contentBlock{
				Type:  "tool_use",
				ID:    use.ID,
				Name:  use.Name,
				Input: use.Input,
			})
		}
		for _, result := range turn.ToolResults {
			msg.Content = append(msg.Content, contentBlock{
				Type:      "tool_result",
				ToolUseID: result.ToolUseID,
				Content:   result.Content,
			})
		}
		if len(msg.Content) == 0 {
			// The API rejects empty content; preserve turn ordering anyway.
			msg.Content = append(msg.Content, contentBlock{Type: "text", Text: "(empty)"})
		}
		messages = append(messages, msg)
	}
	return messages
}

// statusError carries the HTTP status for retry classification.
type statusError struct {
	status  int
	message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("model API error (status %d): %s", e.status, e.message)
}

// isRetryable reports whether the error is transient: rate limits,
// server errors, the provider's overloaded status, and network failures.
func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		switch se.status {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, 529:
			return true
		}
		return false
	}
	var ue *url.Error
	return errors.As(err, &ue)
}
