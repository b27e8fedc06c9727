package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/vampirenirmal/bookforge/internal/core"
)

// Client talks to an OpenAI-compatible chat-completions endpoint. It owns
// retry, rate limiting, token budgeting, and usage accounting; callers only
// see core.CompletionRequest/Response.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	maxRetries int
	limiter    *rate.Limiter
	logger     *slog.Logger
}

type Option func(*Client)

func WithRetry(maxRetries int) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		transport := c.httpClient.Transport
		c.httpClient = &http.Client{
			Timeout:   timeout,
			Transport: transport,
		}
	}
}

func WithRateLimit(requestsPerMinute int, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
	}
}

func WithAPIConfig(baseURL, model string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
		c.model = model
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func NewClient(apiKey string, opts ...Option) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	c := &Client{
		apiKey:  apiKey,
		baseURL: "https://api.openai.com/v1",
		model:   "gpt-4.1",
		httpClient: &http.Client{
			Timeout:   15 * time.Minute,
			Transport: transport,
		},
		maxRetries: 3,
		limiter:    rate.NewLimiter(rate.Limit(1), 1),
		logger:     slog.Default().With("component", "ai_client"),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger.Debug("AI client initialized",
		"base_url", c.baseURL,
		"model", c.model,
		"max_retries", c.maxRetries,
		"rate_limit", fmt.Sprintf("%v req/s", c.limiter.Limit()))

	return c
}

// Model returns the default model id this client targets.
func (c *Client) Model() string { return c.model }

// Complete performs one chat completion call with retry and rate limiting.
// When req.MaxTokens is zero the budget is computed from the model profile,
// the estimated prompt size, and req.MinResponseTokens; a prompt that
// already exceeds the context window fails fast before any request.
func (c *Client) Complete(ctx context.Context, req core.CompletionRequest) (core.CompletionResponse, error) {
	requestID := fmt.Sprintf("api_%d", time.Now().UnixNano())
	startTime := time.Now()

	model := req.Model
	if model == "" {
		model = c.model
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		promptTokens := EstimateMessages(req.Messages)
		budget, err := MaxTokenBudget(model, ProfileFor(model), promptTokens, req.MinResponseTokens)
		if err != nil {
			c.logger.Error("prompt exceeds context window",
				"request_id", requestID,
				"model", model,
				"estimated_prompt_tokens", promptTokens,
				"error", err)
			return core.CompletionResponse{}, err
		}
		maxTokens = budget
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return core.CompletionResponse{}, fmt.Errorf("rate limit wait failed: %w", err)
	}

	c.logger.Debug("rate limit passed for AI request",
		"request_id", requestID,
		"wait_duration_ms", time.Since(startTime).Milliseconds(),
		"model", model,
		"message_count", len(req.Messages),
		"temperature", req.Temperature,
		"max_tokens", maxTokens)

	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			c.logger.Debug("retry backoff",
				"request_id", requestID,
				"attempt", attempt,
				"backoff_seconds", backoff.Seconds())

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return core.CompletionResponse{}, ctx.Err()
			}
		}

		attemptStart := time.Now()
		resp, err := c.doRequest(ctx, requestID, model, req, maxTokens)
		attemptDuration := time.Since(attemptStart)

		if err == nil {
			c.logger.Info("API request successful",
				"request_id", requestID,
				"attempt", attempt,
				"duration_ms", attemptDuration.Milliseconds(),
				"response_length", len(resp.Text),
				"prompt_tokens", resp.Usage.PromptTokens,
				"completion_tokens", resp.Usage.CompletionTokens,
				"finish_reason", resp.FinishReason)
			return resp, nil
		}

		lastErr = err

		if !core.IsRetryable(err) {
			c.logger.Error("API request failed with non-retryable error",
				"request_id", requestID,
				"attempt", attempt,
				"duration_ms", attemptDuration.Milliseconds(),
				"error", err)
			return core.CompletionResponse{}, err
		}

		c.logger.Warn("API request failed, will retry",
			"request_id", requestID,
			"attempt", attempt,
			"duration_ms", attemptDuration.Milliseconds(),
			"error", err)
	}

	c.logger.Error("API request failed after max retries",
		"request_id", requestID,
		"max_retries", c.maxRetries,
		"total_duration_ms", time.Since(startTime).Milliseconds(),
		"last_error", lastErr)

	return core.CompletionResponse{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

type chatRequest struct {
	Model       string         `json:"model"`
	Messages    []core.Message `json:"messages"`
	Temperature float64        `json:"temperature"`
	MaxTokens   int            `json:"max_tokens"`
	Stream      bool           `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *Client) doRequest(ctx context.Context, requestID, model string, req core.CompletionRequest, maxTokens int) (core.CompletionResponse, error) {
	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   maxTokens,
		Stream:      req.OnToken != nil,
	})
	if err != nil {
		return core.CompletionResponse{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return core.CompletionResponse{}, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpStart := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return core.CompletionResponse{}, fmt.Errorf("making request: %w: %v", core.ErrNetworkError, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("HTTP response received",
		"request_id", requestID,
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(httpStart).Milliseconds())

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return core.CompletionResponse{}, fmt.Errorf("API error (status %d): %s: %w", resp.StatusCode, string(respBody), core.ErrRateLimited)
		case resp.StatusCode >= 500:
			return core.CompletionResponse{}, fmt.Errorf("API error (status %d): %s: %w", resp.StatusCode, string(respBody), core.ErrServerError)
		default:
			return core.CompletionResponse{}, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
		}
	}

	if req.OnToken != nil {
		return c.readStream(resp.Body, req.OnToken)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.CompletionResponse{}, fmt.Errorf("reading response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return core.CompletionResponse{}, fmt.Errorf("parsing response: %w", err)
	}

	if len(parsed.Choices) == 0 {
		return core.CompletionResponse{}, fmt.Errorf("no choices in response")
	}

	return core.CompletionResponse{
		Text:         parsed.Choices[0].Message.Content,
		FinishReason: parsed.Choices[0].FinishReason,
		Usage: core.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// readStream consumes an SSE token stream, invoking the callback per token
// and assembling the full text.
func (c *Client) readStream(body io.Reader, onToken func(string)) (core.CompletionResponse, error) {
	var out core.CompletionResponse
	var text strings.Builder

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return core.CompletionResponse{}, fmt.Errorf("parsing stream chunk: %w", err)
		}

		if chunk.Usage != nil {
			out.Usage = core.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if token := chunk.Choices[0].Delta.Content; token != "" {
			text.WriteString(token)
			onToken(token)
		}
		if fr := chunk.Choices[0].FinishReason; fr != nil && *fr != "" {
			out.FinishReason = *fr
		}
	}
	if err := scanner.Err(); err != nil {
		return core.CompletionResponse{}, fmt.Errorf("reading stream: %w", err)
	}

	out.Text = text.String()
	return out, nil
}
