package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vampirenirmal/bookforge/internal/core"
)

func chatCompletionJSON(text, finishReason string) string {
	payload := map[string]any{
		"choices": []map[string]any{
			{
				"message":       map[string]string{"content": text},
				"finish_reason": finishReason,
			},
		},
		"usage": map[string]int{
			"prompt_tokens":     10,
			"completion_tokens": 20,
			"total_tokens":      30,
		},
	}
	data, _ := json.Marshal(payload)
	return string(data)
}

func TestClientComplete(t *testing.T) {
	var gotAuth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req.Model)
		assert.Positive(t, req.MaxTokens, "budget is computed when the caller leaves MaxTokens zero")

		w.Write([]byte(chatCompletionJSON("hello there", "stop")))
	}))
	defer server.Close()

	client := NewClient("sk-test-key",
		WithAPIConfig(server.URL, "gpt-4o"),
		WithRateLimit(600, 10),
	)

	resp, err := client.Complete(context.Background(), core.CompletionRequest{
		Messages:    []core.Message{{Role: "user", Content: "say hello"}},
		Temperature: 0.5,
	})
	require.NoError(t, err)

	assert.Equal(t, "hello there", resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 30, resp.Usage.TotalTokens)
	assert.Equal(t, "Bearer sk-test-key", gotAuth.Load())
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(chatCompletionJSON("recovered", "stop")))
	}))
	defer server.Close()

	client := NewClient("sk-test-key",
		WithAPIConfig(server.URL, "gpt-4o"),
		WithRetry(3),
		WithRateLimit(600, 10),
	)

	resp, err := client.Complete(context.Background(), core.CompletionRequest{
		Messages: []core.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientClassifiesStatusCodes(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		sentinel error
	}{
		{"rate limited", http.StatusTooManyRequests, core.ErrRateLimited},
		{"server error", http.StatusInternalServerError, core.ErrServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := NewClient("sk-test-key",
				WithAPIConfig(server.URL, "gpt-4o"),
				WithRetry(0),
				WithRateLimit(600, 10),
			)

			_, err := client.Complete(context.Background(), core.CompletionRequest{
				Messages: []core.Message{{Role: "user", Content: "hi"}},
			})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.sentinel))
			assert.True(t, core.IsRetryable(err))
		})
	}
}

func TestClientBadRequestNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient("sk-test-key",
		WithAPIConfig(server.URL, "gpt-4o"),
		WithRetry(3),
		WithRateLimit(600, 10),
	)

	_, err := client.Complete(context.Background(), core.CompletionRequest{
		Messages: []core.Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "client errors are not retried")
}

func TestClientStreaming(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`data: {"choices":[{"delta":{"content":"Once "}}]}`,
			`data: {"choices":[{"delta":{"content":"upon"}}]}`,
			`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
			`data: [DONE]`,
		}
		for _, chunk := range chunks {
			w.Write([]byte(chunk + "\n\n"))
		}
	}))
	defer server.Close()

	client := NewClient("sk-test-key",
		WithAPIConfig(server.URL, "gpt-4o"),
		WithRateLimit(600, 10),
	)

	var streamed []string
	resp, err := client.Complete(context.Background(), core.CompletionRequest{
		Messages: []core.Message{{Role: "user", Content: "tell a story"}},
		OnToken:  func(token string) { streamed = append(streamed, token) },
	})
	require.NoError(t, err)

	assert.Equal(t, "Once upon", resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, []string{"Once ", "upon"}, streamed)
}
