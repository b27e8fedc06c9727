package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/vampirenirmal/bookforge/internal/core"
)

// ScriptedClient is a deterministic Agent for tests. Responses are consumed
// in FIFO order; every request is recorded for assertions.
type ScriptedClient struct {
	mu        sync.Mutex
	responses []core.CompletionResponse
	errs      []error
	Requests  []core.CompletionRequest
}

func NewScriptedClient() *ScriptedClient {
	return &ScriptedClient{}
}

// Enqueue adds a plain-text response to the script.
func (m *ScriptedClient) Enqueue(text string) *ScriptedClient {
	return m.EnqueueResponse(core.CompletionResponse{Text: text, FinishReason: "stop"})
}

// EnqueueResponse adds a full response, including finish reason and usage.
func (m *ScriptedClient) EnqueueResponse(resp core.CompletionResponse) *ScriptedClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	m.errs = append(m.errs, nil)
	return m
}

// EnqueueError adds a failing call to the script.
func (m *ScriptedClient) EnqueueError(err error) *ScriptedClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, core.CompletionResponse{})
	m.errs = append(m.errs, err)
	return m
}

func (m *ScriptedClient) Complete(ctx context.Context, req core.CompletionRequest) (core.CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)

	if len(m.responses) == 0 {
		return core.CompletionResponse{}, fmt.Errorf("scripted client: no response queued for request %d", len(m.Requests))
	}

	resp, err := m.responses[0], m.errs[0]
	m.responses = m.responses[1:]
	m.errs = m.errs[1:]
	if err != nil {
		return core.CompletionResponse{}, err
	}
	if req.OnToken != nil {
		req.OnToken(resp.Text)
	}
	return resp, nil
}

// CallCount returns how many completions were requested.
func (m *ScriptedClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
