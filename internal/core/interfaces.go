package core

import "context"

// Message is a single chat turn sent to the completion service.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage carries token accounting returned by the completion service.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionRequest describes one chat completion call. When MaxTokens is
// zero the client computes a budget from the model's context window, the
// estimated prompt size, and MinResponseTokens.
type CompletionRequest struct {
	Model             string
	Messages          []Message
	Temperature       float64
	MinResponseTokens int
	MaxTokens         int
	OnToken           func(token string)
}

// CompletionResponse is the full result of a completion call. FinishReason
// is the provider's stop signal ("stop", "length", ...) and feeds
// truncation detection.
type CompletionResponse struct {
	Text         string
	FinishReason string
	Usage        Usage
}

// Agent is the LLM completion collaborator.
type Agent interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// DocumentStore persists named project artifacts. Implementations own the
// on-disk representation; callers only see relative blob paths.
type DocumentStore interface {
	Save(ctx context.Context, path string, data []byte) error
	Load(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, pattern string) ([]string, error)
	Exists(ctx context.Context, path string) bool
	Delete(ctx context.Context, path string) error
	DeleteDir(ctx context.Context, dir string) error
}
