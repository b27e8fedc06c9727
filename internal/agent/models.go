package agent

import (
	"strings"

	"github.com/vampirenirmal/bookforge/internal/core"
)

// ModelProfile describes a model's capacity limits. The caller computes
// max-output-token budgets from these rather than trusting the provider to
// truncate gracefully.
type ModelProfile struct {
	ContextWindow   int
	MaxOutputTokens int
}

// TokenSafetyBuffer is reserved headroom between the estimated prompt and
// the context window.
const TokenSafetyBuffer = 500

// charsPerToken is the estimation ratio for English prose.
const charsPerToken = 4

var modelProfiles = map[string]ModelProfile{
	"gpt-4.1":                    {ContextWindow: 1000000, MaxOutputTokens: 32768},
	"gpt-4o":                     {ContextWindow: 128000, MaxOutputTokens: 16384},
	"gpt-4o-mini":                {ContextWindow: 128000, MaxOutputTokens: 16384},
	"gpt-4-turbo":                {ContextWindow: 128000, MaxOutputTokens: 4096},
	"claude-3-5-sonnet-20241022": {ContextWindow: 200000, MaxOutputTokens: 8192},
	"claude-3-opus-20240229":     {ContextWindow: 200000, MaxOutputTokens: 4096},
}

// conservativeProfile is used for unknown models.
var conservativeProfile = ModelProfile{ContextWindow: 8192, MaxOutputTokens: 4096}

// ProfileFor returns the capacity profile for a model id, matching prefixes
// so dated snapshot names resolve to their family.
func ProfileFor(model string) ModelProfile {
	if p, ok := modelProfiles[model]; ok {
		return p
	}
	for name, p := range modelProfiles {
		if strings.HasPrefix(model, name) {
			return p
		}
	}
	return conservativeProfile
}

// EstimateTokens approximates the token count of a text.
func EstimateTokens(text string) int {
	n := len(text) / charsPerToken
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}

// EstimateMessages approximates the prompt token cost of a message list,
// including a small per-message framing overhead.
func EstimateMessages(messages []core.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content) + 4
	}
	return total
}

// MaxTokenBudget computes the output token budget for a request. It fails
// fast with exact accounting when the prompt alone exceeds the context
// window, and otherwise clamps the remaining window to the model's output
// capacity, never below minResponse.
func MaxTokenBudget(model string, profile ModelProfile, promptTokens, minResponse int) (int, error) {
	available := profile.ContextWindow - promptTokens - TokenSafetyBuffer
	if available <= 0 {
		return 0, &core.ContextOverflowError{
			Model:         model,
			PromptTokens:  promptTokens,
			ContextWindow: profile.ContextWindow,
			SafetyBuffer:  TokenSafetyBuffer,
		}
	}

	budget := available
	if profile.MaxOutputTokens > 0 && budget > profile.MaxOutputTokens {
		budget = profile.MaxOutputTokens
	}
	if minResponse > 0 && budget < minResponse {
		if minResponse > available {
			return 0, &core.ContextOverflowError{
				Model:         model,
				PromptTokens:  promptTokens + minResponse,
				ContextWindow: profile.ContextWindow,
				SafetyBuffer:  TokenSafetyBuffer,
			}
		}
		budget = minResponse
	}
	return budget, nil
}
