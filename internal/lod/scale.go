package lod

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vampirenirmal/bookforge/internal/book"
	"github.com/vampirenirmal/bookforge/internal/config"
	"github.com/vampirenirmal/bookforge/internal/core"
)

// Scale values returned by detection.
const (
	ScalePatch      = "patch"
	ScaleRegenerate = "regenerate"
	ScaleUnclear    = "unclear"
)

// ScaleDecision is the resolved answer, including where it came from.
type ScaleDecision struct {
	Scale         string
	ChangePercent int
	Reasoning     string
	FromModel     bool
}

// ScaleDetector decides whether feedback warrants a surgical patch or a
// full regeneration. Rules first; an LLM judgment call only when the rules
// come back unclear.
type ScaleDetector struct {
	agent  core.Agent
	policy config.Policy
	logger *slog.Logger
}

func NewScaleDetector(agent core.Agent, policy config.Policy) *ScaleDetector {
	return &ScaleDetector{
		agent:  agent,
		policy: policy,
		logger: slog.Default().With("component", "scale_detector"),
	}
}

var regenerateKeywords = []string{
	"rewrite",
	"from scratch",
	"overhaul",
	"start over",
	"completely redo",
	"regenerate",
	"throw it out",
}

var structuralActions = map[string]bool{
	"add_chapter":    true,
	"remove_chapter": true,
	"merge_chapters": true,
	"split_chapter":  true,
	"change_genre":   true,
	"change_tone":    true,
	"change_premise": true,
	"restructure":    true,
	"reorder":        true,
}

var patchActions = map[string]bool{
	"add_dialogue":    true,
	"add_description": true,
	"add_detail":      true,
	"adjust_pacing":   true,
	"change_name":     true,
	"fix_typo":        true,
	"fix_continuity":  true,
	"expand_scene":    true,
	"tighten_scene":   true,
	"clarify_moment":  true,
	"strengthen":      true,
	"soften":          true,
}

// DetectScale is the pure rule engine. It never calls the model; an
// "unclear" result tells the caller to ask one.
func (d *ScaleDetector) DetectScale(intent Intent, content string) string {
	feedback := strings.ToLower(intent.OriginalFeedback)
	for _, kw := range regenerateKeywords {
		if strings.Contains(feedback, kw) {
			return ScaleRegenerate
		}
	}

	if intent.IntentType == "regenerate" {
		return ScaleRegenerate
	}

	if structuralActions[intent.Action] {
		return ScaleRegenerate
	}

	if intent.Scope == "multiple" || intent.Scope == "entire" {
		return ScaleRegenerate
	}

	// Editing near-nothing is riskier than redoing it.
	if content != "" && wordCount(content) < d.policy.ShortContentWords {
		return ScaleRegenerate
	}

	if intent.Scope == "specific" && patchActions[intent.Action] && content != "" {
		return ScalePatch
	}

	return ScaleUnclear
}

const scaleSystemPrompt = `You judge whether an editorial request is a small localized patch or requires full regeneration of the document.
Respond with a single JSON object and nothing else:
{
  "scale": "patch" or "regenerate",
  "estimated_change_percent": integer 0-100,
  "reasoning": one sentence
}`

// ResolveScale runs the rule engine and, when it comes back unclear, asks
// the model. If that secondary call fails, the safe default is "patch",
// the less destructive choice.
func (d *ScaleDetector) ResolveScale(ctx context.Context, intent Intent, content string) ScaleDecision {
	scale := d.DetectScale(intent, content)
	if scale != ScaleUnclear {
		d.logger.Debug("scale resolved by rules",
			"scale", scale,
			"action", intent.Action,
			"scope", intent.Scope)
		return ScaleDecision{Scale: scale, Reasoning: "rule engine"}
	}

	decision, err := d.askModelForScale(ctx, intent, content)
	if err != nil {
		d.logger.Warn("scale judgment call failed, defaulting to patch",
			"error", err)
		return ScaleDecision{Scale: ScalePatch, Reasoning: "fallback after model error"}
	}

	d.logger.Info("scale resolved by model",
		"scale", decision.Scale,
		"estimated_change_percent", decision.ChangePercent)
	return decision
}

func (d *ScaleDetector) askModelForScale(ctx context.Context, intent Intent, content string) (ScaleDecision, error) {
	preview := content
	if wordCount(preview) > 500 {
		preview = truncateWords(preview, 500)
	}

	user := fmt.Sprintf("Feedback: %s\nTarget: %s (scope %s, action %s)\n\nCurrent content:\n%s",
		intent.OriginalFeedback, intent.TargetType, intent.Scope, intent.Action, preview)

	resp, err := d.agent.Complete(ctx, core.CompletionRequest{
		Messages: []core.Message{
			{Role: "system", Content: scaleSystemPrompt},
			{Role: "user", Content: user},
		},
		Temperature:       0.1,
		MinResponseTokens: 150,
	})
	if err != nil {
		return ScaleDecision{}, err
	}

	var parsed struct {
		Scale         string `json:"scale"`
		ChangePercent int    `json:"estimated_change_percent"`
		Reasoning     string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(book.StripFences(resp.Text)), &parsed); err != nil {
		return ScaleDecision{}, fmt.Errorf("parsing scale judgment: %w", err)
	}

	scale := strings.ToLower(strings.TrimSpace(parsed.Scale))
	if scale != ScalePatch && scale != ScaleRegenerate {
		return ScaleDecision{}, fmt.Errorf("scale judgment returned %q", parsed.Scale)
	}

	return ScaleDecision{
		Scale:         scale,
		ChangePercent: parsed.ChangePercent,
		Reasoning:     parsed.Reasoning,
		FromModel:     true,
	}, nil
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

// truncateWords keeps roughly the first 60% and last 40% of the word
// budget, preserving both framing and resolution while bounding cost.
func truncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	head := maxWords * 6 / 10
	tail := maxWords - head
	return strings.Join(words[:head], " ") +
		"\n\n[... middle omitted ...]\n\n" +
		strings.Join(words[len(words)-tail:], " ")
}
