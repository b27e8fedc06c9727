package lod

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/vampirenirmal/bookforge/internal/book"
	"github.com/vampirenirmal/bookforge/internal/core"
)

// Intent is the structured classification of one piece of user feedback.
// The enum space is closed: routing downstream assumes every value here has
// been validated, so unrecognized values are a hard error, not a warning.
type Intent struct {
	IntentType       string  `json:"intent_type" validate:"required,oneof=modify add remove regenerate analyze clarify"`
	Confidence       float64 `json:"confidence" validate:"gte=0,lte=1"`
	TargetType       string  `json:"target_type" validate:"required,oneof=premise treatment chapter chapters prose taxonomy project"`
	TargetID         int     `json:"target_id,omitempty"`
	Scope            string  `json:"scope" validate:"required,oneof=specific section multiple entire"`
	Action           string  `json:"action" validate:"required"`
	Description      string  `json:"description"`
	Scale            string  `json:"scale" validate:"required,oneof=patch regenerate unclear"`
	Reasoning        string  `json:"reasoning"`
	OriginalFeedback string  `json:"-"`
}

// intentEnvelope mirrors Intent with a pointer confidence so a missing
// field is distinguishable from a literal zero.
type intentEnvelope struct {
	IntentType  string   `json:"intent_type"`
	Confidence  *float64 `json:"confidence"`
	TargetType  string   `json:"target_type"`
	TargetID    int      `json:"target_id"`
	Scope       string   `json:"scope"`
	Action      string   `json:"action"`
	Description string   `json:"description"`
	Scale       string   `json:"scale"`
	Reasoning   string   `json:"reasoning"`
}

// IntentAnalyzer classifies free-text feedback with a single low-temperature
// model call against a fixed schema.
type IntentAnalyzer struct {
	agent    core.Agent
	validate *validator.Validate
	logger   *slog.Logger
}

func NewIntentAnalyzer(agent core.Agent) *IntentAnalyzer {
	return &IntentAnalyzer{
		agent:    agent,
		validate: validator.New(),
		logger:   slog.Default().With("component", "intent_analyzer"),
	}
}

const intentSystemPrompt = `You classify editorial feedback about a book draft.
Respond with a single JSON object and nothing else, using exactly these fields:
{
  "intent_type": one of "modify" | "add" | "remove" | "regenerate" | "analyze" | "clarify",
  "confidence": number between 0 and 1,
  "target_type": one of "premise" | "treatment" | "chapter" | "chapters" | "prose" | "taxonomy" | "project",
  "target_id": chapter number if a single chapter is targeted, else 0,
  "scope": one of "specific" | "section" | "multiple" | "entire",
  "action": short snake_case verb phrase, e.g. "add_dialogue" or "change_genre",
  "description": one sentence restating the requested change,
  "scale": one of "patch" | "regenerate" | "unclear",
  "reasoning": one sentence justifying the classification
}`

// Analyze classifies feedback into an Intent. Missing required fields,
// out-of-range confidence, or unrecognized enum values fail with a
// ValidationError.
func (a *IntentAnalyzer) Analyze(ctx context.Context, feedback, projectContext string) (Intent, error) {
	a.logger.Debug("analyzing feedback",
		"feedback_length", len(feedback),
		"context_length", len(projectContext))

	user := fmt.Sprintf("Project state:\n%s\n\nUser feedback:\n%s", projectContext, feedback)

	resp, err := a.agent.Complete(ctx, core.CompletionRequest{
		Messages: []core.Message{
			{Role: "system", Content: intentSystemPrompt},
			{Role: "user", Content: user},
		},
		Temperature:       0.1,
		MinResponseTokens: 300,
	})
	if err != nil {
		return Intent{}, fmt.Errorf("intent classification call: %w", err)
	}

	intent, err := a.parseIntent(resp.Text)
	if err != nil {
		return Intent{}, err
	}
	intent.OriginalFeedback = feedback

	a.logger.Info("feedback classified",
		"intent_type", intent.IntentType,
		"target_type", intent.TargetType,
		"target_id", intent.TargetID,
		"scope", intent.Scope,
		"action", intent.Action,
		"scale", intent.Scale,
		"confidence", intent.Confidence)

	return intent, nil
}

func (a *IntentAnalyzer) parseIntent(raw string) (Intent, error) {
	cleaned := book.StripFences(raw)

	var env intentEnvelope
	if err := json.Unmarshal([]byte(cleaned), &env); err != nil {
		return Intent{}, &core.ValidationError{
			Component: "intent_analyzer",
			Field:     "response",
			Message:   fmt.Sprintf("not valid JSON: %v", err),
		}
	}

	if env.Confidence == nil {
		return Intent{}, &core.ValidationError{
			Component: "intent_analyzer",
			Field:     "confidence",
			Message:   "required field missing",
		}
	}

	intent := Intent{
		IntentType:  strings.ToLower(strings.TrimSpace(env.IntentType)),
		Confidence:  *env.Confidence,
		TargetType:  strings.ToLower(strings.TrimSpace(env.TargetType)),
		TargetID:    env.TargetID,
		Scope:       strings.ToLower(strings.TrimSpace(env.Scope)),
		Action:      strings.ToLower(strings.TrimSpace(env.Action)),
		Description: env.Description,
		Scale:       strings.ToLower(strings.TrimSpace(env.Scale)),
		Reasoning:   env.Reasoning,
	}

	if err := a.validate.Struct(intent); err != nil {
		var verrs validator.ValidationErrors
		if ok := isValidationErrors(err, &verrs); ok && len(verrs) > 0 {
			first := verrs[0]
			return Intent{}, &core.ValidationError{
				Component: "intent_analyzer",
				Field:     strings.ToLower(first.Field()),
				Message:   fmt.Sprintf("failed %q validation", first.Tag()),
				Value:     first.Value(),
			}
		}
		return Intent{}, &core.ValidationError{
			Component: "intent_analyzer",
			Field:     "intent",
			Message:   err.Error(),
		}
	}

	return intent, nil
}

func isValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = verrs
	}
	return ok
}
