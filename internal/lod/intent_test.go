package lod

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vampirenirmal/bookforge/internal/agent"
	"github.com/vampirenirmal/bookforge/internal/core"
)

const validIntentJSON = `{
  "intent_type": "modify",
  "confidence": 0.92,
  "target_type": "chapter",
  "target_id": 3,
  "scope": "specific",
  "action": "add_dialogue",
  "description": "Add a short exchange in chapter 3.",
  "scale": "patch",
  "reasoning": "Localized request naming one chapter."
}`

func TestAnalyzeValidResponse(t *testing.T) {
	scripted := agent.NewScriptedClient().Enqueue(validIntentJSON)
	analyzer := NewIntentAnalyzer(scripted)

	intent, err := analyzer.Analyze(context.Background(), "add some dialogue to chapter 3", "outline: 10 chapters")
	require.NoError(t, err)

	assert.Equal(t, "modify", intent.IntentType)
	assert.Equal(t, 3, intent.TargetID)
	assert.Equal(t, "patch", intent.Scale)
	assert.InDelta(t, 0.92, intent.Confidence, 1e-9)
	assert.Equal(t, "add some dialogue to chapter 3", intent.OriginalFeedback)
}

func TestAnalyzeNormalizesCase(t *testing.T) {
	scripted := agent.NewScriptedClient().Enqueue(`{
	  "intent_type": "Modify",
	  "confidence": 0.9,
	  "target_type": "CHAPTER",
	  "target_id": 1,
	  "scope": "Specific",
	  "action": "Add_Dialogue",
	  "description": "d",
	  "scale": "Patch",
	  "reasoning": "r"
	}`)
	analyzer := NewIntentAnalyzer(scripted)

	intent, err := analyzer.Analyze(context.Background(), "feedback", "")
	require.NoError(t, err)
	assert.Equal(t, "modify", intent.IntentType)
	assert.Equal(t, "chapter", intent.TargetType)
	assert.Equal(t, "patch", intent.Scale)
}

func TestAnalyzeRejectsBadResponses(t *testing.T) {
	tests := []struct {
		name     string
		response string
		field    string
	}{
		{
			name:     "not json",
			response: "I think you want to modify chapter three.",
			field:    "response",
		},
		{
			name: "unknown intent type",
			response: `{"intent_type": "tweak", "confidence": 0.9, "target_type": "chapter",
			  "scope": "specific", "action": "add_dialogue", "scale": "patch"}`,
			field: "intenttype",
		},
		{
			name: "unknown scale",
			response: `{"intent_type": "modify", "confidence": 0.9, "target_type": "chapter",
			  "scope": "specific", "action": "add_dialogue", "scale": "medium"}`,
			field: "scale",
		},
		{
			name: "confidence out of range",
			response: `{"intent_type": "modify", "confidence": 1.4, "target_type": "chapter",
			  "scope": "specific", "action": "add_dialogue", "scale": "patch"}`,
			field: "confidence",
		},
		{
			name: "missing confidence",
			response: `{"intent_type": "modify", "target_type": "chapter",
			  "scope": "specific", "action": "add_dialogue", "scale": "patch"}`,
			field: "confidence",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scripted := agent.NewScriptedClient().Enqueue(tt.response)
			analyzer := NewIntentAnalyzer(scripted)

			_, err := analyzer.Analyze(context.Background(), "feedback", "")
			require.Error(t, err)

			var ve *core.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestAnalyzeStripsFences(t *testing.T) {
	scripted := agent.NewScriptedClient().Enqueue("```json\n" + validIntentJSON + "\n```")
	analyzer := NewIntentAnalyzer(scripted)

	intent, err := analyzer.Analyze(context.Background(), "feedback", "")
	require.NoError(t, err)
	assert.Equal(t, "modify", intent.IntentType)
}
