package generate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vampirenirmal/bookforge/internal/book"
	"github.com/vampirenirmal/bookforge/internal/config"
	"github.com/vampirenirmal/bookforge/internal/core"
	"github.com/vampirenirmal/bookforge/internal/lod"
)

// Generator produces whole documents at each level, with user feedback
// passed through as generation guidance. It is the "regenerate" dispatch
// target of the iteration coordinator.
type Generator struct {
	agent     core.Agent
	project   *book.Project
	contexts  *lod.ContextBuilder
	extractor *lod.Extractor
	outlines  *OutlineGenerator
	states    *StateManager
	policy    config.Policy
	logger    *slog.Logger
}

func NewGenerator(agent core.Agent, project *book.Project, contexts *lod.ContextBuilder, extractor *lod.Extractor, policy config.Policy) *Generator {
	states := NewStateManager(project.Store())
	return &Generator{
		agent:     agent,
		project:   project,
		contexts:  contexts,
		extractor: extractor,
		outlines:  NewOutlineGenerator(agent, project, extractor, states, policy),
		states:    states,
		policy:    policy,
		logger:    slog.Default().With("component", "generator"),
	}
}

// Outlines exposes the multi-phase outline generator for callers that need
// variants or resume directly.
func (g *Generator) Outlines() *OutlineGenerator { return g.outlines }

const premiseSystemPrompt = `You are a story development assistant. Write a compelling one-to-two paragraph book premise.
Respond in YAML with exactly two top-level keys:
premise: |
  <the premise text>
metadata:
  genre: <genre>
  themes: [<theme>, ...]
  hook: <one-sentence hook>`

// RegeneratePremise produces a fresh premise. Guidance is the user's
// original feedback; an existing premise is supplied as reference so the
// regeneration stays anchored.
func (g *Generator) RegeneratePremise(ctx context.Context, guidance string) (lod.SaveResult, error) {
	var reference string
	if g.project.HasPremise(ctx) {
		bundle, err := g.contexts.Build(ctx, lod.LevelPremise, false)
		if err != nil {
			return lod.SaveResult{}, err
		}
		reference = bundle
	}

	user := fmt.Sprintf("Current state:\n%s\n\nGuidance:\n%s\n\nWrite the new premise.", reference, guidance)

	resp, err := g.agent.Complete(ctx, core.CompletionRequest{
		Messages: []core.Message{
			{Role: "system", Content: premiseSystemPrompt},
			{Role: "user", Content: user},
		},
		Temperature:       0.8,
		MinResponseTokens: 600,
	})
	if err != nil {
		return lod.SaveResult{}, fmt.Errorf("premise generation call: %w", err)
	}

	g.logger.Info("premise regenerated", "response_length", len(resp.Text))
	return g.extractor.ParseAndSave(ctx, resp.Text, lod.LevelPremise, false)
}

const treatmentSystemPrompt = `You are a story development assistant. Expand the premise into a treatment: a 600-1200 word prose summary of the whole story, beginning to end, covering the main characters, the central conflict, and how it resolves.
Respond with the treatment text only.`

// RegenerateTreatment produces a fresh treatment from the premise.
func (g *Generator) RegenerateTreatment(ctx context.Context, guidance string) (lod.SaveResult, error) {
	bundle, err := g.contexts.Build(ctx, lod.LevelTreatment, false)
	if err != nil {
		return lod.SaveResult{}, err
	}

	user := fmt.Sprintf("%s\n\nGuidance:\n%s\n\nWrite the treatment.", bundle, guidance)

	resp, err := g.agent.Complete(ctx, core.CompletionRequest{
		Messages: []core.Message{
			{Role: "system", Content: treatmentSystemPrompt},
			{Role: "user", Content: user},
		},
		Temperature:       0.8,
		MinResponseTokens: 1500,
	})
	if err != nil {
		return lod.SaveResult{}, fmt.Errorf("treatment generation call: %w", err)
	}

	g.logger.Info("treatment regenerated", "response_length", len(resp.Text))
	return g.extractor.ParseAndSave(ctx, resp.Text, lod.LevelTreatment, false)
}

// RegenerateOutline rebuilds the chapter outline via the multi-phase
// generator, keeping the chapter count of the existing outline when one
// exists.
func (g *Generator) RegenerateOutline(ctx context.Context, guidance string) (lod.SaveResult, error) {
	chapterCount := 0
	if g.project.HasOutline(ctx) {
		outline, err := g.project.LoadOutline(ctx)
		if err != nil {
			return lod.SaveResult{}, err
		}
		chapterCount = len(outline.Chapters)
	}
	if chapterCount == 0 {
		chapterCount = defaultChapterCount
	}
	return g.outlines.Generate(ctx, chapterCount, guidance)
}

const proseSystemPrompt = `You are a novelist. Write the full prose for the requested chapter, following its outline entry exactly: hit every scene, every character development, and every tension point, at approximately the target word count.
Respond with the chapter prose only, no headers and no commentary.`

// RegenerateChapter rewrites one chapter's prose from its outline entry.
func (g *Generator) RegenerateChapter(ctx context.Context, number int, guidance string) (lod.SaveResult, error) {
	chapterContext, err := g.contexts.BuildChapterContext(ctx, number)
	if err != nil {
		return lod.SaveResult{}, err
	}

	user := fmt.Sprintf("%s\n\nGuidance:\n%s\n\nWrite chapter %d.", chapterContext, guidance, number)

	resp, err := g.agent.Complete(ctx, core.CompletionRequest{
		Messages: []core.Message{
			{Role: "system", Content: proseSystemPrompt},
			{Role: "user", Content: user},
		},
		Temperature:       0.9,
		MinResponseTokens: 3000,
	})
	if err != nil {
		return lod.SaveResult{}, fmt.Errorf("prose generation call for chapter %d: %w", number, err)
	}

	if err := g.project.SaveProse(ctx, number, resp.Text); err != nil {
		return lod.SaveResult{}, err
	}

	g.logger.Info("chapter prose regenerated",
		"chapter", number,
		"response_length", len(resp.Text))

	return lod.SaveResult{
		UpdatedFiles: []string{book.ProsePath(number)},
		Changes:      []string{fmt.Sprintf("chapter %d prose regenerated", number)},
	}, nil
}
