package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/vampirenirmal/bookforge/internal/agent"
	"github.com/vampirenirmal/bookforge/internal/book"
	"github.com/vampirenirmal/bookforge/internal/config"
	"github.com/vampirenirmal/bookforge/internal/core"
	"github.com/vampirenirmal/bookforge/internal/lod"
)

const (
	defaultChapterCount = 24
	// tokensPerChapter is the rough generation cost of one outline entry,
	// used to size batches to the model's output capacity.
	tokensPerChapter = 700
	// defaultChapterWords is the fallback per-chapter prose target when
	// the foundation metadata carries no book-level target.
	defaultChapterWords = 2500
)

// BatchRange is one contiguous span of chapter numbers generated in a
// single request.
type BatchRange struct {
	From int
	To   int
}

// PlanBatches sizes chapter batches by the model's max-output-token
// capacity: larger batches for larger-output models, capped by policy.
func PlanBatches(chapterCount, maxOutputTokens, maxPerBatch int) []BatchRange {
	perBatch := maxOutputTokens / tokensPerChapter
	if perBatch < 1 {
		perBatch = 1
	}
	if perBatch > maxPerBatch {
		perBatch = maxPerBatch
	}

	var batches []BatchRange
	for from := 1; from <= chapterCount; from += perBatch {
		to := from + perBatch - 1
		if to > chapterCount {
			to = chapterCount
		}
		batches = append(batches, BatchRange{From: from, To: to})
	}
	return batches
}

// actFor places a chapter in a three-act shape: the first quarter is act
// one, the final quarter act three.
func actFor(number, total int) string {
	switch {
	case number*4 <= total:
		return "1"
	case (total-number)*4 < total:
		return "3"
	default:
		return "2"
	}
}

func wordTargetFor(act string, base int) int {
	switch act {
	case "2":
		return base * 11 / 10
	case "3":
		return base * 19 / 20
	default:
		return base
	}
}

func sceneTargetFor(act string) int {
	if act == "2" {
		return 4
	}
	return 3
}

// OutlineGenerator runs the multi-phase chapter-outline state machine:
// foundation → batch_1 → … → batch_k → assembly, with per-batch retry,
// durable checkpoints, and the truncation-resume protocol.
type OutlineGenerator struct {
	agent     core.Agent
	project   *book.Project
	extractor *lod.Extractor
	states    *StateManager
	policy    config.Policy
	model     string
	logger    *slog.Logger
}

func NewOutlineGenerator(agentClient core.Agent, project *book.Project, extractor *lod.Extractor, states *StateManager, policy config.Policy) *OutlineGenerator {
	model := ""
	if c, ok := agentClient.(*agent.Client); ok {
		model = c.Model()
	}
	return &OutlineGenerator{
		agent:     agentClient,
		project:   project,
		extractor: extractor,
		states:    states,
		policy:    policy,
		model:     model,
		logger:    slog.Default().With("component", "outline_generator"),
	}
}

// Generate produces and persists a complete outline through the batched
// state machine. Small books plan into a single batch, so they still cost
// only one request on the happy path.
func (g *OutlineGenerator) Generate(ctx context.Context, chapterCount int, guidance string) (lod.SaveResult, error) {
	outline, err := g.GenerateOutline(ctx, chapterCount, guidance, 0.8)
	if err != nil {
		return lod.SaveResult{}, err
	}
	result, err := g.commit(ctx, outline)
	if err != nil {
		return result, err
	}
	if cerr := g.states.Clear(ctx); cerr != nil {
		g.logger.Warn("clearing generation state failed", "error", cerr)
	}
	return result, nil
}

// Resume continues an interrupted outline run from its last durable
// checkpoint. Completed batches replay from the saved chapters, so a
// crash costs at most the batch that was in flight.
func (g *OutlineGenerator) Resume(ctx context.Context) (lod.SaveResult, error) {
	if !g.states.Exists(ctx) {
		return lod.SaveResult{}, fmt.Errorf("no interrupted outline run to resume")
	}
	state, err := g.states.Load(ctx)
	if err != nil {
		return lod.SaveResult{}, err
	}
	if state.Phase != PhasePlan || state.Foundation == nil {
		return lod.SaveResult{}, fmt.Errorf("saved session %s is in phase %s, not a resumable outline run", state.SessionID, state.Phase)
	}

	g.logger.Info("resuming outline run",
		"session_id", state.SessionID,
		"batches_completed", state.BatchesCompleted,
		"chapters_generated", state.ChaptersGenerated)

	foundation := state.Foundation
	chapters, err := g.GenerateChapters(ctx, foundation, state.ChaptersPlanned, state.Guidance, state.Temperature, state)
	if err != nil {
		return lod.SaveResult{}, err
	}

	outline := &book.Outline{
		Metadata:   foundation.Metadata,
		Characters: foundation.Characters,
		World:      foundation.World,
		Chapters:   chapters,
	}
	if err := outline.Validate(); err != nil {
		return lod.SaveResult{}, err
	}

	result, err := g.commit(ctx, outline)
	if err != nil {
		return result, err
	}
	if cerr := g.states.Clear(ctx); cerr != nil {
		g.logger.Warn("clearing generation state failed", "error", cerr)
	}
	return result, nil
}

// GenerateOutline builds an outline in memory without persisting it. Used
// directly by variant generation, which commits only the judged winner.
func (g *OutlineGenerator) GenerateOutline(ctx context.Context, chapterCount int, guidance string, temperature float64) (*book.Outline, error) {
	state := &GenerationState{
		SessionID:       uuid.NewString(),
		Phase:           PhasePlan,
		ChaptersPlanned: chapterCount,
		Guidance:        guidance,
		Temperature:     temperature,
	}
	if err := g.states.Save(ctx, state); err != nil {
		return nil, err
	}

	foundation, err := g.generateFoundation(ctx, chapterCount, guidance)
	if err != nil {
		return nil, err
	}
	state.Foundation = foundation
	if err := g.states.Save(ctx, state); err != nil {
		return nil, err
	}

	chapters, err := g.GenerateChapters(ctx, foundation, chapterCount, guidance, temperature, state)
	if err != nil {
		return nil, err
	}

	outline := &book.Outline{
		Metadata:   foundation.Metadata,
		Characters: foundation.Characters,
		World:      foundation.World,
		Chapters:   chapters,
	}
	if err := outline.Validate(); err != nil {
		return nil, err
	}

	state.Phase = PhaseComplete
	state.ChaptersGenerated = len(chapters)
	if err := g.states.Save(ctx, state); err != nil {
		return nil, err
	}

	return outline, nil
}

func (g *OutlineGenerator) commit(ctx context.Context, outline *book.Outline) (lod.SaveResult, error) {
	data, err := book.EncodeOutline(outline)
	if err != nil {
		return lod.SaveResult{}, err
	}
	return g.extractor.ParseAndSave(ctx, string(data), lod.LevelOutline, false)
}

const foundationSystemPrompt = `You are a story architect. Produce the foundation of a chapter outline: book metadata, the full character roster, and the world.
Respond in YAML with exactly these top-level keys:
metadata:
  genre: <genre>
  tone: <tone>
  pacing: <pacing>
  themes: [<theme>, ...]
  target_word_count: <total words for the book>
  chapter_count: <number of chapters>
characters:
  - name: ...
    role: ...
    background: ...
    motivation: ...
    character_arc: ...
    personality_traits: [...]
    internal_conflict: ...
    relationships: [...]
world:
  setting_overview: ...
  key_locations: [...]
  systems_and_rules: [...]
  social_context: [...]`

// generateFoundation runs the foundation phase. It is generated once per
// run and never regenerated mid-run.
func (g *OutlineGenerator) generateFoundation(ctx context.Context, chapterCount int, guidance string) (*book.Foundation, error) {
	premise, err := g.project.LoadPremise(ctx)
	if err != nil {
		return nil, fmt.Errorf("foundation needs a premise: %w", err)
	}
	treatment, err := g.project.LoadTreatment(ctx)
	if err != nil {
		return nil, fmt.Errorf("foundation needs a treatment: %w", err)
	}

	user := fmt.Sprintf("Premise:\n%s\n\nTreatment:\n%s\n\nTarget chapter count: %d\n\nGuidance:\n%s",
		premise.Text, treatment.Text, chapterCount, guidance)

	resp, err := g.agent.Complete(ctx, core.CompletionRequest{
		Messages: []core.Message{
			{Role: "system", Content: foundationSystemPrompt},
			{Role: "user", Content: user},
		},
		Temperature:       0.7,
		MinResponseTokens: 2000,
	})
	if err != nil {
		return nil, &core.PhaseError{Phase: "foundation", Attempt: 1, Cause: err}
	}

	foundation, err := book.DecodeFoundation([]byte(book.StripFences(resp.Text)))
	if err != nil {
		return nil, &core.PhaseError{Phase: "foundation", Attempt: 1, Cause: err}
	}
	foundation.Metadata.ChapterCount = chapterCount
	if foundation.Metadata.TargetWordCount == 0 {
		foundation.Metadata.TargetWordCount = chapterCount * defaultChapterWords
	}

	g.logger.Info("foundation generated",
		"character_count", len(foundation.Characters),
		"genre", foundation.Metadata.Genre)

	return foundation, nil
}

// GenerateChapters runs the batched chapter phases sequentially: batch n
// depends on compressed summaries of batches 1..n-1, so there is no
// parallelism across batches. Each batch is retried once before the run
// fails, and progress is checkpointed after every batch.
func (g *OutlineGenerator) GenerateChapters(ctx context.Context, foundation *book.Foundation, chapterCount int, guidance string, temperature float64, state *GenerationState) ([]book.Chapter, error) {
	profile := agent.ProfileFor(g.model)
	batches := PlanBatches(chapterCount, profile.MaxOutputTokens, g.policy.MaxChaptersPerBatch)

	g.logger.Info("chapter generation planned",
		"chapter_count", chapterCount,
		"batch_count", len(batches),
		"max_output_tokens", profile.MaxOutputTokens)

	var chapters []book.Chapter
	start := 0
	if state != nil && state.BatchesCompleted > 0 {
		// A resumed run replays completed batches from the checkpoint.
		start = state.BatchesCompleted
		chapters = append(chapters, state.Chapters...)
	}
	for i := start; i < len(batches); i++ {
		batch := batches[i]
		batchChapters, err := g.generateBatch(ctx, foundation, chapters, batch, guidance, temperature)
		if err != nil {
			return nil, &core.PhaseError{
				Phase:   fmt.Sprintf("batch_%d", i+1),
				Attempt: g.policy.BatchRetries + 1,
				Cause:   err,
			}
		}
		chapters = append(chapters, batchChapters...)

		if err := book.ValidateNumbering(chapters); err != nil {
			return nil, err
		}

		if state != nil {
			state.BatchesCompleted = i + 1
			state.ChaptersGenerated = len(chapters)
			state.Chapters = chapters
			if err := g.states.Save(ctx, state); err != nil {
				return nil, err
			}
		}

		g.logger.Info("batch completed",
			"batch", i+1,
			"batches_total", len(batches),
			"chapters_so_far", len(chapters))
	}

	return chapters, nil
}

// generateBatch requests one chapter range, retrying once on failure. A
// truncated response goes through batch-scoped salvage before the retry
// burns the whole batch.
func (g *OutlineGenerator) generateBatch(ctx context.Context, foundation *book.Foundation, prior []book.Chapter, batch BatchRange, guidance string, temperature float64) ([]book.Chapter, error) {
	var lastErr error
	for attempt := 0; attempt <= g.policy.BatchRetries; attempt++ {
		resp, err := g.requestChapterRange(ctx, foundation, prior, batch, guidance, temperature)
		if err != nil {
			lastErr = err
			g.logger.Warn("batch request failed",
				"from", batch.From, "to", batch.To,
				"attempt", attempt, "error", err)
			continue
		}

		chapters, err := parseChapterList(resp.Text)
		if err == nil && resp.FinishReason == "length" && len(chapters) < batch.To-batch.From+1 {
			err = &core.TruncationError{FinishReason: resp.FinishReason, Cause: fmt.Errorf("batch cut short at %d of %d chapters", len(chapters), batch.To-batch.From+1)}
		}
		if err != nil {
			if core.IsTruncation(err) || resp.FinishReason == "length" {
				salvaged, serr := g.resumeBatch(ctx, resp.Text, foundation, prior, batch, guidance, temperature)
				if serr == nil {
					return salvaged, nil
				}
				g.logger.Warn("batch salvage failed",
					"from", batch.From, "to", batch.To, "error", serr)
			}
			lastErr = err
			continue
		}

		if err := validateBatch(chapters, batch); err != nil {
			lastErr = err
			g.logger.Warn("batch validation failed",
				"from", batch.From, "to", batch.To,
				"attempt", attempt, "error", err)
			continue
		}
		return chapters, nil
	}
	return nil, lastErr
}

const chaptersSystemPrompt = `You are a story architect. Continue the chapter outline for the book described below.
Respond in YAML with a single top-level key "chapters" holding a list of chapter entries:
chapters:
  - number: <n>
    title: ...
    pov: ...
    act: ...
    summary: ...
    scenes: [<scene description>, ...]
    character_developments: [...]
    relationship_beats: [...]
    tension_points: [...]
    sensory_details: [...]
    subplot_threads: [...]
    word_count_target: <n>
Produce ONLY the requested chapter numbers, in order, nothing else.`

func (g *OutlineGenerator) requestChapterRange(ctx context.Context, foundation *book.Foundation, prior []book.Chapter, batch BatchRange, guidance string, temperature float64) (core.CompletionResponse, error) {
	foundationYAML, err := book.EncodeFoundation(foundation)
	if err != nil {
		return core.CompletionResponse{}, err
	}

	var sb strings.Builder
	sb.WriteString("## FOUNDATION\n\n")
	sb.Write(foundationYAML)

	if len(prior) > 0 {
		sb.WriteString("\n## CHAPTERS SO FAR (compressed)\n\n")
		for _, s := range book.Summaries(prior) {
			fmt.Fprintf(&sb, "%d. %s — %s\n", s.Number, s.Title, s.Summary)
		}
	}

	total := foundation.Metadata.ChapterCount
	baseWords := defaultChapterWords
	if total > 0 && foundation.Metadata.TargetWordCount > 0 {
		baseWords = foundation.Metadata.TargetWordCount / total
	}

	sb.WriteString("\n## REQUESTED CHAPTERS\n\n")
	for n := batch.From; n <= batch.To; n++ {
		act := actFor(n, total)
		fmt.Fprintf(&sb, "Chapter %d: act %s, target %d words, %d scenes\n",
			n, act, wordTargetFor(act, baseWords), sceneTargetFor(act))
	}

	if guidance != "" {
		sb.WriteString("\n## GUIDANCE\n\n")
		sb.WriteString(guidance)
	}

	needed := (batch.To - batch.From + 1) * tokensPerChapter
	return g.agent.Complete(ctx, core.CompletionRequest{
		Messages: []core.Message{
			{Role: "system", Content: chaptersSystemPrompt},
			{Role: "user", Content: sb.String()},
		},
		Temperature:       temperature,
		MinResponseTokens: needed,
	})
}

type chapterListDoc struct {
	Chapters []book.Chapter `yaml:"chapters"`
}

// parseChapterList decodes a batch response: strict parse, then sanitize,
// then the unterminated-string repair.
func parseChapterList(raw string) ([]book.Chapter, error) {
	cleaned := book.StripFences(raw)

	var doc chapterListDoc
	err := yaml.Unmarshal([]byte(cleaned), &doc)
	if err == nil && len(doc.Chapters) > 0 {
		return doc.Chapters, nil
	}

	if repaired, ok := lod.RepairUnterminatedString(cleaned); ok {
		var rdoc chapterListDoc
		if rerr := yaml.Unmarshal([]byte(repaired), &rdoc); rerr == nil && len(rdoc.Chapters) > 0 {
			return rdoc.Chapters, nil
		}
	}

	if err != nil {
		return nil, fmt.Errorf("parsing chapter batch: %w", err)
	}
	return nil, errors.New("chapter batch response contained no chapters")
}

func validateBatch(chapters []book.Chapter, batch BatchRange) error {
	want := batch.To - batch.From + 1
	if len(chapters) != want {
		return fmt.Errorf("batch returned %d chapters, want %d (%d..%d)", len(chapters), want, batch.From, batch.To)
	}
	for i, ch := range chapters {
		if ch.Number != batch.From+i {
			return fmt.Errorf("batch chapter at index %d numbered %d, want %d", i, ch.Number, batch.From+i)
		}
		if field := ch.MissingField(); field != "" {
			return fmt.Errorf("batch chapter %d missing required field %q", ch.Number, field)
		}
	}
	return nil
}
