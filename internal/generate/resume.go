package generate

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	agentpkg "github.com/vampirenirmal/bookforge/internal/agent"
	"github.com/vampirenirmal/bookforge/internal/book"
	"github.com/vampirenirmal/bookforge/internal/core"
	"github.com/vampirenirmal/bookforge/internal/lod"
)

// Salvage is what could be recovered from a truncated or unparsable
// outline response.
type Salvage struct {
	// Chapters is the longest sequential prefix of structurally complete
	// chapters recovered from the partial output.
	Chapters []book.Chapter
	// LastComplete is the number of the final chapter in that prefix, or
	// zero when nothing usable was recovered.
	LastComplete int
	// MarkerCount is the pattern-matched chapter-start estimate, available
	// even when no chapters parsed.
	MarkerCount int
	// Layer names the recovery layer that produced the chapters:
	// "strict", "repaired", or "markers".
	Layer string
}

// SalvageChapters recovers as many structurally complete chapters as
// possible from a raw outline or chapter-batch response. Recovery is
// layered: strict parse, then the unterminated-string repair, then
// chopping the text at the last chapter-start marker and re-parsing.
func SalvageChapters(raw string) (Salvage, error) {
	cleaned := book.StripFences(raw)
	salvage := Salvage{MarkerCount: lod.CountChapterMarkers(cleaned)}

	tryParse := func(text string) []book.Chapter {
		var doc chapterListDoc
		if err := yaml.Unmarshal([]byte(text), &doc); err == nil && len(doc.Chapters) > 0 {
			return doc.Chapters
		}
		var outline book.Outline
		if err := yaml.Unmarshal([]byte(text), &outline); err == nil && len(outline.Chapters) > 0 {
			return outline.Chapters
		}
		return nil
	}

	if chapters := tryParse(cleaned); chapters != nil {
		salvage.Layer = "strict"
		salvage.Chapters, salvage.LastComplete = completePrefix(chapters)
		return salvage, nil
	}

	if repaired, ok := lod.RepairUnterminatedString(cleaned); ok {
		if chapters := tryParse(repaired); chapters != nil {
			salvage.Layer = "repaired"
			salvage.Chapters, salvage.LastComplete = completePrefix(chapters)
			return salvage, nil
		}
	}

	// Last resort: cut the document at the final chapter-start marker (the
	// one most likely mid-generation) and parse what precedes it.
	if locs := chapterMarkerIndexes(cleaned); len(locs) > 1 {
		chopped := cleaned[:locs[len(locs)-1]]
		candidate := chopped
		if repaired, ok := lod.RepairUnterminatedString(chopped); ok {
			candidate = repaired
		}
		if chapters := tryParse(candidate); chapters != nil {
			salvage.Layer = "markers"
			salvage.Chapters, salvage.LastComplete = completePrefix(chapters)
			return salvage, nil
		}
	}

	return salvage, &core.TruncationError{
		FinishReason: "unknown",
		Cause:        fmt.Errorf("no structurally complete chapters recoverable (%d chapter markers seen)", salvage.MarkerCount),
	}
}

func chapterMarkerIndexes(s string) []int {
	var locs []int
	offset := 0
	for {
		idx := strings.Index(s[offset:], "- number:")
		if idx < 0 {
			break
		}
		locs = append(locs, offset+idx)
		offset += idx + 1
	}
	return locs
}

// completePrefix cuts a chapter list down to the longest sequential prefix
// of structurally complete chapters, starting from whatever number the
// list opens with. A complete-looking chapter after a gap or after an
// incomplete one does not count.
func completePrefix(chapters []book.Chapter) ([]book.Chapter, int) {
	if len(chapters) == 0 {
		return nil, 0
	}
	start := chapters[0].Number
	if start <= 0 {
		return nil, 0
	}
	last := 0
	for i, ch := range chapters {
		if ch.Number != start+i || !ch.Complete() {
			break
		}
		last = ch.Number
	}
	if last == 0 {
		return nil, 0
	}
	return chapters[:last-start+1], last
}

// ResumeOutline implements the truncation-resume protocol for a full
// outline generation: salvage the partial, request only the remaining
// chapters, and merge under strict numbering validation. Only one resume
// attempt is allowed; a second truncation is a hard failure.
func (g *OutlineGenerator) ResumeOutline(ctx context.Context, raw string, foundation *book.Foundation, expectedTotal int, guidance string, temperature float64) ([]book.Chapter, error) {
	salvage, err := SalvageChapters(raw)
	if err != nil {
		return nil, err
	}
	if salvage.LastComplete == 0 {
		return nil, &core.TruncationError{
			FinishReason: "unknown",
			Cause:        fmt.Errorf("no complete chapters in partial output"),
		}
	}
	if salvage.Chapters[0].Number != 1 {
		return nil, &core.ValidationError{
			Component: "resume",
			Field:     "chapters",
			Message:   fmt.Sprintf("partial output starts at chapter %d, want 1", salvage.Chapters[0].Number),
			Value:     salvage.Chapters[0].Number,
		}
	}
	if salvage.LastComplete >= expectedTotal {
		return salvage.Chapters[:expectedTotal], nil
	}

	g.logger.Info("resuming truncated outline",
		"last_complete", salvage.LastComplete,
		"expected_total", expectedTotal,
		"salvage_layer", salvage.Layer)

	remaining := BatchRange{From: salvage.LastComplete + 1, To: expectedTotal}
	resp, err := g.requestContinuation(ctx, foundation, salvage.Chapters, remaining, guidance, temperature)
	if err != nil {
		return nil, err
	}

	continuation, err := parseChapterList(resp.Text)
	if err != nil || resp.FinishReason == "length" {
		// Single-resume policy: a second truncation is a hard failure.
		cause := err
		if cause == nil {
			cause = fmt.Errorf("continuation truncated at finish_reason=length")
		}
		return nil, fmt.Errorf("%w: %v", core.ErrResumeExhausted, cause)
	}

	merged := append(append([]book.Chapter{}, salvage.Chapters...), continuation...)
	if err := book.ValidateNumbering(merged); err != nil {
		return nil, err
	}
	if len(merged) != expectedTotal {
		return nil, &core.ValidationError{
			Component: "resume",
			Field:     "chapters",
			Message:   fmt.Sprintf("merged result has %d chapters, want %d", len(merged), expectedTotal),
			Value:     len(merged),
		}
	}
	for _, ch := range merged {
		if field := ch.MissingField(); field != "" {
			return nil, &core.ValidationError{
				Component: "resume",
				Field:     fmt.Sprintf("chapters[%d].%s", ch.Number, field),
				Message:   "required field missing after merge",
			}
		}
	}

	g.logger.Info("outline resume merged",
		"salvaged", salvage.LastComplete,
		"continued", len(continuation),
		"total", len(merged))

	return merged, nil
}

// requestContinuation issues the smaller second request for the remaining
// chapters, failing fast if the combined token cost no longer fits the
// model's context window.
func (g *OutlineGenerator) requestContinuation(ctx context.Context, foundation *book.Foundation, partial []book.Chapter, remaining BatchRange, guidance string, temperature float64) (core.CompletionResponse, error) {
	foundationYAML, err := book.EncodeFoundation(foundation)
	if err != nil {
		return core.CompletionResponse{}, err
	}

	var sb strings.Builder
	sb.WriteString("## FOUNDATION\n\n")
	sb.Write(foundationYAML)
	sb.WriteString("\n## CHAPTERS ALREADY WRITTEN (compressed)\n\n")
	for _, s := range book.Summaries(partial) {
		fmt.Fprintf(&sb, "%d. %s — %s\n", s.Number, s.Title, s.Summary)
	}
	fmt.Fprintf(&sb, "\n## CONTINUE\n\nProduce ONLY chapters %d through %d, continuing seamlessly.\n", remaining.From, remaining.To)
	if guidance != "" {
		sb.WriteString("\n## GUIDANCE\n\n")
		sb.WriteString(guidance)
	}

	needed := (remaining.To - remaining.From + 1) * tokensPerChapter
	messages := []core.Message{
		{Role: "system", Content: chaptersSystemPrompt},
		{Role: "user", Content: sb.String()},
	}

	// Explicit budget check before the request: partial + continuation
	// must still fit the window.
	profile := agentpkg.ProfileFor(g.model)
	promptTokens := agentpkg.EstimateMessages(messages)
	if _, err := agentpkg.MaxTokenBudget(g.model, profile, promptTokens, needed); err != nil {
		return core.CompletionResponse{}, err
	}

	return g.agent.Complete(ctx, core.CompletionRequest{
		Messages:          messages,
		Temperature:       temperature,
		MinResponseTokens: needed,
	})
}

// resumeBatch applies the same salvage-then-continue protocol to a single
// truncated batch, with expectations re-anchored to the batch range.
func (g *OutlineGenerator) resumeBatch(ctx context.Context, raw string, foundation *book.Foundation, prior []book.Chapter, batch BatchRange, guidance string, temperature float64) ([]book.Chapter, error) {
	salvage, err := SalvageChapters(raw)
	if err != nil {
		return nil, err
	}
	if salvage.LastComplete == 0 || salvage.Chapters[0].Number != batch.From {
		return nil, &core.TruncationError{
			FinishReason: "unknown",
			Cause:        fmt.Errorf("no complete chapters in truncated batch %d..%d", batch.From, batch.To),
		}
	}
	if salvage.LastComplete >= batch.To {
		return salvage.Chapters[:batch.To-batch.From+1], nil
	}

	g.logger.Info("resuming truncated batch",
		"batch_from", batch.From,
		"batch_to", batch.To,
		"last_complete", salvage.LastComplete)

	remaining := BatchRange{From: salvage.LastComplete + 1, To: batch.To}
	withPrior := append(append([]book.Chapter{}, prior...), salvage.Chapters...)
	resp, err := g.requestContinuation(ctx, foundation, withPrior, remaining, guidance, temperature)
	if err != nil {
		return nil, err
	}

	continuation, err := parseChapterList(resp.Text)
	if err != nil || resp.FinishReason == "length" {
		cause := err
		if cause == nil {
			cause = fmt.Errorf("continuation truncated at finish_reason=length")
		}
		return nil, fmt.Errorf("%w: %v", core.ErrResumeExhausted, cause)
	}

	merged := append(append([]book.Chapter{}, salvage.Chapters...), continuation...)
	if err := validateBatch(merged, batch); err != nil {
		return nil, err
	}
	return merged, nil
}
