package generate

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vampirenirmal/bookforge/internal/book"
	"github.com/vampirenirmal/bookforge/internal/core"
	"github.com/vampirenirmal/bookforge/internal/lod"
)

// variantTemperatures spreads the variants across the sampling range so
// they differ structurally, not just in phrasing.
var variantTemperatures = []float64{0.7, 0.85, 1.0, 1.15}

// Variant is one candidate outline with the settings that produced it.
type Variant struct {
	Index       int
	Temperature float64
	Outline     *book.Outline
}

// GenerateVariants produces several complete outlines concurrently from
// one shared foundation, judges them, and commits the winner. Individual
// variant failures are tolerated down to the configured floor.
func (g *OutlineGenerator) GenerateVariants(ctx context.Context, chapterCount int, guidance string) (lod.SaveResult, error) {
	foundation, err := g.generateFoundation(ctx, chapterCount, guidance)
	if err != nil {
		return lod.SaveResult{}, err
	}

	count := g.policy.VariantCount
	if count <= 0 {
		count = 1
	}
	if count > len(variantTemperatures) {
		count = len(variantTemperatures)
	}

	var (
		mu       sync.Mutex
		variants []Variant
	)
	eg, egCtx := errgroup.WithContext(ctx)
	for i := 0; i < count; i++ {
		i := i
		temp := variantTemperatures[i]
		eg.Go(func() error {
			// Variants run without durable checkpoints: the run either
			// commits a winner or nothing.
			chapters, err := g.GenerateChapters(egCtx, foundation, chapterCount, guidance, temp, nil)
			if err != nil {
				g.logger.Warn("variant failed", "variant", i, "temperature", temp, "error", err)
				return nil
			}
			outline := &book.Outline{
				Metadata:   foundation.Metadata,
				Characters: foundation.Characters,
				World:      foundation.World,
				Chapters:   chapters,
			}
			// Candidates are vetted with the same dry-run save path the
			// winner will go through, so the judged pick cannot fail at
			// commit time.
			data, err := book.EncodeOutline(outline)
			if err != nil {
				g.logger.Warn("variant invalid", "variant", i, "error", err)
				return nil
			}
			if _, err := g.extractor.ParseAndSave(egCtx, string(data), lod.LevelOutline, true); err != nil {
				g.logger.Warn("variant invalid", "variant", i, "error", err)
				return nil
			}
			mu.Lock()
			variants = append(variants, Variant{Index: i, Temperature: temp, Outline: outline})
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return lod.SaveResult{}, err
	}

	floor := g.policy.VariantFloor
	if floor <= 0 {
		floor = 1
	}
	if len(variants) < floor {
		return lod.SaveResult{}, fmt.Errorf("%w: %d of %d variants succeeded, need %d",
			core.ErrTooFewVariants, len(variants), count, floor)
	}

	winner, err := g.judgeVariants(ctx, variants)
	if err != nil {
		return lod.SaveResult{}, err
	}

	g.logger.Info("variant selected",
		"winner", winner.Index,
		"temperature", winner.Temperature,
		"candidates", len(variants))

	return g.commit(ctx, winner.Outline)
}

const judgeSystemPrompt = `You are an editorial judge comparing candidate chapter outlines for the same book.
Pick the candidate with the strongest structure: escalating tension, chapters that each earn their place, and character arcs that pay off.
Respond with only the candidate number, e.g. "2".`

// judgeVariants asks the model to pick among compressed renditions of each
// candidate. A single candidate wins by default; an unparsable verdict
// falls back to the first candidate rather than failing the run.
func (g *OutlineGenerator) judgeVariants(ctx context.Context, variants []Variant) (Variant, error) {
	if len(variants) == 1 {
		return variants[0], nil
	}

	var sb strings.Builder
	for i, v := range variants {
		fmt.Fprintf(&sb, "## CANDIDATE %d\n\n", i+1)
		for _, s := range book.Summaries(v.Outline.Chapters) {
			fmt.Fprintf(&sb, "%d. %s — %s\n", s.Number, s.Title, s.Summary)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Pick the best candidate (1-%d).", len(variants))

	resp, err := g.agent.Complete(ctx, core.CompletionRequest{
		Messages: []core.Message{
			{Role: "system", Content: judgeSystemPrompt},
			{Role: "user", Content: sb.String()},
		},
		Temperature:       0.2,
		MinResponseTokens: 10,
	})
	if err != nil {
		return Variant{}, fmt.Errorf("variant judging call: %w", err)
	}

	pick := 0
	for _, r := range strings.TrimSpace(resp.Text) {
		if r >= '1' && r <= '9' {
			pick = int(r - '0')
			break
		}
	}
	if pick < 1 || pick > len(variants) {
		g.logger.Warn("judge verdict unparsable, keeping first candidate", "verdict", resp.Text)
		return variants[0], nil
	}
	return variants[pick-1], nil
}
