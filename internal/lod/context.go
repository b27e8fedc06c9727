package lod

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vampirenirmal/bookforge/internal/book"
)

// Level identifies one of the four layered documents.
type Level string

const (
	LevelPremise   Level = "premise"
	LevelTreatment Level = "treatment"
	LevelOutline   Level = "outline"
	LevelProse     Level = "prose"
)

// ContextBuilder assembles the subset of the document hierarchy needed to
// prompt edits at a target level. Pure read + transform; no side effects.
type ContextBuilder struct {
	project *book.Project
	logger  *slog.Logger
}

func NewContextBuilder(project *book.Project) *ContextBuilder {
	return &ContextBuilder{
		project: project,
		logger:  slog.Default().With("component", "context_builder"),
	}
}

// Build serializes the minimal prompt bundle for a target level. The
// outline is self-contained and returned alone unless downstream inclusion
// is requested, so chapter-level edits never re-send the whole book. With
// includeDownstream the full hierarchy is returned for consistency checks.
func (b *ContextBuilder) Build(ctx context.Context, target Level, includeDownstream bool) (string, error) {
	var sections []string

	appendPremise := func() error {
		premise, err := b.project.LoadPremise(ctx)
		if err != nil {
			return err
		}
		sections = append(sections, "## PREMISE\n\n"+premise.Text)
		if premise.Metadata.Genre != "" || len(premise.Metadata.Themes) > 0 {
			meta, err := book.EncodePremiseMetadata(premise.Metadata)
			if err != nil {
				return err
			}
			sections = append(sections, "## PREMISE METADATA\n\n"+string(meta))
		}
		return nil
	}

	appendTreatment := func() error {
		treatment, err := b.project.LoadTreatment(ctx)
		if err != nil {
			return err
		}
		sections = append(sections, "## TREATMENT\n\n"+treatment.Text)
		return nil
	}

	appendOutline := func() error {
		outline, err := b.project.LoadOutline(ctx)
		if err != nil {
			return err
		}
		data, err := book.EncodeOutline(outline)
		if err != nil {
			return err
		}
		sections = append(sections, "## CHAPTER OUTLINE\n\n"+string(data))
		return nil
	}

	switch target {
	case LevelPremise:
		if err := appendPremise(); err != nil {
			return "", err
		}
	case LevelTreatment:
		if err := appendPremise(); err != nil {
			return "", err
		}
		if b.project.HasTreatment(ctx) {
			if err := appendTreatment(); err != nil {
				return "", err
			}
		}
	case LevelOutline, LevelProse:
		if includeDownstream {
			if b.project.HasPremise(ctx) {
				if err := appendPremise(); err != nil {
					return "", err
				}
			}
			if b.project.HasTreatment(ctx) {
				if err := appendTreatment(); err != nil {
					return "", err
				}
			}
		}
		if err := appendOutline(); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("unknown target level %q", target)
	}

	if includeDownstream && target != LevelOutline && target != LevelProse {
		if b.project.HasTreatment(ctx) && target == LevelPremise {
			if err := appendTreatment(); err != nil {
				return "", err
			}
		}
		if b.project.HasOutline(ctx) {
			if err := appendOutline(); err != nil {
				return "", err
			}
		}
	}

	bundle := strings.Join(sections, "\n\n")

	b.logger.Debug("context bundle built",
		"target", string(target),
		"include_downstream", includeDownstream,
		"section_count", len(sections),
		"bundle_length", len(bundle))

	return bundle, nil
}

// BuildChapterContext serializes full-book context for prose-level patches:
// the chapter's outline entry, its current prose, and compressed summaries
// of every other chapter.
func (b *ContextBuilder) BuildChapterContext(ctx context.Context, number int) (string, error) {
	outline, err := b.project.LoadOutline(ctx)
	if err != nil {
		return "", err
	}

	var target *book.Chapter
	for i := range outline.Chapters {
		if outline.Chapters[i].Number == number {
			target = &outline.Chapters[i]
			break
		}
	}
	if target == nil {
		return "", fmt.Errorf("chapter %d not found in outline", number)
	}

	var sections []string

	entry, err := book.EncodeOutline(&book.Outline{
		Metadata: outline.Metadata,
		Chapters: []book.Chapter{*target},
	})
	if err != nil {
		return "", err
	}
	sections = append(sections, fmt.Sprintf("## CHAPTER %d OUTLINE\n\n%s", number, string(entry)))

	var summaries strings.Builder
	for _, s := range book.Summaries(outline.Chapters) {
		if s.Number == number {
			continue
		}
		fmt.Fprintf(&summaries, "%d. %s — %s\n", s.Number, s.Title, s.Summary)
	}
	sections = append(sections, "## OTHER CHAPTERS\n\n"+summaries.String())

	return strings.Join(sections, "\n\n"), nil
}
