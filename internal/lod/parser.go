package lod

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vampirenirmal/bookforge/internal/book"
	"github.com/vampirenirmal/bookforge/internal/core"
)

// SaveResult reports what an extraction changed, or would change in a dry
// run.
type SaveResult struct {
	UpdatedFiles []string
	DeletedFiles []string
	Changes      []string
}

// OutlineParse is the typed result of layered outline parsing. Layer names
// which parsing layer succeeded: "strict", "sanitized", or "repaired".
type OutlineParse struct {
	Outline *book.Outline
	Layer   string
}

var chapterMarkerPattern = regexp.MustCompile(`(?m)^\s*-\s+number:\s*(\d+)\b`)

// ParseOutline runs the layered parser: strict YAML first, then
// sanitize-and-retry (fence stripping, preamble trimming), then a
// structural repair for an unterminated trailing string. Each layer either
// yields a typed result or passes to the next; the final failure is
// explicit, never a best-guess outline.
func ParseOutline(raw string) (OutlineParse, error) {
	if o, err := book.DecodeOutline([]byte(raw)); err == nil {
		return OutlineParse{Outline: o, Layer: "strict"}, nil
	}

	sanitized := sanitizeOutlineYAML(raw)
	o, err := book.DecodeOutline([]byte(sanitized))
	if err == nil {
		return OutlineParse{Outline: o, Layer: "sanitized"}, nil
	}

	if repaired, ok := RepairUnterminatedString(sanitized); ok {
		if o, rerr := book.DecodeOutline([]byte(repaired)); rerr == nil {
			return OutlineParse{Outline: o, Layer: "repaired"}, nil
		}
	}

	return OutlineParse{}, &core.MalformedResponseError{
		Level:   "outline",
		Section: "document",
		Cause:   err,
	}
}

// sanitizeOutlineYAML drops code-fence lines wherever they appear and any
// prose preamble before the first recognized top-level key.
func sanitizeOutlineYAML(raw string) string {
	var kept []string
	for _, line := range strings.Split(raw, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}

	for i, line := range kept {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "metadata:") ||
			strings.HasPrefix(trimmed, "premise:") ||
			strings.HasPrefix(trimmed, "treatment:") ||
			strings.HasPrefix(trimmed, "characters:") ||
			strings.HasPrefix(trimmed, "chapters:") {
			return strings.Join(kept[i:], "\n")
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// RepairUnterminatedString closes a trailing unterminated double-quoted
// string, the characteristic damage of truncated YAML output. Returns the
// repaired text and whether a repair was made.
func RepairUnterminatedString(s string) (string, bool) {
	count := 0
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case r == '"':
			count++
		}
	}
	if count%2 == 0 {
		return s, false
	}
	return s + `"`, true
}

// CountChapterMarkers estimates how many chapters a partial response
// contains by pattern-matching chapter-start markers. Used when even the
// repaired parse fails.
func CountChapterMarkers(raw string) int {
	return len(chapterMarkerPattern.FindAllString(raw, -1))
}

// outlineEnvelope is the outline response shape. Upward-sync responses may
// carry an updated premise or treatment alongside the outline sections;
// those are saved when present but never change the culling level.
type outlineEnvelope struct {
	Premise   string       `yaml:"premise,omitempty"`
	Treatment string       `yaml:"treatment,omitempty"`
	Outline   book.Outline `yaml:",inline"`
}

type premiseEnvelope struct {
	Premise  string               `yaml:"premise"`
	Metadata book.PremiseMetadata `yaml:"metadata"`
}

// Extractor turns raw LLM output back into typed sections, validates them,
// and on success writes them to the Document Store while culling
// now-invalid downstream artifacts.
type Extractor struct {
	project *book.Project
	culls   *CullManager
	logger  *slog.Logger
}

func NewExtractor(project *book.Project, culls *CullManager) *Extractor {
	return &Extractor{
		project: project,
		culls:   culls,
		logger:  slog.Default().With("component", "extractor"),
	}
}

// ParseAndSave validates and persists a raw response for the target level.
// Culling always uses the level actually being edited, not whatever
// sections happen to appear in the response. With dryRun the same
// update/delete lists are computed without any I/O.
func (e *Extractor) ParseAndSave(ctx context.Context, raw string, level Level, dryRun bool) (SaveResult, error) {
	switch level {
	case LevelPremise:
		return e.savePremise(ctx, raw, dryRun)
	case LevelTreatment:
		return e.saveTreatment(ctx, raw, dryRun)
	case LevelOutline:
		return e.saveOutline(ctx, raw, dryRun)
	default:
		return SaveResult{}, fmt.Errorf("extractor does not handle level %q", level)
	}
}

func (e *Extractor) savePremise(ctx context.Context, raw string, dryRun bool) (SaveResult, error) {
	cleaned := book.StripFences(raw)

	premise := book.Premise{}
	var env premiseEnvelope
	if err := yaml.Unmarshal([]byte(cleaned), &env); err == nil && env.Premise != "" {
		premise.Text = env.Premise
		premise.Metadata = env.Metadata
	} else {
		// Plain-text premise responses are valid; metadata is optional.
		premise.Text = cleaned
	}

	if strings.TrimSpace(premise.Text) == "" {
		return SaveResult{}, &core.MalformedResponseError{Level: "premise", Section: "premise"}
	}

	result := SaveResult{
		UpdatedFiles: []string{book.PremisePath, book.PremiseMetadataPath},
		Changes:      []string{"premise updated"},
	}

	deleted, err := e.culls.Cull(ctx, LevelPremise, nil, nil, dryRun)
	result.DeletedFiles = deleted
	if err != nil {
		return result, err
	}

	if !dryRun {
		if err := e.project.SavePremise(ctx, premise); err != nil {
			return result, err
		}
	}

	e.logResult("premise", result, dryRun)
	return result, nil
}

func (e *Extractor) saveTreatment(ctx context.Context, raw string, dryRun bool) (SaveResult, error) {
	text := book.StripFences(raw)
	if strings.TrimSpace(text) == "" {
		return SaveResult{}, &core.MalformedResponseError{Level: "treatment", Section: "treatment"}
	}

	result := SaveResult{
		UpdatedFiles: []string{book.TreatmentPath},
		Changes:      []string{"treatment updated"},
	}

	deleted, err := e.culls.Cull(ctx, LevelTreatment, nil, nil, dryRun)
	result.DeletedFiles = deleted
	if err != nil {
		return result, err
	}

	if !dryRun {
		if err := e.project.SaveTreatment(ctx, book.Treatment{Text: text}); err != nil {
			return result, err
		}
	}

	e.logResult("treatment", result, dryRun)
	return result, nil
}

func (e *Extractor) saveOutline(ctx context.Context, raw string, dryRun bool) (SaveResult, error) {
	cleaned := sanitizeOutlineYAML(raw)

	var env outlineEnvelope
	if err := yaml.Unmarshal([]byte(cleaned), &env); err != nil {
		parsed, perr := ParseOutline(raw)
		if perr != nil {
			return SaveResult{}, perr
		}
		env.Outline = *parsed.Outline
	}

	outline := env.Outline
	if err := outline.Validate(); err != nil {
		return SaveResult{}, err
	}

	var oldOutline *book.Outline
	if e.project.HasOutline(ctx) {
		prev, err := e.project.LoadOutline(ctx)
		if err != nil {
			return SaveResult{}, err
		}
		oldOutline = prev
	}

	result := SaveResult{UpdatedFiles: []string{book.OutlinePath}}
	result.Changes = append(result.Changes, fmt.Sprintf("outline updated (%d chapters)", len(outline.Chapters)))

	if env.Premise != "" {
		result.UpdatedFiles = append(result.UpdatedFiles, book.PremisePath)
		result.Changes = append(result.Changes, "premise synced")
	}
	if env.Treatment != "" {
		result.UpdatedFiles = append(result.UpdatedFiles, book.TreatmentPath)
		result.Changes = append(result.Changes, "treatment synced")
	}

	// Cull by the edited level: an upward-sync premise in the response must
	// not trigger premise-level culling.
	deleted, err := e.culls.Cull(ctx, LevelOutline, oldOutline, &outline, dryRun)
	result.DeletedFiles = deleted
	if err != nil {
		return result, err
	}

	if !dryRun {
		if env.Premise != "" {
			prev, err := e.project.LoadPremise(ctx)
			if err != nil {
				prev = book.Premise{}
			}
			prev.Text = env.Premise
			if err := e.project.SavePremise(ctx, prev); err != nil {
				return result, err
			}
		}
		if env.Treatment != "" {
			if err := e.project.SaveTreatment(ctx, book.Treatment{Text: env.Treatment}); err != nil {
				return result, err
			}
		}
		if err := e.project.SaveOutline(ctx, &outline); err != nil {
			return result, err
		}
	}

	e.logResult("outline", result, dryRun)
	return result, nil
}

func (e *Extractor) logResult(level string, result SaveResult, dryRun bool) {
	e.logger.Info("extraction saved",
		"level", level,
		"dry_run", dryRun,
		"updated_count", len(result.UpdatedFiles),
		"deleted_count", len(result.DeletedFiles))
}
