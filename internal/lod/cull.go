package lod

import (
	"context"
	"log/slog"

	"github.com/vampirenirmal/bookforge/internal/book"
)

// CullManager implements the downstream-invalidation policy:
//
//	premise edit   → treatment + outline + all prose deleted
//	treatment edit → outline + all prose deleted
//	outline edit   → only prose of meaningfully changed chapters deleted
//
// Culling never touches anything upstream of the edited level.
type CullManager struct {
	project *book.Project
	logger  *slog.Logger
}

func NewCullManager(project *book.Project) *CullManager {
	return &CullManager{
		project: project,
		logger:  slog.Default().With("component", "cull_manager"),
	}
}

// Cull deletes the artifacts invalidated by an edit at the given level and
// returns their paths. For outline-level edits oldOutline/newOutline drive
// per-chapter precision. With dryRun the same list is computed without any
// I/O.
func (m *CullManager) Cull(ctx context.Context, level Level, oldOutline, newOutline *book.Outline, dryRun bool) ([]string, error) {
	var deleted []string

	cullTreatment := level == LevelPremise
	cullOutline := level == LevelPremise || level == LevelTreatment
	cullAllProse := cullOutline

	if cullTreatment && m.project.HasTreatment(ctx) {
		deleted = append(deleted, book.TreatmentPath)
		if !dryRun {
			if err := m.project.DeleteTreatment(ctx); err != nil {
				return deleted, err
			}
		}
	}

	if cullOutline && m.project.HasOutline(ctx) {
		deleted = append(deleted, book.OutlinePath)
		if !dryRun {
			if err := m.project.DeleteOutline(ctx); err != nil {
				return deleted, err
			}
		}
	}

	if cullAllProse {
		numbers, err := m.project.ListProse(ctx)
		if err != nil {
			return deleted, err
		}
		for _, n := range numbers {
			deleted = append(deleted, book.ProsePath(n))
		}
		if !dryRun && len(numbers) > 0 {
			if err := m.project.DeleteAllProse(ctx); err != nil {
				return deleted, err
			}
		}
	}

	if level == LevelOutline {
		changed := changedChapters(oldOutline, newOutline)
		for _, n := range changed {
			if !m.project.HasProse(ctx, n) {
				continue
			}
			deleted = append(deleted, book.ProsePath(n))
			if !dryRun {
				if err := m.project.DeleteProse(ctx, n); err != nil {
					return deleted, err
				}
			}
		}
	}

	m.logger.Info("cull completed",
		"level", string(level),
		"dry_run", dryRun,
		"deleted_count", len(deleted))

	return deleted, nil
}

// changedChapters returns the numbers whose outline entries differ
// meaningfully between versions, plus chapters that disappeared. Unaffected
// chapters' prose survives untouched.
func changedChapters(old, new *book.Outline) []int {
	if old == nil {
		return nil
	}

	newByNumber := map[int]book.Chapter{}
	if new != nil {
		for _, ch := range new.Chapters {
			newByNumber[ch.Number] = ch
		}
	}

	var changed []int
	for _, oldCh := range old.Chapters {
		newCh, ok := newByNumber[oldCh.Number]
		if !ok || book.ChapterChanged(oldCh, newCh) {
			changed = append(changed, oldCh.Number)
		}
	}
	return changed
}
