package lod

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vampirenirmal/bookforge/internal/book"
	"github.com/vampirenirmal/bookforge/internal/core"
)

// ProsePatcher runs the diff-based patch path for chapter prose. A backup
// copy is written before any mutation; the backup-and-restore path is
// mandatory, not optional, for prose-level patches.
type ProsePatcher struct {
	project *book.Project
	diffs   *DiffGenerator
	logger  *slog.Logger
}

func NewProsePatcher(project *book.Project, diffs *DiffGenerator) *ProsePatcher {
	return &ProsePatcher{
		project: project,
		diffs:   diffs,
		logger:  slog.Default().With("component", "prose_patcher"),
	}
}

// PatchChapter generates and applies a diff to one chapter's prose.
// On any failure after the backup exists, the original is restored and the
// error reports the backup location.
func (p *ProsePatcher) PatchChapter(ctx context.Context, number int, intent Intent, bookContext string) (string, error) {
	original, err := p.project.LoadProse(ctx, number)
	if err != nil {
		return "", err
	}

	backupPath := fmt.Sprintf("%s/chapter_%03d_%s.txt", book.BackupDir, number, uuid.NewString())
	if err := p.project.Store().Save(ctx, backupPath, []byte(original)); err != nil {
		return "", fmt.Errorf("writing patch backup: %w", err)
	}

	p.logger.Debug("patch backup written",
		"chapter", number,
		"backup_path", backupPath)

	diff, err := p.diffs.GenerateDiff(ctx, original, intent, bookContext)
	if err != nil {
		return "", p.wrapWithBackup(err, backupPath)
	}

	modified, err := ApplyDiff(original, diff)
	if err != nil {
		return "", p.wrapWithBackup(err, backupPath)
	}

	if err := p.project.SaveProse(ctx, number, modified); err != nil {
		// Restore from the backup so a half-written file never survives.
		if restoreErr := p.project.SaveProse(ctx, number, original); restoreErr != nil {
			p.logger.Error("restore from backup failed",
				"chapter", number,
				"backup_path", backupPath,
				"error", restoreErr)
		}
		return "", &core.PatchError{Stage: "save", BackupPath: backupPath, Cause: err}
	}

	p.logger.Info("chapter prose patched",
		"chapter", number,
		"original_length", len(original),
		"modified_length", len(modified))

	return backupPath, nil
}

func (p *ProsePatcher) wrapWithBackup(err error, backupPath string) error {
	if pe, ok := err.(*core.PatchError); ok {
		pe.BackupPath = backupPath
		return pe
	}
	return &core.PatchError{Stage: "apply", BackupPath: backupPath, Cause: err}
}
