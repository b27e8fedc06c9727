package book

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"

	"github.com/vampirenirmal/bookforge/internal/core"
)

// Artifact paths within a project. The Document Store owns the on-disk
// representation; these names are the only coupling.
const (
	PremisePath         = "premise.txt"
	PremiseMetadataPath = "premise_metadata.yaml"
	TreatmentPath       = "treatment.txt"
	OutlinePath         = "chapters.yaml"
	ProseDir            = "prose"
	BackupDir           = "backups"
)

var proseFilePattern = regexp.MustCompile(`chapter_(\d+)\.txt$`)

// ProsePath returns the blob path for a chapter's prose.
func ProsePath(number int) string {
	return fmt.Sprintf("%s/chapter_%03d.txt", ProseDir, number)
}

// Project is a typed view over the Document Store for one book project.
// It holds no state beyond the store handle; all reads are transient
// snapshots.
type Project struct {
	store  core.DocumentStore
	logger *slog.Logger
}

func NewProject(store core.DocumentStore) *Project {
	return &Project{
		store:  store,
		logger: slog.Default().With("component", "project"),
	}
}

// Store exposes the underlying Document Store for collaborators that need
// raw blob access (checkpoints, backups).
func (p *Project) Store() core.DocumentStore { return p.store }

// --- Premise ---

func (p *Project) HasPremise(ctx context.Context) bool {
	return p.store.Exists(ctx, PremisePath)
}

func (p *Project) LoadPremise(ctx context.Context) (Premise, error) {
	text, err := p.store.Load(ctx, PremisePath)
	if err != nil {
		return Premise{}, fmt.Errorf("loading premise: %w", err)
	}
	premise := Premise{Text: string(text)}
	if p.store.Exists(ctx, PremiseMetadataPath) {
		data, err := p.store.Load(ctx, PremiseMetadataPath)
		if err != nil {
			return Premise{}, fmt.Errorf("loading premise metadata: %w", err)
		}
		meta, err := DecodePremiseMetadata(data)
		if err != nil {
			return Premise{}, err
		}
		premise.Metadata = meta
	}
	return premise, nil
}

func (p *Project) SavePremise(ctx context.Context, premise Premise) error {
	if err := p.store.Save(ctx, PremisePath, []byte(premise.Text)); err != nil {
		return fmt.Errorf("saving premise: %w", err)
	}
	data, err := EncodePremiseMetadata(premise.Metadata)
	if err != nil {
		return err
	}
	if err := p.store.Save(ctx, PremiseMetadataPath, data); err != nil {
		return fmt.Errorf("saving premise metadata: %w", err)
	}
	p.logger.Debug("premise saved", "text_length", len(premise.Text))
	return nil
}

// --- Treatment ---

func (p *Project) HasTreatment(ctx context.Context) bool {
	return p.store.Exists(ctx, TreatmentPath)
}

func (p *Project) LoadTreatment(ctx context.Context) (Treatment, error) {
	data, err := p.store.Load(ctx, TreatmentPath)
	if err != nil {
		return Treatment{}, fmt.Errorf("loading treatment: %w", err)
	}
	return Treatment{Text: string(data)}, nil
}

func (p *Project) SaveTreatment(ctx context.Context, t Treatment) error {
	if err := p.store.Save(ctx, TreatmentPath, []byte(t.Text)); err != nil {
		return fmt.Errorf("saving treatment: %w", err)
	}
	p.logger.Debug("treatment saved", "text_length", len(t.Text))
	return nil
}

func (p *Project) DeleteTreatment(ctx context.Context) error {
	if !p.store.Exists(ctx, TreatmentPath) {
		return nil
	}
	return p.store.Delete(ctx, TreatmentPath)
}

// --- Outline ---

func (p *Project) HasOutline(ctx context.Context) bool {
	return p.store.Exists(ctx, OutlinePath)
}

func (p *Project) LoadOutline(ctx context.Context) (*Outline, error) {
	data, err := p.store.Load(ctx, OutlinePath)
	if err != nil {
		return nil, fmt.Errorf("loading outline: %w", err)
	}
	return DecodeOutline(data)
}

func (p *Project) SaveOutline(ctx context.Context, o *Outline) error {
	data, err := EncodeOutline(o)
	if err != nil {
		return err
	}
	if err := p.store.Save(ctx, OutlinePath, data); err != nil {
		return fmt.Errorf("saving outline: %w", err)
	}
	p.logger.Debug("outline saved", "chapter_count", len(o.Chapters))
	return nil
}

func (p *Project) DeleteOutline(ctx context.Context) error {
	if !p.store.Exists(ctx, OutlinePath) {
		return nil
	}
	return p.store.Delete(ctx, OutlinePath)
}

// --- Prose ---

func (p *Project) HasProse(ctx context.Context, number int) bool {
	return p.store.Exists(ctx, ProsePath(number))
}

func (p *Project) LoadProse(ctx context.Context, number int) (string, error) {
	data, err := p.store.Load(ctx, ProsePath(number))
	if err != nil {
		return "", fmt.Errorf("loading prose for chapter %d: %w", number, err)
	}
	return string(data), nil
}

func (p *Project) SaveProse(ctx context.Context, number int, text string) error {
	if err := p.store.Save(ctx, ProsePath(number), []byte(text)); err != nil {
		return fmt.Errorf("saving prose for chapter %d: %w", number, err)
	}
	return nil
}

func (p *Project) DeleteProse(ctx context.Context, number int) error {
	path := ProsePath(number)
	if !p.store.Exists(ctx, path) {
		return nil
	}
	return p.store.Delete(ctx, path)
}

// ListProse returns the chapter numbers that have prose, in ascending order.
func (p *Project) ListProse(ctx context.Context) ([]int, error) {
	files, err := p.store.List(ctx, ProseDir+"/chapter_*.txt")
	if err != nil {
		return nil, fmt.Errorf("listing prose: %w", err)
	}
	var numbers []int
	for _, f := range files {
		m := proseFilePattern.FindStringSubmatch(f)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	return numbers, nil
}

// DeleteAllProse removes the whole prose directory.
func (p *Project) DeleteAllProse(ctx context.Context) error {
	return p.store.DeleteDir(ctx, ProseDir)
}
