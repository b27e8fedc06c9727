package generate

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vampirenirmal/bookforge/internal/book"
	"github.com/vampirenirmal/bookforge/internal/core"
)

// Phase is the coarse progress marker of the autonomous generation path.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhasePremise   Phase = "premise"
	PhaseTreatment Phase = "treatment"
	PhasePlan      Phase = "plan"
	PhaseProse     Phase = "prose"
	PhaseComplete  Phase = "complete"
)

// QualityGate records a pass/fail judgment for one phase.
type QualityGate struct {
	Phase     Phase     `yaml:"phase"`
	Passed    bool      `yaml:"passed"`
	Notes     string    `yaml:"notes,omitempty"`
	CheckedAt time.Time `yaml:"checked_at"`
}

// GenerationState is persisted at phase and batch boundaries so an
// interrupted run loses at most one in-flight batch. The foundation and
// the chapters completed so far ride along with the counters, so Resume
// replays them instead of regenerating.
type GenerationState struct {
	SessionID         string           `yaml:"session_id"`
	Phase             Phase            `yaml:"phase"`
	ChaptersPlanned   int              `yaml:"chapters_planned"`
	ChaptersGenerated int              `yaml:"chapters_generated"`
	BatchesCompleted  int              `yaml:"batches_completed"`
	ProseCompleted    int              `yaml:"prose_completed"`
	Guidance          string           `yaml:"guidance,omitempty"`
	Temperature       float64          `yaml:"temperature,omitempty"`
	Foundation        *book.Foundation `yaml:"foundation,omitempty"`
	Chapters          []book.Chapter   `yaml:"chapters,omitempty"`
	QualityGates      []QualityGate    `yaml:"quality_gates,omitempty"`
	UpdatedAt         time.Time        `yaml:"updated_at"`
}

const statePath = "state/generation.yaml"

// StateManager persists GenerationState through the Document Store.
type StateManager struct {
	store core.DocumentStore
}

func NewStateManager(store core.DocumentStore) *StateManager {
	return &StateManager{store: store}
}

func (m *StateManager) Save(ctx context.Context, state *GenerationState) error {
	state.UpdatedAt = time.Now()
	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling generation state: %w", err)
	}
	return m.store.Save(ctx, statePath, data)
}

func (m *StateManager) Load(ctx context.Context) (*GenerationState, error) {
	data, err := m.store.Load(ctx, statePath)
	if err != nil {
		return nil, fmt.Errorf("loading generation state: %w", err)
	}
	var state GenerationState
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshaling generation state: %w", err)
	}
	return &state, nil
}

func (m *StateManager) Exists(ctx context.Context) bool {
	return m.store.Exists(ctx, statePath)
}

func (m *StateManager) Clear(ctx context.Context) error {
	if !m.store.Exists(ctx, statePath) {
		return nil
	}
	return m.store.Delete(ctx, statePath)
}
