package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vampirenirmal/bookforge/internal/agent"
	"github.com/vampirenirmal/bookforge/internal/book"
	"github.com/vampirenirmal/bookforge/internal/config"
	"github.com/vampirenirmal/bookforge/internal/core"
	"github.com/vampirenirmal/bookforge/internal/lod"
	"github.com/vampirenirmal/bookforge/internal/storage"
)

const foundationYAML = `metadata:
  genre: fantasy
  tone: grim
  themes: [tide, memory]
  target_word_count: 10000
  chapter_count: 4
characters:
  - name: Mara
    role: protagonist
world:
  setting_overview: a drowned city
`

func variantBatchYAML(count int) string {
	var sb strings.Builder
	sb.WriteString("chapters:\n")
	for n := 1; n <= count; n++ {
		fmt.Fprintf(&sb, `  - number: %d
    title: "Chapter %d"
    summary: "Events of chapter %d."
    scenes: ["scene a", "scene b"]
    word_count_target: 2500
`, n, n, n)
	}
	return sb.String()
}

func newVariantGenerator(t *testing.T, scripted *agent.ScriptedClient, policy config.Policy) (*OutlineGenerator, *book.Project) {
	t.Helper()
	ctx := context.Background()

	project := book.NewProject(storage.NewFileSystem(t.TempDir()))
	require.NoError(t, project.SavePremise(ctx, book.Premise{Text: "a premise"}))
	require.NoError(t, project.SaveTreatment(ctx, book.Treatment{Text: "a treatment"}))

	extractor := lod.NewExtractor(project, lod.NewCullManager(project))
	states := NewStateManager(project.Store())
	return NewOutlineGenerator(scripted, project, extractor, states, policy), project
}

func TestGenerateVariantsCommitsJudgedWinner(t *testing.T) {
	ctx := context.Background()

	// One foundation call, four identical chapter batches (one batch per
	// variant at this size), one judge call. Identical batch responses keep
	// the concurrent FIFO consumption deterministic in effect.
	scripted := agent.NewScriptedClient().Enqueue(foundationYAML)
	for i := 0; i < 4; i++ {
		scripted.Enqueue(variantBatchYAML(4))
	}
	scripted.Enqueue("2")

	generator, project := newVariantGenerator(t, scripted, config.DefaultPolicy())

	result, err := generator.GenerateVariants(ctx, 4, "make it tense")
	require.NoError(t, err)

	assert.Contains(t, result.UpdatedFiles, book.OutlinePath)
	assert.Equal(t, 6, scripted.CallCount())

	outline, err := project.LoadOutline(ctx)
	require.NoError(t, err)
	assert.Len(t, outline.Chapters, 4)
	assert.Equal(t, "fantasy", outline.Metadata.Genre)
}

func TestGenerateVariantsBelowFloorFails(t *testing.T) {
	ctx := context.Background()

	scripted := agent.NewScriptedClient().Enqueue(foundationYAML)
	// Every variant's batch fails, and its single retry fails too.
	for i := 0; i < 8; i++ {
		scripted.EnqueueError(fmt.Errorf("model unavailable"))
	}

	generator, _ := newVariantGenerator(t, scripted, config.DefaultPolicy())

	_, err := generator.GenerateVariants(ctx, 4, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrTooFewVariants))
}

func TestGenerateVariantsRejectsCandidatesFailingSavePath(t *testing.T) {
	ctx := context.Background()

	// The chapter batches parse cleanly, but a foundation without a
	// character roster cannot be saved. The dry-run vetting rejects every
	// candidate, so the run fails before any judging.
	noCharacters := `metadata:
  genre: fantasy
  chapter_count: 4
world:
  setting_overview: a drowned city
`
	policy := config.DefaultPolicy()
	policy.BatchRetries = 0

	scripted := agent.NewScriptedClient().Enqueue(noCharacters)
	for i := 0; i < 4; i++ {
		scripted.Enqueue(variantBatchYAML(4))
	}

	generator, project := newVariantGenerator(t, scripted, policy)

	_, err := generator.GenerateVariants(ctx, 4, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrTooFewVariants))
	assert.Equal(t, 5, scripted.CallCount(), "no judge call without viable candidates")
	assert.False(t, project.HasOutline(ctx))
}

func TestGenerateVariantsToleratesPartialFailure(t *testing.T) {
	ctx := context.Background()

	// Zero batch retries so each variant consumes exactly one scripted
	// response: with identical success payloads the concurrent interleaving
	// cannot change the outcome: two variants succeed, two fail.
	policy := config.DefaultPolicy()
	policy.BatchRetries = 0

	scripted := agent.NewScriptedClient().Enqueue(foundationYAML)
	scripted.Enqueue(variantBatchYAML(4))
	scripted.Enqueue(variantBatchYAML(4))
	scripted.EnqueueError(fmt.Errorf("model unavailable"))
	scripted.EnqueueError(fmt.Errorf("model unavailable"))
	scripted.Enqueue("1")

	generator, project := newVariantGenerator(t, scripted, policy)

	result, err := generator.GenerateVariants(ctx, 4, "")
	require.NoError(t, err)
	assert.Contains(t, result.UpdatedFiles, book.OutlinePath)

	outline, err := project.LoadOutline(ctx)
	require.NoError(t, err)
	assert.Len(t, outline.Chapters, 4)
}
