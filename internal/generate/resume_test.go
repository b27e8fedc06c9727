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
)

func chapterYAML(number int) string {
	return fmt.Sprintf(`  - number: %d
    title: "Chapter %d"
    summary: "Things happen in chapter %d."
    scenes: ["scene one", "scene two"]
    word_count_target: 2500
`, number, number, number)
}

func truncatedChapters(complete int, cutTitle bool) string {
	var sb strings.Builder
	sb.WriteString("chapters:\n")
	for n := 1; n <= complete; n++ {
		sb.WriteString(chapterYAML(n))
	}
	if cutTitle {
		fmt.Fprintf(&sb, `  - number: %d
    title: "Cut off mid sent`, complete+1)
	}
	return sb.String()
}

func TestSalvageChapters(t *testing.T) {
	t.Run("complete document salvages everything", func(t *testing.T) {
		salvage, err := SalvageChapters(truncatedChapters(5, false))
		require.NoError(t, err)
		assert.Equal(t, 5, salvage.LastComplete)
		assert.Equal(t, "strict", salvage.Layer)
		assert.Len(t, salvage.Chapters, 5)
	})

	t.Run("truncation mid-string keeps the complete prefix", func(t *testing.T) {
		salvage, err := SalvageChapters(truncatedChapters(5, true))
		require.NoError(t, err)
		assert.Equal(t, 5, salvage.LastComplete)
		assert.Len(t, salvage.Chapters, 5)
		assert.Equal(t, 6, salvage.MarkerCount, "the partial sixth chapter still counts as a marker")
	})

	t.Run("incomplete chapter mid-list stops the prefix", func(t *testing.T) {
		raw := "chapters:\n" + chapterYAML(1) + `  - number: 2
    title: "No summary here"
    word_count_target: 2500
` + chapterYAML(3)
		salvage, err := SalvageChapters(raw)
		require.NoError(t, err)
		assert.Equal(t, 1, salvage.LastComplete, "a complete chapter after a broken one does not count")
	})

	t.Run("nothing salvageable is a truncation error", func(t *testing.T) {
		_, err := SalvageChapters("utter nonsense, not yaml: [")
		require.Error(t, err)
		assert.True(t, core.IsTruncation(err))
	})

	t.Run("batch-relative numbering salvages from the batch start", func(t *testing.T) {
		raw := "chapters:\n" + chapterYAML(9) + chapterYAML(10) + `  - number: 11
    title: "Cut`
		salvage, err := SalvageChapters(raw)
		require.NoError(t, err)
		assert.Equal(t, 10, salvage.LastComplete)
		require.Len(t, salvage.Chapters, 2)
		assert.Equal(t, 9, salvage.Chapters[0].Number)
	})
}

func TestCompletePrefix(t *testing.T) {
	complete := func(n int) book.Chapter {
		return book.Chapter{
			Number:          n,
			Title:           fmt.Sprintf("Chapter %d", n),
			Summary:         "summary",
			Scenes:          []string{"a scene"},
			WordCountTarget: 2000,
		}
	}

	t.Run("gap cuts the prefix", func(t *testing.T) {
		chapters, last := completePrefix([]book.Chapter{complete(1), complete(2), complete(4)})
		assert.Equal(t, 2, last)
		assert.Len(t, chapters, 2)
	})

	t.Run("empty input", func(t *testing.T) {
		_, last := completePrefix(nil)
		assert.Equal(t, 0, last)
	})

	t.Run("zero-numbered first chapter yields nothing", func(t *testing.T) {
		_, last := completePrefix([]book.Chapter{complete(0)})
		assert.Equal(t, 0, last)
	})
}

func testFoundation(chapterCount int) *book.Foundation {
	return &book.Foundation{
		Metadata: book.OutlineMetadata{
			Genre:        "fantasy",
			ChapterCount: chapterCount,
		},
		Characters: []book.Character{{Name: "Mara", Role: "protagonist"}},
		World:      book.World{SettingOverview: "a drowned city"},
	}
}

func continuationYAML(from, to int) string {
	var sb strings.Builder
	sb.WriteString("chapters:\n")
	for n := from; n <= to; n++ {
		sb.WriteString(chapterYAML(n))
	}
	return sb.String()
}

func TestResumeOutlineMergesContinuation(t *testing.T) {
	ctx := context.Background()
	scripted := agent.NewScriptedClient().Enqueue(continuationYAML(4, 6))
	generator, _ := newVariantGenerator(t, scripted, config.DefaultPolicy())

	merged, err := generator.ResumeOutline(ctx, truncatedChapters(3, true), testFoundation(6), 6, "", 0.8)
	require.NoError(t, err)

	require.Len(t, merged, 6)
	for i, ch := range merged {
		assert.Equal(t, i+1, ch.Number)
		assert.True(t, ch.Complete())
	}

	// The continuation request asks only for the missing tail.
	require.Equal(t, 1, scripted.CallCount())
	prompt := scripted.Requests[0].Messages[1].Content
	assert.Contains(t, prompt, "chapters 4 through 6")
}

func TestResumeOutlineSecondTruncationIsFatal(t *testing.T) {
	ctx := context.Background()
	scripted := agent.NewScriptedClient().EnqueueResponse(core.CompletionResponse{
		Text:         continuationYAML(4, 5) + `  - number: 6
    title: "Cut again`,
		FinishReason: "length",
	})
	generator, _ := newVariantGenerator(t, scripted, config.DefaultPolicy())

	_, err := generator.ResumeOutline(ctx, truncatedChapters(3, true), testFoundation(6), 6, "", 0.8)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrResumeExhausted))
}

func TestResumeOutlineAlreadyCompleteSkipsContinuation(t *testing.T) {
	ctx := context.Background()
	scripted := agent.NewScriptedClient()
	generator, _ := newVariantGenerator(t, scripted, config.DefaultPolicy())

	merged, err := generator.ResumeOutline(ctx, truncatedChapters(6, false), testFoundation(6), 6, "", 0.8)
	require.NoError(t, err)
	assert.Len(t, merged, 6)
	assert.Equal(t, 0, scripted.CallCount())
}

func TestResumeOutlineNothingSalvageable(t *testing.T) {
	ctx := context.Background()
	generator, _ := newVariantGenerator(t, agent.NewScriptedClient(), config.DefaultPolicy())

	_, err := generator.ResumeOutline(ctx, "not even close to yaml: [", testFoundation(6), 6, "", 0.8)
	require.Error(t, err)
	assert.True(t, core.IsTruncation(err))
}
