package generate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vampirenirmal/bookforge/internal/book"
	"github.com/vampirenirmal/bookforge/internal/storage"
)

func TestStateManagerRoundTrip(t *testing.T) {
	ctx := context.Background()
	manager := NewStateManager(storage.NewFileSystem(t.TempDir()))

	assert.False(t, manager.Exists(ctx))

	state := &GenerationState{
		SessionID:         "session-1",
		Phase:             PhasePlan,
		ChaptersPlanned:   24,
		ChaptersGenerated: 8,
		BatchesCompleted:  1,
		Guidance:          "keep it grim",
		Temperature:       0.8,
		Foundation: &book.Foundation{
			Metadata:   book.OutlineMetadata{Genre: "fantasy", ChapterCount: 24},
			Characters: []book.Character{{Name: "Mara", Role: "protagonist"}},
			World:      book.World{SettingOverview: "a drowned city"},
		},
		Chapters: []book.Chapter{{
			Number: 1, Title: "Landfall", Summary: "Arrival.",
			Scenes: []string{"the docks"}, WordCountTarget: 2500,
		}},
	}
	require.NoError(t, manager.Save(ctx, state))
	assert.True(t, manager.Exists(ctx))
	assert.False(t, state.UpdatedAt.IsZero())

	loaded, err := manager.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, PhasePlan, loaded.Phase)
	assert.Equal(t, 24, loaded.ChaptersPlanned)
	assert.Equal(t, 8, loaded.ChaptersGenerated)
	assert.Equal(t, 1, loaded.BatchesCompleted)
	assert.Equal(t, "keep it grim", loaded.Guidance)
	require.NotNil(t, loaded.Foundation)
	assert.Equal(t, "fantasy", loaded.Foundation.Metadata.Genre)
	require.Len(t, loaded.Chapters, 1)
	assert.Equal(t, "Landfall", loaded.Chapters[0].Title)

	require.NoError(t, manager.Clear(ctx))
	assert.False(t, manager.Exists(ctx))
	assert.NoError(t, manager.Clear(ctx), "clearing twice is fine")
}
