package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vampirenirmal/bookforge/internal/core"
)

func TestFileSystemTraversal(t *testing.T) {
	fs := NewFileSystem(t.TempDir())
	ctx := context.Background()

	tests := []struct {
		name string
		path string
		ok   bool
	}{
		{"plain file", "premise.txt", true},
		{"subdirectory", "prose/chapter_001.txt", true},
		{"parent traversal", "../escape.txt", false},
		{"nested traversal", "prose/../../escape.txt", false},
		{"absolute path", "/etc/passwd", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fs.Save(ctx, tt.path, []byte("content"))
			if tt.ok {
				require.NoError(t, err)
				loaded, err := fs.Load(ctx, tt.path)
				require.NoError(t, err)
				assert.Equal(t, "content", string(loaded))
			} else {
				assert.True(t, errors.Is(err, core.ErrInvalidInput))
				_, err = fs.Load(ctx, tt.path)
				assert.True(t, errors.Is(err, core.ErrInvalidInput))
			}
		})
	}
}

func TestFileSystemRoundTrip(t *testing.T) {
	fs := NewFileSystem(t.TempDir())
	ctx := context.Background()

	assert.False(t, fs.Exists(ctx, "treatment.txt"))
	_, err := fs.Load(ctx, "treatment.txt")
	assert.True(t, errors.Is(err, core.ErrNotFound))

	require.NoError(t, fs.Save(ctx, "treatment.txt", []byte("the whole story")))
	assert.True(t, fs.Exists(ctx, "treatment.txt"))

	require.NoError(t, fs.Delete(ctx, "treatment.txt"))
	assert.False(t, fs.Exists(ctx, "treatment.txt"))
	assert.Error(t, fs.Delete(ctx, "treatment.txt"))
}

func TestFileSystemList(t *testing.T) {
	fs := NewFileSystem(t.TempDir())
	ctx := context.Background()

	for _, path := range []string{"prose/chapter_001.txt", "prose/chapter_002.txt", "notes.txt"} {
		require.NoError(t, fs.Save(ctx, path, []byte("x")))
	}

	matches, err := fs.List(ctx, "prose/chapter_*.txt")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"prose/chapter_001.txt", "prose/chapter_002.txt"}, matches)

	_, err = fs.List(ctx, "../*")
	assert.Error(t, err)
}

func TestFileSystemDeleteDir(t *testing.T) {
	fs := NewFileSystem(t.TempDir())
	ctx := context.Background()

	require.NoError(t, fs.Save(ctx, "prose/chapter_001.txt", []byte("x")))
	require.NoError(t, fs.Save(ctx, "prose/chapter_002.txt", []byte("x")))

	require.NoError(t, fs.DeleteDir(ctx, "prose"))
	assert.False(t, fs.Exists(ctx, "prose/chapter_001.txt"))

	t.Run("missing directory is not an error", func(t *testing.T) {
		assert.NoError(t, fs.DeleteDir(ctx, "prose"))
	})

	t.Run("project root is protected", func(t *testing.T) {
		assert.Error(t, fs.DeleteDir(ctx, "."))
	})
}
