package lod

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vampirenirmal/bookforge/internal/core"
)

const chapterText = `The rain had not stopped for three days.
Mara watched the harbor from the tower window.
Ships strained against their moorings below.
She counted the lanterns on the far shore.
Seven tonight. Yesterday there had been nine.
Something was moving out there in the dark.`

func TestValidateDiff(t *testing.T) {
	tests := []struct {
		name    string
		diff    string
		wantErr bool
	}{
		{
			name: "valid diff",
			diff: "--- a/chapter\n+++ b/chapter\n@@ -1,2 +1,2 @@\n line\n-old\n+new",
		},
		{
			name:    "missing file headers",
			diff:    "@@ -1,2 +1,2 @@\n-old\n+new",
			wantErr: true,
		},
		{
			name:    "no hunk headers",
			diff:    "--- a/chapter\n+++ b/chapter\njust prose",
			wantErr: true,
		},
		{
			name:    "plain prose response",
			diff:    "Here is the revised chapter with the requested changes.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDiff(tt.diff)
			if tt.wantErr {
				require.Error(t, err)
				var pe *core.PatchError
				require.True(t, errors.As(err, &pe))
				assert.Equal(t, "validate", pe.Stage)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestApplyDiffSingleHunk(t *testing.T) {
	diff := `--- a/chapter
+++ b/chapter
@@ -4,3 +4,3 @@
 She counted the lanterns on the far shore.
-Seven tonight. Yesterday there had been nine.
+Six tonight. Yesterday there had been nine.
 Something was moving out there in the dark.`

	got, err := ApplyDiff(chapterText, diff)
	require.NoError(t, err)
	assert.Contains(t, got, "Six tonight.")
	assert.NotContains(t, got, "Seven tonight.")
	assert.Contains(t, got, "The rain had not stopped")
}

func TestApplyDiffMultipleHunks(t *testing.T) {
	// Hunks given in ascending order; application must run in reverse so the
	// first hunk's insertion cannot shift the second hunk's line numbers.
	diff := `--- a/chapter
+++ b/chapter
@@ -1,2 +1,3 @@
 The rain had not stopped for three days.
+The gutters had long since given up.
 Mara watched the harbor from the tower window.
@@ -6,1 +7,1 @@
-Something was moving out there in the dark.
+Something was circling out there in the dark.`

	got, err := ApplyDiff(chapterText, diff)
	require.NoError(t, err)
	assert.Contains(t, got, "The gutters had long since given up.")
	assert.Contains(t, got, "Something was circling out there")
	assert.NotContains(t, got, "Something was moving out there")
}

func TestApplyDiffContextMismatch(t *testing.T) {
	diff := `--- a/chapter
+++ b/chapter
@@ -1,2 +1,2 @@
 A line that is not in the original.
-Mara watched the harbor from the tower window.
+Mara watched the street from the tower window.`

	_, err := ApplyDiff(chapterText, diff)
	require.Error(t, err)
	var pe *core.PatchError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "apply", pe.Stage)
}

func TestApplyDiffRejectsInvalidBeforeTouchingText(t *testing.T) {
	_, err := ApplyDiff(chapterText, "not a diff at all")
	require.Error(t, err)
	var pe *core.PatchError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "validate", pe.Stage)
}

func TestApplyDiffOutOfRangeHunk(t *testing.T) {
	diff := `--- a/chapter
+++ b/chapter
@@ -40,1 +40,1 @@
-nothing here
+still nothing`

	_, err := ApplyDiff(chapterText, diff)
	require.Error(t, err)
}
