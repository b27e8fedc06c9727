package lod

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildOutlineContextIsSelfContained(t *testing.T) {
	ctx := context.Background()
	project := newTestProject(t)
	seedFullProject(t, ctx, project, 2)
	builder := NewContextBuilder(project)

	bundle, err := builder.Build(ctx, LevelOutline, false)
	require.NoError(t, err)

	assert.Contains(t, bundle, "## CHAPTER OUTLINE")
	assert.NotContains(t, bundle, "## PREMISE", "outline edits never re-send the upstream documents")
	assert.NotContains(t, bundle, "## TREATMENT")
}

func TestBuildOutlineContextWithDownstream(t *testing.T) {
	ctx := context.Background()
	project := newTestProject(t)
	seedFullProject(t, ctx, project, 2)
	builder := NewContextBuilder(project)

	bundle, err := builder.Build(ctx, LevelOutline, true)
	require.NoError(t, err)

	assert.Contains(t, bundle, "## PREMISE")
	assert.Contains(t, bundle, "## TREATMENT")
	assert.Contains(t, bundle, "## CHAPTER OUTLINE")
}

func TestBuildTreatmentContextIncludesPremise(t *testing.T) {
	ctx := context.Background()
	project := newTestProject(t)
	seedFullProject(t, ctx, project, 2)
	builder := NewContextBuilder(project)

	bundle, err := builder.Build(ctx, LevelTreatment, false)
	require.NoError(t, err)

	assert.Contains(t, bundle, "## PREMISE")
	assert.Contains(t, bundle, "## TREATMENT")
	assert.NotContains(t, bundle, "## CHAPTER OUTLINE")
}

func TestBuildChapterContext(t *testing.T) {
	ctx := context.Background()
	project := newTestProject(t)
	seedFullProject(t, ctx, project, 2)
	builder := NewContextBuilder(project)

	bundle, err := builder.BuildChapterContext(ctx, 2)
	require.NoError(t, err)

	assert.Contains(t, bundle, "## CHAPTER 2 OUTLINE")
	assert.Contains(t, bundle, "The Tower")
	// Other chapters appear only in compressed form.
	assert.Contains(t, bundle, "## OTHER CHAPTERS")
	assert.Contains(t, bundle, "1. Landfall")
	assert.NotContains(t, bundle, "the docks", "scene detail of other chapters stays out")

	_, err = builder.BuildChapterContext(ctx, 9)
	assert.Error(t, err)
}
