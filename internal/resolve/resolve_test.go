package resolve

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/portfolio-agent/internal/domain"
	perrors "github.com/p-blackswan/portfolio-agent/internal/errors"
)

func testGraph() *domain.Graph {
	return &domain.Graph{Projects: []domain.Project{
		{
			ID:   "project-1",
			Name: "P1",
			Plan: []domain.Task{
				{ID: "task-1", Title: "Design", Subtasks: []domain.Subtask{{ID: "subtask-1", Title: "Wireframes"}}},
				{ID: "task-2", Title: "Docs"},
				{ID: "task-3", Title: "docs"},
			},
		},
		{ID: "project-2", Name: "Marketing"},
		{ID: "project-3", Name: "marketing"},
	}}
}

func TestResolver_Project(t *testing.T) {
	r := New(testGraph(), nil)

	id, err := r.Project("project-1")
	require.NoError(t, err)
	assert.Equal(t, "project-1", id)

	id, err = r.Project("p1")
	require.NoError(t, err)
	assert.Equal(t, "project-1", id)

	_, err = r.Project("Unknown")
	assert.ErrorIs(t, err, perrors.ErrNotFound)

	_, err = r.Project("MARKETING")
	var amb *perrors.AmbiguityError
	require.True(t, errors.As(err, &amb))
	assert.ElementsMatch(t, []string{"project-2", "project-3"}, amb.Matches)
}

func TestResolver_TaskAndSubtask(t *testing.T) {
	r := New(testGraph(), nil)

	id, err := r.Resolve(KindTask, "project-1", "DESIGN")
	require.NoError(t, err)
	assert.Equal(t, "task-1", id)

	id, err = r.Resolve(KindSubtask, "task-1", "wireframes")
	require.NoError(t, err)
	assert.Equal(t, "subtask-1", id)

	_, err = r.Resolve(KindTask, "project-1", "Docs")
	var amb *perrors.AmbiguityError
	assert.True(t, errors.As(err, &amb))

	_, err = r.Resolve(KindTask, "project-1", "Desig")
	assert.ErrorIs(t, err, perrors.ErrNotFound, "no fuzzy matching")

	_, err = r.Resolve(KindTask, "project-2", "Design")
	assert.ErrorIs(t, err, perrors.ErrNotFound, "scoped to owner")
}

func TestResolver_PendingAfterCommitted(t *testing.T) {
	cache := NewPendingCache()
	r := New(testGraph(), cache)

	_, err := r.Task("project-1", "Deploy API")
	require.ErrorIs(t, err, perrors.ErrNotFound)

	require.True(t, cache.Register(KindTask, "project-1", "task-new", "Deploy API"))
	assert.False(t, cache.Register(KindTask, "project-1", "task-dup", "deploy api"))

	id, err := r.Task("project-1", "deploy API")
	require.NoError(t, err)
	assert.Equal(t, "task-new", id)

	id, err = r.Task("project-1", "task-new")
	require.NoError(t, err)
	assert.Equal(t, "task-new", id)

	_, err = r.Task("project-2", "Deploy API")
	assert.ErrorIs(t, err, perrors.ErrNotFound)

	require.True(t, cache.Register(KindSubtask, "task-new", "subtask-new", "Update docs"))
	id, err = r.Subtask("task-new", "update docs")
	require.NoError(t, err)
	assert.Equal(t, "subtask-new", id)
}

func TestResolver_TitleTaken(t *testing.T) {
	cache := NewPendingCache()
	r := New(testGraph(), cache)

	assert.True(t, r.TitleTaken(KindTask, "project-1", "design"))
	assert.False(t, r.TitleTaken(KindTask, "project-1", "Deploy"))
	cache.Register(KindTask, "project-1", "task-9", "Deploy")
	assert.True(t, r.TitleTaken(KindTask, "project-1", "deploy"))
	assert.True(t, r.TitleTaken(KindSubtask, "task-1", "Wireframes"))
	assert.True(t, r.TitleTaken(KindProject, "", "p1"))
}

func TestPendingCache_Entries(t *testing.T) {
	cache := NewPendingCache()
	cache.Register(KindTask, "project-1", "task-a", "A")
	cache.Register(KindSubtask, "task-a", "subtask-b", "B")
	cache.Materialize("task-a")

	entries := cache.Entries()
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Materialized)
	assert.False(t, entries[1].Materialized)
	assert.Equal(t, 2, cache.Len())
}
