package delta

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/portfolio-agent/internal/domain"
	perrors "github.com/p-blackswan/portfolio-agent/internal/errors"
)

func ptr[T any](v T) *T { return &v }

func graph() *domain.Graph {
	return &domain.Graph{Projects: []domain.Project{{
		ID:       "project-1",
		Name:     "P1",
		Status:   "active",
		Progress: 50,
		Plan: []domain.Task{{
			ID: "task-1", Title: "Design", Status: domain.StatusCompleted, CompletedDate: "2024-01-02",
			Subtasks: []domain.Subtask{{ID: "subtask-1", Title: "Wireframes", Status: domain.StatusTodo}},
		}},
		RecentActivity: []domain.Activity{{ID: "activity-1", Note: "hi"}},
	}}}
}

func TestApply_Removals(t *testing.T) {
	g := graph()

	require.NoError(t, Delta{Op: OpRemoveSubtask, ProjectID: "project-1", TaskID: "task-1", SubtaskID: "subtask-1"}.Apply(g))
	assert.Empty(t, g.Projects[0].Plan[0].Subtasks)

	require.NoError(t, Delta{Op: OpRemoveActivity, ProjectID: "project-1", ActivityID: "activity-1"}.Apply(g))
	assert.Empty(t, g.Projects[0].RecentActivity)

	require.NoError(t, Delta{Op: OpRemoveTask, ProjectID: "project-1", TaskID: "task-1"}.Apply(g))
	assert.Empty(t, g.Projects[0].Plan)

	err := Delta{Op: OpRemoveTask, ProjectID: "project-1", TaskID: "task-1"}.Apply(g)
	assert.ErrorIs(t, err, perrors.ErrNotFound)
}

func TestApply_RestoreOnlyCapturedFields(t *testing.T) {
	g := graph()
	task := &g.Projects[0].Plan[0]
	task.Status = domain.StatusTodo
	task.CompletedDate = ""
	task.Title = "Design v2"

	d := Delta{Op: OpRestoreTask, ProjectID: "project-1", TaskID: "task-1", Prior: &Fields{
		Status:        ptr("completed"),
		CompletedDate: ptr("2024-01-02"),
	}}
	require.NoError(t, d.Apply(g))
	assert.Equal(t, domain.StatusCompleted, task.Status)
	assert.Equal(t, "2024-01-02", task.CompletedDate)
	assert.Equal(t, "Design v2", task.Title, "fields not captured are left alone")
}

func TestApply_RestoreProject(t *testing.T) {
	g := graph()
	p := &g.Projects[0]
	p.Progress = 80
	p.Name = "Renamed"

	d := Delta{Op: OpRestoreProject, ProjectID: "project-1", Prior: &Fields{Progress: ptr(50), Name: ptr("P1")}}
	require.NoError(t, d.Apply(g))
	assert.Equal(t, 50, p.Progress)
	assert.Equal(t, "P1", p.Name)
	assert.Equal(t, "active", p.Status)
}

func TestApply_RestoredNameTaken(t *testing.T) {
	g := graph()
	g.Projects[0].Name = "Gamma"
	g.Projects = append(g.Projects, domain.Project{ID: "project-2", Name: "p1"})

	d := Delta{Op: OpRestoreProject, ProjectID: "project-1", Prior: &Fields{Name: ptr("P1"), Progress: ptr(10)}}
	err := d.Apply(g)
	assert.ErrorIs(t, err, perrors.ErrConflict)
	assert.Equal(t, "Gamma", g.Projects[0].Name)
	assert.Equal(t, 50, g.Projects[0].Progress, "graph untouched on conflict")

	// Restoring the name a project already holds is not a collision.
	g.Projects[1].Name = "Beta"
	g.Projects[0].Name = "p1"
	require.NoError(t, d.Apply(g))
	assert.Equal(t, "P1", g.Projects[0].Name)
}

func TestApply_RestoredTitleTaken(t *testing.T) {
	g := graph()
	p := &g.Projects[0]
	p.Plan[0].Title = "Design v2"
	p.Plan = append(p.Plan, domain.Task{ID: "task-2", Title: "design"})

	err := Delta{Op: OpRestoreTask, ProjectID: "project-1", TaskID: "task-1", Prior: &Fields{Title: ptr("Design")}}.Apply(g)
	assert.ErrorIs(t, err, perrors.ErrConflict)
	assert.Equal(t, "Design v2", p.Plan[0].Title)

	task := &p.Plan[0]
	task.Subtasks = append(task.Subtasks, domain.Subtask{ID: "subtask-2", Title: "Wireframes"})
	task.Subtasks[0].Title = "Mockups"
	err = Delta{Op: OpRestoreSubtask, ProjectID: "project-1", TaskID: "task-1", SubtaskID: "subtask-1", Prior: &Fields{Title: ptr("wireframes")}}.Apply(g)
	assert.ErrorIs(t, err, perrors.ErrConflict)
	assert.Equal(t, "Mockups", task.Subtasks[0].Title)
}

func TestApply_MissingProject(t *testing.T) {
	err := Delta{Op: OpRestoreProject, ProjectID: "project-9"}.Apply(graph())
	assert.ErrorIs(t, err, perrors.ErrNotFound)
}

func TestCreatesAndTouches(t *testing.T) {
	d := Delta{Op: OpRemoveSubtask, ProjectID: "project-1", TaskID: "task-1", SubtaskID: "subtask-1"}
	assert.Equal(t, "subtask-1", d.Creates())
	assert.Equal(t, []string{"project-1", "task-1", "subtask-1"}, d.Touches())

	u := Delta{Op: OpRestoreTask, ProjectID: "project-1", TaskID: "task-1", Prior: &Fields{}}
	assert.Empty(t, u.Creates())
	assert.True(t, u.Prior.Empty())
}

func TestTargetAndEntity(t *testing.T) {
	tests := []struct {
		d      Delta
		target string
		entity string
	}{
		{Delta{Op: OpRemoveActivity, ProjectID: "p", TaskID: "t", ActivityID: "a"}, "a", "activity"},
		{Delta{Op: OpRemoveTask, ProjectID: "p", TaskID: "t"}, "t", "task"},
		{Delta{Op: OpRestoreSubtask, ProjectID: "p", TaskID: "t", SubtaskID: "s"}, "s", "subtask"},
		{Delta{Op: OpRestoreProject, ProjectID: "p"}, "p", "project"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.target, tt.d.Target(), tt.d.Op)
		assert.Equal(t, tt.entity, tt.d.Entity(), tt.d.Op)
	}
}

func TestDelta_JSON(t *testing.T) {
	d := Delta{Op: OpRestoreSubtask, ProjectID: "p", TaskID: "t", SubtaskID: "s", Prior: &Fields{DueDate: ptr("")}}
	b, err := json.Marshal(d)
	require.NoError(t, err)

	var back Delta
	require.NoError(t, json.Unmarshal(b, &back))
	require.NotNil(t, back.Prior.DueDate, "an empty prior value is still a captured value")
	assert.Equal(t, "", *back.Prior.DueDate)
}
