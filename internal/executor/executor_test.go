package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/portfolio-agent/internal/action"
	"github.com/p-blackswan/portfolio-agent/internal/delta"
	"github.com/p-blackswan/portfolio-agent/internal/domain"
	perrors "github.com/p-blackswan/portfolio-agent/internal/errors"
	"github.com/p-blackswan/portfolio-agent/internal/resolve"
)

var fixedNow = time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

func newTestExecutor() *Executor {
	return New(Config{
		Now:   func() time.Time { return fixedNow },
		NewID: func(prefix string) string { return prefix + "-fixed" },
	}, zerolog.Nop())
}

func testGraph() *domain.Graph {
	return &domain.Graph{
		People: []domain.Person{{ID: "person-1", Name: "Dana Lee"}},
		Projects: []domain.Project{{
			ID: "project-1", Name: "P1", Status: "active", Priority: "high", Progress: 40,
			Plan: []domain.Task{
				{ID: "task-1", Title: "Design", Status: domain.StatusTodo, DueDate: "2025-03-01",
					Subtasks: []domain.Subtask{{ID: "subtask-1", Title: "Wireframes", Status: domain.StatusCompleted, CompletedDate: "2025-02-20"}}},
			},
			RecentActivity: []domain.Activity{{ID: "activity-old", Note: "kickoff"}},
		}},
	}
}

func strp(s string) *string { return &s }

func TestExecute_AddTaskDefaults(t *testing.T) {
	e := newTestExecutor()
	g := testGraph()
	cache := resolve.NewPendingCache()
	cache.Register(resolve.KindTask, "project-1", "task-new", "Deploy API")

	res, err := e.Execute(context.Background(), action.Validated{
		Action: action.AddTask{Project: "P1", Title: "Deploy API"},
		Refs:   action.Refs{ProjectID: "project-1"},
		NewID:  "task-new",
	}, g, cache)
	require.NoError(t, err)
	require.NotNil(t, res.Delta)
	assert.Equal(t, delta.OpRemoveTask, res.Delta.Op)
	assert.Equal(t, "task-new", res.Delta.TaskID)

	task := g.Projects[0].Task("task-new")
	require.NotNil(t, task)
	assert.Equal(t, domain.StatusTodo, task.Status)
	assert.Equal(t, "2025-03-24", task.DueDate)
	assert.Empty(t, task.CompletedDate)
	assert.NotNil(t, task.Subtasks)

	entry, ok := cache.Lookup(resolve.KindTask, "project-1", "task-new")
	require.True(t, ok)
	assert.True(t, entry.Materialized)
}

func TestExecute_AddCompletedSubtaskStampsDate(t *testing.T) {
	e := newTestExecutor()
	g := testGraph()

	res, err := e.Execute(context.Background(), action.Validated{
		Action: action.AddSubtask{Title: "Review", Status: "completed"},
		Refs:   action.Refs{ProjectID: "project-1", TaskID: "task-1"},
		NewID:  "subtask-new",
	}, g, nil)
	require.NoError(t, err)
	assert.Equal(t, delta.OpRemoveSubtask, res.Delta.Op)

	s := g.Projects[0].Plan[0].Subtask("subtask-new")
	require.NotNil(t, s)
	assert.Equal(t, "2025-03-10", s.CompletedDate)
	assert.Equal(t, "2025-03-17", s.DueDate)
}

func TestExecute_AddSubtaskMissingParentLeavesGraph(t *testing.T) {
	e := newTestExecutor()
	g := testGraph()
	before := g.Clone()

	_, err := e.Execute(context.Background(), action.Validated{
		Action: action.AddSubtask{Title: "Review"},
		Refs:   action.Refs{ProjectID: "project-1", TaskID: "task-pending"},
		NewID:  "subtask-new",
	}, g, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, perrors.ErrNotFound))
	assert.Equal(t, before, g.Clone())
}

func TestExecute_UpdateTaskCapturesOnlyChangedFields(t *testing.T) {
	e := newTestExecutor()
	g := testGraph()

	res, err := e.Execute(context.Background(), action.Validated{
		Action: action.UpdateTask{Task: "Design", Status: strp("completed"), Title: strp("Design")},
		Refs:   action.Refs{ProjectID: "project-1", TaskID: "task-1"},
	}, g, nil)
	require.NoError(t, err)
	require.NotNil(t, res.Delta)
	require.NotNil(t, res.Delta.Prior)

	prior := res.Delta.Prior
	assert.Nil(t, prior.Title, "unchanged title is not captured")
	require.NotNil(t, prior.Status)
	assert.Equal(t, "todo", *prior.Status)
	require.NotNil(t, prior.CompletedDate)
	assert.Equal(t, "", *prior.CompletedDate)
	assert.Nil(t, prior.DueDate)

	task := g.Projects[0].Task("task-1")
	assert.Equal(t, domain.StatusCompleted, task.Status)
	assert.Equal(t, "2025-03-10", task.CompletedDate)
}

func TestExecute_RenameOntoSiblingRefused(t *testing.T) {
	e := newTestExecutor()
	g := testGraph()
	p := &g.Projects[0]
	p.Plan = append(p.Plan, domain.Task{ID: "task-2", Title: "Launch"})
	p.Plan[0].Subtasks = append(p.Plan[0].Subtasks, domain.Subtask{ID: "subtask-2", Title: "Mockups"})

	_, err := e.Execute(context.Background(), action.Validated{
		Action: action.UpdateTask{Task: "Design", Title: strp("launch")},
		Refs:   action.Refs{ProjectID: "project-1", TaskID: "task-1"},
	}, g, nil)
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)
	assert.Equal(t, "Design", p.Plan[0].Title)

	_, err = e.Execute(context.Background(), action.Validated{
		Action: action.UpdateSubtask{Task: "Design", Subtask: "Wireframes", Title: strp("MOCKUPS")},
		Refs:   action.Refs{ProjectID: "project-1", TaskID: "task-1", SubtaskID: "subtask-1"},
	}, g, nil)
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)
	assert.Equal(t, "Wireframes", p.Plan[0].Subtasks[0].Title)
}

func TestExecute_UpdateRoundTrip(t *testing.T) {
	e := newTestExecutor()
	g := testGraph()
	before := g.Clone()

	res, err := e.Execute(context.Background(), action.Validated{
		Action: action.UpdateSubtask{Subtask: "Wireframes", Status: strp("in-progress"), DueDate: strp("2025-04-01")},
		Refs:   action.Refs{ProjectID: "project-1", TaskID: "task-1", SubtaskID: "subtask-1"},
	}, g, nil)
	require.NoError(t, err)

	s := g.Projects[0].Plan[0].Subtask("subtask-1")
	assert.Equal(t, domain.StatusInProgress, s.Status)
	assert.Empty(t, s.CompletedDate, "leaving completed clears the date")

	require.NoError(t, res.Delta.Apply(g))
	assert.Equal(t, before, g.Clone())
}

func TestExecute_NoOpUpdateHasNoDelta(t *testing.T) {
	e := newTestExecutor()
	g := testGraph()

	res, err := e.Execute(context.Background(), action.Validated{
		Action: action.UpdateTask{Task: "Design", Status: strp("todo")},
		Refs:   action.Refs{ProjectID: "project-1", TaskID: "task-1"},
	}, g, nil)
	require.NoError(t, err)
	assert.Nil(t, res.Delta)
	assert.Equal(t, "No changes", res.Label)
}

func TestExecute_CommentPrependsWithAuthor(t *testing.T) {
	e := newTestExecutor()
	g := testGraph()
	ctx := WithAuthor(context.Background(), "dana lee")

	res, err := e.Execute(ctx, action.Validated{
		Action: action.Comment{Note: "Blocked on vendor"},
		Refs:   action.Refs{ProjectID: "project-1", TaskID: "task-1", SubtaskID: "subtask-1"},
	}, g, nil)
	require.NoError(t, err)

	acts := g.Projects[0].RecentActivity
	require.Len(t, acts, 2)
	assert.Equal(t, "activity-fixed", acts[0].ID)
	assert.Equal(t, "Dana Lee", acts[0].Author)
	assert.Equal(t, "person-1", acts[0].AuthorID)
	require.NotNil(t, acts[0].TaskContext)
	assert.Equal(t, "Design", acts[0].TaskContext.TaskTitle)
	assert.Equal(t, "Wireframes", acts[0].TaskContext.SubtaskTitle)

	assert.Equal(t, delta.OpRemoveActivity, res.Delta.Op)
	assert.Equal(t, "task-1", res.Delta.TaskID)
	assert.Contains(t, res.Delta.Touches(), "subtask-1")
}

func TestExecute_UpdateProject(t *testing.T) {
	e := newTestExecutor()
	g := testGraph()
	before := g.Clone()
	progress := 75

	res, err := e.Execute(context.Background(), action.Validated{
		Action: action.UpdateProject{Project: "P1", Progress: &progress, Priority: strp("high"), ExecutiveUpdate: strp("On track")},
		Refs:   action.Refs{ProjectID: "project-1"},
	}, g, nil)
	require.NoError(t, err)
	require.NotNil(t, res.Delta.Prior)
	assert.Nil(t, res.Delta.Prior.Priority)
	require.NotNil(t, res.Delta.Prior.Progress)
	assert.Equal(t, 40, *res.Delta.Prior.Progress)

	p := g.Project("project-1")
	assert.Equal(t, 75, p.Progress)
	assert.Equal(t, "On track", p.ExecutiveUpdate)
	assert.Equal(t, "2025-03-10T09:30:00Z", p.LastUpdate)

	require.NoError(t, res.Delta.Apply(g))
	assert.Equal(t, before, g.Clone())
}

func TestExecute_AskUserInterrupts(t *testing.T) {
	e := newTestExecutor()
	g := testGraph()
	before := g.Clone()

	res, err := e.Execute(context.Background(), action.Validated{
		Action: action.AskUser{Question: "Which sprint?", Options: []string{"12", "13"}},
	}, g, nil)
	require.NoError(t, err)
	assert.Nil(t, res.Delta)
	require.NotNil(t, res.Interruption)
	assert.Equal(t, "Which sprint?", res.Interruption.Question)
	assert.Equal(t, before, g.Clone())
}

func TestExecute_MissingProject(t *testing.T) {
	e := newTestExecutor()
	_, err := e.Execute(context.Background(), action.Validated{
		Action: action.Comment{Note: "x"},
		Refs:   action.Refs{ProjectID: "project-gone"},
	}, testGraph(), nil)
	assert.True(t, errors.Is(err, perrors.ErrNotFound))
}

func TestTruncate_RuneBoundaries(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "Zürich Q3 ...", truncate("Zürich Q3 öffentlich", 10))
	assert.True(t, utf8.ValidString(truncate(strings.Repeat("ü", 90), 80)))
}
