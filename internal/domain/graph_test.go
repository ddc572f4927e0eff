package domain

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleGraph() Graph {
	return Graph{
		Projects: []Project{{
			ID:   "project-1",
			Name: "Website Redesign",
			Plan: []Task{{
				ID:       "task-1",
				Title:    "Design mockups",
				Status:   StatusInProgress,
				Subtasks: []Subtask{{ID: "subtask-1", Title: "Homepage", Status: StatusTodo}},
			}},
			RecentActivity: []Activity{{
				ID:          "activity-1",
				Note:        "Kickoff done",
				TaskContext: &TaskContext{TaskID: "task-1", TaskTitle: "Design mockups"},
			}},
		}},
		People: []Person{{ID: "person-1", Name: "Alex Chen", Team: "Design"}},
	}
}

func TestGraph_CloneIsDeep(t *testing.T) {
	g := sampleGraph()
	cp := g.Clone()

	cp.Projects[0].Name = "Changed"
	cp.Projects[0].Plan[0].Title = "Changed"
	cp.Projects[0].Plan[0].Subtasks[0].Status = StatusCompleted
	cp.Projects[0].RecentActivity[0].TaskContext.TaskTitle = "Changed"
	cp.People[0].Name = "Changed"

	assert.Equal(t, "Website Redesign", g.Projects[0].Name)
	assert.Equal(t, "Design mockups", g.Projects[0].Plan[0].Title)
	assert.Equal(t, StatusTodo, g.Projects[0].Plan[0].Subtasks[0].Status)
	assert.Equal(t, "Design mockups", g.Projects[0].RecentActivity[0].TaskContext.TaskTitle)
	assert.Equal(t, "Alex Chen", g.People[0].Name)
}

func TestGraph_Lookups(t *testing.T) {
	g := sampleGraph()

	p := g.Project("project-1")
	require.NotNil(t, p)
	assert.Len(t, g.ProjectsNamed("  website REDESIGN "), 1)
	assert.Empty(t, g.ProjectsNamed("website"))

	task := p.Task("task-1")
	require.NotNil(t, task)
	assert.Len(t, p.TasksTitled("design mockups"), 1)
	assert.NotNil(t, task.Subtask("subtask-1"))
	assert.Len(t, task.SubtasksTitled("HOMEPAGE"), 1)
	assert.NotNil(t, g.PersonNamed("alex chen"))
	assert.Nil(t, g.PersonNamed(""))
}

func TestGraph_Remove(t *testing.T) {
	g := sampleGraph()
	p := g.Project("project-1")

	assert.True(t, p.Plan[0].RemoveSubtask("subtask-1"))
	assert.False(t, p.Plan[0].RemoveSubtask("subtask-1"))
	assert.True(t, p.RemoveActivity("activity-1"))
	assert.True(t, p.RemoveTask("task-1"))
	assert.Empty(t, p.Plan)
	assert.True(t, g.RemoveProject("project-1"))
	assert.Empty(t, g.Projects)
}

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]Status{
		"todo":        StatusTodo,
		"In_Progress": StatusInProgress,
		"in-progress": StatusInProgress,
		"done":        StatusCompleted,
		"Completed":   StatusCompleted,
		"blocked":     Status("blocked"),
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeStatus(in), in)
	}
	assert.False(t, ValidStatus(NormalizeStatus("blocked")))
}

func TestNewID(t *testing.T) {
	id := NewID(PrefixTask)
	assert.Regexp(t, regexp.MustCompile(`^task-[0-9a-f]{8}$`), id)
	assert.NotEqual(t, id, NewID(PrefixTask))
}

func TestDates(t *testing.T) {
	now := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-03-15", DateIn(now, 14))
	assert.True(t, ValidDate(""))
	assert.True(t, ValidDate("2024-03-15"))
	assert.True(t, ValidDate("2024-03-15T10:00:00Z"))
	assert.False(t, ValidDate("next friday"))
}
