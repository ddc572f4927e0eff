// Package domain defines the project portfolio entity graph.
//
// A Graph is a plain value: slices of structs with no shared pointers, so
// Clone produces a fully independent working copy that a batch can mutate
// before it is committed.
package domain

import "strings"

// Status is the lifecycle state of a task or subtask.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// Project status and priority defaults.
const (
	DefaultProjectStatus   = "planning"
	DefaultProjectPriority = "medium"
)

// ProjectStatuses lists the accepted project states.
var ProjectStatuses = []string{"planning", "active", "on-hold", "completed", "cancelled"}

// Priorities lists the accepted project priorities.
var Priorities = []string{"low", "medium", "high", "critical"}

// Person is referenced, never owned, by projects and activities.
type Person struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Team  string `json:"team,omitempty" yaml:"team"`
	Email string `json:"email,omitempty" yaml:"email"`
}

// TaskContext links an activity note to the task (and optionally subtask) it discusses.
type TaskContext struct {
	TaskID       string `json:"taskId" yaml:"taskId"`
	TaskTitle    string `json:"taskTitle" yaml:"taskTitle"`
	SubtaskID    string `json:"subtaskId,omitempty" yaml:"subtaskId"`
	SubtaskTitle string `json:"subtaskTitle,omitempty" yaml:"subtaskTitle"`
}

// Activity is a timestamped note in a project's feed.
type Activity struct {
	ID          string       `json:"id" yaml:"id"`
	Date        string       `json:"date" yaml:"date"`
	Note        string       `json:"note" yaml:"note"`
	Author      string       `json:"author" yaml:"author"`
	AuthorID    string       `json:"authorId,omitempty" yaml:"authorId"`
	TaskContext *TaskContext `json:"taskContext,omitempty" yaml:"taskContext"`
}

// Subtask is owned by exactly one Task.
type Subtask struct {
	ID            string `json:"id" yaml:"id"`
	Title         string `json:"title" yaml:"title"`
	Status        Status `json:"status" yaml:"status"`
	DueDate       string `json:"dueDate,omitempty" yaml:"dueDate"`
	CompletedDate string `json:"completedDate,omitempty" yaml:"completedDate"`
}

// Task is owned by exactly one Project.
type Task struct {
	ID            string    `json:"id" yaml:"id"`
	Title         string    `json:"title" yaml:"title"`
	Status        Status    `json:"status" yaml:"status"`
	DueDate       string    `json:"dueDate,omitempty" yaml:"dueDate"`
	CompletedDate string    `json:"completedDate,omitempty" yaml:"completedDate"`
	Subtasks      []Subtask `json:"subtasks" yaml:"subtasks"`
}

// Project is the root of ownership for tasks and activities.
type Project struct {
	ID              string     `json:"id" yaml:"id"`
	Name            string     `json:"name" yaml:"name"`
	Status          string     `json:"status" yaml:"status"`
	Priority        string     `json:"priority" yaml:"priority"`
	Progress        int        `json:"progress" yaml:"progress"`
	Description     string     `json:"description" yaml:"description"`
	ExecutiveUpdate string     `json:"executiveUpdate,omitempty" yaml:"executiveUpdate"`
	LastUpdate      string     `json:"lastUpdate,omitempty" yaml:"lastUpdate"`
	StartDate       string     `json:"startDate,omitempty" yaml:"startDate"`
	TargetDate      string     `json:"targetDate,omitempty" yaml:"targetDate"`
	Stakeholders    []Person   `json:"stakeholders" yaml:"stakeholders"`
	Plan            []Task     `json:"plan" yaml:"plan"`
	RecentActivity  []Activity `json:"recentActivity" yaml:"recentActivity"`
}

// Graph is the whole portfolio.
type Graph struct {
	Projects []Project `json:"projects" yaml:"projects"`
	People   []Person  `json:"people" yaml:"people"`
}

// NormalizeTitle is the key used for case-insensitive exact title matching.
func NormalizeTitle(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Clone returns a deep copy of the graph.
func (g Graph) Clone() Graph {
	out := Graph{
		Projects: make([]Project, len(g.Projects)),
		People:   append([]Person(nil), g.People...),
	}
	for i, p := range g.Projects {
		out.Projects[i] = p.Clone()
	}
	return out
}

// Clone returns a deep copy of the project.
func (p Project) Clone() Project {
	cp := p
	cp.Stakeholders = append([]Person(nil), p.Stakeholders...)
	cp.Plan = make([]Task, len(p.Plan))
	for i, t := range p.Plan {
		cp.Plan[i] = t.Clone()
	}
	cp.RecentActivity = make([]Activity, len(p.RecentActivity))
	for i, a := range p.RecentActivity {
		cp.RecentActivity[i] = a
		if a.TaskContext != nil {
			tc := *a.TaskContext
			cp.RecentActivity[i].TaskContext = &tc
		}
	}
	return cp
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	cp := t
	cp.Subtasks = append([]Subtask(nil), t.Subtasks...)
	if cp.Subtasks == nil {
		cp.Subtasks = []Subtask{}
	}
	return cp
}

// Project returns a pointer into the graph, or nil.
func (g *Graph) Project(id string) *Project {
	for i := range g.Projects {
		if g.Projects[i].ID == id {
			return &g.Projects[i]
		}
	}
	return nil
}

// ProjectsNamed returns every project whose name matches case-insensitively.
func (g *Graph) ProjectsNamed(name string) []*Project {
	key := NormalizeTitle(name)
	var out []*Project
	for i := range g.Projects {
		if NormalizeTitle(g.Projects[i].Name) == key {
			out = append(out, &g.Projects[i])
		}
	}
	return out
}

// PersonNamed finds a person by case-insensitive name.
func (g *Graph) PersonNamed(name string) *Person {
	key := NormalizeTitle(name)
	if key == "" {
		return nil
	}
	for i := range g.People {
		if NormalizeTitle(g.People[i].Name) == key {
			return &g.People[i]
		}
	}
	return nil
}

// RemoveProject deletes a project by id and reports whether it existed.
func (g *Graph) RemoveProject(id string) bool {
	for i := range g.Projects {
		if g.Projects[i].ID == id {
			g.Projects = append(g.Projects[:i], g.Projects[i+1:]...)
			return true
		}
	}
	return false
}

// Task returns a pointer into the project, or nil.
func (p *Project) Task(id string) *Task {
	for i := range p.Plan {
		if p.Plan[i].ID == id {
			return &p.Plan[i]
		}
	}
	return nil
}

// TasksTitled returns every task whose title matches case-insensitively.
func (p *Project) TasksTitled(title string) []*Task {
	key := NormalizeTitle(title)
	var out []*Task
	for i := range p.Plan {
		if NormalizeTitle(p.Plan[i].Title) == key {
			out = append(out, &p.Plan[i])
		}
	}
	return out
}

// RemoveTask deletes a task by id and reports whether it existed.
func (p *Project) RemoveTask(id string) bool {
	for i := range p.Plan {
		if p.Plan[i].ID == id {
			p.Plan = append(p.Plan[:i], p.Plan[i+1:]...)
			return true
		}
	}
	return false
}

// Activity returns a pointer into the project feed, or nil.
func (p *Project) Activity(id string) *Activity {
	for i := range p.RecentActivity {
		if p.RecentActivity[i].ID == id {
			return &p.RecentActivity[i]
		}
	}
	return nil
}

// RemoveActivity deletes an activity by id and reports whether it existed.
func (p *Project) RemoveActivity(id string) bool {
	for i := range p.RecentActivity {
		if p.RecentActivity[i].ID == id {
			p.RecentActivity = append(p.RecentActivity[:i], p.RecentActivity[i+1:]...)
			return true
		}
	}
	return false
}

// Subtask returns a pointer into the task, or nil.
func (t *Task) Subtask(id string) *Subtask {
	for i := range t.Subtasks {
		if t.Subtasks[i].ID == id {
			return &t.Subtasks[i]
		}
	}
	return nil
}

// SubtasksTitled returns every subtask whose title matches case-insensitively.
func (t *Task) SubtasksTitled(title string) []*Subtask {
	key := NormalizeTitle(title)
	var out []*Subtask
	for i := range t.Subtasks {
		if NormalizeTitle(t.Subtasks[i].Title) == key {
			out = append(out, &t.Subtasks[i])
		}
	}
	return out
}

// RemoveSubtask deletes a subtask by id and reports whether it existed.
func (t *Task) RemoveSubtask(id string) bool {
	for i := range t.Subtasks {
		if t.Subtasks[i].ID == id {
			t.Subtasks = append(t.Subtasks[:i], t.Subtasks[i+1:]...)
			return true
		}
	}
	return false
}

// ValidStatus reports whether s is one of the task/subtask states.
func ValidStatus(s Status) bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// NormalizeStatus maps common spellings onto the closed status set.
// Unknown values are returned lower-cased so validation can reject them.
func NormalizeStatus(s string) Status {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "in_progress", "inprogress", "in progress", "doing", "started":
		return StatusInProgress
	case "done", "complete", "finished":
		return StatusCompleted
	case "open", "to-do", "to do", "pending", "not started":
		return StatusTodo
	}
	return Status(v)
}
