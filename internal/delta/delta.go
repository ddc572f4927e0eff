// Package delta records the inverse of one committed mutation.
package delta

import (
	"fmt"

	"github.com/p-blackswan/portfolio-agent/internal/domain"
	perrors "github.com/p-blackswan/portfolio-agent/internal/errors"
)

// Op is the kind of reversal a delta performs.
type Op string

const (
	OpRemoveActivity Op = "remove_activity"
	OpRemoveTask     Op = "remove_task"
	OpRemoveSubtask  Op = "remove_subtask"
	OpRestoreTask    Op = "restore_task"
	OpRestoreSubtask Op = "restore_subtask"
	OpRestoreProject Op = "restore_project"
)

// Fields holds the prior values of only the fields an update changed.
// A nil pointer means the field was not touched.
type Fields struct {
	Title           *string `json:"title,omitempty"`
	Status          *string `json:"status,omitempty"`
	DueDate         *string `json:"dueDate,omitempty"`
	CompletedDate   *string `json:"completedDate,omitempty"`
	Name            *string `json:"name,omitempty"`
	Priority        *string `json:"priority,omitempty"`
	Progress        *int    `json:"progress,omitempty"`
	Description     *string `json:"description,omitempty"`
	ExecutiveUpdate *string `json:"executiveUpdate,omitempty"`
	StartDate       *string `json:"startDate,omitempty"`
	TargetDate      *string `json:"targetDate,omitempty"`
	LastUpdate      *string `json:"lastUpdate,omitempty"`
}

// Empty reports whether no field was captured.
func (f Fields) Empty() bool {
	return f == Fields{}
}

// Delta is enough to undo one mutation without the forward action. For
// comments TaskID and SubtaskID record the discussed entities.
type Delta struct {
	Op         Op      `json:"op"`
	ProjectID  string  `json:"projectId"`
	TaskID     string  `json:"taskId,omitempty"`
	SubtaskID  string  `json:"subtaskId,omitempty"`
	ActivityID string  `json:"activityId,omitempty"`
	Prior      *Fields `json:"prior,omitempty"`
}

// Creates returns the id of the entity the forward mutation created, or "".
func (d Delta) Creates() string {
	switch d.Op {
	case OpRemoveActivity:
		return d.ActivityID
	case OpRemoveTask:
		return d.TaskID
	case OpRemoveSubtask:
		return d.SubtaskID
	}
	return ""
}

// Touches lists every entity id the delta depends on, including the one it creates.
func (d Delta) Touches() []string {
	var out []string
	for _, id := range []string{d.ProjectID, d.TaskID, d.SubtaskID, d.ActivityID} {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Target returns the id of the entity the forward mutation created or changed.
func (d Delta) Target() string {
	switch d.Op {
	case OpRemoveActivity:
		return d.ActivityID
	case OpRemoveTask, OpRestoreTask:
		return d.TaskID
	case OpRemoveSubtask, OpRestoreSubtask:
		return d.SubtaskID
	}
	return d.ProjectID
}

// Entity names the kind of entity Target refers to.
func (d Delta) Entity() string {
	switch d.Op {
	case OpRemoveActivity:
		return "activity"
	case OpRemoveTask, OpRestoreTask:
		return "task"
	case OpRemoveSubtask, OpRestoreSubtask:
		return "subtask"
	}
	return "project"
}

// Apply reverses the mutation on g. It fails without changing g when the
// target no longer exists or when a restored name is now held by a sibling.
func (d Delta) Apply(g *domain.Graph) error {
	p := g.Project(d.ProjectID)
	if p == nil {
		return gone("project", d.ProjectID)
	}
	if err := d.nameConflict(g, p); err != nil {
		return err
	}

	switch d.Op {
	case OpRemoveActivity:
		if !p.RemoveActivity(d.ActivityID) {
			return gone("activity", d.ActivityID)
		}
	case OpRemoveTask:
		if !p.RemoveTask(d.TaskID) {
			return gone("task", d.TaskID)
		}
	case OpRemoveSubtask:
		t := p.Task(d.TaskID)
		if t == nil {
			return gone("task", d.TaskID)
		}
		if !t.RemoveSubtask(d.SubtaskID) {
			return gone("subtask", d.SubtaskID)
		}
	case OpRestoreTask:
		t := p.Task(d.TaskID)
		if t == nil {
			return gone("task", d.TaskID)
		}
		restoreTask(t, d.prior())
	case OpRestoreSubtask:
		t := p.Task(d.TaskID)
		if t == nil {
			return gone("task", d.TaskID)
		}
		s := t.Subtask(d.SubtaskID)
		if s == nil {
			return gone("subtask", d.SubtaskID)
		}
		restoreSubtask(s, d.prior())
	case OpRestoreProject:
		restoreProject(p, d.prior())
	default:
		return fmt.Errorf("%w: unknown delta op %q", perrors.ErrInvalidInput, d.Op)
	}
	return nil
}

// Describe is a short label for logs and outcome lists.
func (d Delta) Describe() string {
	switch d.Op {
	case OpRemoveActivity:
		return "remove comment " + d.ActivityID
	case OpRemoveTask:
		return "remove task " + d.TaskID
	case OpRemoveSubtask:
		return "remove subtask " + d.SubtaskID
	case OpRestoreTask:
		return "restore task " + d.TaskID
	case OpRestoreSubtask:
		return "restore subtask " + d.SubtaskID
	case OpRestoreProject:
		return "restore project " + d.ProjectID
	}
	return string(d.Op)
}

// nameConflict checks that a restored project name or task/subtask title
// would not collide with another entity under the same owner.
func (d Delta) nameConflict(g *domain.Graph, p *domain.Project) error {
	f := d.prior()
	switch d.Op {
	case OpRestoreProject:
		if f.Name == nil {
			return nil
		}
		for _, other := range g.ProjectsNamed(*f.Name) {
			if other.ID != p.ID {
				return taken("project name", *f.Name, other.ID)
			}
		}
	case OpRestoreTask:
		if f.Title == nil {
			return nil
		}
		for _, other := range p.TasksTitled(*f.Title) {
			if other.ID != d.TaskID {
				return taken("task title", *f.Title, other.ID)
			}
		}
	case OpRestoreSubtask:
		t := p.Task(d.TaskID)
		if f.Title == nil || t == nil {
			return nil
		}
		for _, other := range t.SubtasksTitled(*f.Title) {
			if other.ID != d.SubtaskID {
				return taken("subtask title", *f.Title, other.ID)
			}
		}
	}
	return nil
}

func (d Delta) prior() Fields {
	if d.Prior == nil {
		return Fields{}
	}
	return *d.Prior
}

func restoreTask(t *domain.Task, f Fields) {
	set(&t.Title, f.Title)
	if f.Status != nil {
		t.Status = domain.Status(*f.Status)
	}
	set(&t.DueDate, f.DueDate)
	set(&t.CompletedDate, f.CompletedDate)
}

func restoreSubtask(s *domain.Subtask, f Fields) {
	set(&s.Title, f.Title)
	if f.Status != nil {
		s.Status = domain.Status(*f.Status)
	}
	set(&s.DueDate, f.DueDate)
	set(&s.CompletedDate, f.CompletedDate)
}

func restoreProject(p *domain.Project, f Fields) {
	set(&p.Name, f.Name)
	set(&p.Status, f.Status)
	set(&p.Priority, f.Priority)
	if f.Progress != nil {
		p.Progress = *f.Progress
	}
	set(&p.Description, f.Description)
	set(&p.ExecutiveUpdate, f.ExecutiveUpdate)
	set(&p.StartDate, f.StartDate)
	set(&p.TargetDate, f.TargetDate)
	set(&p.LastUpdate, f.LastUpdate)
}

func set(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func taken(what, name, holder string) error {
	return fmt.Errorf("%w: %s %q is now used by %s", perrors.ErrConflict, what, name, holder)
}

func gone(kind, id string) error {
	return fmt.Errorf("%w: %s %s no longer exists", perrors.ErrNotFound, kind, id)
}
