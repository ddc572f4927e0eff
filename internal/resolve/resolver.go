// Package resolve maps textual or id references onto canonical entity ids.
package resolve

import (
	"fmt"

	"github.com/p-blackswan/portfolio-agent/internal/domain"
	perrors "github.com/p-blackswan/portfolio-agent/internal/errors"
)

// Resolver looks references up in the committed snapshot first and then in
// the batch's pending cache. Title matching is case-insensitive and exact;
// more than one match is an error, never a guess. Lookups have no side effects.
type Resolver struct {
	graph   *domain.Graph
	pending *PendingCache
}

// New creates a resolver over a snapshot and a batch cache. pending may be nil.
func New(graph *domain.Graph, pending *PendingCache) *Resolver {
	if pending == nil {
		pending = NewPendingCache()
	}
	return &Resolver{graph: graph, pending: pending}
}

// Resolve returns the id of the entity of kind under ownerID named by ref.
// ownerID is ignored for projects and is the task id for subtasks.
func (r *Resolver) Resolve(kind Kind, ownerID, ref string) (string, error) {
	switch kind {
	case KindProject:
		return r.Project(ref)
	case KindTask:
		return r.Task(ownerID, ref)
	case KindSubtask:
		return r.Subtask(ownerID, ref)
	default:
		return "", fmt.Errorf("%w: unknown kind %q", perrors.ErrInvalidInput, kind)
	}
}

// Project resolves a project reference.
func (r *Resolver) Project(ref string) (string, error) {
	if ref == "" {
		return "", notFound(KindProject, ref)
	}
	if p := r.graph.Project(ref); p != nil {
		return p.ID, nil
	}
	matches := r.graph.ProjectsNamed(ref)
	switch len(matches) {
	case 0:
		return "", notFound(KindProject, ref)
	case 1:
		return matches[0].ID, nil
	default:
		ids := make([]string, len(matches))
		for i, p := range matches {
			ids[i] = p.ID
		}
		return "", &perrors.AmbiguityError{Kind: string(KindProject), Reference: ref, Matches: ids}
	}
}

// Task resolves a task reference under a project.
func (r *Resolver) Task(projectID, ref string) (string, error) {
	if ref == "" {
		return "", notFound(KindTask, ref)
	}
	if p := r.graph.Project(projectID); p != nil {
		if t := p.Task(ref); t != nil {
			return t.ID, nil
		}
		matches := p.TasksTitled(ref)
		if len(matches) == 1 {
			return matches[0].ID, nil
		}
		if len(matches) > 1 {
			ids := make([]string, len(matches))
			for i, t := range matches {
				ids[i] = t.ID
			}
			return "", &perrors.AmbiguityError{Kind: string(KindTask), Reference: ref, Matches: ids}
		}
	}
	if e, ok := r.pending.Lookup(KindTask, projectID, ref); ok {
		return e.ID, nil
	}
	return "", notFound(KindTask, ref)
}

// Subtask resolves a subtask reference under a task, committed or pending.
func (r *Resolver) Subtask(taskID, ref string) (string, error) {
	if ref == "" {
		return "", notFound(KindSubtask, ref)
	}
	if t := r.findTask(taskID); t != nil {
		if s := t.Subtask(ref); s != nil {
			return s.ID, nil
		}
		matches := t.SubtasksTitled(ref)
		if len(matches) == 1 {
			return matches[0].ID, nil
		}
		if len(matches) > 1 {
			ids := make([]string, len(matches))
			for i, s := range matches {
				ids[i] = s.ID
			}
			return "", &perrors.AmbiguityError{Kind: string(KindSubtask), Reference: ref, Matches: ids}
		}
	}
	if e, ok := r.pending.Lookup(KindSubtask, taskID, ref); ok {
		return e.ID, nil
	}
	return "", notFound(KindSubtask, ref)
}

// TitleTaken reports whether the owner already has an entity of kind with
// this title, committed or pending.
func (r *Resolver) TitleTaken(kind Kind, ownerID, title string) bool {
	return r.TitleTakenByOther(kind, ownerID, title, "")
}

// TitleTakenByOther is TitleTaken ignoring the entity selfID, for renames.
func (r *Resolver) TitleTakenByOther(kind Kind, ownerID, title, selfID string) bool {
	switch kind {
	case KindTask:
		if p := r.graph.Project(ownerID); p != nil {
			for _, t := range p.TasksTitled(title) {
				if t.ID != selfID {
					return true
				}
			}
		}
	case KindSubtask:
		if t := r.findTask(ownerID); t != nil {
			for _, s := range t.SubtasksTitled(title) {
				if s.ID != selfID {
					return true
				}
			}
		}
	case KindProject:
		for _, p := range r.graph.ProjectsNamed(title) {
			if p.ID != selfID {
				return true
			}
		}
		return false
	}
	e, ok := r.pending.Lookup(kind, ownerID, title)
	return ok && e.ID != selfID
}

func (r *Resolver) findTask(taskID string) *domain.Task {
	for i := range r.graph.Projects {
		if t := r.graph.Projects[i].Task(taskID); t != nil {
			return t
		}
	}
	return nil
}

func notFound(kind Kind, ref string) error {
	return fmt.Errorf("%w: %s %q", perrors.ErrNotFound, kind, ref)
}
