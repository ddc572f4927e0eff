package orchestrator

import (
	"context"
	"fmt"

	"github.com/p-blackswan/portfolio-agent/internal/domain"
	perrors "github.com/p-blackswan/portfolio-agent/internal/errors"
)

// ImportMode selects how an imported graph combines with the current one.
type ImportMode string

const (
	ImportReplace ImportMode = "replace"
	ImportMerge   ImportMode = "merge"
)

// ParseImportMode defaults to merge.
func ParseImportMode(s string) (ImportMode, error) {
	switch ImportMode(s) {
	case "", ImportMerge:
		return ImportMerge, nil
	case ImportReplace:
		return ImportReplace, nil
	}
	return "", fmt.Errorf("%w: import mode %q", perrors.ErrInvalidInput, s)
}

// Import swaps in an externally supplied graph. It refuses while a batch is
// running or suspended. Replace drops the undo history since recorded
// deltas no longer describe the graph.
func (o *Orchestrator) Import(ctx context.Context, g domain.Graph, mode ImportMode) (domain.Graph, error) {
	if err := o.tryAcquire(); err != nil {
		return domain.Graph{}, err
	}
	defer o.release()

	if err := o.ensureNotSuspended(); err != nil {
		return domain.Graph{}, err
	}

	var next domain.Graph
	switch mode {
	case ImportReplace:
		next = g.Clone()
	case ImportMerge:
		next = Merge(o.Snapshot(), g)
	default:
		return domain.Graph{}, fmt.Errorf("%w: import mode %q", perrors.ErrInvalidInput, mode)
	}
	if err := checkImportable(next); err != nil {
		return domain.Graph{}, err
	}
	if mode == ImportReplace {
		if err := o.ledger.Reset(ctx); err != nil {
			return domain.Graph{}, fmt.Errorf("reset ledger: %w", err)
		}
	}

	o.commit(next)
	if err := o.persist(ctx); err != nil {
		return domain.Graph{}, err
	}
	o.logger.Info().
		Str("mode", string(mode)).
		Int("projects", len(next.Projects)).
		Int("people", len(next.People)).
		Msg("graph imported")
	return next.Clone(), nil
}

// Merge overlays incoming onto base by id. Incoming projects and people
// replace those with the same id; new ones are appended in incoming order.
func Merge(base, incoming domain.Graph) domain.Graph {
	out := base.Clone()
	for _, p := range incoming.Projects {
		if cur := out.Project(p.ID); cur != nil {
			*cur = p.Clone()
			continue
		}
		out.Projects = append(out.Projects, p.Clone())
	}
	for _, person := range incoming.People {
		replaced := false
		for i := range out.People {
			if out.People[i].ID == person.ID {
				out.People[i] = person
				replaced = true
				break
			}
		}
		if !replaced {
			out.People = append(out.People, person)
		}
	}
	return out
}

// checkImportable rejects graphs the store could not hold: entities
// without ids, repeated ids and project or person names that collide
// case-insensitively.
func checkImportable(g domain.Graph) error {
	ids := map[string]bool{}
	claim := func(kind, id string) error {
		if id == "" {
			return fmt.Errorf("%w: %s without id", perrors.ErrInvalidInput, kind)
		}
		if ids[id] {
			return fmt.Errorf("%w: duplicate id %q", perrors.ErrInvalidInput, id)
		}
		ids[id] = true
		return nil
	}

	names := map[string]bool{}
	for _, p := range g.Projects {
		if err := claim("project", p.ID); err != nil {
			return err
		}
		key := domain.NormalizeTitle(p.Name)
		if names[key] {
			return fmt.Errorf("%w: duplicate project name %q", perrors.ErrInvalidInput, p.Name)
		}
		names[key] = true
		for _, t := range p.Plan {
			if err := claim("task", t.ID); err != nil {
				return err
			}
			for _, st := range t.Subtasks {
				if err := claim("subtask", st.ID); err != nil {
					return err
				}
			}
		}
		for _, a := range p.RecentActivity {
			if err := claim("activity", a.ID); err != nil {
				return err
			}
		}
	}

	people := map[string]bool{}
	for _, person := range g.People {
		if err := claim("person", person.ID); err != nil {
			return err
		}
		key := domain.NormalizeTitle(person.Name)
		if people[key] {
			return fmt.Errorf("%w: duplicate person name %q", perrors.ErrInvalidInput, person.Name)
		}
		people[key] = true
	}
	return nil
}
