// Package seed loads the demo portfolio used to populate an empty store.
package seed

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/p-blackswan/portfolio-agent/internal/domain"
)

//go:embed demo.yaml
var demoYAML []byte

// Target is the storage the seed is written to.
type Target interface {
	IsEmpty(ctx context.Context) (bool, error)
	SaveGraph(ctx context.Context, g *domain.Graph) error
}

// Demo parses the embedded demo portfolio. Missing ids are generated and
// every stakeholder is registered as a person.
func Demo() (domain.Graph, error) {
	return Parse(demoYAML, domain.NewID)
}

// Parse decodes a YAML portfolio and fills in ids with newID.
func Parse(data []byte, newID func(prefix string) string) (domain.Graph, error) {
	var g domain.Graph
	if err := yaml.Unmarshal(data, &g); err != nil {
		return domain.Graph{}, fmt.Errorf("parse seed: %w", err)
	}

	people := make(map[string]int, len(g.People))
	for i := range g.People {
		if g.People[i].ID == "" {
			g.People[i].ID = newID(domain.PrefixPerson)
		}
		people[domain.NormalizeTitle(g.People[i].Name)] = i
	}

	for pi := range g.Projects {
		p := &g.Projects[pi]
		if p.ID == "" {
			p.ID = newID(domain.PrefixProject)
		}
		if p.Status == "" {
			p.Status = domain.DefaultProjectStatus
		}
		if p.Priority == "" {
			p.Priority = domain.DefaultProjectPriority
		}
		for si := range p.Stakeholders {
			s := &p.Stakeholders[si]
			key := domain.NormalizeTitle(s.Name)
			if idx, ok := people[key]; ok {
				s.ID = g.People[idx].ID
				continue
			}
			if s.ID == "" {
				s.ID = newID(domain.PrefixPerson)
			}
			people[key] = len(g.People)
			g.People = append(g.People, *s)
		}
		if p.Plan == nil {
			p.Plan = []domain.Task{}
		}
		for ti := range p.Plan {
			t := &p.Plan[ti]
			if t.ID == "" {
				t.ID = newID(domain.PrefixTask)
			}
			if t.Subtasks == nil {
				t.Subtasks = []domain.Subtask{}
			}
			for k := range t.Subtasks {
				if t.Subtasks[k].ID == "" {
					t.Subtasks[k].ID = newID(domain.PrefixSubtask)
				}
			}
		}
		if p.RecentActivity == nil {
			p.RecentActivity = []domain.Activity{}
		}
		for ai := range p.RecentActivity {
			a := &p.RecentActivity[ai]
			if a.ID == "" {
				a.ID = newID(domain.PrefixActivity)
			}
			if idx, ok := people[domain.NormalizeTitle(a.Author)]; ok && a.AuthorID == "" {
				a.AuthorID = g.People[idx].ID
			}
		}
	}
	return g, nil
}

// Apply writes the demo portfolio when the target holds no projects and
// reports whether it did.
func Apply(ctx context.Context, t Target, logger zerolog.Logger) (bool, error) {
	log := logger.With().Str("component", "seed").Logger()

	empty, err := t.IsEmpty(ctx)
	if err != nil {
		return false, fmt.Errorf("check store: %w", err)
	}
	if !empty {
		log.Debug().Msg("store already populated, skipping seed")
		return false, nil
	}

	g, err := Demo()
	if err != nil {
		return false, err
	}
	if err := t.SaveGraph(ctx, &g); err != nil {
		return false, fmt.Errorf("save seed: %w", err)
	}
	log.Info().Int("projects", len(g.Projects)).Int("people", len(g.People)).Msg("demo portfolio seeded")
	return true, nil
}
