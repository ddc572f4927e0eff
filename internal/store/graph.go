package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/p-blackswan/portfolio-agent/internal/domain"
)

// SaveGraph writes g in one transaction: rows are upserted by id and rows
// whose ids no longer appear in g are deleted.
func (s *Store) SaveGraph(ctx context.Context, g *domain.Graph) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin graph save: %w", err)
	}
	defer tx.Rollback()

	keep := map[string]map[string]bool{
		"projects":   {},
		"people":     {},
		"tasks":      {},
		"subtasks":   {},
		"activities": {},
	}
	for _, p := range g.Projects {
		keep["projects"][p.ID] = true
		for _, t := range p.Plan {
			keep["tasks"][t.ID] = true
			for _, st := range t.Subtasks {
				keep["subtasks"][st.ID] = true
			}
		}
		for _, a := range p.RecentActivity {
			keep["activities"][a.ID] = true
		}
	}
	for _, person := range g.People {
		keep["people"][person.ID] = true
	}

	for _, table := range []string{"subtasks", "activities", "tasks", "projects", "people"} {
		if err := prune(ctx, tx, table, keep[table]); err != nil {
			return err
		}
	}

	now := time.Now().UnixMilli()
	for i, person := range g.People {
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO people (id, name, team, email, position, created_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, team = excluded.team,
			email = excluded.email, position = excluded.position`,
			person.ID, person.Name, person.Team, person.Email, i, now); err != nil {
			return fmt.Errorf("failed to save person %s: %w", person.ID, err)
		}
	}

	for i, p := range g.Projects {
		if err := saveProject(ctx, tx, p, i, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit graph save: %w", err)
	}
	s.logger.Debug().Int("projects", len(g.Projects)).Int("people", len(g.People)).Msg("graph saved")
	return nil
}

func saveProject(ctx context.Context, tx *sql.Tx, p domain.Project, pos int, now int64) error {
	stakeholders := p.Stakeholders
	if stakeholders == nil {
		stakeholders = []domain.Person{}
	}
	sh, err := json.Marshal(stakeholders)
	if err != nil {
		return fmt.Errorf("failed to encode stakeholders: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
	INSERT INTO projects (id, name, status, priority, progress, description, executive_update,
		last_update, start_date, target_date, stakeholders, position, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET name = excluded.name, status = excluded.status,
		priority = excluded.priority, progress = excluded.progress, description = excluded.description,
		executive_update = excluded.executive_update, last_update = excluded.last_update,
		start_date = excluded.start_date, target_date = excluded.target_date,
		stakeholders = excluded.stakeholders, position = excluded.position, updated_at = excluded.updated_at`,
		p.ID, p.Name, p.Status, p.Priority, p.Progress, p.Description, p.ExecutiveUpdate,
		p.LastUpdate, p.StartDate, p.TargetDate, string(sh), pos, now, now); err != nil {
		return fmt.Errorf("failed to save project %s: %w", p.ID, err)
	}

	for i, t := range p.Plan {
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (id, project_id, title, status, due_date, completed_date, position)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET project_id = excluded.project_id, title = excluded.title,
			status = excluded.status, due_date = excluded.due_date,
			completed_date = excluded.completed_date, position = excluded.position`,
			t.ID, p.ID, t.Title, string(t.Status), t.DueDate, t.CompletedDate, i); err != nil {
			return fmt.Errorf("failed to save task %s: %w", t.ID, err)
		}
		for j, st := range t.Subtasks {
			if _, err := tx.ExecContext(ctx, `
			INSERT INTO subtasks (id, task_id, title, status, due_date, completed_date, position)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET task_id = excluded.task_id, title = excluded.title,
				status = excluded.status, due_date = excluded.due_date,
				completed_date = excluded.completed_date, position = excluded.position`,
				st.ID, t.ID, st.Title, string(st.Status), st.DueDate, st.CompletedDate, j); err != nil {
				return fmt.Errorf("failed to save subtask %s: %w", st.ID, err)
			}
		}
	}

	for i, a := range p.RecentActivity {
		var tc sql.NullString
		if a.TaskContext != nil {
			b, err := json.Marshal(a.TaskContext)
			if err != nil {
				return fmt.Errorf("failed to encode task context: %w", err)
			}
			tc = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO activities (id, project_id, date, note, author, author_id, task_context, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET project_id = excluded.project_id, date = excluded.date,
			note = excluded.note, author = excluded.author, author_id = excluded.author_id,
			task_context = excluded.task_context, position = excluded.position`,
			a.ID, p.ID, a.Date, a.Note, a.Author,
			sql.NullString{String: a.AuthorID, Valid: a.AuthorID != ""},
			tc, i); err != nil {
			return fmt.Errorf("failed to save activity %s: %w", a.ID, err)
		}
	}
	return nil
}

func prune(ctx context.Context, tx *sql.Tx, table string, keep map[string]bool) error {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM `+table)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", table, err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete %s %s: %w", table, id, err)
		}
	}
	return nil
}

// LoadGraph reads the whole portfolio in stored order.
func (s *Store) LoadGraph(ctx context.Context) (domain.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g := domain.Graph{Projects: []domain.Project{}}

	people, err := s.loadPeople(ctx)
	if err != nil {
		return g, err
	}
	g.People = people

	rows, err := s.db.QueryContext(ctx, `
	SELECT id, name, status, priority, progress, description, executive_update,
	       last_update, start_date, target_date, stakeholders
	FROM projects ORDER BY position, id`)
	if err != nil {
		return g, fmt.Errorf("failed to query projects: %w", err)
	}
	index := map[string]int{}
	for rows.Next() {
		var p domain.Project
		var sh string
		if err := rows.Scan(&p.ID, &p.Name, &p.Status, &p.Priority, &p.Progress, &p.Description,
			&p.ExecutiveUpdate, &p.LastUpdate, &p.StartDate, &p.TargetDate, &sh); err != nil {
			rows.Close()
			return g, fmt.Errorf("failed to scan project: %w", err)
		}
		if err := json.Unmarshal([]byte(sh), &p.Stakeholders); err != nil {
			rows.Close()
			return g, fmt.Errorf("failed to decode stakeholders of %s: %w", p.ID, err)
		}
		if len(p.Stakeholders) == 0 {
			p.Stakeholders = nil
		}
		p.Plan = []domain.Task{}
		p.RecentActivity = []domain.Activity{}
		index[p.ID] = len(g.Projects)
		g.Projects = append(g.Projects, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return g, err
	}

	if err := s.loadTasks(ctx, &g, index); err != nil {
		return g, err
	}
	if err := s.loadActivities(ctx, &g, index); err != nil {
		return g, err
	}
	return g, nil
}

func (s *Store) loadPeople(ctx context.Context) ([]domain.Person, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, team, email FROM people ORDER BY position, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query people: %w", err)
	}
	defer rows.Close()

	var out []domain.Person
	for rows.Next() {
		var p domain.Person
		if err := rows.Scan(&p.ID, &p.Name, &p.Team, &p.Email); err != nil {
			return nil, fmt.Errorf("failed to scan person: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) loadTasks(ctx context.Context, g *domain.Graph, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, project_id, title, status, due_date, completed_date
	FROM tasks ORDER BY project_id, position, id`)
	if err != nil {
		return fmt.Errorf("failed to query tasks: %w", err)
	}
	type loc struct{ project, task int }
	where := map[string]loc{}
	for rows.Next() {
		var t domain.Task
		var projectID, status string
		if err := rows.Scan(&t.ID, &projectID, &t.Title, &status, &t.DueDate, &t.CompletedDate); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan task: %w", err)
		}
		pi, ok := index[projectID]
		if !ok {
			continue
		}
		t.Status = domain.Status(status)
		t.Subtasks = []domain.Subtask{}
		where[t.ID] = loc{pi, len(g.Projects[pi].Plan)}
		g.Projects[pi].Plan = append(g.Projects[pi].Plan, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx, `
	SELECT id, task_id, title, status, due_date, completed_date
	FROM subtasks ORDER BY task_id, position, id`)
	if err != nil {
		return fmt.Errorf("failed to query subtasks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var st domain.Subtask
		var taskID, status string
		if err := rows.Scan(&st.ID, &taskID, &st.Title, &status, &st.DueDate, &st.CompletedDate); err != nil {
			return fmt.Errorf("failed to scan subtask: %w", err)
		}
		l, ok := where[taskID]
		if !ok {
			continue
		}
		st.Status = domain.Status(status)
		t := &g.Projects[l.project].Plan[l.task]
		t.Subtasks = append(t.Subtasks, st)
	}
	return rows.Err()
}

func (s *Store) loadActivities(ctx context.Context, g *domain.Graph, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, project_id, date, note, author, author_id, task_context
	FROM activities ORDER BY project_id, position, id`)
	if err != nil {
		return fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a domain.Activity
		var projectID string
		var authorID, tc sql.NullString
		if err := rows.Scan(&a.ID, &projectID, &a.Date, &a.Note, &a.Author, &authorID, &tc); err != nil {
			return fmt.Errorf("failed to scan activity: %w", err)
		}
		pi, ok := index[projectID]
		if !ok {
			continue
		}
		a.AuthorID = authorID.String
		if tc.Valid && tc.String != "" {
			var ctxv domain.TaskContext
			if err := json.Unmarshal([]byte(tc.String), &ctxv); err != nil {
				return fmt.Errorf("failed to decode task context of %s: %w", a.ID, err)
			}
			a.TaskContext = &ctxv
		}
		g.Projects[pi].RecentActivity = append(g.Projects[pi].RecentActivity, a)
	}
	return rows.Err()
}

// IsEmpty reports whether no project has ever been stored.
func (s *Store) IsEmpty(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to count projects: %w", err)
	}
	return n == 0, nil
}
