// Package executor applies one validated action to a graph snapshot.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/portfolio-agent/internal/action"
	"github.com/p-blackswan/portfolio-agent/internal/delta"
	"github.com/p-blackswan/portfolio-agent/internal/domain"
	perrors "github.com/p-blackswan/portfolio-agent/internal/errors"
	"github.com/p-blackswan/portfolio-agent/internal/resolve"
)

type contextKey string

// AuthorContextKey carries the display name recorded on comments.
const AuthorContextKey contextKey = "author"

// WithAuthor returns a context whose comments are attributed to name.
func WithAuthor(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, AuthorContextKey, name)
}

// AuthorFromContext extracts the comment author from context.
func AuthorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(AuthorContextKey).(string); ok {
		return v
	}
	return ""
}

// Interruption is raised by ask_user instead of a delta.
type Interruption struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
}

// Result is what one Execute call produced. Delta is nil for no-ops and questions.
type Result struct {
	Delta        *delta.Delta
	Label        string
	Detail       string
	Interruption *Interruption
}

// Config holds date policy and the clock.
type Config struct {
	TaskDueDays    int
	SubtaskDueDays int
	Now            func() time.Time
	NewID          func(prefix string) string
}

// DefaultConfig gives tasks two weeks and subtasks one week when no due date is set.
func DefaultConfig() Config {
	return Config{TaskDueDays: 14, SubtaskDueDays: 7, Now: time.Now, NewID: domain.NewID}
}

// Executor applies validated actions.
type Executor struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates an executor. Zero fields in cfg fall back to DefaultConfig.
func New(cfg Config, logger zerolog.Logger) *Executor {
	def := DefaultConfig()
	if cfg.TaskDueDays <= 0 {
		cfg.TaskDueDays = def.TaskDueDays
	}
	if cfg.SubtaskDueDays <= 0 {
		cfg.SubtaskDueDays = def.SubtaskDueDays
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = def.NewID
	}
	return &Executor{cfg: cfg, logger: logger.With().Str("component", "executor").Logger()}
}

// Execute applies exactly one action to snapshot. Every lookup happens
// before the first write, so an error leaves snapshot untouched.
func (e *Executor) Execute(ctx context.Context, va action.Validated, snapshot *domain.Graph, cache *resolve.PendingCache) (Result, error) {
	if ask, ok := va.Action.(action.AskUser); ok {
		return Result{
			Label:        "Question",
			Detail:       ask.Question,
			Interruption: &Interruption{Question: ask.Question, Options: ask.Options},
		}, nil
	}

	p := snapshot.Project(va.Refs.ProjectID)
	if p == nil {
		return Result{}, missing("project", va.Refs.ProjectID)
	}

	var (
		res Result
		err error
	)
	switch a := va.Action.(type) {
	case action.Comment:
		res, err = e.comment(ctx, snapshot, p, va.Refs, a)
	case action.AddTask:
		res, err = e.addTask(p, va.NewID, a)
	case action.UpdateTask:
		res, err = e.updateTask(p, va.Refs, a)
	case action.AddSubtask:
		res, err = e.addSubtask(p, va.Refs, va.NewID, a)
	case action.UpdateSubtask:
		res, err = e.updateSubtask(p, va.Refs, a)
	case action.UpdateProject:
		res, err = e.updateProject(snapshot, p, a)
	default:
		return Result{}, fmt.Errorf("%w: %T", action.ErrUnknownType, va.Action)
	}
	if err != nil {
		return Result{}, err
	}

	if res.Delta != nil && cache != nil {
		if id := res.Delta.Creates(); id != "" {
			cache.Materialize(id)
		}
	}

	e.logger.Debug().
		Int("action_index", va.Index).
		Str("type", string(va.Type())).
		Str("project_id", p.ID).
		Bool("reversible", res.Delta != nil).
		Msg(res.Label)
	return res, nil
}

func (e *Executor) today() string {
	return e.cfg.Now().Format(domain.DateLayout)
}

func (e *Executor) comment(ctx context.Context, g *domain.Graph, p *domain.Project, refs action.Refs, a action.Comment) (Result, error) {
	var tc *domain.TaskContext
	if refs.TaskID != "" {
		t := p.Task(refs.TaskID)
		if t == nil {
			return Result{}, missing("task", refs.TaskID)
		}
		tc = &domain.TaskContext{TaskID: t.ID, TaskTitle: t.Title}
		if refs.SubtaskID != "" {
			s := t.Subtask(refs.SubtaskID)
			if s == nil {
				return Result{}, missing("subtask", refs.SubtaskID)
			}
			tc.SubtaskID = s.ID
			tc.SubtaskTitle = s.Title
		}
	}

	author := AuthorFromContext(ctx)
	if author == "" {
		author = "Unknown"
	}
	act := domain.Activity{
		ID:          e.cfg.NewID(domain.PrefixActivity),
		Date:        e.cfg.Now().UTC().Format(time.RFC3339),
		Note:        a.Note,
		Author:      author,
		TaskContext: tc,
	}
	if person := g.PersonNamed(author); person != nil {
		act.Author = person.Name
		act.AuthorID = person.ID
	}
	p.RecentActivity = append([]domain.Activity{act}, p.RecentActivity...)

	detail := fmt.Sprintf("on %s: %s", p.Name, truncate(a.Note, 80))
	if tc != nil {
		detail = fmt.Sprintf("on %s / %s: %s", p.Name, tc.TaskTitle, truncate(a.Note, 80))
	}
	return Result{
		Delta: &delta.Delta{
			Op:         delta.OpRemoveActivity,
			ProjectID:  p.ID,
			TaskID:     refs.TaskID,
			SubtaskID:  refs.SubtaskID,
			ActivityID: act.ID,
		},
		Label:  "Added comment",
		Detail: detail,
	}, nil
}

func (e *Executor) addTask(p *domain.Project, id string, a action.AddTask) (Result, error) {
	if id == "" {
		id = e.cfg.NewID(domain.PrefixTask)
	}
	if p.Task(id) != nil {
		return Result{}, fmt.Errorf("%w: task %s already exists", perrors.ErrInvalidInput, id)
	}
	status := domain.Status(a.Status)
	if status == "" {
		status = domain.StatusTodo
	}
	due := a.DueDate
	if due == "" {
		due = domain.DateIn(e.cfg.Now(), e.cfg.TaskDueDays)
	}
	done := a.CompletedDate
	if status == domain.StatusCompleted && done == "" {
		done = e.today()
	}
	p.Plan = append(p.Plan, domain.Task{
		ID:            id,
		Title:         a.Title,
		Status:        status,
		DueDate:       due,
		CompletedDate: done,
		Subtasks:      []domain.Subtask{},
	})
	return Result{
		Delta:  &delta.Delta{Op: delta.OpRemoveTask, ProjectID: p.ID, TaskID: id},
		Label:  "Added task",
		Detail: fmt.Sprintf("%q in %s (due %s)", a.Title, p.Name, due),
	}, nil
}

func (e *Executor) addSubtask(p *domain.Project, refs action.Refs, id string, a action.AddSubtask) (Result, error) {
	t := p.Task(refs.TaskID)
	if t == nil {
		return Result{}, missing("task", refs.TaskID)
	}
	if id == "" {
		id = e.cfg.NewID(domain.PrefixSubtask)
	}
	if t.Subtask(id) != nil {
		return Result{}, fmt.Errorf("%w: subtask %s already exists", perrors.ErrInvalidInput, id)
	}
	status := domain.Status(a.Status)
	if status == "" {
		status = domain.StatusTodo
	}
	due := a.DueDate
	if due == "" {
		due = domain.DateIn(e.cfg.Now(), e.cfg.SubtaskDueDays)
	}
	done := a.CompletedDate
	if status == domain.StatusCompleted && done == "" {
		done = e.today()
	}
	t.Subtasks = append(t.Subtasks, domain.Subtask{
		ID:            id,
		Title:         a.Title,
		Status:        status,
		DueDate:       due,
		CompletedDate: done,
	})
	return Result{
		Delta:  &delta.Delta{Op: delta.OpRemoveSubtask, ProjectID: p.ID, TaskID: t.ID, SubtaskID: id},
		Label:  "Added subtask",
		Detail: fmt.Sprintf("%q under %q (due %s)", a.Title, t.Title, due),
	}, nil
}

// item is the field set shared by tasks and subtasks.
type item struct {
	Title         string
	Status        domain.Status
	DueDate       string
	CompletedDate string
}

type itemPatch struct {
	Title, Status, DueDate, CompletedDate *string
}

// patchItem computes the next state and the prior values of changed fields.
func (e *Executor) patchItem(cur item, patch itemPatch) (item, delta.Fields, []string) {
	next := cur
	if patch.Title != nil {
		next.Title = *patch.Title
	}
	if patch.Status != nil {
		next.Status = domain.Status(*patch.Status)
	}
	if patch.DueDate != nil {
		next.DueDate = *patch.DueDate
	}
	if patch.CompletedDate != nil {
		next.CompletedDate = *patch.CompletedDate
	} else if patch.Status != nil && next.Status != cur.Status {
		if next.Status == domain.StatusCompleted && next.CompletedDate == "" {
			next.CompletedDate = e.today()
		} else if next.Status != domain.StatusCompleted {
			next.CompletedDate = ""
		}
	}

	var prior delta.Fields
	var changes []string
	if next.Title != cur.Title {
		prior.Title = strPtr(cur.Title)
		changes = append(changes, fmt.Sprintf("title to %q", next.Title))
	}
	if next.Status != cur.Status {
		prior.Status = strPtr(string(cur.Status))
		changes = append(changes, fmt.Sprintf("status from %s to %s", cur.Status, next.Status))
	}
	if next.DueDate != cur.DueDate {
		prior.DueDate = strPtr(cur.DueDate)
		changes = append(changes, "due date to "+orNone(next.DueDate))
	}
	if next.CompletedDate != cur.CompletedDate {
		prior.CompletedDate = strPtr(cur.CompletedDate)
		changes = append(changes, "completed date to "+orNone(next.CompletedDate))
	}
	return next, prior, changes
}

func (e *Executor) updateTask(p *domain.Project, refs action.Refs, a action.UpdateTask) (Result, error) {
	t := p.Task(refs.TaskID)
	if t == nil {
		return Result{}, missing("task", refs.TaskID)
	}
	if a.Title != nil {
		for _, other := range p.TasksTitled(*a.Title) {
			if other.ID != t.ID {
				return Result{}, fmt.Errorf("%w: task title %q already in use", perrors.ErrInvalidInput, *a.Title)
			}
		}
	}
	cur := item{Title: t.Title, Status: t.Status, DueDate: t.DueDate, CompletedDate: t.CompletedDate}
	next, prior, changes := e.patchItem(cur, itemPatch{a.Title, a.Status, a.DueDate, a.CompletedDate})
	if len(changes) == 0 {
		return Result{Label: "No changes", Detail: fmt.Sprintf("task %q already up to date", t.Title)}, nil
	}
	title := t.Title
	t.Title, t.Status, t.DueDate, t.CompletedDate = next.Title, next.Status, next.DueDate, next.CompletedDate
	return Result{
		Delta:  &delta.Delta{Op: delta.OpRestoreTask, ProjectID: p.ID, TaskID: t.ID, Prior: &prior},
		Label:  "Updated task",
		Detail: fmt.Sprintf("%q: %s", title, strings.Join(changes, ", ")),
	}, nil
}

func (e *Executor) updateSubtask(p *domain.Project, refs action.Refs, a action.UpdateSubtask) (Result, error) {
	t := p.Task(refs.TaskID)
	if t == nil {
		return Result{}, missing("task", refs.TaskID)
	}
	s := t.Subtask(refs.SubtaskID)
	if s == nil {
		return Result{}, missing("subtask", refs.SubtaskID)
	}
	if a.Title != nil {
		for _, other := range t.SubtasksTitled(*a.Title) {
			if other.ID != s.ID {
				return Result{}, fmt.Errorf("%w: subtask title %q already in use", perrors.ErrInvalidInput, *a.Title)
			}
		}
	}
	cur := item{Title: s.Title, Status: s.Status, DueDate: s.DueDate, CompletedDate: s.CompletedDate}
	next, prior, changes := e.patchItem(cur, itemPatch{a.Title, a.Status, a.DueDate, a.CompletedDate})
	if len(changes) == 0 {
		return Result{Label: "No changes", Detail: fmt.Sprintf("subtask %q already up to date", s.Title)}, nil
	}
	title := s.Title
	s.Title, s.Status, s.DueDate, s.CompletedDate = next.Title, next.Status, next.DueDate, next.CompletedDate
	return Result{
		Delta:  &delta.Delta{Op: delta.OpRestoreSubtask, ProjectID: p.ID, TaskID: t.ID, SubtaskID: s.ID, Prior: &prior},
		Label:  "Updated subtask",
		Detail: fmt.Sprintf("%q: %s", title, strings.Join(changes, ", ")),
	}, nil
}

func (e *Executor) updateProject(g *domain.Graph, p *domain.Project, a action.UpdateProject) (Result, error) {
	if a.Name != nil {
		for _, other := range g.ProjectsNamed(*a.Name) {
			if other.ID != p.ID {
				return Result{}, fmt.Errorf("%w: project name %q already in use", perrors.ErrInvalidInput, *a.Name)
			}
		}
	}

	var prior delta.Fields
	var changes []string
	str := func(dst *string, v *string, field string, capture **string) {
		if v == nil || *v == *dst {
			return
		}
		*capture = strPtr(*dst)
		changes = append(changes, fmt.Sprintf("%s to %q", field, truncate(*v, 60)))
	}
	str(&p.Name, a.Name, "name", &prior.Name)
	str(&p.Status, a.Status, "status", &prior.Status)
	str(&p.Priority, a.Priority, "priority", &prior.Priority)
	str(&p.Description, a.Description, "description", &prior.Description)
	str(&p.ExecutiveUpdate, a.ExecutiveUpdate, "executive update", &prior.ExecutiveUpdate)
	str(&p.StartDate, a.StartDate, "start date", &prior.StartDate)
	str(&p.TargetDate, a.TargetDate, "target date", &prior.TargetDate)
	if a.Progress != nil && *a.Progress != p.Progress {
		prior.Progress = intPtr(p.Progress)
		changes = append(changes, fmt.Sprintf("progress to %d%%", *a.Progress))
	}
	if len(changes) == 0 {
		return Result{Label: "No changes", Detail: fmt.Sprintf("project %s already up to date", p.Name)}, nil
	}

	name := p.Name
	if prior.Name != nil {
		p.Name = *a.Name
	}
	if prior.Status != nil {
		p.Status = *a.Status
	}
	if prior.Priority != nil {
		p.Priority = *a.Priority
	}
	if prior.Description != nil {
		p.Description = *a.Description
	}
	if prior.ExecutiveUpdate != nil {
		p.ExecutiveUpdate = *a.ExecutiveUpdate
	}
	if prior.StartDate != nil {
		p.StartDate = *a.StartDate
	}
	if prior.TargetDate != nil {
		p.TargetDate = *a.TargetDate
	}
	if prior.Progress != nil {
		p.Progress = *a.Progress
	}
	prior.LastUpdate = strPtr(p.LastUpdate)
	p.LastUpdate = e.cfg.Now().UTC().Format(time.RFC3339)

	return Result{
		Delta:  &delta.Delta{Op: delta.OpRestoreProject, ProjectID: p.ID, Prior: &prior},
		Label:  "Updated project",
		Detail: fmt.Sprintf("%s: %s", name, strings.Join(changes, ", ")),
	}, nil
}

func missing(kind, id string) error {
	return fmt.Errorf("%w: %s %s", perrors.ErrNotFound, kind, id)
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
