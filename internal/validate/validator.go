// Package validate checks proposed actions for shape and resolvability
// before anything is executed.
package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/p-blackswan/portfolio-agent/internal/action"
	"github.com/p-blackswan/portfolio-agent/internal/domain"
	perrors "github.com/p-blackswan/portfolio-agent/internal/errors"
	"github.com/p-blackswan/portfolio-agent/internal/resolve"
)

// Result separates actions that can run from those that cannot.
type Result struct {
	Valid  []action.Validated
	Errors []*perrors.ValidationError
}

// OK reports whether every action validated.
func (r Result) OK() bool { return len(r.Errors) == 0 }

// Messages renders the errors as human-readable lines.
func (r Result) Messages() []string {
	out := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		out[i] = e.Error()
	}
	return out
}

// Validator checks action batches against a graph snapshot.
type Validator struct {
	shape *validator.Validate
	newID func(prefix string) string
}

// Option configures a Validator.
type Option func(*Validator)

// WithIDGenerator replaces domain.NewID, mostly for tests.
func WithIDGenerator(fn func(prefix string) string) Option {
	return func(v *Validator) { v.newID = fn }
}

// New creates a validator with the action tag set registered.
func New(opts ...Option) *Validator {
	shape := validator.New()
	shape.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = shape.RegisterValidation("taskstatus", func(fl validator.FieldLevel) bool {
		return domain.ValidStatus(domain.Status(fl.Field().String()))
	})
	_ = shape.RegisterValidation("projectstatus", oneOf(domain.ProjectStatuses))
	_ = shape.RegisterValidation("priority", oneOf(domain.Priorities))
	_ = shape.RegisterValidation("caldate", func(fl validator.FieldLevel) bool {
		return domain.ValidDate(fl.Field().String())
	})

	v := &Validator{shape: shape, newID: domain.NewID}
	for _, o := range opts {
		o(v)
	}
	return v
}

func oneOf(allowed []string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		for _, a := range allowed {
			if a == s {
				return true
			}
		}
		return false
	}
}

// ValidateRaw decodes and validates raw JSON actions. Decode failures are
// reported per index like any other validation error.
func (v *Validator) ValidateRaw(graph *domain.Graph, raws []json.RawMessage, cache *resolve.PendingCache) Result {
	actions := make([]action.Action, len(raws))
	var decodeErrs []*perrors.ValidationError
	for i, raw := range raws {
		a, err := action.Decode(raw)
		if err != nil {
			decodeErrs = append(decodeErrs, &perrors.ValidationError{Index: i, Reason: err.Error(), Err: err})
			continue
		}
		actions[i] = a
	}
	res := v.Validate(graph, actions, cache)
	if len(decodeErrs) > 0 {
		res.Errors = mergeByIndex(decodeErrs, res.Errors)
	}
	return res
}

// Validate checks each action in order. Creations reserve an id in cache so
// later actions in the same batch can reference them. Invalid actions are
// excluded from Valid and reported; they never stop the remaining checks.
// nil entries are skipped.
func (v *Validator) Validate(graph *domain.Graph, actions []action.Action, cache *resolve.PendingCache) Result {
	if cache == nil {
		cache = resolve.NewPendingCache()
	}
	r := resolve.New(graph, cache)
	var res Result
	for i, a := range actions {
		if a == nil {
			continue
		}
		va, verr := v.check(r, cache, i, a)
		if verr != nil {
			res.Errors = append(res.Errors, verr)
			continue
		}
		res.Valid = append(res.Valid, va)
	}
	return res
}

func (v *Validator) check(r *resolve.Resolver, cache *resolve.PendingCache, i int, a action.Action) (action.Validated, *perrors.ValidationError) {
	typ := string(a.Type())
	fail := func(ref, reason string, err error) (action.Validated, *perrors.ValidationError) {
		return action.Validated{}, &perrors.ValidationError{Index: i, Type: typ, Reference: ref, Reason: reason, Err: err}
	}

	if !a.Type().Valid() {
		return fail("", "unsupported action type", action.ErrUnknownType)
	}
	if err := v.shape.Struct(a); err != nil {
		return fail("", describe(err), perrors.ErrInvalidInput)
	}
	if reason := emptyFields(a); reason != "" {
		return fail("", reason, perrors.ErrInvalidInput)
	}

	out := action.Validated{Index: i, Action: a}
	if _, ok := a.(action.AskUser); ok {
		return out, nil
	}

	projectRef := projectOf(a)
	pid, err := r.Project(projectRef)
	if err != nil {
		return fail(projectRef, reasonFor(resolve.KindProject, err), err)
	}
	out.Refs.ProjectID = pid

	switch act := a.(type) {
	case action.Comment:
		if act.Subtask != "" && act.Task == "" {
			return fail(act.Subtask, "subtask reference needs a task reference", perrors.ErrInvalidInput)
		}
		if act.Task != "" {
			tid, err := r.Task(pid, act.Task)
			if err != nil {
				return fail(act.Task, reasonFor(resolve.KindTask, err), err)
			}
			out.Refs.TaskID = tid
			if act.Subtask != "" {
				sid, err := r.Subtask(tid, act.Subtask)
				if err != nil {
					return fail(act.Subtask, reasonFor(resolve.KindSubtask, err), err)
				}
				out.Refs.SubtaskID = sid
			}
		}

	case action.AddTask:
		if r.TitleTaken(resolve.KindTask, pid, act.Title) {
			return fail(act.Title, "task already exists in project", perrors.ErrInvalidInput)
		}
		out.NewID = v.newID(domain.PrefixTask)
		cache.Register(resolve.KindTask, pid, out.NewID, act.Title)

	case action.UpdateTask:
		tid, err := r.Task(pid, act.Task)
		if err != nil {
			return fail(act.Task, reasonFor(resolve.KindTask, err), err)
		}
		out.Refs.TaskID = tid
		if act.Title != nil && r.TitleTakenByOther(resolve.KindTask, pid, *act.Title, tid) {
			return fail(*act.Title, "task already exists in project", perrors.ErrInvalidInput)
		}

	case action.AddSubtask:
		tid, err := r.Task(pid, act.Task)
		if err != nil {
			return fail(act.Task, reasonFor(resolve.KindTask, err), err)
		}
		out.Refs.TaskID = tid
		if r.TitleTaken(resolve.KindSubtask, tid, act.Title) {
			return fail(act.Title, "subtask already exists in task", perrors.ErrInvalidInput)
		}
		out.NewID = v.newID(domain.PrefixSubtask)
		cache.Register(resolve.KindSubtask, tid, out.NewID, act.Title)

	case action.UpdateSubtask:
		tid, err := r.Task(pid, act.Task)
		if err != nil {
			return fail(act.Task, reasonFor(resolve.KindTask, err), err)
		}
		sid, err := r.Subtask(tid, act.Subtask)
		if err != nil {
			return fail(act.Subtask, reasonFor(resolve.KindSubtask, err), err)
		}
		out.Refs.TaskID = tid
		out.Refs.SubtaskID = sid
		if act.Title != nil && r.TitleTakenByOther(resolve.KindSubtask, tid, *act.Title, sid) {
			return fail(*act.Title, "subtask already exists in task", perrors.ErrInvalidInput)
		}

	case action.UpdateProject:
		if act.Name != nil {
			if other, err := r.Project(*act.Name); err == nil && other != pid {
				return fail(*act.Name, "project name already in use", perrors.ErrInvalidInput)
			} else if err != nil && !errors.Is(err, perrors.ErrNotFound) {
				return fail(*act.Name, "project name already in use", err)
			}
		}
	}
	return out, nil
}

func projectOf(a action.Action) string {
	switch act := a.(type) {
	case action.Comment:
		return act.Project
	case action.AddTask:
		return act.Project
	case action.UpdateTask:
		return act.Project
	case action.AddSubtask:
		return act.Project
	case action.UpdateSubtask:
		return act.Project
	case action.UpdateProject:
		return act.Project
	}
	return ""
}

// emptyFields rejects updates that change nothing and explicit empty values
// for fields that cannot be blank.
func emptyFields(a action.Action) string {
	blank := func(p *string) bool { return p != nil && strings.TrimSpace(*p) == "" }
	switch act := a.(type) {
	case action.UpdateTask:
		if act.Empty() {
			return "no fields to update"
		}
		if blank(act.Title) || blank(act.Status) {
			return "title and status cannot be blank"
		}
	case action.UpdateSubtask:
		if act.Empty() {
			return "no fields to update"
		}
		if blank(act.Title) || blank(act.Status) {
			return "title and status cannot be blank"
		}
	case action.UpdateProject:
		if act.Empty() {
			return "no fields to update"
		}
		if blank(act.Name) || blank(act.Status) || blank(act.Priority) {
			return "name, status and priority cannot be blank"
		}
	}
	return ""
}

func reasonFor(kind resolve.Kind, err error) string {
	var amb *perrors.AmbiguityError
	if errors.As(err, &amb) {
		return fmt.Sprintf("%s reference is ambiguous (%d matches)", kind, len(amb.Matches))
	}
	return fmt.Sprintf("%s not found", kind)
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fe.Field()+" is required")
		case "taskstatus":
			parts = append(parts, fmt.Sprintf("%s must be one of todo, in-progress, completed (got %q)", fe.Field(), fe.Value()))
		case "projectstatus":
			parts = append(parts, fmt.Sprintf("%s must be one of %s", fe.Field(), strings.Join(domain.ProjectStatuses, ", ")))
		case "priority":
			parts = append(parts, fmt.Sprintf("%s must be one of %s", fe.Field(), strings.Join(domain.Priorities, ", ")))
		case "caldate":
			parts = append(parts, fmt.Sprintf("%s must be a YYYY-MM-DD date (got %q)", fe.Field(), fe.Value()))
		case "min", "max":
			parts = append(parts, fmt.Sprintf("%s is out of range", fe.Field()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

func mergeByIndex(a, b []*perrors.ValidationError) []*perrors.ValidationError {
	out := make([]*perrors.ValidationError, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].Index <= b[j].Index {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}
