package action

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/p-blackswan/portfolio-agent/internal/domain"
)

var (
	// ErrUnknownType is returned for a missing or unsupported type tag.
	ErrUnknownType = errors.New("unknown action type")
	// ErrMalformed is returned when an action is not a JSON object.
	ErrMalformed = errors.New("malformed action")
	// ErrMalformedReply is returned when a model reply carries no usable JSON.
	ErrMalformedReply = errors.New("model reply is not valid JSON")
)

// Field aliases accepted from the model, first match wins.
var (
	projectKeys = []string{"project", "projectId", "projectName", "project_id", "project_name"}
	taskKeys    = []string{"task", "taskId", "taskTitle", "task_id", "task_title"}
	subtaskKeys = []string{"subtask", "subtaskId", "subtaskTitle", "subtask_id", "subtask_title"}
	noteKeys    = []string{"note", "content", "comment", "text"}
	dueKeys     = []string{"dueDate", "due_date", "due"}
	doneKeys    = []string{"completedDate", "completed_date"}
)

// Decode turns one raw JSON action into its variant. It checks the type tag
// and pulls fields through their aliases; shape rules are left to the validator.
func Decode(raw []byte) (Action, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrMalformed)
	}
	r := gjson.ParseBytes(raw)
	if !r.IsObject() {
		return nil, fmt.Errorf("%w: expected an object", ErrMalformed)
	}

	typ := Type(strings.ToLower(strings.TrimSpace(first(r, "type", "action").String())))
	switch typ {
	case TypeComment:
		return Comment{
			Project: str(r, projectKeys...),
			Task:    str(r, taskKeys...),
			Subtask: str(r, subtaskKeys...),
			Note:    str(r, noteKeys...),
		}, nil
	case TypeAddTask:
		return AddTask{
			Project:       str(r, projectKeys...),
			Title:         str(r, "title", "name"),
			Status:        status(str(r, "status")),
			DueDate:       str(r, dueKeys...),
			CompletedDate: str(r, doneKeys...),
		}, nil
	case TypeUpdateTask:
		return UpdateTask{
			Project:       str(r, projectKeys...),
			Task:          str(r, taskKeys...),
			Title:         optStr(r, "title", "newTitle"),
			Status:        optStatus(r),
			DueDate:       optStr(r, dueKeys...),
			CompletedDate: optStr(r, doneKeys...),
		}, nil
	case TypeAddSubtask:
		return AddSubtask{
			Project:       str(r, projectKeys...),
			Task:          str(r, taskKeys...),
			Title:         str(r, "title", "name"),
			Status:        status(str(r, "status")),
			DueDate:       str(r, dueKeys...),
			CompletedDate: str(r, doneKeys...),
		}, nil
	case TypeUpdateSubtask:
		return UpdateSubtask{
			Project:       str(r, projectKeys...),
			Task:          str(r, taskKeys...),
			Subtask:       str(r, subtaskKeys...),
			Title:         optStr(r, "title", "newTitle"),
			Status:        optStatus(r),
			DueDate:       optStr(r, dueKeys...),
			CompletedDate: optStr(r, doneKeys...),
		}, nil
	case TypeUpdateProject:
		a := UpdateProject{
			Project:         str(r, projectKeys...),
			Name:            optStr(r, "name", "newName"),
			Status:          optStr(r, "status"),
			Priority:        optStr(r, "priority"),
			Description:     optStr(r, "description"),
			ExecutiveUpdate: optStr(r, "executiveUpdate", "executive_update"),
			StartDate:       optStr(r, "startDate", "start_date"),
			TargetDate:      optStr(r, "targetDate", "target_date"),
		}
		if a.Status != nil {
			v := strings.ToLower(strings.TrimSpace(*a.Status))
			a.Status = &v
		}
		if a.Priority != nil {
			v := strings.ToLower(strings.TrimSpace(*a.Priority))
			a.Priority = &v
		}
		if p := r.Get("progress"); p.Exists() && p.Type != gjson.Null {
			n := int(p.Int())
			a.Progress = &n
		}
		return a, nil
	case TypeAskUser:
		a := AskUser{Question: str(r, "question", "prompt", "message")}
		for _, o := range first(r, "options", "suggestions", "choices").Array() {
			if s := strings.TrimSpace(o.String()); s != "" {
				a.Options = append(a.Options, s)
			}
		}
		return a, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrUnknownType)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownType, string(typ))
	}
}

func first(r gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() && v.Type != gjson.Null {
			return v
		}
	}
	return gjson.Result{}
}

func str(r gjson.Result, keys ...string) string {
	return strings.TrimSpace(first(r, keys...).String())
}

func optStr(r gjson.Result, keys ...string) *string {
	v := first(r, keys...)
	if !v.Exists() {
		return nil
	}
	s := strings.TrimSpace(v.String())
	return &s
}

func optStatus(r gjson.Result) *string {
	s := optStr(r, "status")
	if s == nil {
		return nil
	}
	v := status(*s)
	return &v
}

func status(s string) string {
	if s == "" {
		return ""
	}
	return string(domain.NormalizeStatus(s))
}
