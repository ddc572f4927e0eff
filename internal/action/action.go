// Package action defines the closed set of intents a model may propose.
//
// Each intent type is its own struct (a variant of the Action union) with
// its required fields enforced through validator tags. Raw model JSON is
// turned into a variant by Decode; nothing downstream probes loose maps.
package action

// Type is the action type tag.
type Type string

const (
	TypeComment       Type = "comment"
	TypeAddTask       Type = "add_task"
	TypeUpdateTask    Type = "update_task"
	TypeAddSubtask    Type = "add_subtask"
	TypeUpdateSubtask Type = "update_subtask"
	TypeUpdateProject Type = "update_project"
	TypeAskUser       Type = "ask_user"
)

// Types is the closed enumeration, in prompt order.
var Types = []Type{
	TypeComment,
	TypeAddTask,
	TypeUpdateTask,
	TypeAddSubtask,
	TypeUpdateSubtask,
	TypeUpdateProject,
	TypeAskUser,
}

// Valid reports whether t is a supported type.
func (t Type) Valid() bool {
	for _, k := range Types {
		if k == t {
			return true
		}
	}
	return false
}

// Action is one variant of the union.
type Action interface {
	Type() Type
}

// Comment appends an activity note to a project, optionally about a task or subtask.
type Comment struct {
	Project string `json:"project" validate:"required"`
	Task    string `json:"task,omitempty"`
	Subtask string `json:"subtask,omitempty"`
	Note    string `json:"note" validate:"required"`
}

// AddTask creates a task under a project.
type AddTask struct {
	Project       string `json:"project" validate:"required"`
	Title         string `json:"title" validate:"required"`
	Status        string `json:"status,omitempty" validate:"omitempty,taskstatus"`
	DueDate       string `json:"dueDate,omitempty" validate:"omitempty,caldate"`
	CompletedDate string `json:"completedDate,omitempty" validate:"omitempty,caldate"`
}

// UpdateTask changes only the fields that are set.
type UpdateTask struct {
	Project       string  `json:"project" validate:"required"`
	Task          string  `json:"task" validate:"required"`
	Title         *string `json:"title,omitempty" validate:"omitempty,min=1"`
	Status        *string `json:"status,omitempty" validate:"omitempty,taskstatus"`
	DueDate       *string `json:"dueDate,omitempty" validate:"omitempty,caldate"`
	CompletedDate *string `json:"completedDate,omitempty" validate:"omitempty,caldate"`
}

// AddSubtask creates a subtask under a task, which may itself be pending in the same batch.
type AddSubtask struct {
	Project       string `json:"project" validate:"required"`
	Task          string `json:"task" validate:"required"`
	Title         string `json:"title" validate:"required"`
	Status        string `json:"status,omitempty" validate:"omitempty,taskstatus"`
	DueDate       string `json:"dueDate,omitempty" validate:"omitempty,caldate"`
	CompletedDate string `json:"completedDate,omitempty" validate:"omitempty,caldate"`
}

// UpdateSubtask changes only the fields that are set.
type UpdateSubtask struct {
	Project       string  `json:"project" validate:"required"`
	Task          string  `json:"task" validate:"required"`
	Subtask       string  `json:"subtask" validate:"required"`
	Title         *string `json:"title,omitempty" validate:"omitempty,min=1"`
	Status        *string `json:"status,omitempty" validate:"omitempty,taskstatus"`
	DueDate       *string `json:"dueDate,omitempty" validate:"omitempty,caldate"`
	CompletedDate *string `json:"completedDate,omitempty" validate:"omitempty,caldate"`
}

// UpdateProject changes only the fields that are set.
type UpdateProject struct {
	Project         string  `json:"project" validate:"required"`
	Name            *string `json:"name,omitempty" validate:"omitempty,min=1"`
	Status          *string `json:"status,omitempty" validate:"omitempty,projectstatus"`
	Priority        *string `json:"priority,omitempty" validate:"omitempty,priority"`
	Progress        *int    `json:"progress,omitempty" validate:"omitempty,min=0,max=100"`
	Description     *string `json:"description,omitempty"`
	ExecutiveUpdate *string `json:"executiveUpdate,omitempty"`
	StartDate       *string `json:"startDate,omitempty" validate:"omitempty,caldate"`
	TargetDate      *string `json:"targetDate,omitempty" validate:"omitempty,caldate"`
}

// AskUser pauses the batch until the user answers.
type AskUser struct {
	Question string   `json:"question" validate:"required"`
	Options  []string `json:"options,omitempty"`
}

func (Comment) Type() Type       { return TypeComment }
func (AddTask) Type() Type       { return TypeAddTask }
func (UpdateTask) Type() Type    { return TypeUpdateTask }
func (AddSubtask) Type() Type    { return TypeAddSubtask }
func (UpdateSubtask) Type() Type { return TypeUpdateSubtask }
func (UpdateProject) Type() Type { return TypeUpdateProject }
func (AskUser) Type() Type       { return TypeAskUser }

// Empty reports whether the update names no field to change.
func (a UpdateTask) Empty() bool {
	return a.Title == nil && a.Status == nil && a.DueDate == nil && a.CompletedDate == nil
}

// Empty reports whether the update names no field to change.
func (a UpdateSubtask) Empty() bool {
	return a.Title == nil && a.Status == nil && a.DueDate == nil && a.CompletedDate == nil
}

// Empty reports whether the update names no field to change.
func (a UpdateProject) Empty() bool {
	return a.Name == nil && a.Status == nil && a.Priority == nil && a.Progress == nil &&
		a.Description == nil && a.ExecutiveUpdate == nil && a.StartDate == nil && a.TargetDate == nil
}

// Refs are canonical identities resolved by the validator.
type Refs struct {
	ProjectID string `json:"projectId,omitempty"`
	TaskID    string `json:"taskId,omitempty"`
	SubtaskID string `json:"subtaskId,omitempty"`
}

// Validated is an action that passed validation. Refs carry resolved ids so
// the executor never matches titles again. NewID is the identity reserved
// for an entity the action creates.
type Validated struct {
	Index  int    `json:"index"`
	Action Action `json:"action"`
	Refs   Refs   `json:"refs"`
	NewID  string `json:"newId,omitempty"`
}

// Type returns the wrapped action's tag.
func (v Validated) Type() Type { return v.Action.Type() }
