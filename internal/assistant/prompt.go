package assistant

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/p-blackswan/portfolio-agent/internal/action"
	"github.com/p-blackswan/portfolio-agent/internal/domain"
)

const recentActivityLimit = 3

const instructions = `You are the assistant inside a project portfolio tracker. You read the
portfolio below and answer the user. When the user asks for changes, you
propose them as actions.

Reply with a single JSON object and nothing else:
{"message": "<text shown to the user>", "actions": [<action>, ...]}

Supported action types and their fields:
- comment: project, task (optional), subtask (optional), note
- add_task: project, title, status (optional), dueDate (optional)
- update_task: project, task, and any of title, status, dueDate, completedDate
- add_subtask: project, task, title, status (optional), dueDate (optional)
- update_subtask: project, task, subtask, and any of title, status, dueDate, completedDate
- update_project: project, and any of name, status, priority, progress, description, executiveUpdate, startDate, targetDate
- ask_user: question, options (optional). Use it when the request is ambiguous.

Rules:
- Reference projects, tasks and subtasks by id or by exact title.
- A subtask may reference a task added earlier in the same reply by its title.
- Task statuses: todo, in-progress, completed.
- Project statuses: %s. Priorities: %s.
- Dates are YYYY-MM-DD. Today is %s.
- Only include fields you want to change in update actions.
- Use an empty actions list when nothing should change.`

type promptActivity struct {
	Date   string `json:"date"`
	Author string `json:"author,omitempty"`
	Note   string `json:"note"`
	Task   string `json:"task,omitempty"`
}

type promptSubtask struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Status  string `json:"status"`
	DueDate string `json:"dueDate,omitempty"`
}

type promptTask struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Status   string          `json:"status"`
	DueDate  string          `json:"dueDate,omitempty"`
	Subtasks []promptSubtask `json:"subtasks,omitempty"`
}

type promptProject struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Status         string           `json:"status"`
	Priority       string           `json:"priority"`
	Progress       int              `json:"progress"`
	TargetDate     string           `json:"targetDate,omitempty"`
	Tasks          []promptTask     `json:"tasks"`
	RecentActivity []promptActivity `json:"recentActivity,omitempty"`
}

// Abbreviate reduces the graph to what the model needs to reference entities.
func Abbreviate(g domain.Graph) []promptProject {
	out := make([]promptProject, 0, len(g.Projects))
	for _, p := range g.Projects {
		pp := promptProject{
			ID:         p.ID,
			Name:       p.Name,
			Status:     p.Status,
			Priority:   p.Priority,
			Progress:   p.Progress,
			TargetDate: p.TargetDate,
			Tasks:      make([]promptTask, 0, len(p.Plan)),
		}
		for _, t := range p.Plan {
			pt := promptTask{ID: t.ID, Title: t.Title, Status: string(t.Status), DueDate: t.DueDate}
			for _, s := range t.Subtasks {
				pt.Subtasks = append(pt.Subtasks, promptSubtask{ID: s.ID, Title: s.Title, Status: string(s.Status), DueDate: s.DueDate})
			}
			pp.Tasks = append(pp.Tasks, pt)
		}
		for i, a := range p.RecentActivity {
			if i == recentActivityLimit {
				break
			}
			pa := promptActivity{Date: a.Date, Author: a.Author, Note: a.Note}
			if a.TaskContext != nil {
				pa.Task = a.TaskContext.TaskTitle
			}
			pp.RecentActivity = append(pp.RecentActivity, pa)
		}
		out = append(out, pp)
	}
	return out
}

// SystemPrompt renders the instructions and the abbreviated portfolio.
func SystemPrompt(g domain.Graph, now time.Time) (string, error) {
	portfolio, err := json.MarshalIndent(Abbreviate(g), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal portfolio: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, instructions,
		strings.Join(domain.ProjectStatuses, ", "),
		strings.Join(domain.Priorities, ", "),
		now.Format(domain.DateLayout))
	b.WriteString("\n\nPortfolio:\n")
	b.Write(portfolio)
	return b.String(), nil
}

// CorrectiveMessage tells the model what was wrong with its last reply.
func CorrectiveMessage(errs []string) string {
	types := make([]string, len(action.Types))
	for i, t := range action.Types {
		types[i] = string(t)
	}
	var b strings.Builder
	b.WriteString("Your previous reply could not be applied. Nothing was changed.\n")
	b.WriteString("Problems:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e)
		b.WriteString("\n")
	}
	b.WriteString("Supported action types: ")
	b.WriteString(strings.Join(types, ", "))
	b.WriteString(".\nReply again with one JSON object containing \"message\" and \"actions\", fixing every problem listed.")
	return b.String()
}
