package orchestrator

import (
	"context"
	"time"

	"github.com/p-blackswan/portfolio-agent/internal/action"
	"github.com/p-blackswan/portfolio-agent/internal/domain"
	"github.com/p-blackswan/portfolio-agent/internal/ledger"
	"github.com/p-blackswan/portfolio-agent/internal/resolve"
)

// State is the orchestrator lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateExecuting State = "executing"
	StateSuspended State = "suspended"
)

// OutcomeStatus describes what happened to one action.
type OutcomeStatus string

const (
	OutcomeApplied      OutcomeStatus = "applied"
	OutcomeUnchanged    OutcomeStatus = "unchanged"
	OutcomeInvalid      OutcomeStatus = "invalid"
	OutcomeFailed       OutcomeStatus = "failed"
	OutcomeQuestion     OutcomeStatus = "question"
	OutcomeAnswered     OutcomeStatus = "answered"
	OutcomeNotAttempted OutcomeStatus = "not_attempted"
)

// BatchStatus summarizes a whole batch.
type BatchStatus string

const (
	BatchCompleted BatchStatus = "completed"
	BatchPartial   BatchStatus = "partial"
	BatchSuspended BatchStatus = "suspended"
	BatchFailed    BatchStatus = "failed"
	BatchRejected  BatchStatus = "rejected"
	BatchAbandoned BatchStatus = "abandoned"
)

// Outcome is the per-action record shown to the user.
type Outcome struct {
	Index      int           `json:"index"`
	Type       action.Type   `json:"type"`
	Status     OutcomeStatus `json:"status"`
	Label      string        `json:"label,omitempty"`
	Detail     string        `json:"detail,omitempty"`
	Reversible bool          `json:"reversible"`
	EntityID   string        `json:"entity_id,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Question is an open ask_user interruption.
type Question struct {
	TurnID   string   `json:"turn_id"`
	Index    int      `json:"index"`
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
}

// Report is the result of running, resuming or abandoning a batch.
type Report struct {
	TurnID       string      `json:"turn_id"`
	Status       BatchStatus `json:"status"`
	Outcomes     []Outcome   `json:"outcomes"`
	Question     *Question   `json:"question,omitempty"`
	Errors       []string    `json:"errors,omitempty"`
	Fault        string      `json:"fault,omitempty"`
	PersistError string      `json:"persist_error,omitempty"`
	Reply        string      `json:"reply,omitempty"`
	FinishedAt   time.Time   `json:"finished_at"`
}

// Applied counts actions that produced a delta.
func (r Report) Applied() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == OutcomeApplied {
			n++
		}
	}
	return n
}

// Batch is a validated action list ready to run.
type Batch struct {
	TurnID  string
	Author  string
	Actions []action.Validated
	Cache   *resolve.PendingCache
}

// Info is a point-in-time view of the orchestrator.
type Info struct {
	State    State     `json:"state"`
	TurnID   string    `json:"turn_id,omitempty"`
	Index    int       `json:"index,omitempty"`
	Question *Question `json:"question,omitempty"`
}

// Persister writes the committed graph somewhere durable.
type Persister interface {
	SaveGraph(ctx context.Context, g *domain.Graph) error
}

// Observer is told about every finished action and batch.
type Observer interface {
	ActionFinished(ctx context.Context, turnID string, o Outcome)
	BatchFinished(ctx context.Context, r Report)
	UndoFinished(ctx context.Context, turnID string, index int, res ledger.UndoResult, err error)
}
