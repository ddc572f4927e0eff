package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/portfolio-agent/internal/action"
	"github.com/p-blackswan/portfolio-agent/internal/ledger"
	"github.com/p-blackswan/portfolio-agent/internal/orchestrator"
)

// AuditObserver appends committed actions and undos to the audit log.
type AuditObserver struct {
	store  *Store
	logger zerolog.Logger
}

var _ orchestrator.Observer = (*AuditObserver)(nil)

// NewAuditObserver creates an observer writing to s.
func NewAuditObserver(s *Store, logger zerolog.Logger) *AuditObserver {
	return &AuditObserver{
		store:  s,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// ActionFinished records applied and failed actions.
func (a *AuditObserver) ActionFinished(ctx context.Context, turnID string, o orchestrator.Outcome) {
	if o.Status != orchestrator.OutcomeApplied && o.Status != orchestrator.OutcomeFailed {
		return
	}
	details := o.Label
	if o.Detail != "" {
		details += ": " + o.Detail
	}
	if o.Error != "" {
		details = o.Error
	}
	a.append(ctx, AuditEntry{
		TurnID:     turnID,
		Action:     string(o.Type),
		EntityType: entityType(o.Type),
		EntityID:   o.EntityID,
		Result:     string(o.Status),
		Details:    details,
	})
}

// BatchFinished is a no-op; actions are audited individually.
func (a *AuditObserver) BatchFinished(context.Context, orchestrator.Report) {}

// UndoFinished records every undo attempt with its result.
func (a *AuditObserver) UndoFinished(ctx context.Context, turnID string, index int, res ledger.UndoResult, err error) {
	e := AuditEntry{
		TurnID:  turnID,
		Action:  "undo",
		Details: fmt.Sprintf("action %d", index),
	}
	switch {
	case res.AlreadyUndone:
		e.Result = "already_undone"
	case res.Entry.Undone:
		e.Result = "reverted"
	default:
		e.Result = "refused"
	}
	if res.Entry.Undone {
		e.EntityType = res.Entry.Delta.Entity()
		e.EntityID = res.Entry.Delta.Target()
		e.Details += ": " + res.Entry.Delta.Describe()
	}
	if err != nil {
		e.Details += ": " + err.Error()
	}
	a.append(ctx, e)
}

func (a *AuditObserver) append(ctx context.Context, e AuditEntry) {
	if err := a.store.AppendAudit(ctx, e); err != nil {
		a.logger.Error().Err(err).Str("turn_id", e.TurnID).Str("action", e.Action).Msg("failed to append audit entry")
	}
}

func entityType(t action.Type) string {
	switch t {
	case action.TypeComment:
		return "activity"
	case action.TypeAddTask, action.TypeUpdateTask:
		return "task"
	case action.TypeAddSubtask, action.TypeUpdateSubtask:
		return "subtask"
	case action.TypeUpdateProject:
		return "project"
	}
	return ""
}
