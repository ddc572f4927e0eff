// Package orchestrator owns the committed project graph and runs action
// batches against it one action at a time.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/portfolio-agent/internal/action"
	"github.com/p-blackswan/portfolio-agent/internal/domain"
	perrors "github.com/p-blackswan/portfolio-agent/internal/errors"
	"github.com/p-blackswan/portfolio-agent/internal/executor"
	"github.com/p-blackswan/portfolio-agent/internal/ledger"
	"github.com/p-blackswan/portfolio-agent/internal/resolve"
	"github.com/p-blackswan/portfolio-agent/internal/validate"
)

// suspension holds a batch paused on ask_user.
type suspension struct {
	turnID    string
	author    string
	question  Question
	remaining []action.Validated
	cache     *resolve.PendingCache
	outcomes  []Outcome
	errors    []string
}

// Orchestrator runs one batch at a time. Each action is applied to a
// working copy and committed only if it succeeds, so a fault never leaves a
// half-applied action in the committed graph.
type Orchestrator struct {
	sem chan struct{}

	mu        sync.RWMutex
	graph     domain.Graph
	state     State
	turnID    string
	index     int
	suspended *suspension

	validator *validate.Validator
	executor  *executor.Executor
	ledger    *ledger.Ledger
	persister Persister
	observers []Observer
	now       func() time.Time
	logger    zerolog.Logger
}

// New creates an orchestrator over an empty graph.
func New(v *validate.Validator, ex *executor.Executor, led *ledger.Ledger, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		sem:       make(chan struct{}, 1),
		state:     StateIdle,
		graph:     domain.Graph{Projects: []domain.Project{}},
		validator: v,
		executor:  ex,
		ledger:    led,
		now:       time.Now,
		logger:    logger.With().Str("component", "orchestrator").Logger(),
	}
}

// SetPersister sets the durable backend for committed graphs.
func (o *Orchestrator) SetPersister(p Persister) {
	o.persister = p
}

// AddObserver registers an observer for action and batch events.
func (o *Orchestrator) AddObserver(obs Observer) {
	o.observers = append(o.observers, obs)
}

// Load replaces the committed graph without persisting it. Used at startup.
func (o *Orchestrator) Load(g domain.Graph) {
	o.mu.Lock()
	o.graph = g.Clone()
	o.mu.Unlock()
}

// Snapshot returns a deep copy of the committed graph.
func (o *Orchestrator) Snapshot() domain.Graph {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.graph.Clone()
}

// Info reports the current state.
func (o *Orchestrator) Info() Info {
	o.mu.RLock()
	defer o.mu.RUnlock()
	info := Info{State: o.state, TurnID: o.turnID, Index: o.index}
	if o.suspended != nil {
		q := o.suspended.question
		info.Question = &q
	}
	return info
}

// Suspended returns the open question, if a batch is waiting on one.
func (o *Orchestrator) Suspended() (Question, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.suspended == nil {
		return Question{}, false
	}
	return o.suspended.question, true
}

// Check validates raws against the committed graph without running them.
func (o *Orchestrator) Check(raws []json.RawMessage) validate.Result {
	g := o.Snapshot()
	return o.validator.ValidateRaw(&g, raws, resolve.NewPendingCache())
}

// Submit validates raws against the committed graph and runs the valid
// subset. With strict set, any validation error rejects the whole batch
// before anything runs. A turn that already recorded deltas cannot be
// submitted again.
func (o *Orchestrator) Submit(ctx context.Context, turnID, author string, raws []json.RawMessage, strict bool) (Report, error) {
	if err := o.acquire(ctx); err != nil {
		return Report{}, err
	}
	defer o.release()

	if err := o.ensureNotSuspended(); err != nil {
		return Report{}, err
	}
	if err := o.ensureFreshTurn(turnID); err != nil {
		return Report{}, err
	}

	cache := resolve.NewPendingCache()
	g := o.Snapshot()
	res := o.validator.ValidateRaw(&g, raws, cache)

	invalid := make([]Outcome, 0, len(res.Errors))
	for _, ve := range res.Errors {
		invalid = append(invalid, Outcome{
			Index:  ve.Index,
			Type:   action.Type(ve.Type),
			Status: OutcomeInvalid,
			Error:  ve.Error(),
		})
	}

	if strict && !res.OK() {
		outcomes := invalid
		for _, va := range res.Valid {
			outcomes = append(outcomes, Outcome{Index: va.Index, Type: va.Type(), Status: OutcomeNotAttempted})
		}
		sortOutcomes(outcomes)
		report := Report{
			TurnID:     turnID,
			Status:     BatchRejected,
			Outcomes:   outcomes,
			Errors:     res.Messages(),
			FinishedAt: o.now().UTC(),
		}
		o.logger.Info().
			Str("turn_id", turnID).
			Int("errors", len(res.Errors)).
			Msg("batch rejected by validation")
		o.batchFinished(ctx, report)
		return report, nil
	}

	for _, out := range invalid {
		o.actionFinished(ctx, turnID, out)
	}
	return o.runLocked(ctx, Batch{TurnID: turnID, Author: author, Actions: res.Valid, Cache: cache}, invalid, res.Messages()), nil
}

// Run executes an already validated batch.
func (o *Orchestrator) Run(ctx context.Context, b Batch) (Report, error) {
	if err := o.acquire(ctx); err != nil {
		return Report{}, err
	}
	defer o.release()

	if err := o.ensureNotSuspended(); err != nil {
		return Report{}, err
	}
	if err := o.ensureFreshTurn(b.TurnID); err != nil {
		return Report{}, err
	}
	if b.Cache == nil {
		b.Cache = resolve.NewPendingCache()
	}
	return o.runLocked(ctx, b, nil, nil), nil
}

// Resume continues the suspended batch after the user answered.
func (o *Orchestrator) Resume(ctx context.Context, turnID, reply string) (Report, error) {
	if err := o.acquire(ctx); err != nil {
		return Report{}, err
	}
	defer o.release()

	s, err := o.takeSuspension(turnID)
	if err != nil {
		return Report{}, err
	}

	for i := range s.outcomes {
		if s.outcomes[i].Index == s.question.Index {
			s.outcomes[i].Status = OutcomeAnswered
			s.outcomes[i].Detail = fmt.Sprintf("%s: %s", s.question.Question, reply)
			o.actionFinished(ctx, s.turnID, s.outcomes[i])
		}
	}

	o.logger.Info().
		Str("turn_id", s.turnID).
		Int("remaining", len(s.remaining)).
		Msg("resuming batch")

	report := o.runLocked(ctx, Batch{TurnID: s.turnID, Author: s.author, Actions: s.remaining, Cache: s.cache}, s.outcomes, s.errors)
	report.Reply = reply
	return report, nil
}

// Abandon drops the suspended batch. Its remaining actions never run.
func (o *Orchestrator) Abandon(ctx context.Context, turnID string) (Report, error) {
	if err := o.acquire(ctx); err != nil {
		return Report{}, err
	}
	defer o.release()

	s, err := o.takeSuspension(turnID)
	if err != nil {
		return Report{}, err
	}

	outcomes := s.outcomes
	for _, va := range s.remaining {
		out := Outcome{Index: va.Index, Type: va.Type(), Status: OutcomeNotAttempted}
		outcomes = append(outcomes, out)
		o.actionFinished(ctx, s.turnID, out)
	}
	sortOutcomes(outcomes)
	o.setState(StateIdle, "", 0)

	report := Report{
		TurnID:     s.turnID,
		Status:     BatchAbandoned,
		Outcomes:   outcomes,
		Errors:     s.errors,
		FinishedAt: o.now().UTC(),
	}
	o.logger.Info().Str("turn_id", s.turnID).Int("dropped", len(s.remaining)).Msg("batch abandoned")
	o.batchFinished(ctx, report)
	return report, nil
}

// Undo reverses one recorded delta and persists the result. Undoing an
// action twice is a no-op. Undo is refused while a batch is suspended, since
// its remaining actions were validated against the current graph.
func (o *Orchestrator) Undo(ctx context.Context, turnID string, index int) (ledger.UndoResult, error) {
	if err := o.acquire(ctx); err != nil {
		return ledger.UndoResult{}, err
	}
	defer o.release()

	if err := o.ensureNotSuspended(); err != nil {
		for _, obs := range o.observers {
			obs.UndoFinished(ctx, turnID, index, ledger.UndoResult{}, err)
		}
		return ledger.UndoResult{}, err
	}

	working := o.Snapshot()
	res, err := o.ledger.Undo(ctx, turnID, index, &working)
	reverted := res.Entry.Undone && !res.AlreadyUndone
	if reverted {
		o.commit(working)
		if perr := o.persist(ctx); perr != nil && err == nil {
			err = perr
		}
	}
	if err != nil {
		o.logger.Warn().Err(err).Str("turn_id", turnID).Int("action_index", index).Bool("reverted", reverted).Msg("undo")
	}
	for _, obs := range o.observers {
		obs.UndoFinished(ctx, turnID, index, res, err)
	}
	if reverted {
		return res, nil
	}
	return res, err
}

func (o *Orchestrator) runLocked(ctx context.Context, b Batch, prior []Outcome, errs []string) Report {
	ctx = executor.WithAuthor(ctx, b.Author)
	log := o.logger.With().Str("turn_id", b.TurnID).Logger()

	report := Report{TurnID: b.TurnID, Errors: errs}
	outcomes := append([]Outcome(nil), prior...)
	working := o.Snapshot()
	applied := 0

	log.Info().Int("actions", len(b.Actions)).Msg("executing batch")

	for i, va := range b.Actions {
		o.setState(StateExecuting, b.TurnID, va.Index)

		if err := ctx.Err(); err != nil {
			report.Fault = err.Error()
			outcomes = o.notAttempted(ctx, b.TurnID, outcomes, b.Actions[i:])
			break
		}

		res, err := o.executor.Execute(ctx, va, &working, b.Cache)
		if err != nil {
			fault := &perrors.ExecutorFault{Index: va.Index, Type: string(va.Type()), Err: err}
			log.Error().Err(err).Int("action_index", va.Index).Str("type", string(va.Type())).Msg("executor fault")
			out := Outcome{Index: va.Index, Type: va.Type(), Status: OutcomeFailed, Error: fault.Error()}
			outcomes = append(outcomes, out)
			o.actionFinished(ctx, b.TurnID, out)
			report.Fault = fault.Error()
			outcomes = o.notAttempted(ctx, b.TurnID, outcomes, b.Actions[i+1:])
			break
		}

		out := Outcome{Index: va.Index, Type: va.Type(), Label: res.Label, Detail: res.Detail}
		if res.Interruption != nil {
			out.Status = OutcomeQuestion
			outcomes = append(outcomes, out)
			o.actionFinished(ctx, b.TurnID, out)

			q := Question{TurnID: b.TurnID, Index: va.Index, Question: res.Interruption.Question, Options: res.Interruption.Options}
			report.Question = &q
			o.mu.Lock()
			o.suspended = &suspension{
				turnID:    b.TurnID,
				author:    b.Author,
				question:  q,
				remaining: append([]action.Validated(nil), b.Actions[i+1:]...),
				cache:     b.Cache,
				outcomes:  append([]Outcome(nil), outcomes...),
				errors:    errs,
			}
			o.mu.Unlock()
			log.Info().Int("action_index", va.Index).Int("remaining", len(b.Actions)-i-1).Msg("batch suspended on question")
			break
		}

		if res.Delta != nil {
			if err := o.ledger.Record(ctx, b.TurnID, va.Index, *res.Delta); err != nil {
				// Without a delta the mutation could never be undone, so it is not committed.
				fault := &perrors.ExecutorFault{Index: va.Index, Type: string(va.Type()), Err: fmt.Errorf("record delta: %w", err)}
				log.Error().Err(err).Int("action_index", va.Index).Msg("failed to record delta")
				out.Status = OutcomeFailed
				out.Error = fault.Error()
				outcomes = append(outcomes, out)
				o.actionFinished(ctx, b.TurnID, out)
				report.Fault = fault.Error()
				outcomes = o.notAttempted(ctx, b.TurnID, outcomes, b.Actions[i+1:])
				break
			}
			o.commit(working)
			working = working.Clone()
			out.Status = OutcomeApplied
			out.Reversible = true
			out.EntityID = res.Delta.Target()
			applied++
		} else {
			out.Status = OutcomeUnchanged
		}
		outcomes = append(outcomes, out)
		o.actionFinished(ctx, b.TurnID, out)
	}

	if applied > 0 {
		if err := o.persist(ctx); err != nil {
			report.PersistError = err.Error()
		}
	}

	sortOutcomes(outcomes)
	report.Outcomes = outcomes
	report.FinishedAt = o.now().UTC()

	switch {
	case report.Question != nil:
		report.Status = BatchSuspended
		o.setState(StateSuspended, b.TurnID, report.Question.Index)
	case report.Fault != "":
		report.Status = BatchFailed
		o.setState(StateIdle, "", 0)
	case len(errs) > 0:
		report.Status = BatchPartial
		o.setState(StateIdle, "", 0)
	default:
		report.Status = BatchCompleted
		o.setState(StateIdle, "", 0)
	}

	log.Info().
		Str("status", string(report.Status)).
		Int("applied", applied).
		Msg("batch finished")
	o.batchFinished(ctx, report)
	return report
}

func (o *Orchestrator) notAttempted(ctx context.Context, turnID string, outcomes []Outcome, rest []action.Validated) []Outcome {
	for _, va := range rest {
		out := Outcome{Index: va.Index, Type: va.Type(), Status: OutcomeNotAttempted}
		outcomes = append(outcomes, out)
		o.actionFinished(ctx, turnID, out)
	}
	return outcomes
}

func (o *Orchestrator) commit(g domain.Graph) {
	o.mu.Lock()
	o.graph = g
	o.mu.Unlock()
}

func (o *Orchestrator) persist(ctx context.Context) error {
	if o.persister == nil {
		return nil
	}
	g := o.Snapshot()
	if err := o.persister.SaveGraph(ctx, &g); err != nil {
		o.logger.Error().Err(err).Msg("failed to persist graph")
		return fmt.Errorf("persist graph: %w", err)
	}
	return nil
}

func (o *Orchestrator) setState(s State, turnID string, index int) {
	o.mu.Lock()
	o.state = s
	o.turnID = turnID
	o.index = index
	o.mu.Unlock()
}

func (o *Orchestrator) ensureNotSuspended() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.suspended != nil {
		return fmt.Errorf("%w: turn %s", perrors.ErrSuspended, o.suspended.turnID)
	}
	return nil
}

func (o *Orchestrator) ensureFreshTurn(turnID string) error {
	if o.ledger.HasTurn(turnID) {
		return fmt.Errorf("%w: turn %s already has recorded actions", perrors.ErrConflict, turnID)
	}
	return nil
}

func (o *Orchestrator) takeSuspension(turnID string) (*suspension, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.suspended
	if s == nil {
		return nil, perrors.ErrNotSuspended
	}
	if turnID != "" && s.turnID != turnID {
		return nil, fmt.Errorf("%w: turn %s (waiting on %s)", perrors.ErrNotSuspended, turnID, s.turnID)
	}
	o.suspended = nil
	return s, nil
}

func (o *Orchestrator) acquire(ctx context.Context) error {
	select {
	case o.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", perrors.ErrBusy, ctx.Err())
	}
}

func (o *Orchestrator) tryAcquire() error {
	select {
	case o.sem <- struct{}{}:
		return nil
	default:
		return perrors.ErrBusy
	}
}

func (o *Orchestrator) release() {
	<-o.sem
}

func (o *Orchestrator) actionFinished(ctx context.Context, turnID string, out Outcome) {
	for _, obs := range o.observers {
		obs.ActionFinished(ctx, turnID, out)
	}
}

func (o *Orchestrator) batchFinished(ctx context.Context, r Report) {
	for _, obs := range o.observers {
		obs.BatchFinished(ctx, r)
	}
}

func sortOutcomes(outs []Outcome) {
	sort.SliceStable(outs, func(i, j int) bool { return outs[i].Index < outs[j].Index })
}
