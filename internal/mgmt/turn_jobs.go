package mgmt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/portfolio-agent/internal/assistant"
	perrors "github.com/p-blackswan/portfolio-agent/internal/errors"
	"github.com/p-blackswan/portfolio-agent/internal/ledger"
	"github.com/p-blackswan/portfolio-agent/internal/orchestrator"
)

type contextKey string

// TurnIDContextKey is the context key carrying the turn id into the assistant.
const TurnIDContextKey contextKey = "turn_id"

// TurnIDFromContext extracts the turn ID from context.
func TurnIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(TurnIDContextKey).(string); ok {
		return v
	}
	return ""
}

// Conversation handles one user message end to end.
type Conversation interface {
	HandleMessage(ctx context.Context, turn assistant.Turn) (assistant.Result, error)
}

// TurnEngineConfig holds configuration for the turn engine.
type TurnEngineConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// TurnEngine runs conversation turns on a worker pool and tracks their
// progress. It also observes the orchestrator so a job's outcomes grow as
// actions finish and suspended turns update when resumed elsewhere.
type TurnEngine struct {
	jobs      sync.Map // id → *TurnJob
	jobList   []*TurnJob
	listMu    sync.RWMutex
	queue     chan *TurnJob
	workers   int
	timeout   time.Duration
	conv      Conversation
	callbacks *CallbackDelivery
	onFinish  func(seconds float64)
	logger    zerolog.Logger
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   atomic.Bool
}

var _ orchestrator.Observer = (*TurnEngine)(nil)

// NewTurnEngine creates a new turn engine.
func NewTurnEngine(cfg TurnEngineConfig, conv Conversation, callbacks *CallbackDelivery, logger zerolog.Logger) *TurnEngine {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}

	return &TurnEngine{
		queue:     make(chan *TurnJob, cfg.QueueSize),
		workers:   cfg.Workers,
		timeout:   cfg.Timeout,
		conv:      conv,
		callbacks: callbacks,
		logger:    logger.With().Str("component", "turn_engine").Logger(),
	}
}

// SetDurationHook sets a callback receiving each finished turn's wall time.
func (te *TurnEngine) SetDurationHook(fn func(seconds float64)) {
	te.onFinish = fn
}

// Start launches worker goroutines.
func (te *TurnEngine) Start(ctx context.Context) {
	if te.running.Swap(true) {
		return
	}

	ctx, te.cancel = context.WithCancel(ctx)

	for i := 0; i < te.workers; i++ {
		te.wg.Add(1)
		go te.worker(ctx, i)
	}

	te.logger.Info().Int("workers", te.workers).Msg("turn engine started")
}

// Stop gracefully shuts down the turn engine.
func (te *TurnEngine) Stop() {
	if !te.running.Swap(false) {
		return
	}
	if te.cancel != nil {
		te.cancel()
	}
	te.wg.Wait()
	te.logger.Info().Msg("turn engine stopped")
}

// Submit creates a new turn job and enqueues it.
func (te *TurnEngine) Submit(req SubmitTurnRequest) (*TurnJob, error) {
	if req.Message == "" {
		return nil, fmt.Errorf("%w: message is required", perrors.ErrInvalidInput)
	}

	job := &TurnJob{
		ID:          uuid.New().String(),
		Status:      JobPending,
		Author:      req.Author,
		Message:     req.Message,
		CallbackURL: req.CallbackURL,
		Outcomes:    []orchestrator.Outcome{},
		CreatedAt:   time.Now().UTC(),
	}

	te.jobs.Store(job.ID, job)
	te.listMu.Lock()
	te.jobList = append(te.jobList, job)
	te.listMu.Unlock()

	snap := job.Snapshot()

	select {
	case te.queue <- job:
		te.logger.Info().Str("turn_id", job.ID).Str("author", job.Author).Msg("turn enqueued")
	default:
		job.Lock()
		job.Status = JobFailed
		job.Error = "turn queue is full"
		now := time.Now().UTC()
		job.CompletedAt = &now
		job.Unlock()
		snap = job.Snapshot()
		return &snap, fmt.Errorf("%w: turn queue is full", perrors.ErrBusy)
	}

	return &snap, nil
}

// Get retrieves a job by ID. Returns a snapshot safe for concurrent use.
func (te *TurnEngine) Get(id string) (*TurnJob, bool) {
	job, ok := te.load(id)
	if !ok {
		return nil, false
	}
	snap := job.Snapshot()
	return &snap, true
}

func (te *TurnEngine) load(id string) (*TurnJob, bool) {
	val, ok := te.jobs.Load(id)
	if !ok {
		return nil, false
	}
	return val.(*TurnJob), true
}

// Cancel cancels a pending job.
func (te *TurnEngine) Cancel(id string) (*TurnJob, error) {
	job, ok := te.load(id)
	if !ok {
		return nil, fmt.Errorf("%w: turn %s", perrors.ErrNotFound, id)
	}

	job.Lock()
	if job.Status != JobPending {
		status := job.Status
		job.Unlock()
		snap := job.Snapshot()
		return &snap, fmt.Errorf("turn %s is in status %s, only pending turns can be cancelled", id, status)
	}
	job.Status = JobCancelled
	now := time.Now().UTC()
	job.CompletedAt = &now
	job.Unlock()

	te.logger.Info().Str("turn_id", id).Msg("turn cancelled")
	snap := job.Snapshot()
	return &snap, nil
}

// List returns jobs matching the given filters, newest first.
func (te *TurnEngine) List(q ListTurnsQuery) ([]*TurnJob, int) {
	te.listMu.RLock()
	defer te.listMu.RUnlock()

	var filtered []*TurnJob
	for _, j := range te.jobList {
		j.RLock()
		status := j.Status
		author := j.Author
		j.RUnlock()

		if q.Status != "" && string(status) != q.Status {
			continue
		}
		if q.Author != "" && author != q.Author {
			continue
		}
		filtered = append(filtered, j)
	}

	total := len(filtered)

	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return nil, total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	result := make([]*TurnJob, 0, end-offset)
	for i := offset; i < end; i++ {
		snap := filtered[total-1-i].Snapshot()
		result = append(result, &snap)
	}
	return result, total
}

// Stats returns summary statistics.
func (te *TurnEngine) Stats() TurnStatsResponse {
	te.listMu.RLock()
	defer te.listMu.RUnlock()

	resp := TurnStatsResponse{
		TotalTurns: len(te.jobList),
		ByStatus:   make(map[string]int),
	}

	var totalDuration, completedCount int64
	for _, j := range te.jobList {
		j.RLock()
		resp.ByStatus[string(j.Status)]++
		if j.Status == JobCompleted && j.StartedAt != nil && j.CompletedAt != nil {
			totalDuration += j.CompletedAt.Sub(*j.StartedAt).Milliseconds()
			completedCount++
		}
		j.RUnlock()
	}
	if completedCount > 0 {
		resp.AvgDurationMs = totalDuration / completedCount
	}
	return resp
}

func (te *TurnEngine) worker(ctx context.Context, id int) {
	defer te.wg.Done()
	log := te.logger.With().Int("worker", id).Logger()
	log.Debug().Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("worker stopping")
			return
		case job, ok := <-te.queue:
			if !ok {
				return
			}
			te.executeJob(ctx, job, log)
		}
	}
}

func (te *TurnEngine) executeJob(ctx context.Context, job *TurnJob, log zerolog.Logger) {
	job.Lock()
	if job.Status == JobCancelled {
		job.Unlock()
		return
	}
	started := time.Now().UTC()
	job.Status = JobRunning
	job.StartedAt = &started
	turn := assistant.Turn{TurnID: job.ID, Author: job.Author, Message: job.Message}
	job.Unlock()

	log.Info().Str("turn_id", turn.TurnID).Msg("processing turn")

	turnCtx, cancel := context.WithTimeout(ctx, te.timeout)
	defer cancel()
	turnCtx = context.WithValue(turnCtx, TurnIDContextKey, turn.TurnID)

	res, err := te.conv.HandleMessage(turnCtx, turn)
	completed := time.Now().UTC()

	job.Lock()
	if err != nil {
		job.Status = JobFailed
		job.Error = err.Error()
		var exhausted *perrors.RetryExhaustedError
		if errors.As(err, &exhausted) {
			job.Errors = append([]string(nil), exhausted.Errors...)
		}
		job.CompletedAt = &completed
		job.Unlock()
		log.Error().Err(err).Str("turn_id", turn.TurnID).Msg("turn failed")
	} else {
		job.Reply = res.Message
		job.Attempts = res.Attempts
		if res.Resumed && res.TurnID != job.ID {
			job.ResumedTurn = res.TurnID
			job.Outcomes = append([]orchestrator.Outcome{}, res.Report.Outcomes...)
		}
		applyReport(job, res.Report)
		if job.ResumedTurn != "" && job.Status == JobSuspended {
			// the open question belongs to the resumed turn's job
			job.Status = JobCompleted
		}
		if job.Status != JobSuspended {
			job.CompletedAt = &completed
		}
		status := job.Status
		job.Unlock()
		log.Info().Str("turn_id", turn.TurnID).Str("status", string(status)).Int("attempts", res.Attempts).Msg("turn finished")
	}

	if te.onFinish != nil {
		te.onFinish(completed.Sub(started).Seconds())
	}
	te.deliver(job, log)
}

func (te *TurnEngine) deliver(job *TurnJob, log zerolog.Logger) {
	job.RLock()
	url := job.CallbackURL
	job.RUnlock()
	if te.callbacks == nil || url == "" {
		return
	}
	snap := job.Snapshot()
	go func() {
		cbCtx, cbCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cbCancel()
		if err := te.callbacks.Deliver(cbCtx, url, &snap); err != nil {
			log.Error().Err(err).Str("turn_id", snap.ID).Str("callback_url", url).Msg("callback delivery failed")
		}
	}()
}

// applyReport copies a batch report onto a job. The caller holds the lock.
func applyReport(job *TurnJob, r orchestrator.Report) {
	job.BatchStatus = r.Status
	job.Question = r.Question
	job.Errors = append([]string(nil), r.Errors...)
	if len(r.Outcomes) > 0 {
		job.Outcomes = append([]orchestrator.Outcome{}, r.Outcomes...)
	}
	switch r.Status {
	case orchestrator.BatchSuspended:
		job.Status = JobSuspended
	case orchestrator.BatchAbandoned:
		job.Status = JobAbandoned
	case orchestrator.BatchFailed:
		job.Status = JobFailed
		job.Error = r.Fault
	default:
		job.Status = JobCompleted
	}
}

// ActionFinished records an outcome on the job for its turn, replacing any
// earlier outcome with the same index.
func (te *TurnEngine) ActionFinished(_ context.Context, turnID string, o orchestrator.Outcome) {
	job, ok := te.load(turnID)
	if !ok {
		return
	}
	job.Lock()
	defer job.Unlock()
	for i := range job.Outcomes {
		if job.Outcomes[i].Index == o.Index {
			job.Outcomes[i] = o
			return
		}
	}
	job.Outcomes = append(job.Outcomes, o)
}

// BatchFinished updates suspended jobs whose batch was resumed or abandoned
// by a later request. Running jobs are finalized by their worker.
func (te *TurnEngine) BatchFinished(_ context.Context, r orchestrator.Report) {
	job, ok := te.load(r.TurnID)
	if !ok {
		return
	}
	job.Lock()
	defer job.Unlock()
	if job.Status != JobSuspended {
		return
	}
	applyReport(job, r)
	if job.Status != JobSuspended {
		now := time.Now().UTC()
		job.CompletedAt = &now
	}
}

// UndoFinished marks an undone outcome as no longer reversible.
func (te *TurnEngine) UndoFinished(_ context.Context, turnID string, index int, res ledger.UndoResult, _ error) {
	if !res.Entry.Undone {
		return
	}
	job, ok := te.load(turnID)
	if !ok {
		return
	}
	job.Lock()
	defer job.Unlock()
	for i := range job.Outcomes {
		if job.Outcomes[i].Index == index {
			job.Outcomes[i].Reversible = false
		}
	}
}
