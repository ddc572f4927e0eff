// Package mgmt provides the management HTTP API for the portfolio agent.
package mgmt

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/p-blackswan/portfolio-agent/internal/domain"
	"github.com/p-blackswan/portfolio-agent/internal/ledger"
	"github.com/p-blackswan/portfolio-agent/internal/orchestrator"
)

// --- Turn jobs ---

// JobStatus represents the lifecycle state of a conversation turn.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSuspended JobStatus = "suspended"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
	JobAbandoned JobStatus = "abandoned"
)

// Terminal reports whether no further change will happen to a job.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled, JobAbandoned:
		return true
	}
	return false
}

// TurnJob is one user message processed asynchronously. Its ID is the
// turn id recorded with every delta the turn produces.
type TurnJob struct {
	mu          sync.RWMutex             `json:"-"`
	ID          string                   `json:"id"`
	Status      JobStatus                `json:"status"`
	Author      string                   `json:"author,omitempty"`
	Message     string                   `json:"message"`
	Reply       string                   `json:"reply,omitempty"`
	Attempts    int                      `json:"attempts,omitempty"`
	ResumedTurn string                   `json:"resumed_turn,omitempty"`
	BatchStatus orchestrator.BatchStatus `json:"batch_status,omitempty"`
	Outcomes    []orchestrator.Outcome   `json:"outcomes"`
	Question    *orchestrator.Question   `json:"question,omitempty"`
	Errors      []string                 `json:"errors,omitempty"`
	Error       string                   `json:"error,omitempty"`
	CallbackURL string                   `json:"callback_url,omitempty"`
	CreatedAt   time.Time                `json:"created_at"`
	StartedAt   *time.Time               `json:"started_at,omitempty"`
	CompletedAt *time.Time               `json:"completed_at,omitempty"`
}

// Lock locks the job for writing.
func (j *TurnJob) Lock() { j.mu.Lock() }

// Unlock unlocks the job after writing.
func (j *TurnJob) Unlock() { j.mu.Unlock() }

// RLock locks the job for reading.
func (j *TurnJob) RLock() { j.mu.RLock() }

// RUnlock unlocks the job after reading.
func (j *TurnJob) RUnlock() { j.mu.RUnlock() }

// Snapshot returns a copy of the job that is safe to read without holding locks.
func (j *TurnJob) Snapshot() TurnJob {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := TurnJob{
		ID:          j.ID,
		Status:      j.Status,
		Author:      j.Author,
		Message:     j.Message,
		Reply:       j.Reply,
		Attempts:    j.Attempts,
		ResumedTurn: j.ResumedTurn,
		BatchStatus: j.BatchStatus,
		Outcomes:    append([]orchestrator.Outcome{}, j.Outcomes...),
		Errors:      append([]string(nil), j.Errors...),
		Error:       j.Error,
		CallbackURL: j.CallbackURL,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
	if j.Question != nil {
		q := *j.Question
		out.Question = &q
	}
	return out
}

// --- Request DTOs ---

// SubmitTurnRequest is the payload for POST /api/v1/turns.
type SubmitTurnRequest struct {
	Message     string `json:"message"`
	Author      string `json:"author,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
}

// ResumeRequest is the payload for POST /api/v1/turns/:id/resume.
type ResumeRequest struct {
	Reply string `json:"reply"`
}

// BatchRequest is the payload for POST /api/v1/batches.
type BatchRequest struct {
	TurnID  string            `json:"turn_id,omitempty"`
	Author  string            `json:"author,omitempty"`
	Actions []json.RawMessage `json:"actions"`
}

// ListTurnsQuery holds query parameters for GET /api/v1/turns.
type ListTurnsQuery struct {
	Status string `query:"status"`
	Author string `query:"author"`
	Limit  int    `query:"limit"`
	Offset int    `query:"offset"`
}

// --- Response DTOs ---

// SubmitTurnResponse is the 202 body for POST /api/v1/turns.
type SubmitTurnResponse struct {
	ID     string    `json:"id"`
	Status JobStatus `json:"status"`
}

// TurnResponse wraps a TurnJob for API responses.
type TurnResponse struct {
	Turn *TurnJob `json:"turn"`
}

// TurnListResponse wraps a list of turns.
type TurnListResponse struct {
	Turns  []*TurnJob `json:"turns"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// UndoResponse is the body for a successful or idempotent undo.
type UndoResponse struct {
	Undone        bool         `json:"undone"`
	AlreadyUndone bool         `json:"already_undone"`
	Entry         ledger.Entry `json:"entry"`
}

// ProjectListResponse is the body for GET /api/v1/projects.
type ProjectListResponse struct {
	Projects []domain.Project `json:"projects"`
	People   []domain.Person  `json:"people"`
}

// ImportResponse is the body for POST /api/v1/import.
type ImportResponse struct {
	Mode     orchestrator.ImportMode `json:"mode"`
	Projects int                     `json:"projects"`
	People   int                     `json:"people"`
}

// HealthDetailResponse is the response for GET /api/v1/health.
type HealthDetailResponse struct {
	Status       string            `json:"status"`
	Integrations map[string]string `json:"integrations"`
	Uptime       string            `json:"uptime"`
	Version      string            `json:"version"`
}

// TurnStatsResponse is the response for GET /api/v1/turns/stats.
type TurnStatsResponse struct {
	TotalTurns    int            `json:"total_turns"`
	ByStatus      map[string]int `json:"by_status"`
	AvgDurationMs int64          `json:"avg_duration_ms"`
}

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}
