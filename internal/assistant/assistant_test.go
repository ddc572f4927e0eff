package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/portfolio-agent/internal/domain"
	perrors "github.com/p-blackswan/portfolio-agent/internal/errors"
	"github.com/p-blackswan/portfolio-agent/internal/executor"
	"github.com/p-blackswan/portfolio-agent/internal/ledger"
	"github.com/p-blackswan/portfolio-agent/internal/llm"
	"github.com/p-blackswan/portfolio-agent/internal/orchestrator"
	"github.com/p-blackswan/portfolio-agent/internal/retry"
	"github.com/p-blackswan/portfolio-agent/internal/validate"
)

type scriptedProvider struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	requests []llm.CompletionRequest
}

func (s *scriptedProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.requests)
	s.requests = append(s.requests, req)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.replies) {
		return &llm.CompletionResponse{Text: `{"message":"nothing","actions":[]}`}, nil
	}
	return &llm.CompletionResponse{Text: s.replies[i]}, nil
}

func (s *scriptedProvider) ModelID() string { return "scripted" }

func (s *scriptedProvider) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func newEngine(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()
	o := orchestrator.New(
		validate.New(),
		executor.New(executor.DefaultConfig(), zerolog.Nop()),
		ledger.New(nil, zerolog.Nop()),
		zerolog.Nop(),
	)
	o.Load(domain.Graph{Projects: []domain.Project{{ID: "project-1", Name: "P1", Status: "active", Priority: "high"}}})
	return o
}

func newAssistant(p llm.Provider, e Engine) (*Assistant, *[]string) {
	var tries []string
	a := New(p, e, Config{Retry: retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond}}, zerolog.Nop())
	a.SetAttemptHook(func(r string) { tries = append(tries, r) })
	return a, &tries
}

func TestProposeAndApply_MalformedTwiceThenValid(t *testing.T) {
	engine := newEngine(t)
	p := &scriptedProvider{replies: []string{
		`Sure! I'll add that task.`,
		`{"message": "adding", "actions": [ {"type": "add_task"`,
		"```json\n{\"message\":\"Added Deploy API to P1.\",\"actions\":[{\"type\":\"add_task\",\"project\":\"P1\",\"title\":\"Deploy API\"}]}\n```",
	}}
	a, tries := newAssistant(p, engine)

	res, err := a.ProposeAndApply(context.Background(), Turn{TurnID: "turn-1", Author: "Dana", Message: "add Deploy API to P1"})
	require.NoError(t, err)
	assert.Equal(t, 3, p.calls())
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, "Added Deploy API to P1.", res.Message)
	assert.Equal(t, orchestrator.BatchCompleted, res.Report.Status)
	assert.Equal(t, []string{AttemptMalformed, AttemptMalformed, AttemptOK}, *tries)

	plan := planOf(t, engine, "project-1")
	require.Len(t, plan, 1)
	assert.Equal(t, "Deploy API", plan[0].Title)

	last := p.requests[2].Messages
	require.Len(t, last, 5, "user message plus two reply/correction pairs")
	assert.Equal(t, llm.RoleUser, last[4].Role, "correction is a user turn so the transcript never ends on the rejected reply")
	assert.Contains(t, last[4].Content, "add_subtask")
}

func TestProposeAndApply_InvalidActionsAreResubmitted(t *testing.T) {
	engine := newEngine(t)
	p := &scriptedProvider{replies: []string{
		`{"message":"ok","actions":[{"type":"add_task","project":"P1","title":"A"},{"type":"update_task","project":"P1","task":"Nonexistent","status":"completed"}]}`,
		`{"message":"ok","actions":[{"type":"add_task","project":"P1","title":"A"}]}`,
	}}
	a, tries := newAssistant(p, engine)

	res, err := a.ProposeAndApply(context.Background(), Turn{TurnID: "turn-1", Message: "do it"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []string{AttemptInvalid, AttemptOK}, *tries)
	assert.Contains(t, p.requests[1].Messages[2].Content, "Nonexistent")
	assert.Len(t, planOf(t, engine, "project-1"), 1, "first attempt applied nothing")
}

func TestProposeAndApply_ExhaustionAppliesNothing(t *testing.T) {
	engine := newEngine(t)
	before := engine.Snapshot()
	p := &scriptedProvider{replies: []string{
		`{"message":"x","actions":[{"type":"add_task","project":"Nope","title":"A"}]}`,
		`not json`,
		`{"message":"x","actions":[{"type":"teleport"}]}`,
	}}
	a, _ := newAssistant(p, engine)

	_, err := a.ProposeAndApply(context.Background(), Turn{TurnID: "turn-1", Message: "go"})
	require.Error(t, err)

	var exhausted *perrors.RetryExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Len(t, exhausted.Errors, 3)
	assert.Contains(t, err.Error(), "Nope")
	assert.Equal(t, 3, p.calls())
	assert.Equal(t, before, engine.Snapshot())
}

func TestProposeAndApply_TransientErrorsDoNotConsumeAttempts(t *testing.T) {
	engine := newEngine(t)
	p := &scriptedProvider{
		errs:    []error{perrors.NewAPIError("openai", 503, "overloaded")},
		replies: []string{"", `{"message":"hi","actions":[]}`},
	}
	a, tries := newAssistant(p, engine)

	res, err := a.ProposeAndApply(context.Background(), Turn{TurnID: "turn-1", Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 2, p.calls())
	assert.Equal(t, []string{AttemptOK}, *tries)
}

func TestProposeAndApply_PermanentProviderError(t *testing.T) {
	engine := newEngine(t)
	p := &scriptedProvider{errs: []error{perrors.NewAPIError("openai", 401, "bad key")}}
	a, _ := newAssistant(p, engine)

	_, err := a.ProposeAndApply(context.Background(), Turn{TurnID: "turn-1", Message: "hello"})
	require.Error(t, err)
	assert.Equal(t, 1, p.calls())
}

func TestHandleMessage_ReplyResumesSuspendedBatch(t *testing.T) {
	engine := newEngine(t)
	p := &scriptedProvider{replies: []string{
		`{"message":"One question first.","actions":[
			{"type":"add_task","project":"P1","title":"Deploy API"},
			{"type":"ask_user","question":"Staging or prod?","options":["staging","prod"]},
			{"type":"add_subtask","project":"P1","task":"Deploy API","title":"Smoke test"}
		]}`,
	}}
	a, _ := newAssistant(p, engine)
	ctx := context.Background()

	res, err := a.HandleMessage(ctx, Turn{TurnID: "turn-1", Message: "ship the API"})
	require.NoError(t, err)
	assert.Equal(t, orchestrator.BatchSuspended, res.Report.Status)
	require.NotNil(t, res.Report.Question)

	res, err = a.HandleMessage(ctx, Turn{TurnID: "turn-2", Message: "staging"})
	require.NoError(t, err)
	assert.True(t, res.Resumed)
	assert.Equal(t, "turn-1", res.TurnID)
	assert.Equal(t, orchestrator.BatchCompleted, res.Report.Status)
	assert.Equal(t, 1, p.calls(), "the reply is not sent to the model")

	plan := planOf(t, engine, "project-1")
	require.Len(t, plan, 1)
	require.Len(t, plan[0].Subtasks, 1)
}

func TestSystemPrompt_ContainsPortfolio(t *testing.T) {
	g := domain.Graph{Projects: []domain.Project{{
		ID: "project-1", Name: "Website Redesign", Status: "active", Priority: "high",
		Plan: []domain.Task{{ID: "task-1", Title: "Design", Status: domain.StatusTodo}},
		RecentActivity: []domain.Activity{
			{Note: "a"}, {Note: "b"}, {Note: "c"}, {Note: "d-should-be-dropped"},
		},
	}}}
	prompt, err := SystemPrompt(g, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Contains(t, prompt, "Today is 2025-03-10")
	assert.Contains(t, prompt, `"name": "Website Redesign"`)
	assert.Contains(t, prompt, `"id": "task-1"`)
	assert.False(t, strings.Contains(prompt, "d-should-be-dropped"))
}

func TestCorrectiveMessage(t *testing.T) {
	msg := CorrectiveMessage([]string{`action 0 (add_task): project not found "X"`})
	assert.Contains(t, msg, `project not found "X"`)
	for _, typ := range []string{"comment", "add_task", "update_task", "add_subtask", "update_subtask", "update_project", "ask_user"} {
		assert.Contains(t, msg, typ)
	}
}

// planOf returns the committed tasks of one project.
func planOf(t *testing.T, e interface{ Snapshot() domain.Graph }, projectID string) []domain.Task {
	t.Helper()
	g := e.Snapshot()
	p := g.Project(projectID)
	require.NotNil(t, p, projectID)
	return p.Plan
}
