// Package assistant turns a user message into an applied batch by asking
// the model for actions and resubmitting until they validate.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/portfolio-agent/internal/action"
	"github.com/p-blackswan/portfolio-agent/internal/domain"
	perrors "github.com/p-blackswan/portfolio-agent/internal/errors"
	"github.com/p-blackswan/portfolio-agent/internal/llm"
	"github.com/p-blackswan/portfolio-agent/internal/orchestrator"
	"github.com/p-blackswan/portfolio-agent/internal/retry"
)

// Attempt results reported to the attempt hook.
const (
	AttemptOK        = "ok"
	AttemptMalformed = "malformed"
	AttemptInvalid   = "invalid"
	AttemptError     = "error"
)

// Engine is the part of the orchestrator the assistant drives.
type Engine interface {
	Snapshot() domain.Graph
	Submit(ctx context.Context, turnID, author string, raws []json.RawMessage, strict bool) (orchestrator.Report, error)
	Resume(ctx context.Context, turnID, reply string) (orchestrator.Report, error)
	Suspended() (orchestrator.Question, bool)
}

// Config bounds the loop.
type Config struct {
	MaxAttempts int
	MaxTokens   int
	MaxHistory  int
	Retry       retry.Config
}

// Turn is one user message.
type Turn struct {
	TurnID  string
	Author  string
	Message string
}

// Result is what the user sees for a turn.
type Result struct {
	TurnID   string              `json:"turn_id"`
	Message  string              `json:"message"`
	Report   orchestrator.Report `json:"report"`
	Attempts int                 `json:"attempts"`
	Resumed  bool                `json:"resumed"`
}

// Assistant runs the validation-retry loop.
type Assistant struct {
	provider llm.Provider
	engine   Engine
	cfg      Config
	now      func() time.Time
	onTry    func(result string)
	logger   zerolog.Logger

	mu      sync.Mutex
	history []llm.Message
}

// New creates an assistant.
func New(provider llm.Provider, engine Engine, cfg Config, logger zerolog.Logger) *Assistant {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 20
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return &Assistant{
		provider: provider,
		engine:   engine,
		cfg:      cfg,
		now:      time.Now,
		onTry:    func(string) {},
		logger:   logger.With().Str("component", "assistant").Logger(),
	}
}

// SetAttemptHook sets a callback invoked after every model round-trip.
func (a *Assistant) SetAttemptHook(fn func(result string)) {
	if fn != nil {
		a.onTry = fn
	}
}

// HandleMessage routes a user message. While a batch waits on a question
// the message is that question's answer; otherwise it starts a new turn.
func (a *Assistant) HandleMessage(ctx context.Context, turn Turn) (Result, error) {
	if q, ok := a.engine.Suspended(); ok {
		report, err := a.engine.Resume(ctx, q.TurnID, turn.Message)
		if err != nil {
			return Result{}, err
		}
		a.remember(llm.Message{Role: llm.RoleUser, Content: turn.Message})
		return Result{TurnID: q.TurnID, Report: report, Resumed: true}, nil
	}
	return a.ProposeAndApply(ctx, turn)
}

// ProposeAndApply asks the model for actions and applies them. A reply
// that is malformed or fails validation is sent back with the errors, up
// to MaxAttempts round-trips. Nothing is applied unless an attempt
// validates completely.
func (a *Assistant) ProposeAndApply(ctx context.Context, turn Turn) (Result, error) {
	log := a.logger.With().Str("turn_id", turn.TurnID).Logger()

	system, err := SystemPrompt(a.engine.Snapshot(), a.now())
	if err != nil {
		return Result{}, err
	}
	userMsg := llm.Message{Role: llm.RoleUser, Content: turn.Message}
	msgs := append(a.recent(), userMsg)

	var failures []string
	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		req := llm.CompletionRequest{
			Messages:     msgs,
			SystemPrompt: system,
			MaxTokens:    a.cfg.MaxTokens,
			JSONOutput:   true,
		}

		var resp *llm.CompletionResponse
		err := retry.Do(ctx, a.cfg.Retry, func(ctx context.Context) error {
			r, err := a.provider.Complete(ctx, req)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
		if err != nil {
			a.onTry(AttemptError)
			log.Error().Err(err).Int("attempt", attempt).Msg("model request failed")
			return Result{}, fmt.Errorf("model request: %w", err)
		}
		if resp.Thinking != "" {
			log.Debug().Int("attempt", attempt).Str("thinking", resp.Thinking).Msg("model reasoning")
		}

		reply, err := action.ParseReply(resp.Text)
		if err != nil {
			a.onTry(AttemptMalformed)
			log.Warn().Err(err).Int("attempt", attempt).Msg("malformed model reply")
			failures = append(failures, fmt.Sprintf("attempt %d: %v", attempt, err))
			msgs = append(msgs,
				llm.Message{Role: llm.RoleAssistant, Content: resp.Text},
				llm.Message{Role: llm.RoleUser, Content: CorrectiveMessage([]string{err.Error()})})
			continue
		}

		report, err := a.engine.Submit(ctx, turn.TurnID, turn.Author, reply.Actions, true)
		if err != nil {
			a.onTry(AttemptError)
			return Result{}, err
		}
		if report.Status == orchestrator.BatchRejected {
			a.onTry(AttemptInvalid)
			log.Warn().Int("attempt", attempt).Strs("errors", report.Errors).Msg("model actions failed validation")
			for _, e := range report.Errors {
				failures = append(failures, fmt.Sprintf("attempt %d: %s", attempt, e))
			}
			msgs = append(msgs,
				llm.Message{Role: llm.RoleAssistant, Content: resp.Text},
				llm.Message{Role: llm.RoleUser, Content: CorrectiveMessage(report.Errors)})
			continue
		}

		a.onTry(AttemptOK)
		a.remember(userMsg, llm.Message{Role: llm.RoleAssistant, Content: reply.Message})
		log.Info().
			Int("attempt", attempt).
			Int("actions", len(reply.Actions)).
			Str("status", string(report.Status)).
			Msg("turn applied")
		return Result{TurnID: turn.TurnID, Message: reply.Message, Report: report, Attempts: attempt}, nil
	}

	log.Error().Int("attempts", a.cfg.MaxAttempts).Msg("model retries exhausted")
	return Result{TurnID: turn.TurnID, Attempts: a.cfg.MaxAttempts}, &perrors.RetryExhaustedError{
		Attempts: a.cfg.MaxAttempts,
		Errors:   failures,
	}
}

func (a *Assistant) recent() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]llm.Message(nil), a.history...)
}

func (a *Assistant) remember(msgs ...llm.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, msgs...)
	if over := len(a.history) - a.cfg.MaxHistory; over > 0 {
		a.history = a.history[over:]
	}
}

// Reset clears the conversation history.
func (a *Assistant) Reset() {
	a.mu.Lock()
	a.history = nil
	a.mu.Unlock()
}
