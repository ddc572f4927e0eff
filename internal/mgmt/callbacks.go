package mgmt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/portfolio-agent/internal/errors"
	"github.com/p-blackswan/portfolio-agent/internal/orchestrator"
	"github.com/p-blackswan/portfolio-agent/internal/retry"
)

// CallbackDelivery posts finished turns to caller-supplied webhook URLs.
type CallbackDelivery struct {
	client *http.Client
	retry  retry.Config
	logger zerolog.Logger
}

// CallbackPayload is the JSON body sent to callback URLs.
type CallbackPayload struct {
	TurnID      string                 `json:"turn_id"`
	Status      JobStatus              `json:"status"`
	Reply       string                 `json:"reply,omitempty"`
	Outcomes    []orchestrator.Outcome `json:"outcomes"`
	Question    *orchestrator.Question `json:"question,omitempty"`
	Error       string                 `json:"error,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// NewCallbackDelivery creates a new callback delivery service. retries is
// the number of extra attempts after the first.
func NewCallbackDelivery(timeout time.Duration, retries int, logger zerolog.Logger) *CallbackDelivery {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = retries + 1
	cfg.BaseDelay = 2 * time.Second
	return &CallbackDelivery{
		client: &http.Client{
			Timeout: timeout,
		},
		retry:  cfg,
		logger: logger.With().Str("component", "callbacks").Logger(),
	}
}

// Deliver sends a callback with retries. Returns nil if URL is empty.
// Transport failures and 5xx/429 responses are retried; other statuses are not.
func (cd *CallbackDelivery) Deliver(ctx context.Context, url string, job *TurnJob) error {
	if url == "" {
		return nil
	}

	body, err := json.Marshal(CallbackPayload{
		TurnID:      job.ID,
		Status:      job.Status,
		Reply:       job.Reply,
		Outcomes:    job.Outcomes,
		Question:    job.Question,
		Error:       job.Error,
		CompletedAt: job.CompletedAt,
	})
	if err != nil {
		return fmt.Errorf("marshaling callback payload: %w", err)
	}

	rc := cd.retry
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		cd.logger.Warn().Err(err).
			Str("url", url).
			Str("turn_id", job.ID).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("callback delivery failed, retrying")
	}

	err = retry.Do(ctx, rc, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("creating callback request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "portfolio-agent-callback/1.0")

		resp, err := cd.client.Do(req)
		if err != nil {
			return &perrors.APIError{Service: "callback", Message: err.Error(), Err: perrors.ErrUnavailable}
		}
		resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &perrors.APIError{Service: "callback", StatusCode: resp.StatusCode, Message: fmt.Sprintf("callback returned status %d", resp.StatusCode)}
		}
		cd.logger.Info().
			Str("url", url).
			Str("turn_id", job.ID).
			Int("status_code", resp.StatusCode).
			Msg("callback delivered")
		return nil
	})
	if err != nil {
		return fmt.Errorf("callback delivery failed: %w", err)
	}
	return nil
}
