package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/portfolio-agent/internal/errors"
	"github.com/p-blackswan/portfolio-agent/internal/ledger"
	"github.com/p-blackswan/portfolio-agent/internal/orchestrator"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_Observer(t *testing.T) {
	m := New()
	ctx := context.Background()

	m.ActionFinished(ctx, "t1", orchestrator.Outcome{Type: "add_task", Status: orchestrator.OutcomeApplied})
	m.ActionFinished(ctx, "t1", orchestrator.Outcome{Type: "add_task", Status: orchestrator.OutcomeApplied})
	m.ActionFinished(ctx, "t1", orchestrator.Outcome{Type: "comment", Status: orchestrator.OutcomeInvalid})
	m.BatchFinished(ctx, orchestrator.Report{TurnID: "t1", Status: orchestrator.BatchPartial})

	out := scrape(t, m)
	assert.Contains(t, out, `portfolio_actions_total{status="applied",type="add_task"} 2`)
	assert.Contains(t, out, `portfolio_actions_total{status="invalid",type="comment"} 1`)
	assert.Contains(t, out, fmt.Sprintf(`portfolio_batches_total{status=%q} 1`, orchestrator.BatchPartial))
}

func TestMetrics_UndoLabels(t *testing.T) {
	tests := []struct {
		res  ledger.UndoResult
		err  error
		want string
	}{
		{ledger.UndoResult{Entry: ledger.Entry{Undone: true}}, nil, UndoReverted},
		{ledger.UndoResult{Entry: ledger.Entry{Undone: true}, AlreadyUndone: true}, nil, UndoAlreadyUndone},
		{ledger.UndoResult{}, fmt.Errorf("undo: %w", perrors.ErrHasDependents), UndoRefused},
		{ledger.UndoResult{}, fmt.Errorf("undo: %w", perrors.ErrConflict), UndoRefused},
		{ledger.UndoResult{}, fmt.Errorf("undo: %w", perrors.ErrSuspended), UndoRefused},
		{ledger.UndoResult{}, perrors.ErrNotFound, UndoNotFound},
		{ledger.UndoResult{}, fmt.Errorf("boom"), UndoError},
		{ledger.UndoResult{Entry: ledger.Entry{Undone: true}}, fmt.Errorf("persist failed"), UndoReverted},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, undoLabel(tt.res, tt.err))
	}

	m := New()
	m.UndoFinished(context.Background(), "t1", 0, ledger.UndoResult{}, perrors.ErrHasDependents)
	assert.Contains(t, scrape(t, m), `portfolio_undo_total{result="refused"} 1`)
}

func TestMetrics_AttemptsTurnsHTTP(t *testing.T) {
	m := New()
	m.RecordAttempt("malformed")
	m.RecordAttempt("ok")
	m.ObserveTurn(1.2)
	m.RecordHTTP("POST", 202)

	out := scrape(t, m)
	assert.Contains(t, out, `portfolio_model_attempts_total{result="malformed"} 1`)
	assert.Contains(t, out, `portfolio_model_attempts_total{result="ok"} 1`)
	assert.Contains(t, out, `portfolio_turn_duration_seconds_count 1`)
	assert.Contains(t, out, `portfolio_http_requests_total{method="POST",status="202"} 1`)
}
