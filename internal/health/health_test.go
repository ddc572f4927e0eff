package health

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func get(t *testing.T, app *fiber.App, path string) (int, string) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestLiveness(t *testing.T) {
	app := fiber.New()
	app.Get("/healthz", Liveness)

	code, body := get(t, app, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "ok")
}

func TestChecker_AllHealthy(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("db", func(ctx context.Context) Status { return StatusOK })
	c.Register("llm", func(ctx context.Context) Status { return StatusOK })

	assert.True(t, c.IsReady(context.Background()))
	assert.Len(t, c.Last(), 2)
}

func TestChecker_OneDown(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("db", func(ctx context.Context) Status { return StatusOK })
	c.Register("llm", func(ctx context.Context) Status { return StatusDown })

	assert.False(t, c.IsReady(context.Background()))
	assert.Equal(t, StatusDown, c.Last()["llm"])
}

func TestChecker_Degraded_StillReady(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("slack", ConfiguredCheck(false))

	assert.True(t, c.IsReady(context.Background()))
}

func TestChecker_NoChecks(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	assert.True(t, c.IsReady(context.Background()))
}

func TestPingCheck(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, StatusOK, PingCheck(pingerFunc(func(context.Context) error { return nil }))(ctx))
	assert.Equal(t, StatusDown, PingCheck(pingerFunc(func(context.Context) error { return errors.New("locked") }))(ctx))
}

func TestReadiness(t *testing.T) {
	healthy := NewChecker(zerolog.Nop())
	healthy.Register("db", PingCheck(pingerFunc(func(context.Context) error { return nil })))

	down := NewChecker(zerolog.Nop())
	down.Register("db", PingCheck(pingerFunc(func(context.Context) error { return errors.New("gone") })))

	app := fiber.New()
	app.Get("/ready", healthy.Readiness())
	app.Get("/down", down.Readiness())

	code, body := get(t, app, "/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"ready"`)

	code, body = get(t, app, "/down")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "not_ready")
}
