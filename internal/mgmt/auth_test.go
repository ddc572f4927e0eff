package mgmt

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuth_NoAuth_Mode(t *testing.T) {
	app := testApp(t, "none", "")

	req, _ := http.NewRequest("GET", "/api/v1/state", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth_APIKey_Valid(t *testing.T) {
	app := testApp(t, "api-key", "test-secret-key")

	req, _ := http.NewRequest("GET", "/api/v1/state", nil)
	req.Header.Set("Authorization", "Bearer test-secret-key")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth_APIKey_Missing(t *testing.T) {
	app := testApp(t, "api-key", "test-secret-key")

	req, _ := http.NewRequest("GET", "/api/v1/state", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var problem ProblemDetail
	json.NewDecoder(resp.Body).Decode(&problem)
	assert.Equal(t, "missing_auth", problem.Type)
}

func TestAuth_APIKey_Invalid(t *testing.T) {
	app := testApp(t, "api-key", "test-secret-key")

	req, _ := http.NewRequest("GET", "/api/v1/state", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var problem ProblemDetail
	json.NewDecoder(resp.Body).Decode(&problem)
	assert.Equal(t, "invalid_api_key", problem.Type)
}

func TestAuth_APIKey_InvalidScheme(t *testing.T) {
	app := testApp(t, "api-key", "test-secret-key")

	req, _ := http.NewRequest("GET", "/api/v1/state", nil)
	req.Header.Set("Authorization", "Basic dGVzdDp0ZXN0")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuth_ProbeEndpoints_NoAuth(t *testing.T) {
	app := testApp(t, "api-key", "test-secret-key")

	// Probe endpoints should NOT require auth
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		req, _ := http.NewRequest("GET", path, nil)
		resp, err := app.Test(req, -1)
		require.NoError(t, err, "path: %s", path)
		assert.Equal(t, http.StatusOK, resp.StatusCode, "path: %s", path)
	}
}

func TestAuth_RoleRequired_Admin(t *testing.T) {
	app := testApp(t, "api-key", "admin-key")

	// POST /api/v1/import requires admin role
	body := `{"projects":[],"people":[]}`
	req, _ := http.NewRequest("POST", "/api/v1/import?mode=merge", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer admin-key")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth_RoleRequired_ReadOnlyForbidden(t *testing.T) {
	app := newTestEnv(t, "api-key", "admin-key", map[string]Principal{
		"reader-key":   {Name: "Viewer", Role: RoleReadOnly},
		"operator-key": {Name: "Dana", Role: RoleOperator},
	}, nil).app

	get := func(key string) int {
		req, _ := http.NewRequest("GET", "/api/v1/projects", nil)
		req.Header.Set("Authorization", "Bearer "+key)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		return resp.StatusCode
	}
	post := func(path, key, body string) *http.Response {
		req, _ := http.NewRequest("POST", path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+key)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		return resp
	}

	assert.Equal(t, http.StatusOK, get("reader-key"))

	resp := post("/api/v1/batches", "reader-key", `{"actions":[{"type":"comment","project":"P1","note":"x"}]}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	var problem ProblemDetail
	json.NewDecoder(resp.Body).Decode(&problem)
	assert.Equal(t, "insufficient_role", problem.Type)

	resp = post("/api/v1/batches", "operator-key", `{"actions":[{"type":"comment","project":"P1","note":"x"}]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post("/api/v1/import", "operator-key", `{"projects":[]}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAuth_PrincipalIsDefaultAuthor(t *testing.T) {
	env := newTestEnv(t, "api-key", "admin-key", map[string]Principal{
		"dana-key": {Name: "Dana", Role: RoleOperator},
	}, nil)

	body := `{"turn_id":"turn-a","actions":[{"type":"comment","project":"P1","note":"shipped"}]}`
	req, _ := http.NewRequest("POST", "/api/v1/batches", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer dana-key")

	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	g := env.orch.Snapshot()
	acts := g.Project("project-1").RecentActivity
	require.Len(t, acts, 1)
	assert.Equal(t, "Dana", acts[0].Author)
}
