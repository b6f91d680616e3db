package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/arisu-i18n/arisu/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeCommandFlags(t *testing.T) {
	cmd := newServeCommand(&globalOptions{})

	for _, flag := range []string{"host", "port", "migrate"} {
		if f := cmd.Flags().Lookup(flag); f == nil {
			t.Errorf("expected flag %q to be defined on serve command", flag)
		}
	}
}

func TestServeCommandHelp(t *testing.T) {
	cmd := newServeCommand(&globalOptions{})
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())
	for _, expected := range []string{"Start the Arisu HTTP server", "--host", "--port", "--migrate"} {
		assert.Contains(t, buf.String(), expected)
	}
}

func TestServeCommand_ConfigError(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")
	t.Setenv("SESSION_BACKEND", "")

	cmd := NewRootCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"serve"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config error")
}

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.Environment = "test"
	cfg.Session.Secret = "serve-test-secret"
	cfg.Auth.Salt = "serve-test-salt"
	cfg.Auth.BcryptCost = 4
	return cfg
}

func readiness(t *testing.T, handler http.Handler) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestNewApplication_MemoryBackend(t *testing.T) {
	app, err := newApplication(context.Background(), testConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer app.Close()

	assert.Nil(t, app.pool)
	assert.Nil(t, app.river)

	code, body := readiness(t, app.handler)
	assert.Equal(t, http.StatusOK, code)
	checks := body["checks"].(map[string]any)
	assert.Contains(t, checks, "sessions")
	assert.NotContains(t, checks, "database")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/users", strings.NewReader(`{"username":"noel","email":"noel@example.com","password":"hunter2hunter2"}`))
	app.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestNewApplication_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig()
	cfg.Session.Backend = config.SessionBackendRedis
	cfg.Redis.Addr = mr.Addr()

	app, err := newApplication(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer app.Close()

	code, _ := readiness(t, app.handler)
	assert.Equal(t, http.StatusOK, code)

	rec := httptest.NewRecorder()
	app.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/nobody", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, mr.Keys(), "session stored in redis")

	mr.Close()
	code, body := readiness(t, app.handler)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unavailable", body["status"])
}

func TestNewApplication_PostgresBackendRequiresDatabase(t *testing.T) {
	cfg := testConfig()
	cfg.Session.Backend = config.SessionBackendPostgres

	_, err := newApplication(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires DATABASE_URL")
}

func TestNewApplication_UnknownBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Session.Backend = "etcd"

	_, err := newApplication(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown session backend "etcd"`)
}
