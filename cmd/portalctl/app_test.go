package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/fnportal/cache"
	"github.com/ceyewan/fnportal/portal"
	"github.com/ceyewan/fnportal/testkit"
	"github.com/ceyewan/fnportal/xerrors"
)

const functionsJSON = `[
  {"name": "HttpTrigger1", "href": "https://scm/api/functions/HttpTrigger1",
   "config": {"bindings": [{"type": "httpTrigger", "direction": "in", "authLevel": "function"}]}},
  {"name": "TimerTrigger1", "href": "https://scm/api/functions/TimerTrigger1",
   "config": {"bindings": [{"type": "timerTrigger"}], "disabled": true}}
]`

// writeConfig 在临时目录写入指向 scmURL 的配置文件，返回文件路径
func writeConfig(t *testing.T, scmURL string, extra string) string {
	t.Helper()
	content := fmt.Sprintf(`log:
  level: error
  output: stderr
trace:
  service_name: portalctl-test
retry:
  max_attempts: 2
  delay: 1ms
  key_delay: 1ms
  host_status_delay: 1ms
transport:
  timeout: 5s
portal:
  site:
    name: app
    scm_url: %s
    main_site_url: %s
%s`, scmURL, scmURL, extra)
	path := filepath.Join(t.TempDir(), "portalctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newSCM(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/functions", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, "https://app.scm.azurewebsites.net", "")
	t.Setenv("FNPORTAL_PORTAL_SESSION_TOKEN", "arm-token")

	cfg, _, err := loadConfig(context.Background(), path, false)
	require.NoError(t, err)

	assert.Equal(t, "https://app.scm.azurewebsites.net", cfg.Portal.Site.ScmURL)
	assert.Equal(t, "arm-token", cfg.Portal.Session.Token)
	assert.Equal(t, 2, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Millisecond, cfg.Retry.Delay)
	assert.Equal(t, 5*time.Second, cfg.Transport.Timeout)
	assert.Equal(t, cache.ModeStandalone, cfg.Cache.Mode)
	assert.Equal(t, "fnportal.errors", cfg.Events.Subject)
	assert.Equal(t, portal.DefaultServiceHost, cfg.Portal.ServiceHost)
}

func TestNewAppListsFunctions(t *testing.T) {
	srv, hits := newSCM(t, http.StatusOK, functionsJSON)
	ctx := testkit.NewContext(t, 10*time.Second)

	cfg, _, err := loadConfig(ctx, writeConfig(t, srv.URL, ""), false)
	require.NoError(t, err)
	a, err := newApp(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	fns, err := a.client.ListFunctions(ctx)
	require.NoError(t, err)
	require.Len(t, fns, 2)

	fi, err := findFunction(ctx, a.client, "httptrigger1")
	require.NoError(t, err)
	assert.Equal(t, "HttpTrigger1", fi.Name)
	assert.Equal(t, "httpTrigger", triggerType(fi))
	assert.EqualValues(t, 1, hits.Load(), "second listing is served from the cache")

	_, err = findFunction(ctx, a.client, "missing")
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
}

func TestNewAppReportsFailures(t *testing.T) {
	srv, hits := newSCM(t, http.StatusInternalServerError, `{}`)
	ctx := testkit.NewContext(t, 10*time.Second)

	cfg, _, err := loadConfig(ctx, writeConfig(t, srv.URL, ""), false)
	require.NoError(t, err)
	a, err := newApp(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	_, err = a.client.ListFunctions(ctx)
	require.Error(t, err)
	assert.EqualValues(t, 2, hits.Load())

	active := a.reporter.ActiveErrors()
	require.Len(t, active, 1)
	assert.Equal(t, portal.ErrIDUnableToRetrieveFunctionsList, active[0].ErrorID)

	var out bytes.Buffer
	printActiveErrors(&out, active)
	assert.Contains(t, out.String(), "[Fatal] unableToRetrieveFunctionsList")
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *AppConfig)
	}{
		{"unknown cache mode", func(cfg *AppConfig) { cfg.Cache.Mode = "shared" }},
		{"distributed cache without redis", func(cfg *AppConfig) { cfg.Cache.Mode = cache.ModeDistributed }},
		{"bad log format", func(cfg *AppConfig) { cfg.Log.Format = "xml" }},
		{"relative site url", func(cfg *AppConfig) { cfg.Portal.Site.ScmURL = "app.scm" }},
		{"breaker ratio out of range", func(cfg *AppConfig) { cfg.Breaker.FailureRatio = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			cfg, _, err := loadConfig(ctx, writeConfig(t, "https://app.scm.azurewebsites.net", ""), false)
			require.NoError(t, err)
			tt.mutate(cfg)
			_, err = newApp(ctx, cfg)
			assert.Error(t, err)
		})
	}
}

func TestNewAppDistributedCache(t *testing.T) {
	redisCfg := testkit.GetRedisConfig()
	testkit.GetRedisConnector(t)

	srv, hits := newSCM(t, http.StatusOK, functionsJSON)
	ctx := testkit.NewContext(t, 10*time.Second)

	prefix := "fnportal:test:" + testkit.NewID() + ":"
	extra := fmt.Sprintf("cache:\n  mode: distributed\n  prefix: %q\n  channel: %q\nredis:\n  addr: %s\n  db: %d\n",
		prefix, prefix+"invalidate", redisCfg.Addr, redisCfg.DB)
	cfg, _, err := loadConfig(ctx, writeConfig(t, srv.URL, extra), false)
	require.NoError(t, err)

	a, err := newApp(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	_, err = a.client.ListFunctions(ctx)
	require.NoError(t, err)
	_, err = a.client.ListFunctions(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, hits.Load())

	require.NoError(t, a.client.ClearAllCachedData(ctx))
	_, err = a.client.ListFunctions(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, hits.Load())

	rows := a.checkConnections(ctx)
	require.Len(t, rows, 1)
	assert.Equal(t, "cache", rows[0].Role)
	assert.True(t, rows[0].Healthy)
	assert.Empty(t, rows[0].Error)
}

func TestStatusCommandWithoutConnections(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", writeConfig(t, "https://app.scm.azurewebsites.net", ""), "status"})
	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "no external connections configured")
}

func TestFunctionsListCommand(t *testing.T) {
	srv, _ := newSCM(t, http.StatusOK, functionsJSON)
	path := writeConfig(t, srv.URL, "")

	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, out string)
	}{
		{
			name: "table",
			args: []string{"--config", path, "functions", "list"},
			check: func(t *testing.T, out string) {
				assert.Contains(t, out, "NAME")
				assert.Regexp(t, `HttpTrigger1\s+httpTrigger\s+false`, out)
				assert.Regexp(t, `TimerTrigger1\s+timerTrigger\s+true`, out)
			},
		},
		{
			name: "json",
			args: []string{"--config", path, "--json", "fn", "list"},
			check: func(t *testing.T, out string) {
				var fns []portal.FunctionInfo
				require.NoError(t, json.Unmarshal([]byte(out), &fns))
				assert.Len(t, fns, 2)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			root := newRootCmd()
			root.SetOut(&out)
			root.SetErr(&bytes.Buffer{})
			root.SetArgs(tt.args)
			require.NoError(t, root.ExecuteContext(context.Background()))
			tt.check(t, out.String())
		})
	}
}

func TestEventsWatchRequiresNATS(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", writeConfig(t, "https://app.scm.azurewebsites.net", ""), "events", "watch"})
	err := root.ExecuteContext(context.Background())
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
}

func TestParsePairs(t *testing.T) {
	tests := []struct {
		name    string
		raw     []string
		sep     string
		want    []portal.NameValue
		wantErr bool
	}{
		{"headers", []string{"x-custom: a", "Accept:text/plain"}, ":", []portal.NameValue{{Name: "x-custom", Value: "a"}, {Name: "Accept", Value: "text/plain"}}, false},
		{"query keeps later separators", []string{"code=a=b"}, "=", []portal.NameValue{{Name: "code", Value: "a=b"}}, false},
		{"empty value", []string{"flag="}, "=", []portal.NameValue{{Name: "flag", Value: ""}}, false},
		{"missing separator", []string{"oops"}, "=", nil, true},
		{"missing name", []string{"=v"}, "=", nil, true},
		{"none", nil, "=", []portal.NameValue{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePairs(tt.raw, tt.sep)
			if tt.wantErr {
				assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
