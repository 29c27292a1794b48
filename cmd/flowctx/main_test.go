package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCmd(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err = root.Execute()
	return out.String(), errOut.String(), err
}

func writeSettings(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	body = strings.ReplaceAll(body, "$DIR", dir)
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func setTokenKey(t *testing.T) {
	t.Helper()
	t.Setenv(envTokenKey, hex.EncodeToString(bytes.Repeat([]byte{0x42}, 32)))
}

func TestVersionCommandOutputsBuildInfo(t *testing.T) {
	originalVersion, originalCommit := version, commit
	t.Cleanup(func() {
		version = originalVersion
		commit = originalCommit
	})
	version = "1.2.3"
	commit = "abcdef1"

	// A broken settings file must not stop version from printing.
	path := writeSettings(t, "unknown_key: true\n")
	out, _, err := runCmd(t, "--config", path, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "flowctx 1.2.3")
	assert.Contains(t, out, "abcdef1")
}

func TestCheck_PrintsResolvedConfig(t *testing.T) {
	path := writeSettings(t, `
solana_client:
  url: http://127.0.0.1:8899
endpoints:
  supabase: https://project.supabase.co
  supabase_anon_key: secret-anon
`)
	out, _, err := runCmd(t, "--config", path, "check")
	require.NoError(t, err)
	assert.Contains(t, out, "url: http://127.0.0.1:8899")
	assert.Contains(t, out, "commitment: confirmed")
	assert.Contains(t, out, "****")
	assert.NotContains(t, out, "secret-anon")
}

func TestCheck_RejectsInvalidSettings(t *testing.T) {
	path := writeSettings(t, "log_level: loud\n")
	_, _, err := runCmd(t, "--config", path, "check")
	require.Error(t, err)
}

func TestTokenCommands(t *testing.T) {
	setTokenKey(t)
	path := writeSettings(t, "db_path: $DIR/tokens.db\n")
	user := uuid.New()

	_, _, err := runCmd(t, "--config", path, "token", "set", user.String(), "refresh-1")
	require.NoError(t, err)

	out, _, err := runCmd(t, "--config", path, "token", "list")
	require.NoError(t, err)
	assert.Equal(t, user.String()+"\n", out)

	_, _, err = runCmd(t, "--config", path, "token", "delete", user.String())
	require.NoError(t, err)
	out, _, err = runCmd(t, "--config", path, "token", "list")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestTokenCommands_RequireKey(t *testing.T) {
	t.Setenv(envTokenKey, "")
	t.Setenv(envTokenPassphrase, "")
	path := writeSettings(t, "db_path: $DIR/tokens.db\n")
	_, _, err := runCmd(t, "--config", path, "token", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), envTokenKey)
}

func TestJWT_IssuesThroughSupabaseAndCaches(t *testing.T) {
	setTokenKey(t)
	user := uuid.New()
	var exchanges int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&exchanges, 1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "abc.def.ghi",
			"refresh_token": "refresh-2",
			"expires_in":    3600,
			"user":          map[string]any{"id": user.String()},
		})
	}))
	t.Cleanup(srv.Close)
	mr := miniredis.RunT(t)

	path := writeSettings(t, `
db_path: $DIR/tokens.db
redis_addr: `+mr.Addr()+`
endpoints:
  supabase: `+srv.URL+`
  supabase_anon_key: anon
`)
	_, _, err := runCmd(t, "--config", path, "token", "set", user.String(), "refresh-1")
	require.NoError(t, err)

	out, stderr, err := runCmd(t, "--config", path, "--metrics", "jwt", user.String())
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc.def.ghi\n", out)
	assert.Contains(t, stderr, `flowctx_service_calls_total{outcome="ok",service="auth"} 1`)

	out, _, err = runCmd(t, "--config", path, "jwt", user.String())
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc.def.ghi\n", out)
	assert.Equal(t, int64(1), atomic.LoadInt64(&exchanges), "second call served from cache")
}

func TestJWT_PolicyDenies(t *testing.T) {
	setTokenKey(t)
	path := writeSettings(t, `
db_path: $DIR/tokens.db
auth_policy: "user_id == 'nobody'"
endpoints:
  supabase: http://127.0.0.1:1
`)
	_, _, err := runCmd(t, "--config", path, "jwt", uuid.NewString())
	require.Error(t, err)
	assert.Equal(t, "not allowed", err.Error())
}

func TestJWT_RequiresSupabaseEndpoint(t *testing.T) {
	path := writeSettings(t, "db_path: $DIR/tokens.db\n")
	_, _, err := runCmd(t, "--config", path, "jwt", uuid.NewString())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoints.supabase")
}

func TestBalance_InvalidPubkey(t *testing.T) {
	path := writeSettings(t, "")
	_, _, err := runCmd(t, "--config", path, "balance", "not-a-key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid pubkey")
}

func TestFormatSOL(t *testing.T) {
	assert.Equal(t, "0.000005000", formatSOL(5000))
	assert.Equal(t, "1.500000000", formatSOL(1_500_000_000))
}

func TestDBURI(t *testing.T) {
	assert.Equal(t, "file:/var/lib/flowctx.db", dbURI("/var/lib/flowctx.db"))
	assert.Equal(t, "file:flowctx.db", dbURI("flowctx.db"))
	assert.Equal(t, "file:/x.db", dbURI("file:/x.db"))
}

func TestWarm_FillsCache(t *testing.T) {
	setTokenKey(t)
	user := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "warm.jwt",
			"expires_in":   3600,
			"user":         map[string]any{"id": user.String()},
		})
	}))
	t.Cleanup(srv.Close)
	mr := miniredis.RunT(t)

	path := writeSettings(t, `
db_path: $DIR/tokens.db
redis_addr: `+mr.Addr()+`
endpoints:
  supabase: `+srv.URL+`
`)
	_, _, err := runCmd(t, "--config", path, "token", "set", user.String(), "refresh-1")
	require.NoError(t, err)

	out, _, err := runCmd(t, "--config", path, "warm")
	require.NoError(t, err)
	assert.Equal(t, "warmed 1 token(s)\n", out)

	cached, err := mr.Get("flowctx:jwt:" + user.String())
	require.NoError(t, err)
	assert.Equal(t, "warm.jwt", cached)
}
