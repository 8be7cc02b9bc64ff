package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surge-downloader/surgemirror/internal/compliance"
	"github.com/surge-downloader/surgemirror/internal/config"
	"github.com/surge-downloader/surgemirror/internal/engine/types"
	"github.com/surge-downloader/surgemirror/internal/testutil"
)

func withSettings(t *testing.T, s *config.Settings) {
	t.Helper()
	prev := settings
	settings = s
	t.Cleanup(func() { settings = prev })
}

func testCommand() (*cobra.Command, *bytes.Buffer) {
	var out bytes.Buffer
	c := &cobra.Command{}
	c.SetOut(&out)
	c.SetErr(&out)
	return c, &out
}

func TestBuildGetRequest_Identity(t *testing.T) {
	s := config.DefaultSettings()
	s.General.DefaultDownloadDir = t.TempDir()

	req, err := buildGetRequest([]string{"cli/cli@v2.40.0", "gh.tar.gz"}, getFlags{sha256: "abc", concurrency: 4}, s)
	require.NoError(t, err)

	assert.False(t, req.urlOnly())
	assert.Equal(t, "cli/cli", req.identity.Repository)
	assert.Equal(t, s.General.DefaultDownloadDir, req.dest)
	assert.Equal(t, types.Options{MaxConcurrency: 4, VerifyIntegrity: true, ExpectedSHA256: "abc"}, req.opts)
	assert.Empty(t, req.static)
}

func TestBuildGetRequest_URLOnly(t *testing.T) {
	s := config.DefaultSettings()
	req, err := buildGetRequest(nil, getFlags{
		urls:   []string{"https://a.example/pkg/tool.zip,https://b.example/tool.zip"},
		output: "out/tool.zip",
	}, s)
	require.NoError(t, err)

	assert.True(t, req.urlOnly())
	assert.Equal(t, "tool.zip", req.identity.File)
	assert.Len(t, req.static, 2)
	assert.Equal(t, "out/tool.zip", req.dest)
	assert.Equal(t, "out", req.destDir())
}

func TestBuildGetRequest_CandidatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirrors.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- https://a.example/f.bin\n- url: https://b.example/f.bin\n  priority: 1\n"), 0o644))

	req, err := buildGetRequest(nil, getFlags{candidates: path, urls: []string{"https://c.example/f.bin"}}, config.DefaultSettings())
	require.NoError(t, err)
	require.Len(t, req.static, 3)
	assert.Equal(t, "https://c.example/f.bin", req.static[0].URL)
	assert.Equal(t, 1, req.static[2].Priority)
}

func TestBuildGetRequest_Errors(t *testing.T) {
	s := config.DefaultSettings()

	_, err := buildGetRequest(nil, getFlags{}, s)
	assert.Error(t, err)

	_, err = buildGetRequest([]string{"nope", "f"}, getFlags{}, s)
	assert.Error(t, err)

	_, err = buildGetRequest([]string{"o/n", "f"}, getFlags{concurrency: -1}, s)
	assert.Error(t, err)

	_, err = buildGetRequest(nil, getFlags{candidates: filepath.Join(t.TempDir(), "missing.yaml")}, s)
	assert.Error(t, err)
}

func TestGetCmd_Args(t *testing.T) {
	prev := getOpts
	t.Cleanup(func() { getOpts = prev })

	getOpts = getFlags{}
	assert.Error(t, getCmd.Args(getCmd, nil))
	assert.Error(t, getCmd.Args(getCmd, []string{"o/n"}))
	assert.NoError(t, getCmd.Args(getCmd, []string{"o/n", "f"}))

	getOpts = getFlags{urls: []string{"https://a.example/f"}}
	assert.NoError(t, getCmd.Args(getCmd, nil))
}

func TestRunGet_HeadlessURL(t *testing.T) {
	requireTCPListener(t)
	srv := testutil.NewMockServerT(t, testutil.WithFileSize(384*1024), testutil.WithRandomData(true))
	defer srv.Close()

	dir := t.TempDir()
	s := config.DefaultSettings()
	s.General.DefaultDownloadDir = dir
	withSettings(t, s)

	c, out := testCommand()
	err := runGet(context.Background(), c, nil, getFlags{
		urls:         []string{srv.URL() + "/tool.bin"},
		noTUI:        true,
		jsonOut:      true,
		allowPrivate: true,
	})
	require.NoError(t, err, out.String())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0], `"event":"started"`)

	var res types.DownloadResult
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &res))
	assert.Equal(t, dir, filepath.Dir(res.Path))
	assert.Equal(t, int64(384*1024), res.Size)
	assert.NoError(t, testutil.VerifyFileContent(res.Path, srv.Data()))
}

func TestRunGet_ChecksumMismatchFails(t *testing.T) {
	requireTCPListener(t)
	srv := testutil.NewMockServerT(t, testutil.WithFileSize(64*1024))
	defer srv.Close()

	s := config.DefaultSettings()
	s.General.DefaultDownloadDir = t.TempDir()
	withSettings(t, s)

	c, _ := testCommand()
	err := runGet(context.Background(), c, nil, getFlags{
		urls:         []string{srv.URL() + "/f.bin"},
		sha256:       strings.Repeat("0", 64),
		noTUI:        true,
		allowPrivate: true,
	})
	require.Error(t, err)
	assert.Equal(t, types.KindAllSourcesExhausted, types.KindOf(err))
}

func TestRunGet_PrivateHostRejected(t *testing.T) {
	requireTCPListener(t)
	srv := testutil.NewMockServerT(t, testutil.WithFileSize(1024))
	defer srv.Close()

	s := config.DefaultSettings()
	s.General.DefaultDownloadDir = t.TempDir()
	withSettings(t, s)

	c, _ := testCommand()
	err := runGet(context.Background(), c, nil, getFlags{urls: []string{srv.URL() + "/f.bin"}, noTUI: true})
	require.ErrorIs(t, err, compliance.ErrRejected)
	assert.Zero(t, srv.RequestCount.Load())
}

func TestMetricsRouter(t *testing.T) {
	a, err := newApp(context.Background(), config.DefaultSettings(), appOptions{NoCache: true})
	require.NoError(t, err)
	defer a.close()
	r := newMetricsRouter(a)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "surgemirror_concurrency")
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sources", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var snap types.MetricsSnapshot
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
}

func TestServeMetrics_StopsWithContext(t *testing.T) {
	requireTCPListener(t)
	ctx, cancel := context.WithCancel(context.Background())
	addr, err := serveMetrics(ctx, "127.0.0.1:0", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	cancel()
}
