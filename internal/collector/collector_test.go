package collector

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/illarion/lockersim/internal/beacon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readRecords(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, sc.Err())
	return out
}

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "evidence", "beacons.jsonl")
	fixed := time.UnixMilli(1700000000123)
	s := New(DefaultAddr, logPath, WithClock(func() time.Time { return fixed }))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, logPath
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestHealth(t *testing.T) {
	srv, logPath := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body(t, resp))

	_, err = os.Stat(logPath)
	assert.True(t, os.IsNotExist(err), "health checks must not be logged")
}

func TestUnknownPathsNever404(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/", "/index.html", "/anything/else"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		body(t, resp)
	}

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/x", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body(t, resp)
}

func TestPostJSON(t *testing.T) {
	srv, logPath := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/beacon?id=1", strings.NewReader(`{"status":"encrypted","nonce":5}`))
	require.NoError(t, err)
	req.Header.Set("User-Agent", beacon.UserAgent)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, "ok", body(t, resp))

	recs := readRecords(t, logPath)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, float64(1700000000123), rec["ts"])
	assert.Equal(t, "beacon", rec["type"])
	assert.Equal(t, "/beacon?id=1", rec["path"])
	assert.Equal(t, "127.0.0.1", rec["remote"])
	assert.Equal(t, beacon.UserAgent, rec["user_agent"])
	assert.Equal(t, map[string]any{"status": "encrypted", "nonce": float64(5)}, rec["body"])
}

func TestPostRawFallback(t *testing.T) {
	srv, logPath := newTestServer(t)

	for _, payload := range []string{"not json", ""} {
		resp, err := http.Post(srv.URL+"/", "text/plain", strings.NewReader(payload))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		body(t, resp)
	}

	recs := readRecords(t, logPath)
	require.Len(t, recs, 2)
	assert.Equal(t, map[string]any{"_raw": "not json"}, recs[0]["body"])
	assert.Equal(t, map[string]any{"_raw": ""}, recs[1]["body"])
}

func TestSenderToCollector(t *testing.T) {
	srv, logPath := newTestServer(t)

	s := beacon.NewSender(beacon.WithIdentity(beacon.Identity{Model: "lab", PlatformVersion: "linux/arm64"}))
	rep := s.Run(context.Background(), srv.URL+"/beacon", 2, time.Millisecond)
	require.Equal(t, 2, rep.Delivered())

	recs := readRecords(t, logPath)
	require.Len(t, recs, 2)
	b := recs[1]["body"].(map[string]any)
	assert.Equal(t, "lab", b["model"])
	assert.Equal(t, "linux/arm64", b["platform_version"])
	assert.Equal(t, "encrypted", b["status"])
}

func TestServeShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := New(ln.Addr().String(), filepath.Join(t.TempDir(), "beacons.jsonl"))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestRunBadAddress(t *testing.T) {
	err := New("256.0.0.1:bad", "x.jsonl").Run(context.Background())
	assert.Error(t, err)
}
