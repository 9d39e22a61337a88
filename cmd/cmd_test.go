package cmd

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/illarion/lockersim/internal/collector"
	"github.com/illarion/lockersim/internal/core"
	"github.com/illarion/lockersim/internal/fsdir"
	"github.com/illarion/lockersim/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupEnv points the CLI at a private state directory with the file key
// backend and a passphrase from the environment.
func setupEnv(t *testing.T) string {
	t.Helper()
	state := t.TempDir()
	t.Setenv("LOCKERSIM_STATE_DIR", state)
	t.Setenv("LOCKERSIM_KEY_BACKEND", "file")
	t.Setenv("LOCKERSIM_PASSPHRASE", "correct horse battery staple")
	t.Setenv("LOCKERSIM_LOG_LEVEL", "error")
	return state
}

// resetFlags returns every flag to its default; cobra keeps parsed values
// between Execute calls.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func run(t *testing.T, args ...string) (int, string) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetArgs(nil)
	})

	code := Execute(context.Background())
	return code, out.String()
}

func readAll(t *testing.T, dir string) map[string][]byte {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	files := make(map[string][]byte, len(entries))
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		files[e.Name()] = data
	}
	return files
}

func TestLockUnlockRoundTrip(t *testing.T) {
	setupEnv(t)
	lab := filepath.Join(t.TempDir(), "lab")

	code, out := run(t, "seed", lab, "--text", "4", "--binary", "2")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "Seeded 6 file(s)")
	before := readAll(t, lab)
	require.Len(t, before, 6)

	code, out = run(t, "lock", lab, "--yes")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "Locked 6 file(s)")

	locked := readAll(t, lab)
	assert.Contains(t, locked, core.NoteName)
	for name := range before {
		assert.NotContains(t, locked, name)
		assert.Contains(t, locked, name+core.LockedSuffix)
	}

	code, out = run(t, "lock", lab, "--yes")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "Locked 0 file(s)")

	code, out = run(t, "unlock", lab)
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "Unlocked 6 file(s)")

	assert.Equal(t, before, readAll(t, lab))
}

func TestLockRefusesWithoutConfirmation(t *testing.T) {
	setupEnv(t)
	lab := filepath.Join(t.TempDir(), "lab")

	code, out := run(t, "seed", lab, "--text", "2", "--binary", "0")
	require.Equal(t, 0, code, out)

	code, _ = run(t, "lock", lab)
	assert.Equal(t, exitFatal, code)

	for name := range readAll(t, lab) {
		assert.False(t, core.IsLocked(name), "%s was locked without confirmation", name)
	}
}

func TestUnlockPartialFailureExitCode(t *testing.T) {
	setupEnv(t)
	lab := filepath.Join(t.TempDir(), "lab")

	code, out := run(t, "seed", lab, "--text", "3", "--binary", "0")
	require.Equal(t, 0, code, out)
	code, out = run(t, "lock", lab, "--yes", "--no-note")
	require.Equal(t, 0, code, out)

	blob := filepath.Join(lab, "file_01.txt"+core.LockedSuffix)
	data, err := os.ReadFile(blob)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(blob, data, 0600))

	code, out = run(t, "unlock", lab)
	assert.Equal(t, exitPartial, code, out)
	assert.Contains(t, out, "Unlocked 2 file(s)")
	assert.Contains(t, out, "file_01.txt.gcm: FAILED (authentication_failed)")

	files := readAll(t, lab)
	assert.Contains(t, files, "file_00.txt")
	assert.Contains(t, files, "file_02.txt")
	assert.Contains(t, files, "file_01.txt"+core.LockedSuffix)
}

func TestListAndHistory(t *testing.T) {
	setupEnv(t)
	lab := filepath.Join(t.TempDir(), "lab")

	code, out := run(t, "seed", lab, "--text", "2", "--binary", "1")
	require.Equal(t, 0, code, out)
	code, out = run(t, "lock", lab, "--yes")
	require.Equal(t, 0, code, out)

	code, out = run(t, "list", lab)
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "3 locked, 0 plain")
	assert.Contains(t, out, "ignored")
	assert.Contains(t, out, "Last batch: lock")

	code, out = run(t, "history", lab)
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "State: ")
	assert.Contains(t, out, "(created ")
	assert.Contains(t, out, "lock")
	assert.Contains(t, out, lab)

	code, out = run(t, "history", "prune", "--keep", "0")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "Removed 1 run(s)")

	code, out = run(t, "history")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "No runs recorded")
}

func TestKeyStatusAndForget(t *testing.T) {
	setupEnv(t)
	lab := filepath.Join(t.TempDir(), "lab")

	code, out := run(t, "key", "status")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "Backend: file")
	assert.Contains(t, out, "Key:     none")

	code, out = run(t, "seed", lab, "--text", "1", "--binary", "0")
	require.Equal(t, 0, code, out)
	code, out = run(t, "lock", lab, "--yes")
	require.Equal(t, 0, code, out)

	code, out = run(t, "key", "status")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "Key:     present")

	code, _ = run(t, "key", "forget")
	assert.Equal(t, exitFatal, code)

	code, out = run(t, "key", "forget", "--yes")
	require.Equal(t, 0, code, out)

	code, out = run(t, "key", "status")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "Key:     none")
}

func TestDiffCommand(t *testing.T) {
	setupEnv(t)
	lab := filepath.Join(t.TempDir(), "lab")

	code, out := run(t, "seed", lab, "--text", "1", "--binary", "0")
	require.Equal(t, 0, code, out)
	code, out = run(t, "lock", lab, "--yes")
	require.Equal(t, 0, code, out)

	require.NoError(t, os.WriteFile(filepath.Join(lab, "file_00.txt"), []byte("changed\n"), 0600))

	code, out = run(t, "diff", lab)
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "--- a/file_00.txt.gcm")
	assert.Contains(t, out, "+changed")
}

func TestImportCommand(t *testing.T) {
	setupEnv(t)
	lab := t.TempDir()
	src := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(src, []byte("lab notes"), 0600))

	code, out := run(t, "import", lab, src)
	require.Equal(t, 0, code, out)

	data, err := os.ReadFile(filepath.Join(lab, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "lab notes", string(data))

	code, out = run(t, "import", lab, src)
	assert.Equal(t, exitPartial, code, out)

	code, out = run(t, "import", lab, src, "--overwrite")
	assert.Equal(t, 0, code, out)
}

func TestMissingDirectory(t *testing.T) {
	setupEnv(t)

	code, _ := run(t, "lock", filepath.Join(t.TempDir(), "nope"), "--yes")
	assert.Equal(t, exitFatal, code)
}

func TestInvalidConfiguration(t *testing.T) {
	setupEnv(t)

	code, _ := run(t, "list", t.TempDir(), "--key-backend", "vault")
	assert.Equal(t, exitFatal, code)

	code, _ = run(t, "unlock", t.TempDir(), "--workers", "0")
	assert.Equal(t, exitFatal, code)
}

func TestBeaconToCollector(t *testing.T) {
	setupEnv(t)
	logPath := filepath.Join(t.TempDir(), "beacons.jsonl")
	srv := httptest.NewServer(collector.New("", logPath, collector.WithLogger(logging.Nop())).Handler())
	defer srv.Close()

	code, out := run(t, "beacon", "--url", srv.URL+"/beacon", "--bursts", "2", "--interval", "1ms")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "Delivered 2 of 2")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
	assert.Contains(t, string(data), `"status":"encrypted"`)
}

func TestBeaconUnreachable(t *testing.T) {
	setupEnv(t)
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	code, out := run(t, "beacon", "--url", url, "--bursts", "2", "--interval", "1ms", "--timeout", "500ms")
	assert.Equal(t, 0, code, out)
	assert.Contains(t, out, "burst 2: FAILED")
	assert.Contains(t, out, "Delivered 0 of 2")
}

func TestHandleError(t *testing.T) {
	assert.Equal(t, exitPartial, HandleError(errPartial))
	assert.Equal(t, exitFatal, HandleError(fsdir.ErrNotFound))
	assert.Equal(t, exitFatal, HandleError(errCancelled))
}

func TestVersion(t *testing.T) {
	code, out := run(t, "version")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "lockersim "+Version)
}
