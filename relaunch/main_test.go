// Copyright 2026 The Relaunch Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bytes"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdamore/relaunch"
	"github.com/gdamore/relaunch/rest"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relaunch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func runArgs(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{nil, exitSuccess},
		{relaunch.ErrBadManifest, exitUsage},
		{relaunch.ErrNoManifest, exitUsage},
		{relaunch.ErrSpawn, exitSpawn},
		{relaunch.ErrPermission, exitPermission},
		{relaunch.ErrNotRunning, exitNotRunning},
		{relaunch.ErrRateLimited, exitGeneral},
		{relaunch.ErrNotAlive, exitGeneral},
		{errors.New("boom"), exitGeneral},
		{&rest.Error{Code: 403, Message: "no"}, exitPermission},
		{&rest.Error{Code: 500, Message: "no", Reason: "spawn"}, exitSpawn},
		{&rest.Error{Code: 500, Message: "scan failed"}, exitGeneral},
		{&rest.Error{Code: 400, Message: "bad", Reason: "bad_manifest"}, exitUsage},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, exitCode(tc.err), fmt.Sprint(tc.err))
	}
}

func TestUsage(t *testing.T) {
	cfg := writeConfig(t, "elevator: none\n")

	code, _, stderr := runArgs("-c", cfg, "frobnicate")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, `unknown command "frobnicate"`)

	code, _, _ = runArgs("-c", cfg, "status", "a", "b")
	assert.Equal(t, exitUsage, code)

	code, _, _ = runArgs("--bogus")
	assert.Equal(t, exitUsage, code)

	code, _, _ = runArgs("-c", filepath.Join(t.TempDir(), "missing.yaml"), "list")
	assert.Equal(t, exitUsage, code)

	code, _, stderr = runArgs("-c", cfg, "restart", "nosuch")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "No such manifest")
}

func TestList(t *testing.T) {
	cfg := writeConfig(t, `
elevator: none
processes:
  - name: beta
    match: "beta.py"
    command: [python3, beta.py]
    logFile: beta.log
  - name: alpha
    match: "alpha.py"
    command: [python3, alpha.py]
    logFile: alpha.log
`)
	code, stdout, stderr := runArgs("-c", cfg, "list")
	assert.Equal(t, exitSuccess, code)
	assert.Equal(t, "alpha\nbeta\n", stdout)
	assert.Empty(t, stderr)
}

func TestDefaultManifestListed(t *testing.T) {
	cfg := writeConfig(t, "elevator: none\n")
	code, stdout, _ := runArgs("-c", cfg, "list")
	assert.Equal(t, exitSuccess, code)
	assert.Equal(t, "matrix_web\n", stdout)
}

func TestRestartFailures(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, fmt.Sprintf(`
default: web
elevator: none
processes:
  - name: web
    match: "relaunch-test-web.py"
    command: [python3, relaunch-test-web.py]
    directory: %s
    logFile: web.log
  - name: root
    match: "relaunch-test-root.py"
    command: [python3, relaunch-test-root.py]
    directory: %s
    logFile: root.log
    elevated: true
`, filepath.Join(dir, "missing"), dir))

	code, stdout, stderr := runArgs("-c", cfg)
	assert.Equal(t, exitSpawn, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "Cannot spawn process")

	if runtime.GOOS != "windows" && os.Geteuid() != 0 {
		code, stdout, stderr = runArgs("-c", cfg, "restart", "root")
		assert.Equal(t, exitPermission, code)
		assert.Empty(t, stdout)
		assert.Contains(t, stderr, "Permission denied")
	}

	code, stdout, _ = runArgs("-c", cfg, "status")
	assert.Equal(t, exitNotRunning, code)
	assert.Equal(t, "web: not running\n", stdout)

	code, stdout, _ = runArgs("-c", cfg, "stop")
	assert.Equal(t, exitSuccess, code)
	assert.Equal(t, "web: not running\n", stdout)

	code, _, _ = runArgs("-c", cfg, "pause")
	assert.Equal(t, exitNotRunning, code)
}

func TestLog(t *testing.T) {
	dir := t.TempDir()
	var b strings.Builder
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "web.log"), []byte(b.String()), 0644))
	cfg := writeConfig(t, fmt.Sprintf(`
default: web
elevator: none
processes:
  - name: web
    match: "relaunch-test-web.py"
    command: [python3, relaunch-test-web.py]
    directory: %s
    logFile: web.log
`, dir))

	code, stdout, _ := runArgs("-c", cfg, "-n", "3", "log")
	assert.Equal(t, exitSuccess, code)
	assert.Equal(t, "line 8\nline 9\nline 10\n", stdout)
}

func TestRestartSleeper(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX sleep")
	}
	if _, e := exec.LookPath("sleep"); e != nil {
		t.Skip("no sleep command")
	}
	dir := t.TempDir()
	arg := fmt.Sprintf("3600.%d", time.Now().UnixNano()%1000000+1000000)
	cfg := writeConfig(t, fmt.Sprintf(`
default: sleeper
elevator: none
processes:
  - name: sleeper
    match: "sleep %s"
    command: [sleep, "%s"]
    directory: %s
    logFile: sleeper.log
    address: http://192.0.2.7:8080
    stopTimeout: 2s
`, arg, arg, dir))

	code, stdout, stderr := runArgs("-c", cfg)
	require.Equal(t, exitSuccess, code, stderr)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 2)
	assert.Regexp(t, `^Launched sleeper at http://192\.0\.2\.7:8080 \(pid \d+\)$`, lines[0])
	assert.Equal(t, "Log file: "+filepath.Join(dir, "sleeper.log"), lines[1])
	assert.Empty(t, stderr)

	code, stdout, _ = runArgs("-c", cfg, "status")
	assert.Equal(t, exitSuccess, code)
	assert.Contains(t, stdout, "sleep "+arg)

	code, stdout, _ = runArgs("-c", cfg, "stop")
	assert.Equal(t, exitSuccess, code)
	assert.Contains(t, stdout, "Stopped sleeper (pid ")

	assert.Eventually(t, func() bool {
		code, _, _ := runArgs("-c", cfg, "status")
		return code == exitNotRunning
	}, 5*time.Second, 50*time.Millisecond)
}

func TestRemote(t *testing.T) {
	dir := t.TempDir()
	m := relaunch.NewManager("remote", relaunch.NewSupervisor(relaunch.NewOSRegistry(nil)))
	require.NoError(t, m.AddManifest(relaunch.Manifest{
		Name:      "web",
		Match:     "relaunch-test-remote.py",
		Command:   []string{"python3", "relaunch-test-remote.py"},
		Directory: filepath.Join(dir, "missing"),
		LogFile:   "web.log",
	}))
	h := rest.NewHandler(m)
	h.SetAuth("ops", "hunter2")
	srv := httptest.NewServer(h)
	defer srv.Close()

	cfg := writeConfig(t, "default: web\nelevator: none\n")

	code, stdout, _ := runArgs("-c", cfg, "-a", srv.URL, "-u", "ops:hunter2", "list")
	assert.Equal(t, exitSuccess, code)
	assert.Equal(t, "web\n", stdout)

	code, _, _ = runArgs("-c", cfg, "-a", srv.URL, "-u", "ops:hunter2", "restart")
	assert.Equal(t, exitSpawn, code)

	code, _, _ = runArgs("-c", cfg, "-a", srv.URL, "-u", "ops:hunter2", "status")
	assert.Equal(t, exitNotRunning, code)

	code, _, _ = runArgs("-c", cfg, "-a", srv.URL, "-u", "ops:hunter2", "status", "other")
	assert.Equal(t, exitUsage, code)

	code, _, _ = runArgs("-c", cfg, "-a", srv.URL, "-u", "nocolon", "list")
	assert.Equal(t, exitUsage, code)

	code, _, _ = runArgs("-c", cfg, "-a", srv.URL, "list")
	assert.Equal(t, exitGeneral, code)
}
