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

package relaunch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/process"
)

// ProcessHandle identifies an operating system process, as it was seen
// when the process table was scanned.
type ProcessHandle struct {
	Pid     int    `json:"pid"`
	Cmdline string `json:"cmdline"`
}

// SpawnRequest carries everything needed to start a detached process.
// Output receives both stdout and stderr; the registry does not close it.
type SpawnRequest struct {
	Command  []string
	Env      []string
	Dir      string
	Output   *os.File
	Elevated bool
}

// Registry is the process table, as seen by a Supervisor.  Elevated
// requests are performed with whatever privilege mechanism the registry
// is configured with.
type Registry interface {
	// FindByCommandLine returns every live process whose command line
	// contains the pattern.  The caller's own process is never included,
	// and neither is a launcher (sudo, env) whose matching child is.
	FindByCommandLine(ctx context.Context, pattern string) ([]ProcessHandle, error)

	// Terminate delivers the signal to the process.  It does not wait.
	// A process that has already gone away is not an error.
	Terminate(ctx context.Context, h ProcessHandle, sig Signal, elevated bool) error

	// Alive reports whether the process still exists.
	Alive(ctx context.Context, pid int) (bool, error)

	// CheckSpawn returns the error SpawnDetached would return because the
	// executable cannot be found.  Output is not consulted.
	CheckSpawn(ctx context.Context, req SpawnRequest) error

	// SpawnDetached starts the command in its own session, so that it
	// outlives both the caller and the caller's terminal.  When the
	// command goes through a launcher the launched program is returned,
	// if it shows up quickly.
	SpawnDetached(ctx context.Context, req SpawnRequest) (ProcessHandle, error)

	// CheckElevation returns nil if elevated requests can be served
	// without prompting anybody.
	CheckElevation(ctx context.Context) error
}

// OSRegistry is the Registry backed by the real process table.
type OSRegistry struct {
	elevator Elevator
}

// NewOSRegistry returns a registry using the given elevator for elevated
// requests.  A nil elevator means elevated requests only work as root.
func NewOSRegistry(e Elevator) *OSRegistry {
	if e == nil {
		e = NoElevator{}
	}
	return &OSRegistry{elevator: e}
}

func (r *OSRegistry) Elevator() Elevator {
	return r.elevator
}

// ancestors returns our own pid, plus the pids of every process above us.
// A deploy script that mentions the program on its own command line must
// not be killed along with the program.
func ancestors(ctx context.Context) map[int32]bool {
	rv := map[int32]bool{}
	pid := int32(os.Getpid())
	for pid > 1 && !rv[pid] {
		rv[pid] = true
		p, e := process.NewProcessWithContext(ctx, pid)
		if e != nil {
			break
		}
		if pid, e = p.PpidWithContext(ctx); e != nil {
			break
		}
	}
	return rv
}

type procInfo struct {
	ProcessHandle
	ppid int
}

func (r *OSRegistry) FindByCommandLine(ctx context.Context, pattern string) ([]ProcessHandle, error) {
	procs, e := process.ProcessesWithContext(ctx)
	if e != nil {
		return nil, fmt.Errorf("scanning process table: %w", e)
	}
	skip := ancestors(ctx)
	var found []procInfo
	for _, p := range procs {
		if skip[p.Pid] {
			continue
		}
		// Processes that exit while we scan, and kernel threads, have
		// no command line.
		cmdline, e := p.CmdlineWithContext(ctx)
		if e != nil || cmdline == "" || !strings.Contains(cmdline, pattern) {
			continue
		}
		ppid, _ := p.PpidWithContext(ctx)
		found = append(found, procInfo{
			ProcessHandle: ProcessHandle{Pid: int(p.Pid), Cmdline: cmdline},
			ppid:          int(ppid),
		})
	}
	return dropLaunchers(found), nil
}

// dropLaunchers removes the processes that only launched another match.
// A launcher's command line ends with its child's, as "sudo -n -- prog"
// ends with "prog".  A child with the very same command line is a launcher
// itself only if it launched something in turn (sudo's pty monitor);
// otherwise it is a forked worker, and its parent is kept.
func dropLaunchers(found []procInfo) []ProcessHandle {
	children := map[int][]procInfo{}
	for _, p := range found {
		children[p.ppid] = append(children[p.ppid], p)
	}
	memo := map[int]bool{}
	var launcher func(p procInfo) bool
	launcher = func(p procInfo) bool {
		if v, ok := memo[p.Pid]; ok {
			return v
		}
		memo[p.Pid] = false
		for _, c := range children[p.Pid] {
			if c.Cmdline != p.Cmdline && strings.HasSuffix(p.Cmdline, c.Cmdline) {
				memo[p.Pid] = true
				break
			}
			if c.Cmdline == p.Cmdline && launcher(c) {
				memo[p.Pid] = true
				break
			}
		}
		return memo[p.Pid]
	}

	rv := []ProcessHandle{}
	for _, p := range found {
		if !launcher(p) {
			rv = append(rv, p.ProcessHandle)
		}
	}
	sort.Slice(rv, func(i, j int) bool { return rv[i].Pid < rv[j].Pid })
	return rv
}

func (r *OSRegistry) Alive(ctx context.Context, pid int) (bool, error) {
	return process.PidExistsWithContext(ctx, int32(pid))
}

// argv returns the command line to execute, wrapped by the elevator when
// needed.  Environment additions would be dropped by sudo's env_reset, so
// they are passed through env(1) inside the wrapper.
func (r *OSRegistry) argv(req SpawnRequest) ([]string, bool) {
	if !req.Elevated || isPrivileged() {
		return req.Command, false
	}
	inner := req.Command
	if len(req.Env) != 0 {
		inner = append(append([]string{"env"}, req.Env...), req.Command...)
	}
	return r.elevator.Wrap(inner), true
}

func (r *OSRegistry) CheckSpawn(ctx context.Context, req SpawnRequest) error {
	if len(req.Command) == 0 {
		return fmt.Errorf("%w: empty command", ErrSpawn)
	}
	if _, e := resolveCommand(req.Command[0], req.Dir); e != nil {
		return e
	}
	argv, _ := r.argv(req)
	_, e := resolveCommand(argv[0], req.Dir)
	return e
}

func (r *OSRegistry) SpawnDetached(ctx context.Context, req SpawnRequest) (ProcessHandle, error) {
	if len(req.Command) == 0 {
		return ProcessHandle{}, fmt.Errorf("%w: empty command", ErrSpawn)
	}
	argv, wrapped := r.argv(req)
	path, e := resolveCommand(argv[0], req.Dir)
	if e != nil {
		return ProcessHandle{}, e
	}

	// Not exec.CommandContext: cancelling ctx must not kill the child.
	cmd := &exec.Cmd{
		Path:   path,
		Args:   argv,
		Dir:    req.Dir,
		Stdout: req.Output,
		Stderr: req.Output,
	}
	if len(req.Env) != 0 && !wrapped {
		cmd.Env = append(os.Environ(), req.Env...)
	}
	detach(cmd)

	if e := cmd.Start(); e != nil {
		return ProcessHandle{}, spawnError(argv[0], e)
	}
	h := ProcessHandle{Pid: cmd.Process.Pid, Cmdline: strings.Join(argv, " ")}

	// Reap the child if it dies while we are still around, so that
	// Alive does not report a zombie.  Once we exit, init inherits it.
	go cmd.Wait()

	if wrapped {
		if c, ok := launched(ctx, h.Pid, strings.Join(req.Command, " "), launchWait); ok {
			return c, nil
		}
	}
	return h, nil
}

const launchWait = time.Millisecond * 500

// launched waits for a descendant of pid running cmdline to appear.
func launched(ctx context.Context, pid int, cmdline string, wait time.Duration) (ProcessHandle, bool) {
	deadline := time.Now().Add(wait)
	for {
		if h, ok := findDescendant(ctx, pid, cmdline); ok {
			return h, true
		}
		if time.Now().After(deadline) {
			return ProcessHandle{}, false
		}
		select {
		case <-ctx.Done():
			return ProcessHandle{}, false
		case <-time.After(time.Millisecond * 20):
		}
	}
}

func findDescendant(ctx context.Context, pid int, cmdline string) (ProcessHandle, bool) {
	procs, e := process.ProcessesWithContext(ctx)
	if e != nil {
		return ProcessHandle{}, false
	}
	children := map[int32][]*process.Process{}
	for _, p := range procs {
		if ppid, e := p.PpidWithContext(ctx); e == nil {
			children[ppid] = append(children[ppid], p)
		}
	}
	queue := children[int32(pid)]
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if c, e := p.CmdlineWithContext(ctx); e == nil && c == cmdline {
			return ProcessHandle{Pid: int(p.Pid), Cmdline: c}, true
		}
		queue = append(queue, children[p.Pid]...)
	}
	return ProcessHandle{}, false
}

func (r *OSRegistry) CheckElevation(ctx context.Context) error {
	if isPrivileged() {
		return nil
	}
	return r.elevator.Available(ctx)
}

// resolveCommand finds the executable.  Bare names are looked up in PATH,
// relative paths are relative to the working directory.
func resolveCommand(name string, dir string) (string, error) {
	if strings.ContainsRune(name, filepath.Separator) || strings.Contains(name, "/") {
		full := name
		if !filepath.IsAbs(name) && dir != "" {
			full = filepath.Join(dir, name)
		}
		if _, e := os.Stat(full); e != nil {
			return "", spawnError(name, e)
		}
		return name, nil
	}
	path, e := exec.LookPath(name)
	if e != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrSpawn, name, e)
	}
	return path, nil
}

func spawnError(name string, e error) error {
	if errors.Is(e, fs.ErrPermission) {
		return fmt.Errorf("%w: %s: %v", ErrPermission, name, e)
	}
	return fmt.Errorf("%w: %s: %v", ErrSpawn, name, e)
}
