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
	"sort"
	"strings"
	"sync"
)

// fakeRegistry is an in-memory process table.
type fakeRegistry struct {
	procs     map[int]string // pid -> command line
	nextPid   int
	spawned   []SpawnRequest
	signals   []string // "pid:SIG"
	stubborn  map[int]bool
	stillborn bool // spawned processes die at once
	findErr   error
	checkErr  error
	spawnErr  error
	elevErr   error
	sync.Mutex
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		procs:    make(map[int]string),
		nextPid:  100,
		stubborn: make(map[int]bool),
	}
}

// add pretends that a process is already running, and returns its pid.
func (r *fakeRegistry) add(cmdline string) int {
	r.Lock()
	defer r.Unlock()
	r.nextPid++
	r.procs[r.nextPid] = cmdline
	return r.nextPid
}

func (r *fakeRegistry) count(pattern string) int {
	r.Lock()
	defer r.Unlock()
	n := 0
	for _, c := range r.procs {
		if strings.Contains(c, pattern) {
			n++
		}
	}
	return n
}

func (r *fakeRegistry) FindByCommandLine(_ context.Context, pattern string) ([]ProcessHandle, error) {
	r.Lock()
	defer r.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	rv := []ProcessHandle{}
	for pid, c := range r.procs {
		if strings.Contains(c, pattern) {
			rv = append(rv, ProcessHandle{Pid: pid, Cmdline: c})
		}
	}
	sort.Slice(rv, func(i, j int) bool { return rv[i].Pid < rv[j].Pid })
	return rv, nil
}

func (r *fakeRegistry) Terminate(_ context.Context, h ProcessHandle, sig Signal, _ bool) error {
	r.Lock()
	defer r.Unlock()
	if _, ok := r.procs[h.Pid]; !ok {
		return nil
	}
	r.signals = append(r.signals, fmt.Sprintf("%d:%s", h.Pid, sig))
	switch sig {
	case SigStop, SigCont:
	case SigKill:
		delete(r.procs, h.Pid)
	default:
		if !r.stubborn[h.Pid] {
			delete(r.procs, h.Pid)
		}
	}
	return nil
}

func (r *fakeRegistry) Alive(_ context.Context, pid int) (bool, error) {
	r.Lock()
	defer r.Unlock()
	_, ok := r.procs[pid]
	return ok, nil
}

func (r *fakeRegistry) CheckSpawn(context.Context, SpawnRequest) error {
	r.Lock()
	defer r.Unlock()
	return r.checkErr
}

func (r *fakeRegistry) SpawnDetached(_ context.Context, req SpawnRequest) (ProcessHandle, error) {
	r.Lock()
	defer r.Unlock()
	if r.spawnErr != nil {
		return ProcessHandle{}, r.spawnErr
	}
	if req.Output == nil {
		return ProcessHandle{}, errors.New("no output")
	}
	r.spawned = append(r.spawned, req)
	cmdline := strings.Join(req.Command, " ")
	fmt.Fprintf(req.Output, "started %s\n", cmdline)
	r.nextPid++
	if !r.stillborn {
		r.procs[r.nextPid] = cmdline
	}
	return ProcessHandle{Pid: r.nextPid, Cmdline: cmdline}, nil
}

func (r *fakeRegistry) CheckElevation(context.Context) error {
	return r.elevErr
}
