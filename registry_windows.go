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

//go:build windows

package relaunch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// Windows has no portable notion of euid; elevation is decided by how
// relaunch itself was started.
func isPrivileged() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}

func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.DETACHED_PROCESS | windows.CREATE_NEW_PROCESS_GROUP,
	}
}

// Terminate can only kill outright on Windows.  Pausing and resuming are
// not supported.
func (r *OSRegistry) Terminate(ctx context.Context, h ProcessHandle, sig Signal, elevated bool) error {
	switch sig {
	case SigStop, SigCont:
		return fmt.Errorf("signal %s not supported on windows", sig)
	}
	if elevated && !isPrivileged() {
		return fmt.Errorf("%w: terminating pid %d", ErrPermission, h.Pid)
	}
	p, e := os.FindProcess(h.Pid)
	if e != nil {
		return nil
	}
	if e := p.Kill(); e != nil && e != os.ErrProcessDone {
		return e
	}
	return nil
}
