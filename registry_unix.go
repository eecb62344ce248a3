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

//go:build unix

package relaunch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

func isPrivileged() bool {
	return os.Geteuid() == 0
}

// detach puts the child into a session of its own.  It then has no
// controlling terminal, and hangups delivered to our session (such as an
// ssh logout) never reach it.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

func (r *OSRegistry) Terminate(ctx context.Context, h ProcessHandle, sig Signal, elevated bool) error {
	num := unix.SignalNum("SIG" + string(sig))
	if num == 0 {
		return fmt.Errorf("unknown signal %q", sig)
	}
	if elevated && !isPrivileged() {
		argv := r.elevator.Wrap([]string{"kill", "-" + string(sig), strconv.Itoa(h.Pid)})
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		if out, e := cmd.CombinedOutput(); e != nil {
			msg := strings.TrimSpace(string(out))
			if strings.Contains(msg, "No such process") {
				return nil
			}
			return fmt.Errorf("%s: %v: %s", argv[0], e, msg)
		}
		return nil
	}
	if e := unix.Kill(h.Pid, num); e != nil {
		switch {
		case errors.Is(e, unix.ESRCH):
			return nil
		case errors.Is(e, unix.EPERM):
			return fmt.Errorf("%w: signal %s to pid %d", ErrPermission, sig, h.Pid)
		}
		return e
	}
	return nil
}
