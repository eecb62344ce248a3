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
	"fmt"
	"os/exec"
)

// Elevator is a privilege elevation mechanism.  It is only consulted when
// a manifest asks for elevation and relaunch is not already privileged.
type Elevator interface {
	// Name returns a short name, for example "sudo".
	Name() string

	// Available returns nil if the mechanism can be used without any
	// interaction.  Otherwise the error wraps ErrPermission.
	Available(ctx context.Context) error

	// Wrap returns argv, prefixed so that it runs with elevated
	// privileges.
	Wrap(argv []string) []string
}

// SudoElevator runs commands through sudo, never letting it prompt for
// a password.
type SudoElevator struct {
	Path string // defaults to "sudo"
}

func (e SudoElevator) path() string {
	if e.Path == "" {
		return "sudo"
	}
	return e.Path
}

func (e SudoElevator) Name() string {
	return "sudo"
}

func (e SudoElevator) Available(ctx context.Context) error {
	path, err := exec.LookPath(e.path())
	if err != nil {
		return fmt.Errorf("%w: %s not found", ErrPermission, e.path())
	}
	if err := exec.CommandContext(ctx, path, "-n", "true").Run(); err != nil {
		return fmt.Errorf("%w: %s needs a password", ErrPermission, e.path())
	}
	return nil
}

func (e SudoElevator) Wrap(argv []string) []string {
	rv := make([]string, 0, len(argv)+3)
	rv = append(rv, e.path(), "-n", "--")
	return append(rv, argv...)
}

// NoElevator refuses to elevate.
type NoElevator struct{}

func (NoElevator) Name() string {
	return "none"
}

func (NoElevator) Available(context.Context) error {
	return fmt.Errorf("%w: no elevation mechanism configured", ErrPermission)
}

func (NoElevator) Wrap(argv []string) []string {
	return argv
}

// NewElevator returns the elevator with the given name: "sudo" or "none".
func NewElevator(name string) (Elevator, error) {
	switch name {
	case "", "sudo":
		return SudoElevator{}, nil
	case "none":
		return NoElevator{}, nil
	}
	return nil, fmt.Errorf("unknown elevator %q", name)
}
