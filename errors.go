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
	"errors"
)

var (
	ErrPermission  = errors.New("Permission denied")
	ErrSpawn       = errors.New("Cannot spawn process")
	ErrBadManifest = errors.New("Bad manifest")
	ErrNoManifest  = errors.New("No such manifest")
	ErrNotRunning  = errors.New("Service is not running")
	ErrNotAlive    = errors.New("Process exited after launch")
	ErrRateLimited = errors.New("Restarting too quickly")
)
