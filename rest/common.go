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

package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/gdamore/relaunch"
)

const (
	mimeJson = "application/json; charset=UTF-8"
)

type ServiceInfo struct {
	Name        string                   `json:"name"`
	Description string                   `json:"description"`
	Match       string                   `json:"match"`
	Command     []string                 `json:"command"`
	Directory   string                   `json:"directory"`
	LogFile     string                   `json:"logFile"`
	Elevated    bool                     `json:"elevated"`
	Address     string                   `json:"address,omitempty"`
	Running     bool                     `json:"running"`
	Processes   []relaunch.ProcessHandle `json:"processes"`
	LastLaunch  *relaunch.LaunchResult   `json:"lastLaunch,omitempty"`
	Status      string                   `json:"status"`
	TimeStamp   time.Time                `json:"tstamp"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// reasons names the relaunch errors, so that a client can tell them apart
// where status codes are shared.
var reasons = map[string]error{
	"no_manifest":  relaunch.ErrNoManifest,
	"permission":   relaunch.ErrPermission,
	"rate_limited": relaunch.ErrRateLimited,
	"not_running":  relaunch.ErrNotRunning,
	"bad_manifest": relaunch.ErrBadManifest,
	"not_alive":    relaunch.ErrNotAlive,
	"spawn":        relaunch.ErrSpawn,
}

// Unwrap returns the relaunch error the server reported, so that callers
// can use errors.Is on errors returned by the Client.  Responses without
// a reason are mapped by status code, except for internal errors, which
// stand for nothing in particular.
func (e *Error) Unwrap() error {
	if err, ok := reasons[e.Reason]; ok {
		return err
	}
	switch e.Code {
	case http.StatusNotFound:
		return relaunch.ErrNoManifest
	case http.StatusForbidden:
		return relaunch.ErrPermission
	case http.StatusTooManyRequests:
		return relaunch.ErrRateLimited
	case http.StatusConflict:
		return relaunch.ErrNotRunning
	case http.StatusBadGateway:
		return relaunch.ErrNotAlive
	}
	return nil
}

func errorFor(e error) *Error {
	re := &Error{Code: http.StatusInternalServerError, Message: e.Error()}
	switch {
	case errors.Is(e, relaunch.ErrNoManifest):
		re.Code, re.Reason = http.StatusNotFound, "no_manifest"
	case errors.Is(e, relaunch.ErrPermission):
		re.Code, re.Reason = http.StatusForbidden, "permission"
	case errors.Is(e, relaunch.ErrRateLimited):
		re.Code, re.Reason = http.StatusTooManyRequests, "rate_limited"
	case errors.Is(e, relaunch.ErrNotRunning):
		re.Code, re.Reason = http.StatusConflict, "not_running"
	case errors.Is(e, relaunch.ErrBadManifest):
		re.Code, re.Reason = http.StatusBadRequest, "bad_manifest"
	case errors.Is(e, relaunch.ErrNotAlive):
		re.Code, re.Reason = http.StatusBadGateway, "not_alive"
	case errors.Is(e, relaunch.ErrSpawn):
		re.Reason = "spawn"
	}
	return re
}
