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
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LaunchResult reports the outcome of a restart.  Launched means that the
// operating system accepted the new process; it says nothing about whether
// the program is healthy.
type LaunchResult struct {
	Launched   bool            `json:"launched"`
	Pid        int             `json:"pid,omitempty"`
	Message    string          `json:"message"`
	LaunchID   string          `json:"launchId"`
	Terminated []ProcessHandle `json:"terminated"`
	LogFile    string          `json:"logFile"`
	Address    string          `json:"address,omitempty"`
	Time       time.Time       `json:"time"`
}

// Supervisor restarts, stops and inspects supervised programs through a
// Registry.  Its methods run sequentially and hold no state between calls,
// so a Supervisor may be shared.
type Supervisor struct {
	reg     Registry
	logger  *zap.Logger
	metrics *Metrics
	poll    time.Duration
}

func NewSupervisor(reg Registry) *Supervisor {
	return &Supervisor{
		reg:    reg,
		logger: zap.NewNop(),
		poll:   time.Millisecond * 100,
	}
}

// SetLogger establishes where diagnostics go.  The supervised program's
// own output never goes here; it goes to the manifest's log file.
func (s *Supervisor) SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	s.logger = l
}

func (s *Supervisor) SetMetrics(m *Metrics) {
	s.metrics = m
}

// Restart stops any running instance of the manifest's program and
// launches a new one.  Not finding a prior instance is fine, and so is
// failing to signal one.  ErrPermission is returned when elevation is
// needed but not available, and ErrSpawn when the working directory, the
// log file or the executable is unusable.  In both cases nothing has been
// signalled and the log file is untouched, unless the spawn itself fails
// after the checks passed.
func (s *Supervisor) Restart(ctx context.Context, m Manifest) (*LaunchResult, error) {
	id := uuid.NewString()
	log := s.logger.With(zap.String("service", m.Name), zap.String("launch", id))
	res, e := s.restart(ctx, m, log)
	if res != nil {
		res.LaunchID = id
	}
	if e != nil {
		log.Error("restart failed", zap.Error(e))
	}
	s.metrics.restarted(m.Name, e)
	return res, e
}

func (s *Supervisor) restart(ctx context.Context, m Manifest, log *zap.Logger) (*LaunchResult, error) {
	if e := s.prepare(ctx, m); e != nil {
		return nil, e
	}
	if e := checkDirectory(m.Directory); e != nil {
		return nil, e
	}
	// The log file must be writable before anything is signalled, but
	// opening it truncates it, which we must not do before the old
	// instance has been asked to go away.
	logPath, e := filepath.Abs(m.LogPath())
	if e != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, e)
	}
	if e := checkDirectory(filepath.Dir(logPath)); e != nil {
		return nil, e
	}
	if e := checkLog(logPath); e != nil {
		return nil, e
	}
	req := SpawnRequest{
		Command:  m.Command,
		Env:      m.Env,
		Dir:      m.Directory,
		Elevated: m.Elevated,
	}
	if e := s.reg.CheckSpawn(ctx, req); e != nil {
		return nil, e
	}

	prior := s.terminate(ctx, m, log)

	out, e := openLog(logPath, m.AppendLog)
	if e != nil {
		return nil, e
	}
	defer out.Close()

	req.Output = out
	h, e := s.reg.SpawnDetached(ctx, req)
	if e != nil {
		return nil, e
	}
	log.Info("launched",
		zap.Int("pid", h.Pid),
		zap.Strings("command", m.Command),
		zap.String("log", logPath))

	res := &LaunchResult{
		Launched:   true,
		Pid:        h.Pid,
		Terminated: prior,
		LogFile:    logPath,
		Address:    m.Address,
		Time:       time.Now(),
	}
	if m.Address != "" {
		res.Message = fmt.Sprintf("Launched %s at %s (pid %d)", m.Name, m.Address, h.Pid)
	} else {
		res.Message = fmt.Sprintf("Launched %s (pid %d)", m.Name, h.Pid)
	}

	if m.CheckDelay > 0 {
		if e := s.checkAlive(ctx, m, h); e != nil {
			if errors.Is(e, ErrNotAlive) {
				res.Message = fmt.Sprintf("%s exited within %v of launch (pid %d)",
					m.Name, m.CheckDelay, h.Pid)
			}
			return res, e
		}
	}
	return res, nil
}

// Stop asks every running instance to exit.  It returns the processes that
// were signalled, which may be none.
func (s *Supervisor) Stop(ctx context.Context, m Manifest) ([]ProcessHandle, error) {
	if e := s.prepare(ctx, m); e != nil {
		return nil, e
	}
	log := s.logger.With(zap.String("service", m.Name))
	return s.terminate(ctx, m, log), nil
}

// Status returns the running instances.  Unlike Restart and Stop, a
// failure to scan the process table is reported.
func (s *Supervisor) Status(ctx context.Context, m Manifest) ([]ProcessHandle, error) {
	if e := m.Validate(); e != nil {
		return nil, e
	}
	found, e := s.reg.FindByCommandLine(ctx, m.Match)
	if e != nil {
		return nil, e
	}
	s.metrics.seen(m.Name, len(found))
	return found, nil
}

// Pause freezes every running instance with SIGSTOP.
func (s *Supervisor) Pause(ctx context.Context, m Manifest) ([]ProcessHandle, error) {
	return s.signalAll(ctx, m, SigStop)
}

// Resume continues every paused instance with SIGCONT.
func (s *Supervisor) Resume(ctx context.Context, m Manifest) ([]ProcessHandle, error) {
	return s.signalAll(ctx, m, SigCont)
}

func (s *Supervisor) signalAll(ctx context.Context, m Manifest, sig Signal) ([]ProcessHandle, error) {
	if e := s.prepare(ctx, m); e != nil {
		return nil, e
	}
	found, e := s.reg.FindByCommandLine(ctx, m.Match)
	if e != nil {
		return nil, e
	}
	if len(found) == 0 {
		return nil, ErrNotRunning
	}
	var errs []error
	for _, h := range found {
		if e := s.reg.Terminate(ctx, h, sig, m.Elevated); e != nil {
			errs = append(errs, fmt.Errorf("pid %d: %w", h.Pid, e))
		}
	}
	s.logger.Info("signalled",
		zap.String("service", m.Name),
		zap.String("signal", string(sig)),
		zap.Int("count", len(found)))
	return found, errors.Join(errs...)
}

// prepare validates the manifest and makes sure that elevation, if
// needed, will work.
func (s *Supervisor) prepare(ctx context.Context, m Manifest) error {
	if e := m.Validate(); e != nil {
		return e
	}
	if m.Elevated {
		if e := s.reg.CheckElevation(ctx); e != nil {
			if !errors.Is(e, ErrPermission) {
				e = fmt.Errorf("%w: %v", ErrPermission, e)
			}
			return e
		}
	}
	return nil
}

// terminate signals every matching process, and returns them.  Nothing
// here is allowed to fail the caller.
func (s *Supervisor) terminate(ctx context.Context, m Manifest, log *zap.Logger) []ProcessHandle {
	found, e := s.reg.FindByCommandLine(ctx, m.Match)
	if e != nil {
		log.Warn("cannot scan for prior instances", zap.Error(e))
		return nil
	}
	if len(found) == 0 {
		log.Debug("no prior instance", zap.String("match", m.Match))
		return found
	}
	sig := m.Signal()
	for _, h := range found {
		if e := s.reg.Terminate(ctx, h, sig, m.Elevated); e != nil {
			log.Warn("cannot signal prior instance",
				zap.Int("pid", h.Pid),
				zap.String("signal", string(sig)),
				zap.Error(e))
			continue
		}
		log.Info("signalled prior instance",
			zap.Int("pid", h.Pid),
			zap.String("signal", string(sig)))
	}
	s.metrics.terminate(m.Name, len(found))
	if m.StopTimeout > 0 {
		s.awaitExit(ctx, m, found, log)
	}
	return found
}

// awaitExit waits up to the manifest's StopTimeout for the processes to
// go away, and kills whatever is left.
func (s *Supervisor) awaitExit(ctx context.Context, m Manifest, procs []ProcessHandle, log *zap.Logger) {
	timer := time.NewTimer(m.StopTimeout)
	defer timer.Stop()
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	left := procs
	for {
		left = s.survivors(ctx, left)
		if len(left) == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			for _, h := range left {
				log.Warn("prior instance did not exit, killing",
					zap.Int("pid", h.Pid),
					zap.Duration("waited", m.StopTimeout))
				if e := s.reg.Terminate(ctx, h, SigKill, m.Elevated); e != nil {
					log.Warn("cannot kill prior instance",
						zap.Int("pid", h.Pid), zap.Error(e))
				}
			}
			return
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) survivors(ctx context.Context, procs []ProcessHandle) []ProcessHandle {
	var rv []ProcessHandle
	for _, h := range procs {
		if alive, e := s.reg.Alive(ctx, h.Pid); e == nil && alive {
			rv = append(rv, h)
		}
	}
	return rv
}

func (s *Supervisor) checkAlive(ctx context.Context, m Manifest, h ProcessHandle) error {
	t := time.NewTimer(m.CheckDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	alive, e := s.reg.Alive(ctx, h.Pid)
	if e != nil {
		return e
	}
	if !alive {
		return fmt.Errorf("%w: pid %d", ErrNotAlive, h.Pid)
	}
	return nil
}

func checkDirectory(dir string) error {
	if dir == "" {
		return nil
	}
	fi, e := os.Stat(dir)
	if e != nil {
		return spawnError(dir, e)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: %s: not a directory", ErrSpawn, dir)
	}
	return nil
}

// checkLog makes sure the log file can be opened for writing, without
// truncating it.
func checkLog(path string) error {
	f, e := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if e != nil {
		return spawnError(path, e)
	}
	return f.Close()
}

func openLog(path string, appendLog bool) (*os.File, error) {
	flags := os.O_WRONLY | os.O_CREATE
	if appendLog {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, e := os.OpenFile(path, flags, 0644)
	if e != nil {
		return nil, spawnError(path, e)
	}
	return f, nil
}
