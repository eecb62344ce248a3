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
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Manager keeps a set of manifests, by name, and serializes operations on
// them.  Two restarts through the same Manager never interleave.
type Manager struct {
	name       string
	sup        *Supervisor
	entries    map[string]*entry
	logger     *zap.Logger
	rateLimit  int
	ratePeriod time.Duration
	serial     int64
	createTime time.Time
	updateTime time.Time
	mx         sync.Mutex
}

type entry struct {
	manifest Manifest
	limiter  *rate.Limiter
	last     *LaunchResult
	reason   string
	stamp    time.Time
}

type ManagerInfo struct {
	Name       string    `json:"name"`
	Serial     int64     `json:"serial,string"`
	UpdateTime time.Time `json:"updated"`
	CreateTime time.Time `json:"created"`
}

// ServiceState is what the Manager remembers about a manifest.
type ServiceState struct {
	Manifest   Manifest      `json:"manifest"`
	LastLaunch *LaunchResult `json:"lastLaunch,omitempty"`
	Status     string        `json:"status"`
	TimeStamp  time.Time     `json:"tstamp"`
}

func (m *Manager) lock() {
	m.mx.Lock()
}

func (m *Manager) unlock() {
	m.mx.Unlock()
}

// bumpSerial records a change.  Call with lock held.
func (m *Manager) bumpSerial() {
	m.updateTime = time.Now()
	m.serial++
}

func (m *Manager) Name() string {
	return m.name
}

func (m *Manager) Supervisor() *Supervisor {
	return m.sup
}

func (m *Manager) Info() *ManagerInfo {
	m.lock()
	defer m.unlock()
	return &ManagerInfo{
		Name:       m.name,
		Serial:     m.serial,
		CreateTime: m.createTime,
		UpdateTime: m.updateTime,
	}
}

// SetLogger sets the logger for both the Manager and its Supervisor.
func (m *Manager) SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	m.lock()
	m.logger = l
	m.sup.SetLogger(l)
	m.unlock()
}

// SetRateLimit allows at most limit restarts of each manifest per period.
// A limit of zero disables rate limiting.
func (m *Manager) SetRateLimit(limit int, period time.Duration) {
	m.lock()
	defer m.unlock()
	m.rateLimit = limit
	m.ratePeriod = period
	for _, ent := range m.entries {
		ent.limiter = m.newLimiter()
	}
}

func (m *Manager) newLimiter() *rate.Limiter {
	if m.rateLimit <= 0 || m.ratePeriod <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	every := rate.Every(m.ratePeriod / time.Duration(m.rateLimit))
	return rate.NewLimiter(every, m.rateLimit)
}

// AddManifest validates and registers a manifest, replacing any manifest
// with the same name.
func (m *Manager) AddManifest(mf Manifest) error {
	if e := mf.Validate(); e != nil {
		return e
	}
	m.lock()
	defer m.unlock()
	if ent, ok := m.entries[mf.Name]; ok {
		ent.manifest = mf
	} else {
		m.entries[mf.Name] = &entry{
			manifest: mf,
			limiter:  m.newLimiter(),
			reason:   "Added manifest",
			stamp:    time.Now(),
		}
	}
	m.bumpSerial()
	return nil
}

func (m *Manager) DeleteManifest(name string) error {
	m.lock()
	defer m.unlock()
	if _, ok := m.entries[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNoManifest, name)
	}
	delete(m.entries, name)
	m.bumpSerial()
	return nil
}

// Manifests returns every manifest, ordered by name.
func (m *Manager) Manifests() []Manifest {
	m.lock()
	rv := make([]Manifest, 0, len(m.entries))
	for _, ent := range m.entries {
		rv = append(rv, ent.manifest)
	}
	m.unlock()
	sort.Slice(rv, func(i, j int) bool { return rv[i].Name < rv[j].Name })
	return rv
}

func (m *Manager) Names() []string {
	mfs := m.Manifests()
	rv := make([]string, 0, len(mfs))
	for _, mf := range mfs {
		rv = append(rv, mf.Name)
	}
	return rv
}

func (m *Manager) FindManifest(name string) (Manifest, error) {
	m.lock()
	defer m.unlock()
	ent, ok := m.entries[name]
	if !ok {
		return Manifest{}, fmt.Errorf("%w: %s", ErrNoManifest, name)
	}
	return ent.manifest, nil
}

func (m *Manager) State(name string) (*ServiceState, error) {
	m.lock()
	defer m.unlock()
	ent, ok := m.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoManifest, name)
	}
	return &ServiceState{
		Manifest:   ent.manifest,
		LastLaunch: ent.last,
		Status:     ent.reason,
		TimeStamp:  ent.stamp,
	}, nil
}

// find looks up an entry.  Call with lock held.
func (m *Manager) find(name string) (*entry, error) {
	ent, ok := m.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoManifest, name)
	}
	return ent, nil
}

func (ent *entry) record(reason string) {
	ent.reason = reason
	ent.stamp = time.Now()
}

// Restart restarts the named manifest, subject to rate limiting.
func (m *Manager) Restart(ctx context.Context, name string) (*LaunchResult, error) {
	m.lock()
	defer m.unlock()
	ent, e := m.find(name)
	if e != nil {
		return nil, e
	}
	if !ent.limiter.Allow() {
		m.logger.Warn("restart rate limited", zap.String("service", name))
		m.sup.metrics.restarted(name, ErrRateLimited)
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, name)
	}
	res, e := m.sup.Restart(ctx, ent.manifest)
	if res != nil {
		ent.last = res
	}
	if e != nil {
		ent.record(fmt.Sprintf("Restart failed: %v", e))
	} else {
		ent.record(res.Message)
	}
	m.bumpSerial()
	return res, e
}

func (m *Manager) Stop(ctx context.Context, name string) ([]ProcessHandle, error) {
	m.lock()
	defer m.unlock()
	ent, e := m.find(name)
	if e != nil {
		return nil, e
	}
	procs, e := m.sup.Stop(ctx, ent.manifest)
	if e == nil {
		ent.record(fmt.Sprintf("Stopped %d process(es)", len(procs)))
		m.bumpSerial()
	}
	return procs, e
}

func (m *Manager) Status(ctx context.Context, name string) ([]ProcessHandle, error) {
	m.lock()
	defer m.unlock()
	ent, e := m.find(name)
	if e != nil {
		return nil, e
	}
	return m.sup.Status(ctx, ent.manifest)
}

func (m *Manager) Pause(ctx context.Context, name string) ([]ProcessHandle, error) {
	m.lock()
	defer m.unlock()
	ent, e := m.find(name)
	if e != nil {
		return nil, e
	}
	procs, e := m.sup.Pause(ctx, ent.manifest)
	if e == nil {
		ent.record("Paused")
		m.bumpSerial()
	}
	return procs, e
}

func (m *Manager) Resume(ctx context.Context, name string) ([]ProcessHandle, error) {
	m.lock()
	defer m.unlock()
	ent, e := m.find(name)
	if e != nil {
		return nil, e
	}
	procs, e := m.sup.Resume(ctx, ent.manifest)
	if e == nil {
		ent.record("Resumed")
		m.bumpSerial()
	}
	return procs, e
}

// Tail returns the last n lines of the named manifest's log file.
func (m *Manager) Tail(name string, n int) ([]LogRecord, error) {
	mf, e := m.FindManifest(name)
	if e != nil {
		return nil, e
	}
	return Tail(mf.LogPath(), n)
}

// LoadDir adds every manifest file (.json, .yaml, .yml) found in dir.
// Files that fail to load are logged and skipped.  It returns the number
// of manifests added.
func (m *Manager) LoadDir(dir string) (int, error) {
	d, e := os.Open(dir)
	if e != nil {
		return 0, e
	}
	files, e := d.Readdirnames(-1)
	d.Close()
	if e != nil {
		return 0, e
	}
	sort.Strings(files)
	added := 0
	for _, f := range files {
		switch filepath.Ext(f) {
		case ".json", ".yaml", ".yml":
		default:
			continue
		}
		fname := filepath.Join(dir, f)
		mf, e := LoadManifestFile(fname)
		if e == nil {
			e = m.AddManifest(mf)
		}
		if e != nil {
			m.logger.Warn("failed to load manifest",
				zap.String("file", fname), zap.Error(e))
			continue
		}
		added++
	}
	return added, nil
}

// NewManager returns a Manager restarting things through sup.  Restarts
// are limited to 10 per minute per manifest until SetRateLimit says
// otherwise.
func NewManager(name string, sup *Supervisor) *Manager {
	if name == "" {
		name = "relaunch"
	}
	m := &Manager{
		name:       name,
		sup:        sup,
		entries:    make(map[string]*entry),
		logger:     sup.logger,
		rateLimit:  10,
		ratePeriod: time.Minute,
		serial:     time.Now().UnixNano(),
		createTime: time.Now(),
	}
	m.updateTime = m.createTime
	return m
}
