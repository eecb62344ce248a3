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

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records what a Supervisor has been doing.  A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	restarts   *prometheus.CounterVec
	terminated *prometheus.CounterVec
	running    *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaunch",
			Name:      "restarts_total",
			Help:      "Restart attempts by service and result.",
		}, []string{"service", "result"}),
		terminated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaunch",
			Name:      "terminated_total",
			Help:      "Prior instances asked to terminate.",
		}, []string{"service"}),
		running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "relaunch",
			Name:      "running",
			Help:      "Matching processes seen by the last status check.",
		}, []string{"service"}),
	}
	for _, c := range []prometheus.Collector{m.restarts, m.terminated, m.running} {
		if e := reg.Register(c); e != nil {
			return nil, e
		}
	}
	return m, nil
}

func result(e error) string {
	switch {
	case e == nil:
		return "ok"
	case errors.Is(e, ErrPermission):
		return "permission"
	case errors.Is(e, ErrSpawn):
		return "spawn"
	case errors.Is(e, ErrBadManifest):
		return "manifest"
	case errors.Is(e, ErrNotAlive):
		return "not_alive"
	case errors.Is(e, ErrRateLimited):
		return "rate_limited"
	}
	return "error"
}

func (m *Metrics) restarted(name string, e error) {
	if m == nil {
		return
	}
	m.restarts.WithLabelValues(name, result(e)).Inc()
}

func (m *Metrics) terminate(name string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.terminated.WithLabelValues(name).Add(float64(n))
}

func (m *Metrics) seen(name string, n int) {
	if m == nil {
		return
	}
	m.running.WithLabelValues(name).Set(float64(n))
}
