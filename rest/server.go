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
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gdamore/relaunch"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler wraps a Manager, adding http.Handler functionality.
type Handler struct {
	m      *relaunch.Manager
	r      *mux.Router
	logger *zap.Logger
	user   string
	pass   string
	auth   bool
}

func (h *Handler) internalError(w http.ResponseWriter, e error) {
	http.Error(w, e.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJson(w http.ResponseWriter, v interface{}) {
	if b, e := json.Marshal(v); e != nil {
		h.internalError(w, e)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.Write(b)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	if b, err := json.Marshal(e); err != nil {
		h.internalError(w, err)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.WriteHeader(e.Code)
		w.Write(b)
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, e error) {
	re := errorFor(e)
	h.logger.Info("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("code", re.Code),
		zap.Error(e))
	h.writeError(w, re)
}

func (h *Handler) listServices(w http.ResponseWriter, r *http.Request) {
	h.writeJson(w, h.m.Names())
}

func (h *Handler) getService(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["service"]
	st, e := h.m.State(name)
	if e != nil {
		h.fail(w, r, e)
		return
	}
	procs, e := h.m.Status(r.Context(), name)
	if e != nil {
		h.fail(w, r, e)
		return
	}
	mf := st.Manifest
	info := &ServiceInfo{
		Name:        mf.Name,
		Description: mf.Description,
		Match:       mf.Match,
		Command:     mf.Command,
		Directory:   mf.Directory,
		LogFile:     mf.LogPath(),
		Elevated:    mf.Elevated,
		Address:     mf.Address,
		Running:     len(procs) != 0,
		Processes:   procs,
		LastLaunch:  st.LastLaunch,
		Status:      st.Status,
		TimeStamp:   st.TimeStamp,
	}
	h.writeJson(w, info)
}

func (h *Handler) restartService(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["service"]
	if res, e := h.m.Restart(r.Context(), name); e != nil {
		h.fail(w, r, e)
	} else {
		h.writeJson(w, res)
	}
}

type signalFunc func(*relaunch.Manager, *http.Request, string) ([]relaunch.ProcessHandle, error)

func (h *Handler) signalService(f signalFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["service"]
		if procs, e := f(h.m, r, name); e != nil {
			h.fail(w, r, e)
		} else {
			h.writeJson(w, procs)
		}
	}
}

func stop(m *relaunch.Manager, r *http.Request, name string) ([]relaunch.ProcessHandle, error) {
	return m.Stop(r.Context(), name)
}

func pause(m *relaunch.Manager, r *http.Request, name string) ([]relaunch.ProcessHandle, error) {
	return m.Pause(r.Context(), name)
}

func resume(m *relaunch.Manager, r *http.Request, name string) ([]relaunch.ProcessHandle, error) {
	return m.Resume(r.Context(), name)
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["service"]
	lines := 0
	if s := r.URL.Query().Get("lines"); s != "" {
		n, e := strconv.Atoi(s)
		if e != nil || n < 0 {
			h.writeError(w, &Error{Code: http.StatusBadRequest, Message: "Bad lines value"})
			return
		}
		lines = n
	}
	if recs, e := h.m.Tail(name, lines); e != nil {
		h.fail(w, r, e)
	} else {
		h.writeJson(w, recs)
	}
}

func (h *Handler) getInfo(w http.ResponseWriter, r *http.Request) {
	h.writeJson(w, h.m.Info())
}

// SetAuth requires HTTP basic authentication on every request.
func (h *Handler) SetAuth(user string, pass string) {
	h.user = user
	h.pass = pass
	h.auth = true
}

// SetGatherer exposes the gatherer's metrics under /metrics.
func (h *Handler) SetGatherer(g prometheus.Gatherer) {
	h.r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{})).Methods("GET")
}

func (h *Handler) SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	h.logger = l
}

func (h *Handler) authorized(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	u := subtle.ConstantTimeCompare([]byte(user), []byte(h.user))
	p := subtle.ConstantTimeCompare([]byte(pass), []byte(h.pass))
	return u&p == 1
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if h.auth && !h.authorized(req) {
		w.Header().Set("WWW-Authenticate", `Basic realm="relaunch"`)
		h.writeError(w, &Error{Code: http.StatusUnauthorized, Message: "Unauthorized"})
		return
	}
	h.r.ServeHTTP(w, req)
}

func NewHandler(m *relaunch.Manager) *Handler {
	r := mux.NewRouter()
	h := &Handler{m: m, r: r, logger: zap.NewNop()}
	r.HandleFunc("/", h.getInfo).Methods("GET")
	r.HandleFunc("/services", h.listServices).Methods("GET")
	r.HandleFunc("/services/{service}", h.getService).Methods("GET")
	r.HandleFunc("/services/{service}/restart", h.restartService).Methods("POST")
	r.HandleFunc("/services/{service}/stop", h.signalService(stop)).Methods("POST")
	r.HandleFunc("/services/{service}/pause", h.signalService(pause)).Methods("POST")
	r.HandleFunc("/services/{service}/resume", h.signalService(resume)).Methods("POST")
	r.HandleFunc("/services/{service}/log", h.getLog).Methods("GET")
	return h
}
