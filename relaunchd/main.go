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

// Command relaunchd serves the relaunch HTTP API, so that services can be
// restarted remotely, for example from a deploy pipeline.  Programs it
// launches are detached; stopping relaunchd leaves them running.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gdamore/relaunch"
	"github.com/gdamore/relaunch/rest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// newHandler builds the HTTP handler for the configuration, with metrics
// registered on a private registry.
func newHandler(cfg *relaunch.Config, reg relaunch.Registry, name string, logger *zap.Logger) (*rest.Handler, *relaunch.Manager, error) {
	m, e := cfg.NewManager(name, reg, logger)
	if e != nil {
		return nil, nil, e
	}
	preg := prometheus.NewRegistry()
	preg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, e := relaunch.NewMetrics(preg)
	if e != nil {
		return nil, nil, e
	}
	m.Supervisor().SetMetrics(metrics)

	h := rest.NewHandler(m)
	h.SetLogger(logger)
	h.SetGatherer(preg)
	if cfg.Auth.User != "" {
		h.SetAuth(cfg.Auth.User, cfg.Auth.Pass)
	}
	return h, m, nil
}

func main() {
	fs := pflag.NewFlagSet("relaunchd", pflag.ExitOnError)
	cfgFile := fs.StringP("config", "c", "", "configuration file")
	fs.StringP("listen", "l", "", "listen address")
	fs.StringP("manifests", "d", "", "manifest directory")
	name := fs.StringP("name", "n", "relaunchd", "instance name")
	restartAll := fs.Bool("restart-all", false, "restart every service at startup")
	verbose := fs.BoolP("verbose", "v", false, "development logging")
	fs.Parse(os.Args[1:])

	var logger *zap.Logger
	var e error
	if *verbose {
		logger, e = zap.NewDevelopment()
	} else {
		logger, e = zap.NewProduction()
	}
	if e != nil {
		fmt.Fprintf(os.Stderr, "relaunchd: %v\n", e)
		os.Exit(1)
	}
	defer logger.Sync()

	v := relaunch.NewViper(*cfgFile)
	v.BindPFlag("listen", fs.Lookup("listen"))
	v.BindPFlag("manifests", fs.Lookup("manifests"))
	cfg, e := relaunch.LoadConfig(v)
	if e != nil {
		logger.Fatal("failed to load configuration", zap.Error(e))
	}
	reg, e := cfg.Registry()
	if e != nil {
		logger.Fatal("bad elevator", zap.Error(e))
	}
	h, m, e := newHandler(cfg, reg, *name, logger)
	if e != nil {
		logger.Fatal("failed to load services", zap.Error(e))
	}

	if *restartAll {
		for _, n := range m.Names() {
			if res, e := m.Restart(context.Background(), n); e != nil {
				logger.Error("restart failed", zap.String("service", n), zap.Error(e))
			} else {
				logger.Info(res.Message)
			}
		}
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if e := srv.ListenAndServe(); e != nil && !errors.Is(e, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(e))
		}
	}()
	logger.Info("relaunchd ready",
		zap.String("addr", cfg.Listen),
		zap.Strings("services", m.Names()))

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	sig := <-sigs
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if e := srv.Shutdown(ctx); e != nil {
		logger.Error("server shutdown error", zap.Error(e))
	}
}
