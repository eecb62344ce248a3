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

// Command relaunch restarts a supervised program, making sure that only
// one instance of it is running.  With no arguments it restarts the
// default manifest and prints where the program can be reached and where
// its log file is.
//
// The flags are
//
//	-c <file>       - configuration file (default: relaunch.yaml)
//	-d <dir>        - directory of manifest files
//	-a <address>    - talk to relaunchd at this address instead of
//	                  acting locally, e.g. http://127.0.0.1:8321
//	-u <user:pass>  - user name & password for relaunchd basic auth
//	-n <lines>      - number of log lines to show
//	-v              - verbose diagnostics on stderr
//
// Subcommands are
//
//	restart [<svc>] - stop and relaunch the service (the default)
//	stop [<svc>]    - ask running instances to exit
//	status [<svc>]  - show running instances
//	pause [<svc>]   - freeze running instances
//	resume [<svc>]  - continue paused instances
//	log [<svc>]     - show the tail of the service's log file
//	list            - list known services
//
// Exit status is 0 on success, 1 for usage or configuration errors, 2 if
// the program cannot be launched, 3 if privileges are missing, 4 for other
// failures, and 5 if the service is not running (status, pause, resume).
// Not finding a prior instance to stop is never a failure.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gdamore/relaunch"
	"github.com/gdamore/relaunch/rest"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	exitSuccess int = iota
	exitUsage
	exitSpawn
	exitPermission
	exitGeneral
	exitNotRunning
)

// backend is either the local Manager, or a remote relaunchd.
type backend interface {
	Names(ctx context.Context) ([]string, error)
	Restart(ctx context.Context, name string) (*relaunch.LaunchResult, error)
	Stop(ctx context.Context, name string) ([]relaunch.ProcessHandle, error)
	Status(ctx context.Context, name string) ([]relaunch.ProcessHandle, error)
	Pause(ctx context.Context, name string) ([]relaunch.ProcessHandle, error)
	Resume(ctx context.Context, name string) ([]relaunch.ProcessHandle, error)
	Log(ctx context.Context, name string, lines int) ([]relaunch.LogRecord, error)
}

type local struct {
	*relaunch.Manager
}

func (l local) Names(context.Context) ([]string, error) {
	return l.Manager.Names(), nil
}

func (l local) Log(_ context.Context, name string, lines int) ([]relaunch.LogRecord, error) {
	return l.Manager.Tail(name, lines)
}

type remote struct {
	*rest.Client
}

func (r remote) Names(ctx context.Context) ([]string, error) {
	return r.Client.Services(ctx)
}

func exitCode(e error) int {
	switch {
	case e == nil:
		return exitSuccess
	case errors.Is(e, relaunch.ErrBadManifest), errors.Is(e, relaunch.ErrNoManifest):
		return exitUsage
	case errors.Is(e, relaunch.ErrPermission):
		return exitPermission
	case errors.Is(e, relaunch.ErrSpawn):
		return exitSpawn
	case errors.Is(e, relaunch.ErrNotRunning):
		return exitNotRunning
	}
	return exitGeneral
}

// newLogger logs to w.  Only warnings and errors are shown unless verbose,
// so that stdout and stderr stay quiet on success.
func newLogger(verbose bool, w io.Writer) *zap.Logger {
	level := zap.WarnLevel
	enc := zap.NewProductionEncoderConfig()
	if verbose {
		level = zap.DebugLevel
		enc = zap.NewDevelopmentEncoderConfig()
	}
	enc.TimeKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), level)
	return zap.New(core)
}

func usage(fs *pflag.FlagSet, w io.Writer) func() {
	return func() {
		fmt.Fprintf(w, "Usage: relaunch [flags] [restart|stop|status|pause|resume|log|list] [<svc>]\n")
		fs.PrintDefaults()
	}
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := pflag.NewFlagSet("relaunch", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = usage(fs, stderr)
	cfgFile := fs.StringP("config", "c", "", "configuration file")
	fs.StringP("manifests", "d", "", "manifest directory")
	fs.StringP("addr", "a", "", "relaunchd address")
	fs.StringP("user", "u", "", "user:pass authentication for relaunchd")
	lines := fs.IntP("lines", "n", 50, "log lines to show")
	verbose := fs.BoolP("verbose", "v", false, "verbose diagnostics")
	if e := fs.Parse(args); e != nil {
		if errors.Is(e, pflag.ErrHelp) {
			return exitSuccess
		}
		return exitUsage
	}

	logger := newLogger(*verbose, stderr)
	defer logger.Sync()

	v := relaunch.NewViper(*cfgFile)
	for _, key := range []string{"manifests", "addr", "user"} {
		v.BindPFlag(key, fs.Lookup(key))
	}
	cfg, e := relaunch.LoadConfig(v)
	if e != nil {
		fmt.Fprintf(stderr, "relaunch: %v\n", e)
		return exitUsage
	}

	var b backend
	if addr := v.GetString("addr"); addr != "" {
		client := rest.NewClient(nil, addr)
		if auth := v.GetString("user"); auth != "" {
			a := strings.SplitN(auth, ":", 2)
			if len(a) != 2 {
				fmt.Fprintf(stderr, "relaunch: bad user:pass supplied\n")
				return exitUsage
			}
			client.SetAuth(a[0], a[1])
		}
		b = remote{client}
	} else {
		reg, e := cfg.Registry()
		if e != nil {
			fmt.Fprintf(stderr, "relaunch: %v\n", e)
			return exitUsage
		}
		m, e := cfg.NewManager("relaunch", reg, logger)
		if e != nil {
			fmt.Fprintf(stderr, "relaunch: %v\n", e)
			return exitCode(e)
		}
		b = local{m}
	}

	cmd := "restart"
	name := cfg.Default
	pos := fs.Args()
	if len(pos) > 0 {
		cmd = pos[0]
	}
	if len(pos) > 1 {
		name = pos[1]
	}
	if len(pos) > 2 {
		fs.Usage()
		return exitUsage
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch cmd {
	case "restart":
		e = restart(ctx, b, name, stdout, stderr)
	case "stop":
		e = stop(ctx, b, name, stdout)
	case "status":
		e = status(ctx, b, name, stdout)
	case "pause":
		e = signalled(stdout, "Paused", name)(b.Pause(ctx, name))
	case "resume":
		e = signalled(stdout, "Resumed", name)(b.Resume(ctx, name))
	case "log":
		e = showLog(ctx, b, name, *lines, stdout)
	case "list":
		e = list(ctx, b, stdout)
	default:
		fmt.Fprintf(stderr, "relaunch: unknown command %q\n", cmd)
		fs.Usage()
		return exitUsage
	}
	if e != nil {
		fmt.Fprintf(stderr, "relaunch: %s: %v\n", cmd, e)
	}
	return exitCode(e)
}

func restart(ctx context.Context, b backend, name string, stdout io.Writer, stderr io.Writer) error {
	res, e := b.Restart(ctx, name)
	if e != nil {
		if res != nil && res.Message != "" {
			fmt.Fprintln(stderr, res.Message)
		}
		return e
	}
	fmt.Fprintln(stdout, res.Message)
	fmt.Fprintf(stdout, "Log file: %s\n", res.LogFile)
	return nil
}

func stop(ctx context.Context, b backend, name string, stdout io.Writer) error {
	procs, e := b.Stop(ctx, name)
	if e != nil {
		return e
	}
	if len(procs) == 0 {
		fmt.Fprintf(stdout, "%s: not running\n", name)
		return nil
	}
	for _, p := range procs {
		fmt.Fprintf(stdout, "Stopped %s (pid %d)\n", name, p.Pid)
	}
	return nil
}

func status(ctx context.Context, b backend, name string, stdout io.Writer) error {
	procs, e := b.Status(ctx, name)
	if e != nil {
		return e
	}
	if len(procs) == 0 {
		fmt.Fprintf(stdout, "%s: not running\n", name)
		return relaunch.ErrNotRunning
	}
	for _, p := range procs {
		fmt.Fprintf(stdout, "%8d %s\n", p.Pid, p.Cmdline)
	}
	return nil
}

func signalled(stdout io.Writer, verb string, name string) func([]relaunch.ProcessHandle, error) error {
	return func(procs []relaunch.ProcessHandle, e error) error {
		for _, p := range procs {
			fmt.Fprintf(stdout, "%s %s (pid %d)\n", verb, name, p.Pid)
		}
		return e
	}
}

func showLog(ctx context.Context, b backend, name string, lines int, stdout io.Writer) error {
	recs, e := b.Log(ctx, name, lines)
	if e != nil {
		return e
	}
	for _, r := range recs {
		fmt.Fprintln(stdout, r.Text)
	}
	return nil
}

func list(ctx context.Context, b backend, stdout io.Writer) error {
	names, e := b.Names(ctx)
	if e != nil {
		return e
	}
	for _, n := range names {
		fmt.Fprintln(stdout, n)
	}
	return nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
