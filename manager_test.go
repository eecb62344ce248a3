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
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap/zaptest"
)

func newTestManager(t *testing.T) (*Manager, *fakeRegistry) {
	s, reg := newTestSupervisor(t)
	m := NewManager("TestManager", s)
	m.SetLogger(zaptest.NewLogger(t))
	return m, reg
}

func TestManager(t *testing.T) {
	Convey("Given a manager with one manifest", t, func() {
		m, reg := newTestManager(t)
		dir := t.TempDir()
		So(m.AddManifest(testManifest(dir)), ShouldBeNil)
		ctx := context.Background()
		serial := m.Info().Serial

		Convey("It is listed", func() {
			So(m.Names(), ShouldResemble, []string{"matrix_web"})
			mf, e := m.FindManifest("matrix_web")
			So(e, ShouldBeNil)
			So(mf.Directory, ShouldEqual, dir)
		})

		Convey("Unknown names are reported", func() {
			_, e := m.Restart(ctx, "nope")
			So(errors.Is(e, ErrNoManifest), ShouldBeTrue)
			_, e = m.State("nope")
			So(errors.Is(e, ErrNoManifest), ShouldBeTrue)
			So(errors.Is(m.DeleteManifest("nope"), ErrNoManifest), ShouldBeTrue)
		})

		Convey("Invalid manifests are not added", func() {
			So(errors.Is(m.AddManifest(Manifest{Name: "x"}), ErrBadManifest), ShouldBeTrue)
			So(m.Names(), ShouldHaveLength, 1)
		})

		Convey("Restart records the launch", func() {
			res, e := m.Restart(ctx, "matrix_web")
			So(e, ShouldBeNil)
			st, e := m.State("matrix_web")
			So(e, ShouldBeNil)
			So(st.LastLaunch, ShouldEqual, res)
			So(st.Status, ShouldEqual, res.Message)
			So(m.Info().Serial, ShouldBeGreaterThan, serial)

			procs, e := m.Status(ctx, "matrix_web")
			So(e, ShouldBeNil)
			So(procs, ShouldHaveLength, 1)
		})

		Convey("Restarts are rate limited", func() {
			m.SetRateLimit(2, time.Hour)
			_, e := m.Restart(ctx, "matrix_web")
			So(e, ShouldBeNil)
			_, e = m.Restart(ctx, "matrix_web")
			So(e, ShouldBeNil)
			_, e = m.Restart(ctx, "matrix_web")
			So(errors.Is(e, ErrRateLimited), ShouldBeTrue)
			So(reg.spawned, ShouldHaveLength, 2)
		})

		Convey("Rate limiting can be disabled", func() {
			m.SetRateLimit(0, 0)
			for i := 0; i < 20; i++ {
				_, e := m.Restart(ctx, "matrix_web")
				So(e, ShouldBeNil)
			}
			So(reg.count("matrix_web_controller"), ShouldEqual, 1)
		})

		Convey("Stop, pause and resume go through", func() {
			_, e := m.Pause(ctx, "matrix_web")
			So(errors.Is(e, ErrNotRunning), ShouldBeTrue)

			reg.add("python3 matrix_web_controller.py")
			_, e = m.Pause(ctx, "matrix_web")
			So(e, ShouldBeNil)
			_, e = m.Resume(ctx, "matrix_web")
			So(e, ShouldBeNil)
			procs, e := m.Stop(ctx, "matrix_web")
			So(e, ShouldBeNil)
			So(procs, ShouldHaveLength, 1)
			st, _ := m.State("matrix_web")
			So(st.Status, ShouldEqual, "Stopped 1 process(es)")
		})

		Convey("Tail reads the log file", func() {
			_, e := m.Restart(ctx, "matrix_web")
			So(e, ShouldBeNil)
			recs, e := m.Tail("matrix_web", 10)
			So(e, ShouldBeNil)
			So(recs, ShouldHaveLength, 1)
			So(recs[0].Text, ShouldEqual, "started python3 matrix_web_controller.py")
		})

		Convey("Manifests can be deleted", func() {
			So(m.DeleteManifest("matrix_web"), ShouldBeNil)
			So(m.Names(), ShouldBeEmpty)
		})
	})
}

func TestManagerLoadDir(t *testing.T) {
	Convey("Manifest directories are loaded, skipping bad files", t, func() {
		m, _ := newTestManager(t)
		dir := t.TempDir()
		write := func(name, body string) {
			So(os.WriteFile(filepath.Join(dir, name), []byte(body), 0644), ShouldBeNil)
		}
		write("clock.yaml", "match: clock.py\ncommand: [python3, clock.py]\nlogFile: clock.log\n")
		write("web.json", `{"name": "web", "match": "web.py", "command": ["python3", "web.py"], "logFile": "web.log"}`)
		write("broken.yml", "match: [\n")
		write("README", "not a manifest")

		n, e := m.LoadDir(dir)
		So(e, ShouldBeNil)
		So(n, ShouldEqual, 2)
		So(m.Names(), ShouldResemble, []string{"clock", "web"})

		_, e = m.LoadDir(filepath.Join(dir, "missing"))
		So(e, ShouldNotBeNil)
	})
}
