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
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestTail(t *testing.T) {
	Convey("Given a log file of 10 lines", t, func() {
		path := filepath.Join(t.TempDir(), "out.log")
		var b strings.Builder
		for i := 1; i <= 10; i++ {
			fmt.Fprintf(&b, "line %d\n", i)
		}
		So(os.WriteFile(path, []byte(b.String()), 0644), ShouldBeNil)

		Convey("Only the last lines are returned", func() {
			recs, e := Tail(path, 3)
			So(e, ShouldBeNil)
			So(recs, ShouldResemble, []LogRecord{
				{8, "line 8"}, {9, "line 9"}, {10, "line 10"},
			})
		})

		Convey("Asking for more lines than exist returns them all", func() {
			recs, e := Tail(path, 0)
			So(e, ShouldBeNil)
			So(recs, ShouldHaveLength, 10)
			So(recs[0].Text, ShouldEqual, "line 1")
		})
	})

	Convey("Huge line counts are capped at MaxLogRecords", t, func() {
		path := filepath.Join(t.TempDir(), "big.log")
		var b strings.Builder
		for i := 1; i <= MaxLogRecords+5; i++ {
			fmt.Fprintf(&b, "line %d\n", i)
		}
		So(os.WriteFile(path, []byte(b.String()), 0644), ShouldBeNil)

		recs, e := Tail(path, math.MaxInt)
		So(e, ShouldBeNil)
		So(recs, ShouldHaveLength, MaxLogRecords)
		So(recs[0].Id, ShouldEqual, 6)
		So(recs[MaxLogRecords-1].Text, ShouldEqual, fmt.Sprintf("line %d", MaxLogRecords+5))
	})

	Convey("A missing log file is empty", t, func() {
		recs, e := Tail(filepath.Join(t.TempDir(), "missing.log"), 5)
		So(e, ShouldBeNil)
		So(recs, ShouldBeEmpty)
	})
}
