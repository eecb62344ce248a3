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
	"bufio"
	"errors"
	"io/fs"
	"os"
)

const (
	MaxLogRecords = 1000
)

// LogRecord is a line of a supervised program's log file.  Id is the line
// number, counting from 1.
type LogRecord struct {
	Id   int64  `json:"id,string"`
	Text string `json:"text"`
}

// Tail returns up to the last n lines of the log file.  A log file that
// does not exist yet is simply empty.  At most MaxLogRecords lines are
// returned; if n is not positive, that many are.
func Tail(path string, n int) ([]LogRecord, error) {
	if n <= 0 || n > MaxLogRecords {
		n = MaxLogRecords
	}
	f, e := os.Open(path)
	if errors.Is(e, fs.ErrNotExist) {
		return []LogRecord{}, nil
	} else if e != nil {
		return nil, e
	}
	defer f.Close()

	// Only the most recent n lines are kept, in a ring.
	records := make([]LogRecord, n)
	var numRecords int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		idx := numRecords % int64(n)
		numRecords++
		records[idx].Id = numRecords
		records[idx].Text = scanner.Text()
	}
	if e := scanner.Err(); e != nil {
		return nil, e
	}

	cnt := numRecords
	if cnt > int64(n) {
		cnt = int64(n)
	}
	recs := make([]LogRecord, 0, cnt)
	index := numRecords - cnt
	for j := int64(0); j < cnt; j++ {
		recs = append(recs, records[index%int64(n)])
		index++
	}
	return recs, nil
}
