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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Signal names a signal by its short name, without the SIG prefix.
// Platforms that cannot deliver a given signal report an error when
// asked to send it.
type Signal string

const (
	SigTerm Signal = "TERM"
	SigInt  Signal = "INT"
	SigHup  Signal = "HUP"
	SigQuit Signal = "QUIT"
	SigKill Signal = "KILL"
	SigUsr1 Signal = "USR1"
	SigUsr2 Signal = "USR2"
	SigStop Signal = "STOP"
	SigCont Signal = "CONT"
)

var stopSignals = map[Signal]bool{
	SigTerm: true,
	SigInt:  true,
	SigHup:  true,
	SigQuit: true,
	SigKill: true,
	SigUsr1: true,
	SigUsr2: true,
}

// Manifest describes a supervised program: how to recognize running
// instances of it, and how to launch a new one.
//
// Match is compared against the complete command line of every process
// on the host.  It must be specific enough not to collide with unrelated
// processes; "python3 matrix_web_controller.py" is fine, "python3" is not.
// Relaunch does not try to validate that.
type Manifest struct {
	Name        string        `json:"name" yaml:"name" mapstructure:"name"`
	Description string        `json:"description" yaml:"description" mapstructure:"description"`
	Match       string        `json:"match" yaml:"match" mapstructure:"match"`
	Command     []string      `json:"command" yaml:"command" mapstructure:"command"`
	Env         []string      `json:"env" yaml:"env" mapstructure:"env"`
	Directory   string        `json:"directory" yaml:"directory" mapstructure:"directory"`
	LogFile     string        `json:"logFile" yaml:"logFile" mapstructure:"logFile"`
	AppendLog   bool          `json:"appendLog" yaml:"appendLog" mapstructure:"appendLog"`
	Elevated    bool          `json:"elevated" yaml:"elevated" mapstructure:"elevated"`
	StopSignal  Signal        `json:"stopSignal" yaml:"stopSignal" mapstructure:"stopSignal"`
	StopTimeout time.Duration `json:"stopTimeout" yaml:"stopTimeout" mapstructure:"stopTimeout"`
	CheckDelay  time.Duration `json:"checkDelay" yaml:"checkDelay" mapstructure:"checkDelay"`
	Address     string        `json:"address" yaml:"address" mapstructure:"address"`
}

// DefaultManifest returns the manifest for the matrix display web
// controller, which is what relaunch starts when given nothing else.
func DefaultManifest() Manifest {
	return Manifest{
		Name:        "matrix_web",
		Description: "Matrix display web controller",
		Match:       "python3 matrix_web_controller.py",
		Command:     []string{"python3", "matrix_web_controller.py"},
		Directory:   "/home/pi/matrix",
		LogFile:     "matrix_web.log",
		Elevated:    true,
		StopSignal:  SigTerm,
		Address:     "http://192.168.86.56",
	}
}

// Validate checks that the manifest has everything needed to restart it.
func (m *Manifest) Validate() error {
	switch {
	case m.Name == "":
		return fmt.Errorf("%w: missing name", ErrBadManifest)
	case strings.TrimSpace(m.Match) == "":
		return fmt.Errorf("%w: %s: missing match pattern", ErrBadManifest, m.Name)
	case len(m.Command) == 0 || m.Command[0] == "":
		return fmt.Errorf("%w: %s: missing command", ErrBadManifest, m.Name)
	case m.LogFile == "":
		return fmt.Errorf("%w: %s: missing log file", ErrBadManifest, m.Name)
	case m.StopTimeout < 0 || m.CheckDelay < 0:
		return fmt.Errorf("%w: %s: negative duration", ErrBadManifest, m.Name)
	}
	if m.StopSignal != "" && !stopSignals[m.Signal()] {
		return fmt.Errorf("%w: %s: unsupported stop signal %q",
			ErrBadManifest, m.Name, m.StopSignal)
	}
	return nil
}

// Signal returns the signal used to ask prior instances to exit.
func (m *Manifest) Signal() Signal {
	if m.StopSignal == "" {
		return SigTerm
	}
	s := strings.ToUpper(string(m.StopSignal))
	return Signal(strings.TrimPrefix(s, "SIG"))
}

// LogPath returns the log file location.  Relative names are taken
// relative to the working directory.
func (m *Manifest) LogPath() string {
	if filepath.IsAbs(m.LogFile) || m.Directory == "" {
		return m.LogFile
	}
	return filepath.Join(m.Directory, m.LogFile)
}

func decodeJson(r io.Reader) (Manifest, error) {
	var m Manifest
	if e := json.NewDecoder(r).Decode(&m); e != nil {
		return m, fmt.Errorf("%w: %v", ErrBadManifest, e)
	}
	return m, nil
}

func decodeYaml(r io.Reader) (Manifest, error) {
	var m Manifest
	if e := yaml.NewDecoder(r).Decode(&m); e != nil {
		return m, fmt.Errorf("%w: %v", ErrBadManifest, e)
	}
	return m, nil
}

// NewManifestFromJson decodes and validates a JSON manifest.  Durations
// are given in nanoseconds.
func NewManifestFromJson(r io.Reader) (Manifest, error) {
	m, e := decodeJson(r)
	if e != nil {
		return m, e
	}
	return m, m.Validate()
}

// NewManifestFromYaml decodes and validates a YAML manifest.  Durations
// may be written as "5s".
func NewManifestFromYaml(r io.Reader) (Manifest, error) {
	m, e := decodeYaml(r)
	if e != nil {
		return m, e
	}
	return m, m.Validate()
}

// LoadManifestFile loads a manifest from a .json, .yaml or .yml file.
// When the manifest carries no name, the base file name is used.
func LoadManifestFile(path string) (Manifest, error) {
	f, e := os.Open(path)
	if e != nil {
		return Manifest{}, e
	}
	defer f.Close()

	var m Manifest
	ext := filepath.Ext(path)
	switch ext {
	case ".json":
		m, e = decodeJson(f)
	case ".yaml", ".yml":
		m, e = decodeYaml(f)
	default:
		return m, fmt.Errorf("%w: %s: unknown manifest format", ErrBadManifest, path)
	}
	if e != nil {
		return m, fmt.Errorf("%s: %w", path, e)
	}
	if m.Name == "" {
		m.Name = strings.TrimSuffix(filepath.Base(path), ext)
	}
	return m, m.Validate()
}
