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
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the configuration shared by relaunch and relaunchd.
type Config struct {
	Default   string     `mapstructure:"default"`   // manifest restarted with no arguments
	Manifests string     `mapstructure:"manifests"` // directory of manifest files
	Listen    string     `mapstructure:"listen"`    // relaunchd listen address
	Elevator  string     `mapstructure:"elevator"`  // "sudo" or "none"
	Auth      AuthConfig `mapstructure:"auth"`
	Rate      RateConfig `mapstructure:"rate"`
	Processes []Manifest `mapstructure:"processes"`
}

type AuthConfig struct {
	User string `mapstructure:"user"`
	Pass string `mapstructure:"pass"`
}

type RateConfig struct {
	Limit  int           `mapstructure:"limit"`
	Period time.Duration `mapstructure:"period"`
}

// NewViper returns a viper instance with our defaults, reading RELAUNCH_*
// environment variables (RELAUNCH_AUTH_USER for auth.user, and so on).
// Processes can only be given in the configuration file.  If file is empty, relaunch.yaml is searched for
// in the current directory, ~/.config/relaunch and /etc/relaunch.
func NewViper(file string) *viper.Viper {
	v := viper.New()
	// Every scalar key needs a default, or Unmarshal never asks
	// AutomaticEnv about it.
	v.SetDefault("default", DefaultManifest().Name)
	v.SetDefault("manifests", "")
	v.SetDefault("listen", "127.0.0.1:8321")
	v.SetDefault("elevator", "sudo")
	v.SetDefault("auth.user", "")
	v.SetDefault("auth.pass", "")
	v.SetDefault("rate.limit", 10)
	v.SetDefault("rate.period", time.Minute)

	v.SetEnvPrefix("RELAUNCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("relaunch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/relaunch")
		v.AddConfigPath("/etc/relaunch")
	}
	return v
}

// LoadConfig reads the configuration.  A missing configuration file is
// only an error if one was named explicitly.
func LoadConfig(v *viper.Viper) (*Config, error) {
	if e := v.ReadInConfig(); e != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(e, &notFound) {
			return nil, fmt.Errorf("reading config: %w", e)
		}
	}
	c := &Config{}
	if e := v.Unmarshal(c); e != nil {
		return nil, fmt.Errorf("decoding config: %w", e)
	}
	return c, nil
}

// Registry returns the OS registry, using the configured elevator.
func (c *Config) Registry() (*OSRegistry, error) {
	el, e := NewElevator(c.Elevator)
	if e != nil {
		return nil, e
	}
	return NewOSRegistry(el), nil
}

// NewManager builds a Manager holding the configured processes and the
// contents of the manifest directory.  With neither, the Manager holds
// DefaultManifest.
func (c *Config) NewManager(name string, reg Registry, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sup := NewSupervisor(reg)
	m := NewManager(name, sup)
	m.SetLogger(logger)
	m.SetRateLimit(c.Rate.Limit, c.Rate.Period)

	for _, mf := range c.Processes {
		if e := m.AddManifest(mf); e != nil {
			return nil, e
		}
	}
	if c.Manifests != "" {
		if _, e := m.LoadDir(c.Manifests); e != nil {
			return nil, fmt.Errorf("loading manifests: %w", e)
		}
	}
	if len(m.Names()) == 0 {
		if e := m.AddManifest(DefaultManifest()); e != nil {
			return nil, e
		}
	}
	return m, nil
}
