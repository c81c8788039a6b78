// config.go - mixnode configuration.
// Copyright (C) 2017  David Anthony Stainton.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package config loads and validates the mixnode's TOML configuration, and
// watches it for hot-reloadable changes.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config holds every recognized option. Fields tagged boot-only may not
// change across a Reload; Validate enforces that separately from TOML
// decoding, since BurntSushi/toml has no notion of "changed after first
// load".
type Config struct {
	PoolSize             int `toml:"pool_size"`
	WorkerThreads        int `toml:"worker_threads"`
	BatchSize            int `toml:"batch_size"`
	MaxQueueDepth        int `toml:"max_queue_depth"`
	TargetThroughputPPS  int `toml:"target_throughput_pps"`
	MeanDelayMs          int `toml:"mean_delay_ms"`
	MinDelayMs           int `toml:"min_delay_ms"`
	MaxDelayMs           int `toml:"max_delay_ms"`
	ReplayWindowSecs     int `toml:"replay_window_secs"`
	AcquireTimeoutMs     int `toml:"acquire_timeout_ms"`
	EgressTimeoutMs      int `toml:"egress_timeout_ms"`
	MinSupportedMinor    int `toml:"min_supported_minor"`
	RelayIdleTimeoutSecs int `toml:"relay_idle_timeout_secs"`

	LogLevel string `toml:"log_level"`
	LogFile  string `toml:"log_file"`

	ListenAddr      string `toml:"listen_addr"`
	DataDir         string `toml:"data_dir"`
	AdminSocketPath string `toml:"admin_socket_path"`
}

// bootOnlyFields names the options Reload refuses to change, matching §6's
// "(boot-only)" annotations.
var bootOnlyFields = []string{"pool_size", "worker_threads", "listen_addr", "data_dir", "admin_socket_path"}

// Default returns a Config populated with every documented default.
func Default() *Config {
	return &Config{
		PoolSize:             1024,
		WorkerThreads:        4,
		BatchSize:            256,
		MaxQueueDepth:        10000,
		TargetThroughputPPS:  25000,
		MeanDelayMs:          500,
		MinDelayMs:           50,
		MaxDelayMs:           2000,
		ReplayWindowSecs:     3600,
		AcquireTimeoutMs:     50,
		EgressTimeoutMs:      10,
		MinSupportedMinor:    0,
		RelayIdleTimeoutSecs: 900,
		LogLevel:             "INFO",
		LogFile:              "",
		ListenAddr:           "0.0.0.0:9000",
		DataDir:              "/var/lib/mixnode",
		AdminSocketPath:      "/var/run/mixnode.sock",
	}
}

// FromFile loads a Config from path, starting from Default so any option
// the file omits keeps its documented default, then validates the result.
func FromFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, errors.Wrap(err, "config: failed to parse toml")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects a Config with out-of-range or missing required values.
func (c *Config) Validate() error {
	if c.PoolSize <= 0 {
		return errors.New("config: pool_size must be positive")
	}
	if c.WorkerThreads <= 0 {
		return errors.New("config: worker_threads must be positive")
	}
	if c.BatchSize <= 0 {
		return errors.New("config: batch_size must be positive")
	}
	if c.MaxQueueDepth <= 0 {
		return errors.New("config: max_queue_depth must be positive")
	}
	if c.TargetThroughputPPS <= 0 {
		return errors.New("config: target_throughput_pps must be positive")
	}
	if c.MinDelayMs < 0 || c.MaxDelayMs < c.MinDelayMs {
		return errors.New("config: min_delay_ms/max_delay_ms out of order")
	}
	if c.MeanDelayMs <= 0 {
		return errors.New("config: mean_delay_ms must be positive")
	}
	if c.ReplayWindowSecs <= 0 {
		return errors.New("config: replay_window_secs must be positive")
	}
	if c.MinSupportedMinor < 0 || c.MinSupportedMinor > 0x0f {
		return errors.New("config: min_supported_minor must fit in a nibble")
	}
	if c.ListenAddr == "" {
		return errors.New("config: listen_addr must not be empty")
	}
	if c.DataDir == "" {
		return errors.New("config: data_dir must not be empty")
	}
	if c.AdminSocketPath == "" {
		return errors.New("config: admin_socket_path must not be empty")
	}
	return nil
}

// ErrBootOnlyFieldChanged is returned by Reload when new changes a
// boot-only option.
type ErrBootOnlyFieldChanged struct {
	Field string
}

func (e *ErrBootOnlyFieldChanged) Error() string {
	return fmt.Sprintf("config: %s is boot-only and cannot change on reload", e.Field)
}

// Reload validates that new differs from c only in hot-reloadable fields,
// returning *ErrBootOnlyFieldChanged if a boot-only option changed.
func (c *Config) Reload(next *Config) error {
	if err := next.Validate(); err != nil {
		return err
	}
	if c.PoolSize != next.PoolSize {
		return &ErrBootOnlyFieldChanged{Field: "pool_size"}
	}
	if c.WorkerThreads != next.WorkerThreads {
		return &ErrBootOnlyFieldChanged{Field: "worker_threads"}
	}
	if c.ListenAddr != next.ListenAddr {
		return &ErrBootOnlyFieldChanged{Field: "listen_addr"}
	}
	if c.DataDir != next.DataDir {
		return &ErrBootOnlyFieldChanged{Field: "data_dir"}
	}
	if c.AdminSocketPath != next.AdminSocketPath {
		return &ErrBootOnlyFieldChanged{Field: "admin_socket_path"}
	}
	*c = *next
	return nil
}

// MeanDelay, MinDelay, MaxDelay, ReplayWindow, AcquireTimeout, and
// EgressTimeout convert the millisecond/second integer TOML fields into
// time.Duration for consumption by the pipeline, scheduler, and vrf
// packages.
func (c *Config) MeanDelay() time.Duration { return time.Duration(c.MeanDelayMs) * time.Millisecond }
func (c *Config) MinDelay() time.Duration  { return time.Duration(c.MinDelayMs) * time.Millisecond }
func (c *Config) MaxDelay() time.Duration  { return time.Duration(c.MaxDelayMs) * time.Millisecond }
func (c *Config) ReplayWindow() time.Duration {
	return time.Duration(c.ReplayWindowSecs) * time.Second
}
func (c *Config) AcquireTimeout() time.Duration {
	return time.Duration(c.AcquireTimeoutMs) * time.Millisecond
}
func (c *Config) EgressTimeout() time.Duration {
	return time.Duration(c.EgressTimeoutMs) * time.Millisecond
}
func (c *Config) RelayIdleTimeout() time.Duration {
	return time.Duration(c.RelayIdleTimeoutSecs) * time.Second
}
