// Package config defines the runtime configuration and its JSON
// loading: defaults, overridden by a global file, overridden by a
// project file.
package config

import (
	"fmt"
	"time"
)

// TimingConfig holds the coordination clocks, in milliseconds.
type TimingConfig struct {
	TickIntervalMS int `json:"tick_interval_ms"` // periodic assignment pass
	ResultWaitMS   int `json:"result_wait_ms"`   // default result-wait timeout
	StopGraceMS    int `json:"stop_grace_ms"`    // drain budget before force-cancel
}

// TickInterval returns the assignment tick as a duration.
func (t TimingConfig) TickInterval() time.Duration {
	return time.Duration(t.TickIntervalMS) * time.Millisecond
}

// ResultWait returns the default result-wait timeout as a duration.
func (t TimingConfig) ResultWait() time.Duration {
	return time.Duration(t.ResultWaitMS) * time.Millisecond
}

// StopGrace returns the shutdown drain budget as a duration.
func (t TimingConfig) StopGrace() time.Duration {
	return time.Duration(t.StopGraceMS) * time.Millisecond
}

// BusConfig sizes the message bus.
type BusConfig struct {
	MailboxSize  int `json:"mailbox_size"`  // per-recipient buffer
	HistoryLimit int `json:"history_limit"` // retained message ring
}

// RetryConfig shapes the per-agent execution retry policy.
type RetryConfig struct {
	MaxRetries        int     `json:"max_retries"`
	InitialIntervalMS int     `json:"initial_interval_ms"`
	MaxIntervalMS     int     `json:"max_interval_ms"`
	Multiplier        float64 `json:"multiplier"`
}

// HistoryConfig controls the completed-task archive.
type HistoryConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"` // SQLite file, created on first use
}

// Config is the top-level configuration.
type Config struct {
	Timing  TimingConfig  `json:"timing"`
	Bus     BusConfig     `json:"bus"`
	Retry   RetryConfig   `json:"retry"`
	History HistoryConfig `json:"history"`
}

// Validate rejects values the coordinator cannot run with.
func (c *Config) Validate() error {
	if c.Timing.TickIntervalMS <= 0 {
		return fmt.Errorf("timing.tick_interval_ms must be positive, got %d", c.Timing.TickIntervalMS)
	}
	if c.Timing.ResultWaitMS <= 0 {
		return fmt.Errorf("timing.result_wait_ms must be positive, got %d", c.Timing.ResultWaitMS)
	}
	if c.Timing.StopGraceMS < 0 {
		return fmt.Errorf("timing.stop_grace_ms must not be negative, got %d", c.Timing.StopGraceMS)
	}
	if c.Bus.MailboxSize <= 0 {
		return fmt.Errorf("bus.mailbox_size must be positive, got %d", c.Bus.MailboxSize)
	}
	if c.Bus.HistoryLimit <= 0 {
		return fmt.Errorf("bus.history_limit must be positive, got %d", c.Bus.HistoryLimit)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.InitialIntervalMS <= 0 || c.Retry.MaxIntervalMS <= 0 {
		return fmt.Errorf("retry intervals must be positive")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1, got %g", c.Retry.Multiplier)
	}
	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history.path required when history is enabled")
	}
	return nil
}
