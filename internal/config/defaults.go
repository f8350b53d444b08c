package config

import "path/filepath"

// DefaultConfig returns the built-in configuration: one second between
// assignment passes, thirty seconds of result wait, five seconds of
// drain grace, and the archive written under the project directory.
func DefaultConfig() *Config {
	return &Config{
		Timing: TimingConfig{
			TickIntervalMS: 1000,
			ResultWaitMS:   30000,
			StopGraceMS:    5000,
		},
		Bus: BusConfig{
			MailboxSize:  256,
			HistoryLimit: 1000,
		},
		Retry: RetryConfig{
			MaxRetries:        0,
			InitialIntervalMS: 100,
			MaxIntervalMS:     10000,
			Multiplier:        2.0,
		},
		History: HistoryConfig{
			Enabled: false,
			Path:    filepath.Join(".hive", "history.db"),
		},
	}
}
