package session

import "time"

// Config tunes the sync engine of a session
type Config struct {
	// SyncInterval is the period of heartbeat saves while running and the
	// window in which an identical save is considered redundant.
	SyncInterval time.Duration `yaml:"sync_interval"`
	// PollInterval is the period of the reconciliation poll that backs up
	// the change feed.
	PollInterval time.Duration `yaml:"poll_interval"`
	// TickInterval is how often display snapshots are pushed while running
	TickInterval time.Duration `yaml:"tick_interval"`

	MaxSaveAttempts int           `yaml:"max_save_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay"`

	// WatchBuffer is the event buffer handed to each watcher
	WatchBuffer int `yaml:"watch_buffer"`

	Metrics MetricsCollector `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		SyncInterval:    time.Second,
		PollInterval:    5 * time.Second,
		TickInterval:    time.Second,
		MaxSaveAttempts: 3,
		RetryDelay:      500 * time.Millisecond,
		WatchBuffer:     16,
	}
}

// withDefaults fills every unset field from DefaultConfig
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SyncInterval <= 0 {
		c.SyncInterval = d.SyncInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.MaxSaveAttempts <= 0 {
		c.MaxSaveAttempts = d.MaxSaveAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.WatchBuffer <= 0 {
		c.WatchBuffer = d.WatchBuffer
	}
	if c.Metrics == nil {
		c.Metrics = NoOpMetricsCollector{}
	}
	return c
}
