package worker

import "time"

// Config tunes the pool.
type Config struct {
	Concurrency     int           // parallel slots
	PollInterval    time.Duration // idle wait between empty claims
	LockDuration    time.Duration // lease length, renewed every LockDuration/2
	StalledInterval time.Duration // how often expired leases are recovered
	MaxStalledCount int           // stalls tolerated before a job is failed
	CleanInterval   time.Duration // retention cleanup period, 0 disables
	AckTimeout      time.Duration // bound for store acks after execution
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     5,
		PollInterval:    time.Second,
		LockDuration:    150 * time.Second,
		StalledInterval: 30 * time.Second,
		MaxStalledCount: 2,
		CleanInterval:   time.Minute,
		AckTimeout:      10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.LockDuration <= 0 {
		c.LockDuration = d.LockDuration
	}
	if c.StalledInterval <= 0 {
		c.StalledInterval = d.StalledInterval
	}
	if c.MaxStalledCount < 0 {
		c.MaxStalledCount = d.MaxStalledCount
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = d.AckTimeout
	}
	return c
}
