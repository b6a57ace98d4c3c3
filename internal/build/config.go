package build

import "time"

// Config holds the build service configuration.
type Config struct {
	// PendingTimeout bounds how long a pending build without a container
	// can be chosen as a duplicate. Default: 30m.
	PendingTimeout time.Duration `env:"PENDING_TIMEOUT"`

	// StallTimeout is how long a build may stay incomplete before
	// ExpireStalled fails it. Default: 2h.
	StallTimeout time.Duration `env:"STALL_TIMEOUT"`
}

func (c *Config) pendingTimeout() time.Duration {
	t := c.PendingTimeout
	if t == 0 {
		t = 30 * time.Minute
	}
	return t
}

func (c *Config) stallTimeout() time.Duration {
	t := c.StallTimeout
	if t == 0 {
		t = 2 * time.Hour
	}
	return t
}
