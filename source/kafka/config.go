package kafka

import (
	"errors"
	"fmt"
	"time"
)

type Config struct {
	Brokers   []string
	Topics    []string
	GroupID   string
	StartFrom string // oldest or newest (default)
	Version   string // sarama version string; empty uses the library default
	ClientID  string

	// MaxInFlight bounds messages handed out but not yet acknowledged.
	// Consumption pauses at the limit.
	MaxInFlight int64
	// CommitInterval is how often marked offsets are committed.
	CommitInterval time.Duration
}

func applyDefaults(c *Config) {
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 10_000
	}
	if c.CommitInterval <= 0 {
		c.CommitInterval = 5 * time.Second
	}
	if c.StartFrom == "" {
		c.StartFrom = "newest"
	}
}

func (c Config) validate() error {
	var errs []error
	if len(c.Brokers) == 0 {
		errs = append(errs, errors.New("brokers are required"))
	}
	if len(c.Topics) == 0 {
		errs = append(errs, errors.New("at least one topic is required"))
	}
	if c.GroupID == "" {
		errs = append(errs, errors.New("group id is required"))
	}
	if c.StartFrom != "oldest" && c.StartFrom != "newest" {
		errs = append(errs, fmt.Errorf("start_from %q: want oldest or newest", c.StartFrom))
	}
	return errors.Join(errs...)
}
