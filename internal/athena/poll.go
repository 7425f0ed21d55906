package athena

import (
	"fmt"
	"math"
	"time"

	"github.com/dwsmith1983/evextract/pkg/types"
)

// Poll defaults reproduce a fixed ten second status check.
const (
	DefaultPollInterval    = 10 * time.Second
	DefaultPollMaxInterval = time.Minute
	DefaultPollMultiplier  = 1.0
	DefaultPollMaxWait     = 30 * time.Minute
)

// PollPolicy controls how often query status is checked and for how long.
// MaxInterval only bounds backoff. A zero MaxWait waits indefinitely.
type PollPolicy struct {
	Interval    time.Duration
	MaxInterval time.Duration
	Multiplier  float64
	MaxWait     time.Duration
}

// DefaultPollPolicy returns the default polling configuration.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		Interval:    DefaultPollInterval,
		MaxInterval: DefaultPollMaxInterval,
		Multiplier:  DefaultPollMultiplier,
		MaxWait:     DefaultPollMaxWait,
	}
}

// PollPolicyFromConfig parses cfg, filling unset fields with defaults.
func PollPolicyFromConfig(cfg types.PollConfig) (PollPolicy, error) {
	p := DefaultPollPolicy()
	for _, f := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"interval", cfg.Interval, &p.Interval},
		{"maxInterval", cfg.MaxInterval, &p.MaxInterval},
		{"maxWait", cfg.MaxWait, &p.MaxWait},
	} {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return PollPolicy{}, fmt.Errorf("poll.%s: %w", f.name, err)
		}
		if d < 0 {
			return PollPolicy{}, fmt.Errorf("poll.%s must not be negative", f.name)
		}
		*f.dst = d
	}
	if cfg.Multiplier != 0 {
		if cfg.Multiplier < 1 {
			return PollPolicy{}, fmt.Errorf("poll.multiplier must be >= 1")
		}
		p.Multiplier = cfg.Multiplier
	}
	if p.Interval <= 0 {
		return PollPolicy{}, fmt.Errorf("poll.interval must be positive")
	}
	if p.Multiplier > 1 && p.MaxInterval > 0 && p.Interval > p.MaxInterval {
		return PollPolicy{}, fmt.Errorf("poll.interval %s exceeds poll.maxInterval %s", p.Interval, p.MaxInterval)
	}
	return p, nil
}

// Delay returns the wait before status check attempt+1.
// With a multiplier above 1 it backs off as interval * multiplier^(attempt-1),
// capped at MaxInterval. Otherwise every wait is Interval.
func (p PollPolicy) Delay(attempt int) time.Duration {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if p.Multiplier <= 1 {
		return interval
	}
	if attempt <= 1 {
		return p.capped(interval)
	}
	d := float64(interval) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxInterval > 0 && d >= float64(p.MaxInterval) {
		return p.MaxInterval
	}
	// float64(math.MaxInt64) rounds up to 2^63, so >= keeps the conversion in range.
	if d >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func (p PollPolicy) capped(d time.Duration) time.Duration {
	if p.MaxInterval > 0 && d > p.MaxInterval {
		return p.MaxInterval
	}
	return d
}
