package config

import (
	"errors"
	"fmt"
)

// Validate checks a parsed Config for problems that should block a commit.
// It accumulates errors so a reload log shows everything wrong at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram.token: required"))
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	if c.Telegram.SendRatePerSec < 0 {
		errs = append(errs, errors.New("telegram.send_rate_per_sec: must be >= 0"))
	}

	switch c.Storage.Driver {
	case "", "sqlite":
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	case "postgres":
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn: required for postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown %q", c.Storage.Driver))
	}

	if _, err := ParseDurationField("game.tick_interval", c.Game.TickInterval); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("game.sweep_interval", c.Game.SweepInterval); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
