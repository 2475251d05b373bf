package config

import "time"

// Config is the deploy-time configuration file (yaml or json).
//
// Game-visible parameters (drop chance, expiry windows, texts) are NOT here:
// they live in storage and are mutated through chat commands. This file only
// carries process wiring.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Game     GameConfig     `json:"game"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// SendRatePerSec caps outbound Telegram calls. 0 = adapter default.
	SendRatePerSec int `json:"send_rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the durable backend.
//
// Driver values:
//   - "sqlite": database file at Path (default)
//   - "postgres": connection string in DSN
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only; Go duration string
}

// GameConfig tunes the two periodic loops. The stored drop-chance policy
// is separate and mutated through chat commands.
//
// Defaults: tick_interval "90s", sweep_interval "60s".
type GameConfig struct {
	TickInterval  string `json:"tick_interval,omitempty"`
	SweepInterval string `json:"sweep_interval,omitempty"`
}

// BusyTimeoutDuration returns the sqlite busy timeout, defaulting to 5s.
// Malformed values fall back to the default; Validate reports them.
func (s StorageConfig) BusyTimeoutDuration() time.Duration {
	d, err := ParseDurationOrDefault("storage.busy_timeout", s.BusyTimeout, 5*time.Second)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

func (g GameConfig) TickIntervalDuration() time.Duration {
	d, err := ParseDurationOrDefault("game.tick_interval", g.TickInterval, 90*time.Second)
	if err != nil {
		return 90 * time.Second
	}
	return d
}

func (g GameConfig) SweepIntervalDuration() time.Duration {
	d, err := ParseDurationOrDefault("game.sweep_interval", g.SweepInterval, 60*time.Second)
	if err != nil {
		return 60 * time.Second
	}
	return d
}
