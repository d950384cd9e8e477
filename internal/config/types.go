package config

import (
	"errors"
	"fmt"
	"strings"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Gate     GateConfig     `json:"gate"`

	// Admins may broadcast. Fixed for the process lifetime.
	Admins []int64 `json:"admins"`

	Stats StatsConfig `json:"stats,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty in the file and provided via the BOT_TOKEN
	// environment variable instead (never log it).
	Token string `json:"token,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// OpsChatID is the chat the Telegram log sink delivers to (0 = off).
	OpsChatID int64 `json:"ops_chat_id,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file,omitempty"`
	Telegram LoggingTelegram `json:"telegram,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig selects the registry backend.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./users.json" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// GateConfig describes the membership gate: the channels a user must join
// and the content links revealed once they have.
type GateConfig struct {
	Channels    []ChannelConfig `json:"channels"`
	AccessLinks []LinkConfig    `json:"access_links"`
}

type ChannelConfig struct {
	// Handle is the platform channel identifier, e.g. "@TWENewss".
	Handle string `json:"handle"`
	Title  string `json:"title,omitempty"`
	URL    string `json:"url,omitempty"`
}

type LinkConfig struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// StatsConfig controls the optional registry-size log line.
type StatsConfig struct {
	Enabled bool `json:"enabled"`
	// Cron is a standard 5-field cron spec; default "0 9 * * *".
	Cron string `json:"cron,omitempty"`
}

// Validate checks everything that must hold before startup proceeds.
// Token presence is checked later, after the env fallback is merged in.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required (the user registry must be durable)")
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "file", "sqlite", "sqlite3":
	case "none":
		return errors.New("storage.driver 'none' is not allowed: the user registry must be durable")
	default:
		return fmt.Errorf("storage.driver %q is unknown", c.Storage.Driver)
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	for i, ch := range c.Gate.Channels {
		if strings.TrimSpace(ch.Handle) == "" {
			return fmt.Errorf("gate.channels[%d].handle is empty", i)
		}
	}
	for i, l := range c.Gate.AccessLinks {
		if strings.TrimSpace(l.URL) == "" {
			return fmt.Errorf("gate.access_links[%d].url is empty", i)
		}
	}
	return nil
}

// ChannelHandles returns the ordered channel requirement set.
func (c *Config) ChannelHandles() []string {
	out := make([]string, 0, len(c.Gate.Channels))
	for _, ch := range c.Gate.Channels {
		out = append(out, ch.Handle)
	}
	return out
}
