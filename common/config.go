/*
 *
 * inspectd - a debugging broker for JavaScript runtime inspectors
 * Copyright (C) 2026 The inspectd Authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

import (
	"os"
	"strings"
	"time"

	"github.com/mstoykov/envconfig"
	"gopkg.in/guregu/null.v3"
)

// Broker defaults.
const (
	DefaultCommandTimeout = 5 * time.Second
	DefaultMaxSessions    = 10
)

// DefaultAllowedHosts is the connect-time host allow-list applied when the
// config does not override it.
var DefaultAllowedHosts = []string{"localhost", "127.0.0.1", "::1"}

// Config holds the broker options.
type Config struct {
	// Comma-separated host allow-list for target WebSocket URLs.
	AllowedHosts null.String `json:"allowedHosts" envconfig:"INSPECTD_ALLOWED_HOSTS"`

	// Permit hosts outside the allow-list. Off by default.
	AllowRemote null.Bool `json:"allowRemote" envconfig:"INSPECTD_ALLOW_REMOTE"`

	// Maximum number of concurrently connected sessions.
	MaxSessions null.Int `json:"maxSessions" envconfig:"INSPECTD_MAX_SESSIONS"`

	// Per-command deadline, as a Go duration string.
	CommandTimeout null.String `json:"commandTimeout" envconfig:"INSPECTD_COMMAND_TIMEOUT"`

	LogLevel          null.String `json:"logLevel" envconfig:"INSPECTD_LOG_LEVEL"`
	LogCategoryFilter null.String `json:"logCategoryFilter" envconfig:"INSPECTD_LOG_CATEGORY_FILTER"`
}

// NewConfig creates a new Config instance with default values for some fields.
func NewConfig() Config {
	return Config{
		AllowedHosts:   null.NewString(strings.Join(DefaultAllowedHosts, ","), false),
		AllowRemote:    null.NewBool(false, false),
		MaxSessions:    null.NewInt(DefaultMaxSessions, false),
		CommandTimeout: null.NewString(DefaultCommandTimeout.String(), false),
		LogLevel:       null.NewString("info", false),
	}
}

// Apply saves non-zero config values from the passed config in the receiver.
func (c Config) Apply(cfg Config) Config {
	if cfg.AllowedHosts.Valid && cfg.AllowedHosts.String != "" {
		c.AllowedHosts = cfg.AllowedHosts
	}
	if cfg.AllowRemote.Valid {
		c.AllowRemote = cfg.AllowRemote
	}
	if cfg.MaxSessions.Valid && cfg.MaxSessions.Int64 > 0 {
		c.MaxSessions = cfg.MaxSessions
	}
	if cfg.CommandTimeout.Valid && cfg.CommandTimeout.String != "" {
		c.CommandTimeout = cfg.CommandTimeout
	}
	if cfg.LogLevel.Valid && cfg.LogLevel.String != "" {
		c.LogLevel = cfg.LogLevel
	}
	if cfg.LogCategoryFilter.Valid && cfg.LogCategoryFilter.String != "" {
		c.LogCategoryFilter = cfg.LogCategoryFilter
	}
	return c
}

// ConfigFromEnv builds the effective config: defaults overridden by the
// INSPECTD_* environment.
func ConfigFromEnv() (Config, error) {
	var envConfig Config
	if err := envconfig.Process("", &envConfig, func(key string) (string, bool) {
		return os.LookupEnv(key)
	}); err != nil {
		return Config{}, err
	}
	return NewConfig().Apply(envConfig), nil
}

// CommandTimeoutDuration parses the configured per-command deadline, falling
// back to the default on any malformed value.
func (c Config) CommandTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.CommandTimeout.String)
	if err != nil || d <= 0 {
		return DefaultCommandTimeout
	}
	return d
}

// AllowedHostSet returns the allow-list as a set of hostnames.
func (c Config) AllowedHostSet() map[string]struct{} {
	set := make(map[string]struct{})
	for _, h := range strings.Split(c.AllowedHosts.String, ",") {
		h = strings.TrimSpace(h)
		if h != "" {
			set[h] = struct{}{}
		}
	}
	return set
}
