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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"
)

func TestConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	assert.EqualValues(t, DefaultMaxSessions, cfg.MaxSessions.Int64)
	assert.False(t, cfg.AllowRemote.Bool)
	assert.Equal(t, DefaultCommandTimeout, cfg.CommandTimeoutDuration())

	hosts := cfg.AllowedHostSet()
	assert.Contains(t, hosts, "localhost")
	assert.Contains(t, hosts, "127.0.0.1")
	assert.Contains(t, hosts, "::1")
}

func TestConfigApply(t *testing.T) {
	cfg := NewConfig().Apply(Config{
		MaxSessions:    null.IntFrom(3),
		AllowRemote:    null.BoolFrom(true),
		CommandTimeout: null.StringFrom("250ms"),
	})
	assert.EqualValues(t, 3, cfg.MaxSessions.Int64)
	assert.True(t, cfg.AllowRemote.Bool)
	assert.Equal(t, 250*time.Millisecond, cfg.CommandTimeoutDuration())

	// Invalid or unset values never override the defaults.
	cfg = NewConfig().Apply(Config{MaxSessions: null.IntFrom(0)})
	assert.EqualValues(t, DefaultMaxSessions, cfg.MaxSessions.Int64)
	cfg = NewConfig().Apply(Config{CommandTimeout: null.StringFrom("soon")})
	assert.Equal(t, DefaultCommandTimeout, cfg.CommandTimeoutDuration())
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("INSPECTD_MAX_SESSIONS", "2")
	t.Setenv("INSPECTD_ALLOW_REMOTE", "true")
	t.Setenv("INSPECTD_ALLOWED_HOSTS", "localhost, 10.0.0.5")
	t.Setenv("INSPECTD_COMMAND_TIMEOUT", "10s")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.EqualValues(t, 2, cfg.MaxSessions.Int64)
	assert.True(t, cfg.AllowRemote.Bool)
	assert.Equal(t, 10*time.Second, cfg.CommandTimeoutDuration())

	hosts := cfg.AllowedHostSet()
	assert.Contains(t, hosts, "10.0.0.5")
	assert.NotContains(t, hosts, "127.0.0.1")
}
