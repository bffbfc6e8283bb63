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

package common_test

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/inspectd/inspectd/common"
	"github.com/inspectd/inspectd/log"
	"github.com/inspectd/inspectd/tests/ws"
)

func newRegistry(t *testing.T, cfg common.Config) *common.Registry {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	reg := common.NewRegistry(ctx, cfg, log.NewNullLogger())
	t.Cleanup(func() {
		reg.Close()
		cancel()
	})
	return reg
}

func TestRegistryConnectAndList(t *testing.T) {
	server := ws.NewServer(t,
		ws.WithInspectorHandler("/inspector", ws.InspectorDefaultHandler, nil))
	reg := newRegistry(t, common.NewConfig())
	ctx := context.Background()

	first, err := reg.Connect(ctx, server.URL("/inspector"), "first")
	require.NoError(t, err)
	second, err := reg.Connect(ctx, server.URL("/inspector"), "second")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())

	got, err := reg.Get(first.ID())
	require.NoError(t, err)
	assert.Same(t, first, got)

	summaries := reg.List()
	require.Len(t, summaries, 2)
	assert.Equal(t, "first", summaries[0].Name)
	assert.Equal(t, "second", summaries[1].Name)
	assert.Equal(t, common.StateConnected, summaries[0].State)
}

func TestRegistryAdmission(t *testing.T) {
	reg := newRegistry(t, common.NewConfig())
	ctx := context.Background()

	_, err := reg.Connect(ctx, "http://127.0.0.1:9229/abc", "")
	assert.Equal(t, common.ErrInvalidParameters, common.KindOf(err))

	_, err = reg.Connect(ctx, "ws://debug.example.com:9229/abc", "")
	assert.Equal(t, common.ErrInvalidParameters, common.KindOf(err))
	assert.Contains(t, err.Error(), "allow-list")
}

func TestRegistryAllowRemote(t *testing.T) {
	cfg := common.NewConfig().Apply(common.Config{
		AllowedHosts: null.StringFrom("nothing.invalid"),
		AllowRemote:  null.BoolFrom(true),
	})
	server := ws.NewServer(t,
		ws.WithInspectorHandler("/inspector", ws.InspectorDefaultHandler, nil))
	reg := newRegistry(t, cfg)

	// With remote targets enabled the allow-list no longer applies.
	_, err := reg.Connect(context.Background(), server.URL("/inspector"), "")
	require.NoError(t, err)
}

func TestRegistryMaxSessions(t *testing.T) {
	cfg := common.NewConfig().Apply(common.Config{MaxSessions: null.IntFrom(1)})
	server := ws.NewServer(t,
		ws.WithInspectorHandler("/inspector", ws.InspectorDefaultHandler, nil))
	reg := newRegistry(t, cfg)
	ctx := context.Background()

	sess, err := reg.Connect(ctx, server.URL("/inspector"), "")
	require.NoError(t, err)

	_, err = reg.Connect(ctx, server.URL("/inspector"), "")
	assert.Equal(t, common.ErrMaxSessionsReached, common.KindOf(err))

	// Disconnecting frees the slot.
	require.NoError(t, reg.Disconnect(sess.ID()))
	_, err = reg.Connect(ctx, server.URL("/inspector"), "")
	require.NoError(t, err)
}

func TestRegistryDisconnect(t *testing.T) {
	server := ws.NewServer(t,
		ws.WithInspectorHandler("/inspector", ws.InspectorDefaultHandler, nil))
	reg := newRegistry(t, common.NewConfig())
	ctx := context.Background()

	sess, err := reg.Connect(ctx, server.URL("/inspector"), "")
	require.NoError(t, err)
	id := sess.ID()

	require.NoError(t, reg.Disconnect(id))

	_, err = reg.Get(id)
	assert.Equal(t, common.ErrSessionNotFound, common.KindOf(err))
	err = reg.Disconnect(id)
	assert.Equal(t, common.ErrSessionNotFound, common.KindOf(err))

	require.Eventually(t, func() bool {
		return sess.State() == common.StateDisconnected
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRegistryTargetInitiatedClose(t *testing.T) {
	// The target drops the socket when told to, with no command in flight:
	// closure must propagate to the session on the event path alone.
	dropNow := make(chan struct{})
	handler := func(_ *websocket.Conn, msg *common.Message, writeCh chan common.Message, done chan struct{}) {
		if msg.Method == "" {
			return
		}
		writeCh <- common.Message{ID: msg.ID, Result: easyjson.RawMessage([]byte("{}"))}
		if msg.Method == common.MethodRuntimeEnable {
			go func() {
				<-dropNow
				close(done)
			}()
		}
	}
	server := ws.NewServer(t, ws.WithInspectorHandler("/inspector", handler, nil))
	reg := newRegistry(t, common.NewConfig())
	ctx := context.Background()

	sess, err := reg.Connect(ctx, server.URL("/inspector"), "")
	require.NoError(t, err)
	id := sess.ID()

	evCh := make(chan common.Event, 1)
	sess.Subscribe(ctx, []string{common.EventSessionClosed}, evCh)

	// Kill the transport from the target side while the broker is idle.
	close(dropNow)

	waitEvent(t, evCh, common.EventSessionClosed)
	assert.Equal(t, common.StateDisconnected, sess.State())

	// The reaper removes the dead session; its id is gone for good.
	require.Eventually(t, func() bool {
		_, err := reg.Get(id)
		return common.KindOf(err) == common.ErrSessionNotFound
	}, 5*time.Second, 10*time.Millisecond)

	// Commands against the dead session fail with the state error.
	_, err = sess.SetBreakpoint(ctx, testScriptURL, 1, nil, "")
	assert.Equal(t, common.ErrSessionInvalidState, common.KindOf(err))
}
