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
	"context"
	"net/url"
	"sort"
	"sync"

	"github.com/nu7hatch/gouuid"

	"github.com/inspectd/inspectd/log"
	"github.com/inspectd/inspectd/sourcemaps"
)

// Registry owns the broker's session table. It admits new targets, issues
// session ids, enforces the concurrent-session cap and removes sessions
// once their transport ends.
type Registry struct {
	ctx      context.Context
	cancelFn context.CancelFunc
	config   Config
	logger   *log.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates a Registry bound to ctx; cancelling ctx tears down
// every session.
func NewRegistry(ctx context.Context, config Config, logger *log.Logger) *Registry {
	rctx, cancel := context.WithCancel(ctx)
	return &Registry{
		ctx:      rctx,
		cancelFn: cancel,
		config:   config,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Connect dials a target, runs the enable handshake and installs the new
// session. The session id in the returned session is the handle for every
// further command.
func (r *Registry) Connect(ctx context.Context, targetURL, name string) (*Session, error) {
	if err := r.admit(targetURL); err != nil {
		return nil, err
	}
	r.mu.Lock()
	atCap := int64(len(r.sessions)) >= r.config.MaxSessions.Int64
	r.mu.Unlock()
	if atCap {
		return nil, NewError(ErrMaxSessionsReached,
			"session limit of %d reached", r.config.MaxSessions.Int64)
	}

	uid, err := uuid.NewV4()
	if err != nil {
		return nil, WrapError(ErrConnectionFailed, err, "generating session id")
	}
	id := uid.String()

	conn, err := NewConnection(r.ctx, targetURL, r.config.CommandTimeoutDuration(), r.logger)
	if err != nil {
		return nil, err
	}

	engine := sourcemaps.NewEngine(r.logger, sourcemaps.NewDefaultFetcher())
	sess := NewSession(r.ctx, conn, engine, id, name, targetURL, r.logger)
	if err := sess.connect(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	r.mu.Lock()
	if int64(len(r.sessions)) >= r.config.MaxSessions.Int64 {
		r.mu.Unlock()
		conn.Close()
		return nil, NewError(ErrMaxSessionsReached,
			"session limit of %d reached", r.config.MaxSessions.Int64)
	}
	r.sessions[id] = sess
	r.mu.Unlock()

	r.reap(sess)
	r.logger.Infof("registry", "session %s connected to %s", id, targetURL)
	return sess, nil
}

// admit validates the target URL against the scheme and host policy.
func (r *Registry) admit(targetURL string) error {
	u, err := url.Parse(targetURL)
	if err != nil {
		return NewError(ErrInvalidParameters, "invalid target URL %q: %s", targetURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return NewError(ErrInvalidParameters,
			"target URL %q: scheme must be ws or wss", targetURL)
	}
	if r.config.AllowRemote.Bool {
		return nil
	}
	if _, ok := r.config.AllowedHostSet()[u.Hostname()]; !ok {
		return NewError(ErrInvalidParameters,
			"target host %q is not in the allow-list and remote targets are disabled", u.Hostname())
	}
	return nil
}

// reap removes the session from the table once it reports closure.
func (r *Registry) reap(sess *Session) {
	ch := make(chan Event, 1)
	sess.Subscribe(r.ctx, []string{EventSessionClosed}, ch)
	go func() {
		select {
		case <-r.ctx.Done():
		case <-ch:
			r.remove(sess.ID())
			r.logger.Infof("registry", "session %s closed", sess.ID())
		}
	}()
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, NewError(ErrSessionNotFound, "no session with id %q", id)
	}
	return sess, nil
}

// List returns a summary of every installed session, oldest first.
func (r *Registry) List() []SessionSummary {
	r.mu.Lock()
	out := make([]SessionSummary, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess.Summary())
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Disconnect closes the session and removes it from the table. The id is
// invalid afterwards; reuse fails with SESSION_NOT_FOUND.
func (r *Registry) Disconnect(id string) error {
	sess, err := r.Get(id)
	if err != nil {
		return err
	}
	sess.Close()
	r.remove(id)
	return nil
}

// Close disconnects every session and shuts the registry down.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
	r.cancelFn()
}
