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

// Package sourcemaps loads v3 source maps referenced by parsed scripts and
// answers bidirectional position queries against them. Loading is best
// effort: a script whose map cannot be fetched or parsed stays debuggable
// without original-source projection.
package sourcemaps

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"sync"

	"github.com/inspectd/inspectd/log"
)

// dataSourceMapRe matches the inline data-URL form of a source-map
// reference.
var dataSourceMapRe = regexp.MustCompile(`^data:application/json(?:;charset=[^;]+)?;base64,(.+)$`)

// Engine caches one Map per script for a single session. It is safe for
// concurrent use; loads triggered by the event stream run in their own
// goroutines.
type Engine struct {
	logger  *log.Logger
	fetcher Fetcher

	mu   sync.Mutex
	maps map[string]*Map
}

// NewEngine creates an Engine using the given fetcher for external map
// references.
func NewEngine(logger *log.Logger, fetcher Fetcher) *Engine {
	return &Engine{
		logger:  logger,
		fetcher: fetcher,
		maps:    make(map[string]*Map),
	}
}

// Load resolves, fetches and parses the source-map reference carried by a
// scriptParsed event. Failures are logged at warn and swallowed; the script
// simply ends up without a map.
func (e *Engine) Load(ctx context.Context, scriptID, scriptURL, ref string) {
	m, err := e.load(ctx, scriptURL, ref)
	if err != nil {
		e.logger.Warnf("sourcemap", "script %s: %s", scriptID, err)
		return
	}
	e.mu.Lock()
	e.maps[scriptID] = m
	e.mu.Unlock()
}

func (e *Engine) load(ctx context.Context, scriptURL, ref string) (*Map, error) {
	if match := dataSourceMapRe.FindStringSubmatch(ref); match != nil {
		data, err := base64.StdEncoding.DecodeString(match[1])
		if err != nil {
			return nil, fmt.Errorf("decoding inline source map: %w", err)
		}
		return parseMap("", data)
	}

	resolved, err := resolveRef(scriptURL, ref)
	if err != nil {
		return nil, err
	}
	data, err := e.fetcher.Fetch(ctx, resolved)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", resolved, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty source map at %s", resolved)
	}
	m, err := parseMap(resolved.String(), data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", resolved, err)
	}
	return m, nil
}

// resolveRef turns a source-map reference into a fully-qualified URL,
// joining relative references against the script URL.
func resolveRef(scriptURL, ref string) (*url.URL, error) {
	refURL, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid source-map reference %q: %w", ref, err)
	}
	if refURL.IsAbs() {
		return refURL, nil
	}
	base, err := url.Parse(scriptURL)
	if err != nil || !base.IsAbs() {
		return nil, fmt.Errorf("cannot resolve %q against script URL %q", ref, scriptURL)
	}
	return base.ResolveReference(refURL), nil
}

// Lookup returns the loaded map for a script, if any.
func (e *Engine) Lookup(scriptID string) (*Map, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.maps[scriptID]
	return m, ok
}

// Evict drops the map for a single script.
func (e *Engine) Evict(scriptID string) {
	e.mu.Lock()
	delete(e.maps, scriptID)
	e.mu.Unlock()
}

// Close releases every cached map. Called on session teardown; consumers
// are never shared across sessions.
func (e *Engine) Close() {
	e.mu.Lock()
	e.maps = make(map[string]*Map)
	e.mu.Unlock()
}
