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

package sourcemaps

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/afero"
)

// Fetcher retrieves source-map bytes from a fully-qualified URL. It may
// return empty content; the engine treats any failure as "no source map".
type Fetcher interface {
	Fetch(ctx context.Context, u *url.URL) ([]byte, error)
}

// DefaultFetcher reads file URLs from an afero filesystem and http(s) URLs
// with an HTTP client. Tests inject an in-memory filesystem.
type DefaultFetcher struct {
	FS     afero.Fs
	Client *http.Client
}

// NewDefaultFetcher returns a fetcher over the OS filesystem and a client
// with a bounded timeout.
func NewDefaultFetcher() *DefaultFetcher {
	return &DefaultFetcher{
		FS:     afero.NewOsFs(),
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Fetch retrieves the bytes behind u.
func (f *DefaultFetcher) Fetch(ctx context.Context, u *url.URL) ([]byte, error) {
	switch u.Scheme {
	case "file":
		return afero.ReadFile(f.FS, u.Path)
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		resp, err := f.Client.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("fetching %s: status %d", u, resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	default:
		return nil, fmt.Errorf("unsupported source-map URL scheme %q", u.Scheme)
	}
}
