/*
Copyright © 2025 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package externals

import (
	"context"
	"net/http"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/pterm/pterm"
	"golang.org/x/sync/errgroup"
)

// preflightConcurrency bounds parallel CDN probes.
const preflightConcurrency = 4

var preflightClient = &http.Client{
	Transport: httpcache.NewMemoryCacheTransport(),
	Timeout:   10 * time.Second,
}

// Preflight probes the CDN url of each named external so a build can
// warn about unreachable libraries before the browser does. Individual
// failures are logged, never fatal; names without a url are skipped.
func (r *Registry) Preflight(ctx context.Context, names []string) {
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(preflightConcurrency)
	for _, name := range names {
		record, err := r.Get(name)
		if err != nil || record.URL == "" {
			continue
		}
		group.Go(func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodHead, record.URL, nil)
			if err != nil {
				pterm.Warning.Printfln("external %s: preflight request failed: %v", record.Name, err)
				return nil
			}
			res, err := preflightClient.Do(req)
			if err != nil {
				pterm.Warning.Printfln("external %s: %s unreachable: %v", record.Name, record.URL, err)
				return nil
			}
			defer func() { _ = res.Body.Close() }()
			if res.StatusCode >= 400 {
				pterm.Warning.Printfln("external %s: %s returned %d", record.Name, record.URL, res.StatusCode)
			} else {
				pterm.Debug.Printfln("external %s: %s ok", record.Name, record.URL)
			}
			return nil
		})
	}
	// errors are never returned from the probes
	_ = group.Wait()
}
