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

// Package externals tracks the libraries the bundle does not compile
// from source. The registry here decides which names short-circuit the
// module walker and serializes load instructions into the emitted
// bundle; the actual loading happens in the bundle's runtime.
package externals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pterm/pterm"
	"github.com/tidwall/gjson"
	"golang.org/x/mod/semver"

	"bennypowers.dev/forge/vfs"
)

var ErrNotRegistered = errors.New("external library not registered")
var ErrNotLoadable = errors.New("external library has neither a global nor a url")

// Record describes how the runtime can obtain an external library.
// At least one of Global or URL must be set for the name to load.
type Record struct {
	Name         string   `json:"name"`
	Global       string   `json:"global,omitempty"`
	URL          string   `json:"url,omitempty"`
	Version      string   `json:"version,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// Loadable reports whether the runtime has any way to obtain this
// library.
func (r Record) Loadable() bool {
	return r.Global != "" || r.URL != ""
}

// Registry maps bare import names to their load instructions.
// Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]Record)}
}

// Defaults returns a registry seeded with the React runtime set the
// emitted bootstrap depends on.
func Defaults() *Registry {
	r := NewRegistry()
	for _, record := range []Record{
		{Name: "react", Global: "React", URL: "https://esm.sh/react@18.3.1", Version: "18.3.1"},
		{Name: "react-dom", Global: "ReactDOM", URL: "https://esm.sh/react-dom@18.3.1", Version: "18.3.1", Dependencies: []string{"react"}},
		{Name: "react-dom/client", Global: "ReactDOM", URL: "https://esm.sh/react-dom@18.3.1/client", Version: "18.3.1", Dependencies: []string{"react"}},
		{Name: "react/jsx-runtime", Global: "", URL: "https://esm.sh/react@18.3.1/jsx-runtime", Version: "18.3.1", Dependencies: []string{"react"}},
	} {
		r.Register(record)
	}
	return r
}

// Register adds a record. A name registered earlier wins; re-registering
// is a no-op, logged at debug level, so that build options cannot
// clobber the defaults.
func (r *Registry) Register(record Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[record.Name]; exists {
		pterm.Debug.Printfln("external %s already registered, keeping existing record", record.Name)
		return
	}
	if record.Version != "" && !semver.IsValid("v"+record.Version) {
		pterm.Warning.Printfln("external %s has a non-semver version %q", record.Name, record.Version)
	}
	if !record.Loadable() {
		pterm.Warning.Printfln("external %s has no global and no url; require will fail at runtime", record.Name)
	}
	r.records[record.Name] = record
}

// RegisterName registers a bare name with a CDN-derived record when no
// record exists yet. Build options use this for their externals list.
func (r *Registry) RegisterName(name string) {
	r.Register(Record{Name: name, URL: esmShURL(name, "")})
}

// IsExternal reports whether a specifier is a registered external or a
// bare name. Bare names never resolve against the filesystem; an
// unregistered bare name is still external, it just cannot load.
func (r *Registry) IsExternal(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "/") {
		return false
	}
	return true
}

// IsRegistered reports whether a load record exists for the name.
func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[name]
	return ok
}

// Get returns the record for a name.
func (r *Registry) Get(name string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[name]
	if !ok {
		return Record{}, fmt.Errorf("%s: %w", name, ErrNotRegistered)
	}
	return record, nil
}

// Names returns every registered name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.records))
	for name := range r.records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Records returns every record sorted by name, for serialization into
// the bundle's external setup stub.
func (r *Registry) Records() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	records := make([]Record, 0, len(r.records))
	for _, record := range r.records {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records
}

// MarshalRecords serializes the registry for embedding in the bundle.
func (r *Registry) MarshalRecords() (string, error) {
	out, err := json.Marshal(r.Records())
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// esmShURL builds a CDN url for a package scanned out of package.json.
func esmShURL(name, version string) string {
	if version == "" || version == "latest" {
		return "https://esm.sh/" + name
	}
	return fmt.Sprintf("https://esm.sh/%s@%s", name, strings.TrimLeft(version, "^~>=<"))
}

// ScanPackageJSON registers every dependency named in the source tree's
// /package.json as a CDN-loadable external. Already-registered names
// keep their records. A missing package.json is not an error.
func (r *Registry) ScanPackageJSON(ctx context.Context, fs vfs.FileSystem) error {
	exists, err := fs.Exists(ctx, "/package.json")
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	data, err := fs.ReadFile(ctx, "/package.json")
	if err != nil {
		return err
	}
	deps := gjson.GetBytes(data, "dependencies")
	if !deps.Exists() {
		return nil
	}
	deps.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		version := strings.TrimLeft(value.String(), "^~>=<")
		r.Register(Record{
			Name:    name,
			URL:     esmShURL(name, version),
			Version: version,
		})
		return true
	})
	return nil
}
