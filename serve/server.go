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

package serve

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"bennypowers.dev/forge/bundler"
	"bennypowers.dev/forge/pipeline"
	"bennypowers.dev/forge/vfs"
)

//go:embed assets/reload-client.js
var reloadClient string

// sourceGlob selects the files mirrored from the project directory
// into the pipeline's virtual tree.
const sourceGlob = "/**/*.{ts,tsx,js,jsx,css,json}"

const defaultDebounce = 100 * time.Millisecond

// Server is the dev server: one pipeline over a mirrored project tree,
// plus the reload channel.
type Server struct {
	config    Config
	logger    Logger
	pipeline  *pipeline.Pipeline
	local     *vfs.LocalFS
	mem       *vfs.MemoryFS
	wsManager WebSocketManager
	watcher   FileWatcher
	http      *http.Server
	shutdown  chan struct{}
}

// NewServer wires a server for the given configuration.
func NewServer(config Config, logger Logger) (*Server, error) {
	if config.Entry == "" {
		return nil, errors.New("entry point is required")
	}
	if config.Debounce == 0 {
		config.Debounce = defaultDebounce
	}
	local, err := vfs.NewLocalFS(config.ProjectDir)
	if err != nil {
		return nil, fmt.Errorf("project dir: %w", err)
	}
	mem := vfs.NewMemoryFS()
	return &Server{
		config:   config,
		logger:   logger,
		local:    local,
		mem:      mem,
		pipeline: pipeline.New(pipeline.Config{FileSystem: mem, Target: config.Target}),
		shutdown: make(chan struct{}),
	}, nil
}

func (s *Server) buildOptions() bundler.Options {
	return bundler.Options{
		EntryPoint:        s.config.Entry,
		IncludeStyleLayer: s.config.StyleLayer,
		Target:            s.config.Target,
	}
}

// Start mirrors the project, builds once, and serves until the context
// is canceled.
func (s *Server) Start(ctx context.Context) error {
	copied, err := s.local.CopyInto(ctx, s.mem, sourceGlob)
	if err != nil {
		return fmt.Errorf("mirroring project: %w", err)
	}
	s.logger.Info("mirrored %d source files from %s", len(copied), s.local.Root())

	if err := s.pipeline.Init(ctx); err != nil {
		return err
	}
	if _, err := s.pipeline.Build(ctx, s.buildOptions()); err != nil {
		return fmt.Errorf("initial build: %w", err)
	}
	s.logger.Info("initial build ok (entry %s)", s.config.Entry)

	if s.config.Reload {
		s.wsManager = newWebSocketManager(s.logger)
		watcher, err := newFileWatcher(s.local.Root(), s.config.Debounce, s.logger)
		if err != nil {
			return fmt.Errorf("starting watcher: %w", err)
		}
		s.watcher = watcher
		if err := watcher.Watch(s.local.Root()); err != nil {
			return fmt.Errorf("watching %s: %w", s.local.Root(), err)
		}
		go s.watchLoop(ctx)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/bundle.js", s.handleBundle)
	mux.HandleFunc("/api/stats", s.handleStats)
	if s.config.Reload {
		mux.HandleFunc("/ws", s.wsManager.HandleConnection)
	}

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("serving on http://localhost:%d (reload: %t)", s.config.Port, s.config.Reload)
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Stop shuts the server and watcher down.
func (s *Server) Stop() error {
	close(s.shutdown)
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	build, err := s.pipeline.Build(r.Context(), s.buildOptions())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	doc := pipeline.RenderDocument(build, s.config.Entry, "root")
	if s.config.Reload {
		client := "<script>\n" + reloadClient + "</script>\n</body>"
		doc = strings.Replace(doc, "</body>", client, 1)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(doc))
}

func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request) {
	build, err := s.pipeline.Build(r.Context(), s.buildOptions())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	_, _ = w.Write([]byte(build.Bundle))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.pipeline.Stats()); err != nil {
		s.logger.Debug("stats encode failed: %v", err)
	}
}

func (s *Server) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case event, ok := <-s.watcher.Events():
			if !ok {
				return
			}
			s.onChange(ctx, event.Paths)
		}
	}
}

// onChange mirrors changed files into the virtual tree and pushes
// patches (or a full reload) to connected pages.
func (s *Server) onChange(ctx context.Context, hostPaths []string) {
	var patches []*pipeline.Patch
	fullReload := false

	for _, hostPath := range hostPaths {
		virtual, ok := s.local.VirtualPath(hostPath)
		if !ok {
			continue
		}
		exists, err := s.local.Exists(ctx, virtual)
		if err != nil {
			s.logger.Warning("stat %s: %v", virtual, err)
			continue
		}
		if !exists {
			// deletion: drop the mirror and force a reload
			_ = s.mem.Unlink(ctx, virtual)
			s.pipeline.ClearCache()
			fullReload = true
			continue
		}
		data, err := s.local.ReadFile(ctx, virtual)
		if err != nil {
			s.logger.Warning("read %s: %v", virtual, err)
			continue
		}
		if err := s.mem.WriteFile(ctx, virtual, data); err != nil {
			s.logger.Warning("mirror %s: %v", virtual, err)
			continue
		}

		patch, err := s.pipeline.HotReload(ctx, virtual)
		if err != nil {
			s.logger.Error("hot reload %s: %v", virtual, err)
			s.broadcastError("Build failed", err.Error(), virtual)
			continue
		}
		s.logger.Info("hot reloaded %s", virtual)
		patches = append(patches, patch)
	}

	if fullReload {
		s.broadcastReload(hostPaths, "files removed")
		return
	}
	for _, patch := range patches {
		s.broadcastPatch(patch)
	}
	// a patch does not replace a module the page already loaded; a full
	// reload fetches a fresh build with the recompiled modules
	if len(patches) > 0 {
		s.broadcastReload(hostPaths, "modules updated")
	}
}

func (s *Server) broadcast(v any) {
	if s.wsManager == nil {
		return
	}
	msg, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = s.wsManager.Broadcast(msg)
}

func (s *Server) broadcastPatch(patch *pipeline.Patch) {
	s.broadcast(PatchMessage{Type: "patch", ID: patch.ID, Code: patch.Code})
}

func (s *Server) broadcastReload(files []string, reason string) {
	s.broadcast(ReloadMessage{Type: "reload", Reason: reason, Files: files})
}

func (s *Server) broadcastError(title, message, file string) {
	s.broadcast(ErrorMessage{Type: "error", Title: title, Message: message, File: file})
}
