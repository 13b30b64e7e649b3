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
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	gitignore "github.com/sabhiram/go-gitignore"
)

// ignoredDirNames are never watched regardless of gitignore rules
var ignoredDirNames = map[string]bool{
	".git":         true,
	"node_modules": true,
	"dist":         true,
	".cache":       true,
}

// fileWatcher implements FileWatcher with debounced fsnotify events
type fileWatcher struct {
	watcher        *fsnotify.Watcher
	events         chan FileEvent
	debounceWindow time.Duration
	pendingFiles   map[string]bool
	debounceTimer  *time.Timer
	ignore         *gitignore.GitIgnore
	mu             sync.Mutex
	logger         Logger
	done           chan struct{}
	closeOnce      sync.Once
}

// newFileWatcher creates a debounced watcher. When the watched root
// carries a .gitignore, its rules suppress events.
func newFileWatcher(root string, debounceWindow time.Duration, logger Logger) (FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	var ignore *gitignore.GitIgnore
	if matcher, err := gitignore.CompileIgnoreFile(filepath.Join(root, ".gitignore")); err == nil {
		ignore = matcher
	}

	fw := &fileWatcher{
		watcher:        watcher,
		events:         make(chan FileEvent, 100),
		debounceWindow: debounceWindow,
		pendingFiles:   make(map[string]bool),
		ignore:         ignore,
		logger:         logger,
		done:           make(chan struct{}),
	}

	go fw.processEvents()
	return fw, nil
}

// Watch adds a path to watch, recursively for directories
func (fw *fileWatcher) Watch(path string) error {
	if err := fw.watcher.Add(path); err != nil {
		return err
	}
	return filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() || p == path {
			return nil
		}
		if ignoredDirNames[filepath.Base(p)] {
			return filepath.SkipDir
		}
		if fw.ignore != nil && fw.ignore.MatchesPath(p) {
			return filepath.SkipDir
		}
		return fw.watcher.Add(p)
	})
}

func (fw *fileWatcher) Events() <-chan FileEvent {
	return fw.events
}

func (fw *fileWatcher) Close() error {
	var err error
	fw.closeOnce.Do(func() {
		close(fw.done)
		err = fw.watcher.Close()
	})
	return err
}

func (fw *fileWatcher) processEvents() {
	for {
		select {
		case <-fw.done:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleEvent(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warning("watch error: %v", err)
		}
	}
}

func (fw *fileWatcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if fw.ignore != nil && fw.ignore.MatchesPath(event.Name) {
		return
	}
	// new directories join the watch set
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !ignoredDirNames[filepath.Base(event.Name)] {
				_ = fw.watcher.Add(event.Name)
			}
			return
		}
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.pendingFiles[event.Name] = true
	if fw.debounceTimer != nil {
		fw.debounceTimer.Stop()
	}
	fw.debounceTimer = time.AfterFunc(fw.debounceWindow, fw.flush)
}

// flush drains the pending set into one batched event
func (fw *fileWatcher) flush() {
	fw.mu.Lock()
	paths := make([]string, 0, len(fw.pendingFiles))
	for p := range fw.pendingFiles {
		paths = append(paths, p)
	}
	fw.pendingFiles = make(map[string]bool)
	fw.mu.Unlock()

	if len(paths) == 0 {
		return
	}
	select {
	case fw.events <- FileEvent{Paths: paths}:
	case <-fw.done:
	}
}
