// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package templates

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// watchDebounce coalesces bursts of filesystem events (editors write
// multiple times per save).
const watchDebounce = 200 * time.Millisecond

// LoadDir loads every *.yaml/*.yml template file in dir into the
// registry, returning the number loaded. Files that fail to parse are
// logged and skipped so one bad file does not poison the catalog.
func (r *Registry) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading template dir %s: %w", dir, err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !isTemplateFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := r.loadFile(path); err != nil {
			r.logger.Warn("skipping template file",
				zap.String("path", path),
				zap.Error(err))
			continue
		}
		loaded++
	}
	return loaded, nil
}

// loadFile parses one YAML template file and registers it. The template
// name defaults to the file stem.
func (r *Registry) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var tpl Template
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	if tpl.Name == "" {
		tpl.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := r.Register(&tpl); err != nil {
		return err
	}
	r.logger.Info("template loaded",
		zap.String("template", tpl.Name),
		zap.String("mode", string(tpl.Mode)),
		zap.String("path", path))
	return nil
}

// Watch re-loads template files in dir as they change, until ctx is done.
// Events are debounced; removed files are unregistered by file stem.
func (r *Registry) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	go func() {
		defer func() { _ = watcher.Close() }()

		pending := make(map[string]fsnotify.Op)
		var timer *time.Timer
		var timerC <-chan time.Time

		flush := func() {
			for path, op := range pending {
				delete(pending, path)
				if !isTemplateFile(filepath.Base(path)) {
					continue
				}
				if op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
					r.Unregister(name)
					r.logger.Info("template unregistered", zap.String("template", name))
					continue
				}
				if err := r.loadFile(path); err != nil {
					r.logger.Warn("template reload failed",
						zap.String("path", path),
						zap.Error(err))
				}
			}
			timerC = nil
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				pending[event.Name] |= event.Op
				if timer == nil {
					timer = time.NewTimer(watchDebounce)
				} else {
					timer.Reset(watchDebounce)
				}
				timerC = timer.C
			case <-timerC:
				flush()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("template watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func isTemplateFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
