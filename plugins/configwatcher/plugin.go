// Package configwatcher reloads suntrack settings when the config file
// changes, so link timing can be tuned on a running serve without dropping
// the bus.
package configwatcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/MikeHennessy/suntrack/pkg/log"
)

// ReloadFunc re-reads the config file and applies what can change at runtime.
type ReloadFunc func(ctx context.Context) error

// Plugin watches a single config file.
type Plugin struct {
	mu sync.Mutex

	path          string
	reload        ReloadFunc
	debounceDelay time.Duration
	logger        log.Logger

	debounce *time.Timer
	wg       sync.WaitGroup
	reloads  int
}

// Config holds configuration options for the config watcher plugin.
type Config struct {
	// DebounceDelay is the delay to wait after a file change before reloading.
	// Editors often write a file in several steps.
	// Default: 100 milliseconds
	DebounceDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{DebounceDelay: 100 * time.Millisecond}
}

// New creates a watcher for path that calls reload after changes settle.
func New(path string, reload ReloadFunc, opts ...Option) *Plugin {
	p := &Plugin{
		path:          filepath.Clean(path),
		reload:        reload,
		debounceDelay: DefaultConfig().DebounceDelay,
		logger:        log.NoopLogger{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "configwatcher"
}

// Reloads returns the number of completed reload attempts.
func (p *Plugin) Reloads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloads
}

// Run watches until ctx is done. The directory is watched rather than the
// file so that editors replacing the file by rename are still seen.
func (p *Plugin) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	p.logger.Info("config watcher started", log.String("path", p.path))

	defer p.wg.Wait()
	defer p.stopDebounce()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			p.debounceReload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				p.debounceReload(ctx)
			}
			p.logger.Warn("config watcher error", log.Err(err))
		}
	}
}

func (p *Plugin) debounceReload(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.debounce != nil && p.debounce.Stop() {
		p.wg.Done()
	}
	p.wg.Add(1)
	p.debounce = time.AfterFunc(p.debounceDelay, func() {
		defer p.wg.Done()
		p.runReload(ctx)
	})
}

func (p *Plugin) stopDebounce() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.debounce != nil && p.debounce.Stop() {
		p.wg.Done()
	}
}

func (p *Plugin) runReload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	err := p.reload(ctx)

	p.mu.Lock()
	p.reloads++
	p.mu.Unlock()

	if err != nil {
		p.logger.Error("config reload failed, keeping previous settings",
			log.String("path", p.path),
			log.Err(err),
		)
		return
	}
	p.logger.Info("config reloaded", log.String("path", p.path))
}
