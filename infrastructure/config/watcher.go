package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	domainsvc "esence/domain/services"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const debounceDelay = 500 * time.Millisecond

// RulesWatcher reloads the autonomy rules whenever the config file changes.
// The directory is watched rather than the file so editors that replace the
// file on save keep triggering reloads.
type RulesWatcher struct {
	path      string
	logger    *zap.Logger
	watcher   *fsnotify.Watcher
	debounce  time.Duration
	mu        sync.Mutex
	callbacks []func([]domainsvc.DomainRule)
}

// NewRulesWatcher starts watching path
func NewRulesWatcher(path string, logger *zap.Logger) (*RulesWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(abs)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	return &RulesWatcher{
		path:     abs,
		logger:   logger.Named("config"),
		watcher:  fsWatcher,
		debounce: debounceDelay,
	}, nil
}

// OnChange registers a callback for reloaded rules
func (w *RulesWatcher) OnChange(fn func([]domainsvc.DomainRule)) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, fn)
	w.mu.Unlock()
}

// Run watches until ctx is cancelled and closes the underlying watcher
func (w *RulesWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	// Debounce timer to avoid multiple rapid reloads
	var debounce *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(w.debounce)
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(w.debounce)
			}
			fire = debounce.C

		case <-fire:
			fire = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("file watcher error", zap.Error(err))
		}
	}
}

func (w *RulesWatcher) reload() {
	rules, err := LoadRules(w.path)
	if err != nil {
		w.logger.Error("invalid autonomy rules after change, keeping previous", zap.Error(err))
		return
	}
	w.mu.Lock()
	callbacks := append([]func([]domainsvc.DomainRule){}, w.callbacks...)
	w.mu.Unlock()

	for _, fn := range callbacks {
		fn(rules)
	}
	w.logger.Info("autonomy rules reloaded", zap.Int("rules", len(rules)))
}
