package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/ashureev/gatekeeper/internal/game"
	"github.com/fsnotify/fsnotify"
)

const defaultReloadDebounce = 200 * time.Millisecond

// RulesWatcher reloads a rules file when it changes on disk.
type RulesWatcher struct {
	path     string
	onChange func(game.Rules)
	logger   *slog.Logger
	debounce time.Duration
}

// NewRulesWatcher creates a watcher for path. onChange receives every rules
// value that loads and validates; broken edits are logged and skipped.
func NewRulesWatcher(path string, onChange func(game.Rules), logger *slog.Logger) *RulesWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RulesWatcher{
		path:     path,
		onChange: onChange,
		logger:   logger,
		debounce: defaultReloadDebounce,
	}
}

// Run watches until ctx is done. The parent directory is watched because
// editors commonly replace files by rename.
func (w *RulesWatcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rules watcher: %w", err)
	}
	defer fsw.Close()

	target := filepath.Clean(w.path)
	if err := fsw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	w.logger.Info("Rules watcher started", "path", target)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Rules watcher shutting down", "reason", ctx.Err())
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Rules watcher error", "error", err)

		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *RulesWatcher) reload() {
	rules, err := game.LoadRules(w.path)
	if err != nil {
		w.logger.Warn("Rules reload rejected, keeping previous rules", "path", w.path, "error", err)
		return
	}
	w.logger.Info("Rules reloaded", "path", w.path, "key_length", rules.KeyLength())
	w.onChange(rules)
}
