package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ronpik/mono-deps-analyzer/pkg/requirements"
)

// watchDebounce coalesces bursts of editor writes into one run.
const watchDebounce = 300 * time.Millisecond

const sourceExt = ".py"

const sourceOps = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

type runFunc func(ctx context.Context) (*requirements.Report, error)

// watch runs once, then re-runs whenever a Python file changes in a
// directory holding an entry point or a visited file. It returns when ctx
// is done. Failures after the first run are logged and the loop continues.
func watch(ctx context.Context, logger *slog.Logger, entries []string, run runFunc) error {
	report, err := run(ctx)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	watched := make(map[string]bool)
	addWatches(watcher, logger, watched, watchDirs(entries, report))

	logger.Info("watching for changes", "dirs", len(watched))

	timer := time.NewTimer(watchDebounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if event.Has(fsnotify.Create) {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					addWatches(watcher, logger, watched, []string{event.Name})
				}
			}

			if event.Op&sourceOps != 0 && filepath.Ext(event.Name) == sourceExt {
				logger.Debug("source changed", "file", event.Name, "op", event.Op.String())
				timer.Reset(watchDebounce)
			}

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("watcher error", "error", watchErr)

		case <-timer.C:
			report, err = run(ctx)
			if err != nil {
				logger.Error("analysis failed", "error", err)

				continue
			}

			addWatches(watcher, logger, watched, watchDirs(entries, report))
		}
	}
}

// watchDirs returns the directories of the entry points and every visited
// file.
func watchDirs(entries []string, report *requirements.Report) []string {
	dirs := make([]string, 0, len(entries)+len(report.Visited))

	for _, entry := range entries {
		if abs, err := filepath.Abs(entry); err == nil {
			dirs = append(dirs, filepath.Dir(abs))
		}
	}

	for _, file := range report.Visited {
		dirs = append(dirs, filepath.Dir(file))
	}

	return dirs
}

func addWatches(watcher *fsnotify.Watcher, logger *slog.Logger, watched map[string]bool, dirs []string) {
	for _, dir := range dirs {
		if watched[dir] {
			continue
		}

		if err := watcher.Add(dir); err != nil {
			logger.Warn("cannot watch directory", "dir", dir, "error", err)

			continue
		}

		watched[dir] = true
	}
}
