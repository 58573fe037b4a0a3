package agent

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"radiotiker/logger"

	"github.com/fsnotify/fsnotify"
)

// DefaultQuiet is how long the tree must stay unchanged before a rescan.
const DefaultQuiet = 5 * time.Second

// Watcher reports library changes after a quiet period.
type Watcher struct {
	root  string
	quiet time.Duration
	fsw   *fsnotify.Watcher
}

// NewWatcher watches root and every non-hidden directory below it.
func NewWatcher(root string, quiet time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{root: root, quiet: quiet, fsw: fsw}
	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// Run calls onChange once the tree has been quiet for the configured period
// after one or more events. It returns when ctx is done.
func (w *Watcher) Run(ctx context.Context, onChange func()) error {
	defer w.fsw.Close()

	timer := time.NewTimer(w.quiet)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if strings.HasPrefix(filepath.Base(ev.Name), ".") {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(ev.Name); err != nil {
						logger.Warn("failed to watch new directory", logger.String("path", ev.Name), logger.ErrorField(err))
					}
				}
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			timer.Reset(w.quiet)
			pending = true

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("library watcher error", logger.ErrorField(err))

		case <-timer.C:
			if pending {
				pending = false
				onChange()
			}
		}
	}
}
