// ABOUTME: Watches core and plugin source trees and redeploys once changes settle.
// ABOUTME: Uses fsnotify with a debounce window; changes under excluded paths are ignored.

package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the trees must stay quiet before a redeploy.
const DefaultDebounce = 500 * time.Millisecond

// Config selects what to watch.
type Config struct {
	Roots []string
	// Exclude lists directories whose changes never trigger a redeploy,
	// typically the synthesized output tree.
	Exclude  []string
	Debounce time.Duration
}

// RedeployFunc is called after changes settle.
type RedeployFunc func(ctx context.Context) error

// Watcher triggers redeploys on source changes.
type Watcher struct {
	cfg      Config
	fsw      *fsnotify.Watcher
	redeploy RedeployFunc

	mu      sync.Mutex
	pending []string
}

// New creates a watcher. Call Run to start it.
func New(cfg Config, redeploy RedeployFunc) (*Watcher, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	for i, p := range cfg.Exclude {
		cfg.Exclude[i] = filepath.Clean(p)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{cfg: cfg, fsw: fsw, redeploy: redeploy}, nil
}

// Run watches until ctx is cancelled. The fsnotify watcher is closed on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	for _, root := range w.cfg.Roots {
		if err := w.addRecursive(root); err != nil {
			return err
		}
	}
	log.Printf("Watching %s (debounce %s)", strings.Join(w.cfg.Roots, ", "), w.cfg.Debounce)

	timer := time.NewTimer(w.cfg.Debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.handle(event) {
				timer.Reset(w.cfg.Debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			log.Printf("Warning: file watcher error: %v", err)

		case <-timer.C:
			w.flush(ctx)
		}
	}
}

// handle records a relevant event and reports whether it should (re)arm the debounce timer.
func (w *Watcher) handle(event fsnotify.Event) bool {
	if w.excluded(event.Name) || event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
		return false
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				log.Printf("Warning: failed to watch new directory %s: %v", event.Name, err)
			}
		}
	}

	w.mu.Lock()
	w.pending = append(w.pending, event.Name)
	w.mu.Unlock()
	return true
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	changed := w.pending
	w.pending = nil
	w.mu.Unlock()
	if len(changed) == 0 {
		return
	}

	log.Printf("Detected %d changes, redeploying", len(changed))
	if err := w.redeploy(ctx); err != nil {
		log.Printf("Redeploy failed: %v", err)
	}
}

func (w *Watcher) excluded(path string) bool {
	path = filepath.Clean(path)
	for _, ex := range w.cfg.Exclude {
		if path == ex || strings.HasPrefix(path, ex+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *Watcher) addRecursive(root string) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.excluded(path) || (path != root && strings.HasPrefix(d.Name(), ".")) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			log.Printf("Warning: failed to watch directory %s: %v", path, err)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		log.Printf("Warning: %s does not exist; not watching it", root)
		return nil
	}
	return err
}
