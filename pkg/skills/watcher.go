package skills

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jingkaihe/playbook/pkg/logger"
	"github.com/pkg/errors"
)

// Refresh re-discovers local skills and swaps them into r. Load failures of
// individual skills are logged and returned, but the skills that did load are
// installed regardless.
func Refresh(ctx context.Context, d *Discovery, r *Registry) error {
	entries, err := d.Discover(ctx)
	r.ReplaceLocal(ctx, entries)
	if err != nil {
		logger.G(ctx).WithError(err).Warn("some local skills failed to load")
	}
	return err
}

// Watcher refreshes a registry when files under the skill directories change.
type Watcher struct {
	discovery *Discovery
	registry  *Registry
	debounce  time.Duration
	onReload  func(error)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the watcher waits for changes to settle.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithReloadHook is called after every reload.
func WithReloadHook(f func(error)) WatcherOption {
	return func(w *Watcher) { w.onReload = f }
}

// NewWatcher creates a watcher over the discovery's directories.
func NewWatcher(d *Discovery, r *Registry, opts ...WatcherOption) *Watcher {
	w := &Watcher{discovery: d, registry: r, debounce: 300 * time.Millisecond}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// addDirs watches every skill directory and its immediate subdirectories. A
// skill directory that does not exist is covered by watching its closest
// existing ancestor until it is created.
func (w *Watcher) addDirs(ctx context.Context, fw *fsnotify.Watcher) {
	for _, dir := range w.discovery.Dirs() {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if parent := existingParent(dir); parent != "" {
				if err := fw.Add(parent); err != nil {
					logger.G(ctx).WithError(err).WithField("dir", parent).Debug("failed to watch skill directory parent")
				}
			}
			continue
		}
		if err := fw.Add(dir); err != nil {
			if !os.IsNotExist(err) {
				logger.G(ctx).WithError(err).WithField("dir", dir).Debug("failed to watch skill directory")
			}
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				_ = fw.Add(filepath.Join(dir, e.Name()))
			}
		}
	}
}

func existingParent(dir string) string {
	for p := filepath.Dir(dir); ; p = filepath.Dir(p) {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p
		}
		if filepath.Dir(p) == p {
			return ""
		}
	}
}

// relevant reports whether a change at path lies inside a skill directory or
// creates one of its ancestors.
func (w *Watcher) relevant(path string) bool {
	for _, dir := range w.discovery.Dirs() {
		if within(dir, path) || within(path, dir) {
			return true
		}
	}
	return false
}

func within(parent, path string) bool {
	rel, err := filepath.Rel(parent, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Run blocks until ctx is done, reloading after each burst of changes.
// Skill directories created after Run starts are watched once they appear.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create file watcher")
	}
	defer fw.Close()

	w.addDirs(ctx, fw)

	fire := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Chmod) == 0 {
				continue
			}
			if !w.relevant(event.Name) {
				continue
			}
			logger.G(ctx).WithField("path", event.Name).WithField("op", event.Op.String()).Debug("skill directory changed")
			if timer == nil {
				timer = time.AfterFunc(w.debounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(w.debounce)
			}
		case <-fire:
			err := Refresh(ctx, w.discovery, w.registry)
			w.addDirs(ctx, fw)
			if w.onReload != nil {
				w.onReload(err)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.G(ctx).WithError(err).Warn("skill watcher error")
		}
	}
}
