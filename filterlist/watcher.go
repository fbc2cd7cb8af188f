package filterlist

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the default delay between a change of a list file and its
// reload.
const DefaultDebounce = 100 * time.Millisecond

// Loader loads the rules of a list, replacing the rules previously loaded from
// the list with the same identifier.
type Loader interface {
	LoadList(l RuleList) (err error)
}

// WatcherConfig is the configuration structure for a *Watcher.
type WatcherConfig struct {
	// Logger is used to log reloads and errors.  If nil, the messages are
	// discarded.
	Logger *slog.Logger

	// Loader receives the reloaded lists.  It must not be nil.
	Loader Loader

	// Lists are the watched file lists.
	Lists []*FileRuleList

	// Debounce is the delay between the last change of a file and its reload.
	// If not positive, [DefaultDebounce] is used.
	Debounce time.Duration
}

// Watcher reloads file rule lists when their files change.
type Watcher struct {
	logger   *slog.Logger
	loader   Loader
	watcher  *fsnotify.Watcher
	lists    map[string]*FileRuleList
	debounce time.Duration
}

// NewWatcher returns a new *Watcher watching the directories of the lists in
// c.  c must not be nil.
func NewWatcher(c *WatcherConfig) (w *Watcher, err error) {
	if c.Loader == nil {
		return nil, fmt.Errorf("watcher: loader: %w", errors.ErrNoValue)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: creating: %w", err)
	}

	w = &Watcher{
		logger:   c.Logger,
		loader:   c.Loader,
		watcher:  fw,
		lists:    make(map[string]*FileRuleList, len(c.Lists)),
		debounce: c.Debounce,
	}

	if w.logger == nil {
		w.logger = slogutil.NewDiscardLogger()
	}

	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}

	// Watch the directories to notice the files being replaced.
	dirs := map[string]struct{}{}
	for _, l := range c.Lists {
		p := filepath.Clean(l.Path())
		w.lists[p] = l

		dir := filepath.Dir(p)
		if _, ok := dirs[dir]; ok {
			continue
		}

		dirs[dir] = struct{}{}
		err = fw.Add(dir)
		if err != nil {
			return nil, errors.WithDeferred(
				fmt.Errorf("watcher: adding %q: %w", dir, err),
				fw.Close(),
			)
		}
	}

	return w, nil
}

// Run handles the file events until ctx is canceled or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) (err error) {
	pending := map[string]struct{}{}

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}

			if !w.isRelevant(ev) {
				continue
			}

			w.logger.DebugContext(ctx, "list file changed", "path", ev.Name, "op", ev.Op)

			pending[filepath.Clean(ev.Name)] = struct{}{}
			timer.Reset(w.debounce)
		case <-timer.C:
			for p := range pending {
				w.reload(ctx, w.lists[p])
				delete(pending, p)
			}
		case werr, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}

			w.logger.ErrorContext(ctx, "watching lists", slogutil.KeyError, werr)
		}
	}
}

// isRelevant returns true if ev changes the contents of a watched list.
func (w *Watcher) isRelevant(ev fsnotify.Event) (ok bool) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return false
	}

	_, ok = w.lists[filepath.Clean(ev.Name)]

	return ok
}

// reload reopens l and passes it to the loader.
func (w *Watcher) reload(ctx context.Context, l *FileRuleList) {
	err := l.Reopen()
	if err == nil {
		err = w.loader.LoadList(l)
	}

	if err != nil {
		w.logger.ErrorContext(
			ctx,
			"reloading list",
			"id", l.GetID(),
			"path", l.Path(),
			slogutil.KeyError, err,
		)

		return
	}

	w.logger.InfoContext(ctx, "reloaded list", "id", l.GetID(), "path", l.Path())
}

// Close stops watching the files.  Run returns after Close is called.
func (w *Watcher) Close() (err error) {
	return w.watcher.Close()
}
