package mail

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/beads-village/village/internal/session"
)

const (
	watchDebounce = 100 * time.Millisecond
	// pollInterval drives delivery when fsnotify is unavailable.
	pollInterval = 2 * time.Second
	// resyncInterval is the safety poll while fsnotify is active; a VCS
	// pull can swap directories out from under the watcher.
	resyncInterval = 30 * time.Second
)

// Watch calls fn with each batch of newly visible unread messages until ctx
// is done. Nothing is marked read; fn decides what to consume. Watch falls
// back to polling when the scope directories cannot be watched.
func (r *Router) Watch(ctx context.Context, reader session.Identity, o InboxOptions, fn func([]Message)) error {
	o.UnreadOnly = true
	o.Limit = MaxInboxLimit

	seen := map[string]bool{}
	deliver := func() error {
		msgs, err := r.Peek(reader, o)
		if err != nil {
			return err
		}
		var fresh []Message
		for _, m := range msgs {
			if !seen[m.ID] {
				seen[m.ID] = true
				fresh = append(fresh, m)
			}
		}
		if len(fresh) > 0 {
			fn(fresh)
		}
		return nil
	}

	dirs := []string{
		r.store(reader, ScopeLocal).Root(),
		r.store(reader, ScopeTeam).Root(),
	}
	if o.IncludeGlobal {
		dirs = append(dirs, r.store(reader, ScopeGlobal).Root())
	}

	watcher := r.initWatcher(dirs)
	interval := pollInterval
	var events <-chan fsnotify.Event
	var errs <-chan error
	if watcher != nil {
		defer watcher.Close() //nolint:errcheck // best effort on shutdown
		events, errs = watcher.Events, watcher.Errors
		interval = resyncInterval
	}

	// Deliver what is already there only once the watcher is in place, so
	// nothing written in between is missed.
	if err := deliver(); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			debounce.Reset(watchDebounce)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			r.logger.Warn("mail watcher error", "err", err)
		case <-debounce.C:
			if err := deliver(); err != nil {
				return err
			}
		case <-ticker.C:
			if err := deliver(); err != nil {
				return err
			}
		}
	}
}

// initWatcher watches every dir, creating missing ones. It returns nil when
// fsnotify cannot be used, in which case the caller polls.
func (r *Router) initWatcher(dirs []string) *fsnotify.Watcher {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		r.logger.Warn("fsnotify unavailable, polling", "err", err)
		return nil
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			_ = w.Close()
			r.logger.Warn("cannot create mail dir, polling", "dir", dir, "err", err)
			return nil
		}
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			r.logger.Warn("cannot watch mail dir, polling", "dir", dir, "err", err)
			return nil
		}
	}
	return w
}
