package reply

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// PromptWatcher reloads a PromptSet when its prompt files change.
type PromptWatcher struct {
	set      *PromptSet
	debounce time.Duration
	onReload func(loaded int)
}

func NewPromptWatcher(set *PromptSet) *PromptWatcher {
	return &PromptWatcher{set: set, debounce: 300 * time.Millisecond}
}

// OnReload registers a callback invoked after every reload.
func (w *PromptWatcher) OnReload(fn func(loaded int)) { w.onReload = fn }

// Run watches the prompt directory until ctx is done. Bursts of events
// within the debounce window cause one reload.
func (w *PromptWatcher) Run(ctx context.Context) error {
	if w.set.Dir() == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("reply: prompt watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.set.Dir()); err != nil {
		return fmt.Errorf("reply: watch %s: %w", w.set.Dir(), err)
	}
	slog.Info("reply: watching prompts", "dir", w.set.Dir())

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isPromptFile(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			slog.Debug("reply: prompt file changed", "file", ev.Name, "op", ev.Op.String())
			timer.Reset(w.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("reply: prompt watcher error", "error", err)

		case <-timer.C:
			n := w.set.Reload()
			slog.Info("reply: prompts reloaded", "from_disk", n)
			if w.onReload != nil {
				w.onReload(n)
			}
		}
	}
}
