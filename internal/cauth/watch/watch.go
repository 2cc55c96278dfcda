// Package watch implements `cauth refresh --watch`: it re-runs a refresh
// whenever the account snapshot or a tracked Claude credential file
// changes on disk, adapted from the teacher's internal/watcher package
// (debounce idiom) and internal/discovery's fsnotify wiring.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agent-island/cauth/internal/cauth/store"
)

// Watcher re-triggers onChange whenever accounts.json or any tracked
// Claude account's credential file changes, debounced so the burst of
// writes a refresh itself produces doesn't trigger a second run.
type Watcher struct {
	snapshotPath string
	fsw          *fsnotify.Watcher
	debouncer    *debouncer
	watched      map[string]bool
}

// New builds a Watcher over snapshotPath's directory and the credential
// directory of every Claude account currently in the snapshot.
func New(snapshotPath string, delay time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		snapshotPath: snapshotPath,
		fsw:          fsw,
		debouncer:    newDebouncer(delay),
		watched:      make(map[string]bool),
	}
	if err := w.addDir(filepath.Dir(snapshotPath)); err != nil {
		fsw.Close()
		return nil, err
	}
	w.addAccountDirs()
	return w, nil
}

func (w *Watcher) addDir(dir string) error {
	if w.watched[dir] {
		return nil
	}
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.watched[dir] = true
	return nil
}

// addAccountDirs best-effort-adds every Claude account's credential
// directory. A missing or unreadable snapshot is not fatal: the snapshot
// directory is already watched and will surface its own creation/rewrite.
func (w *Watcher) addAccountDirs() {
	snap, err := store.Load(w.snapshotPath)
	if err != nil {
		return
	}
	for _, account := range snap.ClaudeAccounts() {
		_ = w.addDir(filepath.Join(account.RootPath, ".claude"))
	}
}

// Run blocks, invoking onChange (debounced) for every relevant write,
// create, rename, or remove event, until ctx is done or the watcher is
// closed.
func (w *Watcher) Run(ctx context.Context, onChange func()) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			if !w.debouncer.shouldEmit(event.Name) {
				continue
			}
			w.addAccountDirs()
			onChange()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				return fmt.Errorf("watch error: %w", err)
			}
		}
	}
}

func relevant(event fsnotify.Event) bool {
	base := filepath.Base(event.Name)
	if base != "accounts.json" && base != ".credentials.json" {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0
}

// Close releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
