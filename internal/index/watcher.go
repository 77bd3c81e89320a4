package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/scivault/internal/storage"
)

// EventCallback is called after a watcher-driven invalidation.
// kind is one of "created", "updated", "deleted".
type EventCallback func(kind string, doi string)

// Watch starts an fsnotify watcher on the store root and invalidates cached
// versions of every DOI whose entries change, until ctx is cancelled. It
// calls cb (if non-nil) after each invalidation.
//
// Rename events trigger a debounced Sync that picks up entries moved in or
// out of the root.
func Watch(ctx context.Context, db *DB, store *storage.FS, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(store.Root()); err != nil {
		return err
	}
	if _, err := Sync(db, store, logger); err != nil {
		logger.Warn("watcher: initial sync failed", slog.String("error", err.Error()))
	}

	logger.Info("watcher: started", slog.String("root", store.Root()))

	// reconcileTimer is used to debounce rename reconciliation.
	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(200 * time.Millisecond)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(200 * time.Millisecond)
		}
	}

	notify := func(kind, doi string) {
		if doi == "" {
			return
		}
		if err := db.Invalidate(doi); err != nil {
			logger.Warn("watcher: invalidate failed", slog.String("doi", doi), slog.String("error", err.Error()))
			return
		}
		logger.Debug("watcher: invalidated", slog.String("doi", doi), slog.String("op", kind))
		if cb != nil {
			cb(kind, doi)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			dropped, err := Sync(db, store, logger)
			if err != nil {
				logger.Warn("watcher: reconcile failed", slog.String("error", err.Error()))
				continue
			}
			for _, doi := range dropped {
				if cb != nil {
					cb("updated", doi)
				}
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !storage.IsSidecar(ev.Name) {
				continue
			}
			id := storage.IDFromSidecar(ev.Name)

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				sc, err := storage.ReadSidecar(ev.Name)
				if err != nil {
					// Partially visible writes settle on the next event.
					logger.Debug("watcher: read sidecar failed", slog.String("id", id), slog.String("error", err.Error()))
					continue
				}
				doi := entryDOI(sc.Entry)
				prev, _ := db.DeleteEntry(id)
				if err := db.UpsertEntry(id, doi, sc.Checksum); err != nil {
					logger.Warn("watcher: record failed", slog.String("id", id), slog.String("error", err.Error()))
					continue
				}
				kind := "updated"
				if ev.Op&fsnotify.Create != 0 {
					kind = "created"
				}
				if prev != "" && prev != doi {
					notify(kind, prev)
				}
				notify(kind, doi)

			case ev.Op&fsnotify.Remove != 0:
				doi, err := db.DeleteEntry(id)
				if err != nil {
					logger.Warn("watcher: delete failed", slog.String("id", id), slog.String("error", err.Error()))
					continue
				}
				notify("deleted", doi)

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify fires Rename on the OLD path only; the new path
				// arrives as a Create if it stays inside the root.
				doi, err := db.DeleteEntry(id)
				if err == nil {
					notify("deleted", doi)
				}
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
