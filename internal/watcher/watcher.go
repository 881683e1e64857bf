// Package watcher keeps the index in sync with the filesystem: it enqueues
// scans for the configured roots at startup and on a cron schedule, and
// turns file events into ingest tasks after a debounce window.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/mediasift/mediasift/internal/classify"
	"github.com/mediasift/mediasift/internal/config"
	"github.com/mediasift/mediasift/internal/models"
	"github.com/mediasift/mediasift/internal/observability"
	"github.com/mediasift/mediasift/internal/service"
)

// Watcher tracks the configured media roots.
type Watcher struct {
	cfg   config.WatcherConfig
	tasks *service.TaskService
	log   *slog.Logger

	fsw  *fsnotify.Watcher
	cron *cron.Cron

	mu      sync.Mutex
	pending map[string]*time.Timer

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Watcher. It does not touch the filesystem until Start.
func New(cfg config.WatcherConfig, tasks *service.TaskService, log *slog.Logger) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}
	return &Watcher{
		cfg:     cfg,
		tasks:   tasks,
		log:     observability.WithComponent(log, "watcher"),
		pending: make(map[string]*time.Timer),
		stop:    make(chan struct{}),
	}
}

// Start registers filesystem watches, enqueues an initial scan per root, and
// launches the rescan schedule. A Watcher with no roots starts as a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	if len(w.cfg.Roots) == 0 {
		w.log.Info("no watch roots configured")
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	w.fsw = fsw

	for _, root := range w.cfg.Roots {
		if err := w.addWatches(root); err != nil {
			w.fsw.Close()
			return err
		}
	}
	if w.cfg.RescanSchedule != "" {
		w.cron = cron.New()
		_, err := w.cron.AddFunc(w.cfg.RescanSchedule, func() {
			w.enqueueScans(context.Background())
		})
		if err != nil {
			w.fsw.Close()
			return fmt.Errorf("invalid rescan schedule %q: %w", w.cfg.RescanSchedule, err)
		}
		w.cron.Start()
	}

	w.enqueueScans(ctx)

	w.wg.Add(1)
	go w.eventLoop(ctx)

	w.log.Info("watcher started",
		slog.Int("roots", len(w.cfg.Roots)),
		slog.String("rescan", w.cfg.RescanSchedule),
		slog.Bool("recursive", w.cfg.Recursive))
	return nil
}

// Stop cancels the schedule, drops pending debounce timers, and closes the
// event stream.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		if w.cron != nil {
			<-w.cron.Stop().Done()
		}
		w.mu.Lock()
		for path, timer := range w.pending {
			timer.Stop()
			delete(w.pending, path)
		}
		w.mu.Unlock()
		if w.fsw != nil {
			w.fsw.Close()
		}
		w.wg.Wait()
	})
}

// addWatches registers root and, when recursive, every subdirectory.
func (w *Watcher) addWatches(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("watch root %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch root is not a directory: %s", root)
	}
	if !w.cfg.Recursive {
		return w.fsw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.log.Warn("skipping unreadable entry", slog.String("path", path), slog.Any("error", err))
			return nil
		}
		if d.IsDir() {
			if werr := w.fsw.Add(path); werr != nil {
				return fmt.Errorf("watching %s: %w", path, werr)
			}
		}
		return nil
	})
}

// enqueueScans queues one scan_dir task per root.
func (w *Watcher) enqueueScans(ctx context.Context) {
	for _, root := range w.cfg.Roots {
		if _, err := w.tasks.Enqueue(ctx, models.TaskKindScanDir, root, service.EnqueueOptions{}); err != nil {
			w.log.Warn("enqueueing scan failed", slog.String("root", root), slog.Any("error", err))
		}
	}
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", slog.Any("error", err))
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// handleEvent reacts to creates, writes, removes, and renames. A new
// directory gets watched and scanned; a media file gets a debounced ingest
// task; a vanished media path gets a remove_path task so its index entries
// do not outlive it.
func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
		w.handleGone(ctx, event.Name)
		return
	}
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if !event.Op.Has(fsnotify.Create) || !w.cfg.Recursive {
			return
		}
		if err := w.addWatches(event.Name); err != nil {
			w.log.Warn("watching new directory failed",
				slog.String("path", event.Name), slog.Any("error", err))
		}
		if _, err := w.tasks.Enqueue(ctx, models.TaskKindScanDir, event.Name, service.EnqueueOptions{}); err != nil {
			w.log.Warn("enqueueing scan failed", slog.String("path", event.Name), slog.Any("error", err))
		}
		return
	}

	if classify.TypeFromPath(event.Name) == models.FileTypeUnknown {
		return
	}
	w.debounce(event.Name)
}

// handleGone drops any pending ingest debounce for a vanished path and
// enqueues its removal. Renamed files reappear under their new name through
// the Create event for that name. Vanished directories carry no media
// extension and are reconciled by the next rescan instead.
func (w *Watcher) handleGone(ctx context.Context, path string) {
	w.mu.Lock()
	if timer, ok := w.pending[path]; ok {
		timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	if classify.TypeFromPath(path) == models.FileTypeUnknown {
		return
	}
	if _, err := w.tasks.Enqueue(ctx, models.TaskKindRemovePath, path, service.EnqueueOptions{}); err != nil {
		w.log.Warn("enqueueing removal failed", slog.String("path", path), slog.Any("error", err))
	}
}

// debounce (re)arms the per-path timer; the ingest task is enqueued only
// after the path has been quiet for the debounce window, so a file still
// being copied is picked up once.
func (w *Watcher) debounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Reset(w.cfg.Debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.cfg.Debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		select {
		case <-w.stop:
			return
		default:
		}
		if _, err := w.tasks.Enqueue(context.Background(), models.TaskKindIngestFile, path, service.EnqueueOptions{}); err != nil {
			w.log.Warn("enqueueing ingest failed", slog.String("path", path), slog.Any("error", err))
		}
	})
}
