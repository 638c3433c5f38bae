package updater

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/evyataryagoni/geolookup/internal/logger"
	"github.com/evyataryagoni/geolookup/internal/metrics"
	"github.com/evyataryagoni/geolookup/internal/models"
	"github.com/fsnotify/fsnotify"
)

// Reloader is a Publisher that can tell whether a file is already published
type Reloader interface {
	Publisher
	IsCurrent(t models.DatabaseType, path string) bool
}

// Watcher republishes canonical files replaced by another process,
// typically the geoupdate command run from cron
type Watcher struct {
	dir      string
	store    Reloader
	byName   map[string]models.DatabaseType
	debounce time.Duration
	metrics  *metrics.Metrics
	logger   *logger.Logger
}

// NewWatcher watches dir for the canonical files of types
func NewWatcher(dir string, types []models.DatabaseType, store Reloader, m *metrics.Metrics, log *logger.Logger) *Watcher {
	if log == nil {
		log = logger.NewDefault()
	}
	byName := make(map[string]models.DatabaseType, len(types))
	for _, t := range types {
		byName[t.FileName()] = t
	}
	return &Watcher{
		dir:      dir,
		store:    store,
		byName:   byName,
		debounce: time.Second,
		metrics:  m,
		logger:   log.WithComponent("DataDirWatcher"),
	}
}

// SetDebounce changes how long the watcher waits for writes to settle
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Run blocks until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.logger.Info().Str("dir", w.dir).Msg("Watching data directory")

	fire := make(chan models.DatabaseType, len(w.byName))
	timers := make(map[models.DatabaseType]*time.Timer)
	defer func() {
		for _, tm := range timers {
			tm.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			t, ok := w.byName[filepath.Base(ev.Name)]
			if !ok || ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if tm, exists := timers[t]; exists {
				tm.Reset(w.debounce)
				continue
			}
			timers[t] = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- t:
				default: // a reload for t is already queued
				}
			})

		case t := <-fire:
			w.reload(t)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) reload(t models.DatabaseType) {
	path := filepath.Join(w.dir, t.FileName())
	log := w.logger.WithDatabase(string(t))

	if _, err := os.Stat(path); err != nil {
		return
	}
	if w.store.IsCurrent(t, path) {
		log.Debug().Str("path", path).Msg("File already published, skipping reload")
		return
	}
	if err := w.store.Publish(t, path); err != nil {
		log.Error().Err(err).Str("path", path).Msg("Reload failed, previous generation kept")
		return
	}
	log.Info().Str("path", path).Msg("Reloaded database written by another process")
	if w.metrics != nil {
		w.metrics.RecordDatabases(w.store.Status())
	}
}
