package updater

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/evyataryagoni/geolookup/internal/logger"
	"github.com/evyataryagoni/geolookup/internal/models"
	"github.com/evyataryagoni/geolookup/internal/store"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestScheduler_RunOnStartOnly(t *testing.T) {
	f := newPipelineFixture(t, Options{})
	f.serveAll(t, "v1")

	s := NewScheduler(f.pipeline, 0, true, logger.NewNop())
	s.Start(context.Background())

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler without interval should exit after the initial run")
	}
	if f.generation(t, models.DatabaseCity) != "v1" {
		t.Error("initial run did not publish")
	}
}

func TestScheduler_Periodic(t *testing.T) {
	f := newPipelineFixture(t, Options{})
	f.serveAll(t, "v1")

	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(f.pipeline, 20*time.Millisecond, false, logger.NewNop())
	s.Start(ctx)

	ok := waitFor(t, 5*time.Second, func() bool {
		return f.source.hitCount("/country") >= 2
	})
	cancel()
	<-s.Done()

	if !ok {
		t.Fatalf("expected repeated refreshes, got %d downloads", f.source.hitCount("/country"))
	}
	if f.generation(t, models.DatabaseCountry) != "v1" {
		t.Error("periodic run did not publish")
	}
}

func TestScheduler_StopsOnCancel(t *testing.T) {
	f := newPipelineFixture(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(f.pipeline, time.Hour, false, logger.NewNop())
	s.Start(ctx)
	cancel()

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	if f.source.hitCount("/country") != 0 {
		t.Error("no cycle should have run")
	}
}

func TestLoadExisting(t *testing.T) {
	s, _ := newTestStore(t)
	dir := t.TempDir()

	os.WriteFile(filepath.Join(dir, models.DatabaseCountry.FileName()), []byte("country-v1"), 0644)
	os.WriteFile(filepath.Join(dir, models.DatabaseCity.FileName()), []byte("corrupt"), 0644)
	// network.mmdb absent

	loaded := LoadExisting(s, dir, models.AllDatabaseTypes, logger.NewNop())

	if len(loaded) != 1 || loaded[0] != models.DatabaseCountry {
		t.Fatalf("loaded = %v, want [country]", loaded)
	}
	if _, ok := s.Acquire(models.DatabaseCity); ok {
		t.Error("corrupt city file should not be published")
	}
	h, ok := s.Acquire(models.DatabaseCountry)
	if !ok {
		t.Fatal("country should be published")
	}
	h.Release()
}

func TestLoadExisting_EmptyDir(t *testing.T) {
	s, _ := newTestStore(t)

	loaded := LoadExisting(s, filepath.Join(t.TempDir(), "missing"), models.AllDatabaseTypes, nil)

	if len(loaded) != 0 {
		t.Errorf("loaded = %v, want none", loaded)
	}
	if s.Loaded() {
		t.Error("store should be empty")
	}
}

func TestWatcher_ReloadsExternalInstall(t *testing.T) {
	s, loader := newTestStore(t)
	dir := t.TempDir()

	w := NewWatcher(dir, models.AllDatabaseTypes, s, nil, logger.NewNop())
	w.SetDebounce(20 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	// the watch is registered asynchronously
	time.Sleep(100 * time.Millisecond)
	installExternally(t, dir, models.DatabaseCity, "city-v1")

	if !waitFor(t, 5*time.Second, func() bool { return s.Get(models.DatabaseCity) != nil }) {
		t.Fatal("watcher did not publish the new city database")
	}

	installExternally(t, dir, models.DatabaseCity, "city-v2")
	if !waitFor(t, 5*time.Second, func() bool { return len(loader.Opened()) >= 2 }) {
		t.Fatal("watcher did not pick up the second install")
	}

	cancel()
	if err := <-errc; err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

func TestWatcher_IgnoresUnrelatedAndCurrentFiles(t *testing.T) {
	s, loader := newTestStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, models.DatabaseCountry.FileName())
	os.WriteFile(path, []byte("country-v1"), 0644)
	if err := s.Publish(models.DatabaseCountry, path); err != nil {
		t.Fatal(err)
	}

	w := NewWatcher(dir, models.AllDatabaseTypes, s, nil, logger.NewNop())
	w.SetDebounce(10 * time.Millisecond)

	// reload of an already published file is a no-op
	w.reload(models.DatabaseCountry)
	// missing canonical file is a no-op
	w.reload(models.DatabaseNetwork)

	if got := len(loader.Opened()); got != 1 {
		t.Errorf("expected no extra loads, got %d", got)
	}
}

func TestWatcher_BadFileKeepsPrevious(t *testing.T) {
	s, _ := newTestStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, models.DatabaseCountry.FileName())
	os.WriteFile(path, []byte("country-v1"), 0644)
	s.Publish(models.DatabaseCountry, path)
	before := s.Get(models.DatabaseCountry)

	w := NewWatcher(dir, models.AllDatabaseTypes, s, nil, logger.NewNop())
	installExternally(t, dir, models.DatabaseCountry, "corrupt")
	w.reload(models.DatabaseCountry)

	if s.Get(models.DatabaseCountry) != before {
		t.Error("failed reload replaced the published handle")
	}
}

// installExternally writes content the way the geoupdate command does:
// a sibling temp file renamed over the canonical name
func installExternally(t *testing.T, dir string, dbType models.DatabaseType, content string) {
	t.Helper()
	dest := filepath.Join(dir, dbType.FileName())
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	// distinct mtimes even on coarse filesystems
	future := time.Now().Add(time.Duration(installs.Add(1)) * time.Second)
	os.Chtimes(tmp, future, future)
	if err := os.Rename(tmp, dest); err != nil {
		t.Fatal(err)
	}
}

var installs atomic.Int64

var _ Reloader = (*store.DatabaseStore)(nil)
