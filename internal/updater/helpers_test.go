package updater

import (
	"archive/tar"
	"bytes"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/evyataryagoni/geolookup/internal/logger"
	"github.com/evyataryagoni/geolookup/internal/models"
	"github.com/evyataryagoni/geolookup/internal/store"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

type archiveEntry struct {
	name    string
	content string
	dir     bool
}

func buildTar(t *testing.T, entries []archiveEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0644, Size: int64(len(e.content)), Typeflag: tar.TypeReg}
		if e.dir {
			hdr = &tar.Header{Name: e.name, Mode: 0755, Typeflag: tar.TypeDir}
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		if !e.dir {
			if _, err := tw.Write([]byte(e.content)); err != nil {
				t.Fatalf("tar write: %v", err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	return buf.Bytes()
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func zstdBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	if _, err := enc.Write(data); err != nil {
		t.Fatalf("zstd write: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("zstd close: %v", err)
	}
	return buf.Bytes()
}

// maxmindArchive mimics a MaxMind GeoLite2 .tar.gz edition
func maxmindArchive(t *testing.T, edition, payload string) []byte {
	t.Helper()
	dir := edition + "_20240102/"
	return gzipBytes(t, buildTar(t, []archiveEntry{
		{name: dir, dir: true},
		{name: dir + "COPYRIGHT.txt", content: "Database and Contents Copyright (c) MaxMind, Inc."},
		{name: dir + "LICENSE.txt", content: "GeoLite2 End User License Agreement"},
		{name: dir + edition + ".mmdb", content: payload},
	}))
}

// fakeSource is an httptest server serving one response per path
type fakeSource struct {
	mu        sync.Mutex
	responses map[string][]byte
	statuses  map[string]int
	hits      map[string]int
	server    *httptest.Server
}

func newFakeSource(t *testing.T) *fakeSource {
	t.Helper()
	fs := &fakeSource{
		responses: map[string][]byte{},
		statuses:  map[string]int{},
		hits:      map[string]int{},
	}
	fs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		body, ok := fs.responses[r.URL.Path]
		status := fs.statuses[r.URL.Path]
		fs.hits[r.URL.Path]++
		fs.mu.Unlock()

		if status != 0 {
			w.WriteHeader(status)
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/gzip")
		w.Write(body)
	}))
	t.Cleanup(fs.server.Close)
	return fs
}

func (fs *fakeSource) serve(path string, body []byte) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.responses[path] = body
	delete(fs.statuses, path)
}

func (fs *fakeSource) fail(path string, status int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.statuses[path] = status
}

func (fs *fakeSource) hitCount(path string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.hits[path]
}

func (fs *fakeSource) url(path string) string {
	return fs.server.URL + path
}

// newTestStore builds a real DatabaseStore over a MockLoader that knows
// v1 and v2 payloads for every type
func newTestStore(t *testing.T) (*store.DatabaseStore, *store.MockLoader) {
	t.Helper()
	loader := store.NewMockLoader()
	for _, dbType := range models.AllDatabaseTypes {
		edition := dbType.EditionID()
		for _, gen := range []string{"v1", "v2"} {
			loader.Register(string(dbType)+"-"+gen, &store.MockIndex{
				Type:    edition,
				Records: map[string]any{"1.1.1.1": gen},
			})
		}
	}
	s := store.NewDatabaseStore(models.AllDatabaseTypes, loader.Load, logger.NewNop())
	t.Cleanup(func() { s.Close() })
	return s, loader
}
