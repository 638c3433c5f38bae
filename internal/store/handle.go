package store

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/evyataryagoni/geolookup/internal/models"
)

// Handle is one loaded generation of a database type
//
// A handle starts with a single reference owned by the store. Lookups take
// extra references through Store.Acquire and drop them with Release; the
// underlying index is closed when the count reaches zero, so a handle
// replaced by Publish stays usable until the last in-flight lookup is done.
type Handle struct {
	dbType   models.DatabaseType
	path     string
	modTime  time.Time
	loadedAt time.Time
	index    Index

	refs      atomic.Int32
	closeOnce sync.Once
}

func newHandle(t models.DatabaseType, path string, modTime time.Time, index Index) *Handle {
	h := &Handle{
		dbType:   t,
		path:     path,
		modTime:  modTime,
		loadedAt: time.Now(),
		index:    index,
	}
	h.refs.Store(1)
	return h
}

// retain adds a reference unless the handle has already been retired
func (h *Handle) retain() bool {
	for {
		n := h.refs.Load()
		if n <= 0 {
			return false
		}
		if h.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops one reference; the last one closes the index
func (h *Handle) Release() {
	if h.refs.Add(-1) == 0 {
		h.closeOnce.Do(func() {
			_ = h.index.Close()
		})
	}
}

// Lookup queries the handle's index
func (h *Handle) Lookup(ip net.IP, result any) (bool, error) {
	return h.index.Lookup(ip, result)
}

func (h *Handle) Type() models.DatabaseType { return h.dbType }
func (h *Handle) Path() string              { return h.path }
func (h *Handle) ModTime() time.Time        { return h.modTime }
func (h *Handle) LoadedAt() time.Time       { return h.loadedAt }
func (h *Handle) BuildEpoch() uint          { return h.index.BuildEpoch() }

// refCount is exposed for tests
func (h *Handle) refCount() int32 { return h.refs.Load() }
