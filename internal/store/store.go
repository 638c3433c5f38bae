package store

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/evyataryagoni/geolookup/internal/logger"
	"github.com/evyataryagoni/geolookup/internal/models"
)

// ErrLoad is returned when a payload exists but cannot be loaded as a database
var ErrLoad = errors.New("database load failed")

// Store defines the operations the lookup and refresh layers need
// Allows the lookup engine to be tested against any implementation
type Store interface {
	// Acquire returns the published handle for t with a reference held
	// The caller must Release it; ok is false when nothing is published
	Acquire(t models.DatabaseType) (h *Handle, ok bool)

	// Publish loads path and atomically makes it the handle for t
	Publish(t models.DatabaseType, path string) error

	// Status reports every configured slot
	Status() []models.DatabaseStatus

	// Close releases all published handles
	Close() error
}

// slot holds zero or one published handle for a database type
type slot struct {
	current atomic.Pointer[Handle]
	mu      sync.Mutex // serializes publishers of this type
}

// DatabaseStore implements Store on top of memory-mapped MaxMind databases
// Readers never block: Acquire is a pointer load plus a CAS on the handle's
// reference count, and Publish swaps the pointer only after the new index
// is fully loaded
type DatabaseStore struct {
	slots  map[models.DatabaseType]*slot // fixed at construction, read-only afterwards
	types  []models.DatabaseType
	loader Loader
	logger *logger.Logger
}

// NewDatabaseStore creates a store with one empty slot per type
//
// Parameters:
//   - types: the database types this store serves
//   - loader: opens an index from a file (nil means OpenMMDB)
//   - log: logger (optional, can be nil)
func NewDatabaseStore(types []models.DatabaseType, loader Loader, log *logger.Logger) *DatabaseStore {
	if loader == nil {
		loader = OpenMMDB
	}
	if log == nil {
		log = logger.NewDefault()
	}
	s := &DatabaseStore{
		slots:  make(map[models.DatabaseType]*slot, len(types)),
		loader: loader,
		logger: log.WithComponent("DatabaseStore"),
	}
	for _, t := range types {
		if _, dup := s.slots[t]; dup {
			continue
		}
		s.slots[t] = &slot{}
		s.types = append(s.types, t)
	}
	return s
}

// Get returns the published handle for t without taking a reference,
// or nil if the type was never loaded
// Use it for introspection only; lookups must go through Acquire
func (s *DatabaseStore) Get(t models.DatabaseType) *Handle {
	sl, ok := s.slots[t]
	if !ok {
		return nil
	}
	return sl.current.Load()
}

// Acquire implements Store
func (s *DatabaseStore) Acquire(t models.DatabaseType) (*Handle, bool) {
	sl, ok := s.slots[t]
	if !ok {
		return nil, false
	}
	for {
		h := sl.current.Load()
		if h == nil {
			return nil, false
		}
		if h.retain() {
			return h, true
		}
		// h was retired between Load and retain; a newer handle is already visible
	}
}

// Publish implements Store
//
// The new index is opened and checked before the swap. On any failure the
// previously published handle stays in place and an error wrapping ErrLoad
// is returned.
func (s *DatabaseStore) Publish(t models.DatabaseType, path string) error {
	sl, ok := s.slots[t]
	if !ok {
		return fmt.Errorf("%w: database type %q is not configured", ErrLoad, t)
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	log := s.logger.WithDatabase(string(t))
	start := time.Now()

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoad, err)
	}

	index, err := s.loader(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to load database, keeping previous generation")
		return fmt.Errorf("%w: %s: %w", ErrLoad, path, err)
	}

	if marker := t.MetadataMarker(); !strings.Contains(index.DatabaseType(), marker) {
		index.Close()
		log.Warn().
			Str("path", path).
			Str("metadata_type", index.DatabaseType()).
			Msg("Database type mismatch, keeping previous generation")
		return fmt.Errorf("%w: %s holds %q, expected a %s database", ErrLoad, path, index.DatabaseType(), marker)
	}

	h := newHandle(t, path, info.ModTime(), index)
	if old := sl.current.Swap(h); old != nil {
		old.Release()
	}

	log.Info().
		Str("path", path).
		Str("metadata_type", index.DatabaseType()).
		Uint("build_epoch", index.BuildEpoch()).
		Dur("load_time", time.Since(start)).
		Msg("Database published")
	return nil
}

// IsCurrent reports whether the handle published for t was loaded from
// path and the file has not been modified since
func (s *DatabaseStore) IsCurrent(t models.DatabaseType, path string) bool {
	h := s.Get(t)
	if h == nil || h.Path() != path {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.ModTime().Equal(h.ModTime())
}

// Loaded reports whether at least one type has a published handle
func (s *DatabaseStore) Loaded() bool {
	for _, t := range s.types {
		if s.Get(t) != nil {
			return true
		}
	}
	return false
}

// Types returns the configured database types
func (s *DatabaseStore) Types() []models.DatabaseType {
	return append([]models.DatabaseType(nil), s.types...)
}

// Status implements Store
func (s *DatabaseStore) Status() []models.DatabaseStatus {
	statuses := make([]models.DatabaseStatus, 0, len(s.types))
	for _, t := range s.types {
		st := models.DatabaseStatus{Type: t}
		if h := s.Get(t); h != nil {
			loadedAt := h.LoadedAt()
			st.Loaded = true
			st.Path = h.Path()
			st.LoadedAt = &loadedAt
			st.BuildEpoch = h.BuildEpoch()
		}
		statuses = append(statuses, st)
	}
	return statuses
}

// Close implements Store
// In-flight lookups keep their handles until they release them
func (s *DatabaseStore) Close() error {
	for _, t := range s.types {
		sl := s.slots[t]
		sl.mu.Lock()
		if old := sl.current.Swap(nil); old != nil {
			old.Release()
		}
		sl.mu.Unlock()
	}
	return nil
}
