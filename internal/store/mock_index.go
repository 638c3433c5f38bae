package store

import (
	"fmt"
	"net"
	"os"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
)

// MockIndex is a test double for the Index interface
// Records maps an IP string to a value of the decode target's type
// (geoip2.City, geoip2.Country, geoip2.ASN, ...)
type MockIndex struct {
	Type    string
	Epoch   uint
	Records map[string]any

	// Control behavior for error scenarios
	LookupError error

	// Track calls for verification in tests
	lookups atomic.Int32
	closed  atomic.Bool
}

// Lookup implements Index
func (m *MockIndex) Lookup(ip net.IP, result any) (bool, error) {
	m.lookups.Add(1)
	if m.closed.Load() {
		return false, fmt.Errorf("lookup on closed index %s", m.Type)
	}
	if m.LookupError != nil {
		return false, m.LookupError
	}
	rec, ok := m.Records[ip.String()]
	if !ok {
		return false, nil
	}
	dst := reflect.ValueOf(result)
	if dst.Kind() != reflect.Pointer || dst.IsNil() {
		return false, fmt.Errorf("result must be a non-nil pointer, got %T", result)
	}
	src := reflect.ValueOf(rec)
	if !src.Type().AssignableTo(dst.Elem().Type()) {
		return false, fmt.Errorf("cannot decode %T into %T", rec, result)
	}
	dst.Elem().Set(src)
	return true, nil
}

// DatabaseType implements Index
func (m *MockIndex) DatabaseType() string { return m.Type }

// BuildEpoch implements Index
func (m *MockIndex) BuildEpoch() uint { return m.Epoch }

// Close implements Index
func (m *MockIndex) Close() error {
	m.closed.Store(true)
	return nil
}

// Closed reports whether Close was called
func (m *MockIndex) Closed() bool { return m.closed.Load() }

// LookupCount returns how many lookups were served
func (m *MockIndex) LookupCount() int { return int(m.lookups.Load()) }

// MockLoader serves MockIndex values keyed by payload file content
// A file containing "city-v1" loads the template registered under "city-v1";
// any other content fails like a corrupt database would
type MockLoader struct {
	mu        sync.Mutex
	templates map[string]*MockIndex
	opened    []*MockIndex
	loads     []string
}

// NewMockLoader creates an empty loader
func NewMockLoader() *MockLoader {
	return &MockLoader{templates: map[string]*MockIndex{}}
}

// Register associates payload content with an index template
func (l *MockLoader) Register(content string, idx *MockIndex) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.templates[content] = idx
}

// Load implements Loader; every call returns a fresh copy of the template
func (l *MockLoader) Load(path string) (Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	content := strings.TrimSpace(string(data))

	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads = append(l.loads, path)
	tpl, ok := l.templates[content]
	if !ok {
		return nil, fmt.Errorf("invalid MaxMind DB file (content %q)", content)
	}
	idx := &MockIndex{
		Type:        tpl.Type,
		Epoch:       tpl.Epoch,
		Records:     tpl.Records,
		LookupError: tpl.LookupError,
	}
	l.opened = append(l.opened, idx)
	return idx, nil
}

// Opened returns every index handed out so far, oldest first
func (l *MockLoader) Opened() []*MockIndex {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*MockIndex(nil), l.opened...)
}

// Loads returns the paths passed to Load
func (l *MockLoader) Loads() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.loads...)
}
