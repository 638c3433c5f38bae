package store

import (
	"fmt"
	"net"

	"github.com/oschwald/maxminddb-golang"
)

// Index is a loaded, read-only geo-database
// Implementations must be safe for concurrent Lookup calls
type Index interface {
	// Lookup decodes the record for ip into result (a pointer such as *geoip2.City)
	// found is false when the database has no network containing ip
	Lookup(ip net.IP, result any) (found bool, err error)

	// DatabaseType is the database_type metadata (e.g. "GeoLite2-City")
	DatabaseType() string

	// BuildEpoch is the database build time in Unix seconds
	BuildEpoch() uint

	Close() error
}

// Loader opens an Index from a file on disk
type Loader func(path string) (Index, error)

// mmdbIndex adapts a maxminddb.Reader to Index
type mmdbIndex struct {
	reader *maxminddb.Reader
}

// OpenMMDB memory-maps a MaxMind DB file and verifies its search tree
// and data section before handing it out
func OpenMMDB(path string) (Index, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mmdb file: %w", err)
	}
	if err := reader.Verify(); err != nil {
		reader.Close()
		return nil, fmt.Errorf("mmdb verification failed: %w", err)
	}
	return &mmdbIndex{reader: reader}, nil
}

func (m *mmdbIndex) Lookup(ip net.IP, result any) (bool, error) {
	_, found, err := m.reader.LookupNetwork(ip, result)
	return found, err
}

func (m *mmdbIndex) DatabaseType() string {
	return m.reader.Metadata.DatabaseType
}

func (m *mmdbIndex) BuildEpoch() uint {
	return m.reader.Metadata.BuildEpoch
}

func (m *mmdbIndex) Close() error {
	return m.reader.Close()
}
