package store

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/evyataryagoni/geolookup/internal/logger"
	"github.com/evyataryagoni/geolookup/internal/models"
	"github.com/maxmind/mmdbwriter"
	"github.com/maxmind/mmdbwriter/mmdbtype"
	"github.com/oschwald/geoip2-golang"
)

// writeASNDatabase builds a GeoLite2-ASN file holding 8.8.8.0/24
func writeASNDatabase(t *testing.T, dir string) string {
	t.Helper()
	w, err := mmdbwriter.New(mmdbwriter.Options{
		DatabaseType: "GeoLite2-ASN",
		Description:  map[string]string{"en": "ASN test database"},
		RecordSize:   24,
		BuildEpoch:   1700000000,
	})
	if err != nil {
		t.Fatalf("mmdbwriter: %v", err)
	}
	_, network, _ := net.ParseCIDR("8.8.8.0/24")
	err = w.Insert(network, mmdbtype.Map{
		"autonomous_system_number":       mmdbtype.Uint32(15169),
		"autonomous_system_organization": mmdbtype.String("GOOGLE"),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	path := filepath.Join(dir, "network.mmdb")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := w.WriteTo(f); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

// TestOpenMMDB_Lookup tests decoding from a real database file
func TestOpenMMDB_Lookup(t *testing.T) {
	idx, err := OpenMMDB(writeASNDatabase(t, t.TempDir()))
	if err != nil {
		t.Fatalf("OpenMMDB() error = %v", err)
	}
	defer idx.Close()

	if idx.DatabaseType() != "GeoLite2-ASN" || idx.BuildEpoch() != 1700000000 {
		t.Errorf("unexpected metadata %s/%d", idx.DatabaseType(), idx.BuildEpoch())
	}

	var rec geoip2.ASN
	found, err := idx.Lookup(net.ParseIP("8.8.8.8"), &rec)
	if err != nil || !found {
		t.Fatalf("lookup 8.8.8.8: found=%v err=%v", found, err)
	}
	if rec.AutonomousSystemNumber != 15169 || rec.AutonomousSystemOrganization != "GOOGLE" {
		t.Errorf("unexpected record %+v", rec)
	}

	found, err = idx.Lookup(net.ParseIP("9.9.9.9").To4(), &rec)
	if err != nil || found {
		t.Errorf("lookup 9.9.9.9: found=%v err=%v, want a miss", found, err)
	}
}

// TestDatabaseStore_DefaultLoaderPublishesRealFile tests Publish through OpenMMDB
func TestDatabaseStore_DefaultLoaderPublishesRealFile(t *testing.T) {
	s := NewDatabaseStore(models.AllDatabaseTypes, nil, logger.NewNop())
	defer s.Close()

	path := writeASNDatabase(t, t.TempDir())
	if err := s.Publish(models.DatabaseNetwork, path); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if !s.IsCurrent(models.DatabaseNetwork, path) {
		t.Error("expected the published file to be current")
	}
	if err := s.Publish(models.DatabaseCountry, path); !errors.Is(err, ErrLoad) {
		t.Errorf("expected ErrLoad publishing an ASN file as country, got %v", err)
	}
}

// TestOpenMMDB_InvalidFiles tests that non-MaxMind payloads are rejected
func TestOpenMMDB_InvalidFiles(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "missing.mmdb")},
		{"text file", writePayload(t, dir, "text.mmdb", "this is not a MaxMind database")},
		{"empty file", writePayload(t, dir, "empty.mmdb", "")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, err := OpenMMDB(tt.path)
			if err == nil {
				idx.Close()
				t.Fatal("expected error, got nil")
			}
		})
	}
}

// TestDatabaseStore_DefaultLoaderRejectsGarbage tests the production loader path
func TestDatabaseStore_DefaultLoaderRejectsGarbage(t *testing.T) {
	s := NewDatabaseStore(models.AllDatabaseTypes, nil, logger.NewNop())
	defer s.Close()

	path := writePayload(t, t.TempDir(), "city.mmdb", "garbage")
	if err := s.Publish(models.DatabaseCity, path); !errors.Is(err, ErrLoad) {
		t.Fatalf("expected ErrLoad, got %v", err)
	}
	if s.Get(models.DatabaseCity) != nil {
		t.Error("expected no handle after failed load")
	}
}
