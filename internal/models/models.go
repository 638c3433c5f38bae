package models

import (
	"fmt"
	"strings"
	"time"
)

// Sentinel values used when a database lacks data for a field
const (
	Unknown            = "Unknown"
	UnknownCountryCode = "XX"
)

// DatabaseType identifies one geo-database category
type DatabaseType string

const (
	DatabaseCountry DatabaseType = "country"
	DatabaseCity    DatabaseType = "city"
	DatabaseNetwork DatabaseType = "network"
)

// AllDatabaseTypes lists every type in lookup order
var AllDatabaseTypes = []DatabaseType{DatabaseCountry, DatabaseCity, DatabaseNetwork}

// ParseDatabaseType converts a config value such as "city" or "ASN" to a DatabaseType
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "country":
		return DatabaseCountry, nil
	case "city":
		return DatabaseCity, nil
	case "network", "asn":
		return DatabaseNetwork, nil
	default:
		return "", fmt.Errorf("unknown database type: %q (supported: country, city, network)", s)
	}
}

// EditionID is the MaxMind edition distributed for this type
func (t DatabaseType) EditionID() string {
	switch t {
	case DatabaseCountry:
		return "GeoLite2-Country"
	case DatabaseCity:
		return "GeoLite2-City"
	case DatabaseNetwork:
		return "GeoLite2-ASN"
	}
	return ""
}

// FileName is the canonical on-disk name of the published database
func (t DatabaseType) FileName() string {
	return string(t) + ".mmdb"
}

// MetadataMarker is the substring the database_type metadata of a valid
// payload must contain (e.g. "GeoLite2-City" or "GeoIP2-City")
func (t DatabaseType) MetadataMarker() string {
	switch t {
	case DatabaseCountry:
		return "Country"
	case DatabaseCity:
		return "City"
	case DatabaseNetwork:
		return "ASN"
	}
	return ""
}

// GeoRecord is the normalized lookup result
// Its shape never depends on which databases are loaded
type GeoRecord struct {
	IP       string        `json:"ip"`
	Location LocationBlock `json:"location"`
	Network  NetworkBlock  `json:"network"`
}

// LocationBlock holds country/city level attributes
type LocationBlock struct {
	Country     string   `json:"country"`
	CountryCode string   `json:"countryCode"`
	Region      string   `json:"region"`
	City        string   `json:"city"`
	PostalCode  string   `json:"postalCode"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Timezone    string   `json:"timezone"`
}

// NetworkBlock holds ISP and autonomous system attributes
type NetworkBlock struct {
	ISP          string `json:"isp"`
	Organization string `json:"organization"`
	ASN          *uint  `json:"asn"`
	ASName       string `json:"asName"`
}

// NewGeoRecord returns a record with every field at its "unknown" default
func NewGeoRecord(ip string) *GeoRecord {
	return &GeoRecord{
		IP: ip,
		Location: LocationBlock{
			Country:     Unknown,
			CountryCode: UnknownCountryCode,
			Region:      Unknown,
			City:        Unknown,
			PostalCode:  Unknown,
			Timezone:    Unknown,
		},
		Network: NetworkBlock{
			ISP:          Unknown,
			Organization: Unknown,
			ASName:       Unknown,
		},
	}
}

// DatabaseStatus describes one store slot
type DatabaseStatus struct {
	Type       DatabaseType `json:"type"`
	Loaded     bool         `json:"loaded"`
	Path       string       `json:"path,omitempty"`
	LoadedAt   *time.Time   `json:"loadedAt,omitempty"`
	BuildEpoch uint         `json:"buildEpoch,omitempty"`
}

// StatusResponse is returned by GET /api/status
type StatusResponse struct {
	Databases map[DatabaseType]string `json:"databases"` // "Loaded" or "Not loaded"
	Details   []DatabaseStatus        `json:"details"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status string  `json:"status"`
	Uptime float64 `json:"uptime"` // seconds since process start
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error string `json:"error"`
}
