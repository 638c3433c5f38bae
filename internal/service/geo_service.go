package service

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/evyataryagoni/geolookup/internal/logger"
	"github.com/evyataryagoni/geolookup/internal/metrics"
	"github.com/evyataryagoni/geolookup/internal/models"
	"github.com/evyataryagoni/geolookup/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/oschwald/geoip2-golang"
)

var (
	// ErrInvalidIP means the input is not a dotted-quad IPv4 address
	ErrInvalidIP = errors.New("invalid IPv4 address")

	// ErrUnavailable means no database of any type is published yet
	ErrUnavailable = errors.New("no geolocation database loaded")
)

// GeoService answers lookups from whatever databases are currently published
//
// Responsibilities:
//   - Validate input (strict IPv4)
//   - Borrow one handle per type for the duration of a lookup
//   - Merge the location and network blocks into a GeoRecord
type GeoService struct {
	store     store.Store
	validator *validator.Validate
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

// NewGeoService creates a new lookup service
//
// Parameters:
//   - store: the database store handles are borrowed from
//   - m: metrics collector (optional, can be nil)
//   - log: logger (optional, can be nil)
func NewGeoService(store store.Store, m *metrics.Metrics, log *logger.Logger) *GeoService {
	if log == nil {
		log = logger.NewDefault()
	}
	return &GeoService{
		store:     store,
		validator: validator.New(),
		metrics:   m,
		logger:    log.WithComponent("GeoService"),
	}
}

// Lookup resolves ip into a GeoRecord
//
// Flow:
//  1. Validate the address
//  2. Acquire city, country and network handles once
//  3. Fill the location block (city, else country) and the network block
//
// A miss is not an error: the record comes back with defaults.
func (s *GeoService) Lookup(ip string) (*models.GeoRecord, error) {
	addr, err := s.parse(ip)
	if err != nil {
		s.logger.Debug().Str("ip", ip).Msg("Invalid IPv4 address")
		s.count("invalid")
		return nil, err
	}

	city, hasCity := s.store.Acquire(models.DatabaseCity)
	if hasCity {
		defer city.Release()
	}
	country, hasCountry := s.store.Acquire(models.DatabaseCountry)
	if hasCountry {
		defer country.Release()
	}
	network, hasNetwork := s.store.Acquire(models.DatabaseNetwork)
	if hasNetwork {
		defer network.Release()
	}

	if !hasCity && !hasCountry && !hasNetwork {
		s.logger.Warn().Str("ip", ip).Msg("Lookup rejected, no database loaded")
		s.count("unavailable")
		return nil, ErrUnavailable
	}

	record := models.NewGeoRecord(ip)
	locFound := false
	if hasCity {
		// a city database that has no entry is authoritative: no country fallback
		locFound = s.fillFromCity(&record.Location, city, addr)
	} else if hasCountry {
		locFound = s.fillFromCountry(&record.Location, country, addr)
	}

	netFound := false
	if hasNetwork {
		netFound = s.fillNetwork(&record.Network, network, addr)
	}

	result := "miss"
	if locFound || netFound {
		result = "hit"
	}
	s.count(result)
	s.logger.Debug().
		Str("ip", ip).
		Str("country", record.Location.Country).
		Str("city", record.Location.City).
		Str("asName", record.Network.ASName).
		Msg("Lookup completed")

	return record, nil
}

// parse applies the validator tag and then a strict dotted-quad check
// that rejects IPv4-mapped IPv6, zones and leading zeros
func (s *GeoService) parse(ip string) (net.IP, error) {
	if err := s.validator.Var(ip, "required,ipv4"); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil || !addr.Is4() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}
	b := addr.As4()
	return net.IP(b[:]), nil
}

func (s *GeoService) fillFromCity(loc *models.LocationBlock, h *store.Handle, ip net.IP) bool {
	var rec geoip2.City
	found, err := h.Lookup(ip, &rec)
	if err != nil {
		s.subLookupFailed(models.DatabaseCity, ip, err)
		return false
	}
	if !found {
		return false
	}

	loc.Country = englishName(rec.Country.Names)
	loc.CountryCode = orDefault(rec.Country.IsoCode, models.UnknownCountryCode)
	if len(rec.Subdivisions) > 0 {
		loc.Region = englishName(rec.Subdivisions[0].Names)
	}
	loc.City = englishName(rec.City.Names)
	loc.PostalCode = orDefault(rec.Postal.Code, models.Unknown)
	// MaxMind encodes "no coordinates" as 0,0
	if rec.Location.Latitude != 0 || rec.Location.Longitude != 0 {
		lat, lon := rec.Location.Latitude, rec.Location.Longitude
		loc.Latitude = &lat
		loc.Longitude = &lon
	}
	loc.Timezone = orDefault(rec.Location.TimeZone, models.Unknown)
	return true
}

func (s *GeoService) fillFromCountry(loc *models.LocationBlock, h *store.Handle, ip net.IP) bool {
	var rec geoip2.Country
	found, err := h.Lookup(ip, &rec)
	if err != nil {
		s.subLookupFailed(models.DatabaseCountry, ip, err)
		return false
	}
	if !found {
		return false
	}
	loc.Country = englishName(rec.Country.Names)
	loc.CountryCode = orDefault(rec.Country.IsoCode, models.UnknownCountryCode)
	return true
}

func (s *GeoService) fillNetwork(nb *models.NetworkBlock, h *store.Handle, ip net.IP) bool {
	var rec geoip2.ASN
	found, err := h.Lookup(ip, &rec)
	if err != nil {
		s.subLookupFailed(models.DatabaseNetwork, ip, err)
		return false
	}
	if !found {
		return false
	}

	org := orDefault(rec.AutonomousSystemOrganization, models.Unknown)
	nb.Organization = org
	nb.ISP = org
	if rec.AutonomousSystemNumber != 0 {
		asn := rec.AutonomousSystemNumber
		nb.ASN = &asn
		if rec.AutonomousSystemOrganization != "" {
			nb.ASName = fmt.Sprintf("AS%d %s", asn, rec.AutonomousSystemOrganization)
		} else {
			nb.ASName = fmt.Sprintf("AS%d", asn)
		}
	}
	return true
}

func (s *GeoService) subLookupFailed(t models.DatabaseType, ip net.IP, err error) {
	s.logger.Error().Err(err).Str("database", string(t)).Str("ip", ip.String()).Msg("Sub-lookup failed, block left at defaults")
	if s.metrics != nil {
		s.metrics.LookupsErrors.WithLabelValues(string(t)).Inc()
	}
}

func (s *GeoService) count(result string) {
	if s.metrics != nil {
		s.metrics.LookupsTotal.WithLabelValues(result).Inc()
	}
}

// Status reports every configured database slot
func (s *GeoService) Status() []models.DatabaseStatus {
	return s.store.Status()
}

// Close releases the store's handles
func (s *GeoService) Close() error {
	return s.store.Close()
}

func englishName(names map[string]string) string {
	return orDefault(names["en"], models.Unknown)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
