// Package geoip enriches sessions with location and network data from
// MaxMind GeoLite2 databases. Both databases are optional; a missing file
// disables the corresponding fields without failing ingestion.
package geoip

import (
	"net"
	"os"
	"sync"

	"log/slog"

	"github.com/oschwald/geoip2-golang"

	"beaconly/internal/config"
)

var (
	cityDB *geoip2.Reader
	asnDB  *geoip2.Reader
	once   sync.Once
	mu     sync.RWMutex
	logger *slog.Logger
)

// Location is the subset of GeoLite2 data stored on sessions. Zero values
// mean the lookup missed or the databases are disabled.
type Location struct {
	Country   string
	Longitude float64
	Latitude  float64
	TimeZone  string
	ASN       string
}

// InitLogger sets the logger for the geoip package.
func InitLogger(l *slog.Logger) {
	logger = l
}

func openReader(path, kind string) *geoip2.Reader {
	if path == "" {
		if logger != nil {
			logger.Debug("GeoIP database path not configured, lookups disabled",
				slog.String("db", kind))
		}
		return nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if logger != nil {
			logger.Info("GeoLite2 database not found, lookups disabled",
				slog.String("db", kind),
				slog.String("path", path),
				slog.String("hint", "Download from https://www.maxmind.com/en/geolite2/signup"))
		}
		return nil
	} else if err != nil {
		if logger != nil {
			logger.Warn("Error checking GeoLite2 database file",
				slog.String("db", kind),
				slog.String("path", path),
				slog.Any("error", err))
		}
		return nil
	}

	db, err := geoip2.Open(path)
	if err != nil {
		if logger != nil {
			logger.Error("Failed to open GeoLite2 database",
				slog.String("db", kind),
				slog.String("path", path),
				slog.Any("error", err))
		}
		return nil
	}

	if logger != nil {
		logger.Info("GeoLite2 database initialized",
			slog.String("db", kind),
			slog.String("path", path))
	}
	return db
}

func initReaders() {
	cfg := config.GetConfig()
	mu.Lock()
	cityDB = openReader(cfg.GeoCityDB, "city")
	asnDB = openReader(cfg.GeoASNDB, "asn")
	mu.Unlock()
}

// Lookup resolves the location and autonomous system for an address. It
// always returns a Location; fields for which no database is loaded or no
// record exists stay zero.
func Lookup(ip net.IP) Location {
	once.Do(initReaders)

	mu.RLock()
	defer mu.RUnlock()

	var loc Location
	if ip == nil {
		return loc
	}

	if cityDB != nil {
		if city, err := cityDB.City(ip); err == nil {
			loc.Country = city.Country.IsoCode
			loc.Longitude = city.Location.Longitude
			loc.Latitude = city.Location.Latitude
			loc.TimeZone = city.Location.TimeZone
		}
	}

	if asnDB != nil {
		if asn, err := asnDB.ASN(ip); err == nil {
			loc.ASN = asn.AutonomousSystemOrganization
		}
	}

	return loc
}
