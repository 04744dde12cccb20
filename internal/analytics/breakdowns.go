package analytics

import (
	"fmt"

	"github.com/pariz/gountries"
	"gorm.io/gorm"

	"beaconly/internal/services"
	"beaconly/internal/timeframe"
)

// TopN caps every breakdown.
const TopN = 300

// BreakdownEntry is one row of a top-N breakdown, sorted by count descending
// with ties broken by value ascending for a deterministic order.
type BreakdownEntry struct {
	Value string `json:"value"`
	Label string `json:"label,omitempty"`
	Count int64  `json:"count"`
}

var countryQuery = gountries.New()

// sessionBreakdown groups in-window sessions by one of their columns. The
// column name is fixed per caller, never user input.
func sessionBreakdown(db *gorm.DB, serviceUUID string, tf *timeframe.TimeFrame, column string) ([]BreakdownEntry, error) {
	var entries []BreakdownEntry
	query := fmt.Sprintf(`
        SELECT %s AS value, COUNT(*) AS count
        FROM sessions
        WHERE service_uuid = ? AND start_time >= ? AND start_time < ?
        GROUP BY %s
        ORDER BY count DESC, value ASC
        LIMIT ?
    `, column, column)
	err := db.Raw(query, serviceUUID, tf.From, tf.To, TopN).Scan(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("error computing %s breakdown: %w", column, err)
	}
	return entries, nil
}

// GetLocations ranks page URLs by in-window hits.
func GetLocations(db *gorm.DB, serviceUUID string, tf *timeframe.TimeFrame) ([]BreakdownEntry, error) {
	var entries []BreakdownEntry
	err := db.Raw(`
        SELECT location AS value, COUNT(*) AS count
        FROM hits
        WHERE service_uuid = ? AND start_time >= ? AND start_time < ?
        GROUP BY location
        ORDER BY count DESC, value ASC
        LIMIT ?
    `, serviceUUID, tf.From, tf.To, TopN).Scan(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("error computing locations breakdown: %w", err)
	}
	return entries, nil
}

// GetReferrers ranks referrers over initial hits only, so heartbeats and
// in-site navigation do not inflate acquisition numbers. Referrers matching
// the service's hide pattern are dropped after grouping; the cap applies to
// the filtered list.
func GetReferrers(db *gorm.DB, service *services.Service, tf *timeframe.TimeFrame) ([]BreakdownEntry, error) {
	var grouped []BreakdownEntry
	err := db.Raw(`
        SELECT referrer AS value, COUNT(*) AS count
        FROM hits
        WHERE service_uuid = ? AND start_time >= ? AND start_time < ? AND initial = ?
        GROUP BY referrer
        ORDER BY count DESC, value ASC
    `, service.UUID, tf.From, tf.To, true).Scan(&grouped).Error
	if err != nil {
		return nil, fmt.Errorf("error computing referrers breakdown: %w", err)
	}

	filter := services.NewReferrerFilter(service.HideReferrerRegex)
	entries := make([]BreakdownEntry, 0, len(grouped))
	for _, entry := range grouped {
		if filter.Hidden(entry.Value) {
			continue
		}
		entries = append(entries, entry)
		if len(entries) == TopN {
			break
		}
	}
	return entries, nil
}

// GetCountries ranks sessions by ISO country code, labeled with the
// country's display name when the code is known.
func GetCountries(db *gorm.DB, serviceUUID string, tf *timeframe.TimeFrame) ([]BreakdownEntry, error) {
	entries, err := sessionBreakdown(db, serviceUUID, tf, "country")
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].Value == "" {
			continue
		}
		if country, err := countryQuery.FindCountryByAlpha(entries[i].Value); err == nil {
			entries[i].Label = country.Name.Common
		}
	}
	return entries, nil
}

func GetOperatingSystems(db *gorm.DB, serviceUUID string, tf *timeframe.TimeFrame) ([]BreakdownEntry, error) {
	return sessionBreakdown(db, serviceUUID, tf, "os")
}

func GetBrowsers(db *gorm.DB, serviceUUID string, tf *timeframe.TimeFrame) ([]BreakdownEntry, error) {
	return sessionBreakdown(db, serviceUUID, tf, "browser")
}

func GetDevices(db *gorm.DB, serviceUUID string, tf *timeframe.TimeFrame) ([]BreakdownEntry, error) {
	return sessionBreakdown(db, serviceUUID, tf, "device")
}

func GetDeviceTypes(db *gorm.DB, serviceUUID string, tf *timeframe.TimeFrame) ([]BreakdownEntry, error) {
	return sessionBreakdown(db, serviceUUID, tf, "device_type")
}
