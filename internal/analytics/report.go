// Package analytics computes the statistics reports served to the dashboard.
// All reads; safe to run concurrently with ingestion.
package analytics

import (
	"time"

	"log/slog"

	"gorm.io/gorm"

	"beaconly/internal/config"
	"beaconly/internal/services"
	"beaconly/internal/timeframe"
)

// Default window when the caller omits the range.
const defaultWindowDays = 30

// Report is the full statistics payload for one period. Averages and rates
// are pointers: nil means undefined (no sessions or no samples), which the
// frontend renders as a dash rather than a zero.
type Report struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	CurrentlyOnline int64 `json:"currently_online"`
	SessionCount    int64 `json:"session_count"`
	HitCount        int64 `json:"hit_count"`
	HasHits         bool  `json:"has_hits"`

	BounceRatePct      *float64 `json:"bounce_rate_pct"`
	AvgSessionDuration *float64 `json:"avg_session_duration"`
	AvgLoadTime        *float64 `json:"avg_load_time"`
	AvgHitsPerSession  *float64 `json:"avg_hits_per_session"`

	Locations        []BreakdownEntry `json:"locations"`
	Referrers        []BreakdownEntry `json:"referrers"`
	Countries        []BreakdownEntry `json:"countries"`
	OperatingSystems []BreakdownEntry `json:"operating_systems"`
	Browsers         []BreakdownEntry `json:"browsers"`
	Devices          []BreakdownEntry `json:"devices"`
	DeviceTypes      []BreakdownEntry `json:"device_types"`

	Chart *ChartData `json:"chart_data"`

	// Compare holds the same report over the window of identical duration
	// immediately preceding this one.
	Compare *Report `json:"compare,omitempty"`
}

// GetCoreStats computes the primary-period report plus its comparison period.
// Omitted bounds default to the last thirty days ending now.
func GetCoreStats(logger *slog.Logger, db *gorm.DB, service *services.Service, start, end *time.Time) (*Report, error) {
	now := time.Now().UTC()

	endTime := now
	if end != nil {
		endTime = end.UTC()
	}
	startTime := endTime.AddDate(0, 0, -defaultWindowDays)
	if start != nil {
		startTime = start.UTC()
	}

	tf, err := timeframe.New(startTime, endTime)
	if err != nil {
		return nil, err
	}

	report, err := getRelativeStats(logger, db, service, tf, now)
	if err != nil {
		return nil, err
	}

	previous, err := tf.Previous()
	if err != nil {
		return nil, err
	}
	report.Compare, err = getRelativeStats(logger, db, service, previous, now)
	if err != nil {
		return nil, err
	}

	return report, nil
}

func getRelativeStats(logger *slog.Logger, db *gorm.DB, service *services.Service, tf *timeframe.TimeFrame, now time.Time) (*Report, error) {
	report := &Report{
		StartTime: tf.From,
		EndTime:   tf.To,
	}

	var err error
	if report.CurrentlyOnline, err = CountCurrentlyOnline(db, service.UUID, config.GetConfig().OnlineThreshold(), now); err != nil {
		return nil, err
	}
	if report.SessionCount, err = CountSessionsInTimeFrame(db, service.UUID, tf); err != nil {
		return nil, err
	}
	if report.HitCount, err = CountHitsInTimeFrame(db, service.UUID, tf); err != nil {
		return nil, err
	}
	if report.HasHits, err = HasAnyHits(db, service.UUID); err != nil {
		return nil, err
	}

	if report.BounceRatePct, err = GetBounceRatePct(db, service.UUID, tf, report.SessionCount); err != nil {
		return nil, err
	}
	if report.AvgSessionDuration, err = GetAvgSessionDuration(logger, db, service.UUID, tf, report.SessionCount); err != nil {
		return nil, err
	}
	if report.AvgLoadTime, err = GetAvgLoadTime(db, service.UUID, tf); err != nil {
		return nil, err
	}
	report.AvgHitsPerSession = AvgHitsPerSession(report.HitCount, report.SessionCount)

	if report.Locations, err = GetLocations(db, service.UUID, tf); err != nil {
		return nil, err
	}
	if report.Referrers, err = GetReferrers(db, service, tf); err != nil {
		return nil, err
	}
	if report.Countries, err = GetCountries(db, service.UUID, tf); err != nil {
		return nil, err
	}
	if report.OperatingSystems, err = GetOperatingSystems(db, service.UUID, tf); err != nil {
		return nil, err
	}
	if report.Browsers, err = GetBrowsers(db, service.UUID, tf); err != nil {
		return nil, err
	}
	if report.Devices, err = GetDevices(db, service.UUID, tf); err != nil {
		return nil, err
	}
	if report.DeviceTypes, err = GetDeviceTypes(db, service.UUID, tf); err != nil {
		return nil, err
	}

	if report.Chart, err = GetChartData(db, service.UUID, tf, now); err != nil {
		return nil, err
	}

	return report, nil
}
