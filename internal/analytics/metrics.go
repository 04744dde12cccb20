package analytics

import (
	"fmt"
	"time"

	"log/slog"

	"gorm.io/gorm"

	"beaconly/internal/timeframe"
	"beaconly/internal/tracker"
)

// CountSessionsInTimeFrame counts sessions whose start time falls in the window.
func CountSessionsInTimeFrame(db *gorm.DB, serviceUUID string, tf *timeframe.TimeFrame) (int64, error) {
	var count int64
	err := db.Model(&tracker.Session{}).
		Where("service_uuid = ? AND start_time >= ? AND start_time < ?", serviceUUID, tf.From, tf.To).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("error counting sessions: %w", err)
	}
	return count, nil
}

// CountHitsInTimeFrame counts hits via the denormalized service reference,
// which is equivalent to scoping through sessions but avoids the join.
func CountHitsInTimeFrame(db *gorm.DB, serviceUUID string, tf *timeframe.TimeFrame) (int64, error) {
	var count int64
	err := db.Model(&tracker.Hit{}).
		Where("service_uuid = ? AND start_time >= ? AND start_time < ?", serviceUUID, tf.From, tf.To).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("error counting hits: %w", err)
	}
	return count, nil
}

// CountCurrentlyOnline counts sessions seen within twice the heartbeat
// interval of wall-clock now. The requested window never affects this.
func CountCurrentlyOnline(db *gorm.DB, serviceUUID string, onlineThreshold time.Duration, now time.Time) (int64, error) {
	var count int64
	err := db.Model(&tracker.Session{}).
		Where("service_uuid = ? AND last_seen >= ?", serviceUUID, now.Add(-onlineThreshold)).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("error counting online sessions: %w", err)
	}
	return count, nil
}

// HasAnyHits reports whether the service ever recorded a hit, regardless of
// window. The dashboard uses it to tell "no data in range" from "no data ever".
func HasAnyHits(db *gorm.DB, serviceUUID string) (bool, error) {
	var count int64
	err := db.Model(&tracker.Hit{}).
		Where("service_uuid = ?", serviceUUID).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetBounceRatePct computes 100 * bounces / sessions over the window, or nil
// when the window has no sessions.
func GetBounceRatePct(db *gorm.DB, serviceUUID string, tf *timeframe.TimeFrame, sessionCount int64) (*float64, error) {
	if sessionCount == 0 {
		return nil, nil
	}

	var bounceCount int64
	err := db.Model(&tracker.Session{}).
		Where("service_uuid = ? AND start_time >= ? AND start_time < ? AND is_bounce = ?",
			serviceUUID, tf.From, tf.To, true).
		Count(&bounceCount).Error
	if err != nil {
		return nil, fmt.Errorf("error counting bounces: %w", err)
	}

	rate := 100 * float64(bounceCount) / float64(sessionCount)
	return &rate, nil
}

// GetAvgSessionDuration computes the mean last_seen - start_time over
// in-window sessions, in seconds. Uses SQLite's julianday arithmetic; if the
// aggregate query fails the computation falls back to summing client-side,
// which must agree within floating-point tolerance.
func GetAvgSessionDuration(logger *slog.Logger, db *gorm.DB, serviceUUID string, tf *timeframe.TimeFrame, sessionCount int64) (*float64, error) {
	if sessionCount == 0 {
		return nil, nil
	}

	var result struct {
		AvgSeconds float64
	}
	err := db.Raw(`
        SELECT AVG((JULIANDAY(last_seen) - JULIANDAY(start_time)) * 86400.0) AS avg_seconds
        FROM sessions
        WHERE service_uuid = ? AND start_time >= ? AND start_time < ?
    `, serviceUUID, tf.From, tf.To).Scan(&result).Error
	if err == nil {
		return &result.AvgSeconds, nil
	}

	logger.Warn("Duration aggregate failed, falling back to client-side computation",
		slog.String("service", serviceUUID),
		slog.Any("error", err))
	return avgSessionDurationFallback(db, serviceUUID, tf)
}

func avgSessionDurationFallback(db *gorm.DB, serviceUUID string, tf *timeframe.TimeFrame) (*float64, error) {
	var sessions []tracker.Session
	err := db.Select("start_time", "last_seen").
		Where("service_uuid = ? AND start_time >= ? AND start_time < ?", serviceUUID, tf.From, tf.To).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("error loading sessions for duration fallback: %w", err)
	}
	if len(sessions) == 0 {
		return nil, nil
	}

	var total float64
	for _, s := range sessions {
		total += s.LastSeen.Sub(s.StartTime).Seconds()
	}
	avg := total / float64(len(sessions))
	return &avg, nil
}

// GetAvgLoadTime averages the non-null load times over in-window hits, in
// milliseconds. Nil when no hit in the window reported one.
func GetAvgLoadTime(db *gorm.DB, serviceUUID string, tf *timeframe.TimeFrame) (*float64, error) {
	var result struct {
		AvgLoadTime float64
		Samples     int64
	}
	err := db.Raw(`
        SELECT COALESCE(AVG(load_time), 0) AS avg_load_time, COUNT(load_time) AS samples
        FROM hits
        WHERE service_uuid = ? AND start_time >= ? AND start_time < ? AND load_time IS NOT NULL
    `, serviceUUID, tf.From, tf.To).Scan(&result).Error
	if err != nil {
		return nil, fmt.Errorf("error averaging load time: %w", err)
	}
	if result.Samples == 0 {
		return nil, nil
	}
	return &result.AvgLoadTime, nil
}

// AvgHitsPerSession is hit_count / session_count, nil at zero sessions.
func AvgHitsPerSession(hitCount, sessionCount int64) *float64 {
	if sessionCount == 0 {
		return nil
	}
	avg := float64(hitCount) / float64(sessionCount)
	return &avg
}
