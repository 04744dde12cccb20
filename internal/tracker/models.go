// Package tracker ingests tracking requests and maintains sessions and hits.
package tracker

import (
	"database/sql"
	"time"
)

// Tracker identifies which collection method produced a hit.
const (
	TrackerJS    = "JS"
	TrackerPixel = "PIXEL"
)

// Device type classifications stored on sessions.
const (
	DevicePhone   = "PHONE"
	DeviceTablet  = "TABLET"
	DeviceDesktop = "DESKTOP"
	DeviceRobot   = "ROBOT"
	DeviceOther   = "OTHER"
)

// Session groups consecutive hits from the same visitor fingerprint. The
// fingerprint itself is never stored; only the session UUID and the derived
// client attributes are.
type Session struct {
	UUID        string `gorm:"primaryKey;size:36"`
	ServiceUUID string `gorm:"index:idx_sessions_service_time;size:36;not null"`

	// Identifier is the site-supplied visitor id. It is backfilled onto a
	// session at most once: the first non-empty value wins.
	Identifier string `gorm:"index"`

	StartTime time.Time `gorm:"index:idx_sessions_service_time"`
	LastSeen  time.Time `gorm:"index"`

	UserAgent  string
	Browser    string
	Device     string
	DeviceType string `gorm:"size:8"`
	OS         string

	// IP is empty when the service has IP collection disabled.
	IP       string
	ASN      string
	Country  string
	Longitude float64
	Latitude  float64
	TimeZone string

	// IsBounce holds whether the session has exactly one hit. It is
	// recomputed whenever a hit is added to the session.
	IsBounce bool
}

// Hit is a single page view within a session. Heartbeats extend an existing
// hit's LastSeen instead of creating new rows.
type Hit struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	SessionUUID string `gorm:"index;size:36;not null"`
	ServiceUUID string `gorm:"index:idx_hits_service_time;size:36;not null"`

	// Initial is true only for the first hit of a newly created session.
	Initial bool `gorm:"index"`

	StartTime time.Time `gorm:"index:idx_hits_service_time"`
	LastSeen  time.Time

	// Heartbeats counts the update pings folded into this hit.
	Heartbeats int

	Tracker  string `gorm:"size:8"`
	Location string
	Referrer string

	// LoadTime is the reported page load time in milliseconds. Non-positive
	// reports are stored as null.
	LoadTime sql.NullFloat64
}

// Duration is the time the session was observed for.
func (s *Session) Duration() time.Duration {
	return s.LastSeen.Sub(s.StartTime)
}

// Duration is the time this hit was kept alive by heartbeats.
func (h *Hit) Duration() time.Duration {
	return h.LastSeen.Sub(h.StartTime)
}
