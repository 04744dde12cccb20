package tracker

import (
	"database/sql"
	"fmt"
	"net"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"beaconly/internal/config"
	"beaconly/internal/pkg/geoip"
	"beaconly/internal/pkg/user_agent"
	"beaconly/internal/services"
	"beaconly/internal/visitors"
)

// Payload carries the client-controlled fields of a tracking request.
type Payload struct {
	// Idempotency coalesces heartbeat deliveries for one page view.
	Idempotency string

	// LoadTime is the reported load time in milliseconds. Non-positive
	// values are treated as absent.
	LoadTime float64

	// Location overrides the HTTP referrer as the viewed page URL.
	Location string

	Referrer string
}

// Request is one tracking delivery handed to the ingestion pipeline.
type Request struct {
	ServiceUUID string
	Tracker     string
	Timestamp   time.Time
	ClientIP    string

	// ReferrerLocation is the HTTP Referer header, i.e. the page the
	// tracker loaded from. Used as the hit location unless the payload
	// overrides it.
	ReferrerLocation string

	UserAgent  string
	DoNotTrack bool
	Identifier string
	Payload    Payload
}

// Tracker runs the ingestion pipeline. Safe for concurrent use; the identity
// cache is the only shared fast-path state.
type Tracker struct {
	logger *slog.Logger
	db     *gorm.DB
	cache  visitors.IdentityCache
	cfg    *config.Config
}

func NewTracker(logger *slog.Logger, db *gorm.DB, cache visitors.IdentityCache, cfg *config.Config) *Tracker {
	return &Tracker{logger: logger, db: db, cache: cache, cfg: cfg}
}

// Ingest records one tracking request. Trust-boundary rejections (inactive
// service, DNT, ignored network, ignored robot) return nil so the caller
// cannot tell them from success. Only unexpected datastore failures surface,
// for the dispatch layer's logging.
func (t *Tracker) Ingest(req Request) error {
	service, verdict, err := guardActiveService(t.db, req.ServiceUUID)
	if err != nil {
		return fmt.Errorf("service lookup failed: %w", err)
	}
	if !verdict.Proceed {
		return nil
	}

	if verdict = guardDoNotTrack(service, req.DoNotTrack); !verdict.Proceed {
		return nil
	}

	if verdict = guardIgnoredNetworks(t.logger, service, req.ClientIP); !verdict.Proceed {
		return nil
	}

	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}

	fingerprint := visitors.Fingerprint(visitors.FingerprintInput{
		ServiceUUID: service.UUID,
		IP:          req.ClientIP,
		UserAgent:   req.UserAgent,
	}, t.cfg.PrivateKey, t.cfg.AggressiveSalting, req.Timestamp)
	sessionKey := visitors.CacheKey(service.UUID, fingerprint)

	session, isNew, err := t.resolveSession(service, sessionKey, req)
	if err != nil {
		return fmt.Errorf("session resolution failed: %w", err)
	}
	if session == nil {
		// Robot traffic the service ignores.
		return nil
	}

	if err := t.resolveHit(session, isNew, req); err != nil {
		return fmt.Errorf("hit resolution failed: %w", err)
	}

	return nil
}

// resolveSession finds the visitor's open session via the identity cache or
// creates a new one. A nil session with nil error means the request was
// silently dropped by the robot guard.
func (t *Tracker) resolveSession(service *services.Service, sessionKey string, req Request) (*Session, bool, error) {
	if sessionUUID, found := t.cache.Get(sessionKey); found {
		var session Session
		err := t.db.Where("uuid = ? AND service_uuid = ?", sessionUUID, service.UUID).First(&session).Error
		if err == nil {
			t.cache.Touch(sessionKey, sessionUUID)
			if err := t.touchSession(&session, req); err != nil {
				return nil, false, err
			}
			return &session, false, nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, false, err
		}
		// Stale cache entry, fall through to the new-visitor path.
	}

	ua := user_agent.ParseUserAgent(req.UserAgent)
	deviceType := classifyDeviceType(ua)

	if verdict := guardRobot(service, deviceType); !verdict.Proceed {
		return nil, false, nil
	}

	location := geoip.Lookup(net.ParseIP(req.ClientIP))

	session := Session{
		UUID:        uuid.NewString(),
		ServiceUUID: service.UUID,
		Identifier:  req.Identifier,
		StartTime:   req.Timestamp,
		LastSeen:    req.Timestamp,
		UserAgent:   req.UserAgent,
		Browser:     ua.Browser,
		Device:      ua.Device,
		DeviceType:  deviceType,
		OS:          ua.OS,
		ASN:         location.ASN,
		Country:     location.Country,
		Longitude:   location.Longitude,
		Latitude:    location.Latitude,
		TimeZone:    location.TimeZone,
		IsBounce:    true,
	}

	if service.CollectIPs && !t.cfg.BlockAllIPs {
		session.IP = req.ClientIP
	}

	err := sqlite.PerformWrite(t.logger, t.db, func(tx *gorm.DB) error {
		return tx.Create(&session).Error
	})
	if err != nil {
		return nil, false, err
	}

	t.cache.Set(sessionKey, session.UUID)
	return &session, true, nil
}

// touchSession advances a returning visitor's last-seen and backfills the
// identifier once. The first non-empty identifier wins; it is never
// overwritten afterwards.
func (t *Tracker) touchSession(session *Session, req Request) error {
	updates := map[string]any{"last_seen": req.Timestamp}
	if session.Identifier == "" && req.Identifier != "" {
		updates["identifier"] = req.Identifier
		session.Identifier = req.Identifier
	}
	session.LastSeen = req.Timestamp

	return sqlite.PerformWrite(t.logger, t.db, func(tx *gorm.DB) error {
		return tx.Model(&Session{}).Where("uuid = ?", session.UUID).Updates(updates).Error
	})
}

func hitCacheKey(sessionUUID, idempotency string) string {
	return "hit:" + sessionUUID + ":" + idempotency
}

// resolveHit either folds the delivery into an existing hit as a heartbeat
// or creates a new hit and recomputes the session's bounce flag.
func (t *Tracker) resolveHit(session *Session, newSession bool, req Request) error {
	if req.Payload.Idempotency != "" {
		key := hitCacheKey(session.UUID, req.Payload.Idempotency)
		if hitID, found := t.cache.Get(key); found {
			updated, err := t.heartbeat(session, hitID, req.Timestamp)
			if err != nil {
				return err
			}
			if updated {
				t.cache.Touch(key, hitID)
				return nil
			}
			// The cached hit no longer exists; record a fresh one below.
		}
	}

	location := req.Payload.Location
	if location == "" {
		location = req.ReferrerLocation
	}

	hit := Hit{
		SessionUUID: session.UUID,
		ServiceUUID: session.ServiceUUID,
		Initial:     newSession,
		StartTime:   req.Timestamp,
		LastSeen:    req.Timestamp,
		Heartbeats:  0,
		Tracker:     req.Tracker,
		Location:    location,
		Referrer:    req.Payload.Referrer,
	}
	if req.Payload.LoadTime > 0 {
		hit.LoadTime = sql.NullFloat64{Float64: req.Payload.LoadTime, Valid: true}
	}

	err := sqlite.PerformWrite(t.logger, t.db, func(tx *gorm.DB) error {
		if err := tx.Create(&hit).Error; err != nil {
			return err
		}
		return recalculateBounce(tx, session)
	})
	if err != nil {
		return err
	}

	if req.Payload.Idempotency != "" {
		t.cache.Set(hitCacheKey(session.UUID, req.Payload.Idempotency), fmt.Sprintf("%d", hit.ID))
	}
	return nil
}

// heartbeat bumps an already-recorded hit instead of creating a new row.
// Returns false when the hit id matches no row anymore.
func (t *Tracker) heartbeat(session *Session, hitID string, timestamp time.Time) (bool, error) {
	var affected int64
	err := sqlite.PerformWrite(t.logger, t.db, func(tx *gorm.DB) error {
		result := tx.Exec(`
            UPDATE hits
            SET heartbeats = heartbeats + 1, last_seen = ?
            WHERE id = ? AND session_uuid = ?
        `, timestamp, hitID, session.UUID)
		if result.Error != nil {
			return result.Error
		}
		affected = result.RowsAffected
		return nil
	})
	return affected > 0, err
}

// recalculateBounce reasserts is_bounce == (hit count == 1), writing only
// when the flag actually changed.
func recalculateBounce(tx *gorm.DB, session *Session) error {
	var count int64
	if err := tx.Model(&Hit{}).Where("session_uuid = ?", session.UUID).Count(&count).Error; err != nil {
		return err
	}

	isBounce := count == 1
	if isBounce == session.IsBounce {
		return nil
	}

	session.IsBounce = isBounce
	return tx.Model(&Session{}).Where("uuid = ?", session.UUID).
		Update("is_bounce", isBounce).Error
}
