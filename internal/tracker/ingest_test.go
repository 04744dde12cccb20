package tracker_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"beaconly/internal/config"
	"beaconly/internal/services"
	"beaconly/internal/testsupport"
	"beaconly/internal/tracker"
	"beaconly/internal/visitors"
)

const (
	desktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	botUA     = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
)

func testConfig() *config.Config {
	return &config.Config{
		PrivateKey:           "test-private-key",
		AggressiveSalting:    false,
		SessionMemorySeconds: 1800,
		HeartbeatSeconds:     10,
	}
}

func newTestTracker(t *testing.T) (*tracker.Tracker, *gorm.DB) {
	t.Helper()
	db := testsupport.SetupTestDB(t)

	cache, err := visitors.NewIdentityCache(30 * time.Minute)
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	return tracker.NewTracker(testsupport.GetLogger(), db, cache, testConfig()), db
}

func baseRequest(serviceUUID string) tracker.Request {
	return tracker.Request{
		ServiceUUID:      serviceUUID,
		Tracker:          tracker.TrackerJS,
		Timestamp:        time.Now().UTC(),
		ClientIP:         "203.0.113.7",
		ReferrerLocation: "https://shop.example.com/products",
		UserAgent:        desktopUA,
	}
}

func countSessions(t *testing.T, db *gorm.DB, serviceUUID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&tracker.Session{}).Where("service_uuid = ?", serviceUUID).Count(&n).Error)
	return n
}

func countHits(t *testing.T, db *gorm.DB, serviceUUID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&tracker.Hit{}).Where("service_uuid = ?", serviceUUID).Count(&n).Error)
	return n
}

func TestIngestGuards(t *testing.T) {
	trk, db := newTestTracker(t)
	logger := testsupport.GetLogger()

	t.Run("archived service records nothing and reports success", func(t *testing.T) {
		svc := testsupport.CreateTestService(t, db, "Archived")
		require.NoError(t, services.ArchiveService(logger, db, svc.UUID))

		require.NoError(t, trk.Ingest(baseRequest(svc.UUID)))
		assert.Zero(t, countSessions(t, db, svc.UUID))
		assert.Zero(t, countHits(t, db, svc.UUID))
	})

	t.Run("unknown service records nothing", func(t *testing.T) {
		require.NoError(t, trk.Ingest(baseRequest("00000000-0000-0000-0000-000000000000")))
	})

	t.Run("DNT respected when the service opts in", func(t *testing.T) {
		svc := testsupport.CreateTestService(t, db, "DNTRespect")

		req := baseRequest(svc.UUID)
		req.DoNotTrack = true
		require.NoError(t, trk.Ingest(req))
		assert.Zero(t, countSessions(t, db, svc.UUID))
	})

	t.Run("DNT ignored when the service opts out", func(t *testing.T) {
		svc := testsupport.CreateTestService(t, db, "DNTIgnore")
		svc.RespectDNT = false
		require.NoError(t, services.UpdateService(logger, db, &svc))

		req := baseRequest(svc.UUID)
		req.DoNotTrack = true
		require.NoError(t, trk.Ingest(req))
		assert.EqualValues(t, 1, countSessions(t, db, svc.UUID))
	})

	t.Run("ignored network drops the request", func(t *testing.T) {
		svc := testsupport.CreateTestService(t, db, "Ignored")
		svc.IgnoredNetworks = "203.0.113.0/24"
		require.NoError(t, services.UpdateService(logger, db, &svc))

		require.NoError(t, trk.Ingest(baseRequest(svc.UUID)))
		assert.Zero(t, countSessions(t, db, svc.UUID))
	})

	t.Run("malformed client IP fails open", func(t *testing.T) {
		svc := testsupport.CreateTestService(t, db, "Malformed")
		svc.IgnoredNetworks = "203.0.113.0/24"
		require.NoError(t, services.UpdateService(logger, db, &svc))

		req := baseRequest(svc.UUID)
		req.ClientIP = "not-an-ip"
		require.NoError(t, trk.Ingest(req))
		assert.EqualValues(t, 1, countSessions(t, db, svc.UUID))
	})

	t.Run("robot dropped when the service ignores robots", func(t *testing.T) {
		svc := testsupport.CreateTestService(t, db, "NoRobots")

		req := baseRequest(svc.UUID)
		req.UserAgent = botUA
		require.NoError(t, trk.Ingest(req))
		assert.Zero(t, countSessions(t, db, svc.UUID))
	})

	t.Run("robot recorded when the service accepts robots", func(t *testing.T) {
		svc := testsupport.CreateTestService(t, db, "Robots")
		svc.IgnoreRobots = false
		require.NoError(t, services.UpdateService(logger, db, &svc))

		req := baseRequest(svc.UUID)
		req.UserAgent = botUA
		require.NoError(t, trk.Ingest(req))

		var session tracker.Session
		require.NoError(t, db.Where("service_uuid = ?", svc.UUID).First(&session).Error)
		assert.Equal(t, tracker.DeviceRobot, session.DeviceType)
	})
}

func TestIngestSessionContinuity(t *testing.T) {
	trk, db := newTestTracker(t)
	svc := testsupport.CreateTestService(t, db, "Continuity")

	first := baseRequest(svc.UUID)
	require.NoError(t, trk.Ingest(first))

	second := first
	second.Timestamp = first.Timestamp.Add(time.Second)
	second.Payload.Location = "https://shop.example.com/checkout"
	require.NoError(t, trk.Ingest(second))

	assert.EqualValues(t, 1, countSessions(t, db, svc.UUID))
	assert.EqualValues(t, 2, countHits(t, db, svc.UUID))

	var session tracker.Session
	require.NoError(t, db.Where("service_uuid = ?", svc.UUID).First(&session).Error)
	assert.False(t, session.IsBounce)
	assert.Equal(t, second.Timestamp.Unix(), session.LastSeen.Unix())

	var hits []tracker.Hit
	require.NoError(t, db.Where("session_uuid = ?", session.UUID).Order("id ASC").Find(&hits).Error)
	assert.True(t, hits[0].Initial)
	assert.False(t, hits[1].Initial)
}

func TestIngestBounceInvariant(t *testing.T) {
	trk, db := newTestTracker(t)
	svc := testsupport.CreateTestService(t, db, "Bounce")

	req := baseRequest(svc.UUID)
	require.NoError(t, trk.Ingest(req))

	var session tracker.Session
	require.NoError(t, db.Where("service_uuid = ?", svc.UUID).First(&session).Error)
	assert.True(t, session.IsBounce)

	req.Timestamp = req.Timestamp.Add(time.Second)
	require.NoError(t, trk.Ingest(req))

	require.NoError(t, db.Where("uuid = ?", session.UUID).First(&session).Error)
	assert.False(t, session.IsBounce)
}

func TestIngestHeartbeats(t *testing.T) {
	trk, db := newTestTracker(t)
	svc := testsupport.CreateTestService(t, db, "Heartbeat")

	req := baseRequest(svc.UUID)
	req.Payload.Idempotency = "page-view-1"
	require.NoError(t, trk.Ingest(req))

	req.Timestamp = req.Timestamp.Add(10 * time.Second)
	require.NoError(t, trk.Ingest(req))
	req.Timestamp = req.Timestamp.Add(10 * time.Second)
	require.NoError(t, trk.Ingest(req))

	assert.EqualValues(t, 1, countHits(t, db, svc.UUID))

	var hit tracker.Hit
	require.NoError(t, db.Where("service_uuid = ?", svc.UUID).First(&hit).Error)
	assert.Equal(t, 2, hit.Heartbeats)
	assert.Equal(t, req.Timestamp.Unix(), hit.LastSeen.Unix())

	// Heartbeats never un-bounce a session.
	var session tracker.Session
	require.NoError(t, db.Where("service_uuid = ?", svc.UUID).First(&session).Error)
	assert.True(t, session.IsBounce)
}

func TestIngestIdentifierBackfill(t *testing.T) {
	trk, db := newTestTracker(t)
	svc := testsupport.CreateTestService(t, db, "Backfill")

	anon := baseRequest(svc.UUID)
	require.NoError(t, trk.Ingest(anon))

	var session tracker.Session
	require.NoError(t, db.Where("service_uuid = ?", svc.UUID).First(&session).Error)
	assert.Empty(t, session.Identifier)

	// First supplied identifier is backfilled onto the open session.
	identified := anon
	identified.Timestamp = anon.Timestamp.Add(time.Second)
	identified.Identifier = "user-42"
	require.NoError(t, trk.Ingest(identified))

	require.NoError(t, db.Where("uuid = ?", session.UUID).First(&session).Error)
	assert.Equal(t, "user-42", session.Identifier)

	// Later identifiers never overwrite it.
	conflicting := identified
	conflicting.Timestamp = identified.Timestamp.Add(time.Second)
	conflicting.Identifier = "user-99"
	require.NoError(t, trk.Ingest(conflicting))

	require.NoError(t, db.Where("uuid = ?", session.UUID).First(&session).Error)
	assert.Equal(t, "user-42", session.Identifier)

	assert.EqualValues(t, 1, countSessions(t, db, svc.UUID))
}

func TestIngestLoadTime(t *testing.T) {
	trk, db := newTestTracker(t)
	svc := testsupport.CreateTestService(t, db, "LoadTime")

	t.Run("negative load time stored as null", func(t *testing.T) {
		req := baseRequest(svc.UUID)
		req.Payload.LoadTime = -5
		require.NoError(t, trk.Ingest(req))

		var hit tracker.Hit
		require.NoError(t, db.Where("service_uuid = ?", svc.UUID).Order("id DESC").First(&hit).Error)
		assert.False(t, hit.LoadTime.Valid)
	})

	t.Run("positive load time stored", func(t *testing.T) {
		req := baseRequest(svc.UUID)
		req.Payload.LoadTime = 420.5
		require.NoError(t, trk.Ingest(req))

		var hit tracker.Hit
		require.NoError(t, db.Where("service_uuid = ?", svc.UUID).Order("id DESC").First(&hit).Error)
		require.True(t, hit.LoadTime.Valid)
		assert.InDelta(t, 420.5, hit.LoadTime.Float64, 0.001)
	})
}

func TestIngestIPCollection(t *testing.T) {
	trk, db := newTestTracker(t)
	logger := testsupport.GetLogger()

	t.Run("IP stored when collection enabled", func(t *testing.T) {
		svc := testsupport.CreateTestService(t, db, "WithIP")
		require.NoError(t, trk.Ingest(baseRequest(svc.UUID)))

		var session tracker.Session
		require.NoError(t, db.Where("service_uuid = ?", svc.UUID).First(&session).Error)
		assert.Equal(t, "203.0.113.7", session.IP)
	})

	t.Run("IP withheld when collection disabled", func(t *testing.T) {
		svc := testsupport.CreateTestService(t, db, "NoIP")
		svc.CollectIPs = false
		require.NoError(t, services.UpdateService(logger, db, &svc))

		require.NoError(t, trk.Ingest(baseRequest(svc.UUID)))

		var session tracker.Session
		require.NoError(t, db.Where("service_uuid = ?", svc.UUID).First(&session).Error)
		assert.Empty(t, session.IP)
	})
}

func TestIngestLocationOverride(t *testing.T) {
	trk, db := newTestTracker(t)
	svc := testsupport.CreateTestService(t, db, "Location")

	req := baseRequest(svc.UUID)
	req.Payload.Location = "https://shop.example.com/canonical"
	require.NoError(t, trk.Ingest(req))

	var hit tracker.Hit
	require.NoError(t, db.Where("service_uuid = ?", svc.UUID).First(&hit).Error)
	assert.Equal(t, "https://shop.example.com/canonical", hit.Location)
}

func TestIngestHeartbeatStaleCacheEntry(t *testing.T) {
	trk, db := newTestTracker(t)
	svc := testsupport.CreateTestService(t, db, "Stalebeat")

	req := baseRequest(svc.UUID)
	req.Payload.Idempotency = "page-1"
	require.NoError(t, trk.Ingest(req))
	assert.EqualValues(t, 1, countHits(t, db, svc.UUID))

	// Drop the stored hit while the idempotency key is still cached.
	require.NoError(t, db.Where("service_uuid = ?", svc.UUID).Delete(&tracker.Hit{}).Error)
	assert.Zero(t, countHits(t, db, svc.UUID))

	// The delivery must not be lost; a fresh hit replaces the missing one.
	require.NoError(t, trk.Ingest(req))
	assert.EqualValues(t, 1, countHits(t, db, svc.UUID))

	var hit tracker.Hit
	require.NoError(t, db.Where("service_uuid = ?", svc.UUID).First(&hit).Error)
	assert.Zero(t, hit.Heartbeats)

	// Subsequent deliveries fold into the replacement hit again.
	require.NoError(t, trk.Ingest(req))
	require.NoError(t, db.Where("service_uuid = ?", svc.UUID).First(&hit).Error)
	assert.Equal(t, 1, hit.Heartbeats)
	assert.EqualValues(t, 1, countHits(t, db, svc.UUID))
}

func TestIngestDatastoreFailure(t *testing.T) {
	trk, db := newTestTracker(t)
	svc := testsupport.CreateTestService(t, db, "Failing")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	// A broken datastore is not a trust-boundary rejection; the error must
	// reach the dispatch layer instead of vanishing as a silent success.
	err = trk.Ingest(baseRequest(svc.UUID))
	require.Error(t, err)
}
