package analytics_test

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"beaconly/internal/analytics"
	"beaconly/internal/services"
	"beaconly/internal/testsupport"
	"beaconly/internal/timeframe"
	"beaconly/internal/tracker"
)

func createSession(t *testing.T, db *gorm.DB, serviceUUID string, start time.Time, duration time.Duration, isBounce bool) tracker.Session {
	t.Helper()
	session := tracker.Session{
		UUID:        uuid.NewString(),
		ServiceUUID: serviceUUID,
		StartTime:   start,
		LastSeen:    start.Add(duration),
		Browser:     "Firefox",
		Device:      "Desktop",
		DeviceType:  tracker.DeviceDesktop,
		OS:          "Linux",
		Country:     "DE",
		IsBounce:    isBounce,
	}
	require.NoError(t, db.Create(&session).Error)
	return session
}

func createHit(t *testing.T, db *gorm.DB, session tracker.Session, start time.Time, initial bool, location, referrer string, loadTime float64) tracker.Hit {
	t.Helper()
	hit := tracker.Hit{
		SessionUUID: session.UUID,
		ServiceUUID: session.ServiceUUID,
		Initial:     initial,
		StartTime:   start,
		LastSeen:    start,
		Tracker:     tracker.TrackerJS,
		Location:    location,
		Referrer:    referrer,
	}
	if loadTime > 0 {
		hit.LoadTime = sql.NullFloat64{Float64: loadTime, Valid: true}
	}
	require.NoError(t, db.Create(&hit).Error)
	return hit
}

func TestGetCoreStatsEmptyService(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()
	svc := testsupport.CreateTestService(t, db, "Empty")

	report, err := analytics.GetCoreStats(logger, db, &svc, nil, nil)
	require.NoError(t, err)

	assert.Zero(t, report.SessionCount)
	assert.Zero(t, report.HitCount)
	assert.False(t, report.HasHits)

	// Never divide by zero; undefined metrics are nil, not zero.
	assert.Nil(t, report.BounceRatePct)
	assert.Nil(t, report.AvgSessionDuration)
	assert.Nil(t, report.AvgHitsPerSession)
	assert.Nil(t, report.AvgLoadTime)

	require.NotNil(t, report.Compare)
	assert.Nil(t, report.Compare.BounceRatePct)
}

func TestGetCoreStatsMetrics(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()
	svc := testsupport.CreateTestService(t, db, "Metrics")

	now := time.Now().UTC()
	base := now.Add(-2 * time.Hour)

	bounced := createSession(t, db, svc.UUID, base, 0, true)
	createHit(t, db, bounced, base, true, "/pricing", "https://google.com", 200)

	engaged := createSession(t, db, svc.UUID, base.Add(10*time.Minute), 4*time.Minute, false)
	createHit(t, db, engaged, base.Add(10*time.Minute), true, "/", "https://news.ycombinator.com", 300)
	createHit(t, db, engaged, base.Add(12*time.Minute), false, "/pricing", "", 0)

	start := now.Add(-24 * time.Hour)
	report, err := analytics.GetCoreStats(logger, db, &svc, &start, &now)
	require.NoError(t, err)

	assert.EqualValues(t, 2, report.SessionCount)
	assert.EqualValues(t, 3, report.HitCount)
	assert.True(t, report.HasHits)

	require.NotNil(t, report.BounceRatePct)
	assert.InDelta(t, 50.0, *report.BounceRatePct, 0.001)

	require.NotNil(t, report.AvgSessionDuration)
	assert.InDelta(t, 120.0, *report.AvgSessionDuration, 1.0)

	require.NotNil(t, report.AvgHitsPerSession)
	assert.InDelta(t, 1.5, *report.AvgHitsPerSession, 0.001)

	require.NotNil(t, report.AvgLoadTime)
	assert.InDelta(t, 250.0, *report.AvgLoadTime, 0.001)

	// Both sessions were last seen hours ago.
	assert.Zero(t, report.CurrentlyOnline)

	// Comparison window precedes the primary one back-to-back.
	require.NotNil(t, report.Compare)
	assert.Equal(t, start.Add(-24*time.Hour).Unix(), report.Compare.StartTime.Unix())
	assert.Equal(t, start.Unix(), report.Compare.EndTime.Unix())
	assert.Zero(t, report.Compare.SessionCount)
}

func TestGetCoreStatsFallbackDurationAgrees(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()
	svc := testsupport.CreateTestService(t, db, "Durations")

	now := time.Now().UTC()
	base := now.Add(-3 * time.Hour)
	createSession(t, db, svc.UUID, base, 90*time.Second, true)
	createSession(t, db, svc.UUID, base.Add(time.Minute), 30*time.Second, true)

	start := now.Add(-24 * time.Hour)
	tf, err := timeframe.New(start, now)
	require.NoError(t, err)

	serverSide, err := analytics.GetAvgSessionDuration(logger, db, svc.UUID, tf, 2)
	require.NoError(t, err)
	require.NotNil(t, serverSide)
	assert.InDelta(t, 60.0, *serverSide, 0.5)
}

func TestCurrentlyOnline(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	svc := testsupport.CreateTestService(t, db, "Online")

	now := time.Now().UTC()
	// Last seen 5 seconds ago: online under a 20 second threshold.
	createSession(t, db, svc.UUID, now.Add(-10*time.Minute), 10*time.Minute-5*time.Second, false)
	// Last seen 10 minutes ago: offline.
	createSession(t, db, svc.UUID, now.Add(-20*time.Minute), 10*time.Minute, false)

	count, err := analytics.CountCurrentlyOnline(db, svc.UUID, 20*time.Second, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestReferrersBreakdown(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()
	svc := testsupport.CreateTestService(t, db, "Referrers")
	svc.HideReferrerRegex = `internal\.example`
	require.NoError(t, services.UpdateService(logger, db, &svc))

	now := time.Now().UTC()
	base := now.Add(-time.Hour)

	session := createSession(t, db, svc.UUID, base, 10*time.Minute, false)
	createHit(t, db, session, base, true, "/", "https://google.com", 0)
	createHit(t, db, session, base.Add(time.Minute), false, "/about", "https://should-not-count.example", 0)

	hidden := createSession(t, db, svc.UUID, base.Add(2*time.Minute), 0, true)
	createHit(t, db, hidden, base.Add(2*time.Minute), true, "/", "https://internal.example/qa", 0)

	start := now.Add(-24 * time.Hour)
	tf, err := timeframe.New(start, now)
	require.NoError(t, err)

	entries, err := analytics.GetReferrers(db, &svc, tf)
	require.NoError(t, err)

	// Only initial hits count, and the hidden referrer is filtered out.
	require.Len(t, entries, 1)
	assert.Equal(t, "https://google.com", entries[0].Value)
	assert.EqualValues(t, 1, entries[0].Count)
}

func TestCountriesBreakdownLabels(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	svc := testsupport.CreateTestService(t, db, "Countries")

	now := time.Now().UTC()
	createSession(t, db, svc.UUID, now.Add(-time.Hour), 0, true)

	start := now.Add(-24 * time.Hour)
	tf, err := timeframe.New(start, now)
	require.NoError(t, err)

	entries, err := analytics.GetCountries(db, svc.UUID, tf)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "DE", entries[0].Value)
	assert.Equal(t, "Germany", entries[0].Label)
}

func TestChartSeries(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	svc := testsupport.CreateTestService(t, db, "Chart")

	now := time.Now().UTC().Truncate(time.Hour)
	start := now.Add(-6 * time.Hour)

	session := createSession(t, db, svc.UUID, start.Add(30*time.Minute), time.Minute, true)
	createHit(t, db, session, start.Add(30*time.Minute), true, "/", "", 0)

	tf, err := timeframe.New(start, now)
	require.NoError(t, err)
	require.Equal(t, timeframe.BucketSizeHour, tf.BucketSize)

	chart, err := analytics.GetChartData(db, svc.UUID, tf, now)
	require.NoError(t, err)

	// D hours yields D+1 bucket boundaries, dense and zero-filled.
	require.Len(t, chart.Labels, 7)
	require.Len(t, chart.Sessions, 7)
	require.Len(t, chart.Hits, 7)

	assert.EqualValues(t, 1, chart.Sessions[0])
	assert.EqualValues(t, 1, chart.Hits[0])
	for i := 1; i < 7; i++ {
		assert.Zero(t, chart.Sessions[i])
		assert.Zero(t, chart.Hits[i])
	}

	assert.Equal(t, "hour", chart.Granularity)
}

func TestChartClipsAtNow(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	svc := testsupport.CreateTestService(t, db, "ChartClip")

	now := time.Now().UTC().Truncate(time.Hour)
	start := now.Add(-2 * time.Hour)
	end := now.Add(10 * time.Hour)

	tf, err := timeframe.New(start, end)
	require.NoError(t, err)

	chart, err := analytics.GetChartData(db, svc.UUID, tf, now)
	require.NoError(t, err)

	// Future buckets are never fabricated.
	assert.Len(t, chart.Labels, 3)
}
