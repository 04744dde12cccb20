package services_test

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beaconly/internal/services"
	"beaconly/internal/testsupport"
)

func TestGetActiveService(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()

	svc := testsupport.CreateTestService(t, db, "Shop")

	t.Run("returns active service", func(t *testing.T) {
		found, err := services.GetActiveService(db, svc.UUID)
		require.NoError(t, err)
		assert.Equal(t, "Shop", found.Name)
	})

	t.Run("unknown uuid yields not found", func(t *testing.T) {
		_, err := services.GetActiveService(db, "00000000-0000-0000-0000-000000000000")
		var notFound *services.ServiceNotFoundError
		require.ErrorAs(t, err, &notFound)
	})

	t.Run("archived service is indistinguishable from unknown", func(t *testing.T) {
		require.NoError(t, services.ArchiveService(logger, db, svc.UUID))

		_, err := services.GetActiveService(db, svc.UUID)
		var notFound *services.ServiceNotFoundError
		require.ErrorAs(t, err, &notFound)

		// still reachable when status is not filtered
		found, err := services.GetServiceByUUID(db, svc.UUID)
		require.NoError(t, err)
		assert.Equal(t, services.StatusArchived, found.Status)
	})
}

func TestIgnoredNetworks(t *testing.T) {
	svc := services.Service{IgnoredNetworks: "10.0.0.0/8, 192.168.1.50, bogus, 2001:db8::/32"}

	networks := svc.GetIgnoredNetworks()
	require.Len(t, networks, 3)

	t.Run("contains covers ranges and single hosts", func(t *testing.T) {
		assert.True(t, svc.IgnoresIP(netip.MustParseAddr("10.20.30.40")))
		assert.True(t, svc.IgnoresIP(netip.MustParseAddr("192.168.1.50")))
		assert.False(t, svc.IgnoresIP(netip.MustParseAddr("192.168.1.51")))
	})

	t.Run("mixed IP versions never match", func(t *testing.T) {
		// 10.0.0.0/8 must not capture v4-mapped v6 addresses
		assert.False(t, svc.IgnoresIP(netip.MustParseAddr("::ffff:10.0.0.1")))
		assert.True(t, svc.IgnoresIP(netip.MustParseAddr("2001:db8::1")))
	})
}

func TestAllowsOrigin(t *testing.T) {
	wildcard := services.Service{Origins: "*"}
	assert.True(t, wildcard.AllowsOrigin("https://anything.example"))

	scoped := services.Service{Origins: "https://a.example, https://b.example"}
	assert.True(t, scoped.AllowsOrigin("https://b.example"))
	assert.True(t, scoped.AllowsOrigin("HTTPS://A.EXAMPLE"))
	assert.False(t, scoped.AllowsOrigin("https://c.example"))
}

func TestReferrerFilter(t *testing.T) {
	t.Run("matching referrers are hidden", func(t *testing.T) {
		filter := services.NewReferrerFilter(`^https://(www\.)?internal\.example`)
		assert.True(t, filter.Hidden("https://internal.example/dashboard"))
		assert.False(t, filter.Hidden("https://google.com"))
	})

	t.Run("empty pattern hides nothing", func(t *testing.T) {
		filter := services.NewReferrerFilter("")
		assert.False(t, filter.Hidden("https://internal.example"))
	})

	t.Run("invalid pattern hides nothing", func(t *testing.T) {
		filter := services.NewReferrerFilter("([unclosed")
		assert.False(t, filter.Hidden("anything"))
	})
}
