package user_agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	chromeDesktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	iphoneSafariUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1"
	ipadUA          = "Mozilla/5.0 (iPad; CPU OS 16_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Mobile/15E148 Safari/604.1"
	googlebotUA     = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
)

func TestParseUserAgentDesktop(t *testing.T) {
	ua := ParseUserAgent(chromeDesktopUA)
	assert.Equal(t, "Chrome", ua.Browser)
	assert.Equal(t, "Windows", ua.OS)
	assert.True(t, ua.Desktop)
	assert.False(t, ua.Mobile)
	assert.False(t, ua.Bot)
}

func TestParseUserAgentMobile(t *testing.T) {
	ua := ParseUserAgent(iphoneSafariUA)
	assert.Equal(t, "Safari", ua.Browser)
	assert.Equal(t, "iOS", ua.OS)
	assert.True(t, ua.Mobile)
	assert.False(t, ua.Desktop)
}

func TestParseUserAgentTablet(t *testing.T) {
	ua := ParseUserAgent(ipadUA)
	assert.True(t, ua.Tablet)
	assert.False(t, ua.Mobile)
}

func TestParseUserAgentBots(t *testing.T) {
	t.Run("googlebot", func(t *testing.T) {
		ua := ParseUserAgent(googlebotUA)
		assert.True(t, ua.Bot)
		assert.Equal(t, "Googlebot", ua.Browser)
	})

	t.Run("curl", func(t *testing.T) {
		assert.True(t, ParseUserAgent("curl/8.4.0").Bot)
	})

	t.Run("generic crawler keyword", func(t *testing.T) {
		assert.True(t, ParseUserAgent("MySpecial-Crawler/1.0").Bot)
	})
}

func TestParseUserAgentEmpty(t *testing.T) {
	ua := ParseUserAgent("")
	assert.Equal(t, "Unknown", ua.Browser)
	assert.Equal(t, "Unknown", ua.OS)
	assert.False(t, ua.Bot)
}
