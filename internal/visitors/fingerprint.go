// Package visitors derives anonymous visitor identities from client
// attributes and keeps the short-lived fingerprint to session mapping.
package visitors

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// FingerprintInput carries the client attributes a fingerprint is derived
// from. None of them are stored; only the resulting digest lives in memory
// for the identity cache TTL.
type FingerprintInput struct {
	ServiceUUID string
	IP          string
	UserAgent   string
}

// Fingerprint computes the anonymous visitor digest. The instance private
// key salts every digest so fingerprints cannot be recomputed off-box. With
// aggressive salting the current UTC date and the service UUID are mixed in,
// which caps any identity's lifetime at one day and prevents cross-service
// correlation.
func Fingerprint(input FingerprintInput, privateKey string, aggressive bool, now time.Time) string {
	h := sha256.New()
	h.Write([]byte(privateKey))
	h.Write([]byte(input.IP))
	h.Write([]byte(input.UserAgent))
	if aggressive {
		h.Write([]byte(input.ServiceUUID))
		h.Write([]byte(now.UTC().Format("2006-01-02")))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CacheKey namespaces a fingerprint by service for the identity cache.
func CacheKey(serviceUUID, fingerprint string) string {
	return serviceUUID + ":" + fingerprint
}
