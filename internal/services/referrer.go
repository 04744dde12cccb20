package services

import (
	"go.elara.ws/pcre"
)

// ReferrerFilter hides referrers matching a service's configured pattern.
// A filter built from an empty or invalid pattern hides nothing.
type ReferrerFilter struct {
	regex *pcre.Regexp
}

// NewReferrerFilter compiles the service's hide-referrer pattern. Compilation
// failures are swallowed and yield a filter that matches nothing, so a bad
// pattern saved in settings never breaks the referrers breakdown.
func NewReferrerFilter(pattern string) *ReferrerFilter {
	if pattern == "" {
		return &ReferrerFilter{}
	}
	regex, err := pcre.Compile(pattern)
	if err != nil {
		return &ReferrerFilter{}
	}
	return &ReferrerFilter{regex: regex}
}

// Hidden reports whether the given referrer should be omitted.
func (f *ReferrerFilter) Hidden(referrer string) bool {
	if f.regex == nil {
		return false
	}
	return f.regex.MatchString(referrer)
}
