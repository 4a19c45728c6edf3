// Package validation provides URL sanitization for the audit pipeline.
package validation

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// MaxURLLength bounds a single URL to prevent memory exhaustion from a
// pathologically long seed or discovered link.
const MaxURLLength = 8192

// trackingParams lists query parameters considered scan-internal noise,
// stripped before a URL is either stored in the sitemap or dispatched to
// the HTTP engine.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"fbclid":       {},
	"gclid":        {},
	"_id":          {},
}

// Sanitizer absolutizes and cleans URLs before they enter the pipeline.
type Sanitizer struct {
	base *url.URL
}

// NewSanitizer creates a Sanitizer that resolves relative references
// against base.
func NewSanitizer(base *url.URL) *Sanitizer {
	return &Sanitizer{base: base}
}

// Absolutize resolves raw against the sanitizer's base URL, rejecting
// anything that isn't an http(s) URL once resolved.
func (s *Sanitizer) Absolutize(raw string) (string, error) {
	if len(raw) > MaxURLLength {
		return "", NewValidationError(ErrCodeInvalidURL, "url exceeds maximum length")
	}
	raw = strings.TrimSpace(strings.ReplaceAll(raw, "\x00", ""))
	if raw == "" {
		return "", NewValidationError(ErrCodeInvalidURL, "url is empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", NewValidationError(ErrCodeInvalidURL, fmt.Sprintf("malformed url: %v", err))
	}

	if s.base != nil {
		u = s.base.ResolveReference(u)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", NewValidationError(ErrCodeMissingScheme, "url must be http or https")
	}

	return u.String(), nil
}

// RemoveTrackingParams strips scan-internal tracking query parameters from
// raw. Remaining parameters are re-encoded sorted by key, so their
// original order is not preserved.
func RemoveTrackingParams(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", NewValidationError(ErrCodeInvalidURL, fmt.Sprintf("malformed url: %v", err))
	}

	q := u.Query()
	for k := range trackingParams {
		q.Del(k)
	}

	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := url.Values{}
	for _, k := range keys {
		values[k] = q[k]
	}
	u.RawQuery = values.Encode()

	return u.String(), nil
}

// SanitizeSeed absolutizes raw and strips tracking parameters in one step,
// the normalization `audit()` applies to every entry of restrict_paths.
func (s *Sanitizer) SanitizeSeed(raw string) (string, error) {
	abs, err := s.Absolutize(raw)
	if err != nil {
		return "", err
	}
	return RemoveTrackingParams(abs)
}
