// Package options holds the frozen-after-construction configuration that
// drives a single audit: seed URLs, element-class toggles, harvesting
// policy, cookie material, and URL-redundancy rules.
package options

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fathomsec/fathom/internal/domain/page"
)

const (
	productName    = "fathom"
	productVersion = "1.0"
)

// RedundancyRule deduplicates structurally similar URLs (e.g. paginated
// listings) so the spider doesn't audit thousands of near-identical pages.
// Count is a per-rule match budget that the redundancy engine decrements
// on every match; the report displays the counts as they stood before the
// scan, so the engine is always handed a CloneRules copy and the original
// rule set is kept for report emission.
type RedundancyRule struct {
	Pattern string
	Count   int
}

// CloneRules returns a deep copy of a redundancy rule slice.
func CloneRules(rules []RedundancyRule) []RedundancyRule {
	if rules == nil {
		return nil
	}
	out := make([]RedundancyRule, len(rules))
	copy(out, rules)
	return out
}

// Options is the user-supplied configuration for one audit run. It is
// conceptually immutable once audit() begins; the only documented
// post-run mutation is Cookies being reshaped into a name-value map for
// report consumption.
type Options struct {
	// RestrictPaths is an explicit seed list. Non-empty means the spider
	// is never started and the sitemap is exactly this list.
	RestrictPaths []string

	AuditLinks   bool
	AuditForms   bool
	AuditCookies bool
	AuditHeaders bool

	// HTTPHarvestLast selects the batching policy: false harvests after
	// every URL enqueue (requests fly immediately, low memory); true
	// defers harvesting until the queue is fully populated (higher
	// batching, higher memory).
	HTTPHarvestLast bool

	Cookies     []page.Cookie
	CookieJar   string
	CookieString string

	UserAgent string
	AuthedBy  string

	Redundant []RedundancyRule

	// LsMod, LsRep, LsPlug are conjunctive regexp filters applied by the
	// listing operations.
	LsMod  []string
	LsRep  []string
	LsPlug []string

	StartDatetime  time.Time
	FinishDatetime time.Time
	DeltaTime      time.Duration
}

// New constructs Options from raw input, normalizing cookies and the user
// agent string and deep-cloning redundancy rules. It fails with a
// missing-resource error if CookieJar is set but does not refer to an
// existing file.
func New(raw Options) (*Options, error) {
	o := raw
	o.Redundant = CloneRules(raw.Redundant)

	if o.CookieJar != "" {
		if _, err := os.Stat(o.CookieJar); err != nil {
			return nil, fmt.Errorf("options: cookie jar %q: %w", o.CookieJar, missingResourceError{err})
		}
	}

	if o.CookieString != "" {
		target := ""
		if len(o.RestrictPaths) > 0 {
			target = o.RestrictPaths[0]
		}
		merged, err := mergeCookieString(o.Cookies, o.CookieString, target)
		if err != nil {
			return nil, fmt.Errorf("options: cookie_string: %w", err)
		}
		o.Cookies = merged
	}

	if o.UserAgent == "" {
		o.UserAgent = fmt.Sprintf("%s/%s", productName, productVersion)
	}
	if o.AuthedBy != "" {
		o.UserAgent = fmt.Sprintf("%s (Scan authorized by: %s)", o.UserAgent, o.AuthedBy)
	}

	return &o, nil
}

// missingResourceError marks an error as a missing-resource construction
// failure, distinct from a validation failure, so callers can match on it.
type missingResourceError struct{ err error }

func (e missingResourceError) Error() string { return e.err.Error() }
func (e missingResourceError) Unwrap() error { return e.err }

// IsMissingResource reports whether err (or any error it wraps) denotes a
// missing-resource construction failure.
func IsMissingResource(err error) bool {
	for err != nil {
		if _, ok := err.(missingResourceError); ok {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// mergeCookieString splits a "k1=v1;k2=v2" serialization into Cookie
// elements scoped to target and merges them into existing by key
// uniqueness, with the serialized string taking precedence on collision.
// Each pair is split once on "="; key and value are kept byte-exact. Only
// the whitespace around a whole pair is tolerated, so "; "-separated
// strings still parse.
func mergeCookieString(existing []page.Cookie, serialized, target string) ([]page.Cookie, error) {
	byName := make(map[string]page.Cookie, len(existing))
	order := make([]string, 0, len(existing))
	for _, c := range existing {
		if _, ok := byName[c.Name]; !ok {
			order = append(order, c.Name)
		}
		byName[c.Name] = c
	}

	for _, part := range strings.Split(serialized, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("malformed cookie pair %q", part)
		}
		name := kv[0]
		value := kv[1]
		if _, ok := byName[name]; !ok {
			order = append(order, name)
		}
		byName[name] = page.Cookie{Name: name, Value: value, Domain: target}
	}

	out := make([]page.Cookie, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out, nil
}

// CookieMap reshapes Cookies into a name-to-value map for report
// consumption. This is the one documented post-run mutation point: callers
// invoke it once cleanup has finished.
func (o *Options) CookieMap() map[string]string {
	m := make(map[string]string, len(o.Cookies))
	for _, c := range o.Cookies {
		m[c.Name] = c.Value
	}
	return m
}
