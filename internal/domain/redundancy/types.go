// Package redundancy decides whether a discovered URL is a redundant
// instance of an already-seen pattern (paginated listings, per-item
// detail pages differing only by id) so the spider doesn't audit
// thousands of near-identical pages.
package redundancy

// MatchContext is what a rule's expression is evaluated against: enough
// of a candidate URL and its would-be page to decide redundancy without
// requiring a full fetch first.
type MatchContext struct {
	URL         string
	Host        string
	Path        string
	LinkCount   int
	FormCount   int
	CookieCount int
	HeaderCount int
}
