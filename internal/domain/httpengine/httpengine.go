// Package httpengine defines the HTTP harvesting engine's consumer-facing
// contract: an asynchronous, batch-harvested request scheduler plus a
// trainer that synthesizes extra pages from observed responses.
package httpengine

import "context"

// RequestOptions configures a single GET dispatched through the engine.
type RequestOptions struct {
	// RemoveID strips scan-internal tracking query parameters before the
	// request is sent, so crawl bookkeeping never reaches the origin.
	RemoveID bool
	Headers  map[string]string
	Cookies  map[string]string
}

// Response is the result of a harvested request.
type Response struct {
	URL        string
	StatusCode int
	Headers    map[string][]string
	Body       []byte
	// Redirected is true if the engine followed one or more redirects to
	// reach URL; the effective URL is URL itself.
	Redirected bool
	Err        error
}

// CompletionFunc is invoked on the engine's dispatch loop once a request
// completes, successfully or not.
type CompletionFunc func(resp *Response)

// Engine is the HTTP harvesting scheduler the orchestrator depends on. Get
// enqueues a request and returns immediately; the callback fires when Run
// drains the queue.
type Engine interface {
	// Get enqueues url for fetching and registers a callback to run once
	// the response (or error) is available.
	Get(ctx context.Context, url string, opts RequestOptions, onComplete CompletionFunc)
	// Run synchronously executes every outstanding request to completion.
	// This is the harvest point: it blocks until every enqueued request
	// has dispatched its callback.
	Run(ctx context.Context)
	// Trainer exposes the engine's page-synthesis side channel.
	Trainer() Trainer
	// Stats returns a snapshot of the engine's counters.
	Stats() Stats
}

// Trainer accumulates pages synthesized from observed responses —
// redirects, content-type surprises, and the like — that the orchestrator
// should fold into its own sitemap/page queue even though they were never
// explicitly requested.
type Trainer interface {
	// FlushPages returns and clears all pages accumulated since the last
	// flush.
	FlushPages() []TrainedPage
}

// TrainedPage is a page synthesized by the trainer, keyed by the URL the
// orchestrator should treat it as having originated from.
type TrainedPage struct {
	URL      string
	Response *Response
}

// Stats is an immutable snapshot of the engine's runtime counters.
type Stats struct {
	RequestCount     int64
	ResponseCount    int64
	TimeoutCount     int64
	CurrResTime      float64
	CurrResCount     int64
	CurrResPerSecond float64
	AverageResTime   float64
	MaxConcurrency   int
}
