// Package httpengine is the concrete net/http implementation of the
// harvesting scheduler (internal/domain/httpengine). Requests enqueued via
// Get are dispatched concurrently, bounded by a weighted semaphore and
// throttled per host by a politeness rate limiter, and drained by Run.
package httpengine

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/fathomsec/fathom/internal/domain/httpengine"
	"github.com/fathomsec/fathom/internal/domain/ratelimit"
)

// Credential is the HTTP Basic Auth credential presented to the target
// application while a scan runs. Unlike auth.Credential (which stores only
// a password hash for persistence), this carries the raw password in
// memory for the lifetime of the scan only.
type Credential struct {
	Username string
	Password string
	// Realm restricts the credential to requests whose host matches Realm;
	// empty applies it to every request the engine issues.
	Realm string
}

// AppliesTo reports whether the credential should be presented for target.
func (c *Credential) AppliesTo(target string) bool {
	if c.Realm == "" {
		return true
	}
	return hostOf(target) == c.Realm
}

// maxResponseBodySize bounds a single harvested response body, preventing a
// malicious or misbehaving target from exhausting memory during a scan.
const maxResponseBodySize = 10 * 1024 * 1024 // 10MB

// StatsRecorder receives per-request accounting events as the engine
// dispatches its batches. service.StatsService satisfies it; the engine
// keeps its own counters for Stats() either way, so a recorder is purely
// additive.
type StatsRecorder interface {
	RecordRequest()
	RecordResponse(statusCode int)
	RecordTimeout()
	RecordError()
}

var tracer = otel.Tracer("github.com/fathomsec/fathom/internal/adapter/outbound/httpengine")

// pendingRequest is one queued-but-not-yet-dispatched Get call.
type pendingRequest struct {
	url        string
	opts       httpengine.RequestOptions
	onComplete httpengine.CompletionFunc
}

// Engine is the concrete HTTP harvesting scheduler.
type Engine struct {
	client      *http.Client
	sem         *semaphore.Weighted
	concurrency int
	limiter     ratelimit.RateLimiter
	limiterCfg  ratelimit.RateLimitConfig
	credential  *Credential
	logger      *slog.Logger
	recorder    StatsRecorder

	trainer *trainer

	mu      sync.Mutex
	pending []pendingRequest

	requestCount  atomic.Int64
	responseCount atomic.Int64
	timeoutCount  atomic.Int64
	totalResNanos atomic.Int64

	// Counters for the most recent harvest batch, backing the
	// current-burst averages in Stats.
	currResCount atomic.Int64
	currResNanos atomic.Int64
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithRateLimiter installs a per-host politeness throttle.
func WithRateLimiter(limiter ratelimit.RateLimiter, cfg ratelimit.RateLimitConfig) Option {
	return func(e *Engine) {
		e.limiter = limiter
		e.limiterCfg = cfg
	}
}

// WithBasicAuth presents credentials on every request matching the
// credential's realm (or every request, if realm is empty).
func WithBasicAuth(cred *Credential) Option {
	return func(e *Engine) { e.credential = cred }
}

// WithLogger overrides the default discard logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithStatsRecorder mirrors the engine's per-request accounting into an
// external recorder (per-status-code breakdowns and the like) alongside
// the engine's own counters.
func WithStatsRecorder(r StatsRecorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// NewEngine creates an Engine bounded to concurrency simultaneous requests.
func NewEngine(concurrency int, opts ...Option) *Engine {
	if concurrency <= 0 {
		concurrency = 10
	}
	e := &Engine{
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        concurrency * 2,
				MaxIdleConnsPerHost: concurrency,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		sem:         semaphore.NewWeighted(int64(concurrency)),
		concurrency: concurrency,
		trainer:     newTrainer(),
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Get enqueues url for fetching; the request does not fire until Run drains
// the queue.
func (e *Engine) Get(ctx context.Context, target string, opts httpengine.RequestOptions, onComplete httpengine.CompletionFunc) {
	e.mu.Lock()
	e.pending = append(e.pending, pendingRequest{url: target, opts: opts, onComplete: onComplete})
	e.mu.Unlock()
}

// Run dispatches every queued request concurrently (bounded by the
// semaphore) and blocks until all have completed and invoked their callback.
func (e *Engine) Run(ctx context.Context) {
	e.mu.Lock()
	batch := e.pending
	e.pending = nil
	e.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	e.logger.Debug("harvesting batch", slog.Int("requests", len(batch)))
	e.currResCount.Store(0)
	e.currResNanos.Store(0)

	var wg sync.WaitGroup
	for _, req := range batch {
		req := req
		if err := e.sem.Acquire(ctx, 1); err != nil {
			if req.onComplete != nil {
				req.onComplete(&httpengine.Response{URL: req.url, Err: err})
			}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer e.sem.Release(1)
			e.dispatch(ctx, req)
		}()
	}
	wg.Wait()
}

func (e *Engine) dispatch(ctx context.Context, req pendingRequest) {
	ctx, span := tracer.Start(ctx, "httpengine.fetch", trace.WithAttributes(
		attribute.String("http.url", req.url),
	))
	defer span.End()

	if e.limiter != nil {
		if host := hostOf(req.url); host != "" {
			key := ratelimit.FormatKey(ratelimit.KeyTypeHost, host)
			result, err := e.limiter.Allow(ctx, key, e.limiterCfg)
			if err == nil && !result.Allowed {
				select {
				case <-time.After(result.RetryAfter):
				case <-ctx.Done():
					e.complete(req, &httpengine.Response{URL: req.url, Err: ctx.Err()}, time.Time{})
					return
				}
			}
		}
	}

	e.requestCount.Add(1)
	if e.recorder != nil {
		e.recorder.RecordRequest()
	}
	start := time.Now()

	resp, redirected, err := e.fetch(ctx, req.url, req.opts)
	if err != nil {
		span.RecordError(err)
		if isTimeout(err) {
			e.timeoutCount.Add(1)
			if e.recorder != nil {
				e.recorder.RecordTimeout()
			}
		} else if e.recorder != nil {
			e.recorder.RecordError()
		}
		e.complete(req, &httpengine.Response{URL: req.url, Err: err}, start)
		return
	}
	resp.Redirected = redirected
	if e.recorder != nil {
		e.recorder.RecordResponse(resp.StatusCode)
	}
	e.complete(req, resp, start)
	e.trainer.observe(req.url, resp)
}

func (e *Engine) complete(req pendingRequest, resp *httpengine.Response, start time.Time) {
	e.responseCount.Add(1)
	e.currResCount.Add(1)
	if !start.IsZero() {
		elapsed := int64(time.Since(start))
		e.totalResNanos.Add(elapsed)
		e.currResNanos.Add(elapsed)
	}
	e.logger.Debug("request complete", slog.String("url", sanitizeLabel(req.url)))
	if req.onComplete != nil {
		req.onComplete(resp)
	}
}

func (e *Engine) fetch(ctx context.Context, target string, opts httpengine.RequestOptions) (*httpengine.Response, bool, error) {
	reqURL := target
	if opts.RemoveID {
		reqURL = stripTrackingParams(reqURL)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	for k, v := range opts.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range opts.Cookies {
		httpReq.AddCookie(&http.Cookie{Name: k, Value: v})
	}
	if e.credential != nil && e.credential.AppliesTo(target) {
		httpReq.SetBasicAuth(e.credential.Username, e.credential.Password)
	}

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, false, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBodySize))
	if err != nil {
		return nil, false, fmt.Errorf("read body: %w", err)
	}

	// The effective URL after redirects is what the orchestrator files the
	// page under; the trainer compares it against the requested URL to
	// detect redirect destinations worth folding into the sitemap.
	effective := reqURL
	if httpResp.Request != nil && httpResp.Request.URL != nil {
		effective = httpResp.Request.URL.String()
	}

	return &httpengine.Response{
		URL:        effective,
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       body,
	}, effective != reqURL, nil
}

// Trainer exposes the engine's page-synthesis side channel.
func (e *Engine) Trainer() httpengine.Trainer {
	return e.trainer
}

// Stats returns a snapshot of the engine's runtime counters.
func (e *Engine) Stats() httpengine.Stats {
	responses := e.responseCount.Load()
	var avg float64
	if responses > 0 {
		avg = float64(e.totalResNanos.Load()) / float64(responses) / float64(time.Millisecond)
	}
	currCount := e.currResCount.Load()
	var currAvg, currPerSecond float64
	if currCount > 0 {
		currNanos := e.currResNanos.Load()
		currAvg = float64(currNanos) / float64(currCount) / float64(time.Millisecond)
		if currNanos > 0 {
			// Responses overlap up to the concurrency cap, so the burst
			// rate is throughput over the batch's summed wall time per slot.
			currPerSecond = float64(currCount) / (float64(currNanos) / float64(time.Second)) * float64(e.concurrency)
		}
	}

	return httpengine.Stats{
		RequestCount:     e.requestCount.Load(),
		ResponseCount:    responses,
		TimeoutCount:     e.timeoutCount.Load(),
		CurrResTime:      currAvg,
		CurrResCount:     currCount,
		CurrResPerSecond: currPerSecond,
		AverageResTime:   avg,
		MaxConcurrency:   e.concurrency,
	}
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	var t timeouter
	for e := err; e != nil; {
		if te, ok := e.(timeouter); ok {
			t = te
			break
		}
		unwrapper, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = unwrapper.Unwrap()
	}
	return t != nil && t.Timeout()
}

var trackingParams = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "fbclid", "gclid", "_id"}

func stripTrackingParams(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	changed := false
	for _, p := range trackingParams {
		if q.Has(p) {
			q.Del(p)
			changed = true
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = q.Encode()
	return u.String()
}

var _ httpengine.Engine = (*Engine)(nil)

// sanitizeLabel trims a URL down to a log-friendly label (scheme+host+path,
// no query) to avoid leaking query-string secrets into structured logs.
func sanitizeLabel(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return strings.TrimSuffix(fmt.Sprintf("%s://%s%s", u.Scheme, u.Host, u.Path), "/")
}
