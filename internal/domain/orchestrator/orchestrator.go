// Package orchestrator implements the audit orchestrator, the heart
// of a scan: it composes the HTTP engine, spider, module registry and
// timing coordinator into the fetch/parse/audit pipeline and owns the
// state machine, pause/resume, stats and progress accounting.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/fathomsec/fathom/internal/domain/audit"
	"github.com/fathomsec/fathom/internal/domain/faultjail"
	"github.com/fathomsec/fathom/internal/domain/httpengine"
	"github.com/fathomsec/fathom/internal/domain/module"
	"github.com/fathomsec/fathom/internal/domain/options"
	"github.com/fathomsec/fathom/internal/domain/page"
	"github.com/fathomsec/fathom/internal/domain/plugin"
	"github.com/fathomsec/fathom/internal/domain/queue"
	"github.com/fathomsec/fathom/internal/domain/redundancy"
	"github.com/fathomsec/fathom/internal/domain/report"
	"github.com/fathomsec/fathom/internal/domain/spider"
	"github.com/fathomsec/fathom/internal/domain/timing"
	"github.com/fathomsec/fathom/internal/domain/validation"
)

// statsCacheWindow bounds how often a non-forced Stats call recomputes the
// progress model; the caller-facing knob is the forceRefresh argument.
const statsCacheWindow = 250 * time.Millisecond

// Orchestrator drives one audit run. It is not safe to reuse across scans;
// build a new one per Options.
type Orchestrator struct {
	logger *slog.Logger
	opts   *options.Options

	engine   httpengine.Engine
	spiderFn spider.Spider
	parse    page.FromResponseFunc

	modules     *module.Registry
	timingCoord *timing.Coordinator
	plugins     *plugin.Manager
	reports     *report.Registry

	urlQueue  *queue.URLQueue
	pageQueue *queue.PageQueue

	sitemap  *orderedSet
	auditmap *orderedSet

	storeBuilder *audit.Builder

	redundancyEngine *redundancy.Engine

	mu         sync.Mutex
	state      State
	running    bool
	currentURL string
	startTime  time.Time
	finishTime time.Time
	deltaTime  time.Duration
	store      *audit.Store
	lastStats  *Stats
	lastStatAt time.Time

	pauseMu sync.Mutex
	paused  pauseSet
}

// New constructs an Orchestrator. sp may be nil when opts.RestrictPaths is
// non-empty, since the spider is never started in that mode; a spider
// passed in that mode simply goes unused.
func New(
	logger *slog.Logger,
	opts *options.Options,
	engine httpengine.Engine,
	sp spider.Spider,
	parse page.FromResponseFunc,
	storeBuilder *audit.Builder,
) *Orchestrator {
	// The engine mutates each rule's Count as it consumes its match budget;
	// clone again here so that mutation never reaches opts.Redundant, which
	// the report must present with its original, pre-scan counters.
	re, err := redundancy.New(options.CloneRules(opts.Redundant), nil)
	if err != nil {
		logger.Error("orchestrator: redundancy rules rejected, skipping redundancy filtering", slog.Any("err", err))
		re = nil
	}

	return &Orchestrator{
		logger:           logger,
		opts:             opts,
		engine:           engine,
		spiderFn:         sp,
		parse:            parse,
		modules:          module.NewRegistry(logger),
		timingCoord:      timing.New(logger),
		plugins:          plugin.NewManager(logger),
		reports:          report.NewRegistry(),
		urlQueue:         queue.NewURLQueue(),
		pageQueue:        queue.NewPageQueue(),
		sitemap:          newOrderedSet(),
		auditmap:         newOrderedSet(),
		storeBuilder:     storeBuilder,
		redundancyEngine: re,
		state:            StateReady,
		paused:           make(pauseSet),
	}
}

// Redundancy exposes the redundancy engine so a caller can install a CEL
// evaluator for "cel:"-prefixed rules before the scan starts.
func (o *Orchestrator) Redundancy() *redundancy.Engine { return o.redundancyEngine }

// Modules exposes the module registry for pre-run registration.
func (o *Orchestrator) Modules() *module.Registry { return o.modules }

// Plugins exposes the plugin manager for pre-run registration.
func (o *Orchestrator) Plugins() *plugin.Manager { return o.plugins }

// Reports exposes the report-formatter registry for pre-run registration;
// formatters that implement report.Renderer run once the scan finishes.
func (o *Orchestrator) Reports() *report.Registry { return o.reports }

// Version and Revision report the product stamp the audit store carries.
func (o *Orchestrator) Version() string  { return o.storeBuilder.Version }
func (o *Orchestrator) Revision() string { return o.storeBuilder.Revision }

// Timing exposes the timing coordinator so modules obtained via the
// registry can be wired to register deferred ops against the same
// coordinator instance the orchestrator drives.
func (o *Orchestrator) Timing() *timing.Coordinator { return o.timingCoord }

// PushURL enqueues a URL to fetch and extends the sitemap, unless the
// redundancy engine considers it redundant with an already-budgeted
// pattern (e.g. the Nth page of a paginated listing). Module, plugin and
// timing-op pushes flow through here, including under restrict_paths — a mode
// that seeds the sitemap but never prevents it from growing.
func (o *Orchestrator) PushURL(rawURL string) {
	if o.isRedundant(rawURL) {
		o.logger.Debug("url suppressed as redundant", slog.String("url", rawURL))
		return
	}
	o.sitemap.Add(rawURL)
	o.urlQueue.Push(rawURL)
}

// isRedundant reports whether rawURL matches an exhausted redundancy rule.
// A malformed URL never matches structural (host/path) rule fields but can
// still match a plain-regexp or CEL rule that only inspects the raw URL.
func (o *Orchestrator) isRedundant(rawURL string) bool {
	if o.redundancyEngine == nil {
		return false
	}
	mc := redundancy.MatchContext{URL: rawURL}
	if u, err := url.Parse(rawURL); err == nil {
		mc.Host = u.Host
		mc.Path = u.Path
	}
	skip, err := o.redundancyEngine.ShouldSkip(mc)
	if err != nil {
		o.logger.Warn("redundancy check failed", slog.String("url", rawURL), slog.Any("err", err))
		return false
	}
	return skip
}

// PushPage enqueues an already-parsed page (from a trainer or a module)
// and extends the sitemap with its URL.
func (o *Orchestrator) PushPage(p *page.Page) {
	o.sitemap.Add(p.URL)
	o.pageQueue.Push(p)
}

func (o *Orchestrator) dispatcher() pushDispatcher { return pushDispatcher{o: o} }

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Status returns the current lifecycle state, reporting StatePaused
// whenever any caller holds a pause regardless of the underlying state.
func (o *Orchestrator) Status() State {
	if o.Paused() {
		return StatePaused
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Running reports whether a scan is currently underway.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *Orchestrator) setCurrentURL(u string) {
	o.mu.Lock()
	o.currentURL = u
	o.mu.Unlock()
}

// Pause adds id to the pause set, making Paused() true and propagating the
// hold to the spider. Multiple independent callers may pause at once; the
// scan resumes only once every caller has called Resume with its own id.
func (o *Orchestrator) Pause(id string) {
	o.pauseMu.Lock()
	o.paused[id] = struct{}{}
	o.pauseMu.Unlock()
	if o.spiderFn != nil {
		o.spiderFn.Pause()
	}
}

// Resume removes id from the pause set.
func (o *Orchestrator) Resume(id string) {
	o.pauseMu.Lock()
	delete(o.paused, id)
	o.pauseMu.Unlock()
	if o.spiderFn != nil {
		o.spiderFn.Resume()
	}
}

// Paused reports whether the pause set is non-empty.
func (o *Orchestrator) Paused() bool {
	o.pauseMu.Lock()
	defer o.pauseMu.Unlock()
	return len(o.paused) > 0
}

// waitIfPaused blocks the calling goroutine while the orchestrator is
// paused, polling at a short interval — a suspension point, never
// interrupting in-flight HTTP work because it is only called between
// queue items.
func (o *Orchestrator) waitIfPaused(ctx context.Context) {
	for o.Paused() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Prepare marks the scan as running, records the start time, and starts
// plugins in the background.
func (o *Orchestrator) Prepare(ctx context.Context) {
	o.mu.Lock()
	o.running = true
	o.startTime = time.Now()
	o.mu.Unlock()
	o.opts.StartDatetime = o.startTime
	o.plugins.Start(ctx, o.dispatcher())
}

// Run composes prepare -> audit -> cleanup -> optional hook -> report
// generation. audit, the hook, and each report execute under fault
// isolation so an unexpected failure still leaves a usable, if partial,
// report.
func (o *Orchestrator) Run(ctx context.Context, hook func(*Orchestrator) error) error {
	o.Prepare(ctx)

	auditErr := faultjail.Run(ctx, o.logger, "audit", func() error {
		return o.audit(ctx)
	})

	o.CleanUp(ctx, false)
	o.setState(StateDone)

	if hook != nil {
		_ = faultjail.Run(ctx, o.logger, "post_audit_hook", func() error {
			return hook(o)
		})
	}

	o.reports.Run(ctx, o.logger, o.AuditStore(false))

	return auditErr
}

// audit implements the crawl -> fetch/parse/module -> timing pipeline
// described for C7.
func (o *Orchestrator) audit(ctx context.Context) error {
	o.waitIfPaused(ctx)
	o.setState(StateCrawling)

	if len(o.opts.RestrictPaths) > 0 {
		san := validation.NewSanitizer(nil)
		for _, raw := range o.opts.RestrictPaths {
			clean, err := san.SanitizeSeed(raw)
			if err != nil {
				o.logger.ErrorContext(ctx, "audit: invalid restrict_path", slog.String("url", raw), slog.Any("err", err))
				continue
			}
			o.PushURL(clean)
		}
	} else if o.spiderFn != nil {
		if err := o.spiderFn.Crawl(ctx, func(effectiveURL string, sm spider.Sitemap) {
			for _, u := range sm {
				if !o.isRedundant(u) {
					o.sitemap.Add(u)
				}
			}
			o.PushURL(effectiveURL)
		}); err != nil {
			return fmt.Errorf("spider crawl: %w", err)
		}
	}

	o.setState(StateAuditing)
	if err := o.auditQueue(ctx); err != nil {
		return err
	}

	if o.timingCoord.HasLoadedModules() {
		o.logger.InfoContext(ctx, "timing phase starting", slog.Int("ops", o.timingCoord.TotalOps()))
		o.timingCoord.OnDispatch(func(op timing.Op) {
			if op.Action != "" {
				o.setCurrentURL(op.Action)
			}
		})
		o.timingCoord.Run(ctx, o.dispatcher())
		if err := o.auditQueue(ctx); err != nil {
			return err
		}
	}

	return nil
}

// auditQueue drains the URL queue and the page queue to quiescence,
// harvesting eagerly or lazily per opts.HTTPHarvestLast.
func (o *Orchestrator) auditQueue(ctx context.Context) error {
	harvestLast := o.opts.HTTPHarvestLast

	for {
		o.waitIfPaused(ctx)
		url, ok := o.urlQueue.Pop()
		if !ok {
			break
		}
		o.setCurrentURL(url)
		o.fetchAndDispatch(ctx, url)

		if !harvestLast {
			o.harvest(ctx)
			if err := o.auditPageQueue(ctx); err != nil {
				return err
			}
		}
	}

	if harvestLast {
		o.harvest(ctx)
	}
	if err := o.auditPageQueue(ctx); err != nil {
		return err
	}
	if harvestLast {
		o.harvest(ctx)
	}
	return nil
}

// auditPageQueue drains only the page queue: pop, dispatch modules,
// harvest (unless harvest-last). It never touches the URL queue.
func (o *Orchestrator) auditPageQueue(ctx context.Context) error {
	for {
		o.waitIfPaused(ctx)
		p, ok := o.pageQueue.Pop()
		if !ok {
			break
		}
		o.dispatchPage(ctx, p)
		if !o.opts.HTTPHarvestLast {
			o.harvest(ctx)
		}
	}
	return nil
}

// harvest runs the HTTP engine to completion and absorbs any pages the
// trainer synthesized along the way. Idempotent when no requests are
// outstanding and the trainer has nothing queued.
func (o *Orchestrator) harvest(ctx context.Context) {
	o.engine.Run(ctx)
	for _, tp := range o.engine.Trainer().FlushPages() {
		o.handleResponse(ctx, tp.URL, tp.Response)
	}
}

func (o *Orchestrator) fetchAndDispatch(ctx context.Context, url string) {
	reqOpts := httpengine.RequestOptions{
		RemoveID: true,
		Headers:  map[string]string{"User-Agent": o.opts.UserAgent},
		Cookies:  o.opts.CookieMap(),
	}
	o.engine.Get(ctx, url, reqOpts, func(resp *httpengine.Response) {
		o.handleResponse(ctx, url, resp)
	})
}

func (o *Orchestrator) handleResponse(ctx context.Context, requestedURL string, resp *httpengine.Response) {
	if resp == nil {
		o.logger.ErrorContext(ctx, "audit: nil response", slog.String("url", requestedURL))
		return
	}
	if resp.Err != nil {
		o.logger.ErrorContext(ctx, "audit: fetch failed", slog.String("url", requestedURL), slog.Any("err", resp.Err))
		return
	}

	raw := page.RawResponse{URL: resp.URL, StatusCode: resp.StatusCode, Headers: resp.Headers, Body: resp.Body}
	parseOpts := page.ParseOptions{
		ExtractLinks:   o.opts.AuditLinks,
		ExtractForms:   o.opts.AuditForms,
		ExtractCookies: o.opts.AuditCookies,
		ExtractHeaders: o.opts.AuditHeaders,
	}

	p, err := o.parse(raw, parseOpts)
	if err != nil {
		o.logger.ErrorContext(ctx, "audit: parse failed", slog.String("url", requestedURL), slog.Any("err", err))
		return
	}

	o.sitemap.Add(p.URL)
	o.dispatchPage(ctx, p)
}

func (o *Orchestrator) dispatchPage(ctx context.Context, p *page.Page) {
	o.modules.DispatchPage(ctx, p, o.opts, o.dispatcher())
	o.auditmap.Add(p.URL)
}

// CleanUp records finish time/elapsed, blocks on plugins, performs a final
// drain (unless skipped), and refreshes the audit store.
func (o *Orchestrator) CleanUp(ctx context.Context, skipAuditQueue bool) {
	o.setState(StateCleanup)

	// Final artifacts render in full, whatever a renderer's mid-scan mode was.
	o.reports.SetOnlyPositives(false)

	o.mu.Lock()
	o.finishTime = time.Now()
	o.deltaTime = o.finishTime.Sub(o.startTime)
	o.running = false
	o.mu.Unlock()
	o.opts.FinishDatetime = o.finishTime
	o.opts.DeltaTime = o.deltaTime

	o.plugins.Block()

	if !skipAuditQueue {
		_ = o.auditQueue(ctx)
	}

	o.refreshStore()
}

func (o *Orchestrator) refreshStore() {
	issues := o.modules.Results()
	issues = append(issues, o.timingCoord.Results()...)

	store := o.storeBuilder.Build(o.optionsMap(), o.sitemap.Slice(), issues, o.plugins.Results())

	o.mu.Lock()
	o.store = store
	o.mu.Unlock()
}

// AuditStore returns the cached store, or rebuilds it first when fresh is
// true.
func (o *Orchestrator) AuditStore(fresh bool) *audit.Store {
	o.mu.Lock()
	cached := o.store
	o.mu.Unlock()

	if fresh || cached == nil {
		o.refreshStore()
		o.mu.Lock()
		cached = o.store
		o.mu.Unlock()
	}
	return cached
}

func (o *Orchestrator) optionsMap() map[string]any {
	return map[string]any{
		"restrict_paths":    o.opts.RestrictPaths,
		"audit_links":       o.opts.AuditLinks,
		"audit_forms":       o.opts.AuditForms,
		"audit_cookies":     o.opts.AuditCookies,
		"audit_headers":     o.opts.AuditHeaders,
		"http_harvest_last": o.opts.HTTPHarvestLast,
		"cookies":           o.opts.CookieMap(),
		"user_agent":        o.opts.UserAgent,
		"authed_by":         o.opts.AuthedBy,
		"redundant":         o.opts.Redundant,
		"start_datetime":    o.opts.StartDatetime,
		"finish_datetime":   o.opts.FinishDatetime,
		"delta_time":        o.opts.DeltaTime,
	}
}

// Stats computes a progress/counter snapshot. Unless forceRefresh is set,
// a snapshot younger than statsCacheWindow is returned instead of
// recomputed, since progress math and engine stats are cheap but not free
// to call on every event-loop tick.
func (o *Orchestrator) Stats(forceRefresh bool) Stats {
	o.mu.Lock()
	if !forceRefresh && o.lastStats != nil && time.Since(o.lastStatAt) < statsCacheWindow {
		s := *o.lastStats
		o.mu.Unlock()
		return s
	}
	state := o.state
	running := o.running
	currentURL := o.currentURL
	startTime := o.startTime
	o.mu.Unlock()

	engineStats := o.engine.Stats()

	var redirects int
	// The spider is the only source of redirect accounting; restrict_paths
	// mode never started one, so redirects stays zero in that mode.
	if o.spiderFn != nil {
		redirects = len(o.spiderFn.Redirects())
	}

	in := progressInput{
		sitemapSize:          o.sitemap.Len(),
		auditedCount:         o.auditmap.Len(),
		redirectCount:        redirects,
		timingModulesLoaded:  o.timingCoord.HasLoadedModules(),
		runningTimingAttacks: o.timingCoord.Running(),
		timingTotalOps:       o.timingCoord.TotalOps(),
		timingRemainingOps:   o.timingCoord.RemainingOps(),
	}

	progress := computeProgress(in, func(raw float64) {
		o.logger.Warn("progress overshoot clamped", slog.Float64("raw", raw))
	})

	elapsed := time.Duration(0)
	if !startTime.IsZero() {
		elapsed = time.Since(startTime)
	}

	eta := time.Duration(0)
	if progress > 0 && progress < 100 {
		eta = time.Duration(float64(elapsed) * (100/progress - 1))
	}

	snap := Stats{
		State:                state,
		Paused:               o.Paused(),
		Running:              running,
		CurrentURL:           currentURL,
		SitemapSize:          o.sitemap.Len(),
		AuditmapSize:         o.auditmap.Len(),
		RequestCount:         engineStats.RequestCount,
		ResponseCount:        engineStats.ResponseCount,
		TimeoutCount:         engineStats.TimeoutCount,
		AverageResTime:       engineStats.AverageResTime,
		CurrResPerSecond:     engineStats.CurrResPerSecond,
		MaxConcurrency:       engineStats.MaxConcurrency,
		RunningTimingAttacks: o.timingCoord.Running(),
		TimingTotalOps:       o.timingCoord.TotalOps(),
		TimingRemainingOps:   o.timingCoord.RemainingOps(),
		Progress:             progress,
		Elapsed:              elapsed,
		ETA:                  eta,
	}

	o.mu.Lock()
	o.lastStats = &snap
	o.lastStatAt = time.Now()
	o.mu.Unlock()

	return snap
}
