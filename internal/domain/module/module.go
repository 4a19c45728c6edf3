// Package module implements the module registry and dispatcher: it
// enumerates available check modules, decides which ones apply to a given
// page, and runs each one under fault isolation.
package module

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fathomsec/fathom/internal/domain/audit"
	"github.com/fathomsec/fathom/internal/domain/faultjail"
	"github.com/fathomsec/fathom/internal/domain/options"
	"github.com/fathomsec/fathom/internal/domain/page"
)

var tracer = otel.Tracer("github.com/fathomsec/fathom/internal/domain/module")

// Info is a module's static manifest.
type Info struct {
	Name        string
	Author      []string
	Description string
	// Elements lists the element classes this module audits. Empty means
	// the module always runs regardless of page content.
	Elements []audit.ElementKind
}

// Dispatcher is the reference an in-flight module run receives so it can
// push discovered work back into the pipeline, mirroring the orchestrator
// surface a module needs without exposing the whole orchestrator.
type Dispatcher interface {
	PushURL(url string)
	PushPage(p *page.Page)
}

// Module is a single security check. Run receives a deep copy of the
// target page (so concurrent runs cannot corrupt each other's view) and a
// Dispatcher for pushing newly discovered work.
type Module interface {
	Info() Info
	Run(ctx context.Context, p *page.Page, dispatch Dispatcher) ([]audit.Issue, error)
}

// Registry holds the set of available modules, runs them under fault
// isolation, and accumulates their issues.
type Registry struct {
	logger *slog.Logger

	mu      sync.Mutex
	modules map[string]Module
	onRun   func(id string, elapsed time.Duration)

	issuesMu sync.Mutex
	issues   []audit.Issue
}

// NewRegistry creates an empty module registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger, modules: make(map[string]Module)}
}

// Register adds a module under the given id, overwriting any existing
// registration with the same id.
func (r *Registry) Register(id string, m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[id] = m
}

// OnModuleRun installs a hook fired after every module run with the run's
// wall-clock duration, whether or not the module faulted. Used to feed
// per-module duration metrics without the registry depending on a metrics
// backend.
func (r *Registry) OnModuleRun(fn func(id string, elapsed time.Duration)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRun = fn
}

// Available lists registered module ids.
func (r *Registry) Available() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.modules))
	for id := range r.modules {
		ids = append(ids, id)
	}
	return ids
}

// Applicable reports whether m should run against p given opts, per the
// element-class applicability rule: a module with no declared elements
// always runs; otherwise it runs iff at least one declared element class
// matches both the page's content and the corresponding audit toggle.
func Applicable(info Info, p *page.Page, opts *options.Options) bool {
	if len(info.Elements) == 0 {
		return true
	}
	for _, el := range info.Elements {
		switch el {
		case audit.ElementLink:
			if p.HasLinks() && opts.AuditLinks {
				return true
			}
		case audit.ElementForm:
			if p.HasForms() && opts.AuditForms {
				return true
			}
		case audit.ElementCookie:
			if p.HasCookies() && opts.AuditCookies {
				return true
			}
		case audit.ElementHeader:
			if p.HasHeaders() && opts.AuditHeaders {
				return true
			}
		case audit.ElementBody, audit.ElementPath, audit.ElementServer:
			return true
		}
	}
	return false
}

// RunOne runs a single module against p under fault isolation, recording
// any issues it emits. A faulting module is logged and skipped; the
// dispatcher keeps running the remaining modules.
func (r *Registry) RunOne(ctx context.Context, id string, m Module, p *page.Page, dispatch Dispatcher) {
	ctx, span := tracer.Start(ctx, "module.run", trace.WithAttributes(
		attribute.String("module.id", id),
		attribute.String("page.url", p.URL),
	))
	defer span.End()

	start := time.Now()
	var issues []audit.Issue
	_ = faultjail.Run(ctx, r.logger, "module:"+id, func() error {
		target := p.Clone()
		out, err := m.Run(ctx, target, dispatch)
		if err != nil {
			return err
		}
		issues = out
		return nil
	})
	r.mu.Lock()
	onRun := r.onRun
	r.mu.Unlock()
	if onRun != nil {
		onRun(id, time.Since(start))
	}
	span.SetAttributes(attribute.Int("module.issues_found", len(issues)))
	if len(issues) == 0 {
		return
	}
	r.issuesMu.Lock()
	r.issues = append(r.issues, issues...)
	r.issuesMu.Unlock()
}

// DispatchPage runs every applicable, registered module against p in
// registration-independent but deterministic (sorted id) order.
func (r *Registry) DispatchPage(ctx context.Context, p *page.Page, opts *options.Options, dispatch Dispatcher) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.modules))
	for id := range r.modules {
		ids = append(ids, id)
	}
	mods := make(map[string]Module, len(r.modules))
	for k, v := range r.modules {
		mods[k] = v
	}
	r.mu.Unlock()

	sort.Strings(ids)
	for _, id := range ids {
		m := mods[id]
		if !Applicable(m.Info(), p, opts) {
			continue
		}
		r.RunOne(ctx, id, m, p, dispatch)
	}
}

// Results returns a snapshot of all issues accumulated so far; the
// audit-store builder deep-clones them when it freezes a Store.
func (r *Registry) Results() []audit.Issue {
	r.issuesMu.Lock()
	defer r.issuesMu.Unlock()
	out := make([]audit.Issue, len(r.issues))
	copy(out, r.issues)
	return out
}

// List filters available modules by the conjunction of patterns (a module
// is included iff its id matches every pattern). It does not mutate the
// registry; callers that want one-shot listing behavior call Reset
// explicitly afterward.
func (r *Registry) List(patterns []string) ([]ListedModule, error) {
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, pat := range patterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, err
		}
		res = append(res, re)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ListedModule, 0, len(r.modules))
	for id, m := range r.modules {
		if !matchesAll(id, res) {
			continue
		}
		info := m.Info()
		out = append(out, ListedModule{
			Path:   id,
			Info:   info,
			Author: normalizeAuthors(info.Author),
		})
	}

	return out, nil
}

// Reset clears every registered module. Call this explicitly after a
// listing operation when the same process will go on to register modules
// for a scan; List itself never clears the registry.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules = make(map[string]Module)
}

// ListedModule is a single entry returned by List: the module's manifest
// plus its registry path.
type ListedModule struct {
	Path   string
	Info   Info
	Author []string
}

func matchesAll(id string, res []*regexp.Regexp) bool {
	for _, re := range res {
		if !re.MatchString(id) {
			return false
		}
	}
	return true
}

func normalizeAuthors(authors []string) []string {
	out := make([]string, 0, len(authors))
	for _, a := range authors {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}
