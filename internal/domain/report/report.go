// Package report implements the report-formatter registry. Formatters
// turn an audit.Store into HTML, JSON, or any other artifact; the
// registry tracks which are available so lsrep can enumerate them the
// same way lsmod and lsplug enumerate modules and plugins, and runs the
// rendering ones once a scan finishes.
package report

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/fathomsec/fathom/internal/domain/audit"
	"github.com/fathomsec/fathom/internal/domain/faultjail"
)

// Info is a report formatter's static manifest, mirroring module.Info and
// plugin.Info so all three listing operations share a shape.
type Info struct {
	Name        string
	Author      []string
	Description string
	// Format is the formatter's output identifier (e.g. "json", "html").
	Format string
}

// Formatter is implemented by an external report-rendering collaborator.
// A bare Formatter only contributes a manifest for enumeration; one that
// also implements Renderer is invoked at the end of a scan.
type Formatter interface {
	Info() Info
}

// Renderer is the optional rendering half of a Formatter: given the final
// audit store, produce the formatter's artifact. Rendering details (output
// paths, templates) are the collaborator's concern.
type Renderer interface {
	Render(ctx context.Context, store *audit.Store) error
}

// Registry holds the set of available report formatters.
type Registry struct {
	mu            sync.Mutex
	formatters    map[string]Formatter
	onlyPositives bool
}

// SetOnlyPositives toggles the positives-only output mode renderers may
// consult to suppress informational findings. The orchestrator disables it
// during cleanup so the final artifacts render in full.
func (r *Registry) SetOnlyPositives(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onlyPositives = v
}

// OnlyPositives reports whether renderers should restrict output to
// positive findings.
func (r *Registry) OnlyPositives() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onlyPositives
}

// NewRegistry creates an empty report-formatter registry.
func NewRegistry() *Registry {
	return &Registry{formatters: make(map[string]Formatter)}
}

// Register adds a formatter under the given id, overwriting any existing
// registration with the same id.
func (r *Registry) Register(id string, f Formatter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.formatters[id] = f
}

// ListedFormatter is a single entry returned by List.
type ListedFormatter struct {
	Path   string
	Info   Info
	Author []string
}

// List filters available formatters by the conjunction of patterns,
// mirroring module.Registry.List and plugin.Manager.List. It does not
// mutate the registry; see Reset.
func (r *Registry) List(patterns []string) ([]ListedFormatter, error) {
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

	out := make([]ListedFormatter, 0, len(r.formatters))
	for id, f := range r.formatters {
		if !matchesAll(id, res) {
			continue
		}
		info := f.Info()
		out = append(out, ListedFormatter{
			Path:   id,
			Info:   info,
			Author: normalizeAuthors(info.Author),
		})
	}

	return out, nil
}

// Run hands the final audit store to every registered formatter that
// implements Renderer, in sorted-id order, each under fault isolation so
// one broken formatter cannot stop the others from rendering. Bare
// manifest-only formatters are skipped.
func (r *Registry) Run(ctx context.Context, logger *slog.Logger, store *audit.Store) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.formatters))
	for id := range r.formatters {
		ids = append(ids, id)
	}
	formatters := make(map[string]Formatter, len(r.formatters))
	for k, v := range r.formatters {
		formatters[k] = v
	}
	r.mu.Unlock()

	sort.Strings(ids)
	for _, id := range ids {
		renderer, ok := formatters[id].(Renderer)
		if !ok {
			continue
		}
		_ = faultjail.Run(ctx, logger, "report:"+id, func() error {
			return renderer.Render(ctx, store)
		})
	}
}

// Reset clears every registered formatter. Call this explicitly after a
// listing operation when the same process will go on to register
// formatters for a scan; List itself never clears the registry.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.formatters = make(map[string]Formatter)
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
