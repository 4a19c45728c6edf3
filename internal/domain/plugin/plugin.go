// Package plugin implements the plugin manager: background tasks that
// run independently of the audit pipeline and may push discovered pages
// into it. cleanup blocks on them to completion before the final drain.
package plugin

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/fathomsec/fathom/internal/domain/faultjail"
	"github.com/fathomsec/fathom/internal/domain/module"
)

// Info is a plugin's static manifest, mirroring module.Info's shape so
// listing operations can treat both registries uniformly.
type Info struct {
	Name        string
	Author      []string
	Description string
}

// Plugin is a long-lived background task. Run blocks until ctx is canceled
// or the plugin decides it has nothing more to contribute; it runs on its
// own goroutine, started by Manager.Start. A non-nil return value is
// recorded as the plugin's result and surfaced in the final audit store
// under the plugin's id.
type Plugin interface {
	Info() Info
	Run(ctx context.Context, dispatch module.Dispatcher) (any, error)
}

// Manager starts registered plugins as background goroutines and blocks on
// all of them during cleanup.
type Manager struct {
	logger *slog.Logger

	mu      sync.Mutex
	plugins map[string]Plugin

	resultsMu sync.Mutex
	results   map[string]any

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewManager creates an empty plugin manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{logger: logger, plugins: make(map[string]Plugin), results: make(map[string]any)}
}

// Register adds a plugin under the given id.
func (m *Manager) Register(id string, p Plugin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plugins[id] = p
}

// Start launches every registered plugin on its own goroutine, each
// wrapped in fault isolation so a misbehaving plugin cannot take down the
// scan.
func (m *Manager) Start(ctx context.Context, dispatch module.Dispatcher) {
	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	plugins := make(map[string]Plugin, len(m.plugins))
	for k, v := range m.plugins {
		plugins[k] = v
	}
	m.mu.Unlock()

	for id, p := range plugins {
		m.wg.Add(1)
		go func(id string, p Plugin) {
			defer m.wg.Done()
			_ = faultjail.Run(runCtx, m.logger, "plugin:"+id, func() error {
				result, err := p.Run(runCtx, dispatch)
				if result != nil {
					m.resultsMu.Lock()
					m.results[id] = result
					m.resultsMu.Unlock()
				}
				return err
			})
		}(id, p)
	}
}

// Results returns a snapshot of every result the started plugins have
// reported so far, keyed by plugin id. The audit-store builder consumes
// this after Block, when every plugin has finished.
func (m *Manager) Results() map[string]any {
	m.resultsMu.Lock()
	defer m.resultsMu.Unlock()
	out := make(map[string]any, len(m.results))
	for k, v := range m.results {
		out[k] = v
	}
	return out
}

// Block waits for every started plugin to finish, canceling their context
// first so long-running plugins unwind promptly. Called during cleanup.
func (m *Manager) Block() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// ListedPlugin is a single entry returned by List.
type ListedPlugin struct {
	Path   string
	Info   Info
	Author []string
}

// List filters available plugins by the conjunction of patterns, mirroring
// module.Registry.List. It does not mutate the manager; see Reset.
func (m *Manager) List(patterns []string) ([]ListedPlugin, error) {
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, pat := range patterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, err
		}
		res = append(res, re)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ListedPlugin, 0, len(m.plugins))
	for id, p := range m.plugins {
		if !matchesAll(id, res) {
			continue
		}
		info := p.Info()
		out = append(out, ListedPlugin{
			Path:   id,
			Info:   info,
			Author: normalizeAuthors(info.Author),
		})
	}

	return out, nil
}

// Reset clears every registered plugin. Call this explicitly after a
// listing operation when the same process will go on to register plugins
// for a scan; List itself never clears the manager.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plugins = make(map[string]Plugin)
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
