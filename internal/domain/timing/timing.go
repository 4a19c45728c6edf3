// Package timing implements the timing-attack coordinator: modules
// may register deferred timing operations during the regular audit phase;
// the coordinator runs them as a second, distinct phase and tracks
// progress through it independently.
package timing

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fathomsec/fathom/internal/domain/audit"
	"github.com/fathomsec/fathom/internal/domain/faultjail"
	"github.com/fathomsec/fathom/internal/domain/module"
)

// Op is a single deferred timing operation registered by a module during
// the regular audit phase.
type Op struct {
	// Module is the id of the module that registered this operation, used
	// to populate the coordinator's loaded-module set.
	Module string
	// Action names the target element action driving this op (a URL, form
	// action, etc); empty means the op carries no addressable target.
	Action string
	Run    func(ctx context.Context, dispatch module.Dispatcher) ([]audit.Issue, error)
}

// Callback is invoked once per operation dispatch, receiving the op and
// its target action string.
type Callback func(op Op)

// Coordinator tracks pending timing operations and runs them as a
// second scheduling phase, invoked only between the two audit-queue
// drains inside audit().
type Coordinator struct {
	logger *slog.Logger

	mu             sync.Mutex
	loadedModules  map[string]struct{}
	blocks         []Op
	initialCount   int
	remainingCount int
	running        bool
	onDispatch     Callback

	issuesMu sync.Mutex
	issues   []audit.Issue
}

// New creates an empty timing coordinator.
func New(logger *slog.Logger) *Coordinator {
	return &Coordinator{logger: logger, loadedModules: make(map[string]struct{})}
}

// Register enqueues a deferred timing operation. It is the only mutation
// allowed during the regular audit phase; the queue is consumed wholesale
// when Run begins.
func (c *Coordinator) Register(op Op) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadedModules[op.Module] = struct{}{}
	c.blocks = append(c.blocks, op)
}

// HasLoadedModules reports whether any module registered a timing
// operation during the regular phase — the orchestrator's "is there a
// timing phase?" check.
func (c *Coordinator) HasLoadedModules() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.loadedModules) > 0
}

// OnDispatch installs the per-operation callback fired just before each op
// runs, so the orchestrator can update its notion of the current URL.
func (c *Coordinator) OnDispatch(cb Callback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDispatch = cb
}

// Running reports whether the timing phase is currently executing.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// TotalOps returns the operation count snapshotted when the phase began.
func (c *Coordinator) TotalOps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialCount
}

// RemainingOps returns the count of operations not yet dispatched.
func (c *Coordinator) RemainingOps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remainingCount
}

// Run executes every pending operation to completion, in registration
// order, under fault isolation. Each op's issues accumulate and are
// retrievable via Results. dispatch is handed to each op the same way the
// registry hands one to regular modules, so timing probes can push URLs
// and pages into the pipeline just like any other module.
func (c *Coordinator) Run(ctx context.Context, dispatch module.Dispatcher) {
	c.mu.Lock()
	blocks := c.blocks
	c.blocks = nil
	c.initialCount = len(blocks)
	c.remainingCount = len(blocks)
	c.running = true
	cb := c.onDispatch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	for _, op := range blocks {
		if cb != nil {
			cb(op)
		}

		var issues []audit.Issue
		_ = faultjail.Run(ctx, c.logger, "timing:"+op.Module, func() error {
			out, err := op.Run(ctx, dispatch)
			if err != nil {
				return err
			}
			issues = out
			return nil
		})
		if len(issues) > 0 {
			c.issuesMu.Lock()
			c.issues = append(c.issues, issues...)
			c.issuesMu.Unlock()
		}

		c.mu.Lock()
		c.remainingCount--
		c.mu.Unlock()
	}
}

// Results returns a copy of the issues accumulated across timing runs.
func (c *Coordinator) Results() []audit.Issue {
	c.issuesMu.Lock()
	defer c.issuesMu.Unlock()
	out := make([]audit.Issue, len(c.issues))
	copy(out, c.issues)
	return out
}
