// Package cel provides a CEL-based expression evaluator for redundancy
// rules and module-applicability predicates.
package cel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gocel "github.com/google/cel-go/cel"

	"github.com/fathomsec/fathom/internal/domain/redundancy"
)

// maxExpressionLength is the maximum allowed length for a rule expression.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit, preventing a pathological
// expression from burning CPU on every candidate URL.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout bounds a single evaluation; redundancy checks run inline on
// the orchestrator's hot path and must never hang it.
const evalTimeout = 500 * time.Millisecond

const interruptCheckFreq = 100

// Evaluator compiles and evaluates CEL expressions against a
// redundancy.MatchContext. It caches compiled programs by expression text
// since the same handful of rule expressions are evaluated for every
// candidate URL during a scan.
type Evaluator struct {
	env *gocel.Env

	mu    sync.Mutex
	cache map[string]gocel.Program
}

// NewEvaluator creates a new CEL evaluator with the redundancy
// environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := NewRedundancyEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create redundancy cel environment: %w", err)
	}
	return &Evaluator{env: env, cache: make(map[string]gocel.Program)}, nil
}

// compile parses and type-checks expr, returning a cost-limited program.
func (e *Evaluator) compile(expr string) (gocel.Program, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}

	prg, err := e.env.Program(ast,
		gocel.EvalOptions(gocel.OptOptimize),
		gocel.CostLimit(maxCostBudget),
		gocel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}
	return prg, nil
}

func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// ValidateExpression checks that expr is syntactically valid and within
// the configured safety limits, without evaluating it.
func (e *Evaluator) ValidateExpression(expr string) error {
	if expr == "" {
		return errors.New("expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if err := validateNesting(expr); err != nil {
		return err
	}
	_, err := e.programFor(expr)
	if err != nil {
		return fmt.Errorf("invalid cel expression: %w", err)
	}
	return nil
}

func (e *Evaluator) programFor(expr string) (gocel.Program, error) {
	e.mu.Lock()
	if prg, ok := e.cache[expr]; ok {
		e.mu.Unlock()
		return prg, nil
	}
	e.mu.Unlock()

	prg, err := e.compile(expr)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expr] = prg
	e.mu.Unlock()
	return prg, nil
}

// Evaluate compiles (or reuses a cached compile of) expr and runs it
// against mc, implementing redundancy.Evaluator.
func (e *Evaluator) Evaluate(expr string, mc redundancy.MatchContext) (bool, error) {
	prg, err := e.programFor(expr)
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, BuildActivation(mc))
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}

	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}
	return boolResult, nil
}

var _ redundancy.Evaluator = (*Evaluator)(nil)
