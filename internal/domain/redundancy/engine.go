package redundancy

import (
	"regexp"
	"strings"
	"sync"

	"github.com/fathomsec/fathom/internal/domain/options"
)

// celPrefix marks a rule pattern as a CEL boolean expression rather than a
// plain regexp, evaluated against MatchContext's fields.
const celPrefix = "cel:"

// Evaluator evaluates a CEL expression against a MatchContext. Implemented
// by the CEL adapter; kept as a narrow domain-owned port so the engine
// never imports a concrete CEL binding.
type Evaluator interface {
	Evaluate(expr string, mc MatchContext) (bool, error)
}

// rule pairs a live (mutable) copy of an options.RedundancyRule with its
// compiled regexp, when the pattern isn't a CEL expression.
type rule struct {
	live *options.RedundancyRule
	re   *regexp.Regexp
}

// Engine decides, for each candidate URL, whether it is redundant with an
// already-budgeted pattern. It operates on a clone of the configured
// rules — Count is a per-rule match budget that decrements as the engine
// consumes it — so the original rule set handed to the report builder is
// left untouched.
type Engine struct {
	evaluator Evaluator

	mu    sync.Mutex
	rules []*rule
	// celPatterns holds the CEL expression (pattern with the cel: prefix
	// removed) for any rule whose pattern is a CEL expression, keyed by
	// index into rules.
	celPatterns map[int]string
}

// SetEvaluator installs (or replaces) the CEL evaluator used for cel:
// prefixed rules. Exists because the evaluator is typically constructed by
// the CEL adapter after the engine itself, once the caller decides the
// ruleset actually needs one.
func (e *Engine) SetEvaluator(evaluator Evaluator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evaluator = evaluator
}

// New compiles rules (a clone, per the snapshot-before-use discipline) and
// returns an Engine. A nil evaluator is fine as long as no rule uses the
// cel: prefix.
func New(rules []options.RedundancyRule, evaluator Evaluator) (*Engine, error) {
	e := &Engine{evaluator: evaluator, celPatterns: make(map[int]string)}
	for i := range rules {
		r := &rules[i]
		if strings.HasPrefix(r.Pattern, celPrefix) {
			e.celPatterns[len(e.rules)] = strings.TrimPrefix(r.Pattern, celPrefix)
			e.rules = append(e.rules, &rule{live: r})
			continue
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, err
		}
		e.rules = append(e.rules, &rule{live: r, re: re})
	}
	return e, nil
}

// ShouldSkip reports whether mc.URL is redundant with an exhausted rule's
// pattern. A rule with a positive Count budget is spent by one on a match
// and the URL is treated as non-redundant; once Count reaches zero, every
// further match is redundant and Count is left at zero.
func (e *Engine) ShouldSkip(mc MatchContext) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, r := range e.rules {
		matched, err := e.matches(i, r, mc)
		if err != nil {
			return false, err
		}
		if !matched {
			continue
		}
		if r.live.Count <= 0 {
			return true, nil
		}
		r.live.Count--
		return false, nil
	}
	return false, nil
}

func (e *Engine) matches(i int, r *rule, mc MatchContext) (bool, error) {
	if expr, ok := e.celPatterns[i]; ok {
		if e.evaluator == nil {
			return false, nil
		}
		return e.evaluator.Evaluate(expr, mc)
	}
	return r.re.MatchString(mc.URL), nil
}
