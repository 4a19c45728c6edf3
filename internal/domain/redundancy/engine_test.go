package redundancy

import (
	"errors"
	"testing"

	"github.com/fathomsec/fathom/internal/domain/options"
)

func TestEngine_PlainRegexpBudget(t *testing.T) {
	e, err := New([]options.RedundancyRule{{Pattern: `^https://example\.test/items/\d+$`, Count: 2}}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 2; i++ {
		skip, err := e.ShouldSkip(MatchContext{URL: "https://example.test/items/1"})
		if err != nil {
			t.Fatalf("ShouldSkip: %v", err)
		}
		if skip {
			t.Fatalf("iteration %d: expected budget to still allow this match", i)
		}
	}

	skip, err := e.ShouldSkip(MatchContext{URL: "https://example.test/items/1"})
	if err != nil {
		t.Fatalf("ShouldSkip: %v", err)
	}
	if !skip {
		t.Fatal("expected the third match to be redundant once the budget is exhausted")
	}
}

func TestEngine_NonMatchingURLNeverSkipped(t *testing.T) {
	e, err := New([]options.RedundancyRule{{Pattern: `^https://example\.test/items/\d+$`, Count: 0}}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	skip, err := e.ShouldSkip(MatchContext{URL: "https://example.test/about"})
	if err != nil {
		t.Fatalf("ShouldSkip: %v", err)
	}
	if skip {
		t.Fatal("a URL that matches no rule must never be treated as redundant")
	}
}

func TestEngine_ZeroBudgetSkipsImmediately(t *testing.T) {
	e, err := New([]options.RedundancyRule{{Pattern: `^https://example\.test/items/\d+$`, Count: 0}}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	skip, err := e.ShouldSkip(MatchContext{URL: "https://example.test/items/42"})
	if err != nil {
		t.Fatalf("ShouldSkip: %v", err)
	}
	if !skip {
		t.Fatal("a rule with a zero starting budget should skip on the first match")
	}
}

func TestEngine_CELRuleDelegatesToEvaluator(t *testing.T) {
	ev := &stubEvaluator{result: true}
	e, err := New([]options.RedundancyRule{{Pattern: "cel:" + `path.startsWith("/items/")`, Count: 1}}, ev)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	skip, err := e.ShouldSkip(MatchContext{URL: "https://example.test/items/1", Path: "/items/1"})
	if err != nil {
		t.Fatalf("ShouldSkip: %v", err)
	}
	if skip {
		t.Fatal("expected the first CEL match to still be within budget")
	}
	if ev.calls != 1 {
		t.Fatalf("evaluator called %d times, want 1", ev.calls)
	}
}

func TestEngine_CELRuleWithoutEvaluatorNeverMatches(t *testing.T) {
	e, err := New([]options.RedundancyRule{{Pattern: "cel:" + `true`, Count: 0}}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	skip, err := e.ShouldSkip(MatchContext{URL: "https://example.test/x"})
	if err != nil {
		t.Fatalf("ShouldSkip: %v", err)
	}
	if skip {
		t.Fatal("a cel: rule with no installed evaluator must never match")
	}
}

func TestEngine_SetEvaluatorInstallsLate(t *testing.T) {
	e, err := New([]options.RedundancyRule{{Pattern: "cel:" + `true`, Count: 0}}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.SetEvaluator(&stubEvaluator{result: true})

	skip, err := e.ShouldSkip(MatchContext{URL: "https://example.test/x"})
	if err != nil {
		t.Fatalf("ShouldSkip: %v", err)
	}
	if !skip {
		t.Fatal("expected the late-installed evaluator to be consulted")
	}
}

func TestEngine_InvalidRegexpRejectedAtConstruction(t *testing.T) {
	_, err := New([]options.RedundancyRule{{Pattern: "(unterminated"}}, nil)
	if err == nil {
		t.Fatal("expected New to reject an invalid regexp pattern")
	}
}

func TestEngine_EvaluatorErrorPropagates(t *testing.T) {
	e, err := New([]options.RedundancyRule{{Pattern: "cel:" + `true`}}, &stubEvaluator{err: errors.New("boom")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = e.ShouldSkip(MatchContext{URL: "https://example.test/x"})
	if err == nil {
		t.Fatal("expected the evaluator's error to propagate out of ShouldSkip")
	}
}

type stubEvaluator struct {
	result bool
	err    error
	calls  int
}

func (s *stubEvaluator) Evaluate(expr string, mc MatchContext) (bool, error) {
	s.calls++
	return s.result, s.err
}
