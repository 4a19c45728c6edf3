package report

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/fathomsec/fathom/internal/domain/audit"
)

type stubFormatter struct {
	info Info
}

func (f stubFormatter) Info() Info { return f.info }

// stubRenderer is a Formatter that also renders, recording the store it
// was handed; it optionally panics to exercise fault isolation.
type stubRenderer struct {
	info     Info
	panics   bool
	rendered []*audit.Store
}

func (f *stubRenderer) Info() Info { return f.info }

func (f *stubRenderer) Render(ctx context.Context, store *audit.Store) error {
	if f.panics {
		panic("stub renderer panic")
	}
	f.rendered = append(f.rendered, store)
	return nil
}

func TestRegistry_RunRendersAndIsolatesFaults(t *testing.T) {
	r := NewRegistry()
	bad := &stubRenderer{info: Info{Name: "bad"}, panics: true}
	good := &stubRenderer{info: Info{Name: "good"}}
	r.Register("a-bad", bad)
	r.Register("b-good", good)
	r.Register("manifest-only", stubFormatter{info: Info{Name: "manifest-only"}})

	store := &audit.Store{Version: "test"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r.Run(context.Background(), logger, store)

	if len(good.rendered) != 1 || good.rendered[0] != store {
		t.Fatalf("good.rendered = %+v, want the store rendered exactly once despite the faulting sibling", good.rendered)
	}
}

func TestRegistry_ListFiltersByConjunctionOfPatterns(t *testing.T) {
	r := NewRegistry()
	r.Register("json", stubFormatter{info: Info{Name: "json", Format: "json", Description: "JSON report"}})
	r.Register("html-summary", stubFormatter{info: Info{Name: "html-summary", Format: "html", Author: []string{" a ", "", "b"}}})

	listed, err := r.List([]string{"html"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 1 || listed[0].Path != "html-summary" {
		t.Fatalf("listed = %+v, want only html-summary", listed)
	}
	if len(listed[0].Author) != 2 || listed[0].Author[0] != "a" || listed[0].Author[1] != "b" {
		t.Fatalf("Author = %+v, want trimmed [a b]", listed[0].Author)
	}
}

func TestRegistry_ListWithNoPatternsReturnsEverything(t *testing.T) {
	r := NewRegistry()
	r.Register("json", stubFormatter{info: Info{Name: "json"}})
	r.Register("html", stubFormatter{info: Info{Name: "html"}})

	listed, err := r.List(nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("listed = %+v, want 2 entries", listed)
	}
}

func TestRegistry_ListDoesNotMutateRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("json", stubFormatter{info: Info{Name: "json"}})

	if _, err := r.List(nil); err != nil {
		t.Fatalf("List: %v", err)
	}
	listed, err := r.List(nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 1 {
		t.Fatal("expected List to leave the registry untouched across repeated calls")
	}
}

func TestRegistry_ResetClearsFormatters(t *testing.T) {
	r := NewRegistry()
	r.Register("json", stubFormatter{info: Info{Name: "json"}})
	r.Reset()

	listed, err := r.List(nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("listed = %+v, want empty after Reset", listed)
	}
}

func TestRegistry_ListRejectsInvalidPattern(t *testing.T) {
	r := NewRegistry()
	if _, err := r.List([]string{"(unterminated"}); err == nil {
		t.Fatal("expected List to reject an invalid regexp pattern")
	}
}
