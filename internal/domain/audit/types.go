// Package audit holds the issue model and the audit-store builder: it
// freezes the final options, sitemap, issues and plugin results produced
// by a scan into an immutable report artifact.
package audit

import "github.com/fathomsec/fathom/internal/domain/page"

// ElementKind classifies the page element an Issue (or a module's
// applicability declaration) refers to.
type ElementKind string

const (
	ElementLink   ElementKind = "LINK"
	ElementForm   ElementKind = "FORM"
	ElementCookie ElementKind = "COOKIE"
	ElementHeader ElementKind = "HEADER"
	ElementBody   ElementKind = "BODY"
	ElementPath   ElementKind = "PATH"
	ElementServer ElementKind = "SERVER"
)

// Issue is a finding produced by a module run: the element class it
// concerns, the offending page, and structured evidence describing the
// vulnerability (injected parameter, matched response fragment, and the
// like).
type Issue struct {
	Element ElementKind
	Page    *page.Page
	Name    string
	Payload map[string]any
}

// Clone returns a deep copy of the issue, including its page and payload,
// so a snapshot cannot observe later mutation of the live issue.
func (i Issue) Clone() Issue {
	cp := i
	cp.Page = i.Page.Clone()
	if i.Payload != nil {
		cp.Payload = make(map[string]any, len(i.Payload))
		for k, v := range i.Payload {
			cp.Payload[k] = v
		}
	}
	return cp
}

// Store is an immutable snapshot of a completed (or in-progress) scan,
// suitable for handing to a report formatter.
type Store struct {
	Version       string
	Revision      string
	Options       map[string]any
	Sitemap       []string
	Issues        []Issue
	PluginResults map[string]any
}

func cloneIssues(issues []Issue) []Issue {
	out := make([]Issue, len(issues))
	for idx, issue := range issues {
		out[idx] = issue.Clone()
	}
	return out
}

func cloneStrings(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func clonePluginResults(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
