package httpengine

import (
	"net/http"
	"sync"

	"github.com/fathomsec/fathom/internal/domain/httpengine"
)

// trainer accumulates pages synthesized from observed responses: redirects
// that landed on a URL other than the one requested, when the final
// response's Content-Type is HTML-like or absent. Responses that were not
// redirected are never recorded, whatever their Content-Type.
type trainer struct {
	mu    sync.Mutex
	pages []httpengine.TrainedPage
}

func newTrainer() *trainer {
	return &trainer{}
}

// observe inspects a completed response and records a TrainedPage if it
// represents a redirect destination worth folding into the sitemap.
func (t *trainer) observe(requestedURL string, resp *httpengine.Response) {
	if resp == nil || resp.Err != nil {
		return
	}
	if !resp.Redirected {
		return
	}
	if resp.URL == requestedURL {
		return
	}
	if !isHTMLLike(http.Header(resp.Headers)) {
		return
	}

	t.mu.Lock()
	t.pages = append(t.pages, httpengine.TrainedPage{URL: resp.URL, Response: resp})
	t.mu.Unlock()
}

// FlushPages returns and clears all pages accumulated since the last flush.
func (t *trainer) FlushPages() []httpengine.TrainedPage {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pages) == 0 {
		return nil
	}
	out := t.pages
	t.pages = nil
	return out
}

func isHTMLLike(headers http.Header) bool {
	if headers == nil {
		return true
	}
	ct := headers.Get("Content-Type")
	if ct == "" {
		return true
	}
	for _, prefix := range []string{"text/html", "application/xhtml", "text/plain"} {
		if len(ct) >= len(prefix) && ct[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

var _ httpengine.Trainer = (*trainer)(nil)
