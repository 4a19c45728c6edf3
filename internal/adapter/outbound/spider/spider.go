// Package spider is a concrete breadth-first crawler implementing
// internal/domain/spider.Spider. It fetches pages with net/http, extracts
// links with goquery, and deduplicates visited URLs with xxhash.
package spider

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cespare/xxhash/v2"

	"github.com/fathomsec/fathom/internal/domain/spider"
	"github.com/fathomsec/fathom/internal/domain/validation"
)

// maxPageBodySize bounds a single fetched page during discovery.
const maxPageBodySize = 5 * 1024 * 1024 // 5MB

// Spider is a breadth-first crawler bounded to a single host (the seed's
// host); it never follows links to a different origin.
type Spider struct {
	seeds  []string
	client *http.Client
	logger *slog.Logger

	mu        sync.Mutex
	seen      map[uint64]struct{}
	sitemap   []string
	redirects []string
	pauseCh   chan struct{}
}

// New creates a Spider that crawls starting from seeds.
func New(seeds []string, client *http.Client, logger *slog.Logger) *Spider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Spider{
		seeds:  seeds,
		client: client,
		logger: logger,
		seen:   make(map[uint64]struct{}),
	}
}

// Crawl performs a breadth-first traversal from the configured seeds,
// invoking onResponse once per fetched page.
func (s *Spider) Crawl(ctx context.Context, onResponse spider.ResponseCallback) error {
	if len(s.seeds) == 0 {
		return nil
	}

	origin, err := url.Parse(s.seeds[0])
	if err != nil {
		return err
	}
	sanitizer := validation.NewSanitizer(origin)

	queue := append([]string(nil), s.seeds...)
	for len(queue) > 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.waitIfPaused(ctx)

		next := queue[0]
		queue = queue[1:]

		clean, err := sanitizer.SanitizeSeed(next)
		if err != nil {
			s.logger.Debug("spider skipped unparseable url", "url", next, "error", err)
			continue
		}
		if !s.markSeen(clean) {
			continue
		}

		links, effectiveURL, redirected, err := s.fetchAndExtract(ctx, clean)
		if err != nil {
			s.logger.Debug("spider fetch failed", "url", clean, "error", err)
			continue
		}
		if redirected {
			s.mu.Lock()
			s.redirects = append(s.redirects, clean)
			s.mu.Unlock()
		}

		s.mu.Lock()
		s.sitemap = append(s.sitemap, effectiveURL)
		snapshot := append(spider.Sitemap(nil), s.sitemap...)
		s.mu.Unlock()

		if onResponse != nil {
			onResponse(effectiveURL, snapshot)
		}

		for _, link := range links {
			abs, err := sanitizer.Absolutize(link)
			if err != nil {
				continue
			}
			u, err := url.Parse(abs)
			if err != nil || u.Host != origin.Host {
				continue
			}
			queue = append(queue, abs)
		}
	}

	return nil
}

func (s *Spider) markSeen(clean string) bool {
	h := xxhash.Sum64String(clean)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[h]; ok {
		return false
	}
	s.seen[h] = struct{}{}
	return true
}

func (s *Spider) fetchAndExtract(ctx context.Context, target string) (links []string, effectiveURL string, redirected bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", false, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", false, err
	}
	defer func() { _ = resp.Body.Close() }()

	effectiveURL = resp.Request.URL.String()
	redirected = effectiveURL != target

	body := io.LimitReader(resp.Body, maxPageBodySize)
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, effectiveURL, redirected, err
	}

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok {
			links = append(links, href)
		}
	})

	return links, effectiveURL, redirected, nil
}

// Redirects returns the set of URLs the spider followed a redirect away from.
func (s *Spider) Redirects() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.redirects...)
}

// Pause blocks subsequent fetches until Resume is called.
func (s *Spider) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pauseCh == nil {
		s.pauseCh = make(chan struct{})
	}
}

// Resume releases a paused crawl.
func (s *Spider) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pauseCh != nil {
		close(s.pauseCh)
		s.pauseCh = nil
	}
}

func (s *Spider) waitIfPaused(ctx context.Context) {
	s.mu.Lock()
	ch := s.pauseCh
	s.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case <-ch:
	case <-ctx.Done():
	}
}

var _ spider.Spider = (*Spider)(nil)
