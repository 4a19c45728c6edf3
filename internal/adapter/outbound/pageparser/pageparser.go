// Package pageparser is the concrete implementation of page.FromResponseFunc:
// it turns a raw HTTP response into a parsed page.Page using goquery,
// extracting links, forms, cookies and headers according to ParseOptions.
package pageparser

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/fathomsec/fathom/internal/domain/page"
)

// maxDocumentSize bounds how much of a response body goquery will parse,
// mirroring the spider adapter's maxPageBodySize guard.
const maxDocumentSize = 10 * 1024 * 1024

// FromHTTPResponse parses in into a page.Page, honoring opts' element-class
// toggles so the orchestrator never pays for work it won't use. It
// satisfies page.FromResponseFunc.
func FromHTTPResponse(in page.RawResponse, opts page.ParseOptions) (*page.Page, error) {
	p := &page.Page{URL: in.URL, Status: in.StatusCode}

	base, err := url.Parse(in.URL)
	if err != nil {
		return nil, fmt.Errorf("pageparser: parse base url %q: %w", in.URL, err)
	}

	if opts.ExtractHeaders {
		p.Headers = extractHeaders(in.Headers)
	}
	if opts.ExtractCookies {
		p.Cookies = extractCookies(in.Headers, base)
	}

	if !opts.ExtractLinks && !opts.ExtractForms {
		return p, nil
	}

	body := in.Body
	if len(body) > maxDocumentSize {
		body = body[:maxDocumentSize]
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("pageparser: parse html: %w", err)
	}

	if opts.ExtractLinks {
		p.Links = extractLinks(doc, base)
	}
	if opts.ExtractForms {
		p.Forms = extractForms(doc, base)
	}

	return p, nil
}

func extractHeaders(h map[string][]string) []page.Header {
	if len(h) == 0 {
		return nil
	}
	out := make([]page.Header, 0, len(h))
	for name, values := range h {
		for _, v := range values {
			out = append(out, page.Header{Name: name, Value: v})
		}
	}
	return out
}

func extractCookies(h map[string][]string, base *url.URL) []page.Cookie {
	raw := http.Header(h)
	header := &http.Response{Header: raw}
	cookies := header.Cookies()
	if len(cookies) == 0 {
		return nil
	}
	out := make([]page.Cookie, 0, len(cookies))
	for _, c := range cookies {
		domain := c.Domain
		if domain == "" {
			domain = base.Hostname()
		}
		out = append(out, page.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: domain,
			Path:   c.Path,
			Secure: c.Secure,
		})
	}
	return out
}

func extractLinks(doc *goquery.Document, base *url.URL) []page.Link {
	var links []page.Link
	seen := make(map[string]struct{})

	collect := func(source, attr string) {
		doc.Find(source).Each(func(_ int, sel *goquery.Selection) {
			href, ok := sel.Attr(attr)
			if !ok || href == "" || strings.HasPrefix(href, "javascript:") {
				return
			}
			abs, err := absolutize(base, href)
			if err != nil {
				return
			}
			if _, dup := seen[abs]; dup {
				return
			}
			seen[abs] = struct{}{}

			u, err := url.Parse(abs)
			query := map[string]string{}
			if err == nil {
				for k, v := range u.Query() {
					if len(v) > 0 {
						query[k] = v[0]
					}
				}
			}
			links = append(links, page.Link{URL: abs, Source: tagName(sel), Query: query})
		})
	}

	collect("a[href]", "href")
	collect("link[href]", "href")
	collect("script[src]", "src")
	collect("img[src]", "src")

	return links
}

func tagName(sel *goquery.Selection) string {
	if len(sel.Nodes) == 0 {
		return ""
	}
	return sel.Nodes[0].Data
}

func extractForms(doc *goquery.Document, base *url.URL) []page.Form {
	var forms []page.Form

	doc.Find("form").Each(func(_ int, sel *goquery.Selection) {
		action, _ := sel.Attr("action")
		abs := base.String()
		if action != "" {
			if resolved, err := absolutize(base, action); err == nil {
				abs = resolved
			}
		}

		method := strings.ToUpper(sel.AttrOr("method", "GET"))

		var fields []page.FormField
		sel.Find("input,select,textarea").Each(func(_ int, field *goquery.Selection) {
			name, ok := field.Attr("name")
			if !ok || name == "" {
				return
			}
			_, required := field.Attr("required")
			fields = append(fields, page.FormField{
				Name:     name,
				Value:    field.AttrOr("value", ""),
				Type:     strings.ToLower(field.AttrOr("type", "text")),
				Required: required,
			})
		})

		forms = append(forms, page.Form{Action: abs, Method: method, Fields: fields})
	})

	return forms
}

func absolutize(base *url.URL, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(u).String(), nil
}

var _ page.FromResponseFunc = FromHTTPResponse
