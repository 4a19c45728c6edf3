package page

import "testing"

func TestPage_HasXMethods(t *testing.T) {
	empty := &Page{}
	if empty.HasLinks() || empty.HasForms() || empty.HasCookies() || empty.HasHeaders() {
		t.Fatal("a zero-value page must report no elements of any class")
	}

	full := &Page{
		Links:   []Link{{URL: "https://example.test/a"}},
		Forms:   []Form{{Action: "https://example.test/submit"}},
		Cookies: []Cookie{{Name: "session"}},
		Headers: []Header{{Name: "X-Test"}},
	}
	if !full.HasLinks() || !full.HasForms() || !full.HasCookies() || !full.HasHeaders() {
		t.Fatal("a page with one of each element class must report all four as present")
	}
}

func TestPage_CloneIsDeepAndIndependent(t *testing.T) {
	orig := &Page{
		URL:    "https://example.test/",
		Status: 200,
		Links:  []Link{{URL: "https://example.test/a", Query: map[string]string{"id": "1"}}},
		Forms:  []Form{{Action: "https://example.test/submit", Fields: []FormField{{Name: "id", Value: "1"}}}},
		Body:   []byte("hello"),
	}

	clone := orig.Clone()

	clone.Links[0].Query["id"] = "2"
	clone.Forms[0].Fields[0].Value = "2"
	clone.Body[0] = 'H'

	if orig.Links[0].Query["id"] != "1" {
		t.Fatal("mutating the clone's link query must not affect the original")
	}
	if orig.Forms[0].Fields[0].Value != "1" {
		t.Fatal("mutating the clone's form field must not affect the original")
	}
	if orig.Body[0] != 'h' {
		t.Fatal("mutating the clone's body must not affect the original")
	}
}

func TestPage_CloneOfNilIsNil(t *testing.T) {
	var p *Page
	if p.Clone() != nil {
		t.Fatal("cloning a nil page must return nil")
	}
}

func TestPage_CloneOfEmptyPageHasNilSlices(t *testing.T) {
	clone := (&Page{URL: "https://example.test/"}).Clone()
	if clone.Links != nil || clone.Forms != nil || clone.Cookies != nil || clone.Headers != nil || clone.Body != nil {
		t.Fatal("cloning a page with no elements must not synthesize empty slices")
	}
}
