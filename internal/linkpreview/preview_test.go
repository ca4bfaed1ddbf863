package linkpreview

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestExtractFirstURL(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"https url", "check out https://example.com/page", "https://example.com/page"},
		{"http url", "visit http://example.com", "http://example.com"},
		{"no url", "just a plain message", ""},
		{"url only", "https://example.com", "https://example.com"},
		{"multiple urls picks first", "see https://a.com and https://b.com", "https://a.com"},
		{"url with path and query", "link: https://example.com/path?q=1&b=2", "https://example.com/path?q=1&b=2"},
		{"url with fragment", "https://example.com/page#section", "https://example.com/page#section"},
		{"no scheme", "check example.com", ""},
		{"ftp not matched", "ftp://files.example.com", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractFirstURL(tt.input)
			if got != tt.want {
				t.Errorf("ExtractFirstURL(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseOGTags(t *testing.T) {
	page := `<!DOCTYPE html>
<html>
<head>
	<title>Fallback Title</title>
	<meta property="og:title" content="OG Title">
	<meta property="og:description" content="OG Description">
	<meta property="og:image" content="https://example.com/img.jpg">
</head>
<body></body>
</html>`
	var p Preview
	parseOGTags(&p, strings.NewReader(page))
	if p.Title != "OG Title" {
		t.Errorf("Title: got %q, want %q", p.Title, "OG Title")
	}
	if p.Description != "OG Description" {
		t.Errorf("Description: got %q, want %q", p.Description, "OG Description")
	}
	if p.Image != "https://example.com/img.jpg" {
		t.Errorf("Image: got %q, want %q", p.Image, "https://example.com/img.jpg")
	}
}

func TestParseOGTagsFallbackTitle(t *testing.T) {
	page := `<html><head><title>Page Title</title></head><body></body></html>`
	var p Preview
	parseOGTags(&p, strings.NewReader(page))
	if p.Title != "Page Title" {
		t.Errorf("Title: got %q, want %q", p.Title, "Page Title")
	}
}

func TestParseOGTagsFallbackMetaDescription(t *testing.T) {
	page := `<html><head><meta name="description" content="Meta Desc"></head><body></body></html>`
	var p Preview
	parseOGTags(&p, strings.NewReader(page))
	if p.Description != "Meta Desc" {
		t.Errorf("Description: got %q, want %q", p.Description, "Meta Desc")
	}
}

func TestParseOGTagsEmptyHTML(t *testing.T) {
	var p Preview
	parseOGTags(&p, strings.NewReader(""))
	if p.Title != "" || p.Description != "" || p.Image != "" {
		t.Errorf("expected empty preview, got %#v", p)
	}
}

func TestFetchFillsDomainAndMetadata(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><meta property="og:title" content="Hi"></head><body></body></html>`)
	}))
	defer ts.Close()

	f := NewFetcher()
	p, err := f.Fetch(ts.URL + "/page")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if p.Title != "Hi" {
		t.Errorf("Title: got %q, want %q", p.Title, "Hi")
	}
	if p.Domain != "127.0.0.1" {
		t.Errorf("Domain: got %q", p.Domain)
	}
	if p.URL != ts.URL+"/page" {
		t.Errorf("URL: got %q", p.URL)
	}
}

func TestFetchSkipsNonHTML(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"title":"not parsed"}`)
	}))
	defer ts.Close()

	f := NewFetcher()
	p, err := f.Fetch(ts.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if p.Title != "" {
		t.Errorf("expected no title for non-HTML, got %q", p.Title)
	}
	if p.Domain == "" {
		t.Error("expected domain filled even for non-HTML")
	}
}

func TestFetchRejectsUnsupportedScheme(t *testing.T) {
	f := NewFetcher()
	if _, err := f.Fetch("ftp://files.example.com"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
	if _, err := f.Fetch("not a url at all ://"); err == nil {
		t.Fatal("expected error for garbage input")
	}
}

func TestFetchCachesResults(t *testing.T) {
	var hits atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Cached</title></head><body></body></html>`)
	}))
	defer ts.Close()

	f := NewFetcher()
	for i := 0; i < 3; i++ {
		if _, err := f.Fetch(ts.URL); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("expected 1 origin hit, got %d", n)
	}
}

func TestFetchCacheEvictsOldest(t *testing.T) {
	var hits atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Page</title></head><body></body></html>`)
	}))
	defer ts.Close()

	f := NewFetcher()
	first := ts.URL + "/p0"
	for i := 0; i <= maxCacheEntries; i++ {
		if _, err := f.Fetch(fmt.Sprintf("%s/p%d", ts.URL, i)); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}

	before := hits.Load()
	if _, err := f.Fetch(first); err != nil {
		t.Fatalf("refetch evicted url: %v", err)
	}
	if hits.Load() != before+1 {
		t.Fatal("expected the oldest entry to have been evicted")
	}
}
