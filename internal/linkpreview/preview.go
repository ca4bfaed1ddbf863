// Package linkpreview fetches OpenGraph metadata for URLs found in chat
// messages. Results pass through a small bounded cache so repeated links in
// one conversation do not refetch.
package linkpreview

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
)

// fetchTimeout is the maximum time spent fetching a URL for preview
// metadata. Kept short so chat delivery is never delayed.
const fetchTimeout = 4 * time.Second

// maxBody is the maximum number of bytes read from a page when extracting
// OpenGraph metadata. Only the <head> section is needed.
const maxBody = 256 * 1024 // 256 KB

// maxCacheEntries bounds the in-memory preview cache.
const maxCacheEntries = 64

// urlPattern matches http:// and https:// URLs in message text.
var urlPattern = regexp.MustCompile(`https?://[^\s<>"]+`)

// ExtractFirstURL returns the first http(s) URL found in text, or "".
func ExtractFirstURL(text string) string {
	return urlPattern.FindString(text)
}

// Preview holds OpenGraph metadata extracted from a web page.
type Preview struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Image       string `json:"image"`
	Domain      string `json:"domain"`
}

// Fetcher fetches and caches link previews.
type Fetcher struct {
	client *http.Client

	mu    sync.Mutex
	cache map[string]Preview
	order []string // insertion order, oldest first
}

// NewFetcher returns a Fetcher with a bounded fetch client and empty cache.
func NewFetcher() *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: fetchTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		cache: make(map[string]Preview),
	}
}

// Fetch returns preview metadata for rawURL, from cache when possible.
func (f *Fetcher) Fetch(rawURL string) (Preview, error) {
	f.mu.Lock()
	if p, ok := f.cache[rawURL]; ok {
		f.mu.Unlock()
		return p, nil
	}
	f.mu.Unlock()

	p, err := f.fetch(rawURL)
	if err != nil {
		return Preview{}, err
	}

	f.mu.Lock()
	if _, exists := f.cache[rawURL]; !exists {
		f.cache[rawURL] = p
		f.order = append(f.order, rawURL)
		if len(f.order) > maxCacheEntries {
			delete(f.cache, f.order[0])
			f.order = f.order[1:]
		}
	}
	f.mu.Unlock()
	return p, nil
}

func (f *Fetcher) fetch(rawURL string) (Preview, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return Preview{}, fmt.Errorf("unsupported url: %q", rawURL)
	}

	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return Preview{}, err
	}
	req.Header.Set("User-Agent", "localchat-linkpreview/1.0")
	req.Header.Set("Accept", "text/html")

	resp, err := f.client.Do(req)
	if err != nil {
		return Preview{}, err
	}
	defer resp.Body.Close()

	p := Preview{URL: rawURL, Domain: parsed.Hostname()}

	// Only parse HTML responses.
	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(ct, "text/html") && !strings.Contains(ct, "application/xhtml") {
		return p, nil
	}

	body := io.LimitReader(resp.Body, maxBody)
	parseOGTags(&p, body)
	return p, nil
}

// parseOGTags reads HTML from r and fills p from OpenGraph meta tags and the
// <title> element.
func parseOGTags(p *Preview, r io.Reader) {
	tokenizer := html.NewTokenizer(r)
	var inTitle bool
	var titleText string

	finish := func() {
		if p.Title == "" && titleText != "" {
			p.Title = strings.TrimSpace(titleText)
		}
	}

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			// EOF or error — done parsing.
			finish()
			return

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tag := string(tn)

			if tag == "title" {
				inTitle = true
				continue
			}

			// Stop at <body> — nothing useful past the head.
			if tag == "body" {
				finish()
				return
			}

			if tag == "meta" && hasAttr {
				parseMeta(tokenizer, p)
			}

		case html.TextToken:
			if inTitle {
				titleText += string(tokenizer.Text())
			}

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "title" {
				inTitle = false
			}
		}
	}
}

// parseMeta extracts OpenGraph and standard meta properties from a <meta> tag.
func parseMeta(tokenizer *html.Tokenizer, p *Preview) {
	var property, name, content string
	for {
		key, val, more := tokenizer.TagAttr()
		switch string(key) {
		case "property":
			property = string(val)
		case "name":
			name = string(val)
		case "content":
			content = string(val)
		}
		if !more {
			break
		}
	}

	if content == "" {
		return
	}

	switch property {
	case "og:title":
		p.Title = content
	case "og:description":
		p.Description = content
	case "og:image":
		p.Image = content
	}

	// Fallback to standard meta tags if OG is not set.
	if name == "description" && p.Description == "" {
		p.Description = content
	}
}
