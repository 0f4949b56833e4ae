// Package webpage fetches and parses public web pages. A Session holds the
// HTTP client shared by enrichment stages so connection reuse and the
// per-page time budget live in one place.
package webpage

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

const defaultPageTimeout = 15 * time.Second

// Session fetches pages with a fixed per-page time budget.
type Session struct {
	http *http.Client
}

// NewSession creates a Session. A non-positive timeout falls back to the
// default budget.
func NewSession(timeout time.Duration) *Session {
	if timeout <= 0 {
		timeout = defaultPageTimeout
	}
	return &Session{
		http: &http.Client{Timeout: timeout},
	}
}

// Page is a fetched, parsed HTML page.
type Page struct {
	URL string
	doc *goquery.Document
}

// Fetch downloads and parses one page.
func (s *Session) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "webpage: create request %s", pageURL)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "webpage: fetch %s", pageURL)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("webpage: fetch %s: status %d", pageURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "webpage: parse %s", pageURL)
	}

	final := pageURL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	return &Page{URL: final, doc: doc}, nil
}

// Parse builds a Page from already-fetched HTML. Used by stages that get
// markup from somewhere other than the session.
func Parse(pageURL, html string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, eris.Wrapf(err, "webpage: parse %s", pageURL)
	}
	return &Page{URL: pageURL, doc: doc}, nil
}

// Doc exposes the parsed document for selector work.
func (p *Page) Doc() *goquery.Document {
	return p.doc
}

// Title returns the page title, trimmed.
func (p *Page) Title() string {
	return strings.TrimSpace(p.doc.Find("title").First().Text())
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// VisibleText returns the human-visible text of the page. Script, style,
// nav, footer and header chrome are dropped and whitespace collapsed.
func (p *Page) VisibleText() string {
	clone := p.doc.Clone()
	clone.Find("script, style, noscript, nav, footer, header").Remove()
	text := clone.Find("body").Text()
	if text == "" {
		text = clone.Text()
	}
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

// ResolveLink resolves href against the page URL. Returns "" when either
// side does not parse.
func (p *Page) ResolveLink(href string) string {
	base, err := url.Parse(p.URL)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// SameSite reports whether target is on the same host as the page.
func (p *Page) SameSite(target string) bool {
	base, err := url.Parse(p.URL)
	if err != nil {
		return false
	}
	t, err := url.Parse(target)
	if err != nil {
		return false
	}
	return t.Host == "" || strings.EqualFold(t.Host, base.Host)
}
