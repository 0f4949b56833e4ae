// Package search is a client for the DuckDuckGo HTML search endpoint.
package search

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://html.duckduckgo.com/html"

// Result is one organic search hit.
type Result struct {
	Title string
	URL   string
}

// Client performs web searches.
type Client interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

// Option configures the client.
type Option func(*htmlClient)

// WithBaseURL overrides the default endpoint.
func WithBaseURL(url string) Option {
	return func(c *htmlClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *htmlClient) {
		c.http = hc
	}
}

type htmlClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a search client.
func NewClient(opts ...Option) Client {
	c := &htmlClient{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *htmlClient) Search(ctx context.Context, query string) ([]Result, error) {
	u := c.baseURL + "/?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrap(err, "search: create request")
	}
	// The endpoint blocks default Go user agents.
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "search: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("search: unexpected status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "search: parse response")
	}

	var results []Result
	doc.Find("a.result__a").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		results = append(results, Result{
			Title: strings.TrimSpace(s.Text()),
			URL:   unwrapRedirect(href),
		})
	})

	return results, nil
}

// unwrapRedirect resolves the /l/?uddg=<target> indirection the HTML
// endpoint puts on result links.
func unwrapRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}
