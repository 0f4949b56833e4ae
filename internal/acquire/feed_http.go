package acquire

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// HTTPFeed reads a server-rendered listing feed over plain HTTP. Scrolling
// maps to re-fetching with a growing result window, so each Cards call sees
// the cumulative rendered list.
type HTTPFeed struct {
	baseURL string
	http    *http.Client

	query  string
	window int
	doc    *goquery.Document
}

// pageSize is how many extra results one scroll asks the feed for.
const pageSize = 20

// NewHTTPFeed creates a feed rooted at baseURL.
func NewHTTPFeed(baseURL string, timeout time.Duration) *HTTPFeed {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPFeed{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (f *HTTPFeed) Open(ctx context.Context, query string) error {
	f.query = query
	f.window = pageSize
	return f.refresh(ctx)
}

func (f *HTTPFeed) refresh(ctx context.Context) error {
	u := f.baseURL + "/?q=" + url.QueryEscape(f.query) + "&n=" + strconv.Itoa(f.window)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return eris.Wrap(err, "feed: create request")
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")

	resp, err := f.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "feed: fetch")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("feed: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return eris.Wrap(err, "feed: parse")
	}
	f.doc = doc
	return nil
}

func (f *HTTPFeed) Cards(_ context.Context) ([]Card, error) {
	if f.doc == nil {
		return nil, eris.New("feed: not open")
	}

	base, _ := url.Parse(f.baseURL)
	var cards []Card
	f.doc.Find(`[role="article"], .result-card`).Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("aria-label")
		if name == "" {
			name = strings.TrimSpace(s.Find(".result-name, h3").First().Text())
		}

		link := ""
		if href, ok := s.Find("a[href]").First().Attr("href"); ok {
			if ref, err := url.Parse(href); err == nil && base != nil {
				link = base.ResolveReference(ref).String()
			} else {
				link = href
			}
		}

		cards = append(cards, Card{Name: strings.TrimSpace(name), DetailURL: link})
	})

	return cards, nil
}

func (f *HTTPFeed) Scroll(ctx context.Context, _ int) error {
	f.window += pageSize
	return f.refresh(ctx)
}

func (f *HTTPFeed) Close() error {
	f.doc = nil
	return nil
}
