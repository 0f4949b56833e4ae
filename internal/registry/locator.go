// Package registry resolves a business name to its federal registry record
// by way of a site-scoped web search.
package registry

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/leadfoundry/leadgen-cli/internal/webpage"
	"github.com/leadfoundry/leadgen-cli/pkg/search"
)

// ErrNoMatch means no registry identifier could be located for the name.
// Provider failures degrade to this; a missing match is never fatal.
var ErrNoMatch = errors.New("registry: no match")

// profileSite is the public CNPJ profile site the search is scoped to.
const profileSite = "cnpj.biz"

var taxIDRe = regexp.MustCompile(`\d{14}`)

// formattedTaxIDRe matches the display form 00.000.000/0000-00.
var formattedTaxIDRe = regexp.MustCompile(`\d{2}\.\d{3}\.\d{3}/\d{4}-\d{2}`)

// Locator finds the tax id for a business by name and city.
type Locator struct {
	search  search.Client
	session *webpage.Session
}

// NewLocator creates a Locator.
func NewLocator(sc search.Client, session *webpage.Session) *Locator {
	return &Locator{search: sc, session: session}
}

// Locate returns the 14-digit tax id for the named business, or ErrNoMatch.
// The id is read from the first search hit's URL when present, otherwise
// scraped from the profile page itself.
func (l *Locator) Locate(ctx context.Context, name, city string) (string, error) {
	query := "site:" + profileSite + " " + foldDiacritics(name) + " " + foldDiacritics(city)

	results, err := l.search.Search(ctx, query)
	if err != nil {
		zap.L().Warn("registry search failed",
			zap.String("query", query),
			zap.Error(err),
		)
		return "", eris.Wrap(ErrNoMatch, err.Error())
	}
	if len(results) == 0 {
		return "", eris.Wrapf(ErrNoMatch, "no results for %q", query)
	}

	hit := results[0]
	if id := taxIDRe.FindString(hit.URL); id != "" {
		return id, nil
	}

	// The hit points at a profile without the id in the path. Scrape it.
	page, err := l.session.Fetch(ctx, hit.URL)
	if err != nil {
		zap.L().Warn("registry profile fetch failed",
			zap.String("url", hit.URL),
			zap.Error(err),
		)
		return "", eris.Wrap(ErrNoMatch, err.Error())
	}

	text := page.VisibleText()
	if formatted := formattedTaxIDRe.FindString(text); formatted != "" {
		return stripNonDigits(formatted), nil
	}
	if id := taxIDRe.FindString(text); id != "" {
		return id, nil
	}

	return "", eris.Wrapf(ErrNoMatch, "no tax id on %s", hit.URL)
}

var diacriticsFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldDiacritics lowercases and strips accents so queries match the
// profile site's slugs.
func foldDiacritics(s string) string {
	out, _, err := transform.String(diacriticsFold, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

func stripNonDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
