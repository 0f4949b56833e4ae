// Package contacts extracts contact channels from company websites using a
// cheap heuristic cascade: structured anchors first, text regexes second, a
// contact page follow as the last resort.
package contacts

import (
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/leadfoundry/leadgen-cli/internal/model"
	"github.com/leadfoundry/leadgen-cli/internal/webpage"
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	// DDD plus 4-5 digit prefix and 4 digit suffix, common BR formats.
	phoneRe = regexp.MustCompile(`\(?\d{2}\)?\s?\d{4,5}-?\d{4}`)

	contactLinkRe = regexp.MustCompile(`(?i)contato|fale\s+conosco|contact`)
)

// imageExtensions catch asset filenames that match the email regex, like
// logo@2x.png.
var imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp"}

// Extractor pulls email and phone from a company website.
type Extractor struct {
	session *webpage.Session
}

// NewExtractor creates an Extractor sharing the given page session.
func NewExtractor(session *webpage.Session) *Extractor {
	return &Extractor{session: session}
}

// Extract visits siteURL and runs the cascade. A failure on the landing page
// returns the error; a failure following the contact page returns whatever
// was already found.
func (e *Extractor) Extract(ctx context.Context, siteURL string) (model.ContactInfo, error) {
	page, err := e.session.Fetch(ctx, siteURL)
	if err != nil {
		return model.ContactInfo{}, err
	}

	info := fromPage(page)
	if info.Email != "" && info.Phone != "" {
		return info, nil
	}

	// Last resort: follow the site's own contact page once.
	if info.Email == "" {
		if link := contactLink(page); link != "" {
			sub, err := e.session.Fetch(ctx, link)
			if err != nil {
				zap.L().Warn("contact page fetch failed",
					zap.String("url", link),
					zap.Error(err),
				)
				return info, nil
			}
			more := fromPage(sub)
			if info.Email == "" {
				info.Email = more.Email
			}
			if info.Phone == "" {
				info.Phone = more.Phone
			}
		}
	}

	return info, nil
}

// fromPage runs the anchor and regex steps on one page, short-circuiting
// per field.
func fromPage(page *webpage.Page) model.ContactInfo {
	var info model.ContactInfo

	page.Doc().Find(`a[href^="mailto:"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		addr := strings.TrimPrefix(href, "mailto:")
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		if addr = strings.TrimSpace(addr); validEmail(addr) {
			info.Email = addr
			return false
		}
		return true
	})

	page.Doc().Find(`a[href^="tel:"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if num := strings.TrimSpace(strings.TrimPrefix(href, "tel:")); num != "" {
			info.Phone = num
			return false
		}
		return true
	})

	if info.Email != "" && info.Phone != "" {
		return info
	}

	text := page.VisibleText()
	if info.Email == "" {
		for _, m := range emailRe.FindAllString(text, -1) {
			if validEmail(m) {
				info.Email = m
				break
			}
		}
	}
	if info.Phone == "" {
		info.Phone = phoneRe.FindString(text)
	}

	return info
}

// contactLink returns the first same-site link that reads like a contact
// page, resolved to an absolute URL.
func contactLink(page *webpage.Page) string {
	var out string
	page.Doc().Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !contactLinkRe.MatchString(strings.TrimSpace(s.Text())) {
			return true
		}
		href, _ := s.Attr("href")
		resolved := page.ResolveLink(href)
		if resolved == "" || !page.SameSite(resolved) {
			return true
		}
		out = resolved
		return false
	})
	return out
}

func validEmail(addr string) bool {
	lower := strings.ToLower(addr)
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return false
		}
	}
	return true
}
