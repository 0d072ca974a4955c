// Package tracking instruments outgoing HTML with open and click
// tracking and records the resulting events.
package tracking

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/postwave/postwave/internal/domain"
	"github.com/postwave/postwave/internal/token"
)

var linkRe = regexp.MustCompile(`href=["'](https?://[^"']+)["']`)

// Injector rewrites rendered HTML so opens and clicks route through the
// tracking endpoints.
type Injector struct {
	tokens  *token.Service
	baseURL string
}

// NewInjector creates an Injector. baseURL is the public address of the
// tracking server, without a trailing slash.
func NewInjector(tokens *token.Service, baseURL string) *Injector {
	return &Injector{tokens: tokens, baseURL: strings.TrimRight(baseURL, "/")}
}

// Instrument rewrites every absolute http(s) link through the click
// endpoint and appends an open pixel. Links that already point at the
// tracking host are left alone; relative links and mailto: never match.
func (i *Injector) Instrument(html string, attemptID, contactID int64) string {
	clickTok := i.tokens.Issue(attemptID, contactID, domain.EventClick)
	html = linkRe.ReplaceAllStringFunc(html, func(match string) string {
		dest := linkRe.FindStringSubmatch(match)[1]
		if strings.HasPrefix(dest, i.baseURL+"/tracking/") {
			return match
		}
		quote := match[len("href=")]
		tracked := fmt.Sprintf("%s/tracking/click/%s?url=%s", i.baseURL, clickTok, url.QueryEscape(dest))
		return fmt.Sprintf(`href=%c%s%c`, quote, tracked, quote)
	})

	return i.appendPixel(html, attemptID, contactID)
}

// ResponseToken mints the token carried in outgoing mail headers so
// reply-processing can report a response event for the attempt.
func (i *Injector) ResponseToken(attemptID, contactID int64) string {
	return i.tokens.Issue(attemptID, contactID, domain.EventResponse)
}

func (i *Injector) appendPixel(html string, attemptID, contactID int64) string {
	openTok := i.tokens.Issue(attemptID, contactID, domain.EventOpen)
	pixel := fmt.Sprintf(`<img src="%s/tracking/pixel/%s" width="1" height="1" alt="" style="display:none"/>`,
		i.baseURL, openTok)

	if idx := strings.LastIndex(strings.ToLower(html), "</body>"); idx >= 0 {
		return html[:idx] + pixel + html[idx:]
	}
	return html + pixel
}
