// Package scrape sequences the extraction paths: validate the URL, try the
// unfurl service, and fall back to fetching the page (relay cascade, then
// optionally a headless browser) and parsing its DOM. It owns the decision of
// which errors end the scrape and which merely switch paths.
package scrape

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ramkansal/boxdstory/internal/fetcher"
	"github.com/ramkansal/boxdstory/internal/metrics"
	"github.com/ramkansal/boxdstory/internal/relay"
	"github.com/ramkansal/boxdstory/pkg/review"
)

// Mode selects how the fallback path obtains HTML.
type Mode string

const (
	// ModeHTTP uses the relay cascade only.
	ModeHTTP Mode = "http"
	// ModeBrowser skips the relays and renders with headless Chrome.
	ModeBrowser Mode = "browser"
	// ModeAuto tries the relays first and falls back to the browser when
	// every relay is exhausted.
	ModeAuto Mode = "auto"
)

// ParseMode validates a mode string, defaulting to http.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeHTTP:
		return ModeHTTP, nil
	case ModeBrowser:
		return ModeBrowser, nil
	case ModeAuto:
		return ModeAuto, nil
	}
	return "", errors.New("unknown fetch mode " + s + " (want http, browser or auto)")
}

// UnfurlExtractor is the primary path.
type UnfurlExtractor interface {
	Extract(ctx context.Context, targetURL string) (review.ReviewData, error)
}

// HTMLFetcher retrieves raw page HTML, normally via the relay cascade.
type HTMLFetcher interface {
	FetchHTML(ctx context.Context, targetURL string) (string, error)
}

// Resolver expands short links to their final URL.
type Resolver interface {
	Resolve(ctx context.Context, targetURL string) (string, error)
}

// DOMExtractor parses fetched HTML into a ReviewData.
type DOMExtractor interface {
	Parse(ctx context.Context, html, sourceURL string) (review.ReviewData, error)
}

// BrowserFetcher renders a page with a real browser; optional.
type BrowserFetcher interface {
	Fetch(ctx context.Context, targetURL string) (*fetcher.Page, error)
}

// TerminalError means every extraction path failed. Its message is safe to
// show to end users; the underlying cause is kept for logs only.
type TerminalError struct {
	Cause error
}

func (e *TerminalError) Error() string {
	return "could not extract review data from the page"
}

func (e *TerminalError) Unwrap() error { return e.Cause }

// Orchestrator wires the paths together. Zero-value fields disable the
// corresponding path; at least one of Unfurl or Relay+DOM must be set.
type Orchestrator struct {
	Unfurl  UnfurlExtractor
	Relay   HTMLFetcher
	Resolve Resolver
	DOM     DOMExtractor
	Browser BrowserFetcher
	Mode    Mode
	Log     *logrus.Logger
}

// New builds an orchestrator in http mode.
func New(unfurl UnfurlExtractor, rly HTMLFetcher, resolve Resolver, dom DOMExtractor, log *logrus.Logger) *Orchestrator {
	if log == nil {
		log = logrus.New()
	}
	return &Orchestrator{
		Unfurl:  unfurl,
		Relay:   rly,
		Resolve: resolve,
		DOM:     dom,
		Mode:    ModeHTTP,
		Log:     log,
	}
}

// Scrape runs the full pipeline for one review URL.
func (o *Orchestrator) Scrape(ctx context.Context, rawURL string) (review.ReviewData, error) {
	target := strings.TrimSpace(rawURL)
	if target == "" {
		return review.ReviewData{}, &review.InvalidInputError{URL: rawURL, Reason: "empty URL"}
	}
	if !onDomain(target) {
		return review.ReviewData{}, &review.InvalidInputError{URL: target, Reason: "not a letterboxd.com or boxd.it URL"}
	}

	if o.Unfurl != nil {
		data, err := o.Unfurl.Extract(ctx, target)
		if err == nil {
			metrics.ScrapesTotal.WithLabelValues("unfurl", "ok").Inc()
			return data, nil
		}
		if ctx.Err() != nil {
			metrics.ScrapesTotal.WithLabelValues("unfurl", "canceled").Inc()
			return review.ReviewData{}, ctx.Err()
		}
		o.Log.WithError(err).WithField("url", target).Warn("unfurl path failed, falling back to page fetch")
	}

	// Short links must be expanded before fetching: relays cache per URL
	// and the DOM heuristics read the username out of the final path.
	resolved := target
	if isShortLink(target) && o.Resolve != nil {
		final, err := o.Resolve.Resolve(ctx, target)
		if err == nil && final != "" {
			resolved = final
		} else if err != nil {
			// Not fatal: the relays follow the boxd.it redirect
			// themselves, so the fetch still works with the short
			// URL. Only the URL-derived username and slug
			// heuristics lose out.
			o.Log.WithError(err).WithField("url", target).Debug("short link resolution failed")
		}
		if resolved != target && !isLetterboxdHost(hostOf(resolved)) {
			return review.ReviewData{}, &review.InvalidInputError{URL: target, Reason: "short link resolved off letterboxd.com"}
		}
	}

	path, html, err := o.fetchHTML(ctx, resolved)
	if err != nil {
		metrics.ScrapesTotal.WithLabelValues(path, "fetch failed").Inc()
		o.Log.WithError(err).WithField("url", resolved).Error("page fetch failed on every path")
		return review.ReviewData{}, &TerminalError{Cause: err}
	}

	data, err := o.DOM.Parse(ctx, html, resolved)
	if err != nil {
		metrics.ScrapesTotal.WithLabelValues(path, "parse failed").Inc()
		o.Log.WithError(err).WithField("url", resolved).Error("page parse failed")
		return review.ReviewData{}, &TerminalError{Cause: err}
	}
	metrics.ScrapesTotal.WithLabelValues(path, "ok").Inc()
	return data, nil
}

// fetchHTML returns the fetched document and which path produced it.
func (o *Orchestrator) fetchHTML(ctx context.Context, target string) (path, html string, err error) {
	if o.Mode == ModeBrowser {
		html, err = o.browserFetch(ctx, target)
		return "browser", html, err
	}

	if o.Relay == nil {
		return "dom", "", errors.New("no fetcher configured")
	}
	html, err = o.Relay.FetchHTML(ctx, target)
	if err == nil {
		return "dom", html, nil
	}

	var exhausted *relay.ExhaustedError
	if o.Mode == ModeAuto && o.Browser != nil && errors.As(err, &exhausted) {
		o.Log.WithField("attempts", len(exhausted.Attempts)).Info("relays exhausted, trying headless browser")
		html, berr := o.browserFetch(ctx, target)
		if berr == nil {
			return "browser", html, nil
		}
		return "browser", "", berr
	}
	return "dom", "", err
}

func (o *Orchestrator) browserFetch(ctx context.Context, target string) (string, error) {
	if o.Browser == nil {
		return "", errors.New("browser fetcher not configured")
	}
	page, err := o.Browser.Fetch(ctx, target)
	if err != nil {
		return "", err
	}
	return page.HTML, nil
}

// onDomain checks the URL host, not the raw string: a letterboxd.com buried
// in a query parameter or a lookalike host must not pass validation.
func onDomain(target string) bool {
	host := hostOf(target)
	return host == "boxd.it" || isLetterboxdHost(host)
}

func isShortLink(target string) bool {
	return hostOf(target) == "boxd.it"
}

func isLetterboxdHost(host string) bool {
	return host == "letterboxd.com" || strings.HasSuffix(host, ".letterboxd.com")
}

func hostOf(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	if u.Host == "" {
		// Scheme-less input like "letterboxd.com/user/film/x".
		u, err = url.Parse("https://" + target)
		if err != nil {
			return ""
		}
	}
	return strings.ToLower(u.Hostname())
}
