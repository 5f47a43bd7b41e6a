// Package fetcher retrieves single letterboxd pages without going through a
// relay: redirect resolution for boxd.it short links, the film-page
// secondary fetch, and an opt-in headless-browser fallback for when every
// relay is blocked.
package fetcher

import (
	"context"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Page is a single fetched document.
type Page struct {
	URL      string
	FinalURL string // after redirects
	HTML     string
	Status   int
}

// DefaultUserAgent matches what letterboxd serves full pages to.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// DirectConfig tunes the plain HTTP fetcher.
type DirectConfig struct {
	UserAgent string
	Timeout   time.Duration
	// Outbound throttle; letterboxd is not ours to hammer.
	RequestsPerSecond float64
	Burst             int
}

// Direct fetches pages over plain HTTP with redirects followed and the final
// URL captured. Safe for concurrent use; all fetches share one rate limiter.
type Direct struct {
	collector *colly.Collector
	limiter   *rate.Limiter
	log       *logrus.Logger
}

// NewDirect builds a direct fetcher.
func NewDirect(cfg DirectConfig, log *logrus.Logger) *Direct {
	if log == nil {
		log = logrus.New()
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	// Clones share the parent's visited-URL store; without this the second
	// fetch of the same URL over the process lifetime fails with
	// ErrAlreadyVisited. Repeat fetches are normal here (the same short
	// link or film page can be requested many times).
	c.AllowURLRevisit = true

	c.UserAgent = cfg.UserAgent
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c.SetRequestTimeout(timeout)

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 2
	}

	return &Direct{
		collector: c,
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		log:       log,
	}
}

// Fetch retrieves targetURL, following redirects. The returned Page carries
// the final resolved URL even on an HTTP error status.
func (d *Direct) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	page := &Page{URL: targetURL, FinalURL: targetURL}

	// Clone per fetch so each request gets clean handler state.
	c := d.collector.Clone()

	var fetchErr error
	c.OnResponse(func(r *colly.Response) {
		page.Status = r.StatusCode
		page.HTML = string(r.Body)
		page.FinalURL = r.Request.URL.String()
	})
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if r != nil {
			page.Status = r.StatusCode
			if r.Request != nil && r.Request.URL != nil {
				page.FinalURL = r.Request.URL.String()
			}
		}
	})

	if err := c.Visit(targetURL); err != nil {
		d.log.WithError(err).WithField("url", targetURL).Debug("direct fetch failed")
		return page, err
	}
	c.Wait()

	if fetchErr != nil {
		d.log.WithError(fetchErr).WithField("url", targetURL).Debug("direct fetch failed")
		return page, fetchErr
	}
	return page, nil
}

// Resolve follows redirects for targetURL and reports where it landed. Used
// to expand boxd.it short links before the domain check.
func (d *Direct) Resolve(ctx context.Context, targetURL string) (string, error) {
	page, err := d.Fetch(ctx, targetURL)
	if err != nil {
		return "", err
	}
	return page.FinalURL, nil
}
