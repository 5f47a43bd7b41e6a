package fetcher

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"
)

// Browser fetches a page through headless Chrome. It is the last-resort
// stage after the relay cascade: a real browser gets past the interstitials
// that block the relays. Chrome is launched lazily on first use so the
// default http mode never pays for it.
type Browser struct {
	timeout     time.Duration
	pageTimeout time.Duration
	userAgent   string
	log         *logrus.Logger

	mu      sync.Mutex
	browser *rod.Browser
}

// BrowserConfig tunes the headless fetcher.
type BrowserConfig struct {
	Timeout     time.Duration
	PageTimeout time.Duration
	UserAgent   string
}

// NewBrowser builds a lazy browser fetcher; no Chrome process is started
// until the first Fetch.
func NewBrowser(cfg BrowserConfig, log *logrus.Logger) *Browser {
	if log == nil {
		log = logrus.New()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pageTimeout := cfg.PageTimeout
	if pageTimeout <= 0 {
		pageTimeout = 15 * time.Second
	}
	return &Browser{
		timeout:     timeout,
		pageTimeout: pageTimeout,
		userAgent:   cfg.UserAgent,
		log:         log,
	}
}

func (b *Browser) connect() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}

	u, err := launcher.New().
		Headless(true).
		Set("no-sandbox").
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Launch()
	if err != nil {
		return nil, err
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, err
	}
	b.browser = browser
	b.log.Info("headless browser launched")
	return b.browser, nil
}

// Fetch renders targetURL and returns the post-JS HTML together with the
// redirect-resolved URL.
func (b *Browser) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	browser, err := b.connect()
	if err != nil {
		return nil, err
	}

	page := &Page{URL: targetURL, FinalURL: targetURL}

	rodPage, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, err
	}
	defer rodPage.Close()

	rodPage = rodPage.Context(ctx).Timeout(b.timeout)

	if b.userAgent != "" {
		_ = rodPage.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.userAgent})
	}

	if err := rodPage.Navigate(targetURL); err != nil {
		return nil, err
	}

	// The page may never fully stabilize; whatever has rendered by the
	// deadline is still usable.
	if err := rodPage.WaitStable(b.pageTimeout); err != nil {
		if !strings.Contains(err.Error(), "context canceled") {
			b.log.WithError(err).Debug("page did not fully stabilize")
		}
	}

	if info, err := rodPage.Info(); err == nil {
		page.FinalURL = info.URL
	}

	html, err := rodPage.HTML()
	if err != nil {
		return nil, err
	}
	page.HTML = html
	page.Status = 200

	return page, nil
}

// Close shuts the browser down if it was ever launched.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.browser = nil
	return err
}
