package scrape

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/ramkansal/boxdstory/internal/fetcher"
	"github.com/ramkansal/boxdstory/internal/relay"
	"github.com/ramkansal/boxdstory/pkg/review"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

type fakeUnfurl struct {
	calls int
	data  review.ReviewData
	err   error
}

func (f *fakeUnfurl) Extract(_ context.Context, _ string) (review.ReviewData, error) {
	f.calls++
	return f.data, f.err
}

type fakeRelay struct {
	calls   int
	lastURL string
	html    string
	err     error
}

func (f *fakeRelay) FetchHTML(_ context.Context, url string) (string, error) {
	f.calls++
	f.lastURL = url
	return f.html, f.err
}

type fakeResolver struct {
	calls   int
	lastURL string
	final   string
	err     error
}

func (f *fakeResolver) Resolve(_ context.Context, url string) (string, error) {
	f.calls++
	f.lastURL = url
	return f.final, f.err
}

type fakeDOM struct {
	calls      int
	lastSource string
	data       review.ReviewData
	err        error
}

func (f *fakeDOM) Parse(_ context.Context, _, sourceURL string) (review.ReviewData, error) {
	f.calls++
	f.lastSource = sourceURL
	return f.data, f.err
}

type fakeBrowser struct {
	calls int
	html  string
	err   error
}

func (f *fakeBrowser) Fetch(_ context.Context, url string) (*fetcher.Page, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &fetcher.Page{URL: url, FinalURL: url, HTML: f.html, Status: 200}, nil
}

func TestScrapeRejectsBadInputWithoutNetwork(t *testing.T) {
	un := &fakeUnfurl{}
	rl := &fakeRelay{}
	o := New(un, rl, nil, &fakeDOM{}, quietLogger())

	bad := []string{
		"",
		"   ",
		"https://example.com/movie",
		// letterboxd.com outside the host must not pass validation
		"https://evil.example/?u=letterboxd.com",
		"https://evil.example/letterboxd.com/film/x/",
		"https://letterboxd.com.evil.example/film/x/",
		"https://notboxd.it/abc",
	}
	for _, url := range bad {
		_, err := o.Scrape(context.Background(), url)
		var ierr *review.InvalidInputError
		if !errors.As(err, &ierr) {
			t.Errorf("Scrape(%q): want InvalidInputError, got %v", url, err)
		}
	}
	if un.calls != 0 || rl.calls != 0 {
		t.Errorf("network touched for invalid input: unfurl=%d relay=%d", un.calls, rl.calls)
	}
}

func TestScrapeAcceptsReviewHosts(t *testing.T) {
	good := []string{
		"https://letterboxd.com/critic1/film/dune-2021/",
		"https://www.letterboxd.com/critic1/film/dune-2021/",
		"https://boxd.it/abc123",
		"letterboxd.com/critic1/film/dune-2021/",
	}
	for _, url := range good {
		un := &fakeUnfurl{data: review.ReviewData{MovieTitle: "Dune"}}
		o := New(un, &fakeRelay{}, nil, &fakeDOM{}, quietLogger())
		if _, err := o.Scrape(context.Background(), url); err != nil {
			t.Errorf("Scrape(%q): %v", url, err)
		}
		if un.calls != 1 {
			t.Errorf("Scrape(%q): unfurl calls = %d, want 1", url, un.calls)
		}
	}
}

func TestScrapeUnfurlFirst(t *testing.T) {
	want := review.ReviewData{MovieTitle: "Dune", Username: "critic1"}
	un := &fakeUnfurl{data: want}
	rl := &fakeRelay{}
	o := New(un, rl, nil, &fakeDOM{}, quietLogger())

	got, err := o.Scrape(context.Background(), "https://boxd.it/abc123")
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if got != want {
		t.Errorf("got %+v", got)
	}
	if rl.calls != 0 {
		t.Errorf("relay calls = %d, want 0", rl.calls)
	}
}

func TestScrapeFallsBackToDOMPath(t *testing.T) {
	un := &fakeUnfurl{err: errors.New("unfurl down")}
	res := &fakeResolver{final: "https://letterboxd.com/critic1/film/dune-2021/"}
	rl := &fakeRelay{html: "<html>review</html>"}
	dom := &fakeDOM{data: review.ReviewData{MovieTitle: "Dune", Username: "critic1"}}
	o := New(un, rl, res, dom, quietLogger())

	got, err := o.Scrape(context.Background(), "https://boxd.it/abc123")
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if got.MovieTitle != "Dune" {
		t.Errorf("title = %q", got.MovieTitle)
	}
	if res.calls != 1 || res.lastURL != "https://boxd.it/abc123" {
		t.Errorf("resolver calls/url = %d/%q", res.calls, res.lastURL)
	}
	if rl.lastURL != res.final {
		t.Errorf("relay fetched %q, want resolved URL", rl.lastURL)
	}
	if dom.lastSource != res.final {
		t.Errorf("dom sourceURL = %q, want resolved URL", dom.lastSource)
	}
}

func TestScrapeProceedsWhenResolveFails(t *testing.T) {
	un := &fakeUnfurl{err: errors.New("unfurl down")}
	res := &fakeResolver{err: errors.New("connect timeout")}
	rl := &fakeRelay{html: "<html>review</html>"}
	dom := &fakeDOM{data: review.ReviewData{MovieTitle: "Dune"}}
	o := New(un, rl, res, dom, quietLogger())

	// The relays follow the boxd.it redirect themselves, so a failed
	// resolve degrades to fetching the short URL instead of aborting.
	got, err := o.Scrape(context.Background(), "https://boxd.it/abc123")
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if got.MovieTitle != "Dune" {
		t.Errorf("title = %q", got.MovieTitle)
	}
	if rl.lastURL != "https://boxd.it/abc123" {
		t.Errorf("relay fetched %q, want the short URL", rl.lastURL)
	}
}

func TestScrapeShortLinkResolvingOffDomain(t *testing.T) {
	un := &fakeUnfurl{err: errors.New("unfurl down")}
	res := &fakeResolver{final: "https://spam.example.com/landing"}
	rl := &fakeRelay{}
	o := New(un, rl, res, &fakeDOM{}, quietLogger())

	_, err := o.Scrape(context.Background(), "https://boxd.it/evil")
	var ierr *review.InvalidInputError
	if !errors.As(err, &ierr) {
		t.Fatalf("want InvalidInputError, got %v", err)
	}
	if rl.calls != 0 {
		t.Errorf("relay calls = %d, want 0", rl.calls)
	}
}

func TestScrapeExhaustedRelaysAreTerminalInHTTPMode(t *testing.T) {
	un := &fakeUnfurl{err: errors.New("unfurl down")}
	rl := &fakeRelay{err: &relay.ExhaustedError{Attempts: []relay.Attempt{{Relay: "allorigins", Reason: "timeout"}}}}
	o := New(un, rl, nil, &fakeDOM{}, quietLogger())

	_, err := o.Scrape(context.Background(), "https://letterboxd.com/critic1/film/dune-2021/")
	var terr *TerminalError
	if !errors.As(err, &terr) {
		t.Fatalf("want TerminalError, got %v", err)
	}
	var exhausted *relay.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatal("TerminalError should wrap the relay exhaustion")
	}
}

func TestScrapeAutoModeFallsBackToBrowser(t *testing.T) {
	un := &fakeUnfurl{err: errors.New("unfurl down")}
	rl := &fakeRelay{err: &relay.ExhaustedError{}}
	br := &fakeBrowser{html: "<html>rendered</html>"}
	dom := &fakeDOM{data: review.ReviewData{MovieTitle: "Dune"}}

	o := New(un, rl, nil, dom, quietLogger())
	o.Mode = ModeAuto
	o.Browser = br

	got, err := o.Scrape(context.Background(), "https://letterboxd.com/critic1/film/dune-2021/")
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if br.calls != 1 {
		t.Errorf("browser calls = %d, want 1", br.calls)
	}
	if got.MovieTitle != "Dune" {
		t.Errorf("title = %q", got.MovieTitle)
	}
}

func TestScrapeBrowserModeSkipsRelays(t *testing.T) {
	un := &fakeUnfurl{err: errors.New("unfurl down")}
	rl := &fakeRelay{}
	br := &fakeBrowser{html: "<html>rendered</html>"}
	dom := &fakeDOM{data: review.ReviewData{MovieTitle: "Dune"}}

	o := New(un, rl, nil, dom, quietLogger())
	o.Mode = ModeBrowser
	o.Browser = br

	if _, err := o.Scrape(context.Background(), "https://letterboxd.com/critic1/film/dune-2021/"); err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if rl.calls != 0 {
		t.Errorf("relay calls = %d, want 0", rl.calls)
	}
	if br.calls != 1 {
		t.Errorf("browser calls = %d, want 1", br.calls)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeHTTP, "http": ModeHTTP, "Browser": ModeBrowser, "AUTO": ModeAuto} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseMode("warp"); err == nil {
		t.Error("ParseMode(warp) should fail")
	}
}
