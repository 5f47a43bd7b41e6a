// Package relay retrieves raw HTML for a page that blocks direct browser
// fetches by relaying through public CORS proxy services. Endpoints are tried
// in a fixed priority order reflecting observed reliability; the first relay
// producing a plausible body wins and the list is walked exactly once.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ramkansal/boxdstory/internal/metrics"
)

// Shape describes how a relay wraps the target response.
type Shape string

const (
	ShapeJSON Shape = "json" // JSON envelope with a "contents" field
	ShapeText Shape = "text" // raw passthrough
)

// Encoding describes how the target URL is embedded in the relay URL.
type Encoding string

const (
	EncodeQuery Encoding = "query" // percent-encoded into the template
	EncodeRaw   Encoding = "raw"   // appended verbatim
)

// Endpoint is a single relay service. Template must contain the {target}
// placeholder.
type Endpoint struct {
	Name     string   `yaml:"name"`
	Template string   `yaml:"template"`
	Shape    Shape    `yaml:"shape"`
	Encoding Encoding `yaml:"encoding"`
}

// DefaultEndpoints returns the built-in relay list in priority order.
func DefaultEndpoints() []Endpoint {
	return []Endpoint{
		{Name: "allorigins", Template: "https://api.allorigins.win/get?url={target}", Shape: ShapeJSON, Encoding: EncodeQuery},
		{Name: "corsproxy", Template: "https://corsproxy.io/?{target}", Shape: ShapeText, Encoding: EncodeQuery},
		{Name: "codetabs", Template: "https://api.codetabs.com/v1/proxy?quest={target}", Shape: ShapeText, Encoding: EncodeQuery},
		{Name: "thingproxy", Template: "https://thingproxy.freeboard.io/fetch/{target}", Shape: ShapeText, Encoding: EncodeRaw},
	}
}

const (
	// Bodies below this length are treated as relay errors, not content.
	minBodyLength = 500

	// Hard cap on how much of a relay response is read.
	maxBodyBytes = 4 << 20

	defaultTimeout = 10 * time.Second
)

// challengeMarkers identify bot-interstitial pages served when a relay is
// blocked or rate limited. Treated identically to a failed relay.
var challengeMarkers = []string{"Security Check", "Just a moment"}

// Attempt records one relay try for diagnostics and the exhausted error.
type Attempt struct {
	Relay  string
	Reason string // "ok", "timeout", "status 503", "short body", "challenge page", ...
}

// ExhaustedError is returned when every relay in the list failed or returned
// unusable content. Callers must not walk the list again.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	reasons := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		reasons[i] = a.Relay + ": " + a.Reason
	}
	return "all relays failed (" + strings.Join(reasons, "; ") + ")"
}

// Client walks an ordered relay list. Safe for concurrent use.
type Client struct {
	endpoints []Endpoint
	timeout   time.Duration
	http      *http.Client
	log       *logrus.Logger
}

// NewClient builds a relay client. Nil endpoints selects the default list; a
// zero timeout selects the default 10s per-relay budget.
func NewClient(endpoints []Endpoint, timeout time.Duration, log *logrus.Logger) *Client {
	if endpoints == nil {
		endpoints = DefaultEndpoints()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = logrus.New()
	}
	return &Client{
		endpoints: endpoints,
		timeout:   timeout,
		// The relay follows redirects on our behalf; the client only talks
		// to the relay itself.
		http: &http.Client{},
		log:  log,
	}
}

// jsonEnvelope is the AllOrigins-style response wrapper.
type jsonEnvelope struct {
	Contents string `json:"contents"`
}

// FetchHTML relays targetURL through the endpoint list and returns the first
// plausible HTML body. The timeout applies per relay, not to the whole pass.
func (c *Client) FetchHTML(ctx context.Context, targetURL string) (string, error) {
	attempts := make([]Attempt, 0, len(c.endpoints))

	for _, ep := range c.endpoints {
		html, reason := c.tryRelay(ctx, ep, targetURL)
		attempts = append(attempts, Attempt{Relay: ep.Name, Reason: reason})
		metrics.RelayAttempts.WithLabelValues(ep.Name, reason).Inc()

		if reason == "ok" {
			c.log.WithFields(logrus.Fields{"relay": ep.Name, "bytes": len(html)}).Debug("relay fetch succeeded")
			return html, nil
		}
		c.log.WithFields(logrus.Fields{"relay": ep.Name, "reason": reason}).Warn("relay fetch failed")

		// A canceled parent context means the caller is gone; there is no
		// point trying further relays.
		if ctx.Err() != nil {
			break
		}
	}
	return "", &ExhaustedError{Attempts: attempts}
}

func (c *Client) tryRelay(ctx context.Context, ep Endpoint, targetURL string) (html, reason string) {
	relayURL := ep.buildURL(targetURL)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, relayURL, nil)
	if err != nil {
		return "", "bad request: " + err.Error()
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", "timeout"
		}
		return "", "network error"
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Sprintf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", "timeout"
		}
		return "", "read error"
	}

	html = string(body)
	if ep.Shape == ShapeJSON {
		var env jsonEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return "", "bad envelope"
		}
		html = env.Contents
	}

	if len(html) < minBodyLength {
		return "", "short body"
	}
	for _, marker := range challengeMarkers {
		if strings.Contains(html, marker) {
			return "", "challenge page"
		}
	}
	return html, "ok"
}

func (ep Endpoint) buildURL(targetURL string) string {
	target := targetURL
	if ep.Encoding == EncodeQuery {
		target = url.QueryEscape(targetURL)
	}
	return strings.ReplaceAll(ep.Template, "{target}", target)
}
