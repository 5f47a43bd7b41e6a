// Package unfurl is the primary extraction path. It asks a Microlink-style
// unfurl service to fetch and parse the review page server side, then turns
// the structured response into a ReviewData draft. The service resolves
// boxd.it short links itself and reports the expanded URL back.
package unfurl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ramkansal/boxdstory/internal/enrich"
	"github.com/ramkansal/boxdstory/internal/normalize"
	"github.com/ramkansal/boxdstory/pkg/review"
)

const defaultBaseURL = "https://api.microlink.io"

// genericAuthor is what the unfurl service reports when it could not find a
// page-level author; it is never a real handle.
const genericAuthor = "Letterboxd"

var (
	usernameRe = regexp.MustCompile(`(?i)letterboxd\.com/([^/]+)/film`)
	slugRe     = regexp.MustCompile(`/film/([^/]+)`)
	reviewByRe = regexp.MustCompile(`(?i)review\s+by\s+(\S+)`)
)

// ServiceError reports that the unfurl service itself failed. It is always
// recoverable: the orchestrator answers it by switching to the DOM path.
type ServiceError struct {
	Reason string
	Err    error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unfurl service: %s: %v", e.Reason, e.Err)
	}
	return "unfurl service: " + e.Reason
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Enricher backfills director and poster; a nil value disables enrichment.
type Enricher interface {
	Lookup(ctx context.Context, q enrich.Query) enrich.Result
}

// Extractor calls the unfurl service and normalizes its answer.
type Extractor struct {
	BaseURL  string
	HTTP     *http.Client
	Enricher Enricher
	Log      *logrus.Logger
}

// New builds an extractor against the public Microlink endpoint.
func New(enricher Enricher, log *logrus.Logger) *Extractor {
	if log == nil {
		log = logrus.New()
	}
	return &Extractor{
		BaseURL:  defaultBaseURL,
		HTTP:     &http.Client{Timeout: 15 * time.Second},
		Enricher: enricher,
		Log:      log,
	}
}

type response struct {
	Data *payload `json:"data"`
}

type payload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Author      string `json:"author"`
	URL         string `json:"url"` // redirect-resolved target URL
	Image       struct {
		URL string `json:"url"`
	} `json:"image"`
}

// Extract fetches structured metadata for targetURL and builds a ReviewData.
// Any transport or payload problem is reported as a ServiceError; there is
// no retry at this layer.
func (x *Extractor) Extract(ctx context.Context, targetURL string) (review.ReviewData, error) {
	reqURL := x.BaseURL + "/?url=" + url.QueryEscape(targetURL) + "&palette=true&audio=false&video=false"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return review.ReviewData{}, &ServiceError{Reason: "bad request", Err: err}
	}
	resp, err := x.HTTP.Do(req)
	if err != nil {
		return review.ReviewData{}, &ServiceError{Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return review.ReviewData{}, &ServiceError{Reason: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return review.ReviewData{}, &ServiceError{Reason: "bad payload", Err: err}
	}
	if body.Data == nil {
		return review.ReviewData{}, &ServiceError{Reason: "empty payload"}
	}

	return x.build(ctx, targetURL, body.Data), nil
}

func (x *Extractor) build(ctx context.Context, targetURL string, data *payload) review.ReviewData {
	rawTitle := data.Title
	if rawTitle == "" {
		rawTitle = review.DefaultTitle
	}
	title, year := normalize.CleanMovieTitle(rawTitle)

	// Rating extraction is an independent pass over the same raw title;
	// CleanMovieTitle discards the glyphs it needs.
	ratingNumber := 0.0
	if m := normalize.StarsRe.FindString(rawTitle); m != "" {
		ratingNumber = normalize.ParseRating(m).Number
	}

	expandedURL := data.URL
	if expandedURL == "" {
		expandedURL = targetURL
	}

	username := x.username(expandedURL, rawTitle, data.Author)

	backdropURL := data.Image.URL
	var director, posterURL string
	movieURL := targetURL
	if m := slugRe.FindStringSubmatch(expandedURL); m != nil {
		slug := m[1]
		movieURL = "https://letterboxd.com/film/" + slug + "/"
		if x.Enricher != nil {
			enr := x.Enricher.Lookup(ctx, enrich.Query{
				Slug:        slug,
				Title:       title,
				Year:        year,
				BackdropURL: backdropURL,
			})
			director = enr.Director
			posterURL = enr.PosterURL
		}
	}
	if posterURL == "" {
		posterURL = backdropURL
	}

	if title == "" {
		title = review.DefaultTitle
	}

	return review.ReviewData{
		MovieTitle:   title,
		Year:         year,
		Director:     director,
		Rating:       normalize.FormatRating(ratingNumber),
		RatingNumber: ratingNumber,
		ReviewText:   normalize.StripReviewBoilerplate(data.Description),
		Username:     username,
		DisplayName:  username,
		PosterURL:    normalize.HighRes(posterURL),
		BackdropURL:  normalize.HighRes(backdropURL),
		MovieURL:     movieURL,
	}
}

// username picks the author handle. The expanded URL outranks everything:
// the service's author field is often just "Letterboxd".
func (x *Extractor) username(expandedURL, rawTitle, author string) string {
	if m := usernameRe.FindStringSubmatch(expandedURL); m != nil {
		return m[1]
	}
	if m := reviewByRe.FindStringSubmatch(rawTitle); m != nil {
		return m[1]
	}
	if author != "" && author != genericAuthor {
		return author
	}
	return review.DefaultUsername
}
