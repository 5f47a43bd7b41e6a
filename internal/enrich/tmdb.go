// Package enrich backfills director and poster art from TMDB when the
// primary extraction could not supply them. Letterboxd sources its film data
// from TMDB, so the lookup is reliable when it lands. Enrichment is strictly
// best effort: any error yields an empty Result, never a failure.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ramkansal/boxdstory/internal/metrics"
)

// Query identifies the film to look up. Slug is the letterboxd film slug;
// BackdropURL is used as a last-resort TMDB id source.
type Query struct {
	Slug        string
	Title       string
	Year        string
	BackdropURL string
}

// Result carries whatever enrichment found. Zero value means "nothing".
type Result struct {
	Director  string `json:"director"`
	PosterURL string `json:"posterUrl"`
}

// SearchResult is one row of a free-text movie search, shaped for the
// /api/tmdb-search endpoint.
type SearchResult struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Year   string `json:"year"`
	Poster string `json:"poster"`
}

const (
	defaultBaseURL   = "https://api.themoviedb.org/3"
	defaultImageBase = "https://image.tmdb.org/t/p/w500"
	maxSearchResults = 8
)

// Letterboxd backdrop paths embed the TMDB id as slash-separated digits:
// .../alternative-backdrop/7/2/9/1/1/3/... is TMDB movie 729113.
var backdropIDRe = regexp.MustCompile(`alternative-backdrop/(\d+/\d+/\d+/\d+/\d+/\d+)`)

// TMDB is the metadata lookup client. An empty APIKey disables all lookups.
type TMDB struct {
	APIKey    string
	BaseURL   string
	ImageBase string
	HTTP      *http.Client
	Log       *logrus.Logger
}

// NewTMDB builds a client with default endpoints and a 10s request budget.
func NewTMDB(apiKey string, log *logrus.Logger) *TMDB {
	if log == nil {
		log = logrus.New()
	}
	return &TMDB{
		APIKey:    apiKey,
		BaseURL:   defaultBaseURL,
		ImageBase: defaultImageBase,
		HTTP:      &http.Client{Timeout: 10 * time.Second},
		Log:       log,
	}
}

type searchResponse struct {
	Results []struct {
		ID          int64  `json:"id"`
		Title       string `json:"title"`
		ReleaseDate string `json:"release_date"`
		PosterPath  string `json:"poster_path"`
	} `json:"results"`
}

type creditsResponse struct {
	Crew []struct {
		Job  string `json:"job"`
		Name string `json:"name"`
	} `json:"crew"`
}

type movieResponse struct {
	PosterPath string           `json:"poster_path"`
	Credits    *creditsResponse `json:"credits"`
}

// Lookup resolves director and poster for q. It tries title+year search
// first, then falls back to the TMDB id buried in the backdrop URL path.
// Failures are logged and swallowed.
func (t *TMDB) Lookup(ctx context.Context, q Query) Result {
	if t.APIKey == "" {
		t.Log.Debug("tmdb lookup skipped, no api key configured")
		return Result{}
	}

	var res Result
	if q.Title != "" && q.Year != "" {
		res = t.lookupByTitle(ctx, q.Title, q.Year)
	}
	if res.PosterURL == "" && q.BackdropURL != "" {
		byID := t.lookupByBackdrop(ctx, q.BackdropURL)
		if byID.PosterURL != "" {
			res.PosterURL = byID.PosterURL
		}
		if res.Director == "" {
			res.Director = byID.Director
		}
	}

	outcome := "miss"
	if res.Director != "" || res.PosterURL != "" {
		outcome = "hit"
	}
	metrics.EnrichmentLookups.WithLabelValues(outcome).Inc()
	t.Log.WithFields(logrus.Fields{
		"slug":     q.Slug,
		"title":    q.Title,
		"director": res.Director != "",
		"poster":   res.PosterURL != "",
	}).Debug("tmdb lookup finished")
	return res
}

func (t *TMDB) lookupByTitle(ctx context.Context, title, year string) Result {
	var search searchResponse
	searchURL := fmt.Sprintf("%s/search/movie?api_key=%s&query=%s&year=%s",
		t.BaseURL, url.QueryEscape(t.APIKey), url.QueryEscape(title), url.QueryEscape(year))
	if err := t.getJSON(ctx, searchURL, &search); err != nil {
		t.Log.WithError(err).Warn("tmdb search failed")
		return Result{}
	}
	if len(search.Results) == 0 {
		return Result{}
	}

	movie := search.Results[0]
	res := Result{}
	if movie.PosterPath != "" {
		res.PosterURL = t.ImageBase + movie.PosterPath
	}

	var credits creditsResponse
	creditsURL := fmt.Sprintf("%s/movie/%d/credits?api_key=%s", t.BaseURL, movie.ID, url.QueryEscape(t.APIKey))
	if err := t.getJSON(ctx, creditsURL, &credits); err != nil {
		t.Log.WithError(err).Warn("tmdb credits fetch failed")
		return res
	}
	res.Director = directorFromCrew(&credits)
	return res
}

func (t *TMDB) lookupByBackdrop(ctx context.Context, backdropURL string) Result {
	m := backdropIDRe.FindStringSubmatch(backdropURL)
	if m == nil {
		return Result{}
	}
	id := strings.ReplaceAll(m[1], "/", "")

	var movie movieResponse
	movieURL := fmt.Sprintf("%s/movie/%s?api_key=%s&append_to_response=credits", t.BaseURL, id, url.QueryEscape(t.APIKey))
	if err := t.getJSON(ctx, movieURL, &movie); err != nil {
		t.Log.WithError(err).Warn("tmdb movie-by-id fetch failed")
		return Result{}
	}

	res := Result{}
	if movie.PosterPath != "" {
		res.PosterURL = t.ImageBase + movie.PosterPath
	}
	if movie.Credits != nil {
		res.Director = directorFromCrew(movie.Credits)
	}
	return res
}

// Search runs a free-text movie search and returns at most 8 rows. Errors
// degrade to an empty list.
func (t *TMDB) Search(ctx context.Context, query string) []SearchResult {
	if t.APIKey == "" || strings.TrimSpace(query) == "" {
		return nil
	}

	var search searchResponse
	searchURL := fmt.Sprintf("%s/search/movie?api_key=%s&query=%s",
		t.BaseURL, url.QueryEscape(t.APIKey), url.QueryEscape(query))
	if err := t.getJSON(ctx, searchURL, &search); err != nil {
		t.Log.WithError(err).Warn("tmdb search failed")
		return nil
	}

	out := make([]SearchResult, 0, maxSearchResults)
	for _, m := range search.Results {
		if len(out) == maxSearchResults {
			break
		}
		year := ""
		if len(m.ReleaseDate) >= 4 {
			year = m.ReleaseDate[:4]
		}
		poster := ""
		if m.PosterPath != "" {
			poster = t.ImageBase + m.PosterPath
		}
		out = append(out, SearchResult{ID: m.ID, Title: m.Title, Year: year, Poster: poster})
	}
	return out
}

func (t *TMDB) getJSON(ctx context.Context, rawURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := t.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("tmdb: HTTP %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func directorFromCrew(credits *creditsResponse) string {
	for _, c := range credits.Crew {
		if c.Job == "Director" {
			return c.Name
		}
	}
	return ""
}
