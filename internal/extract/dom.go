// Package extract parses review data straight out of letterboxd HTML. It is
// the fallback path for when the unfurl service fails: structured data
// (JSON-LD) first, then a cascade of CSS-selector and regex heuristics per
// field, composed first-non-empty-wins so the precedence stays explicit.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/ramkansal/boxdstory/internal/enrich"
	"github.com/ramkansal/boxdstory/internal/fetcher"
	"github.com/ramkansal/boxdstory/internal/normalize"
	"github.com/ramkansal/boxdstory/pkg/review"
)

// Enricher backfills director and poster; nil disables enrichment.
type Enricher interface {
	Lookup(ctx context.Context, q enrich.Query) enrich.Result
}

// FilmPageFetcher retrieves the film's own page when the review page did not
// carry usable art or credits. Nil disables the secondary fetch.
type FilmPageFetcher interface {
	Fetch(ctx context.Context, url string) (*fetcher.Page, error)
}

// Extractor turns raw review-page HTML into a ReviewData.
type Extractor struct {
	Enricher Enricher
	Films    FilmPageFetcher
	Log      *logrus.Logger
}

// New builds a DOM extractor.
func New(enricher Enricher, films FilmPageFetcher, log *logrus.Logger) *Extractor {
	if log == nil {
		log = logrus.New()
	}
	return &Extractor{Enricher: enricher, Films: films, Log: log}
}

var (
	usernameFromURLRe = regexp.MustCompile(`(?i)letterboxd\.com/([^/]+)/film`)
	slugRe            = regexp.MustCompile(`/film/([^/]+)`)
	reviewByTailRe    = regexp.MustCompile(`(?i)review\s+by\s+(.*?)(?:\s+on\s+Letterboxd)?$`)

	// Film-page heuristics, lifted from letterboxd's markup: poster CDN
	// paths, TMDB poster paths and the backdrop data scattered through
	// inline scripts.
	filmPosterRe   = regexp.MustCompile(`(?i)https://a\.ltrbxd\.com/resized/film-poster/[^"'\s<>]+\.(?:jpg|jpeg|png|webp)[^"'\s<>]*`)
	tmdbPosterRe   = regexp.MustCompile(`(?i)https://image\.tmdb\.org/t/p/(?:w\d+|original)/[^"'\s<>]+\.(?:jpg|jpeg|png|webp)`)
	directorJSONRe = regexp.MustCompile(`"director"[^}]*"name"\s*:\s*"([^"]+)"`)
	backdropRes    = []*regexp.Regexp{
		regexp.MustCompile(`(?i)backdrop2x?["']?\s*:\s*["']([^"']+)`),
		regexp.MustCompile(`https://a\.ltrbxd\.com/resized/alternative-backdrop/[^"'\s<>]+`),
		regexp.MustCompile(`https://a\.ltrbxd\.com/resized/film-backdrop/[^"'\s<>]+`),
		regexp.MustCompile(`(?i)https://a\.ltrbxd\.com/resized/[^"'\s<>]+backdrop[^"'\s<>]*`),
	}
)

// ldPerson is a JSON-LD Person node.
type ldPerson struct {
	Name string `json:"name"`
}

// ldReview is the subset of letterboxd's Review structured data we read.
type ldReview struct {
	Type         string          `json:"@type"`
	ReviewBody   string          `json:"reviewBody"`
	Author       *ldPerson       `json:"author"`
	Image        json.RawMessage `json:"image"`
	ReviewRating *struct {
		RatingValue json.Number `json:"ratingValue"`
	} `json:"reviewRating"`
	ItemReviewed *struct {
		Name        string          `json:"name"`
		DateCreated string          `json:"dateCreated"`
		SameAs      string          `json:"sameAs"`
		Director    json.RawMessage `json:"director"`
	} `json:"itemReviewed"`
}

// Parse extracts a ReviewData from html. sourceURL is the redirect-resolved
// review URL; it feeds the username and slug heuristics.
func (x *Extractor) Parse(ctx context.Context, html, sourceURL string) (review.ReviewData, error) {
	if strings.TrimSpace(html) == "" {
		return review.ReviewData{}, errors.New("empty document")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return review.ReviewData{}, err
	}

	ld := findReviewLD(doc)

	var title, year, reviewText, displayName, movieURL string
	var ratingNumber float64
	haveRating := false

	if ld != nil {
		reviewText = ld.ReviewBody
		if ld.Author != nil {
			displayName = strings.TrimSpace(ld.Author.Name)
		}
		if ld.ItemReviewed != nil {
			title = strings.TrimSpace(ld.ItemReviewed.Name)
			if len(ld.ItemReviewed.DateCreated) >= 4 {
				year = ld.ItemReviewed.DateCreated[:4]
			}
			movieURL = strings.TrimSpace(ld.ItemReviewed.SameAs)
		}
		if ld.ReviewRating != nil {
			if f, err := ld.ReviewRating.RatingValue.Float64(); err == nil {
				ratingNumber = f
				haveRating = true
			}
		}
	}

	if !haveRating {
		ratingNumber = normalize.ParseRating(doc.Find("span.rating").First().Text()).Number
	}

	ogTitle := metaContent(doc, `meta[property="og:title"]`)
	pageTitle := strings.TrimSpace(doc.Find("title").First().Text())

	// Structured titles are sometimes themselves review sentences, so a
	// dirty-looking candidate is always re-cleaned even when JSON-LD
	// supplied one.
	raw := firstNonEmpty(title, ogTitle, pageTitle)
	if title == "" || looksLikeReviewSentence(raw) {
		cleanTitle, cleanYear := normalize.CleanMovieTitle(raw)
		title = cleanTitle
		if year == "" {
			year = cleanYear
		}
	}

	if displayName == "" {
		displayName = metaContent(doc, `meta[name="twitter:data1"]`)
	}
	if displayName == "" {
		if m := reviewByTailRe.FindStringSubmatch(firstNonEmpty(ogTitle, pageTitle)); m != nil {
			displayName = strings.TrimSpace(m[1])
		}
	}
	if displayName == "" {
		if m := usernameFromURLRe.FindStringSubmatch(sourceURL); m != nil {
			displayName = m[1]
		}
	}
	if displayName == "" {
		displayName = strings.TrimSpace(doc.Find(".person-summary a.name").First().Text())
	}
	if displayName == "" {
		displayName = review.DefaultUsername
	}

	// The URL path segment is the most trustworthy handle when present;
	// page-declared names keep their role as the display name.
	username := displayName
	if m := usernameFromURLRe.FindStringSubmatch(sourceURL); m != nil {
		username = m[1]
	}

	if reviewText == "" {
		reviewText = strings.TrimSpace(doc.Find(".review .body-text").First().Text())
	}
	if reviewText == "" {
		reviewText = metaContent(doc, `meta[property="og:description"]`)
	}
	reviewText = normalize.StripReviewBoilerplate(reviewText)

	poster := ""
	if ld != nil {
		poster = ldImageURL(ld.Image)
	}
	if poster == "" {
		poster = strings.TrimSpace(doc.Find(".film-poster img").First().AttrOr("src", ""))
	}
	backdrop := strings.TrimSpace(doc.Find("#backdrop").First().AttrOr("data-backdrop", ""))
	if backdrop == "" {
		backdrop = strings.TrimSpace(doc.Find("[data-backdrop]").First().AttrOr("data-backdrop", ""))
	}
	ogImage := metaContent(doc, `meta[property="og:image"]`)
	if backdrop == "" {
		backdrop = ogImage
	}
	if poster == "" {
		poster = ogImage
	}
	if backdrop == "" {
		backdrop = poster
	}

	director := ""
	if data2 := metaContent(doc, `meta[name="twitter:data2"]`); strings.Contains(data2, "Director") {
		director = strings.TrimSpace(strings.ReplaceAll(data2, "Director", ""))
	}
	if director == "" {
		director = strings.TrimSpace(doc.Find(`.film-header-lockup .directorlist a, a[href*="/director/"], .credits a[href*="/director/"]`).First().Text())
	}
	if director == "" && ld != nil && ld.ItemReviewed != nil {
		director = ldDirectorName(ld.ItemReviewed.Director)
	}

	slug := ""
	if m := slugRe.FindStringSubmatch(firstNonEmpty(movieURL, sourceURL)); m != nil {
		slug = m[1]
	}
	if movieURL == "" && slug != "" {
		movieURL = "https://letterboxd.com/film/" + slug + "/"
	}

	// poster==backdrop is a signal that no distinct poster was found, not
	// a confirmed failure; some pages genuinely ship identical art.
	if x.Films != nil && movieURL != "" && (director == "" || poster == "" || poster == backdrop) {
		fp := x.fetchFilmPage(ctx, movieURL)
		if fp != nil {
			if director == "" {
				director = fp.director
			}
			if fp.poster != "" && (poster == "" || poster == backdrop) {
				poster = fp.poster
			}
			if backdrop == "" || backdrop == poster {
				if fp.backdrop != "" {
					backdrop = fp.backdrop
				}
			}
			if year == "" {
				year = fp.year
			}
			if title == "" {
				title = fp.title
			}
		}
	}

	if x.Enricher != nil && slug != "" && (director == "" || poster == "" || poster == backdrop) {
		enr := x.Enricher.Lookup(ctx, enrich.Query{Slug: slug, Title: title, Year: year, BackdropURL: backdrop})
		if director == "" {
			director = enr.Director
		}
		if enr.PosterURL != "" && (poster == "" || poster == backdrop) {
			poster = enr.PosterURL
		}
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
		ReviewText:   reviewText,
		Username:     username,
		DisplayName:  displayName,
		PosterURL:    normalize.HighRes(poster),
		BackdropURL:  normalize.HighRes(backdrop),
		MovieURL:     movieURL,
	}, nil
}

// filmPage holds what the film's own page contributed.
type filmPage struct {
	title    string
	year     string
	director string
	poster   string
	backdrop string
}

func (x *Extractor) fetchFilmPage(ctx context.Context, movieURL string) *filmPage {
	page, err := x.Films.Fetch(ctx, movieURL)
	if err != nil {
		x.Log.WithError(err).WithField("url", movieURL).Debug("film page fetch failed")
		return nil
	}
	return parseFilmPage(page.HTML)
}

// parseFilmPage runs the film-page heuristics: director links, poster CDN
// paths, backdrop data attributes and their script-embedded fallbacks.
func parseFilmPage(html string) *filmPage {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	fp := &filmPage{}

	fp.director = strings.TrimSpace(doc.Find(`a[href*="/director/"]`).First().Text())
	if fp.director == "" {
		if m := directorJSONRe.FindStringSubmatch(html); m != nil {
			fp.director = m[1]
		}
	}

	if m := filmPosterRe.FindString(html); m != "" {
		fp.poster = m
	}
	if fp.poster == "" {
		if m := tmdbPosterRe.FindString(html); m != "" {
			fp.poster = m
		}
	}
	if fp.poster == "" {
		filmPoster := doc.Find(".film-poster").First()
		candidate := filmPoster.AttrOr("data-image", "")
		if candidate == "" {
			candidate = filmPoster.Find("img").First().AttrOr("src", "")
		}
		if candidate == "" {
			candidate = doc.Find("div[data-film-poster]").First().AttrOr("data-film-poster", "")
		}
		if candidate != "" && !strings.Contains(candidate, "empty-poster") {
			fp.poster = candidate
		}
	}
	if fp.poster == "" {
		fp.poster = metaContent(doc, `meta[property="og:image"]`)
	}
	fp.poster = normalize.ImageURL(fp.poster)

	fp.backdrop = strings.TrimSpace(doc.Find("#backdrop").First().AttrOr("data-backdrop", ""))
	if fp.backdrop == "" {
		fp.backdrop = strings.TrimSpace(doc.Find(".backdrop-container").First().AttrOr("data-backdrop", ""))
	}
	if fp.backdrop == "" {
		fp.backdrop = strings.TrimSpace(doc.Find("[data-backdrop]").First().AttrOr("data-backdrop", ""))
	}
	if fp.backdrop == "" {
		for _, re := range backdropRes {
			if m := re.FindStringSubmatch(html); m != nil {
				if len(m) > 1 && m[1] != "" {
					fp.backdrop = m[1]
				} else {
					fp.backdrop = m[0]
				}
				break
			}
		}
	}
	fp.backdrop = normalize.ImageURL(fp.backdrop)

	fp.year = strings.TrimSpace(doc.Find("small.number a").First().Text())
	if fp.year == "" {
		fp.year = strings.TrimSpace(doc.Find(".releaseyear a").First().Text())
	}

	ogTitle := metaContent(doc, `meta[property="og:title"]`)
	if ogTitle != "" {
		fp.title, _ = normalize.CleanMovieTitle(ogTitle)
		if fp.year == "" {
			_, fp.year = normalize.CleanMovieTitle(ogTitle)
		}
	}

	return fp
}

// findReviewLD returns the first JSON-LD block typed as a Review.
// Letterboxd wraps these scripts in CDATA comments, which are stripped
// before decoding.
func findReviewLD(doc *goquery.Document) *ldReview {
	var found *ldReview
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		text = strings.ReplaceAll(text, "/* <![CDATA[ */", "")
		text = strings.ReplaceAll(text, "/* ]]> */", "")

		var ld ldReview
		if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &ld); err != nil {
			return true
		}
		if ld.Type != "Review" {
			return true
		}
		found = &ld
		return false
	})
	return found
}

// ldImageURL reads a JSON-LD image that may be a bare string or an object
// with a url field.
func ldImageURL(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(obj.URL)
	}
	return ""
}

// ldDirectorName reads a JSON-LD director that may be a single Person, an
// array of Persons, or a bare string.
func ldDirectorName(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var one ldPerson
	if err := json.Unmarshal(raw, &one); err == nil && one.Name != "" {
		return strings.TrimSpace(one.Name)
	}
	var many []ldPerson
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 {
		return strings.TrimSpace(many[0].Name)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return ""
}

func looksLikeReviewSentence(s string) bool {
	return strings.Contains(strings.ToLower(s), "review") ||
		strings.Contains(s, normalize.Star) ||
		strings.Contains(s, normalize.Half)
}

func metaContent(doc *goquery.Document, selector string) string {
	return strings.TrimSpace(doc.Find(selector).First().AttrOr("content", ""))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
