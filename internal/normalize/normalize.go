// Package normalize holds the pure string utilities shared by every
// extraction path: star-rating parsing, title/year disambiguation, review
// boilerplate stripping and image URL normalization. No I/O, fully
// deterministic.
package normalize

import (
	"regexp"
	"strings"
)

// Star glyphs used by Letterboxd ratings.
const (
	Star = "★"
	Half = "½"
)

// Rating pairs the glyph string with its numeric value.
type Rating struct {
	Rating string
	Number float64
}

var (
	// Title patterns, checked in precedence order. The quoted form must be
	// tried before the bare "X review by Y" form, otherwise a title that
	// itself contains "review by" as prose would be mis-split.
	reviewOfRe       = regexp.MustCompile(`(?i)^(?:A\s+)?[★½\s]*review\s+of\s+(.+)$`)
	quotedReviewByRe = regexp.MustCompile(`(?i)^['"](.+?)['"]\s+review\s+by`)
	bareReviewByRe   = regexp.MustCompile(`(?i)^(.+?)\s+review\s+by`)

	leadingGlyphsRe  = regexp.MustCompile(`^[★½\s]+`)
	trailingGlyphsRe = regexp.MustCompile(`[★½\s]+$`)
	onLetterboxdRe   = regexp.MustCompile(`(?i)\s+on\s+Letterboxd$`)
	trailingYearRe   = regexp.MustCompile(`\s*\((\d{4})\)$`)

	// Boilerplate prefixes Letterboxd and unfurl services prepend to review
	// text. Only the first matching pattern is applied.
	boilerplateRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^.*?published on Letterboxd:\s*`),
		regexp.MustCompile(`(?i)^.*?'s review.*?:\s*`),
		regexp.MustCompile(`(?i)^Review by .*?:\s*`),
	}

	// StarsRe matches the first star-rating fragment inside free text.
	StarsRe = regexp.MustCompile(`★+½?`)
)

// ParseRating counts star glyphs in text. A trailing half glyph adds 0.5.
// Empty input yields the zero Rating.
func ParseRating(text string) Rating {
	n := float64(strings.Count(text, Star))
	if strings.Contains(text, Half) {
		n += 0.5
	}
	return Rating{Rating: strings.TrimSpace(text), Number: n}
}

// FormatRating renders a 0–5 rating as a glyph string. It is the single
// formatter used to keep ReviewData.Rating and RatingNumber in sync;
// ParseRating(FormatRating(n)).Number == n for every half-step value.
func FormatRating(n float64) string {
	full := int(n)
	s := strings.Repeat(Star, full)
	if n != float64(full) {
		s += Half
	}
	return s
}

// CleanMovieTitle recovers the film title and release year from a raw,
// sentence-like page title such as "A ★★★★½ review of The Shape of Water
// (2017)" or "'Dhurandhar' review by Raunak Sadana". The first matching
// pattern wins; the remainder is then unconditionally stripped of stray
// glyphs, the " on Letterboxd" suffix and a trailing "(YYYY)" year.
func CleanMovieTitle(raw string) (title, year string) {
	title = raw

	switch {
	case reviewOfRe.MatchString(title):
		title = reviewOfRe.FindStringSubmatch(title)[1]
	case quotedReviewByRe.MatchString(title):
		title = quotedReviewByRe.FindStringSubmatch(title)[1]
	case bareReviewByRe.MatchString(title):
		title = bareReviewByRe.FindStringSubmatch(title)[1]
	}

	title = leadingGlyphsRe.ReplaceAllString(title, "")
	title = trailingGlyphsRe.ReplaceAllString(title, "")
	title = onLetterboxdRe.ReplaceAllString(title, "")

	if m := trailingYearRe.FindStringSubmatch(title); m != nil {
		year = m[1]
		title = trailingYearRe.ReplaceAllString(title, "")
	}

	return strings.TrimSpace(title), year
}

// StripReviewBoilerplate removes a leading "<user>'s review published on
// Letterboxd: " style prefix. At most one pattern is applied.
func StripReviewBoilerplate(text string) string {
	for _, re := range boilerplateRes {
		if re.MatchString(text) {
			text = re.ReplaceAllString(text, "")
			break
		}
	}
	return strings.TrimSpace(text)
}

// ImageURL upgrades protocol-relative URLs to https. Empty stays empty,
// everything else passes through unchanged.
func ImageURL(u string) string {
	if u == "" {
		return ""
	}
	if strings.HasPrefix(u, "//") {
		return "https:" + u
	}
	return u
}

// HighRes normalizes an image URL and drops its query string so the CDN
// serves the unscaled asset.
func HighRes(u string) string {
	u = ImageURL(u)
	if i := strings.IndexByte(u, '?'); i >= 0 {
		u = u[:i]
	}
	return u
}
