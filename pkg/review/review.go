// Package review defines the public data contract of boxdstory.
// External tools can import this package to consume scrape results
// without depending on the extraction internals.
package review

import "fmt"

// DefaultUsername is the placeholder used when no author handle could be
// recovered from any source. The final record never carries an empty username.
const DefaultUsername = "User"

// DefaultTitle is the placeholder used when no film title survived cleaning.
const DefaultTitle = "Unknown Title"

// ReviewData is the normalized output of a single scrape. JSON field names
// match the wire format consumed by the story renderer.
type ReviewData struct {
	MovieTitle   string  `json:"movieTitle"`   // cleaned film title, no glyphs, no year suffix
	Year         string  `json:"year"`         // 4-digit release year, empty if unknown
	Director     string  `json:"director"`     // may be empty
	Rating       string  `json:"rating"`       // e.g. "★★★½"
	RatingNumber float64 `json:"ratingNumber"` // 0–5 in 0.5 steps, always in sync with Rating
	ReviewText   string  `json:"reviewText"`   // prose with boilerplate prefixes removed
	Username     string  `json:"username"`     // URL-derived handle, never empty
	DisplayName  string  `json:"displayName"`  // human display name, falls back to Username
	PosterURL    string  `json:"posterUrl"`    // portrait art, https, query-stripped
	BackdropURL  string  `json:"backdropUrl"`  // landscape art, falls back to PosterURL
	MovieURL     string  `json:"movieUrl"`     // canonical film page URL
}

// InvalidInputError reports a URL that was rejected before any extraction was
// attempted: empty input, or a host that is neither letterboxd.com nor a
// boxd.it short link (also raised when a short link resolves off-domain).
type InvalidInputError struct {
	URL    string
	Reason string
}

func (e *InvalidInputError) Error() string {
	if e == nil || e.Reason == "" {
		return "invalid review URL"
	}
	return fmt.Sprintf("invalid review URL: %s", e.Reason)
}
