package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// fakeTMDB serves the three endpoints Lookup and Search can hit.
func fakeTMDB(t *testing.T, mux *http.ServeMux) *TMDB {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := NewTMDB("test-key", quietLogger())
	client.BaseURL = srv.URL
	client.ImageBase = "https://image.tmdb.org/t/p/w500"
	return client
}

func TestLookupByTitleAndYear(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search/movie", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("query"); got != "Dune" {
			t.Errorf("search query = %q", got)
		}
		if got := r.URL.Query().Get("year"); got != "2021" {
			t.Errorf("search year = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"id": 438631, "title": "Dune", "release_date": "2021-09-15", "poster_path": "/dune.jpg"},
			},
		})
	})
	mux.HandleFunc("/movie/438631/credits", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"crew": []map[string]string{
				{"job": "Producer", "name": "Mary Parent"},
				{"job": "Director", "name": "Denis Villeneuve"},
			},
		})
	})

	res := fakeTMDB(t, mux).Lookup(context.Background(), Query{Slug: "dune-2021", Title: "Dune", Year: "2021"})
	if res.Director != "Denis Villeneuve" {
		t.Errorf("director = %q", res.Director)
	}
	if res.PosterURL != "https://image.tmdb.org/t/p/w500/dune.jpg" {
		t.Errorf("poster = %q", res.PosterURL)
	}
}

func TestLookupFallsBackToBackdropID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search/movie", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"results": []any{}})
	})
	mux.HandleFunc("/movie/729113", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"poster_path": "/poster.jpg",
			"credits": map[string]any{
				"crew": []map[string]string{{"job": "Director", "name": "Jane Doe"}},
			},
		})
	})

	backdrop := "https://a.ltrbxd.com/resized/alternative-backdrop/7/2/9/1/1/3/image.jpg"
	res := fakeTMDB(t, mux).Lookup(context.Background(), Query{Title: "Whatever", Year: "2024", BackdropURL: backdrop})
	if res.Director != "Jane Doe" {
		t.Errorf("director = %q", res.Director)
	}
	if res.PosterURL != "https://image.tmdb.org/t/p/w500/poster.jpg" {
		t.Errorf("poster = %q", res.PosterURL)
	}
}

func TestLookupSwallowsFailures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	res := fakeTMDB(t, mux).Lookup(context.Background(), Query{Title: "Dune", Year: "2021"})
	if res != (Result{}) {
		t.Fatalf("expected zero result, got %+v", res)
	}
}

func TestLookupWithoutAPIKey(t *testing.T) {
	client := NewTMDB("", quietLogger())
	res := client.Lookup(context.Background(), Query{Title: "Dune", Year: "2021"})
	if res != (Result{}) {
		t.Fatalf("expected zero result, got %+v", res)
	}
}

func TestSearchCapsResults(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search/movie", func(w http.ResponseWriter, r *http.Request) {
		rows := make([]map[string]any, 12)
		for i := range rows {
			rows[i] = map[string]any{"id": i, "title": "Movie", "release_date": "1999-01-01", "poster_path": "/p.jpg"}
		}
		json.NewEncoder(w).Encode(map[string]any{"results": rows})
	})

	results := fakeTMDB(t, mux).Search(context.Background(), "movie")
	if len(results) != 8 {
		t.Fatalf("len = %d, want 8", len(results))
	}
	if results[0].Year != "1999" {
		t.Errorf("year = %q", results[0].Year)
	}
	if results[0].Poster != "https://image.tmdb.org/t/p/w500/p.jpg" {
		t.Errorf("poster = %q", results[0].Poster)
	}
}
