package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestDirectFetchFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/abc123", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/critic1/film/dune-2021/", http.StatusFound)
	})
	mux.HandleFunc("/critic1/film/dune-2021/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>review page</body></html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := NewDirect(DirectConfig{RequestsPerSecond: 100, Burst: 10}, quietLogger())

	page, err := d.Fetch(context.Background(), srv.URL+"/abc123")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !strings.HasSuffix(page.FinalURL, "/critic1/film/dune-2021/") {
		t.Errorf("FinalURL = %q", page.FinalURL)
	}
	if !strings.Contains(page.HTML, "review page") {
		t.Errorf("HTML = %q", page.HTML)
	}
	if page.Status != http.StatusOK {
		t.Errorf("Status = %d", page.Status)
	}
}

func TestDirectResolve(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/short", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/long/target/", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/long/target/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>landed</html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := NewDirect(DirectConfig{RequestsPerSecond: 100, Burst: 10}, quietLogger())

	final, err := d.Resolve(context.Background(), srv.URL+"/short")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !strings.HasSuffix(final, "/long/target/") {
		t.Errorf("final = %q", final)
	}
}

func TestDirectFetchSameURLTwice(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/film/dune-2021/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>film page</html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := NewDirect(DirectConfig{RequestsPerSecond: 100, Burst: 10}, quietLogger())

	target := srv.URL + "/film/dune-2021/"
	for i := 0; i < 2; i++ {
		page, err := d.Fetch(context.Background(), target)
		if err != nil {
			t.Fatalf("fetch %d of same URL: %v", i+1, err)
		}
		if !strings.Contains(page.HTML, "film page") {
			t.Errorf("fetch %d: HTML = %q", i+1, page.HTML)
		}
	}
}

func TestDirectFetchReportsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewDirect(DirectConfig{RequestsPerSecond: 100, Burst: 10}, quietLogger())

	page, err := d.Fetch(context.Background(), srv.URL+"/missing")
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if page.Status != http.StatusNotFound {
		t.Errorf("Status = %d", page.Status)
	}
}
