// Package server exposes the scraper over HTTP: one scrape endpoint plus the
// metadata and image helpers a story-rendering frontend needs, with health
// and Prometheus endpoints on the side.
package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ramkansal/boxdstory/internal/enrich"
	"github.com/ramkansal/boxdstory/internal/fetcher"
	"github.com/ramkansal/boxdstory/internal/metrics"
	"github.com/ramkansal/boxdstory/pkg/review"
)

// Scraper runs the full extraction pipeline for one review URL.
type Scraper interface {
	Scrape(ctx context.Context, rawURL string) (review.ReviewData, error)
}

// Metadata answers the movie-details and search endpoints.
type Metadata interface {
	Lookup(ctx context.Context, q enrich.Query) enrich.Result
	Search(ctx context.Context, query string) []enrich.SearchResult
}

// Server wires the pipeline into a gin router.
type Server struct {
	scraper Scraper
	meta    Metadata
	images  *http.Client
	log     *logrus.Logger
	engine  *gin.Engine
}

// New builds the router. meta may be nil when no TMDB key is configured; the
// metadata endpoints then answer with empty results.
func New(scraper Scraper, meta Metadata, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.New()
	}
	s := &Server{
		scraper: scraper,
		meta:    meta,
		images:  &http.Client{Timeout: 20 * time.Second},
		log:     log,
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), cors(), metrics.Middleware())

	engine.POST("/api/scrape", s.handleScrape)
	engine.GET("/api/movie-details", s.handleMovieDetails)
	engine.GET("/api/tmdb-search", s.handleSearch)
	engine.GET("/api/proxy-image", s.handleProxyImage)
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", metrics.Handler())

	s.engine = engine
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until SIGINT/SIGTERM, then drains in-flight requests.
func (s *Server) Start(addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		s.log.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	s.log.WithField("addr", addr).Info("http server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type scrapeRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleScrape(c *gin.Context) {
	var req scrapeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be JSON with a url field"})
		return
	}

	data, err := s.scraper.Scrape(c.Request.Context(), req.URL)
	if err != nil {
		var ierr *review.InvalidInputError
		if errors.As(err, &ierr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": ierr.Error()})
			return
		}
		// The generic message is deliberate; the cause is in the logs.
		s.log.WithError(err).WithField("url", req.URL).Error("scrape failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not extract review data from the page"})
		return
	}
	c.JSON(http.StatusOK, data)
}

func (s *Server) handleMovieDetails(c *gin.Context) {
	q := enrich.Query{
		Slug:        c.Query("slug"),
		Title:       c.Query("title"),
		Year:        c.Query("year"),
		BackdropURL: c.Query("backdrop"),
	}
	if q.Slug == "" && q.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slug or title is required"})
		return
	}
	// Best effort by contract: an empty Result is a valid answer.
	if s.meta == nil {
		c.JSON(http.StatusOK, enrich.Result{})
		return
	}
	c.JSON(http.StatusOK, s.meta.Lookup(c.Request.Context(), q))
}

func (s *Server) handleSearch(c *gin.Context) {
	query := strings.TrimSpace(c.Query("query"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}
	results := []enrich.SearchResult{}
	if s.meta != nil {
		if found := s.meta.Search(c.Request.Context(), query); found != nil {
			results = found
		}
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// handleProxyImage streams a poster or backdrop through the server so the
// frontend canvas is not tainted by cross-origin image loads.
func (s *Server) handleProxyImage(c *gin.Context) {
	raw := strings.TrimSpace(c.Query("url"))
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url must be absolute http(s)"})
		return
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, parsed.String(), nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url must be absolute http(s)"})
		return
	}
	req.Header.Set("User-Agent", fetcher.DefaultUserAgent)
	req.Header.Set("Accept", "image/avif,image/webp,image/png,image/*,*/*;q=0.8")
	// The letterboxd CDN and TMDB refuse hotlinks without a letterboxd
	// referer.
	host := parsed.Hostname()
	if strings.HasSuffix(host, "ltrbxd.com") || host == "image.tmdb.org" {
		req.Header.Set("Referer", "https://letterboxd.com/")
	}

	resp, err := s.images.Do(req)
	if err != nil {
		s.log.WithError(err).WithField("url", parsed.String()).Warn("image proxy fetch failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "image fetch failed"})
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.JSON(http.StatusBadGateway, gin.H{"error": "image fetch failed"})
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	c.DataFromReader(http.StatusOK, resp.ContentLength, contentType, resp.Body, map[string]string{
		"Cache-Control":                "public, max-age=86400",
		"Cross-Origin-Resource-Policy": "cross-origin",
	})
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
