package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ramkansal/boxdstory/internal/config"
	"github.com/ramkansal/boxdstory/internal/enrich"
	"github.com/ramkansal/boxdstory/internal/extract"
	"github.com/ramkansal/boxdstory/internal/fetcher"
	"github.com/ramkansal/boxdstory/internal/relay"
	"github.com/ramkansal/boxdstory/internal/scrape"
	"github.com/ramkansal/boxdstory/internal/server"
	"github.com/ramkansal/boxdstory/internal/unfurl"
	"github.com/ramkansal/boxdstory/pkg/review"
)

var version = "1.0.0"

// flags holds all parsed CLI options.
type flags struct {
	// Target
	url string

	// Server
	serve bool
	port  string

	// Pipeline
	fetchMode string
	timeout   time.Duration
	tmdbKey   string

	// Output
	jsonOut bool
	silent  bool
	noColor bool

	// Config
	configFile string

	// Meta
	showHelp    bool
	showVersion bool
}

var colorEnabled = true

func main() {
	enableANSI()
	f := parseFlags()
	if f.noColor {
		colorEnabled = false
	}

	if f.showVersion {
		fmt.Printf("boxdstory v%s\n", version)
		os.Exit(0)
	}
	if f.showHelp || (f.url == "" && !f.serve) {
		printUsage()
		if f.url == "" && !f.serve && !f.showHelp {
			os.Exit(1)
		}
		os.Exit(0)
	}

	config.LoadEnv()
	cfg, err := config.Load(f.configFile)
	if err != nil {
		fatal("config: %v", err)
	}
	applyFlags(cfg, f)

	log := newLogger(cfg.LogLevel, f)

	orch, meta, cleanup, err := buildPipeline(cfg, log)
	if err != nil {
		fatal("%v", err)
	}
	defer cleanup()

	if f.serve {
		srv := server.New(orch, meta, log)
		if err := srv.Start(cfg.Listen); err != nil {
			fatal("server: %v", err)
		}
		return
	}

	runOnce(orch, f)
}

func runOnce(orch *scrape.Orchestrator, f *flags) {
	target := f.url
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = "https://" + target
	}

	timeout := f.timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	data, err := orch.Scrape(ctx, target)
	if err != nil {
		fatal("%v", err)
	}

	if f.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(data); err != nil {
			fatal("encode: %v", err)
		}
		return
	}
	printResult(data, f.silent)
}

func printResult(d review.ReviewData, silent bool) {
	if !silent {
		printBanner()
		fmt.Println()
	}
	fmt.Printf("  %s %s", clr("cyan", "Film:"), d.MovieTitle)
	if d.Year != "" {
		fmt.Printf(" %s", clr("dim", "("+d.Year+")"))
	}
	fmt.Println()
	if d.Director != "" {
		fmt.Printf("  %s %s\n", clr("cyan", "Director:"), d.Director)
	}
	if d.Rating != "" {
		fmt.Printf("  %s %s %s\n", clr("cyan", "Rating:"), clr("yellow", d.Rating), clr("dim", fmt.Sprintf("(%.1f/5)", d.RatingNumber)))
	}
	fmt.Printf("  %s %s", clr("cyan", "By:"), d.Username)
	if d.DisplayName != "" && d.DisplayName != d.Username {
		fmt.Printf(" %s", clr("dim", "("+d.DisplayName+")"))
	}
	fmt.Println()
	if d.ReviewText != "" {
		fmt.Printf("\n  %s\n", d.ReviewText)
	}
	fmt.Println()
	if d.PosterURL != "" {
		fmt.Printf("  %s %s\n", clr("dim", "Poster:"), d.PosterURL)
	}
	if d.BackdropURL != "" {
		fmt.Printf("  %s %s\n", clr("dim", "Backdrop:"), d.BackdropURL)
	}
	if d.MovieURL != "" {
		fmt.Printf("  %s %s\n", clr("dim", "Film page:"), d.MovieURL)
	}
}

func applyFlags(cfg *config.Config, f *flags) {
	if f.port != "" {
		cfg.Listen = ":" + f.port
	}
	if f.fetchMode != "" {
		cfg.Fetch.Mode = strings.ToLower(f.fetchMode)
	}
	if f.timeout > 0 {
		cfg.Fetch.Timeout = config.DurationFrom(f.timeout)
	}
	if f.tmdbKey != "" {
		cfg.TMDB.APIKey = f.tmdbKey
	}
}

func newLogger(level string, f *flags) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if f.serve {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	if f.silent && !f.serve {
		lvl = logrus.ErrorLevel
	}
	log.SetLevel(lvl)
	return log
}

func buildPipeline(cfg *config.Config, log *logrus.Logger) (*scrape.Orchestrator, server.Metadata, func(), error) {
	mode, err := scrape.ParseMode(cfg.Fetch.Mode)
	if err != nil {
		return nil, nil, nil, err
	}

	var tmdb *enrich.TMDB
	if cfg.TMDB.APIKey != "" {
		tmdb = enrich.NewTMDB(cfg.TMDB.APIKey, log)
	} else {
		log.Debug("no TMDB api key, metadata enrichment disabled")
	}

	direct := fetcher.NewDirect(fetcher.DirectConfig{
		UserAgent:         cfg.Fetch.UserAgent,
		Timeout:           cfg.Fetch.Timeout.Duration,
		RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
		Burst:             cfg.Fetch.Burst,
	}, log)

	var unfurlEnricher unfurl.Enricher
	var domEnricher extract.Enricher
	var meta server.Metadata
	if tmdb != nil {
		unfurlEnricher = tmdb
		domEnricher = tmdb
		meta = tmdb
	}

	un := unfurl.New(unfurlEnricher, log)
	if cfg.Unfurl.BaseURL != "" {
		un.BaseURL = cfg.Unfurl.BaseURL
	}

	rly := relay.NewClient(cfg.RelayEndpoints(), cfg.Relay.Timeout.Duration, log)
	dom := extract.New(domEnricher, direct, log)

	orch := scrape.New(un, rly, direct, dom, log)
	orch.Mode = mode

	cleanup := func() {}
	if mode != scrape.ModeHTTP {
		br := fetcher.NewBrowser(fetcher.BrowserConfig{UserAgent: cfg.Fetch.UserAgent}, log)
		orch.Browser = br
		cleanup = func() {
			if err := br.Close(); err != nil {
				log.WithError(err).Debug("browser close failed")
			}
		}
	}
	return orch, meta, cleanup, nil
}

// ---------- Flag parsing ----------

func parseFlags() *flags {
	f := &flags{}

	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		next := func() string {
			if i+1 < len(args) {
				i++
				return args[i]
			}
			fatal("flag %s requires an argument", arg)
			return ""
		}

		switch arg {
		// Target
		case "-u", "--url":
			f.url = next()

		// Server
		case "--serve":
			f.serve = true
		case "-p", "--port":
			f.port = next()

		// Pipeline
		case "-f", "--fetcher":
			f.fetchMode = next()
		case "-t", "--timeout":
			v := next()
			d, err := time.ParseDuration(v)
			if err != nil {
				fatal("invalid timeout %q", v)
			}
			f.timeout = d
		case "-k", "--tmdb-key":
			f.tmdbKey = next()

		// Output
		case "-j", "--json":
			f.jsonOut = true
		case "-si", "--silent":
			f.silent = true
		case "-nc", "--no-color":
			f.noColor = true

		// Config
		case "--config":
			f.configFile = next()

		// Meta
		case "-h", "--help":
			f.showHelp = true
		case "-V", "--version":
			f.showVersion = true

		default:
			// Treat bare arg as URL if no URL yet
			if !strings.HasPrefix(arg, "-") && f.url == "" {
				f.url = arg
			} else {
				fmt.Fprintf(os.Stderr, "Unknown flag: %s (use --help for usage)\n", arg)
				os.Exit(1)
			}
		}
	}
	return f
}

// ---------- Help / banner ----------

func printUsage() {
	printBanner()
	fmt.Print(`
USAGE:
  boxdstory [flags] <review-url>
  boxdstory -u https://boxd.it/abc123 --json
  boxdstory --serve -p 8080

TARGET:
  -u,    --url <string>        letterboxd review URL or boxd.it short link

SERVER:
         --serve               run the HTTP API instead of a one-shot scrape
  -p,    --port <string>       listen port for --serve (default 8080)

PIPELINE:
  -f,    --fetcher <string>    page fetch mode: http, browser, auto (default "http")
  -t,    --timeout <duration>  overall scrape budget (e.g. 30s, 2m; default 90s)
  -k,    --tmdb-key <string>   TMDB API key for director/poster enrichment

OUTPUT:
  -j,    --json                print the raw JSON result
  -si,   --silent              suppress banner and info logs
  -nc,   --no-color            disable colored output

CONFIG:
         --config <string>     path to YAML configuration file

META:
  -h,    --help                show this help message
  -V,    --version             show version

`)
}

func printBanner() {
	logo := `
  ██████╗  ██████╗ ██╗  ██╗██████╗ ███████╗████████╗ ██████╗ ██████╗ ██╗   ██╗
  ██╔══██╗██╔═══██╗╚██╗██╔╝██╔══██╗██╔════╝╚══██╔══╝██╔═══██╗██╔══██╗╚██╗ ██╔╝
  ██████╔╝██║   ██║ ╚███╔╝ ██║  ██║███████╗   ██║   ██║   ██║██████╔╝ ╚████╔╝
  ██╔══██╗██║   ██║ ██╔██╗ ██║  ██║╚════██║   ██║   ██║   ██║██╔══██╗  ╚██╔╝
  ██████╔╝╚██████╔╝██╔╝ ██╗██████╔╝███████║   ██║   ╚██████╔╝██║  ██║   ██║
  ╚═════╝  ╚═════╝ ╚═╝  ╚═╝╚═════╝ ╚══════╝   ╚═╝    ╚═════╝ ╚═╝  ╚═╝   ╚═╝`
	fmt.Println(clr("cyan", logo))
	fmt.Printf("  %s  %s\n", clr("dim", "Letterboxd review scraper"), clr("dim", "v"+version))
	fmt.Printf("  %s\n", clr("dim", strings.Repeat("─", 58)))
}

// ---------- Utilities ----------

func clr(color, text string) string {
	if !colorEnabled {
		return text
	}
	codes := map[string]string{
		"red":    "\033[31m",
		"green":  "\033[32m",
		"yellow": "\033[33m",
		"cyan":   "\033[36m",
		"dim":    "\033[2m",
		"bold":   "\033[1m",
		"reset":  "\033[0m",
	}
	c, ok := codes[color]
	if !ok {
		return text
	}
	return c + text + codes["reset"]
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\n  %s %s\n\n", clr("red", "ERROR:"), fmt.Sprintf(format, args...))
	os.Exit(1)
}
