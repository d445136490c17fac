// page-check fetches a single listing URL and prints what the pipeline
// would extract from it. No database or config file required.
//
//	page-check [--browser] <url> [locale]
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/corralejo-htls/scrapv25/internal/config"
	"github.com/corralejo-htls/scrapv25/internal/diag"
)

func main() {
	args := os.Args[1:]
	browser, _ := strconv.ParseBool(os.Getenv("SCRAPV25_SCRAPER__USE_BROWSER_DRIVER"))
	if len(args) > 0 && args[0] == "--browser" {
		browser = true
		args = args[1:]
	}
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: page-check [--browser] <url> [locale]")
		os.Exit(1)
	}
	rawURL := args[0]
	locale := ""
	if len(args) > 1 {
		locale = args[1]
	}

	cfg := config.ScraperConfig{
		LocalesEnabled:        []string{"en", "es", "de", "fr", "it"},
		DefaultLocale:         "en",
		UseBrowserDriver:      browser,
		MaxRetries:            3,
		MinRequestDelayMs:     500,
		MaxRequestDelayMs:     1500,
		BrowserTimeoutSeconds: 30,
		PageLoadWaitSeconds:   5,
		ScrollIterations:      3,
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	report, err := diag.Check(ctx, cfg, rawURL, locale, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "check: %v\n", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encoding report: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
