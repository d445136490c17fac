// Package diag runs a single-listing dry run: fetch, classify, extract,
// report. Nothing is persisted; it exists for operator troubleshooting.
package diag

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/corralejo-htls/scrapv25/internal/config"
	"github.com/corralejo-htls/scrapv25/internal/extract"
	"github.com/corralejo-htls/scrapv25/internal/fetch"
)

// Report is the JSON shape returned to the operator.
type Report struct {
	URL            string            `json:"url"`
	Locale         string            `json:"locale"`
	HTTPStatus     int               `json:"http_status"`
	Length         int               `json:"length"`
	Title          string            `json:"title,omitempty"`
	FetchError     string            `json:"fetch_error,omitempty"`
	Name           string            `json:"name,omitempty"`
	Address        string            `json:"address,omitempty"`
	Rating         *float64          `json:"rating,omitempty"`
	RatingCategory string            `json:"rating_category,omitempty"`
	DetectedLocale string            `json:"detected_locale,omitempty"`
	LocaleMatch    bool              `json:"locale_match"`
	Services       int               `json:"services_count"`
	Facilities     int               `json:"facility_groups"`
	Rooms          int               `json:"rooms_count"`
	Images         int               `json:"images_count"`
	FieldVerdicts  map[string]string `json:"field_verdicts,omitempty"`
}

// Check fetches the listing once in the given locale and reports what the
// pipeline would extract. The fetcher variant follows config.
func Check(ctx context.Context, cfg config.ScraperConfig, rawURL, locale string, logger *zap.Logger) (*Report, error) {
	if locale == "" {
		locale = cfg.DefaultLocale
	}
	if !config.KnownLocale(locale) {
		return nil, fmt.Errorf("unknown locale %q", locale)
	}

	f, err := fetch.New(ctx, cfg, nil, logger)
	if err != nil {
		return nil, fmt.Errorf("building fetcher: %w", err)
	}
	defer f.Close()

	rep := &Report{
		URL:    fetch.BuildLocaleURL(rawURL, locale),
		Locale: locale,
	}

	res, err := f.Fetch(ctx, rep.URL, locale)
	if err != nil {
		rep.FetchError = err.Error()
		var fe *fetch.Error
		if errors.As(err, &fe) {
			rep.HTTPStatus = fe.Status
		}
		return rep, nil
	}
	rep.HTTPStatus = res.Status
	rep.Length = res.Length
	rep.Title = res.Title

	l, err := extract.Extract(res.HTML, locale)
	if err != nil {
		rep.FetchError = "extract: " + err.Error()
		return rep, nil
	}

	rep.Name = l.Name
	rep.Address = l.Address
	rep.Rating = l.Rating
	rep.RatingCategory = l.RatingCategory
	rep.DetectedLocale = l.DetectedLocale
	rep.LocaleMatch = l.DetectedLocale == locale
	rep.Services = len(l.Services)
	rep.Facilities = len(l.Facilities)
	rep.Rooms = len(l.Rooms)
	rep.Images = len(l.ImageURLs)
	rep.FieldVerdicts = verdicts(l, locale)
	return rep, nil
}

// verdicts names which language-gated fields survived the authenticator.
func verdicts(l *extract.Listing, locale string) map[string]string {
	v := make(map[string]string, 4)
	put := func(field string, kept bool) {
		if kept {
			v[field] = "kept"
		} else {
			v[field] = "dropped"
		}
	}
	put("description", l.Description != "")
	put("services", len(l.Services) > 0)
	put("house_rules", l.HouseRules != "")
	put("important_info", l.ImportantInfo != "")
	return v
}
