package fetch

import (
	"strings"

	"github.com/corralejo-htls/scrapv25/internal/config"
)

// Class is the outcome of inspecting one HTTP response. Pure classification;
// the variants decide what each class means for their session state.
type Class int

const (
	ClassOK Class = iota
	// ClassNotListing: a full-size 200 without listing signals. Retried,
	// but unlike a block page the content may still be usable on the last
	// attempt (the catalog occasionally ships listing markup without the
	// known markers).
	ClassNotListing
	ClassShortContent
	ClassBlocked
	ClassRateLimited
	ClassNotFound
	ClassServerError
)

// minListingLength is the smallest plausible listing page. Anything shorter
// is an interstitial or an error fragment.
const minListingLength = 5000

// Classify maps an HTTP status and body to a response class per the
// anti-bot decision table.
func Classify(status int, body string) Class {
	switch {
	case status == 403:
		return ClassBlocked
	case status == 429:
		return ClassRateLimited
	case status == 404:
		return ClassNotFound
	case status >= 500:
		return ClassServerError
	}

	lower := strings.ToLower(body)
	if hasBlockSignal(lower) {
		return ClassBlocked
	}
	if len(body) < minListingLength {
		return ClassShortContent
	}
	if !hasListingSignal(lower) {
		return ClassNotListing
	}
	return ClassOK
}

func hasListingSignal(lowerBody string) bool {
	for _, s := range config.ListingSignals {
		if strings.Contains(lowerBody, s) {
			return true
		}
	}
	return false
}

func hasBlockSignal(lowerBody string) bool {
	for _, s := range config.BlockSignals {
		if strings.Contains(lowerBody, s) {
			return true
		}
	}
	return false
}

// kindFor translates a non-OK class into the surfaced error kind.
func kindFor(c Class) Kind {
	switch c {
	case ClassBlocked:
		return KindBlocked
	case ClassRateLimited:
		return KindRateLimited
	case ClassNotFound:
		return KindNotFound
	case ClassServerError:
		return KindServerError
	default:
		return KindShortContent
	}
}

// dumpLabel names the debug dump file for a failed attempt.
func dumpLabel(status int, c Class) string {
	switch {
	case status == 403:
		return "403"
	case c == ClassBlocked:
		return "blocked"
	case c == ClassShortContent:
		return "short"
	case c == ClassNotListing:
		return "not_hotel"
	default:
		return "error"
	}
}
