package extract

import (
	"regexp"
	"strings"
)

var (
	bookingSuffixRe = regexp.MustCompile(`(?i)\s*[|\-–]\s*Booking\.com\s*$`)
	starPrefixRe    = regexp.MustCompile(`^[★☆✦✩\s]+`)
)

// cleanHotelName strips the decorations the catalog adds to og:title and
// meta titles: a unicode star prefix, a " | Booking.com" suffix, and a
// trailing ", City, Country" location tail when both tail segments are
// short enough to be place names rather than part of the hotel's own name.
func cleanHotelName(v string) string {
	v = bookingSuffixRe.ReplaceAllString(v, "")
	v = starPrefixRe.ReplaceAllString(v, "")
	v = strings.TrimSpace(v)

	parts := strings.Split(v, ",")
	switch {
	case len(parts) >= 3:
		lastTwo := parts[len(parts)-2:]
		if len(strings.TrimSpace(lastTwo[0])) <= 35 && len(strings.TrimSpace(lastTwo[1])) <= 35 {
			v = strings.TrimSpace(strings.TrimSuffix(strings.Join(parts[:len(parts)-2], ","), ","))
		}
	case len(parts) == 2:
		if len(strings.TrimSpace(parts[1])) <= 35 {
			v = strings.TrimSpace(parts[0])
		}
	}

	if len(v) <= 2 {
		return ""
	}
	return v
}

// addressNoiseRe matches the first rating-commentary fragment the catalog
// concatenates into the same DOM block as the street address. The list is
// multilingual because the noise follows the page locale.
var addressNoiseRe = regexp.MustCompile(`(?i)` + strings.Join([]string{
	`ubicaci[oó]n`, `excellent\s+location`, `great\s+location`, `location\b`,
	`valorad`, `puntuada`, `basada\s+en\s*\d`, `comentarios`,
	`ver\s+mapa`, `show\s+on\s+map`, `\d+\s*/\s*10`, `puntuaci[oó]n`,
	`rated\s+by`, `customers?`, `destacado`, `de\s+las\s+m[aá]s`,
	`valoradas?`, `valued\s+by`, `despu[eé]s\s+de\s+reservar`,
	`encontrar[aá]s`, `n[uú]mero\s+de\s+tel[eé]fono`,
}, "|"))

const maxAddressLength = 200

// cleanAddress cuts the string at the first noise trigger and bounds it to
// 200 chars.
func cleanAddress(v string) string {
	if v == "" {
		return ""
	}
	if loc := addressNoiseRe.FindStringIndex(v); loc != nil {
		v = strings.TrimRight(strings.TrimSpace(v[:loc[0]]), ".,;– \n\t")
	}
	if len(v) > maxAddressLength {
		v = v[:maxAddressLength]
	}
	return strings.TrimSpace(v)
}

// decimalRe matches the catalog's rating renderings: "8.7" or "8,7".
var decimalRe = regexp.MustCompile(`(\d+[.,]\d+)`)

func parseDecimal(s string) (float64, bool) {
	m := decimalRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	return parseFloatComma(m[1])
}
