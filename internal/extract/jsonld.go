package extract

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// parseJSONLD collects every application/ld+json block into loose maps.
// Malformed blocks are skipped; the catalog routinely ships several and at
// least one is usually valid.
func parseJSONLD(doc *goquery.Document) []map[string]any {
	var blocks []map[string]any
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var data map[string]any
		if err := json.Unmarshal([]byte(s.Text()), &data); err == nil && len(data) > 0 {
			blocks = append(blocks, data)
		}
	})
	return blocks
}

func (e *Extractor) jsonLDString(key string) string {
	for _, block := range e.jsonLD {
		if v, ok := block[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// jsonLDAddress composes the PostalAddress object. streetAddress often
// already contains city and region; sub-fields are appended only when not
// already present (case-insensitive).
func (e *Extractor) jsonLDAddress() string {
	for _, block := range e.jsonLD {
		switch addr := block["address"].(type) {
		case map[string]any:
			street := strings.TrimSpace(str(addr["streetAddress"]))
			streetLower := strings.ToLower(street)
			var parts []string
			if street != "" {
				parts = append(parts, street)
			}
			for _, key := range []string{"addressLocality", "postalCode", "addressCountry"} {
				v := strings.TrimSpace(str(addr[key]))
				if v != "" && !strings.Contains(streetLower, strings.ToLower(v)) {
					parts = append(parts, v)
				}
			}
			full := strings.Join(parts, ", ")
			if len(full) > 5 {
				return full
			}
		case string:
			if v := strings.TrimSpace(addr); len(v) > 5 {
				return cleanAddress(v)
			}
		}
	}
	return ""
}

// jsonLDAggregateRating returns (ratingValue, reviewCount); either may be
// absent.
func (e *Extractor) jsonLDAggregateRating() (*float64, *int) {
	for _, block := range e.jsonLD {
		agg, ok := block["aggregateRating"].(map[string]any)
		if !ok {
			continue
		}
		var rating *float64
		var reviews *int
		if v, ok := parseFloatComma(str(agg["ratingValue"])); ok {
			rating = &v
		}
		if v, err := strconv.Atoi(strings.TrimSpace(str(agg["reviewCount"]))); err == nil && v > 0 {
			reviews = &v
		}
		if rating != nil || reviews != nil {
			return rating, reviews
		}
	}
	return nil, nil
}

// jsonLDContainedRooms reads room names out of containsPlace.
func (e *Extractor) jsonLDContainedRooms() []string {
	var names []string
	for _, block := range e.jsonLD {
		places, ok := block["containsPlace"].([]any)
		if !ok {
			continue
		}
		for _, p := range places {
			if m, ok := p.(map[string]any); ok {
				if name := strings.TrimSpace(str(m["name"])); name != "" {
					names = append(names, name)
				}
			}
		}
	}
	return names
}

// str renders a loose-JSON value as a string. Numbers keep their shortest
// form so "8.7" survives the float round-trip.
func str(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

func parseFloatComma(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
