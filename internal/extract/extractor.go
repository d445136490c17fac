package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Extractor holds the two query views over a single parsed tree: goquery
// for CSS selectors and htmlquery for the legacy XPath expressions. Both
// wrap the same *html.Node, so the page is parsed exactly once.
type Extractor struct {
	doc    *goquery.Document
	root   *html.Node
	locale string
	jsonLD []map[string]any
}

// Extract parses the page and pulls every listing field. DetectedLocale is
// always set; callers compare it to the requested locale before persisting.
func Extract(htmlSrc, locale string) (*Listing, error) {
	root, err := html.Parse(strings.NewReader(htmlSrc))
	if err != nil {
		return nil, fmt.Errorf("parsing listing html: %w", err)
	}
	e := &Extractor{
		doc:    goquery.NewDocumentFromNode(root),
		root:   root,
		locale: locale,
	}
	e.jsonLD = parseJSONLD(e.doc)

	descCandidates := e.descriptionCandidates()
	rawServices := e.extractServices()
	rawFacilities := e.extractFacilities()

	l := &Listing{
		Name:          e.extractName(),
		Address:       e.extractAddress(),
		Description:   e.authenticated(descCandidates),
		ReviewScores:  e.extractReviewScores(),
		Services:      e.authenticatedList(rawServices),
		Facilities:    e.authenticatedFacilities(rawFacilities),
		HouseRules:    e.authenticated(e.houseRulesCandidates()),
		ImportantInfo: e.authenticated(e.importantInfoCandidates()),
		Rooms:         e.extractRooms(),
		ImageURLs:     e.extractImages(),
	}
	l.Rating = e.extractRating()
	l.TotalReviews = e.extractTotalReviews()
	l.RatingCategory = e.extractRatingCategory(l.Rating)

	// Locale detection runs on the raw text, before gating: a page served
	// entirely in the wrong language must be reported as a mismatch, not
	// come back empty with the requested locale attached.
	l.DetectedLocale = e.detectListingLocale(descCandidates, rawServices, rawFacilities)
	return l, nil
}

// authenticated walks the candidate texts in priority order and returns the
// first one in the requested locale. Text in the wrong language is dropped,
// not stored.
func (e *Extractor) authenticated(candidates []string) string {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c != "" && Validate(c, e.locale) {
			return c
		}
	}
	return ""
}

// detectListingLocale judges the whole listing by its longest prose: the
// first description candidate, or the raw services and facilities text
// joined when no description was found.
func (e *Extractor) detectListingLocale(descCandidates, services []string, facilities map[string][]string) string {
	var text string
	for _, c := range descCandidates {
		if strings.TrimSpace(c) != "" {
			text = c
			break
		}
	}
	if text == "" {
		var parts []string
		parts = append(parts, services...)
		for cat, items := range facilities {
			parts = append(parts, cat)
			parts = append(parts, items...)
		}
		text = strings.Join(parts, " ")
	}
	if strings.TrimSpace(text) == "" {
		return e.locale
	}
	return DetectLocale(text, e.locale)
}

// legacy XPath selectors carried over from earlier catalog layouts; still
// served on some property types.
const (
	nameXPath    = `//div[@id="wrap-hotelpage-top"]/div[2]/div[1]/div[2]/h2[1]`
	addressXPath = `//*[@id="wrap-hotelpage-top"]/div[2]/div/div[3]/div/div/div/div/span[1]/button/div`
)

func (e *Extractor) xpathText(expr string) string {
	node, err := htmlquery.Query(e.root, expr)
	if err != nil || node == nil {
		return ""
	}
	return strings.TrimSpace(htmlquery.InnerText(node))
}

func (e *Extractor) cssText(selector string) string {
	return strings.TrimSpace(e.doc.Find(selector).First().Text())
}

func (e *Extractor) metaContent(selector string) string {
	v, _ := e.doc.Find(selector).Attr("content")
	return strings.TrimSpace(v)
}

func (e *Extractor) extractName() string {
	// data-testid="title" is the cleanest source: the bare name with no
	// city or country appended.
	for _, sel := range []string{`[data-testid="title"]`, `[data-testid="property-name"]`} {
		if v := starPrefixRe.ReplaceAllString(e.cssText(sel), ""); len(v) > 2 {
			return strings.TrimSpace(v)
		}
	}
	if v := cleanHotelName(e.metaContent(`meta[property="og:title"]`)); v != "" {
		return v
	}
	if v := cleanHotelName(e.metaContent(`meta[name="title"]`)); v != "" {
		return v
	}
	if v := e.xpathText(nameXPath); v != "" {
		return v
	}
	if v := e.cssText("h2.pp-header__title"); v != "" {
		return v
	}
	if v := e.nameFromHeadings(); v != "" {
		return v
	}
	if v := e.jsonLDString("name"); len(v) > 3 {
		return v
	}
	return ""
}

var nameHintRe = regexp.MustCompile(`(?i)property|hotel|title|name`)

func (e *Extractor) nameFromHeadings() string {
	var out string
	e.doc.Find("h1, h2").EachWithBreak(func(_ int, h *goquery.Selection) bool {
		cls, _ := h.Attr("class")
		id, _ := h.Attr("id")
		if !nameHintRe.MatchString(cls + id) {
			return true
		}
		if v := strings.TrimSpace(h.Text()); len(v) > 3 {
			out = v
			return false
		}
		return true
	})
	return out
}

func (e *Extractor) extractAddress() string {
	// JSON-LD first: structured data never carries the rating commentary
	// the DOM block mixes in.
	if v := e.jsonLDAddress(); v != "" {
		return v
	}
	selectors := []string{
		`[data-testid="address"]`,
		`[data-testid*="PropertyHeaderAddress"]`,
		`[data-testid*="address-line"]`,
	}
	for _, sel := range selectors {
		if v := cleanAddress(e.cssText(sel)); v != "" {
			return v
		}
	}
	if v := cleanAddress(e.xpathText(addressXPath)); v != "" {
		return v
	}
	for _, cls := range []string{".hp_address_subtitle", ".address", ".address-text"} {
		if v := cleanAddress(e.cssText(cls)); v != "" {
			return v
		}
	}
	return cleanAddress(e.cssText(`[itemprop="address"]`))
}

func (e *Extractor) descriptionCandidates() []string {
	var out []string
	if v := e.cssText(`p[data-testid="property-description"]`); v != "" {
		out = append(out, v)
	}
	if div := e.doc.Find("#property_description_content"); div.Length() > 0 {
		var parts []string
		div.Find("p").Each(func(_ int, p *goquery.Selection) {
			if t := strings.TrimSpace(p.Text()); t != "" {
				parts = append(parts, t)
			}
		})
		if len(parts) > 0 {
			out = append(out, strings.Join(parts, " "))
		}
	}
	if v := e.cssText("div.hotel_desc_wrapper"); v != "" {
		out = append(out, v)
	}
	if v := e.metaContent(`meta[property="og:description"]`); v != "" {
		out = append(out, v)
	}
	return out
}

var ratingOutOfRe = regexp.MustCompile(`(\d+[.,]\d+)\s*(?:out\s*of|/)`)

func (e *Extractor) extractRating() *float64 {
	if v, ok := parseDecimal(e.cssText(`[data-testid="review-score-component"]`)); ok {
		return &v
	}
	var found *float64
	e.doc.Find("[aria-label]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		label, _ := s.Attr("aria-label")
		m := ratingOutOfRe.FindStringSubmatch(label)
		if m == nil {
			return true
		}
		if v, ok := parseFloatComma(m[1]); ok {
			found = &v
			return false
		}
		return true
	})
	if found != nil {
		return found
	}
	if item := e.doc.Find(`[itemprop="ratingValue"]`).First(); item.Length() > 0 {
		text, ok := item.Attr("content")
		if !ok {
			text = item.Text()
		}
		if v, okv := parseDecimal(text); okv {
			return &v
		}
	}
	rating, _ := e.jsonLDAggregateRating()
	return rating
}

var reviewCountRe = regexp.MustCompile(`(?i)([\d,.]+)\s*(?:review|opinión|opiniones|bewertung|avis|recensioni|avaliações|beoordeling)`)

func (e *Extractor) extractTotalReviews() *int {
	if text := e.cssText(`[data-testid="review-score-component"]`); text != "" {
		if m := reviewCountRe.FindStringSubmatch(text); m != nil {
			digits := strings.NewReplacer(",", "", ".", "").Replace(m[1])
			if v, err := strconv.Atoi(digits); err == nil && v > 0 {
				return &v
			}
		}
	}
	if item := e.doc.Find(`[itemprop="reviewCount"]`).First(); item.Length() > 0 {
		text, ok := item.Attr("content")
		if !ok {
			text = item.Text()
		}
		digits := regexp.MustCompile(`\d+`).FindString(strings.ReplaceAll(text, ",", ""))
		if v, err := strconv.Atoi(digits); err == nil && v > 0 {
			return &v
		}
	}
	_, reviews := e.jsonLDAggregateRating()
	return reviews
}

func (e *Extractor) extractRatingCategory(rating *float64) string {
	cats := categorySearchList(e.locale)

	if text := e.cssText(`[data-testid="review-score-component"]`); text != "" {
		if c := matchCategory(text, cats); c != "" {
			return c
		}
	}
	var found string
	e.doc.Find("[aria-label]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		label, _ := s.Attr("aria-label")
		if c := matchCategory(label, cats); c != "" {
			found = c
			return false
		}
		return true
	})
	if found != "" {
		return found
	}
	// The DOM word can be missing or in an unexpected language; the numeric
	// rating still pins the band.
	if rating != nil {
		return CategoryFromScore(*rating, e.locale)
	}
	return ""
}

func matchCategory(text string, cats []string) string {
	lower := strings.ToLower(text)
	for _, c := range cats {
		if strings.Contains(lower, strings.ToLower(c)) {
			return c
		}
	}
	return ""
}

var (
	subscoreLineRe = regexp.MustCompile(`^(.+?)\s+(\d+[.,]\d+)\s*$`)
	subscorePairRe = regexp.MustCompile(`([\p{L}][\p{L}\s]{1,39})\s+(\d+[.,]\d+)`)
)

func (e *Extractor) extractReviewScores() map[string]float64 {
	scores := make(map[string]float64)

	addPair := func(name, value string) {
		name = strings.TrimSpace(name)
		v, ok := parseFloatComma(value)
		if name != "" && ok && v >= 1.0 && v <= 10.0 {
			scores[name] = v
		}
	}

	if container := e.doc.Find(`[data-testid="ReviewSubscoresDesktop"]`); container.Length() > 0 {
		container.Find(`[class*="subscore"], [class*="score"], [class*="category"]`).
			Each(func(_ int, item *goquery.Selection) {
				if m := subscoreLineRe.FindStringSubmatch(strings.TrimSpace(item.Text())); m != nil {
					addPair(m[1], m[2])
				}
			})
		if len(scores) > 0 {
			return scores
		}
	}

	e.doc.Find(`[data-testid*="review-score-category"], [data-testid*="ReviewScore"]`).
		Each(func(_ int, item *goquery.Selection) {
			if m := subscorePairRe.FindStringSubmatch(strings.TrimSpace(item.Text())); m != nil {
				addPair(m[1], m[2])
			}
		})
	if len(scores) > 0 {
		return scores
	}

	if rating, _ := e.jsonLDAggregateRating(); rating != nil {
		scores["overall"] = *rating
	}
	for _, block := range e.jsonLD {
		aspects, ok := block["reviewAspects"].([]any)
		if !ok {
			continue
		}
		for _, a := range aspects {
			if m, ok := a.(map[string]any); ok {
				addPair(str(m["name"]), str(m["ratingValue"]))
			}
		}
	}
	return scores
}

const maxServices = 50

func (e *Extractor) extractServices() []string {
	var services []string
	seen := make(map[string]bool)
	add := func(text string) {
		text = strings.TrimSpace(text)
		if len(text) > 2 && len(text) < 100 && !seen[text] && len(services) < maxServices {
			seen[text] = true
			services = append(services, text)
		}
	}

	if box := e.doc.Find("#hp_facilities_box"); box.Length() > 0 {
		box.Find("li, span").Each(func(_ int, item *goquery.Selection) {
			add(item.Text())
		})
		if len(services) > 0 {
			return services
		}
	}

	e.doc.Find(`[data-testid*="facilities"], [data-testid*="amenities"], [data-testid*="services"]`).
		Each(func(_ int, container *goquery.Selection) {
			container.Find("li, span, div").Each(func(_ int, item *goquery.Selection) {
				add(item.Text())
			})
		})
	return services
}

// authenticatedList gates a list field through the language check on its
// joined text; a list in the wrong locale is dropped entirely.
func (e *Extractor) authenticatedList(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	if !Validate(strings.Join(items, " "), e.locale) {
		return nil
	}
	return items
}

func (e *Extractor) extractFacilities() map[string][]string {
	facilities := make(map[string][]string)

	box := e.doc.Find("#hp_facilities_box")
	if box.Length() == 0 {
		box = e.doc.Find(`[data-testid*="facilities"]`)
	}
	if box.Length() == 0 {
		return facilities
	}

	box.ChildrenFiltered("div, section").Each(func(_ int, section *goquery.Selection) {
		header := section.Find("h3, h4, p").First()
		if header.Length() == 0 {
			return
		}
		category := strings.TrimSpace(header.Text())
		if category == "" {
			return
		}
		var items []string
		section.Find("li").Each(func(_ int, li *goquery.Selection) {
			if t := strings.TrimSpace(li.Text()); t != "" {
				items = append(items, t)
			}
		})
		if len(items) > 0 {
			facilities[category] = items
		}
	})

	return facilities
}

// authenticatedFacilities gates the facility map through the language check
// on its joined text; a map in the wrong locale is dropped entirely.
func (e *Extractor) authenticatedFacilities(facilities map[string][]string) map[string][]string {
	if len(facilities) == 0 {
		return facilities
	}
	var joined []string
	for cat, items := range facilities {
		joined = append(joined, cat)
		joined = append(joined, items...)
	}
	if !Validate(strings.Join(joined, " "), e.locale) {
		return map[string][]string{}
	}
	return facilities
}

func (e *Extractor) houseRulesCandidates() []string {
	var out []string
	for _, sel := range []string{"#policies", `[data-testid*="policies"]`, `[data-testid*="rules"]`} {
		if v := blockText(e.doc.Find(sel).First()); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (e *Extractor) importantInfoCandidates() []string {
	var out []string
	for _, sel := range []string{"#important_info", `[data-testid="important-info"]`} {
		if v := blockText(e.doc.Find(sel).First()); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// blockText joins a section's text nodes with newlines, the way the page
// renders multi-paragraph policy blocks.
func blockText(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	var lines []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				lines = append(lines, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, node := range s.Nodes {
		walk(node)
	}
	return strings.Join(lines, "\n")
}
