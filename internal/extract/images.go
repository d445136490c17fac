package extract

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// hotelPhotoPath is the only CDN path that carries real hotel and room
// photos. Design assets, user avatars, destination photos and tracking
// pixels live under other prefixes and are rejected wholesale.
const hotelPhotoPath = "bstatic.com/xdata/images/hotel/"

var (
	maxDimsRe = regexp.MustCompile(`(?i)/max\d+x\d+x?\d*/`)
	maxOneRe  = regexp.MustCompile(`(?i)/max\d+/`)
	squareRe  = regexp.MustCompile(`(?i)/square\d+/`)
)

// normalizeImageURL rewrites any CDN size variant to the maximum-resolution
// form.
func normalizeImageURL(u string) string {
	u = maxDimsRe.ReplaceAllString(u, "/max1280x900/")
	u = maxOneRe.ReplaceAllString(u, "/max1280x900/")
	u = squareRe.ReplaceAllString(u, "/max1280x900/")
	return u
}

func isHotelPhoto(u string) bool {
	lower := strings.ToLower(u)
	return strings.HasPrefix(lower, "http") && strings.Contains(lower, hotelPhotoPath)
}

// extractImages collects every hotel photo URL on the page, normalized and
// deduplicated by signature-free path. All sources feed the same set: the
// open gallery overlay, the main listing block, every img on the page,
// og:image, and embedded data-photos JSON. No quantity cap.
func (e *Extractor) extractImages() []string {
	var urls []string
	seen := make(map[string]bool)

	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if !isHotelPhoto(raw) {
			return
		}
		u := normalizeImageURL(raw)
		base, _, _ := strings.Cut(u, "?")
		if !seen[base] {
			seen[base] = true
			urls = append(urls, u)
		}
	}
	addImg := func(_ int, img *goquery.Selection) {
		for _, attr := range []string{"src", "data-src", "data-lazy-src"} {
			if v, ok := img.Attr(attr); ok {
				add(v)
			}
		}
		if srcset, ok := img.Attr("srcset"); ok {
			for _, part := range strings.Split(srcset, ",") {
				fields := strings.Fields(part)
				if len(fields) > 0 {
					add(fields[0])
				}
			}
		}
	}

	if gallery := e.doc.Find(`[data-testid="GalleryGridViewModal-wrapper"]`); gallery.Length() > 0 {
		gallery.Find("img").Each(addImg)
	}

	block := e.doc.Find("#b2hotelPage")
	if block.Length() == 0 {
		block = e.doc.Find(`[data-testid="b2hotelPage"]`)
	}
	if block.Length() > 0 {
		block.Find("img, source").Each(addImg)
	}

	e.doc.Find("img").Each(addImg)

	if og, ok := e.doc.Find(`meta[property="og:image"]`).Attr("content"); ok {
		add(og)
	}

	e.doc.Find("[data-photos]").Each(func(_ int, s *goquery.Selection) {
		raw, _ := s.Attr("data-photos")
		var photos []any
		if err := json.Unmarshal([]byte(raw), &photos); err != nil {
			return
		}
		for _, p := range photos {
			switch t := p.(type) {
			case string:
				add(t)
			case map[string]any:
				add(str(t["url"]))
				add(str(t["src"]))
			}
		}
	})

	return urls
}
