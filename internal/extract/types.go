// Package extract pulls structured listing data out of raw catalog HTML.
// It is pure: no network, no storage, no clock.
package extract

// Room is one bookable unit on a listing page. Price, capacity and beds are
// kept as the display strings the catalog renders; they carry currency and
// locale formatting that normalization would destroy.
type Room struct {
	Name     string `json:"name"`
	Price    string `json:"price,omitempty"`
	Capacity string `json:"capacity,omitempty"`
	Beds     string `json:"beds,omitempty"`
}

// Listing is everything extracted from one (page, locale) pair.
// DetectedLocale may differ from the requested locale when the catalog
// served content in the wrong language; callers must not persist such
// listings.
type Listing struct {
	Name           string
	Address        string
	Description    string
	Rating         *float64
	RatingCategory string
	TotalReviews   *int
	ReviewScores   map[string]float64
	Services       []string
	Facilities     map[string][]string
	HouseRules     string
	ImportantInfo  string
	Rooms          []Room
	ImageURLs      []string
	DetectedLocale string
}
