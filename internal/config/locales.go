package config

// Static catalog tables. The scraper targets a single catalog; locale
// support means an entry in every table below, compiled in rather than
// configured at runtime. Validate() rejects enabled locales without one.

const (
	// CatalogRoot is the canonical origin of the target catalog.
	CatalogRoot = "https://www.booking.com"
	// CatalogCookieDomain is the Domain attribute used when setting
	// preference cookies so they apply across catalog subdomains.
	CatalogCookieDomain = ".booking.com"
)

// LocaleURLSuffix maps a locale tag to the suffix inserted before ".html" in
// listing URLs. The default locale serves from the base URL with no suffix.
var LocaleURLSuffix = map[string]string{
	"en": "",
	"es": ".es",
	"fr": ".fr",
	"de": ".de",
	"it": ".it",
	"pt": ".pt",
	"nl": ".nl",
	"ru": ".ru",
	"ar": ".ar",
	"tr": ".tr",
	"hu": ".hu",
	"pl": ".pl",
	"zh": ".zh",
	"no": ".no",
	"fi": ".fi",
	"sv": ".sv",
	"da": ".da",
	"ja": ".ja",
	"ko": ".ko",
}

// LocaleCookieValue maps a locale tag to the catalog's selectedLanguage
// cookie value. The cookie wins over the URL suffix when they disagree, so
// the fetcher overwrites it before every request.
var LocaleCookieValue = map[string]string{
	"en": "en-gb",
	"es": "es",
	"fr": "fr",
	"de": "de",
	"it": "it",
	"pt": "pt-pt",
	"nl": "nl",
	"ru": "ru",
	"ar": "ar",
	"tr": "tr",
	"hu": "hu",
	"pl": "pl",
	"zh": "zh-cn",
	"no": "nb",
	"fi": "fi",
	"sv": "sv",
	"da": "da",
	"ja": "ja",
	"ko": "ko",
}

// LocaleAcceptLanguage maps a locale tag to the Accept-Language header sent
// with every request for that locale.
var LocaleAcceptLanguage = map[string]string{
	"en": "en-US,en;q=0.9",
	"es": "es-ES,es;q=0.9,en;q=0.8",
	"fr": "fr-FR,fr;q=0.9,en;q=0.8",
	"de": "de-DE,de;q=0.9,en;q=0.8",
	"it": "it-IT,it;q=0.9,en;q=0.8",
	"pt": "pt-PT,pt;q=0.9,en;q=0.8",
	"nl": "nl-NL,nl;q=0.9,en;q=0.8",
	"ru": "ru-RU,ru;q=0.9,en;q=0.8",
	"ar": "ar-SA,ar;q=0.9,en;q=0.8",
	"tr": "tr-TR,tr;q=0.9,en;q=0.8",
	"hu": "hu-HU,hu;q=0.9,en;q=0.8",
	"pl": "pl-PL,pl;q=0.9,en;q=0.8",
	"zh": "zh-CN,zh;q=0.9,en;q=0.8",
	"no": "nb-NO,nb;q=0.9,no;q=0.8,en;q=0.7",
	"fi": "fi-FI,fi;q=0.9,en;q=0.8",
	"sv": "sv-SE,sv;q=0.9,en;q=0.8",
	"da": "da-DK,da;q=0.9,en;q=0.8",
	"ja": "ja-JP,ja;q=0.9,en;q=0.8",
	"ko": "ko-KR,ko;q=0.9,en;q=0.8",
}

// KnownLocale reports whether the tag has entries in all locale tables.
func KnownLocale(tag string) bool {
	if _, ok := LocaleURLSuffix[tag]; !ok {
		return false
	}
	if _, ok := LocaleCookieValue[tag]; !ok {
		return false
	}
	_, ok := LocaleAcceptLanguage[tag]
	return ok
}

// UserAgents is the desktop User-Agent pool. Each fresh session picks one at
// random and keeps it for the session's lifetime.
var UserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:123.0) Gecko/20100101 Firefox/123.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36 Edg/122.0.0.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
}

// ListingSignals are lowercase substrings present in genuine listing HTML.
// A 200 response with none of them is not a listing page.
var ListingSignals = []string{
	"property-description",
	"hp_facilities_box",
	"maxotelroomarea",
	"reviewscore",
	"review-score",
	"b2hotelpage",
	"hoteldetails",
}

// BlockSignals are lowercase substrings of challenge, interstitial and
// consent-wall pages served instead of listing content.
var BlockSignals = []string{
	"just a moment",
	"access denied",
	"403 forbidden",
	"privacymanager",
	"cookie-consent",
	"please verify you are a human",
	"enable javascript",
	"checking your browser",
}

// Cookie is a name/value pair injected into fresh sessions.
type Cookie struct {
	Name  string
	Value string
}

// ConsentCookies short-circuit the GDPR banner flow so the first response is
// listing content, not a consent wall. The _ga/_gid analytics cookies are
// generated per session by the fetcher, not listed here.
var ConsentCookies = []Cookie{
	{Name: "OptanonAlertBoxClosed", Value: "2024-01-01T00:00:00.000Z"},
	{Name: "OptanonConsent", Value: "isGpcEnabled=0&datestamp=Mon+Jan+01+2024&version=202401.1.0&groups=C0001%3A1%2CC0002%3A1%2CC0003%3A1%2CC0004%3A1"},
	{Name: "bkng_sso_ses", Value: "e30="},
	{Name: "cors", Value: "1"},
	{Name: "selectedLanguage", Value: "en-gb"},
	{Name: "selectedCurrency", Value: "EUR"},
}
