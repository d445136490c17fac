package fetch

import (
	"regexp"
	"strings"

	"github.com/corralejo-htls/scrapv25/internal/config"
)

// localeSuffixRe matches a trailing locale segment before .html:
// .es.html, .de.html, .en-gb.html, .zh-cn.html, .pt-br.html.
var localeSuffixRe = regexp.MustCompile(`(?i)\.[a-z]{2}(-[a-z]{2,4})?\.html$`)

// StripLocaleSuffix reduces a listing URL to its canonical (suffix-free)
// form. Idempotent: stripping an already-canonical URL is a no-op.
func StripLocaleSuffix(u string) string {
	u = strings.TrimSpace(u)
	clean := localeSuffixRe.ReplaceAllString(u, ".html")
	if !strings.HasSuffix(clean, ".html") {
		clean += ".html"
	}
	return clean
}

// BuildLocaleURL forms the per-locale URL by stripping any existing locale
// suffix, then inserting the locale's suffix before .html. Stripping first
// is what makes re-application idempotent: without it a stored .es.html URL
// would yield .es.de.html for German (a 404) or stay Spanish for English.
func BuildLocaleURL(u, locale string) string {
	clean := StripLocaleSuffix(u)
	suffix, ok := config.LocaleURLSuffix[locale]
	if !ok {
		suffix = "." + locale
	}
	if suffix == "" {
		return clean
	}
	return strings.TrimSuffix(clean, ".html") + suffix + ".html"
}
