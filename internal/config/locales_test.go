package config

import "testing"

func TestLocaleTables_Closure(t *testing.T) {
	// Every locale with a URL suffix must have cookie and Accept-Language
	// entries; KnownLocale relies on the three tables agreeing.
	for tag := range LocaleURLSuffix {
		if _, ok := LocaleCookieValue[tag]; !ok {
			t.Errorf("locale %q has a URL suffix but no cookie value", tag)
		}
		if _, ok := LocaleAcceptLanguage[tag]; !ok {
			t.Errorf("locale %q has a URL suffix but no Accept-Language value", tag)
		}
	}
	for tag := range LocaleCookieValue {
		if _, ok := LocaleURLSuffix[tag]; !ok {
			t.Errorf("locale %q has a cookie value but no URL suffix", tag)
		}
	}
}

func TestLocaleTables_DefaultLocaleBaseURL(t *testing.T) {
	if LocaleURLSuffix["en"] != "" {
		t.Errorf("expected empty URL suffix for 'en', got %q", LocaleURLSuffix["en"])
	}
	if LocaleCookieValue["en"] != "en-gb" {
		t.Errorf("expected cookie value 'en-gb' for 'en', got %q", LocaleCookieValue["en"])
	}
}

func TestKnownLocale(t *testing.T) {
	for _, tag := range []string{"en", "es", "zh", "no", "ko"} {
		if !KnownLocale(tag) {
			t.Errorf("expected %q to be a known locale", tag)
		}
	}
	if KnownLocale("xx") {
		t.Error("expected 'xx' to be unknown")
	}
}
