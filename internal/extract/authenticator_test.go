package extract

import (
	"strings"
	"testing"
)

const (
	englishText = "The hotel is located in the city centre and features a swimming pool. " +
		"Breakfast is served every morning and guests can relax in the garden."
	spanishText = "El hotel está ubicado en el centro de la ciudad y cuenta con piscina. " +
		"El desayuno se sirve cada mañana y las habitaciones tienen aire acondicionado."
	germanText = "Das Hotel befindet sich im Stadtzentrum und verfügt über einen Pool. " +
		"Jedes Zimmer ist mit einem Flachbild-TV ausgestattet und das Frühstück wird täglich serviert."
)

func TestValidateShortTextAlwaysPasses(t *testing.T) {
	for _, locale := range []string{"en", "es", "zh", "ru"} {
		if !Validate("Hotel Sol", locale) {
			t.Errorf("expected short text to pass for %q", locale)
		}
	}
}

func TestValidateMatchingLocale(t *testing.T) {
	cases := []struct {
		text   string
		locale string
	}{
		{englishText, "en"},
		{spanishText, "es"},
		{germanText, "de"},
	}
	for _, tc := range cases {
		if !Validate(tc.text, tc.locale) {
			t.Errorf("expected %q text to validate for its own locale", tc.locale)
		}
	}
}

func TestValidateRejectsForeignText(t *testing.T) {
	if Validate(spanishText, "en") {
		t.Error("expected Spanish text to fail English validation")
	}
	if Validate(germanText, "es") {
		t.Error("expected German text to fail Spanish validation")
	}
}

func TestValidateTwoNegativeHitsPass(t *testing.T) {
	// Rejection needs at least three foreign hits; two foreign words in an
	// otherwise neutral text are not enough evidence.
	text := "A lovely place near a market, mentioning desayuno and frühstück once, " +
		"with plenty of other neutral words around it to reach length."
	if !Validate(text, "zh") {
		t.Error("expected text with 2 negative hits and 0 positive hits to pass")
	}
}

func TestValidateIsPure(t *testing.T) {
	first := Validate(spanishText, "es")
	for i := 0; i < 5; i++ {
		if Validate(spanishText, "es") != first {
			t.Fatal("expected Validate to be deterministic")
		}
	}
}

func TestDetectLocale(t *testing.T) {
	if got := DetectLocale(englishText, "en"); got != "en" {
		t.Errorf("expected en, got %q", got)
	}
	// Wrong-language page: the requested locale fails and the scorer picks
	// the real one.
	if got := DetectLocale(spanishText, "en"); got != "es" {
		t.Errorf("expected es for Spanish text requested as en, got %q", got)
	}
	if got := DetectLocale(germanText, "es"); got != "de" {
		t.Errorf("expected de for German text requested as es, got %q", got)
	}
}

func TestNegativeSignalsExcludeOwnPositives(t *testing.T) {
	for locale, negs := range negativeSignals {
		own := make(map[string]bool)
		for _, p := range positiveSignals[locale] {
			own[p] = true
		}
		for _, n := range negs {
			if own[n] {
				t.Errorf("locale %q lists %q as both positive and negative", locale, n)
			}
		}
	}
}

func TestSignalTablesCoverEveryLocale(t *testing.T) {
	for locale := range positiveSignals {
		if len(positiveSignals[locale]) == 0 {
			t.Errorf("locale %q has no positive signals", locale)
		}
		if len(negativeSignals[locale]) == 0 {
			t.Errorf("locale %q has no negative signals", locale)
		}
	}
}

func TestCategoryFromScore(t *testing.T) {
	cases := []struct {
		score  float64
		locale string
		want   string
	}{
		{9.5, "en", "Exceptional"},
		{8.95, "en", "Excellent"},
		{8.0, "es", "Fabuloso"},
		{7.3, "de", "Sehr gut"},
		{6.0, "fr", "Bien"},
		{4.2, "en", "Pleasant"},
		{8.5, "tr", "Excellent"}, // no Turkish table, English fallback
	}
	for _, tc := range cases {
		if got := CategoryFromScore(tc.score, tc.locale); got != tc.want {
			t.Errorf("CategoryFromScore(%.2f, %q): expected %q, got %q", tc.score, tc.locale, tc.want, got)
		}
	}
}

func TestCategorySearchListDeduplicates(t *testing.T) {
	list := categorySearchList("es")
	seen := make(map[string]bool)
	for _, c := range list {
		if seen[c] {
			t.Fatalf("duplicate category %q in search list", c)
		}
		seen[c] = true
	}
	if !strings.Contains(strings.Join(list, "|"), "Excepcional") {
		t.Error("expected Spanish categories first in the search list")
	}
	if !strings.Contains(strings.Join(list, "|"), "Exceptional") {
		t.Error("expected English categories appended to the search list")
	}
}
