package extract

// ratingCategories are the category words the catalog renders per locale,
// highest first. Locales without a table fall back to English, which the
// catalog also serves as a universal default.
var ratingCategories = map[string][]string{
	"en": {"Exceptional", "Superb", "Fabulous", "Excellent", "Very good", "Good", "Pleasant", "No rating"},
	"es": {"Excepcional", "Fabuloso", "Espléndido", "Excelente", "Muy bien", "Bien", "Agradable"},
	"de": {"Hervorragend", "Fantastisch", "Ausgezeichnet", "Fabelhaft", "Sehr gut", "Gut", "Angenehm"},
	"fr": {"Exceptionnel", "Fabuleux", "Superbe", "Excellent", "Très bien", "Bien", "Agréable"},
	"it": {"Eccezionale", "Favoloso", "Fantastico", "Eccellente", "Molto buono", "Buono", "Piacevole"},
	"pt": {"Excepcional", "Fabuloso", "Soberbo", "Excelente", "Muito bom", "Bom", "Agradável"},
	"nl": {"Uitzonderlijk", "Fantastisch", "Uitstekend", "Zeer goed", "Goed", "Aangenaam"},
	"ru": {"Исключительно", "Великолепно", "Отлично", "Очень хорошо", "Хорошо"},
}

type scoreBand struct {
	min   float64
	label string
}

// categoryBands derives the category word from the numeric rating when the
// DOM text is absent or in the wrong language.
var categoryBands = map[string][]scoreBand{
	"en": {{9.0, "Exceptional"}, {8.0, "Excellent"}, {7.0, "Very good"}, {6.0, "Good"}, {0.0, "Pleasant"}},
	"es": {{9.0, "Excepcional"}, {8.0, "Fabuloso"}, {7.0, "Muy bien"}, {6.0, "Bien"}, {0.0, "Agradable"}},
	"de": {{9.0, "Hervorragend"}, {8.0, "Fabelhaft"}, {7.0, "Sehr gut"}, {6.0, "Gut"}, {0.0, "Angenehm"}},
	"fr": {{9.0, "Exceptionnel"}, {8.0, "Fabuleux"}, {7.0, "Très bien"}, {6.0, "Bien"}, {0.0, "Agréable"}},
	"it": {{9.0, "Eccezionale"}, {8.0, "Favoloso"}, {7.0, "Molto buono"}, {6.0, "Buono"}, {0.0, "Piacevole"}},
	"pt": {{9.0, "Excepcional"}, {8.0, "Fabuloso"}, {7.0, "Muito bom"}, {6.0, "Bom"}, {0.0, "Agradável"}},
	"nl": {{9.0, "Uitzonderlijk"}, {8.0, "Fantastisch"}, {7.0, "Zeer goed"}, {6.0, "Goed"}, {0.0, "Aangenaam"}},
	"ru": {{9.0, "Исключительно"}, {8.0, "Великолепно"}, {7.0, "Очень хорошо"}, {6.0, "Хорошо"}, {0.0, "Хорошо"}},
}

// categorySearchList is the locale's word list followed by the English one,
// deduplicated, preserving order.
func categorySearchList(locale string) []string {
	cats := append([]string{}, ratingCategories[locale]...)
	cats = append(cats, ratingCategories["en"]...)
	seen := make(map[string]bool, len(cats))
	out := cats[:0]
	for _, c := range cats {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// CategoryFromScore maps a numeric rating to the locale's category word.
func CategoryFromScore(score float64, locale string) string {
	bands, ok := categoryBands[locale]
	if !ok {
		bands = categoryBands["en"]
	}
	for _, b := range bands {
		if score >= b.min {
			return b.label
		}
	}
	return ""
}
