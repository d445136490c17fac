package extract

import (
	"sort"
	"strings"
)

// positiveSignals are short, high-frequency, low-ambiguity substrings of
// genuine text in each locale: articles, common verbs and the domain nouns
// every listing description uses. Matched against lowercased text.
//
// Vocabulary shared between languages (Scandinavian "ligger", Danish
// "frokost" meaning lunch) must appear in every sharing locale's positive
// list; the negative sets are derived by subtraction below, so a shared word
// listed here never counts against its own locale.
var positiveSignals = map[string][]string{
	"en": {"the ", " and ", " with ", " is ", "breakfast", "swimming", "room", "guest", "located", "features"},
	"es": {" la ", " las ", " los ", " una ", "está ", "habitaci", "desayuno", "ubicado", "piscina", "cuenta con"},
	"fr": {" le ", " les ", " une ", " avec ", "chambre", "petit-déjeuner", "situé", "piscine", "dispose", "propose"},
	"de": {"das ", " und ", " mit ", " ein ", "zimmer", "frühstück", "verfüg", "befindet", "ausgestattet", "bietet"},
	"it": {" il ", " con ", " una ", "della ", "camere", "colazione", "situato", "piscina", "dispone", "offre"},
	"pt": {" o ", " com ", " uma ", "quarto", "pequeno-almoço", "localizado", "piscina", "dispõe", "oferece"},
	"nl": {"het ", " en ", " met ", " een ", "kamer", "ontbijt", "gelegen", "zwembad", "beschikt", "biedt"},
	"ru": {"отель", "номер", "завтрак", "расположен", "бассейн", " и ", "гостей", "предлагает"},
	"ar": {"فندق", "غرفة", "إفطار", "يقع", "مسبح", "الضيوف", "يوفر"},
	"tr": {"otel", " oda", "kahvaltı", "havuz", "bulunmaktadır", "misafir", "sunmaktadır"},
	"hu": {"szálloda", "szoba", "reggeli", "található", "medence", "vendég", "kínál"},
	"pl": {"hotel", "pokoj", "pokój", "śniadanie", "znajduje", "basen", "gości", "oferuje"},
	"zh": {"酒店", "客房", "早餐", "位于", "游泳池", "提供", "距离"},
	"no": {"hotellet", " rom", "frokost", "ligger", "basseng", "gjest", " og ", "tilbyr"},
	"fi": {"hotelli", "huone", "aamiainen", "sijaitsee", "uima-allas", "vieraat", "tarjoaa"},
	"sv": {"hotellet", " rum", "frukost", "ligger", "pool", "gäster", " och ", "erbjuder"},
	"da": {"hotellet", "værelse", "morgenmad", "frokost", "ligger", "gæster", " og ", "tilbyder"},
	"ja": {"ホテル", "客室", "朝食", "位置", "プール", "提供", "徒歩"},
	"ko": {"호텔", "객실", "조식", "위치", "수영장", "제공", "도보"},
}

// distinctiveSignals are the positive signals of each locale unlikely to
// appear as loan-words in another language. The union of every other
// locale's distinctive set forms a locale's negative set.
var distinctiveSignals = map[string][]string{
	"en": {"breakfast", "swimming", "located"},
	"es": {"habitaci", "desayuno", "ubicado"},
	"fr": {"petit-déjeuner", "chambre", "situé"},
	"de": {"frühstück", "zimmer", "verfüg"},
	"it": {"colazione", "situato", "dispone"},
	"pt": {"pequeno-almoço", "localizado", "dispõe"},
	"nl": {"ontbijt", "gelegen", "zwembad"},
	"ru": {"завтрак", "расположен", "номер"},
	"ar": {"فندق", "إفطار", "يقع"},
	"tr": {"kahvaltı", "bulunmaktadır", "misafir"},
	"hu": {"reggeli", "található", "szálloda"},
	"pl": {"śniadanie", "znajduje", "gości"},
	"zh": {"酒店", "早餐", "位于"},
	"no": {"frokost", "basseng", "gjest"},
	"fi": {"aamiainen", "sijaitsee", "uima-allas"},
	"sv": {"frukost", "gäster", "erbjuder"},
	"da": {"morgenmad", "værelse", "gæster"},
	"ja": {"朝食", "客室", "ホテル"},
	"ko": {"조식", "객실", "호텔"},
}

var negativeSignals = buildNegativeSignals()

func buildNegativeSignals() map[string][]string {
	out := make(map[string][]string, len(positiveSignals))
	for locale, positives := range positiveSignals {
		own := make(map[string]bool, len(positives))
		for _, p := range positives {
			own[p] = true
		}
		seen := make(map[string]bool)
		var negs []string
		for other, marks := range distinctiveSignals {
			if other == locale {
				continue
			}
			for _, m := range marks {
				if !own[m] && !seen[m] {
					seen[m] = true
					negs = append(negs, m)
				}
			}
		}
		sort.Strings(negs)
		out[locale] = negs
	}
	return out
}

// minAuthLength: below this there is not enough signal to judge language.
const minAuthLength = 30

// Validate reports whether text plausibly is in the given locale. Short
// text always passes. Rejection requires strong foreign evidence: at least
// three foreign-marker hits AND more foreign than native hits.
func Validate(text, locale string) bool {
	if len(text) < minAuthLength {
		return true
	}
	lower := strings.ToLower(text)
	pos := countHits(lower, positiveSignals[locale])
	neg := countHits(lower, negativeSignals[locale])
	return !(neg >= 3 && neg > pos)
}

// DetectLocale returns requested when the text validates against it,
// otherwise the locale whose positive set scores highest.
func DetectLocale(text, requested string) string {
	if Validate(text, requested) {
		return requested
	}
	lower := strings.ToLower(text)
	best, bestScore := requested, 0
	for _, locale := range sortedLocales() {
		if score := countHits(lower, positiveSignals[locale]); score > bestScore {
			best, bestScore = locale, score
		}
	}
	return best
}

func countHits(lower string, signals []string) int {
	n := 0
	for _, s := range signals {
		n += strings.Count(lower, s)
	}
	return n
}

var localeOrder []string

func sortedLocales() []string {
	if localeOrder == nil {
		for locale := range positiveSignals {
			localeOrder = append(localeOrder, locale)
		}
		sort.Strings(localeOrder)
	}
	return localeOrder
}
