package translation

import (
	"context"
	"strings"
)

// TranslateAuto translates between English and French based on a detected
// language. Text in any other language, or already in the target language,
// is returned unchanged. A target outside the pair, including empty, means the opposite of the source.
func TranslateAuto(ctx context.Context, t Translator, text, detected, target string) (string, error) {
	source := baseLanguage(detected)
	if source != "en" && source != "fr" {
		return text, nil
	}

	target = baseLanguage(target)
	if target != "en" && target != "fr" {
		target = Opposite(source)
	}
	if source == target {
		return text, nil
	}
	return t.Translate(ctx, text, source, target)
}

// Opposite returns the other language of the English/French pair
func Opposite(lang string) string {
	if baseLanguage(lang) == "fr" {
		return "en"
	}
	return "fr"
}

func baseLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	switch {
	case strings.HasPrefix(lang, "en"):
		return "en"
	case strings.HasPrefix(lang, "fr"):
		return "fr"
	}
	return lang
}
