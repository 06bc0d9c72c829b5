package transcription

import "strings"

// Whisper servers report the detected language by name in verbose_json
var languageCodes = map[string]string{
	"arabic":     "ar",
	"chinese":    "zh",
	"dutch":      "nl",
	"english":    "en",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"japanese":   "ja",
	"korean":     "ko",
	"polish":     "pl",
	"portuguese": "pt",
	"russian":    "ru",
	"spanish":    "es",
	"ukrainian":  "uk",
}

// NormalizeLanguage maps a language name or code to a lower-case ISO-639-1
// code when it is recognized. Unrecognized values are returned lower-cased.
func NormalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if code, ok := languageCodes[lang]; ok {
		return code
	}
	// "fr-FR", "en_US"
	if len(lang) > 2 && (lang[2] == '-' || lang[2] == '_') {
		return lang[:2]
	}
	return lang
}
