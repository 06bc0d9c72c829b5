package session

import (
	"fmt"
	"strings"
)

// LanguageMode is the closed set of translation directions.
// The zero value is ModeAuto.
type LanguageMode uint8

const (
	// ModeAuto detects the spoken language and renders English
	ModeAuto LanguageMode = iota
	// ModeFrenchToEnglish forces French input and renders English
	ModeFrenchToEnglish
	// ModeEnglishToFrench forces English input and renders French
	ModeEnglishToFrench
)

var modeNames = [...]string{
	ModeAuto:            "auto",
	ModeFrenchToEnglish: "fr_to_en",
	ModeEnglishToFrench: "en_to_fr",
}

var modeLabels = [...]string{
	ModeAuto:            "Auto-detect",
	ModeFrenchToEnglish: "French → English",
	ModeEnglishToFrench: "English → French",
}

// Modes lists every language mode in display order
func Modes() []LanguageMode {
	return []LanguageMode{ModeAuto, ModeFrenchToEnglish, ModeEnglishToFrench}
}

// ParseLanguageMode parses the text form of a mode. Empty input is ModeAuto.
func ParseLanguageMode(s string) (LanguageMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ModeAuto, nil
	}
	for i, name := range modeNames {
		if s == name {
			return LanguageMode(i), nil
		}
	}
	return ModeAuto, fmt.Errorf("unknown language mode %q (want auto, fr_to_en or en_to_fr)", s)
}

func (m LanguageMode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("LanguageMode(%d)", uint8(m))
}

// Label is the human-readable name of the mode
func (m LanguageMode) Label() string {
	if int(m) < len(modeLabels) {
		return modeLabels[m]
	}
	return m.String()
}

// Source is the forced input language, or "" when the model should detect it
func (m LanguageMode) Source() string {
	switch m {
	case ModeFrenchToEnglish:
		return "fr"
	case ModeEnglishToFrench:
		return "en"
	}
	return ""
}

// Target is the language translations are rendered in
func (m LanguageMode) Target() string {
	if m == ModeEnglishToFrench {
		return "fr"
	}
	return "en"
}

// DirectTranslate reports whether the speech model produces the translation
// itself. The model can only translate into English, so this holds exactly
// when the target is English; otherwise transcripts go to the Translator.
func (m LanguageMode) DirectTranslate() bool {
	return m.Target() == "en"
}

// Next cycles through the modes
func (m LanguageMode) Next() LanguageMode {
	return LanguageMode((int(m) + 1) % len(modeNames))
}

// MarshalText implements encoding.TextMarshaler
func (m LanguageMode) MarshalText() ([]byte, error) {
	if int(m) >= len(modeNames) {
		return nil, fmt.Errorf("invalid language mode %d", uint8(m))
	}
	return []byte(modeNames[m]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *LanguageMode) UnmarshalText(text []byte) error {
	mode, err := ParseLanguageMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}
