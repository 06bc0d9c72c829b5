package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLanguageMode(t *testing.T) {
	for _, mode := range Modes() {
		parsed, err := ParseLanguageMode(mode.String())
		require.NoError(t, err)
		assert.Equal(t, mode, parsed)
	}

	parsed, err := ParseLanguageMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeAuto, parsed)

	_, err = ParseLanguageMode("de_to_en")
	assert.Error(t, err)
}

func TestLanguageModeRouting(t *testing.T) {
	tests := []struct {
		mode   LanguageMode
		source string
		target string
		direct bool
	}{
		{ModeAuto, "", "en", true},
		{ModeFrenchToEnglish, "fr", "en", true},
		{ModeEnglishToFrench, "en", "fr", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.source, tt.mode.Source(), tt.mode.String())
		assert.Equal(t, tt.target, tt.mode.Target(), tt.mode.String())
		assert.Equal(t, tt.direct, tt.mode.DirectTranslate(), tt.mode.String())
	}
}

func TestLanguageModeNextCycles(t *testing.T) {
	assert.Equal(t, ModeFrenchToEnglish, ModeAuto.Next())
	assert.Equal(t, ModeEnglishToFrench, ModeFrenchToEnglish.Next())
	assert.Equal(t, ModeAuto, ModeEnglishToFrench.Next())
}

func TestLanguageModeJSON(t *testing.T) {
	var doc struct {
		Mode LanguageMode `json:"mode"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"mode":"en_to_fr"}`), &doc))
	assert.Equal(t, ModeEnglishToFrench, doc.Mode)

	assert.Error(t, json.Unmarshal([]byte(`{"mode":"sideways"}`), &doc))

	out, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"en_to_fr"}`, string(out))
}
